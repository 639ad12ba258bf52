package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Config holds the resilience parameters of the request client.
type Config struct {
	BaseURL string
	// Timeout bounds every outbound call. It is sized for slow server-side
	// operations such as report generation; callers wanting a short deadline
	// pass their own context.
	Timeout    time.Duration
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultConfig returns the production resilience parameters.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:    baseURL,
		Timeout:    300 * time.Second,
		MaxRetries: 3,
		BaseDelay:  2 * time.Second,
		MaxDelay:   30 * time.Second,
	}
}

// TokenSource supplies the bearer credential for each request.
type TokenSource interface {
	Token() string
}

// AuthFailureHandler is told when the backend rejects the credential itself.
type AuthFailureHandler interface {
	SessionExpired()
}

// RetryInfo describes one scheduled retry of a request.
type RetryInfo struct {
	Method  string
	Path    string
	Attempt int // 1-based number of the retry about to run
	Budget  int
	Delay   time.Duration
	Err     error
}

// retryState is carried alongside a single request so concurrent requests
// retry independently.
type retryState struct {
	attempt int
	budget  int
}

func (s *retryState) exhausted() bool { return s.attempt >= s.budget }

// Client is the single choke point for backend calls. It applies the
// timeout, transport retry with exponential backoff, and credential-expiry
// handling uniformly.
type Client struct {
	cfg        Config
	httpClient *http.Client
	tokens     TokenSource
	authFail   AuthFailureHandler
	logger     zerolog.Logger
	sleep      func(ctx context.Context, d time.Duration) error
	onRetry    func(RetryInfo)
	newID      func() string
}

type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Its Timeout is set to
// the configured timeout when zero.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		cp := *hc
		c.httpClient = &cp
	}
}

func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

func WithAuthFailureHandler(h AuthFailureHandler) Option {
	return func(c *Client) { c.authFail = h }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithSleep overrides how the client waits between retries.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = fn }
}

// WithRetryObserver registers a callback invoked before every retry.
func WithRetryObserver(fn func(RetryInfo)) Option {
	return func(c *Client) { c.onRetry = fn }
}

func New(cfg Config, opts ...Option) *Client {
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{},
		logger:     zerolog.Nop(),
		sleep:      sleepCtx,
		onRetry:    func(RetryInfo) {},
		newID:      func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient.Timeout == 0 {
		c.httpClient.Timeout = cfg.Timeout
	}
	c.cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return c
}

// Backoff returns the delay before retry n (0-based): BaseDelay doubled n
// times, capped at MaxDelay.
func (c *Client) Backoff(n int) time.Duration {
	d := c.cfg.BaseDelay
	for i := 0; i < n; i++ {
		d *= 2
		if d >= c.cfg.MaxDelay {
			return c.cfg.MaxDelay
		}
	}
	if d > c.cfg.MaxDelay {
		return c.cfg.MaxDelay
	}
	return d
}

func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) Put(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPut, path, body, out)
}

// Do sends one logical request. Transport failures are retried silently up
// to the budget; HTTP error responses are returned after a single attempt as
// *APIError.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		payload = data
	}

	rs := &retryState{budget: c.cfg.MaxRetries}
	requestID := c.newID()
	idempotencyKey := c.newID()

	for {
		req, err := c.newRequest(ctx, method, path, payload, requestID, idempotencyKey)
		if err != nil {
			return err
		}

		resp, err := c.httpClient.Do(req)
		if err == nil {
			// A connection lost or timed out mid-body is a transport failure too.
			var respBody []byte
			respBody, err = readBody(resp)
			if err == nil {
				return c.handleResponse(method, path, resp.StatusCode, respBody, out)
			}
			err = fmt.Errorf("read response body: %w", err)
		}

		if ctx.Err() != nil {
			return fmt.Errorf("%s %s: %w", method, path, ctx.Err())
		}
		if !isTransportError(err) {
			return fmt.Errorf("%s %s: %w", method, path, err)
		}
		requestsTotal.WithLabelValues(method, "transport_error").Inc()

		if rs.exhausted() {
			return &TransportError{Method: method, Path: path, Attempts: rs.attempt + 1, Err: err}
		}

		delay := c.Backoff(rs.attempt)
		rs.attempt++
		retriesTotal.WithLabelValues(method).Inc()
		c.onRetry(RetryInfo{
			Method:  method,
			Path:    path,
			Attempt: rs.attempt,
			Budget:  rs.budget,
			Delay:   delay,
			Err:     err,
		})
		c.logger.Warn().Err(err).
			Str("method", method).
			Str("path", path).
			Int("attempt", rs.attempt).
			Int("budget", rs.budget).
			Dur("delay", delay).
			Msg("backend unreachable, retrying")

		if err := c.sleep(ctx, delay); err != nil {
			return fmt.Errorf("%s %s: %w", method, path, err)
		}
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, payload []byte, requestID, idempotencyKey string) (*http.Request, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method != http.MethodGet && method != http.MethodHead {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	if c.tokens != nil {
		if token := c.tokens.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	return req, nil
}

func readBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func (c *Client) handleResponse(method, path string, statusCode int, respBody []byte, out any) error {
	requestsTotal.WithLabelValues(method, strconv.Itoa(statusCode)).Inc()

	if statusCode >= 400 {
		apiErr := &APIError{
			Method:     method,
			Path:       path,
			StatusCode: statusCode,
			Message:    extractMessage(statusCode, respBody),
		}
		if json.Valid(respBody) {
			apiErr.Body = json.RawMessage(respBody)
		}

		if statusCode == http.StatusUnauthorized && isCredentialFailure(apiErr.Message) {
			c.logger.Info().Str("path", path).Msg("credential rejected, ending session")
			if c.authFail != nil {
				c.authFail.SessionExpired()
			}
			return fmt.Errorf("%w: %w", ErrSessionExpired, apiErr)
		}
		return apiErr
	}

	if out != nil && len(bytes.TrimSpace(respBody)) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("%s %s: decode response: %w", method, path, err)
		}
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
