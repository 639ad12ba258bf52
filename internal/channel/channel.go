// Package channel maintains the push connection to the job status service and
// dispatches its events to subscribers. It never interprets the events: state
// changes belong to the jobstate package.
package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/maintconsole/internal/backend"
)

var (
	ErrChannelClosed = errors.New("channel closed")
	ErrUnknownTopic  = errors.New("unknown topic")
)

// State is the connection state of the channel.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

type Config struct {
	// URL is the WebSocket endpoint, PollURL the long-poll fallback. Either
	// may be empty, not both.
	URL               string
	PollURL           string
	ReconnectAttempts int
	ReconnectDelay    time.Duration
}

func DefaultConfig(url, pollURL string) Config {
	return Config{
		URL:               url,
		PollURL:           pollURL,
		ReconnectAttempts: 5,
		ReconnectDelay:    time.Second,
	}
}

type Option func(*Channel)

func WithTokenSource(ts backend.TokenSource) Option {
	return func(c *Channel) { c.tokens = ts }
}

// WithHTTPClient sets the client used for long-polling and the WebSocket
// handshake. It must not set a Timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Channel) { c.httpClient = hc }
}

// WithSleep replaces the wait between connection attempts.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Channel) { c.sleep = fn }
}

// Subscription is the handle returned by Subscribe. It can only remove
// itself; closing the channel is reserved to its owner.
type Subscription struct {
	id      uint64
	topic   string
	jobID   int64
	handler Handler
	ch      *Channel
}

func (s *Subscription) Topic() string { return s.topic }
func (s *Subscription) JobID() int64  { return s.jobID }

func (s *Subscription) Unsubscribe() { s.ch.Unsubscribe(s) }

// Channel is the single shared connection to the status service. The first
// subscription opens it and the last unsubscribe tears it down.
type Channel struct {
	cfg        Config
	logger     zerolog.Logger
	httpClient *http.Client
	tokens     backend.TokenSource
	sleep      func(ctx context.Context, d time.Duration) error

	mu        sync.Mutex
	subs      map[uint64]*Subscription
	nextSub   uint64
	state     State
	listeners []func(State)
	gen       uint64
	cancel    context.CancelFunc
	done      chan struct{}
	closed    bool
}

func New(cfg Config, logger zerolog.Logger, opts ...Option) *Channel {
	if cfg.ReconnectAttempts <= 0 {
		cfg.ReconnectAttempts = 1
	}
	c := &Channel{
		cfg:        cfg,
		logger:     logger.With().Str("component", "channel").Logger(),
		httpClient: &http.Client{},
		sleep:      sleepCtx,
		subs:       map[uint64]*Subscription{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Subscribe registers handler for topic. A jobID of 0 receives events of
// every job. Handlers run on the channel's reader goroutine, in arrival
// order, and must not block. Subscribe never waits for the connection.
func (c *Channel) Subscribe(topic string, jobID int64, handler Handler) (*Subscription, error) {
	if !knownTopics[topic] {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTopic, topic)
	}
	if handler == nil {
		return nil, errors.New("nil handler")
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrChannelClosed
	}
	c.nextSub++
	sub := &Subscription{id: c.nextSub, topic: topic, jobID: jobID, handler: handler, ch: c}
	c.subs[sub.id] = sub
	first := len(c.subs) == 1
	if first {
		c.startLocked()
	}
	c.mu.Unlock()

	if first {
		c.logger.Debug().Msg("first subscriber, connecting")
	}
	return sub, nil
}

// Unsubscribe removes sub. It is safe to call more than once and from a
// handler.
func (c *Channel) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	c.mu.Lock()
	if _, ok := c.subs[sub.id]; !ok {
		c.mu.Unlock()
		return
	}
	delete(c.subs, sub.id)
	var listeners []func(State)
	if len(c.subs) == 0 {
		listeners = c.stopLocked()
	}
	c.mu.Unlock()

	if listeners != nil {
		c.logger.Debug().Msg("last subscriber gone, disconnecting")
		emit(listeners, Disconnected)
	}
}

// Reconnect restarts connection attempts after the channel gave up. It does
// nothing while a connection loop is running or nobody is subscribed.
func (c *Channel) Reconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.cancel != nil || len(c.subs) == 0 {
		return
	}
	c.startLocked()
}

// Close drops every subscription and the connection. It must not be called
// from a handler.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.subs = map[uint64]*Subscription{}
	done := c.done
	listeners := c.stopLocked()
	c.mu.Unlock()

	if listeners != nil {
		emit(listeners, Disconnected)
	}
	if done != nil {
		<-done
	}
	return nil
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribers returns the number of live subscriptions.
func (c *Channel) Subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// OnStateChange registers fn to be called after every state transition.
func (c *Channel) OnStateChange(fn func(State)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

func (c *Channel) startLocked() {
	c.gen++
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(ctx, c.gen, c.done)
}

// stopLocked cancels the running loop and returns the listeners to notify
// if the state changed.
func (c *Channel) stopLocked() []func(State) {
	c.gen++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.state == Disconnected {
		return nil
	}
	c.state = Disconnected
	channelState.Set(float64(Disconnected))
	return append([]func(State){}, c.listeners...)
}

func (c *Channel) run(ctx context.Context, gen uint64, done chan struct{}) {
	defer close(done)

	reconnecting := false
	for {
		cn, err := c.connect(ctx, gen, reconnecting)
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Error().Err(err).Int("attempts", c.cfg.ReconnectAttempts).Msg("job status channel unavailable, giving up")
				c.giveUp(gen)
			}
			return
		}

		c.setState(gen, Connected)
		c.logger.Info().Str("transport", cn.transport()).Msg("job status channel connected")

		err = c.consume(ctx, gen, cn)
		cn.close()
		if ctx.Err() != nil {
			return
		}
		c.logger.Warn().Err(err).Str("transport", cn.transport()).Msg("job status channel lost")
		reconnecting = true
	}
}

func (c *Channel) connect(ctx context.Context, gen uint64, reconnecting bool) (conn, error) {
	if reconnecting {
		c.setState(gen, Reconnecting)
	} else {
		c.setState(gen, Connecting)
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.ReconnectAttempts; attempt++ {
		if attempt > 1 {
			if err := c.sleep(ctx, c.cfg.ReconnectDelay); err != nil {
				return nil, err
			}
		}
		connectAttemptsTotal.Inc()

		cn, err := c.open(ctx)
		if err == nil {
			return cn, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		c.logger.Warn().Err(err).
			Int("attempt", attempt).
			Int("max_attempts", c.cfg.ReconnectAttempts).
			Msg("job status channel connection attempt failed")
	}
	return nil, fmt.Errorf("%d connection attempts failed: %w", c.cfg.ReconnectAttempts, lastErr)
}

// open tries the WebSocket first and falls back to long-polling.
func (c *Channel) open(ctx context.Context) (conn, error) {
	var errs []error
	if c.cfg.URL != "" {
		cn, err := c.dialWebSocket(ctx)
		if err == nil {
			return cn, nil
		}
		errs = append(errs, err)
	}
	if c.cfg.PollURL != "" && ctx.Err() == nil {
		cn, err := c.dialPoll(ctx)
		if err == nil {
			return cn, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, errors.New("no transport configured")
	}
	return nil, errors.Join(errs...)
}

func (c *Channel) consume(ctx context.Context, gen uint64, cn conn) error {
	for {
		frames, err := cn.read(ctx)
		if err != nil {
			return err
		}
		for _, raw := range frames {
			c.dispatch(gen, raw)
		}
	}
}

func (c *Channel) dispatch(gen uint64, raw []byte) {
	ev, err := decodeFrame(raw)
	if err != nil {
		malformedFramesTotal.Inc()
		c.logger.Debug().Err(err).Msg("skipping malformed frame")
		return
	}
	eventsTotal.WithLabelValues(ev.Topic).Inc()

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	var handlers []Handler
	for _, sub := range c.subs {
		if sub.topic == ev.Topic && (sub.jobID == 0 || sub.jobID == ev.JobID) {
			handlers = append(handlers, sub.handler)
		}
	}
	c.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}

func (c *Channel) setState(gen uint64, s State) {
	c.mu.Lock()
	if gen != c.gen || c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	listeners := append([]func(State){}, c.listeners...)
	c.mu.Unlock()

	channelState.Set(float64(s))
	c.logger.Info().Str("state", s.String()).Msg("job status channel state changed")
	emit(listeners, s)
}

func (c *Channel) giveUp(gen uint64) {
	c.mu.Lock()
	if gen == c.gen && c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.mu.Unlock()
	c.setState(gen, Disconnected)
}

func (c *Channel) authHeader() http.Header {
	h := http.Header{}
	if c.tokens != nil {
		if tok := c.tokens.Token(); tok != "" {
			h.Set("Authorization", "Bearer "+tok)
		}
	}
	return h
}

func emit(listeners []func(State), s State) {
	for _, fn := range listeners {
		fn(s)
	}
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
