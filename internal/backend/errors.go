package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
)

var (
	// ErrUnreachable is returned once the retry budget for transport failures
	// is spent.
	ErrUnreachable = errors.New("could not reach server")
	// ErrSessionExpired marks a 401 caused by an invalid or expired credential.
	ErrSessionExpired = errors.New("session expired")
)

// APIError is an HTTP-level error response from the backend. It is surfaced
// after a single attempt and never retried.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
	Body       json.RawMessage
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
}

// TransportError wraps the last transport failure of a request whose retries
// are exhausted. It matches both ErrUnreachable and the underlying error.
type TransportError struct {
	Method   string
	Path     string
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %s after %d attempts: %v", e.Method, e.Path, ErrUnreachable, e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() []error {
	return []error{ErrUnreachable, e.Err}
}

func statusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

func IsUnauthorized(err error) bool { return statusOf(err) == http.StatusUnauthorized }
func IsForbidden(err error) bool    { return statusOf(err) == http.StatusForbidden }
func IsNotFound(err error) bool     { return statusOf(err) == http.StatusNotFound }
func IsConflict(err error) bool     { return statusOf(err) == http.StatusConflict }
func IsUnreachable(err error) bool  { return errors.Is(err, ErrUnreachable) }

// IsValidation reports whether the backend rejected the request payload.
func IsValidation(err error) bool {
	s := statusOf(err)
	return s == http.StatusBadRequest || s == http.StatusUnprocessableEntity
}

// isTransportError reports whether err is a failure to exchange a request at
// all (dial, reset, timeout) as opposed to a malformed request.
func isTransportError(err error) bool {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}

// isCredentialFailure reports whether a 401 message blames the credential
// itself rather than, say, a wrong password on a login form.
func isCredentialFailure(message string) bool {
	m := strings.ToLower(message)
	return strings.Contains(m, "token") || strings.Contains(m, "expirado")
}

// extractMessage pulls a human-readable message out of an error body.
func extractMessage(statusCode int, body []byte) string {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err == nil {
		for _, key := range []string{"error", "message", "detail", "msg"} {
			if s, ok := payload[key].(string); ok && s != "" {
				return s
			}
		}
	}
	if s := strings.TrimSpace(string(body)); s != "" && len(s) <= 512 {
		return s
	}
	return http.StatusText(statusCode)
}
