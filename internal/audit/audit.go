// Package audit records state-changing console actions in Postgres.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

// DB is the subset of pgxpool.Pool used here.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Actions recorded by the console.
const (
	ActionSchedule       = "job.schedule"
	ActionStart          = "job.start"
	ActionSetStatus      = "job.set_status"
	ActionReport         = "job.report"
	ActionRefresh        = "job.refresh"
	ActionLogin          = "session.login"
	ActionLogout         = "session.logout"
	ActionSessionExpired = "session.expired"
	ActionRequest        = "request"
)

type Entry struct {
	ID         int64           `json:"id"`
	Actor      *string         `json:"actor,omitempty"`
	Action     string          `json:"action"`
	JobID      *int64          `json:"job_id,omitempty"`
	Method     string          `json:"method,omitempty"`
	Path       string          `json:"path,omitempty"`
	StatusCode int             `json:"status_code,omitempty"`
	Detail     json.RawMessage `json:"detail,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Recorder accepts audit entries without blocking the caller.
type Recorder interface {
	Record(Entry)
}

// Nop discards every entry. It is used when no database is configured.
type Nop struct{}

func (Nop) Record(Entry) {}

// Writer is an async audit log writer backed by a buffered channel.
type Writer struct {
	db     DB
	logger zerolog.Logger
	ch     chan Entry
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewWriter(db DB, logger zerolog.Logger) *Writer {
	w := &Writer{
		db:     db,
		logger: logger.With().Str("component", "audit").Logger(),
		ch:     make(chan Entry, 1024),
		done:   make(chan struct{}),
	}
	go w.drain()
	return w
}

func (w *Writer) Record(e Entry) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return
	}
	select {
	case w.ch <- e:
	default:
		droppedTotal.Inc()
		w.logger.Warn().Str("action", e.Action).Msg("audit log buffer full, dropping entry")
	}
}

func (w *Writer) drain() {
	defer close(w.done)
	for e := range w.ch {
		_, err := w.db.Exec(
			// async; the request that produced the entry is gone
			context.Background(),
			`INSERT INTO audit_logs (actor, action, job_id, method, path, status_code, detail, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, now())`,
			e.Actor, e.Action, e.JobID, e.Method, e.Path, e.StatusCode, e.Detail,
		)
		if err != nil {
			writeErrorsTotal.Inc()
			w.logger.Error().Err(err).Str("action", e.Action).Msg("failed to write audit log")
			continue
		}
		writtenTotal.Inc()
	}
}

// Close stops accepting entries and waits until the buffer is written.
func (w *Writer) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.ch)
	w.mu.Unlock()
	<-w.done
}

// ListParams filters a listing of audit entries. Cursor is the id of the
// last entry of the previous page.
type ListParams struct {
	Limit  int
	Cursor int64
	Action string
	JobID  int64
}

// List returns the newest entries first. hasMore reports whether another
// page exists.
func List(ctx context.Context, db DB, p ListParams) ([]Entry, bool, error) {
	query := `SELECT id, actor, action, job_id, method, path, status_code, detail, created_at
	          FROM audit_logs WHERE 1=1`
	args := []any{}
	argIdx := 1

	if p.Action != "" {
		query += fmt.Sprintf(` AND action = $%d`, argIdx)
		args = append(args, p.Action)
		argIdx++
	}
	if p.JobID != 0 {
		query += fmt.Sprintf(` AND job_id = $%d`, argIdx)
		args = append(args, p.JobID)
		argIdx++
	}
	if p.Cursor != 0 {
		query += fmt.Sprintf(` AND id < $%d`, argIdx)
		args = append(args, p.Cursor)
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY id DESC LIMIT $%d`, argIdx)
	args = append(args, p.Limit+1)

	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("list audit logs: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Actor, &e.Action, &e.JobID, &e.Method, &e.Path, &e.StatusCode, &e.Detail, &e.CreatedAt); err != nil {
			return nil, false, fmt.Errorf("scan audit log: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate audit logs: %w", err)
	}

	hasMore := len(entries) > p.Limit
	if hasMore {
		entries = entries[:p.Limit]
	}
	return entries, hasMore, nil
}

// sensitiveFields are redacted from recorded request bodies.
var sensitiveFields = map[string]bool{
	"password": true, "token": true, "secret": true, "api_key": true,
}

// Sanitize redacts credentials from a JSON object body, including nested
// objects. Any other body is dropped since it cannot be inspected.
func Sanitize(body []byte) json.RawMessage {
	var data map[string]any
	if err := json.Unmarshal(body, &data); err != nil || data == nil {
		return nil
	}
	redact(data)
	sanitized, err := json.Marshal(data)
	if err != nil {
		return nil
	}
	return sanitized
}

func redact(v any) {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			if sensitiveFields[strings.ToLower(k)] {
				t[k] = "[REDACTED]"
				continue
			}
			redact(child)
		}
	case []any:
		for _, child := range t {
			redact(child)
		}
	}
}
