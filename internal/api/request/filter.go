package request

import (
	"fmt"
	"net/http"
	"time"

	"github.com/edvin/maintconsole/internal/backend"
)

// ParseJobFilter reads the job list filter from the query string. Dates are
// RFC 3339 timestamps or plain YYYY-MM-DD days.
func ParseJobFilter(r *http.Request) (backend.JobFilter, error) {
	q := r.URL.Query()
	f := backend.JobFilter{
		Title:    q.Get("title"),
		Database: q.Get("database"),
		Status:   q.Get("status"),
	}

	var err error
	if f.From, err = parseTime("from", q.Get("from")); err != nil {
		return backend.JobFilter{}, err
	}
	if f.To, err = parseTime("to", q.Get("to")); err != nil {
		return backend.JobFilter{}, err
	}
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return backend.JobFilter{}, fmt.Errorf("invalid filter: to is before from")
	}
	if err := validate.Struct(f); err != nil {
		return backend.JobFilter{}, fmt.Errorf("validation error: %w", err)
	}
	return f, nil
}

func parseTime(name, raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("invalid %s: %q is not a date", name, raw)
}
