package request

import (
	"net/http"
	"strconv"

	"github.com/edvin/maintconsole/internal/backend"
)

// Pagination holds parsed cursor pagination parameters. Cursor is the id of
// the last item of the previous page, or zero for the first page.
type Pagination struct {
	Limit  int
	Cursor int64
}

const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// ParsePagination extracts limit and cursor from query parameters. Invalid
// values fall back to the defaults.
func ParsePagination(r *http.Request) Pagination {
	q := r.URL.Query()
	p := Pagination{Limit: DefaultLimit}

	if limit, err := strconv.Atoi(q.Get("limit")); err == nil && limit > 0 {
		p.Limit = min(limit, MaxLimit)
	}
	if cursor, err := strconv.ParseInt(q.Get("cursor"), 10, 64); err == nil && cursor > 0 {
		p.Cursor = cursor
	}
	return p
}

// ParsePage extracts a numbered page (page, page_size) for job listings.
func ParsePage(r *http.Request) backend.Page {
	q := r.URL.Query()
	p := backend.Page{Number: 1, Size: backend.DefaultPageSize}

	if n, err := strconv.Atoi(q.Get("page")); err == nil && n > 0 {
		p.Number = n
	}
	if size, err := strconv.Atoi(q.Get("page_size")); err == nil && size > 0 {
		p.Size = min(size, backend.MaxPageSize)
	}
	return p
}
