package request

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/edvin/maintconsole/internal/backend"
)

func TestParsePagination_Defaults(t *testing.T) {
	r := httptest.NewRequest("GET", "/audit-logs", nil)
	p := ParsePagination(r)
	assert.Equal(t, DefaultLimit, p.Limit)
	assert.Zero(t, p.Cursor)
}

func TestParsePagination_CustomValues(t *testing.T) {
	r := httptest.NewRequest("GET", "/audit-logs?limit=25&cursor=120", nil)
	p := ParsePagination(r)
	assert.Equal(t, 25, p.Limit)
	assert.Equal(t, int64(120), p.Cursor)
}

func TestParsePagination_ExceedsMax(t *testing.T) {
	r := httptest.NewRequest("GET", "/audit-logs?limit=500", nil)
	assert.Equal(t, MaxLimit, ParsePagination(r).Limit)
}

func TestParsePagination_InvalidValues(t *testing.T) {
	r := httptest.NewRequest("GET", "/audit-logs?limit=abc&cursor=-4", nil)
	p := ParsePagination(r)
	assert.Equal(t, DefaultLimit, p.Limit)
	assert.Zero(t, p.Cursor)
}

func TestParsePage(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  backend.Page
	}{
		{"defaults", "", backend.Page{Number: 1, Size: backend.DefaultPageSize}},
		{"custom", "?page=3&page_size=50", backend.Page{Number: 3, Size: 50}},
		{"clamped size", "?page_size=5000", backend.Page{Number: 1, Size: backend.MaxPageSize}},
		{"invalid", "?page=0&page_size=x", backend.Page{Number: 1, Size: backend.DefaultPageSize}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/maintenance/jobs"+tt.query, nil)
			assert.Equal(t, tt.want, ParsePage(r))
		})
	}
}
