package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/edvin/maintconsole/internal/api/response"
	"github.com/edvin/maintconsole/internal/audit"
)

func auditRow(id int64, action string) func(dest ...any) error {
	return func(dest ...any) error {
		*dest[0].(*int64) = id
		*dest[2].(*string) = action
		*dest[8].(*time.Time) = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
		return nil
	}
}

func TestAuditList_Disabled(t *testing.T) {
	h := NewAudit(nil)
	rec := httptest.NewRecorder()

	h.List(rec, newRequest(http.MethodGet, "/audit-logs", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "audit trail is disabled", decodeErrorResponse(rec)["error"])
}

func TestAuditList_Paginates(t *testing.T) {
	db := &mockDB{}
	db.On("Query", mock.Anything, mock.Anything, []any{audit.ActionStart, int64(7), int64(50), 3}).
		Return(newMockRows(auditRow(49, audit.ActionStart), auditRow(30, audit.ActionStart), auditRow(12, audit.ActionStart)), nil)

	h := NewAudit(db)
	rec := httptest.NewRecorder()
	h.List(rec, newRequest(http.MethodGet, "/audit-logs?action=job.start&job_id=7&cursor=50&limit=2", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Items []audit.Entry `json:"items"`
		response.PaginatedResponse
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Items, 2)
	assert.True(t, body.HasMore)
	assert.Equal(t, "30", body.NextCursor)
	db.AssertExpectations(t)
}

func TestAuditList_EmptyIsArray(t *testing.T) {
	db := &mockDB{}
	db.On("Query", mock.Anything, mock.Anything, mock.Anything).Return(newMockRows(), nil)

	rec := httptest.NewRecorder()
	NewAudit(db).List(rec, newRequest(http.MethodGet, "/audit-logs", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"items":[],"has_more":false}`, rec.Body.String())
}

func TestAuditList_Errors(t *testing.T) {
	rec := httptest.NewRecorder()
	NewAudit(&mockDB{}).List(rec, newRequest(http.MethodGet, "/audit-logs?job_id=x", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	db := &mockDB{}
	db.On("Query", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("db down"))
	rec = httptest.NewRecorder()
	NewAudit(db).List(rec, newRequest(http.MethodGet, "/audit-logs", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
