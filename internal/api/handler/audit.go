package handler

import (
	"net/http"
	"strconv"

	"github.com/edvin/maintconsole/internal/api/request"
	"github.com/edvin/maintconsole/internal/api/response"
	"github.com/edvin/maintconsole/internal/audit"
)

type Audit struct {
	db audit.DB
}

// NewAudit creates the audit log handler. db is nil when the audit trail is
// disabled.
func NewAudit(db audit.DB) *Audit {
	return &Audit{db: db}
}

// List godoc
//
//	@Summary		List audit log entries
//	@Description	Returns audit entries newest first. Supports action and job_id filters and cursor pagination.
//	@Tags			Audit Logs
//	@Param			limit	query		int		false	"Page size"	default(50)
//	@Param			cursor	query		string	false	"Pagination cursor"
//	@Param			action	query		string	false	"Filter by action"
//	@Param			job_id	query		int		false	"Filter by job ID"
//	@Success		200		{object}	response.PaginatedResponse{items=[]audit.Entry}
//	@Failure		400		{object}	response.ErrorResponse
//	@Failure		401		{object}	response.ErrorResponse
//	@Failure		404		{object}	response.ErrorResponse
//	@Router			/audit-logs [get]
func (h *Audit) List(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		response.WriteError(w, http.StatusNotFound, "audit trail is disabled")
		return
	}

	pg := request.ParsePagination(r)
	params := audit.ListParams{
		Limit:  pg.Limit,
		Cursor: pg.Cursor,
		Action: r.URL.Query().Get("action"),
	}
	if raw := r.URL.Query().Get("job_id"); raw != "" {
		id, err := request.ParseJobID(raw)
		if err != nil {
			response.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		params.JobID = id
	}

	entries, hasMore, err := audit.List(r.Context(), h.db, params)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}

	var nextCursor string
	if hasMore && len(entries) > 0 {
		nextCursor = strconv.FormatInt(entries[len(entries)-1].ID, 10)
	}
	response.WritePaginated(w, http.StatusOK, entries, nextCursor, hasMore)
}
