package handler

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/edvin/maintconsole/internal/api/response"
	"github.com/edvin/maintconsole/internal/backend"
	"github.com/edvin/maintconsole/internal/maintenance"
)

// writeServiceError maps console and backend errors onto HTTP responses.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *backend.APIError
	switch {
	case errors.Is(err, backend.ErrSessionExpired):
		response.WriteError(w, http.StatusUnauthorized, backend.ErrSessionExpired.Error())
	case backend.IsUnauthorized(err) && errors.As(err, &apiErr):
		response.WriteError(w, http.StatusUnauthorized, apiErr.Message)
	case backend.IsForbidden(err):
		response.WriteError(w, http.StatusForbidden, "not allowed")
	case backend.IsNotFound(err):
		response.WriteError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, maintenance.ErrActionNotAllowed):
		response.WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, maintenance.ErrInvalidStatus):
		response.WriteError(w, http.StatusBadRequest, err.Error())
	case (backend.IsValidation(err) || backend.IsConflict(err)) && errors.As(err, &apiErr):
		response.WriteError(w, apiErr.StatusCode, apiErr.Message)
	case backend.IsUnreachable(err):
		response.WriteError(w, http.StatusBadGateway, backend.ErrUnreachable.Error())
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("request failed")
		response.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}

// JobRow is a job as the views render it: the record, its live state and
// the actions currently offered.
type JobRow struct {
	maintenance.Row
	CanStart          bool `json:"can_start"`
	CanGenerateReport bool `json:"can_generate_report"`
}

func jobRow(row maintenance.Row) JobRow {
	return JobRow{
		Row:               row,
		CanStart:          row.CanStart(),
		CanGenerateReport: row.CanGenerateReport(),
	}
}

func jobRows(rows []maintenance.Row) []JobRow {
	out := make([]JobRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, jobRow(row))
	}
	return out
}
