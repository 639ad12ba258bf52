package middleware

import (
	"bytes"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/edvin/maintconsole/internal/api/request"
	"github.com/edvin/maintconsole/internal/audit"
)

const maxAuditBody = 64 << 10

// routeActions maps mutating routes to the audit action they record.
var routeActions = map[string]string{
	"POST /api/v1/maintenance/jobs":             audit.ActionSchedule,
	"POST /api/v1/maintenance/jobs/refresh":     audit.ActionRefresh,
	"POST /api/v1/maintenance/jobs/{id}/start":  audit.ActionStart,
	"PUT /api/v1/maintenance/jobs/{id}/status":  audit.ActionSetStatus,
	"POST /api/v1/maintenance/jobs/{id}/report": audit.ActionReport,
	"POST /api/v1/session":                      audit.ActionLogin,
	"DELETE /api/v1/session":                    audit.ActionLogout,
}

// Audit returns a chi middleware that records mutating requests. The actor
// is the user logged in when the request arrived.
func Audit(rec audit.Recorder, sess Session) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost && r.Method != http.MethodPut && r.Method != http.MethodDelete {
				next.ServeHTTP(w, r)
				return
			}

			// Read and re-buffer the request body.
			var body []byte
			if r.Body != nil {
				body, _ = io.ReadAll(io.LimitReader(r.Body, maxAuditBody))
				r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(body), r.Body))
			}

			var actor *string
			if u := sess.User(); u != nil {
				name := u.Username
				actor = &name
			}

			sw := newStatusWriter(w)
			next.ServeHTTP(sw, r)

			entry := audit.Entry{
				Actor:      actor,
				Action:     actionFor(r),
				Method:     r.Method,
				Path:       r.URL.Path,
				StatusCode: sw.status,
			}
			if id, err := request.ParseJobID(chi.URLParam(r, "id")); err == nil {
				entry.JobID = &id
			}
			if len(body) > 0 {
				entry.Detail = audit.Sanitize(body)
			}
			rec.Record(entry)
		})
	}
}

func actionFor(r *http.Request) string {
	if action, ok := routeActions[r.Method+" "+routePattern(r)]; ok {
		return action
	}
	return audit.ActionRequest
}
