package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/maintconsole/internal/audit"
	"github.com/edvin/maintconsole/internal/backend"
)

type fakeSession struct {
	loggedIn bool
	user     *backend.User
	touches  int
}

func (s *fakeSession) LoggedIn() bool      { return s.loggedIn }
func (s *fakeSession) User() *backend.User { return s.user }
func (s *fakeSession) Touch() error {
	s.touches++
	return nil
}

type recorder struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (r *recorder) Record(e audit.Entry) {
	r.mu.Lock()
	r.entries = append(r.entries, e)
	r.mu.Unlock()
}

func okHandler(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }

func TestRequireSession_Unauthorized(t *testing.T) {
	sess := &fakeSession{}
	handler := RequireSession(sess)(http.HandlerFunc(okHandler))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/maintenance/jobs", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "session expired", body["error"])
	assert.Zero(t, sess.touches)
}

func TestRequireSession_StoresUser(t *testing.T) {
	sess := &fakeSession{loggedIn: true, user: &backend.User{ID: 3, Username: "ana"}}
	var seen *backend.User
	handler := RequireSession(sess)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetUser(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/maintenance/jobs", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "ana", seen.Username)
	assert.Equal(t, 1, sess.touches)
}

func TestCORS(t *testing.T) {
	handler := CORS([]string{"http://localhost:5173/"})(http.HandlerFunc(okHandler))

	t.Run("allowed origin", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/v1/session", nil)
		req.Header.Set("Origin", "http://localhost:5173")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("unknown origin", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/v1/session", nil)
		req.Header.Set("Origin", "http://evil.example")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/maintenance/jobs", nil)
		req.Header.Set("Origin", "http://localhost:5173")
		req.Header.Set("Access-Control-Request-Method", "POST")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "PUT")
	})
}

func newAuditRouter(rec audit.Recorder, sess Session) chi.Router {
	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(Audit(rec, sess))
		r.Post("/session", okHandler)
		r.Post("/other", okHandler)

		r.Group(func(r chi.Router) {
			r.Use(RequireSession(sess))
			r.Get("/maintenance/jobs", okHandler)
			r.Post("/maintenance/jobs/{id}/start", func(w http.ResponseWriter, r *http.Request) {
				body, _ := io.ReadAll(r.Body)
				if len(body) > 0 {
					w.WriteHeader(http.StatusBadRequest)
					return
				}
				w.WriteHeader(http.StatusAccepted)
			})
			r.Put("/maintenance/jobs/{id}/status", func(w http.ResponseWriter, r *http.Request) {
				var req struct {
					Status string `json:"status"`
				}
				if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Status == "" {
					w.WriteHeader(http.StatusBadRequest)
					return
				}
				w.WriteHeader(http.StatusOK)
			})
		})
	})
	return r
}

func TestAudit_RecordsJobActions(t *testing.T) {
	rec := &recorder{}
	router := newAuditRouter(rec, &fakeSession{loggedIn: true, user: &backend.User{Username: "ana"}})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("POST", "/api/v1/maintenance/jobs/7/start", nil))
	require.Equal(t, http.StatusAccepted, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("PUT", "/api/v1/maintenance/jobs/4/status", bytes.NewBufferString(`{"status":"fallido"}`)))
	require.Equal(t, http.StatusOK, w.Code, "body must be re-buffered for the handler")

	require.Len(t, rec.entries, 2)
	start := rec.entries[0]
	assert.Equal(t, audit.ActionStart, start.Action)
	require.NotNil(t, start.JobID)
	assert.Equal(t, int64(7), *start.JobID)
	require.NotNil(t, start.Actor)
	assert.Equal(t, "ana", *start.Actor)
	assert.Equal(t, http.StatusAccepted, start.StatusCode)
	assert.Nil(t, start.Detail)

	status := rec.entries[1]
	assert.Equal(t, audit.ActionSetStatus, status.Action)
	assert.Equal(t, int64(4), *status.JobID)
	assert.JSONEq(t, `{"status":"fallido"}`, string(status.Detail))
}

func TestAudit_SkipsReadsAndRedactsSecrets(t *testing.T) {
	rec := &recorder{}
	router := newAuditRouter(rec, &fakeSession{loggedIn: true})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/v1/maintenance/jobs", nil))
	assert.Empty(t, rec.entries)

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/api/v1/session", bytes.NewBufferString(`{"username":"ana","password":"hunter2"}`)))
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/api/v1/other", nil))

	require.Len(t, rec.entries, 2)
	login := rec.entries[0]
	assert.Equal(t, audit.ActionLogin, login.Action)
	assert.Nil(t, login.Actor)
	assert.Nil(t, login.JobID)
	assert.NotContains(t, string(login.Detail), "hunter2")
	assert.Equal(t, audit.ActionRequest, rec.entries[1].Action)
}

func TestStatusWriter_KeepsFirstStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := newStatusWriter(rec)
	sw.WriteHeader(http.StatusConflict)
	sw.WriteHeader(http.StatusOK)
	assert.Equal(t, http.StatusConflict, sw.status)
	assert.Equal(t, rec, sw.Unwrap())
}

func TestMetrics_UsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Metrics)
	r.Get("/api/v1/maintenance/jobs/{id}", okHandler)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/maintenance/jobs/12", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	counter := httpRequestsTotal.WithLabelValues("GET", "/api/v1/maintenance/jobs/{id}", "200")
	assert.GreaterOrEqual(t, testutil.ToFloat64(counter), 1.0)
}
