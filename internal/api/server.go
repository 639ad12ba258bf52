package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/swaggo/swag"

	"github.com/edvin/maintconsole/internal/api/docs"
	"github.com/edvin/maintconsole/internal/api/handler"
	mw "github.com/edvin/maintconsole/internal/api/middleware"
	"github.com/edvin/maintconsole/internal/api/response"
	"github.com/edvin/maintconsole/internal/audit"
	"github.com/edvin/maintconsole/internal/config"
	"github.com/edvin/maintconsole/internal/maintenance"
	"github.com/edvin/maintconsole/internal/session"
)

// Pinger is satisfied by the audit database pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the console components the API exposes.
type Deps struct {
	List    *maintenance.List
	Tracker *maintenance.Tracker
	Hub     *handler.Hub
	Session *session.Manager
	Auth    handler.Authenticator

	// Audit receives an entry per mutating request. AuditDB and AuditPing
	// are nil when the audit trail is disabled.
	Audit     audit.Recorder
	AuditDB   audit.DB
	AuditPing Pinger
}

type Server struct {
	router chi.Router
	logger zerolog.Logger
	cfg    *config.Config
	deps   Deps
}

func NewServer(logger zerolog.Logger, cfg *config.Config, deps Deps) *Server {
	if deps.Audit == nil {
		deps.Audit = audit.Nop{}
	}

	s := &Server{
		router: chi.NewRouter(),
		logger: logger,
		cfg:    cfg,
		deps:   deps,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(mw.RequestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(mw.Metrics)
	s.router.Use(mw.CORS(s.cfg.CORSOrigins))
}

func (s *Server) setupRoutes() {
	// Prometheus metrics endpoint
	s.router.Handle("/metrics", promhttp.Handler())

	// Health check endpoints
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)

	// API documentation (no session required)
	s.router.Get("/docs/openapi.json", s.handleOpenAPI)
	s.router.Get("/docs", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(scalarHTML))
	})

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(mw.Audit(s.deps.Audit, s.deps.Session))

		// Session
		sess := handler.NewSession(s.deps.Auth, s.deps.Session, s.deps.Tracker)
		r.Get("/session", sess.Get)
		r.Post("/session", sess.Login)
		r.Delete("/session", sess.Logout)

		r.Group(func(r chi.Router) {
			r.Use(mw.RequireSession(s.deps.Session))

			// Maintenance jobs
			jobs := handler.NewJobs(s.deps.List, s.deps.Tracker)
			r.Get("/maintenance/jobs", jobs.List)
			r.Post("/maintenance/jobs", jobs.Schedule)
			r.Post("/maintenance/jobs/refresh", jobs.Refresh)
			r.Get("/maintenance/jobs/{id}", jobs.Get)
			r.Post("/maintenance/jobs/{id}/start", jobs.Start)
			r.Put("/maintenance/jobs/{id}/status", jobs.SetStatus)
			r.Post("/maintenance/jobs/{id}/report", jobs.Report)

			// Live job state
			r.Get("/maintenance/events", s.deps.Hub.Serve)

			// Audit logs
			auditLogs := handler.NewAudit(s.deps.AuditDB)
			r.Get("/audit-logs", auditLogs.List)
		})
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleReadyz reports the state of the console's dependencies. Only the
// audit database fails readiness: without the channel the console polls,
// and without a session it answers 401.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{
		"channel": s.deps.Tracker.ChannelState().String(),
		"session": "logged_out",
	}
	if s.deps.Session.LoggedIn() {
		checks["session"] = "logged_in"
	}
	healthy := true

	if s.deps.AuditPing != nil {
		if err := s.deps.AuditPing.Ping(ctx); err != nil {
			checks["audit_db"] = err.Error()
			healthy = false
		} else {
			checks["audit_db"] = "ok"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(checks)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// OriginPatterns converts CORS origins to the host patterns accepted for
// cross-origin event stream connections.
func OriginPatterns(origins []string) []string {
	patterns := make([]string, 0, len(origins))
	for _, o := range origins {
		u, err := url.Parse(o)
		if err != nil || u.Host == "" {
			continue
		}
		patterns = append(patterns, u.Host)
	}
	return patterns
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, _ *http.Request) {
	doc, err := swag.ReadDoc(docs.SwaggerInfo.InstanceName())
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to render API document")
		response.WriteError(w, http.StatusInternalServerError, "API document unavailable")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(doc))
}

const scalarHTML = `<!DOCTYPE html>
<html>
<head>
  <title>Maintenance Console API</title>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
</head>
<body>
  <script id="api-reference" data-url="/docs/openapi.json"></script>
  <script src="https://cdn.jsdelivr.net/npm/@scalar/api-reference"></script>
</body>
</html>`
