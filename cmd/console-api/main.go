package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/edvin/maintconsole/internal/api"
	"github.com/edvin/maintconsole/internal/api/handler"
	"github.com/edvin/maintconsole/internal/audit"
	"github.com/edvin/maintconsole/internal/config"
	"github.com/edvin/maintconsole/internal/console"
	"github.com/edvin/maintconsole/internal/db"
	"github.com/edvin/maintconsole/internal/jobstate"
	"github.com/edvin/maintconsole/internal/logging"
	"github.com/edvin/maintconsole/internal/maintenance"
	"github.com/edvin/maintconsole/internal/metrics"
	"github.com/edvin/maintconsole/internal/session"
)

//	@title			Maintenance Console API
//	@version		1.0
//	@description	Schedules, starts and follows database maintenance jobs on behalf of the console views.
//	@BasePath		/api/v1
func main() {
	migrateFlag := flag.Bool("migrate", false, "Run audit database migrations before starting")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg)

	if *migrateFlag {
		if cfg.DatabaseURL == "" {
			logger.Fatal().Msg("--migrate needs DATABASE_URL")
		}
		logger.Info().Msg("running audit database migrations")
		if err := db.RunMigrations(cfg.DatabaseURL); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to audit database")
	}

	deps := api.Deps{Audit: audit.Nop{}}
	var auditWriter *audit.Writer
	if pool != nil {
		defer pool.Close()
		auditWriter = audit.NewWriter(pool, logger)
		deps.Audit = auditWriter
		deps.AuditDB = pool
		deps.AuditPing = pool
		metrics.RegisterPgxPoolMetrics(prometheus.DefaultRegisterer, pool)
	} else {
		logger.Info().Msg("DATABASE_URL not set, audit trail disabled")
	}

	store := jobstate.NewStore(logger)
	hub := handler.NewHub(store, api.OriginPatterns(cfg.CORSOrigins), logger)

	recorder := deps.Audit
	nav := session.NavigatorFunc(func(path string) {
		recorder.Record(audit.Entry{Action: audit.ActionSessionExpired})
		hub.Navigate(path)
	})
	logNotes := maintenance.LogNotifier{Logger: logger}
	notifier := maintenance.NotifierFunc(func(n maintenance.Notification) {
		logNotes.Notify(n)
		hub.Notify(n)
	})

	c, err := console.New(cfg, store, console.Hooks{Navigator: nav, Notifier: notifier}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to set up console")
	}

	cancelWatch := store.Watch(0, hub.PublishUpdate)
	c.Channel.OnStateChange(hub.ChannelState)
	metrics.RegisterConsoleMetrics(prometheus.DefaultRegisterer, store, c.Channel)

	if err := c.Tracker.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start job tracker")
	}
	if c.Session.LoggedIn() {
		if err := c.List.Refresh(ctx); err != nil {
			logger.Warn().Err(err).Msg("initial job list refresh failed")
		}
	}

	deps.List = c.List
	deps.Tracker = c.Tracker
	deps.Hub = hub
	deps.Session = c.Session
	deps.Auth = c.Client
	srv := api.NewServer(logger, cfg, deps)

	// No write timeout: event streams and report generation outlive it.
	httpServer := &http.Server{
		Addr:              cfg.HTTPListenAddr,
		Handler:           srv,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTPListenAddr).Msg("starting maintenance console API")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	hub.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	cancelWatch()
	if err := c.Close(); err != nil {
		logger.Error().Err(err).Msg("failed to close status channel")
	}
	if auditWriter != nil {
		auditWriter.Close()
	}
}
