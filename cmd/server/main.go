package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/myx-labs/api-mecs/internal/blacklist"
	"github.com/myx-labs/api-mecs/internal/eligibility"
	eligibilityhandler "github.com/myx-labs/api-mecs/internal/eligibility/handler"
	eligibilitymetrics "github.com/myx-labs/api-mecs/internal/eligibility/metrics"
	"github.com/myx-labs/api-mecs/internal/platform/config"
	"github.com/myx-labs/api-mecs/internal/platform/httpserver"
	"github.com/myx-labs/api-mecs/internal/platform/logger"
	platformredis "github.com/myx-labs/api-mecs/internal/platform/redis"
	"github.com/myx-labs/api-mecs/internal/reconcile"
	"github.com/myx-labs/api-mecs/internal/reconcile/cursor"
	reconcilehandler "github.com/myx-labs/api-mecs/internal/reconcile/handler"
	reconcilemetrics "github.com/myx-labs/api-mecs/internal/reconcile/metrics"
	"github.com/myx-labs/api-mecs/internal/reconcile/store/memory"
	"github.com/myx-labs/api-mecs/internal/reconcile/store/postgres"
	"github.com/myx-labs/api-mecs/internal/roblox"
	"github.com/myx-labs/api-mecs/internal/roblox/session"
	httptransport "github.com/myx-labs/api-mecs/internal/transport/http"
	"github.com/myx-labs/api-mecs/pkg/platform/middleware/auth"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Session cookies unlock audit reads and rank writes. Without them the
	// service still serves public evaluations.
	pool, err := session.LoadFile(cfg.SessionsFile, session.WithLogger(log))
	if err != nil {
		log.Warn("no platform sessions loaded, rank changes and audit reads unavailable",
			"file", cfg.SessionsFile, "error", err)
		pool = nil
	}
	client := roblox.New(pool, roblox.WithLogger(log))

	var source blacklist.Source = blacklist.Static{}
	if cfg.BlacklistUsersURL != "" || cfg.BlacklistGroupsURL != "" {
		source = &blacklist.HTTPSource{
			UsersURL:  cfg.BlacklistUsersURL,
			GroupsURL: cfg.BlacklistGroupsURL,
		}
	} else {
		log.Warn("blacklist source URLs not configured, serving empty lists")
	}
	bl := blacklist.NewService(source, cfg.BlacklistTTL)

	svc, err := eligibility.New(client, bl, cfg.Group,
		eligibility.WithLogger(log),
		eligibility.WithMetrics(eligibilitymetrics.New()),
		eligibility.WithProcessPending(cfg.Flags.ProcessPending),
	)
	if err != nil {
		log.Error("eligibility service init failed", "error", err)
		os.Exit(1)
	}

	rdb, err := platformredis.New(ctx, cfg.RedisURL)
	if err != nil {
		log.Error("redis connect failed", "error", err)
		os.Exit(1)
	}
	var cursorStore cursor.Store = cursor.NewMemory()
	if rdb != nil {
		defer rdb.Close()
		cursorStore = cursor.NewRedis(rdb.Client)
	}

	var store reconcile.Store = memory.New(cfg.Group.CitizenRoleID, cfg.Group.IDCRoleID)
	if cfg.PostgresDSN != "" {
		db, err := sql.Open("pgx", cfg.PostgresDSN)
		if err != nil {
			log.Error("postgres open failed", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		pg := postgres.New(db, cfg.Group.CitizenRoleID, cfg.Group.IDCRoleID)
		if err := pg.EnsureSchema(ctx); err != nil {
			log.Error("postgres schema init failed", "error", err)
			os.Exit(1)
		}
		store = pg
	} else {
		log.Warn("POSTGRES_DSN not set, audit records held in memory only")
	}

	var validator *auth.Validator
	if cfg.AuthSigningKey != "" {
		validator = auth.NewValidator(cfg.AuthSigningKey, log)
	} else {
		log.Warn("AUTH_SIGNING_KEY not set, automated review endpoint disabled")
	}

	router := httptransport.NewRouter(httptransport.Deps{
		Eligibility: eligibilityhandler.New(svc, client, bl, log),
		Audit:       reconcilehandler.New(store, log),
		Auth:        validator,
		Logger:      log,
	})

	srv := httpserver.New(cfg.Addr, router)

	loopDone := make(chan struct{})
	if cfg.Flags.ProcessAudit {
		loop, err := reconcile.New(client, svc, store, cursorStore, cfg.Group,
			reconcile.WithLogger(log),
			reconcile.WithMetrics(reconcilemetrics.New()),
			reconcile.WithPollInterval(cfg.AuditPollInterval),
		)
		if err != nil {
			log.Error("audit loop init failed", "error", err)
			os.Exit(1)
		}
		go func() {
			defer close(loopDone)
			if err := loop.Run(ctx, cfg.Flags.OnlyNewAudit, cfg.Flags.LoadCursor); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("audit loop stopped", "error", err)
			}
		}()
	} else {
		close(loopDone)
	}

	log.Info("starting api-mecs", "addr", cfg.Addr,
		"audit_processing", cfg.Flags.ProcessAudit,
		"pending_processing", cfg.Flags.ProcessPending)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	cancel()
	<-loopDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
}
