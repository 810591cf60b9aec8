package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rental-platform/internal/audit"
	"rental-platform/internal/auth"
	"rental-platform/internal/config"
	"rental-platform/internal/httpapi"
	"rental-platform/internal/lifecycle"
	"rental-platform/internal/listing"
	"rental-platform/internal/metrics"
	"rental-platform/internal/reconcile"
	"rental-platform/internal/session"
	"rental-platform/pkg/logger"
	"rental-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	reg := metrics.New()

	// Audit pipeline, optionally spooling failed appends to a local sqlite file.
	var spool *audit.SQLiteSpool
	if cfg.Audit.SpoolPath != "" {
		spool, err = audit.OpenSQLiteSpool(cfg.Audit.SpoolPath)
		if err != nil {
			log.Error("audit spool init failed", "err", err, "path", cfg.Audit.SpoolPath)
			os.Exit(1)
		}
		defer spool.Close()
	}
	pipeOpts := audit.PipelineOptions{
		QueueSize: cfg.Audit.QueueSize,
		Logger:    log,
		Metrics:   reg,
	}
	if spool != nil {
		pipeOpts.Spool = spool
	}
	pipeline := audit.NewPipeline(audit.NewPostgresRepo(db), pipeOpts)

	// Two views over one backend: the moderation view sees everything, the
	// public view only approved listings.
	backend := listing.NewPostgresRepo(db)
	privileged := listing.NewStore(listing.ScopePrivileged)
	public := listing.NewStore(listing.ScopePublic)

	loops := map[string]*reconcile.Loop{}
	for name, store := range map[string]*listing.Store{"privileged": privileged, "public": public} {
		loops[name] = reconcile.New(reconcile.Options{
			Store:    store,
			Source:   backend,
			Interval: cfg.Reconcile.Interval,
			Timeout:  cfg.Reconcile.Timeout,
			Logger:   log.With("view", name),
			Metrics:  reg,
		})
	}
	triggers := []lifecycle.Trigger{loops["privileged"], loops["public"]}
	refresh := func(session.Event) {
		for _, t := range triggers {
			t.Trigger()
		}
	}

	engine := lifecycle.New(backend, pipeline, lifecycle.Options{
		Store:    privileged,
		Views:    []*listing.Store{public},
		Triggers: triggers,
		Strict:   cfg.Listing.StrictWrites,
		Logger:   log,
		Metrics:  reg,
	})

	// Session changes refresh every view. With redis they fan out across
	// replicas; without it only this process hears them.
	var sessions session.Publisher
	if cfg.RedisEnabled() {
		rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr(), Password: cfg.Redis.Password})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()

		bus := session.NewRedisBus(rdb, log)
		go func() {
			if err := bus.Listen(rootCtx, refresh); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("session listener stopped", "err", err)
			}
		}()
		sessions = bus
	} else {
		bus := session.NewLocalBus()
		bus.Subscribe(refresh)
		sessions = bus
	}

	var archiver *audit.S3Archiver
	if cfg.Archive.Bucket != "" {
		archiver, err = audit.NewS3Archiver(rootCtx, cfg.Archive)
		if err != nil {
			log.Error("audit archive init failed", "err", err)
			os.Exit(1)
		}
	}

	handlers := httpapi.Handlers{
		Auth:     auth.NewAuthenticator(auth.NewPostgresUserStore(db), authManager),
		Engine:   engine,
		Public:   public,
		Audit:    pipeline,
		Query:    audit.NewQueryService(audit.NewPostgresRepo(db), audit.NewPostgresDirectory(db), cfg.Audit.MaxPageSize),
		Sessions: sessions,
		Archive:  archiver,
		Loops:    loops,
	}

	for _, l := range loops {
		l.Start(rootCtx)
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	registerRoutes(r, db, reg, handlers, authManager)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	for _, l := range loops {
		l.Stop()
	}
	// Drain queued audit records before the pool closes.
	if err := pipeline.Close(shutdownCtx); err != nil {
		log.Error("audit pipeline close failed", "err", err)
	}
}
