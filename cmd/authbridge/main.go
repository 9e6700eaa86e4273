// Package main is the entry point for the authorization bridge server.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/openclavis/authbridge/internal/api"
	"github.com/openclavis/authbridge/internal/audit"
	"github.com/openclavis/authbridge/internal/authz"
	"github.com/openclavis/authbridge/internal/config"
	"github.com/openclavis/authbridge/internal/gate"
	"github.com/openclavis/authbridge/internal/health"
	"github.com/openclavis/authbridge/internal/jobs"
	"github.com/openclavis/authbridge/internal/ledger"
	"github.com/openclavis/authbridge/internal/liveness"
	"github.com/openclavis/authbridge/internal/middleware"
	"github.com/openclavis/authbridge/internal/policy"
	"github.com/openclavis/authbridge/internal/principal"
	"github.com/openclavis/authbridge/internal/replay"
	"github.com/openclavis/authbridge/internal/token"
	"github.com/openclavis/authbridge/internal/tracing"
)

func main() {
	help := flag.Bool("help", false, "display help message")
	configPath := flag.String("config", "", "path to optional YAML config file")
	flag.Parse()

	if *help {
		fmt.Println("Authbridge Server")
		fmt.Println()
		fmt.Println("Usage: authbridge [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)

	summary := cfg.LogSummary()
	attrs := make([]any, 0, len(summary)*2)
	for k, v := range summary {
		attrs = append(attrs, k, v)
	}
	logger.Info("configuration loaded", attrs...)

	tracerProvider, err := tracing.NewProvider(tracing.Config{
		ServiceName:  "authbridge",
		Enabled:      cfg.TracingEnabled,
		Environment:  cfg.Env,
		ExporterType: "otlp-grpc",
		OTLPEndpoint: cfg.TracingEndpoint,
		SamplingRate: 1.0,
		InsecureMode: cfg.TracingInsecure,
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	// Storage. DATABASE_URL=memory selects the in-memory repositories for
	// database-less deployments; anything else must be a reachable Postgres.
	var (
		db           *sql.DB
		registry     principal.Registry
		prinSource   ledger.PrincipalSource
		policies     policy.Table
		auditRepo    audit.Repository
		dbChecker    api.HealthChecker
		redisChecker api.HealthChecker
	)
	if cfg.DatabaseURL == "memory" {
		memRegistry := principal.NewInMemoryRegistry()
		registry = memRegistry
		prinSource = memRegistry
		policies = policy.NewInMemoryTable()
		auditRepo = audit.NewInMemoryRepository()
		logger.Warn("running with in-memory storage; state is lost on restart")
	} else {
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = db.PingContext(pingCtx)
		cancel()
		if err != nil {
			logger.Error("failed to reach database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		pgRegistry := principal.NewPostgresRegistry(db)
		registry = pgRegistry
		prinSource = pgRegistry
		policies = policy.NewPostgresTable(db)
		auditRepo = audit.NewPostgresRepository(db)
		dbChecker = health.NewDBChecker(db)
	}

	// Replay cache: Redis when configured, in-memory with periodic eviction
	// otherwise.
	safetyMargin := 2 * cfg.TokenTTL()
	var cache replay.Cache
	evictStop := make(chan struct{})
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		client := redis.NewClient(opts)
		defer client.Close()
		cache = replay.NewRedisCache(client, safetyMargin)
		redisChecker = health.NewRedisChecker(client)
	} else {
		memCache := replay.NewInMemoryCache(safetyMargin)
		cache = memCache
		go replay.RunPeriodicEviction(memCache, time.Minute, evictStop)
	}

	// Metrics.
	registryProm := prometheus.NewRegistry()
	httpMetrics := middleware.NewMetrics()
	if err := httpMetrics.Register(registryProm); err != nil {
		logger.Error("failed to register http metrics", "error", err)
		os.Exit(1)
	}
	authzMetrics := authz.NewMetrics()
	if err := authzMetrics.Register(registryProm); err != nil {
		logger.Error("failed to register authz metrics", "error", err)
		os.Exit(1)
	}
	jobMetrics := jobs.NewMetrics()
	if err := jobMetrics.Register(registryProm); err != nil {
		logger.Error("failed to register job metrics", "error", err)
		os.Exit(1)
	}

	// Core components.
	monitor := liveness.NewMonitor(cfg.HeartbeatStaleness())
	rootKey := authz.NewRootKey(cfg.RootSecret)
	issuer := token.NewIssuerWithRotation(cfg.SigningSecret, cfg.PreviousSigningSecret, cfg.TokenTTL())

	auditLog, err := audit.NewLog(auditRepo)
	if err != nil {
		logger.Error("failed to build audit log", "error", err)
		os.Exit(1)
	}
	broadcaster := audit.NewBroadcaster()
	auditLog.WithBroadcaster(broadcaster)

	engine := authz.NewEngine(authz.Config{
		Monitor:  monitor,
		Registry: registry,
		Policies: policies,
		Cache:    cache,
		Issuer:   issuer,
		RootKey:  rootKey,
		AuditLog: auditLog,
		Metrics:  authzMetrics,
		Logger:   logger,
	})
	actionGate := gate.New(engine, cache, auditLog, logger)

	// Ledger synchronization.
	signer, err := ledger.NewSigner(cfg.SigningSecret)
	if err != nil {
		logger.Error("failed to build ledger signer", "error", err)
		os.Exit(1)
	}
	var anchors ledger.AnchorStore
	if cfg.AnchorBackend == "s3" {
		anchors, err = ledger.NewS3AnchorStore(ledger.S3AnchorConfig{
			BucketName:      cfg.AnchorBucketName,
			AccessKeyID:     cfg.AnchorAccessKeyID,
			SecretAccessKey: cfg.AnchorSecretKey,
			Endpoint:        cfg.AnchorEndpoint,
		})
		if err != nil {
			logger.Error("failed to build s3 anchor store", "error", err)
			os.Exit(1)
		}
	} else {
		anchors = ledger.NewInMemoryAnchorStore()
		logger.Warn("running with in-memory anchor store; snapshots are not durable")
	}
	bridgeStore := ledger.NewBridgeStore(cfg.RuntimeID, prinSource, policies, auditRepo)
	if db != nil {
		bridgeStore = bridgeStore.WithDB(db)
	}
	synchronizer := ledger.NewSynchronizer(ledger.SynchronizerConfig{
		Interval:   cfg.SyncInterval(),
		Logger:     logger,
		JobMetrics: jobMetrics,
	}, bridgeStore, anchors, signer, auditLog)

	// Continue the snapshot chain from the last committed anchor. Without
	// this a restart would fork the chain back to genesis.
	if rec, err := bridgeStore.LatestAnchor(); err != nil {
		logger.Error("failed to load latest anchor record", "error", err)
		os.Exit(1)
	} else if rec != nil {
		resumeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		snap, err := anchors.Get(resumeCtx, rec.Ref)
		cancel()
		if err != nil {
			logger.Error("failed to load anchored snapshot",
				"anchor_ref", rec.Ref, "error", err)
			os.Exit(1)
		}
		synchronizer.Resume(snap)
		logger.Info("resumed snapshot chain",
			"sequence", snap.Sequence, "content_hash", snap.ContentHash)
	}

	jobCtx, jobCancel := context.WithCancel(context.Background())
	defer jobCancel()
	if err := synchronizer.Start(jobCtx); err != nil {
		logger.Error("failed to start ledger synchronizer", "error", err)
		os.Exit(1)
	}

	handler := api.NewRouter(api.RouterConfig{
		Authorize:  api.NewAuthorizeHandlers(engine),
		Actions:    api.NewActionHandlers(actionGate),
		Heartbeat:  api.NewHeartbeatHandlers(monitor),
		Policies:   api.NewPolicyHandlers(policies, rootKey, auditLog),
		Principals: api.NewPrincipalHandlers(registry, rootKey),
		Sync:       api.NewSyncHandlers(synchronizer, rootKey),
		Audit:      api.NewAuditHandlers(auditRepo, broadcaster),
		Health: api.NewHealthHandlers(api.HealthHandlersConfig{
			DBChecker:    dbChecker,
			RedisChecker: redisChecker,
		}),
		Logger:         logger,
		Metrics:        httpMetrics,
		Registry:       registryProm,
		TracingEnabled: cfg.TracingEnabled,
		ServiceName:    "authbridge",
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", "port", cfg.Port, "runtime_id", cfg.RuntimeID)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	synchronizer.Stop()
	close(evictStop)
	broadcaster.CloseAll()

	if err := tracerProvider.Shutdown(ctx); err != nil {
		logger.Error("failed to shut down tracing", "error", err)
	}

	logger.Info("server stopped")
}
