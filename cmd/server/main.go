package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/auditlens/auditlens-backend/internal/data/repos/audit"
	"github.com/auditlens/auditlens-backend/internal/db"
	"github.com/auditlens/auditlens-backend/internal/handlers"
	"github.com/auditlens/auditlens-backend/internal/observability"
	"github.com/auditlens/auditlens-backend/internal/platform/config"
	"github.com/auditlens/auditlens-backend/internal/platform/envutil"
	"github.com/auditlens/auditlens-backend/internal/platform/logger"
	"github.com/auditlens/auditlens-backend/internal/platform/neo4jdb"
	"github.com/auditlens/auditlens-backend/internal/server"
	"github.com/auditlens/auditlens-backend/internal/services"
	"github.com/auditlens/auditlens-backend/internal/sse"
	"github.com/auditlens/auditlens-backend/internal/temporalx"
	"github.com/auditlens/auditlens-backend/internal/temporalx/temporalworker"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Config
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Config load failed", "error", err)
	}

	// Tracing
	shutdownTracing := observability.InitOTel(rootCtx, log, observability.OtelConfig{
		ServiceName: "auditlens-backend",
		Environment: envutil.Str("DEPLOY_ENV", "local"),
		Version:     envutil.Str("SERVICE_VERSION", "dev"),
	})

	// Store
	store, err := db.NewStoreService(cfg, log)
	if err != nil {
		log.Fatal("Store init failed", "error", err)
	}
	if err := store.AutoMigrateAll(); err != nil {
		log.Fatal("Auto migration failed", "error", err)
	}
	gormDB := store.DB()

	// Neo4j (optional graph mirror)
	neo4jClient, err := neo4jdb.NewFromEnv(log)
	if err != nil {
		log.Warn("Neo4j init failed; graph mirror disabled", "error", err)
	}

	// Repos
	log.Info("Setting up repos...")
	sessionRepo := audit.NewSessionRepo(gormDB, log)
	auditDataRepo := audit.NewAuditDataRepo(gormDB, log)

	// SSE: hub for connected clients, bus for cross-process fanout.
	sseHub := sse.NewSSEHub(log)
	sseBus, err := services.NewRedisSSEBus(log)
	if err != nil {
		log.Warn("Redis SSE bus unavailable; using in-process bus", "error", err)
		sseBus = services.NewLocalSSEBus()
	}
	if err := sseBus.StartForwarder(rootCtx, sseHub.Broadcast); err != nil {
		log.Warn("SSE forwarder start failed", "error", err)
	}

	// Services
	log.Info("Setting up services...")
	notifier := services.NewAuditNotifier(log, sseBus)
	scorer, err := services.NewScorerClient(cfg, log)
	if err != nil {
		log.Fatal("Scorer client init failed", "error", err)
	}
	auditService := services.NewAuditService(log, gormDB, sessionRepo, auditDataRepo, neo4jClient, scorer, notifier)
	sessionService := services.NewSessionService(log, gormDB, sessionRepo, auditService, notifier)

	// Temporal supervision (optional)
	temporalClient, err := temporalx.NewClient(log)
	if err != nil {
		log.Warn("Temporal init failed; run supervision disabled", "error", err)
	}
	if temporalClient != nil {
		invoker := services.NewRunInvoker(log, temporalClient, cfg)
		auditService.SetInvoker(invoker)
		sessionService.SetInvoker(invoker)

		runner, err := temporalworker.NewRunner(log, temporalClient, sessionRepo, auditService)
		if err != nil {
			log.Warn("Temporal worker init failed", "error", err)
		} else if err := runner.Start(rootCtx); err != nil {
			log.Warn("Temporal worker start failed", "error", err)
		}

		monitor := services.NewStalenessMonitor(log, cfg, sessionRepo, invoker)
		monitor.Start(rootCtx)
		defer monitor.Stop()
	}

	// Handlers + router
	log.Info("Setting up router...")
	auditHandler := handlers.NewAuditHandler(sessionService, auditService)
	sseHandler := handlers.NewSSEHandler(log, sseHub)
	router := server.NewRouter(server.RouterConfig{
		ServiceName:  "auditlens-backend",
		AuditHandler: auditHandler,
		SSEHandler:   sseHandler,
	})

	log.Info("Server listening", "port", cfg.Port)
	go func() {
		if err := router.Run(":" + cfg.Port); err != nil {
			log.Error("HTTP server stopped", "error", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("Shutting down...")
	if neo4jClient != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = neo4jClient.Close(shutdownCtx)
		cancel()
	}
	if temporalClient != nil {
		temporalClient.Close()
	}
	_ = sseBus.Close()
	if shutdownTracing != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = shutdownTracing(shutdownCtx)
		cancel()
	}
}
