// Package main provides the entry point for the betting backend server:
// the strategy workflow orchestrator, validation engine, A/B experiment
// engine and model registry behind an HTTP/WebSocket API.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/diamond-analytics/betting-backend/internal/abtest"
	"github.com/diamond-analytics/betting-backend/internal/api"
	"github.com/diamond-analytics/betting-backend/internal/backtest"
	"github.com/diamond-analytics/betting-backend/internal/config"
	"github.com/diamond-analytics/betting-backend/internal/metrics"
	"github.com/diamond-analytics/betting-backend/internal/mltrain"
	"github.com/diamond-analytics/betting-backend/internal/orchestrator"
	"github.com/diamond-analytics/betting-backend/internal/registry"
	"github.com/diamond-analytics/betting-backend/internal/scheduler"
	"github.com/diamond-analytics/betting-backend/internal/storage"
	"github.com/diamond-analytics/betting-backend/internal/storage/memory"
	"github.com/diamond-analytics/betting-backend/internal/storage/migrations"
	"github.com/diamond-analytics/betting-backend/internal/storage/postgres"
	"github.com/diamond-analytics/betting-backend/internal/validation"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (YAML)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("Starting betting backend",
		zap.String("environment", cfg.Environment),
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.String("database", cfg.Database.Driver),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Persistence
	var (
		workflowStore storage.WorkflowStore
		historyStore  storage.ModelHistoryStore
		expStore      abtest.Store
		pool          *postgres.Pool
	)
	switch cfg.Database.Driver {
	case "postgres":
		pool, err = postgres.NewPool(ctx, cfg.Database.DSN)
		if err != nil {
			logger.Fatal("Failed to connect to postgres", zap.Error(err))
		}
		defer pool.Close()
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			logger.Fatal("Failed to run migrations", zap.Error(err))
		}
		workflowStore = postgres.NewWorkflowStore(pool)
		historyStore = postgres.NewModelHistoryStore(pool)
		expStore = postgres.NewExperimentStore(pool)
	default:
		workflowStore = memory.NewWorkflowStore()
		historyStore = memory.NewModelHistoryStore()
		expStore = memory.NewExperimentStore()
	}

	// Metrics
	promReg := prometheus.NewRegistry()
	coll := metrics.NewCollector(promReg)

	// WebSocket hub doubles as the alert sink for every engine.
	hub := api.NewHub(logger)
	go hub.Run()

	// Backtest infrastructure
	factory := backtest.NewFactory(logger)
	backtest.RegisterBuiltin(factory)
	runner := backtest.NewRunner(logger)
	trainer := mltrain.NewStubTrainer(logger)

	// Engines
	validator := validation.NewEngine(logger, factory, runner, trainer)
	abEngine := abtest.NewEngine(logger, expStore, hub, coll, rand.NewSource(time.Now().UnixNano()))
	reg := registry.NewRegistry(logger, registry.NewMemoryBackend(), validator, abEngine, historyStore, coll)

	orchCfg := orchestrator.DefaultConfig()
	orchCfg.AutoAdvanceDelay = cfg.Orchestrator.AutoAdvanceDelay
	orchCfg.InterStageDelay = cfg.Orchestrator.InterStageDelay
	orchCfg.ValidationWindowDays = cfg.Orchestrator.ValidationWindowDays
	orchCfg.BacktestWindowDays = cfg.Orchestrator.BacktestWindowDays
	orchCfg.LeadDays = cfg.Orchestrator.LeadDays
	orchCfg.PromotionWindow = time.Duration(cfg.Orchestrator.PromotionWindowDays) * 24 * time.Hour

	orch := orchestrator.New(
		logger,
		orchCfg,
		validator,
		abEngine,
		reg,
		factory,
		runner,
		trainer,
		workflowStore,
		hub,
		coll,
	)

	// Scheduled production monitoring
	sched := scheduler.New(logger)
	if cfg.Monitor.Enabled {
		job := registry.NewProductionMonitorJob(reg, hub, logger, cfg.Monitor.Schedule)
		if err := sched.AddJob(job); err != nil {
			logger.Fatal("Failed to schedule production monitor", zap.Error(err))
		}
	}
	sched.Start()

	// API server
	apiCfg := api.DefaultConfig()
	apiCfg.Host = cfg.Server.Host
	apiCfg.Port = cfg.Server.Port
	server := api.NewServer(logger, apiCfg, hub, orch, abEngine, reg, validator, promReg)

	go func() {
		if err := server.Start(); err != nil {
			logger.Error("Server error", zap.Error(err))
		}
	}()

	logger.Info("Server started successfully",
		zap.String("ws", fmt.Sprintf("ws://%s:%d/ws", cfg.Server.Host, cfg.Server.Port)),
		zap.String("http", fmt.Sprintf("http://%s:%d/api/v1", cfg.Server.Host, cfg.Server.Port)),
		zap.Strings("processors", factory.Types()),
	)

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutdown signal received")

	cancel()
	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("Error during server shutdown", zap.Error(err))
	}

	logger.Info("Server stopped")
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := config.Build()
	if err != nil {
		panic(err)
	}

	return logger
}
