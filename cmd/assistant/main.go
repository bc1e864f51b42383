package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/xiaot623/gogo/assistant/internal/adapter/assistants"
	"github.com/xiaot623/gogo/assistant/internal/config"
	"github.com/xiaot623/gogo/assistant/internal/logging"
	"github.com/xiaot623/gogo/assistant/internal/observability"
	"github.com/xiaot623/gogo/assistant/internal/policy"
	store "github.com/xiaot623/gogo/assistant/internal/repository"
	"github.com/xiaot623/gogo/assistant/internal/service"
	"github.com/xiaot623/gogo/assistant/internal/tools"
	handler "github.com/xiaot623/gogo/assistant/internal/transport/http"
	"github.com/xiaot623/gogo/assistant/internal/transport/ws"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	logger.Info("starting assistant engine",
		zap.Int("http_port", cfg.HTTPPort),
		zap.String("assistant_id", cfg.Assistant.AssistantID),
		zap.String("upstream", cfg.OpenAIBaseURL),
		zap.Bool("journal", cfg.DatabaseURL != ""),
	)

	ctx := context.Background()

	// Tracing
	shutdownTracer, err := observability.InitTracer(ctx, observability.TracerConfig{
		Endpoint:     cfg.OTLPEndpoint,
		SamplingRate: cfg.SamplingRate,
		ServiceName:  "assistant-engine",
		Environment:  cfg.Environment,
	})
	if err != nil {
		logger.Fatal("failed to initialize tracer", zap.Error(err))
	}
	metrics := observability.NewMetrics()

	// Function registry, narrowed to what the assistant declares
	registry := tools.NewRegistry()
	if err := tools.RegisterBuiltins(registry); err != nil {
		logger.Fatal("failed to register builtin functions", zap.Error(err))
	}
	registry, err = registry.Subset(cfg.Assistant.FunctionNames)
	if err != nil {
		logger.Fatal("assistant config names an unknown function", zap.Error(err))
	}
	logger.Info("functions enabled", zap.Strings("functions", registry.Names()))

	// Initialize policy engine
	policyEngine, err := policy.NewEngineFromFile(ctx, cfg.PolicyFile, cfg.BlockedTools)
	if err != nil {
		logger.Fatal("failed to initialize policy engine", zap.Error(err))
	}

	executor := tools.NewExecutor(registry,
		tools.WithPolicy(policyEngine),
		tools.WithMetrics(metrics),
		tools.WithLogger(logger),
		tools.WithTimeout(cfg.ToolTimeout),
	)

	upstream := assistants.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.HTTPTimeout, logger)

	opts := []service.Option{service.WithMetrics(metrics), service.WithLogger(logger)}
	if cfg.DatabaseURL != "" {
		db, err := store.NewSQLiteStore(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("failed to initialize store", zap.Error(err))
		}
		defer db.Close()
		opts = append(opts, service.WithStore(db))
	}

	// Initialize service
	engine := service.New(upstream, executor, service.ConfigFrom(cfg), opts...)

	// Transports
	hub := ws.NewHub(metrics, logger)
	wsServer := ws.NewServer(ws.Config{
		PingInterval:   cfg.PingInterval,
		WriteTimeout:   cfg.WriteTimeout,
		ReadTimeout:    cfg.ReadTimeout,
		MaxMessageSize: cfg.MaxMessageSize,
	}, hub, engine, logger)

	h := handler.NewHandler(engine, cfg.Assistant.InitialMessage, handler.SSEConfig{
		Heartbeat: cfg.SSEHeartbeat,
		Retry:     cfg.SSERetry,
	}, metrics, logger)
	server := handler.NewServer(h, wsServer.HandleWebSocket, metrics)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down assistant engine", zap.Int("open_websockets", hub.Count()))

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("failed to shutdown server gracefully", zap.Error(err))
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		logger.Warn("failed to flush traces", zap.Error(err))
	}

	logger.Info("assistant engine stopped")
}
