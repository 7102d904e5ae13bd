// Command analysis starts the natural-language log analysis HTTP server.
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

	"github.com/loglens/loglens/internal/adapter/ai"
	httpserver "github.com/loglens/loglens/internal/adapter/httpserver"
	"github.com/loglens/loglens/internal/adapter/observability"
	"github.com/loglens/loglens/internal/adapter/repo/postgres"
	"github.com/loglens/loglens/internal/agent"
	"github.com/loglens/loglens/internal/app"
	"github.com/loglens/loglens/internal/config"
	"github.com/loglens/loglens/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL(), postgres.PoolOptions{
		MinConns: int32(cfg.DBPoolMinSize),
		MaxConns: int32(cfg.DBPoolMaxSize),
	})
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	llm, err := ai.New(cfg)
	if err != nil {
		slog.Error("llm client init failed", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("llm client initialized",
		slog.String("provider", llm.Provider()),
		slog.String("model", llm.Model()))

	logRepo := postgres.NewLogRepo(pool)
	schemaRepo := postgres.NewSchemaRepo(pool)
	queryRepo := postgres.NewQueryRepo(pool)

	cache := service.NewResultCache(cfg.CacheTTL(), cfg.CacheMaxSize)
	conv := service.NewConversationService()
	hub := service.NewHub()
	engine := agent.NewEngine(schemaRepo, queryRepo, logRepo, llm, conv, cfg.LLMMaxTokens)
	stream := service.NewStreamService(engine, cache, conv)
	alerts := service.NewAlertingService(queryRepo, hub)

	// periodic anomaly checks, supervised across failures
	go app.RunPeriodic(ctx, "anomaly-checks", cfg.AlertCheckInterval, func(ctx context.Context) error {
		_, err := alerts.RunChecks(ctx)
		return err
	})

	dbCheck := func(ctx context.Context) error { return pool.Ping(ctx) }
	srv := httpserver.NewAnalysisServer(cfg, stream, alerts, cache, conv, hub, logRepo, dbCheck)
	handler := app.BuildAnalysisRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("analysis server starting", slog.String("addr", cfg.Addr()))
		errCh <- srvHTTP.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}
