package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/symptom-assessment-engine/cmd/mainconfig"
	"github.com/wolfman30/symptom-assessment-engine/internal/api/router"
	"github.com/wolfman30/symptom-assessment-engine/internal/app/bootstrap"
	"github.com/wolfman30/symptom-assessment-engine/internal/channels/chat"
	"github.com/wolfman30/symptom-assessment-engine/internal/channels/voice"
	appconfig "github.com/wolfman30/symptom-assessment-engine/internal/config"
	"github.com/wolfman30/symptom-assessment-engine/internal/http/handlers"
	replayworker "github.com/wolfman30/symptom-assessment-engine/internal/worker/replay"
	"github.com/wolfman30/symptom-assessment-engine/pkg/logging"
)

func main() {
	// A local .env is optional; deployed environments inject variables directly.
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting symptom assessment API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry, metricsHandler := setupMetrics()
	clients := bootstrap.Clients{Registry: registry}
	clients.Redis = bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	clients.Pool, clients.DB = bootstrap.ConnectPostgres(ctx, cfg.DatabaseURL, logger)
	if needsAWS(cfg) {
		awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			logger.Error("failed to load AWS config", "error", err)
			os.Exit(1)
		}
		clients.AWS = &awsCfg
	}

	rt, err := bootstrap.BuildRuntime(ctx, cfg, clients, logger)
	if err != nil {
		logger.Error("failed to build dialogue runtime", "error", err)
		os.Exit(1)
	}

	workers := bootstrap.BuildWorkers(cfg, rt, logger)
	workersDone := startInlineWorkers(ctx, cfg, rt, workers, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      buildRouter(cfg, rt, workers.Replayer, clients, metricsHandler, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	cancel()
	if workersDone != nil {
		select {
		case <-workersDone:
		case <-shutdownCtx.Done():
			logger.Error("inline workers shutdown timed out")
		}
	}
	if clients.Pool != nil {
		clients.Pool.Close()
	}
	if clients.Redis != nil {
		_ = clients.Redis.Close()
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

func setupMetrics() (*prometheus.Registry, http.Handler) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// needsAWS reports whether any configured component talks to AWS.
func needsAWS(cfg *appconfig.Config) bool {
	return (!cfg.UseMemoryQueue && strings.TrimSpace(cfg.CompletionQueueURL) != "") ||
		cfg.ReplayTable != "" ||
		cfg.ReportArchiveBucket != "" ||
		cfg.EmailProvider == "ses"
}

// startInlineWorkers runs the background loops in this process. An in-memory
// completion queue forces them on since no other process can drain it.
func startInlineWorkers(ctx context.Context, cfg *appconfig.Config, rt *bootstrap.Runtime, workers *bootstrap.Workers, logger *logging.Logger) <-chan struct{} {
	if !cfg.RunInlineWorkers && rt.MemoryQueue == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := workers.Run(ctx); err != nil {
			logger.Error("inline workers stopped", "error", err)
		}
	}()
	return done
}

func buildRouter(cfg *appconfig.Config, rt *bootstrap.Runtime, replayer *replayworker.Replayer, clients bootstrap.Clients, metricsHandler http.Handler, logger *logging.Logger) http.Handler {
	admin := handlers.NewAdminHandler(handlers.AdminConfig{
		Templates:  rt.Templates,
		Invalidate: rt.TemplateCache.Invalidate,
		Sessions:   rt.Engine,
		History:    rt.Log,
		Reports:    rt.Reports,
		Replays:    rt.Replays,
		Replayer:   replayer,
		Audit:      rt.Audit,
		Logger:     logger,
	})

	checks := map[string]router.HealthCheck{}
	if clients.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return clients.Redis.Ping(ctx).Err() }
	}
	if clients.Pool != nil {
		checks["postgres"] = clients.Pool.Ping
	}

	return router.New(&router.Config{
		Logger: logger,
		Chat:   chat.NewHandler(rt.Engine, rt.Log, logger),
		Voice: voice.NewHandler(rt.Engine, voice.Config{
			PublicBaseURL: cfg.PublicBaseURL,
			AuthToken:     cfg.TwilioAuthToken,
		}, logger),
		Admin:              admin,
		AdminAuthSecret:    cfg.AdminJWTSecret,
		MetricsHandler:     metricsHandler,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		ChatRateLimit:      cfg.ChatRateLimit,
		ChatRateBurst:      cfg.ChatRateBurst,
		HealthChecks:       checks,
	})
}
