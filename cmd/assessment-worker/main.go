package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wolfman30/symptom-assessment-engine/cmd/mainconfig"
	"github.com/wolfman30/symptom-assessment-engine/internal/app/bootstrap"
	appconfig "github.com/wolfman30/symptom-assessment-engine/internal/config"
	"github.com/wolfman30/symptom-assessment-engine/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	if err := checkConfig(cfg); err != nil {
		logger.Error("assessment worker misconfigured", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	awsConfig, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}
	clients := bootstrap.Clients{AWS: &awsConfig, Registry: prometheus.NewRegistry()}
	clients.Redis = bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	clients.Pool, clients.DB = bootstrap.ConnectPostgres(ctx, cfg.DatabaseURL, logger)

	rt, err := bootstrap.BuildRuntime(ctx, cfg, clients, logger)
	if err != nil {
		logger.Error("failed to build dialogue runtime", "error", err)
		os.Exit(1)
	}
	workers := bootstrap.BuildWorkers(cfg, rt, logger)

	waitCh := make(chan struct{})
	go func() {
		defer close(waitCh)
		if err := workers.Run(ctx); err != nil {
			logger.Error("assessment workers failed", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-stop:
	case <-waitCh:
	}

	logger.Info("shutting down assessment worker...")
	cancel()

	doneCtx, doneCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer doneCancel()

	select {
	case <-waitCh:
		logger.Info("assessment worker stopped")
	case <-doneCtx.Done():
		logger.Error("assessment worker shutdown timed out", "error", doneCtx.Err())
	}
	if clients.Pool != nil {
		clients.Pool.Close()
	}
	if clients.Redis != nil {
		_ = clients.Redis.Close()
	}
}
