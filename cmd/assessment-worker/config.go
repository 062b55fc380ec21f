package main

import (
	"errors"
	"strings"

	appconfig "github.com/wolfman30/symptom-assessment-engine/internal/config"
)

// checkConfig rejects setups where a standalone worker would sit on an empty
// in-process queue. Those deployments run the workers inside the API.
func checkConfig(cfg *appconfig.Config) error {
	if cfg.UseMemoryQueue {
		return errors.New("USE_MEMORY_QUEUE is set; run workers inline in the API instead")
	}
	if strings.TrimSpace(cfg.CompletionQueueURL) == "" {
		return errors.New("COMPLETION_QUEUE_URL is required")
	}
	if !cfg.UsesPostgres() {
		return errors.New("DATABASE_URL is required; replays write to the report store")
	}
	return nil
}
