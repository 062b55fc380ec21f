package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	appconfig "github.com/wolfman30/symptom-assessment-engine/internal/config"
)

func TestCheckConfig(t *testing.T) {
	assert.ErrorContains(t, checkConfig(&appconfig.Config{UseMemoryQueue: true, CompletionQueueURL: "q"}), "USE_MEMORY_QUEUE")
	assert.ErrorContains(t, checkConfig(&appconfig.Config{CompletionQueueURL: "  "}), "COMPLETION_QUEUE_URL")
	assert.ErrorContains(t, checkConfig(&appconfig.Config{CompletionQueueURL: "q"}), "DATABASE_URL")
	assert.NoError(t, checkConfig(&appconfig.Config{
		CompletionQueueURL: "http://localhost:4566/000000000000/completions",
		DatabaseURL:        "postgres://localhost:5432/symptoms",
	}))
}
