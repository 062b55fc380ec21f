package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/wolfman30/symptom-assessment-engine/internal/app/bootstrap"
	"github.com/wolfman30/symptom-assessment-engine/internal/catalog"
	appconfig "github.com/wolfman30/symptom-assessment-engine/internal/config"
	"github.com/wolfman30/symptom-assessment-engine/internal/dialogue"
	"github.com/wolfman30/symptom-assessment-engine/pkg/logging"
)

func memoryConfig() *appconfig.Config {
	return &appconfig.Config{
		Port:             "0",
		UseMemoryStores:  true,
		UseMemoryQueue:   true,
		SessionTTL:       time.Hour,
		SessionLockTTL:   time.Second,
		TurnResultTTL:    time.Hour,
		TranscriptLimit:  50,
		TemplateCacheTTL: time.Minute,
		ClinicName:       "測試醫院",
		AssistantName:    "小安",
		ReplayInterval:   10 * time.Millisecond,
		OutboxInterval:   10 * time.Millisecond,
		EmailProvider:    "stub",
		AdminJWTSecret:   "secret",
	}
}

func TestSetupMetricsExposesDialogueCounters(t *testing.T) {
	reg, handler := setupMetrics()
	if reg == nil || handler == nil {
		t.Fatalf("expected registry and handler")
	}

	rt, err := bootstrap.BuildRuntime(context.Background(), memoryConfig(), bootstrap.Clients{Registry: reg}, logging.New("error"))
	if err != nil {
		t.Fatalf("build runtime: %v", err)
	}
	if _, err := rt.Engine.StartSession(context.Background(), dialogue.StartRequest{PatientID: "P001", Channel: catalog.ChannelChat}); err != nil {
		t.Fatalf("start session: %v", err)
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "symptom_dialogue_sessions_started_total") {
		t.Fatalf("expected session counter to be exported")
	}
	if !strings.Contains(body, "go_goroutines") {
		t.Fatalf("expected runtime collectors to be registered")
	}
}

func TestNeedsAWS(t *testing.T) {
	cfg := memoryConfig()
	if needsAWS(cfg) {
		t.Fatalf("memory config should not need AWS")
	}

	cfg.CompletionQueueURL = "http://localhost:4566/queue/completions"
	if needsAWS(cfg) {
		t.Fatalf("memory queue overrides the queue url")
	}
	cfg.UseMemoryQueue = false
	if !needsAWS(cfg) {
		t.Fatalf("sqs queue needs AWS")
	}

	for _, mutate := range []func(*appconfig.Config){
		func(c *appconfig.Config) { c.ReplayTable = "replays" },
		func(c *appconfig.Config) { c.ReportArchiveBucket = "reports" },
		func(c *appconfig.Config) { c.EmailProvider = "ses" },
	} {
		c := memoryConfig()
		mutate(c)
		if !needsAWS(c) {
			t.Fatalf("expected AWS for %+v", c)
		}
	}
}

func TestStartInlineWorkersWithMemoryQueue(t *testing.T) {
	cfg := memoryConfig()
	logger := logging.New("error")
	rt, err := bootstrap.BuildRuntime(context.Background(), cfg, bootstrap.Clients{}, logger)
	if err != nil {
		t.Fatalf("build runtime: %v", err)
	}
	workers := bootstrap.BuildWorkers(cfg, rt, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := startInlineWorkers(ctx, cfg, rt, workers, logger)
	if done == nil {
		t.Fatalf("memory queue should force inline workers")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("inline workers did not stop")
	}
}

func TestBuildRouterServesChatAndHealth(t *testing.T) {
	cfg := memoryConfig()
	logger := logging.New("error")
	rt, err := bootstrap.BuildRuntime(context.Background(), cfg, bootstrap.Clients{}, logger)
	if err != nil {
		t.Fatalf("build runtime: %v", err)
	}
	workers := bootstrap.BuildWorkers(cfg, rt, logger)
	_, metricsHandler := setupMetrics()
	h := buildRouter(cfg, rt, workers.Replayer, bootstrap.Clients{}, metricsHandler, logger)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("health: expected 200, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/sessions", strings.NewReader(`{"patient_id":"P001"}`))
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("chat start: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin/templates", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("admin without token: expected 401, got %d", rr.Code)
	}
}
