package bootstrap

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/symptom-assessment-engine/internal/assessment"
	"github.com/wolfman30/symptom-assessment-engine/internal/catalog"
	appconfig "github.com/wolfman30/symptom-assessment-engine/internal/config"
	"github.com/wolfman30/symptom-assessment-engine/internal/dialogue"
	"github.com/wolfman30/symptom-assessment-engine/internal/notify"
	"github.com/wolfman30/symptom-assessment-engine/pkg/logging"
)

func testConfig() *appconfig.Config {
	return &appconfig.Config{
		UseMemoryStores:  true,
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
	}
}

func TestBuildRuntimeInMemory(t *testing.T) {
	ctx := context.Background()
	rt, err := BuildRuntime(ctx, testConfig(), Clients{Registry: prometheus.NewRegistry()}, logging.New("error"))
	require.NoError(t, err)

	require.NotNil(t, rt.MemoryQueue, "no queue url keeps events in process")
	assert.Nil(t, rt.Outbox)
	assert.NotNil(t, rt.Metrics)

	list, err := rt.Templates.List(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, list)

	res, err := rt.Engine.StartSession(ctx, dialogue.StartRequest{PatientID: "P001", Channel: catalog.ChannelChat})
	require.NoError(t, err)
	assert.Contains(t, res.Message, "小安")

	msgs, err := rt.Log.Messages(ctx, res.SessionID, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)

	_, err = rt.Reports.Get(ctx, "RPT_missing")
	assert.ErrorIs(t, err, assessment.ErrReportNotFound)
}

func TestBuildRuntimeWithRedis(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.UseMemoryStores = false
	cfg.RedisAddr = mr.Addr()

	client := BuildRedisClient(ctx, cfg, logging.New("error"), true)
	require.NotNil(t, client)
	t.Cleanup(func() { _ = client.Close() })

	rt, err := BuildRuntime(ctx, cfg, Clients{Redis: client}, logging.New("error"))
	require.NoError(t, err)

	res, err := rt.Engine.StartSession(ctx, dialogue.StartRequest{PatientID: "P002", Channel: catalog.ChannelVoice})
	require.NoError(t, err)

	sess, err := rt.Engine.Session(ctx, res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "P002", sess.PatientID)
	assert.NotEmpty(t, mr.Keys(), "session state lives in redis")
}

func TestBuildRedisClientDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.RedisAddr = "127.0.0.1:1"
	assert.Nil(t, BuildRedisClient(context.Background(), cfg, nil, true), "memory stores skip redis")

	cfg.UseMemoryStores = false
	assert.Nil(t, BuildRedisClient(context.Background(), cfg, logging.New("error"), true), "unreachable redis is dropped")
	assert.Nil(t, BuildRedisClient(context.Background(), nil, nil, false))
}

func TestConnectPostgresEmptyURL(t *testing.T) {
	pool, db := ConnectPostgres(context.Background(), "", nil)
	assert.Nil(t, pool)
	assert.Nil(t, db)

	pool, db = ConnectPostgres(context.Background(), "postgres://%zz", logging.New("error"))
	assert.Nil(t, pool)
	assert.Nil(t, db)
}

func TestBuildEmailSenderFallsBackToStub(t *testing.T) {
	cfg := testConfig()
	logger := logging.New("error")

	cfg.EmailProvider = "sendgrid"
	assert.IsType(t, &notify.StubEmailSender{}, BuildEmailSender(cfg, nil, logger))

	cfg.SendGridAPIKey = "SG.test"
	assert.IsType(t, &notify.SendGridSender{}, BuildEmailSender(cfg, nil, logger))

	cfg.EmailProvider = "ses"
	assert.IsType(t, &notify.StubEmailSender{}, BuildEmailSender(cfg, nil, logger))
}

func TestWorkersStopOnCancel(t *testing.T) {
	cfg := testConfig()
	rt, err := BuildRuntime(context.Background(), cfg, Clients{}, logging.New("error"))
	require.NoError(t, err)
	w := BuildWorkers(cfg, rt, logging.New("error"))
	assert.Nil(t, w.Deliverer)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("workers did not stop")
	}
}
