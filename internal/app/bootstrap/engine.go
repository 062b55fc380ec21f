package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/symptom-assessment-engine/internal/alert"
	"github.com/wolfman30/symptom-assessment-engine/internal/assessment"
	"github.com/wolfman30/symptom-assessment-engine/internal/catalog"
	"github.com/wolfman30/symptom-assessment-engine/internal/compliance"
	appconfig "github.com/wolfman30/symptom-assessment-engine/internal/config"
	"github.com/wolfman30/symptom-assessment-engine/internal/convlog"
	"github.com/wolfman30/symptom-assessment-engine/internal/dialogue"
	"github.com/wolfman30/symptom-assessment-engine/internal/events"
	"github.com/wolfman30/symptom-assessment-engine/internal/http/handlers"
	"github.com/wolfman30/symptom-assessment-engine/internal/notify"
	"github.com/wolfman30/symptom-assessment-engine/internal/observability/metrics"
	"github.com/wolfman30/symptom-assessment-engine/internal/retry"
	"github.com/wolfman30/symptom-assessment-engine/internal/session"
	"github.com/wolfman30/symptom-assessment-engine/internal/templates"
	"github.com/wolfman30/symptom-assessment-engine/pkg/logging"
)

// Clients are the external connections a process opened. Any of them may be
// nil, in which case the in-process fallback for that concern is used.
type Clients struct {
	Redis    *redis.Client
	Pool     *pgxpool.Pool
	DB       *sql.DB
	AWS      *aws.Config
	Registry prometheus.Registerer
}

// Runtime is the wired dialogue engine plus the collaborators the HTTP
// surface and the workers share with it.
type Runtime struct {
	Engine        *dialogue.Engine
	Catalog       *catalog.Catalog
	Templates     templates.Store
	TemplateCache *templates.CachingRepository
	Log           convlog.Log
	Sink          assessment.Sink
	Reports       handlers.ReportReader
	Replays       assessment.ReplayStore
	Queue         events.Queue
	Outbox        *events.OutboxStore
	Notifier      alert.Notifier
	Metrics       *metrics.DialogueMetrics
	Audit         compliance.Trail

	// MemoryQueue is set when completion events stay in process; somebody in
	// this process must then consume them.
	MemoryQueue *events.MemoryQueue
}

// BuildRuntime wires the engine from cfg and whatever clients are available.
func BuildRuntime(ctx context.Context, cfg *appconfig.Config, clients Clients, logger *logging.Logger) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	rt := &Runtime{}

	cat, err := catalog.LoadFile(cfg.CatalogPath)
	if err != nil {
		return nil, err
	}
	rt.Catalog = cat

	store, err := buildTemplateStore(ctx, cfg, clients.DB, logger)
	if err != nil {
		return nil, err
	}
	rt.Templates = store
	rt.TemplateCache = templates.NewCachingRepository(store, cfg.TemplateCacheTTL)

	chooser := templates.FirstChoice
	if cfg.TemplateVariations {
		chooser = templates.RandomChooser
	}
	machine := dialogue.NewMachine(cat, templates.NewMatcher(chooser), retry.New(retry.DefaultMaxRetries), dialogue.Script{
		ClinicName:    cfg.ClinicName,
		AssistantName: cfg.AssistantName,
	})

	if clients.Registry != nil {
		rt.Metrics = metrics.NewDialogueMetrics(clients.Registry)
	}

	var (
		sessions dialogue.SessionStore
		locker   dialogue.Locker
		results  dialogue.ResultCache
	)
	if clients.Redis != nil {
		sessions = session.NewRedisStore(clients.Redis, cfg.SessionTTL)
		locker = session.NewRedisLocker(clients.Redis)
		results = session.NewRedisResultCache(clients.Redis, cfg.TurnResultTTL)
	} else {
		if !cfg.UseMemoryStores {
			logger.Warn("redis unavailable; sessions are kept in process memory")
		}
		sessions = session.NewMemoryStore()
		locker = session.NewMemoryLocker()
		results = session.NewMemoryResultCache()
	}

	rt.Log = buildConversationLog(cfg, clients)
	if clients.DB != nil {
		rt.Audit = compliance.NewSQLTrail(clients.DB)
	} else {
		rt.Audit = compliance.NewMemoryTrail()
	}

	primary, reports := buildPrimarySink(clients.Pool)
	rt.Reports = reports
	var archive *assessment.Archive
	if clients.AWS != nil && cfg.ReportArchiveBucket != "" {
		archive = assessment.NewArchive(s3.NewFromConfig(*clients.AWS, func(o *s3.Options) {
			o.UsePathStyle = cfg.AWSEndpointOverride != ""
		}), cfg.ReportArchiveBucket, logger)
	}
	if archive.Enabled() {
		rt.Sink = assessment.NewFanout(primary, logger, archive)
	} else {
		rt.Sink = assessment.NewFanout(primary, logger)
	}

	if clients.AWS != nil && cfg.ReplayTable != "" {
		rt.Replays = assessment.NewDynamoReplayStore(dynamodb.NewFromConfig(*clients.AWS), cfg.ReplayTable, logger)
	} else {
		rt.Replays = assessment.NewMemoryReplayStore()
	}

	rt.Queue, rt.MemoryQueue = buildQueue(cfg, clients.AWS)
	var publisher events.Publisher
	if clients.Pool != nil {
		rt.Outbox = events.NewOutboxStore(clients.Pool)
		publisher = events.NewOutboxPublisher(rt.Outbox)
	} else {
		publisher = events.NewQueuePublisher(rt.Queue, logger)
	}

	rt.Notifier = notify.NewCareTeamNotifier(BuildEmailSender(cfg, clients.AWS, logger), cfg.CareTeamEmails, logger)

	rt.Engine = dialogue.NewEngine(dialogue.EngineDeps{
		Machine:   machine,
		Store:     sessions,
		Locker:    locker,
		Results:   results,
		Log:       rt.Log,
		Templates: rt.TemplateCache,
		Sink:      rt.Sink,
		Replay:    rt.Replays,
		Publisher: publisher,
		Notifier:  rt.Notifier,
		Metrics:   rt.Metrics,
		Logger:    logger,
	}, dialogue.WithLockTTL(cfg.SessionLockTTL))

	logger.Info("dialogue engine ready",
		"chat_symptoms", cat.Size(catalog.ChannelChat),
		"voice_symptoms", cat.Size(catalog.ChannelVoice),
		"redis", clients.Redis != nil,
		"postgres", clients.Pool != nil,
		"archive", archive.Enabled(),
		"memory_queue", rt.MemoryQueue != nil,
	)
	return rt, nil
}

func buildTemplateStore(ctx context.Context, cfg *appconfig.Config, db *sql.DB, logger *logging.Logger) (templates.Store, error) {
	seed, err := templates.LoadFile(cfg.TemplatesPath)
	if err != nil {
		return nil, err
	}
	if db == nil {
		return templates.NewMemoryRepository(seed), nil
	}
	repo := templates.NewPostgresRepository(db)
	inserted, err := repo.Seed(ctx, seed)
	if err != nil {
		// Authored templates in the table still work; only new seeds are missing.
		logger.Warn("template seed failed", "error", err, "inserted", inserted)
	} else if inserted > 0 {
		logger.Info("seeded response templates", "inserted", inserted)
	}
	return repo, nil
}

func buildConversationLog(cfg *appconfig.Config, clients Clients) convlog.Log {
	var durable *convlog.PostgresLog
	if clients.DB != nil {
		durable = convlog.NewPostgresLog(clients.DB)
	}
	var transcript *convlog.RedisTranscript
	if clients.Redis != nil {
		transcript = convlog.NewRedisTranscript(clients.Redis, cfg.SessionTTL, cfg.TranscriptLimit)
	}
	if durable == nil && transcript == nil {
		return convlog.NewMemoryLog()
	}
	return convlog.NewMulti(durable, transcript)
}

type memoryReports struct{ sink *assessment.MemorySink }

func (m memoryReports) Get(_ context.Context, reportID string) (*assessment.SymptomAssessment, error) {
	if rpt := m.sink.Get(reportID); rpt != nil {
		return rpt, nil
	}
	return nil, assessment.ErrReportNotFound
}

func buildPrimarySink(pool *pgxpool.Pool) (assessment.Sink, handlers.ReportReader) {
	if pool == nil {
		mem := assessment.NewMemorySink()
		return mem, memoryReports{sink: mem}
	}
	pg := assessment.NewPostgresSink(pool)
	return pg, pg
}

func buildQueue(cfg *appconfig.Config, awsCfg *aws.Config) (events.Queue, *events.MemoryQueue) {
	if cfg.UseMemoryQueue || awsCfg == nil || strings.TrimSpace(cfg.CompletionQueueURL) == "" {
		mem := events.NewMemoryQueue(256)
		return mem, mem
	}
	return events.NewSQSQueue(sqs.NewFromConfig(*awsCfg), cfg.CompletionQueueURL), nil
}

// BuildEmailSender picks the provider named by EMAIL_PROVIDER and falls back
// to the logging stub when its credentials are missing.
func BuildEmailSender(cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) notify.EmailSender {
	switch cfg.EmailProvider {
	case "sendgrid":
		if sender := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.EmailFrom,
			FromName:  cfg.EmailFromName,
		}, logger); sender != nil {
			return sender
		}
		logger.Warn("sendgrid selected without SENDGRID_API_KEY; using stub email sender")
	case "ses":
		if awsCfg != nil {
			return notify.NewSESSender(sesv2.NewFromConfig(*awsCfg), notify.SESConfig{
				FromEmail: cfg.EmailFrom,
				FromName:  cfg.EmailFromName,
			}, logger)
		}
		logger.Warn("ses selected without AWS config; using stub email sender")
	}
	return notify.NewStubEmailSender(logger)
}
