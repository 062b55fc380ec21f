package convlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	transcriptKeyPrefix  = "dialogue:transcript:"
	defaultTranscriptTTL = 24 * time.Hour
	defaultMaxMessages   = 250
)

// RedisTranscript keeps a capped, expiring copy of each session's messages for
// fast history reads by the chat surface.
type RedisTranscript struct {
	redis       *redis.Client
	tracer      trace.Tracer
	ttl         time.Duration
	maxMessages int64
}

// NewRedisTranscript returns nil when client is nil.
func NewRedisTranscript(client *redis.Client, ttl time.Duration, maxMessages int) *RedisTranscript {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = defaultTranscriptTTL
	}
	if maxMessages <= 0 {
		maxMessages = defaultMaxMessages
	}
	return &RedisTranscript{
		redis:       client,
		tracer:      otel.Tracer("symptom.internal.convlog.transcript"),
		ttl:         ttl,
		maxMessages: int64(maxMessages),
	}
}

func transcriptKey(sessionID string) string {
	return transcriptKeyPrefix + sessionID
}

// BeginSession is a no-op; the list is created by the first Append.
func (t *RedisTranscript) BeginSession(ctx context.Context, rec SessionRecord) error { return nil }

func (t *RedisTranscript) Append(ctx context.Context, msg Message) error {
	if t == nil || t.redis == nil {
		return nil
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("convlog: marshal transcript message: %w", err)
	}

	ctx, span := t.tracer.Start(ctx, "convlog.transcript.append")
	defer span.End()

	key := transcriptKey(msg.SessionID)
	pipe := t.redis.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.Expire(ctx, key, t.ttl)
	pipe.LTrim(ctx, key, -t.maxMessages, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("convlog: append transcript message: %w", err)
	}
	return nil
}

// EndSession keeps the transcript readable until its TTL expires.
func (t *RedisTranscript) EndSession(ctx context.Context, sessionID, completionType string, at time.Time) error {
	return nil
}

func (t *RedisTranscript) Messages(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	if t == nil || t.redis == nil {
		return nil, nil
	}
	if sessionID == "" {
		return nil, errors.New("convlog: transcript session id required")
	}

	ctx, span := t.tracer.Start(ctx, "convlog.transcript.list")
	defer span.End()

	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}
	raw, err := t.redis.LRange(ctx, transcriptKey(sessionID), start, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		span.RecordError(err)
		return nil, fmt.Errorf("convlog: list transcript: %w", err)
	}

	out := make([]Message, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, item := range raw {
		var msg Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			span.RecordError(err)
			continue
		}
		// Redelivered appends land twice in the list; readers see one copy.
		if _, dup := seen[msg.ID]; dup {
			continue
		}
		seen[msg.ID] = struct{}{}
		out = append(out, msg)
	}
	return out, nil
}

var _ Log = (*RedisTranscript)(nil)
