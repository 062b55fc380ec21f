// Package session keeps live dialogue sessions, per-session turn locks and
// the idempotency cache of turn results.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/symptom-assessment-engine/internal/dialogue"
)

const (
	sessionKeyPrefix  = "dialogue:session:"
	DefaultSessionTTL = 24 * time.Hour
)

func sessionKey(id string) string { return sessionKeyPrefix + id }

// RedisStore persists sessions as JSON with a sliding TTL.
type RedisStore struct {
	redis  *redis.Client
	tracer trace.Tracer
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if client == nil {
		panic("session: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &RedisStore{
		redis:  client,
		tracer: otel.Tracer("symptom.internal.session"),
		ttl:    ttl,
	}
}

func (r *RedisStore) Get(ctx context.Context, id string) (*dialogue.Session, error) {
	ctx, span := r.tracer.Start(ctx, "session.get", trace.WithAttributes(attribute.String("session.id", id)))
	defer span.End()

	data, err := r.redis.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("session: get %s: %w", id, err)
	}
	var s dialogue.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("session: decode %s: %w", id, err)
	}
	return &s, nil
}

func (r *RedisStore) Put(ctx context.Context, s dialogue.Session) error {
	ctx, span := r.tracer.Start(ctx, "session.put", trace.WithAttributes(attribute.String("session.id", s.ID)))
	defer span.End()

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("session: encode %s: %w", s.ID, err)
	}
	if err := r.redis.Set(ctx, sessionKey(s.ID), data, r.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("session: put %s: %w", s.ID, err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	if err := r.redis.Del(ctx, sessionKey(id)).Err(); err != nil {
		return fmt.Errorf("session: delete %s: %w", id, err)
	}
	return nil
}

// MemoryStore round-trips sessions through JSON so callers never share maps.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string][]byte)}
}

func (m *MemoryStore) Get(_ context.Context, id string) (*dialogue.Session, error) {
	m.mu.RLock()
	data, ok := m.items[id]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	var s dialogue.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("session: decode %s: %w", id, err)
	}
	return &s, nil
}

func (m *MemoryStore) Put(_ context.Context, s dialogue.Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("session: encode %s: %w", s.ID, err)
	}
	m.mu.Lock()
	m.items[s.ID] = data
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.items, id)
	m.mu.Unlock()
	return nil
}

// Len reports live sessions.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

var (
	_ dialogue.SessionStore = (*RedisStore)(nil)
	_ dialogue.SessionStore = (*MemoryStore)(nil)
)
