package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/symptom-assessment-engine/internal/dialogue"
)

const (
	resultKeyPrefix      = "dialogue:result:"
	DefaultTurnResultTTL = time.Hour
)

func resultKey(sessionID, eventID string) string {
	return resultKeyPrefix + sessionID + ":" + eventID
}

// RedisResultCache stores the first result for each (session, event) pair.
type RedisResultCache struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewRedisResultCache(client *redis.Client, ttl time.Duration) *RedisResultCache {
	if client == nil {
		panic("session: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultTurnResultTTL
	}
	return &RedisResultCache{redis: client, ttl: ttl}
}

func (c *RedisResultCache) Recall(ctx context.Context, sessionID, eventID string) (*dialogue.TurnResult, error) {
	data, err := c.redis.Get(ctx, resultKey(sessionID, eventID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: recall result: %w", err)
	}
	var res dialogue.TurnResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("session: decode result: %w", err)
	}
	return &res, nil
}

// Remember keeps the first write; later writes for the same key are ignored.
func (c *RedisResultCache) Remember(ctx context.Context, sessionID, eventID string, r dialogue.TurnResult) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("session: encode result: %w", err)
	}
	if err := c.redis.SetNX(ctx, resultKey(sessionID, eventID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("session: remember result: %w", err)
	}
	return nil
}

// MemoryResultCache is an in-process ResultCache without expiry.
type MemoryResultCache struct {
	mu      sync.RWMutex
	results map[string]dialogue.TurnResult
}

func NewMemoryResultCache() *MemoryResultCache {
	return &MemoryResultCache{results: make(map[string]dialogue.TurnResult)}
}

func (c *MemoryResultCache) Recall(_ context.Context, sessionID, eventID string) (*dialogue.TurnResult, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	res, ok := c.results[resultKey(sessionID, eventID)]
	if !ok {
		return nil, nil
	}
	res.TemplateIDs = append([]string(nil), res.TemplateIDs...)
	return &res, nil
}

func (c *MemoryResultCache) Remember(_ context.Context, sessionID, eventID string, r dialogue.TurnResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := resultKey(sessionID, eventID)
	if _, exists := c.results[key]; !exists {
		c.results[key] = r
	}
	return nil
}

var (
	_ dialogue.ResultCache = (*RedisResultCache)(nil)
	_ dialogue.ResultCache = (*MemoryResultCache)(nil)
)
