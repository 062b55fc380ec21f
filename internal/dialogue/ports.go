package dialogue

import (
	"context"
	"time"
)

// SessionStore holds live sessions between turns.
type SessionStore interface {
	// Get returns (nil, nil) when the session does not exist or expired.
	Get(ctx context.Context, id string) (*Session, error)
	Put(ctx context.Context, s Session) error
	Delete(ctx context.Context, id string) error
}

// Locker serializes turns per session. TryLock never blocks; ok is false when
// another holder owns key.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Unlock(ctx context.Context, key, token string) error
}

// ResultCache remembers turn results by (session, event id) so redelivered
// events replay the original reply.
type ResultCache interface {
	// Recall returns (nil, nil) on a miss.
	Recall(ctx context.Context, sessionID, eventID string) (*TurnResult, error)
	Remember(ctx context.Context, sessionID, eventID string, r TurnResult) error
}
