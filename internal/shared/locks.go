package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrQuarterLocked means another freeze or unfreeze for the same quarter
// is in flight.
var ErrQuarterLocked = errors.New("quarter operation already in progress")

// QuarterLockKey builds the redis key serializing bulk freeze operations
// for one (quarter, year).
func QuarterLockKey(quarter string, year int) string {
	return fmt.Sprintf("goals:quarter:%s:%d:lock", quarter, year)
}

// QuarterLock serializes freeze/unfreeze per quarter via redis SET NX.
// The TTL guards against a crashed holder wedging the quarter forever.
type QuarterLock struct {
	client *redis.Client
	ttl    time.Duration
}

// NewQuarterLock returns a QuarterLock with a 30 second hold TTL.
func NewQuarterLock(client *redis.Client) *QuarterLock {
	return &QuarterLock{client: client, ttl: 30 * time.Second}
}

// Acquire takes the lock for (quarter, year) or fails fast with
// ErrQuarterLocked. The returned release deletes the key only if this
// caller still holds it.
func (l *QuarterLock) Acquire(ctx context.Context, quarter string, year int) (func(), error) {
	key := QuarterLockKey(quarter, year)
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("shared: acquire quarter lock: %w", err)
	}
	if !ok {
		return nil, ErrQuarterLocked
	}
	release := func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		current, err := l.client.Get(releaseCtx, key).Result()
		if err != nil || current != token {
			return
		}
		l.client.Del(releaseCtx, key)
	}
	return release, nil
}
