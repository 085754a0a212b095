// Package joblock keeps two triggers of the scheduled job from running the
// same work at once, across processes.
package joblock

import (
	"context"
	"fmt"
	"time"

	"fx-forward-runner/internal/interfaces"
	"fx-forward-runner/internal/logger"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

var (
	_ interfaces.Lock = (*Redis)(nil)
	_ interfaces.Lock = Noop{}
)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

type Redis struct {
	client *redis.Client
	prefix string
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client, prefix: "fxrunner:lock:"}
}

// Acquire sets the key if absent. The returned release is safe to call once
// the TTL has expired and another holder owns the key.
func (r *Redis) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	k := r.prefix + key
	token := uuid.NewString()

	ok, err := r.client.SetNX(ctx, k, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		// the caller's ctx may already be done when the job finishes
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(rctx, r.client, []string{k}, token).Err(); err != nil {
			logger.Warn(rctx, "Failed to release job lock", "key", key, "error", err)
		}
	}
	return release, true, nil
}

// Noop always grants the lock. Used when no redis is configured.
type Noop struct{}

func (Noop) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	return func() {}, true, nil
}
