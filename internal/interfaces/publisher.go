package interfaces

import (
	"context"
	"time"
)

// Publisher fans events out to live subscribers (websocket clients).
type Publisher interface {
	Publish(eventType string, payload any)
}

// Lock guards a critical section across processes.
type Lock interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), acquired bool, err error)
}
