// internal/backend/backend.go
package backend

import (
	"context"
	"errors"
	"time"
)

// Backend est le seul point de coordination inter-workers: tout état mutable
// partagé (présence, typing, slow-mode) passe par ses primitives.
type Backend interface {
	// SetWithTTL stores value under key; the entry disappears on its own
	// once ttl elapses. ttl <= 0 means no expiry.
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get returns the live value for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Scan returns the live keys under prefix.
	Scan(ctx context.Context, prefix string) ([]string, error)

	// CompareAndSwap atomically reads key, applies transform to the current
	// value (nil when absent) and, if transform asks for a write, installs
	// the new value with ttl. Concurrent calls for the same key serialize:
	// each transform sees the value left by the previous writer. Returns
	// whether a write happened. transform must be side-effect free; it may
	// run more than once under contention.
	CompareAndSwap(ctx context.Context, key string, ttl time.Duration,
		transform func(old []byte) (next []byte, write bool)) (bool, error)

	// Publish sends payload to every subscriber of topic, on any worker
	// sharing this backend. Delivery is at-least-once, fire-and-forget.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers handler for topic and returns an unsubscribe
	// function. handler runs on the backend's delivery goroutine.
	Subscribe(ctx context.Context, topic string, handler func(payload []byte)) (func(), error)

	// Name identifies the variant for logs ("redis", "local").
	Name() string

	Close() error
}

var (
	ErrNotFound    = errors.New("backend: key not found")
	ErrCASConflict = errors.New("backend: compare-and-swap contention not resolved")
)
