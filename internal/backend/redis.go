// internal/backend/redis.go
package backend

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Logger interface for logging operations
type Logger interface {
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

const casMaxRetries = 16

// RedisBackend adosse toutes les primitives à un store Redis partagé entre
// workers: clés TTL natives, transactions WATCH pour le CAS, pub/sub natif
// pour le fan-out.
type RedisBackend struct {
	rdb    *redis.Client
	logger Logger

	mu   sync.Mutex
	subs map[*redis.PubSub]struct{}
}

func NewRedisBackend(rdb *redis.Client, logger Logger) *RedisBackend {
	return &RedisBackend{
		rdb:    rdb,
		logger: logger,
		subs:   make(map[*redis.PubSub]struct{}),
	}
}

func (b *RedisBackend) Name() string { return "redis" }

func (b *RedisBackend) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return b.rdb.Set(ctx, key, value, ttl).Err()
}

func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := b.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

func (b *RedisBackend) Delete(ctx context.Context, key string) error {
	return b.rdb.Del(ctx, key).Err()
}

func (b *RedisBackend) Scan(ctx context.Context, prefix string) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	match := prefix + "*"
	for {
		batch, next, err := b.rdb.Scan(ctx, cursor, match, 128).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

// CompareAndSwap exécute transform dans une transaction WATCH optimiste:
// si la clé change entre la lecture et l'écriture, la transaction échoue
// et on recommence.
func (b *RedisBackend) CompareAndSwap(ctx context.Context, key string, ttl time.Duration,
	transform func(old []byte) ([]byte, bool)) (bool, error) {

	var applied bool

	txf := func(tx *redis.Tx) error {
		old, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if errors.Is(err, redis.Nil) {
			old = nil
		}

		next, write := transform(old)
		if !write {
			applied = false
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, ttl)
			return nil
		})
		if err != nil {
			return err
		}
		applied = true
		return nil
	}

	for attempt := 0; attempt < casMaxRetries; attempt++ {
		err := b.rdb.Watch(ctx, txf, key)
		if err == nil {
			return applied, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue // la clé a bougé sous nous, on rejoue
		}
		return false, err
	}

	return false, ErrCASConflict
}

func (b *RedisBackend) Publish(ctx context.Context, topic string, payload []byte) error {
	return b.rdb.Publish(ctx, topic, payload).Err()
}

func (b *RedisBackend) Subscribe(ctx context.Context, topic string, handler func(payload []byte)) (func(), error) {
	pubsub := b.rdb.Subscribe(ctx, topic)

	// Forcer la confirmation de souscription avant de rendre la main
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, err
	}

	b.mu.Lock()
	b.subs[pubsub] = struct{}{}
	b.mu.Unlock()

	go func() {
		for msg := range pubsub.Channel() {
			handler([]byte(msg.Payload))
		}
	}()

	unsubscribe := func() {
		b.mu.Lock()
		delete(b.subs, pubsub)
		b.mu.Unlock()

		if err := pubsub.Close(); err != nil && !strings.Contains(err.Error(), "closed") {
			b.logger.Warn("Failed to close pubsub subscription", "topic", topic, "error", err)
		}
	}
	return unsubscribe, nil
}

func (b *RedisBackend) Close() error {
	b.mu.Lock()
	for sub := range b.subs {
		sub.Close()
	}
	b.subs = make(map[*redis.PubSub]struct{})
	b.mu.Unlock()

	return b.rdb.Close()
}
