// internal/backend/local.go
package backend

import (
	"context"
	"strings"
	"sync"
	"time"
)

// LocalBackend implémente la même interface en mémoire process-local.
// Sélectionné une seule fois au démarrage quand Redis est indisponible:
// la cohérence inter-workers n'est alors plus garantie.
type LocalBackend struct {
	mu      sync.Mutex
	entries map[string]localEntry
	topics  map[string]map[int]*localSub
	nextSub int
	done    chan struct{}
	closed  bool

	now func() time.Time
}

type localSub struct {
	queue chan []byte
	stop  chan struct{}
}

type localEntry struct {
	value    []byte
	deadline time.Time // zero = no expiry
}

func NewLocalBackend() *LocalBackend {
	b := &LocalBackend{
		entries: make(map[string]localEntry),
		topics:  make(map[string]map[int]*localSub),
		done:    make(chan struct{}),
		now:     time.Now,
	}
	// Un seul balayage périodique par process plutôt qu'un timer par entrée.
	go b.sweep()
	return b
}

func (b *LocalBackend) Name() string { return "local" }

func (b *LocalBackend) sweep() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
			now := b.now()
			b.mu.Lock()
			for key, entry := range b.entries {
				if !entry.deadline.IsZero() && now.After(entry.deadline) {
					delete(b.entries, key)
				}
			}
			b.mu.Unlock()
		}
	}
}

// liveLocked returns the entry if present and unexpired. Caller holds b.mu.
func (b *LocalBackend) liveLocked(key string) ([]byte, bool) {
	entry, ok := b.entries[key]
	if !ok {
		return nil, false
	}
	if !entry.deadline.IsZero() && b.now().After(entry.deadline) {
		delete(b.entries, key)
		return nil, false
	}
	return entry.value, true
}

func (b *LocalBackend) SetWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	entry := localEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.deadline = b.now().Add(ttl)
	}

	b.mu.Lock()
	b.entries[key] = entry
	b.mu.Unlock()
	return nil
}

func (b *LocalBackend) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	value, ok := b.liveLocked(key)
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), value...), nil
}

func (b *LocalBackend) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	delete(b.entries, key)
	b.mu.Unlock()
	return nil
}

func (b *LocalBackend) Scan(_ context.Context, prefix string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var keys []string
	now := b.now()
	for key, entry := range b.entries {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if !entry.deadline.IsZero() && now.After(entry.deadline) {
			delete(b.entries, key)
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// CompareAndSwap sous le mutex: la lecture et l'écriture forment une seule
// section critique, les reserve concurrents se sérialisent ici.
func (b *LocalBackend) CompareAndSwap(_ context.Context, key string, ttl time.Duration,
	transform func(old []byte) ([]byte, bool)) (bool, error) {

	b.mu.Lock()
	defer b.mu.Unlock()

	old, _ := b.liveLocked(key)

	next, write := transform(old)
	if !write {
		return false, nil
	}

	entry := localEntry{value: append([]byte(nil), next...)}
	if ttl > 0 {
		entry.deadline = b.now().Add(ttl)
	}
	b.entries[key] = entry
	return true, nil
}

func (b *LocalBackend) Publish(_ context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	queues := make([]chan []byte, 0, len(b.topics[topic]))
	for _, sub := range b.topics[topic] {
		queues = append(queues, sub.queue)
	}
	b.mu.Unlock()

	data := append([]byte(nil), payload...)
	for _, queue := range queues {
		select {
		case queue <- data:
		default:
			// Un abonné saturé perd des événements plutôt que de bloquer
			// le publieur, comme avec le pub/sub Redis.
		}
	}
	return nil
}

// Subscribe feeds handler from a per-subscriber queue so events on one
// topic arrive in publish order, matching Redis pub/sub semantics.
func (b *LocalBackend) Subscribe(_ context.Context, topic string, handler func(payload []byte)) (func(), error) {
	sub := &localSub{
		queue: make(chan []byte, 256),
		stop:  make(chan struct{}),
	}

	b.mu.Lock()
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[int]*localSub)
	}
	id := b.nextSub
	b.nextSub++
	b.topics[topic][id] = sub
	b.mu.Unlock()

	go func() {
		for {
			select {
			case data := <-sub.queue:
				handler(data)
			case <-sub.stop:
				return
			case <-b.done:
				return
			}
		}
	}()

	unsubscribe := func() {
		b.mu.Lock()
		if subs, ok := b.topics[topic]; ok {
			if _, live := subs[id]; live {
				delete(subs, id)
				close(sub.stop)
			}
			if len(subs) == 0 {
				delete(b.topics, topic)
			}
		}
		b.mu.Unlock()
	}
	return unsubscribe, nil
}

func (b *LocalBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	close(b.done)
	b.entries = make(map[string]localEntry)
	b.topics = make(map[string]map[int]*localSub)
	return nil
}
