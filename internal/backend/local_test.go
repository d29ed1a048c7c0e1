// internal/backend/local_test.go
package backend

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBackend(t *testing.T) *LocalBackend {
	t.Helper()
	b := NewLocalBackend()
	t.Cleanup(func() { b.Close() })
	return b
}

func TestLocalBackend_SetGetDelete(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	require.NoError(t, b.SetWithTTL(ctx, "k", []byte("v"), 0))

	got, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	require.NoError(t, b.Delete(ctx, "k"))

	_, err = b.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalBackend_TTLExpiry(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	base := time.Now()
	current := base
	b.now = func() time.Time { return current }

	require.NoError(t, b.SetWithTTL(ctx, "k", []byte("v"), 30*time.Second))

	current = base.Add(29 * time.Second)
	_, err := b.Get(ctx, "k")
	require.NoError(t, err)

	current = base.Add(31 * time.Second)
	_, err = b.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound, "entry must lapse on its own after the TTL")
}

func TestLocalBackend_ScanFiltersExpired(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	base := time.Now()
	current := base
	b.now = func() time.Time { return current }

	require.NoError(t, b.SetWithTTL(ctx, "p:a", []byte("1"), 10*time.Second))
	require.NoError(t, b.SetWithTTL(ctx, "p:b", []byte("2"), time.Minute))
	require.NoError(t, b.SetWithTTL(ctx, "q:c", []byte("3"), time.Minute))

	current = base.Add(30 * time.Second)
	keys, err := b.Scan(ctx, "p:")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"p:b"}, keys)
}

func TestLocalBackend_CompareAndSwap(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	// Absent key: transform sees nil
	applied, err := b.CompareAndSwap(ctx, "counter", 0, func(old []byte) ([]byte, bool) {
		require.Nil(t, old)
		return []byte("1"), true
	})
	require.NoError(t, err)
	assert.True(t, applied)

	// Declined transform writes nothing
	applied, err = b.CompareAndSwap(ctx, "counter", 0, func(old []byte) ([]byte, bool) {
		return nil, false
	})
	require.NoError(t, err)
	assert.False(t, applied)

	got, err := b.Get(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), got)
}

func TestLocalBackend_CompareAndSwapSerializes(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	const writers = 32
	var wg sync.WaitGroup
	wg.Add(writers)

	for i := 0; i < writers; i++ {
		go func() {
			defer wg.Done()
			_, err := b.CompareAndSwap(ctx, "n", 0, func(old []byte) ([]byte, bool) {
				n := 0
				if old != nil {
					n, _ = strconv.Atoi(string(old))
				}
				return []byte(strconv.Itoa(n + 1)), true
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := b.Get(ctx, "n")
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(writers), string(got), "every transform must observe the previous write")
}

func TestLocalBackend_PubSub(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	received := make(chan []byte, 4)
	unsubscribe, err := b.Subscribe(ctx, "topic", func(payload []byte) {
		received <- payload
	})
	require.NoError(t, err)

	payload, _ := json.Marshal(map[string]string{"hello": "world"})
	require.NoError(t, b.Publish(ctx, "topic", payload))

	select {
	case got := <-received:
		assert.JSONEq(t, string(payload), string(got))
	case <-time.After(time.Second):
		t.Fatal("subscriber never received the published payload")
	}

	unsubscribe()
	require.NoError(t, b.Publish(ctx, "topic", payload))

	select {
	case <-received:
		t.Fatal("unsubscribed handler still received a payload")
	case <-time.After(50 * time.Millisecond):
	}
}
