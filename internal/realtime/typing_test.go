// internal/realtime/typing_test.go
package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/27willir/Botifex-sub002/internal/backend"
)

func TestTypingStartPublishesAggregate(t *testing.T) {
	b := backend.NewLocalBackend()
	defer b.Close()
	bus := newTestBus(b)
	typing := NewTypingCoordinator(b, bus, 6*time.Second, 2*time.Second, nopLogger{})

	rec := newEventRecorder()
	unsubscribe, err := bus.Subscribe(context.Background(), "general", rec.Handle)
	require.NoError(t, err)
	defer unsubscribe()

	require.NoError(t, typing.StartTyping(context.Background(), "general", "alice"))

	event, ok := rec.Wait(time.Second)
	require.True(t, ok)
	require.Equal(t, EventTypingUpdate, event.Kind)

	var update TypingUpdate
	require.NoError(t, json.Unmarshal(event.Payload, &update))
	require.Equal(t, []string{"alice"}, update.UserIDs)
}

func TestTypingThrottleDropsRapidCalls(t *testing.T) {
	b := backend.NewLocalBackend()
	defer b.Close()
	bus := newTestBus(b)
	typing := NewTypingCoordinator(b, bus, 6*time.Second, 2*time.Second, nopLogger{})

	clock := newFakeClock()
	typing.now = clock.Now

	rec := newEventRecorder()
	unsubscribe, err := bus.Subscribe(context.Background(), "general", rec.Handle)
	require.NoError(t, err)
	defer unsubscribe()

	require.NoError(t, typing.StartTyping(context.Background(), "general", "alice"))

	clock.Advance(500 * time.Millisecond)
	require.NoError(t, typing.StartTyping(context.Background(), "general", "alice"))

	events := rec.Drain(100 * time.Millisecond)
	require.Len(t, events, 1)

	// Past the minimum interval the refresh goes through again.
	clock.Advance(2 * time.Second)
	require.NoError(t, typing.StartTyping(context.Background(), "general", "alice"))

	_, ok := rec.Wait(time.Second)
	require.True(t, ok)
}

func TestTypingAggregateSortsUsers(t *testing.T) {
	b := backend.NewLocalBackend()
	defer b.Close()
	typing := NewTypingCoordinator(b, newTestBus(b), 6*time.Second, 2*time.Second, nopLogger{})

	require.NoError(t, typing.StartTyping(context.Background(), "general", "zoe"))
	require.NoError(t, typing.StartTyping(context.Background(), "general", "alice"))

	users, err := typing.Aggregate(context.Background(), "general")
	require.NoError(t, err)
	require.Equal(t, []string{"alice", "zoe"}, users)
}

func TestTypingMarkerExpires(t *testing.T) {
	b := backend.NewLocalBackend()
	defer b.Close()
	typing := NewTypingCoordinator(b, newTestBus(b), 30*time.Millisecond, time.Millisecond, nopLogger{})

	require.NoError(t, typing.StartTyping(context.Background(), "general", "alice"))

	time.Sleep(80 * time.Millisecond)

	users, err := typing.Aggregate(context.Background(), "general")
	require.NoError(t, err)
	require.Empty(t, users)
}
