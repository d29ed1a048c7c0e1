// internal/realtime/presence_test.go
package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/27willir/Botifex-sub002/internal/backend"
)

func TestPresenceJoinPublishesSingleDelta(t *testing.T) {
	b := backend.NewLocalBackend()
	defer b.Close()
	bus := newTestBus(b)
	tracker := NewPresenceTracker(b, bus, 45*time.Second, nopLogger{})

	rec := newEventRecorder()
	unsubscribe, err := bus.Subscribe(context.Background(), "general", rec.Handle)
	require.NoError(t, err)
	defer unsubscribe()

	require.NoError(t, tracker.Join(context.Background(), "general", "alice", "sess-1"))
	require.NoError(t, tracker.Join(context.Background(), "general", "alice", "sess-1"))
	require.NoError(t, tracker.Heartbeat(context.Background(), "general", "alice", "sess-1"))

	events := rec.Drain(100 * time.Millisecond)
	require.Len(t, events, 1)
	require.Equal(t, EventPresenceDelta, events[0].Kind)

	var delta PresenceDelta
	require.NoError(t, json.Unmarshal(events[0].Payload, &delta))
	require.Equal(t, "alice", delta.UserID)
	require.Equal(t, PresenceJoined, delta.Action)
}

func TestPresenceLeavePublishesLeftDelta(t *testing.T) {
	b := backend.NewLocalBackend()
	defer b.Close()
	bus := newTestBus(b)
	tracker := NewPresenceTracker(b, bus, 45*time.Second, nopLogger{})

	require.NoError(t, tracker.Join(context.Background(), "general", "alice", "sess-1"))

	rec := newEventRecorder()
	unsubscribe, err := bus.Subscribe(context.Background(), "general", rec.Handle)
	require.NoError(t, err)
	defer unsubscribe()

	require.NoError(t, tracker.Leave(context.Background(), "general", "alice", "sess-1"))

	event, ok := rec.Wait(time.Second)
	require.True(t, ok)

	var delta PresenceDelta
	require.NoError(t, json.Unmarshal(event.Payload, &delta))
	require.Equal(t, PresenceLeft, delta.Action)

	users, err := tracker.Snapshot(context.Background(), "general")
	require.NoError(t, err)
	require.Empty(t, users)
}

func TestPresenceSnapshotDedupesMultiDevice(t *testing.T) {
	b := backend.NewLocalBackend()
	defer b.Close()
	tracker := NewPresenceTracker(b, newTestBus(b), 45*time.Second, nopLogger{})

	require.NoError(t, tracker.Join(context.Background(), "general", "alice", "sess-phone"))
	require.NoError(t, tracker.Join(context.Background(), "general", "alice", "sess-laptop"))
	require.NoError(t, tracker.Join(context.Background(), "general", "bob", "sess-1"))

	users, err := tracker.Snapshot(context.Background(), "general")
	require.NoError(t, err)
	require.Equal(t, []string{"alice", "bob"}, users)
}

func TestPresenceSnapshotIsPerChannel(t *testing.T) {
	b := backend.NewLocalBackend()
	defer b.Close()
	tracker := NewPresenceTracker(b, newTestBus(b), 45*time.Second, nopLogger{})

	require.NoError(t, tracker.Join(context.Background(), "general", "alice", "sess-1"))
	require.NoError(t, tracker.Join(context.Background(), "random", "bob", "sess-2"))

	users, err := tracker.Snapshot(context.Background(), "general")
	require.NoError(t, err)
	require.Equal(t, []string{"alice"}, users)
}

func TestPresenceEntryExpiresWithoutHeartbeat(t *testing.T) {
	b := backend.NewLocalBackend()
	defer b.Close()
	tracker := NewPresenceTracker(b, newTestBus(b), 30*time.Millisecond, nopLogger{})

	require.NoError(t, tracker.Join(context.Background(), "general", "alice", "sess-1"))

	time.Sleep(80 * time.Millisecond)

	users, err := tracker.Snapshot(context.Background(), "general")
	require.NoError(t, err)
	require.Empty(t, users)
}

func TestPresenceRejoinAfterExpiryPublishesAgain(t *testing.T) {
	b := backend.NewLocalBackend()
	defer b.Close()
	bus := newTestBus(b)
	tracker := NewPresenceTracker(b, bus, 30*time.Millisecond, nopLogger{})

	rec := newEventRecorder()
	unsubscribe, err := bus.Subscribe(context.Background(), "general", rec.Handle)
	require.NoError(t, err)
	defer unsubscribe()

	require.NoError(t, tracker.Join(context.Background(), "general", "alice", "sess-1"))
	time.Sleep(80 * time.Millisecond)
	require.NoError(t, tracker.Join(context.Background(), "general", "alice", "sess-1"))

	events := rec.Drain(100 * time.Millisecond)
	require.Len(t, events, 2)
}
