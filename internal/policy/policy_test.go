// internal/policy/policy_test.go
package policy

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type nopLogger struct{}

func (nopLogger) Info(msg string, args ...interface{})  {}
func (nopLogger) Warn(msg string, args ...interface{})  {}
func (nopLogger) Error(msg string, args ...interface{}) {}

type memStore struct {
	mu       sync.Mutex
	policies map[string]ChannelPolicy
}

func newMemStore() *memStore {
	return &memStore{policies: make(map[string]ChannelPolicy)}
}

func (s *memStore) List(ctx context.Context) ([]ChannelPolicy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ChannelPolicy, 0, len(s.policies))
	for _, p := range s.policies {
		out = append(out, p)
	}
	return out, nil
}

func (s *memStore) Upsert(ctx context.Context, p ChannelPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[p.ChannelID] = p
	return nil
}

type recordingSink struct {
	mu        sync.Mutex
	cooldowns map[string]time.Duration
}

func newRecordingSink() *recordingSink {
	return &recordingSink{cooldowns: make(map[string]time.Duration)}
}

func (s *recordingSink) Configure(channelID string, cooldown time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cooldowns[channelID] = cooldown
}

func (s *recordingSink) get(channelID string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cooldowns[channelID]
}

type staticRoles map[string][]string

func (r staticRoles) Roles(ctx context.Context, userID string) []string {
	return r[userID]
}

func TestRefreshAppliesStoredCooldowns(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.Upsert(context.Background(), ChannelPolicy{
		ChannelID: "general",
		SlowMode:  30 * time.Second,
	}))

	sink := newRecordingSink()
	svc := NewService(store, nil, sink, nil, nopLogger{})

	require.NoError(t, svc.Refresh(context.Background()))
	require.Equal(t, 30*time.Second, sink.get("general"))
}

func TestRefreshClearsRemovedPolicies(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.Upsert(context.Background(), ChannelPolicy{
		ChannelID: "general",
		SlowMode:  30 * time.Second,
	}))

	sink := newRecordingSink()
	svc := NewService(store, nil, sink, nil, nopLogger{})

	require.NoError(t, svc.Refresh(context.Background()))
	require.Equal(t, 30*time.Second, sink.get("general"))

	// Row deleted out of band: the next refresh must drop the override
	// instead of letting it survive until restart.
	store.mu.Lock()
	delete(store.policies, "general")
	store.mu.Unlock()

	require.NoError(t, svc.Refresh(context.Background()))
	require.Equal(t, time.Duration(0), sink.get("general"))

	_, ok := svc.Policy("general")
	require.False(t, ok)
}

func TestChannelCooldownResolvesWildcardEntries(t *testing.T) {
	file := &File{Channels: []FileChannel{
		{Pattern: "event-*", SlowMode: "30s"},
	}}
	svc := NewService(nil, file, newRecordingSink(), nil, nopLogger{})

	cooldown, ok := svc.ChannelCooldown("event-launch")
	require.True(t, ok)
	require.Equal(t, 30*time.Second, cooldown)

	_, ok = svc.ChannelCooldown("general")
	require.False(t, ok)
}

func TestSetSlowModePersistsAndApplies(t *testing.T) {
	store := newMemStore()
	sink := newRecordingSink()
	svc := NewService(store, nil, sink, nil, nopLogger{})

	require.NoError(t, svc.SetSlowMode(context.Background(), "general", 10*time.Second))

	require.Equal(t, 10*time.Second, sink.get("general"))
	require.Equal(t, 10*time.Second, store.policies["general"].SlowMode)

	p, ok := svc.Policy("general")
	require.True(t, ok)
	require.Equal(t, 10*time.Second, p.SlowMode)
}

func TestExemptByUserListing(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.Upsert(context.Background(), ChannelPolicy{
		ChannelID:   "general",
		ExemptUsers: []string{"mod-1"},
	}))

	svc := NewService(store, nil, newRecordingSink(), nil, nopLogger{})
	require.NoError(t, svc.Refresh(context.Background()))

	require.True(t, svc.Exempt(context.Background(), "general", "mod-1"))
	require.False(t, svc.Exempt(context.Background(), "general", "alice"))
	require.False(t, svc.Exempt(context.Background(), "random", "mod-1"))
}

func TestExemptByRole(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.Upsert(context.Background(), ChannelPolicy{
		ChannelID:   "general",
		ExemptRoles: []string{"moderator"},
	}))

	roles := staticRoles{"mod-1": {"moderator"}, "alice": {"member"}}
	svc := NewService(store, nil, newRecordingSink(), roles, nopLogger{})
	require.NoError(t, svc.Refresh(context.Background()))

	require.True(t, svc.Exempt(context.Background(), "general", "mod-1"))
	require.False(t, svc.Exempt(context.Background(), "general", "alice"))
}

func TestFileOverridesStore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
channels:
  - pattern: "announcements"
    slow_mode: "5m"
    exempt_roles: ["moderator"]
  - pattern: "event-*"
    slow_mode: "30s"
`), 0o644))

	file, err := LoadFile(path)
	require.NoError(t, err)

	store := newMemStore()
	require.NoError(t, store.Upsert(context.Background(), ChannelPolicy{
		ChannelID: "announcements",
		SlowMode:  10 * time.Second,
	}))

	sink := newRecordingSink()
	svc := NewService(store, file, sink, nil, nopLogger{})
	require.NoError(t, svc.Refresh(context.Background()))

	// File entry wins over the persisted value.
	require.Equal(t, 5*time.Minute, sink.get("announcements"))

	p, ok := svc.Policy("announcements")
	require.True(t, ok)
	require.Equal(t, 5*time.Minute, p.SlowMode)
	require.Equal(t, []string{"moderator"}, p.ExemptRoles)

	// Wildcard patterns resolve on demand.
	p, ok = svc.Policy("event-launch")
	require.True(t, ok)
	require.Equal(t, 30*time.Second, p.SlowMode)
}

func TestFileMatchPrefersMostSpecific(t *testing.T) {
	f := &File{Channels: []FileChannel{
		{Pattern: "event-*", SlowMode: "30s"},
		{Pattern: "event-vip", SlowMode: "1s"},
	}}

	require.Equal(t, time.Second, f.match("event-vip").slowMode())
	require.Equal(t, 30*time.Second, f.match("event-launch").slowMode())
	require.Nil(t, f.match("general"))
}
