// internal/realtime/presence.go
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/27willir/Botifex-sub002/internal/backend"
)

// PresenceEntry est une inscription de session dans un channel. Elle expire
// d'elle-même via le TTL du backend: pas de nettoyage explicite après crash.
type PresenceEntry struct {
	ChannelID string    `json:"channel_id"`
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// PresenceTracker maintains per-channel sets of present sessions with
// TTL-based liveness. Visibility is eventually consistent, staleness bounded
// by the TTL.
type PresenceTracker struct {
	backend backend.Backend
	bus     *Bus
	ttl     time.Duration
	logger  Logger

	now func() time.Time
}

func NewPresenceTracker(b backend.Backend, bus *Bus, ttl time.Duration, logger Logger) *PresenceTracker {
	return &PresenceTracker{
		backend: b,
		bus:     bus,
		ttl:     ttl,
		logger:  logger,
		now:     time.Now,
	}
}

// TTL returns the configured presence entry lifetime. Heartbeats should run
// at a fraction of it.
func (p *PresenceTracker) TTL() time.Duration {
	return p.ttl
}

func presenceKey(channelID, sessionID string) string {
	return fmt.Sprintf("rt:presence:%s:%s", channelID, sessionID)
}

func presencePrefix(channelID string) string {
	return fmt.Sprintf("rt:presence:%s:", channelID)
}

// Join upserts the session's presence entry. The joined delta is published
// only on the session's first live entry for the channel, so heartbeats and
// redundant joins never create event storms.
func (p *PresenceTracker) Join(ctx context.Context, channelID, userID, sessionID string) error {
	key := presenceKey(channelID, sessionID)

	_, err := p.backend.Get(ctx, key)
	isNew := err == backend.ErrNotFound
	if err != nil && err != backend.ErrNotFound {
		return fmt.Errorf("presence join %s: %w", channelID, err)
	}

	if err := p.write(ctx, key, channelID, userID, sessionID); err != nil {
		return err
	}

	if isNew {
		delta := PresenceDelta{UserID: userID, Action: PresenceJoined}
		if err := p.bus.Publish(ctx, channelID, EventPresenceDelta, delta); err != nil {
			p.logger.Error("Failed to publish presence delta", "channel", channelID, "user", userID, "error", err)
		}
	}
	return nil
}

// Heartbeat refreshes the entry's TTL without publishing anything.
func (p *PresenceTracker) Heartbeat(ctx context.Context, channelID, userID, sessionID string) error {
	return p.write(ctx, presenceKey(channelID, sessionID), channelID, userID, sessionID)
}

func (p *PresenceTracker) write(ctx context.Context, key, channelID, userID, sessionID string) error {
	entry := PresenceEntry{
		ChannelID: channelID,
		UserID:    userID,
		SessionID: sessionID,
		ExpiresAt: p.now().Add(p.ttl),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal presence entry: %w", err)
	}
	if err := p.backend.SetWithTTL(ctx, key, data, p.ttl); err != nil {
		return fmt.Errorf("presence write %s: %w", channelID, err)
	}
	return nil
}

// Leave removes the entry and publishes the left delta. Leaving twice is
// harmless: the delta consumer is idempotent.
func (p *PresenceTracker) Leave(ctx context.Context, channelID, userID, sessionID string) error {
	if err := p.backend.Delete(ctx, presenceKey(channelID, sessionID)); err != nil {
		return fmt.Errorf("presence leave %s: %w", channelID, err)
	}

	delta := PresenceDelta{UserID: userID, Action: PresenceLeft}
	if err := p.bus.Publish(ctx, channelID, EventPresenceDelta, delta); err != nil {
		p.logger.Error("Failed to publish presence delta", "channel", channelID, "user", userID, "error", err)
	}
	return nil
}

// Snapshot returns the distinct users with at least one live entry,
// dedupliquant les sessions multiples d'un même utilisateur (multi-device).
func (p *PresenceTracker) Snapshot(ctx context.Context, channelID string) ([]string, error) {
	keys, err := p.backend.Scan(ctx, presencePrefix(channelID))
	if err != nil {
		return nil, fmt.Errorf("presence snapshot %s: %w", channelID, err)
	}

	seen := make(map[string]bool, len(keys))
	users := make([]string, 0, len(keys))
	for _, key := range keys {
		data, err := p.backend.Get(ctx, key)
		if err != nil {
			continue // expired between scan and get
		}
		var entry PresenceEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			p.logger.Warn("Skipping malformed presence entry", "key", key, "error", err)
			continue
		}
		if !seen[entry.UserID] {
			seen[entry.UserID] = true
			users = append(users, entry.UserID)
		}
	}

	sort.Strings(users)
	return users, nil
}
