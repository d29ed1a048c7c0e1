// internal/realtime/typing.go
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/27willir/Botifex-sub002/internal/backend"
)

// TypingMarker signale qu'un utilisateur est en train d'écrire. L'absence de
// rafraîchissement dans le TTL vaut "a arrêté": aucun signal stop explicite
// n'est requis ni digne de confiance.
type TypingMarker struct {
	ChannelID string    `json:"channel_id"`
	UserID    string    `json:"user_id"`
	SetAt     time.Time `json:"set_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TypingCoordinator maintains short-TTL typing markers per (channel, user)
// and aggregates them for display.
type TypingCoordinator struct {
	backend     backend.Backend
	bus         *Bus
	ttl         time.Duration
	minInterval time.Duration
	logger      Logger

	now func() time.Time
}

func NewTypingCoordinator(b backend.Backend, bus *Bus, ttl, minInterval time.Duration, logger Logger) *TypingCoordinator {
	return &TypingCoordinator{
		backend:     b,
		bus:         bus,
		ttl:         ttl,
		minInterval: minInterval,
		logger:      logger,
		now:         time.Now,
	}
}

func typingKey(channelID, userID string) string {
	return fmt.Sprintf("rt:typing:%s:%s", channelID, userID)
}

func typingPrefix(channelID string) string {
	return fmt.Sprintf("rt:typing:%s:", channelID)
}

// StartTyping sets the user's marker and publishes a typing update carrying
// the fresh aggregate. Clients are expected to throttle; calls arriving
// faster than the minimum interval are dropped as a defensive measure.
func (t *TypingCoordinator) StartTyping(ctx context.Context, channelID, userID string) error {
	key := typingKey(channelID, userID)
	now := t.now()

	if data, err := t.backend.Get(ctx, key); err == nil {
		var existing TypingMarker
		if json.Unmarshal(data, &existing) == nil && now.Sub(existing.SetAt) < t.minInterval {
			return nil // client ne respecte pas le throttle, on ignore
		}
	}

	marker := TypingMarker{
		ChannelID: channelID,
		UserID:    userID,
		SetAt:     now,
		ExpiresAt: now.Add(t.ttl),
	}
	data, err := json.Marshal(marker)
	if err != nil {
		return fmt.Errorf("marshal typing marker: %w", err)
	}
	if err := t.backend.SetWithTTL(ctx, key, data, t.ttl); err != nil {
		return fmt.Errorf("typing write %s: %w", channelID, err)
	}

	users, err := t.Aggregate(ctx, channelID)
	if err != nil {
		return err
	}
	if err := t.bus.Publish(ctx, channelID, EventTypingUpdate, TypingUpdate{UserIDs: users}); err != nil {
		t.logger.Error("Failed to publish typing update", "channel", channelID, "error", err)
	}
	return nil
}

// Aggregate returns every user with a live marker on the channel. Display
// caps (first N plus overflow) are presentation policy applied by the UI.
func (t *TypingCoordinator) Aggregate(ctx context.Context, channelID string) ([]string, error) {
	keys, err := t.backend.Scan(ctx, typingPrefix(channelID))
	if err != nil {
		return nil, fmt.Errorf("typing aggregate %s: %w", channelID, err)
	}

	users := make([]string, 0, len(keys))
	for _, key := range keys {
		data, err := t.backend.Get(ctx, key)
		if err != nil {
			continue
		}
		var marker TypingMarker
		if err := json.Unmarshal(data, &marker); err != nil {
			t.logger.Warn("Skipping malformed typing marker", "key", key, "error", err)
			continue
		}
		users = append(users, marker.UserID)
	}

	sort.Strings(users)
	return users, nil
}
