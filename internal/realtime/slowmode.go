// internal/realtime/slowmode.go
package realtime

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/27willir/Botifex-sub002/internal/backend"
)

// Decision is the outcome of a slow-mode reservation. Denied is an expected,
// frequent result surfaced to the sender; it is a value, never an error.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// RetryAfterSeconds rounds the remaining cooldown up to whole seconds for
// the wire protocol.
func (d Decision) RetryAfterSeconds() int {
	if d.Allowed || d.RetryAfter <= 0 {
		return 0
	}
	return int(math.Ceil(d.RetryAfter.Seconds()))
}

// Exempter reports whether a user bypasses slow mode on a channel. The
// exemption set is owned by an external authorization collaborator; this
// core only consults it.
type Exempter interface {
	Exempt(ctx context.Context, channelID, userID string) bool
}

// CooldownResolver answers the effective cooldown for channels the policy
// layer knows about, including ones covered only by a wildcard file entry
// that never produced an explicit Configure call.
type CooldownResolver interface {
	ChannelCooldown(channelID string) (time.Duration, bool)
}

// SlowModeController effectue la réservation atomique par (channel, user).
// C'est l'unique point de backpressure du chemin d'envoi de message: le
// pipeline de messages DOIT appeler Reserve avant d'accepter un payload.
type SlowModeController struct {
	backend  backend.Backend
	exempter Exempter
	resolver CooldownResolver

	mu        sync.RWMutex
	cooldowns map[string]time.Duration
	def       time.Duration

	now func() time.Time
}

func NewSlowModeController(b backend.Backend, exempter Exempter, defaultCooldown time.Duration) *SlowModeController {
	return &SlowModeController{
		backend:   b,
		exempter:  exempter,
		cooldowns: make(map[string]time.Duration),
		def:       defaultCooldown,
		now:       time.Now,
	}
}

// SetExempter wires the exemption source after construction. The policy
// service both consumes this controller and answers its exemption checks,
// so one of the two links is set late.
func (c *SlowModeController) SetExempter(e Exempter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exempter = e
}

// SetResolver wires the policy lookup used by Cooldown. Like the exempter,
// it is set after construction because the policy service also consumes
// this controller as its sink.
func (c *SlowModeController) SetResolver(r CooldownResolver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resolver = r
}

// Configure sets or updates the cooldown for a channel. The value is owned
// by the channel-configuration collaborator; zero clears the override and
// the channel falls back to the default cooldown.
func (c *SlowModeController) Configure(channelID string, cooldown time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cooldown <= 0 {
		delete(c.cooldowns, channelID)
		return
	}
	c.cooldowns[channelID] = cooldown
}

// Cooldown returns the effective cooldown for a channel: the policy
// resolver first when wired, then the explicitly configured value, then
// the default.
func (c *SlowModeController) Cooldown(channelID string) time.Duration {
	c.mu.RLock()
	resolver := c.resolver
	cooldown, ok := c.cooldowns[channelID]
	def := c.def
	c.mu.RUnlock()

	if resolver != nil {
		if resolved, found := resolver.ChannelCooldown(channelID); found {
			return resolved
		}
	}
	if ok {
		return cooldown
	}
	return def
}

func slowModeKey(channelID, userID string) string {
	return fmt.Sprintf("rt:slowmode:%s:%s", channelID, userID)
}

// Reserve admits or defers a send. Lecture et écriture forment un seul CAS
// backend: deux reserve concurrents pour la même clé se sérialisent, quel
// que soit le worker, jamais de double admission.
func (c *SlowModeController) Reserve(ctx context.Context, channelID, userID string) (Decision, error) {
	cooldown := c.Cooldown(channelID)
	if cooldown <= 0 {
		return Decision{Allowed: true}, nil
	}
	c.mu.RLock()
	exempter := c.exempter
	c.mu.RUnlock()
	if exempter != nil && exempter.Exempt(ctx, channelID, userID) {
		return Decision{Allowed: true}, nil
	}

	now := c.now()
	var retry time.Duration

	applied, err := c.backend.CompareAndSwap(ctx, slowModeKey(channelID, userID), cooldown,
		func(old []byte) ([]byte, bool) {
			nextAllowed := now
			if old != nil {
				if ms, parseErr := strconv.ParseInt(string(old), 10, 64); parseErr == nil {
					nextAllowed = time.UnixMilli(ms)
				}
			}
			if now.Before(nextAllowed) {
				retry = nextAllowed.Sub(now)
				return nil, false // denied: no mutation
			}
			return []byte(strconv.FormatInt(now.Add(cooldown).UnixMilli(), 10)), true
		})
	if err != nil {
		return Decision{}, fmt.Errorf("slow mode reserve %s/%s: %w", channelID, userID, err)
	}

	if applied {
		return Decision{Allowed: true}, nil
	}
	return Decision{Allowed: false, RetryAfter: retry}, nil
}
