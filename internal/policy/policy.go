// internal/policy/policy.go
package policy

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Logger interface for logging operations
type Logger interface {
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// ChannelPolicy regroupe les réglages d'un channel: cooldown du slow mode et
// listes d'exemption. Les rôles sont résolus par le service d'autorisation
// amont; ce module ne fait que les consulter.
type ChannelPolicy struct {
	ChannelID   string
	SlowMode    time.Duration
	ExemptUsers []string
	ExemptRoles []string
	UpdatedAt   time.Time
}

// Store persists channel policies.
type Store interface {
	List(ctx context.Context) ([]ChannelPolicy, error)
	Upsert(ctx context.Context, p ChannelPolicy) error
}

// CooldownSink receives effective cooldowns as policies change. The slow-mode
// controller satisfies it.
type CooldownSink interface {
	Configure(channelID string, cooldown time.Duration)
}

// RoleResolver maps a user to its roles. Authorization is owned by an
// external collaborator; a nil resolver means role exemptions are ignored.
type RoleResolver interface {
	Roles(ctx context.Context, userID string) []string
}

// Service merges persisted policies with the optional static file and feeds
// the effective cooldowns to the sink. It also answers slow-mode exemption
// checks.
type Service struct {
	store    Store
	file     *File
	sink     CooldownSink
	resolver RoleResolver
	logger   Logger

	mu       sync.RWMutex
	policies map[string]ChannelPolicy
}

func NewService(store Store, file *File, sink CooldownSink, resolver RoleResolver, logger Logger) *Service {
	return &Service{
		store:    store,
		file:     file,
		sink:     sink,
		resolver: resolver,
		logger:   logger,
		policies: make(map[string]ChannelPolicy),
	}
}

// Refresh reloads every persisted policy and re-applies the cooldowns.
// Le fichier statique prime sur la base pour les channels qu'il couvre.
func (s *Service) Refresh(ctx context.Context) error {
	if s.store == nil {
		s.applyFile()
		return nil
	}

	policies, err := s.store.List(ctx)
	if err != nil {
		return fmt.Errorf("refresh channel policies: %w", err)
	}

	s.mu.Lock()
	previous := s.policies
	s.policies = make(map[string]ChannelPolicy, len(policies))
	for _, p := range policies {
		s.policies[p.ChannelID] = p
	}
	s.mu.Unlock()

	for _, p := range policies {
		s.sink.Configure(p.ChannelID, s.effectiveCooldown(p.ChannelID, p.SlowMode))
	}

	// Les channels dont la ligne a disparu repassent au cooldown par défaut;
	// sans ça l'override survivrait jusqu'au redémarrage.
	for channelID := range previous {
		if _, still := s.lookup(channelID); !still {
			s.sink.Configure(channelID, 0)
		}
	}
	s.applyFile()

	s.logger.Info("Channel policies refreshed", "count", len(policies))
	return nil
}

func (s *Service) applyFile() {
	if s.file == nil {
		return
	}
	for _, fp := range s.file.Channels {
		if fp.Pattern == "" || containsWildcard(fp.Pattern) {
			// Les patterns génériques passent par ChannelCooldown: aucune
			// liste de channels à expanser ici.
			continue
		}
		s.sink.Configure(fp.Pattern, fp.slowMode())
	}
}

// Run refreshes policies periodically until ctx is done.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.Refresh(ctx); err != nil {
				s.logger.Error("Policy refresh failed", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// SetSlowMode updates a channel's cooldown, persists it and applies it
// immediately.
func (s *Service) SetSlowMode(ctx context.Context, channelID string, cooldown time.Duration) error {
	s.mu.Lock()
	p := s.policies[channelID]
	p.ChannelID = channelID
	p.SlowMode = cooldown
	p.UpdatedAt = time.Now()
	s.policies[channelID] = p
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.Upsert(ctx, p); err != nil {
			return fmt.Errorf("persist channel policy %s: %w", channelID, err)
		}
	}

	s.sink.Configure(channelID, s.effectiveCooldown(channelID, cooldown))
	return nil
}

// Policy returns the effective policy for a channel: the static file entry
// when one matches, otherwise the persisted one.
func (s *Service) Policy(channelID string) (ChannelPolicy, bool) {
	if s.file != nil {
		if fp := s.file.match(channelID); fp != nil {
			return ChannelPolicy{
				ChannelID:   channelID,
				SlowMode:    fp.slowMode(),
				ExemptUsers: fp.ExemptUsers,
				ExemptRoles: fp.ExemptRoles,
			}, true
		}
	}

	return s.lookup(channelID)
}

func (s *Service) lookup(channelID string) (ChannelPolicy, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[channelID]
	return p, ok
}

// ChannelCooldown answers the admission controller's cooldown lookup, so
// channels covered only by a wildcard file entry are enforced too.
func (s *Service) ChannelCooldown(channelID string) (time.Duration, bool) {
	p, ok := s.Policy(channelID)
	if !ok {
		return 0, false
	}
	return p.SlowMode, true
}

func (s *Service) effectiveCooldown(channelID string, persisted time.Duration) time.Duration {
	if s.file != nil {
		if fp := s.file.match(channelID); fp != nil {
			return fp.slowMode()
		}
	}
	return persisted
}

// Exempt reports whether the user bypasses slow mode on the channel, by
// direct listing or by role.
func (s *Service) Exempt(ctx context.Context, channelID, userID string) bool {
	p, ok := s.Policy(channelID)
	if !ok {
		return false
	}

	for _, u := range p.ExemptUsers {
		if u == userID {
			return true
		}
	}

	if s.resolver != nil && len(p.ExemptRoles) > 0 {
		for _, role := range s.resolver.Roles(ctx, userID) {
			for _, exempt := range p.ExemptRoles {
				if role == exempt {
					return true
				}
			}
		}
	}
	return false
}
