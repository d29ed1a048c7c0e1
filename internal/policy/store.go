// internal/policy/store.go
package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore persists channel policies in Postgres.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) List(ctx context.Context) ([]ChannelPolicy, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT channel_id, slow_mode_seconds, exempt_users, exempt_roles, updated_at
		FROM channel_policies`)
	if err != nil {
		return nil, fmt.Errorf("list channel policies: %w", err)
	}
	defer rows.Close()

	var policies []ChannelPolicy
	for rows.Next() {
		var p ChannelPolicy
		var seconds int
		if err := rows.Scan(&p.ChannelID, &seconds, &p.ExemptUsers, &p.ExemptRoles, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan channel policy: %w", err)
		}
		p.SlowMode = time.Duration(seconds) * time.Second
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

func (s *PGStore) Upsert(ctx context.Context, p ChannelPolicy) error {
	if p.ExemptUsers == nil {
		p.ExemptUsers = []string{}
	}
	if p.ExemptRoles == nil {
		p.ExemptRoles = []string{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO channel_policies (channel_id, slow_mode_seconds, exempt_users, exempt_roles, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (channel_id) DO UPDATE SET
			slow_mode_seconds = EXCLUDED.slow_mode_seconds,
			exempt_users = EXCLUDED.exempt_users,
			exempt_roles = EXCLUDED.exempt_roles,
			updated_at = now()`,
		p.ChannelID, int(p.SlowMode/time.Second), p.ExemptUsers, p.ExemptRoles)
	if err != nil {
		return fmt.Errorf("upsert channel policy %s: %w", p.ChannelID, err)
	}
	return nil
}
