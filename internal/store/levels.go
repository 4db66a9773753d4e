package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// GetDomainLevel returns ErrNotFound when the user has never earned xp in
// the domain.
func (s *Store) GetDomainLevel(ctx context.Context, userID, domain string) (*DomainLevel, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT user_id, domain, level, experience, unlocked_features, persona, updated_at
		FROM domain_levels
		WHERE user_id = $1 AND domain = $2`,
		userID, domain,
	)

	var dl DomainLevel
	err := row.Scan(&dl.UserID, &dl.Domain, &dl.Level, &dl.Experience, &dl.UnlockedFeatures, &dl.Persona, &dl.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "get domain level")
	}
	return &dl, nil
}

func (s *Store) ListDomainLevels(ctx context.Context, userID string) ([]DomainLevel, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, domain, level, experience, unlocked_features, persona, updated_at
		FROM domain_levels
		WHERE user_id = $1
		ORDER BY experience DESC, domain ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query domain levels: %w", err)
	}
	defer rows.Close()

	var out []DomainLevel
	for rows.Next() {
		var dl DomainLevel
		if err := rows.Scan(&dl.UserID, &dl.Domain, &dl.Level, &dl.Experience, &dl.UnlockedFeatures, &dl.Persona, &dl.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan domain level: %w", err)
		}
		out = append(out, dl)
	}
	return out, rows.Err()
}

// SaveDomainLevel creates or overwrites the (user, domain) record.
func (s *Store) SaveDomainLevel(ctx context.Context, dl DomainLevel) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO domain_levels (user_id, domain, level, experience, unlocked_features, persona, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (user_id, domain)
		DO UPDATE SET
			level = $3,
			experience = $4,
			unlocked_features = $5,
			persona = $6,
			updated_at = now()`,
		dl.UserID, dl.Domain, dl.Level, dl.Experience, nonNil(dl.UnlockedFeatures), dl.Persona,
	)
	if err != nil {
		return fmt.Errorf("upsert domain level: %w", err)
	}
	return nil
}

func (s *Store) AppendLevelHistory(ctx context.Context, e LevelHistoryEntry) error {
	id := e.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO level_history (id, user_id, domain, old_level, new_level, xp_at_change, new_features, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, e.UserID, e.Domain, e.OldLevel, e.NewLevel, e.XPAtChange, nonNil(e.NewFeatures), nullStr(e.Reason),
	)
	if err != nil {
		return fmt.Errorf("insert level history: %w", err)
	}
	return nil
}

func (s *Store) ListLevelHistory(ctx context.Context, userID string, limit int) ([]LevelHistoryEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, domain, old_level, new_level, xp_at_change, new_features, COALESCE(reason, ''), created_at
		FROM level_history
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query level history: %w", err)
	}
	defer rows.Close()

	var out []LevelHistoryEntry
	for rows.Next() {
		var e LevelHistoryEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Domain, &e.OldLevel, &e.NewLevel, &e.XPAtChange, &e.NewFeatures, &e.Reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan level history: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
