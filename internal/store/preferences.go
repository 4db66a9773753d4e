package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// GetPreferences returns ErrNotFound when the user has no preference row
// yet; callers fall back to neutral weights.
func (s *Store) GetPreferences(ctx context.Context, userID string) (*Preferences, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT user_id, weights, total_seen, total_used, tone, include_explanation, updated_at
		FROM user_preferences
		WHERE user_id = $1`,
		userID,
	)

	var p Preferences
	var weights []byte
	err := row.Scan(&p.UserID, &weights, &p.TotalSeen, &p.TotalUsed, &p.Tone, &p.IncludeExplanation, &p.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "get preferences")
	}
	p.Weights = make(map[string]float64)
	if len(weights) > 0 {
		if err := json.Unmarshal(weights, &p.Weights); err != nil {
			return nil, fmt.Errorf("unmarshal weights: %w", err)
		}
	}
	return &p, nil
}

// UpsertPreferenceWeight sets one category weight, creating the row if
// needed. Concurrent writers for the same category resolve last-write-wins.
func (s *Store) UpsertPreferenceWeight(ctx context.Context, userID, category string, weight float64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO user_preferences (user_id, weights, updated_at)
		VALUES ($1, jsonb_build_object($2::text, $3::float8), now())
		ON CONFLICT (user_id)
		DO UPDATE SET
			weights = user_preferences.weights || jsonb_build_object($2::text, $3::float8),
			updated_at = now()`,
		userID, category, weight,
	)
	if err != nil {
		return fmt.Errorf("upsert preference weight: %w", err)
	}
	return nil
}

func (s *Store) IncrementPreferenceCounters(ctx context.Context, userID string, seen, used int) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO user_preferences (user_id, total_seen, total_used, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (user_id)
		DO UPDATE SET
			total_seen = user_preferences.total_seen + $2,
			total_used = user_preferences.total_used + $3,
			updated_at = now()`,
		userID, seen, used,
	)
	if err != nil {
		return fmt.Errorf("increment preference counters: %w", err)
	}
	return nil
}

func (s *Store) UpdatePreferenceStyle(ctx context.Context, userID, tone string, includeExplanation bool) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO user_preferences (user_id, tone, include_explanation, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (user_id)
		DO UPDATE SET tone = $2, include_explanation = $3, updated_at = now()`,
		userID, tone, includeExplanation,
	)
	if err != nil {
		return fmt.Errorf("update preference style: %w", err)
	}
	return nil
}

func (s *Store) LogQuestionAction(ctx context.Context, a QuestionAction) error {
	id := a.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO question_actions (id, user_id, question_id, meeting_id, category, action, original_text, modified_text)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, a.UserID, a.QuestionID, a.MeetingID, nullStr(a.Category), a.Action,
		nullStr(a.OriginalText), nullStr(a.ModifiedText),
	)
	if err != nil {
		return fmt.Errorf("insert question action: %w", err)
	}
	return nil
}
