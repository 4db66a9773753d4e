package store

import (
	"context"
	"fmt"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS relationships (
		id              UUID PRIMARY KEY,
		user_id         TEXT,
		name            TEXT NOT NULL,
		type            TEXT NOT NULL DEFAULT 'STARTUP',
		industry        TEXT,
		stage           TEXT,
		notes           TEXT,
		tags            TEXT[] NOT NULL DEFAULT '{}',
		structured_data JSONB NOT NULL DEFAULT '{}',
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS meetings (
		id               UUID PRIMARY KEY,
		title            TEXT,
		user_id          TEXT,
		relationship_id  UUID REFERENCES relationships(id) ON DELETE SET NULL,
		meeting_number   INT NOT NULL DEFAULT 1,
		status           TEXT NOT NULL DEFAULT 'ACTIVE',
		meeting_type     TEXT NOT NULL DEFAULT 'GENERAL',
		started_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
		ended_at         TIMESTAMPTZ,
		duration_seconds INT,
		summary          TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_meetings_relationship ON meetings (relationship_id, status)`,

	`CREATE TABLE IF NOT EXISTS transcripts (
		id             UUID PRIMARY KEY,
		meeting_id     UUID NOT NULL REFERENCES meetings(id) ON DELETE CASCADE,
		text           TEXT NOT NULL,
		formatted_text TEXT,
		speaker        TEXT,
		speaker_role   TEXT,
		start_time     DOUBLE PRECISION,
		provider       TEXT,
		latency        DOUBLE PRECISION,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transcripts_meeting ON transcripts (meeting_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS questions (
		id           UUID PRIMARY KEY,
		meeting_id   UUID NOT NULL REFERENCES meetings(id) ON DELETE CASCADE,
		text         TEXT NOT NULL,
		category     TEXT,
		priority     INT NOT NULL DEFAULT 0,
		reason       TEXT,
		is_used      BOOLEAN NOT NULL DEFAULT false,
		is_favorite  BOOLEAN NOT NULL DEFAULT false,
		feedback_tag TEXT,
		context      TEXT,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_questions_meeting ON questions (meeting_id)`,

	`CREATE TABLE IF NOT EXISTS meeting_summaries (
		meeting_id             UUID PRIMARY KEY REFERENCES meetings(id) ON DELETE CASCADE,
		summary                TEXT NOT NULL,
		key_points             TEXT[] NOT NULL DEFAULT '{}',
		decisions              TEXT[] NOT NULL DEFAULT '{}',
		action_items           TEXT[] NOT NULL DEFAULT '{}',
		key_questions          TEXT[] NOT NULL DEFAULT '{}',
		missed_questions       TEXT[] NOT NULL DEFAULT '{}',
		suggested_data_updates JSONB,
		next_meeting_agenda    TEXT[] NOT NULL DEFAULT '{}',
		created_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at             TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS user_preferences (
		user_id             TEXT PRIMARY KEY,
		weights             JSONB NOT NULL DEFAULT '{}',
		total_seen          INT NOT NULL DEFAULT 0,
		total_used          INT NOT NULL DEFAULT 0,
		tone                TEXT NOT NULL DEFAULT 'FORMAL',
		include_explanation BOOLEAN NOT NULL DEFAULT true,
		updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS question_actions (
		id            UUID PRIMARY KEY,
		user_id       TEXT NOT NULL,
		question_id   UUID,
		meeting_id    UUID,
		category      TEXT,
		action        TEXT NOT NULL,
		original_text TEXT,
		modified_text TEXT,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_question_actions_user ON question_actions (user_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS domain_levels (
		user_id           TEXT NOT NULL,
		domain            TEXT NOT NULL,
		level             INT NOT NULL DEFAULT 1,
		experience        INT NOT NULL DEFAULT 0,
		unlocked_features TEXT[] NOT NULL DEFAULT '{}',
		persona           TEXT NOT NULL DEFAULT 'ANALYST',
		updated_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (user_id, domain)
	)`,

	`CREATE TABLE IF NOT EXISTS level_history (
		id           UUID PRIMARY KEY,
		user_id      TEXT NOT NULL,
		domain       TEXT NOT NULL,
		old_level    INT NOT NULL,
		new_level    INT NOT NULL,
		xp_at_change INT NOT NULL,
		new_features TEXT[] NOT NULL DEFAULT '{}',
		reason       TEXT,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_level_history_user ON level_history (user_id, created_at DESC)`,
}

// Migrate creates the schema if it does not exist. Every statement is
// idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}
