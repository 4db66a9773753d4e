package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

func (s *Store) GetRelationship(ctx context.Context, id uuid.UUID) (*Relationship, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, COALESCE(user_id, ''), name, type, COALESCE(industry, ''), COALESCE(stage, ''),
			COALESCE(notes, ''), tags, structured_data
		FROM relationships
		WHERE id = $1`,
		id,
	)

	var r Relationship
	var data []byte
	err := row.Scan(&r.ID, &r.UserID, &r.Name, &r.Type, &r.Industry, &r.Stage, &r.Notes, &r.Tags, &data)
	if err != nil {
		return nil, notFound(err, "get relationship")
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &r.StructuredData); err != nil {
			return nil, fmt.Errorf("unmarshal structured data: %w", err)
		}
	}
	return &r, nil
}

// RecentMeetings returns up to limit ended meetings for the relationship,
// newest first, each with its summary and the questions that were used.
func (s *Store) RecentMeetings(ctx context.Context, relationshipID uuid.UUID, limit int) ([]MeetingDigest, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT m.id, m.meeting_number, m.started_at, m.ended_at,
			COALESCE(ms.summary, m.summary, ''),
			COALESCE((SELECT array_agg(q.text ORDER BY q.created_at)
				FROM questions q WHERE q.meeting_id = m.id AND q.is_used), '{}')
		FROM meetings m
		LEFT JOIN meeting_summaries ms ON ms.meeting_id = m.id
		WHERE m.relationship_id = $1 AND m.status = 'ENDED'
		ORDER BY m.ended_at DESC NULLS LAST
		LIMIT $2`,
		relationshipID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent meetings: %w", err)
	}
	defer rows.Close()

	var out []MeetingDigest
	for rows.Next() {
		var d MeetingDigest
		if err := rows.Scan(&d.MeetingID, &d.MeetingNumber, &d.StartedAt, &d.EndedAt, &d.Summary, &d.UsedQuestions); err != nil {
			return nil, fmt.Errorf("scan recent meeting: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// MergeRelationshipData shallow-merges updates into structured_data.
func (s *Store) MergeRelationshipData(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	payload, err := json.Marshal(updates)
	if err != nil {
		return fmt.Errorf("marshal updates: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE relationships
		SET structured_data = COALESCE(structured_data, '{}'::jsonb) || $2::jsonb,
			updated_at = now()
		WHERE id = $1`,
		id, payload,
	)
	if err != nil {
		return fmt.Errorf("merge relationship data: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("merge relationship data: %w", ErrNotFound)
	}
	return nil
}
