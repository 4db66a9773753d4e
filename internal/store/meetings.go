package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const meetingColumns = `id, COALESCE(title, ''), COALESCE(user_id, ''), relationship_id, meeting_number,
	status, meeting_type, started_at, ended_at, COALESCE(duration_seconds, 0), COALESCE(summary, '')`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMeeting(row rowScanner) (*Meeting, error) {
	var m Meeting
	var status string
	err := row.Scan(&m.ID, &m.Title, &m.UserID, &m.RelationshipID, &m.MeetingNumber,
		&status, &m.MeetingType, &m.StartedAt, &m.EndedAt, &m.DurationSeconds, &m.Summary)
	if err != nil {
		return nil, err
	}
	m.Status = MeetingStatus(status)
	return &m, nil
}

// CreateMeeting inserts an ACTIVE meeting. The meeting number is the count
// of prior meetings for the relationship plus one, computed under an
// advisory lock so concurrent creates for one relationship never collide.
func (s *Store) CreateMeeting(ctx context.Context, nm NewMeeting) (*Meeting, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	number := 1
	if nm.RelationshipID != nil {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, nm.RelationshipID.String()); err != nil {
			return nil, fmt.Errorf("lock relationship: %w", err)
		}
		var prior int
		if err := tx.QueryRow(ctx, `SELECT count(*) FROM meetings WHERE relationship_id = $1`, *nm.RelationshipID).Scan(&prior); err != nil {
			return nil, fmt.Errorf("count meetings: %w", err)
		}
		number = prior + 1
	}

	startedAt := nm.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	meetingType := nm.MeetingType
	if meetingType == "" {
		meetingType = "GENERAL"
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO meetings (id, title, user_id, relationship_id, meeting_number, status, meeting_type, started_at)
		VALUES ($1, $2, $3, $4, $5, 'ACTIVE', $6, $7)
		RETURNING `+meetingColumns,
		uuid.New(), nullStr(nm.Title), nullStr(nm.UserID), nm.RelationshipID, number, meetingType, startedAt,
	)
	m, err := scanMeeting(row)
	if err != nil {
		return nil, fmt.Errorf("insert meeting: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return m, nil
}

func (s *Store) GetMeeting(ctx context.Context, id uuid.UUID) (*Meeting, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+meetingColumns+` FROM meetings WHERE id = $1`, id)
	m, err := scanMeeting(row)
	if err != nil {
		return nil, notFound(err, "get meeting")
	}
	return m, nil
}

// EndMeeting marks the meeting ENDED and stores its duration in seconds.
func (s *Store) EndMeeting(ctx context.Context, id uuid.UUID, endedAt time.Time) (*Meeting, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE meetings
		SET status = 'ENDED',
			ended_at = $2,
			duration_seconds = GREATEST(0, EXTRACT(EPOCH FROM ($2 - started_at))::int)
		WHERE id = $1
		RETURNING `+meetingColumns,
		id, endedAt,
	)
	m, err := scanMeeting(row)
	if err != nil {
		return nil, notFound(err, "end meeting")
	}
	return m, nil
}

func (s *Store) SetMeetingSummary(ctx context.Context, id uuid.UUID, summary string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE meetings SET summary = $2 WHERE id = $1`, id, summary)
	if err != nil {
		return fmt.Errorf("set meeting summary: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set meeting summary: %w", ErrNotFound)
	}
	return nil
}

// SaveMeetingSummary upserts the full summary record for a meeting.
func (s *Store) SaveMeetingSummary(ctx context.Context, ms MeetingSummary) error {
	var updates []byte
	if ms.SuggestedDataUpdates != nil {
		b, err := json.Marshal(ms.SuggestedDataUpdates)
		if err != nil {
			return fmt.Errorf("marshal suggested updates: %w", err)
		}
		updates = b
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO meeting_summaries (meeting_id, summary, key_points, decisions, action_items,
			key_questions, missed_questions, suggested_data_updates, next_meeting_agenda)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (meeting_id)
		DO UPDATE SET
			summary = $2,
			key_points = $3,
			decisions = $4,
			action_items = $5,
			key_questions = $6,
			missed_questions = $7,
			suggested_data_updates = $8,
			next_meeting_agenda = $9,
			updated_at = now()`,
		ms.MeetingID, ms.Summary, nonNil(ms.KeyPoints), nonNil(ms.Decisions), nonNil(ms.ActionItems),
		nonNil(ms.KeyQuestions), nonNil(ms.MissedQuestions), updates, nonNil(ms.NextMeetingAgenda),
	)
	if err != nil {
		return fmt.Errorf("upsert meeting summary: %w", err)
	}
	return nil
}

func (s *Store) GetMeetingSummary(ctx context.Context, meetingID uuid.UUID) (*MeetingSummary, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT meeting_id, summary, key_points, decisions, action_items, key_questions,
			missed_questions, suggested_data_updates, next_meeting_agenda, created_at
		FROM meeting_summaries
		WHERE meeting_id = $1`,
		meetingID,
	)

	var ms MeetingSummary
	var updates []byte
	err := row.Scan(&ms.MeetingID, &ms.Summary, &ms.KeyPoints, &ms.Decisions, &ms.ActionItems,
		&ms.KeyQuestions, &ms.MissedQuestions, &updates, &ms.NextMeetingAgenda, &ms.CreatedAt)
	if err != nil {
		return nil, notFound(err, "get meeting summary")
	}
	if len(updates) > 0 {
		if err := json.Unmarshal(updates, &ms.SuggestedDataUpdates); err != nil {
			return nil, fmt.Errorf("unmarshal suggested updates: %w", err)
		}
	}
	return &ms, nil
}

func (s *Store) AddTranscript(ctx context.Context, t Transcript) error {
	id := t.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO transcripts (id, meeting_id, text, formatted_text, speaker, speaker_role, start_time, provider, latency)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		id, t.MeetingID, t.Text, nullStr(t.FormattedText), nullStr(t.Speaker), nullStr(t.SpeakerRole),
		t.StartTime, nullStr(t.Provider), t.Latency,
	)
	if err != nil {
		return fmt.Errorf("insert transcript: %w", err)
	}
	return nil
}

func (s *Store) ListTranscripts(ctx context.Context, meetingID uuid.UUID) ([]Transcript, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, meeting_id, text, COALESCE(formatted_text, ''), COALESCE(speaker, ''),
			COALESCE(speaker_role, ''), start_time, COALESCE(provider, ''), latency, created_at
		FROM transcripts
		WHERE meeting_id = $1
		ORDER BY created_at ASC`,
		meetingID,
	)
	if err != nil {
		return nil, fmt.Errorf("query transcripts: %w", err)
	}
	defer rows.Close()

	var out []Transcript
	for rows.Next() {
		var t Transcript
		if err := rows.Scan(&t.ID, &t.MeetingID, &t.Text, &t.FormattedText, &t.Speaker,
			&t.SpeakerRole, &t.StartTime, &t.Provider, &t.Latency, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transcript: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// nonNil keeps NOT NULL array columns from receiving NULL.
func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
