package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

const questionColumns = `id, meeting_id, text, COALESCE(category, ''), priority, COALESCE(reason, ''),
	is_used, is_favorite, COALESCE(feedback_tag, ''), COALESCE(context, ''), created_at`

func scanQuestion(row rowScanner) (*Question, error) {
	var q Question
	err := row.Scan(&q.ID, &q.MeetingID, &q.Text, &q.Category, &q.Priority, &q.Reason,
		&q.IsUsed, &q.IsFavorite, &q.FeedbackTag, &q.Context, &q.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &q, nil
}

func (s *Store) AddQuestion(ctx context.Context, q Question) error {
	id := q.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO questions (id, meeting_id, text, category, priority, reason, is_used, is_favorite, context)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		id, q.MeetingID, q.Text, nullStr(q.Category), q.Priority, nullStr(q.Reason),
		q.IsUsed, q.IsFavorite, nullStr(q.Context),
	)
	if err != nil {
		return fmt.Errorf("insert question: %w", err)
	}
	return nil
}

func (s *Store) GetQuestion(ctx context.Context, id uuid.UUID) (*Question, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+questionColumns+` FROM questions WHERE id = $1`, id)
	q, err := scanQuestion(row)
	if err != nil {
		return nil, notFound(err, "get question")
	}
	return q, nil
}

func (s *Store) ListQuestions(ctx context.Context, meetingID uuid.UUID) ([]Question, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+questionColumns+`
		FROM questions
		WHERE meeting_id = $1
		ORDER BY created_at ASC`,
		meetingID,
	)
	if err != nil {
		return nil, fmt.Errorf("query questions: %w", err)
	}
	defer rows.Close()

	var out []Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		out = append(out, *q)
	}
	return out, rows.Err()
}

func (s *Store) MarkQuestionUsed(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `UPDATE questions SET is_used = true WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark question used: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark question used: %w", ErrNotFound)
	}
	return nil
}

// MarkQuestionsUsedByText flags every question of the meeting whose text is
// in texts. Returns the number of rows changed.
func (s *Store) MarkQuestionsUsedByText(ctx context.Context, meetingID uuid.UUID, texts []string) (int, error) {
	if len(texts) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE questions SET is_used = true
		WHERE meeting_id = $1 AND NOT is_used AND text = ANY($2)`,
		meetingID, texts,
	)
	if err != nil {
		return 0, fmt.Errorf("mark questions used: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) SetQuestionFeedback(ctx context.Context, id uuid.UUID, tag string, favorite bool) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE questions SET feedback_tag = COALESCE($2, feedback_tag), is_favorite = $3
		WHERE id = $1`,
		id, nullStr(tag), favorite,
	)
	if err != nil {
		return fmt.Errorf("set question feedback: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("set question feedback: %w", ErrNotFound)
	}
	return nil
}

func (s *Store) CountUsedQuestions(ctx context.Context, meetingID uuid.UUID) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM questions WHERE meeting_id = $1 AND is_used`, meetingID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count used questions: %w", err)
	}
	return n, nil
}
