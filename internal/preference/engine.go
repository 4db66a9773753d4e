package preference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/onno/internal/store"
)

// Store is the persistence the engine needs.
type Store interface {
	GetPreferences(ctx context.Context, userID string) (*store.Preferences, error)
	UpsertPreferenceWeight(ctx context.Context, userID, category string, weight float64) error
	IncrementPreferenceCounters(ctx context.Context, userID string, seen, used int) error
	UpdatePreferenceStyle(ctx context.Context, userID, tone string, includeExplanation bool) error
	LogQuestionAction(ctx context.Context, a store.QuestionAction) error
	GetQuestion(ctx context.Context, id uuid.UUID) (*store.Question, error)
	MarkQuestionUsed(ctx context.Context, id uuid.UUID) error
	SetQuestionFeedback(ctx context.Context, id uuid.UUID, tag string, favorite bool) error
}

type Engine struct {
	store      Store
	multiplier float64
	logger     *slog.Logger
}

func NewEngine(s Store, multiplier float64, logger *slog.Logger) *Engine {
	if multiplier == 0 {
		multiplier = DefaultMultiplier
	}
	return &Engine{store: s, multiplier: multiplier, logger: logger}
}

// Vector loads the user's weights. A user with no stored preferences gets
// an empty vector, which reads neutral everywhere.
func (e *Engine) Vector(ctx context.Context, userID string) (Vector, error) {
	p, err := e.store.GetPreferences(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return Vector{Weights: map[string]float64{}}, nil
	}
	if err != nil {
		return Vector{}, fmt.Errorf("load preferences: %w", err)
	}
	return Vector{Weights: p.Weights}, nil
}

// Adjust moves one category weight by the feedback delta and persists it.
// Non-adjustable categories are a no-op returning DefaultWeight.
func (e *Engine) Adjust(ctx context.Context, userID, category string, fb Feedback) (float64, error) {
	cat := NormalizeCategory(category)
	if !Adjustable(cat) {
		return DefaultWeight, nil
	}
	v, err := e.Vector(ctx, userID)
	if err != nil {
		return 0, err
	}
	next := Apply(v.Weight(cat), fb)
	if err := e.store.UpsertPreferenceWeight(ctx, userID, cat, next); err != nil {
		return 0, fmt.Errorf("save weight: %w", err)
	}
	e.logger.Debug("preference adjusted", "user_id", userID, "category", cat, "signal", fb.Signal, "weight", next)
	return next, nil
}

// Personalize ranks candidates against the user's current weights.
func (e *Engine) Personalize(ctx context.Context, userID string, candidates []Candidate) ([]Ranked, error) {
	v, err := e.Vector(ctx, userID)
	if err != nil {
		return nil, err
	}
	return Rank(v, candidates, e.multiplier), nil
}

// Action is a user's handling of a suggested question during or after a
// meeting.
type Action struct {
	UserID       string
	QuestionID   *uuid.UUID
	MeetingID    *uuid.UUID
	Category     string
	Signal       Signal
	OriginalText string
	ModifiedText string
}

// RecordAction logs the action, learns from it and updates the usage
// counters. When a question id is given its stored category and meeting
// fill any blanks, and a used signal marks the question used.
func (e *Engine) RecordAction(ctx context.Context, a Action) (float64, error) {
	switch a.Signal {
	case SignalUsed, SignalUsedModified, SignalIgnored, SignalDismissed:
	default:
		return 0, fmt.Errorf("signal %q is not a question action", a.Signal)
	}

	if a.QuestionID != nil && (a.Category == "" || a.MeetingID == nil || a.OriginalText == "") {
		q, err := e.store.GetQuestion(ctx, *a.QuestionID)
		if err != nil {
			return 0, fmt.Errorf("load question: %w", err)
		}
		if a.Category == "" {
			a.Category = q.Category
		}
		if a.MeetingID == nil {
			a.MeetingID = &q.MeetingID
		}
		if a.OriginalText == "" {
			a.OriginalText = q.Text
		}
	}

	if err := e.store.LogQuestionAction(ctx, store.QuestionAction{
		UserID:       a.UserID,
		QuestionID:   a.QuestionID,
		MeetingID:    a.MeetingID,
		Category:     NormalizeCategory(a.Category),
		Action:       string(a.Signal),
		OriginalText: a.OriginalText,
		ModifiedText: a.ModifiedText,
	}); err != nil {
		return 0, fmt.Errorf("log action: %w", err)
	}

	weight, err := e.Adjust(ctx, a.UserID, a.Category, Feedback{Signal: a.Signal})
	if err != nil {
		return 0, err
	}

	used := 0
	if a.Signal.Counts() {
		used = 1
		if a.QuestionID != nil {
			if err := e.store.MarkQuestionUsed(ctx, *a.QuestionID); err != nil {
				e.logger.Warn("failed to mark question used", "question_id", a.QuestionID.String(), "error", err)
			}
		}
	}
	if err := e.store.IncrementPreferenceCounters(ctx, a.UserID, 1, used); err != nil {
		return weight, fmt.Errorf("update counters: %w", err)
	}
	return weight, nil
}

// Rating is explicit thumbs feedback on one question.
type Rating struct {
	UserID     string
	QuestionID uuid.UUID
	Signal     Signal
	Tags       []string
	Favorite   bool
}

// Rate stores the feedback tag on the question and learns from it. The
// question is returned so callers can attribute xp to its meeting.
func (e *Engine) Rate(ctx context.Context, r Rating) (*store.Question, float64, error) {
	if r.Signal != SignalThumbsUp && r.Signal != SignalThumbsDown {
		return nil, 0, fmt.Errorf("signal %q is not a rating", r.Signal)
	}
	q, err := e.store.GetQuestion(ctx, r.QuestionID)
	if err != nil {
		return nil, 0, fmt.Errorf("load question: %w", err)
	}
	if err := e.store.SetQuestionFeedback(ctx, q.ID, strings.Join(r.Tags, ","), r.Favorite); err != nil {
		return nil, 0, fmt.Errorf("save feedback: %w", err)
	}
	weight, err := e.Adjust(ctx, r.UserID, q.Category, Feedback{Signal: r.Signal, Tags: r.Tags})
	if err != nil {
		return q, 0, err
	}
	return q, weight, nil
}

// Stats summarizes a user's learned preferences.
type Stats struct {
	Weights            map[string]float64 `json:"weights"`
	TotalSeen          int                `json:"total_seen"`
	TotalUsed          int                `json:"total_used"`
	UsageRate          int                `json:"usage_rate"`
	Tone               string             `json:"tone"`
	IncludeExplanation bool               `json:"include_explanation"`
}

func (e *Engine) Stats(ctx context.Context, userID string) (Stats, error) {
	st := Stats{
		Weights:            make(map[string]float64, len(Categories)+1),
		Tone:               DefaultTone,
		IncludeExplanation: true,
	}
	p, err := e.store.GetPreferences(ctx, userID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return st, fmt.Errorf("load preferences: %w", err)
	}
	v := Vector{}
	if p != nil {
		v.Weights = p.Weights
		st.TotalSeen = p.TotalSeen
		st.TotalUsed = p.TotalUsed
		st.Tone = p.Tone
		st.IncludeExplanation = p.IncludeExplanation
	}
	for _, c := range Categories {
		st.Weights[c] = v.Weight(c)
	}
	st.Weights[CategoryGeneral] = DefaultWeight
	if st.TotalSeen > 0 {
		st.UsageRate = int(math.Round(float64(st.TotalUsed) / float64(st.TotalSeen) * 100))
	}
	return st, nil
}

func (e *Engine) UpdateStyle(ctx context.Context, userID, tone string, includeExplanation bool) error {
	if err := e.store.UpdatePreferenceStyle(ctx, userID, tone, includeExplanation); err != nil {
		return fmt.Errorf("update style: %w", err)
	}
	return nil
}
