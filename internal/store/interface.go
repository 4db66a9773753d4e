package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DataStore is the persistence contract consumed by the orchestrator, the
// preference and leveling engines, and the API. The concrete implementation
// is *Store (pgx-backed).
type DataStore interface {
	CreateMeeting(ctx context.Context, m NewMeeting) (*Meeting, error)
	GetMeeting(ctx context.Context, id uuid.UUID) (*Meeting, error)
	EndMeeting(ctx context.Context, id uuid.UUID, endedAt time.Time) (*Meeting, error)
	SetMeetingSummary(ctx context.Context, id uuid.UUID, summary string) error
	SaveMeetingSummary(ctx context.Context, ms MeetingSummary) error
	GetMeetingSummary(ctx context.Context, meetingID uuid.UUID) (*MeetingSummary, error)

	AddTranscript(ctx context.Context, t Transcript) error
	ListTranscripts(ctx context.Context, meetingID uuid.UUID) ([]Transcript, error)

	AddQuestion(ctx context.Context, q Question) error
	GetQuestion(ctx context.Context, id uuid.UUID) (*Question, error)
	ListQuestions(ctx context.Context, meetingID uuid.UUID) ([]Question, error)
	MarkQuestionUsed(ctx context.Context, id uuid.UUID) error
	MarkQuestionsUsedByText(ctx context.Context, meetingID uuid.UUID, texts []string) (int, error)
	SetQuestionFeedback(ctx context.Context, id uuid.UUID, tag string, favorite bool) error
	CountUsedQuestions(ctx context.Context, meetingID uuid.UUID) (int, error)

	GetRelationship(ctx context.Context, id uuid.UUID) (*Relationship, error)
	RecentMeetings(ctx context.Context, relationshipID uuid.UUID, limit int) ([]MeetingDigest, error)
	MergeRelationshipData(ctx context.Context, id uuid.UUID, updates map[string]any) error

	GetPreferences(ctx context.Context, userID string) (*Preferences, error)
	UpsertPreferenceWeight(ctx context.Context, userID, category string, weight float64) error
	IncrementPreferenceCounters(ctx context.Context, userID string, seen, used int) error
	UpdatePreferenceStyle(ctx context.Context, userID, tone string, includeExplanation bool) error
	LogQuestionAction(ctx context.Context, a QuestionAction) error

	GetDomainLevel(ctx context.Context, userID, domain string) (*DomainLevel, error)
	ListDomainLevels(ctx context.Context, userID string) ([]DomainLevel, error)
	SaveDomainLevel(ctx context.Context, dl DomainLevel) error
	AppendLevelHistory(ctx context.Context, e LevelHistoryEntry) error
	ListLevelHistory(ctx context.Context, userID string, limit int) ([]LevelHistoryEntry, error)

	Close()
}

var _ DataStore = (*Store)(nil)
