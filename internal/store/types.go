package store

import (
	"time"

	"github.com/google/uuid"
)

type MeetingStatus string

const (
	MeetingActive MeetingStatus = "ACTIVE"
	MeetingEnded  MeetingStatus = "ENDED"
)

type Meeting struct {
	ID              uuid.UUID
	Title           string
	UserID          string
	RelationshipID  *uuid.UUID
	MeetingNumber   int
	Status          MeetingStatus
	MeetingType     string
	StartedAt       time.Time
	EndedAt         *time.Time
	DurationSeconds int
	Summary         string
}

// NewMeeting is the input to CreateMeeting. MeetingNumber is assigned by
// the store.
type NewMeeting struct {
	Title          string
	UserID         string
	RelationshipID *uuid.UUID
	MeetingType    string
	StartedAt      time.Time
}

type Transcript struct {
	ID            uuid.UUID
	MeetingID     uuid.UUID
	Text          string
	FormattedText string
	Speaker       string
	SpeakerRole   string
	StartTime     *float64
	Provider      string
	Latency       *float64
	CreatedAt     time.Time
}

type Question struct {
	ID          uuid.UUID
	MeetingID   uuid.UUID
	Text        string
	Category    string
	Priority    int
	Reason      string
	IsUsed      bool
	IsFavorite  bool
	FeedbackTag string
	Context     string
	CreatedAt   time.Time
}

type Relationship struct {
	ID             uuid.UUID
	UserID         string
	Name           string
	Type           string
	Industry       string
	Stage          string
	Notes          string
	Tags           []string
	StructuredData map[string]any
}

// MeetingDigest is the slice of a past meeting fed into context-aware
// question generation.
type MeetingDigest struct {
	MeetingID     uuid.UUID
	MeetingNumber int
	StartedAt     time.Time
	EndedAt       *time.Time
	Summary       string
	UsedQuestions []string
}

type MeetingSummary struct {
	MeetingID            uuid.UUID
	Summary              string
	KeyPoints            []string
	Decisions            []string
	ActionItems          []string
	KeyQuestions         []string
	MissedQuestions      []string
	SuggestedDataUpdates map[string]any
	NextMeetingAgenda    []string
	CreatedAt            time.Time
}

type Preferences struct {
	UserID             string
	Weights            map[string]float64
	TotalSeen          int
	TotalUsed          int
	Tone               string
	IncludeExplanation bool
	UpdatedAt          time.Time
}

type QuestionAction struct {
	ID           uuid.UUID
	UserID       string
	QuestionID   *uuid.UUID
	MeetingID    *uuid.UUID
	Category     string
	Action       string
	OriginalText string
	ModifiedText string
	CreatedAt    time.Time
}

type DomainLevel struct {
	UserID           string
	Domain           string
	Level            int
	Experience       int
	UnlockedFeatures []string
	Persona          string
	UpdatedAt        time.Time
}

type LevelHistoryEntry struct {
	ID          uuid.UUID
	UserID      string
	Domain      string
	OldLevel    int
	NewLevel    int
	XPAtChange  int
	NewFeatures []string
	Reason      string
	CreatedAt   time.Time
}
