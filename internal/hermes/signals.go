package hermes

import "time"

const (
	SubjectMeetingStarted = "onno.meeting.started"
	SubjectMeetingEnded   = "onno.meeting.ended"
	SubjectLevelUp        = "onno.level.up"
)

// MeetingStarted is emitted once per persisted meeting, on first join.
type MeetingStarted struct {
	MeetingID      string    `json:"meeting_id"`
	RelationshipID string    `json:"relationship_id,omitempty"`
	UserID         string    `json:"user_id"`
	MeetingType    string    `json:"meeting_type"`
	MeetingNumber  int       `json:"meeting_number"`
	StartedAt      time.Time `json:"started_at"`
}

// MeetingEnded is emitted after teardown has summarized and rewarded a
// meeting.
type MeetingEnded struct {
	MeetingID       string    `json:"meeting_id"`
	RelationshipID  string    `json:"relationship_id,omitempty"`
	UserID          string    `json:"user_id"`
	MeetingType     string    `json:"meeting_type"`
	DurationSeconds int       `json:"duration_seconds"`
	QuestionsUsed   int       `json:"questions_used"`
	XPEarned        int       `json:"xp_earned"`
	SummaryFallback bool      `json:"summary_fallback"`
	EndedAt         time.Time `json:"ended_at"`
}

type LevelUp struct {
	UserID      string    `json:"user_id"`
	Domain      string    `json:"domain"`
	NewLevel    int       `json:"new_level"`
	NewFeatures []string  `json:"new_features"`
	MeetingID   string    `json:"meeting_id,omitempty"`
	At          time.Time `json:"at"`
}
