package orchestrator

import "time"

// Outbound event names.
const (
	EventJoined            = "joined"
	EventParticipantJoined = "participant_joined"
	EventParticipantLeft   = "participant_left"
	EventTranscription     = "transcription"
	EventQuestionSuggested = "question_suggested"
	EventMeetingSummary    = "meeting_summary"
	EventLevelUp           = "level_up"
	EventError             = "error"
)

// Error event types.
const (
	ErrorTypeJoin            = "join"
	ErrorTypeAudioProcessing = "audio_processing"
	ErrorTypeLeave           = "leave"
	ErrorTypeInvalidMessage  = "invalid_message"
)

type JoinedEvent struct {
	Token          string `json:"token"`
	MeetingID      string `json:"meetingId"`
	RelationshipID string `json:"relationshipId,omitempty"`
	MeetingNumber  int    `json:"meetingNumber"`
}

type ParticipantEvent struct {
	UserID    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
}

type SegmentEvent struct {
	Text        string   `json:"text"`
	Speaker     string   `json:"speaker,omitempty"`
	SpeakerRole string   `json:"speakerRole,omitempty"`
	StartTime   *float64 `json:"startTime,omitempty"`
}

type TranscriptionEvent struct {
	ID            string         `json:"id"`
	Text          string         `json:"text"`
	FormattedText string         `json:"formattedText,omitempty"`
	Segments      []SegmentEvent `json:"segments"`
	Timestamp     time.Time      `json:"timestamp"`
	Latency       *float64       `json:"latency,omitempty"`
	Provider      string         `json:"provider,omitempty"`
}

type QuestionEvent struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Category  string    `json:"category,omitempty"`
	Priority  int       `json:"priority"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type SummaryEvent struct {
	MeetingID         string    `json:"meetingId"`
	Summary           string    `json:"summary"`
	KeyPoints         []string  `json:"keyPoints"`
	ActionItems       []string  `json:"actionItems"`
	NextMeetingAgenda []string  `json:"nextMeetingAgenda"`
	QuestionsUsed     int       `json:"questionsUsed"`
	XPEarned          int       `json:"xpEarned"`
	Fallback          bool      `json:"fallback"`
	Timestamp         time.Time `json:"timestamp"`
}

type LevelUpEvent struct {
	UserID      string    `json:"userId"`
	Domain      string    `json:"domain"`
	NewLevel    int       `json:"newLevel"`
	NewFeatures []string  `json:"newFeatures"`
	Timestamp   time.Time `json:"timestamp"`
}

type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
