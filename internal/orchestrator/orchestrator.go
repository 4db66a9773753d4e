package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/onno/internal/aiservice"
	"github.com/MikeSquared-Agency/onno/internal/hermes"
	"github.com/MikeSquared-Agency/onno/internal/leveling"
	"github.com/MikeSquared-Agency/onno/internal/preference"
	"github.com/MikeSquared-Agency/onno/internal/session"
	"github.com/MikeSquared-Agency/onno/internal/slack"
	"github.com/MikeSquared-Agency/onno/internal/store"
)

var (
	// ErrInvalidRequest is returned for requests missing required fields.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrSessionNotFound is returned when a token has no live session.
	ErrSessionNotFound = errors.New("session not found")
)

// AI is the external inference service.
type AI interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (*aiservice.Transcription, error)
	GenerateQuestions(ctx context.Context, req aiservice.GenerateRequest) ([]aiservice.Question, error)
	GenerateWithRelationship(ctx context.Context, req aiservice.GenerateRequest) ([]aiservice.Question, error)
	Summarize(ctx context.Context, req aiservice.SummaryRequest) (*aiservice.Summary, error)
}

// Broadcaster delivers events to the participants of a session. room is the
// session token; senderID identifies one connection.
type Broadcaster interface {
	Broadcast(room, event string, data any)
	BroadcastExcept(room, senderID, event string, data any)
	SendTo(senderID, event string, data any)
}

// Publisher fans lifecycle signals out to other services.
type Publisher interface {
	Publish(subject string, data any) error
}

// DigestPoster posts an ended meeting's digest to a team channel.
type DigestPoster interface {
	PostMeetingDigest(ctx context.Context, d slack.Digest) (string, error)
}

type Config struct {
	TranscribeTimeout time.Duration
	GenerateTimeout   time.Duration
	ContextTimeout    time.Duration
	SummaryTimeout    time.Duration
	TriggerLength     int
	ContextSnippet    int
	RecentMeetings    int
	SummaryMaxRunes   int
}

func DefaultConfig() Config {
	return Config{
		TranscribeTimeout: 30 * time.Second,
		GenerateTimeout:   15 * time.Second,
		ContextTimeout:    20 * time.Second,
		SummaryTimeout:    60 * time.Second,
		TriggerLength:     50,
		ContextSnippet:    200,
		RecentMeetings:    3,
		SummaryMaxRunes:   500,
	}
}

// Deps are the collaborators of an Orchestrator. Publisher and Digest are
// optional.
type Deps struct {
	Store       store.DataStore
	AI          AI
	Sessions    *session.Registry
	Preferences *preference.Engine
	Levels      *leveling.Engine
	Broadcaster Broadcaster
	Publisher   Publisher
	Digest      DigestPoster
}

// Orchestrator drives live meetings from join to teardown.
type Orchestrator struct {
	store      store.DataStore
	ai         AI
	sessions   *session.Registry
	prefs      *preference.Engine
	levels     *leveling.Engine
	out        Broadcaster
	pub        Publisher
	digest     DigestPoster
	cfg        Config
	strategies []strategy
	logger     *slog.Logger
	now        func() time.Time
}

func New(d Deps, cfg Config, logger *slog.Logger) *Orchestrator {
	o := &Orchestrator{
		store:    d.Store,
		ai:       d.AI,
		sessions: d.Sessions,
		prefs:    d.Preferences,
		levels:   d.Levels,
		out:      d.Broadcaster,
		pub:      d.Publisher,
		digest:   d.Digest,
		cfg:      cfg,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
	o.strategies = []strategy{
		{name: "context_aware", applies: hasRelationship, generate: o.generateWithContext},
		{name: "basic", applies: always, generate: o.generateBasic},
	}
	return o
}

// ActiveSessions counts live sessions.
func (o *Orchestrator) ActiveSessions() int {
	return o.sessions.Len()
}

type JoinRequest struct {
	Token          string `json:"meetingId"`
	UserID         string `json:"userId"`
	Title          string `json:"title,omitempty"`
	RelationshipID string `json:"relationshipId,omitempty"`
	MeetingType    string `json:"meetingType,omitempty"`
}

type JoinResult struct {
	MeetingID      uuid.UUID
	RelationshipID *uuid.UUID
	MeetingNumber  int
	Created        bool
}

// Join binds token to a persisted meeting, creating it on the first join
// only. Repeated joins with the same token attach to the same meeting.
func (o *Orchestrator) Join(ctx context.Context, senderID string, req JoinRequest) (*JoinResult, error) {
	token := strings.TrimSpace(req.Token)
	userID := strings.TrimSpace(req.UserID)
	if token == "" || userID == "" {
		return nil, fmt.Errorf("join requires meeting token and user id: %w", ErrInvalidRequest)
	}

	var relID *uuid.UUID
	if s := strings.TrimSpace(req.RelationshipID); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("relationship id %q: %w", s, ErrInvalidRequest)
		}
		relID = &id
	}

	meetingType := strings.ToUpper(strings.TrimSpace(req.MeetingType))
	if meetingType == "" {
		meetingType = "GENERAL"
	}

	e, created, err := o.sessions.GetOrCreate(ctx, token, func(ctx context.Context) (session.Binding, error) {
		m, err := o.store.CreateMeeting(ctx, store.NewMeeting{
			Title:          req.Title,
			UserID:         userID,
			RelationshipID: relID,
			MeetingType:    meetingType,
			StartedAt:      o.now(),
		})
		if err != nil {
			return session.Binding{}, fmt.Errorf("create meeting: %w", err)
		}
		return session.Binding{
			MeetingID:      m.ID,
			RelationshipID: m.RelationshipID,
			UserID:         userID,
			Title:          m.Title,
			MeetingType:    m.MeetingType,
			MeetingNumber:  m.MeetingNumber,
			StartedAt:      m.StartedAt,
		}, nil
	})
	if err != nil {
		o.logger.Error("join failed", "token", token, "user_id", userID, "error", err)
		return nil, err
	}

	if created {
		o.logger.Info("meeting started", "token", token, "meeting_id", e.MeetingID.String(), "meeting_number", e.MeetingNumber)
		o.publish(hermes.SubjectMeetingStarted, hermes.MeetingStarted{
			MeetingID:      e.MeetingID.String(),
			RelationshipID: uuidString(e.RelationshipID),
			UserID:         e.UserID,
			MeetingType:    e.MeetingType,
			MeetingNumber:  e.MeetingNumber,
			StartedAt:      e.StartedAt,
		})
	}

	o.out.BroadcastExcept(token, senderID, EventParticipantJoined, ParticipantEvent{UserID: userID, Timestamp: o.now()})
	o.out.SendTo(senderID, EventJoined, JoinedEvent{
		Token:          token,
		MeetingID:      e.MeetingID.String(),
		RelationshipID: uuidString(e.RelationshipID),
		MeetingNumber:  e.MeetingNumber,
	})

	return &JoinResult{
		MeetingID:      e.MeetingID,
		RelationshipID: e.RelationshipID,
		MeetingNumber:  e.MeetingNumber,
		Created:        created,
	}, nil
}

type LeaveRequest struct {
	Token      string `json:"meetingId"`
	UserID     string `json:"userId"`
	EndMeeting bool   `json:"endMeeting"`
}

// Leave announces the departure to the other participants. With
// EndMeeting set it also runs the teardown on the session's queue, behind
// any fragments still in flight, and waits for it.
func (o *Orchestrator) Leave(ctx context.Context, senderID string, req LeaveRequest) error {
	token := strings.TrimSpace(req.Token)
	if token == "" {
		return fmt.Errorf("leave requires meeting token: %w", ErrInvalidRequest)
	}

	o.out.BroadcastExcept(token, senderID, EventParticipantLeft, ParticipantEvent{UserID: req.UserID, Timestamp: o.now()})
	if !req.EndMeeting {
		return nil
	}

	e, ok := o.sessions.Get(token)
	if !ok {
		return fmt.Errorf("leave %s: %w", token, ErrSessionNotFound)
	}
	// Another end may have torn the session down while this job was queued.
	ended := false
	err := e.SubmitWait(ctx, func(jctx context.Context) {
		if e.Closed() {
			ended = true
			return
		}
		o.teardown(jctx, e)
	})
	if errors.Is(err, session.ErrClosed) || (err == nil && ended) {
		return fmt.Errorf("leave %s: %w", token, ErrSessionNotFound)
	}
	return err
}

func (o *Orchestrator) publish(subject string, data any) {
	if o.pub == nil {
		return
	}
	if err := o.pub.Publish(subject, data); err != nil {
		o.logger.Warn("failed to publish signal", "subject", subject, "error", err)
	}
}

func uuidString(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}
