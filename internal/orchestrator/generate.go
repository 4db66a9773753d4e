package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/MikeSquared-Agency/onno/internal/aiservice"
	"github.com/MikeSquared-Agency/onno/internal/leveling"
	"github.com/MikeSquared-Agency/onno/internal/session"
	"github.com/MikeSquared-Agency/onno/internal/store"
)

var errNoQuestions = errors.New("no questions returned")

// strategy is one way of producing questions. Strategies are tried in
// order and the first success wins.
type strategy struct {
	name     string
	applies  func(e *session.Entry) bool
	generate func(ctx context.Context, e *session.Entry, req aiservice.GenerateRequest) ([]aiservice.Question, error)
}

func hasRelationship(e *session.Entry) bool { return e.RelationshipID != nil }

func always(*session.Entry) bool { return true }

// generate runs the strategy chain. It returns the questions and the name
// of the strategy that produced them, or nil when every strategy failed.
func (o *Orchestrator) generate(ctx context.Context, e *session.Entry, text, userID string) ([]aiservice.Question, string) {
	req := aiservice.GenerateRequest{Transcript: text, Persona: o.persona(ctx, e, userID)}
	for _, s := range o.strategies {
		if !s.applies(e) {
			continue
		}
		qs, err := s.generate(ctx, e, req)
		if err == nil && len(qs) == 0 {
			err = errNoQuestions
		}
		if err != nil {
			o.logger.Warn("question strategy failed", "strategy", s.name, "token", e.Token, "error", err)
			continue
		}
		return qs, s.name
	}
	return nil, ""
}

func (o *Orchestrator) generateBasic(ctx context.Context, _ *session.Entry, req aiservice.GenerateRequest) ([]aiservice.Question, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.GenerateTimeout)
	defer cancel()
	return o.ai.GenerateQuestions(ctx, req)
}

// generateWithContext assembles the relationship profile and recent
// meeting history. Every lookup shares the context-aware timeout.
func (o *Orchestrator) generateWithContext(ctx context.Context, e *session.Entry, req aiservice.GenerateRequest) ([]aiservice.Question, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.ContextTimeout)
	defer cancel()

	rel, err := o.store.GetRelationship(ctx, *e.RelationshipID)
	if err != nil {
		return nil, fmt.Errorf("load relationship: %w", err)
	}
	recent, err := o.store.RecentMeetings(ctx, rel.ID, o.cfg.RecentMeetings)
	if err != nil {
		return nil, fmt.Errorf("load recent meetings: %w", err)
	}

	req.Relationship = relationshipContext(rel, e.MeetingNumber, recent)
	return o.ai.GenerateWithRelationship(ctx, req)
}

func relationshipContext(rel *store.Relationship, meetingNumber int, recent []store.MeetingDigest) *aiservice.RelationshipContext {
	data := rel.StructuredData
	if data == nil {
		data = map[string]any{}
	}
	rc := &aiservice.RelationshipContext{
		Name:           rel.Name,
		Type:           rel.Type,
		Industry:       rel.Industry,
		Stage:          rel.Stage,
		Notes:          rel.Notes,
		StructuredData: data,
		MeetingNumber:  meetingNumber,
		RecentMeetings: make([]aiservice.RecentMeeting, 0, len(recent)),
	}
	for _, d := range recent {
		kq := d.UsedQuestions
		if kq == nil {
			kq = []string{}
		}
		rc.RecentMeetings = append(rc.RecentMeetings, aiservice.RecentMeeting{
			Date:         d.StartedAt.Format("2006-01-02"),
			Summary:      d.Summary,
			KeyQuestions: kq,
		})
	}
	return rc
}

// persona is the user's persona in the meeting's domain, sent as a style
// hint. Lookup failures leave it empty.
func (o *Orchestrator) persona(ctx context.Context, e *session.Entry, userID string) string {
	if userID == "" || o.levels == nil {
		return ""
	}
	dl, err := o.levels.Level(ctx, userID, leveling.DomainFor(e.MeetingType))
	if err != nil {
		o.logger.Debug("persona lookup failed", "user_id", userID, "error", err)
		return ""
	}
	return dl.Persona
}
