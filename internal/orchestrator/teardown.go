package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/MikeSquared-Agency/onno/internal/aiservice"
	"github.com/MikeSquared-Agency/onno/internal/hermes"
	"github.com/MikeSquared-Agency/onno/internal/leveling"
	"github.com/MikeSquared-Agency/onno/internal/session"
	"github.com/MikeSquared-Agency/onno/internal/slack"
	"github.com/MikeSquared-Agency/onno/internal/store"
)

// summaryKeywords are the terms the local fallback looks for when picking
// key points.
var summaryKeywords = []string{"MRR", "CAC", "LTV", "Churn", "매출", "투자", "성장률", "팀", "기술"}

// teardown ends the meeting, summarizes and rewards it, notifies everyone
// and releases the session. Each step logs its failure and moves on.
func (o *Orchestrator) teardown(ctx context.Context, e *session.Entry) {
	log := o.logger.With("token", e.Token, "meeting_id", e.MeetingID.String())
	endedAt := o.now()

	duration := endedAt.Sub(e.StartedAt)
	if m, err := o.store.EndMeeting(ctx, e.MeetingID, endedAt); err != nil {
		log.Error("failed to end meeting", "error", err)
	} else {
		duration = time.Duration(m.DurationSeconds) * time.Second
	}

	var rel *store.Relationship
	if e.RelationshipID != nil {
		r, err := o.store.GetRelationship(ctx, *e.RelationshipID)
		if err != nil {
			log.Warn("relationship unavailable for summary", "error", err)
		} else {
			rel = r
		}
	}

	transcripts, err := o.store.ListTranscripts(ctx, e.MeetingID)
	if err != nil {
		log.Error("failed to list transcripts", "error", err)
	}
	questions, err := o.store.ListQuestions(ctx, e.MeetingID)
	if err != nil {
		log.Error("failed to list questions", "error", err)
	}

	sum, fallback := o.summarize(ctx, transcripts, questions, rel)
	if fallback {
		log.Warn("using local summary")
	}

	if err := o.store.SaveMeetingSummary(ctx, store.MeetingSummary{
		MeetingID:            e.MeetingID,
		Summary:              sum.Summary,
		KeyPoints:            sum.KeyPoints,
		Decisions:            sum.Decisions,
		ActionItems:          sum.ActionItems,
		KeyQuestions:         sum.KeyQuestions,
		MissedQuestions:      sum.MissedQuestions,
		SuggestedDataUpdates: sum.SuggestedDataUpdates,
		NextMeetingAgenda:    sum.NextMeetingAgenda,
	}); err != nil {
		log.Error("failed to save summary", "error", err)
	}
	if err := o.store.SetMeetingSummary(ctx, e.MeetingID, truncateRunes(sum.Summary, o.cfg.SummaryMaxRunes)); err != nil {
		log.Error("failed to set meeting summary", "error", err)
	}

	if rel != nil && len(sum.SuggestedDataUpdates) > 0 {
		updates := make(map[string]any, len(sum.SuggestedDataUpdates)+2)
		for k, v := range sum.SuggestedDataUpdates {
			updates[k] = v
		}
		updates["_lastUpdated"] = endedAt.Format(time.RFC3339)
		updates["_updateSource"] = "meeting_summary"
		if err := o.store.MergeRelationshipData(ctx, rel.ID, updates); err != nil {
			log.Error("failed to merge relationship data", "relationship_id", rel.ID.String(), "error", err)
		}
	}

	if len(sum.KeyQuestions) > 0 {
		if _, err := o.store.MarkQuestionsUsedByText(ctx, e.MeetingID, sum.KeyQuestions); err != nil {
			log.Error("failed to mark key questions used", "error", err)
		}
	}

	used, err := o.store.CountUsedQuestions(ctx, e.MeetingID)
	if err != nil {
		log.Error("failed to count used questions", "error", err)
	}

	var reward leveling.Reward
	if e.UserID != "" && o.levels != nil {
		reward, err = o.levels.RewardMeetingComplete(ctx, e.UserID, leveling.DomainFor(e.MeetingType), used)
		if err != nil {
			log.Error("failed to reward meeting", "user_id", e.UserID, "error", err)
		}
	}

	o.out.Broadcast(e.Token, EventMeetingSummary, SummaryEvent{
		MeetingID:         e.MeetingID.String(),
		Summary:           sum.Summary,
		KeyPoints:         nonNil(sum.KeyPoints),
		ActionItems:       nonNil(sum.ActionItems),
		NextMeetingAgenda: nonNil(sum.NextMeetingAgenda),
		QuestionsUsed:     used,
		XPEarned:          reward.TotalXPEarned,
		Fallback:          fallback,
		Timestamp:         endedAt,
	})

	if reward.LeveledUp {
		o.out.Broadcast(e.Token, EventLevelUp, LevelUpEvent{
			UserID:      e.UserID,
			Domain:      string(reward.Domain),
			NewLevel:    reward.NewLevel,
			NewFeatures: nonNil(reward.NewFeatures),
			Timestamp:   endedAt,
		})
		o.publish(hermes.SubjectLevelUp, hermes.LevelUp{
			UserID:      e.UserID,
			Domain:      string(reward.Domain),
			NewLevel:    reward.NewLevel,
			NewFeatures: nonNil(reward.NewFeatures),
			MeetingID:   e.MeetingID.String(),
			At:          endedAt,
		})
	}

	o.publish(hermes.SubjectMeetingEnded, hermes.MeetingEnded{
		MeetingID:       e.MeetingID.String(),
		RelationshipID:  uuidString(e.RelationshipID),
		UserID:          e.UserID,
		MeetingType:     e.MeetingType,
		DurationSeconds: int(duration.Seconds()),
		QuestionsUsed:   used,
		XPEarned:        reward.TotalXPEarned,
		SummaryFallback: fallback,
		EndedAt:         endedAt,
	})

	if o.digest != nil {
		if _, err := o.digest.PostMeetingDigest(ctx, slack.Digest{
			MeetingID:       e.MeetingID.String(),
			Title:           e.Title,
			MeetingType:     e.MeetingType,
			MeetingNumber:   e.MeetingNumber,
			Duration:        duration,
			Summary:         sum.Summary,
			KeyPoints:       sum.KeyPoints,
			ActionItems:     sum.ActionItems,
			MissedQuestions: sum.MissedQuestions,
			QuestionsUsed:   used,
			XPEarned:        reward.TotalXPEarned,
			LeveledUp:       reward.LeveledUp,
			NewLevel:        reward.NewLevel,
			Fallback:        fallback,
		}); err != nil {
			log.Warn("failed to post meeting digest", "error", err)
		}
	}

	o.sessions.Remove(e.Token)
	log.Info("meeting ended", "duration_seconds", int(duration.Seconds()), "questions_used", used, "xp", reward.TotalXPEarned, "leveled_up", reward.LeveledUp)
}

// summarize asks the AI service for a summary and falls back to a local
// one on any failure. The bool reports whether the fallback was used.
func (o *Orchestrator) summarize(ctx context.Context, transcripts []store.Transcript, questions []store.Question, rel *store.Relationship) (*aiservice.Summary, bool) {
	req := aiservice.SummaryRequest{
		Transcripts: make([]aiservice.SummaryTranscript, 0, len(transcripts)),
		Questions:   make([]aiservice.SummaryQuestion, 0, len(questions)),
	}
	for _, t := range transcripts {
		req.Transcripts = append(req.Transcripts, aiservice.SummaryTranscript{
			Text:        t.Text,
			Speaker:     t.Speaker,
			SpeakerRole: t.SpeakerRole,
			StartTime:   t.StartTime,
		})
	}
	for _, q := range questions {
		req.Questions = append(req.Questions, aiservice.SummaryQuestion{Text: q.Text, Category: q.Category, IsUsed: q.IsUsed})
	}
	if rel != nil {
		req.RelationshipContext = &aiservice.SummaryRelationship{
			Name:           rel.Name,
			Type:           rel.Type,
			Industry:       rel.Industry,
			Stage:          rel.Stage,
			StructuredData: rel.StructuredData,
		}
	}

	sctx, cancel := context.WithTimeout(ctx, o.cfg.SummaryTimeout)
	defer cancel()
	s, err := o.ai.Summarize(sctx, req)
	if err != nil {
		o.logger.Warn("summary generation failed", "error", err)
		return localSummary(transcripts, questions), true
	}
	return s, false
}

// localSummary builds a summary from what was recorded: keyword sentences
// as key points, used questions as key questions, the rest as missed.
func localSummary(transcripts []store.Transcript, questions []store.Question) *aiservice.Summary {
	texts := make([]string, len(transcripts))
	for i, t := range transcripts {
		texts[i] = t.Text
	}
	full := strings.Join(texts, " ")

	var keyPoints []string
	for _, kw := range summaryKeywords {
		if !strings.Contains(full, kw) {
			continue
		}
		for _, sentence := range splitSentences(full) {
			if strings.Contains(sentence, kw) {
				keyPoints = append(keyPoints, truncateRunes(strings.TrimSpace(sentence), 100)+"...")
				break
			}
		}
	}

	var used, missed []string
	for _, q := range questions {
		if q.IsUsed {
			used = append(used, q.Text)
		} else {
			missed = append(missed, q.Text)
		}
	}
	keyQuestions := firstN(used, 5)
	missedQuestions := firstN(missed, 5)

	return &aiservice.Summary{
		Summary:           fmt.Sprintf("The meeting had %d utterances. %d key topics were discussed.", len(transcripts), len(keyPoints)),
		KeyPoints:         firstN(keyPoints, 5),
		Decisions:         []string{},
		ActionItems:       []string{},
		KeyQuestions:      keyQuestions,
		MissedQuestions:   missedQuestions,
		NextMeetingAgenda: firstN(missedQuestions, 3),
	}
}

func splitSentences(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	})
}

func firstN(s []string, n int) []string {
	if len(s) > n {
		s = s[:n]
	}
	return append([]string{}, s...)
}

func truncateRunes(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
