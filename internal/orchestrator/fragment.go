package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/onno/internal/aiservice"
	"github.com/MikeSquared-Agency/onno/internal/preference"
	"github.com/MikeSquared-Agency/onno/internal/session"
	"github.com/MikeSquared-Agency/onno/internal/store"
	"github.com/MikeSquared-Agency/onno/internal/transcript"
)

// AudioFragment is one chunk of meeting audio from one connection.
type AudioFragment struct {
	Token    string
	SenderID string
	UserID   string
	Audio    []byte
	Filename string
}

// SubmitFragment queues f on its session. It returns once the fragment is
// queued, not processed.
func (o *Orchestrator) SubmitFragment(f AudioFragment) error {
	e, ok := o.sessions.Get(f.Token)
	if !ok {
		return fmt.Errorf("fragment for %s: %w", f.Token, ErrSessionNotFound)
	}
	if err := e.Submit(func(ctx context.Context) { o.processFragment(ctx, e, f) }); err != nil {
		return fmt.Errorf("fragment for %s: %w", f.Token, err)
	}
	return nil
}

// ProcessFragment queues f and waits until it has been processed.
func (o *Orchestrator) ProcessFragment(ctx context.Context, f AudioFragment) error {
	e, ok := o.sessions.Get(f.Token)
	if !ok {
		return fmt.Errorf("fragment for %s: %w", f.Token, ErrSessionNotFound)
	}
	if err := e.SubmitWait(ctx, func(jctx context.Context) { o.processFragment(jctx, e, f) }); err != nil {
		return fmt.Errorf("fragment for %s: %w", f.Token, err)
	}
	return nil
}

func (o *Orchestrator) processFragment(ctx context.Context, e *session.Entry, f AudioFragment) {
	log := o.logger.With("token", e.Token, "meeting_id", e.MeetingID.String())

	tctx, cancel := context.WithTimeout(ctx, o.cfg.TranscribeTimeout)
	t, err := o.ai.Transcribe(tctx, f.Audio, f.Filename)
	cancel()
	if err != nil {
		log.Warn("transcription failed", "error", err)
		o.out.SendTo(f.SenderID, EventError, ErrorEvent{
			Type:    ErrorTypeAudioProcessing,
			Message: "Failed to process audio: " + err.Error(),
		})
		return
	}

	raw := t.Text
	if strings.TrimSpace(raw) == "" {
		return
	}

	out := e.Reconcile(raw)
	if out.Kind == transcript.Discard {
		log.Debug("fragment discarded", "text_len", utf8.RuneCountInString(raw))
		return
	}

	ev := TranscriptionEvent{
		ID:            uuid.NewString(),
		Text:          out.Text,
		FormattedText: t.FormattedText,
		Segments:      make([]SegmentEvent, 0, len(t.Segments)),
		Timestamp:     o.now(),
		Latency:       t.Latency,
		Provider:      t.Provider,
	}
	for _, s := range t.Segments {
		ev.Segments = append(ev.Segments, SegmentEvent(s))
	}
	o.out.Broadcast(e.Token, EventTranscription, ev)

	o.saveTranscripts(ctx, e, t, out)

	if utf8.RuneCountInString(raw) > o.cfg.TriggerLength {
		userID := f.UserID
		if userID == "" {
			userID = e.UserID
		}
		o.suggest(ctx, e, raw, userID)
	}
}

// saveTranscripts writes one row per segment, or one row carrying the
// emitted text when the service returned no segmentation.
func (o *Orchestrator) saveTranscripts(ctx context.Context, e *session.Entry, t *aiservice.Transcription, out transcript.Outcome) {
	rows := make([]store.Transcript, 0, len(t.Segments))
	for _, s := range t.Segments {
		rows = append(rows, store.Transcript{
			MeetingID:   e.MeetingID,
			Text:        s.Text,
			Speaker:     s.Speaker,
			SpeakerRole: s.SpeakerRole,
			StartTime:   s.StartTime,
			Provider:    t.Provider,
			Latency:     t.Latency,
		})
	}
	if len(rows) == 0 {
		rows = append(rows, store.Transcript{
			MeetingID:     e.MeetingID,
			Text:          out.Text,
			FormattedText: t.FormattedText,
			Provider:      t.Provider,
			Latency:       t.Latency,
		})
	}
	for _, row := range rows {
		if err := o.store.AddTranscript(ctx, row); err != nil {
			o.logger.Error("failed to save transcript", "meeting_id", e.MeetingID.String(), "error", err)
		}
	}
}

// suggest generates, personalizes, emits and records questions for one
// transcript.
func (o *Orchestrator) suggest(ctx context.Context, e *session.Entry, text, userID string) {
	qs, via := o.generate(ctx, e, text, userID)
	if len(qs) == 0 {
		return
	}

	cands := make([]preference.Candidate, len(qs))
	for i, q := range qs {
		cands[i] = preference.Candidate{Text: q.Text, Category: q.Category, Priority: int(q.Priority), Reason: q.Reason}
	}

	ranked := preference.Unranked(cands)
	if userID != "" {
		r, err := o.prefs.Personalize(ctx, userID, cands)
		if err != nil {
			o.logger.Warn("personalization failed, using generator order", "user_id", userID, "error", err)
		} else {
			ranked = r
		}
	}

	snippet := tail(text, o.cfg.ContextSnippet)
	for _, r := range ranked {
		id := uuid.New()
		o.out.Broadcast(e.Token, EventQuestionSuggested, QuestionEvent{
			ID:        id.String(),
			Text:      r.Text,
			Category:  r.Category,
			Priority:  r.Priority,
			Reason:    r.Reason,
			Timestamp: o.now(),
		})
		if err := o.store.AddQuestion(ctx, store.Question{
			ID:        id,
			MeetingID: e.MeetingID,
			Text:      r.Text,
			Category:  preference.NormalizeCategory(r.Category),
			Priority:  r.Priority,
			Reason:    r.Reason,
			Context:   snippet,
		}); err != nil {
			o.logger.Error("failed to save question", "meeting_id", e.MeetingID.String(), "error", err)
		}
	}
	o.logger.Info("questions suggested", "token", e.Token, "count", len(ranked), "strategy", via)
}

// tail returns the last n runes of s.
func tail(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}
