package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/MikeSquared-Agency/onno/internal/aiservice"
	"github.com/MikeSquared-Agency/onno/internal/hermes"
	"github.com/MikeSquared-Agency/onno/internal/leveling"
	"github.com/MikeSquared-Agency/onno/internal/preference"
	"github.com/MikeSquared-Agency/onno/internal/session"
	"github.com/MikeSquared-Agency/onno/internal/slack"
	"github.com/MikeSquared-Agency/onno/internal/store"
	"github.com/MikeSquared-Agency/onno/internal/testutil"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type sent struct {
	room   string
	except string
	to     string
	event  string
	data   any
}

type fakeBroadcaster struct {
	mu   sync.Mutex
	sent []sent
}

func (b *fakeBroadcaster) Broadcast(room, event string, data any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, sent{room: room, event: event, data: data})
}

func (b *fakeBroadcaster) BroadcastExcept(room, senderID, event string, data any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, sent{room: room, except: senderID, event: event, data: data})
}

func (b *fakeBroadcaster) SendTo(senderID, event string, data any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, sent{to: senderID, event: event, data: data})
}

func (b *fakeBroadcaster) events(name string) []sent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []sent
	for _, s := range b.sent {
		if s.event == name {
			out = append(out, s)
		}
	}
	return out
}

type fakeAI struct {
	mu sync.Mutex

	texts         []string
	segments      []aiservice.Segment
	transcribeErr error

	basic      []aiservice.Question
	basicErr   error
	contextual []aiservice.Question
	contextErr error

	summary    *aiservice.Summary
	summaryErr error

	calls        []string
	lastGenerate aiservice.GenerateRequest
	lastSummary  aiservice.SummaryRequest
}

func (f *fakeAI) Transcribe(_ context.Context, _ []byte, _ string) (*aiservice.Transcription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "transcribe")
	if f.transcribeErr != nil {
		return nil, f.transcribeErr
	}
	text := ""
	if len(f.texts) > 0 {
		text, f.texts = f.texts[0], f.texts[1:]
	}
	latency := 0.2
	return &aiservice.Transcription{Text: text, Segments: f.segments, Latency: &latency, Provider: "fake"}, nil
}

func (f *fakeAI) GenerateQuestions(_ context.Context, req aiservice.GenerateRequest) ([]aiservice.Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "basic")
	f.lastGenerate = req
	return f.basic, f.basicErr
}

func (f *fakeAI) GenerateWithRelationship(_ context.Context, req aiservice.GenerateRequest) ([]aiservice.Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "context")
	f.lastGenerate = req
	return f.contextual, f.contextErr
}

func (f *fakeAI) Summarize(_ context.Context, req aiservice.SummaryRequest) (*aiservice.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "summary")
	f.lastSummary = req
	return f.summary, f.summaryErr
}

func (f *fakeAI) called(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == name {
			n++
		}
	}
	return n
}

type fakePublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads []any
}

func (p *fakePublisher) Publish(subject string, data any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, data)
	return nil
}

type fakeDigest struct {
	mu      sync.Mutex
	digests []slack.Digest
}

func (d *fakeDigest) PostMeetingDigest(_ context.Context, dg slack.Digest) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.digests = append(d.digests, dg)
	return "1.0", nil
}

type harness struct {
	o      *Orchestrator
	store  *testutil.MockStore
	ai     *fakeAI
	out    *fakeBroadcaster
	pub    *fakePublisher
	digest *fakeDigest
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:  testutil.NewMockStore(),
		ai:     &fakeAI{},
		out:    &fakeBroadcaster{},
		pub:    &fakePublisher{},
		digest: &fakeDigest{},
	}
	logger := discardLogger()
	h.o = New(Deps{
		Store:       h.store,
		AI:          h.ai,
		Sessions:    session.NewRegistry(session.DefaultConfig(), logger),
		Preferences: preference.NewEngine(h.store, preference.DefaultMultiplier, logger),
		Levels:      leveling.NewEngine(h.store, leveling.DefaultPolicy(), logger),
		Broadcaster: h.out,
		Publisher:   h.pub,
		Digest:      h.digest,
	}, DefaultConfig(), logger)
	return h
}

func (h *harness) join(t *testing.T, req JoinRequest) *JoinResult {
	t.Helper()
	res, err := h.o.Join(context.Background(), "conn-1", req)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	return res
}

func (h *harness) fragment(t *testing.T, token string) {
	t.Helper()
	if err := h.o.ProcessFragment(context.Background(), AudioFragment{Token: token, SenderID: "conn-1", Audio: []byte("audio")}); err != nil {
		t.Fatalf("process fragment: %v", err)
	}
}

const longText = "Our monthly recurring revenue grew forty percent and CAC dropped by half."

func TestJoin_RequiresTokenAndUser(t *testing.T) {
	tests := []struct {
		name string
		req  JoinRequest
	}{
		{"missing token", JoinRequest{UserID: "user-1"}},
		{"missing user", JoinRequest{Token: "tok-1"}},
		{"blank token", JoinRequest{Token: "   ", UserID: "user-1"}},
		{"bad relationship", JoinRequest{Token: "tok-1", UserID: "user-1", RelationshipID: "not-a-uuid"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			_, err := h.o.Join(context.Background(), "conn-1", tt.req)
			if !errors.Is(err, ErrInvalidRequest) {
				t.Fatalf("expected ErrInvalidRequest, got %v", err)
			}
			if h.o.ActiveSessions() != 0 {
				t.Error("expected no session")
			}
			if h.store.CreateMeetingCalls != 0 {
				t.Error("expected no meeting created")
			}
		})
	}
}

func TestJoin_IsIdempotentPerToken(t *testing.T) {
	h := newHarness(t)

	first := h.join(t, JoinRequest{Token: "tok-1", UserID: "user-1", Title: "Intro"})
	second, err := h.o.Join(context.Background(), "conn-2", JoinRequest{Token: "tok-1", UserID: "user-2"})
	if err != nil {
		t.Fatalf("second join: %v", err)
	}

	if h.store.CreateMeetingCalls != 1 {
		t.Errorf("expected one meeting created, got %d", h.store.CreateMeetingCalls)
	}
	if first.MeetingID != second.MeetingID {
		t.Error("expected both joins bound to the same meeting")
	}
	if !first.Created || second.Created {
		t.Errorf("expected only the first join to create, got %v %v", first.Created, second.Created)
	}
	if first.MeetingNumber != 1 {
		t.Errorf("expected meeting number 1 for unbound meeting, got %d", first.MeetingNumber)
	}

	joined := h.out.events(EventJoined)
	if len(joined) != 2 || joined[0].to != "conn-1" || joined[1].to != "conn-2" {
		t.Fatalf("expected joined sent to each sender, got %+v", joined)
	}
	if ev := joined[0].data.(JoinedEvent); ev.MeetingID != first.MeetingID.String() || ev.Token != "tok-1" {
		t.Errorf("unexpected joined payload %+v", ev)
	}

	pj := h.out.events(EventParticipantJoined)
	if len(pj) != 2 || pj[1].except != "conn-2" || pj[1].room != "tok-1" {
		t.Errorf("expected participant_joined to others, got %+v", pj)
	}

	if len(h.pub.subjects) != 1 || h.pub.subjects[0] != hermes.SubjectMeetingStarted {
		t.Errorf("expected one meeting started signal, got %v", h.pub.subjects)
	}
}

func TestJoin_NumbersMeetingsPerRelationship(t *testing.T) {
	h := newHarness(t)
	relID := h.store.AddRelationship(store.Relationship{Name: "Acme", Type: "STARTUP"})

	a := h.join(t, JoinRequest{Token: "tok-a", UserID: "user-1", RelationshipID: relID.String()})
	b := h.join(t, JoinRequest{Token: "tok-b", UserID: "user-1", RelationshipID: relID.String()})

	if a.MeetingNumber != 1 || b.MeetingNumber != 2 {
		t.Errorf("expected meeting numbers 1 and 2, got %d and %d", a.MeetingNumber, b.MeetingNumber)
	}
	if b.RelationshipID == nil || *b.RelationshipID != relID {
		t.Errorf("expected relationship bound, got %v", b.RelationshipID)
	}
}

func TestJoin_CreateFailureLeavesNoSession(t *testing.T) {
	h := newHarness(t)
	h.store.CreateMeetingErr = errors.New("db down")

	if _, err := h.o.Join(context.Background(), "conn-1", JoinRequest{Token: "tok-1", UserID: "user-1"}); err == nil {
		t.Fatal("expected error")
	}
	if h.o.ActiveSessions() != 0 {
		t.Error("expected no session after failed create")
	}
	if len(h.out.events(EventJoined)) != 0 {
		t.Error("expected no joined event")
	}

	h.store.CreateMeetingErr = nil
	if _, err := h.o.Join(context.Background(), "conn-1", JoinRequest{Token: "tok-1", UserID: "user-1"}); err != nil {
		t.Fatalf("expected retry to succeed: %v", err)
	}
}

func TestFragment_UnknownSession(t *testing.T) {
	h := newHarness(t)
	err := h.o.SubmitFragment(AudioFragment{Token: "nope", Audio: []byte("x")})
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestFragment_TranscriptionFailureNotifiesSender(t *testing.T) {
	h := newHarness(t)
	h.join(t, JoinRequest{Token: "tok-1", UserID: "user-1"})
	h.ai.transcribeErr = errors.New("api error 503: busy")

	h.fragment(t, "tok-1")

	errs := h.out.events(EventError)
	if len(errs) != 1 || errs[0].to != "conn-1" {
		t.Fatalf("expected one error to sender, got %+v", errs)
	}
	if ev := errs[0].data.(ErrorEvent); ev.Type != ErrorTypeAudioProcessing || !strings.Contains(ev.Message, "busy") {
		t.Errorf("unexpected error payload %+v", ev)
	}
	if len(h.out.events(EventTranscription)) != 0 || h.store.AddTranscriptCalls != 0 {
		t.Error("expected processing to stop after transcription failure")
	}
}

func TestFragment_BlankTextIsDropped(t *testing.T) {
	h := newHarness(t)
	h.join(t, JoinRequest{Token: "tok-1", UserID: "user-1"})
	h.ai.texts = []string{"   "}

	h.fragment(t, "tok-1")

	if len(h.out.events(EventTranscription)) != 0 || h.store.AddTranscriptCalls != 0 {
		t.Error("expected blank transcription to be dropped")
	}
}

func TestFragment_GrowingTranscriptEmitsDelta(t *testing.T) {
	h := newHarness(t)
	h.join(t, JoinRequest{Token: "tok-1", UserID: "user-1"})
	first := "We currently have two hundred paying users"
	h.ai.texts = []string{first, first + " in total across Korea", first}

	h.fragment(t, "tok-1")
	h.fragment(t, "tok-1")
	h.fragment(t, "tok-1")

	ev := h.out.events(EventTranscription)
	if len(ev) != 2 {
		t.Fatalf("expected 2 transcription events, got %d", len(ev))
	}
	if got := ev[0].data.(TranscriptionEvent).Text; got != first {
		t.Errorf("expected first text in full, got %q", got)
	}
	if got := ev[1].data.(TranscriptionEvent).Text; got != "in total across Korea" {
		t.Errorf("expected only the delta, got %q", got)
	}
	if ev[1].room != "tok-1" {
		t.Errorf("expected broadcast to the session room, got %q", ev[1].room)
	}

	if len(h.store.Transcripts) != 2 || h.store.Transcripts[1].Text != "in total across Korea" {
		t.Errorf("expected delta persisted, got %+v", h.store.Transcripts)
	}
}

func TestFragment_PersistsOneRowPerSegment(t *testing.T) {
	h := newHarness(t)
	res := h.join(t, JoinRequest{Token: "tok-1", UserID: "user-1"})
	start := 1.0
	h.ai.texts = []string{"Hello there. How are you?"}
	h.ai.segments = []aiservice.Segment{
		{Text: "Hello there.", Speaker: "A", SpeakerRole: "investor", StartTime: &start},
		{Text: "How are you?", Speaker: "B", SpeakerRole: "founder"},
	}

	h.fragment(t, "tok-1")

	if len(h.store.Transcripts) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(h.store.Transcripts))
	}
	if row := h.store.Transcripts[0]; row.MeetingID != res.MeetingID || row.SpeakerRole != "investor" || *row.StartTime != 1.0 || row.Provider != "fake" {
		t.Errorf("unexpected first row %+v", row)
	}
	ev := h.out.events(EventTranscription)[0].data.(TranscriptionEvent)
	if len(ev.Segments) != 2 || ev.Segments[1].Speaker != "B" {
		t.Errorf("expected segments in event, got %+v", ev.Segments)
	}
}

func TestFragment_ShortTextSkipsGeneration(t *testing.T) {
	h := newHarness(t)
	h.join(t, JoinRequest{Token: "tok-1", UserID: "user-1"})
	h.ai.texts = []string{"Exactly fifty characters of speech, give or take!!"}
	h.ai.basic = []aiservice.Question{{Text: "q"}}

	h.fragment(t, "tok-1")

	if h.ai.called("basic") != 0 {
		t.Error("expected no generation at or under the trigger length")
	}
}

func TestFragment_BasicGenerationWithoutRelationship(t *testing.T) {
	h := newHarness(t)
	res := h.join(t, JoinRequest{Token: "tok-1", UserID: "user-1"})
	h.ai.texts = []string{longText}
	h.ai.basic = []aiservice.Question{{Text: "How did you cut CAC?", Category: "financials", Priority: 7}}

	h.fragment(t, "tok-1")

	if h.ai.called("context") != 0 || h.ai.called("basic") != 1 {
		t.Errorf("expected basic path only, calls %v", h.ai.calls)
	}
	if h.ai.lastGenerate.Transcript != longText {
		t.Errorf("expected raw transcript sent, got %q", h.ai.lastGenerate.Transcript)
	}
	if h.ai.lastGenerate.Persona != string(leveling.PersonaAnalyst) {
		t.Errorf("expected default persona hint, got %q", h.ai.lastGenerate.Persona)
	}

	qs := h.out.events(EventQuestionSuggested)
	if len(qs) != 1 {
		t.Fatalf("expected 1 suggestion, got %d", len(qs))
	}
	if len(h.store.Questions) != 1 {
		t.Fatalf("expected 1 persisted question, got %d", len(h.store.Questions))
	}
	q := h.store.Questions[0]
	if q.MeetingID != res.MeetingID || q.Context != longText || q.Priority != 7 {
		t.Errorf("unexpected persisted question %+v", q)
	}
	if qs[0].data.(QuestionEvent).ID != q.ID.String() {
		t.Error("expected broadcast id to match persisted id")
	}
}

func TestFragment_RelationshipLookupFailureFallsBackToBasic(t *testing.T) {
	h := newHarness(t)
	relID := h.store.AddRelationship(store.Relationship{Name: "Acme", Type: "STARTUP"})
	h.join(t, JoinRequest{Token: "tok-1", UserID: "user-1", RelationshipID: relID.String()})
	h.store.GetRelationshipErr = errors.New("connection reset")
	h.ai.texts = []string{longText}
	h.ai.basic = []aiservice.Question{{Text: "What is next?"}}

	h.fragment(t, "tok-1")

	if h.ai.called("context") != 0 {
		t.Error("expected context-aware endpoint not to be called")
	}
	if len(h.out.events(EventQuestionSuggested)) != 1 {
		t.Fatal("expected basic fallback to still suggest questions")
	}
}

func TestFragment_ContextAwareFailureFallsBackToBasic(t *testing.T) {
	h := newHarness(t)
	relID := h.store.AddRelationship(store.Relationship{Name: "Acme", Type: "STARTUP"})
	h.join(t, JoinRequest{Token: "tok-1", UserID: "user-1", RelationshipID: relID.String()})
	h.ai.texts = []string{longText}
	h.ai.contextErr = errors.New("api error 500: boom")
	h.ai.basic = []aiservice.Question{{Text: "Fallback question"}}

	h.fragment(t, "tok-1")

	if h.ai.called("context") != 1 || h.ai.called("basic") != 1 {
		t.Errorf("expected context then basic, calls %v", h.ai.calls)
	}
	qs := h.out.events(EventQuestionSuggested)
	if len(qs) != 1 || qs[0].data.(QuestionEvent).Text != "Fallback question" {
		t.Errorf("unexpected suggestions %+v", qs)
	}
}

func TestFragment_ContextAwareSendsHistory(t *testing.T) {
	h := newHarness(t)
	relID := h.store.AddRelationship(store.Relationship{
		Name:           "Acme",
		Type:           "STARTUP",
		Industry:       "fintech",
		StructuredData: map[string]any{"mrr": 1000},
	})

	past, _ := h.store.CreateMeeting(context.Background(), store.NewMeeting{UserID: "user-1", RelationshipID: &relID, StartedAt: time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)})
	h.store.EndMeeting(context.Background(), past.ID, time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC))
	h.store.SetMeetingSummary(context.Background(), past.ID, "Intro call")
	h.store.AddQuestion(context.Background(), store.Question{MeetingID: past.ID, Text: "What is your burn?", IsUsed: true})

	h.join(t, JoinRequest{Token: "tok-1", UserID: "user-1", RelationshipID: relID.String()})
	h.ai.texts = []string{longText}
	h.ai.contextual = []aiservice.Question{{Text: "Has burn improved since January?", Category: "financials", Priority: 8}}

	h.fragment(t, "tok-1")

	if h.ai.called("basic") != 0 {
		t.Error("expected context-aware success to skip basic")
	}
	rc := h.ai.lastGenerate.Relationship
	if rc == nil {
		t.Fatal("expected relationship context")
	}
	if rc.Name != "Acme" || rc.Industry != "fintech" || rc.MeetingNumber != 2 || rc.StructuredData["mrr"] != 1000 {
		t.Errorf("unexpected relationship context %+v", rc)
	}
	if len(rc.RecentMeetings) != 1 || rc.RecentMeetings[0].Date != "2026-01-05" || rc.RecentMeetings[0].Summary != "Intro call" {
		t.Fatalf("unexpected recent meetings %+v", rc.RecentMeetings)
	}
	if rc.RecentMeetings[0].KeyQuestions[0] != "What is your burn?" {
		t.Errorf("expected used questions as key questions, got %v", rc.RecentMeetings[0].KeyQuestions)
	}
}

func TestFragment_PersonalizesOrder(t *testing.T) {
	h := newHarness(t)
	h.join(t, JoinRequest{Token: "tok-1", UserID: "user-1"})
	h.store.Preferences["user-1"] = &store.Preferences{UserID: "user-1", Weights: map[string]float64{"risks": 1.0, "team": 0.5}}
	h.ai.texts = []string{longText}
	h.ai.basic = []aiservice.Question{
		{Text: "Who is on the team?", Category: "team", Priority: 6},
		{Text: "What could kill this?", Category: "risks", Priority: 5},
	}

	h.fragment(t, "tok-1")

	qs := h.out.events(EventQuestionSuggested)
	if len(qs) != 2 {
		t.Fatalf("expected 2 suggestions, got %d", len(qs))
	}
	top := qs[0].data.(QuestionEvent)
	if top.Text != "What could kill this?" || top.Priority != 10 {
		t.Errorf("expected risks question first with priority 10, got %+v", top)
	}
}

func TestFragment_MixedPriorityLabels(t *testing.T) {
	h := newHarness(t)
	h.join(t, JoinRequest{Token: "tok-1", UserID: "user-1"})
	h.ai.texts = []string{longText}

	var resp struct {
		Questions []aiservice.Question `json:"questions"`
	}
	raw := `{"questions":[
		{"text":"Can you share the deck?","category":"general","priority":"follow_up"},
		{"text":"What is your CAC?","category":"financials","priority":"critical"},
		{"text":"How big is the team?","category":"team","priority":4},
		{"text":"What is the moat?","category":"market","priority":7}
	]}`
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		t.Fatalf("decode questions: %v", err)
	}
	h.ai.basic = resp.Questions

	h.fragment(t, "tok-1")

	qs := h.out.events(EventQuestionSuggested)
	if len(qs) != 4 {
		t.Fatalf("expected 4 suggestions, got %d", len(qs))
	}
	wantText := []string{"What is your CAC?", "What is the moat?", "How big is the team?", "Can you share the deck?"}
	wantPriority := []int{9, 7, 4, 3}
	for i, s := range qs {
		ev := s.data.(QuestionEvent)
		if ev.Text != wantText[i] || ev.Priority != wantPriority[i] {
			t.Errorf("suggestion %d: expected %q at %d, got %q at %d", i, wantText[i], wantPriority[i], ev.Text, ev.Priority)
		}
	}
	if len(h.store.Questions) != 4 {
		t.Errorf("expected 4 persisted questions, got %d", len(h.store.Questions))
	}
}

func TestFragment_PersonalizationFailureKeepsGeneratorOrder(t *testing.T) {
	h := newHarness(t)
	h.join(t, JoinRequest{Token: "tok-1", UserID: "user-1"})
	h.store.GetPreferencesErr = errors.New("timeout")
	h.ai.texts = []string{longText}
	h.ai.basic = []aiservice.Question{
		{Text: "first", Category: "team", Priority: 1},
		{Text: "second", Category: "risks", Priority: 9},
	}

	h.fragment(t, "tok-1")

	qs := h.out.events(EventQuestionSuggested)
	if len(qs) != 2 || qs[0].data.(QuestionEvent).Text != "first" {
		t.Errorf("expected unranked order, got %+v", qs)
	}
}

func TestFragment_PersistenceFailureStillBroadcasts(t *testing.T) {
	h := newHarness(t)
	h.join(t, JoinRequest{Token: "tok-1", UserID: "user-1"})
	h.store.AddTranscriptErr = errors.New("disk full")
	h.store.AddQuestionErr = errors.New("disk full")
	h.ai.texts = []string{longText}
	h.ai.basic = []aiservice.Question{{Text: "q1"}}

	h.fragment(t, "tok-1")

	if len(h.out.events(EventTranscription)) != 1 || len(h.out.events(EventQuestionSuggested)) != 1 {
		t.Error("expected broadcasts despite persistence failures")
	}
}

func TestLeave_WithoutEndKeepsSession(t *testing.T) {
	h := newHarness(t)
	h.join(t, JoinRequest{Token: "tok-1", UserID: "user-1"})

	if err := h.o.Leave(context.Background(), "conn-1", LeaveRequest{Token: "tok-1", UserID: "user-1"}); err != nil {
		t.Fatalf("leave: %v", err)
	}

	left := h.out.events(EventParticipantLeft)
	if len(left) != 1 || left[0].except != "conn-1" {
		t.Errorf("expected participant_left to others, got %+v", left)
	}
	if h.o.ActiveSessions() != 1 {
		t.Error("expected session to remain active")
	}
	if len(h.out.events(EventMeetingSummary)) != 0 {
		t.Error("expected no summary without end flag")
	}
}

func TestLeave_EndUnknownSession(t *testing.T) {
	h := newHarness(t)
	err := h.o.Leave(context.Background(), "conn-1", LeaveRequest{Token: "tok-1", UserID: "user-1", EndMeeting: true})
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestLeave_EndRunsTeardown(t *testing.T) {
	h := newHarness(t)
	relID := h.store.AddRelationship(store.Relationship{Name: "Acme", Type: "STARTUP", StructuredData: map[string]any{"stage": "seed"}})
	res := h.join(t, JoinRequest{Token: "tok-1", UserID: "user-1", Title: "Acme IR", RelationshipID: relID.String(), MeetingType: "investment_1st"})

	h.ai.texts = []string{longText}
	h.ai.contextual = []aiservice.Question{
		{Text: "What is your CAC payback?", Category: "financials", Priority: 8},
		{Text: "Who else is raising?", Category: "market", Priority: 5},
	}
	h.fragment(t, "tok-1")

	longSummary := strings.Repeat("요", 600)
	h.ai.summary = &aiservice.Summary{
		Summary:              longSummary,
		KeyPoints:            []string{"CAC halved"},
		KeyQuestions:         []string{"What is your CAC payback?"},
		MissedQuestions:      []string{"Who else is raising?"},
		SuggestedDataUpdates: map[string]any{"mrr": 5000.0},
		NextMeetingAgenda:    []string{"Who else is raising?"},
	}

	if err := h.o.Leave(context.Background(), "conn-1", LeaveRequest{Token: "tok-1", UserID: "user-1", EndMeeting: true}); err != nil {
		t.Fatalf("leave: %v", err)
	}

	m := h.store.Meetings[res.MeetingID]
	if m.Status != store.MeetingEnded || m.EndedAt == nil {
		t.Errorf("expected meeting ended, got %+v", m)
	}
	if utf8.RuneCountInString(m.Summary) != 500 {
		t.Errorf("expected summary truncated to 500 runes, got %d", utf8.RuneCountInString(m.Summary))
	}
	if ms, ok := h.store.Summaries[res.MeetingID]; !ok || ms.Summary != longSummary {
		t.Error("expected full summary record saved")
	}
	if len(h.ai.lastSummary.Transcripts) != 1 || len(h.ai.lastSummary.Questions) != 2 || h.ai.lastSummary.RelationshipContext.Name != "Acme" {
		t.Errorf("unexpected summary request %+v", h.ai.lastSummary)
	}

	used := 0
	for _, q := range h.store.Questions {
		if q.IsUsed {
			used++
			if q.Text != "What is your CAC payback?" {
				t.Errorf("unexpected used question %q", q.Text)
			}
		}
	}
	if used != 1 {
		t.Errorf("expected 1 question marked used, got %d", used)
	}

	rel := h.store.Relationships[relID]
	if rel.StructuredData["mrr"] != 5000.0 || rel.StructuredData["stage"] != "seed" || rel.StructuredData["_updateSource"] != "meeting_summary" {
		t.Errorf("unexpected merged data %v", rel.StructuredData)
	}
	if _, ok := rel.StructuredData["_lastUpdated"]; !ok {
		t.Error("expected _lastUpdated marker")
	}

	dl := h.store.Levels["user-1|"+string(leveling.DomainInvestmentScreening)]
	if dl == nil || dl.Experience != 15 {
		t.Fatalf("expected 15 xp in investment screening, got %+v", dl)
	}

	sums := h.out.events(EventMeetingSummary)
	if len(sums) != 1 || sums[0].room != "tok-1" {
		t.Fatalf("expected one summary broadcast, got %+v", sums)
	}
	if ev := sums[0].data.(SummaryEvent); ev.Fallback || ev.QuestionsUsed != 1 || ev.XPEarned != 15 {
		t.Errorf("unexpected summary event %+v", ev)
	}
	if len(h.out.events(EventLevelUp)) != 0 {
		t.Error("did not expect level up")
	}

	if h.o.ActiveSessions() != 0 {
		t.Error("expected session removed")
	}
	if got := h.pub.subjects[len(h.pub.subjects)-1]; got != hermes.SubjectMeetingEnded {
		t.Errorf("expected meeting ended signal last, got %v", h.pub.subjects)
	}
	if len(h.digest.digests) != 1 || h.digest.digests[0].Title != "Acme IR" {
		t.Errorf("expected one digest, got %+v", h.digest.digests)
	}

	if err := h.o.SubmitFragment(AudioFragment{Token: "tok-1"}); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected closed session, got %v", err)
	}
}

func TestLeave_SummaryFailureUsesLocalSummary(t *testing.T) {
	h := newHarness(t)
	res := h.join(t, JoinRequest{Token: "tok-1", UserID: "user-1"})
	h.ai.texts = []string{longText}
	h.ai.basic = []aiservice.Question{{Text: "Unused question"}}
	h.fragment(t, "tok-1")
	h.ai.summaryErr = errors.New("api error 504: timeout")

	if err := h.o.Leave(context.Background(), "conn-1", LeaveRequest{Token: "tok-1", UserID: "user-1", EndMeeting: true}); err != nil {
		t.Fatalf("leave: %v", err)
	}

	sums := h.out.events(EventMeetingSummary)
	if len(sums) != 1 {
		t.Fatal("expected summary broadcast even when the AI call fails")
	}
	ev := sums[0].data.(SummaryEvent)
	if !ev.Fallback || !strings.Contains(ev.Summary, "1 utterances") {
		t.Errorf("unexpected fallback summary %+v", ev)
	}
	if len(ev.NextMeetingAgenda) != 1 || ev.NextMeetingAgenda[0] != "Unused question" {
		t.Errorf("expected missed question on the agenda, got %v", ev.NextMeetingAgenda)
	}
	if _, ok := h.store.Summaries[res.MeetingID]; !ok {
		t.Error("expected fallback summary saved")
	}
}

func TestLeave_LevelUpIsBroadcastAndPublished(t *testing.T) {
	h := newHarness(t)
	h.store.Levels["user-1|GENERAL"] = &store.DomainLevel{
		UserID:           "user-1",
		Domain:           "GENERAL",
		Level:            1,
		Experience:       95,
		UnlockedFeatures: []string{"basic_questions"},
		Persona:          "ANALYST",
	}
	h.join(t, JoinRequest{Token: "tok-1", UserID: "user-1"})
	h.ai.summary = &aiservice.Summary{Summary: "short"}

	if err := h.o.Leave(context.Background(), "conn-1", LeaveRequest{Token: "tok-1", UserID: "user-1", EndMeeting: true}); err != nil {
		t.Fatalf("leave: %v", err)
	}

	ups := h.out.events(EventLevelUp)
	if len(ups) != 1 {
		t.Fatalf("expected level_up broadcast, got %d", len(ups))
	}
	ev := ups[0].data.(LevelUpEvent)
	if ev.NewLevel != 2 || ev.Domain != "GENERAL" || len(ev.NewFeatures) != 2 {
		t.Errorf("unexpected level up %+v", ev)
	}

	found := false
	for _, s := range h.pub.subjects {
		if s == hermes.SubjectLevelUp {
			found = true
		}
	}
	if !found {
		t.Errorf("expected level up signal, got %v", h.pub.subjects)
	}
	if len(h.store.History) != 1 {
		t.Errorf("expected history entry, got %d", len(h.store.History))
	}
}

func TestLeave_TeardownCompletesDespiteFailures(t *testing.T) {
	h := newHarness(t)
	h.join(t, JoinRequest{Token: "tok-1", UserID: "user-1"})
	h.store.EndMeetingErr = errors.New("db down")
	h.store.SaveSummaryErr = errors.New("db down")
	h.store.SaveLevelErr = errors.New("db down")
	h.ai.summaryErr = errors.New("down")

	if err := h.o.Leave(context.Background(), "conn-1", LeaveRequest{Token: "tok-1", UserID: "user-1", EndMeeting: true}); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if h.o.ActiveSessions() != 0 {
		t.Error("expected session released")
	}
	if len(h.out.events(EventMeetingSummary)) != 1 {
		t.Error("expected summary broadcast")
	}
}

func TestLeave_TeardownRunsAfterQueuedFragments(t *testing.T) {
	h := newHarness(t)
	h.join(t, JoinRequest{Token: "tok-1", UserID: "user-1"})
	h.ai.texts = []string{"First fragment of the meeting here", "Completely different second fragment"}

	for i := 0; i < 2; i++ {
		if err := h.o.SubmitFragment(AudioFragment{Token: "tok-1", SenderID: "conn-1", Audio: []byte("a")}); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	h.ai.summaryErr = errors.New("down")
	if err := h.o.Leave(context.Background(), "conn-1", LeaveRequest{Token: "tok-1", UserID: "user-1", EndMeeting: true}); err != nil {
		t.Fatalf("leave: %v", err)
	}

	if len(h.out.events(EventTranscription)) != 2 {
		t.Fatal("expected both fragments processed before teardown")
	}
	ev := h.out.events(EventMeetingSummary)[0].data.(SummaryEvent)
	if !strings.Contains(ev.Summary, "2 utterances") {
		t.Errorf("expected summary to see both transcripts, got %q", ev.Summary)
	}
}

func TestLeave_SecondEndIsSessionNotFound(t *testing.T) {
	h := newHarness(t)
	h.join(t, JoinRequest{Token: "tok-1", UserID: "user-1"})
	h.ai.summary = &aiservice.Summary{Summary: "ok"}

	req := LeaveRequest{Token: "tok-1", UserID: "user-1", EndMeeting: true}
	if err := h.o.Leave(context.Background(), "conn-1", req); err != nil {
		t.Fatalf("first leave: %v", err)
	}
	if err := h.o.Leave(context.Background(), "conn-1", req); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
	if h.ai.called("summary") != 1 {
		t.Errorf("expected one summary call, got %d", h.ai.called("summary"))
	}
}

func TestLeave_ConcurrentEndsTearDownOnce(t *testing.T) {
	h := newHarness(t)
	block := make(chan struct{})
	h.o.ai = &blockingAI{fakeAI: h.ai, block: block}
	h.join(t, JoinRequest{Token: "tok-1", UserID: "user-1"})
	h.ai.summary = &aiservice.Summary{Summary: "ok"}

	if err := h.o.SubmitFragment(AudioFragment{Token: "tok-1", SenderID: "conn-1", Audio: []byte("x")}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	e, ok := h.o.sessions.Get("tok-1")
	if !ok {
		t.Fatal("expected live session")
	}

	req := LeaveRequest{Token: "tok-1", UserID: "user-1", EndMeeting: true}
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			errs <- h.o.Leave(context.Background(), "conn-1", req)
		}()
	}

	deadline := time.Now().Add(2 * time.Second)
	for e.Pending() < 2 {
		if time.Now().After(deadline) {
			close(block)
			t.Fatal("both ends were not queued")
		}
		time.Sleep(5 * time.Millisecond)
	}
	close(block)

	var ended, notFound int
	for i := 0; i < 2; i++ {
		err := <-errs
		switch {
		case err == nil:
			ended++
		case errors.Is(err, ErrSessionNotFound):
			notFound++
		default:
			t.Errorf("unexpected error %v", err)
		}
	}
	if ended != 1 || notFound != 1 {
		t.Errorf("expected one teardown and one ErrSessionNotFound, got %d and %d", ended, notFound)
	}
	if h.ai.called("summary") != 1 || len(h.out.events(EventMeetingSummary)) != 1 {
		t.Error("expected a single teardown")
	}
}

func TestLocalSummary(t *testing.T) {
	transcripts := []store.Transcript{
		{Text: "Our MRR is 50k now. The team grew to twelve people."},
		{Text: "Churn is under two percent! 매출이 늘었습니다."},
	}
	questions := []store.Question{
		{Text: "u1", IsUsed: true},
		{Text: "m1"}, {Text: "m2"}, {Text: "m3"}, {Text: "m4"}, {Text: "m5"}, {Text: "m6"},
	}

	s := localSummary(transcripts, questions)

	if len(s.KeyPoints) != 3 {
		t.Fatalf("expected 3 key points, got %v", s.KeyPoints)
	}
	if s.KeyPoints[0] != "Our MRR is 50k now..." {
		t.Errorf("unexpected first key point %q", s.KeyPoints[0])
	}
	if s.KeyPoints[1] != "Churn is under two percent..." {
		t.Errorf("unexpected second key point %q", s.KeyPoints[1])
	}
	if s.KeyPoints[2] != "매출이 늘었습니다..." {
		t.Errorf("unexpected third key point %q", s.KeyPoints[2])
	}
	if len(s.KeyQuestions) != 1 || s.KeyQuestions[0] != "u1" {
		t.Errorf("unexpected key questions %v", s.KeyQuestions)
	}
	if len(s.MissedQuestions) != 5 || len(s.NextMeetingAgenda) != 3 || s.NextMeetingAgenda[0] != "m1" {
		t.Errorf("unexpected missed/agenda %v %v", s.MissedQuestions, s.NextMeetingAgenda)
	}
	if s.Summary != "The meeting had 2 utterances. 3 key topics were discussed." {
		t.Errorf("unexpected summary %q", s.Summary)
	}
}

func TestSessionsRunInParallel(t *testing.T) {
	h := newHarness(t)
	block := make(chan struct{})
	slow := &blockingAI{fakeAI: h.ai, block: block}
	h.o.ai = slow
	h.join(t, JoinRequest{Token: "slow", UserID: "user-1"})
	h.join(t, JoinRequest{Token: "fast", UserID: "user-2"})
	defer close(block)

	if err := h.o.SubmitFragment(AudioFragment{Token: "slow", Audio: []byte("x")}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- h.o.ProcessFragment(context.Background(), AudioFragment{Token: "fast", Audio: []byte("y")})
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("fast fragment: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("a slow session blocked another session")
	}
}

// blockingAI blocks transcription for audio "x" until block is closed.
type blockingAI struct {
	*fakeAI
	block chan struct{}
}

func (b *blockingAI) Transcribe(ctx context.Context, audio []byte, filename string) (*aiservice.Transcription, error) {
	if string(audio) == "x" {
		<-b.block
	}
	return b.fakeAI.Transcribe(ctx, audio, filename)
}
