package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/onno/internal/store"
)

// MockStore is a thread-safe in-memory implementation of store.DataStore for testing.
type MockStore struct {
	mu sync.Mutex

	Meetings      map[uuid.UUID]*store.Meeting
	Summaries     map[uuid.UUID]store.MeetingSummary
	Transcripts   []store.Transcript
	Questions     []store.Question
	Relationships map[uuid.UUID]*store.Relationship
	Preferences   map[string]*store.Preferences
	Actions       []store.QuestionAction
	Levels        map[string]*store.DomainLevel // key: "userID|domain"
	History       []store.LevelHistoryEntry

	CreateMeetingErr   error
	EndMeetingErr      error
	GetRelationshipErr error
	RecentMeetingsErr  error
	AddTranscriptErr   error
	AddQuestionErr     error
	SaveSummaryErr     error
	GetPreferencesErr  error
	SaveLevelErr       error

	CreateMeetingCalls   int
	AddTranscriptCalls   int
	AddQuestionCalls     int
	GetRelationshipCalls int
	SaveLevelCalls       int
}

func NewMockStore() *MockStore {
	return &MockStore{
		Meetings:      make(map[uuid.UUID]*store.Meeting),
		Summaries:     make(map[uuid.UUID]store.MeetingSummary),
		Relationships: make(map[uuid.UUID]*store.Relationship),
		Preferences:   make(map[string]*store.Preferences),
		Levels:        make(map[string]*store.DomainLevel),
	}
}

var _ store.DataStore = (*MockStore)(nil)

// AddRelationship seeds a relationship and returns its id.
func (m *MockStore) AddRelationship(r store.Relationship) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	m.Relationships[r.ID] = &r
	return r.ID
}

func (m *MockStore) CreateMeeting(_ context.Context, nm store.NewMeeting) (*store.Meeting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CreateMeetingCalls++
	if m.CreateMeetingErr != nil {
		return nil, m.CreateMeetingErr
	}
	number := 1
	if nm.RelationshipID != nil {
		for _, existing := range m.Meetings {
			if existing.RelationshipID != nil && *existing.RelationshipID == *nm.RelationshipID {
				number++
			}
		}
	}
	startedAt := nm.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	meetingType := nm.MeetingType
	if meetingType == "" {
		meetingType = "GENERAL"
	}
	mt := &store.Meeting{
		ID:             uuid.New(),
		Title:          nm.Title,
		UserID:         nm.UserID,
		RelationshipID: nm.RelationshipID,
		MeetingNumber:  number,
		Status:         store.MeetingActive,
		MeetingType:    meetingType,
		StartedAt:      startedAt,
	}
	m.Meetings[mt.ID] = mt
	cp := *mt
	return &cp, nil
}

func (m *MockStore) GetMeeting(_ context.Context, id uuid.UUID) (*store.Meeting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mt, ok := m.Meetings[id]
	if !ok {
		return nil, fmt.Errorf("meeting %s: %w", id, store.ErrNotFound)
	}
	cp := *mt
	return &cp, nil
}

func (m *MockStore) EndMeeting(_ context.Context, id uuid.UUID, endedAt time.Time) (*store.Meeting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.EndMeetingErr != nil {
		return nil, m.EndMeetingErr
	}
	mt, ok := m.Meetings[id]
	if !ok {
		return nil, fmt.Errorf("meeting %s: %w", id, store.ErrNotFound)
	}
	mt.Status = store.MeetingEnded
	mt.EndedAt = &endedAt
	mt.DurationSeconds = int(endedAt.Sub(mt.StartedAt).Seconds())
	if mt.DurationSeconds < 0 {
		mt.DurationSeconds = 0
	}
	cp := *mt
	return &cp, nil
}

func (m *MockStore) SetMeetingSummary(_ context.Context, id uuid.UUID, summary string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mt, ok := m.Meetings[id]
	if !ok {
		return fmt.Errorf("meeting %s: %w", id, store.ErrNotFound)
	}
	mt.Summary = summary
	return nil
}

func (m *MockStore) SaveMeetingSummary(_ context.Context, ms store.MeetingSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveSummaryErr != nil {
		return m.SaveSummaryErr
	}
	m.Summaries[ms.MeetingID] = ms
	return nil
}

func (m *MockStore) GetMeetingSummary(_ context.Context, meetingID uuid.UUID) (*store.MeetingSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms, ok := m.Summaries[meetingID]
	if !ok {
		return nil, fmt.Errorf("summary %s: %w", meetingID, store.ErrNotFound)
	}
	return &ms, nil
}

func (m *MockStore) AddTranscript(_ context.Context, t store.Transcript) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AddTranscriptCalls++
	if m.AddTranscriptErr != nil {
		return m.AddTranscriptErr
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	t.CreatedAt = time.Now().UTC()
	m.Transcripts = append(m.Transcripts, t)
	return nil
}

func (m *MockStore) ListTranscripts(_ context.Context, meetingID uuid.UUID) ([]store.Transcript, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Transcript
	for _, t := range m.Transcripts {
		if t.MeetingID == meetingID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *MockStore) AddQuestion(_ context.Context, q store.Question) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AddQuestionCalls++
	if m.AddQuestionErr != nil {
		return m.AddQuestionErr
	}
	if q.ID == uuid.Nil {
		q.ID = uuid.New()
	}
	q.CreatedAt = time.Now().UTC()
	m.Questions = append(m.Questions, q)
	return nil
}

func (m *MockStore) GetQuestion(_ context.Context, id uuid.UUID) (*store.Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, q := range m.Questions {
		if q.ID == id {
			cp := q
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("question %s: %w", id, store.ErrNotFound)
}

func (m *MockStore) ListQuestions(_ context.Context, meetingID uuid.UUID) ([]store.Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Question
	for _, q := range m.Questions {
		if q.MeetingID == meetingID {
			out = append(out, q)
		}
	}
	return out, nil
}

func (m *MockStore) MarkQuestionUsed(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.Questions {
		if m.Questions[i].ID == id {
			m.Questions[i].IsUsed = true
			return nil
		}
	}
	return fmt.Errorf("question %s: %w", id, store.ErrNotFound)
}

func (m *MockStore) MarkQuestionsUsedByText(_ context.Context, meetingID uuid.UUID, texts []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[string]bool, len(texts))
	for _, t := range texts {
		want[t] = true
	}
	n := 0
	for i := range m.Questions {
		q := &m.Questions[i]
		if q.MeetingID == meetingID && !q.IsUsed && want[q.Text] {
			q.IsUsed = true
			n++
		}
	}
	return n, nil
}

func (m *MockStore) SetQuestionFeedback(_ context.Context, id uuid.UUID, tag string, favorite bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.Questions {
		if m.Questions[i].ID == id {
			if tag != "" {
				m.Questions[i].FeedbackTag = tag
			}
			m.Questions[i].IsFavorite = favorite
			return nil
		}
	}
	return fmt.Errorf("question %s: %w", id, store.ErrNotFound)
}

func (m *MockStore) CountUsedQuestions(_ context.Context, meetingID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, q := range m.Questions {
		if q.MeetingID == meetingID && q.IsUsed {
			n++
		}
	}
	return n, nil
}

func (m *MockStore) GetRelationship(_ context.Context, id uuid.UUID) (*store.Relationship, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GetRelationshipCalls++
	if m.GetRelationshipErr != nil {
		return nil, m.GetRelationshipErr
	}
	r, ok := m.Relationships[id]
	if !ok {
		return nil, fmt.Errorf("relationship %s: %w", id, store.ErrNotFound)
	}
	cp := *r
	cp.StructuredData = copyMap(r.StructuredData)
	return &cp, nil
}

func (m *MockStore) RecentMeetings(_ context.Context, relationshipID uuid.UUID, limit int) ([]store.MeetingDigest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.RecentMeetingsErr != nil {
		return nil, m.RecentMeetingsErr
	}
	var ended []*store.Meeting
	for _, mt := range m.Meetings {
		if mt.RelationshipID != nil && *mt.RelationshipID == relationshipID && mt.Status == store.MeetingEnded {
			ended = append(ended, mt)
		}
	}
	sort.Slice(ended, func(i, j int) bool {
		return ended[i].EndedAt.After(*ended[j].EndedAt)
	})
	if len(ended) > limit {
		ended = ended[:limit]
	}

	out := make([]store.MeetingDigest, 0, len(ended))
	for _, mt := range ended {
		d := store.MeetingDigest{
			MeetingID:     mt.ID,
			MeetingNumber: mt.MeetingNumber,
			StartedAt:     mt.StartedAt,
			EndedAt:       mt.EndedAt,
			Summary:       mt.Summary,
		}
		if ms, ok := m.Summaries[mt.ID]; ok {
			d.Summary = ms.Summary
		}
		for _, q := range m.Questions {
			if q.MeetingID == mt.ID && q.IsUsed {
				d.UsedQuestions = append(d.UsedQuestions, q.Text)
			}
		}
		out = append(out, d)
	}
	return out, nil
}

func (m *MockStore) MergeRelationshipData(_ context.Context, id uuid.UUID, updates map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.Relationships[id]
	if !ok {
		return fmt.Errorf("relationship %s: %w", id, store.ErrNotFound)
	}
	if r.StructuredData == nil {
		r.StructuredData = make(map[string]any)
	}
	for k, v := range updates {
		r.StructuredData[k] = v
	}
	return nil
}

func (m *MockStore) GetPreferences(_ context.Context, userID string) (*store.Preferences, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetPreferencesErr != nil {
		return nil, m.GetPreferencesErr
	}
	p, ok := m.Preferences[userID]
	if !ok {
		return nil, fmt.Errorf("preferences %s: %w", userID, store.ErrNotFound)
	}
	cp := *p
	cp.Weights = make(map[string]float64, len(p.Weights))
	for k, v := range p.Weights {
		cp.Weights[k] = v
	}
	return &cp, nil
}

func (m *MockStore) prefs(userID string) *store.Preferences {
	p, ok := m.Preferences[userID]
	if !ok {
		p = &store.Preferences{
			UserID:             userID,
			Weights:            make(map[string]float64),
			Tone:               "FORMAL",
			IncludeExplanation: true,
		}
		m.Preferences[userID] = p
	}
	p.UpdatedAt = time.Now().UTC()
	return p
}

func (m *MockStore) UpsertPreferenceWeight(_ context.Context, userID, category string, weight float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prefs(userID).Weights[category] = weight
	return nil
}

func (m *MockStore) IncrementPreferenceCounters(_ context.Context, userID string, seen, used int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.prefs(userID)
	p.TotalSeen += seen
	p.TotalUsed += used
	return nil
}

func (m *MockStore) UpdatePreferenceStyle(_ context.Context, userID, tone string, includeExplanation bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.prefs(userID)
	p.Tone = tone
	p.IncludeExplanation = includeExplanation
	return nil
}

func (m *MockStore) LogQuestionAction(_ context.Context, a store.QuestionAction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.CreatedAt = time.Now().UTC()
	m.Actions = append(m.Actions, a)
	return nil
}

func levelKey(userID, domain string) string {
	return userID + "|" + domain
}

func (m *MockStore) GetDomainLevel(_ context.Context, userID, domain string) (*store.DomainLevel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	dl, ok := m.Levels[levelKey(userID, domain)]
	if !ok {
		return nil, fmt.Errorf("level %s/%s: %w", userID, domain, store.ErrNotFound)
	}
	cp := *dl
	cp.UnlockedFeatures = append([]string(nil), dl.UnlockedFeatures...)
	return &cp, nil
}

func (m *MockStore) ListDomainLevels(_ context.Context, userID string) ([]store.DomainLevel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.DomainLevel
	for _, dl := range m.Levels {
		if dl.UserID == userID {
			out = append(out, *dl)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Experience != out[j].Experience {
			return out[i].Experience > out[j].Experience
		}
		return out[i].Domain < out[j].Domain
	})
	return out, nil
}

func (m *MockStore) SaveDomainLevel(_ context.Context, dl store.DomainLevel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SaveLevelCalls++
	if m.SaveLevelErr != nil {
		return m.SaveLevelErr
	}
	dl.UnlockedFeatures = append([]string(nil), dl.UnlockedFeatures...)
	dl.UpdatedAt = time.Now().UTC()
	m.Levels[levelKey(dl.UserID, dl.Domain)] = &dl
	return nil
}

func (m *MockStore) AppendLevelHistory(_ context.Context, e store.LevelHistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	e.CreatedAt = time.Now().UTC()
	m.History = append(m.History, e)
	return nil
}

func (m *MockStore) ListLevelHistory(_ context.Context, userID string, limit int) ([]store.LevelHistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.LevelHistoryEntry
	for i := len(m.History) - 1; i >= 0 && len(out) < limit; i-- {
		if m.History[i].UserID == userID {
			out = append(out, m.History[i])
		}
	}
	return out, nil
}

func (m *MockStore) Close() {}

func copyMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
