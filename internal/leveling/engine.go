package leveling

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"

	"github.com/MikeSquared-Agency/onno/internal/store"
)

const (
	ReasonMeetingComplete = "meeting_complete"
	ReasonQuestionsUsed   = "questions_used"
	ReasonFeedback        = "feedback"
	ReasonFollowUp        = "follow_up"
	ReasonManual          = "manual"
)

const lockStripes = 64

// Store is the persistence the engine needs.
type Store interface {
	GetDomainLevel(ctx context.Context, userID, domain string) (*store.DomainLevel, error)
	ListDomainLevels(ctx context.Context, userID string) ([]store.DomainLevel, error)
	SaveDomainLevel(ctx context.Context, dl store.DomainLevel) error
	AppendLevelHistory(ctx context.Context, e store.LevelHistoryEntry) error
	ListLevelHistory(ctx context.Context, userID string, limit int) ([]store.LevelHistoryEntry, error)
}

// Engine applies Policy transitions to persisted domain levels. Every
// read-modify-write for one (user, domain) holds that pair's stripe lock,
// so concurrent awards in this process never lose xp.
type Engine struct {
	store  Store
	policy Policy
	logger *slog.Logger
	locks  [lockStripes]sync.Mutex
}

func NewEngine(s Store, policy Policy, logger *slog.Logger) *Engine {
	return &Engine{store: s, policy: policy, logger: logger}
}

func (e *Engine) Policy() Policy {
	return e.policy
}

func (e *Engine) lock(userID string, domain Domain) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(userID))
	h.Write([]byte{0})
	h.Write([]byte(domain))
	return &e.locks[h.Sum32()%lockStripes]
}

func (e *Engine) load(ctx context.Context, userID string, domain Domain) (State, error) {
	dl, err := e.store.GetDomainLevel(ctx, userID, string(domain))
	if errors.Is(err, store.ErrNotFound) {
		return e.policy.Initial(), nil
	}
	if err != nil {
		return State{}, fmt.Errorf("load level: %w", err)
	}
	persona := Persona(dl.Persona)
	if persona == "" {
		persona = DefaultPersona
	}
	return State{Level: dl.Level, XP: dl.Experience, Features: dl.UnlockedFeatures, Persona: persona}, nil
}

func (e *Engine) save(ctx context.Context, userID string, domain Domain, s State) error {
	if err := e.store.SaveDomainLevel(ctx, store.DomainLevel{
		UserID:           userID,
		Domain:           string(domain),
		Level:            s.Level,
		Experience:       s.XP,
		UnlockedFeatures: s.Features,
		Persona:          string(s.Persona),
	}); err != nil {
		return fmt.Errorf("save level: %w", err)
	}
	return nil
}

// Level returns the user's record in domain, or the initial state when the
// user has none yet.
func (e *Engine) Level(ctx context.Context, userID string, domain Domain) (store.DomainLevel, error) {
	s, err := e.load(ctx, userID, domain)
	if err != nil {
		return store.DomainLevel{}, err
	}
	return store.DomainLevel{
		UserID:           userID,
		Domain:           string(domain),
		Level:            s.Level,
		Experience:       s.XP,
		UnlockedFeatures: s.Features,
		Persona:          string(s.Persona),
	}, nil
}

// Award adds xp in domain. On level-up a history entry is appended.
func (e *Engine) Award(ctx context.Context, userID string, domain Domain, xp int, reason string) (Outcome, error) {
	mu := e.lock(userID, domain)
	mu.Lock()
	defer mu.Unlock()

	cur, err := e.load(ctx, userID, domain)
	if err != nil {
		return Outcome{}, err
	}
	next, out, err := e.policy.Award(cur, xp)
	if err != nil {
		return Outcome{}, err
	}
	if err := e.save(ctx, userID, domain, next); err != nil {
		return Outcome{}, err
	}

	if out.LeveledUp {
		if err := e.store.AppendLevelHistory(ctx, store.LevelHistoryEntry{
			UserID:      userID,
			Domain:      string(domain),
			OldLevel:    out.OldLevel,
			NewLevel:    out.NewLevel,
			XPAtChange:  out.TotalXP,
			NewFeatures: out.NewFeatures,
			Reason:      reason,
		}); err != nil {
			e.logger.Error("failed to append level history", "user_id", userID, "domain", domain, "error", err)
		}
		e.logger.Info("level up", "user_id", userID, "domain", domain, "level", out.NewLevel, "xp", out.TotalXP)
	}
	return out, nil
}

// RewardFollowUp awards the follow-up bonus once a user completes a
// follow-up from a past meeting.
func (e *Engine) RewardFollowUp(ctx context.Context, userID string, domain Domain) (Outcome, error) {
	return e.Award(ctx, userID, domain, e.policy.FollowUpXP, ReasonFollowUp)
}

// Reward is the combined result of a meeting-completion award.
type Reward struct {
	Domain        Domain    `json:"domain"`
	TotalXPEarned int       `json:"total_xp_earned"`
	LeveledUp     bool      `json:"leveled_up"`
	NewLevel      int       `json:"new_level,omitempty"`
	NewFeatures   []string  `json:"new_features,omitempty"`
	Steps         []Outcome `json:"steps"`
}

// RewardMeetingComplete awards the completion bonus, then the capped
// per-question bonus. When either step levels up, the step reaching the
// higher level supplies NewLevel and NewFeatures.
func (e *Engine) RewardMeetingComplete(ctx context.Context, userID string, domain Domain, questionsUsed int) (Reward, error) {
	r := Reward{Domain: domain}

	first, err := e.Award(ctx, userID, domain, e.policy.MeetingCompleteXP, ReasonMeetingComplete)
	if err != nil {
		return r, fmt.Errorf("meeting complete award: %w", err)
	}
	r.Steps = append(r.Steps, first)
	r.TotalXPEarned += first.XPAwarded

	if bonus := e.policy.QuestionBonus(questionsUsed); bonus > 0 {
		second, err := e.Award(ctx, userID, domain, bonus, ReasonQuestionsUsed)
		if err != nil {
			return r, fmt.Errorf("questions used award: %w", err)
		}
		r.Steps = append(r.Steps, second)
		r.TotalXPEarned += second.XPAwarded
	}

	for _, step := range r.Steps {
		if step.LeveledUp && step.NewLevel > r.NewLevel {
			r.LeveledUp = true
			r.NewLevel = step.NewLevel
			r.NewFeatures = step.NewFeatures
		}
	}
	return r, nil
}

// SetPersona changes the persona on the (user, domain) record, creating it
// if needed.
func (e *Engine) SetPersona(ctx context.Context, userID string, domain Domain, persona Persona) (store.DomainLevel, error) {
	mu := e.lock(userID, domain)
	mu.Lock()
	defer mu.Unlock()

	s, err := e.load(ctx, userID, domain)
	if err != nil {
		return store.DomainLevel{}, err
	}
	s.Persona = persona
	if err := e.save(ctx, userID, domain, s); err != nil {
		return store.DomainLevel{}, err
	}
	return store.DomainLevel{
		UserID:           userID,
		Domain:           string(domain),
		Level:            s.Level,
		Experience:       s.XP,
		UnlockedFeatures: s.Features,
		Persona:          string(s.Persona),
	}, nil
}

func (e *Engine) HasFeature(ctx context.Context, userID string, domain Domain, feature string) (bool, error) {
	s, err := e.load(ctx, userID, domain)
	if err != nil {
		return false, err
	}
	for _, f := range s.Features {
		if f == feature {
			return true, nil
		}
	}
	return false, nil
}

// NextLevel reports progress toward the next threshold. NextLevelXP and
// Remaining are nil at the terminal level.
type NextLevel struct {
	CurrentXP   int  `json:"current_xp"`
	NextLevelXP *int `json:"next_level_xp"`
	Remaining   *int `json:"remaining"`
}

func (e *Engine) NextLevel(ctx context.Context, userID string, domain Domain) (NextLevel, error) {
	s, err := e.load(ctx, userID, domain)
	if err != nil {
		return NextLevel{}, err
	}
	nl := NextLevel{CurrentXP: s.XP}
	if threshold, ok := e.policy.NextThreshold(s.Level); ok {
		remaining := threshold - s.XP
		if remaining < 0 {
			remaining = 0
		}
		nl.NextLevelXP = &threshold
		nl.Remaining = &remaining
	}
	return nl, nil
}

type DomainProgress struct {
	Domain   string   `json:"domain"`
	Level    int      `json:"level"`
	XP       int      `json:"xp"`
	Persona  string   `json:"persona"`
	Features []string `json:"features"`
}

type Progress struct {
	TotalXP        int                       `json:"total_xp"`
	PrimaryDomain  string                    `json:"primary_domain"`
	PrimaryLevel   int                       `json:"primary_level"`
	AllDomains     []DomainProgress          `json:"all_domains"`
	RecentLevelUps []store.LevelHistoryEntry `json:"recent_level_ups"`
}

// Progress aggregates every domain for a user. The primary domain is the
// one with the most xp.
func (e *Engine) Progress(ctx context.Context, userID string) (Progress, error) {
	levels, err := e.store.ListDomainLevels(ctx, userID)
	if err != nil {
		return Progress{}, fmt.Errorf("list levels: %w", err)
	}
	history, err := e.store.ListLevelHistory(ctx, userID, 5)
	if err != nil {
		return Progress{}, fmt.Errorf("list history: %w", err)
	}

	p := Progress{
		PrimaryDomain:  string(DomainGeneral),
		PrimaryLevel:   1,
		AllDomains:     make([]DomainProgress, 0, len(levels)),
		RecentLevelUps: history,
	}
	for i, dl := range levels {
		p.TotalXP += dl.Experience
		if i == 0 {
			p.PrimaryDomain = dl.Domain
			p.PrimaryLevel = dl.Level
		}
		p.AllDomains = append(p.AllDomains, DomainProgress{
			Domain:   dl.Domain,
			Level:    dl.Level,
			XP:       dl.Experience,
			Persona:  dl.Persona,
			Features: dl.UnlockedFeatures,
		})
	}
	return p, nil
}

func (e *Engine) History(ctx context.Context, userID string, limit int) ([]store.LevelHistoryEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	h, err := e.store.ListLevelHistory(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return h, nil
}
