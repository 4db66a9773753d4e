package leveling

import (
	"errors"
	"fmt"
)

// ErrNegativeXP is returned when an award would reduce experience.
var ErrNegativeXP = errors.New("xp award must not be negative")

// Policy holds level thresholds, per-level feature unlocks and xp rewards.
type Policy struct {
	Thresholds        map[int]int
	Features          map[int][]string
	MeetingCompleteXP int
	QuestionUsedXP    int
	FeedbackXP        int
	FollowUpXP        int
	QuestionBonusCap  int
}

func DefaultPolicy() Policy {
	return Policy{
		Thresholds: map[int]int{1: 0, 2: 100, 3: 300, 4: 700, 5: 1500},
		Features: map[int][]string{
			1: {"basic_questions"},
			2: {"past_context", "style_learning"},
			3: {"benchmark", "risk_detection", "advanced_questions"},
			4: {"predictive_questions", "pattern_insights", "self_coaching"},
			5: {"custom_templates", "team_sharing", "ai_tuning"},
		},
		MeetingCompleteXP: 10,
		QuestionUsedXP:    5,
		FeedbackXP:        3,
		FollowUpXP:        2,
		QuestionBonusCap:  5,
	}
}

// MaxLevel is the terminal level.
func (p Policy) MaxLevel() int {
	return len(p.Thresholds)
}

// State is one (user, domain) progression record.
type State struct {
	Level    int
	XP       int
	Features []string
	Persona  Persona
}

// Initial is the state of a user who has never earned xp in a domain.
func (p Policy) Initial() State {
	return State{
		Level:    1,
		XP:       0,
		Features: append([]string(nil), p.Features[1]...),
		Persona:  DefaultPersona,
	}
}

// Outcome describes one award.
type Outcome struct {
	XPAwarded   int      `json:"xp_awarded"`
	TotalXP     int      `json:"total_xp"`
	OldLevel    int      `json:"old_level"`
	NewLevel    int      `json:"new_level"`
	LeveledUp   bool     `json:"leveled_up"`
	NewFeatures []string `json:"new_features,omitempty"`
}

// Award adds xp and advances at most one level, even when the new total
// clears several thresholds. The input state is not modified.
func (p Policy) Award(s State, xp int) (State, Outcome, error) {
	if xp < 0 {
		return s, Outcome{}, fmt.Errorf("award %d: %w", xp, ErrNegativeXP)
	}

	next := State{
		Level:    s.Level,
		XP:       s.XP + xp,
		Features: append([]string(nil), s.Features...),
		Persona:  s.Persona,
	}
	out := Outcome{XPAwarded: xp, TotalXP: next.XP, OldLevel: s.Level, NewLevel: s.Level}

	if s.Level >= p.MaxLevel() {
		return next, out, nil
	}
	threshold, ok := p.Thresholds[s.Level+1]
	if !ok || next.XP < threshold {
		return next, out, nil
	}

	next.Level = s.Level + 1
	unlocked := p.Features[next.Level]
	next.Features = union(next.Features, unlocked)
	out.NewLevel = next.Level
	out.LeveledUp = true
	out.NewFeatures = append([]string(nil), unlocked...)
	return next, out, nil
}

// NextThreshold returns the xp needed for the level after level, or false
// at the terminal level.
func (p Policy) NextThreshold(level int) (int, bool) {
	if level >= p.MaxLevel() {
		return 0, false
	}
	xp, ok := p.Thresholds[level+1]
	return xp, ok
}

// QuestionBonus is the xp for questions used in one meeting, capped.
func (p Policy) QuestionBonus(questionsUsed int) int {
	if questionsUsed <= 0 {
		return 0
	}
	if questionsUsed > p.QuestionBonusCap {
		questionsUsed = p.QuestionBonusCap
	}
	return questionsUsed * p.QuestionUsedXP
}

func union(have, add []string) []string {
	seen := make(map[string]bool, len(have)+len(add))
	for _, f := range have {
		seen[f] = true
	}
	for _, f := range add {
		if !seen[f] {
			seen[f] = true
			have = append(have, f)
		}
	}
	return have
}
