package config

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Policy holds the tunable constants of the live meeting pipeline. Every
// field has a default; a policy file only needs the keys it overrides.
type Policy struct {
	Dedup     DedupPolicy    `yaml:"dedup"`
	Questions QuestionPolicy `yaml:"questions"`
	Ranking   RankingPolicy  `yaml:"ranking"`
	Leveling  LevelingPolicy `yaml:"leveling"`
	Sessions  SessionPolicy  `yaml:"sessions"`
}

type DedupPolicy struct {
	MinPriorLength int `yaml:"min_prior_length"`
	MinDeltaLength int `yaml:"min_delta_length"`
}

type QuestionPolicy struct {
	TriggerLength  int `yaml:"trigger_length"`
	ContextSnippet int `yaml:"context_snippet"`
	RecentMeetings int `yaml:"recent_meetings"`
}

type RankingPolicy struct {
	Multiplier float64 `yaml:"multiplier"`
}

type LevelingPolicy struct {
	Thresholds        map[int]int      `yaml:"thresholds"`
	Features          map[int][]string `yaml:"features"`
	MeetingCompleteXP int              `yaml:"meeting_complete_xp"`
	QuestionUsedXP    int              `yaml:"question_used_xp"`
	FeedbackXP        int              `yaml:"feedback_xp"`
	FollowUpXP        int              `yaml:"follow_up_xp"`
	QuestionBonusCap  int              `yaml:"question_bonus_cap"`
}

type SessionPolicy struct {
	QueueSize int `yaml:"queue_size"`
	Shards    int `yaml:"shards"`
}

func DefaultPolicy() Policy {
	return Policy{
		Dedup: DedupPolicy{MinPriorLength: 20, MinDeltaLength: 5},
		Questions: QuestionPolicy{
			TriggerLength:  50,
			ContextSnippet: 200,
			RecentMeetings: 3,
		},
		Ranking: RankingPolicy{Multiplier: 10},
		Leveling: LevelingPolicy{
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
		},
		Sessions: SessionPolicy{QueueSize: 64, Shards: 32},
	}
}

// LoadPolicy reads a YAML policy file on top of the defaults. An empty
// path returns the defaults unchanged.
func LoadPolicy(path string) (Policy, error) {
	p := DefaultPolicy()
	if path == "" {
		return p, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return p, fmt.Errorf("open policy file: %w", err)
	}
	defer f.Close()
	return decodePolicy(f)
}

func decodePolicy(r io.Reader) (Policy, error) {
	p := DefaultPolicy()
	// yaml.v3 merges decoded maps into the existing ones, so a file that
	// sets only level 5 keeps the other default thresholds.
	if err := yaml.NewDecoder(r).Decode(&p); err != nil && err != io.EOF {
		return p, fmt.Errorf("decode policy: %w", err)
	}
	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

// Validate rejects policies the engines cannot run with.
func (p Policy) Validate() error {
	if p.Dedup.MinPriorLength < 0 || p.Dedup.MinDeltaLength < 0 {
		return fmt.Errorf("dedup thresholds must not be negative")
	}
	if p.Sessions.QueueSize <= 0 {
		return fmt.Errorf("sessions.queue_size must be positive, got %d", p.Sessions.QueueSize)
	}
	if p.Sessions.Shards <= 0 {
		return fmt.Errorf("sessions.shards must be positive, got %d", p.Sessions.Shards)
	}
	if p.Leveling.QuestionBonusCap < 0 {
		return fmt.Errorf("leveling.question_bonus_cap must not be negative")
	}
	prev := -1
	for lvl := 1; lvl <= len(p.Leveling.Thresholds); lvl++ {
		xp, ok := p.Leveling.Thresholds[lvl]
		if !ok {
			return fmt.Errorf("leveling.thresholds missing level %d", lvl)
		}
		if xp <= prev {
			return fmt.Errorf("leveling.thresholds must increase, level %d has %d", lvl, xp)
		}
		prev = xp
	}
	if p.Leveling.Thresholds[1] != 0 {
		return fmt.Errorf("leveling.thresholds level 1 must be 0")
	}
	return nil
}

// WritePolicy encodes p as YAML.
func WritePolicy(w io.Writer, p Policy) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(p); err != nil {
		return fmt.Errorf("encode policy: %w", err)
	}
	return enc.Close()
}
