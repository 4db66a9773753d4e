package preference

import (
	"fmt"
	"strings"
)

// DefaultWeight is the neutral affinity for a category.
const DefaultWeight = 0.5

const (
	CategoryBusinessModel = "business_model"
	CategoryTraction      = "traction"
	CategoryTeam          = "team"
	CategoryMarket        = "market"
	CategoryTechnology    = "technology"
	CategoryFinancials    = "financials"
	CategoryRisks         = "risks"
	CategoryGeneral       = "general"
)

// Question phrasing styles.
const (
	ToneFormal = "FORMAL"
	ToneCasual = "CASUAL"
	ToneDirect = "DIRECT"

	DefaultTone = ToneFormal
)

// ParseTone accepts any casing.
func ParseTone(s string) (string, error) {
	t := strings.ToUpper(strings.TrimSpace(s))
	switch t {
	case ToneFormal, ToneCasual, ToneDirect:
		return t, nil
	}
	return "", fmt.Errorf("unknown tone %q", s)
}

// Categories lists the categories that carry a learned weight. General
// always reads DefaultWeight.
var Categories = []string{
	CategoryBusinessModel,
	CategoryTraction,
	CategoryTeam,
	CategoryMarket,
	CategoryTechnology,
	CategoryFinancials,
	CategoryRisks,
}

// NormalizeCategory lowercases a category label and maps "-" and " " to
// "_", so "BUSINESS_MODEL" and "business-model" are the same category.
func NormalizeCategory(c string) string {
	c = strings.ToLower(strings.TrimSpace(c))
	return strings.NewReplacer("-", "_", " ", "_").Replace(c)
}

// Adjustable reports whether the category has a learned weight.
func Adjustable(category string) bool {
	c := NormalizeCategory(category)
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

type Signal string

const (
	SignalUsed         Signal = "used"
	SignalUsedModified Signal = "used_modified"
	SignalIgnored      Signal = "ignored"
	SignalDismissed    Signal = "dismissed"
	SignalThumbsUp     Signal = "thumbs_up"
	SignalThumbsDown   Signal = "thumbs_down"
)

// ParseSignal accepts any casing and "-" separators.
func ParseSignal(s string) (Signal, error) {
	sig := Signal(NormalizeCategory(s))
	switch sig {
	case SignalUsed, SignalUsedModified, SignalIgnored, SignalDismissed, SignalThumbsUp, SignalThumbsDown:
		return sig, nil
	}
	return "", fmt.Errorf("unknown feedback signal %q", s)
}

// Counts reports whether the signal counts as the question being used.
func (s Signal) Counts() bool {
	return s == SignalUsed || s == SignalUsedModified
}

var signalDelta = map[Signal]float64{
	SignalUsed:         0.05,
	SignalUsedModified: 0.03,
	SignalIgnored:      -0.02,
	SignalDismissed:    -0.05,
	SignalThumbsUp:     0.03,
	SignalThumbsDown:   -0.03,
}

var tagDelta = map[string]float64{
	"timing_good":    0.01,
	"too_aggressive": -0.02,
	"helpful":        0.02,
	"irrelevant":     -0.03,
}

// Feedback is one user reaction to a suggested question.
type Feedback struct {
	Signal Signal
	Tags   []string
}

// Delta is the signed weight change for fb. Unknown tags add nothing and
// each known tag counts once.
func Delta(fb Feedback) float64 {
	d := signalDelta[fb.Signal]
	seen := make(map[string]bool, len(fb.Tags))
	for _, t := range fb.Tags {
		t = NormalizeCategory(t)
		if seen[t] {
			continue
		}
		seen[t] = true
		d += tagDelta[t]
	}
	return d
}

// Apply returns weight moved by fb, clamped to [0,1].
func Apply(weight float64, fb Feedback) float64 {
	return clamp(weight + Delta(fb))
}

func clamp(w float64) float64 {
	if w < 0.0 {
		return 0.0
	}
	if w > 1.0 {
		return 1.0
	}
	return w
}
