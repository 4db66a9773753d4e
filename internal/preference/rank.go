package preference

import (
	"math"
	"sort"
)

// DefaultMultiplier scales a weight's distance from neutral into priority
// points.
const DefaultMultiplier = 10.0

// Vector is a snapshot of one user's category weights.
type Vector struct {
	Weights map[string]float64
}

// Weight returns the weight for category, DefaultWeight when the category
// is general, empty, unknown or unset.
func (v Vector) Weight(category string) float64 {
	c := NormalizeCategory(category)
	if !Adjustable(c) {
		return DefaultWeight
	}
	if w, ok := v.Weights[c]; ok {
		return clamp(w)
	}
	return DefaultWeight
}

// Candidate is a generated question before personalization.
type Candidate struct {
	Text     string
	Category string
	Priority int
	Reason   string
}

// Ranked is a candidate annotated with its personalization score. Priority
// is the rounded score; OriginalPriority is the generator's value.
type Ranked struct {
	Candidate
	OriginalPriority int
	Score            float64
}

// Rank orders candidates by originalPriority + (weight-0.5)*multiplier,
// highest first. Ties keep input order. Inputs are not modified.
func Rank(v Vector, candidates []Candidate, multiplier float64) []Ranked {
	out := make([]Ranked, len(candidates))
	for i, c := range candidates {
		score := float64(c.Priority) + (v.Weight(c.Category)-DefaultWeight)*multiplier
		r := Ranked{Candidate: c, OriginalPriority: c.Priority, Score: score}
		r.Priority = int(math.Round(score))
		out[i] = r
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}

// Unranked wraps candidates without reordering, for when preferences are
// unavailable.
func Unranked(candidates []Candidate) []Ranked {
	out := make([]Ranked, len(candidates))
	for i, c := range candidates {
		out[i] = Ranked{Candidate: c, OriginalPriority: c.Priority, Score: float64(c.Priority)}
	}
	return out
}
