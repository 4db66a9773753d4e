package transcript

import "strings"

// Kind is the verdict of reconciling a fragment against the previous one.
type Kind int

const (
	// Discard means the fragment adds nothing new.
	Discard Kind = iota
	// ExtractDelta means the fragment extends the previous one; only the
	// appended tail should be emitted.
	ExtractDelta
	// TreatAsNew means the fragment is unrelated to the previous one.
	TreatAsNew
)

func (k Kind) String() string {
	switch k {
	case Discard:
		return "discard"
	case ExtractDelta:
		return "extract_delta"
	case TreatAsNew:
		return "treat_as_new"
	default:
		return "unknown"
	}
}

// Outcome is the result of Reconcile. Text is the delta for ExtractDelta,
// the trimmed fragment for TreatAsNew, and empty for Discard.
type Outcome struct {
	Kind Kind
	Text string
}

// Config holds the length thresholds, counted in runes.
type Config struct {
	MinPriorLength int
	MinDeltaLength int
}

func DefaultConfig() Config {
	return Config{MinPriorLength: 20, MinDeltaLength: 5}
}

// Reconcile decides what part of next is new relative to last. Both are
// compared after trimming surrounding whitespace.
func Reconcile(last, next string, cfg Config) Outcome {
	l := strings.TrimSpace(last)
	n := strings.TrimSpace(next)

	if n == "" || n == l {
		return Outcome{Kind: Discard}
	}
	if l != "" && strings.Contains(l, n) {
		return Outcome{Kind: Discard}
	}

	lr := []rune(l)
	if l != "" && len(lr) > cfg.MinPriorLength && strings.Contains(n, l) {
		nr := []rune(n)
		delta := strings.TrimSpace(string(nr[len(lr):]))
		if len([]rune(delta)) < cfg.MinDeltaLength {
			return Outcome{Kind: Discard}
		}
		return Outcome{Kind: ExtractDelta, Text: delta}
	}

	return Outcome{Kind: TreatAsNew, Text: n}
}
