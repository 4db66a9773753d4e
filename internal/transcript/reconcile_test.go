package transcript

import "testing"

func TestReconcile(t *testing.T) {
	cfg := DefaultConfig()
	prior := "Our monthly revenue grew steadily" // 33 runes

	tests := []struct {
		name     string
		last     string
		next     string
		wantKind Kind
		wantText string
	}{
		{"identical", prior, prior, Discard, ""},
		{"identical after trim", prior, "  " + prior + "\n", Discard, ""},
		{"subset of previous", prior, "revenue grew", Discard, ""},
		{"empty fragment", prior, "   ", Discard, ""},
		{"extends previous", prior, prior + " to 40 million won", ExtractDelta, "to 40 million won"},
		{"delta too short", prior, prior + " ok", Discard, ""},
		{"delta exactly minimum", prior, prior + " abcde", ExtractDelta, "abcde"},
		{"short prior treated as new", "We have 200 users", "We have 200 users and growing fast", TreatAsNew, "We have 200 users and growing fast"},
		{"short prior keeps full sentence", "We have 200 users", "We have 200 users in total", TreatAsNew, "We have 200 users in total"},
		{"long prior emits trailing words", "We have 200 users today", "We have 200 users today in total", ExtractDelta, "in total"},
		{"unrelated", prior, "Let's talk about the team", TreatAsNew, "Let's talk about the team"},
		{"no previous", "", "Hello everyone, thanks for joining", TreatAsNew, "Hello everyone, thanks for joining"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Reconcile(tt.last, tt.next, cfg)
			if got.Kind != tt.wantKind {
				t.Fatalf("expected kind %s, got %s", tt.wantKind, got.Kind)
			}
			if got.Text != tt.wantText {
				t.Errorf("expected text %q, got %q", tt.wantText, got.Text)
			}
		})
	}
}

func TestReconcile_PriorLengthIsStrict(t *testing.T) {
	cfg := DefaultConfig()
	last := "abcdefghijklmnopqrst" // exactly 20 runes
	got := Reconcile(last, last+" more words here", cfg)
	if got.Kind != TreatAsNew {
		t.Errorf("expected treat_as_new at exactly the threshold, got %s", got.Kind)
	}

	got = Reconcile(last+"u", last+"u more words here", cfg)
	if got.Kind != ExtractDelta || got.Text != "more words here" {
		t.Errorf("expected delta above threshold, got %s %q", got.Kind, got.Text)
	}
}

func TestReconcile_MultibyteDelta(t *testing.T) {
	cfg := DefaultConfig()
	last := "저희 회사의 월간 매출은 지난 분기 대비 크게 성장했습니다"
	next := last + " 고객 수도 두 배가 되었습니다"

	got := Reconcile(last, next, cfg)
	if got.Kind != ExtractDelta {
		t.Fatalf("expected extract_delta, got %s", got.Kind)
	}
	if got.Text != "고객 수도 두 배가 되었습니다" {
		t.Errorf("unexpected delta %q", got.Text)
	}
}

func TestReconcile_CustomThresholds(t *testing.T) {
	cfg := Config{MinPriorLength: 5, MinDeltaLength: 1}
	got := Reconcile("We have", "We have 2", cfg)
	if got.Kind != ExtractDelta || got.Text != "2" {
		t.Errorf("expected delta \"2\", got %s %q", got.Kind, got.Text)
	}
}
