package assist

import (
	"strings"
	"testing"
)

func TestAnswerKeywordRouting(t *testing.T) {
	cases := []struct {
		question string
		want     string
	}{
		{"What is the TOTAL budget?", "Total budget"},
		{"How much goes to healthcare?", "Healthcare"},
		{"Any risks I should know about?", "Key risks"},
		{"Do you recommend approval?", "Approval recommended"},
		{"Breakdown for education please", "Education"},
		{"infrastructure spend?", "Infrastructure"},
	}
	for _, tc := range cases {
		got := Answer(tc.question)
		if !strings.HasPrefix(got, tc.want) {
			t.Errorf("Answer(%q) = %q, want prefix %q", tc.question, got, tc.want)
		}
	}
}

func TestAnswerFirstRuleWins(t *testing.T) {
	// "budget" outranks "infrastructure" when both appear
	got := Answer("does the budget cover infrastructure?")
	if !strings.HasPrefix(got, "Total budget") {
		t.Errorf("got %q", got)
	}
}

func TestAnswerFallback(t *testing.T) {
	if got := Answer("hello there"); got != fallback {
		t.Errorf("got %q", got)
	}
}
