package asr

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestStepBudget(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		seconds float64
		partial bool
		want    int
	}{
		{"partial is fixed", 30, true, partialMaxTokens},
		{"short clip floor", 1, false, minFinalTokens},
		{"estimate under cap", 20, false, int(20*tokensPerSecondEstimate) + decodeTokenOverhead},
		{"mid clip cap", 8, false, int(8*tokensPerSecondEstimate) + decodeTokenOverhead},
		{"four second cap", 4, false, int(4*tokensPerSecondEstimate) + decodeTokenOverhead},
		{"long clip capped at 160", 60, false, 160},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := stepBudget(tc.seconds, tc.partial); got != tc.want {
				t.Errorf("stepBudget(%v, %v) = %d, want %d", tc.seconds, tc.partial, got, tc.want)
			}
		})
	}
}

func TestStepBudget_TierCaps(t *testing.T) {
	t.Parallel()
	// The estimate for a 14s clip would be 107 tokens, under the 160 cap.
	if got := stepBudget(14, false); got != int(14*tokensPerSecondEstimate)+decodeTokenOverhead {
		t.Errorf("14s budget = %d", got)
	}
	// A 7s clip estimates 59 tokens, under the 128 tier cap.
	if got := stepBudget(7, false); got > 128 {
		t.Errorf("7s budget %d exceeds the 128 cap", got)
	}
	// A 3s clip must never exceed 96.
	if got := stepBudget(3, false); got > 96 {
		t.Errorf("3s budget %d exceeds the 96 cap", got)
	}
}

func TestPromptCandidates(t *testing.T) {
	t.Parallel()
	english := []int{tokSOT, tokLangBase, tokTranscribe, tokNoTimestamps}

	t.Run("hinted language first", func(t *testing.T) {
		t.Parallel()
		got := promptCandidates("de")
		want := [][]int{
			{tokSOT, tokLangBase + 2, tokTranscribe, tokNoTimestamps},
			{tokSOT},
			english,
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("candidates (-want +got):\n%s", diff)
		}
	})

	t.Run("english hint deduplicates fallback", func(t *testing.T) {
		t.Parallel()
		got := promptCandidates("en")
		want := [][]int{english, {tokSOT}}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("candidates (-want +got):\n%s", diff)
		}
	})

	t.Run("unknown hint falls back to auto", func(t *testing.T) {
		t.Parallel()
		got := promptCandidates("xx")
		want := [][]int{{tokSOT}, english}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("candidates (-want +got):\n%s", diff)
		}
	})
}

// logitsWithPeak returns a small logit vector where peak wins by default.
func logitsWithPeak(size, peak int, val float32) []float32 {
	l := make([]float32, size)
	for i := range l {
		l[i] = -5
	}
	l[peak] = val
	return l
}

func TestLogitProcessor_SuppressesSpecialsAndBlank(t *testing.T) {
	t.Parallel()
	p := newLogitProcessor(nil)

	// The highest logit sits on a post-EOT special token; it must lose.
	logits := logitsWithPeak(tokEOT+100, tokEOT+50, 10)
	logits[tokBlank] = 8 // second highest, but blank is banned on step 0
	logits[42] = 5
	if got := p.next(logits, 0, 2); got != 42 {
		t.Errorf("step 0 pick = %d, want 42", got)
	}
}

func TestLogitProcessor_HoldsEOTUntilMinSteps(t *testing.T) {
	t.Parallel()
	p := newLogitProcessor(nil)

	logits := logitsWithPeak(tokEOT+1, tokEOT, 10)
	logits[7] = 3
	if got := p.next(logits, 1, 2); got != 7 {
		t.Errorf("pre-min-steps pick = %d, want 7", got)
	}

	logits = logitsWithPeak(tokEOT+1, tokEOT, 10)
	logits[7] = 3
	if got := p.next(logits, 2, 2); got != tokEOT {
		t.Errorf("post-min-steps pick = %d, want EOT", got)
	}
}

func TestLogitProcessor_BansDominantToken(t *testing.T) {
	t.Parallel()
	p := newLogitProcessor(nil)
	for i := 0; i < maxTailTokenOccurrences; i++ {
		p.record(9)
	}

	// At the occurrence cap the token is excluded outright, so even a huge
	// logit lead cannot keep the loop going.
	logits := logitsWithPeak(100, 9, 50)
	logits[11] = 1
	if got := p.next(logits, maxTailTokenOccurrences, 2); got != 11 {
		t.Errorf("banned token still won: got %d, want 11", got)
	}
}

func TestLogitProcessor_LinearRepeatPenalty(t *testing.T) {
	t.Parallel()

	// Five tail occurrences subtract 5×0.14 = 0.70, flipping a 0.5 lead.
	p := newLogitProcessor(nil)
	for i := 0; i < 5; i++ {
		p.record(9)
	}
	logits := logitsWithPeak(100, 9, 1.0)
	logits[11] = 0.5
	if got := p.next(logits, 6, 2); got != 11 {
		t.Errorf("repeated token won despite penalty: got %d, want 11", got)
	}

	// A single occurrence subtracts only 0.14; the same lead survives.
	p = newLogitProcessor(nil)
	p.record(9)
	logits = logitsWithPeak(100, 9, 1.0)
	logits[11] = 0.5
	if got := p.next(logits, 2, 2); got != 9 {
		t.Errorf("lightly repeated token lost: got %d, want 9", got)
	}
}

func TestLogitProcessor_BiasBoost(t *testing.T) {
	t.Parallel()
	p := newLogitProcessor(map[int]struct{}{33: {}})

	logits := logitsWithPeak(100, 12, 1.0)
	logits[33] = 0.8 // within the 0.45 boost of the leader
	if got := p.next(logits, 3, 2); got != 33 {
		t.Errorf("biased token should win: got %d", got)
	}
}

func TestHasRepeatingTail(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		tokens []int
		want   bool
	}{
		{"empty", nil, false},
		{"no loop", []int{1, 2, 3, 4, 5, 6}, false},
		{"period one", []int{5, 1, 1, 1}, true},
		{"period two", []int{9, 3, 4, 3, 4, 3, 4}, true},
		{"period three", []int{1, 2, 3, 1, 2, 3, 1, 2, 3}, true},
		{"two repeats only", []int{3, 4, 3, 4}, false},
		{"loop not at tail", []int{1, 1, 1, 2, 3, 4}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := hasRepeatingTail(tc.tokens); got != tc.want {
				t.Errorf("hasRepeatingTail(%v) = %v, want %v", tc.tokens, got, tc.want)
			}
		})
	}
}

func TestTrimDoubledText(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		in      string
		seconds float64
		want    string
	}{
		{"doubled short clip", "open the door open the door", 4, "open the door"},
		// 6 words doubled is 3+3; "open the door open the door" is 6 words.
		{"case insensitive halves", "Stop now stop now", 3, "Stop now"},
		{"long audio untouched", "go home go home", 9, "go home go home"},
		{"odd word count untouched", "one two one two one", 4, "one two one two one"},
		{"halves differ", "red blue red green", 4, "red blue red green"},
		{"too short untouched", "hi hi", 2, "hi hi"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := trimDoubledText(tc.in, tc.seconds); got != tc.want {
				t.Errorf("trimDoubledText(%q, %v) = %q, want %q", tc.in, tc.seconds, got, tc.want)
			}
		})
	}
}

func TestLanguageToken(t *testing.T) {
	t.Parallel()
	if tok, ok := languageToken("en"); !ok || tok != tokLangBase {
		t.Errorf("en token = %d, %v", tok, ok)
	}
	if tok, ok := languageToken("ja"); !ok || tok != tokLangBase+7 {
		t.Errorf("ja token = %d, %v", tok, ok)
	}
	if _, ok := languageToken("klingon"); ok {
		t.Error("unknown language must not resolve")
	}
}
