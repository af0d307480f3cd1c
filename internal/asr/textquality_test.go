package asr

import "testing"

func TestPostprocess(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "   ", ""},
		{"collapse whitespace", "hello   world", "Hello world"},
		{"space before punctuation", "hello , world .", "Hello, world."},
		{"leading punctuation", ", hello", "Hello"},
		{"standalone i", "i think i can", "I think I can"},
		{"i contraction", "i'm sure i'll go", "I'm sure I'll go"},
		{"sentence capitals", "first one. second one.", "First one. Second one."},
		{
			"terminal period appended",
			"this is a long enough sentence to warrant punctuation",
			"This is a long enough sentence to warrant punctuation.",
		},
		{"short text keeps no period", "hello world", "Hello world"},
		{"existing punctuation kept", "is that right?", "Is that right?"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := Postprocess(tc.in); got != tc.want {
				t.Errorf("Postprocess(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestIsDegenerate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		in   string
		want bool
	}{
		{"empty", "", false},
		{"normal speech", "please schedule the meeting for tomorrow morning", false},
		{"two words looping", "yes no yes no yes no", true},
		{"same word run", "the the the the", true},
		{"phrase loop", "thank you thank you thank you", true},
		{"low unique ratio", "a b a b a b a b a b a b", true},
		{"short repeat ok", "that that", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := IsDegenerate(tc.in); got != tc.want {
				t.Errorf("IsDegenerate(%q) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestIsLowQuality(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		in      string
		seconds float64
		want    bool
	}{
		{"normal", "let us review the quarterly numbers now", 6, false},
		{"digit run", "account 111119 please", 3, true},
		{"long digit token", "1234567", 3, true},
		{"one word for long audio", "hello", 9, true},
		{"two words for very long audio", "hello there", 15, true},
		{"two words for short audio", "hello there", 3, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := IsLowQuality(tc.in, tc.seconds); got != tc.want {
				t.Errorf("IsLowQuality(%q, %v) = %v, want %v", tc.in, tc.seconds, got, tc.want)
			}
		})
	}
}

func TestIsLikelyTruncated(t *testing.T) {
	t.Parallel()
	if !IsLikelyTruncated("just four words here", 7) {
		t.Error("4 words over 7s should look truncated")
	}
	if !IsLikelyTruncated("one two three four five six seven eight", 11) {
		t.Error("8 words over 11s should look truncated")
	}
	if IsLikelyTruncated("a reasonably complete sentence with plenty of words in it", 10) {
		t.Error("10 words over 10s should not look truncated")
	}
}

func TestQualityScore_OrdersCandidates(t *testing.T) {
	t.Parallel()
	good := "please send the updated report to the whole team today"
	bad := "the the the the the the"
	if QualityScore(good, 5) <= QualityScore(bad, 5) {
		t.Error("a clean transcript must outscore degenerate babble")
	}
}

func TestConfidence(t *testing.T) {
	t.Parallel()
	if got := Confidence("", 5); got != nil {
		t.Errorf("empty text: want nil confidence, got %v", *got)
	}

	c := Confidence("a full sentence with a healthy number of words inside", 4)
	if c == nil {
		t.Fatal("non-empty text must have a confidence")
	}
	if *c < 0.05 || *c > 0.98 {
		t.Errorf("confidence %f out of [0.05, 0.98]", *c)
	}

	low := Confidence("hm", 15)
	if low == nil {
		t.Fatal("short text must still have a confidence")
	}
	if *low >= *c {
		t.Errorf("thin transcript (%f) must score below a full one (%f)", *low, *c)
	}
}

func TestConfidence_ClampLow(t *testing.T) {
	t.Parallel()
	// One word over long audio: truncated and low quality penalties both
	// apply, but the floor holds.
	c := Confidence("x", 20)
	if c == nil || *c < 0.05 {
		t.Errorf("confidence must clamp at 0.05, got %v", c)
	}
}
