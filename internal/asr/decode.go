package asr

import "strings"

// Whisper special-token IDs (multilingual vocab).
const (
	tokEOT          = 50257
	tokSOT          = 50258
	tokLangBase     = 50259 // <|en|>; other languages follow in fixed order
	tokTranscribe   = 50359
	tokNoTimestamps = 50363
	tokBlank        = 220 // encoded single space
)

// Decode budgets and loop guards.
const (
	maxDecodeTokens  = 224
	partialMaxTokens = 10
	minFinalTokens   = 24

	tokensPerSecondEstimate = 6.8
	decodeTokenOverhead     = 12

	maxTokenTailHistory     = 64
	maxTailTokenOccurrences = 14
	tokenRepeatPenalty      = 0.14
	repeatTokenBreakPeriod  = 8

	phraseBiasLogitBoost = 0.45

	retryExtraSteps  = 48
	retryScoreMargin = 0.7
	refineMinSeconds = 5.0
)

// whisperLanguages maps ISO codes to their offset from [tokLangBase], in the
// model's training order.
var whisperLanguages = map[string]int{
	"en": 0, "zh": 1, "de": 2, "es": 3, "ru": 4, "ko": 5, "fr": 6, "ja": 7,
	"pt": 8, "tr": 9, "pl": 10, "ca": 11, "nl": 12, "ar": 13, "sv": 14,
	"it": 15, "id": 16, "hi": 17, "fi": 18, "vi": 19, "he": 20, "uk": 21,
	"el": 22, "ms": 23, "cs": 24, "ro": 25, "da": 26, "hu": 27, "ta": 28,
	"no": 29, "th": 30, "ur": 31, "hr": 32, "bg": 33, "lt": 34,
}

// languageToken returns the prompt token for an ISO language code, or
// (0, false) for unknown codes.
func languageToken(code string) (int, bool) {
	off, ok := whisperLanguages[code]
	if !ok {
		return 0, false
	}
	return tokLangBase + off, true
}

// promptCandidates builds the ordered list of decoder prompt prefixes for a
// final decode: language hint first, then auto-detection, then English.
// Duplicates are removed while preserving order.
func promptCandidates(hint string) [][]int {
	var candidates [][]int
	if tok, ok := languageToken(hint); ok {
		candidates = append(candidates, []int{tokSOT, tok, tokTranscribe, tokNoTimestamps})
	}
	// Auto-detect: the model fills in the language token itself.
	candidates = append(candidates, []int{tokSOT})
	english := []int{tokSOT, tokLangBase, tokTranscribe, tokNoTimestamps}
	for _, c := range candidates {
		if equalInts(c, english) {
			return candidates
		}
	}
	return append(candidates, english)
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// stepBudget computes the token budget for a decode pass. Short clips get a
// hard cap so a runaway decoder cannot stall the pipeline.
func stepBudget(audioSeconds float64, partial bool) int {
	if partial {
		return partialMaxTokens
	}
	est := int(audioSeconds*tokensPerSecondEstimate) + decodeTokenOverhead
	if est < minFinalTokens {
		est = minFinalTokens
	}
	var limit int
	switch {
	case audioSeconds <= 4:
		limit = 96
	case audioSeconds <= 8:
		limit = 128
	default:
		limit = 160
	}
	if est > limit {
		est = limit
	}
	if est > maxDecodeTokens {
		est = maxDecodeTokens
	}
	return est
}

// minStepsBeforeEOT is how many text tokens must be emitted before EOT is
// allowed to win.
func minStepsBeforeEOT(partial bool) int {
	if partial {
		return 1
	}
	return 2
}

// logitProcessor applies suppression, repetition penalty, and phrase bias
// to one step's logits in place, then returns the argmax token.
type logitProcessor struct {
	// emitted is the text-token history of the current decode.
	emitted []int
	// biasTokens get a fixed logit boost.
	biasTokens map[int]struct{}
}

func newLogitProcessor(biasTokens map[int]struct{}) *logitProcessor {
	return &logitProcessor{biasTokens: biasTokens}
}

// next picks the next token from logits. step counts text tokens emitted so
// far (the prompt is excluded).
func (p *logitProcessor) next(logits []float32, step, minSteps int) int {
	// Special tokens other than EOT never appear in a transcription.
	for id := tokEOT + 1; id < len(logits); id++ {
		logits[id] = negInf
	}
	if step == 0 {
		// A transcript starting with a bare space or immediate EOT is
		// always garbage.
		if tokBlank < len(logits) {
			logits[tokBlank] = negInf
		}
	}
	if step < minSteps {
		logits[tokEOT] = negInf
	}

	// Linear per-occurrence penalty over the recent tail, with a hard ban
	// once a single token dominates it. EOT stays available so a looping
	// decode can still terminate.
	if len(p.emitted) > 0 {
		tail := p.emitted
		if len(tail) > maxTokenTailHistory {
			tail = tail[len(tail)-maxTokenTailHistory:]
		}
		counts := make(map[int]int, len(tail))
		for _, t := range tail {
			counts[t]++
		}
		for id, n := range counts {
			if id >= len(logits) || logits[id] <= negInf {
				continue
			}
			if n >= maxTailTokenOccurrences && id != tokEOT {
				logits[id] = negInf
				continue
			}
			logits[id] -= tokenRepeatPenalty * float32(n)
		}
	}

	for id := range p.biasTokens {
		if id < len(logits) && logits[id] > negInf {
			logits[id] += phraseBiasLogitBoost
		}
	}

	best := 0
	bestVal := logits[0]
	for id := 1; id < len(logits); id++ {
		if logits[id] > bestVal {
			best = id
			bestVal = logits[id]
		}
	}
	return best
}

// record appends a chosen text token to the history.
func (p *logitProcessor) record(tok int) {
	p.emitted = append(p.emitted, tok)
}

const negInf = float32(-1e30)

// hasRepeatingTail reports whether the token stream has fallen into a loop:
// some period of 1..8 tokens repeated three times at the end.
func hasRepeatingTail(tokens []int) bool {
	n := len(tokens)
	for period := 1; period <= repeatTokenBreakPeriod; period++ {
		if n < period*3 {
			continue
		}
		looped := true
		for i := 0; i < period*2 && looped; i++ {
			if tokens[n-1-i] != tokens[n-1-i-period] {
				looped = false
			}
		}
		if looped {
			return true
		}
	}
	return false
}

// trimDoubledText collapses "a b c a b c" into "a b c". Short clips decoded
// twice by overlapping prompt candidates produce exactly this shape.
func trimDoubledText(text string, audioSeconds float64) string {
	if audioSeconds > 8 {
		return text
	}
	words := strings.Fields(text)
	n := len(words)
	if n < 4 || n%2 != 0 {
		return text
	}
	for i := 0; i < n/2; i++ {
		if !strings.EqualFold(words[i], words[i+n/2]) {
			return text
		}
	}
	return strings.Join(words[:n/2], " ")
}
