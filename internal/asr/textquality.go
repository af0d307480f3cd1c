package asr

import (
	"strings"
	"unicode"
)

// Postprocess cleans a raw decode into presentable text: whitespace
// collapse, punctuation spacing, "i" capitalisation, sentence-start
// capitalisation, and a trailing period for sentence-length output.
func Postprocess(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	text = strings.Join(fields, " ")

	// No space before closing punctuation.
	for _, p := range []string{" .", " ,", " !", " ?", " ;", " :"} {
		text = strings.ReplaceAll(text, p, p[1:])
	}

	// Drop stray leading punctuation left over from suppressed tokens.
	text = strings.TrimLeft(text, ".,!?;: ")
	if text == "" {
		return ""
	}

	words := strings.Split(text, " ")
	for i, w := range words {
		if w == "i" {
			words[i] = "I"
		} else if strings.HasPrefix(w, "i'") {
			words[i] = "I" + w[1:]
		}
	}
	text = strings.Join(words, " ")

	text = capitalizeSentences(text)

	if len(strings.Fields(text)) >= 8 && !hasTerminalPunct(text) {
		text += "."
	}
	return text
}

// capitalizeSentences uppercases the first letter of the text and of each
// sentence following a terminal punctuation mark.
func capitalizeSentences(text string) string {
	runes := []rune(text)
	capitalizeNext := true
	for i, r := range runes {
		if capitalizeNext && unicode.IsLetter(r) {
			runes[i] = unicode.ToUpper(r)
			capitalizeNext = false
			continue
		}
		switch {
		case r == '.' || r == '!' || r == '?':
			capitalizeNext = true
		case unicode.IsDigit(r):
			capitalizeNext = false
		}
	}
	return string(runes)
}

func hasTerminalPunct(text string) bool {
	trimmed := strings.TrimRight(text, " \"')")
	if trimmed == "" {
		return false
	}
	switch trimmed[len(trimmed)-1] {
	case '.', '!', '?':
		return true
	}
	return false
}

// IsDegenerate reports whether text looks like decoder babble: heavy word
// repetition or a short phrase looping.
func IsDegenerate(text string) bool {
	words := strings.Fields(strings.ToLower(text))
	n := len(words)
	if n == 0 {
		return false
	}

	unique := make(map[string]struct{}, n)
	for _, w := range words {
		unique[w] = struct{}{}
	}
	if n >= 6 && len(unique) <= 2 {
		return true
	}
	if n >= 12 && float64(len(unique))/float64(n) <= 0.30 {
		return true
	}

	// Same word four or more times in a row.
	run := 1
	for i := 1; i < n; i++ {
		if words[i] == words[i-1] {
			run++
			if run >= 4 {
				return true
			}
		} else {
			run = 1
		}
	}

	// A 1..3 word phrase repeated three times back to back.
	for span := 1; span <= 3; span++ {
		if n < span*3 {
			continue
		}
		for start := 0; start+span*3 <= n; start++ {
			match := true
			for i := 0; i < span*2 && match; i++ {
				if words[start+i] != words[start+span+i] {
					match = false
				}
			}
			if match {
				return true
			}
		}
	}
	return false
}

// IsLowQuality reports whether text is too thin or too noisy for the amount
// of audio it came from.
func IsLowQuality(text string, audioSeconds float64) bool {
	if IsDegenerate(text) {
		return true
	}
	words := strings.Fields(text)

	// Digit spam shows up when the decoder locks onto numerals.
	for _, w := range words {
		digits := 0
		sameRun, bestRun := 1, 1
		var prev rune
		for i, r := range w {
			if unicode.IsDigit(r) {
				digits++
				if i > 0 && r == prev {
					sameRun++
					if sameRun > bestRun {
						bestRun = sameRun
					}
				} else {
					sameRun = 1
				}
			}
			prev = r
		}
		if bestRun >= 5 {
			return true
		}
		if digits >= 6 && len([]rune(w)) == digits {
			return true
		}
	}

	if audioSeconds >= 8 && len(words) <= 1 {
		return true
	}
	if audioSeconds >= 14 && len(words) <= 2 {
		return true
	}
	return false
}

// IsLikelyTruncated reports whether text is suspiciously short for the
// audio duration, suggesting the decoder gave up early.
func IsLikelyTruncated(text string, audioSeconds float64) bool {
	words := len(strings.Fields(text))
	if audioSeconds >= 10 && words <= 8 {
		return true
	}
	if audioSeconds >= 6 && words <= 4 {
		return true
	}
	return false
}

// QualityScore ranks candidate transcripts of the same audio. Higher is
// better.
func QualityScore(text string, audioSeconds float64) float64 {
	words := len(strings.Fields(text))
	score := float64(words)*0.55 + float64(len(text))*0.015
	if hasTerminalPunct(text) {
		score += 0.15
	}
	if IsLikelyTruncated(text, audioSeconds) {
		score -= 0.8
	}
	if IsDegenerate(text) {
		score -= 2.2
	}
	return score
}

// Confidence estimates transcript reliability from surface features.
// Returns nil for empty text; the engine also leaves partials without a
// confidence.
func Confidence(text string, audioSeconds float64) *float64 {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	words := len(strings.Fields(text))
	if words > 18 {
		words = 18
	}
	c := 0.52 + float64(words)*0.02
	if IsLikelyTruncated(text, audioSeconds) {
		c -= 0.18
	}
	if IsLowQuality(text, audioSeconds) {
		c -= 0.24
	}
	if c < 0.05 {
		c = 0.05
	}
	if c > 0.98 {
		c = 0.98
	}
	return &c
}
