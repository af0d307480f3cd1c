package asr

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Tokenizer decodes whisper token IDs back to text.
//
// It reads the vocab table out of a HuggingFace tokenizer.json and reverses
// the byte-level BPE encoding. Only decoding is needed: prompts are built
// from fixed special-token IDs, never from text.
type Tokenizer struct {
	vocab   map[int]string
	special map[int]struct{}
	reverse map[string]int
}

// tokenizerFile is the subset of tokenizer.json we read.
type tokenizerFile struct {
	Model struct {
		Vocab map[string]int `json:"vocab"`
	} `json:"model"`
	AddedTokens []struct {
		ID      int    `json:"id"`
		Content string `json:"content"`
		Special bool   `json:"special"`
	} `json:"added_tokens"`
}

// byteDecoder reverses the GPT-2 byte-to-unicode mapping used by byte-level
// BPE. Printable latin bytes map to themselves; the rest were remapped to
// the private range starting at U+0100.
var byteDecoder = func() map[rune]byte {
	dec := make(map[rune]byte, 256)
	n := 0
	isDirect := func(b int) bool {
		return (b >= '!' && b <= '~') || (b >= 0xA1 && b <= 0xAC) || (b >= 0xAE && b <= 0xFF)
	}
	for b := 0; b < 256; b++ {
		if isDirect(b) {
			dec[rune(b)] = byte(b)
		} else {
			dec[rune(256+n)] = byte(b)
			n++
		}
	}
	return dec
}()

// LoadTokenizer reads a tokenizer.json file.
func LoadTokenizer(path string) (*Tokenizer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("asr: read tokenizer: %w", err)
	}
	var file tokenizerFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("asr: parse tokenizer: %w", err)
	}
	if len(file.Model.Vocab) == 0 {
		return nil, fmt.Errorf("asr: tokenizer %q has no vocab", path)
	}

	t := &Tokenizer{
		vocab:   make(map[int]string, len(file.Model.Vocab)+len(file.AddedTokens)),
		special: make(map[int]struct{}, len(file.AddedTokens)),
	}
	for tok, id := range file.Model.Vocab {
		t.vocab[id] = tok
	}
	for _, added := range file.AddedTokens {
		t.vocab[added.ID] = added.Content
		if added.Special || strings.HasPrefix(added.Content, "<|") {
			t.special[added.ID] = struct{}{}
		}
	}
	return t, nil
}

// IsSpecial reports whether id is a special (control) token.
func (t *Tokenizer) IsSpecial(id int) bool {
	if _, ok := t.special[id]; ok {
		return true
	}
	return id >= tokEOT
}

// Decode converts token IDs to text, skipping special tokens.
func (t *Tokenizer) Decode(ids []int) string {
	var sb strings.Builder
	for _, id := range ids {
		if t.IsSpecial(id) {
			continue
		}
		tok, ok := t.vocab[id]
		if !ok {
			continue
		}
		for _, r := range tok {
			if b, ok := byteDecoder[r]; ok {
				sb.WriteByte(b)
			} else {
				sb.WriteRune(r)
			}
		}
	}
	return sb.String()
}

// VocabSize returns the number of known token IDs.
func (t *Tokenizer) VocabSize() int { return len(t.vocab) }

// byteEncoder is the forward GPT-2 byte-to-unicode mapping.
var byteEncoder = func() map[byte]rune {
	enc := make(map[byte]rune, 256)
	for r, b := range byteDecoder {
		enc[b] = r
	}
	return enc
}()

// Encode tokenizes text by greedy longest match against the vocab. This is
// not a faithful BPE merge walk, but bias phrases only need token IDs that
// exist in the vocab, and the longest match is what BPE converges to for
// common words.
func (t *Tokenizer) Encode(text string) []int {
	if t.reverse == nil {
		t.reverse = make(map[string]int, len(t.vocab))
		for id, tok := range t.vocab {
			if _, special := t.special[id]; !special {
				t.reverse[tok] = id
			}
		}
	}

	// Map raw bytes into the BPE alphabet.
	var mapped strings.Builder
	for i := 0; i < len(text); i++ {
		mapped.WriteRune(byteEncoder[text[i]])
	}
	s := []rune(mapped.String())

	var ids []int
	for start := 0; start < len(s); {
		matched := 0
		matchedID := 0
		limit := len(s) - start
		if limit > maxTokenRunes {
			limit = maxTokenRunes
		}
		for l := limit; l >= 1; l-- {
			if id, ok := t.reverse[string(s[start:start+l])]; ok {
				matched = l
				matchedID = id
				break
			}
		}
		if matched == 0 {
			start++
			continue
		}
		ids = append(ids, matchedID)
		start += matched
	}
	return ids
}

// maxTokenRunes bounds the longest-match search window.
const maxTokenRunes = 16
