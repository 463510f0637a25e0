// Package token provides token counting per model family: tiktoken-backed
// encodings where available, with a characters-per-token fallback.
package token

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Counter counts the tokens of a string.
type Counter interface {
	Count(text string) int
}

// CharCounter estimates tokens using a simple characters-per-token ratio.
// A ratio of ~4 works well for English text.
type CharCounter struct {
	CharsPerToken float64
}

// NewCharCounter creates a CharCounter with the given ratio.
// If charsPerToken is <= 0, defaults to 4.0.
func NewCharCounter(charsPerToken float64) *CharCounter {
	if charsPerToken <= 0 {
		charsPerToken = 4.0
	}
	return &CharCounter{CharsPerToken: charsPerToken}
}

// Count returns the estimated token count for the given text.
func (c *CharCounter) Count(text string) int {
	if len(text) == 0 {
		return 0
	}
	return int(float64(len(text))/c.CharsPerToken) + 1
}

// encodingFor maps a model family to a tiktoken encoding name. cl100k_base
// tracks Claude-family counts closely enough for window budgeting.
func encodingFor(family string) string {
	switch family {
	case "gpt-4o", "o1":
		return "o200k_base"
	case "gpt-4", "gpt-3.5", "claude":
		return "cl100k_base"
	default:
		return ""
	}
}

// TiktokenCounter counts tokens with a real BPE encoding, falling back to a
// CharCounter when the encoding failed to initialize.
type TiktokenCounter struct {
	once     sync.Once
	name     string
	encoding *tiktoken.Tiktoken
	fallback *CharCounter
}

// NewTiktokenCounter creates a counter for the given encoding name. The
// encoding initializes lazily on first Count.
func NewTiktokenCounter(encodingName string) *TiktokenCounter {
	return &TiktokenCounter{
		name:     encodingName,
		fallback: NewCharCounter(0),
	}
}

// Count returns the token count of text.
func (t *TiktokenCounter) Count(text string) int {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.name)
		if err == nil {
			t.encoding = enc
		}
	})
	if text == "" {
		return 0
	}
	if t.encoding != nil {
		return len(t.encoding.Encode(text, nil, nil))
	}
	return t.fallback.Count(text)
}

// ForFamily returns the Counter for a model family. Unknown families get the
// characters-per-token estimate.
func ForFamily(family string) Counter {
	if name := encodingFor(family); name != "" {
		return NewTiktokenCounter(name)
	}
	return NewCharCounter(0)
}

// CountAll sums the counts of the given strings.
func CountAll(c Counter, texts ...string) int {
	total := 0
	for _, s := range texts {
		total += c.Count(s)
	}
	return total
}
