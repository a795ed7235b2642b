package chunker

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter measures text against the chunk-size budget. One counter is
// used for a whole chunking pass.
type TokenCounter interface {
	Count(text string) int
}

// WordCounter counts whitespace-separated words.
type WordCounter struct{}

func (WordCounter) Count(text string) int {
	return len(strings.Fields(text))
}

// TiktokenCounter counts BPE tokens with a tiktoken encoding such as
// cl100k_base.
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func NewTiktokenCounter(encoding string) (*TiktokenCounter, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load tiktoken encoding %q: %w", encoding, err)
	}
	return &TiktokenCounter{enc: enc}, nil
}

func (t *TiktokenCounter) Count(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}

// NewCounter returns a tiktoken counter for encoding, or the word counter
// when encoding is empty or cannot be loaded.
func NewCounter(encoding string) (TokenCounter, error) {
	if encoding == "" {
		return WordCounter{}, nil
	}
	tc, err := NewTiktokenCounter(encoding)
	if err != nil {
		return WordCounter{}, err
	}
	return tc, nil
}
