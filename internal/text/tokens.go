package text

import (
	"log/slog"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter counts tokens with the model's BPE encoding when one is
// available and falls back to a chars/4 heuristic otherwise. Both paths are
// deterministic for a given input, which the chunker depends on.
type TokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTokenCounter builds a counter for the given embedding model. An unknown
// model (or an environment where the encoding cannot be loaded) degrades to
// the heuristic rather than failing.
func NewTokenCounter(model string) *TokenCounter {
	if model == "" {
		return &TokenCounter{}
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		slog.Debug("no tokenizer for model, using heuristic", "model", model, "error", err)
		return &TokenCounter{}
	}
	return &TokenCounter{enc: enc}
}

func (c *TokenCounter) Count(s string) int {
	if s == "" {
		return 0
	}
	if c != nil && c.enc != nil {
		return len(c.enc.Encode(s, nil, nil))
	}
	// Rough but stable: one token per four characters.
	n := len(s) / 4
	if n < 1 {
		n = 1
	}
	return n
}
