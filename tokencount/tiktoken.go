package tokencount

import "github.com/tiktoken-go/tokenizer"

// TiktokenCounter counts tokens with a real BPE tokenizer
// (github.com/tiktoken-go/tokenizer) for callers that want exact counts
// instead of the length heuristic.
type TiktokenCounter struct {
	codec tokenizer.Codec
}

// NewTiktokenCounter builds a TiktokenCounter using the cl100k_base
// encoding (the encoding used by GPT-3.5/GPT-4 class models).
func NewTiktokenCounter() (*TiktokenCounter, error) {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil, err
	}
	return &TiktokenCounter{codec: codec}, nil
}

// Count implements Counter by encoding text and counting the resulting tokens.
func (c *TiktokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	ids, _, err := c.codec.Encode(text)
	if err != nil {
		// Fall back to the heuristic rather than propagating a tokenizer
		// error through a pure-function interface.
		return Heuristic{}.Count(text)
	}
	return len(ids)
}
