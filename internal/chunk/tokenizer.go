package chunk

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// TikToken wraps the tiktoken cl100k_base encoding behind the Tokenizer
// interface. Construction loads the BPE ranks, so share one instance.
type TikToken struct {
	enc *tiktoken.Tiktoken
}

// NewTikToken loads the cl100k_base encoding.
func NewTikToken() (*TikToken, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("loading cl100k_base encoding: %w", err)
	}
	return &TikToken{enc: enc}, nil
}

func (t *TikToken) Encode(text string) []int {
	return t.enc.Encode(text, nil, nil)
}

func (t *TikToken) Decode(tokens []int) string {
	return t.enc.Decode(tokens)
}
