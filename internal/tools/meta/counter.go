package meta

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// tokenEncoding is the BPE encoding used for exact token counts.
const tokenEncoding = "cl100k_base"

// Encoder counts tokens in text.
type Encoder interface {
	Count(text string) (int, error)
}

type bpeEncoder struct {
	enc *tiktoken.Tiktoken
}

func (b *bpeEncoder) Count(text string) (int, error) {
	return len(b.enc.Encode(text, nil, nil)), nil
}

// loadBPEEncoder fetches the cl100k_base vocabulary. The underlying library
// caches it per process.
func loadBPEEncoder() (Encoder, error) {
	enc, err := tiktoken.GetEncoding(tokenEncoding)
	if err != nil {
		return nil, fmt.Errorf("load %s encoding: %w", tokenEncoding, err)
	}
	return &bpeEncoder{enc: enc}, nil
}

// estimateTokens is the chars/4 fallback for when the vocabulary cannot be
// loaded (offline runs).
func estimateTokens(text string) int {
	return (len(text) + 3) / 4
}
