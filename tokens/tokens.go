package tokens

import (
	"log"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Encoding is the BPE used for every model we talk to. Llama tokenizers
// differ slightly; the counts are for audit and telemetry, not billing.
const Encoding = "cl100k_base"

// Counter counts tokens in text
type Counter interface {
	Count(text string) int
}

// TiktokenCounter counts with tiktoken and falls back to a character
// heuristic when the encoding cannot be loaded (it is fetched on first use).
type TiktokenCounter struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewCounter returns a lazily initialised tiktoken counter
func NewCounter() *TiktokenCounter {
	return &TiktokenCounter{}
}

func (c *TiktokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding(Encoding)
		if err != nil {
			log.Printf("[Tokens] %s unavailable, using heuristic counts: %v", Encoding, err)
			return
		}
		c.enc = enc
	})
	if c.enc == nil {
		return Estimate(text)
	}
	return len(c.enc.Encode(text, nil, nil))
}

// Estimate approximates the token count as one token per four bytes
func Estimate(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

// HeuristicCounter always uses Estimate
type HeuristicCounter struct{}

func (HeuristicCounter) Count(text string) int { return Estimate(text) }
