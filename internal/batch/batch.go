// Package batch partitions a chatroom's normalized messages into batches
// that fit an LLM context budget, using a real BPE tokenizer to estimate
// token counts rather than a character-count heuristic.
package batch

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/sqrtqiezi/diting/internal/normalize"
)

// defaultEncoding matches the encoding used by the model family this
// pipeline targets; cl100k_base is the GPT-4/3.5-turbo BPE vocabulary and
// is a reasonable proxy for other chat models' token density.
const defaultEncoding = "cl100k_base"

// Batch is one sealed group of messages, in original chronological order.
type Batch struct {
	Messages   []normalize.Normalized
	TokenCount int
}

// Batcher estimates tokens with a cached tiktoken encoding and groups
// messages greedily, first-fit, under MaxTokensPerBatch.
type Batcher struct {
	MaxTokensPerBatch int

	once sync.Once
	enc  *tiktoken.Tiktoken
	err  error
}

func New(maxTokensPerBatch int) *Batcher {
	return &Batcher{MaxTokensPerBatch: maxTokensPerBatch}
}

func (b *Batcher) encoding() (*tiktoken.Tiktoken, error) {
	b.once.Do(func() {
		b.enc, b.err = tiktoken.GetEncoding(defaultEncoding)
	})
	return b.enc, b.err
}

// estimateTokens is a deterministic function of the display string: the
// real tokenizer's BPE encoding length. A small margin of error against
// the true model tokenizer is tolerated per the batching spec, which is
// why callers configure MaxTokensPerBatch below the hard model limit.
func (b *Batcher) estimateTokens(line string) int {
	enc, err := b.encoding()
	if err != nil {
		// Fall back to a conservative 4-chars-per-token estimate if the
		// encoding table can't be loaded (e.g. no network access to fetch
		// its BPE ranks on first use in an offline environment).
		var n = len(line) / 4
		if n == 0 && line != "" {
			n = 1
		}
		return n
	}
	return len(enc.Encode(line, nil, nil))
}

// Batch groups messages in chronological order into sealed batches, each
// under MaxTokensPerBatch estimated tokens. A single message whose own
// estimate exceeds the budget becomes its own batch rather than being
// dropped.
func (b *Batcher) Batch(messages []normalize.Normalized) []Batch {
	var batches []Batch
	var current Batch

	for _, m := range messages {
		var tokens = b.estimateTokens(m.DisplayLine)

		if len(current.Messages) > 0 && current.TokenCount+tokens > b.MaxTokensPerBatch {
			batches = append(batches, current)
			current = Batch{}
		}

		current.Messages = append(current.Messages, m)
		current.TokenCount += tokens

		if len(current.Messages) == 1 && current.TokenCount > b.MaxTokensPerBatch {
			// Oversized single message: seal it alone immediately.
			batches = append(batches, current)
			current = Batch{}
		}
	}

	if len(current.Messages) > 0 {
		batches = append(batches, current)
	}
	return batches
}
