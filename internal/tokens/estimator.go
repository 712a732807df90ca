// Package tokens estimates prompt sizes for budget enforcement.
//
// Gemini does not ship a local tokenizer, so the estimator encodes with
// tiktoken's cl100k_base vocabulary. Counts are close enough for a
// pre-flight budget check; the authoritative count comes back in the
// response usage metadata.
package tokens

import (
	"fmt"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// charsPerToken is the fallback ratio when no codec is available.
const charsPerToken = 4.0

// Estimator counts tokens in prompt text.
type Estimator struct {
	once  sync.Once
	codec tokenizer.Codec
	err   error
}

// NewEstimator creates an estimator. The underlying codec is loaded
// lazily on first use.
func NewEstimator() *Estimator {
	return &Estimator{}
}

func (e *Estimator) load() (tokenizer.Codec, error) {
	e.once.Do(func() {
		e.codec, e.err = tokenizer.Get(tokenizer.Cl100kBase)
	})
	return e.codec, e.err
}

// Count returns the approximate token count for text. When the codec
// cannot be loaded it falls back to a character ratio estimate.
func (e *Estimator) Count(text string) int {
	codec, err := e.load()
	if err != nil {
		return int(float64(len(text)) / charsPerToken)
	}
	ids, _, err := codec.Encode(text)
	if err != nil {
		return int(float64(len(text)) / charsPerToken)
	}
	return len(ids)
}

// CheckBudget returns an error when text exceeds maxTokens. A
// non-positive maxTokens disables the check.
func (e *Estimator) CheckBudget(text string, maxTokens int) error {
	if maxTokens <= 0 {
		return nil
	}
	if count := e.Count(text); count > maxTokens {
		return fmt.Errorf("prompt is too long: %d tokens exceeds limit of %d", count, maxTokens)
	}
	return nil
}
