package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoCredentials and ErrNoModels are configuration failures: a Dispatcher
// cannot be constructed over an empty axis.
var (
	ErrNoCredentials = errors.New("llm: no credentials configured")
	ErrNoModels      = errors.New("llm: no models configured")
)

// AttemptError is one failed outbound call against a fixed (model,
// credential) pair. It is always consumed by the dispatcher loop and never
// crosses the dispatcher boundary.
type AttemptError struct {
	Model   string
	Message string

	// credential keeps the full value for in-memory bookkeeping only; every
	// rendering path masks it.
	credential string
}

func (e *AttemptError) Error() string {
	return fmt.Sprintf("attempt failed: credential %s, model %s: %s",
		MaskCredential(e.credential), e.Model, e.Message)
}

// attemptRecord is one entry of the failure aggregate, in attempt order.
type attemptRecord struct {
	credential string
	model      string
	message    string
}

// ExhaustedError is the terminal failure raised after every (credential,
// model) combination has been tried. It carries the full per-attempt
// aggregate; credentials are masked in every observable rendering.
type ExhaustedError struct {
	attempts []attemptRecord
}

// AttemptCount reports how many attempts were made before exhaustion.
func (e *ExhaustedError) AttemptCount() int {
	return len(e.attempts)
}

// Aggregate returns the masked credential -> model -> error message mapping.
// Distinct credentials sharing a masked form merge into one key; that is an
// accepted readability trade-off, not a correctness concern.
func (e *ExhaustedError) Aggregate() map[string]map[string]string {
	agg := make(map[string]map[string]string)
	for _, a := range e.attempts {
		masked := MaskCredential(a.credential)
		if agg[masked] == nil {
			agg[masked] = make(map[string]string)
		}
		agg[masked][a.model] = a.message
	}
	return agg
}

func (e *ExhaustedError) Error() string {
	var b strings.Builder
	b.WriteString("all API keys and models failed:")
	lastMasked := ""
	for _, a := range e.attempts {
		masked := MaskCredential(a.credential)
		if masked != lastMasked {
			fmt.Fprintf(&b, "\nAPI key %s:", masked)
			lastMasked = masked
		}
		fmt.Fprintf(&b, "\n  - %s: %s", a.model, a.message)
	}
	return b.String()
}

// MarshalJSON serializes the masked aggregate, suitable for error payloads.
func (e *ExhaustedError) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Aggregate())
}
