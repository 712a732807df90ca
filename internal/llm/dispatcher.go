// Package llm implements the multi-credential / multi-model fallback
// dispatcher used for every outbound call to the Gemini API. Credentials are
// tried in priority order; within one credential every model is tried before
// the next credential is touched. The first success wins; when every
// combination fails the caller receives a single ExhaustedError carrying the
// masked per-attempt aggregate.
package llm

import (
	"context"
	"log/slog"
)

// RequestFunc performs one outbound call against a fixed (model, credential)
// pair. The three call shapes (text, image+text, chat) are bound to this
// signature by the adapters in shapes.go. A RequestFunc must return an error
// for any transport failure, non-2xx provider status, or malformed payload,
// and must honor ctx cancellation.
type RequestFunc func(ctx context.Context, model, credential string) (string, error)

// Dispatcher walks the credential x model space for one logical request.
// Credential and model lists are fixed at construction and never mutated, so
// a single Dispatcher is safe for concurrent use; each Do call owns its own
// loop state and failure aggregate.
type Dispatcher struct {
	credentials []string
	models      []string
	logger      *slog.Logger
}

// NewDispatcher builds a dispatcher over the given priority-ordered lists.
// Both lists must be non-empty; order is preserved and duplicates are kept.
func NewDispatcher(credentials, models []string, logger *slog.Logger) (*Dispatcher, error) {
	if len(credentials) == 0 {
		return nil, ErrNoCredentials
	}
	if len(models) == 0 {
		return nil, ErrNoModels
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		credentials: make([]string, len(credentials)),
		models:      make([]string, len(models)),
		logger:      logger,
	}
	copy(d.credentials, credentials)
	copy(d.models, models)
	return d, nil
}

// Do tries fn against every (credential, model) combination in strict order
// until one succeeds. On success the partial failure record is discarded.
// After total exhaustion it returns an *ExhaustedError; a cancelled context
// is the only other way out of the loop.
func (d *Dispatcher) Do(ctx context.Context, fn RequestFunc) (string, error) {
	return d.dispatch(ctx, fn, d.models)
}

// DoWithModel pins a single model: the model axis degenerates to one entry
// while every credential is still tried in order. An empty model behaves
// like Do.
func (d *Dispatcher) DoWithModel(ctx context.Context, fn RequestFunc, model string) (string, error) {
	if model == "" {
		return d.Do(ctx, fn)
	}
	return d.dispatch(ctx, fn, []string{model})
}

func (d *Dispatcher) dispatch(ctx context.Context, fn RequestFunc, models []string) (string, error) {
	attempts := make([]attemptRecord, 0, len(d.credentials)*len(models))

	for _, credential := range d.credentials {
		for _, model := range models {
			result, attemptErr := execute(ctx, fn, model, credential)
			if attemptErr == nil {
				d.logger.Debug("attempt succeeded",
					slog.String("credential", MaskCredential(credential)),
					slog.String("model", model))
				return result, nil
			}

			attempts = append(attempts, attemptRecord{
				credential: credential,
				model:      model,
				message:    attemptErr.Message,
			})
			d.logger.Info("attempt failed",
				slog.String("credential", MaskCredential(credential)),
				slog.String("model", model),
				slog.String("error", attemptErr.Message))

			// The caller abandoned the request; remaining combinations
			// would fail the same way, so stop instead of burning quota.
			if err := ctx.Err(); err != nil {
				return "", err
			}
		}
	}

	return "", &ExhaustedError{attempts: attempts}
}
