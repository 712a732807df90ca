package llm

import (
	"context"
	"fmt"
)

// execute performs exactly one outbound attempt. It never re-raises the
// underlying failure: any error returned by fn, and any panic escaping it,
// is normalized into an *AttemptError carrying the original message. It does
// not retry and imposes no timeout of its own; deadlines belong to ctx and
// the transport underneath fn.
func execute(ctx context.Context, fn RequestFunc, model, credential string) (result string, attemptErr *AttemptError) {
	defer func() {
		if r := recover(); r != nil {
			attemptErr = &AttemptError{
				Model:      model,
				Message:    fmt.Sprintf("panic: %v", r),
				credential: credential,
			}
		}
	}()

	result, err := fn(ctx, model, credential)
	if err != nil {
		return "", &AttemptError{
			Model:      model,
			Message:    err.Error(),
			credential: credential,
		}
	}
	return result, nil
}
