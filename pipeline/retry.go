package pipeline

import (
	"context"
	"fmt"
)

// maxStageAttempts bounds the LLM loops inside Search, Planning, and
// Filter Decision.
const maxStageAttempts = 5

// ExhaustedError reports that every attempt of a stage-internal retry loop
// failed. Err is the last attempt's error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all %d attempts failed: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// attempt runs fn up to n times with no backoff and returns the first
// success. fn must start from the same input every time so attempts stay
// independent. Cancellation is checked between attempts.
func attempt[T any](ctx context.Context, n int, fn func() (T, error)) (T, error) {
	var (
		zero    T
		lastErr error
	)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		out, err := fn()
		if err == nil {
			return out, nil
		}
		lastErr = err
	}
	return zero, &ExhaustedError{Attempts: n, Err: lastErr}
}
