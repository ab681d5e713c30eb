// Package retry runs an operation up to a fixed number of attempts with a
// constant pause between them.
//
// Only failures the caller classifies as retryable are repeated; anything
// else is returned at once. When all attempts fail the returned error is an
// *ExhaustedError wrapping the last failure.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	goretry "github.com/sethvargo/go-retry"
)

// ErrExhausted matches any *ExhaustedError via errors.Is.
var ErrExhausted = errors.New("retry: attempts exhausted")

// minDelay keeps the backoff valid when Policy.Delay is zero.
const minDelay = time.Millisecond

// Policy bounds how often and how fast an operation is retried.
type Policy struct {
	// Attempts is the total number of tries, including the first one.
	Attempts int
	// Delay is the pause between two tries.
	Delay time.Duration
}

// ExhaustedError is returned when every attempt failed with a retryable
// error.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

func (e *ExhaustedError) Is(target error) bool { return target == ErrExhausted }

// Func is one attempt. attempt starts at 1.
type Func func(ctx context.Context, attempt int) error

// Do calls fn until it succeeds, returns a failure for which retryable is
// false, the context ends, or p.Attempts tries have been made.
func Do(ctx context.Context, p Policy, retryable func(error) bool, fn Func) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	delay := p.Delay
	if delay < minDelay {
		delay = minDelay
	}

	backoff := goretry.WithMaxRetries(uint64(attempts-1), goretry.NewConstant(delay))

	var (
		attempt   int
		lastRetry error
	)
	err := goretry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		if retryable != nil && retryable(err) {
			lastRetry = err
			return goretry.RetryableError(err)
		}
		lastRetry = nil
		return err
	})

	switch {
	case err == nil:
		return nil
	case lastRetry != nil && errors.Is(err, lastRetry) && attempt >= attempts:
		return &ExhaustedError{Attempts: attempt, Last: lastRetry}
	default:
		return err
	}
}
