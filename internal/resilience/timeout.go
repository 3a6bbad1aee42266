package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
)

// ErrCallTimeout marks a call that exceeded its own deadline while the
// caller's context was still live.
var ErrCallTimeout = eris.New("call timed out")

// WithTimeout runs fn with a context bounded by d. If fn fails after its own
// deadline expired, the error is reported as a transient ErrCallTimeout so
// callers treat it like any other handler failure. A non-positive d runs fn
// with ctx unchanged.
func WithTimeout[T any](ctx context.Context, d time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if d <= 0 {
		return fn(ctx)
	}

	callCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	val, err := fn(callCtx)
	if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		var zero T
		return zero, NewTransientError(eris.Wrapf(ErrCallTimeout, "after %s", d), 0)
	}
	return val, err
}

// IsTimeout reports whether err came from an expired per-call deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrCallTimeout) || errors.Is(err, context.DeadlineExceeded)
}
