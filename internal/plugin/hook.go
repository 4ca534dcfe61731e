package plugin

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// HookResult is the outcome of one hook invocation on one plugin.
type HookResult struct {
	Plugin   string        `json:"plugin"`
	Hook     string        `json:"hook"`
	Err      error         `json:"-"`
	Duration time.Duration `json:"duration"`
}

// call runs fn in its own goroutine bounded by timeout. A panic becomes
// ErrHookPanic and an expired deadline becomes ErrHookTimeout. On timeout the
// goroutine is abandoned; its result is discarded.
func call[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		v   T
		err error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("%w: %v", ErrHookPanic, r)}
			}
		}()
		v, err := fn(hctx)
		done <- outcome{v: v, err: err}
	}()

	timedOut := func() bool {
		return errors.Is(hctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
	}

	select {
	case o := <-done:
		if o.err != nil && errors.Is(o.err, context.DeadlineExceeded) && timedOut() {
			return o.v, fmt.Errorf("%w after %s", ErrHookTimeout, timeout)
		}
		return o.v, o.err
	case <-hctx.Done():
		var zero T
		if timedOut() {
			return zero, fmt.Errorf("%w after %s", ErrHookTimeout, timeout)
		}
		return zero, hctx.Err()
	}
}

// callErr is call for hooks without a result value.
func callErr(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	_, err := call(ctx, timeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
