// Package cancel provides the cooperative-cancellation primitives every
// jdbx operation is wrapped in: a context.Context is the cancellation
// token (spec §2/§5), checked at entry, before each retry attempt, and
// raced against in-flight delays.
package cancel

import (
	"context"
	"time"

	"github.com/jdbx/jdbx/internal/jdbxerr"
)

// ThrowIfAborted checks ctx for cancellation and returns an OPERATION_ABORTED
// jdbx error preserving the cancellation reason if it has fired, nil otherwise.
func ThrowIfAborted(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return jdbxerr.Wrap(jdbxerr.OperationAborted, op, "operation aborted before execution", err)
	}
	return nil
}

// RaceWithAbort runs fn in a goroutine and returns its result, unless ctx is
// cancelled first, in which case it returns an OPERATION_ABORTED error
// immediately; fn's eventual result (if any) is discarded once the race is
// lost, mirroring the "an already-dispatched SQL call may run to completion,
// but its result is discarded" guarantee in spec §5.
func RaceWithAbort(ctx context.Context, op string, fn func() error) error {
	if err := ThrowIfAborted(ctx, op); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	select {
	case <-ctx.Done():
		return jdbxerr.Wrap(jdbxerr.OperationAborted, op, "operation aborted", ctx.Err())
	case err := <-done:
		return err
	}
}

// Sleep waits for d, honouring ctx cancellation: an incoming cancel resolves
// the delay immediately and returns an OPERATION_ABORTED error (spec §4.6
// step 4, §5 "Cancellation during a backoff delay resolves the delay
// immediately").
func Sleep(ctx context.Context, op string, d time.Duration) error {
	if d <= 0 {
		return ThrowIfAborted(ctx, op)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return jdbxerr.Wrap(jdbxerr.OperationAborted, op, "operation aborted during backoff delay", ctx.Err())
	case <-t.C:
		return nil
	}
}
