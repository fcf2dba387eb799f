package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jdbx/jdbx/internal/jdbxerr"
)

func TestRunAbortsBeforeExecutionWhenAlreadyCancelled(t *testing.T) {
	ctx, cancelFn := context.WithCancel(context.Background())
	cancelFn()

	called := false
	err := Run(ctx, "op", Default(), func(ctx context.Context) error {
		called = true
		return nil
	})
	require.Error(t, err)
	require.False(t, called)
	code, ok := jdbxerr.CodeOf(err)
	require.True(t, ok)
	require.Equal(t, jdbxerr.OperationAborted, code)
}

func TestRunRetriesRetryableErrors(t *testing.T) {
	p := Default()
	p.MinTimeout = time.Millisecond
	p.MaxTimeout = 2 * time.Millisecond
	p.MaxRetries = 3

	attempts := 0
	err := Run(context.Background(), "op", p, func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return jdbxerr.New(jdbxerr.Connection, "op", "transient")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestRunDoesNotRetryNonRetryableErrors(t *testing.T) {
	p := Default()
	attempts := 0
	err := Run(context.Background(), "op", p, func(ctx context.Context) error {
		attempts++
		return jdbxerr.New(jdbxerr.Validation, "op", "bad input")
	})
	require.Error(t, err)
	require.Equal(t, 1, attempts)
}

func TestRunHonoursExplicitDisable(t *testing.T) {
	attempts := 0
	err := Run(context.Background(), "op", Disabled(), func(ctx context.Context) error {
		attempts++
		return jdbxerr.New(jdbxerr.Connection, "op", "transient")
	})
	require.Error(t, err)
	require.Equal(t, 1, attempts)
}

func TestRunGivesUpAfterMaxRetries(t *testing.T) {
	p := Default()
	p.MinTimeout = time.Millisecond
	p.MaxTimeout = 2 * time.Millisecond
	p.MaxRetries = 2

	attempts := 0
	err := Run(context.Background(), "op", p, func(ctx context.Context) error {
		attempts++
		return jdbxerr.New(jdbxerr.Transaction, "op", "still busy")
	})
	require.Error(t, err)
	require.Equal(t, 3, attempts) // 1 initial + 2 retries
}

func TestMergeAllPrecedenceOperationOverCollectionOverDatabase(t *testing.T) {
	db := Default()
	coll := Policy{MaxRetries: 9}
	op := Policy{MaxRetries: 1}

	merged := MergeAll(db, coll, op)
	require.Equal(t, 1, merged.MaxRetries)

	merged = MergeAll(db, coll)
	require.Equal(t, 9, merged.MaxRetries)
}

func TestOnFailedAttemptInvokedWithElapsedAndDelay(t *testing.T) {
	p := Default()
	p.MinTimeout = time.Millisecond
	p.MaxTimeout = 2 * time.Millisecond
	p.MaxRetries = 2

	var seen []Attempt
	p.OnFailedAttempt = func(a Attempt) { seen = append(seen, a) }

	attempts := 0
	_ = Run(context.Background(), "op", p, func(ctx context.Context) error {
		attempts++
		if attempts <= 2 {
			return jdbxerr.New(jdbxerr.Connection, "op", "busy")
		}
		return nil
	})
	require.Len(t, seen, 2)
	require.Equal(t, 1, seen[0].AttemptNumber)
	require.Equal(t, 2, seen[1].AttemptNumber)
}

func TestRunUnwrapsPlainErrorsAsNonRetryable(t *testing.T) {
	attempts := 0
	err := Run(context.Background(), "op", Default(), func(ctx context.Context) error {
		attempts++
		return errors.New("boom")
	})
	require.Error(t, err)
	require.Equal(t, 1, attempts)
}
