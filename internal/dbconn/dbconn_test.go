package dbconn

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenMemoryAndClose(t *testing.T) {
	d, err := Open(Config{Database: ":memory:"})
	require.NoError(t, err)
	defer d.Close()

	_, err = d.Execute(context.Background(), "CREATE TABLE t (id TEXT PRIMARY KEY)")
	require.NoError(t, err)

	require.NoError(t, d.Close())

	_, err = d.Conn()
	require.Error(t, err)
}

func TestOnCloseHookInvoked(t *testing.T) {
	called := false
	d, err := Open(Config{Database: ":memory:", OnClose: func() { called = true }})
	require.NoError(t, err)
	require.NoError(t, d.Close())
	require.True(t, called)
}

func TestWithTransactionCommitsOnSuccess(t *testing.T) {
	d, err := Open(Config{Database: ":memory:"})
	require.NoError(t, err)
	defer d.Close()

	ctx := context.Background()
	_, err = d.Execute(ctx, "CREATE TABLE t (id TEXT PRIMARY KEY)")
	require.NoError(t, err)

	err = d.WithTransaction(ctx, func(ctx context.Context) error {
		ex, err := d.Execer(ctx)
		require.NoError(t, err)
		_, err = ex.ExecContext(ctx, "INSERT INTO t (id) VALUES (?)", "a")
		return err
	})
	require.NoError(t, err)

	var count int
	conn, err := d.Conn()
	require.NoError(t, err)
	row := conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM t")
	require.NoError(t, row.Scan(&count))
	require.Equal(t, 1, count)
}

func TestWithTransactionRollsBackOnError(t *testing.T) {
	d, err := Open(Config{Database: ":memory:"})
	require.NoError(t, err)
	defer d.Close()

	ctx := context.Background()
	_, err = d.Execute(ctx, "CREATE TABLE t (id TEXT PRIMARY KEY)")
	require.NoError(t, err)

	err = d.WithTransaction(ctx, func(ctx context.Context) error {
		ex, _ := d.Execer(ctx)
		_, _ = ex.ExecContext(ctx, "INSERT INTO t (id) VALUES (?)", "a")
		return context.DeadlineExceeded
	})
	require.Error(t, err)

	var count int
	conn, err := d.Conn()
	require.NoError(t, err)
	row := conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM t")
	require.NoError(t, row.Scan(&count))
	require.Equal(t, 0, count)
}

func TestNestedWithTransactionReusesConnection(t *testing.T) {
	d, err := Open(Config{Database: ":memory:"})
	require.NoError(t, err)
	defer d.Close()

	ctx := context.Background()
	entries := 0
	err = d.WithTransaction(ctx, func(ctx context.Context) error {
		require.True(t, InTransaction(ctx))
		entries++
		return d.WithTransaction(ctx, func(ctx context.Context) error {
			entries++
			return nil
		})
	})
	require.NoError(t, err)
	require.Equal(t, 2, entries)
}
