package ducktesting

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/medallion/pkg/duck"
)

func NewLogger(t *testing.T) *slog.Logger {
	t.Helper()
	level := slog.LevelError
	if testing.Verbose() && os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NewDB opens an in-memory database that is closed when the test ends.
func NewDB(t *testing.T) duck.DB {
	t.Helper()
	db, err := duck.NewDB(context.Background(), duck.MemoryPath, NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

// NewFileDB opens a database file in a temporary directory.
func NewFileDB(t *testing.T) duck.DB {
	t.Helper()
	db, err := duck.NewDB(context.Background(), filepath.Join(t.TempDir(), "test.duckdb"), NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

// QueryInt runs a single-value query on a fresh connection.
func QueryInt(t *testing.T, db duck.DB, query string, args ...any) int64 {
	t.Helper()
	ctx := context.Background()
	conn, err := db.Conn(ctx)
	require.NoError(t, err)
	defer conn.Close()

	var n int64
	require.NoError(t, conn.QueryRowContext(ctx, query, args...).Scan(&n))
	return n
}

// QueryFrame runs query on a fresh connection and returns every row.
func QueryFrame(t *testing.T, db duck.DB, query string, args ...any) *duck.Frame {
	t.Helper()
	ctx := context.Background()
	conn, err := db.Conn(ctx)
	require.NoError(t, err)
	defer conn.Close()

	frame, err := duck.QueryFrame(ctx, conn, query, args...)
	require.NoError(t, err)
	return frame
}
