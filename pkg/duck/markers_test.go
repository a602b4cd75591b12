package duck

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func TestDuck_Markers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	conn := newTestConn(t)
	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))

	m, err := GetMarker(ctx, conn, "bronze")
	require.NoError(t, err)
	require.Nil(t, m)

	require.NoError(t, PutMarker(ctx, conn, BuildMarker{
		Stage:       "bronze",
		Relation:    `"bronze"."bronze_transactions"`,
		Fingerprint: "abc",
		RowCount:    5,
		RunID:       "run-1",
		BuiltAt:     clock.Now(),
	}))

	m, err = GetMarker(ctx, conn, "bronze")
	require.NoError(t, err)
	require.NotNil(t, m)
	require.Equal(t, "abc", m.Fingerprint)
	require.Equal(t, int64(5), m.RowCount)
	require.Equal(t, "run-1", m.RunID)
	require.True(t, clock.Now().Equal(m.BuiltAt), "built_at %s", m.BuiltAt)

	clock.Advance(time.Hour)
	require.NoError(t, PutMarker(ctx, conn, BuildMarker{
		Stage:       "bronze",
		Relation:    `"bronze"."bronze_transactions"`,
		Fingerprint: "def",
		RowCount:    7,
		RunID:       "run-2",
		BuiltAt:     clock.Now(),
	}))
	require.NoError(t, PutMarker(ctx, conn, BuildMarker{
		Stage:       "gold",
		Relation:    `"gold"."gold_transactions"`,
		Fingerprint: "ghi",
		RowCount:    7,
		RunID:       "run-2",
		BuiltAt:     clock.Now(),
	}))

	markers, err := ListMarkers(ctx, conn)
	require.NoError(t, err)
	require.Len(t, markers, 2)
	require.Equal(t, "bronze", markers[0].Stage)
	require.Equal(t, "def", markers[0].Fingerprint)
	require.Equal(t, int64(7), markers[0].RowCount)
	require.Equal(t, "gold", markers[1].Stage)

	require.NoError(t, DeleteMarker(ctx, conn, "bronze"))
	require.NoError(t, DeleteMarker(ctx, conn, "never-built"))
	m, err = GetMarker(ctx, conn, "bronze")
	require.NoError(t, err)
	require.Nil(t, m)
	markers, err = ListMarkers(ctx, conn)
	require.NoError(t, err)
	require.Len(t, markers, 1)
	require.Equal(t, "gold", markers[0].Stage)
}
