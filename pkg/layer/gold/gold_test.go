package gold_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/medallion/pkg/duck"
	"github.com/malbeclabs/medallion/pkg/duck/ducktesting"
	"github.com/malbeclabs/medallion/pkg/layer/bronze"
	"github.com/malbeclabs/medallion/pkg/layer/gold"
	"github.com/malbeclabs/medallion/pkg/layer/layertesting"
	"github.com/malbeclabs/medallion/pkg/layer/silver"
	"github.com/malbeclabs/medallion/pkg/pipeline"
)

type chain struct {
	db     duck.DB
	runner *pipeline.Runner
	bronze *bronze.Stage
	silver *silver.Stage
	gold   *gold.Stage
}

func newChain(t *testing.T, primary, secondary string) *chain {
	t.Helper()
	log := ducktesting.NewLogger(t)
	c := &chain{db: ducktesting.NewDB(t)}

	var err error
	c.bronze, err = bronze.New(bronze.Config{Logger: log, PrimarySource: primary, SecondarySource: secondary})
	require.NoError(t, err)
	c.silver, err = silver.New(silver.Config{Logger: log, Bronze: c.bronze})
	require.NoError(t, err)
	c.gold, err = gold.New(gold.Config{Logger: log, Silver: c.silver})
	require.NoError(t, err)
	c.runner, err = pipeline.NewRunner(pipeline.RunnerConfig{Logger: log, DB: c.db})
	require.NoError(t, err)
	return c
}

func TestGold_Config_Validate(t *testing.T) {
	t.Parallel()

	_, err := gold.New(gold.Config{})
	require.EqualError(t, err, "logger is required")

	_, err = gold.New(gold.Config{Logger: ducktesting.NewLogger(t)})
	require.EqualError(t, err, "silver stage is required")
}

func TestGold_Ensure(t *testing.T) {
	t.Parallel()

	t.Run("window features", func(t *testing.T) {
		t.Parallel()
		txs := []layertesting.Transaction{
			// Card 1 in time order: 10, 20, 30. Listed out of order.
			layertesting.Tx("2019-01-01 02:00:00", 1, "m1", 30),
			layertesting.Tx("2019-01-01 00:00:00", 1, "m1", 10),
			layertesting.Tx("2019-01-01 01:00:00", 1, "m2", 20),
			// Card 2 has a single transaction.
			layertesting.Tx("2019-01-01 03:00:00", 2, "m2", 40),
		}
		c := newChain(t, layertesting.WriteTransactions(t, t.TempDir(), "src.csv", txs), "")

		h, err := c.runner.Ensure(context.Background(), c.gold)
		require.NoError(t, err)
		require.Equal(t, gold.Relation, h.Relation)
		require.Equal(t, int64(4), h.Rows)

		frame := ducktesting.QueryFrame(t, c.db, `SELECT cc_num, amt, avg_merch_spend, prev_trans_amt, next_trans_amt
			FROM "gold"."gold_transactions" ORDER BY cc_num, trans_date_time`)
		require.Equal(t, 4, frame.Len())

		type row struct{ amt, avg, prev, next float64 }
		want := []row{
			{10, 20, 0, 20},
			{20, 30, 10, 30},
			{30, 20, 20, 0},
			{40, 30, 0, 0},
		}
		for i, w := range want {
			got := row{
				amt:  frame.Rows[i][1].(float64),
				avg:  frame.Rows[i][2].(float64),
				prev: frame.Rows[i][3].(float64),
				next: frame.Rows[i][4].(float64),
			}
			require.Equal(t, w, got, "row %d", i)
		}
	})

	t.Run("primary and secondary rows flow through every layer", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		primary := layertesting.WriteTransactions(t, dir, "fraudTrain.csv", []layertesting.Transaction{
			layertesting.Tx("2019-01-01 00:00:18", 1, "m1", 4.97),
			layertesting.Tx("2019-01-01 00:00:44", 2, "m2", 107.23),
			layertesting.Tx("2019-01-01 00:00:51", 3, "m3", 220.11),
		})
		secondary := layertesting.WriteTransactions(t, dir, "fraudTest.csv", []layertesting.Transaction{
			layertesting.Tx("2020-06-21 12:14:25", 1, "m1", 2.86),
			layertesting.Tx("2020-06-21 12:14:33", 4, "m4", 29.84),
		})
		c := newChain(t, primary, secondary)

		_, err := c.runner.Ensure(context.Background(), c.gold)
		require.NoError(t, err)

		for _, rel := range []duck.Relation{bronze.Relation, silver.Relation, gold.Relation} {
			require.Equal(t, int64(5), ducktesting.QueryInt(t, c.db, "SELECT COUNT(*) FROM "+rel.String()), rel.String())
		}
	})

	t.Run("second run reuses every layer", func(t *testing.T) {
		t.Parallel()
		txs := []layertesting.Transaction{
			layertesting.Tx("2019-01-01 00:00:18", 1, "m1", 1),
			layertesting.Tx("2019-01-01 00:00:19", 1, "m1", 2),
		}
		c := newChain(t, layertesting.WriteTransactions(t, t.TempDir(), "src.csv", txs), "")

		first, err := c.runner.Ensure(context.Background(), c.gold)
		require.NoError(t, err)
		second, err := c.runner.Ensure(context.Background(), c.gold)
		require.NoError(t, err)
		require.False(t, first.Fresh)
		require.True(t, second.Fresh)
		require.Equal(t, first.Fingerprint, second.Fingerprint)
	})

	t.Run("empty source is a dependency failure", func(t *testing.T) {
		t.Parallel()
		path := layertesting.WriteCSV(t, t.TempDir(), "src.csv", layertesting.Header, nil)
		c := newChain(t, path, "")

		_, err := c.runner.Ensure(context.Background(), c.gold)
		require.ErrorIs(t, err, pipeline.ErrDependency)
	})
}
