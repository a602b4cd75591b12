package bronze_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/medallion/pkg/duck"
	"github.com/malbeclabs/medallion/pkg/duck/ducktesting"
	"github.com/malbeclabs/medallion/pkg/layer/bronze"
	"github.com/malbeclabs/medallion/pkg/layer/layertesting"
	"github.com/malbeclabs/medallion/pkg/pipeline"
)

func primaryTxs() []layertesting.Transaction {
	return []layertesting.Transaction{
		layertesting.Tx("2019-01-01 00:00:18", 2703186189652095, "fraud_Rippin, Kub and Mann", 4.97),
		layertesting.Tx("2019-01-01 00:00:44", 630423337322, "fraud_Heller, Gutmann and Zieme", 107.23),
		layertesting.Tx("2019-01-01 00:00:51", 38859492057661, "fraud_Lind-Buckridge", 220.11),
	}
}

func secondaryTxs() []layertesting.Transaction {
	return []layertesting.Transaction{
		layertesting.Tx("2020-06-21 12:14:25", 2291163933867244, "fraud_Kirlin and Sons", 2.86),
		layertesting.Tx("2020-06-21 12:14:33", 3573030041201292, "fraud_Sporer-Keebler", 29.84),
	}
}

type fixture struct {
	db        duck.DB
	stage     *bronze.Stage
	primary   string
	secondary string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		db:        ducktesting.NewDB(t),
		primary:   layertesting.WriteTransactions(t, dir, "fraudTrain.csv", primaryTxs()),
		secondary: layertesting.WriteTransactions(t, dir, "fraudTest.csv", secondaryTxs()),
	}
	stage, err := bronze.New(bronze.Config{
		Logger:          ducktesting.NewLogger(t),
		PrimarySource:   f.primary,
		SecondarySource: f.secondary,
	})
	require.NoError(t, err)
	f.stage = stage
	return f
}

func (f *fixture) runner(t *testing.T, policy pipeline.RebuildPolicy) *pipeline.Runner {
	t.Helper()
	r, err := pipeline.NewRunner(pipeline.RunnerConfig{
		Logger: ducktesting.NewLogger(t),
		DB:     f.db,
		Policy: policy,
	})
	require.NoError(t, err)
	return r
}

func TestBronze_Config_Validate(t *testing.T) {
	t.Parallel()

	_, err := bronze.New(bronze.Config{PrimarySource: "a.csv"})
	require.EqualError(t, err, "logger is required")

	_, err = bronze.New(bronze.Config{Logger: ducktesting.NewLogger(t)})
	require.EqualError(t, err, "primary source is required")
}

func TestBronze_Ensure(t *testing.T) {
	t.Parallel()

	t.Run("ingests primary then secondary source", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		h, err := f.runner(t, pipeline.RebuildStale).Ensure(context.Background(), f.stage)
		require.NoError(t, err)
		require.Equal(t, bronze.Relation, h.Relation)
		require.Equal(t, int64(5), h.Rows)
		require.Equal(t, int64(5), ducktesting.QueryInt(t, f.db, `SELECT COUNT(*) FROM "bronze"."bronze_transactions"`))

		frame := ducktesting.QueryFrame(t, f.db, `SELECT * FROM "bronze"."bronze_transactions" LIMIT 1`)
		require.Len(t, frame.Columns, len(layertesting.Header))
		require.GreaterOrEqual(t, frame.Index("trans_date_trans_time"), 0)
		require.GreaterOrEqual(t, frame.Index("is_fraud"), 0)
	})

	t.Run("rebuilding is idempotent", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		r := f.runner(t, pipeline.RebuildAlways)

		for range 3 {
			h, err := r.Ensure(context.Background(), f.stage)
			require.NoError(t, err)
			require.Equal(t, int64(5), h.Rows)
		}
	})

	t.Run("unchanged sources are not reingested", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		r := f.runner(t, pipeline.RebuildStale)

		first, err := r.Ensure(context.Background(), f.stage)
		require.NoError(t, err)
		require.False(t, first.Fresh)

		second, err := r.Ensure(context.Background(), f.stage)
		require.NoError(t, err)
		require.True(t, second.Fresh)
		require.Equal(t, int64(5), second.Rows)

		layertesting.WriteTransactions(t, filepath.Dir(f.secondary), filepath.Base(f.secondary), secondaryTxs()[:1])
		third, err := r.Ensure(context.Background(), f.stage)
		require.NoError(t, err)
		require.False(t, third.Fresh)
		require.Equal(t, int64(4), third.Rows)
	})

	t.Run("missing source is an ingestion failure", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		require.NoError(t, os.Remove(f.primary))

		_, err := f.runner(t, pipeline.RebuildAlways).Ensure(context.Background(), f.stage)
		require.ErrorIs(t, err, pipeline.ErrIngestion)
	})

	t.Run("secondary with another layout keeps the primary rows", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		db := ducktesting.NewDB(t)
		primary := layertesting.WriteTransactions(t, dir, "fraudTrain.csv", primaryTxs())
		secondary := layertesting.WriteCSV(t, dir, "other.csv", []string{"id", "amount"}, [][]string{{"1", "2.50"}, {"2", "3.50"}})

		stage, err := bronze.New(bronze.Config{
			Logger:          ducktesting.NewLogger(t),
			PrimarySource:   primary,
			SecondarySource: secondary,
		})
		require.NoError(t, err)
		r, err := pipeline.NewRunner(pipeline.RunnerConfig{Logger: ducktesting.NewLogger(t), DB: db})
		require.NoError(t, err)

		_, err = r.Ensure(context.Background(), stage)
		require.ErrorIs(t, err, pipeline.ErrSchemaMismatch)
		require.Equal(t, int64(3), ducktesting.QueryInt(t, db, `SELECT COUNT(*) FROM "bronze"."bronze_transactions"`))

		conn, err := db.Conn(context.Background())
		require.NoError(t, err)
		defer conn.Close()
		m, err := duck.GetMarker(context.Background(), conn, bronze.StageName)
		require.NoError(t, err)
		require.Nil(t, m)
	})

	t.Run("a failed rebuild is not reused once the sources are restored", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		f := newFixture(t)
		r := f.runner(t, pipeline.RebuildStale)

		h, err := r.Ensure(ctx, f.stage)
		require.NoError(t, err)
		require.Equal(t, int64(5), h.Rows)

		primaryBody, err := os.ReadFile(f.primary)
		require.NoError(t, err)
		secondaryBody, err := os.ReadFile(f.secondary)
		require.NoError(t, err)

		wrong := make([]layertesting.Transaction, 5)
		for i := range wrong {
			wrong[i] = layertesting.Tx("2019-03-01 10:00:00", int64(i+1), "WRONG", 1)
		}
		layertesting.WriteTransactions(t, filepath.Dir(f.primary), filepath.Base(f.primary), wrong)
		layertesting.WriteCSV(t, filepath.Dir(f.secondary), filepath.Base(f.secondary), []string{"id"}, [][]string{{"1"}})

		_, err = r.Ensure(ctx, f.stage)
		require.ErrorIs(t, err, pipeline.ErrSchemaMismatch)
		require.Equal(t, int64(5), ducktesting.QueryInt(t, f.db, `SELECT COUNT(*) FROM "bronze"."bronze_transactions" WHERE merchant = 'WRONG'`))

		require.NoError(t, os.WriteFile(f.primary, primaryBody, 0644))
		require.NoError(t, os.WriteFile(f.secondary, secondaryBody, 0644))

		h, err = r.Ensure(ctx, f.stage)
		require.NoError(t, err)
		require.False(t, h.Fresh)
		require.Equal(t, int64(5), h.Rows)
		require.Equal(t, int64(0), ducktesting.QueryInt(t, f.db, `SELECT COUNT(*) FROM "bronze"."bronze_transactions" WHERE merchant = 'WRONG'`))
	})
}

func TestBronze_ReplaceAppend(t *testing.T) {
	t.Parallel()

	t.Run("append adds rows every time", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		f := newFixture(t)
		conn, err := f.db.Conn(ctx)
		require.NoError(t, err)
		defer conn.Close()

		require.NoError(t, f.stage.Replace(ctx, conn, f.primary))
		n, err := f.stage.Append(ctx, conn, f.secondary)
		require.NoError(t, err)
		require.Equal(t, int64(2), n)
		n, err = f.stage.Append(ctx, conn, f.secondary)
		require.NoError(t, err)
		require.Equal(t, int64(2), n)

		count, err := duck.CountRows(ctx, conn, bronze.Relation)
		require.NoError(t, err)
		require.Equal(t, int64(7), count)

		require.NoError(t, f.stage.Replace(ctx, conn, f.primary))
		count, err = duck.CountRows(ctx, conn, bronze.Relation)
		require.NoError(t, err)
		require.Equal(t, int64(3), count)
	})

	t.Run("append without a table is a dependency failure", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		f := newFixture(t)
		conn, err := f.db.Conn(ctx)
		require.NoError(t, err)
		defer conn.Close()

		_, err = f.stage.Append(ctx, conn, f.secondary)
		require.ErrorIs(t, err, pipeline.ErrDependency)
	})

	t.Run("directory source is an ingestion failure", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		f := newFixture(t)
		conn, err := f.db.Conn(ctx)
		require.NoError(t, err)
		defer conn.Close()

		err = f.stage.Replace(ctx, conn, t.TempDir())
		require.ErrorIs(t, err, pipeline.ErrIngestion)
	})
}
