package train

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/medallion/pkg/duck"
	"github.com/malbeclabs/medallion/pkg/pipeline"
)

func TestTrain_Encoder(t *testing.T) {
	t.Parallel()

	encoder := &Encoder{
		Label:       "is_fraud",
		Exclude:     []string{"cc_num", "is_fraud"},
		Categorical: []string{"merchant", "gender"},
	}

	t.Run("one-hot encodes with the first category dropped", func(t *testing.T) {
		t.Parallel()
		frame := &duck.Frame{
			Columns: []string{"cc_num", "merchant", "amt", "gender", "age", "is_fraud"},
			Rows: [][]any{
				{int64(1), "shop_b", 10.5, "F", int32(30), int64(0)},
				{int64(2), "shop_a", 20.0, "M", nil, int64(1)},
				{int64(3), "shop_c", nil, nil, int32(41), int64(0)},
				{int64(4), nil, 5.0, "M", int32(22), int64(1)},
			},
		}

		ds, err := encoder.Encode(frame)
		require.NoError(t, err)
		require.Equal(t, []string{"amt", "age", "merchant_shop_b", "merchant_shop_c", "gender_M"}, ds.Columns)
		require.Equal(t, []int{0, 1, 0, 1}, ds.Y)
		require.Equal(t, [][]float64{
			{10.5, 30, 1, 0, 0},
			{20, 0, 0, 0, 1},
			{0, 41, 0, 1, 0},
			{5, 22, 0, 0, 1},
		}, ds.X)
		require.Equal(t, 4, ds.Len())

		X, y := ds.Subset([]int{3, 0})
		require.Equal(t, [][]float64{ds.X[3], ds.X[0]}, X)
		require.Equal(t, []int{1, 0}, y)
	})

	t.Run("boolean label", func(t *testing.T) {
		t.Parallel()
		frame := &duck.Frame{
			Columns: []string{"merchant", "gender", "amt", "is_fraud"},
			Rows: [][]any{
				{"a", "F", 1.0, false},
				{"a", "F", 2.0, true},
			},
		}
		ds, err := encoder.Encode(frame)
		require.NoError(t, err)
		require.Equal(t, []string{"amt"}, ds.Columns)
		require.Equal(t, []int{0, 1}, ds.Y)
	})

	t.Run("missing label", func(t *testing.T) {
		t.Parallel()
		frame := &duck.Frame{Columns: []string{"merchant", "gender", "amt"}}
		_, err := encoder.Encode(frame)
		require.ErrorIs(t, err, pipeline.ErrSchemaContract)
		require.ErrorContains(t, err, `column "is_fraud" not found`)
	})

	t.Run("missing categorical column", func(t *testing.T) {
		t.Parallel()
		frame := &duck.Frame{Columns: []string{"merchant", "amt", "is_fraud"}}
		_, err := encoder.Encode(frame)
		require.ErrorIs(t, err, pipeline.ErrSchemaContract)
		require.ErrorContains(t, err, "gender")
	})

	t.Run("non-numeric feature", func(t *testing.T) {
		t.Parallel()
		frame := &duck.Frame{
			Columns: []string{"merchant", "gender", "seen_at", "is_fraud"},
			Rows: [][]any{
				{"a", "F", time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), int64(0)},
			},
		}
		_, err := encoder.Encode(frame)
		require.ErrorIs(t, err, pipeline.ErrSchemaContract)
		require.ErrorContains(t, err, "seen_at")
	})

	t.Run("null label", func(t *testing.T) {
		t.Parallel()
		frame := &duck.Frame{
			Columns: []string{"merchant", "gender", "is_fraud"},
			Rows:    [][]any{{"a", "F", nil}},
		}
		_, err := encoder.Encode(frame)
		require.ErrorIs(t, err, pipeline.ErrSchemaContract)
	})
}
