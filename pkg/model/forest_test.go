package model

import (
	"bytes"
	"context"
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

// separable returns n rows of 4 features where the label is 1 exactly when
// feature 0 exceeds 0.5. The other features are noise.
func separable(n int, seed uint64) ([][]float64, []int) {
	rng := rand.New(rand.NewPCG(seed, 1))
	X := make([][]float64, n)
	y := make([]int, n)
	for i := range X {
		X[i] = []float64{rng.Float64(), rng.Float64(), rng.Float64(), rng.Float64()}
		if X[i][0] > 0.5 {
			y[i] = 1
		}
	}
	return X, y
}

func TestModel_RandomForest_Fit(t *testing.T) {
	t.Parallel()

	t.Run("learns a separable rule", func(t *testing.T) {
		t.Parallel()
		X, y := separable(300, 1)
		f := NewRandomForest(WithNEstimators(25), WithMaxFeatures(4))
		require.NoError(t, f.Fit(context.Background(), X, y))
		require.Len(t, f.Trees, 25)
		require.Equal(t, []int{0, 1}, f.Classes)
		require.Equal(t, 4, f.NFeatures)

		Xtest := [][]float64{{0.05, 0.5, 0.5, 0.5}, {0.95, 0.5, 0.5, 0.5}, {0.1, 0.9, 0.1, 0.9}, {0.9, 0.1, 0.9, 0.1}}
		got, err := f.Predict(Xtest)
		require.NoError(t, err)
		require.Equal(t, []int{0, 1, 0, 1}, got)

		probs, err := f.PredictProba(Xtest)
		require.NoError(t, err)
		for _, p := range probs {
			require.InDelta(t, 1.0, p[0]+p[1], 1e-9)
		}
	})

	t.Run("same seed gives the same forest regardless of workers", func(t *testing.T) {
		t.Parallel()
		X, y := separable(120, 2)

		a := NewRandomForest(WithNEstimators(10), WithSeed(7), WithWorkers(1))
		require.NoError(t, a.Fit(context.Background(), X, y))
		b := NewRandomForest(WithNEstimators(10), WithSeed(7), WithWorkers(4))
		require.NoError(t, b.Fit(context.Background(), X, y))

		if diff := cmp.Diff(a.Trees, b.Trees); diff != "" {
			t.Fatalf("forests differ (-workers=1 +workers=4):\n%s", diff)
		}

		c := NewRandomForest(WithNEstimators(10), WithSeed(8))
		require.NoError(t, c.Fit(context.Background(), X, y))
		require.False(t, cmp.Equal(a.Trees, c.Trees))
	})

	t.Run("labels need not be contiguous", func(t *testing.T) {
		t.Parallel()
		X := [][]float64{{0}, {1}, {2}, {10}, {11}, {12}}
		y := []int{-3, -3, -3, 7, 7, 7}
		f := NewRandomForest(WithNEstimators(5), WithBootstrap(false))
		require.NoError(t, f.Fit(context.Background(), X, y))
		require.Equal(t, []int{-3, 7}, f.Classes)

		got, err := f.Predict([][]float64{{1}, {11}})
		require.NoError(t, err)
		require.Equal(t, []int{-3, 7}, got)
	})

	t.Run("max depth bounds every tree", func(t *testing.T) {
		t.Parallel()
		X, y := separable(200, 3)
		f := NewRandomForest(WithNEstimators(5), WithMaxDepth(2))
		require.NoError(t, f.Fit(context.Background(), X, y))
		for _, tree := range f.Trees {
			require.LessOrEqual(t, tree.Depth(), 2)
		}
	})

	t.Run("invalid input", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		f := NewRandomForest(WithNEstimators(3))

		require.ErrorIs(t, f.Fit(ctx, nil, nil), ErrEmptyInput)
		require.ErrorIs(t, f.Fit(ctx, [][]float64{{1}, {2}}, []int{0}), ErrShape)
		require.ErrorIs(t, f.Fit(ctx, [][]float64{{1}, {2, 3}}, []int{0, 1}), ErrShape)
		require.ErrorIs(t, f.Fit(ctx, [][]float64{{1}, {2}}, []int{1, 1}), ErrSingleClass)

		_, err := NewRandomForest().Predict([][]float64{{1}})
		require.ErrorIs(t, err, ErrNotFitted)

		require.NoError(t, f.Fit(ctx, [][]float64{{1}, {2}}, []int{0, 1}))
		_, err = f.Predict([][]float64{{1, 2}})
		require.ErrorIs(t, err, ErrShape)
	})

	t.Run("canceled context stops fitting", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		X, y := separable(50, 4)
		err := NewRandomForest(WithNEstimators(5)).Fit(ctx, X, y)
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestModel_RandomForest_Persist(t *testing.T) {
	t.Parallel()
	X, y := separable(150, 5)
	f := NewRandomForest(WithNEstimators(8))
	require.NoError(t, f.Fit(context.Background(), X, y))

	var buf bytes.Buffer
	require.NoError(t, f.Encode(&buf))
	loaded, err := Decode(&buf)
	require.NoError(t, err)

	want, err := f.Predict(X)
	require.NoError(t, err)
	got, err := loaded.Predict(X)
	require.NoError(t, err)
	require.Equal(t, want, got)

	require.Equal(t, f.Classes, loaded.Classes)
	require.Len(t, loaded.Trees, 8)

	_, err = Decode(bytes.NewReader([]byte("not a model")))
	require.Error(t, err)

	require.ErrorIs(t, NewRandomForest().Encode(&bytes.Buffer{}), ErrNotFitted)
}
