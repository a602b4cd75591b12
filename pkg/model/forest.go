package model

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"
	"slices"

	"github.com/alitto/pond/v2"
)

// RandomForest is a bagged ensemble of decision trees. Each tree sees a
// bootstrap sample of the rows and considers sqrt(features) candidates per
// split by default. Predictions average the trees' class distributions.
type RandomForest struct {
	NEstimators     int
	MaxDepth        int
	MinSamplesSplit int
	MinSamplesLeaf  int
	// MaxFeatures is the number of features considered per split. Zero means
	// sqrt of the feature count.
	MaxFeatures int
	Bootstrap   bool
	Seed        uint64
	// Workers bounds how many trees are fitted at once. Zero means GOMAXPROCS.
	Workers int

	Classes   []int
	NFeatures int
	Trees     []*DecisionTree
}

type Option func(*RandomForest)

func WithNEstimators(n int) Option { return func(f *RandomForest) { f.NEstimators = n } }
func WithMaxDepth(d int) Option    { return func(f *RandomForest) { f.MaxDepth = d } }
func WithMinSamplesLeaf(n int) Option {
	return func(f *RandomForest) { f.MinSamplesLeaf = n }
}
func WithMaxFeatures(n int) Option { return func(f *RandomForest) { f.MaxFeatures = n } }
func WithBootstrap(b bool) Option  { return func(f *RandomForest) { f.Bootstrap = b } }
func WithSeed(seed uint64) Option  { return func(f *RandomForest) { f.Seed = seed } }
func WithWorkers(n int) Option     { return func(f *RandomForest) { f.Workers = n } }

func NewRandomForest(opts ...Option) *RandomForest {
	f := &RandomForest{
		NEstimators:     100,
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
		Bootstrap:       true,
		Seed:            42,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Fit trains NEstimators trees on a bounded worker pool. Every tree draws
// from its own seeded source, so the fitted forest does not depend on the
// order in which workers finish.
func (f *RandomForest) Fit(ctx context.Context, X [][]float64, y []int) error {
	p, err := checkXY(X, y)
	if err != nil {
		return err
	}
	if f.NEstimators <= 0 {
		return fmt.Errorf("n_estimators must be positive, got %d", f.NEstimators)
	}

	classes := slices.Clone(y)
	slices.Sort(classes)
	classes = slices.Compact(classes)
	if len(classes) < 2 {
		return ErrSingleClass
	}
	encoded := make([]int, len(y))
	for i, label := range y {
		encoded[i], _ = slices.BinarySearch(classes, label)
	}

	maxFeatures := f.MaxFeatures
	if maxFeatures <= 0 {
		maxFeatures = max(1, int(math.Sqrt(float64(p))))
	}
	workers := f.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	trees := make([]*DecisionTree, f.NEstimators)
	pool := pond.NewPool(workers)
	defer pool.StopAndWait()

	group := pool.NewGroupContext(ctx)
	for i := range trees {
		group.SubmitErr(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewPCG(f.Seed, uint64(i)))
			tree := &DecisionTree{
				MaxDepth:        f.MaxDepth,
				MinSamplesSplit: f.MinSamplesSplit,
				MinSamplesLeaf:  f.MinSamplesLeaf,
				MaxFeatures:     maxFeatures,
				NClasses:        len(classes),
			}
			tree.fit(X, encoded, f.sample(len(X), rng), rng)
			trees[i] = tree
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return fmt.Errorf("failed to fit forest: %w", err)
	}

	f.Classes = classes
	f.NFeatures = p
	f.Trees = trees
	return nil
}

func (f *RandomForest) sample(n int, rng *rand.Rand) []int {
	idx := make([]int, n)
	for i := range idx {
		if f.Bootstrap {
			idx[i] = rng.IntN(n)
		} else {
			idx[i] = i
		}
	}
	return idx
}

// PredictProba returns, per row, the mean class distribution over all trees,
// aligned with Classes.
func (f *RandomForest) PredictProba(X [][]float64) ([][]float64, error) {
	if len(f.Trees) == 0 {
		return nil, ErrNotFitted
	}
	out := make([][]float64, len(X))
	for i, x := range X {
		if len(x) != f.NFeatures {
			return nil, fmt.Errorf("%w: row %d has %d features, want %d", ErrShape, i, len(x), f.NFeatures)
		}
		dist := make([]float64, len(f.Classes))
		for _, t := range f.Trees {
			for c, p := range t.leaf(x).Proba {
				dist[c] += p
			}
		}
		for c := range dist {
			dist[c] /= float64(len(f.Trees))
		}
		out[i] = dist
	}
	return out, nil
}

func (f *RandomForest) Predict(X [][]float64) ([]int, error) {
	probs, err := f.PredictProba(X)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(probs))
	for i, dist := range probs {
		out[i] = f.Classes[argmax(dist)]
	}
	return out, nil
}
