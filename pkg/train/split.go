package train

import (
	"fmt"
	"math"
	"math/rand/v2"
	"slices"

	"github.com/malbeclabs/medallion/pkg/pipeline"
)

// StratifiedSplit partitions row indices into train and test sets so that
// every label appears in both with roughly its overall proportion. Each
// class contributes round(count*testFraction) rows to the test set, clamped
// so that it keeps at least one row on each side.
func StratifiedSplit(y []int, testFraction float64, seed uint64) ([]int, []int, error) {
	if len(y) == 0 {
		return nil, nil, fmt.Errorf("%w: no rows to split", pipeline.ErrInsufficientData)
	}
	if testFraction <= 0 || testFraction >= 1 {
		return nil, nil, fmt.Errorf("test fraction must be in (0, 1), got %v", testFraction)
	}

	byClass := make(map[int][]int)
	for i, label := range y {
		byClass[label] = append(byClass[label], i)
	}
	if len(byClass) < 2 {
		return nil, nil, fmt.Errorf("%w: need at least two label classes, found %d", pipeline.ErrInsufficientData, len(byClass))
	}

	labels := make([]int, 0, len(byClass))
	for label, rows := range byClass {
		if len(rows) < 2 {
			return nil, nil, fmt.Errorf("%w: label class %d has %d row, need at least 2 to stratify", pipeline.ErrInsufficientData, label, len(rows))
		}
		labels = append(labels, label)
	}
	slices.Sort(labels)

	rng := rand.New(rand.NewPCG(seed, 0))
	var train, test []int
	for _, label := range labels {
		rows := byClass[label]
		rng.Shuffle(len(rows), func(i, j int) { rows[i], rows[j] = rows[j], rows[i] })

		n := int(math.Round(float64(len(rows)) * testFraction))
		n = min(max(n, 1), len(rows)-1)
		test = append(test, rows[:n]...)
		train = append(train, rows[n:]...)
	}

	rng.Shuffle(len(train), func(i, j int) { train[i], train[j] = train[j], train[i] })
	rng.Shuffle(len(test), func(i, j int) { test[i], test[j] = test[j], test[i] })
	return train, test, nil
}
