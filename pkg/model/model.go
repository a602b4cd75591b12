package model

import (
	"context"
	"errors"
	"fmt"
)

// Classifier is a supervised classifier over dense float64 feature rows.
type Classifier interface {
	Fit(ctx context.Context, X [][]float64, y []int) error
	Predict(X [][]float64) ([]int, error)
}

var (
	ErrNotFitted   = errors.New("model is not fitted")
	ErrEmptyInput  = errors.New("empty input")
	ErrShape       = errors.New("inconsistent input shape")
	ErrSingleClass = errors.New("need at least two classes")
)

// checkXY verifies X is a non-empty rectangular matrix with one label per
// row, returning the number of features.
func checkXY(X [][]float64, y []int) (int, error) {
	if len(X) == 0 {
		return 0, ErrEmptyInput
	}
	if len(y) != len(X) {
		return 0, fmt.Errorf("%w: %d rows, %d labels", ErrShape, len(X), len(y))
	}
	p := len(X[0])
	for i := range X {
		if len(X[i]) != p {
			return 0, fmt.Errorf("%w: row %d has %d features, want %d", ErrShape, i, len(X[i]), p)
		}
	}
	return p, nil
}

func argmax(v []float64) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}
