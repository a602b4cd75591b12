package model

import (
	"fmt"
	"slices"
)

// ClassScores holds per-class (or averaged) evaluation scores. Precision,
// recall and F1 are 0 when their denominator is 0.
type ClassScores struct {
	Label     string
	Precision float64
	Recall    float64
	F1        float64
	Support   int
}

// Report is a classification report over a held-out partition.
type Report struct {
	Classes     []ClassScores
	Accuracy    float64
	MacroAvg    ClassScores
	WeightedAvg ClassScores
	Total       int
	Confusion   *ConfusionMatrix
}

// ConfusionMatrix counts rows by true label (row) and predicted label
// (column), both in Labels order.
type ConfusionMatrix struct {
	Labels []int
	Counts [][]int
}

// NewConfusionMatrix tabulates yTrue against yPred over the union of labels
// seen in either, ascending.
func NewConfusionMatrix(yTrue, yPred []int) (*ConfusionMatrix, error) {
	if len(yTrue) != len(yPred) {
		return nil, fmt.Errorf("%w: %d true labels, %d predictions", ErrShape, len(yTrue), len(yPred))
	}
	labels := append(slices.Clone(yTrue), yPred...)
	slices.Sort(labels)
	labels = slices.Compact(labels)

	counts := make([][]int, len(labels))
	for i := range counts {
		counts[i] = make([]int, len(labels))
	}
	for i := range yTrue {
		t, _ := slices.BinarySearch(labels, yTrue[i])
		p, _ := slices.BinarySearch(labels, yPred[i])
		counts[t][p]++
	}
	return &ConfusionMatrix{Labels: labels, Counts: counts}, nil
}

// Evaluate computes the classification report of yPred against yTrue.
func Evaluate(yTrue, yPred []int) (*Report, error) {
	if len(yTrue) == 0 {
		return nil, ErrEmptyInput
	}
	cm, err := NewConfusionMatrix(yTrue, yPred)
	if err != nil {
		return nil, err
	}

	report := &Report{Total: len(yTrue), Confusion: cm}
	correct := 0
	for i, label := range cm.Labels {
		tp := cm.Counts[i][i]
		correct += tp
		support, predicted := 0, 0
		for j := range cm.Labels {
			support += cm.Counts[i][j]
			predicted += cm.Counts[j][i]
		}

		s := ClassScores{
			Label:     fmt.Sprintf("%d", label),
			Precision: ratio(tp, predicted),
			Recall:    ratio(tp, support),
			Support:   support,
		}
		if s.Precision+s.Recall > 0 {
			s.F1 = 2 * s.Precision * s.Recall / (s.Precision + s.Recall)
		}
		report.Classes = append(report.Classes, s)
	}
	report.Accuracy = ratio(correct, len(yTrue))

	report.MacroAvg = ClassScores{Label: "macro avg", Support: len(yTrue)}
	report.WeightedAvg = ClassScores{Label: "weighted avg", Support: len(yTrue)}
	k := float64(len(report.Classes))
	for _, s := range report.Classes {
		report.MacroAvg.Precision += s.Precision / k
		report.MacroAvg.Recall += s.Recall / k
		report.MacroAvg.F1 += s.F1 / k

		w := float64(s.Support) / float64(len(yTrue))
		report.WeightedAvg.Precision += s.Precision * w
		report.WeightedAvg.Recall += s.Recall * w
		report.WeightedAvg.F1 += s.F1 * w
	}
	return report, nil
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
