package model

import (
	"math/rand/v2"
	"sort"
)

// Node is one node of a fitted decision tree. Leaves have Left and Right set
// to -1. Rows with X[Feature] <= Threshold go left.
type Node struct {
	Feature   int
	Threshold float64
	Left      int
	Right     int
	// Proba is the class distribution of the training rows that reached the
	// node, indexed by class position.
	Proba []float64
}

func (n *Node) IsLeaf() bool {
	return n.Left < 0
}

// DecisionTree is a CART classifier splitting on gini impurity. Labels are
// class positions in [0, NClasses).
type DecisionTree struct {
	MaxDepth        int
	MinSamplesSplit int
	MinSamplesLeaf  int
	MaxFeatures     int

	NClasses int
	Nodes    []Node
}

type treeBuilder struct {
	tree *DecisionTree
	X    [][]float64
	y    []int
	rng  *rand.Rand
	p    int
}

// fit grows the tree from the rows listed in idx. Indices may repeat, which
// is how bootstrap samples are represented.
func (t *DecisionTree) fit(X [][]float64, y []int, idx []int, rng *rand.Rand) {
	b := &treeBuilder{tree: t, X: X, y: y, rng: rng, p: len(X[0])}
	t.Nodes = t.Nodes[:0]
	b.grow(idx, 0)
}

func (b *treeBuilder) grow(idx []int, depth int) int {
	t := b.tree
	counts := make([]int, t.NClasses)
	for _, i := range idx {
		counts[b.y[i]]++
	}

	pos := len(t.Nodes)
	t.Nodes = append(t.Nodes, Node{Feature: -1, Left: -1, Right: -1, Proba: proba(counts, len(idx))})

	if isPure(counts) || len(idx) < t.MinSamplesSplit || (t.MaxDepth > 0 && depth >= t.MaxDepth) {
		return pos
	}

	feature, threshold, ok := b.bestSplit(idx, counts)
	if !ok {
		return pos
	}

	var left, right []int
	for _, i := range idx {
		if b.X[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	t.Nodes[pos].Feature = feature
	t.Nodes[pos].Threshold = threshold
	t.Nodes[pos].Left = l
	t.Nodes[pos].Right = r
	return pos
}

// bestSplit evaluates up to MaxFeatures randomly ordered features. Constant
// features do not count towards the limit.
func (b *treeBuilder) bestSplit(idx []int, counts []int) (int, float64, bool) {
	t := b.tree
	n := len(idx)
	parent := gini(counts, n)

	maxFeatures := t.MaxFeatures
	if maxFeatures <= 0 || maxFeatures > b.p {
		maxFeatures = b.p
	}

	bestFeature, bestThreshold, bestImpurity := -1, 0.0, parent
	sorted := make([]int, n)
	left := make([]int, t.NClasses)
	right := make([]int, t.NClasses)

	visited := 0
	for _, f := range b.rng.Perm(b.p) {
		if visited >= maxFeatures {
			break
		}

		copy(sorted, idx)
		sort.Slice(sorted, func(a, c int) bool {
			return b.X[sorted[a]][f] < b.X[sorted[c]][f]
		})
		if b.X[sorted[0]][f] == b.X[sorted[n-1]][f] {
			continue
		}
		visited++

		clear(left)
		copy(right, counts)
		for k := 0; k < n-1; k++ {
			c := b.y[sorted[k]]
			left[c]++
			right[c]--

			lo, hi := b.X[sorted[k]][f], b.X[sorted[k+1]][f]
			if lo == hi {
				continue
			}
			nl, nr := k+1, n-k-1
			if nl < t.MinSamplesLeaf || nr < t.MinSamplesLeaf {
				continue
			}
			impurity := (float64(nl)*gini(left, nl) + float64(nr)*gini(right, nr)) / float64(n)
			if impurity < bestImpurity {
				bestFeature = f
				bestThreshold = lo + (hi-lo)/2
				bestImpurity = impurity
			}
		}
	}

	return bestFeature, bestThreshold, bestFeature >= 0
}

func (t *DecisionTree) leaf(x []float64) *Node {
	node := &t.Nodes[0]
	for !node.IsLeaf() {
		if x[node.Feature] <= node.Threshold {
			node = &t.Nodes[node.Left]
		} else {
			node = &t.Nodes[node.Right]
		}
	}
	return node
}

// Depth returns the number of edges on the longest root-to-leaf path.
func (t *DecisionTree) Depth() int {
	if len(t.Nodes) == 0 {
		return 0
	}
	var walk func(i int) int
	walk = func(i int) int {
		n := &t.Nodes[i]
		if n.IsLeaf() {
			return 0
		}
		return 1 + max(walk(n.Left), walk(n.Right))
	}
	return walk(0)
}

func gini(counts []int, n int) float64 {
	if n == 0 {
		return 0
	}
	g := 1.0
	for _, c := range counts {
		p := float64(c) / float64(n)
		g -= p * p
	}
	return g
}

func isPure(counts []int) bool {
	nonzero := 0
	for _, c := range counts {
		if c > 0 {
			nonzero++
		}
	}
	return nonzero <= 1
}

func proba(counts []int, n int) []float64 {
	out := make([]float64, len(counts))
	if n == 0 {
		return out
	}
	for i, c := range counts {
		out[i] = float64(c) / float64(n)
	}
	return out
}
