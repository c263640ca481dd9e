// Package dtree fits small CART decision trees from embedded training sets
// and serves predictions from them.
package dtree

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

type Kind string

const (
	KindClassifier Kind = "classifier"
	KindRegressor  Kind = "regressor"
)

var ErrEmptyDataset = errors.New("empty training set")

// Dataset is a dense training set. Labels is used by classifiers, Targets by
// regressors.
type Dataset struct {
	Features []string
	X        [][]float64
	Labels   []string
	Targets  []float64
}

func (d Dataset) validate(kind Kind) error {
	if len(d.X) == 0 {
		return ErrEmptyDataset
	}
	for i, row := range d.X {
		if len(row) != len(d.Features) {
			return fmt.Errorf("row %d has %d values, want %d", i, len(row), len(d.Features))
		}
	}
	switch kind {
	case KindClassifier:
		if len(d.Labels) != len(d.X) {
			return fmt.Errorf("%d labels for %d rows", len(d.Labels), len(d.X))
		}
	case KindRegressor:
		if len(d.Targets) != len(d.X) {
			return fmt.Errorf("%d targets for %d rows", len(d.Targets), len(d.X))
		}
	default:
		return fmt.Errorf("unknown tree kind %q", kind)
	}
	return nil
}

type Params struct {
	MaxDepth       int
	MinSamplesLeaf int
}

var DefaultParams = Params{MaxDepth: 8, MinSamplesLeaf: 2}

type node struct {
	leaf      bool
	feature   int
	threshold float64
	left      *node // feature value <= threshold
	right     *node

	class        string
	distribution map[string]float64
	value        float64
	confidence   float64
	samples      int
}

// Tree is a fitted CART tree over a fixed feature order.
type Tree struct {
	kind     Kind
	features []string
	root     *node
	depth    int
	leaves   int
}

func (t *Tree) Kind() Kind { return t.kind }

func (t *Tree) Features() []string { return append([]string(nil), t.features...) }

func (t *Tree) Depth() int { return t.depth }

func (t *Tree) Leaves() int { return t.leaves }

func Fit(kind Kind, d Dataset, p Params) (*Tree, error) {
	if err := d.validate(kind); err != nil {
		return nil, err
	}
	if p.MaxDepth <= 0 {
		p.MaxDepth = DefaultParams.MaxDepth
	}
	if p.MinSamplesLeaf <= 0 {
		p.MinSamplesLeaf = DefaultParams.MinSamplesLeaf
	}

	b := &builder{kind: kind, data: d, params: p}
	if kind == KindClassifier {
		b.indexLabels()
	}
	idx := make([]int, len(d.X))
	for i := range idx {
		idx[i] = i
	}
	t := &Tree{kind: kind, features: append([]string(nil), d.Features...)}
	t.root = b.grow(idx, 0)
	t.depth = b.maxDepth
	t.leaves = b.leaves
	return t, nil
}

// predict walks the tree with a complete row in feature order.
func (t *Tree) predict(row []float64) *node {
	n := t.root
	for !n.leaf {
		if row[n.feature] <= n.threshold {
			n = n.left
		} else {
			n = n.right
		}
	}
	return n
}

type builder struct {
	kind     Kind
	data     Dataset
	params   Params
	classes  []string
	labelIDs []int
	maxDepth int
	leaves   int
}

func (b *builder) indexLabels() {
	ids := make(map[string]int)
	b.labelIDs = make([]int, len(b.data.Labels))
	for i, label := range b.data.Labels {
		id, ok := ids[label]
		if !ok {
			id = len(b.classes)
			ids[label] = id
			b.classes = append(b.classes, label)
		}
		b.labelIDs[i] = id
	}
}

func (b *builder) grow(idx []int, depth int) *node {
	if depth > b.maxDepth {
		b.maxDepth = depth
	}
	if depth >= b.params.MaxDepth || len(idx) < 2*b.params.MinSamplesLeaf || b.pure(idx) {
		return b.leaf(idx)
	}

	feature, threshold, ok := b.bestSplit(idx)
	if !ok {
		return b.leaf(idx)
	}

	var left, right []int
	for _, i := range idx {
		if b.data.X[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	return &node{
		feature:   feature,
		threshold: threshold,
		samples:   len(idx),
		left:      b.grow(left, depth+1),
		right:     b.grow(right, depth+1),
	}
}

func (b *builder) pure(idx []int) bool {
	if b.kind == KindClassifier {
		first := b.data.Labels[idx[0]]
		for _, i := range idx[1:] {
			if b.data.Labels[i] != first {
				return false
			}
		}
		return true
	}
	first := b.data.Targets[idx[0]]
	for _, i := range idx[1:] {
		if b.data.Targets[i] != first {
			return false
		}
	}
	return true
}

func (b *builder) leaf(idx []int) *node {
	b.leaves++
	n := &node{leaf: true, samples: len(idx)}
	if b.kind == KindClassifier {
		counts := make(map[string]float64)
		for _, i := range idx {
			counts[b.data.Labels[i]]++
		}
		total := float64(len(idx))
		n.distribution = make(map[string]float64, len(counts))
		for label, c := range counts {
			n.distribution[label] = c / total
		}
		n.class = majority(counts)
		n.confidence = n.distribution[n.class]
		return n
	}

	ys := b.targets(idx)
	mean, sd := stat.MeanStdDev(ys, nil)
	if len(ys) < 2 {
		sd = 0
	}
	n.value = mean
	n.confidence = regressionConfidence(mean, sd)
	return n
}

func regressionConfidence(mean, sd float64) float64 {
	if sd == 0 || math.IsNaN(sd) {
		return 1
	}
	if mean == 0 {
		return 0
	}
	return clamp(1-sd/math.Abs(mean), 0, 1)
}

// majority breaks ties by label order so fitting is deterministic.
func majority(counts map[string]float64) string {
	labels := make([]string, 0, len(counts))
	for label := range counts {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	best := labels[0]
	for _, label := range labels[1:] {
		if counts[label] > counts[best] {
			best = label
		}
	}
	return best
}

func (b *builder) targets(idx []int) []float64 {
	ys := make([]float64, len(idx))
	for k, i := range idx {
		ys[k] = b.data.Targets[i]
	}
	return ys
}

// bestSplit scans every feature for the midpoint threshold that most reduces
// impurity while leaving MinSamplesLeaf rows on each side.
func (b *builder) bestSplit(idx []int) (feature int, threshold float64, ok bool) {
	n := len(idx)
	minLeaf := b.params.MinSamplesLeaf
	parent := b.impurity(idx)
	bestGain := 1e-12
	order := make([]int, n)

	for f := range b.data.Features {
		copy(order, idx)
		sort.SliceStable(order, func(i, j int) bool {
			return b.data.X[order[i]][f] < b.data.X[order[j]][f]
		})

		s := b.newScan(order)
		for k := 1; k < n; k++ {
			s.moveLeft(order[k-1])
			if k < minLeaf || n-k < minLeaf {
				continue
			}
			lo := b.data.X[order[k-1]][f]
			hi := b.data.X[order[k]][f]
			if lo == hi {
				continue
			}
			if gain := parent - s.childImpurity(); gain > bestGain {
				bestGain = gain
				feature, threshold, ok = f, (lo+hi)/2, true
			}
		}
	}
	return feature, threshold, ok
}

// impurity is Gini for classifiers and variance for regressors.
func (b *builder) impurity(idx []int) float64 {
	if b.kind == KindClassifier {
		counts := make([]float64, len(b.classes))
		for _, i := range idx {
			counts[b.labelIDs[i]]++
		}
		return gini(counts, float64(len(idx)))
	}
	ys := b.targets(idx)
	if len(ys) < 2 {
		return 0
	}
	return stat.PopVariance(ys, nil)
}

func gini(counts []float64, n float64) float64 {
	if n == 0 {
		return 0
	}
	return 1 - floats.Dot(counts, counts)/(n*n)
}

// scan keeps running left/right statistics while a split point sweeps over
// rows sorted by one feature.
type scan struct {
	b      *builder
	nl, nr float64

	left, right []float64 // class counts

	sumL, sqL, sumR, sqR float64
}

func (b *builder) newScan(order []int) *scan {
	s := &scan{b: b, nr: float64(len(order))}
	if b.kind == KindClassifier {
		s.left = make([]float64, len(b.classes))
		s.right = make([]float64, len(b.classes))
		for _, i := range order {
			s.right[b.labelIDs[i]]++
		}
		return s
	}
	for _, i := range order {
		y := b.data.Targets[i]
		s.sumR += y
		s.sqR += y * y
	}
	return s
}

func (s *scan) moveLeft(i int) {
	s.nl++
	s.nr--
	if s.b.kind == KindClassifier {
		id := s.b.labelIDs[i]
		s.left[id]++
		s.right[id]--
		return
	}
	y := s.b.data.Targets[i]
	s.sumL += y
	s.sqL += y * y
	s.sumR -= y
	s.sqR -= y * y
}

// childImpurity is the sample-weighted impurity of the two sides.
func (s *scan) childImpurity() float64 {
	n := s.nl + s.nr
	if s.b.kind == KindClassifier {
		return s.nl/n*gini(s.left, s.nl) + s.nr/n*gini(s.right, s.nr)
	}
	return s.nl/n*variance(s.sumL, s.sqL, s.nl) + s.nr/n*variance(s.sumR, s.sqR, s.nr)
}

func variance(sum, sq, n float64) float64 {
	if n == 0 {
		return 0
	}
	mean := sum / n
	return math.Max(0, sq/n-mean*mean)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
