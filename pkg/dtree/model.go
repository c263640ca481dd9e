package dtree

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Prediction is the output of one model. Classifiers fill Class and
// Distribution, regressors fill Value.
type Prediction struct {
	Model        string             `json:"model"`
	Kind         Kind               `json:"kind"`
	Class        string             `json:"class,omitempty"`
	Value        float64            `json:"value,omitempty"`
	Unit         string             `json:"unit,omitempty"`
	Confidence   float64            `json:"confidence"`
	Distribution map[string]float64 `json:"distribution,omitempty"`
	Imputed      []string           `json:"imputed,omitempty"`
}

// Classifier is anything that turns a flat feature map into a prediction.
type Classifier interface {
	Predict(features map[string]float64) Prediction
}

// Bounds clamps regression output.
type Bounds struct {
	Min, Max float64
}

// ModelSpec describes how a named model is fitted and how it treats input
// features that are absent or NaN.
type ModelSpec struct {
	Name   string
	Kind   Kind
	Unit   string
	Params Params
	// Fill gives explicit values for missing features. Features not listed
	// are imputed with their training-set median.
	Fill   map[string]float64
	Bounds *Bounds
}

// Model is a fitted tree plus its missing-value policy.
type Model struct {
	spec ModelSpec
	tree *Tree
	fill map[string]float64
}

// Train fits spec on d and resolves the missing-value policy for every
// feature.
func Train(spec ModelSpec, d Dataset) (*Model, error) {
	tree, err := Fit(spec.Kind, d, spec.Params)
	if err != nil {
		return nil, fmt.Errorf("fit %s: %w", spec.Name, err)
	}

	fill := make(map[string]float64, len(d.Features))
	col := make([]float64, len(d.X))
	for f, name := range d.Features {
		if v, ok := spec.Fill[name]; ok {
			fill[name] = v
			continue
		}
		for i, row := range d.X {
			col[i] = row[f]
		}
		sort.Float64s(col)
		fill[name] = stat.Quantile(0.5, stat.Empirical, col, nil)
	}
	return &Model{spec: spec, tree: tree, fill: fill}, nil
}

func (m *Model) Name() string { return m.spec.Name }

func (m *Model) Tree() *Tree { return m.tree }

// FillValue reports the value substituted when feature is missing.
func (m *Model) FillValue(feature string) (float64, bool) {
	v, ok := m.fill[feature]
	return v, ok
}

func (m *Model) Predict(features map[string]float64) Prediction {
	row := make([]float64, len(m.tree.features))
	var imputed []string
	for i, name := range m.tree.features {
		v, ok := features[name]
		if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
			v = m.fill[name]
			imputed = append(imputed, name)
		}
		row[i] = v
	}

	leaf := m.tree.predict(row)
	p := Prediction{
		Model:      m.spec.Name,
		Kind:       m.spec.Kind,
		Unit:       m.spec.Unit,
		Confidence: clamp(leaf.confidence, 0, 1),
		Imputed:    imputed,
	}
	if m.spec.Kind == KindClassifier {
		p.Class = leaf.class
		p.Distribution = make(map[string]float64, len(leaf.distribution))
		for k, v := range leaf.distribution {
			p.Distribution[k] = v
		}
		return p
	}

	p.Value = leaf.value
	if b := m.spec.Bounds; b != nil {
		p.Value = clamp(p.Value, b.Min, b.Max)
	}
	return p
}
