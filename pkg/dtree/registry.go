package dtree

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrUnknownTree   = errors.New("unknown decision tree")
	ErrDuplicateTree = errors.New("decision tree already registered")
)

const (
	CropSuitabilityTree = "crop_suitability"
	NitrogenRateTree    = "nitrogen_rate"
	SoilManagementTree  = "soil_management"
)

// NitrogenRateBounds is the agronomic range of a nitrogen prescription, lbs N/acre.
var NitrogenRateBounds = Bounds{Min: 0, Max: 220}

// TrainingSpec pairs a model declaration with its training set.
type TrainingSpec struct {
	Spec ModelSpec
	Data func() Dataset
}

// DefaultSpecs declares the built-in models and their missing-value policy:
//   - crop_suitability: training median for every feature.
//   - nitrogen_rate: zero for nitrogen_ppm and previous_crop_legume, so no
//     credit is taken for an unmeasured nitrate test or unknown rotation;
//     training median for yield_goal and organic_matter_percent.
//   - soil_management: training median for every feature.
func DefaultSpecs() []TrainingSpec {
	nBounds := NitrogenRateBounds
	return []TrainingSpec{
		{
			Spec: ModelSpec{Name: CropSuitabilityTree, Kind: KindClassifier, Params: DefaultParams},
			Data: CropSuitabilityData,
		},
		{
			Spec: ModelSpec{
				Name:   NitrogenRateTree,
				Kind:   KindRegressor,
				Unit:   "lbs_n_per_acre",
				Params: Params{MaxDepth: 10, MinSamplesLeaf: 2},
				Fill:   map[string]float64{"nitrogen_ppm": 0, "previous_crop_legume": 0},
				Bounds: &nBounds,
			},
			Data: NitrogenRateData,
		},
		{
			Spec: ModelSpec{Name: SoilManagementTree, Kind: KindClassifier, Params: DefaultParams},
			Data: SoilManagementData,
		},
	}
}

// Registry maps model names to fitted models. It is populated before being
// shared and only read afterwards.
type Registry struct {
	models map[string]Classifier
}

func NewRegistry() *Registry {
	return &Registry{models: make(map[string]Classifier)}
}

func (r *Registry) Register(name string, c Classifier) error {
	if _, ok := r.models[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateTree, name)
	}
	r.models[name] = c
	return nil
}

// Predict runs the named model. An unregistered name is a caller bug and
// fails with ErrUnknownTree rather than falling back to a default.
func (r *Registry) Predict(name string, features map[string]float64) (Prediction, error) {
	c, ok := r.models[name]
	if !ok {
		return Prediction{}, fmt.Errorf("%w: %q", ErrUnknownTree, name)
	}
	return c.Predict(features), nil
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry fits every model in DefaultSpecs.
func DefaultRegistry() (*Registry, error) {
	reg := NewRegistry()
	for _, s := range DefaultSpecs() {
		m, err := Train(s.Spec, s.Data())
		if err != nil {
			return nil, err
		}
		if err := reg.Register(s.Spec.Name, m); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
