package rules

import (
	"sort"

	"github.com/cropguard/recommendation/pkg/agronomy"
)

type extractor func(req *agronomy.Request) (any, bool)

func soilField(get func(s *agronomy.SoilTest) (any, bool)) extractor {
	return func(req *agronomy.Request) (any, bool) {
		if req.SoilData == nil {
			return nil, false
		}
		return get(req.SoilData)
	}
}

func cropField(get func(c *agronomy.CropInfo) (any, bool)) extractor {
	return func(req *agronomy.Request) (any, bool) {
		if req.CropData == nil {
			return nil, false
		}
		return get(req.CropData)
	}
}

func locationField(get func(l *agronomy.Location) (any, bool)) extractor {
	return func(req *agronomy.Request) (any, bool) {
		if req.Location == nil {
			return nil, false
		}
		return get(req.Location)
	}
}

func farmField(get func(f *agronomy.FarmProfile) (any, bool)) extractor {
	return func(req *agronomy.Request) (any, bool) {
		if req.FarmProfile == nil {
			return nil, false
		}
		return get(req.FarmProfile)
	}
}

func optFloat(v *float64) (any, bool) {
	if v == nil {
		return nil, false
	}
	return *v, true
}

func optString(s string) (any, bool) {
	if s == "" {
		return nil, false
	}
	return s, true
}

var extractors = map[string]extractor{
	// soil
	"soil_ph":                soilField(func(s *agronomy.SoilTest) (any, bool) { return optFloat(s.PH) }),
	"organic_matter_percent": soilField(func(s *agronomy.SoilTest) (any, bool) { return optFloat(s.OrganicMatterPercent) }),
	"phosphorus_ppm":         soilField(func(s *agronomy.SoilTest) (any, bool) { return optFloat(s.PhosphorusPPM) }),
	"potassium_ppm":          soilField(func(s *agronomy.SoilTest) (any, bool) { return optFloat(s.PotassiumPPM) }),
	"nitrogen_ppm":           soilField(func(s *agronomy.SoilTest) (any, bool) { return optFloat(s.NitrogenPPM) }),
	"cec_meq_per_100g":       soilField(func(s *agronomy.SoilTest) (any, bool) { return optFloat(s.CECMeqPer100g) }),
	"soil_texture":           soilField(func(s *agronomy.SoilTest) (any, bool) { return optString(s.Texture) }),
	"drainage_class":         soilField(func(s *agronomy.SoilTest) (any, bool) { return optString(string(s.Drainage)) }),

	// crop
	"crop_name":     cropField(func(c *agronomy.CropInfo) (any, bool) { return optString(c.CropName) }),
	"yield_goal":    cropField(func(c *agronomy.CropInfo) (any, bool) { return optFloat(c.YieldGoal) }),
	"previous_crop": cropField(func(c *agronomy.CropInfo) (any, bool) { return optString(c.PreviousCrop) }),

	// location
	"latitude":     locationField(func(l *agronomy.Location) (any, bool) { return optFloat(l.Latitude) }),
	"longitude":    locationField(func(l *agronomy.Location) (any, bool) { return optFloat(l.Longitude) }),
	"climate_zone": locationField(func(l *agronomy.Location) (any, bool) { return optString(l.ClimateZone) }),

	// farm
	"farm_size_acres": farmField(func(f *agronomy.FarmProfile) (any, bool) { return optFloat(f.FarmSizeAcres) }),
	"irrigation_available": farmField(func(f *agronomy.FarmProfile) (any, bool) {
		if f.IrrigationAvailable == nil {
			return nil, false
		}
		return *f.IrrigationAvailable, true
	}),
	"tillage_system": farmField(func(f *agronomy.FarmProfile) (any, bool) { return optString(f.TillageSystem) }),
}

// ExtractField resolves a flat field name against req. It returns false for
// unknown fields, a nil request, and fields under an absent sub-object.
func ExtractField(req *agronomy.Request, field string) (any, bool) {
	if req == nil {
		return nil, false
	}
	get, ok := extractors[field]
	if !ok {
		return nil, false
	}
	return get(req)
}

func KnownField(field string) bool {
	_, ok := extractors[field]
	return ok
}

// Fields returns every field name a condition may reference, sorted.
func Fields() []string {
	out := make([]string, 0, len(extractors))
	for name := range extractors {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Feature name for the 0/1 legume rotation flag consumed by nitrogen_rate.
const FeaturePreviousCropLegume = "previous_crop_legume"

// TreeFeatures flattens every numeric field that resolves on req into the
// feature map consumed by the decision tree models. Absent fields are left
// out so each model applies its own missing-value policy.
func TreeFeatures(req *agronomy.Request) map[string]float64 {
	features := make(map[string]float64)
	for name := range extractors {
		v, ok := ExtractField(req, name)
		if !ok {
			continue
		}
		if f, isNum := v.(float64); isNum {
			features[name] = f
		}
	}
	if prev, ok := ExtractField(req, "previous_crop"); ok {
		if agronomy.IsLegume(prev.(string)) {
			features[FeaturePreviousCropLegume] = 1
		} else {
			features[FeaturePreviousCropLegume] = 0
		}
	}
	return features
}
