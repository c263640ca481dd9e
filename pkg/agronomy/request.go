package agronomy

import (
	"errors"
	"strings"
)

type DrainageClass string

const (
	DrainageWell     DrainageClass = "well_drained"
	DrainageModerate DrainageClass = "moderately_well_drained"
	DrainagePoor     DrainageClass = "poorly_drained"
)

// SoilTest holds a laboratory soil analysis. Nutrient values are in ppm.
// Measurements are pointers so an omitted value stays distinguishable from 0.
type SoilTest struct {
	PH                   *float64      `json:"ph,omitempty" yaml:"ph,omitempty"`
	OrganicMatterPercent *float64      `json:"organic_matter_percent,omitempty" yaml:"organic_matter_percent,omitempty"`
	PhosphorusPPM        *float64      `json:"phosphorus_ppm,omitempty" yaml:"phosphorus_ppm,omitempty"`
	PotassiumPPM         *float64      `json:"potassium_ppm,omitempty" yaml:"potassium_ppm,omitempty"`
	NitrogenPPM          *float64      `json:"nitrogen_ppm,omitempty" yaml:"nitrogen_ppm,omitempty"`
	CECMeqPer100g        *float64      `json:"cec_meq_per_100g,omitempty" yaml:"cec_meq_per_100g,omitempty"`
	Texture              string        `json:"soil_texture,omitempty" yaml:"soil_texture,omitempty"`
	Drainage             DrainageClass `json:"drainage_class,omitempty" yaml:"drainage_class,omitempty"`
	TestDate             string        `json:"test_date,omitempty" yaml:"test_date,omitempty"`
}

type CropInfo struct {
	CropName     string   `json:"crop_name" yaml:"crop_name"`
	YieldGoal    *float64 `json:"yield_goal,omitempty" yaml:"yield_goal,omitempty"` // bu/acre
	PreviousCrop string   `json:"previous_crop,omitempty" yaml:"previous_crop,omitempty"`
}

type Location struct {
	Latitude    *float64 `json:"latitude,omitempty" yaml:"latitude,omitempty"`
	Longitude   *float64 `json:"longitude,omitempty" yaml:"longitude,omitempty"`
	ClimateZone string   `json:"climate_zone,omitempty" yaml:"climate_zone,omitempty"`
}

type FarmProfile struct {
	FarmSizeAcres       *float64 `json:"farm_size_acres,omitempty" yaml:"farm_size_acres,omitempty"`
	IrrigationAvailable *bool    `json:"irrigation_available,omitempty" yaml:"irrigation_available,omitempty"`
	TillageSystem       string   `json:"tillage_system,omitempty" yaml:"tillage_system,omitempty"`
}

// Request is the recommendation input. Every sub-object is optional.
type Request struct {
	RequestID   string       `json:"request_id,omitempty" yaml:"request_id,omitempty"`
	SoilData    *SoilTest    `json:"soil_data,omitempty" yaml:"soil_data,omitempty"`
	CropData    *CropInfo    `json:"crop_data,omitempty" yaml:"crop_data,omitempty"`
	Location    *Location    `json:"location,omitempty" yaml:"location,omitempty"`
	FarmProfile *FarmProfile `json:"farm_profile,omitempty" yaml:"farm_profile,omitempty"`
}

// Float returns a pointer to v, for filling optional measurements.
func Float(v float64) *float64 { return &v }

// Valid reports range violations in the parts of the request that are present.
// A soil test must carry its pH and a location both coordinates; the other
// measurements may be omitted.
func (r *Request) Valid() error {
	if r == nil {
		return ErrEmptyRequest
	}
	if r.SoilData == nil && r.CropData == nil && r.Location == nil && r.FarmProfile == nil {
		return ErrEmptyRequest
	}
	if s := r.SoilData; s != nil {
		if s.PH == nil {
			return ErrMissingPH
		}
		if *s.PH < 0 || *s.PH > 14 {
			return ErrInvalidPH
		}
		if s.OrganicMatterPercent != nil && (*s.OrganicMatterPercent < 0 || *s.OrganicMatterPercent > 100) {
			return ErrInvalidOrganicMatter
		}
		if negative(s.PhosphorusPPM) || negative(s.PotassiumPPM) || negative(s.NitrogenPPM) {
			return ErrNegativeNutrient
		}
	}
	if c := r.CropData; c != nil {
		if c.CropName == "" {
			return ErrMissingCropName
		}
		if negative(c.YieldGoal) {
			return ErrInvalidYieldGoal
		}
	}
	if l := r.Location; l != nil {
		if l.Latitude == nil || l.Longitude == nil {
			return ErrMissingCoordinates
		}
		if *l.Latitude < -90 || *l.Latitude > 90 || *l.Longitude < -180 || *l.Longitude > 180 {
			return ErrInvalidCoordinates
		}
	}
	if f := r.FarmProfile; f != nil && negative(f.FarmSizeAcres) {
		return ErrInvalidFarmSize
	}
	return nil
}

func negative(v *float64) bool {
	return v != nil && *v < 0
}

// Clone returns a copy of r that shares no sub-objects with it.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	out := *r
	if r.SoilData != nil {
		s := *r.SoilData
		s.PH = cloneFloat(s.PH)
		s.OrganicMatterPercent = cloneFloat(s.OrganicMatterPercent)
		s.PhosphorusPPM = cloneFloat(s.PhosphorusPPM)
		s.PotassiumPPM = cloneFloat(s.PotassiumPPM)
		s.NitrogenPPM = cloneFloat(s.NitrogenPPM)
		s.CECMeqPer100g = cloneFloat(s.CECMeqPer100g)
		out.SoilData = &s
	}
	if r.CropData != nil {
		c := *r.CropData
		c.YieldGoal = cloneFloat(c.YieldGoal)
		out.CropData = &c
	}
	if r.Location != nil {
		l := *r.Location
		l.Latitude = cloneFloat(l.Latitude)
		l.Longitude = cloneFloat(l.Longitude)
		out.Location = &l
	}
	if r.FarmProfile != nil {
		f := *r.FarmProfile
		f.FarmSizeAcres = cloneFloat(f.FarmSizeAcres)
		if f.IrrigationAvailable != nil {
			irrigated := *f.IrrigationAvailable
			f.IrrigationAvailable = &irrigated
		}
		out.FarmProfile = &f
	}
	return &out
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	return Float(*v)
}

// Normalize lower-cases and trims the free-text identifiers that rules
// compare against, so "Corn " and "corn" select the same rules.
func (r *Request) Normalize() {
	if r == nil {
		return
	}
	if c := r.CropData; c != nil {
		c.CropName = normalizeName(c.CropName)
		c.PreviousCrop = normalizeName(c.PreviousCrop)
	}
	if s := r.SoilData; s != nil {
		s.Texture = normalizeName(s.Texture)
		s.Drainage = DrainageClass(normalizeName(string(s.Drainage)))
	}
	if f := r.FarmProfile; f != nil {
		f.TillageSystem = normalizeName(f.TillageSystem)
	}
}

func normalizeName(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "_")
}

var legumes = map[string]struct{}{
	"soybean":   {},
	"alfalfa":   {},
	"clover":    {},
	"peas":      {},
	"dry_beans": {},
}

// IsLegume reports whether crop fixes nitrogen for the following season.
func IsLegume(crop string) bool {
	_, ok := legumes[normalizeName(crop)]
	return ok
}

var (
	ErrEmptyRequest         = &validationError{"request has no soil, crop, location or farm data"}
	ErrMissingPH            = &validationError{"soil_data requires ph"}
	ErrInvalidPH            = &validationError{"soil ph must be within 0-14"}
	ErrInvalidOrganicMatter = &validationError{"organic matter percent must be within 0-100"}
	ErrNegativeNutrient     = &validationError{"nutrient values must not be negative"}
	ErrMissingCropName      = &validationError{"missing crop_name"}
	ErrInvalidYieldGoal     = &validationError{"yield goal must not be negative"}
	ErrMissingCoordinates   = &validationError{"location requires latitude and longitude"}
	ErrInvalidCoordinates   = &validationError{"invalid coordinates"}
	ErrInvalidFarmSize      = &validationError{"farm size must not be negative"}
)

type validationError struct {
	msg string
}

func (v *validationError) Error() string {
	return v.msg
}

// IsValidationError reports whether err was produced by Request.Valid.
func IsValidationError(err error) bool {
	var v *validationError
	return errors.As(err, &v)
}
