package agronomy

import (
	"errors"
	"fmt"
	"testing"
)

func validRequest() *Request {
	return &Request{
		SoilData: &SoilTest{PH: Float(6.4), OrganicMatterPercent: Float(3.2), PhosphorusPPM: Float(18), PotassiumPPM: Float(140), NitrogenPPM: Float(12)},
		CropData: &CropInfo{CropName: "corn"},
		Location: &Location{Latitude: Float(41.9), Longitude: Float(-93.6)},
	}
}

func TestValid(t *testing.T) {
	if err := validRequest().Valid(); err != nil {
		t.Fatalf("expected valid request, got %v", err)
	}
	if err := (&Request{Location: &Location{Latitude: Float(10), Longitude: Float(0)}}).Valid(); err != nil {
		t.Errorf("expected partial request to be valid, got %v", err)
	}
	if err := (&Request{SoilData: &SoilTest{PH: Float(6.5)}}).Valid(); err != nil {
		t.Errorf("expected soil test with only ph to be valid, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(r *Request)
		want   error
	}{
		{"empty", func(r *Request) { *r = Request{} }, ErrEmptyRequest},
		{"ph omitted", func(r *Request) { r.SoilData.PH = nil }, ErrMissingPH},
		{"ph high", func(r *Request) { r.SoilData.PH = Float(14.5) }, ErrInvalidPH},
		{"ph negative", func(r *Request) { r.SoilData.PH = Float(-1) }, ErrInvalidPH},
		{"organic matter", func(r *Request) { r.SoilData.OrganicMatterPercent = Float(120) }, ErrInvalidOrganicMatter},
		{"phosphorus", func(r *Request) { r.SoilData.PhosphorusPPM = Float(-3) }, ErrNegativeNutrient},
		{"nitrate", func(r *Request) { r.SoilData.NitrogenPPM = Float(-1) }, ErrNegativeNutrient},
		{"crop name", func(r *Request) { r.CropData.CropName = "" }, ErrMissingCropName},
		{"yield goal", func(r *Request) { r.CropData.YieldGoal = Float(-10) }, ErrInvalidYieldGoal},
		{"latitude omitted", func(r *Request) { r.Location.Latitude = nil }, ErrMissingCoordinates},
		{"longitude omitted", func(r *Request) { r.Location.Longitude = nil }, ErrMissingCoordinates},
		{"latitude", func(r *Request) { r.Location.Latitude = Float(95) }, ErrInvalidCoordinates},
		{"farm size", func(r *Request) { r.FarmProfile = &FarmProfile{FarmSizeAcres: Float(-1)} }, ErrInvalidFarmSize},
	}
	for _, tt := range tests {
		r := validRequest()
		tt.mutate(r)
		err := r.Valid()
		if !errors.Is(err, tt.want) {
			t.Errorf("%s: expected %v, got %v", tt.name, tt.want, err)
		}
		if !IsValidationError(fmt.Errorf("decode: %w", err)) {
			t.Errorf("%s: expected wrapped error to be a validation error", tt.name)
		}
	}

	var nilReq *Request
	if !errors.Is(nilReq.Valid(), ErrEmptyRequest) {
		t.Error("expected nil request to be empty")
	}
	if IsValidationError(errors.New("boom")) {
		t.Error("plain error reported as validation error")
	}
}

func TestNormalize(t *testing.T) {
	r := &Request{
		SoilData:    &SoilTest{Texture: " Silt Loam ", Drainage: "Poorly_Drained"},
		CropData:    &CropInfo{CropName: "  Corn", PreviousCrop: "Dry Beans"},
		FarmProfile: &FarmProfile{TillageSystem: "No Till"},
	}
	r.Normalize()

	if r.CropData.CropName != "corn" {
		t.Errorf("expected corn, got %q", r.CropData.CropName)
	}
	if r.CropData.PreviousCrop != "dry_beans" {
		t.Errorf("expected dry_beans, got %q", r.CropData.PreviousCrop)
	}
	if r.SoilData.Texture != "silt_loam" {
		t.Errorf("expected silt_loam, got %q", r.SoilData.Texture)
	}
	if r.SoilData.Drainage != DrainagePoor {
		t.Errorf("expected %s, got %q", DrainagePoor, r.SoilData.Drainage)
	}
	if r.FarmProfile.TillageSystem != "no_till" {
		t.Errorf("expected no_till, got %q", r.FarmProfile.TillageSystem)
	}

	var nilReq *Request
	nilReq.Normalize()
}

func TestIsLegume(t *testing.T) {
	for _, crop := range []string{"soybean", "Alfalfa", "dry beans"} {
		if !IsLegume(crop) {
			t.Errorf("expected %s to be a legume", crop)
		}
	}
	for _, crop := range []string{"corn", "wheat", ""} {
		if IsLegume(crop) {
			t.Errorf("expected %s not to be a legume", crop)
		}
	}
}
