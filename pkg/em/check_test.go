package em

import (
	"errors"
	"testing"

	"emseg/pkg/phantom"
	"emseg/pkg/volume"
)

// joinedCount returns how many errors errors.Join combined into err
func joinedCount(err error) int {
	if err == nil {
		return 0
	}
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		return len(j.Unwrap())
	}
	return 1
}

// TestCheckParametersValid accepts a complete configuration
func TestCheckParametersValid(t *testing.T) {
	ph := twoClassPhantom(5, phantom.Gaussian, 1)
	s := newTestSegmenter(ph.Image, 3)
	s.SetMRF(0.5)
	s.SetBiasField(3, 0.01)
	s.SetOutlierness(4, 0.01)
	s.SetLoAd(0, false, true, true)
	if err := s.CheckParameters(); err != nil {
		t.Errorf("Expected a valid configuration, got %v", err)
	}
	if s.State() != Uninitialized {
		t.Error("CheckParameters must not change the state")
	}
}

// TestCheckParametersReportsEveryViolation collects several problems at once
func TestCheckParametersReportsEveryViolation(t *testing.T) {
	s := New(0, 1, 1)
	s.SetRegValue(-1)
	s.SetMaximalIterationNumber(0)

	err := s.CheckParameters()
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("Expected a configuration error, got %v", err)
	}
	// classes, missing input, regularisation, max and min iterations
	if n := joinedCount(err); n < 5 {
		t.Errorf("Expected at least 5 violations, got %d: %v", n, err)
	}
}

// TestCheckParametersRules covers the individual validation rules
func TestCheckParametersRules(t *testing.T) {
	ph := twoClassPhantom(5, phantom.Gaussian, 1)
	other := volume.New(5, 5, 5, 1, 1)

	tests := []struct {
		name      string
		classes   int
		configure func(s *Segmenter)
	}{
		{"ChannelMismatch", 2, func(s *Segmenter) { s.nu = 2 }},
		{"MaskGeometry", 2, func(s *Segmenter) { s.SetMaskImage(other) }},
		{"MaskChannels", 2, func(s *Segmenter) { s.SetMaskImage(volume.NewLike(ph.Image, 2)) }},
		{"PriorChannels", 2, func(s *Segmenter) { s.SetPriorImage(volume.NewLike(ph.Image, 3)) }},
		{"PriorGeometry", 2, func(s *Segmenter) { s.SetPriorImage(volume.New(5, 5, 5, 1, 2)) }},
		{"MinAboveMax", 2, func(s *Segmenter) { s.SetMinIterationNumber(200) }},
		{"EmptyRescale", 2, func(s *Segmenter) { s.SetRescaleRange([]float64{5}, []float64{5}) }},
		{"RescaleLength", 2, func(s *Segmenter) { s.SetRescaleRange([]float64{0, 1}, []float64{1, 2}) }},
		{"MAPLength", 2, func(s *Segmenter) { s.SetMAP([]float64{1}, []float64{1}) }},
		{"MAPVariance", 2, func(s *Segmenter) { s.SetMAP([]float64{1, 2}, []float64{1, 0}) }},
		{"RelaxWithoutPriors", 2, func(s *Segmenter) { s.SetRelaxation(0.5, 2) }},
		{"RelaxFactor", 2, func(s *Segmenter) {
			s.SetPriorImage(volume.NewLike(ph.Image, 2))
			s.SetRelaxation(1.5, 2)
		}},
		{"MRFStrength", 2, func(s *Segmenter) { s.SetMRF(-1) }},
		{"MRFMatrixShape", 2, func(s *Segmenter) { s.SetMRFTransitionMatrix([][]float64{{0, 1}}) }},
		{"MRFBetaLength", 2, func(s *Segmenter) { s.SetMRFBeta([]float64{1, 1, 1}) }},
		{"OutlierThreshold", 2, func(s *Segmenter) { s.SetOutlierness(0, 0.01) }},
		{"BiasOrder", 2, func(s *Segmenter) { s.SetBiasField(MaxBiasFieldOrder+1, 0.01) }},
		{"PVEvenClasses", 4, func(s *Segmenter) { s.SetLoAd(0, false, true, false) }},
		{"PVTooFewClasses", 1, func(s *Segmenter) { s.SetLoAd(0, false, true, false) }},
		{"SGWithoutMRF", 3, func(s *Segmenter) { s.SetLoAd(0, false, true, true) }},
		{"SGWithMatrix", 3, func(s *Segmenter) {
			s.SetLoAd(0, false, true, true)
			s.SetMRFTransitionMatrix([][]float64{{0, 1, 1}, {1, 0, 1}, {1, 1, 0}})
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestSegmenter(ph.Image, tc.classes)
			tc.configure(s)
			if err := s.CheckParameters(); !errors.Is(err, ErrConfiguration) {
				t.Errorf("Expected a configuration error, got %v", err)
			}
		})
	}
}

// TestMAPRequiresSingleChannel rejects MAP on multi-channel data
func TestMAPRequiresSingleChannel(t *testing.T) {
	s := New(2, 2, 1)
	s.SetInputImage(volume.New(4, 4, 4, 1, 2))
	s.SetMAP([]float64{1, 2}, []float64{1, 1})
	err := s.CheckParameters()
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("Expected a configuration error, got %v", err)
	}
	if joinedCount(err) != 1 {
		t.Errorf("Expected exactly one violation, got %v", err)
	}
}
