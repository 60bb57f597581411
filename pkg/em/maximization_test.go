package em

import (
	"math"
	"testing"

	"emseg/pkg/phantom"
)

// TestMAPPullsMeanTowardsPrior uses a confident prior away from the data
func TestMAPPullsMeanTowardsPrior(t *testing.T) {
	ph := twoClassPhantom(5, phantom.Gaussian, 61)
	s := newTestSegmenter(ph.Image, 2)
	s.SetMAP([]float64{0, 140}, []float64{25, 1e-4})
	mustRun(t, s)

	means, err := s.Means()
	if err != nil {
		t.Fatalf("Means failed: %v", err)
	}
	if math.Abs(means[1][0]-140) > 0.5 {
		t.Errorf("Confident prior should hold the mean near 140, got %.3f", means[1][0])
	}
	if math.Abs(means[0][0]) > 2 {
		t.Errorf("Weak prior should leave the mean near 0, got %.3f", means[0][0])
	}
}

// TestMAPPriorInLogDomain checks the linearised mapping of the prior
func TestMAPPriorInLogDomain(t *testing.T) {
	s := New(1, 1, 1)
	s.rescaleMin = []float64{10}
	s.rescaleMax = []float64{110}
	s.mapM = []float64{60}
	s.mapV = []float64{4}

	m, v := s.mapPriorInLogDomain(0)
	if math.Abs(m-math.Log(1.5)) > 1e-12 {
		t.Errorf("Expected log mean %f, got %f", math.Log(1.5), m)
	}
	slope := 1 / (100 * 1.5)
	if math.Abs(v-4*slope*slope) > 1e-15 {
		t.Errorf("Expected log variance %g, got %g", 4*slope*slope, v)
	}
	if back := s.fromLogDomain(0, m); math.Abs(back-60) > 1e-9 {
		t.Errorf("Round trip of the mean gave %f", back)
	}
}

// TestPartialVolumeClassesAreTied runs the PV model on three tissues
func TestPartialVolumeClassesAreTied(t *testing.T) {
	ph := phantom.Generate(phantom.Params{
		Nx: 12, Ny: 12, Nz: 12,
		Means:     []float64{0, 50, 100},
		Sigma:     5,
		BlockSize: 2,
		Seed:      62,
	})
	s := newTestSegmenter(ph.Image, 3)
	s.SetLoAd(0, false, true, false)
	mustRun(t, s)

	mx := s.model
	if want := 0.5 * (mx.m[0] + mx.m[2]); math.Abs(mx.m[1]-want) > 1e-12 {
		t.Errorf("PV mean %.12f, expected %.12f", mx.m[1], want)
	}
	if want := 0.5 * (mx.v[0] + mx.v[2]); math.Abs(mx.v[1]-want) > 1e-12 {
		t.Errorf("PV variance %.12g, expected %.12g", mx.v[1], want)
	}
	if !s.isTiedClass(1) || s.isTiedClass(0) || s.isTiedClass(2) {
		t.Error("Only the middle class should be tied")
	}
}

// TestReduce sums per-worker partials
func TestReduce(t *testing.T) {
	got := reduce([][]float64{{1, 2}, nil, {3, 4}}, 2)
	if got[0] != 4 || got[1] != 6 {
		t.Errorf("Expected [4 6], got %v", got)
	}
}
