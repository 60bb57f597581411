package em

import (
	"math"
	"testing"

	"emseg/pkg/phantom"
	"emseg/pkg/volume"
)

// twoClassPhantom returns a 10^3 checkerboard with classes at 0 and 100
func twoClassPhantom(sigma float64, noise phantom.NoiseModel, seed int64) *phantom.Phantom {
	return phantom.Generate(phantom.Params{
		Nx: 10, Ny: 10, Nz: 10,
		Means:     []float64{0, 100},
		Sigma:     sigma,
		Noise:     noise,
		BlockSize: 2,
		Seed:      seed,
	})
}

// newTestSegmenter returns a single-channel segmenter on img using two workers
func newTestSegmenter(img *volume.Volume, classes int) *Segmenter {
	s := New(classes, 1, 1)
	s.SetInputImage(img)
	s.SetWorkers(2)
	return s
}

// mustRun initialises and runs s, failing the test on any error
func mustRun(t *testing.T, s *Segmenter) {
	t.Helper()
	if err := s.Initialise(); err != nil {
		t.Fatalf("Initialise failed: %v", err)
	}
	if err := s.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if st := s.State(); st != Converged && st != IterationLimitReached {
		t.Fatalf("Unexpected terminal state %s", st)
	}
}

// closestClass returns the index of the entry of means nearest to v
func closestClass(means [][]float64, v float64) int {
	best := 0
	for k := range means {
		if math.Abs(means[k][0]-v) < math.Abs(means[best][0]-v) {
			best = k
		}
	}
	return best
}

// checkSimplex fails if a row of p (voxel-major, k per voxel) leaves the simplex
func checkSimplex(t *testing.T, name string, p []float64, k int) {
	t.Helper()
	for i := 0; i < len(p)/k; i++ {
		var sum float64
		for c := 0; c < k; c++ {
			v := p[i*k+c]
			if v < 0 || v > 1+1e-12 || math.IsNaN(v) {
				t.Fatalf("%s: voxel %d class %d has probability %g", name, i, c, v)
			}
			sum += v
		}
		if math.Abs(sum-1) > 1e-9 {
			t.Fatalf("%s: voxel %d sums to %.12f", name, i, sum)
		}
	}
}
