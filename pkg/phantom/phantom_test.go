package phantom

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/stat"
)

// TestGenerateClassStatistics checks that each class has the requested mean
// and standard deviation
func TestGenerateClassStatistics(t *testing.T) {
	for _, noise := range []NoiseModel{Gaussian, Uniform} {
		ph := Generate(Params{
			Nx: 20, Ny: 20, Nz: 10,
			Means:     []float64{10, 50},
			Sigma:     2,
			Noise:     noise,
			BlockSize: 2,
			Seed:      3,
		})

		for k, want := range []float64{10, 50} {
			var vals []float64
			for i, l := range ph.Labels {
				if l == k {
					vals = append(vals, ph.Image.Data[i])
				}
			}
			mean, std := stat.MeanStdDev(vals, nil)
			if math.Abs(mean-want) > 0.2 {
				t.Errorf("noise %d class %d: expected mean %.1f, got %.3f", noise, k, want, mean)
			}
			if math.Abs(std-2) > 0.2 {
				t.Errorf("noise %d class %d: expected std 2, got %.3f", noise, k, std)
			}
		}
	}
}

// TestUniformNoiseIsBounded ensures uniform noise never exceeds sqrt(3) sigma
func TestUniformNoiseIsBounded(t *testing.T) {
	ph := Generate(Params{Nx: 10, Ny: 10, Nz: 10, Means: []float64{0}, Sigma: 5, Noise: Uniform, Seed: 1})
	limit := 5 * math.Sqrt(3)
	for i, v := range ph.Image.Data {
		if math.Abs(v) > limit {
			t.Fatalf("voxel %d: |%f| exceeds %f", i, v, limit)
		}
	}
}

// TestBiasAndOutliers verifies the ramp and outlier injection
func TestBiasAndOutliers(t *testing.T) {
	ph := Generate(Params{
		Nx: 10, Ny: 4, Nz: 4,
		Means:           []float64{100},
		BiasAmplitude:   0.1,
		OutlierFraction: 0.05,
		OutlierValue:    1000,
	})

	if got := ph.Bias[ph.Image.Index(0, 0, 0)]; math.Abs(got-math.Exp(-0.1)) > 1e-12 {
		t.Errorf("Expected bias exp(-0.1) at x=0, got %f", got)
	}
	if got := ph.Bias[ph.Image.Index(9, 0, 0)]; math.Abs(got-math.Exp(0.1)) > 1e-12 {
		t.Errorf("Expected bias exp(0.1) at x=9, got %f", got)
	}

	count := 0
	for i, o := range ph.Outliers {
		if o {
			count++
			if ph.Image.Data[i] != 1000 {
				t.Errorf("Outlier voxel %d has value %f", i, ph.Image.Data[i])
			}
		}
	}
	if count != 8 {
		t.Errorf("Expected 8 outliers in 160 voxels, got %d", count)
	}
}

// TestMask checks the ellipsoid mask
func TestMask(t *testing.T) {
	m := Mask(9, 9, 9, 0.5)
	if m.At(4, 4, 4, 0) != 1 {
		t.Error("Centre voxel should be inside the mask")
	}
	if m.At(0, 0, 0, 0) != 0 {
		t.Error("Corner voxel should be outside the mask")
	}
}
