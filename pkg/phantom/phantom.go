// Package phantom generates deterministic synthetic volumes with known
// ground truth: labelled classes, intensity noise, a smooth multiplicative
// bias ramp and injected outlier voxels.
package phantom

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/stat/distuv"

	"emseg/pkg/volume"
)

// NoiseModel selects the per-voxel noise distribution.
type NoiseModel int

const (
	// Gaussian noise with standard deviation Sigma
	Gaussian NoiseModel = iota

	// Uniform noise on [-a, a] with the same standard deviation Sigma
	Uniform
)

// Params describes a phantom.
type Params struct {
	// Nx, Ny, Nz are the dimensions of the volume
	Nx, Ny, Nz int

	// Means holds one intensity per class
	Means []float64

	// Sigma is the noise standard deviation
	Sigma float64

	// Noise selects the noise distribution
	Noise NoiseModel

	// BlockSize is the edge of the checkerboard cells that carry the labels
	BlockSize int

	// BiasAmplitude a produces the multiplicative field exp(a*u), where u
	// runs from -1 to 1 along x. Zero disables the field.
	BiasAmplitude float64

	// OutlierFraction of voxels (every round(1/f)-th voxel) are replaced by
	// OutlierValue
	OutlierFraction float64
	OutlierValue    float64

	// Seed makes the noise reproducible
	Seed int64
}

// Phantom is a generated volume with its ground truth.
type Phantom struct {
	// Image is the single-channel intensity volume
	Image *volume.Volume

	// Labels holds the true class of every voxel
	Labels []int

	// Bias holds the multiplicative field applied to every voxel
	Bias []float64

	// Outliers marks the voxels replaced by OutlierValue
	Outliers []bool
}

// Generate builds the phantom described by p.
func Generate(p Params) *Phantom {
	img := volume.New(p.Nx, p.Ny, p.Nz, 1, 1)
	n := img.Numel()
	ph := &Phantom{
		Image:    img,
		Labels:   make([]int, n),
		Bias:     make([]float64, n),
		Outliers: make([]bool, n),
	}

	block := p.BlockSize
	if block < 1 {
		block = 1
	}
	classes := len(p.Means)
	if classes == 0 {
		classes = 1
		p.Means = []float64{0}
	}

	rng := rand.New(rand.NewSource(p.Seed))
	normal := distuv.Normal{Mu: 0, Sigma: 1}
	halfWidth := p.Sigma * math.Sqrt(3)

	stride := 0
	if p.OutlierFraction > 0 {
		stride = int(math.Round(1 / p.OutlierFraction))
	}

	for i := 0; i < n; i++ {
		x, y, z := img.Coords(i)
		label := (x/block + y/block + z/block) % classes
		ph.Labels[i] = label

		var noise float64
		switch p.Noise {
		case Uniform:
			noise = (2*rng.Float64() - 1) * halfWidth
		default:
			// Inverse transform sampling keeps the draw reproducible.
			u := rng.Float64()
			for u == 0 {
				u = rng.Float64()
			}
			noise = p.Sigma * normal.Quantile(u)
		}

		bias := 1.0
		if p.BiasAmplitude != 0 {
			bias = math.Exp(p.BiasAmplitude * Coordinate(x, p.Nx))
		}
		ph.Bias[i] = bias
		img.Data[i] = bias * (p.Means[label] + noise)

		if stride > 0 && i%stride == 0 {
			ph.Outliers[i] = true
			img.Data[i] = p.OutlierValue
		}
	}
	return ph
}

// Coordinate maps index i of an axis of length n to [-1, 1].
func Coordinate(i, n int) float64 {
	if n <= 1 {
		return 0
	}
	return 2*float64(i)/float64(n-1) - 1
}

// Mask returns a volume that is one inside the centred ellipsoid with the
// given fraction of each semi-axis, and zero elsewhere.
func Mask(nx, ny, nz int, fraction float64) *volume.Volume {
	m := volume.New(nx, ny, nz, 1, 1)
	for i := range m.Data {
		x, y, z := m.Coords(i)
		u, v, w := Coordinate(x, nx), Coordinate(y, ny), Coordinate(z, nz)
		if u*u+v*v+w*w <= fraction*fraction {
			m.Data[i] = 1
		}
	}
	return m
}
