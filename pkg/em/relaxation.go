package em

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// relaxState holds the buffers of the prior relaxation, allocated once.
type relaxState struct {
	kernel []float64

	// maskSmooth is the smoothed indicator of the mask, constant over the run
	maskSmooth []float64

	// grid and scratch hold one full-volume buffer per class
	grid    [][]float64
	scratch [][]float64
}

// gaussianKernel returns a normalised kernel with radius ceil(3 sigma), or
// nil when sigma is zero.
func gaussianKernel(sigma float64) []float64 {
	if sigma <= 0 {
		return nil
	}
	radius := int(math.Ceil(3 * sigma))
	kernel := make([]float64, 2*radius+1)
	for i := range kernel {
		x := float64(i - radius)
		kernel[i] = math.Exp(-x * x / (2 * sigma * sigma))
	}
	floats.Scale(1/floats.Sum(kernel), kernel)
	return kernel
}

func newRelaxState(s *Segmenter) *relaxState {
	st := &relaxState{
		kernel:  gaussianKernel(s.relaxKernelSize),
		grid:    make([][]float64, s.numbClasses),
		scratch: make([][]float64, s.numbClasses),
	}
	for c := range st.grid {
		st.grid[c] = make([]float64, s.numel)
		st.scratch[c] = make([]float64, s.numel)
	}

	st.maskSmooth = make([]float64, s.numel)
	for _, l := range s.index.ShortToLong {
		st.maskSmooth[l] = 1
	}
	s.smooth(st.maskSmooth, st.scratch[0], st.kernel)
	return st
}

// smooth convolves buf in place with the separable kernel along x, y and,
// for 3D volumes, z. Samples beyond the volume edge are treated as zero.
func (s *Segmenter) smooth(buf, tmp, kernel []float64) {
	if kernel == nil {
		return
	}
	convolveAxis(buf, tmp, kernel, s.nx, 1, s.nx, s.numel)
	convolveAxis(tmp, buf, kernel, s.ny, s.nx, s.nx*s.ny, s.numel)
	if s.dimensions == 3 {
		convolveAxis(buf, tmp, kernel, s.nz, s.nx*s.ny, s.numel, s.numel)
		copy(buf, tmp)
	}
}

// convolveAxis writes into dst the 1D convolution of src along an axis of
// length n whose consecutive samples are stride apart. block is the span
// after which the axis pattern repeats.
func convolveAxis(src, dst, kernel []float64, n, stride, block, numel int) {
	radius := len(kernel) / 2
	for i := 0; i < numel; i++ {
		pos := (i % block) / stride
		var acc float64
		for j, w := range kernel {
			p := pos + j - radius
			if p < 0 || p >= n {
				continue
			}
			acc += w * src[i+(p-pos)*stride]
		}
		dst[i] = acc
	}
}

// runPriorRelaxation blends the pristine priors with the spatially smoothed
// responsibilities, ShortPrior = (1-a) Prior + a G*Expec, and renormalises.
// The smoothing is normalised by the smoothed mask so voxels at the mask
// edge are not diluted by the outside.
func (s *Segmenter) runPriorRelaxation() {
	st := s.relax
	k := s.numbClasses
	alpha := s.relaxFactor

	parallelFor(k, s.workers, func(_, lo, hi int) {
		for c := lo; c < hi; c++ {
			grid := st.grid[c]
			for l := range grid {
				grid[l] = 0
			}
			for i, l := range s.index.ShortToLong {
				grid[l] = s.expec[i*k+c]
			}
			s.smooth(grid, st.scratch[c], st.kernel)
		}
	})

	parallelFor(s.numelMasked, s.workers, func(_, lo, hi int) {
		for i := lo; i < hi; i++ {
			l := s.index.ShortToLong[i]
			row := s.shortPrior[i*k : (i+1)*k]
			var sum float64
			for c := 0; c < k; c++ {
				smoothed := st.grid[c][l]
				if m := st.maskSmooth[l]; m > 0 {
					smoothed /= m
				}
				row[c] = (1-alpha)*s.priorOrig[i*k+c] + alpha*smoothed
				sum += row[c]
			}
			if sum > 0 {
				for c := range row {
					row[c] /= sum
				}
			}
		}
	})
}
