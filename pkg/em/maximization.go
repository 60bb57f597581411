package em

import (
	"fmt"
	"math"
)

// minimumClassSupport is the smallest total responsibility a class may keep
// before the model is considered collapsed.
const minimumClassSupport = 1e-10

// voxelWeight returns the M-step weight of compacted voxel i for class c: its
// responsibility, times the per-class inlier weight when the outlier model
// is enabled (the guard weights before its activation).
func (s *Segmenter) voxelWeight(i, c int) float64 {
	k := s.numbClasses
	w := s.expec[i*k+c]
	if s.out != nil {
		w *= s.out.classWeight[i*k+c]
	}
	return w
}

// runMaximization re-estimates the mixing proportions, means and covariances
// from the current responsibilities, applies the MAP and partial-volume
// constraints, regularises the covariances and refreshes their precisions.
func (s *Segmenter) runMaximization() error {
	k := s.numbClasses
	d := s.channels
	n := s.numelMasked
	mx := s.model
	workers := workerCount(n, s.workers)

	// First pass: weight sums and weighted intensity sums.
	s0 := make([][]float64, workers)
	s1 := make([][]float64, workers)
	parallelFor(n, s.workers, func(w, lo, hi int) {
		a0 := make([]float64, k)
		a1 := make([]float64, k*d)
		y := make([]float64, d)
		for i := lo; i < hi; i++ {
			s.correctedIntensity(i, y)
			for c := 0; c < k; c++ {
				wt := s.voxelWeight(i, c)
				a0[c] += wt
				for a := 0; a < d; a++ {
					a1[c*d+a] += wt * y[a]
				}
			}
		}
		s0[w], s1[w] = a0, a1
	})
	sum0 := reduce(s0, k)
	sum1 := reduce(s1, k*d)

	var total float64
	for c := 0; c < k; c++ {
		total += sum0[c]
		if s.isTiedClass(c) {
			continue
		}
		if sum0[c] < minimumClassSupport {
			return fmt.Errorf("%w: class %d has no support (total weight %.3g)", ErrNumerical, c, sum0[c])
		}
		for a := 0; a < d; a++ {
			mx.m[c*d+a] = sum1[c*d+a] / sum0[c]
		}
	}

	// Second pass: weighted scatter around the new means.
	dd := d * d
	s2 := make([][]float64, workers)
	parallelFor(n, s.workers, func(w, lo, hi int) {
		a2 := make([]float64, k*dd)
		y := make([]float64, d)
		diff := make([]float64, d)
		for i := lo; i < hi; i++ {
			s.correctedIntensity(i, y)
			for c := 0; c < k; c++ {
				wt := s.voxelWeight(i, c)
				if wt == 0 {
					continue
				}
				m := mx.mean(c)
				for a := 0; a < d; a++ {
					diff[a] = y[a] - m[a]
				}
				acc := a2[c*dd : (c+1)*dd]
				for a := 0; a < d; a++ {
					for b := a; b < d; b++ {
						acc[a*d+b] += wt * diff[a] * diff[b]
					}
				}
			}
		}
		s2[w] = a2
	})
	sum2 := reduce(s2, k*dd)

	for c := 0; c < k; c++ {
		if s.isTiedClass(c) {
			continue
		}
		v := mx.cov(c)
		for a := 0; a < d; a++ {
			for b := a; b < d; b++ {
				val := sum2[c*dd+a*d+b] / sum0[c]
				v[a*d+b] = val
				v[b*d+a] = val
			}
		}
	}

	if s.mapStatus {
		s.applyMAP(sum0, sum1, sum2)
	}
	if s.pvModelStatus {
		s.tiePartialVolumeMeans()
		s.tiePartialVolumeCovariances()
	}

	if total > 0 {
		for c := 0; c < k; c++ {
			mx.pi[c] = sum0[c] / total
		}
	}

	mx.regularise(s.regFactor)
	return mx.updatePrecision()
}

// reduce sums per-worker partial accumulators of length size.
func reduce(parts [][]float64, size int) []float64 {
	out := make([]float64, size)
	for _, p := range parts {
		for i, v := range p {
			out[i] += v
		}
	}
	return out
}

// applyMAP shrinks the single-channel ML estimates towards the MAP prior
// with a fixed-point iteration of the joint mean/variance update:
//
//	M = (M0/V0 + S1/V) / (1/V0 + S0/V)
//	V = (Q + S0 (Mml - M)^2) / S0
//
// where Q is the scatter around the ML mean Mml.
func (s *Segmenter) applyMAP(sum0, sum1, sum2 []float64) {
	mx := s.model
	for c := 0; c < s.numbClasses; c++ {
		if s.isTiedClass(c) || sum0[c] <= 0 {
			continue
		}
		m0, v0 := s.mapPriorInLogDomain(c)
		mml := sum1[c] / sum0[c]
		q := sum2[c]

		m := mml
		v := math.Max(q/sum0[c], s.regFactor)
		if v <= 0 {
			v = v0
		}
		for it := 0; it < mapFixedPointIterations; it++ {
			m = (m0/v0 + sum1[c]/v) / (1/v0 + sum0[c]/v)
			v = (q + sum0[c]*(mml-m)*(mml-m)) / sum0[c]
			if v <= 0 {
				v = v0
			}
		}
		mx.m[c] = m
		mx.v[c] = v
	}
}

// mapPriorInLogDomain maps the MAP mean and variance of class c from input
// units to the log domain, linearising the intensity map at the mean.
func (s *Segmenter) mapPriorInLogDomain(c int) (float64, float64) {
	r := s.rescaleMax[0] - s.rescaleMin[0]
	norm := (s.mapM[c]-s.rescaleMin[0])/r + 1
	norm = math.Max(norm, minimumLogArgument)
	slope := 1 / (r * norm)
	return math.Log(norm), s.mapV[c] * slope * slope
}

// isTiedClass reports whether class c is a partial-volume class whose
// parameters are derived from its neighbours.
func (s *Segmenter) isTiedClass(c int) bool {
	return s.pvModelStatus && c%2 == 1 && c+1 < s.numbClasses
}

// tiePartialVolumeMeans sets every partial-volume class mean to the average
// of the two neighbouring pure classes.
func (s *Segmenter) tiePartialVolumeMeans() {
	mx := s.model
	d := mx.d
	for c := 1; c+1 < mx.k; c += 2 {
		lo, hi, m := mx.mean(c-1), mx.mean(c+1), mx.mean(c)
		for a := 0; a < d; a++ {
			m[a] = 0.5 * (lo[a] + hi[a])
		}
	}
}

// tiePartialVolumeCovariances does the same for the covariances. It runs
// before regularisation so the diagonal term is added once.
func (s *Segmenter) tiePartialVolumeCovariances() {
	mx := s.model
	for c := 1; c+1 < mx.k; c += 2 {
		lo, hi, v := mx.cov(c-1), mx.cov(c+1), mx.cov(c)
		for a := range v {
			v[a] = 0.5 * (lo[a] + hi[a])
		}
	}
}
