package em

import "math"

// correctedIntensity writes the bias-corrected log intensities of compacted
// voxel i into y.
func (s *Segmenter) correctedIntensity(i int, y []float64) {
	l := s.index.ShortToLong[i]
	corrected := s.bf != nil && s.bf.active
	for c := range y {
		y[c] = s.data[c*s.numel+l]
		if corrected {
			y[c] -= s.bf.field[c*s.numel+l]
		}
	}
}

// expFunction returns the exponential selected by SetAprox.
func (s *Segmenter) expFunction() expFunc {
	if s.aprox {
		return fastExp
	}
	return exactExp
}

// logAddExp returns log(exp(a) + exp(b)).
func logAddExp(a, b float64) float64 {
	if a < b {
		a, b = b, a
	}
	return a + math.Log1p(math.Exp(b-a))
}

// runExpectation recomputes the responsibilities of every masked voxel from
// the current mixture, priors, MRF field and outlier model, and sets loglik
// to the sum of the log normalising constants.
//
// The class evidences are evaluated relative to the largest log density of
// the voxel. If they still vanish (e.g. all of the prior mass sits on
// classes that cannot explain the voxel) the voxel falls back to 1/K and
// does not contribute to loglik.
func (s *Segmenter) runExpectation() {
	k := s.numbClasses
	d := s.channels
	n := s.numelMasked
	mx := s.model
	exp := s.expFunction()
	uniform := 1 / float64(k)

	robust := s.out != nil && s.out.use != nil
	var floorShift float64
	if robust {
		floorShift = -0.5 * s.outlierThreshold * s.outlierThreshold
	}
	var mrfField []float64
	if s.mrf != nil {
		mrfField = s.mrf.field
	}

	workers := workerCount(n, s.workers)
	partialLL := make([]float64, workers)
	partialUnder := make([]int, workers)

	parallelFor(n, s.workers, func(w, lo, hi int) {
		y := make([]float64, d)
		diff := make([]float64, d)
		logf := make([]float64, k)
		ev := make([]float64, k)
		var ll float64
		var under int

		for i := lo; i < hi; i++ {
			s.correctedIntensity(i, y)

			lmax := math.Inf(-1)
			for c := 0; c < k; c++ {
				l := mx.logDensity(c, y, diff)
				if robust {
					l = logAddExp(l, mx.logNorm[c]+floorShift)
				}
				logf[c] = l
				if l > lmax {
					lmax = l
				}
			}

			var sum float64
			for c := 0; c < k; c++ {
				e := exp(logf[c] - lmax)
				if s.shortPrior != nil {
					e *= s.shortPrior[i*k+c]
				} else {
					e *= mx.pi[c]
				}
				if mrfField != nil {
					e *= mrfField[i*k+c]
				}
				ev[c] = e
				sum += e
			}

			row := s.expec[i*k : (i+1)*k]
			if sum > 0 && !math.IsInf(sum, 0) && !math.IsNaN(sum) && !math.IsInf(lmax, 0) {
				inv := 1 / sum
				for c := 0; c < k; c++ {
					row[c] = ev[c] * inv
				}
				ll += lmax + math.Log(sum)
			} else {
				for c := range row {
					row[c] = uniform
				}
				under++
			}
		}
		partialLL[w] = ll
		partialUnder[w] = under
	})

	s.loglik = 0
	s.underflows = 0
	for w := range partialLL {
		s.loglik += partialLL[w]
		s.underflows += partialUnder[w]
	}
	if s.underflows > 0 {
		s.log.Debug().Int("voxels", s.underflows).Msg("class evidence vanished, uniform responsibilities used")
	}
}
