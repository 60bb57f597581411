package em

import "math"

// outlierState owns the robustness weights.
type outlierState struct {
	// weight holds Outlierness, one inlier weight in [0, 1] per masked voxel
	weight []float64

	// classWeight holds the per-class inlier weights used by the M-step.
	// Until activation they are the guard weights against the initial mixture.
	classWeight []float64

	// use is nil until the model is activated, then aliases weight
	use []float64
}

func newOutlierState(n, k int) *outlierState {
	st := &outlierState{
		weight:      make([]float64, n),
		classWeight: make([]float64, n*k),
	}
	for i := range st.weight {
		st.weight[i] = 1
	}
	for i := range st.classWeight {
		st.classWeight[i] = 1
	}
	return st
}

// inlierWeight returns N/(N+eps) for a class density N and the outlier
// floor eps = N evaluated at distance threshold, i.e.
// 1 / (1 + exp(-(T^2 - d^2)/2)).
func inlierWeight(d2, t2 float64) float64 {
	return 1 / (1 + math.Exp(-0.5*(t2-d2)))
}

// runOutlierGuard weights every masked voxel against the initial mixture,
// whose covariances span the whole masked intensity range. Voxels farther
// than the threshold from every initial class, such as a small tight cluster
// of extreme values, keep a near-zero M-step weight until the model is
// activated, so they cannot pull a class onto themselves in the early
// iterations. Outlierness is the largest of the class weights meanwhile.
func (s *Segmenter) runOutlierGuard() {
	st := s.out
	k := s.numbClasses
	d := s.channels
	mx := s.model
	t2 := s.outlierThreshold * s.outlierThreshold

	parallelFor(s.numelMasked, s.workers, func(_, lo, hi int) {
		y := make([]float64, d)
		diff := make([]float64, d)
		for i := lo; i < hi; i++ {
			s.correctedIntensity(i, y)
			best := 0.0
			for c := 0; c < k; c++ {
				w := inlierWeight(mx.mahalanobis2(c, y, diff), t2)
				st.classWeight[i*k+c] = w
				best = math.Max(best, w)
			}
			st.weight[i] = best
		}
	})
}

// runOutlierness computes, per masked voxel, the inlier weight of every
// class from the Mahalanobis distance of its corrected intensity; the voxel
// Outlierness is the weight of its most likely class.
func (s *Segmenter) runOutlierness() {
	st := s.out
	k := s.numbClasses
	d := s.channels
	mx := s.model
	t2 := s.outlierThreshold * s.outlierThreshold

	parallelFor(s.numelMasked, s.workers, func(_, lo, hi int) {
		y := make([]float64, d)
		diff := make([]float64, d)
		for i := lo; i < hi; i++ {
			s.correctedIntensity(i, y)
			best, bestR := 0, -1.0
			for c := 0; c < k; c++ {
				st.classWeight[i*k+c] = inlierWeight(mx.mahalanobis2(c, y, diff), t2)
				if r := s.expec[i*k+c]; r > bestR {
					best, bestR = c, r
				}
			}
			st.weight[i] = st.classWeight[i*k+best]
		}
	})
	st.use = st.weight
}
