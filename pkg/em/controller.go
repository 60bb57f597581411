package em

import (
	"fmt"
	"math"
)

// IterationInfo describes one completed iteration.
type IterationInfo struct {
	Iteration     int
	LogLikelihood float64
	Ratio         float64
	BiasField     bool
	Outlierness   bool
}

// IterationCallback is called after every iteration, from the goroutine that
// called Run. It must not modify the Segmenter.
type IterationCallback func(info IterationInfo)

// SetIterationCallback registers a callback invoked after every iteration.
func (s *Segmenter) SetIterationCallback(cb IterationCallback) { s.callback = cb }

// updateRatio records loglik and computes
// ratio = (loglik - oldloglik) / max(|oldloglik|, 1). The first iteration
// keeps ratio = 1.
func (s *Segmenter) updateRatio() {
	s.history = append(s.history, s.loglik)
	if len(s.history) == 1 {
		s.ratio = 1
		return
	}
	s.oldloglik = s.history[len(s.history)-2]
	s.ratio = (s.loglik - s.oldloglik) / math.Max(math.Abs(s.oldloglik), 1)
	if s.ratio < -ConvergenceTolerance {
		s.log.Debug().Int("iter", s.iter).Float64("ratio", s.ratio).Msg("log-likelihood decreased")
	}
}

// activateFeatures switches on the dormant bias field and outlier models
// whose activation ratio has been reached, or all of them when force is
// set. Activation is latched. The activated models first run in the
// iteration numbered s.iter, which is recorded in lastActivation.
func (s *Segmenter) activateFeatures(force bool) {
	r := math.Abs(s.ratio)
	if s.bf != nil && !s.bf.active && (force || r < s.biasFieldRatio) {
		s.bf.active = true
		s.lastActivation = s.iter
		s.log.Info().Int("iter", s.iter).Float64("ratio", s.ratio).Msg("bias field correction activated")
	}
	if s.out != nil && s.out.use == nil && !s.outlierActivating && (force || r < s.outlierRatio) {
		s.outlierActivating = true
		s.lastActivation = s.iter
		s.log.Info().Int("iter", s.iter).Float64("ratio", s.ratio).Msg("outlier model activated")
	}
}

// dormantFeatures reports whether an enabled feature has not been activated.
func (s *Segmenter) dormantFeatures() bool {
	return (s.bf != nil && !s.bf.active) || (s.out != nil && s.out.use == nil && !s.outlierActivating)
}

// Run iterates Expectation, MRF, prior relaxation, bias field, outlierness
// and Maximisation until the log-likelihood ratio drops below
// ConvergenceTolerance (after at least the minimal number of iterations) or
// the maximal number of iterations is reached. If convergence is reached
// while an enabled bias field or outlier model is still dormant, that model
// is activated and the iterations continue. Both are normal terminal
// states. A numerical failure moves the Segmenter to Failed and is returned.
func (s *Segmenter) Run() error {
	switch {
	case s.state == Uninitialized:
		return fmt.Errorf("%w: Initialise must be called before Run", ErrConfiguration)
	case s.state != Initialized:
		return fmt.Errorf("%w: segmenter already ran (state %s), create a new one", ErrConfiguration, s.state)
	}
	s.state = Iterating

	for {
		s.runExpectation()
		s.updateRatio()
		s.activateFeatures(false)

		if s.mrf != nil {
			s.runMRF()
		}
		if s.relax != nil {
			s.runPriorRelaxation()
		}
		if s.bf != nil && s.bf.active {
			s.runBiasField()
		}
		if s.out != nil && (s.out.use != nil || s.outlierActivating) {
			s.runOutlierness()
			s.outlierActivating = false
		}
		if err := s.runMaximization(); err != nil {
			s.state = Failed
			s.log.Error().Err(err).Int("iter", s.iter).Msg("maximisation failed")
			return err
		}
		s.iter++

		s.log.Debug().
			Int("iter", s.iter).
			Float64("loglik", s.loglik).
			Float64("ratio", s.ratio).
			Msg("iteration")
		if s.callback != nil {
			s.callback(IterationInfo{
				Iteration:     s.iter,
				LogLikelihood: s.loglik,
				Ratio:         s.ratio,
				BiasField:     s.bf != nil && s.bf.active,
				Outlierness:   s.out != nil && s.out.use != nil,
			})
		}

		// The ratio only reflects a newly activated model one iteration
		// after the one it first ran in.
		settled := s.iter > s.lastActivation+1
		if settled && math.Abs(s.ratio) < ConvergenceTolerance && s.iter >= s.minIter {
			if !s.dormantFeatures() {
				s.state = Converged
				break
			}
			s.activateFeatures(true)
		}
		if s.iter >= s.maxIter {
			s.state = IterationLimitReached
			break
		}
	}

	s.log.Info().
		Str("state", s.state.String()).
		Int("iterations", s.iter).
		Float64("loglik", s.loglik).
		Float64("ratio", s.ratio).
		Msg("segmentation finished")
	return nil
}
