package em

import (
	"fmt"
	"math"

	"emseg/pkg/volume"
)

// ready returns ErrNotReady unless the Segmenter stopped normally.
func (s *Segmenter) ready() error {
	if s.state != Converged && s.state != IterationLimitReached {
		return fmt.Errorf("%w: segmenter is %s", ErrNotReady, s.state)
	}
	return nil
}

// Means returns the K x D class means in input intensity units.
func (s *Segmenter) Means() ([][]float64, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	mx := s.model
	out := make([][]float64, mx.k)
	for k := range out {
		out[k] = make([]float64, mx.d)
		for c, m := range mx.mean(k) {
			out[k][c] = s.fromLogDomain(c, m)
		}
	}
	return out, nil
}

// STD returns the K x D class standard deviations in input intensity units,
// obtained by linearising the intensity map at the class mean.
func (s *Segmenter) STD() ([][]float64, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	mx := s.model
	d := mx.d
	out := make([][]float64, mx.k)
	for k := range out {
		out[k] = make([]float64, d)
		m, v := mx.mean(k), mx.cov(k)
		for c := 0; c < d; c++ {
			slope := (s.rescaleMax[c] - s.rescaleMin[c]) * math.Exp(m[c])
			out[k][c] = math.Sqrt(v[c*d+c]) * slope
		}
	}
	return out, nil
}

// Proportions returns the mixing proportions of the classes.
func (s *Segmenter) Proportions() ([]float64, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return append([]float64(nil), s.model.pi...), nil
}

// Result returns the class probabilities as a full volume with one channel
// per class. Voxels outside the mask are zero.
func (s *Segmenter) Result() (*volume.Volume, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	out := volume.NewLike(s.input, s.numbClasses)
	copy(out.Data, s.index.Scatter(s.expec, s.numbClasses, 0))
	return out, nil
}

// Labels returns the most likely class of every masked voxel, numbered from
// 1; voxels outside the mask are 0.
func (s *Segmenter) Labels() (*volume.Volume, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	k := s.numbClasses
	out := volume.NewLike(s.input, 1)
	for i, l := range s.index.ShortToLong {
		row := s.expec[i*k : (i+1)*k]
		best := 0
		for c := 1; c < k; c++ {
			if row[c] > row[best] {
				best = c
			}
		}
		out.Data[l] = float64(best + 1)
	}
	return out, nil
}

// BiasField returns the multiplicative bias field exp(b) per channel, over
// the whole volume. It is one everywhere if the model never activated.
func (s *Segmenter) BiasField() (*volume.Volume, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if s.bf == nil {
		return nil, fmt.Errorf("%w: bias field model is disabled", ErrConfiguration)
	}
	out := volume.New(s.nx, s.ny, s.nz, s.nt, s.nu)
	out.Dx, out.Dy, out.Dz = s.input.Dx, s.input.Dy, s.input.Dz
	for i := range out.Data {
		out.Data[i] = 1
		if s.bf.active {
			out.Data[i] = math.Exp(s.bf.field[i])
		}
	}
	return out, nil
}

// BiasCorrected returns the input with the bias field removed, in input
// units, inside the mask. Voxels outside the mask, and the whole volume
// without an active bias field, are copies of the input.
func (s *Segmenter) BiasCorrected() (*volume.Volume, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	out := volume.New(s.nx, s.ny, s.nz, s.nt, s.nu)
	out.Dx, out.Dy, out.Dz = s.input.Dx, s.input.Dy, s.input.Dz
	copy(out.Data, s.input.Data)
	if s.bf == nil || !s.bf.active {
		return out, nil
	}
	for c := 0; c < s.channels; c++ {
		for _, l := range s.index.ShortToLong {
			j := c*s.numel + l
			out.Data[j] = s.fromLogDomain(c, s.data[j]-s.bf.field[j])
		}
	}
	return out, nil
}

// Outlierness returns the inlier weight of every masked voxel (1 means a
// typical voxel, 0 an outlier); voxels outside the mask are 0.
func (s *Segmenter) Outlierness() (*volume.Volume, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if s.out == nil {
		return nil, fmt.Errorf("%w: outlier model is disabled", ErrConfiguration)
	}
	out := volume.NewLike(s.input, 1)
	copy(out.Data, s.index.Scatter(s.out.weight, 1, 0))
	return out, nil
}

// LogLikelihood returns the log-likelihood of the last Expectation step.
func (s *Segmenter) LogLikelihood() float64 { return s.loglik }

// LogLikelihoodHistory returns the log-likelihood of every iteration.
func (s *Segmenter) LogLikelihoodHistory() []float64 {
	return append([]float64(nil), s.history...)
}

// Iterations returns the number of completed iterations.
func (s *Segmenter) Iterations() int { return s.iter }

// Ratio returns the last convergence ratio.
func (s *Segmenter) Ratio() float64 { return s.ratio }

// Underflows returns how many voxels fell back to uniform responsibilities
// in the last Expectation step.
func (s *Segmenter) Underflows() int { return s.underflows }

// IndexMap returns the masked index translator built by Initialise, or nil.
func (s *Segmenter) IndexMap() *IndexMap { return s.index }
