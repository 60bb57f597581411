package em

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Initialise validates the configuration and allocates every derived buffer:
// index maps, normalised intensities, compacted priors, responsibilities,
// the initial mixture and the state blocks of the enabled features.
func (s *Segmenter) Initialise() error {
	if s.state != Uninitialized {
		return fmt.Errorf("%w: segmenter already initialised (state %s)", ErrConfiguration, s.state)
	}
	if err := s.CheckParameters(); err != nil {
		return err
	}

	s.nx, s.ny, s.nz = s.input.Nx, s.input.Ny, s.input.Nz
	s.dimensions = s.input.Dimensions()
	s.numel = s.input.Numel()
	s.channels = s.nu * s.nt

	s.createIndexMaps()
	if s.numelMasked == 0 {
		return fmt.Errorf("%w: mask selects no voxels", ErrConfiguration)
	}

	if err := s.initialiseAndNormaliseImage(); err != nil {
		return err
	}
	s.createExpectationAndShortPriors()

	s.model = newMixture(s.numbClasses, s.channels)
	s.initialiseMeans()
	s.initialiseCovariances()
	if err := s.model.updatePrecision(); err != nil {
		return err
	}

	if s.mrfStatus {
		s.mrf = newMRFState(s)
	}
	if s.biasFieldStatus {
		s.bf = newBiasField(s)
	}
	if s.outliernessStatus {
		s.out = newOutlierState(s.numelMasked, s.numbClasses)
		s.runOutlierGuard()
	}
	if s.relaxStatus {
		s.relax = newRelaxState(s)
	}

	s.state = Initialized
	s.log.Info().
		Str("geometry", s.input.String()).
		Int("classes", s.numbClasses).
		Int("voxels", s.numelMasked).
		Int("dimensions", s.dimensions).
		Bool("mrf", s.mrfStatus).
		Bool("biasField", s.biasFieldStatus).
		Bool("outlierness", s.outliernessStatus).
		Bool("priors", s.priors != nil).
		Msg("segmenter initialised")
	return nil
}

// createIndexMaps builds ShortToLong/LongToShort from the mask, or the
// identity when no mask is set.
func (s *Segmenter) createIndexMaps() {
	var mask []bool
	if s.mask != nil {
		mask = make([]bool, s.numel)
		for i, v := range s.mask.Data[:s.numel] {
			mask[i] = v > 0
		}
	}
	s.index = NewIndexMap(mask, s.numel)
	s.numelMasked = s.index.NumelMasked()
}

// initialiseAndNormaliseImage rescales each channel with its min/max over
// the masked voxels and maps it to y = log(norm + 1). A channel with no
// dynamic range is rejected with ErrData.
func (s *Segmenter) initialiseAndNormaliseImage() error {
	d := s.channels
	s.rescaleMin = make([]float64, d)
	s.rescaleMax = make([]float64, d)
	s.data = make([]float64, d*s.numel)

	for c := 0; c < d; c++ {
		src := s.input.Channel(c)

		lo, hi := math.Inf(1), math.Inf(-1)
		for _, l := range s.index.ShortToLong {
			v := src[l]
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: channel %d has a non-finite intensity at voxel %d", ErrData, c, l)
			}
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
		if s.rescaleOverride {
			lo, hi = s.rescaleMinOverride[c], s.rescaleMaxOverride[c]
		}
		if !(hi > lo) {
			return fmt.Errorf("%w: channel %d has no dynamic range (min = max = %g)", ErrData, c, lo)
		}
		s.rescaleMin[c], s.rescaleMax[c] = lo, hi

		dst := s.data[c*s.numel : (c+1)*s.numel]
		for i, v := range src {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			dst[i] = s.toLogDomain(c, v)
		}
	}
	return nil
}

// toLogDomain maps an input intensity of channel c to the model domain.
func (s *Segmenter) toLogDomain(c int, v float64) float64 {
	norm := (v-s.rescaleMin[c])/(s.rescaleMax[c]-s.rescaleMin[c]) + 1
	return math.Log(math.Max(norm, minimumLogArgument))
}

// fromLogDomain is the inverse of toLogDomain.
func (s *Segmenter) fromLogDomain(c int, y float64) float64 {
	return (math.Exp(y)-1)*(s.rescaleMax[c]-s.rescaleMin[c]) + s.rescaleMin[c]
}

// createExpectationAndShortPriors compacts and normalises the priors and
// seeds the responsibilities with them (or with 1/K without priors). NaN
// prior entries are replaced by the uniform value.
func (s *Segmenter) createExpectationAndShortPriors() {
	k := s.numbClasses
	n := s.numelMasked
	uniform := 1 / float64(k)
	s.expec = make([]float64, n*k)

	if s.priors == nil {
		for i := range s.expec {
			s.expec[i] = uniform
		}
		return
	}

	s.shortPrior = make([]float64, n*k)
	repaired := 0
	for i, l := range s.index.ShortToLong {
		row := s.shortPrior[i*k : (i+1)*k]
		for c := 0; c < k; c++ {
			p := s.priors.Data[c*s.numel+l]
			switch {
			case math.IsNaN(p):
				p = uniform
				repaired++
			case p < 0:
				p = 0
			case math.IsInf(p, 1):
				p = 1
			}
			row[c] = p
		}
		if sum := floats.Sum(row); sum > 0 {
			floats.Scale(1/sum, row)
		} else {
			for c := range row {
				row[c] = uniform
			}
		}
	}
	if repaired > 0 {
		s.log.Warn().Int("entries", repaired).Msg("replaced NaN prior entries with a uniform value")
	}

	s.priorOrig = append([]float64(nil), s.shortPrior...)
	copy(s.expec, s.shortPrior)
}

// maskedChannel gathers the log intensities of channel c at masked voxels.
func (s *Segmenter) maskedChannel(c int) []float64 {
	ch := s.data[c*s.numel : (c+1)*s.numel]
	out := make([]float64, s.numelMasked)
	for i, l := range s.index.ShortToLong {
		out[i] = ch[l]
	}
	return out
}

// initialiseMeans sets the class means from prior-weighted moments when
// priors are available, and from the quantiles (k+1)/(K+1) of each channel
// otherwise. Classes without prior mass fall back to their quantile.
func (s *Segmenter) initialiseMeans() {
	k := s.numbClasses
	mx := s.model
	for c := 0; c < s.channels; c++ {
		y := s.maskedChannel(c)

		sorted := append([]float64(nil), y...)
		sort.Float64s(sorted)
		for j := 0; j < k; j++ {
			p := float64(j+1) / float64(k+1)
			mx.m[j*mx.d+c] = stat.Quantile(p, stat.Empirical, sorted, nil)
		}

		if s.shortPrior == nil {
			continue
		}
		w := make([]float64, s.numelMasked)
		for j := 0; j < k; j++ {
			for i := range w {
				w[i] = s.shortPrior[i*k+j]
			}
			if floats.Sum(w) > 0 {
				mx.m[j*mx.d+c] = stat.Mean(y, w)
			}
		}
	}

	if s.pvModelStatus {
		s.tiePartialVolumeMeans()
	}
	for j := range mx.pi {
		mx.pi[j] = 1 / float64(k)
	}
}

// initialiseCovariances sets every class covariance to diag(var_c / K) plus
// the regularisation.
func (s *Segmenter) initialiseCovariances() {
	mx := s.model
	d := mx.d
	for c := 0; c < d; c++ {
		variance := stat.Variance(s.maskedChannel(c), nil)
		if math.IsNaN(variance) {
			variance = 0
		}
		for j := 0; j < mx.k; j++ {
			mx.cov(j)[c*d+c] = variance / float64(mx.k)
		}
	}
	mx.regularise(s.regFactor)
}
