package em

import (
	"errors"
	"fmt"
	"math"
)

// CheckParameters validates the configuration without modifying the
// Segmenter. Every violation found is reported; the returned error is an
// errors.Join of ErrConfiguration-wrapped problems, or nil.
func (s *Segmenter) CheckParameters() error {
	var errs []error
	bad := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...)))
	}

	k := s.numbClasses
	if k <= 0 {
		bad("number of classes must be positive, got %d", k)
	}
	if s.nu < 1 || s.nt < 1 {
		bad("channel counts must be positive, got nu=%d nt=%d", s.nu, s.nt)
	}
	d := s.nu * s.nt

	if s.input == nil {
		bad("input image is not set")
	} else {
		if err := s.input.Validate(); err != nil {
			bad("input image: %v", err)
		} else if s.input.Nu != s.nu || s.input.Nt != s.nt {
			bad("input image has nt=%d nu=%d, segmenter declared nt=%d nu=%d",
				s.input.Nt, s.input.Nu, s.nt, s.nu)
		}

		if s.mask != nil {
			switch {
			case s.mask.Validate() != nil:
				bad("mask image: %v", s.mask.Validate())
			case !s.mask.SameGeometry(s.input):
				bad("mask geometry %s does not match input %s", s.mask, s.input)
			case s.mask.Channels() != 1:
				bad("mask must have a single channel, got %d", s.mask.Channels())
			}
		}

		if s.priors != nil {
			switch {
			case s.priors.Validate() != nil:
				bad("prior image: %v", s.priors.Validate())
			case !s.priors.SameGeometry(s.input):
				bad("prior geometry %s does not match input %s", s.priors, s.input)
			case k > 0 && s.priors.Channels() != k:
				bad("prior image has %d channels, expected one per class (%d)", s.priors.Channels(), k)
			}
		}
	}

	if s.regFactor < 0 || math.IsNaN(s.regFactor) {
		bad("regularisation factor must be non-negative, got %g", s.regFactor)
	}
	if s.maxIter < 1 {
		bad("maximal iteration number must be positive, got %d", s.maxIter)
	}
	if s.minIter < 0 || s.minIter > s.maxIter {
		bad("minimal iteration number %d must lie in [0, %d]", s.minIter, s.maxIter)
	}
	if s.workers < 0 {
		bad("worker count must not be negative, got %d", s.workers)
	}

	if s.rescaleOverride {
		if len(s.rescaleMinOverride) != d || len(s.rescaleMaxOverride) != d {
			bad("rescale range needs %d bounds per side, got %d and %d",
				d, len(s.rescaleMinOverride), len(s.rescaleMaxOverride))
		} else {
			for c := 0; c < d; c++ {
				if !(s.rescaleMaxOverride[c] > s.rescaleMinOverride[c]) {
					bad("rescale range for channel %d is empty: [%g, %g]",
						c, s.rescaleMinOverride[c], s.rescaleMaxOverride[c])
				}
			}
		}
	}

	if s.mapStatus {
		if d > 1 {
			bad("MAP regularisation only supports single-channel data, got %d channels", d)
		}
		if len(s.mapM) != k || len(s.mapV) != k {
			bad("MAP needs %d means and variances, got %d and %d", k, len(s.mapM), len(s.mapV))
		}
		for i, v := range s.mapV {
			if !(v > 0) {
				bad("MAP variance for class %d must be positive, got %g", i, v)
			}
		}
	}

	if s.relaxStatus {
		if s.priors == nil {
			bad("prior relaxation requires a prior image")
		}
		if s.relaxFactor < 0 || s.relaxFactor > 1 || math.IsNaN(s.relaxFactor) {
			bad("relaxation factor must lie in [0, 1], got %g", s.relaxFactor)
		}
		if s.relaxKernelSize < 0 || math.IsNaN(s.relaxKernelSize) {
			bad("relaxation kernel size must be non-negative, got %g", s.relaxKernelSize)
		}
	}

	if s.mrfStatus {
		if s.mrfStrength < 0 || math.IsNaN(s.mrfStrength) {
			bad("MRF strength must be non-negative, got %g", s.mrfStrength)
		}
		if s.mrfMatrixOverride != nil {
			if len(s.mrfMatrixOverride) != k {
				bad("MRF transition matrix has %d rows, expected %d", len(s.mrfMatrixOverride), k)
			}
			for i, row := range s.mrfMatrixOverride {
				if len(row) != k {
					bad("MRF transition matrix row %d has %d entries, expected %d", i, len(row), k)
					continue
				}
				for j, g := range row {
					if math.IsNaN(g) || math.IsInf(g, 0) {
						bad("MRF transition matrix entry (%d,%d) is not finite", i, j)
					}
				}
			}
		}
	}
	if s.mrfBetaOverride != nil {
		if len(s.mrfBetaOverride) != k {
			bad("MRF beta has %d entries, expected %d", len(s.mrfBetaOverride), k)
		}
		for i, b := range s.mrfBetaOverride {
			if b < 0 || math.IsNaN(b) {
				bad("MRF beta for class %d must be non-negative, got %g", i, b)
			}
		}
	}

	if s.outliernessStatus {
		if !(s.outlierThreshold > 0) {
			bad("outlierness threshold must be positive, got %g", s.outlierThreshold)
		}
		if s.outlierRatio < 0 || math.IsNaN(s.outlierRatio) {
			bad("outlierness ratio must be non-negative, got %g", s.outlierRatio)
		}
	}

	if s.biasFieldStatus {
		if s.biasFieldOrder < 0 || s.biasFieldOrder > MaxBiasFieldOrder {
			bad("bias field order must lie in [0, %d], got %d", MaxBiasFieldOrder, s.biasFieldOrder)
		}
		if s.biasFieldRatio < 0 || math.IsNaN(s.biasFieldRatio) {
			bad("bias field ratio must be non-negative, got %g", s.biasFieldRatio)
		}
	}

	if s.pvModelStatus && (k < 3 || k%2 == 0) {
		bad("the partial volume model needs an odd number of at least 3 classes, got %d", k)
	}
	if s.sgDelineationStatus {
		if !s.mrfStatus || !s.pvModelStatus {
			bad("sulci/gyri delineation requires both the MRF and the partial volume model")
		}
		if s.mrfMatrixOverride != nil {
			bad("sulci/gyri delineation cannot be combined with an explicit MRF transition matrix")
		}
	}

	return errors.Join(errs...)
}
