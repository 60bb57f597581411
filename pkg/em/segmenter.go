package em

import (
	"runtime"

	"github.com/rs/zerolog"

	"emseg/pkg/volume"
)

// State is the position of a Segmenter in its lifecycle.
type State int

const (
	Uninitialized State = iota
	Initialized
	Iterating
	Converged
	IterationLimitReached
	Failed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initialized:
		return "initialized"
	case Iterating:
		return "iterating"
	case Converged:
		return "converged"
	case IterationLimitReached:
		return "iteration-limit-reached"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == Converged || s == IterationLimitReached || s == Failed
}

// Defaults taken by New.
const (
	DefaultRegFactor        = 1e-6
	DefaultMaxIterations    = 100
	DefaultMinIterations    = 4
	DefaultMRFStrength      = 0.4
	DefaultOutlierThreshold = 4.0
	DefaultOutlierRatio     = 0.01
	DefaultBiasFieldOrder   = 3
	DefaultBiasFieldRatio   = 0.005
	DefaultRelaxKernelSize  = 2.0
	MaxBiasFieldOrder       = 6
)

// ConvergenceTolerance is the |ratio| below which the iterations stop.
const ConvergenceTolerance = 1e-5

const (
	// covarianceConditionLimit is the largest acceptable condition number of
	// a regularised covariance
	covarianceConditionLimit = 1e12

	mapFixedPointIterations = 10

	// minimumLogArgument floors the argument of the intensity log map
	minimumLogArgument = 1e-6
)

// Segmenter is the EM engine. It is configured once with setters, then
// Initialise allocates every per-voxel buffer and Run drives the iterations.
// A Segmenter that reached a terminal state cannot be re-run.
type Segmenter struct {
	// Configuration
	numbClasses int
	nu, nt      int
	input       *volume.Volume
	mask        *volume.Volume
	priors      *volume.Volume
	filenameOut string
	regFactor   float64
	maxIter     int
	minIter     int
	aprox       bool
	workers     int
	log         zerolog.Logger
	verbose     int

	rescaleOverride    bool
	rescaleMinOverride []float64
	rescaleMaxOverride []float64

	mapStatus bool
	mapM      []float64
	mapV      []float64

	relaxStatus     bool
	relaxFactor     float64
	relaxKernelSize float64

	mrfStatus           bool
	mrfStrength         float64
	mrfBetaOverride     []float64
	mrfMatrixOverride   [][]float64
	outliernessStatus   bool
	outlierThreshold    float64
	outlierRatio        float64
	biasFieldStatus     bool
	biasFieldOrder      int
	biasFieldRatio      float64
	pvModelStatus       bool
	sgDelineationStatus bool

	// Geometry derived at initialisation
	state       State
	dimensions  int
	nx, ny, nz  int
	numel       int
	numelMasked int
	channels    int
	index       *IndexMap

	// rescaleMin and rescaleMax hold the per-channel intensity bounds
	rescaleMin []float64
	rescaleMax []float64

	// data holds the log-domain intensities, channel-major over the full volume
	data []float64

	// Mixture model
	model *mixture

	// expec holds numelMasked x K responsibilities, voxel-major
	expec []float64

	// shortPrior is the working prior; priorOrig the pristine compacted copy
	shortPrior []float64
	priorOrig  []float64

	mrf   *mrfState
	bf    *biasField
	out   *outlierState
	relax *relaxState

	// outlierActivating marks an outlier model that runs for the first time
	// in the current iteration
	outlierActivating bool

	// Convergence monitoring
	iter           int
	loglik         float64
	oldloglik      float64
	ratio          float64
	history        []float64
	underflows     int
	lastActivation int
	callback       IterationCallback
}

// New returns a Segmenter for numbClasses classes of input data with nu
// modalities and nt time points.
func New(numbClasses, nu, nt int) *Segmenter {
	return &Segmenter{
		numbClasses:      numbClasses,
		nu:               nu,
		nt:               nt,
		regFactor:        DefaultRegFactor,
		maxIter:          DefaultMaxIterations,
		minIter:          DefaultMinIterations,
		workers:          runtime.NumCPU(),
		log:              zerolog.Nop(),
		mrfStrength:      DefaultMRFStrength,
		outlierThreshold: DefaultOutlierThreshold,
		outlierRatio:     DefaultOutlierRatio,
		biasFieldOrder:   DefaultBiasFieldOrder,
		biasFieldRatio:   DefaultBiasFieldRatio,
		relaxKernelSize:  DefaultRelaxKernelSize,
		state:            Uninitialized,
		ratio:            1,
		lastActivation:   -2,
	}
}

// SetInputImage sets the volume to segment. The volume is read, never modified.
func (s *Segmenter) SetInputImage(v *volume.Volume) { s.input = v }

// SetMaskImage restricts the computation to voxels with a positive mask value.
func (s *Segmenter) SetMaskImage(v *volume.Volume) { s.mask = v }

// SetPriorImage sets population priors, one channel per class.
func (s *Segmenter) SetPriorImage(v *volume.Volume) { s.priors = v }

// SetFilenameOut records where the caller intends to write the result.
func (s *Segmenter) SetFilenameOut(name string) { s.filenameOut = name }

// FilenameOut returns the value given to SetFilenameOut.
func (s *Segmenter) FilenameOut() string { return s.filenameOut }

// SetMAP enables MAP regularisation of the class means and variances towards
// m and v (per class, input intensity units). Single-channel data only.
func (s *Segmenter) SetMAP(m, v []float64) {
	s.mapStatus = true
	s.mapM = append([]float64(nil), m...)
	s.mapV = append([]float64(nil), v...)
}

// SetRegValue sets the value added to every covariance diagonal.
func (s *Segmenter) SetRegValue(reg float64) { s.regFactor = reg }

// SetRelaxation enables prior relaxation with blending factor relaxFactor and
// a Gaussian kernel of relaxKernelSize voxels.
func (s *Segmenter) SetRelaxation(relaxFactor, relaxKernelSize float64) {
	s.relaxStatus = true
	s.relaxFactor = relaxFactor
	s.relaxKernelSize = relaxKernelSize
}

// SetMRF enables the MRF with the given off-diagonal energy.
func (s *Segmenter) SetMRF(strength float64) {
	s.mrfStatus = true
	s.mrfStrength = strength
}

// SetMRFTransitionMatrix replaces the uniform-strength energy matrix. It
// implies SetMRF.
func (s *Segmenter) SetMRFTransitionMatrix(g [][]float64) {
	s.mrfStatus = true
	s.mrfMatrixOverride = make([][]float64, len(g))
	for i := range g {
		s.mrfMatrixOverride[i] = append([]float64(nil), g[i]...)
	}
}

// SetMRFBeta sets the per-class MRF weight (default 1 for every class).
func (s *Segmenter) SetMRFBeta(beta []float64) {
	s.mrfBetaOverride = append([]float64(nil), beta...)
}

// SetOutlierness enables the outlier model with the given Mahalanobis
// threshold, activated once the convergence ratio drops below ratio.
func (s *Segmenter) SetOutlierness(threshold, ratio float64) {
	s.outliernessStatus = true
	s.outlierThreshold = threshold
	s.outlierRatio = ratio
}

// SetBiasField enables the polynomial bias field of the given order,
// activated once the convergence ratio drops below ratio.
func (s *Segmenter) SetBiasField(order int, ratio float64) {
	s.biasFieldStatus = true
	s.biasFieldOrder = order
	s.biasFieldRatio = ratio
}

// SetLoAd configures the LoAd options: prior relaxation (with the default
// kernel size unless SetRelaxation was called), the partial-volume class
// model and the sulci/gyri delineation energy. A false relaxStatus leaves a
// relaxation enabled by SetRelaxation, and its factor, untouched.
func (s *Segmenter) SetLoAd(relaxFactor float64, relaxStatus, pvModel, sgDelineation bool) {
	if relaxStatus {
		s.relaxStatus = true
		s.relaxFactor = relaxFactor
	}
	s.pvModelStatus = pvModel
	s.sgDelineationStatus = sgDelineation
}

// SetMaximalIterationNumber bounds the number of iterations.
func (s *Segmenter) SetMaximalIterationNumber(n int) { s.maxIter = n }

// SetMinIterationNumber sets the number of iterations run before convergence
// may be declared.
func (s *Segmenter) SetMinIterationNumber(n int) { s.minIter = n }

// SetAprox selects the fast exponential for the likelihood evaluation.
func (s *Segmenter) SetAprox(aprox bool) { s.aprox = aprox }

// SetRescaleRange overrides the per-channel intensity bounds that are
// otherwise computed from the masked input.
func (s *Segmenter) SetRescaleRange(min, max []float64) {
	s.rescaleOverride = true
	s.rescaleMinOverride = append([]float64(nil), min...)
	s.rescaleMaxOverride = append([]float64(nil), max...)
}

// SetWorkers sets the number of goroutines used inside an iteration.
func (s *Segmenter) SetWorkers(n int) { s.workers = n }

// SetLogger sets the logger. The level already configured on l is kept.
func (s *Segmenter) SetLogger(l zerolog.Logger) { s.log = l }

// SetVerbose maps 0 to warnings only, 1 to info and 2 to debug output.
func (s *Segmenter) SetVerbose(level int) {
	s.verbose = level
	switch {
	case level <= 0:
		s.log = s.log.Level(zerolog.WarnLevel)
	case level == 1:
		s.log = s.log.Level(zerolog.InfoLevel)
	default:
		s.log = s.log.Level(zerolog.DebugLevel)
	}
}

// State returns the current lifecycle state.
func (s *Segmenter) State() State { return s.state }

// NumberOfClasses returns K.
func (s *Segmenter) NumberOfClasses() int { return s.numbClasses }
