package em

import "errors"

// Error categories. Errors returned by this package wrap exactly one of these
// and can be tested with errors.Is.
var (
	// ErrConfiguration reports invalid or missing inputs, shape mismatches
	// or invalid class counts. It is always returned before any computation.
	ErrConfiguration = errors.New("configuration error")

	// ErrData reports degenerate input data that could not be repaired.
	ErrData = errors.New("data error")

	// ErrNumerical reports a collapsed model, e.g. a singular covariance
	// after regularisation or a class without support.
	ErrNumerical = errors.New("numerical error")

	// ErrNotReady is returned by result accessors called before a terminal state.
	ErrNotReady = errors.New("results not ready")
)
