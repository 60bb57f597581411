// Package em implements spatially regularised Gaussian-mixture tissue
// classification of multi-channel volumes by Expectation-Maximisation.
//
// A Segmenter is configured with setters, validated with CheckParameters,
// prepared with Initialise and driven to a terminal state with Run:
//
//	seg := em.New(3, 1, 1)
//	seg.SetInputImage(img)
//	seg.SetMRF(0.4)
//	seg.SetBiasField(3, 0.01)
//	if err := seg.Initialise(); err != nil {
//		return err
//	}
//	if err := seg.Run(); err != nil {
//		return err
//	}
//	probs, err := seg.Result()
//
// Computation is restricted to the voxels of an optional mask. Intensities
// are rescaled per channel and taken to the log domain, where a
// multiplicative bias field becomes an additive polynomial. The optional
// subsystems (MRF, bias field, outlierness, prior relaxation, MAP and the
// LoAd partial-volume options) each own their own state and are invoked
// conditionally by the iteration driver.
package em
