package em

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// mixture holds the Gaussian mixture parameters in the log intensity domain.
type mixture struct {
	k, d int

	// m is K x D, v is K x D x D
	m []float64
	v []float64

	// prec and logNorm are derived from v by updatePrecision
	prec    []float64
	logNorm []float64

	// pi holds the mixing proportions, used when no priors are set
	pi []float64
}

func newMixture(k, d int) *mixture {
	return &mixture{
		k:       k,
		d:       d,
		m:       make([]float64, k*d),
		v:       make([]float64, k*d*d),
		prec:    make([]float64, k*d*d),
		logNorm: make([]float64, k),
		pi:      make([]float64, k),
	}
}

func (mx *mixture) mean(k int) []float64 {
	return mx.m[k*mx.d : (k+1)*mx.d]
}

func (mx *mixture) cov(k int) []float64 {
	dd := mx.d * mx.d
	return mx.v[k*dd : (k+1)*dd]
}

func (mx *mixture) precision(k int) []float64 {
	dd := mx.d * mx.d
	return mx.prec[k*dd : (k+1)*dd]
}

// covDense returns a copy of the covariance of class k as a gonum matrix.
func (mx *mixture) covDense(k int) *mat.SymDense {
	return mat.NewSymDense(mx.d, append([]float64(nil), mx.cov(k)...))
}

// regularise adds reg to every covariance diagonal and symmetrises the
// off-diagonal entries, which accumulate rounding differences.
func (mx *mixture) regularise(reg float64) {
	d := mx.d
	for k := 0; k < mx.k; k++ {
		c := mx.cov(k)
		for a := 0; a < d; a++ {
			for b := a + 1; b < d; b++ {
				avg := 0.5 * (c[a*d+b] + c[b*d+a])
				c[a*d+b] = avg
				c[b*d+a] = avg
			}
			c[a*d+a] += reg
		}
	}
}

// updatePrecision factorises every covariance and refreshes the precision
// matrices and Gaussian normalising constants. A covariance that is not
// positive definite, or whose condition number exceeds
// covarianceConditionLimit, is reported as ErrNumerical.
func (mx *mixture) updatePrecision() error {
	d := mx.d
	var chol mat.Cholesky
	var inv mat.SymDense
	for k := 0; k < mx.k; k++ {
		c := mx.covDense(k)
		if ok := chol.Factorize(c); !ok {
			return fmt.Errorf("%w: covariance of class %d is not positive definite", ErrNumerical, k)
		}
		if cond := chol.Cond(); cond > covarianceConditionLimit || math.IsNaN(cond) {
			return fmt.Errorf("%w: covariance of class %d is singular (condition number %.3g)", ErrNumerical, k, cond)
		}
		if err := chol.InverseTo(&inv); err != nil {
			return fmt.Errorf("%w: inverting covariance of class %d: %v", ErrNumerical, k, err)
		}
		p := mx.precision(k)
		for a := 0; a < d; a++ {
			for b := 0; b < d; b++ {
				p[a*d+b] = inv.At(a, b)
			}
		}
		mx.logNorm[k] = -0.5 * (float64(d)*math.Log(2*math.Pi) + chol.LogDet())
	}
	return nil
}

// mahalanobis2 returns the squared Mahalanobis distance of y to class k.
// diff is scratch space of length D.
func (mx *mixture) mahalanobis2(k int, y, diff []float64) float64 {
	d := mx.d
	m := mx.mean(k)
	if d == 1 {
		t := y[0] - m[0]
		return t * t * mx.prec[k]
	}
	for a := 0; a < d; a++ {
		diff[a] = y[a] - m[a]
	}
	p := mx.precision(k)
	var sum float64
	for a := 0; a < d; a++ {
		row := p[a*d : (a+1)*d]
		var acc float64
		for b := 0; b < d; b++ {
			acc += row[b] * diff[b]
		}
		sum += diff[a] * acc
	}
	return sum
}

// logDensity returns log N(y; M_k, V_k).
func (mx *mixture) logDensity(k int, y, diff []float64) float64 {
	return mx.logNorm[k] - 0.5*mx.mahalanobis2(k, y, diff)
}
