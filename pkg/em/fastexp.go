package em

import "math"

// FastExpMaxRelErr is the documented bound on |fastExp(x)-exp(x)|/exp(x) for
// every x in [minExpArg, 0].
const FastExpMaxRelErr = 1e-5

// minExpArg is the argument below which both exp paths return zero. The
// likelihood evaluation only ever exponentiates non-positive shifted log
// densities, and anything below this is negligible next to the maximum term.
const minExpArg = -700.0

// expFunc is the exponential used by the likelihood evaluation.
type expFunc func(float64) float64

// exactExp is math.Exp with the same underflow cut-off as fastExp.
func exactExp(x float64) float64 {
	if x < minExpArg {
		return 0
	}
	return math.Exp(x)
}

// fastExp approximates exp(x) for x <= 0. The argument is reduced to
// x = n*ln2 + r with |r| <= ln2/2 and exp(r) is evaluated with a degree-5
// Taylor polynomial, whose remainder r^6/720 * e^|r| bounds the relative
// error by about 4.8e-6.
func fastExp(x float64) float64 {
	if x < minExpArg {
		return 0
	}
	n := math.Floor(x*math.Log2E + 0.5)
	r := x - n*math.Ln2
	p := 1 + r*(1+r*(1.0/2+r*(1.0/6+r*(1.0/24+r*(1.0/120)))))
	return math.Ldexp(p, int(n))
}
