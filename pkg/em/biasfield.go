package em

import (
	"gonum.org/v1/gonum/mat"
)

// biasFieldRidge is the relative diagonal loading of the normal equations.
// It keeps them solvable when an axis has a single voxel or the mask is thin.
const biasFieldRidge = 1e-9

// biasField holds the polynomial bias field model. The coefficients are the
// canonical state; field is regenerated from them after every fit.
type biasField struct {
	active bool
	order  int

	// terms lists the exponents (a, b, c) of x^a y^b z^c, constant first
	terms [][3]int

	// coeffs is D x J, field is D x numel (log domain, additive)
	coeffs []float64
	field  []float64

	// xp[x][a] = x^a in coordinates normalised to [-1, 1]; likewise yp, zp
	xp, yp, zp [][]float64
}

// biasFieldTerms enumerates the monomials of total degree <= order, in 2D or
// 3D, ordered by increasing degree.
func biasFieldTerms(order, dimensions int) [][3]int {
	var terms [][3]int
	for deg := 0; deg <= order; deg++ {
		for a := deg; a >= 0; a-- {
			if dimensions == 2 {
				terms = append(terms, [3]int{a, deg - a, 0})
				continue
			}
			for b := deg - a; b >= 0; b-- {
				terms = append(terms, [3]int{a, b, deg - a - b})
			}
		}
	}
	return terms
}

func newBiasField(s *Segmenter) *biasField {
	bf := &biasField{
		order: s.biasFieldOrder,
		terms: biasFieldTerms(s.biasFieldOrder, s.dimensions),
		field: make([]float64, s.channels*s.numel),
	}
	bf.coeffs = make([]float64, s.channels*len(bf.terms))
	bf.xp = powerTable(s.nx, bf.order)
	bf.yp = powerTable(s.ny, bf.order)
	bf.zp = powerTable(s.nz, bf.order)
	return bf
}

// powerTable returns t[i][a] = u_i^a for u_i = 2i/(n-1) - 1.
func powerTable(n, order int) [][]float64 {
	t := make([][]float64, n)
	for i := range t {
		u := 0.0
		if n > 1 {
			u = 2*float64(i)/float64(n-1) - 1
		}
		t[i] = make([]float64, order+1)
		t[i][0] = 1
		for a := 1; a <= order; a++ {
			t[i][a] = t[i][a-1] * u
		}
	}
	return t
}

// basis fills phi with the polynomial basis at voxel (x, y, z).
func (bf *biasField) basis(x, y, z int, phi []float64) {
	px, py, pz := bf.xp[x], bf.yp[y], bf.zp[z]
	for j, t := range bf.terms {
		phi[j] = px[t[0]] * py[t[1]] * pz[t[2]]
	}
}

// NumberOfBasisFunctions returns (o+1)(o+2)(o+3)/6 in 3D and (o+1)(o+2)/2 in 2D.
func NumberOfBasisFunctions(order, dimensions int) int {
	return len(biasFieldTerms(order, dimensions))
}

// runBiasField fits, per channel, the polynomial to the residual between the
// observed log intensity and the responsibility-weighted class mean, by
// weighted least squares. The weight of voxel i for channel c is
// W_i = sum_k w_ik P_k[c][c] and its target is
// y_ic - (sum_k w_ik P_k[c][c] M_kc) / W_i, where w_ik is the M-step weight.
// The field is then shifted to zero mean over the mask.
func (s *Segmenter) runBiasField() {
	bf := s.bf
	k := s.numbClasses
	d := s.channels
	n := s.numelMasked
	nj := len(bf.terms)
	mx := s.model
	workers := workerCount(n, s.workers)

	for c := 0; c < d; c++ {
		partA := make([][]float64, workers)
		partB := make([][]float64, workers)
		parallelFor(n, s.workers, func(w, lo, hi int) {
			a := make([]float64, nj*nj)
			b := make([]float64, nj)
			phi := make([]float64, nj)
			for i := lo; i < hi; i++ {
				var wsum, msum float64
				for cl := 0; cl < k; cl++ {
					p := mx.precision(cl)[c*d+c]
					wt := s.voxelWeight(i, cl) * p
					wsum += wt
					msum += wt * mx.m[cl*d+c]
				}
				if wsum <= 0 {
					continue
				}
				l := s.index.ShortToLong[i]
				target := s.data[c*s.numel+l] - msum/wsum

				bf.basis(l%s.nx, (l/s.nx)%s.ny, l/(s.nx*s.ny), phi)
				for p := 0; p < nj; p++ {
					wp := wsum * phi[p]
					b[p] += wp * target
					row := a[p*nj : (p+1)*nj]
					for q := p; q < nj; q++ {
						row[q] += wp * phi[q]
					}
				}
			}
			partA[w], partB[w] = a, b
		})
		a := reduce(partA, nj*nj)
		b := reduce(partB, nj)

		coef, ok := solveNormalEquations(a, b, nj)
		if !ok {
			s.log.Warn().Int("channel", c).Msg("bias field normal equations are singular, keeping previous estimate")
			continue
		}
		copy(bf.coeffs[c*nj:(c+1)*nj], coef)
	}

	s.regenerateBiasField()
	bf.active = true
}

// solveNormalEquations solves A x = b for the symmetric system whose upper
// triangle is stored in a, with a small relative ridge on the diagonal.
func solveNormalEquations(a, b []float64, n int) ([]float64, bool) {
	var trace float64
	for p := 0; p < n; p++ {
		trace += a[p*n+p]
	}
	if !(trace > 0) {
		return nil, false
	}
	ridge := biasFieldRidge * trace / float64(n)

	sym := mat.NewSymDense(n, nil)
	for p := 0; p < n; p++ {
		for q := p; q < n; q++ {
			v := a[p*n+q]
			if p == q {
				v += ridge
			}
			sym.SetSym(p, q, v)
		}
	}
	rhs := mat.NewVecDense(n, append([]float64(nil), b...))

	var x mat.VecDense
	var chol mat.Cholesky
	if chol.Factorize(sym) {
		if err := chol.SolveVecTo(&x, rhs); err == nil {
			return x.RawVector().Data, true
		}
	}
	if err := x.SolveVec(sym, rhs); err != nil {
		return nil, false
	}
	return x.RawVector().Data, true
}

// regenerateBiasField evaluates the coefficients over the whole volume and
// moves the masked mean of each channel into the constant coefficient.
func (s *Segmenter) regenerateBiasField() {
	bf := s.bf
	nj := len(bf.terms)
	phi := make([]float64, nj)
	for c := 0; c < s.channels; c++ {
		coef := bf.coeffs[c*nj : (c+1)*nj]
		field := bf.field[c*s.numel : (c+1)*s.numel]
		i := 0
		for z := 0; z < s.nz; z++ {
			for y := 0; y < s.ny; y++ {
				for x := 0; x < s.nx; x++ {
					bf.basis(x, y, z, phi)
					var v float64
					for j := range phi {
						v += coef[j] * phi[j]
					}
					field[i] = v
					i++
				}
			}
		}

		var mean float64
		for _, l := range s.index.ShortToLong {
			mean += field[l]
		}
		mean /= float64(s.numelMasked)
		coef[0] -= mean
		for l := range field {
			field[l] -= mean
		}
	}
}
