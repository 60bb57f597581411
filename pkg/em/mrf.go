package em

import "math"

// mrfState owns the MRF field and the class interaction energies.
type mrfState struct {
	// field holds numelMasked x K spatial-evidence probabilities
	field []float64

	// beta is the per-class weight, matrix the K x K energy costs
	beta   []float64
	matrix []float64

	// neighbours holds, per compacted voxel, the compacted indices of its
	// in-mask lattice neighbours, padded with OutsideMask
	neighbours []int32
	degree     int
}

// newMRFState allocates the MRF field (1/K everywhere), resolves the energy
// matrix and precomputes the neighbourhood of every masked voxel.
func newMRFState(s *Segmenter) *mrfState {
	k := s.numbClasses
	st := &mrfState{
		field:  make([]float64, s.numelMasked*k),
		beta:   make([]float64, k),
		matrix: make([]float64, k*k),
	}
	for i := range st.field {
		st.field[i] = 1 / float64(k)
	}
	for c := range st.beta {
		st.beta[c] = 1
		if s.mrfBetaOverride != nil {
			st.beta[c] = s.mrfBetaOverride[c]
		}
	}

	switch {
	case s.mrfMatrixOverride != nil:
		for a := 0; a < k; a++ {
			copy(st.matrix[a*k:(a+1)*k], s.mrfMatrixOverride[a])
		}
	case s.sgDelineationStatus:
		for a := 0; a < k; a++ {
			for b := 0; b < k; b++ {
				st.matrix[a*k+b] = s.mrfStrength * math.Abs(float64(a-b))
			}
		}
	default:
		for a := 0; a < k; a++ {
			for b := 0; b < k; b++ {
				if a != b {
					st.matrix[a*k+b] = s.mrfStrength
				}
			}
		}
	}

	st.buildNeighbours(s)
	return st
}

// buildNeighbours lists the 4-connected (2D) or 6-connected (3D)
// neighbours of every masked voxel. Neighbours outside the volume or the
// mask are left out.
func (st *mrfState) buildNeighbours(s *Segmenter) {
	type offset struct{ dx, dy, dz int }
	offsets := []offset{{-1, 0, 0}, {1, 0, 0}, {0, -1, 0}, {0, 1, 0}}
	if s.dimensions == 3 {
		offsets = append(offsets, offset{0, 0, -1}, offset{0, 0, 1})
	}
	st.degree = len(offsets)
	st.neighbours = make([]int32, s.numelMasked*st.degree)

	for i, l := range s.index.ShortToLong {
		x := l % s.nx
		y := (l / s.nx) % s.ny
		z := l / (s.nx * s.ny)
		for j, o := range offsets {
			st.neighbours[i*st.degree+j] = OutsideMask
			nx, ny, nz := x+o.dx, y+o.dy, z+o.dz
			if nx < 0 || ny < 0 || nz < 0 || nx >= s.nx || ny >= s.ny || nz >= s.nz {
				continue
			}
			nl := nx + s.nx*(ny+s.ny*nz)
			if ns := s.index.LongToShort[nl]; ns != OutsideMask {
				st.neighbours[i*st.degree+j] = int32(ns)
			}
		}
	}
}

// runMRF aggregates the neighbours' responsibilities through the energy
// matrix and turns the energies into a normalised per-class field:
//
//	E_ik   = sum_{n in N(i)} sum_l G[k][l] r_nl
//	MRF_ik = exp(-beta_k E_ik) / sum_k' exp(-beta_k' E_ik')
func (s *Segmenter) runMRF() {
	st := s.mrf
	k := s.numbClasses
	exp := s.expFunction()

	parallelFor(s.numelMasked, s.workers, func(_, lo, hi int) {
		energy := make([]float64, k)
		for i := lo; i < hi; i++ {
			for c := range energy {
				energy[c] = 0
			}
			for j := 0; j < st.degree; j++ {
				nb := st.neighbours[i*st.degree+j]
				if nb == OutsideMask {
					continue
				}
				r := s.expec[int(nb)*k : int(nb)*k+k]
				for c := 0; c < k; c++ {
					row := st.matrix[c*k : (c+1)*k]
					var e float64
					for l := 0; l < k; l++ {
						e += row[l] * r[l]
					}
					energy[c] += e
				}
			}

			emin := math.Inf(1)
			for c := 0; c < k; c++ {
				energy[c] *= st.beta[c]
				emin = math.Min(emin, energy[c])
			}
			field := st.field[i*k : (i+1)*k]
			var sum float64
			for c := 0; c < k; c++ {
				field[c] = exp(emin - energy[c])
				sum += field[c]
			}
			for c := 0; c < k; c++ {
				field[c] /= sum
			}
		}
	})
}
