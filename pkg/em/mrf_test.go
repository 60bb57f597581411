package em

import (
	"math"
	"math/rand"
	"testing"

	"emseg/pkg/phantom"
	"emseg/pkg/volume"
)

// randomVolume returns a volume filled with distinct random intensities
func randomVolume(nx, ny, nz int, seed int64) *volume.Volume {
	rng := rand.New(rand.NewSource(seed))
	v := volume.New(nx, ny, nz, 1, 1)
	for i := range v.Data {
		v.Data[i] = rng.Float64() * 100
	}
	return v
}

// initialisedMRF returns an initialised 3x3 2D segmenter with every voxel
// assigned to class 0 except the centre, which is assigned to class 1
func initialisedMRF(t *testing.T, configure func(s *Segmenter)) *Segmenter {
	t.Helper()
	s := newTestSegmenter(randomVolume(3, 3, 1, 1), 2)
	configure(s)
	if err := s.Initialise(); err != nil {
		t.Fatalf("Initialise failed: %v", err)
	}
	for i := 0; i < 9; i++ {
		s.expec[2*i], s.expec[2*i+1] = 1, 0
	}
	s.expec[2*4], s.expec[2*4+1] = 0, 1
	return s
}

// logistic returns exp(-e1) / (exp(-e0) + exp(-e1)) for the class-1 field
func logistic(e0, e1 float64) float64 {
	return 1 / (1 + math.Exp(e1-e0))
}

// TestMRFField checks the field against hand-computed energies
func TestMRFField(t *testing.T) {
	s := initialisedMRF(t, func(s *Segmenter) { s.SetMRF(1) })
	s.runMRF()
	field := s.mrf.field

	tests := []struct {
		name   string
		voxel  int
		e0, e1 float64
	}{
		// four class-0 neighbours
		{"Centre", 4, 0, 4},
		// two class-0 neighbours
		{"Corner", 0, 0, 2},
		// two class-0 neighbours and the class-1 centre
		{"Edge", 1, 1, 2},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			want := logistic(tc.e0, tc.e1)
			if got := field[2*tc.voxel+1]; math.Abs(got-want) > 1e-12 {
				t.Errorf("Class 1 field %.12f, expected %.12f", got, want)
			}
			if sum := field[2*tc.voxel] + field[2*tc.voxel+1]; math.Abs(sum-1) > 1e-12 {
				t.Errorf("Field sums to %f", sum)
			}
		})
	}
}

// TestMRFTransitionMatrixAndBeta checks an asymmetric matrix and class weights
func TestMRFTransitionMatrixAndBeta(t *testing.T) {
	s := initialisedMRF(t, func(s *Segmenter) {
		s.SetMRFTransitionMatrix([][]float64{{0, 2}, {0.5, 0}})
	})
	s.runMRF()
	if got, want := s.mrf.field[2*4+1], logistic(0, 4*0.5); math.Abs(got-want) > 1e-12 {
		t.Errorf("Centre class 1 field %.12f, expected %.12f", got, want)
	}

	s = initialisedMRF(t, func(s *Segmenter) {
		s.SetMRF(1)
		s.SetMRFBeta([]float64{1, 0.25})
	})
	s.runMRF()
	if got, want := s.mrf.field[2*4+1], logistic(0, 4*0.25); math.Abs(got-want) > 1e-12 {
		t.Errorf("Centre class 1 field with beta %.12f, expected %.12f", got, want)
	}
}

// TestMRFNeighbours checks the lattice connectivity with and without a mask
func TestMRFNeighbours(t *testing.T) {
	t.Run("3D", func(t *testing.T) {
		s := newTestSegmenter(randomVolume(3, 3, 3, 2), 2)
		s.SetMRF(0.4)
		if err := s.Initialise(); err != nil {
			t.Fatalf("Initialise failed: %v", err)
		}
		st := s.mrf
		if st.degree != 6 {
			t.Fatalf("Expected 6-connectivity, got %d", st.degree)
		}
		count := func(i int) int {
			n := 0
			for _, nb := range st.neighbours[i*st.degree : (i+1)*st.degree] {
				if nb != OutsideMask {
					n++
				}
			}
			return n
		}
		if n := count(13); n != 6 {
			t.Errorf("Centre voxel has %d neighbours", n)
		}
		if n := count(0); n != 3 {
			t.Errorf("Corner voxel has %d neighbours", n)
		}
	})

	t.Run("2DMasked", func(t *testing.T) {
		img := randomVolume(3, 3, 1, 3)
		mask := volume.NewLike(img, 1)
		for i := range mask.Data {
			mask.Data[i] = 1
		}
		mask.Data[1] = 0
		s := newTestSegmenter(img, 2)
		s.SetMaskImage(mask)
		s.SetMRF(0.4)
		if err := s.Initialise(); err != nil {
			t.Fatalf("Initialise failed: %v", err)
		}
		st := s.mrf
		if st.degree != 4 {
			t.Fatalf("Expected 4-connectivity, got %d", st.degree)
		}
		centre, _ := s.index.Short(4)
		n := 0
		for _, nb := range st.neighbours[centre*4 : centre*4+4] {
			if nb == OutsideMask {
				continue
			}
			n++
			if s.index.ShortToLong[nb] == 1 {
				t.Error("Voxel outside the mask listed as a neighbour")
			}
		}
		if n != 3 {
			t.Errorf("Centre voxel has %d in-mask neighbours, expected 3", n)
		}
	})
}

// TestSulciGyriMatrix checks the class-distance energy of the delineation mode
func TestSulciGyriMatrix(t *testing.T) {
	s := newTestSegmenter(randomVolume(4, 4, 4, 4), 3)
	s.SetMRF(0.5)
	s.SetLoAd(0, false, true, true)
	if err := s.Initialise(); err != nil {
		t.Fatalf("Initialise failed: %v", err)
	}
	for a := 0; a < 3; a++ {
		for b := 0; b < 3; b++ {
			want := 0.5 * math.Abs(float64(a-b))
			if got := s.mrf.matrix[a*3+b]; got != want {
				t.Errorf("G[%d][%d] = %f, expected %f", a, b, got, want)
			}
		}
	}
}

// TestMRFReducesMisclassification compares noisy 2D segmentations
func TestMRFReducesMisclassification(t *testing.T) {
	ph := phantom.Generate(phantom.Params{
		Nx: 32, Ny: 32, Nz: 1,
		Means:     []float64{0, 100},
		Sigma:     40,
		BlockSize: 8,
		Seed:      21,
	})

	errorsOf := func(s *Segmenter) int {
		mustRun(t, s)
		means, _ := s.Means()
		labels, _ := s.Labels()
		classOf := []int{closestClass(means, 0), closestClass(means, 100)}
		n := 0
		for i, l := range ph.Labels {
			if int(labels.Data[i])-1 != classOf[l] {
				n++
			}
		}
		return n
	}

	plain := errorsOf(newTestSegmenter(ph.Image, 2))
	smooth := newTestSegmenter(ph.Image, 2)
	smooth.SetMRF(DefaultMRFStrength)
	regularised := errorsOf(smooth)

	if regularised >= plain {
		t.Errorf("MRF misclassified %d voxels, plain model %d", regularised, plain)
	}
}
