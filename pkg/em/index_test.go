package em

import (
	"math/rand"
	"testing"
)

// TestIndexMapBijection checks both maps against each other for random masks
func TestIndexMapBijection(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for trial := 0; trial < 20; trial++ {
		n := 1 + rng.Intn(500)
		mask := make([]bool, n)
		selected := 0
		for i := range mask {
			mask[i] = rng.Float64() < 0.4
			if mask[i] {
				selected++
			}
		}

		m := NewIndexMap(mask, n)
		if m.NumelMasked() != selected {
			t.Fatalf("trial %d: expected %d masked voxels, got %d", trial, selected, m.NumelMasked())
		}
		if m.Numel() != n {
			t.Fatalf("trial %d: expected numel %d, got %d", trial, n, m.Numel())
		}

		for s, l := range m.ShortToLong {
			if m.LongToShort[l] != s {
				t.Fatalf("trial %d: LongToShort[ShortToLong[%d]] = %d", trial, s, m.LongToShort[l])
			}
			if s > 0 && m.ShortToLong[s-1] >= l {
				t.Fatalf("trial %d: ShortToLong is not increasing at %d", trial, s)
			}
		}
		for l, s := range m.LongToShort {
			if !mask[l] {
				if s != OutsideMask {
					t.Fatalf("trial %d: voxel %d outside the mask maps to %d", trial, l, s)
				}
				continue
			}
			if m.ShortToLong[s] != l {
				t.Fatalf("trial %d: ShortToLong[LongToShort[%d]] = %d", trial, l, m.ShortToLong[s])
			}
		}
	}
}

// TestIndexMapEdgeCases covers the full mask, the nil mask and a single voxel
func TestIndexMapEdgeCases(t *testing.T) {
	t.Run("NilMask", func(t *testing.T) {
		m := NewIndexMap(nil, 7)
		if m.NumelMasked() != 7 {
			t.Fatalf("Expected identity over 7 voxels, got %d", m.NumelMasked())
		}
		for i := 0; i < 7; i++ {
			if m.ShortToLong[i] != i || m.LongToShort[i] != i {
				t.Errorf("Voxel %d is not mapped to itself", i)
			}
		}
	})

	t.Run("FullMask", func(t *testing.T) {
		mask := []bool{true, true, true}
		m := NewIndexMap(mask, 3)
		if m.NumelMasked() != 3 {
			t.Errorf("Expected 3 masked voxels, got %d", m.NumelMasked())
		}
	})

	t.Run("SingleVoxel", func(t *testing.T) {
		mask := make([]bool, 27)
		mask[13] = true
		m := NewIndexMap(mask, 27)
		if m.NumelMasked() != 1 || m.ShortToLong[0] != 13 {
			t.Fatalf("Expected only voxel 13, got %v", m.ShortToLong)
		}
		if s, ok := m.Short(13); !ok || s != 0 {
			t.Errorf("Short(13) = %d, %v", s, ok)
		}
		if _, ok := m.Short(12); ok {
			t.Error("Short(12) should be outside the mask")
		}
	})
}

// TestScatter checks the voxel-major to channel-major expansion
func TestScatter(t *testing.T) {
	m := NewIndexMap([]bool{false, true, false, true}, 4)
	short := []float64{0.2, 0.8, 0.6, 0.4}
	full := m.Scatter(short, 2, -1)

	expected := []float64{
		-1, 0.2, -1, 0.6,
		-1, 0.8, -1, 0.4,
	}
	for i := range expected {
		if full[i] != expected[i] {
			t.Errorf("Position %d: expected %f, got %f", i, expected[i], full[i])
		}
	}
}
