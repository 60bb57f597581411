package em

// OutsideMask is the LongToShort sentinel for voxels outside the mask.
const OutsideMask = -1

// IndexMap translates between full-volume voxel offsets and the compacted
// offsets of the voxels inside the region of interest.
type IndexMap struct {
	// ShortToLong maps a compacted index to its full-volume index
	ShortToLong []int

	// LongToShort maps a full-volume index to its compacted index, or OutsideMask
	LongToShort []int
}

// NewIndexMap builds both maps in one pass over the mask. A nil mask selects
// numel voxels, i.e. the identity mapping.
func NewIndexMap(mask []bool, numel int) *IndexMap {
	if mask != nil {
		numel = len(mask)
	}
	m := &IndexMap{
		ShortToLong: make([]int, 0, numel),
		LongToShort: make([]int, numel),
	}
	for i := 0; i < numel; i++ {
		if mask == nil || mask[i] {
			m.LongToShort[i] = len(m.ShortToLong)
			m.ShortToLong = append(m.ShortToLong, i)
		} else {
			m.LongToShort[i] = OutsideMask
		}
	}
	return m
}

// NumelMasked returns the number of voxels inside the mask.
func (m *IndexMap) NumelMasked() int {
	return len(m.ShortToLong)
}

// Numel returns the number of voxels of the full volume.
func (m *IndexMap) Numel() int {
	return len(m.LongToShort)
}

// Short returns the compacted index of full-volume voxel i and whether it is
// inside the mask.
func (m *IndexMap) Short(i int) (int, bool) {
	s := m.LongToShort[i]
	return s, s != OutsideMask
}

// Scatter expands a compacted per-voxel array with stride values per voxel
// (voxel-major) into a channel-major full-volume buffer. Voxels outside the
// mask are set to fill.
func (m *IndexMap) Scatter(short []float64, stride int, fill float64) []float64 {
	numel := m.Numel()
	out := make([]float64, numel*stride)
	for i := range out {
		out[i] = fill
	}
	for s, l := range m.ShortToLong {
		for k := 0; k < stride; k++ {
			out[k*numel+l] = short[s*stride+k]
		}
	}
	return out
}
