// Package volume provides the 5D image container exchanged between the
// segmentation engine and its collaborators (slice loaders, phantoms, writers).
package volume

import (
	"fmt"
	"math"
)

// Volume represents a 5D image (x, y, z, t, u) stored as a flat buffer.
//
// The buffer is laid out with x varying fastest, then y, z, t and u, which
// matches the usual NIfTI ordering. A channel is one (t, u) pair and is
// addressed by c = t + Nt*u, so element (voxel i, channel c) lives at
// Data[c*Numel() + i].
type Volume struct {
	// Nx, Ny, Nz are the spatial dimensions in voxels
	Nx, Ny, Nz int

	// Nt and Nu are the time-point and modality dimensions
	Nt, Nu int

	// Dx, Dy, Dz are the voxel spacings in mm
	Dx, Dy, Dz float64

	// Data holds Numel()*Nt*Nu intensities
	Data []float64
}

// New allocates a zero-filled volume with unit spacing.
// Dimensions smaller than one are treated as one.
func New(nx, ny, nz, nt, nu int) *Volume {
	v := &Volume{
		Nx: atLeastOne(nx),
		Ny: atLeastOne(ny),
		Nz: atLeastOne(nz),
		Nt: atLeastOne(nt),
		Nu: atLeastOne(nu),
		Dx: 1,
		Dy: 1,
		Dz: 1,
	}
	v.Data = make([]float64, v.Numel()*v.Channels())
	return v
}

// NewLike allocates a zero-filled volume with the spatial geometry of ref and
// the given number of channels stored along t.
func NewLike(ref *Volume, channels int) *Volume {
	v := New(ref.Nx, ref.Ny, ref.Nz, channels, 1)
	v.Dx, v.Dy, v.Dz = ref.Dx, ref.Dy, ref.Dz
	return v
}

func atLeastOne(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

// Numel returns the number of voxels of one channel.
func (v *Volume) Numel() int {
	return v.Nx * v.Ny * v.Nz
}

// Channels returns Nt*Nu.
func (v *Volume) Channels() int {
	return v.Nt * v.Nu
}

// Index returns the flat voxel offset of (x, y, z).
func (v *Volume) Index(x, y, z int) int {
	return x + v.Nx*(y+v.Ny*z)
}

// Coords is the inverse of Index.
func (v *Volume) Coords(i int) (x, y, z int) {
	x = i % v.Nx
	y = (i / v.Nx) % v.Ny
	z = i / (v.Nx * v.Ny)
	return x, y, z
}

// Channel returns the sub-slice holding channel c. The returned slice aliases
// the volume buffer.
func (v *Volume) Channel(c int) []float64 {
	n := v.Numel()
	return v.Data[c*n : (c+1)*n]
}

// At returns the value of voxel (x, y, z) in channel c.
func (v *Volume) At(x, y, z, c int) float64 {
	return v.Data[c*v.Numel()+v.Index(x, y, z)]
}

// Set stores val at voxel (x, y, z) in channel c.
func (v *Volume) Set(x, y, z, c int, val float64) {
	v.Data[c*v.Numel()+v.Index(x, y, z)] = val
}

// Dimensions returns 2 for single-slice volumes and 3 otherwise.
func (v *Volume) Dimensions() int {
	if v.Nz == 1 {
		return 2
	}
	return 3
}

// Validate checks that the buffer length agrees with the declared geometry.
func (v *Volume) Validate() error {
	if v.Nx < 1 || v.Ny < 1 || v.Nz < 1 || v.Nt < 1 || v.Nu < 1 {
		return fmt.Errorf("invalid dimensions %dx%dx%dx%dx%d", v.Nx, v.Ny, v.Nz, v.Nt, v.Nu)
	}
	if want := v.Numel() * v.Channels(); len(v.Data) != want {
		return fmt.Errorf("buffer holds %d values, geometry needs %d", len(v.Data), want)
	}
	return nil
}

// spacingTolerance is the largest spacing difference (mm) still considered equal.
const spacingTolerance = 1e-4

// SameGeometry reports whether v and o share spatial dimensions and spacing.
// The channel dimensions are not compared.
func (v *Volume) SameGeometry(o *Volume) bool {
	if v.Nx != o.Nx || v.Ny != o.Ny || v.Nz != o.Nz {
		return false
	}
	return math.Abs(v.Dx-o.Dx) <= spacingTolerance &&
		math.Abs(v.Dy-o.Dy) <= spacingTolerance &&
		math.Abs(v.Dz-o.Dz) <= spacingTolerance
}

// String describes the geometry, e.g. "64x64x32x1x1 (1.00x1.00x1.50 mm)".
func (v *Volume) String() string {
	return fmt.Sprintf("%dx%dx%dx%dx%d (%.2fx%.2fx%.2f mm)",
		v.Nx, v.Ny, v.Nz, v.Nt, v.Nu, v.Dx, v.Dy, v.Dz)
}
