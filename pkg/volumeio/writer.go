package volumeio

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/gonum/floats"

	"emseg/pkg/volume"
)

// Window maps intensities in [Min, Max] to the full grey range.
type Window struct {
	Min, Max float64
}

// AutoWindow returns the range of the finite values of data.
func AutoWindow(data []float64) Window {
	finite := make([]float64, 0, len(data))
	for _, v := range data {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			finite = append(finite, v)
		}
	}
	if len(finite) == 0 {
		return Window{0, 1}
	}
	return Window{Min: floats.Min(finite), Max: floats.Max(finite)}
}

// level maps v to a 16-bit grey value
func (w Window) level(v float64) uint16 {
	if math.IsNaN(v) || w.Max <= w.Min {
		return 0
	}
	u := (v - w.Min) / (w.Max - w.Min)
	return uint16(math.Max(0, math.Min(65535, u*65535)))
}

// ExtractSlice extracts a 2D slice of one channel along the given axis.
//
// Parameters:
//   - v: source volume
//   - channel: channel index c = t + Nt*u
//   - axis: "x" (YZ plane), "y" (XZ plane) or "z" (XY plane)
//   - position: slice index along axis
//   - win: intensity window mapped to black..white
//
// Returns:
//   - a 16-bit greyscale image, or an error for an invalid axis or position
func ExtractSlice(v *volume.Volume, channel int, axis string, position int, win Window) (image.Image, error) {
	if channel < 0 || channel >= v.Channels() {
		return nil, fmt.Errorf("channel %d out of range [0, %d)", channel, v.Channels())
	}
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}
	data := v.Channel(channel)

	var img *image.Gray16
	switch axis {
	case "x", "X":
		if position >= v.Nx {
			return nil, fmt.Errorf("position %d exceeds width %d", position, v.Nx)
		}
		img = image.NewGray16(image.Rect(0, 0, v.Nz, v.Ny))
		for y := 0; y < v.Ny; y++ {
			for z := 0; z < v.Nz; z++ {
				img.SetGray16(z, y, color.Gray16{Y: win.level(data[v.Index(position, y, z)])})
			}
		}

	case "y", "Y":
		if position >= v.Ny {
			return nil, fmt.Errorf("position %d exceeds height %d", position, v.Ny)
		}
		img = image.NewGray16(image.Rect(0, 0, v.Nx, v.Nz))
		for z := 0; z < v.Nz; z++ {
			for x := 0; x < v.Nx; x++ {
				img.SetGray16(x, z, color.Gray16{Y: win.level(data[v.Index(x, position, z)])})
			}
		}

	case "z", "Z":
		if position >= v.Nz {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, v.Nz)
		}
		img = image.NewGray16(image.Rect(0, 0, v.Nx, v.Ny))
		for y := 0; y < v.Ny; y++ {
			for x := 0; x < v.Nx; x++ {
				img.SetGray16(x, y, color.Gray16{Y: win.level(data[v.Index(x, y, position)])})
			}
		}

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}
	return img, nil
}

// SaveSlice writes img as PNG, or as JPEG when filename ends in .jpg/.jpeg.
func SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
	default:
		return png.Encode(file, img)
	}
}

// SaveChannel writes every axial slice of one channel to dir as
// <prefix>_<z>.<format>, with format "png" or "jpg".
func SaveChannel(v *volume.Volume, channel int, dir, prefix, format string, win Window) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	ext, err := extension(format)
	if err != nil {
		return err
	}
	for z := 0; z < v.Nz; z++ {
		img, err := ExtractSlice(v, channel, "z", z, win)
		if err != nil {
			return err
		}
		name := filepath.Join(dir, fmt.Sprintf("%s_%03d%s", prefix, z, ext))
		if err := SaveSlice(img, name); err != nil {
			return fmt.Errorf("writing %s: %w", name, err)
		}
	}
	return nil
}

// SaveVolume writes every channel of v to its own sub-directory
// <dir>/<prefix>_<c>, each windowed on its own range unless win is given.
func SaveVolume(v *volume.Volume, dir, prefix, format string, win *Window) error {
	for c := 0; c < v.Channels(); c++ {
		w := AutoWindow(v.Channel(c))
		if win != nil {
			w = *win
		}
		sub := filepath.Join(dir, fmt.Sprintf("%s_%d", prefix, c))
		if v.Channels() == 1 {
			sub = filepath.Join(dir, prefix)
		}
		if err := SaveChannel(v, c, sub, prefix, format, w); err != nil {
			return err
		}
	}
	return nil
}

func extension(format string) (string, error) {
	switch strings.ToLower(format) {
	case "", "png":
		return ".png", nil
	case "jpg", "jpeg":
		return ".jpg", nil
	default:
		return "", fmt.Errorf("unsupported image format %q (must be png or jpg)", format)
	}
}
