// Package volumeio reads and writes volumes as directories of 2D slice
// images, the exchange format of the emseg command.
package volumeio

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"emseg/pkg/volume"
)

// ListSlices returns the JPEG and PNG files of dir sorted by the number
// embedded in their names, so that slice_2 comes before slice_10.
//
// Parameters:
//   - dir: directory holding one image per axial slice
//
// Returns:
//   - the full paths of the slice images in anatomical order
//   - an error if the directory cannot be read or holds no images
func ListSlices(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading slice directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png":
			files = append(files, e.Name())
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no JPEG or PNG images found in %s", dir)
	}

	sort.SliceStable(files, func(i, j int) bool {
		ni, nj := extractNumber(files[i]), extractNumber(files[j])
		if ni != nj {
			return ni < nj
		}
		return files[i] < files[j]
	})

	for i, f := range files {
		files[i] = filepath.Join(dir, f)
	}
	return files, nil
}

// extractNumber returns the digits of a file name read as one integer, or 0
func extractNumber(filename string) int {
	base := filepath.Base(filename)
	var digits strings.Builder
	for _, c := range base {
		if c >= '0' && c <= '9' {
			digits.WriteRune(c)
		}
	}
	if digits.Len() == 0 {
		return 0
	}
	n, err := strconv.Atoi(digits.String())
	if err != nil {
		return 0
	}
	return n
}

// LoadSlices loads a directory of slices as a single-channel volume.
// Intensities are the red component scaled to [0, 1]; sliceGap, when
// positive, becomes the z spacing.
func LoadSlices(dir string, sliceGap float64) (*volume.Volume, error) {
	return LoadChannels([]string{dir}, sliceGap)
}

// LoadChannels loads one directory per modality into a volume with
// Nu = len(dirs). All directories must hold slices of the same geometry.
func LoadChannels(dirs []string, sliceGap float64) (*volume.Volume, error) {
	stacks, err := loadStacks(dirs)
	if err != nil {
		return nil, err
	}
	w, h, d := stacks[0].width, stacks[0].height, len(stacks[0].slices)
	v := volume.New(w, h, d, 1, len(dirs))
	return fill(v, stacks, sliceGap), nil
}

// LoadPriors loads one directory per class into a volume whose channels are
// stored along t, the layout expected for population priors.
func LoadPriors(dirs []string, sliceGap float64) (*volume.Volume, error) {
	stacks, err := loadStacks(dirs)
	if err != nil {
		return nil, err
	}
	w, h, d := stacks[0].width, stacks[0].height, len(stacks[0].slices)
	v := volume.New(w, h, d, len(dirs), 1)
	return fill(v, stacks, sliceGap), nil
}

// stack holds the decoded slices of one directory
type stack struct {
	dir           string
	width, height int
	slices        [][]float64
}

func loadStacks(dirs []string) ([]*stack, error) {
	if len(dirs) == 0 {
		return nil, fmt.Errorf("no slice directory given")
	}
	stacks := make([]*stack, len(dirs))
	for i, dir := range dirs {
		st, err := loadStack(dir)
		if err != nil {
			return nil, err
		}
		if i > 0 {
			ref := stacks[0]
			if st.width != ref.width || st.height != ref.height || len(st.slices) != len(ref.slices) {
				return nil, fmt.Errorf("%s holds %dx%dx%d slices, %s holds %dx%dx%d",
					dir, st.width, st.height, len(st.slices),
					ref.dir, ref.width, ref.height, len(ref.slices))
			}
		}
		stacks[i] = st
	}
	return stacks, nil
}

func loadStack(dir string) (*stack, error) {
	files, err := ListSlices(dir)
	if err != nil {
		return nil, err
	}
	st := &stack{dir: dir}
	for _, f := range files {
		img, err := loadImage(f)
		if err != nil {
			return nil, fmt.Errorf("failed to load image %s: %w", f, err)
		}
		b := img.Bounds()
		// All slices of a stack must share the dimensions of the first one.
		if len(st.slices) == 0 {
			st.width, st.height = b.Dx(), b.Dy()
		} else if b.Dx() != st.width || b.Dy() != st.height {
			return nil, fmt.Errorf("slice %s is %dx%d, expected %dx%d", f, b.Dx(), b.Dy(), st.width, st.height)
		}
		st.slices = append(st.slices, imageToFloat(img))
	}
	return st, nil
}

func fill(v *volume.Volume, stacks []*stack, sliceGap float64) *volume.Volume {
	if sliceGap > 0 {
		v.Dz = sliceGap
	}
	plane := v.Nx * v.Ny
	for c, st := range stacks {
		ch := v.Channel(c)
		for z, s := range st.slices {
			copy(ch[z*plane:(z+1)*plane], s)
		}
	}
	return v
}

// loadImage decodes a JPEG or PNG file
func loadImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, err
	}
	return img, nil
}

// imageToFloat converts the red component of an image to [0, 1], row-major
func imageToFloat(img image.Image) []float64 {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	result := make([]float64, width*height)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, _, _, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			result[y*width+x] = float64(r) / 65535.0
		}
	}
	return result
}
