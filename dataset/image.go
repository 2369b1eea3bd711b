package dataset

import (
	"fmt"
	"image"
	"image/color"
	"math/rand"
)

// Bounds is an inclusive pixel rectangle.
type Bounds struct {
	MinRow, MaxRow int
	MinCol, MaxCol int
}

// Height returns the number of rows covered.
func (b Bounds) Height() int { return b.MaxRow - b.MinRow + 1 }

// Width returns the number of columns covered.
func (b Bounds) Width() int { return b.MaxCol - b.MinCol + 1 }

// Frame returns the bounding box of the nonzero pixels of a row-major
// height×width image.
func Frame(img []uint8, height, width int) (Bounds, error) {
	if len(img) != height*width {
		return Bounds{}, fmt.Errorf("image has %d pixels, want %dx%d", len(img), height, width)
	}
	b := Bounds{MinRow: height, MaxRow: -1, MinCol: width, MaxCol: -1}
	for y := 0; y < height; y++ {
		row := img[y*width : (y+1)*width]
		for x, v := range row {
			if v == 0 {
				continue
			}
			b.MinRow = min(b.MinRow, y)
			b.MaxRow = max(b.MaxRow, y)
			b.MinCol = min(b.MinCol, x)
			b.MaxCol = max(b.MaxCol, x)
		}
	}
	if b.MaxRow < 0 {
		return Bounds{}, ErrEmptyImage
	}
	return b, nil
}

// splitPadding divides total padding cells into a random before/after pair.
func splitPadding(total int, rng *rand.Rand) (before, after int) {
	before = int(rng.Float64() * float64(total))
	return before, total - before
}

// Crop frames img and pads the framed digit back to targetH×targetW,
// splitting the padding of each axis at random.
func Crop(img []uint8, height, width, targetH, targetW int, rng *rand.Rand) ([]uint8, error) {
	b, err := Frame(img, height, width)
	if err != nil {
		return nil, err
	}
	if b.Height() > targetH || b.Width() > targetW {
		return nil, fmt.Errorf("%w: %dx%d into %dx%d", ErrFrameTooLarge, b.Height(), b.Width(), targetH, targetW)
	}

	top, _ := splitPadding(targetH-b.Height(), rng)
	left, _ := splitPadding(targetW-b.Width(), rng)

	out := make([]uint8, targetH*targetW)
	for y := 0; y < b.Height(); y++ {
		src := img[(b.MinRow+y)*width+b.MinCol : (b.MinRow+y)*width+b.MaxCol+1]
		copy(out[(top+y)*targetW+left:], src)
	}
	return out, nil
}

// LabelMask marks every nonzero pixel with class and the rest with 0.
func LabelMask(img []uint8, class uint8) []uint8 {
	mask := make([]uint8, len(img))
	for i, v := range img {
		if v > 0 {
			mask[i] = class
		}
	}
	return mask
}

// Grayscale converts any image to row-major 8-bit luminance.
func Grayscale(img image.Image) (pixels []uint8, height, width int) {
	bounds := img.Bounds()
	height, width = bounds.Dy(), bounds.Dx()
	pixels = make([]uint8, height*width)
	if g, ok := img.(*image.Gray); ok {
		for y := 0; y < height; y++ {
			off := g.PixOffset(bounds.Min.X, bounds.Min.Y+y)
			copy(pixels[y*width:(y+1)*width], g.Pix[off:off+width])
		}
		return pixels, height, width
	}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			c := color.GrayModel.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.Gray)
			pixels[y*width+x] = c.Y
		}
	}
	return pixels, height, width
}
