package nn

import (
	"fmt"
	"math"
)

// FeatureMap is a batch of scalar maps laid out [batch][channel][row][col].
type FeatureMap struct {
	Batch    int
	Channels int
	Height   int
	Width    int
	Data     []float32
}

// NewFeatureMap allocates a zeroed feature map.
func NewFeatureMap(batch, channels, height, width int) *FeatureMap {
	return &FeatureMap{
		Batch:    batch,
		Channels: channels,
		Height:   height,
		Width:    width,
		Data:     make([]float32, batch*channels*height*width),
	}
}

// At returns the value at (b, c, y, x).
func (f *FeatureMap) At(b, c, y, x int) float32 {
	return f.Data[((b*f.Channels+c)*f.Height+y)*f.Width+x]
}

// Set stores v at (b, c, y, x).
func (f *FeatureMap) Set(b, c, y, x int, v float32) {
	f.Data[((b*f.Channels+c)*f.Height+y)*f.Width+x] = v
}

func (f *FeatureMap) check(batch, channels int, shape Shape2D, what string) error {
	if f == nil {
		return fmt.Errorf("%w: %s is nil", ErrShapeMismatch, what)
	}
	if f.Batch != batch || f.Channels != channels || f.Height != shape.Height || f.Width != shape.Width {
		return fmt.Errorf("%w: %s is (%d, %d, %d, %d), want (%d, %d, %d, %d)", ErrShapeMismatch, what,
			f.Batch, f.Channels, f.Height, f.Width, batch, channels, shape.Height, shape.Width)
	}
	if len(f.Data) != batch*channels*shape.Cells() {
		return fmt.Errorf("%w: %s holds %d values, want %d", ErrShapeMismatch, what, len(f.Data), batch*channels*shape.Cells())
	}
	return nil
}

// CapsuleTensor is a grid of pose vectors laid out [batch][type][row][col][dim].
type CapsuleTensor struct {
	Batch  int
	Types  int
	Height int
	Width  int
	Dim    int
	Data   []float32
}

// NewCapsuleTensor allocates a zeroed capsule tensor.
func NewCapsuleTensor(batch, types, height, width, dim int) *CapsuleTensor {
	return &CapsuleTensor{
		Batch:  batch,
		Types:  types,
		Height: height,
		Width:  width,
		Dim:    dim,
		Data:   make([]float32, batch*types*height*width*dim),
	}
}

// Instances returns the number of capsules per batch element.
func (c *CapsuleTensor) Instances() int { return c.Types * c.Height * c.Width }

// Offset returns the start of the pose vector at (b, t, y, x).
func (c *CapsuleTensor) Offset(b, t, y, x int) int {
	return (((b*c.Types+t)*c.Height+y)*c.Width + x) * c.Dim
}

// Vector returns the pose vector at (b, t, y, x). The slice aliases Data.
func (c *CapsuleTensor) Vector(b, t, y, x int) []float32 {
	off := c.Offset(b, t, y, x)
	return c.Data[off : off+c.Dim]
}

// Shape returns (batch, types, height, width, dim).
func (c *CapsuleTensor) Shape() []int {
	return []int{c.Batch, c.Types, c.Height, c.Width, c.Dim}
}

// Norms returns the presence probability of every capsule, laid out
// [batch][type][row][col].
func (c *CapsuleTensor) Norms() []float32 {
	n := c.Batch * c.Instances()
	norms := make([]float32, n)
	for i := 0; i < n; i++ {
		norms[i] = vectorNorm(c.Data[i*c.Dim : (i+1)*c.Dim])
	}
	return norms
}

func (c *CapsuleTensor) check(batch, types int, shape Shape2D, dim int, what string) error {
	if c == nil {
		return fmt.Errorf("%w: %s is nil", ErrShapeMismatch, what)
	}
	if c.Batch != batch || c.Types != types || c.Height != shape.Height || c.Width != shape.Width || c.Dim != dim {
		return fmt.Errorf("%w: %s is %v, want [%d %d %d %d %d]", ErrShapeMismatch, what,
			c.Shape(), batch, types, shape.Height, shape.Width, dim)
	}
	if len(c.Data) != batch*types*shape.Cells()*dim {
		return fmt.Errorf("%w: %s holds %d values, want %d", ErrShapeMismatch, what, len(c.Data), batch*types*shape.Cells()*dim)
	}
	return nil
}

// CouplingMap holds final routing coefficients laid out [batch][input][class].
// Input index is type*H*W + row*W + col of the voting capsule grid.
type CouplingMap struct {
	Batch   int
	Inputs  int
	Classes int
	Data    []float32
}

// Row returns the coefficients of one input capsule over all classes.
func (m *CouplingMap) Row(b, input int) []float32 {
	off := (b*m.Inputs + input) * m.Classes
	return m.Data[off : off+m.Classes]
}

// LabelLogits holds per-pixel class scores laid out [batch][row][col][class].
type LabelLogits struct {
	Batch   int
	Height  int
	Width   int
	Classes int
	Data    []float32
}

// At returns the logit for class c at pixel (b, y, x).
func (l *LabelLogits) At(b, y, x, c int) float32 {
	return l.Data[((b*l.Height+y)*l.Width+x)*l.Classes+c]
}

// Shape returns (batch, height, width, classes).
func (l *LabelLogits) Shape() []int {
	return []int{l.Batch, l.Height, l.Width, l.Classes}
}

// Argmax returns the predicted label map. Ties resolve to the lower class.
func (l *LabelLogits) Argmax() *LabelMap {
	out := NewLabelMap(l.Batch, l.Height, l.Width)
	for p := range out.Labels {
		row := l.Data[p*l.Classes : (p+1)*l.Classes]
		best := 0
		for c := 1; c < len(row); c++ {
			if row[c] > row[best] {
				best = c
			}
		}
		out.Labels[p] = uint8(best)
	}
	return out
}

// LabelMap holds integer class labels laid out [batch][row][col].
type LabelMap struct {
	Batch  int
	Height int
	Width  int
	Labels []uint8
}

// NewLabelMap allocates an all-background label map.
func NewLabelMap(batch, height, width int) *LabelMap {
	return &LabelMap{
		Batch:  batch,
		Height: height,
		Width:  width,
		Labels: make([]uint8, batch*height*width),
	}
}

// Image returns the labels of one batch element. The slice aliases Labels.
func (m *LabelMap) Image(b int) []uint8 {
	n := m.Height * m.Width
	return m.Labels[b*n : (b+1)*n]
}

// AllFinite reports whether every value is neither NaN nor infinite.
func AllFinite(v []float32) bool {
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
