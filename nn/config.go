package nn

import (
	"fmt"
)

// ConvSpec configures a scalar convolution.
type ConvSpec struct {
	KernelSize int `toml:"kernel_size" yaml:"kernel_size"`
	Stride     int `toml:"stride" yaml:"stride"`
	Padding    int `toml:"padding" yaml:"padding"`
	Filters    int `toml:"filters" yaml:"filters"`
}

// CapsuleSpec configures a capsule layer that works over a spatial grid.
type CapsuleSpec struct {
	KernelSize int `toml:"kernel_size" yaml:"kernel_size"`
	Stride     int `toml:"stride" yaml:"stride"`
	Padding    int `toml:"padding" yaml:"padding"`
	Capsules   int `toml:"capsules" yaml:"capsules"`
	VectorDim  int `toml:"vector_dim" yaml:"vector_dim"`
}

// UpsampleSpec configures one transposed convolution of the decoder.
// Padding crops that many cells from each border of the output.
type UpsampleSpec struct {
	KernelH int `toml:"kernel_h" yaml:"kernel_h"`
	KernelW int `toml:"kernel_w" yaml:"kernel_w"`
	Stride  int `toml:"stride" yaml:"stride"`
	Padding int `toml:"padding" yaml:"padding"`
}

// ModelConfig holds every shape parameter of a capsule segmentation model.
// It is resolved into a Geometry before any tensor is allocated.
type ModelConfig struct {
	BatchSize     int `toml:"batch_size" yaml:"batch_size"`
	ImageHeight   int `toml:"image_height" yaml:"image_height"`
	ImageWidth    int `toml:"image_width" yaml:"image_width"`
	ImageChannels int `toml:"image_channels" yaml:"image_channels"`
	NumClasses    int `toml:"num_classes" yaml:"num_classes"`
	RoutingIters  int `toml:"routing_ites" yaml:"routing_ites"`

	Conv1          ConvSpec    `toml:"conv1" yaml:"conv1"`
	Conv2          ConvSpec    `toml:"conv2" yaml:"conv2"`
	Primary        CapsuleSpec `toml:"primary" yaml:"primary"`
	ConvCaps       CapsuleSpec `toml:"conv_caps" yaml:"conv_caps"`
	ClassVectorDim int         `toml:"class_vector_dim" yaml:"class_vector_dim"`

	// Decoder lists the transposed convolutions from the conv-capsule grid
	// back to the image, one per encoder stage in reverse order. Empty means
	// derive the exact inverse of the encoder.
	Decoder []UpsampleSpec `toml:"decoder" yaml:"decoder"`

	Remake       bool  `toml:"remake" yaml:"remake"`
	RemakeHidden []int `toml:"remake_hidden" yaml:"remake_hidden"`

	// Seed drives weight initialization.
	Seed int64 `toml:"seed" yaml:"seed"`
}

// DefaultConfig returns the reference configuration: single-channel 24x56
// images, two classes, three routing iterations.
func DefaultConfig() ModelConfig {
	return ModelConfig{
		BatchSize:      2,
		ImageHeight:    24,
		ImageWidth:     56,
		ImageChannels:  1,
		NumClasses:     2,
		RoutingIters:   3,
		Conv1:          ConvSpec{KernelSize: 9, Stride: 1, Padding: 0, Filters: 256},
		Conv2:          ConvSpec{KernelSize: 5, Stride: 1, Padding: 0, Filters: 256},
		Primary:        CapsuleSpec{KernelSize: 5, Stride: 1, Padding: 0, Capsules: 28, VectorDim: 8},
		ConvCaps:       CapsuleSpec{KernelSize: 3, Stride: 2, Padding: 0, Capsules: 24, VectorDim: 8},
		ClassVectorDim: 24,
		RemakeHidden:   []int{672, 1344},
		Seed:           1,
	}
}

// Shape2D is a spatial extent.
type Shape2D struct {
	Height int
	Width  int
}

// Cells returns Height*Width.
func (s Shape2D) Cells() int { return s.Height * s.Width }

func (s Shape2D) String() string { return fmt.Sprintf("%dx%d", s.Height, s.Width) }

// DecoderStage is a resolved UpsampleSpec with its input and output extents.
type DecoderStage struct {
	UpsampleSpec
	In  Shape2D
	Out Shape2D
}

// Geometry is the fully resolved shape plan of a model.
type Geometry struct {
	Config ModelConfig

	Input    Shape2D
	Conv1    Shape2D
	Conv2    Shape2D
	Primary  Shape2D
	ConvCaps Shape2D

	// ConvCapsInputs is the number of input capsule instances voting at one
	// conv-capsule output cell (in types × kernel offsets).
	ConvCapsInputs int
	// ClassInputs is the number of conv-capsule instances voting for classes.
	ClassInputs int
	// VoteElems is the size of the conv-capsule vote tensor for one image.
	VoteElems int

	Decoder []DecoderStage
}

// Resolve validates the configuration and computes every layer shape.
func (c ModelConfig) Resolve() (*Geometry, error) {
	if err := c.validateScalars(); err != nil {
		return nil, err
	}

	g := &Geometry{
		Config: c,
		Input:  Shape2D{Height: c.ImageHeight, Width: c.ImageWidth},
	}

	var err error
	if g.Conv1, err = convOutput("conv1", g.Input, c.Conv1.KernelSize, c.Conv1.Stride, c.Conv1.Padding); err != nil {
		return nil, err
	}
	if g.Conv2, err = convOutput("conv2", g.Conv1, c.Conv2.KernelSize, c.Conv2.Stride, c.Conv2.Padding); err != nil {
		return nil, err
	}
	if g.Primary, err = convOutput("primary_caps", g.Conv2, c.Primary.KernelSize, c.Primary.Stride, c.Primary.Padding); err != nil {
		return nil, err
	}
	if g.ConvCaps, err = convOutput("conv_caps", g.Primary, c.ConvCaps.KernelSize, c.ConvCaps.Stride, c.ConvCaps.Padding); err != nil {
		return nil, err
	}

	k := c.ConvCaps.KernelSize
	g.ConvCapsInputs = c.Primary.Capsules * k * k
	g.ClassInputs = c.ConvCaps.Capsules * g.ConvCaps.Cells()
	g.VoteElems = g.ConvCaps.Cells() * g.ConvCapsInputs * c.ConvCaps.Capsules * c.ConvCaps.VectorDim

	if g.Decoder, err = c.resolveDecoder(g); err != nil {
		return nil, err
	}
	return g, nil
}

func (c ModelConfig) validateScalars() error {
	positive := []struct {
		name  string
		value int
	}{
		{"batch_size", c.BatchSize},
		{"image_height", c.ImageHeight},
		{"image_width", c.ImageWidth},
		{"image_channels", c.ImageChannels},
		{"num_classes", c.NumClasses},
		{"routing_ites", c.RoutingIters},
		{"conv1.kernel_size", c.Conv1.KernelSize},
		{"conv1.stride", c.Conv1.Stride},
		{"conv1.filters", c.Conv1.Filters},
		{"conv2.kernel_size", c.Conv2.KernelSize},
		{"conv2.stride", c.Conv2.Stride},
		{"conv2.filters", c.Conv2.Filters},
		{"primary.kernel_size", c.Primary.KernelSize},
		{"primary.stride", c.Primary.Stride},
		{"primary.capsules", c.Primary.Capsules},
		{"primary.vector_dim", c.Primary.VectorDim},
		{"conv_caps.kernel_size", c.ConvCaps.KernelSize},
		{"conv_caps.stride", c.ConvCaps.Stride},
		{"conv_caps.capsules", c.ConvCaps.Capsules},
		{"conv_caps.vector_dim", c.ConvCaps.VectorDim},
		{"class_vector_dim", c.ClassVectorDim},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalidConfig, p.name, p.value)
		}
	}

	paddings := []struct {
		name  string
		value int
	}{
		{"conv1.padding", c.Conv1.Padding},
		{"conv2.padding", c.Conv2.Padding},
		{"primary.padding", c.Primary.Padding},
		{"conv_caps.padding", c.ConvCaps.Padding},
	}
	for _, p := range paddings {
		if p.value < 0 {
			return fmt.Errorf("%w: %s must not be negative, got %d", ErrInvalidConfig, p.name, p.value)
		}
	}

	if c.NumClasses > 255 {
		return fmt.Errorf("%w: num_classes %d does not fit a uint8 label", ErrInvalidConfig, c.NumClasses)
	}
	if c.Remake {
		for i, h := range c.RemakeHidden {
			if h <= 0 {
				return fmt.Errorf("%w: remake_hidden[%d] must be positive, got %d", ErrInvalidConfig, i, h)
			}
		}
	}
	return nil
}

// convOutput applies standard convolution arithmetic.
func convOutput(name string, in Shape2D, kernel, stride, padding int) (Shape2D, error) {
	h := in.Height + 2*padding
	w := in.Width + 2*padding
	if kernel > h || kernel > w {
		return Shape2D{}, fmt.Errorf("%w: %s kernel %d exceeds padded input %dx%d", ErrShapeMismatch, name, kernel, h, w)
	}
	return Shape2D{
		Height: (h-kernel)/stride + 1,
		Width:  (w-kernel)/stride + 1,
	}, nil
}

// transposedOutput is the inverse arithmetic of convOutput.
func transposedOutput(in Shape2D, u UpsampleSpec) Shape2D {
	return Shape2D{
		Height: (in.Height-1)*u.Stride + u.KernelH - 2*u.Padding,
		Width:  (in.Width-1)*u.Stride + u.KernelW - 2*u.Padding,
	}
}

// encoderStage is one downsampling step as seen by the decoder.
type encoderStage struct {
	name    string
	in, out Shape2D
	stride  int
	padding int
}

func (g *Geometry) encoderStages() []encoderStage {
	c := g.Config
	return []encoderStage{
		{"conv_caps", g.Primary, g.ConvCaps, c.ConvCaps.Stride, c.ConvCaps.Padding},
		{"primary_caps", g.Conv2, g.Primary, c.Primary.Stride, c.Primary.Padding},
		{"conv2", g.Conv1, g.Conv2, c.Conv2.Stride, c.Conv2.Padding},
		{"conv1", g.Input, g.Conv1, c.Conv1.Stride, c.Conv1.Padding},
	}
}

// InverseSchedule derives the transposed convolutions whose outputs retrace
// the encoder shapes exactly, last encoder stage first.
func (g *Geometry) InverseSchedule() []UpsampleSpec {
	stages := g.encoderStages()
	specs := make([]UpsampleSpec, len(stages))
	for i, st := range stages {
		specs[i] = UpsampleSpec{
			KernelH: st.in.Height - (st.out.Height-1)*st.stride + 2*st.padding,
			KernelW: st.in.Width - (st.out.Width-1)*st.stride + 2*st.padding,
			Stride:  st.stride,
			Padding: st.padding,
		}
	}
	return specs
}

func (c ModelConfig) resolveDecoder(g *Geometry) ([]DecoderStage, error) {
	specs := c.Decoder
	if len(specs) == 0 {
		specs = g.InverseSchedule()
	}

	stages := g.encoderStages()
	if len(specs) != len(stages) {
		return nil, fmt.Errorf("%w: decoder has %d stages, encoder has %d", ErrShapeMismatch, len(specs), len(stages))
	}

	resolved := make([]DecoderStage, len(specs))
	cur := g.ConvCaps
	for i, u := range specs {
		if u.KernelH <= 0 || u.KernelW <= 0 || u.Stride <= 0 || u.Padding < 0 {
			return nil, fmt.Errorf("%w: decoder stage %d has kernel %dx%d stride %d padding %d",
				ErrInvalidConfig, i, u.KernelH, u.KernelW, u.Stride, u.Padding)
		}
		out := transposedOutput(cur, u)
		if out != stages[i].in {
			return nil, fmt.Errorf("%w: decoder stage %d produces %s, inverse of %s needs %s",
				ErrShapeMismatch, i, out, stages[i].name, stages[i].in)
		}
		resolved[i] = DecoderStage{UpsampleSpec: u, In: cur, Out: out}
		cur = out
	}
	return resolved, nil
}
