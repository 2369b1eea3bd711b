package nn

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// Conv2DBackend runs a convolution forward pass outside the CPU path, for
// example on a GPU. It must return the post-activation output laid out
// [batch][filters][outHeight][outWidth].
type Conv2DBackend interface {
	Conv2DForward(input []float32, layer *Conv2DLayer, batchSize int) ([]float32, error)
}

// Conv2DLayer is a 2D convolution with a square kernel and zero padding.
type Conv2DLayer struct {
	Name       string
	Activation ActivationType

	KernelSize int       // Size of convolution kernel (e.g., 3 for 3x3)
	Stride     int       // Stride for convolution
	Padding    int       // Zero padding on every border
	Filters    int       // Number of output channels
	Kernel     []float32 // Convolution kernel weights [filters][inChannels][kernelH][kernelW]
	Bias       []float32 // Bias terms [filters]

	InputHeight   int
	InputWidth    int
	InputChannels int
	OutputHeight  int
	OutputWidth   int

	// Backend, when set, replaces the CPU forward pass.
	Backend Conv2DBackend
}

// InitConv2DLayer initializes a Conv2D layer with He-initialized weights
func InitConv2DLayer(
	name string,
	inputHeight, inputWidth, inputChannels int,
	kernelSize, stride, padding, filters int,
	activation ActivationType,
	rng *rand.Rand,
) (*Conv2DLayer, error) {
	out, err := convOutput(name, Shape2D{Height: inputHeight, Width: inputWidth}, kernelSize, stride, padding)
	if err != nil {
		return nil, err
	}

	kernel := make([]float32, filters*inputChannels*kernelSize*kernelSize)
	stddev := math.Sqrt(2.0 / float64(inputChannels*kernelSize*kernelSize))
	for i := range kernel {
		kernel[i] = float32(rng.NormFloat64() * stddev)
	}

	return &Conv2DLayer{
		Name:          name,
		Activation:    activation,
		KernelSize:    kernelSize,
		Stride:        stride,
		Padding:       padding,
		Filters:       filters,
		Kernel:        kernel,
		Bias:          make([]float32, filters),
		InputHeight:   inputHeight,
		InputWidth:    inputWidth,
		InputChannels: inputChannels,
		OutputHeight:  out.Height,
		OutputWidth:   out.Width,
	}, nil
}

// InputSize returns the number of input values per batch element.
func (l *Conv2DLayer) InputSize() int { return l.InputChannels * l.InputHeight * l.InputWidth }

// OutputSize returns the number of output values per batch element.
func (l *Conv2DLayer) OutputSize() int { return l.Filters * l.OutputHeight * l.OutputWidth }

// Forward convolves a [batch][inChannels][height][width] input and applies
// the activation.
func (l *Conv2DLayer) Forward(input []float32, batchSize int) ([]float32, error) {
	if len(input) != batchSize*l.InputSize() {
		return nil, fmt.Errorf("%w: %s input holds %d values, want %d", ErrShapeMismatch, l.Name, len(input), batchSize*l.InputSize())
	}
	if l.Backend != nil {
		out, err := l.Backend.Conv2DForward(input, l, batchSize)
		if err != nil {
			return nil, fmt.Errorf("%s backend forward: %w", l.Name, err)
		}
		if len(out) != batchSize*l.OutputSize() {
			return nil, fmt.Errorf("%w: %s backend returned %d values, want %d", ErrShapeMismatch, l.Name, len(out), batchSize*l.OutputSize())
		}
		return out, nil
	}
	return conv2DForwardCPU(input, l, batchSize), nil
}

// conv2DForwardCPU lowers each image with im2col and multiplies it by the
// kernel matrix: out[filters][outHW] = kernel[filters][inC*k*k] · cols[inC*k*k][outHW].
func conv2DForwardCPU(input []float32, l *Conv2DLayer, batchSize int) []float32 {
	k := l.KernelSize
	patch := l.InputChannels * k * k
	outHW := l.OutputHeight * l.OutputWidth

	output := make([]float32, batchSize*l.OutputSize())
	cols := make([]float32, patch*outHW)
	weights := blas32.General{Rows: l.Filters, Cols: patch, Stride: patch, Data: l.Kernel}

	for b := 0; b < batchSize; b++ {
		im2col(input[b*l.InputSize():(b+1)*l.InputSize()], cols, l)

		out := output[b*l.OutputSize() : (b+1)*l.OutputSize()]
		for f := 0; f < l.Filters; f++ {
			plane := out[f*outHW : (f+1)*outHW]
			for i := range plane {
				plane[i] = l.Bias[f]
			}
		}
		blas32.Gemm(blas.NoTrans, blas.NoTrans, 1,
			weights,
			blas32.General{Rows: patch, Cols: outHW, Stride: outHW, Data: cols},
			1,
			blas32.General{Rows: l.Filters, Cols: outHW, Stride: outHW, Data: out},
		)
		activateSlice(out, l.Activation)
	}
	return output
}

// im2col writes one image's receptive fields as columns: row (c, kh, kw),
// column (oh, ow). Out-of-bounds taps read zero.
func im2col(img, cols []float32, l *Conv2DLayer) {
	k := l.KernelSize
	outHW := l.OutputHeight * l.OutputWidth
	for c := 0; c < l.InputChannels; c++ {
		for kh := 0; kh < k; kh++ {
			for kw := 0; kw < k; kw++ {
				row := cols[((c*k+kh)*k+kw)*outHW:]
				for oh := 0; oh < l.OutputHeight; oh++ {
					ih := oh*l.Stride + kh - l.Padding
					for ow := 0; ow < l.OutputWidth; ow++ {
						iw := ow*l.Stride + kw - l.Padding
						v := float32(0)
						if ih >= 0 && ih < l.InputHeight && iw >= 0 && iw < l.InputWidth {
							v = img[(c*l.InputHeight+ih)*l.InputWidth+iw]
						}
						row[oh*l.OutputWidth+ow] = v
					}
				}
			}
		}
	}
}

// ConvTranspose2DLayer is a transposed convolution (fractionally strided
// convolution) with a rectangular kernel.
type ConvTranspose2DLayer struct {
	Name       string
	Activation ActivationType

	KernelH int
	KernelW int
	Stride  int
	Padding int       // Cells cropped from every border of the output
	Filters int       // Number of output channels
	Kernel  []float32 // [inChannels][filters][kernelH][kernelW]
	Bias    []float32 // [filters]

	InputHeight   int
	InputWidth    int
	InputChannels int
	OutputHeight  int
	OutputWidth   int
}

// InitConvTranspose2DLayer initializes a transposed convolution with
// He-initialized weights.
func InitConvTranspose2DLayer(
	name string,
	inputHeight, inputWidth, inputChannels int,
	spec UpsampleSpec, filters int,
	activation ActivationType,
	rng *rand.Rand,
) *ConvTranspose2DLayer {
	out := transposedOutput(Shape2D{Height: inputHeight, Width: inputWidth}, spec)

	kernel := make([]float32, inputChannels*filters*spec.KernelH*spec.KernelW)
	stddev := math.Sqrt(2.0 / float64(inputChannels*spec.KernelH*spec.KernelW))
	for i := range kernel {
		kernel[i] = float32(rng.NormFloat64() * stddev)
	}

	return &ConvTranspose2DLayer{
		Name:          name,
		Activation:    activation,
		KernelH:       spec.KernelH,
		KernelW:       spec.KernelW,
		Stride:        spec.Stride,
		Padding:       spec.Padding,
		Filters:       filters,
		Kernel:        kernel,
		Bias:          make([]float32, filters),
		InputHeight:   inputHeight,
		InputWidth:    inputWidth,
		InputChannels: inputChannels,
		OutputHeight:  out.Height,
		OutputWidth:   out.Width,
	}
}

// InputSize returns the number of input values per batch element.
func (l *ConvTranspose2DLayer) InputSize() int {
	return l.InputChannels * l.InputHeight * l.InputWidth
}

// OutputSize returns the number of output values per batch element.
func (l *ConvTranspose2DLayer) OutputSize() int {
	return l.Filters * l.OutputHeight * l.OutputWidth
}

// Forward upsamples a [batch][inChannels][height][width] input. Every
// input cell scatters kernel-weighted copies of itself into the output; the
// output planes are computed independently per (batch, filter).
func (l *ConvTranspose2DLayer) Forward(input []float32, batchSize int) ([]float32, error) {
	if len(input) != batchSize*l.InputSize() {
		return nil, fmt.Errorf("%w: %s input holds %d values, want %d", ErrShapeMismatch, l.Name, len(input), batchSize*l.InputSize())
	}

	inH, inW := l.InputHeight, l.InputWidth
	outH, outW := l.OutputHeight, l.OutputWidth
	kH, kW := l.KernelH, l.KernelW
	output := make([]float32, batchSize*l.OutputSize())

	parallelFor(batchSize*l.Filters, func(i int) {
		b, f := i/l.Filters, i%l.Filters
		plane := output[(b*l.Filters+f)*outH*outW : (b*l.Filters+f+1)*outH*outW]
		for p := range plane {
			plane[p] = l.Bias[f]
		}

		for c := 0; c < l.InputChannels; c++ {
			kernel := l.Kernel[(c*l.Filters+f)*kH*kW : (c*l.Filters+f+1)*kH*kW]
			in := input[(b*l.InputChannels+c)*inH*inW : (b*l.InputChannels+c+1)*inH*inW]
			for ih := 0; ih < inH; ih++ {
				for iw := 0; iw < inW; iw++ {
					v := in[ih*inW+iw]
					if v == 0 {
						continue
					}
					for kh := 0; kh < kH; kh++ {
						oh := ih*l.Stride + kh - l.Padding
						if oh < 0 || oh >= outH {
							continue
						}
						for kw := 0; kw < kW; kw++ {
							ow := iw*l.Stride + kw - l.Padding
							if ow < 0 || ow >= outW {
								continue
							}
							plane[oh*outW+ow] += v * kernel[kh*kW+kw]
						}
					}
				}
			}
		}
		activateSlice(plane, l.Activation)
	})
	return output, nil
}
