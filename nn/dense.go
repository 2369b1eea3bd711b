package nn

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// DenseLayer is a fully-connected layer.
type DenseLayer struct {
	Name       string
	Activation ActivationType
	InputSize  int
	OutputSize int
	Weights    []float32 // [inputSize][outputSize]
	Bias       []float32 // [outputSize]
}

// InitDenseLayer initializes a dense layer with truncated-normal weights
// and constant biases.
func InitDenseLayer(name string, inputSize, outputSize int, activation ActivationType, stddev float64, bias float32, rng *rand.Rand) *DenseLayer {
	l := &DenseLayer{
		Name:       name,
		Activation: activation,
		InputSize:  inputSize,
		OutputSize: outputSize,
		Weights:    make([]float32, inputSize*outputSize),
		Bias:       make([]float32, outputSize),
	}
	fillTruncatedNormal(l.Weights, rng, stddev)
	fillConstant(l.Bias, bias)
	return l
}

// Forward computes act(input · weights + bias) for a [batch][inputSize] input.
func (l *DenseLayer) Forward(input []float32, batchSize int) ([]float32, error) {
	if len(input) != batchSize*l.InputSize {
		return nil, fmt.Errorf("%w: %s input holds %d values, want %d", ErrShapeMismatch, l.Name, len(input), batchSize*l.InputSize)
	}

	output := make([]float32, batchSize*l.OutputSize)
	for b := 0; b < batchSize; b++ {
		copy(output[b*l.OutputSize:(b+1)*l.OutputSize], l.Bias)
	}
	blas32.Gemm(blas.NoTrans, blas.NoTrans, 1,
		blas32.General{Rows: batchSize, Cols: l.InputSize, Stride: l.InputSize, Data: input},
		blas32.General{Rows: l.InputSize, Cols: l.OutputSize, Stride: l.OutputSize, Data: l.Weights},
		1,
		blas32.General{Rows: batchSize, Cols: l.OutputSize, Stride: l.OutputSize, Data: output},
	)
	activateSlice(output, l.Activation)
	return output, nil
}
