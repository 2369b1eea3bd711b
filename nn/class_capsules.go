package nn

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// ClassCapsuleLayer routes every capsule instance of its input grid to one
// capsule per class. Each (input slot, class) pair owns its own
// transformation matrix.
type ClassCapsuleLayer struct {
	Name string

	Inputs    int // input capsule instances per batch element
	InDim     int
	Classes   int
	OutDim    int
	Iters     int
	BatchSize int

	Weights []float32 // [input][class][outDim][inDim]

	votes []float32 // [batch][input][class][outDim]
}

// InitClassCapsuleLayer allocates weights and the vote buffer.
func InitClassCapsuleLayer(name string, batchSize, inputs, inDim, classes, outDim, iters int, rng *rand.Rand) (*ClassCapsuleLayer, error) {
	if iters <= 0 {
		return nil, fmt.Errorf("%w: %s routing iterations must be positive, got %d", ErrInvalidConfig, name, iters)
	}
	l := &ClassCapsuleLayer{
		Name:      name,
		Inputs:    inputs,
		InDim:     inDim,
		Classes:   classes,
		OutDim:    outDim,
		Iters:     iters,
		BatchSize: batchSize,
		Weights:   make([]float32, inputs*classes*outDim*inDim),
	}
	fillTruncatedNormal(l.Weights, rng, transformStddev)
	l.votes = make([]float32, batchSize*inputs*classes*outDim)
	return l, nil
}

func (l *ClassCapsuleLayer) weight(input, class int) blas32.General {
	size := l.OutDim * l.InDim
	off := (input*l.Classes + class) * size
	return blas32.General{Rows: l.OutDim, Cols: l.InDim, Stride: l.InDim, Data: l.Weights[off : off+size]}
}

// Forward returns the class capsules, shaped (batch, classes, 1, 1, OutDim),
// and the final coupling coefficients of every input instance.
func (l *ClassCapsuleLayer) Forward(in *CapsuleTensor, obs RoutingObserver) (*CapsuleTensor, *CouplingMap, error) {
	if in == nil {
		return nil, nil, fmt.Errorf("%w: %s input is nil", ErrShapeMismatch, l.Name)
	}
	if in.Batch != l.BatchSize || in.Instances() != l.Inputs || in.Dim != l.InDim || len(in.Data) != l.BatchSize*l.Inputs*l.InDim {
		return nil, nil, fmt.Errorf("%w: %s input is %v, want %d instances of dim %d per element over batch %d",
			ErrShapeMismatch, l.Name, in.Shape(), l.Inputs, l.InDim, l.BatchSize)
	}

	// Votes: one Gemv per (batch, input, class).
	parallelFor(l.BatchSize*l.Inputs, func(bi int) {
		u := in.Data[bi*l.InDim : (bi+1)*l.InDim]
		input := bi % l.Inputs
		for c := 0; c < l.Classes; c++ {
			off := (bi*l.Classes + c) * l.OutDim
			blas32.Gemv(blas.NoTrans, 1, l.weight(input, c), blasVector(u), 0, blasVector(l.votes[off:off+l.OutDim]))
		}
	})

	caps := NewCapsuleTensor(l.BatchSize, l.Classes, 1, 1, l.OutDim)
	coupling := &CouplingMap{
		Batch:   l.BatchSize,
		Inputs:  l.Inputs,
		Classes: l.Classes,
		Data:    make([]float32, l.BatchSize*l.Inputs*l.Classes),
	}

	size := l.Inputs * l.Classes * l.OutDim
	parallelFor(l.BatchSize, func(b int) {
		group := routingGroup{
			votes:      l.votes[b*size : (b+1)*size],
			inputs:     l.Inputs,
			candidates: l.Classes,
			dim:        l.OutDim,
		}
		c := coupling.Data[b*l.Inputs*l.Classes : (b+1)*l.Inputs*l.Classes]
		state := routeByAgreement(group, l.Iters, c, routingObserveFunc(obs, l.Name, b, group, c))
		copy(caps.Data[b*l.Classes*l.OutDim:(b+1)*l.Classes*l.OutDim], state.estimate)
	})
	return caps, coupling, nil
}
