package nn

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// transformStddev is the initial spread of capsule transformation weights.
const transformStddev = 0.1

// ConvCapsuleLayer routes capsules from a local receptive field to the
// capsule types of every output cell.
//
// Transformation weights are locally connected: one OutDim×InDim matrix per
// (input type, output type, kernel offset), shared by every output cell.
// Each output cell is routed independently. Its input instances are the
// InTypes×K×K capsules under the kernel; its candidates are the OutTypes
// capsules of that cell.
type ConvCapsuleLayer struct {
	Name string

	InTypes  int
	InDim    int
	OutTypes int
	OutDim   int

	KernelSize int
	Stride     int
	Padding    int
	Iters      int

	InputHeight  int
	InputWidth   int
	OutputHeight int
	OutputWidth  int
	BatchSize    int

	Weights []float32 // [inType][outType][kh][kw][outDim][inDim]

	votes []float32 // [batch][outCell][input][outType][outDim]
}

// InitConvCapsuleLayer allocates weights and the vote buffer for a fixed
// batch size and input grid.
func InitConvCapsuleLayer(name string, batchSize int, in Shape2D, inTypes, inDim int, spec CapsuleSpec, iters int, rng *rand.Rand) (*ConvCapsuleLayer, error) {
	if iters <= 0 {
		return nil, fmt.Errorf("%w: %s routing iterations must be positive, got %d", ErrInvalidConfig, name, iters)
	}
	out, err := convOutput(name, in, spec.KernelSize, spec.Stride, spec.Padding)
	if err != nil {
		return nil, err
	}

	k := spec.KernelSize
	l := &ConvCapsuleLayer{
		Name:         name,
		InTypes:      inTypes,
		InDim:        inDim,
		OutTypes:     spec.Capsules,
		OutDim:       spec.VectorDim,
		KernelSize:   k,
		Stride:       spec.Stride,
		Padding:      spec.Padding,
		Iters:        iters,
		InputHeight:  in.Height,
		InputWidth:   in.Width,
		OutputHeight: out.Height,
		OutputWidth:  out.Width,
		BatchSize:    batchSize,
		Weights:      make([]float32, inTypes*spec.Capsules*k*k*spec.VectorDim*inDim),
	}
	fillTruncatedNormal(l.Weights, rng, transformStddev)
	l.votes = make([]float32, batchSize*l.VoteElems())
	return l, nil
}

// GroupInputs returns the number of input instances routed at one output cell.
func (l *ConvCapsuleLayer) GroupInputs() int { return l.InTypes * l.KernelSize * l.KernelSize }

// VoteElems returns the vote tensor size for one batch element.
func (l *ConvCapsuleLayer) VoteElems() int {
	return l.OutputHeight * l.OutputWidth * l.groupSize()
}

func (l *ConvCapsuleLayer) groupSize() int {
	return l.GroupInputs() * l.OutTypes * l.OutDim
}

func (l *ConvCapsuleLayer) weight(inType, outType, kh, kw int) blas32.General {
	k := l.KernelSize
	size := l.OutDim * l.InDim
	off := (((inType*l.OutTypes+outType)*k+kh)*k + kw) * size
	return blas32.General{Rows: l.OutDim, Cols: l.InDim, Stride: l.InDim, Data: l.Weights[off : off+size]}
}

// Forward computes votes for every output cell and routes them.
func (l *ConvCapsuleLayer) Forward(in *CapsuleTensor, obs RoutingObserver) (*CapsuleTensor, error) {
	in2 := Shape2D{Height: l.InputHeight, Width: l.InputWidth}
	if err := in.check(l.BatchSize, l.InTypes, in2, l.InDim, l.Name+" input"); err != nil {
		return nil, err
	}

	out := NewCapsuleTensor(l.BatchSize, l.OutTypes, l.OutputHeight, l.OutputWidth, l.OutDim)
	cells := l.OutputHeight * l.OutputWidth
	size := l.groupSize()

	parallelFor(l.BatchSize*cells, func(gi int) {
		b, cell := gi/cells, gi%cells
		oy, ox := cell/l.OutputWidth, cell%l.OutputWidth

		group := routingGroup{
			votes:      l.votes[gi*size : (gi+1)*size],
			inputs:     l.GroupInputs(),
			candidates: l.OutTypes,
			dim:        l.OutDim,
		}
		l.castVotes(in, b, oy, ox, group)

		coupling := make([]float32, group.inputs*group.candidates)
		state := routeByAgreement(group, l.Iters, coupling, routingObserveFunc(obs, l.Name, gi, group, coupling))

		for ot := 0; ot < l.OutTypes; ot++ {
			copy(out.Vector(b, ot, oy, ox), state.estimate[ot*l.OutDim:(ot+1)*l.OutDim])
		}
	})
	return out, nil
}

// castVotes fills group.votes for output cell (oy, ox). Kernel taps that
// fall in the zero padding vote the zero vector.
func (l *ConvCapsuleLayer) castVotes(in *CapsuleTensor, b, oy, ox int, group routingGroup) {
	k := l.KernelSize
	for it := 0; it < l.InTypes; it++ {
		for kh := 0; kh < k; kh++ {
			iy := oy*l.Stride + kh - l.Padding
			for kw := 0; kw < k; kw++ {
				ix := ox*l.Stride + kw - l.Padding
				i := (it*k+kh)*k + kw
				inside := iy >= 0 && iy < l.InputHeight && ix >= 0 && ix < l.InputWidth

				for ot := 0; ot < l.OutTypes; ot++ {
					v := group.vote(i, ot)
					if !inside {
						for d := range v {
							v[d] = 0
						}
						continue
					}
					blas32.Gemv(blas.NoTrans, 1, l.weight(it, ot, kh, kw), blasVector(in.Vector(b, it, iy, ix)), 0, blasVector(v))
				}
			}
		}
	}
}
