package nn

import (
	"fmt"
	"math/rand"
)

// PrimaryCapsuleLayer groups the channels of a linear convolution into pose
// vectors. Channel t*VectorDim+d becomes component d of capsule type t.
type PrimaryCapsuleLayer struct {
	Name      string
	Conv      *Conv2DLayer
	Capsules  int
	VectorDim int
}

// NewPrimaryCapsuleLayer builds the grouping convolution over a feature map
// of the given shape.
func NewPrimaryCapsuleLayer(name string, in Shape2D, inChannels int, spec CapsuleSpec, rng *rand.Rand) (*PrimaryCapsuleLayer, error) {
	conv, err := InitConv2DLayer(name,
		in.Height, in.Width, inChannels,
		spec.KernelSize, spec.Stride, spec.Padding, spec.Capsules*spec.VectorDim,
		ActivationLinear, rng)
	if err != nil {
		return nil, err
	}
	return &PrimaryCapsuleLayer{
		Name:      name,
		Conv:      conv,
		Capsules:  spec.Capsules,
		VectorDim: spec.VectorDim,
	}, nil
}

// Forward convolves, reshapes into capsules and squashes every pose vector.
func (l *PrimaryCapsuleLayer) Forward(features *FeatureMap) (*CapsuleTensor, error) {
	if features == nil {
		return nil, fmt.Errorf("%w: %s input is nil", ErrShapeMismatch, l.Name)
	}
	in := Shape2D{Height: l.Conv.InputHeight, Width: l.Conv.InputWidth}
	if err := features.check(features.Batch, l.Conv.InputChannels, in, l.Name+" input"); err != nil {
		return nil, err
	}

	flat, err := l.Conv.Forward(features.Data, features.Batch)
	if err != nil {
		return nil, err
	}

	outH, outW := l.Conv.OutputHeight, l.Conv.OutputWidth
	caps := NewCapsuleTensor(features.Batch, l.Capsules, outH, outW, l.VectorDim)
	cells := outH * outW
	parallelFor(features.Batch*l.Capsules, func(i int) {
		b, t := i/l.Capsules, i%l.Capsules
		for y := 0; y < outH; y++ {
			for x := 0; x < outW; x++ {
				v := caps.Vector(b, t, y, x)
				for d := range v {
					ch := t*l.VectorDim + d
					v[d] = flat[(b*l.Conv.Filters+ch)*cells+y*outW+x]
				}
				Squash(v, v)
			}
		}
	})
	return caps, nil
}
