package nn

import (
	"math"

	"gonum.org/v1/gonum/blas/blas32"
)

// ActivationType defines the activation function used after a layer
type ActivationType int

const (
	ActivationLinear  ActivationType = 0 // v
	ActivationReLU    ActivationType = 1 // max(0, v)
	ActivationSigmoid ActivationType = 2 // 1 / (1 + exp(-v))
)

func (a ActivationType) String() string {
	switch a {
	case ActivationReLU:
		return "relu"
	case ActivationSigmoid:
		return "sigmoid"
	default:
		return "linear"
	}
}

// activateCPU applies the activation function on CPU
func activateCPU(v float32, activation ActivationType) float32 {
	switch activation {
	case ActivationReLU:
		if v < 0 {
			return 0
		}
		return v
	case ActivationSigmoid:
		return 1.0 / (1.0 + float32(math.Exp(float64(-v))))
	default:
		return v
	}
}

// activateSlice applies the activation in place.
func activateSlice(v []float32, activation ActivationType) {
	if activation == ActivationLinear {
		return
	}
	for i, x := range v {
		v[i] = activateCPU(x, activation)
	}
}

const (
	// squashEpsilon keeps the direction division finite for zero vectors.
	squashEpsilon = 1e-9
	// maxPresence keeps squashed norms strictly inside the unit ball even
	// when ‖v‖²/(1+‖v‖²) rounds to 1 in float32.
	maxPresence = 1 - 1e-6
)

func blasVector(v []float32) blas32.Vector {
	return blas32.Vector{N: len(v), Data: v, Inc: 1}
}

func vectorNorm(v []float32) float32 {
	if len(v) == 0 {
		return 0
	}
	return blas32.Nrm2(blasVector(v))
}

func dot(a, b []float32) float32 {
	if len(a) == 0 {
		return 0
	}
	return blas32.Dot(blasVector(a), blasVector(b))
}

// Squash writes squash(v) = (‖v‖²/(1+‖v‖²)) · v/‖v‖ into dst. The result has
// norm in [0, 1) and the direction of v; a zero vector maps to zero.
// dst and v may alias.
func Squash(dst, v []float32) {
	n := float64(vectorNorm(v))
	n2 := n * n
	presence := n2 / (1 + n2)
	if presence > maxPresence {
		presence = maxPresence
	}
	scale := presence / math.Sqrt(n2+squashEpsilon)
	for i, x := range v {
		dst[i] = float32(float64(x) * scale)
	}
}

// squashAll squashes consecutive dim-sized vectors of data in place.
func squashAll(data []float32, dim int) {
	for off := 0; off+dim <= len(data); off += dim {
		v := data[off : off+dim]
		Squash(v, v)
	}
}
