package nn

import (
	"fmt"
	"math/rand"
)

const (
	remakeStddev = 0.1
	remakeBias   = 0.1
)

// RemakeNetwork reconstructs the flattened input image from the class
// capsules. It only feeds the optional reconstruction loss.
type RemakeNetwork struct {
	Layers []*DenseLayer
}

// NewRemakeNetwork stacks ReLU layers of the given hidden sizes and a
// sigmoid output with one unit per image value (channel × pixel).
func NewRemakeNetwork(inputSize int, hidden []int, outputs int, rng *rand.Rand) *RemakeNetwork {
	r := &RemakeNetwork{}
	in := inputSize
	for i, h := range hidden {
		r.Layers = append(r.Layers, InitDenseLayer(fmt.Sprintf("remake/fc%d", i+1), in, h, ActivationReLU, remakeStddev, remakeBias, rng))
		in = h
	}
	r.Layers = append(r.Layers, InitDenseLayer(fmt.Sprintf("remake/fc%d", len(hidden)+1), in, outputs, ActivationSigmoid, remakeStddev, remakeBias, rng))
	return r
}

// Forward flattens the class capsules of every batch element and returns
// the reconstructions laid out [batch][pixel].
func (r *RemakeNetwork) Forward(classCaps *CapsuleTensor) ([]float32, error) {
	if classCaps == nil {
		return nil, fmt.Errorf("%w: remake input is nil", ErrShapeMismatch)
	}
	cur := classCaps.Data
	var err error
	for _, l := range r.Layers {
		if cur, err = l.Forward(cur, classCaps.Batch); err != nil {
			return nil, err
		}
	}
	return cur, nil
}
