package nn

import (
	"fmt"
	"math/rand"
)

// DecodeProjector turns class routing coefficients into per-pixel class
// logits. Each conv-capsule cell contributes its class coupling scaled by its
// presence; the coarse map is then upsampled by a cascade of transposed
// convolutions back to the image resolution.
type DecodeProjector struct {
	Types   int
	Grid    Shape2D
	Classes int
	Image   Shape2D

	Stages []*ConvTranspose2DLayer
}

// NewDecodeProjector builds one transposed convolution per resolved decoder
// stage, each with Classes output channels.
func NewDecodeProjector(g *Geometry, rng *rand.Rand) (*DecodeProjector, error) {
	if len(g.Decoder) == 0 {
		return nil, fmt.Errorf("%w: decoder has no stages", ErrInvalidConfig)
	}
	c := g.Config
	d := &DecodeProjector{
		Types:   c.ConvCaps.Capsules,
		Grid:    g.ConvCaps,
		Classes: c.NumClasses,
		Image:   g.Input,
	}
	for i, st := range g.Decoder {
		layer := InitConvTranspose2DLayer(fmt.Sprintf("deconv%d", i+1),
			st.In.Height, st.In.Width, c.NumClasses,
			st.UpsampleSpec, c.NumClasses, ActivationReLU, rng)
		d.Stages = append(d.Stages, layer)
	}
	last := d.Stages[len(d.Stages)-1]
	if last.OutputHeight != g.Input.Height || last.OutputWidth != g.Input.Width {
		return nil, fmt.Errorf("%w: decoder ends at %dx%d, image is %s",
			ErrShapeMismatch, last.OutputHeight, last.OutputWidth, g.Input)
	}
	return d, nil
}

// ClassMap computes Σ_t coupling[b][t,y,x][c] · ‖caps[b][t][y][x]‖, laid out
// [batch][class][row][col] for the transposed convolutions.
func (d *DecodeProjector) ClassMap(caps *CapsuleTensor, coupling *CouplingMap) (*FeatureMap, error) {
	if caps == nil || coupling == nil {
		return nil, fmt.Errorf("%w: decoder input is nil", ErrShapeMismatch)
	}
	if caps.Types != d.Types || caps.Height != d.Grid.Height || caps.Width != d.Grid.Width {
		return nil, fmt.Errorf("%w: decoder capsules are %v, want %d types over %s",
			ErrShapeMismatch, caps.Shape(), d.Types, d.Grid)
	}
	if coupling.Batch != caps.Batch || coupling.Inputs != caps.Instances() || coupling.Classes != d.Classes {
		return nil, fmt.Errorf("%w: coupling map is (%d, %d, %d), want (%d, %d, %d)", ErrShapeMismatch,
			coupling.Batch, coupling.Inputs, coupling.Classes, caps.Batch, caps.Instances(), d.Classes)
	}

	presence := caps.Norms()
	cells := d.Grid.Cells()
	out := NewFeatureMap(caps.Batch, d.Classes, d.Grid.Height, d.Grid.Width)

	parallelFor(caps.Batch, func(b int) {
		plane := out.Data[b*d.Classes*cells : (b+1)*d.Classes*cells]
		for t := 0; t < d.Types; t++ {
			for cell := 0; cell < cells; cell++ {
				input := t*cells + cell
				p := presence[b*caps.Instances()+input]
				row := coupling.Row(b, input)
				for c, w := range row {
					plane[c*cells+cell] += w * p
				}
			}
		}
	})
	return out, nil
}

// Forward projects and upsamples, returning logits laid out
// [batch][row][col][class].
func (d *DecodeProjector) Forward(caps *CapsuleTensor, coupling *CouplingMap) (*LabelLogits, error) {
	coarse, err := d.ClassMap(caps, coupling)
	if err != nil {
		return nil, err
	}

	cur := coarse.Data
	for _, st := range d.Stages {
		if cur, err = st.Forward(cur, caps.Batch); err != nil {
			return nil, fmt.Errorf("decode projector: %w", err)
		}
	}

	last := d.Stages[len(d.Stages)-1]
	h, w := last.OutputHeight, last.OutputWidth
	if h != d.Image.Height || w != d.Image.Width {
		return nil, fmt.Errorf("%w: decoded %dx%d, image is %s", ErrShapeMismatch, h, w, d.Image)
	}

	logits := &LabelLogits{
		Batch:   caps.Batch,
		Height:  h,
		Width:   w,
		Classes: d.Classes,
		Data:    make([]float32, caps.Batch*h*w*d.Classes),
	}
	// [b][c][y][x] -> [b][y][x][c]
	for b := 0; b < caps.Batch; b++ {
		for c := 0; c < d.Classes; c++ {
			plane := cur[(b*d.Classes+c)*h*w : (b*d.Classes+c+1)*h*w]
			for p, v := range plane {
				logits.Data[(b*h*w+p)*d.Classes+c] = v
			}
		}
	}
	return logits, nil
}
