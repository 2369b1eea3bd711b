package nn

import (
	"fmt"
	"math"
	"sort"
)

// Default weights of the loss terms.
const (
	DefaultDecodeWeight = 5
	DefaultRemakeWeight = 0.05
	DefaultMarginWeight = 10
)

// Names of the loss terms.
const (
	DecodeLossName = "decode_loss"
	RemakeLossName = "remake_loss"
	MarginLossName = "margin_loss"
)

// LossInputs carries everything a loss term may read.
type LossInputs struct {
	Images *FeatureMap
	Labels *LabelMap
	Output *Output
}

// LossComponent computes one weighted scalar loss term.
type LossComponent interface {
	Name() string
	Compute(in LossInputs) (float32, error)
}

// Losses maps loss term names to their weighted values.
type Losses map[string]float32

// Total returns the sum of all terms.
func (l Losses) Total() float32 {
	var sum float64
	for _, v := range l {
		sum += float64(v)
	}
	return float32(sum)
}

// Names returns the term names in sorted order.
func (l Losses) Names() []string {
	names := make([]string, 0, len(l))
	for n := range l {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// DecodeLoss is the weighted mean pixel-wise softmax cross-entropy between
// the decoded logits and the ground-truth labels.
type DecodeLoss struct {
	Weight float32
}

func (DecodeLoss) Name() string { return DecodeLossName }

func (d DecodeLoss) Compute(in LossInputs) (float32, error) {
	if in.Output == nil || in.Output.Logits == nil || in.Labels == nil {
		return 0, fmt.Errorf("%s: logits and labels are required", DecodeLossName)
	}
	logits, labels := in.Output.Logits, in.Labels
	if logits.Batch != labels.Batch || logits.Height != labels.Height || logits.Width != labels.Width {
		return 0, fmt.Errorf("%w: %s logits %v, labels (%d, %d, %d)", ErrShapeMismatch, DecodeLossName,
			logits.Shape(), labels.Batch, labels.Height, labels.Width)
	}

	var sum float64
	for p, label := range labels.Labels {
		if int(label) >= logits.Classes {
			return 0, fmt.Errorf("%w: %s label %d at pixel %d, model has %d classes", ErrShapeMismatch, DecodeLossName, label, p, logits.Classes)
		}
		row := logits.Data[p*logits.Classes : (p+1)*logits.Classes]
		sum += logSumExp(row) - float64(row[label])
	}
	mean := sum / float64(len(labels.Labels))
	return float32(float64(d.Weight) * mean), nil
}

// RemakeLoss is the weighted batch mean of the summed squared distance
// between every flattened image and its reconstruction.
type RemakeLoss struct {
	Weight float32
}

func (RemakeLoss) Name() string { return RemakeLossName }

func (r RemakeLoss) Compute(in LossInputs) (float32, error) {
	if in.Output == nil || in.Output.Remakes == nil {
		return 0, fmt.Errorf("%s: model was built without the remake network", RemakeLossName)
	}
	if in.Images == nil {
		return 0, fmt.Errorf("%s: images are required", RemakeLossName)
	}
	if len(in.Images.Data) != len(in.Output.Remakes) {
		return 0, fmt.Errorf("%w: %s images hold %d values, remakes %d", ErrShapeMismatch, RemakeLossName,
			len(in.Images.Data), len(in.Output.Remakes))
	}

	var sum float64
	for i, x := range in.Images.Data {
		d := float64(x - in.Output.Remakes[i])
		sum += d * d
	}
	return float32(float64(r.Weight) * sum / float64(in.Images.Batch)), nil
}

// MarginLoss is the weighted mean squared difference between the fraction
// of pixels of each class and the norm of that class capsule.
type MarginLoss struct {
	Weight float32
}

func (MarginLoss) Name() string { return MarginLossName }

func (m MarginLoss) Compute(in LossInputs) (float32, error) {
	if in.Output == nil || in.Output.ClassCapsules == nil || in.Labels == nil {
		return 0, fmt.Errorf("%s: class capsules and labels are required", MarginLossName)
	}
	caps, labels := in.Output.ClassCapsules, in.Labels
	if caps.Batch != labels.Batch {
		return 0, fmt.Errorf("%w: %s capsules batch %d, labels batch %d", ErrShapeMismatch, MarginLossName, caps.Batch, labels.Batch)
	}

	classes := caps.Instances()
	norms := caps.Norms()
	pixels := labels.Height * labels.Width
	counts := make([]int, classes)

	var sum float64
	for b := 0; b < caps.Batch; b++ {
		for c := range counts {
			counts[c] = 0
		}
		for p, label := range labels.Image(b) {
			if int(label) >= classes {
				return 0, fmt.Errorf("%w: %s label %d at pixel %d of image %d, model has %d classes",
					ErrShapeMismatch, MarginLossName, label, p, b, classes)
			}
			counts[label]++
		}
		for c, n := range counts {
			d := float64(n)/float64(pixels) - float64(norms[b*classes+c])
			sum += d * d
		}
	}
	mean := sum / float64(caps.Batch*classes)
	return float32(float64(m.Weight) * mean), nil
}

// LossOptions selects the loss terms. Only the decode loss is on by
// default; zero weights fall back to the defaults.
type LossOptions struct {
	Remake bool
	Margin bool

	DecodeWeight float32
	RemakeWeight float32
	MarginWeight float32
}

// LossAssembler evaluates a fixed set of loss terms.
type LossAssembler struct {
	Components []LossComponent
}

// NewLossAssembler builds the terms selected by opts.
func NewLossAssembler(opts LossOptions) *LossAssembler {
	a := &LossAssembler{
		Components: []LossComponent{DecodeLoss{Weight: orDefault(opts.DecodeWeight, DefaultDecodeWeight)}},
	}
	if opts.Remake {
		a.Components = append(a.Components, RemakeLoss{Weight: orDefault(opts.RemakeWeight, DefaultRemakeWeight)})
	}
	if opts.Margin {
		a.Components = append(a.Components, MarginLoss{Weight: orDefault(opts.MarginWeight, DefaultMarginWeight)})
	}
	return a
}

// Assemble computes every term. Any failing or non-finite term fails the
// whole call.
func (a *LossAssembler) Assemble(in LossInputs) (Losses, error) {
	losses := make(Losses, len(a.Components))
	for _, c := range a.Components {
		v, err := c.Compute(in)
		if err != nil {
			return nil, err
		}
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return nil, fmt.Errorf("%s is not finite", c.Name())
		}
		losses[c.Name()] = v
	}
	return losses, nil
}

func orDefault(v, def float32) float32 {
	if v == 0 {
		return def
	}
	return v
}
