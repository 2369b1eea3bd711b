package nn

import (
	"fmt"
	"strings"
)

// ModelTelemetry is a static description of a built model: every layer in
// forward order with its resolved shapes and parameter count.
type ModelTelemetry struct {
	ID           string           `json:"id"`
	TotalLayers  int              `json:"total_layers"`
	TotalParams  int              `json:"total_parameters"`
	RoutingIters int              `json:"routing_iterations"`
	VoteBuffer   int              `json:"vote_buffer"`
	Layers       []LayerTelemetry `json:"layers"`
}

// LayerTelemetry describes one layer. Shapes include the batch dimension.
type LayerTelemetry struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Activation  string `json:"activation,omitempty"`
	Parameters  int    `json:"parameters"`
	InputShape  []int  `json:"input_shape"`
	OutputShape []int  `json:"output_shape"`
	Detail      string `json:"detail,omitempty"`
}

// Blueprint walks the model in forward order. Pass-through stages (input,
// logits) are listed with zero parameters so the shapes chain.
func (m *Model) Blueprint() ModelTelemetry {
	cfg, g := m.Config, m.Geometry
	b := cfg.BatchSize

	params := make(map[string]int)
	for _, t := range m.Tensors() {
		layer := t.Name
		if i := strings.LastIndex(t.Name, "."); i >= 0 {
			layer = t.Name[:i]
		}
		params[layer] += len(t.Values)
	}

	input := []int{b, cfg.ImageChannels, g.Input.Height, g.Input.Width}
	var layers []LayerTelemetry
	add := func(l LayerTelemetry) {
		l.Parameters = params[l.Name]
		layers = append(layers, l)
	}

	c1, c2 := m.Features.Conv1, m.Features.Conv2
	add(LayerTelemetry{Name: "input", Type: "input", InputShape: input, OutputShape: input})
	add(LayerTelemetry{
		Name: c1.Name, Type: "conv2d", Activation: activationName(c1.Activation),
		InputShape:  input,
		OutputShape: []int{b, c1.Filters, c1.OutputHeight, c1.OutputWidth},
		Detail:      fmt.Sprintf("%dx%d/%d", c1.KernelSize, c1.KernelSize, c1.Stride),
	})
	add(LayerTelemetry{
		Name: c2.Name, Type: "conv2d", Activation: activationName(c2.Activation),
		InputShape:  []int{b, c1.Filters, c1.OutputHeight, c1.OutputWidth},
		OutputShape: []int{b, c2.Filters, c2.OutputHeight, c2.OutputWidth},
		Detail:      fmt.Sprintf("%dx%d/%d", c2.KernelSize, c2.KernelSize, c2.Stride),
	})

	primary := []int{b, cfg.Primary.Capsules, g.Primary.Height, g.Primary.Width, cfg.Primary.VectorDim}
	add(LayerTelemetry{
		Name: m.Primary.Conv.Name, Type: "primary_capsules", Activation: "squash",
		InputShape:  []int{b, c2.Filters, c2.OutputHeight, c2.OutputWidth},
		OutputShape: primary,
		Detail:      fmt.Sprintf("%dx%d/%d", cfg.Primary.KernelSize, cfg.Primary.KernelSize, cfg.Primary.Stride),
	})

	convCaps := []int{b, cfg.ConvCaps.Capsules, g.ConvCaps.Height, g.ConvCaps.Width, cfg.ConvCaps.VectorDim}
	add(LayerTelemetry{
		Name: m.ConvCaps.Name, Type: "conv_capsules", Activation: "squash",
		InputShape:  primary,
		OutputShape: convCaps,
		Detail:      fmt.Sprintf("%dx%d/%d, %d routing iterations", cfg.ConvCaps.KernelSize, cfg.ConvCaps.KernelSize, cfg.ConvCaps.Stride, cfg.RoutingIters),
	})

	class := []int{b, cfg.NumClasses, cfg.ClassVectorDim}
	add(LayerTelemetry{
		Name: m.ClassCaps.Name, Type: "class_capsules", Activation: "squash",
		InputShape:  convCaps,
		OutputShape: class,
		Detail:      fmt.Sprintf("%d routing iterations", cfg.RoutingIters),
	})

	in := []int{b, cfg.NumClasses, g.ConvCaps.Height, g.ConvCaps.Width}
	for i, st := range m.Decoder.Stages {
		ds := g.Decoder[i]
		out := []int{b, cfg.NumClasses, ds.Out.Height, ds.Out.Width}
		add(LayerTelemetry{
			Name: st.Name, Type: "conv_transpose2d", Activation: activationName(st.Activation),
			InputShape:  in,
			OutputShape: out,
			Detail:      fmt.Sprintf("%dx%d/%d", ds.KernelH, ds.KernelW, ds.Stride),
		})
		in = out
	}
	add(LayerTelemetry{
		Name: "logits", Type: "logits",
		InputShape:  in,
		OutputShape: []int{b, g.Input.Height, g.Input.Width, cfg.NumClasses},
	})

	if m.Remake != nil {
		prev := []int{b, cfg.NumClasses * cfg.ClassVectorDim}
		for _, l := range m.Remake.Layers {
			out := []int{b, l.OutputSize}
			add(LayerTelemetry{
				Name: l.Name, Type: "dense", Activation: activationName(l.Activation),
				InputShape:  prev,
				OutputShape: out,
			})
			prev = out
		}
	}

	return ModelTelemetry{
		ID:           m.ID,
		TotalLayers:  len(layers),
		TotalParams:  m.ParameterCount(),
		RoutingIters: cfg.RoutingIters,
		VoteBuffer:   g.VoteElems * b,
		Layers:       layers,
	}
}

func activationName(a ActivationType) string {
	switch a {
	case ActivationReLU:
		return "relu"
	case ActivationSigmoid:
		return "sigmoid"
	case ActivationLinear:
		return "linear"
	default:
		return fmt.Sprintf("activation(%d)", int(a))
	}
}
