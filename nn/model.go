package nn

import (
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/google/uuid"
)

// Model is a configured capsule segmentation network. Batch size and every
// shape are fixed at construction.
//
// Vote buffers are allocated once and reused by Forward, so a Model must not
// run concurrent Forward calls. Forward itself is deterministic.
type Model struct {
	ID       string
	Config   ModelConfig
	Geometry *Geometry

	Features  *FeatureExtractor
	Primary   *PrimaryCapsuleLayer
	ConvCaps  *ConvCapsuleLayer
	ClassCaps *ClassCapsuleLayer
	Decoder   *DecodeProjector
	Remake    *RemakeNetwork // nil unless Config.Remake

	logger   *slog.Logger
	observer RoutingObserver
	backend  Conv2DBackend
}

// Output holds everything one forward pass produces.
type Output struct {
	ClassCapsules *CapsuleTensor // (batch, classes, 1, 1, class dim)
	ConvCapsules  *CapsuleTensor
	Coupling      *CouplingMap
	Logits        *LabelLogits
	Remakes       []float32 // [batch][channel][row][col], nil unless the remake network is built
}

// Option customizes a Model.
type Option func(*Model)

// WithLogger sets the logger used for construction diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Model) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithRoutingObserver receives the coupling coefficients of every routing
// iteration of both capsule layers.
func WithRoutingObserver(obs RoutingObserver) Option {
	return func(m *Model) { m.observer = obs }
}

// WithConvBackend runs the scalar convolutions on backend instead of the CPU.
func WithConvBackend(backend Conv2DBackend) Option {
	return func(m *Model) { m.backend = backend }
}

// NewModel resolves cfg, allocates every weight and vote buffer, and
// initializes weights from cfg.Seed.
func NewModel(cfg ModelConfig, opts ...Option) (*Model, error) {
	g, err := cfg.Resolve()
	if err != nil {
		return nil, err
	}

	m := &Model{
		ID:       uuid.NewString(),
		Config:   cfg,
		Geometry: g,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(m)
	}

	rng := rand.New(rand.NewSource(cfg.Seed))

	if m.Features, err = NewFeatureExtractor(cfg, rng); err != nil {
		return nil, fmt.Errorf("build feature extractor: %w", err)
	}
	if m.Primary, err = NewPrimaryCapsuleLayer("primary_caps", g.Conv2, cfg.Conv2.Filters, cfg.Primary, rng); err != nil {
		return nil, fmt.Errorf("build primary capsules: %w", err)
	}
	if m.ConvCaps, err = InitConvCapsuleLayer("conv_caps", cfg.BatchSize, g.Primary,
		cfg.Primary.Capsules, cfg.Primary.VectorDim, cfg.ConvCaps, cfg.RoutingIters, rng); err != nil {
		return nil, fmt.Errorf("build conv capsules: %w", err)
	}
	if m.ClassCaps, err = InitClassCapsuleLayer("class_capsules", cfg.BatchSize, g.ClassInputs,
		cfg.ConvCaps.VectorDim, cfg.NumClasses, cfg.ClassVectorDim, cfg.RoutingIters, rng); err != nil {
		return nil, fmt.Errorf("build class capsules: %w", err)
	}
	if m.Decoder, err = NewDecodeProjector(g, rng); err != nil {
		return nil, fmt.Errorf("build decoder: %w", err)
	}
	if cfg.Remake {
		m.Remake = NewRemakeNetwork(cfg.NumClasses*cfg.ClassVectorDim, cfg.RemakeHidden, cfg.ImageChannels*g.Input.Cells(), rng)
	}

	if m.backend != nil {
		for _, conv := range m.convLayers() {
			conv.Backend = m.backend
		}
	}

	m.logger.Debug("capsule model resolved",
		slog.String("model_id", m.ID),
		slog.String("conv1", g.Conv1.String()),
		slog.String("conv2", g.Conv2.String()),
		slog.String("primary_caps", g.Primary.String()),
		slog.String("conv_caps", g.ConvCaps.String()),
		slog.Int("class_inputs", g.ClassInputs),
		slog.Int("vote_elems", g.VoteElems*cfg.BatchSize),
		slog.Int("parameters", m.ParameterCount()),
		slog.Bool("remake", m.Remake != nil),
		slog.Bool("conv_backend", m.backend != nil),
	)
	return m, nil
}

func (m *Model) convLayers() []*Conv2DLayer {
	return []*Conv2DLayer{m.Features.Conv1, m.Features.Conv2, m.Primary.Conv}
}

// Forward runs the full network over a batch of images laid out
// [batch][channel][row][col]. The batch size must equal Config.BatchSize.
func (m *Model) Forward(images *FeatureMap) (*Output, error) {
	if images == nil {
		return nil, fmt.Errorf("%w: image batch is nil", ErrShapeMismatch)
	}
	if images.Batch != m.Config.BatchSize {
		return nil, fmt.Errorf("%w: image batch holds %d images, model is built for %d",
			ErrShapeMismatch, images.Batch, m.Config.BatchSize)
	}

	features, err := m.Features.Forward(images)
	if err != nil {
		return nil, err
	}
	primary, err := m.Primary.Forward(features)
	if err != nil {
		return nil, err
	}
	convCaps, err := m.ConvCaps.Forward(primary, m.observer)
	if err != nil {
		return nil, err
	}
	classCaps, coupling, err := m.ClassCaps.Forward(convCaps, m.observer)
	if err != nil {
		return nil, err
	}
	logits, err := m.Decoder.Forward(convCaps, coupling)
	if err != nil {
		return nil, err
	}

	out := &Output{
		ClassCapsules: classCaps,
		ConvCapsules:  convCaps,
		Coupling:      coupling,
		Logits:        logits,
	}
	if m.Remake != nil {
		if out.Remakes, err = m.Remake.Forward(classCaps); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// NamedTensor is one learned parameter with its logical shape.
type NamedTensor struct {
	Name   string
	Shape  []int
	Values []float32 // aliases the layer's storage
}

// Tensors lists every learned parameter in a fixed order. Values alias the
// model, so writing into them updates the weights.
func (m *Model) Tensors() []NamedTensor {
	var ts []NamedTensor
	add := func(name string, values []float32, shape ...int) {
		ts = append(ts, NamedTensor{Name: name, Shape: shape, Values: values})
	}

	for _, conv := range m.convLayers() {
		add(conv.Name+".weight", conv.Kernel, conv.Filters, conv.InputChannels, conv.KernelSize, conv.KernelSize)
		add(conv.Name+".bias", conv.Bias, conv.Filters)
	}

	cc := m.ConvCaps
	add(cc.Name+".weight", cc.Weights, cc.InTypes, cc.OutTypes, cc.KernelSize, cc.KernelSize, cc.OutDim, cc.InDim)

	kc := m.ClassCaps
	add(kc.Name+".weight", kc.Weights, kc.Inputs, kc.Classes, kc.OutDim, kc.InDim)

	for _, st := range m.Decoder.Stages {
		add(st.Name+".weight", st.Kernel, st.InputChannels, st.Filters, st.KernelH, st.KernelW)
		add(st.Name+".bias", st.Bias, st.Filters)
	}

	if m.Remake != nil {
		for _, l := range m.Remake.Layers {
			add(l.Name+".weight", l.Weights, l.InputSize, l.OutputSize)
			add(l.Name+".bias", l.Bias, l.OutputSize)
		}
	}
	return ts
}

// ParameterCount returns the number of learned scalars.
func (m *Model) ParameterCount() int {
	n := 0
	for _, t := range m.Tensors() {
		n += len(t.Values)
	}
	return n
}
