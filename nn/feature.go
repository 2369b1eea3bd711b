package nn

import (
	"fmt"
	"math/rand"
)

// FeatureExtractor is the pair of ReLU convolutions in front of the capsule
// layers.
type FeatureExtractor struct {
	Conv1 *Conv2DLayer
	Conv2 *Conv2DLayer
}

// NewFeatureExtractor builds both convolutions for the configured image size.
func NewFeatureExtractor(cfg ModelConfig, rng *rand.Rand) (*FeatureExtractor, error) {
	conv1, err := InitConv2DLayer("relu_conv1",
		cfg.ImageHeight, cfg.ImageWidth, cfg.ImageChannels,
		cfg.Conv1.KernelSize, cfg.Conv1.Stride, cfg.Conv1.Padding, cfg.Conv1.Filters,
		ActivationReLU, rng)
	if err != nil {
		return nil, err
	}
	conv2, err := InitConv2DLayer("relu_conv2",
		conv1.OutputHeight, conv1.OutputWidth, conv1.Filters,
		cfg.Conv2.KernelSize, cfg.Conv2.Stride, cfg.Conv2.Padding, cfg.Conv2.Filters,
		ActivationReLU, rng)
	if err != nil {
		return nil, err
	}
	return &FeatureExtractor{Conv1: conv1, Conv2: conv2}, nil
}

// Forward runs both convolutions.
func (f *FeatureExtractor) Forward(images *FeatureMap) (*FeatureMap, error) {
	if images == nil {
		return nil, fmt.Errorf("%w: image batch is nil", ErrShapeMismatch)
	}
	in := Shape2D{Height: f.Conv1.InputHeight, Width: f.Conv1.InputWidth}
	if err := images.check(images.Batch, f.Conv1.InputChannels, in, "image batch"); err != nil {
		return nil, err
	}

	h1, err := f.Conv1.Forward(images.Data, images.Batch)
	if err != nil {
		return nil, fmt.Errorf("feature extractor: %w", err)
	}
	h2, err := f.Conv2.Forward(h1, images.Batch)
	if err != nil {
		return nil, fmt.Errorf("feature extractor: %w", err)
	}
	return &FeatureMap{
		Batch:    images.Batch,
		Channels: f.Conv2.Filters,
		Height:   f.Conv2.OutputHeight,
		Width:    f.Conv2.OutputWidth,
		Data:     h2,
	}, nil
}
