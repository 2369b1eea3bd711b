// Package nn provides a capsule segmentation network with CPU execution and an
// optional GPU convolution backend.
//
// The network turns a fixed-size image batch into per-pixel class logits:
//   - FeatureExtractor: two ReLU convolutions producing scalar feature maps
//   - PrimaryCapsuleLayer: convolution grouped into pose vectors, then squash
//   - ConvCapsuleLayer: locally-connected votes + routing-by-agreement per output cell
//   - ClassCapsuleLayer: dense votes + routing-by-agreement to one capsule per class
//   - DecodeProjector: coupling coefficients weighted by capsule presence,
//     upsampled by transposed convolutions back to image resolution
//
// All shapes are resolved from a ModelConfig before any tensor is allocated.
// Tensors are flat []float32 slices; scalar maps use [batch][channel][row][col],
// capsule tensors use [batch][type][row][col][dim].
//
// Example usage:
//
//	cfg := nn.DefaultConfig()
//	model, err := nn.NewModel(cfg)
//	if err != nil {
//		return err
//	}
//
//	images := nn.NewFeatureMap(cfg.BatchSize, cfg.ImageChannels, cfg.ImageHeight, cfg.ImageWidth)
//	out, err := model.Forward(images)
//	if err != nil {
//		return err
//	}
//
//	losses, err := nn.NewLossAssembler(nn.LossOptions{}).Assemble(nn.LossInputs{
//		Images: images,
//		Labels: labels,
//		Output: out,
//	})
package nn
