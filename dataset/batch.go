package dataset

import (
	"fmt"

	"github.com/openfluke/capseg/nn"
)

// DecodeBatch converts records into a model input batch scaled to [0, 1] and
// the matching label map. A two-class model segments digit from background,
// so every nonzero label collapses to 1; otherwise labels must be below
// NumClasses.
func DecodeBatch(records []Record, cfg nn.ModelConfig) (*nn.FeatureMap, *nn.LabelMap, error) {
	if len(records) == 0 {
		return nil, nil, fmt.Errorf("%w: empty batch", nn.ErrShapeMismatch)
	}
	h, w := cfg.ImageHeight, cfg.ImageWidth
	images := nn.NewFeatureMap(len(records), cfg.ImageChannels, h, w)
	labels := nn.NewLabelMap(len(records), h, w)
	plane := h * w

	for b, r := range records {
		if err := r.validate(); err != nil {
			return nil, nil, err
		}
		if r.Height != h || r.Width != w {
			return nil, nil, fmt.Errorf("%w: record %s is %dx%d, model expects %dx%d",
				nn.ErrShapeMismatch, r.ID, r.Height, r.Width, h, w)
		}
		for c := 0; c < cfg.ImageChannels; c++ {
			dst := images.Data[(b*cfg.ImageChannels+c)*plane : (b*cfg.ImageChannels+c+1)*plane]
			for i, v := range r.Image {
				dst[i] = float32(v) / 255
			}
		}
		dst := labels.Image(b)
		for i, l := range r.Label {
			switch {
			case cfg.NumClasses == 2 && l > 0:
				dst[i] = 1
			case int(l) >= cfg.NumClasses:
				return nil, nil, fmt.Errorf("%w: record %s has label %d, model has %d classes",
					ErrLabelRange, r.ID, l, cfg.NumClasses)
			default:
				dst[i] = l
			}
		}
	}
	return images, labels, nil
}
