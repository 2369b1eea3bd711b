package nn

import (
	"math/rand"
)

// truncatedNormal draws from N(0, stddev²), redrawing samples that fall more
// than two standard deviations from the mean.
func truncatedNormal(rng *rand.Rand, stddev float64) float32 {
	for {
		v := rng.NormFloat64()
		if v >= -2 && v <= 2 {
			return float32(v * stddev)
		}
	}
}

func fillTruncatedNormal(dst []float32, rng *rand.Rand, stddev float64) {
	for i := range dst {
		dst[i] = truncatedNormal(rng, stddev)
	}
}

func fillConstant(dst []float32, v float32) {
	for i := range dst {
		dst[i] = v
	}
}
