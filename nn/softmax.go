package nn

import (
	"math"
)

// softmaxStandard writes softmax(logits) into dst. Accumulation is done in
// float64 after subtracting the max logit, so the row sums to 1 within
// float32 rounding.
func softmaxStandard(dst, logits []float32) {
	if len(logits) == 0 {
		return
	}
	maxLogit := logits[0]
	for _, v := range logits[1:] {
		if v > maxLogit {
			maxLogit = v
		}
	}

	sum := 0.0
	for i, v := range logits {
		e := math.Exp(float64(v - maxLogit))
		dst[i] = float32(e)
		sum += e
	}
	for i := range dst[:len(logits)] {
		dst[i] = float32(float64(dst[i]) / sum)
	}
}

// softmaxGrid applies an independent softmax to each row of a
// [rows][cols] matrix.
func softmaxGrid(dst, logits []float32, rows, cols int) {
	for r := 0; r < rows; r++ {
		start := r * cols
		softmaxStandard(dst[start:start+cols], logits[start:start+cols])
	}
}

// logSumExp returns log(Σ exp(v)) computed stably.
func logSumExp(v []float32) float64 {
	if len(v) == 0 {
		return math.Inf(-1)
	}
	maxV := v[0]
	for _, x := range v[1:] {
		if x > maxV {
			maxV = x
		}
	}
	sum := 0.0
	for _, x := range v {
		sum += math.Exp(float64(x - maxV))
	}
	return float64(maxV) + math.Log(sum)
}
