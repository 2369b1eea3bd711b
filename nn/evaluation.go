package nn

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ============================================================================
// Segmentation scores
// ============================================================================

// DefaultDiceSmooth is the additive smoothing term of Dice.
const DefaultDiceSmooth = 1.0

// PixelAccuracy returns the fraction of pixels whose predicted label equals
// the target label.
func PixelAccuracy(target, prediction []uint8) (float64, error) {
	if len(target) != len(prediction) {
		return 0, fmt.Errorf("%w: target has %d pixels, prediction %d", ErrShapeMismatch, len(target), len(prediction))
	}
	if len(target) == 0 {
		return 0, fmt.Errorf("no pixels to score")
	}
	hits := 0
	for i, t := range target {
		if prediction[i] == t {
			hits++
		}
	}
	return float64(hits) / float64(len(target)), nil
}

// Dice returns (2·Σ t·p + smooth) / (Σ t + Σ p + smooth), treating label
// values as intensities.
func Dice(target, prediction []uint8, smooth float64) (float64, error) {
	if len(target) != len(prediction) {
		return 0, fmt.Errorf("%w: target has %d pixels, prediction %d", ErrShapeMismatch, len(target), len(prediction))
	}
	t, p := toFloats(target), toFloats(prediction)
	intersection := floats.Dot(t, p)
	union := floats.Sum(t) + floats.Sum(p)
	return (2*intersection + smooth) / (union + smooth), nil
}

// ForegroundDice scores the overlap of non-background pixels regardless of
// which foreground class was predicted.
func ForegroundDice(target, prediction []uint8, smooth float64) (float64, error) {
	return Dice(binarize(target), binarize(prediction), smooth)
}

// ClassDice scores the overlap of pixels labelled class.
func ClassDice(target, prediction []uint8, class uint8, smooth float64) (float64, error) {
	return Dice(oneHot(target, class), oneHot(prediction, class), smooth)
}

func toFloats(v []uint8) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

func binarize(v []uint8) []uint8 {
	out := make([]uint8, len(v))
	for i, x := range v {
		if x > 0 {
			out[i] = 1
		}
	}
	return out
}

func oneHot(v []uint8, class uint8) []uint8 {
	out := make([]uint8, len(v))
	for i, x := range v {
		if x == class {
			out[i] = 1
		}
	}
	return out
}

// ============================================================================
// Batch evaluation
// ============================================================================

// ImageScore holds the scores of one image.
type ImageScore struct {
	Accuracy       float64
	Dice           float64
	ForegroundDice float64
}

// ScoreSummary aggregates ImageScores.
type ScoreSummary struct {
	Images         int
	Accuracy       float64
	AccuracyStd    float64
	Dice           float64
	DiceStd        float64
	ForegroundDice float64
}

// EvaluateBatch scores every image of a predicted label map against the
// ground truth.
func EvaluateBatch(target, prediction *LabelMap) ([]ImageScore, error) {
	if target == nil || prediction == nil {
		return nil, fmt.Errorf("%w: label map is nil", ErrShapeMismatch)
	}
	if target.Batch != prediction.Batch || target.Height != prediction.Height || target.Width != prediction.Width {
		return nil, fmt.Errorf("%w: target (%d, %d, %d), prediction (%d, %d, %d)", ErrShapeMismatch,
			target.Batch, target.Height, target.Width, prediction.Batch, prediction.Height, prediction.Width)
	}

	scores := make([]ImageScore, target.Batch)
	for b := range scores {
		t, p := target.Image(b), prediction.Image(b)
		acc, err := PixelAccuracy(t, p)
		if err != nil {
			return nil, err
		}
		d, err := Dice(t, p, DefaultDiceSmooth)
		if err != nil {
			return nil, err
		}
		fg, err := ForegroundDice(t, p, DefaultDiceSmooth)
		if err != nil {
			return nil, err
		}
		scores[b] = ImageScore{Accuracy: acc, Dice: d, ForegroundDice: fg}
	}
	return scores, nil
}

// Summarize returns the mean and standard deviation of the scores.
func Summarize(scores []ImageScore) ScoreSummary {
	s := ScoreSummary{Images: len(scores)}
	if len(scores) == 0 {
		return s
	}
	acc := make([]float64, len(scores))
	dice := make([]float64, len(scores))
	fg := make([]float64, len(scores))
	for i, sc := range scores {
		acc[i], dice[i], fg[i] = sc.Accuracy, sc.Dice, sc.ForegroundDice
	}
	s.Accuracy, s.AccuracyStd = meanStd(acc)
	s.Dice, s.DiceStd = meanStd(dice)
	s.ForegroundDice = stat.Mean(fg, nil)
	return s
}

func meanStd(v []float64) (float64, float64) {
	if len(v) == 1 {
		return v[0], 0
	}
	return stat.MeanStdDev(v, nil)
}

// ============================================================================
// Noise and comparison helpers
// ============================================================================

// AddNoise returns img plus uniform noise drawn from [low, high), saturating
// at 255.
func AddNoise(img []uint8, low, high int, rng *rand.Rand) ([]uint8, error) {
	if low < 0 || high > 256 || low >= high {
		return nil, fmt.Errorf("noise range [%d, %d) must lie within [0, 256) and be non-empty", low, high)
	}
	out := make([]uint8, len(img))
	for i, x := range img {
		v := int(x) + low + rng.Intn(high-low)
		if v > math.MaxUint8 {
			v = math.MaxUint8
		}
		out[i] = uint8(v)
	}
	return out, nil
}

// MaxAbsDiff calculates the maximum absolute difference between two slices
func MaxAbsDiff(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	m := 0.0
	for i := 0; i < n; i++ {
		d := math.Abs(float64(a[i] - b[i]))
		if d > m {
			m = d
		}
	}
	return m
}
