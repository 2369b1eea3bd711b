package nn

import (
	"math"
	"math/rand"
	"testing"
)

// TestPixelAccuracy verifies the fraction of matching pixels
func TestPixelAccuracy(t *testing.T) {
	acc, err := PixelAccuracy([]uint8{0, 1, 2, 1}, []uint8{0, 1, 1, 1})
	if err != nil {
		t.Fatal(err)
	}
	if acc != 0.75 {
		t.Errorf("Expected 0.75, got %v", acc)
	}
	if _, err := PixelAccuracy([]uint8{0}, []uint8{0, 1}); err == nil {
		t.Error("Length mismatch should fail")
	}
}

// TestDice verifies the smoothed overlap formula
func TestDice(t *testing.T) {
	target := []uint8{1, 1, 0, 0}
	pred := []uint8{1, 0, 1, 0}
	d, err := Dice(target, pred, DefaultDiceSmooth)
	if err != nil {
		t.Fatal(err)
	}
	// (2·1 + 1) / (2 + 2 + 1)
	if math.Abs(d-0.6) > 1e-12 {
		t.Errorf("Expected 0.6, got %v", d)
	}

	// Two-class labels: foreground dice ignores which class was predicted.
	fg, err := ForegroundDice([]uint8{2, 2, 0}, []uint8{1, 1, 0}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if fg != 1 {
		t.Errorf("Expected foreground dice 1, got %v", fg)
	}
	cd, err := ClassDice([]uint8{2, 2, 0}, []uint8{1, 1, 0}, 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	if cd != 0 {
		t.Errorf("Expected class dice 0, got %v", cd)
	}
}

// TestEvaluateBatch verifies per-image scores and the summary
func TestEvaluateBatch(t *testing.T) {
	target := &LabelMap{Batch: 2, Height: 1, Width: 2, Labels: []uint8{1, 0, 1, 1}}
	pred := &LabelMap{Batch: 2, Height: 1, Width: 2, Labels: []uint8{1, 0, 0, 1}}

	scores, err := EvaluateBatch(target, pred)
	if err != nil {
		t.Fatal(err)
	}
	if scores[0].Accuracy != 1 || scores[1].Accuracy != 0.5 {
		t.Errorf("Unexpected accuracies %+v", scores)
	}

	s := Summarize(scores)
	if s.Images != 2 || math.Abs(s.Accuracy-0.75) > 1e-12 {
		t.Errorf("Unexpected summary %+v", s)
	}
	// Sample standard deviation of {1, 0.5}.
	if math.Abs(s.AccuracyStd-math.Sqrt(0.125)) > 1e-12 {
		t.Errorf("Expected std %v, got %v", math.Sqrt(0.125), s.AccuracyStd)
	}

	if one := Summarize(scores[:1]); one.AccuracyStd != 0 || one.Accuracy != 1 {
		t.Errorf("Single image summary %+v", one)
	}
	if empty := Summarize(nil); empty.Images != 0 {
		t.Errorf("Empty summary %+v", empty)
	}
}

// TestAddNoise verifies saturation and range checks
func TestAddNoise(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	img := []uint8{0, 100, 250, 255}
	noisy, err := AddNoise(img, 10, 20, rng)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range noisy {
		lo := int(img[i]) + 10
		if lo > 255 {
			lo = 255
		}
		if int(v) < lo || (int(img[i])+19 <= 255 && int(v) > int(img[i])+19) {
			t.Errorf("Pixel %d: %d + noise gave %d", i, img[i], v)
		}
	}
	if noisy[3] != 255 {
		t.Errorf("Expected saturation at 255, got %d", noisy[3])
	}
	if _, err := AddNoise(img, 5, 5, rng); err == nil {
		t.Error("Empty range should fail")
	}
}
