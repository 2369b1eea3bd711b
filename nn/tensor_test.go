package nn

import (
	"math"
	"testing"
)

// TestFeatureMapLayout verifies [batch][channel][row][col] indexing
func TestFeatureMapLayout(t *testing.T) {
	f := NewFeatureMap(2, 3, 4, 5)
	if len(f.Data) != 2*3*4*5 {
		t.Fatalf("Expected %d values, got %d", 2*3*4*5, len(f.Data))
	}

	f.Set(1, 2, 3, 4, 7)
	if f.Data[len(f.Data)-1] != 7 {
		t.Errorf("Last element should be (1, 2, 3, 4)")
	}
	f.Set(0, 1, 0, 2, 3)
	if f.Data[1*4*5+2] != 3 || f.At(0, 1, 0, 2) != 3 {
		t.Errorf("At/Set disagree with flat layout")
	}

	if err := f.check(2, 3, Shape2D{Height: 4, Width: 5}, "map"); err != nil {
		t.Errorf("Unexpected check error: %v", err)
	}
	if err := f.check(2, 3, Shape2D{Height: 5, Width: 4}, "map"); err == nil {
		t.Error("Transposed shape should fail the check")
	}
}

// TestCapsuleTensorVectors verifies pose vector addressing and norms
func TestCapsuleTensorVectors(t *testing.T) {
	c := NewCapsuleTensor(2, 3, 2, 2, 4)
	if c.Instances() != 12 {
		t.Errorf("Expected 12 instances, got %d", c.Instances())
	}

	v := c.Vector(1, 2, 1, 0)
	copy(v, []float32{3, 4, 0, 0})
	if off := c.Offset(1, 2, 1, 0); c.Data[off] != 3 || c.Data[off+1] != 4 {
		t.Errorf("Vector does not alias Data")
	}

	norms := c.Norms()
	if len(norms) != 2*12 {
		t.Fatalf("Expected 24 norms, got %d", len(norms))
	}
	idx := 1*12 + 2*4 + 1*2 + 0
	if math.Abs(float64(norms[idx]-5)) > 1e-6 {
		t.Errorf("Expected norm 5, got %f", norms[idx])
	}
	for i, n := range norms {
		if i != idx && n != 0 {
			t.Errorf("Norm %d should be 0, got %f", i, n)
		}
	}
}

// TestArgmaxTies verifies that ties resolve to the lower class
func TestArgmaxTies(t *testing.T) {
	l := &LabelLogits{
		Batch: 1, Height: 1, Width: 3, Classes: 3,
		Data: []float32{
			0.1, 0.9, 0.2,
			0.5, 0.5, 0.5,
			-1, -2, -0.5,
		},
	}
	got := l.Argmax().Labels
	want := []uint8{1, 0, 2}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Pixel %d: expected class %d, got %d", i, want[i], got[i])
		}
	}
}

// TestAllFinite verifies NaN and infinity detection
func TestAllFinite(t *testing.T) {
	if !AllFinite([]float32{0, 1, -1e30}) {
		t.Error("Finite values reported as non-finite")
	}
	if AllFinite([]float32{0, float32(math.NaN())}) {
		t.Error("NaN not detected")
	}
	if AllFinite([]float32{float32(math.Inf(-1))}) {
		t.Error("Infinity not detected")
	}
}
