package nn

import (
	"errors"
	"testing"
)

// TestResolveDefault verifies the reference shape chain
func TestResolveDefault(t *testing.T) {
	g, err := DefaultConfig().Resolve()
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	shapes := []struct {
		name string
		got  Shape2D
		want Shape2D
	}{
		{"conv1", g.Conv1, Shape2D{16, 48}},
		{"conv2", g.Conv2, Shape2D{12, 44}},
		{"primary", g.Primary, Shape2D{8, 40}},
		{"conv_caps", g.ConvCaps, Shape2D{3, 19}},
	}
	for _, s := range shapes {
		if s.got != s.want {
			t.Errorf("%s: expected %s, got %s", s.name, s.want, s.got)
		}
	}

	if g.ConvCapsInputs != 28*9 {
		t.Errorf("Expected %d conv capsule inputs, got %d", 28*9, g.ConvCapsInputs)
	}
	if g.ClassInputs != 24*3*19 {
		t.Errorf("Expected %d class inputs, got %d", 24*3*19, g.ClassInputs)
	}
	if g.VoteElems != 3*19*28*9*24*8 {
		t.Errorf("Unexpected vote tensor size %d", g.VoteElems)
	}
}

// TestInverseSchedule verifies the derived decoder kernels
func TestInverseSchedule(t *testing.T) {
	g, err := DefaultConfig().Resolve()
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	want := []UpsampleSpec{
		{KernelH: 4, KernelW: 4, Stride: 2},
		{KernelH: 5, KernelW: 5, Stride: 1},
		{KernelH: 5, KernelW: 5, Stride: 1},
		{KernelH: 9, KernelW: 9, Stride: 1},
	}
	got := g.InverseSchedule()
	if len(got) != len(want) {
		t.Fatalf("Expected %d stages, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Stage %d: expected %+v, got %+v", i, want[i], got[i])
		}
	}

	outs := []Shape2D{{8, 40}, {12, 44}, {16, 48}, {24, 56}}
	for i, st := range g.Decoder {
		if st.Out != outs[i] {
			t.Errorf("Stage %d: expected output %s, got %s", i, outs[i], st.Out)
		}
	}
}

// TestInverseScheduleOddShapes verifies exact inversion when the stride
// does not divide the input evenly
func TestInverseScheduleOddShapes(t *testing.T) {
	cfg := smallConfig()
	cfg.ImageHeight, cfg.ImageWidth = 15, 21
	cfg.Conv1.Padding = 1
	cfg.ConvCaps.Stride = 3

	g, err := cfg.Resolve()
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	last := g.Decoder[len(g.Decoder)-1]
	if last.Out != g.Input {
		t.Errorf("Decoder ends at %s, image is %s", last.Out, g.Input)
	}
}

// TestResolveRejectsInvalid verifies construction-time validation
func TestResolveRejectsInvalid(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*ModelConfig)
		target error
	}{
		{"zero routing", func(c *ModelConfig) { c.RoutingIters = 0 }, ErrInvalidConfig},
		{"negative routing", func(c *ModelConfig) { c.RoutingIters = -1 }, ErrInvalidConfig},
		{"zero classes", func(c *ModelConfig) { c.NumClasses = 0 }, ErrInvalidConfig},
		{"too many classes", func(c *ModelConfig) { c.NumClasses = 256 }, ErrInvalidConfig},
		{"negative padding", func(c *ModelConfig) { c.Conv2.Padding = -1 }, ErrInvalidConfig},
		{"kernel too large", func(c *ModelConfig) { c.Conv1.KernelSize = 30 }, ErrShapeMismatch},
		{"image too small", func(c *ModelConfig) { c.ImageHeight = 16 }, ErrShapeMismatch},
		{"decoder stage count", func(c *ModelConfig) {
			c.Decoder = []UpsampleSpec{{KernelH: 4, KernelW: 4, Stride: 2}}
		}, ErrShapeMismatch},
		{"decoder wrong kernel", func(c *ModelConfig) {
			c.Decoder = []UpsampleSpec{
				{KernelH: 3, KernelW: 3, Stride: 2},
				{KernelH: 5, KernelW: 5, Stride: 1},
				{KernelH: 5, KernelW: 5, Stride: 1},
				{KernelH: 9, KernelW: 9, Stride: 1},
			}
		}, ErrShapeMismatch},
		{"decoder zero stride", func(c *ModelConfig) {
			c.Decoder = []UpsampleSpec{
				{KernelH: 4, KernelW: 4, Stride: 0},
				{KernelH: 5, KernelW: 5, Stride: 1},
				{KernelH: 5, KernelW: 5, Stride: 1},
				{KernelH: 9, KernelW: 9, Stride: 1},
			}
		}, ErrInvalidConfig},
		{"remake hidden", func(c *ModelConfig) {
			c.Remake = true
			c.RemakeHidden = []int{672, 0}
		}, ErrInvalidConfig},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			_, err := cfg.Resolve()
			if !errors.Is(err, tc.target) {
				t.Errorf("Expected %v, got %v", tc.target, err)
			}
			if _, err := NewModel(cfg); err == nil {
				t.Error("NewModel accepted an invalid config")
			}
		})
	}
}

// TestExplicitDecoderAccepted verifies a hand-written exact inverse
func TestExplicitDecoderAccepted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Decoder = []UpsampleSpec{
		{KernelH: 4, KernelW: 4, Stride: 2},
		{KernelH: 5, KernelW: 5, Stride: 1},
		{KernelH: 5, KernelW: 5, Stride: 1},
		{KernelH: 9, KernelW: 9, Stride: 1},
	}
	if _, err := cfg.Resolve(); err != nil {
		t.Errorf("Explicit inverse rejected: %v", err)
	}
}
