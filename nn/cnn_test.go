package nn

import (
	"errors"
	"math/rand"
	"testing"
)

// naiveConv2D is a direct convolution used as the reference for im2col+GEMM.
func naiveConv2D(input []float32, l *Conv2DLayer, batch int) []float32 {
	out := make([]float32, batch*l.OutputSize())
	k := l.KernelSize
	for b := 0; b < batch; b++ {
		for f := 0; f < l.Filters; f++ {
			for oh := 0; oh < l.OutputHeight; oh++ {
				for ow := 0; ow < l.OutputWidth; ow++ {
					sum := float64(l.Bias[f])
					for c := 0; c < l.InputChannels; c++ {
						for kh := 0; kh < k; kh++ {
							for kw := 0; kw < k; kw++ {
								ih := oh*l.Stride + kh - l.Padding
								iw := ow*l.Stride + kw - l.Padding
								if ih < 0 || ih >= l.InputHeight || iw < 0 || iw >= l.InputWidth {
									continue
								}
								x := input[((b*l.InputChannels+c)*l.InputHeight+ih)*l.InputWidth+iw]
								w := l.Kernel[((f*l.InputChannels+c)*k+kh)*k+kw]
								sum += float64(x) * float64(w)
							}
						}
					}
					out[((b*l.Filters+f)*l.OutputHeight+oh)*l.OutputWidth+ow] = activateCPU(float32(sum), l.Activation)
				}
			}
		}
	}
	return out
}

func randomSlice(rng *rand.Rand, n int) []float32 {
	v := make([]float32, n)
	for i := range v {
		v[i] = float32(rng.NormFloat64())
	}
	return v
}

// TestConv2DMatchesDirect verifies the GEMM path against direct convolution
func TestConv2DMatchesDirect(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	cases := []struct {
		name                string
		h, w, c, k, s, p, f int
		act                 ActivationType
	}{
		{"valid", 9, 11, 2, 3, 1, 0, 4, ActivationReLU},
		{"strided", 10, 13, 3, 3, 2, 0, 5, ActivationLinear},
		{"padded", 7, 7, 1, 5, 1, 2, 3, ActivationReLU},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l, err := InitConv2DLayer(tc.name, tc.h, tc.w, tc.c, tc.k, tc.s, tc.p, tc.f, tc.act, rng)
			if err != nil {
				t.Fatalf("InitConv2DLayer failed: %v", err)
			}
			for i := range l.Bias {
				l.Bias[i] = float32(i) * 0.1
			}
			input := randomSlice(rng, 2*l.InputSize())

			got, err := l.Forward(input, 2)
			if err != nil {
				t.Fatalf("Forward failed: %v", err)
			}
			want := naiveConv2D(input, l, 2)
			if diff := MaxAbsDiff(got, want); diff > 1e-4 {
				t.Errorf("GEMM and direct convolution differ by %v", diff)
			}
		})
	}
}

// TestConv2DRejectsBadInput verifies input size checking
func TestConv2DRejectsBadInput(t *testing.T) {
	l, err := InitConv2DLayer("c", 5, 5, 1, 3, 1, 0, 2, ActivationReLU, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.Forward(make([]float32, 24), 1); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch, got %v", err)
	}
	if _, err := InitConv2DLayer("c", 2, 5, 1, 3, 1, 0, 2, ActivationReLU, rand.New(rand.NewSource(1))); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("Kernel larger than input should fail, got %v", err)
	}
}

type fakeBackend struct {
	calls int
	out   []float32
}

func (f *fakeBackend) Conv2DForward(input []float32, layer *Conv2DLayer, batchSize int) ([]float32, error) {
	f.calls++
	return f.out, nil
}

// TestConv2DBackendOverride verifies the backend replaces the CPU path
func TestConv2DBackendOverride(t *testing.T) {
	l, err := InitConv2DLayer("c", 4, 4, 1, 3, 1, 0, 1, ActivationReLU, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatal(err)
	}
	fb := &fakeBackend{out: []float32{1, 2, 3, 4}}
	l.Backend = fb

	out, err := l.Forward(make([]float32, 16), 1)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	if fb.calls != 1 || out[3] != 4 {
		t.Errorf("Backend not used: calls=%d out=%v", fb.calls, out)
	}

	fb.out = []float32{1}
	if _, err := l.Forward(make([]float32, 16), 1); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("Short backend output should fail, got %v", err)
	}
}

// TestConvTransposeScatter verifies a single input cell scatters the kernel
func TestConvTransposeScatter(t *testing.T) {
	spec := UpsampleSpec{KernelH: 2, KernelW: 3, Stride: 2}
	l := InitConvTranspose2DLayer("up", 2, 2, 1, spec, 1, ActivationLinear, rand.New(rand.NewSource(1)))
	if l.OutputHeight != 4 || l.OutputWidth != 5 {
		t.Fatalf("Expected 4x5 output, got %dx%d", l.OutputHeight, l.OutputWidth)
	}
	copy(l.Kernel, []float32{1, 2, 3, 4, 5, 6})
	l.Bias[0] = 0.5

	// Only cell (1, 1) is set.
	out, err := l.Forward([]float32{0, 0, 0, 2}, 1)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	want := []float32{
		0.5, 0.5, 0.5, 0.5, 0.5,
		0.5, 0.5, 0.5, 0.5, 0.5,
		0.5, 0.5, 2.5, 4.5, 6.5,
		0.5, 0.5, 8.5, 10.5, 12.5,
	}
	if diff := MaxAbsDiff(out, want); diff > 1e-6 {
		t.Errorf("Unexpected output %v", out)
	}
}

// TestConvTransposeAdjoint verifies <conv(x), y> == <x, convT(y)> with
// shared weights, which pins the transposed scatter to the convolution
func TestConvTransposeAdjoint(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	conv, err := InitConv2DLayer("c", 9, 8, 2, 3, 2, 0, 3, ActivationLinear, rng)
	if err != nil {
		t.Fatal(err)
	}
	spec := UpsampleSpec{KernelH: 3, KernelW: 3, Stride: 2}
	up := InitConvTranspose2DLayer("t", conv.OutputHeight, conv.OutputWidth, 3, spec, 2, ActivationLinear, rng)
	if up.OutputHeight != 9 || up.OutputWidth != 7 {
		t.Fatalf("Unexpected transposed output %dx%d", up.OutputHeight, up.OutputWidth)
	}

	// conv kernel [f][c][kh][kw] == transposed kernel [inC=f][filters=c][kh][kw]
	copy(up.Kernel, conv.Kernel)

	x := randomSlice(rng, conv.InputSize())
	y := randomSlice(rng, conv.OutputSize())
	cx, _ := conv.Forward(x, 1)
	ty, _ := up.Forward(y, 1)

	lhs := 0.0
	for i := range y {
		lhs += float64(cx[i]) * float64(y[i])
	}
	// The transposed output drops the last input column (width 7 of 8).
	rhs := 0.0
	for c := 0; c < 2; c++ {
		for h := 0; h < 9; h++ {
			for w := 0; w < 7; w++ {
				rhs += float64(x[(c*9+h)*8+w]) * float64(ty[(c*9+h)*7+w])
			}
		}
	}
	if d := lhs - rhs; d > 1e-3 || d < -1e-3 {
		t.Errorf("Adjoint mismatch: %v vs %v", lhs, rhs)
	}
}
