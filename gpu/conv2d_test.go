package gpu

import (
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/openfluke/capseg/nn"
)

func testLayer(t *testing.T, act nn.ActivationType) *nn.Conv2DLayer {
	t.Helper()
	l, err := nn.InitConv2DLayer("relu_conv1", 10, 12, 2, 3, 2, 1, 4, act, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatal(err)
	}
	return l
}

func TestSpecFor(t *testing.T) {
	l := testLayer(t, nn.ActivationReLU)
	s := SpecFor(l, 3)
	if s.OutHeight != 5 || s.OutWidth != 6 || !s.ReLU {
		t.Errorf("Unexpected spec %+v", s)
	}
	if s.inputSize() != 3*2*10*12 || s.outputSize() != 3*4*5*6 || s.kernelSize() != 4*2*9 {
		t.Errorf("Unexpected buffer sizes %d %d %d", s.inputSize(), s.outputSize(), s.kernelSize())
	}
}

func TestGenerateConv2DShader(t *testing.T) {
	relu := GenerateConv2DShader(SpecFor(testLayer(t, nn.ActivationReLU), 2))
	for _, want := range []string{
		"const BATCH: u32 = 2u;",
		"const IN_C: u32 = 2u;",
		"const OUT_C: u32 = 4u;",
		"const STRIDE: u32 = 2u;",
		"const PADDING: i32 = 1;",
		"@workgroup_size(256, 1, 1)",
		"output[idx] = max(sum, 0.0);",
		"let r1 = idx % (OUT_C * OUT_H * OUT_W);",
	} {
		if !strings.Contains(relu, want) {
			t.Errorf("Shader missing %q", want)
		}
	}

	linear := GenerateConv2DShader(SpecFor(testLayer(t, nn.ActivationLinear), 2))
	if !strings.Contains(linear, "output[idx] = sum;") {
		t.Error("Linear shader should not clamp")
	}
}

// TestConv2DBackendMatchesCPU needs a WebGPU adapter.
func TestConv2DBackendMatchesCPU(t *testing.T) {
	backend, err := NewConv2DBackend(nil)
	if err != nil {
		t.Skipf("no WebGPU adapter: %v", err)
	}
	defer backend.Release()

	l := testLayer(t, nn.ActivationReLU)
	rng := rand.New(rand.NewSource(2))
	input := make([]float32, 2*l.InputSize())
	for i := range input {
		input[i] = float32(rng.NormFloat64())
	}

	want, err := l.Forward(input, 2)
	if err != nil {
		t.Fatal(err)
	}
	l.Backend = backend
	got, err := l.Forward(input, 2)
	if err != nil {
		t.Fatalf("GPU forward failed: %v", err)
	}
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > 1e-4 {
			t.Fatalf("Output %d: gpu %v, cpu %v", i, got[i], want[i])
		}
	}
}

func TestChooseWorkgroup(t *testing.T) {
	cases := []struct {
		limits Limits
		want   uint32
	}{
		{Limits{MaxComputeWorkgroupSizeX: 1024, MaxComputeInvocationsPerWorkgroup: 1024}, 256},
		{Limits{MaxComputeWorkgroupSizeX: 256, MaxComputeInvocationsPerWorkgroup: 128}, 128},
		{Limits{MaxComputeWorkgroupSizeX: 48, MaxComputeInvocationsPerWorkgroup: 256}, 32},
		{Limits{}, 1},
	}
	for _, c := range cases {
		if got := chooseWorkgroup(c.limits); got != c.want {
			t.Errorf("chooseWorkgroup(%+v) = %d, want %d", c.limits, got, c.want)
		}
	}

	s := SpecFor(testLayer(t, nn.ActivationReLU), 1)
	s.Workgroup = 64
	if !strings.Contains(GenerateConv2DShader(s), "@workgroup_size(64, 1, 1)") {
		t.Error("Shader should use the configured workgroup size")
	}
}
