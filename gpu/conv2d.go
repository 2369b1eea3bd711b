package gpu

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/openfluke/webgpu/wgpu"

	"github.com/openfluke/capseg/nn"
)

// defaultWorkgroup is used until an adapter reports its limits.
const defaultWorkgroup = 256

// Conv2DSpec is the static shape of one dispatched convolution.
type Conv2DSpec struct {
	Batch       int
	InChannels  int
	OutChannels int
	InputHeight int
	InputWidth  int
	OutHeight   int
	OutWidth    int
	KernelSize  int
	Stride      int
	Padding     int
	ReLU        bool
	Workgroup   int
}

// SpecFor derives the dispatch shape of layer for a batch.
func SpecFor(layer *nn.Conv2DLayer, batch int) Conv2DSpec {
	return Conv2DSpec{
		Batch:       batch,
		InChannels:  layer.InputChannels,
		OutChannels: layer.Filters,
		InputHeight: layer.InputHeight,
		InputWidth:  layer.InputWidth,
		OutHeight:   layer.OutputHeight,
		OutWidth:    layer.OutputWidth,
		KernelSize:  layer.KernelSize,
		Stride:      layer.Stride,
		Padding:     layer.Padding,
		ReLU:        layer.Activation == nn.ActivationReLU,
		Workgroup:   defaultWorkgroup,
	}
}

func (s Conv2DSpec) inputSize() int  { return s.Batch * s.InChannels * s.InputHeight * s.InputWidth }
func (s Conv2DSpec) outputSize() int { return s.Batch * s.OutChannels * s.OutHeight * s.OutWidth }
func (s Conv2DSpec) kernelSize() int {
	return s.OutChannels * s.InChannels * s.KernelSize * s.KernelSize
}

// GenerateConv2DShader creates the WGSL forward shader for spec. One
// invocation computes one output value; layouts match nn.Conv2DLayer:
// input [batch][inC][inH][inW], kernel [outC][inC][k][k], output
// [batch][outC][outH][outW].
func GenerateConv2DShader(s Conv2DSpec) string {
	activation := "sum"
	if s.ReLU {
		activation = "max(sum, 0.0)"
	}
	return fmt.Sprintf(`
@group(0) @binding(0) var<storage, read> input: array<f32>;
@group(0) @binding(1) var<storage, read> kernel: array<f32>;
@group(0) @binding(2) var<storage, read> bias: array<f32>;
@group(0) @binding(3) var<storage, read_write> output: array<f32>;

const BATCH: u32 = %du;
const IN_C: u32 = %du;
const OUT_C: u32 = %du;
const IN_H: u32 = %du;
const IN_W: u32 = %du;
const OUT_H: u32 = %du;
const OUT_W: u32 = %du;
const K_SIZE: u32 = %du;
const STRIDE: u32 = %du;
const PADDING: i32 = %d;

@compute @workgroup_size(%d, 1, 1)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let idx = global_id.x;
    let total = BATCH * OUT_C * OUT_H * OUT_W;
    if (idx >= total) { return; }

    let b = idx / (OUT_C * OUT_H * OUT_W);
    let r1 = idx %% (OUT_C * OUT_H * OUT_W);
    let oc = r1 / (OUT_H * OUT_W);
    let r2 = r1 %% (OUT_H * OUT_W);
    let oh = r2 / OUT_W;
    let ow = r2 %% OUT_W;

    var sum = bias[oc];
    for (var ic: u32 = 0u; ic < IN_C; ic = ic + 1u) {
        for (var kh: u32 = 0u; kh < K_SIZE; kh = kh + 1u) {
            for (var kw: u32 = 0u; kw < K_SIZE; kw = kw + 1u) {
                let ih = i32(oh * STRIDE) + i32(kh) - PADDING;
                let iw = i32(ow * STRIDE) + i32(kw) - PADDING;
                if (ih >= 0 && ih < i32(IN_H) && iw >= 0 && iw < i32(IN_W)) {
                    let input_idx = ((b * IN_C + ic) * IN_H + u32(ih)) * IN_W + u32(iw);
                    let kernel_idx = ((oc * IN_C + ic) * K_SIZE + kh) * K_SIZE + kw;
                    sum = sum + input[input_idx] * kernel[kernel_idx];
                }
            }
        }
    }
    output[idx] = %s;
}
`, s.Batch, s.InChannels, s.OutChannels, s.InputHeight, s.InputWidth, s.OutHeight, s.OutWidth,
		s.KernelSize, s.Stride, s.Padding, s.Workgroup, activation)
}

// conv2DPipeline holds the compiled shader and buffers of one layer.
type conv2DPipeline struct {
	spec      Conv2DSpec
	pipeline  *wgpu.ComputePipeline
	bindGroup *wgpu.BindGroup

	inputBuf  *wgpu.Buffer
	kernelBuf *wgpu.Buffer
	biasBuf   *wgpu.Buffer
	outputBuf *wgpu.Buffer
}

// Conv2DBackend runs nn.Conv2DLayer forward passes on WebGPU. Pipelines are
// compiled on first use per layer and batch size. Kernel and bias are
// uploaded on every call so weight loads are picked up.
type Conv2DBackend struct {
	ctx    *Context
	logger *slog.Logger

	mu        sync.Mutex
	pipelines map[pipelineKey]*conv2DPipeline
}

type pipelineKey struct {
	layer *nn.Conv2DLayer
	batch int
}

// NewConv2DBackend initializes the GPU context.
func NewConv2DBackend(logger *slog.Logger) (*Conv2DBackend, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	c, err := GetContext(logger)
	if err != nil {
		return nil, err
	}
	return &Conv2DBackend{
		ctx:       c,
		logger:    logger,
		pipelines: make(map[pipelineKey]*conv2DPipeline),
	}, nil
}

// Conv2DForward implements nn.Conv2DBackend.
func (g *Conv2DBackend) Conv2DForward(input []float32, layer *nn.Conv2DLayer, batchSize int) ([]float32, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := pipelineKey{layer, batchSize}
	p, ok := g.pipelines[key]
	if !ok {
		var err error
		if p, err = g.compile(layer, batchSize); err != nil {
			return nil, fmt.Errorf("compile %s: %w", layer.Name, err)
		}
		g.pipelines[key] = p
		g.logger.Debug("compiled conv2d pipeline",
			slog.String("layer", layer.Name),
			slog.Int("batch", batchSize),
			slog.Int("outputs", p.spec.outputSize()))
	}

	s := p.spec
	if len(input) != s.inputSize() || len(layer.Kernel) != s.kernelSize() || len(layer.Bias) != s.OutChannels {
		return nil, fmt.Errorf("%w: %s gpu buffers do not match layer", nn.ErrShapeMismatch, layer.Name)
	}

	q := g.ctx.Queue
	q.WriteBuffer(p.inputBuf, 0, wgpu.ToBytes(input))
	q.WriteBuffer(p.kernelBuf, 0, wgpu.ToBytes(layer.Kernel))
	q.WriteBuffer(p.biasBuf, 0, wgpu.ToBytes(layer.Bias))

	enc, err := g.ctx.Device.CreateCommandEncoder(nil)
	if err != nil {
		return nil, err
	}
	pass := enc.BeginComputePass(nil)
	pass.SetPipeline(p.pipeline)
	pass.SetBindGroup(0, p.bindGroup, nil)
	pass.DispatchWorkgroups(uint32((s.outputSize()+s.Workgroup-1)/s.Workgroup), 1, 1)
	pass.End()
	cmd, err := enc.Finish(nil)
	if err != nil {
		return nil, err
	}
	q.Submit(cmd)

	return g.ctx.ReadBuffer(p.outputBuf, s.outputSize())
}

func (g *Conv2DBackend) compile(layer *nn.Conv2DLayer, batch int) (*conv2DPipeline, error) {
	s := SpecFor(layer, batch)
	if g.ctx.Workgroup > 0 {
		s.Workgroup = int(g.ctx.Workgroup)
	}
	dev := g.ctx.Device
	p := &conv2DPipeline{spec: s}

	mod, err := dev.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          layer.Name + "_Shader",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: GenerateConv2DShader(s)},
	})
	if err != nil {
		return nil, err
	}
	defer mod.Release()

	p.pipeline, err = dev.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:   layer.Name + "_Pipe",
		Compute: wgpu.ProgrammableStageDescriptor{Module: mod, EntryPoint: "main"},
	})
	if err != nil {
		return nil, err
	}

	storageIn := wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst
	if p.inputBuf, err = g.ctx.NewStorageBuffer(layer.Name+"_In", s.inputSize(), storageIn); err != nil {
		return nil, err
	}
	if p.kernelBuf, err = g.ctx.NewFloatBuffer(layer.Name+"_Kernel", layer.Kernel, storageIn); err != nil {
		return nil, err
	}
	if p.biasBuf, err = g.ctx.NewFloatBuffer(layer.Name+"_Bias", layer.Bias, storageIn); err != nil {
		return nil, err
	}
	if p.outputBuf, err = g.ctx.NewStorageBuffer(layer.Name+"_Out", s.outputSize(), wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc); err != nil {
		return nil, err
	}

	p.bindGroup, err = dev.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  layer.Name + "_Bind",
		Layout: p.pipeline.GetBindGroupLayout(0),
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: p.inputBuf, Size: p.inputBuf.GetSize()},
			{Binding: 1, Buffer: p.kernelBuf, Size: p.kernelBuf.GetSize()},
			{Binding: 2, Buffer: p.biasBuf, Size: p.biasBuf.GetSize()},
			{Binding: 3, Buffer: p.outputBuf, Size: p.outputBuf.GetSize()},
		},
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Release frees every compiled pipeline and buffer.
func (g *Conv2DBackend) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for key, p := range g.pipelines {
		for _, b := range []*wgpu.Buffer{p.inputBuf, p.kernelBuf, p.biasBuf, p.outputBuf} {
			if b != nil {
				b.Destroy()
			}
		}
		if p.bindGroup != nil {
			p.bindGroup.Release()
		}
		if p.pipeline != nil {
			p.pipeline.Release()
		}
		delete(g.pipelines, key)
	}
}
