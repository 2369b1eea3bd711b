package gpu

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/openfluke/webgpu/wgpu"
)

// Context holds the single WebGPU context for the application
type Context struct {
	Instance *wgpu.Instance
	Adapter  *wgpu.Adapter
	Device   *wgpu.Device
	Queue    *wgpu.Queue
	Info     AdapterInfo
	Limits   Limits

	// Workgroup is the 1D workgroup size shaders are generated with.
	Workgroup uint32

	once sync.Once
	err  error
}

// AdapterInfo describes the selected adapter.
type AdapterInfo struct {
	Name   string
	Vendor string
}

var ctx Context

// GetContext returns the singleton GPU context, initializing it if
// necessary. Adapter selection prefers a discrete NVIDIA device, then high
// performance, then low power, then the default adapter. A failed
// initialization is remembered and returned by every later call.
func GetContext(logger *slog.Logger) (*Context, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	ctx.once.Do(func() {
		ctx.err = ctx.init(logger)
	})
	if ctx.err != nil {
		return nil, ctx.err
	}
	return &ctx, nil
}

func (c *Context) init(logger *slog.Logger) error {
	c.Instance = wgpu.CreateInstance(nil)
	if c.Instance == nil {
		return fmt.Errorf("failed to create WebGPU instance")
	}

	for _, a := range c.Instance.EnumerateAdapters(nil) {
		info := a.GetInfo()
		logger.Debug("webgpu adapter found",
			slog.String("name", info.Name),
			slog.String("vendor", info.VendorName),
			slog.Any("type", info.AdapterType))
		if strings.Contains(strings.ToLower(info.Name), "nvidia") ||
			strings.Contains(strings.ToLower(info.VendorName), "nvidia") {
			c.Adapter = a
			break
		}
	}

	var err error
	preferences := []*wgpu.RequestAdapterOptions{
		{PowerPreference: wgpu.PowerPreferenceHighPerformance},
		{PowerPreference: wgpu.PowerPreferenceLowPower},
		nil,
	}
	for _, opts := range preferences {
		if c.Adapter != nil {
			break
		}
		c.Adapter, err = c.Instance.RequestAdapter(opts)
		if err != nil {
			logger.Debug("webgpu adapter request failed", slog.Any("error", err))
		}
	}
	if c.Adapter == nil {
		return fmt.Errorf("all adapter attempts failed: %v", err)
	}

	info := c.Adapter.GetInfo()
	c.Info = AdapterInfo{Name: info.Name, Vendor: info.VendorName}
	c.Limits = limitsOf(c.Adapter.GetLimits())
	c.Workgroup = chooseWorkgroup(c.Limits)
	logger.Info("using webgpu adapter",
		slog.String("name", info.Name),
		slog.String("vendor", info.VendorName),
		slog.Int("workgroup", int(c.Workgroup)))

	c.Device, err = c.Adapter.RequestDevice(nil)
	if err != nil {
		return fmt.Errorf("request device: %w", err)
	}
	c.Queue = c.Device.GetQueue()
	if c.Queue == nil {
		return fmt.Errorf("WebGPU device or queue not initialized")
	}
	return nil
}
