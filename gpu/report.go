package gpu

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/openfluke/webgpu/wgpu"
)

// Report summarizes the adapter the convolution backend runs on.
type Report struct {
	Name        string   `json:"name"`
	Vendor      string   `json:"vendor"`
	Backend     string   `json:"backend"`
	AdapterType string   `json:"adapter_type"`
	VendorID    string   `json:"vendor_id_hex"`
	DeviceID    string   `json:"device_id_hex"`
	Driver      string   `json:"driver"`
	Workgroup   uint32   `json:"workgroup"`
	Limits      Limits   `json:"limits"`
	Features    []string `json:"features"`
}

// Limits are the adapter limits that bound a conv2d dispatch.
type Limits struct {
	MaxComputeInvocationsPerWorkgroup uint32 `json:"max_compute_invocations_per_workgroup"`
	MaxComputeWorkgroupSizeX          uint32 `json:"max_compute_workgroup_size_x"`
	MaxComputeWorkgroupsPerDimension  uint32 `json:"max_compute_workgroups_per_dimension"`
	MaxStorageBufferBindingSize       uint64 `json:"max_storage_buffer_binding_size"`
	MaxBufferSize                     uint64 `json:"max_buffer_size"`
}

// Detect initializes the shared context and describes its adapter.
func Detect(logger *slog.Logger) (*Report, error) {
	c, err := GetContext(logger)
	if err != nil {
		return nil, err
	}
	info := c.Adapter.GetInfo()

	var feats []string
	for _, f := range c.Adapter.EnumerateFeatures() {
		feats = append(feats, f.String())
	}

	return &Report{
		Name:        strings.TrimSpace(info.Name),
		Vendor:      strings.TrimSpace(info.VendorName),
		Backend:     info.BackendType.String(),
		AdapterType: info.AdapterType.String(),
		VendorID:    fmt.Sprintf("0x%04x", info.VendorId),
		DeviceID:    fmt.Sprintf("0x%04x", info.DeviceId),
		Driver:      strings.TrimSpace(info.DriverDescription),
		Workgroup:   c.Workgroup,
		Limits:      c.Limits,
		Features:    feats,
	}, nil
}

func limitsOf(l wgpu.SupportedLimits) Limits {
	return Limits{
		MaxComputeInvocationsPerWorkgroup: l.Limits.MaxComputeInvocationsPerWorkgroup,
		MaxComputeWorkgroupSizeX:          l.Limits.MaxComputeWorkgroupSizeX,
		MaxComputeWorkgroupsPerDimension:  l.Limits.MaxComputeWorkgroupsPerDimension,
		MaxStorageBufferBindingSize:       l.Limits.MaxStorageBufferBindingSize,
		MaxBufferSize:                     l.Limits.MaxBufferSize,
	}
}

// chooseWorkgroup picks the largest 1D workgroup the adapter accepts.
func chooseWorkgroup(l Limits) uint32 {
	for _, c := range []uint32{256, 128, 64, 32, 16, 8, 4, 1} {
		if c <= l.MaxComputeWorkgroupSizeX && c <= l.MaxComputeInvocationsPerWorkgroup {
			return c
		}
	}
	return 1
}
