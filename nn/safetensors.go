package nn

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"slices"
)

const (
	metadataKey = "__metadata__"
	dtypeF32    = "F32"

	metaFormat  = "format"
	metaModelID = "model_id"
	metaConfig  = "config"
	formatName  = "capseg"
)

// TensorInfo describes a tensor's properties
type TensorInfo struct {
	DType  string `json:"dtype"`
	Shape  []int  `json:"shape"`
	Offset []int  `json:"data_offsets"`
}

// Safetensors is a decoded safetensors file.
type Safetensors struct {
	Metadata map[string]string
	Tensors  map[string]NamedTensor
}

// LoadSafetensors reads a safetensors file
func LoadSafetensors(filepath string) (*Safetensors, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return ParseSafetensors(data)
}

// ParseSafetensors decodes safetensors bytes. Only F32 tensors are
// supported; every tensor must lie inside the data section.
func ParseSafetensors(data []byte) (*Safetensors, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("data too short: need at least 8 bytes for header size")
	}

	headerSize := binary.LittleEndian.Uint64(data[0:8])
	if headerSize > uint64(len(data)-8) {
		return nil, fmt.Errorf("data too short: header size %d but only %d bytes available", headerSize, len(data)-8)
	}

	var rawHeader map[string]json.RawMessage
	if err := json.Unmarshal(data[8:8+headerSize], &rawHeader); err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}

	allData := data[8+headerSize:]
	st := &Safetensors{
		Metadata: map[string]string{},
		Tensors:  make(map[string]NamedTensor, len(rawHeader)),
	}

	for name, raw := range rawHeader {
		if name == metadataKey {
			if err := json.Unmarshal(raw, &st.Metadata); err != nil {
				return nil, fmt.Errorf("failed to parse metadata: %w", err)
			}
			continue
		}

		var info TensorInfo
		if err := json.Unmarshal(raw, &info); err != nil {
			return nil, fmt.Errorf("tensor %s: %w", name, err)
		}
		if info.DType != dtypeF32 {
			return nil, fmt.Errorf("tensor %s: unsupported dtype %s", name, info.DType)
		}
		if len(info.Offset) != 2 {
			return nil, fmt.Errorf("tensor %s: malformed data_offsets %v", name, info.Offset)
		}

		numElements, ok := checkedElementCount(info.Shape, len(allData)/4)
		if !ok {
			return nil, fmt.Errorf("tensor %s: invalid shape %v", name, info.Shape)
		}
		start, end := info.Offset[0], info.Offset[1]
		if start < 0 || end < start || end > len(allData) || end-start != numElements*4 {
			return nil, fmt.Errorf("tensor %s: offsets [%d, %d) do not hold %d F32 values in %d bytes",
				name, start, end, numElements, len(allData))
		}

		values := make([]float32, numElements)
		for i := range values {
			values[i] = math.Float32frombits(binary.LittleEndian.Uint32(allData[start+i*4:]))
		}
		st.Tensors[name] = NamedTensor{Name: name, Shape: info.Shape, Values: values}
	}
	return st, nil
}

// LoadWeights replaces the model's parameters with those stored in a file
// written by SaveWeights. Every parameter must be present with the same
// shape; the model is left unchanged on error.
func (m *Model) LoadWeights(filepath string) error {
	st, err := LoadSafetensors(filepath)
	if err != nil {
		return fmt.Errorf("load weights %s: %w", filepath, err)
	}
	if f, ok := st.Metadata[metaFormat]; ok && f != formatName {
		return fmt.Errorf("load weights %s: format %q is not %q", filepath, f, formatName)
	}

	params := m.Tensors()
	for _, p := range params {
		t, ok := st.Tensors[p.Name]
		if !ok {
			return fmt.Errorf("load weights %s: missing tensor %s", filepath, p.Name)
		}
		if !slices.Equal(t.Shape, p.Shape) {
			return fmt.Errorf("%w: load weights %s: tensor %s has shape %v, model needs %v",
				ErrShapeMismatch, filepath, p.Name, t.Shape, p.Shape)
		}
	}
	if len(st.Tensors) != len(params) {
		return fmt.Errorf("load weights %s: file holds %d tensors, model has %d", filepath, len(st.Tensors), len(params))
	}

	for _, p := range params {
		copy(p.Values, st.Tensors[p.Name].Values)
	}
	if id := st.Metadata[metaModelID]; id != "" {
		m.ID = id
	}
	return nil
}

// checkedElementCount multiplies out shape, failing on negative dimensions
// or a product larger than limit.
func checkedElementCount(shape []int, limit int) (int, bool) {
	if slices.ContainsFunc(shape, func(d int) bool { return d < 0 }) {
		return 0, false
	}
	n := 1
	for _, d := range shape {
		if d == 0 {
			return 0, true
		}
		if n > limit/d {
			return 0, false
		}
		n *= d
	}
	return n, true
}
