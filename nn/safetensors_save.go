package nn

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
)

// SaveSafetensors writes tensors to a safetensors file
func SaveSafetensors(filepath string, tensors []NamedTensor, metadata map[string]string) error {
	data, err := SerializeSafetensors(tensors, metadata)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath, data, 0644)
}

// SerializeSafetensors encodes tensors as little-endian F32 in the
// safetensors layout: [header size (8 bytes)] [header JSON] [tensor data].
// Tensors are stored in name order.
func SerializeSafetensors(tensors []NamedTensor, metadata map[string]string) ([]byte, error) {
	sorted := make([]NamedTensor, len(tensors))
	copy(sorted, tensors)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	header := make(map[string]interface{}, len(sorted)+1)
	if len(metadata) > 0 {
		header[metadataKey] = metadata
	}

	currentOffset := 0
	for i, t := range sorted {
		if i > 0 && sorted[i-1].Name == t.Name {
			return nil, fmt.Errorf("duplicate tensor %s", t.Name)
		}
		if n := elementCount(t.Shape); n != len(t.Values) {
			return nil, fmt.Errorf("%w: tensor %s has shape %v but %d values", ErrShapeMismatch, t.Name, t.Shape, len(t.Values))
		}
		dataSize := len(t.Values) * 4
		header[t.Name] = TensorInfo{
			DType:  dtypeF32,
			Shape:  t.Shape,
			Offset: []int{currentOffset, currentOffset + dataSize},
		}
		currentOffset += dataSize
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal header: %w", err)
	}

	headerSize := uint64(len(headerJSON))
	result := make([]byte, 8+headerSize+uint64(currentOffset))
	binary.LittleEndian.PutUint64(result[0:8], headerSize)
	copy(result[8:8+headerSize], headerJSON)

	dest := result[8+headerSize:]
	for _, t := range sorted {
		for i, val := range t.Values {
			binary.LittleEndian.PutUint32(dest[i*4:], math.Float32bits(val))
		}
		dest = dest[len(t.Values)*4:]
	}
	return result, nil
}

// SaveWeights writes every learned parameter of the model. The header
// metadata records the model id and its configuration.
func (m *Model) SaveWeights(filepath string) error {
	cfg, err := json.Marshal(m.Config)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	metadata := map[string]string{
		metaFormat:  formatName,
		metaModelID: m.ID,
		metaConfig:  string(cfg),
	}
	if err := SaveSafetensors(filepath, m.Tensors(), metadata); err != nil {
		return fmt.Errorf("save weights %s: %w", filepath, err)
	}
	return nil
}

func elementCount(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}
