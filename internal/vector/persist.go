package vector

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

// meta is the human-readable metadata record.
type meta struct {
	Dimensions int `json:"dimensions"`
}

func readMeta(path string) (meta, error) {
	var m meta
	data, err := os.ReadFile(path)
	if err != nil {
		return m, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("%w: %s: %v", ErrIndexCorrupt, path, err)
	}
	return m, nil
}

func writeMeta(path string, m meta) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// Save writes the vector and ID arrays. Each file is written to a temporary
// name and renamed into place; the pair is not replaced atomically.
func (x *Index) Save() error {
	vectorsPath := filepath.Join(x.dir, VectorsFile)
	idsPath := filepath.Join(x.dir, DocIDsFile)
	tmpVectors := vectorsPath + ".tmp"
	tmpIDs := idsPath + ".tmp"

	if err := os.WriteFile(tmpVectors, encodeF32(x.vectors), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmpVectors, err)
	}
	if err := os.WriteFile(tmpIDs, encodeU64(x.docIDs), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmpIDs, err)
	}
	if err := os.Rename(tmpVectors, vectorsPath); err != nil {
		return fmt.Errorf("failed to replace %s: %w", vectorsPath, err)
	}
	if err := os.Rename(tmpIDs, idsPath); err != nil {
		return fmt.Errorf("failed to replace %s: %w", idsPath, err)
	}
	return nil
}

// encodeF32 encodes values as a little-endian IEEE 754 array with no header.
func encodeF32(values []float32) []byte {
	out := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

func decodeF32(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("length %d is not a multiple of 4", len(b))
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out, nil
}

func encodeU64(values []uint64) []byte {
	out := make([]byte, len(values)*8)
	for i, v := range values {
		binary.LittleEndian.PutUint64(out[i*8:], v)
	}
	return out
}

func decodeU64(b []byte) ([]uint64, error) {
	if len(b)%8 != 0 {
		return nil, fmt.Errorf("length %d is not a multiple of 8", len(b))
	}
	out := make([]uint64, len(b)/8)
	for i := range out {
		out[i] = binary.LittleEndian.Uint64(b[i*8:])
	}
	return out, nil
}
