package embedding

import (
	"fmt"
	"math"

	"github.com/vmihailenco/msgpack/v5"

	"doorkeeper/internal/faults"
)

// Encode serializes v for storage. A nil vector encodes to nil so the
// column can stay NULL.
func Encode(v Vector) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	data, err := msgpack.Marshal([]float32(v))
	if err != nil {
		return nil, fmt.Errorf("encode embedding: %w", err)
	}
	return data, nil
}

// Decode parses a stored blob. Empty input yields a nil vector; anything
// unparseable, empty, or non-finite is reported as corrupted data.
func Decode(data []byte) (Vector, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var out []float32
	if err := msgpack.Unmarshal(data, &out); err != nil {
		return nil, faults.Wrap(faults.ErrCorruptedData, "embedding", "decode", "unreadable blob", err)
	}
	if len(out) == 0 {
		return nil, faults.Wrap(faults.ErrCorruptedData, "embedding", "decode", "empty vector", nil)
	}
	for _, x := range out {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return nil, faults.Wrap(faults.ErrCorruptedData, "embedding", "decode", "non-finite component", nil)
		}
	}
	return Vector(out), nil
}
