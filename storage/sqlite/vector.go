package sqlite

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/poiesic/maildex/storage"
)

// deserializeFloat32 reverses sqlite_vec.SerializeFloat32: little-endian
// IEEE 754 float32 values packed back to back.
func deserializeFloat32(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("%w: embedding blob of %d bytes", storage.ErrTruncatedData, len(blob))
	}
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec, nil
}
