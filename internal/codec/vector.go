// Package codec holds the binary and JSON encodings shared by the
// storage (component B) and archive layers: float32 vector blobs and
// vector-clock JSON, so both read the exact same bytes back they wrote.
package codec

import (
	"encoding/binary"
	"fmt"
	"math"
)

// VectorToBytes packs a float32 vector into a little-endian byte blob
// for storage in the embeddings table.
func VectorToBytes(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// BytesToVector unpacks a blob written by VectorToBytes back into a
// float32 vector. Returns an error if the blob length isn't a multiple
// of 4 bytes.
func BytesToVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("codec: vector blob length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		bits := binary.LittleEndian.Uint32(b[i*4:])
		v[i] = math.Float32frombits(bits)
	}
	return v, nil
}
