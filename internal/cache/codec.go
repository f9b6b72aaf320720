package cache

import (
	"encoding/binary"
	"math"
)

// EncodeVector packs a float32 embedding into little-endian bytes for
// storage alongside JSON search results.
func EncodeVector(v []float32) []byte {
	b := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(f))
	}
	return b
}

// DecodeVector is the inverse of EncodeVector. Returns false when the
// payload length is not a multiple of four bytes.
func DecodeVector(b []byte) ([]float32, bool) {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil, false
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out, true
}
