package sqlitestore

import (
	"encoding/binary"
	"math"
)

// serializeEmbedding packs a float32 vector into a little-endian byte blob,
// matching the teacher's embedding BLOB encoding so a database produced by
// either store can be inspected with the same byte layout.
func serializeEmbedding(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func deserializeEmbedding(blob []byte) []float32 {
	n := len(blob) / 4
	vec := make([]float32, n)
	for i := 0; i < n; i++ {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec
}
