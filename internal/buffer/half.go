package buffer

import (
	"encoding/binary"

	"github.com/x448/float16"
)

// Half-precision host codec. The GPU device's f16 storage mode halves
// device-side memory by storing float32 buffers as IEEE 754 half floats;
// these helpers run on the host side of every transfer.

// EncodeFloat16 packs float32 values into little-endian half-float bytes.
func EncodeFloat16(data []float32) []byte {
	out := make([]byte, len(data)*2)
	for i, v := range data {
		binary.LittleEndian.PutUint16(out[i*2:], float16.Fromfloat32(v).Bits())
	}
	return out
}

// DecodeFloat16 unpacks little-endian half-float bytes into float32 values.
func DecodeFloat16(raw []byte) []float32 {
	out := make([]float32, len(raw)/2)
	for i := range out {
		out[i] = float16.Frombits(binary.LittleEndian.Uint16(raw[i*2:])).Float32()
	}
	return out
}
