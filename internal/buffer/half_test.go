package buffer

import "testing"

func TestFloat16RoundTrip(t *testing.T) {
	in := []float32{0, 1, -1, 0.5, 65504, -65504, 0.25}
	out := DecodeFloat16(EncodeFloat16(in))
	if len(out) != len(in) {
		t.Fatalf("len = %d, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("index %d: got %v, want %v", i, out[i], in[i])
		}
	}
}

func TestFloat16Precision(t *testing.T) {
	// 1/3 is not representable in half precision; the round trip must stay
	// within half-float epsilon.
	in := []float32{1.0 / 3.0}
	out := DecodeFloat16(EncodeFloat16(in))
	diff := out[0] - in[0]
	if diff < 0 {
		diff = -diff
	}
	if diff > 1e-3 {
		t.Errorf("round trip drifted by %v", diff)
	}
}

func TestFloat16Empty(t *testing.T) {
	if got := EncodeFloat16(nil); len(got) != 0 {
		t.Errorf("encode nil = %v bytes", len(got))
	}
	if got := DecodeFloat16(nil); len(got) != 0 {
		t.Errorf("decode nil = %v values", len(got))
	}
}
