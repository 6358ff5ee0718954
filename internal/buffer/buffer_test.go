package buffer

import "testing"

func TestScalarBuffer(t *testing.T) {
	s := Scalar(float32(7))
	if !s.IsScalar() {
		t.Error("Scalar must report IsScalar")
	}
	if s.Len() != 0 {
		t.Errorf("Len = %d, want 0", s.Len())
	}
	if s.Device() != nil {
		t.Error("scalar buffer must have no device")
	}
	if s.Item() != 7 {
		t.Errorf("Item = %v, want 7", s.Item())
	}

	s.SetItem(9)
	vals, err := s.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(vals) != 1 || vals[0] != 9 {
		t.Errorf("Read = %v, want [9]", vals)
	}
}

func TestScalarFreeIsNoop(t *testing.T) {
	s := Scalar(int32(3))
	s.Free()
	s.Free()
	if s.Item() != 3 {
		t.Errorf("Item after Free = %v, want 3", s.Item())
	}
}
