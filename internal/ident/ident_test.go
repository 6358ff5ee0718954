package ident

import "testing"

func TestCounterNext(t *testing.T) {
	var c Counter
	for i, n := range []int{5, 7, 2} {
		id := c.Next(n)
		if id.Count != uint64(i) || id.Len != n {
			t.Errorf("call %d: got %+v, want count=%d len=%d", i, id, i, n)
		}
	}
	if c.Get() != 3 {
		t.Errorf("Get() = %d, want 3", c.Get())
	}
}

func TestCounterResetReplay(t *testing.T) {
	var c Counter
	lens := []int{5, 7, 2, 10}

	first := make([]Ident, 0, len(lens))
	for _, n := range lens {
		first = append(first, c.Next(n))
	}

	c.Reset()
	for i, n := range lens {
		id := c.Next(n)
		if id != first[i] {
			t.Errorf("replay call %d: got %+v, want %+v", i, id, first[i])
		}
	}
}

func TestCounterSet(t *testing.T) {
	var c Counter
	c.Set(42)
	if id := c.Next(3); id.Count != 42 {
		t.Errorf("Next after Set(42): count = %d, want 42", id.Count)
	}
	c.Reset()
	if c.Get() != 0 {
		t.Errorf("Get after Reset = %d, want 0", c.Get())
	}
}

func TestIdentEquality(t *testing.T) {
	a := Ident{Count: 1, Len: 4}
	b := Ident{Count: 1, Len: 8}
	if a == b {
		t.Error("same count with different length must be a different slot")
	}
	if a != (Ident{Count: 1, Len: 4}) {
		t.Error("identical tuples must compare equal")
	}
}
