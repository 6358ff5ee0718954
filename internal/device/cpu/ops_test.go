package cpu

import (
	"testing"

	"github.com/slate-ml/slate/internal/buffer"
)

func TestAdd(t *testing.T) {
	d := New()
	lhs, _ := buffer.FromSlice(d, []float32{1, 2, 3})
	defer lhs.Free()
	rhs, _ := buffer.FromSlice(d, []float32{10, 20, 30})
	defer rhs.Free()

	out, err := Add(d, lhs, rhs)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	defer out.Free()

	vals, _ := out.Read()
	assertFloats(t, vals, []float32{11, 22, 33}, "add")
}

func TestRelu(t *testing.T) {
	d := New()
	in, _ := buffer.FromSlice(d, []float32{-1, 2, -3, 4})
	defer in.Free()

	out, err := Relu(d, in)
	if err != nil {
		t.Fatalf("Relu: %v", err)
	}
	defer out.Free()

	vals, _ := out.Read()
	assertFloats(t, vals, []float32{0, 2, 0, 4}, "relu")
}

func TestGemm(t *testing.T) {
	d := New()
	lhs, _ := buffer.FromSlice(d, []float32{1, 2, 3, 4})
	defer lhs.Free()
	rhs, _ := buffer.FromSlice(d, []float32{5, 6, 7, 8})
	defer rhs.Free()

	out, err := Gemm(d, 2, 2, 2, lhs, rhs)
	if err != nil {
		t.Fatalf("Gemm: %v", err)
	}
	defer out.Free()

	vals, _ := out.Read()
	assertFloats(t, vals, []float32{19, 22, 43, 50}, "2x2 gemm")
}

// epoch runs one iteration of a fixed operation sequence through the cache.
func epoch(t *testing.T, d *Device) (*buffer.Buffer[float32], *buffer.Buffer[float32]) {
	t.Helper()
	x, err := buffer.Cached[float32](d, 4)
	if err != nil {
		t.Fatalf("Cached: %v", err)
	}
	y, err := Add(d, x, x)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	return x, y
}

func TestCacheReuseAcrossEpochs(t *testing.T) {
	d := New()

	x1, y1 := epoch(t, d)
	after := d.Allocs()
	if after != 2 {
		t.Fatalf("first epoch allocations = %d, want 2", after)
	}

	d.ResetIdents()
	x2, y2 := epoch(t, d)

	if d.Allocs() != after {
		t.Errorf("second epoch allocated (%d -> %d), want full reuse", after, d.Allocs())
	}
	if x1.Raw() != x2.Raw() || y1.Raw() != y2.Raw() {
		t.Error("replayed calls must return the same allocations")
	}

	stats := d.Cache().Stats()
	if stats.Hits != 2 || stats.Misses != 2 {
		t.Errorf("stats = %+v, want 2 hits and 2 misses", stats)
	}
}

func TestShapeChangeBetweenEpochs(t *testing.T) {
	d := New()

	small, err := buffer.Cached[float32](d, 4)
	if err != nil {
		t.Fatalf("Cached: %v", err)
	}

	d.ResetIdents()
	big, err := buffer.Cached[float32](d, 8)
	if err != nil {
		t.Fatalf("Cached: %v", err)
	}

	if small.Raw() == big.Raw() {
		t.Error("length change at the same call position must allocate fresh")
	}
	if d.Cache().Len() != 1 {
		t.Errorf("cache entries = %d, want 1 (stale slot replaced)", d.Cache().Len())
	}
}

func TestCachedRecordsGraphOnMissOnly(t *testing.T) {
	d := New()

	epoch(t, d)
	recorded := d.Graph().Len()
	if recorded != 2 {
		t.Fatalf("graph nodes after first epoch = %d, want 2", recorded)
	}

	d.ResetIdents()
	epoch(t, d)
	if d.Graph().Len() != recorded {
		t.Errorf("graph grew on cache hits (%d -> %d)", recorded, d.Graph().Len())
	}
}

func TestOptimizeCacheSharesChainSlots(t *testing.T) {
	d := New()

	run := func() (*buffer.Buffer[float32], *buffer.Buffer[float32]) {
		x, err := buffer.Cached[float32](d, 4)
		if err != nil {
			t.Fatalf("Cached: %v", err)
		}
		if err := x.Write([]float32{-1, 2, -3, 4}); err != nil {
			t.Fatalf("Write: %v", err)
		}
		y, err := Add(d, x, x)
		if err != nil {
			t.Fatalf("Add: %v", err)
		}
		z, err := Relu(d, y)
		if err != nil {
			t.Fatalf("Relu: %v", err)
		}
		return y, z
	}

	run()
	allocs := d.Allocs()
	d.OptimizeCache()
	d.ResetIdents()

	y, z := run()
	if y.Raw() != z.Raw() {
		t.Error("single-consumer chain must share one allocation after optimization")
	}
	if d.Allocs() != allocs {
		t.Errorf("optimized epoch allocated (%d -> %d)", allocs, d.Allocs())
	}

	// Sharing must not change values: relu runs element-wise in place on the
	// shared slot.
	vals, _ := z.Read()
	assertFloats(t, vals, []float32{0, 4, 0, 8}, "relu over shared slot")
}
