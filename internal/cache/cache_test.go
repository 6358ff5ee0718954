package cache

import (
	"testing"

	"github.com/pkg/errors"

	"github.com/slate-ml/slate/internal/device"
	"github.com/slate-ml/slate/internal/graph"
	"github.com/slate-ml/slate/internal/ident"
)

// testAlloc is a host-free RawAlloc for exercising the cache without a device.
type testAlloc struct {
	device.Refs
	elems int
	node  graph.Node
	freed bool
}

func (a *testAlloc) Len() int          { return a.elems }
func (a *testAlloc) ElemSize() int     { return 4 }
func (a *testAlloc) Node() graph.Node  { return a.node }
func (a *testAlloc) HostBytes() []byte { return nil }

// allocator counts real allocations and remembers them.
type allocator struct {
	allocs []*testAlloc
}

func (al *allocator) fn(elems int, node graph.Node) (device.RawAlloc, error) {
	a := &testAlloc{elems: elems, node: node}
	a.InitRefs(func() { a.freed = true })
	al.allocs = append(al.allocs, a)
	return a, nil
}

func mustGet(t *testing.T, c *Cache, al *allocator, id ident.Ident, addNode AddNodeFn) device.RawAlloc {
	t.Helper()
	raw, err := c.Get(id, al.fn, addNode)
	if err != nil {
		t.Fatalf("Get(%+v): %v", id, err)
	}
	return raw
}

func TestGetMissThenHit(t *testing.T) {
	c := New()
	al := &allocator{}
	id := ident.Ident{Count: 0, Len: 4}

	nodeAdds := 0
	addNode := func() graph.Node {
		nodeAdds++
		return graph.Node{Idx: 0, Len: 4}
	}

	first := mustGet(t, c, al, id, addNode)
	second := mustGet(t, c, al, id, addNode)

	if first != second {
		t.Error("same identity must return the same allocation")
	}
	if len(al.allocs) != 1 {
		t.Errorf("real allocations = %d, want 1", len(al.allocs))
	}
	if nodeAdds != 1 {
		t.Errorf("graph nodes recorded = %d, want 1 (hits skip bookkeeping)", nodeAdds)
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 || stats.Entries != 1 {
		t.Errorf("stats = %+v, want 1 hit, 1 miss, 1 entry", stats)
	}
}

func TestGetZeroLength(t *testing.T) {
	c := New()
	al := &allocator{}
	_, err := c.Get(ident.Ident{Count: 0, Len: 0}, al.fn, nil)
	if !errors.Is(err, device.ErrInvalidLength) {
		t.Errorf("err = %v, want ErrInvalidLength", err)
	}
}

func TestShapeChangeReplacesSlot(t *testing.T) {
	c := New()
	al := &allocator{}

	first := mustGet(t, c, al, ident.Ident{Count: 0, Len: 4}, nil)
	second := mustGet(t, c, al, ident.Ident{Count: 0, Len: 8}, nil)

	if c.Len() != 1 {
		t.Errorf("entries = %d, want 1 (replaced, not accumulated)", c.Len())
	}
	if second.Len() != 8 {
		t.Errorf("live entry len = %d, want 8", second.Len())
	}

	// The cache released its reference to the old entry; the caller's
	// reference still keeps it alive.
	if al.allocs[0].freed {
		t.Error("replaced entry freed while a holder remains")
	}
	first.Release()
	if !al.allocs[0].freed {
		t.Error("replaced entry must free once the last holder drops it")
	}
}

func TestClearKeepsHeldAllocationsAlive(t *testing.T) {
	c := New()
	al := &allocator{}

	held := mustGet(t, c, al, ident.Ident{Count: 0, Len: 4}, nil)
	c.Clear()

	if c.Len() != 0 {
		t.Errorf("entries after Clear = %d, want 0", c.Len())
	}
	if al.allocs[0].freed {
		t.Error("held allocation freed by Clear")
	}
	held.Release()
	if !al.allocs[0].freed {
		t.Error("allocation must free after the holder releases")
	}
}

func TestApplyTracesAliasesSlots(t *testing.T) {
	c := New()
	al := &allocator{}

	root := mustGet(t, c, al, ident.Ident{Count: 1, Len: 4}, nil)
	c.ApplyTraces([]graph.Trace{{Root: 1, Members: []int{2, 3}}})

	member := mustGet(t, c, al, ident.Ident{Count: 2, Len: 4}, nil)
	if member != root {
		t.Error("trace member must resolve to the root's allocation")
	}
	if len(al.allocs) != 1 {
		t.Errorf("real allocations = %d, want 1", len(al.allocs))
	}

	if _, ok := c.Lookup(ident.Ident{Count: 3, Len: 4}); !ok {
		t.Error("every member count must resolve to the shared slot")
	}
}

func TestApplyTracesEvictsMemberEntries(t *testing.T) {
	c := New()
	al := &allocator{}

	mustGet(t, c, al, ident.Ident{Count: 1, Len: 4}, nil).Release()
	member := mustGet(t, c, al, ident.Ident{Count: 2, Len: 4}, nil)
	member.Release()

	c.ApplyTraces([]graph.Trace{{Root: 1, Members: []int{2}}})
	if c.Len() != 1 {
		t.Errorf("entries = %d, want 1 (member slot evicted)", c.Len())
	}
	if !al.allocs[1].freed {
		t.Error("evicted member allocation with no holders must be freed")
	}
}
