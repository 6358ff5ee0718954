// Package cache implements the ident-keyed allocation cache shared by all
// device types.
//
// Operations never ask "is this cached?"; they ask for a freshly usable
// allocation at a call-position-derived identity. After the first loop
// iteration, a counter reset makes every identical call sequence replay the
// same identities, so steady-state iterations are allocation-free. The scheme
// is correct only under the caller contract that the operation sequence per
// counter-reset epoch is deterministic; the cache does not (and cannot) guard
// against divergent control flow.
package cache

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/slate-ml/slate/internal/device"
	"github.com/slate-ml/slate/internal/graph"
	"github.com/slate-ml/slate/internal/ident"
)

// AllocFn performs the real allocation on a cache miss. The graph node passed
// in was produced by the caller's AddNode callback.
type AllocFn func(elems int, node graph.Node) (device.RawAlloc, error)

// AddNodeFn records graph metadata for a miss. It is never invoked on a hit,
// which is the point: cache hits skip graph bookkeeping entirely. A nil
// AddNodeFn records nothing (used by gradient buffers).
type AddNodeFn func() graph.Node

// Cache maps buffer-slot identities to live shared allocations for one device.
// At most one live allocation exists per identity at any time.
type Cache struct {
	nodes   map[ident.Ident]device.RawAlloc
	aliases map[uint64]uint64 // trace-optimized slot redirects, by count

	hits    uint64
	misses  uint64
	liveLen uint64 // bytes held by live entries
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{nodes: make(map[ident.Ident]device.RawAlloc)}
}

// Get returns the allocation for id, reusing the existing one when the
// identity is present with a matching length and allocating otherwise.
//
// Hit path: the stored allocation is retained and returned; no allocation, no
// graph mutation. Miss path (absent, or present with a different length
// because the shape changed between iterations): addNode records the graph
// node, alloc performs the real allocation, and the new allocation replaces
// any previous entry at the slot. The replaced allocation is released from the
// cache's side only; holders elsewhere keep it alive, it is just no longer
// reachable through the map.
//
// The returned allocation carries one reference owned by the caller.
func (c *Cache) Get(id ident.Ident, alloc AllocFn, addNode AddNodeFn) (device.RawAlloc, error) {
	if id.Len == 0 {
		return nil, errors.Wrapf(device.ErrInvalidLength, "cache get at count %d", id.Count)
	}
	id = c.resolve(id)

	if raw, ok := c.nodes[id]; ok {
		c.hits++
		klog.V(3).Infof("cache hit count=%d len=%d", id.Count, id.Len)
		raw.Retain()
		return raw, nil
	}

	c.misses++
	klog.V(3).Infof("cache miss count=%d len=%d", id.Count, id.Len)

	var node graph.Node
	if addNode != nil {
		node = addNode()
	}
	raw, err := alloc(id.Len, node)
	if err != nil {
		return nil, err
	}
	c.insert(id, raw)
	raw.Retain() // caller's reference, on top of the cache's
	return raw, nil
}

// insert stores raw at id, releasing the cache's reference to any previous
// entry at the slot (including a same-count entry whose length changed).
func (c *Cache) insert(id ident.Ident, raw device.RawAlloc) {
	for old := range c.nodes {
		if old.Count == id.Count && old.Len != id.Len {
			c.evict(old)
		}
	}
	if old, ok := c.nodes[id]; ok {
		old.Release()
		c.liveLen -= uint64(old.Len() * old.ElemSize())
	}
	c.nodes[id] = raw
	c.liveLen += uint64(raw.Len() * raw.ElemSize())
}

func (c *Cache) evict(id ident.Ident) {
	if old, ok := c.nodes[id]; ok {
		c.liveLen -= uint64(old.Len() * old.ElemSize())
		old.Release()
		delete(c.nodes, id)
	}
}

// resolve applies trace-optimized slot redirects.
func (c *Cache) resolve(id ident.Ident) ident.Ident {
	if c.aliases == nil {
		return id
	}
	if root, ok := c.aliases[id.Count]; ok {
		return ident.Ident{Count: root, Len: id.Len}
	}
	return id
}

// ApplyTraces redirects the slots of every trace member to its trace root, so
// a chain of single-use, same-length nodes shares one physical allocation.
// Safe to call before the affected slots are populated; typically applied
// after the first epoch, before the counter reset.
func (c *Cache) ApplyTraces(traces []graph.Trace) {
	if len(traces) == 0 {
		return
	}
	if c.aliases == nil {
		c.aliases = make(map[uint64]uint64)
	}
	for _, t := range traces {
		for _, m := range t.Members {
			c.aliases[uint64(m)] = uint64(t.Root)
			for id := range c.nodes {
				if id.Count == uint64(m) {
					c.evict(id)
				}
			}
		}
	}
}

// Len returns the number of live cache entries.
func (c *Cache) Len() int {
	return len(c.nodes)
}

// Lookup returns the live allocation stored at id, if any, without touching
// statistics or taking a reference.
func (c *Cache) Lookup(id ident.Ident) (device.RawAlloc, bool) {
	raw, ok := c.nodes[c.resolve(id)]
	return raw, ok
}

// Clear releases the cache's reference to every entry and empties the map.
// Allocations still held by live buffers survive until those are dropped.
func (c *Cache) Clear() {
	for id, raw := range c.nodes {
		raw.Release()
		delete(c.nodes, id)
	}
	c.liveLen = 0
}

// Stats describes cache effectiveness since construction.
type Stats struct {
	Hits    uint64
	Misses  uint64
	Entries int
	Bytes   uint64
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	return Stats{Hits: c.hits, Misses: c.misses, Entries: len(c.nodes), Bytes: c.liveLen}
}

// String renders the stats for logs.
func (s Stats) String() string {
	return fmt.Sprintf("hits=%d misses=%d entries=%d bytes=%s",
		s.Hits, s.Misses, s.Entries, humanize.Bytes(s.Bytes))
}
