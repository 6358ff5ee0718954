// Package device defines what the allocation cache and the buffer facade need
// from a compute device: a raw, reference-counted allocation handle and a small
// set of capability interfaces. Concrete devices live in the cpu and gpu
// subpackages; driver bindings (the actual host slices or WebGPU buffers)
// never leak past RawAlloc.
package device

import (
	"github.com/slate-ml/slate/internal/graph"
)

// AllocFlag describes who owns a buffer's raw allocation.
type AllocFlag int

const (
	// FlagNone marks an exclusively owned allocation, freed when its last
	// holder releases it.
	FlagNone AllocFlag = iota
	// FlagCache marks an allocation shared through the allocation cache. A
	// buffer drop releases only the buffer's reference; the physical
	// allocation stays alive until the cache entry is evicted or overwritten.
	FlagCache
	// FlagWrapped marks external memory that this runtime never frees.
	FlagWrapped
)

// String returns a human-readable flag name.
func (f AllocFlag) String() string {
	switch f {
	case FlagNone:
		return "none"
	case FlagCache:
		return "cache"
	case FlagWrapped:
		return "wrapped"
	default:
		return "unknown"
	}
}

// RawAlloc is a device-specific raw allocation with shared ownership. The
// allocation cache and zero or more live buffers may each hold a reference;
// the device-level free runs when the last reference is released.
type RawAlloc interface {
	// Len returns the element count of the allocation.
	Len() int
	// ElemSize returns the size of one element in bytes.
	ElemSize() int
	// Node returns the graph node recorded when the allocation was made.
	Node() graph.Node
	// HostBytes returns the host-addressable backing memory, or nil when the
	// allocation is only reachable through a device transfer.
	HostBytes() []byte
	// Retain adds a reference.
	Retain()
	// Release drops a reference, freeing the allocation when none remain.
	Release()
}

// Capability interfaces. A device advertises what it can do by implementing
// them; consumers compose the ones they need instead of depending on a device
// type. All transfers are synchronous: they return only after the data is
// visible to the host or the device.

// Allocator performs raw allocations.
type Allocator interface {
	// AllocRaw allocates elems elements of elemSize bytes. It fails with
	// ErrInvalidLength when elems is zero and wraps driver failures in
	// ErrAllocation. The node is recorded on the allocation.
	AllocRaw(elems, elemSize int, node graph.Node) (RawAlloc, error)
}

// Reader transfers allocation contents to host memory.
type Reader interface {
	ReadBytes(raw RawAlloc) ([]byte, error)
}

// Writer transfers host data into an allocation.
type Writer interface {
	WriteBytes(raw RawAlloc, data []byte) error
}

// Clearer zero-fills an allocation.
type Clearer interface {
	ClearRaw(raw RawAlloc) error
}

// Cloner deep-copies an allocation into a fresh one recorded as node.
type Cloner interface {
	CopyRaw(src RawAlloc, node graph.Node) (RawAlloc, error)
}

// Memory is the full byte-level surface the buffer facade needs.
type Memory interface {
	Allocator
	Reader
	Writer
	Clearer
	Cloner
}
