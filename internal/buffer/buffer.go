// Package buffer implements the typed buffer facade over raw device
// allocations. A Buffer either owns its allocation exclusively, borrows one
// from the device's allocation cache, wraps external memory, or holds a single
// inline scalar (no device, length zero).
package buffer

import (
	"unsafe"

	"github.com/pkg/errors"

	"github.com/slate-ml/slate/internal/cache"
	"github.com/slate-ml/slate/internal/device"
	"github.com/slate-ml/slate/internal/graph"
	"github.com/slate-ml/slate/internal/ident"
)

// Num constrains buffer element types.
type Num interface {
	~float32 | ~float64 | ~int32 | ~int64 | ~uint8
}

// Device is what the buffer facade needs from a compute device: byte-level
// memory operations plus the shared cache, graph and identity counter.
// Devices are single-goroutine; nothing here locks.
type Device interface {
	device.Memory
	Name() string
	Cache() *cache.Cache
	Graph() *graph.Graph
	Idents() *ident.Counter
}

// Buffer is the handle an operation receives and returns.
type Buffer[T Num] struct {
	raw    device.RawAlloc
	len    int
	dev    Device
	flag   device.AllocFlag
	node   graph.Node
	scalar T
}

// New allocates an uncached buffer of len elements on dev. The allocation is
// exclusively owned and freed by Free.
func New[T Num](dev Device, len int) (*Buffer[T], error) {
	id := dev.Idents().Next(len)
	node := dev.Graph().AddLeaf(int(id.Count), len)
	raw, err := dev.AllocRaw(len, sizeOf[T](), node)
	if err != nil {
		return nil, err
	}
	return &Buffer[T]{raw: raw, len: len, dev: dev, flag: device.FlagNone, node: node}, nil
}

// FromSlice allocates an uncached buffer and copies data into it.
func FromSlice[T Num](dev Device, data []T) (*Buffer[T], error) {
	if len(data) == 0 {
		return nil, errors.Wrap(device.ErrInvalidLength, "from slice")
	}
	buf, err := New[T](dev, len(data))
	if err != nil {
		return nil, err
	}
	if err := buf.Write(data); err != nil {
		buf.Free()
		return nil, err
	}
	return buf, nil
}

// Cached returns the buffer for the current call position through the
// allocation cache, recording a graph node with the given dependency indices
// on the miss path. Operations call this with the node indices of their
// operands; leaf call sites pass none.
//
// Reuse is deterministic only when the caller replays the same operation
// sequence per counter-reset epoch; see the ident package.
func Cached[T Num](dev Device, len int, deps ...int) (*Buffer[T], error) {
	id := dev.Idents().Next(len)
	return CachedAt[T](dev, id, func() graph.Node {
		return dev.Graph().Add(int(id.Count), len, deps...)
	})
}

// CachedAt returns the cache-backed buffer for an explicit identity from the
// device's own cache.
func CachedAt[T Num](dev Device, id ident.Ident, addNode cache.AddNodeFn) (*Buffer[T], error) {
	return CachedIn[T](dev.Cache(), dev, id, addNode)
}

// CachedIn is CachedAt against an explicit cache. The gradient tape keeps its
// own cache and uses this to materialize gradient buffers for idents captured
// during the forward pass, without advancing the counter and without graph
// bookkeeping (addNode may be nil).
func CachedIn[T Num](c *cache.Cache, dev Device, id ident.Ident, addNode cache.AddNodeFn) (*Buffer[T], error) {
	raw, err := c.Get(id, func(elems int, node graph.Node) (device.RawAlloc, error) {
		return dev.AllocRaw(elems, sizeOf[T](), node)
	}, addNode)
	if err != nil {
		return nil, err
	}
	return &Buffer[T]{raw: raw, len: id.Len, dev: dev, flag: device.FlagCache, node: raw.Node()}, nil
}

// FromRaw wraps an existing raw allocation in a typed buffer. The device
// packages use this for adopted host slices and unified construction; the
// reference passed in is owned by the returned buffer.
func FromRaw[T Num](dev Device, raw device.RawAlloc, flag device.AllocFlag) *Buffer[T] {
	return &Buffer[T]{raw: raw, len: raw.Len(), dev: dev, flag: flag, node: raw.Node()}
}

// Scalar returns a deviceless, zero-length buffer holding a single value.
func Scalar[T Num](v T) *Buffer[T] {
	return &Buffer[T]{scalar: v}
}

// Len returns the element count. A scalar buffer has length zero.
func (b *Buffer[T]) Len() int { return b.len }

// IsScalar reports whether the buffer models a pure scalar.
func (b *Buffer[T]) IsScalar() bool { return b.dev == nil && b.len == 0 }

// Device returns the owning device, or nil for a scalar buffer.
func (b *Buffer[T]) Device() Device { return b.dev }

// Flag returns the allocation flag.
func (b *Buffer[T]) Flag() device.AllocFlag { return b.flag }

// Node returns the dependency-graph node recorded for this buffer.
func (b *Buffer[T]) Node() graph.Node { return b.node }

// NodeIdx returns the graph index operations pass as a dependency id.
func (b *Buffer[T]) NodeIdx() int { return b.node.Idx }

// Ident returns the buffer's slot identity.
func (b *Buffer[T]) Ident() ident.Ident {
	return ident.Ident{Count: uint64(b.node.Idx), Len: b.len}
}

// Raw exposes the underlying allocation.
func (b *Buffer[T]) Raw() device.RawAlloc { return b.raw }

// Item returns the scalar value. Valid only for scalar buffers.
func (b *Buffer[T]) Item() T { return b.scalar }

// SetItem replaces the scalar value.
func (b *Buffer[T]) SetItem(v T) { b.scalar = v }

// Slice returns a direct typed view of host-addressable memory, or nil when
// the allocation lives only on the device. Host and unified-memory buffers are
// readable and writable through it without a transfer.
func (b *Buffer[T]) Slice() []T {
	if b.raw == nil {
		return nil
	}
	hb := b.raw.HostBytes()
	if hb == nil {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(&hb[0])), b.len)
}

// Read returns the buffer's contents. Host-addressable memory is served
// directly; otherwise this is a synchronous device-to-host transfer that
// blocks until the data is resident.
func (b *Buffer[T]) Read() ([]T, error) {
	if b.IsScalar() {
		return []T{b.scalar}, nil
	}
	if s := b.Slice(); s != nil {
		return s, nil
	}
	raw, err := b.dev.ReadBytes(b.raw)
	if err != nil {
		return nil, err
	}
	return unsafe.Slice((*T)(unsafe.Pointer(&raw[0])), b.len), nil
}

// ReadToVec returns a copy of the buffer's contents.
func (b *Buffer[T]) ReadToVec() ([]T, error) {
	s, err := b.Read()
	if err != nil {
		return nil, err
	}
	out := make([]T, len(s))
	copy(out, s)
	return out, nil
}

// Write copies data into the buffer (host-to-device transfer where needed).
func (b *Buffer[T]) Write(data []T) error {
	if len(data) != b.len {
		return errors.Errorf("buffer: write of %d elements into buffer of len %d", len(data), b.len)
	}
	return b.dev.WriteBytes(b.raw, toBytes(data))
}

// Clear zero-fills the buffer.
func (b *Buffer[T]) Clear() error {
	return b.dev.ClearRaw(b.raw)
}

// CloneBuf returns a deep copy on the same device, exclusively owned.
func (b *Buffer[T]) CloneBuf() (*Buffer[T], error) {
	id := b.dev.Idents().Next(b.len)
	node := b.dev.Graph().AddLeaf(int(id.Count), b.len)
	raw, err := b.dev.CopyRaw(b.raw, node)
	if err != nil {
		return nil, err
	}
	return &Buffer[T]{raw: raw, len: b.len, dev: b.dev, flag: device.FlagNone, node: node}, nil
}

// Free drops this handle's reference to the allocation. An exclusively owned
// allocation is physically freed; a cache-shared one stays alive in the cache;
// wrapped external memory is never freed here. Free is idempotent.
func (b *Buffer[T]) Free() {
	if b.raw == nil {
		return
	}
	if b.flag != device.FlagWrapped {
		b.raw.Release()
	}
	b.raw = nil
}

func sizeOf[T Num]() int {
	var v T
	return int(unsafe.Sizeof(v))
}

func toBytes[T Num](data []T) []byte {
	if len(data) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&data[0])), len(data)*sizeOf[T]())
}
