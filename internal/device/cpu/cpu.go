// Package cpu implements the host compute device. Allocations are Go slices,
// reads are direct slice views, and every cache-tracked operation flows
// through the same ident/cache/graph machinery as the accelerator devices.
package cpu

import (
	"fmt"
	"unsafe"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/slate-ml/slate/internal/autograd"
	"github.com/slate-ml/slate/internal/buffer"
	"github.com/slate-ml/slate/internal/cache"
	"github.com/slate-ml/slate/internal/device"
	"github.com/slate-ml/slate/internal/graph"
	"github.com/slate-ml/slate/internal/ident"
)

// hostAlloc is the raw allocation of the host device: a byte slice plus
// element layout. Freeing drops the slice; the Go runtime reclaims it once
// nothing aliases the memory.
type hostAlloc struct {
	device.Refs
	bytes    []byte
	elems    int
	elemSize int
	node     graph.Node
}

func (a *hostAlloc) Len() int          { return a.elems }
func (a *hostAlloc) ElemSize() int     { return a.elemSize }
func (a *hostAlloc) Node() graph.Node  { return a.node }
func (a *hostAlloc) HostBytes() []byte { return a.bytes }

// Device is the host CPU device. It owns an allocation cache, a dependency
// graph, a gradient tape and the identity counter. A Device and every buffer
// on it belong to a single goroutine.
type Device struct {
	id     string
	cache  *cache.Cache
	graph  *graph.Graph
	tape   *autograd.Tape
	idents ident.Counter

	allocs uint64 // real allocations performed, for stats and tests
}

// New creates a host device.
func New() *Device {
	d := &Device{
		id:    uuid.NewString(),
		cache: cache.New(),
		graph: graph.New(),
		tape:  autograd.NewTape(),
	}
	klog.V(2).Infof("cpu device %s created", d.id)
	return d
}

// Name returns the device name.
func (d *Device) Name() string { return "CPU" }

// ID returns the device instance id.
func (d *Device) ID() string { return d.id }

// Cache returns the device's allocation cache.
func (d *Device) Cache() *cache.Cache { return d.cache }

// Graph returns the device's dependency graph.
func (d *Device) Graph() *graph.Graph { return d.graph }

// Tape returns the device's gradient tape.
func (d *Device) Tape() *autograd.Tape { return d.tape }

// Idents returns the device's identity counter.
func (d *Device) Idents() *ident.Counter { return &d.idents }

// ResetIdents rewinds the identity counter to zero. Call at the top of a loop
// iteration so cache-tracked call sites replay their slots.
func (d *Device) ResetIdents() { d.idents.Reset() }

// OptimizeCache applies the graph's slot-sharing traces to the allocation
// cache. Values are unaffected; subsequent epochs allocate fewer slots.
func (d *Device) OptimizeCache() {
	d.cache.ApplyTraces(d.graph.CacheTraces())
}

// Allocs returns the number of real allocations performed so far.
func (d *Device) Allocs() uint64 { return d.allocs }

// String renders the device with its cache stats.
func (d *Device) String() string {
	return fmt.Sprintf("CPU{id: %s, %s}", d.id[:8], d.cache.Stats())
}

// AllocRaw allocates elems elements of elemSize bytes on the host.
func (d *Device) AllocRaw(elems, elemSize int, node graph.Node) (device.RawAlloc, error) {
	if elems == 0 {
		return nil, errors.Wrap(device.ErrInvalidLength, "cpu alloc")
	}
	a := &hostAlloc{bytes: make([]byte, elems*elemSize), elems: elems, elemSize: elemSize, node: node}
	a.InitRefs(func() { a.bytes = nil })
	d.allocs++
	return a, nil
}

// ReadBytes returns the backing memory directly; host reads need no transfer.
func (d *Device) ReadBytes(raw device.RawAlloc) ([]byte, error) {
	return raw.HostBytes(), nil
}

// WriteBytes copies data into the allocation.
func (d *Device) WriteBytes(raw device.RawAlloc, data []byte) error {
	hb := raw.HostBytes()
	if len(data) != len(hb) {
		return errors.Errorf("cpu: write of %d bytes into allocation of %d bytes", len(data), len(hb))
	}
	copy(hb, data)
	return nil
}

// ClearRaw zero-fills the allocation.
func (d *Device) ClearRaw(raw device.RawAlloc) error {
	clear(raw.HostBytes())
	return nil
}

// CopyRaw deep-copies src into a fresh allocation.
func (d *Device) CopyRaw(src device.RawAlloc, node graph.Node) (device.RawAlloc, error) {
	dst, err := d.AllocRaw(src.Len(), src.ElemSize(), node)
	if err != nil {
		return nil, err
	}
	copy(dst.HostBytes(), src.HostBytes())
	return dst, nil
}

// AdoptSlice takes ownership of an existing slice without copying, saving an
// allocation when the caller already built the data. The slice must not be
// used by the caller afterwards.
func AdoptSlice[T buffer.Num](d *Device, vec []T) (*buffer.Buffer[T], error) {
	if len(vec) == 0 {
		return nil, errors.Wrap(device.ErrInvalidLength, "adopt slice")
	}
	id := d.idents.Next(len(vec))
	node := d.graph.AddLeaf(int(id.Count), len(vec))
	var v T
	elemSize := int(unsafe.Sizeof(v))
	a := &hostAlloc{
		bytes:    unsafe.Slice((*byte)(unsafe.Pointer(&vec[0])), len(vec)*elemSize),
		elems:    len(vec),
		elemSize: elemSize,
		node:     node,
	}
	a.InitRefs(func() { a.bytes = nil })
	return buffer.FromRaw[T](d, a, device.FlagNone), nil
}

// WrapSlice wraps external memory the runtime must never free.
func WrapSlice[T buffer.Num](d *Device, vec []T) (*buffer.Buffer[T], error) {
	if len(vec) == 0 {
		return nil, errors.Wrap(device.ErrInvalidLength, "wrap slice")
	}
	id := d.idents.Next(len(vec))
	node := d.graph.AddLeaf(int(id.Count), len(vec))
	var v T
	elemSize := int(unsafe.Sizeof(v))
	a := &hostAlloc{
		bytes:    unsafe.Slice((*byte)(unsafe.Pointer(&vec[0])), len(vec)*elemSize),
		elems:    len(vec),
		elemSize: elemSize,
		node:     node,
	}
	a.InitRefs(nil)
	return buffer.FromRaw[T](d, a, device.FlagWrapped), nil
}

// CopySlice copies src[srcFrom:srcTo] into dst[dstFrom:dstTo]. Both ranges
// must have the same length.
func CopySlice[T buffer.Num](src *buffer.Buffer[T], srcFrom, srcTo int, dst *buffer.Buffer[T], dstFrom, dstTo int) error {
	if srcTo-srcFrom != dstTo-dstFrom {
		return errors.Errorf("cpu: copy range mismatch: %d vs %d elements", srcTo-srcFrom, dstTo-dstFrom)
	}
	copy(dst.Slice()[dstFrom:dstTo], src.Slice()[srcFrom:srcTo])
	return nil
}

var _ buffer.Device = (*Device)(nil)
