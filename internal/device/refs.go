package device

import "sync/atomic"

// Refs is the shared-ownership counter embedded by concrete RawAlloc types.
// A fresh allocation starts with one reference held by its creator; the cache
// takes its own reference on insert, and every buffer handle takes one while
// it wraps the allocation.
type Refs struct {
	n    atomic.Int32
	free func()
}

// InitRefs arms the counter with one reference and the device-level free.
func (r *Refs) InitRefs(free func()) {
	r.n.Store(1)
	r.free = free
}

// Retain adds a reference.
func (r *Refs) Retain() {
	r.n.Add(1)
}

// Release drops a reference and runs the device-level free exactly once, when
// the count reaches zero.
func (r *Refs) Release() {
	if r.n.Add(-1) == 0 && r.free != nil {
		r.free()
	}
}

// RefCount returns the current reference count.
func (r *Refs) RefCount() int32 {
	return r.n.Load()
}
