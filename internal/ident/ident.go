// Package ident assigns structural identities to buffer-producing call sites.
//
// An Ident names a logical buffer slot, not a physical allocation: it is the
// pair (call position, length). The call position comes from a resettable
// monotonic counter owned by the device. When a training loop resets the
// counter at the top of every iteration, the n-th buffer-producing call of
// iteration k produces the same Ident as the n-th call of iteration k+1, which
// is what makes allocation-cache reuse deterministic.
package ident

// Ident identifies a reusable buffer slot by call position and element count.
// Equality is full-tuple equality; the same count with a different length is a
// different slot.
type Ident struct {
	Count uint64
	Len   int
}

// Counter is the monotonic call-position counter for one device.
//
// It is not safe for concurrent use; a device and everything hanging off it
// belongs to a single goroutine.
type Counter struct {
	count uint64
}

// Next returns the Ident for the current call position and advances the
// counter. Every buffer-producing call consumes exactly one position,
// regardless of whether the allocation cache hits or misses.
func (c *Counter) Next(len int) Ident {
	id := Ident{Count: c.count, Len: len}
	c.count++
	return id
}

// Get returns the current counter value without advancing it.
func (c *Counter) Get() uint64 {
	return c.count
}

// Set rewinds (or forwards) the counter to a chosen value.
func (c *Counter) Set(v uint64) {
	c.count = v
}

// Reset sets the counter back to zero. Call it at the top of a loop iteration
// so the iteration replays the same Ident sequence as the previous one.
//
// The caller contract for cache reuse: the sequence of buffer-producing calls
// between two resets must be deterministic. Control flow that sometimes
// allocates and sometimes does not desynchronizes call positions from cache
// slots and silently mis-attributes them.
func (c *Counter) Reset() {
	c.count = 0
}
