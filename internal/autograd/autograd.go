// Package autograd implements the gradient tape for reverse-mode automatic
// differentiation.
//
// Every forward operation that wants a gradient pushes one backward closure
// onto the device's tape. Closures capture buffer identities, never raw
// allocations, so a closure stays valid even if the allocation behind an
// identity was since replaced in the cache: the backward pass re-resolves
// every identity through the shared gradient cache when it runs.
package autograd

import (
	"github.com/slate-ml/slate/internal/buffer"
	"github.com/slate-ml/slate/internal/cache"
	"github.com/slate-ml/slate/internal/ident"
)

// Gradients owns the cache that backs every gradient buffer of one backward
// pass. Multiple closures asking for the same identity share one allocation.
type Gradients struct {
	cache *cache.Cache
}

// Cache exposes the gradient cache (tests and stats).
func (g *Gradients) Cache() *cache.Cache { return g.cache }

// GetLikeRaw returns the gradient buffer for an identity, allocating it
// through the gradient cache on first use. Gradient allocations skip graph
// bookkeeping.
func GetLikeRaw[T buffer.Num](g *Gradients, dev buffer.Device, id ident.Ident) (*buffer.Buffer[T], error) {
	return buffer.CachedIn[T](g.cache, dev, id, nil)
}

// GetLike returns the gradient buffer shaped like buf.
func GetLike[T buffer.Num](g *Gradients, buf *buffer.Buffer[T]) (*buffer.Buffer[T], error) {
	return GetLikeRaw[T](g, buf.Device(), buf.Ident())
}

// GradFn is a deferred backward step.
type GradFn func(*Gradients) error

// Tape records backward closures during the forward pass and replays them in
// strict reverse order. Not safe for concurrent use; the tape belongs to its
// device's goroutine.
type Tape struct {
	grads     Gradients
	gradFns   []GradFn
	recording bool
}

// NewTape returns an empty tape. Recording starts disabled.
func NewTape() *Tape {
	return &Tape{grads: Gradients{cache: cache.New()}}
}

// StartRecording makes forward operations push backward closures.
func (t *Tape) StartRecording() { t.recording = true }

// StopRecording disables closure collection.
func (t *Tape) StopRecording() { t.recording = false }

// Recording reports whether forward operations should record.
func (t *Tape) Recording() bool { return t.recording }

// AddGradFn appends a backward closure.
func (t *Tape) AddGradFn(fn GradFn) {
	t.gradFns = append(t.gradFns, fn)
}

// Len returns the number of pending closures.
func (t *Tape) Len() int { return len(t.gradFns) }

// Grads returns the gradient store.
func (t *Tape) Grads() *Gradients { return &t.grads }

// Backward drains the recorded closures, invoking them in reverse insertion
// order. An empty tape is a no-op. Recording is suspended while the closures
// run so a backward step can reuse forward operations without re-taping them.
func (t *Tape) Backward() error {
	if len(t.gradFns) == 0 {
		return nil
	}
	wasRecording := t.recording
	t.recording = false
	defer func() { t.recording = wasRecording }()

	fns := t.gradFns
	t.gradFns = nil
	for i := len(fns) - 1; i >= 0; i-- {
		if err := fns[i](&t.grads); err != nil {
			return err
		}
	}
	return nil
}

// BackwardSeeded seeds buf's gradient with the multiplicative identity (ones)
// and then runs Backward.
func BackwardSeeded[T buffer.Num](t *Tape, buf *buffer.Buffer[T]) error {
	out, err := GetLike(&t.grads, buf)
	if err != nil {
		return err
	}
	ones := make([]T, out.Len())
	for i := range ones {
		ones[i] = T(1)
	}
	if err := out.Write(ones); err != nil {
		return err
	}
	return t.Backward()
}

// Clear drops pending closures and releases every cached gradient allocation.
func (t *Tape) Clear() {
	t.gradFns = nil
	t.grads.cache.Clear()
}
