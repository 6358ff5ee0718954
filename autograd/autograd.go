// Copyright 2026 Slate ML. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package autograd provides the public API for reverse-mode automatic
// differentiation.
//
// Every device owns a gradient tape. Operations executed while the tape is
// recording push backward closures; Backward replays them in reverse order,
// accumulating gradients in a dedicated cache keyed by buffer identity.
//
// Example:
//
//	dev := cpu.New()
//	dev.Tape().StartRecording()
//	x, _ := buffer.FromSlice(dev, []float32{1, 2, 3})
//	y, _ := cpu.Mul(dev, x, x)
//	autograd.BackwardSeeded(dev.Tape(), y)
//	dx, _ := autograd.GetLike(dev.Tape().Grads(), x)
package autograd

import (
	"github.com/slate-ml/slate/internal/autograd"
	"github.com/slate-ml/slate/internal/buffer"
)

// Tape records backward closures during the forward pass and replays them in
// reverse order.
type Tape = autograd.Tape

// Gradients is the per-tape gradient store.
type Gradients = autograd.Gradients

// GradFn is a deferred backward step.
type GradFn = autograd.GradFn

// NewTape returns an empty tape with recording disabled.
func NewTape() *Tape {
	return autograd.NewTape()
}

// GetLike returns the gradient buffer shaped like buf, allocating it on first
// use.
func GetLike[T buffer.Num](g *Gradients, buf *buffer.Buffer[T]) (*buffer.Buffer[T], error) {
	return autograd.GetLike(g, buf)
}

// BackwardSeeded seeds buf's gradient with ones and runs the backward pass.
func BackwardSeeded[T buffer.Num](t *Tape, buf *buffer.Buffer[T]) error {
	return autograd.BackwardSeeded(t, buf)
}
