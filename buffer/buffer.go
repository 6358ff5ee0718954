// Copyright 2026 Slate ML. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package buffer provides the public API for device buffers.
//
// A Buffer[T] is a typed handle over a raw device allocation. Buffers come in
// four ownership modes: exclusively owned (New, FromSlice, CloneBuf),
// cache-shared (Cached and friends, reused across counter-reset epochs),
// wrapped external memory, and inline scalars.
//
// Example:
//
//	dev := cpu.New()
//	x, _ := buffer.FromSlice(dev, []float32{1, 2, 3})
//	defer x.Free()
//	out, _ := cpu.Add(dev, x, x)
//	vals, _ := out.Read()
package buffer

import (
	"github.com/slate-ml/slate/internal/buffer"
	"github.com/slate-ml/slate/internal/cache"
	"github.com/slate-ml/slate/internal/device"
	"github.com/slate-ml/slate/internal/ident"
)

// Num constrains buffer element types.
// Supported types: float32, float64, int32, int64, uint8.
type Num = buffer.Num

// Buffer is a typed handle over a raw device allocation.
type Buffer[T Num] = buffer.Buffer[T]

// Device is the interface a compute device exposes to the buffer layer.
type Device = buffer.Device

// AllocFlag describes how a buffer's allocation is owned.
type AllocFlag = device.AllocFlag

// Allocation ownership modes.
const (
	FlagNone    AllocFlag = device.FlagNone
	FlagCache   AllocFlag = device.FlagCache
	FlagWrapped AllocFlag = device.FlagWrapped
)

// Ident is a buffer's slot identity: counter position plus length.
type Ident = ident.Ident

// New allocates an exclusively owned buffer of n elements on dev.
func New[T Num](dev Device, n int) (*Buffer[T], error) {
	return buffer.New[T](dev, n)
}

// FromSlice allocates an exclusively owned buffer and copies data into it.
func FromSlice[T Num](dev Device, data []T) (*Buffer[T], error) {
	return buffer.FromSlice(dev, data)
}

// Cached returns the buffer for the current call position through the
// device's allocation cache, recording a graph node with the given
// dependencies on first use. Replaying the same call sequence after a counter
// reset returns the same allocations.
func Cached[T Num](dev Device, n int, deps ...int) (*Buffer[T], error) {
	return buffer.Cached[T](dev, n, deps...)
}

// CachedAt returns the cache-backed buffer for an explicit identity.
func CachedAt[T Num](dev Device, id Ident, addNode cache.AddNodeFn) (*Buffer[T], error) {
	return buffer.CachedAt[T](dev, id, addNode)
}

// Scalar returns a deviceless buffer holding a single inline value.
func Scalar[T Num](v T) *Buffer[T] {
	return buffer.Scalar(v)
}
