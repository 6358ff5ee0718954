// Copyright 2026 Slate ML. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package cpu provides the public API for the host compute device.
package cpu

import (
	"github.com/slate-ml/slate/buffer"
	internalcpu "github.com/slate-ml/slate/internal/device/cpu"
)

// Device is the host CPU device.
type Device = internalcpu.Device

// Compile-time check that Device satisfies the buffer layer.
var _ buffer.Device = (*Device)(nil)

// New creates a host device.
//
// Example:
//
//	dev := cpu.New()
//	x, _ := buffer.FromSlice(dev, []float32{1, 2, 3})
func New() *Device {
	return internalcpu.New()
}

// Add returns lhs + rhs element-wise.
func Add[T buffer.Num](d *Device, lhs, rhs *buffer.Buffer[T]) (*buffer.Buffer[T], error) {
	return internalcpu.Add(d, lhs, rhs)
}

// Mul returns lhs * rhs element-wise.
func Mul[T buffer.Num](d *Device, lhs, rhs *buffer.Buffer[T]) (*buffer.Buffer[T], error) {
	return internalcpu.Mul(d, lhs, rhs)
}

// Relu returns max(lhs, 0) element-wise.
func Relu[T buffer.Num](d *Device, lhs *buffer.Buffer[T]) (*buffer.Buffer[T], error) {
	return internalcpu.Relu(d, lhs)
}

// Gemm multiplies the (m,k) matrix lhs with the (k,n) matrix rhs.
func Gemm(d *Device, m, k, n int, lhs, rhs *buffer.Buffer[float32]) (*buffer.Buffer[float32], error) {
	return internalcpu.Gemm(d, m, k, n, lhs, rhs)
}

// AdoptSlice takes ownership of an existing slice without copying.
func AdoptSlice[T buffer.Num](d *Device, vec []T) (*buffer.Buffer[T], error) {
	return internalcpu.AdoptSlice(d, vec)
}

// WrapSlice wraps external memory the runtime must never free.
func WrapSlice[T buffer.Num](d *Device, vec []T) (*buffer.Buffer[T], error) {
	return internalcpu.WrapSlice(d, vec)
}

// CopySlice copies src[srcFrom:srcTo] into dst[dstFrom:dstTo].
func CopySlice[T buffer.Num](src *buffer.Buffer[T], srcFrom, srcTo int, dst *buffer.Buffer[T], dstFrom, dstTo int) error {
	return internalcpu.CopySlice(src, srcFrom, srcTo, dst, dstFrom, dstTo)
}
