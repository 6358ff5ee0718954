// Copyright 2026 Slate ML. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package gpu provides the public API for the WebGPU compute device.
//
// Configuration comes from the environment: SLATE_GPU_DEVICE_IDX selects the
// adapter preference, SLATE_USE_UNIFIED controls unified-memory behavior and
// SLATE_GPU_F16 switches float32 buffers to half-precision device storage.
package gpu

import (
	"github.com/slate-ml/slate/buffer"
	internalgpu "github.com/slate-ml/slate/internal/device/gpu"
)

// Device is the WebGPU compute device.
type Device = internalgpu.Device

// Compile-time check that Device satisfies the buffer layer.
var _ buffer.Device = (*Device)(nil)

// New opens the configured adapter. Initialization failures surface as
// device.ErrDeviceInit.
//
// Example:
//
//	if !gpu.IsAvailable() {
//	    return
//	}
//	dev, err := gpu.New()
//	if err != nil {
//	    return
//	}
//	defer dev.Release()
func New() (*Device, error) {
	return internalgpu.New()
}

// IsAvailable reports whether a GPU adapter can be opened on this system.
func IsAvailable() bool {
	return internalgpu.IsAvailable()
}

// Add returns lhs + rhs element-wise.
func Add(d *Device, lhs, rhs *buffer.Buffer[float32]) (*buffer.Buffer[float32], error) {
	return internalgpu.Add(d, lhs, rhs)
}

// Mul returns lhs * rhs element-wise.
func Mul(d *Device, lhs, rhs *buffer.Buffer[float32]) (*buffer.Buffer[float32], error) {
	return internalgpu.Mul(d, lhs, rhs)
}

// Relu returns max(lhs, 0) element-wise.
func Relu(d *Device, lhs *buffer.Buffer[float32]) (*buffer.Buffer[float32], error) {
	return internalgpu.Relu(d, lhs)
}

// FromHost converts a cache-tracked host buffer into a device buffer while
// preserving its slot identity across counter-reset epochs.
func FromHost[T buffer.Num](d *Device, host *buffer.Buffer[T]) (*buffer.Buffer[T], error) {
	return internalgpu.FromHost(d, host)
}
