package gpu

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-webgpu/webgpu/wgpu"

	"github.com/slate-ml/slate/internal/autograd"
	"github.com/slate-ml/slate/internal/buffer"
	"github.com/slate-ml/slate/internal/device"
	"github.com/slate-ml/slate/internal/device/cpu"
)

func TestAdapterPreferenceFromEnv(t *testing.T) {
	tests := []struct {
		env     string
		want    wgpu.PowerPreference
		wantErr bool
	}{
		{"", wgpu.PowerPreferenceHighPerformance, false},
		{"0", wgpu.PowerPreferenceHighPerformance, false},
		{"1", wgpu.PowerPreferenceLowPower, false},
		{"2", 0, true},
		{"banana", 0, true},
	}
	for _, tt := range tests {
		t.Setenv(envDeviceIdx, tt.env)
		got, err := chosenAdapterPreference()
		if tt.wantErr {
			assert.ErrorIs(t, err, device.ErrDeviceInit, "env %q", tt.env)
			continue
		}
		require.NoError(t, err, "env %q", tt.env)
		assert.Equal(t, tt.want, got, "env %q", tt.env)
	}
}

func TestUnifiedMemFromEnv(t *testing.T) {
	tests := []struct {
		env     string
		want    bool
		wantErr bool
	}{
		{"", false, false},
		{"default", false, false},
		{"true", true, false},
		{"false", false, false},
		{"yes", false, true},
	}
	for _, tt := range tests {
		t.Setenv(envUseUnified, tt.env)
		got, err := chosenUnifiedMem()
		if tt.wantErr {
			assert.ErrorIs(t, err, device.ErrDeviceInit, "env %q", tt.env)
			continue
		}
		require.NoError(t, err, "env %q", tt.env)
		assert.Equal(t, tt.want, got, "env %q", tt.env)
	}
}

func newTestDevice(t *testing.T) *Device {
	t.Helper()
	if !IsAvailable() {
		t.Skip("no gpu adapter available")
	}
	d, err := New()
	if err != nil {
		t.Skipf("gpu init: %v", err)
	}
	t.Cleanup(d.Release)
	return d
}

func TestReadWriteRoundTrip(t *testing.T) {
	d := newTestDevice(t)

	buf, err := buffer.FromSlice(d, []float32{5, 7, 2, 10})
	require.NoError(t, err)
	defer buf.Free()

	vals, err := buf.Read()
	require.NoError(t, err)
	assert.Equal(t, []float32{5, 7, 2, 10}, vals)
}

func TestClearOnDevice(t *testing.T) {
	d := newTestDevice(t)

	buf, err := buffer.FromSlice(d, []float32{2, 4, 6, 8})
	require.NoError(t, err)
	defer buf.Free()

	require.NoError(t, buf.Clear())
	vals, err := buf.Read()
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 0, 0}, vals)
}

func TestElementWiseOps(t *testing.T) {
	d := newTestDevice(t)

	lhs, err := buffer.FromSlice(d, []float32{1, -2, 3, -4})
	require.NoError(t, err)
	defer lhs.Free()
	rhs, err := buffer.FromSlice(d, []float32{10, 20, 30, 40})
	require.NoError(t, err)
	defer rhs.Free()

	sum, err := Add(d, lhs, rhs)
	require.NoError(t, err)
	defer sum.Free()
	vals, err := sum.Read()
	require.NoError(t, err)
	assert.Equal(t, []float32{11, 18, 33, 36}, vals)

	prod, err := Mul(d, lhs, rhs)
	require.NoError(t, err)
	defer prod.Free()
	vals, err = prod.Read()
	require.NoError(t, err)
	assert.Equal(t, []float32{10, -40, 90, -160}, vals)

	rect, err := Relu(d, lhs)
	require.NoError(t, err)
	defer rect.Free()
	vals, err = rect.Read()
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0, 3, 0}, vals)
}

func TestKernelCacheKeyedBySource(t *testing.T) {
	d := newTestDevice(t)

	x, err := buffer.FromSlice(d, []float32{1, 2, 3, 4})
	require.NoError(t, err)
	defer x.Free()

	for i := 0; i < 3; i++ {
		out, err := Add(d, x, x)
		require.NoError(t, err)
		out.Free()
	}
	assert.Equal(t, 1, d.kernels.Len(), "same source must compile once")
}

func TestCacheReuseAcrossEpochs(t *testing.T) {
	d := newTestDevice(t)

	epoch := func() {
		x, err := buffer.Cached[float32](d, 256)
		require.NoError(t, err)
		out, err := Add(d, x, x)
		require.NoError(t, err)
		out.Free()
		x.Free()
	}

	epoch()
	allocs := d.Allocs()

	d.ResetIdents()
	epoch()
	assert.Equal(t, allocs, d.Allocs(), "replayed epoch must not allocate")
}

func TestBackwardOnDevice(t *testing.T) {
	d := newTestDevice(t)
	d.Tape().StartRecording()

	x, err := buffer.FromSlice(d, []float32{1, -2, 3, -4})
	require.NoError(t, err)
	defer x.Free()

	y, err := Relu(d, x)
	require.NoError(t, err)
	defer y.Free()

	d.Tape().StopRecording()
	require.NoError(t, autograd.BackwardSeeded(d.Tape(), y))

	dx, err := autograd.GetLike(d.Tape().Grads(), x)
	require.NoError(t, err)
	vals, err := dx.Read()
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0, 1, 0}, vals)
}

func TestFromHostConversion(t *testing.T) {
	d := newTestDevice(t)
	host := cpu.New()

	src, err := buffer.Cached[float32](host, 4)
	require.NoError(t, err)
	defer src.Free()
	require.NoError(t, src.Write([]float32{1, 2, 3, 4}))

	converted, err := FromHost(d, src)
	require.NoError(t, err)
	defer converted.Free()

	vals, err := converted.Read()
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3, 4}, vals)

	// Replaying the conversion at the same counter position must return the
	// cached allocation instead of transferring again.
	d.ResetIdents()
	again, err := FromHost(d, src)
	require.NoError(t, err)
	defer again.Free()
	assert.Equal(t, converted.Raw(), again.Raw())
}

func TestFromHostRejectsUncached(t *testing.T) {
	d := newTestDevice(t)
	host := cpu.New()

	src, err := buffer.FromSlice(host, []float32{1, 2})
	require.NoError(t, err)
	defer src.Free()

	_, err = FromHost(d, src)
	assert.True(t, errors.Is(err, device.ErrConstruct))
}
