package gpu

import (
	"sync"
	"unsafe"

	"github.com/go-webgpu/webgpu/wgpu"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/slate-ml/slate/internal/device"
)

// workgroupSize is the number of threads per workgroup in every shader.
const workgroupSize = 256

// KernelCache memoizes compiled shader modules and compute pipelines, keyed
// by WGSL source. Compiling the same source twice returns the same pipeline.
// Guarded by a mutex because driver map callbacks may run off-goroutine.
type KernelCache struct {
	mu        sync.RWMutex
	shaders   map[string]*wgpu.ShaderModule
	pipelines map[string]*wgpu.ComputePipeline
}

// NewKernelCache returns an empty kernel cache.
func NewKernelCache() *KernelCache {
	return &KernelCache{
		shaders:   make(map[string]*wgpu.ShaderModule),
		pipelines: make(map[string]*wgpu.ComputePipeline),
	}
}

// Len returns the number of cached pipelines.
func (k *KernelCache) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.pipelines)
}

// Get returns the compute pipeline for src, compiling on first use.
func (k *KernelCache) Get(dev *wgpu.Device, src string) *wgpu.ComputePipeline {
	k.mu.RLock()
	if pipeline, ok := k.pipelines[src]; ok {
		k.mu.RUnlock()
		return pipeline
	}
	k.mu.RUnlock()

	shader := dev.CreateShaderModuleWGSL(src)
	pipeline := dev.CreateComputePipelineSimple(nil, shader, "main")
	klog.V(3).Infof("gpu kernel compiled (%d bytes of wgsl)", len(src))

	k.mu.Lock()
	k.shaders[src] = shader
	k.pipelines[src] = pipeline
	k.mu.Unlock()
	return pipeline
}

// Release frees every cached pipeline and shader module.
func (k *KernelCache) Release() {
	k.mu.Lock()
	defer k.mu.Unlock()
	for src, p := range k.pipelines {
		p.Release()
		delete(k.pipelines, src)
	}
	for src, s := range k.shaders {
		s.Release()
		delete(k.shaders, src)
	}
}

// paramsBuffer creates the 16-byte uniform buffer holding the element count.
func (d *Device) paramsBuffer(n int) (*wgpu.Buffer, error) {
	buf := d.dev.CreateBuffer(&wgpu.BufferDescriptor{
		Usage:            wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
		Size:             16,
		MappedAtCreation: wgpu.True,
	})
	if buf == nil {
		return nil, errors.Wrap(device.ErrAllocation, "gpu params alloc")
	}
	mapped := buf.GetMappedRange(0, 16)
	params := unsafe.Slice((*byte)(mapped), 16)
	params[0] = byte(n)
	params[1] = byte(n >> 8)
	params[2] = byte(n >> 16)
	params[3] = byte(n >> 24)
	buf.Unmap()
	return buf, nil
}

// runBinary dispatches an element-wise kernel with two read operands.
func (d *Device) runBinary(src string, a, b, out *gpuAlloc, n int) error {
	pipeline := d.kernels.Get(d.dev, src)

	params, err := d.paramsBuffer(n)
	if err != nil {
		return err
	}
	defer params.Release()

	bindGroup := d.dev.CreateBindGroupSimple(pipeline.GetBindGroupLayout(0), []wgpu.BindGroupEntry{
		wgpu.BufferBindingEntry(0, a.buf, 0, a.deviceBytes),
		wgpu.BufferBindingEntry(1, b.buf, 0, b.deviceBytes),
		wgpu.BufferBindingEntry(2, out.buf, 0, out.deviceBytes),
		wgpu.BufferBindingEntry(3, params, 0, 16),
	})
	defer bindGroup.Release()

	d.dispatch(pipeline, bindGroup, n)
	return d.refreshMirror(out)
}

// runUnary dispatches an element-wise kernel with one read operand.
func (d *Device) runUnary(src string, in, out *gpuAlloc, n int) error {
	pipeline := d.kernels.Get(d.dev, src)

	params, err := d.paramsBuffer(n)
	if err != nil {
		return err
	}
	defer params.Release()

	bindGroup := d.dev.CreateBindGroupSimple(pipeline.GetBindGroupLayout(0), []wgpu.BindGroupEntry{
		wgpu.BufferBindingEntry(0, in.buf, 0, in.deviceBytes),
		wgpu.BufferBindingEntry(1, out.buf, 0, out.deviceBytes),
		wgpu.BufferBindingEntry(2, params, 0, 16),
	})
	defer bindGroup.Release()

	d.dispatch(pipeline, bindGroup, n)
	return d.refreshMirror(out)
}

func (d *Device) dispatch(pipeline *wgpu.ComputePipeline, bindGroup *wgpu.BindGroup, n int) {
	encoder := d.dev.CreateCommandEncoder(nil)
	pass := encoder.BeginComputePass(nil)
	pass.SetPipeline(pipeline)
	pass.SetBindGroup(0, bindGroup, nil)
	pass.DispatchWorkgroups(uint32((n+workgroupSize-1)/workgroupSize), 1, 1)
	pass.End()
	d.queue.Submit(encoder.Finish(nil))
}
