package gpu

import (
	"github.com/slate-ml/slate/internal/autograd"
	"github.com/slate-ml/slate/internal/buffer"
)

// Float32 element-wise operations. Outputs come from the allocation cache
// keyed by call position; backward closures resolve gradient buffers by
// identity through the gradient cache and accumulate on-device.

func rawOf(b *buffer.Buffer[float32]) *gpuAlloc {
	return b.Raw().(*gpuAlloc)
}

// kern picks the shader variant for the device's storage precision.
func (d *Device) kern(f32src, f16src string) string {
	if d.storeF16 {
		return f16src
	}
	return f32src
}

// Add returns lhs + rhs element-wise.
func Add(d *Device, lhs, rhs *buffer.Buffer[float32]) (*buffer.Buffer[float32], error) {
	n := min(lhs.Len(), rhs.Len())
	out, err := buffer.Cached[float32](d, n, lhs.NodeIdx(), rhs.NodeIdx())
	if err != nil {
		return nil, err
	}
	if err := d.runBinary(d.kern(addShader, addShaderF16), rawOf(lhs), rawOf(rhs), rawOf(out), n); err != nil {
		return nil, err
	}
	if d.tape.Recording() {
		lid, rid, oid := lhs.Ident(), rhs.Ident(), out.Ident()
		d.tape.AddGradFn(func(g *autograd.Gradients) error {
			lg, err := autograd.GetLikeRaw[float32](g, d, lid)
			if err != nil {
				return err
			}
			rg, err := autograd.GetLikeRaw[float32](g, d, rid)
			if err != nil {
				return err
			}
			og, err := autograd.GetLikeRaw[float32](g, d, oid)
			if err != nil {
				return err
			}
			acc := d.kern(accAddShader, accAddShaderF16)
			if err := d.runUnary(acc, rawOf(og), rawOf(lg), n); err != nil {
				return err
			}
			return d.runUnary(acc, rawOf(og), rawOf(rg), n)
		})
	}
	return out, nil
}

// Mul returns lhs * rhs element-wise. The backward closure holds the operand
// handles for their forward values; operands must not be freed before the
// backward pass runs.
func Mul(d *Device, lhs, rhs *buffer.Buffer[float32]) (*buffer.Buffer[float32], error) {
	n := min(lhs.Len(), rhs.Len())
	out, err := buffer.Cached[float32](d, n, lhs.NodeIdx(), rhs.NodeIdx())
	if err != nil {
		return nil, err
	}
	if err := d.runBinary(d.kern(mulShader, mulShaderF16), rawOf(lhs), rawOf(rhs), rawOf(out), n); err != nil {
		return nil, err
	}
	if d.tape.Recording() {
		lid, rid, oid := lhs.Ident(), rhs.Ident(), out.Ident()
		d.tape.AddGradFn(func(g *autograd.Gradients) error {
			lg, err := autograd.GetLikeRaw[float32](g, d, lid)
			if err != nil {
				return err
			}
			rg, err := autograd.GetLikeRaw[float32](g, d, rid)
			if err != nil {
				return err
			}
			og, err := autograd.GetLikeRaw[float32](g, d, oid)
			if err != nil {
				return err
			}
			acc := d.kern(accMulShader, accMulShaderF16)
			if err := d.runBinary(acc, rawOf(og), rawOf(rhs), rawOf(lg), n); err != nil {
				return err
			}
			return d.runBinary(acc, rawOf(og), rawOf(lhs), rawOf(rg), n)
		})
	}
	return out, nil
}

// Relu returns max(lhs, 0) element-wise.
func Relu(d *Device, lhs *buffer.Buffer[float32]) (*buffer.Buffer[float32], error) {
	n := lhs.Len()
	out, err := buffer.Cached[float32](d, n, lhs.NodeIdx())
	if err != nil {
		return nil, err
	}
	if err := d.runUnary(d.kern(reluShader, reluShaderF16), rawOf(lhs), rawOf(out), n); err != nil {
		return nil, err
	}
	if d.tape.Recording() {
		lid, oid := lhs.Ident(), out.Ident()
		d.tape.AddGradFn(func(g *autograd.Gradients) error {
			lg, err := autograd.GetLikeRaw[float32](g, d, lid)
			if err != nil {
				return err
			}
			og, err := autograd.GetLikeRaw[float32](g, d, oid)
			if err != nil {
				return err
			}
			return d.runBinary(d.kern(accReluShader, accReluShaderF16),
				rawOf(og), rawOf(lhs), rawOf(lg), n)
		})
	}
	return out, nil
}
