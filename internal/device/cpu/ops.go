package cpu

import (
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/slate-ml/slate/internal/autograd"
	"github.com/slate-ml/slate/internal/buffer"
	"github.com/slate-ml/slate/internal/ident"
)

// Demonstration operations. The arithmetic is deliberately trivial; what
// matters is that every output buffer comes from the allocation cache keyed by
// call position and operand identities. Backward closures resolve gradient
// buffers by identity and hold operand handles for forward values.

// Add returns lhs + rhs element-wise.
func Add[T buffer.Num](d *Device, lhs, rhs *buffer.Buffer[T]) (*buffer.Buffer[T], error) {
	n := min(lhs.Len(), rhs.Len())
	out, err := buffer.Cached[T](d, n, lhs.NodeIdx(), rhs.NodeIdx())
	if err != nil {
		return nil, err
	}
	ls, rs, os := lhs.Slice(), rhs.Slice(), out.Slice()
	for i := range os {
		os[i] = ls[i] + rs[i]
	}
	if d.tape.Recording() {
		lid, rid, oid := lhs.Ident(), rhs.Ident(), out.Ident()
		d.tape.AddGradFn(func(g *autograd.Gradients) error {
			lg, rg, og, err := gradTriple[T](g, d, lid, rid, oid)
			if err != nil {
				return err
			}
			for i := range og {
				lg[i] += og[i]
				rg[i] += og[i]
			}
			return nil
		})
	}
	return out, nil
}

// Mul returns lhs * rhs element-wise. The backward closure holds the operand
// handles for their forward values; operands must not be freed before the
// backward pass runs.
func Mul[T buffer.Num](d *Device, lhs, rhs *buffer.Buffer[T]) (*buffer.Buffer[T], error) {
	n := min(lhs.Len(), rhs.Len())
	out, err := buffer.Cached[T](d, n, lhs.NodeIdx(), rhs.NodeIdx())
	if err != nil {
		return nil, err
	}
	ls, rs, os := lhs.Slice(), rhs.Slice(), out.Slice()
	for i := range os {
		os[i] = ls[i] * rs[i]
	}
	if d.tape.Recording() {
		lid, rid, oid := lhs.Ident(), rhs.Ident(), out.Ident()
		d.tape.AddGradFn(func(g *autograd.Gradients) error {
			lg, rg, og, err := gradTriple[T](g, d, lid, rid, oid)
			if err != nil {
				return err
			}
			lvs, rvs := lhs.Slice(), rhs.Slice()
			for i := range og {
				lg[i] += og[i] * rvs[i]
				rg[i] += og[i] * lvs[i]
			}
			return nil
		})
	}
	return out, nil
}

// Relu returns max(lhs, 0) element-wise.
func Relu[T buffer.Num](d *Device, lhs *buffer.Buffer[T]) (*buffer.Buffer[T], error) {
	out, err := buffer.Cached[T](d, lhs.Len(), lhs.NodeIdx())
	if err != nil {
		return nil, err
	}
	ls, os := lhs.Slice(), out.Slice()
	for i := range os {
		if ls[i] > 0 {
			os[i] = ls[i]
		} else {
			os[i] = 0
		}
	}
	if d.tape.Recording() {
		lid, oid := lhs.Ident(), out.Ident()
		d.tape.AddGradFn(func(g *autograd.Gradients) error {
			lg, err := autograd.GetLikeRaw[T](g, d, lid)
			if err != nil {
				return err
			}
			og, err := autograd.GetLikeRaw[T](g, d, oid)
			if err != nil {
				return err
			}
			lvs, lgs, ogs := lhs.Slice(), lg.Slice(), og.Slice()
			for i := range ogs {
				if lvs[i] > 0 {
					lgs[i] += ogs[i]
				}
			}
			return nil
		})
	}
	return out, nil
}

// Gemm multiplies the (m,k) matrix lhs with the (k,n) matrix rhs into an
// (m,n) output, through BLAS. Float32 only; no gradient.
func Gemm(d *Device, m, k, n int, lhs, rhs *buffer.Buffer[float32]) (*buffer.Buffer[float32], error) {
	out, err := buffer.Cached[float32](d, m*n, lhs.NodeIdx(), rhs.NodeIdx())
	if err != nil {
		return nil, err
	}
	a := blas32.General{Rows: m, Cols: k, Stride: k, Data: lhs.Slice()}
	b := blas32.General{Rows: k, Cols: n, Stride: n, Data: rhs.Slice()}
	c := blas32.General{Rows: m, Cols: n, Stride: n, Data: out.Slice()}
	blas32.Gemm(blas.NoTrans, blas.NoTrans, 1, a, b, 0, c)
	return out, nil
}

// gradTriple resolves the three gradient slices of a binary op.
func gradTriple[T buffer.Num](g *autograd.Gradients, d *Device, lid, rid, oid ident.Ident) (lg, rg, og []T, err error) {
	lbuf, err := autograd.GetLikeRaw[T](g, d, lid)
	if err != nil {
		return nil, nil, nil, err
	}
	rbuf, err := autograd.GetLikeRaw[T](g, d, rid)
	if err != nil {
		return nil, nil, nil, err
	}
	obuf, err := autograd.GetLikeRaw[T](g, d, oid)
	if err != nil {
		return nil, nil, nil, err
	}
	return lbuf.Slice(), rbuf.Slice(), obuf.Slice(), nil
}
