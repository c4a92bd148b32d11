package sx

import (
	"github.com/symflow/symflow/ops"
)

// InputMask returns the bit-mask buffer of declared input i, one
// machine word per nonzero. Forward propagation reads it; reverse
// propagation writes the accumulated dependency bits into it.
func (f *Function) InputMask(i int) []uint64 { return f.inMask[i] }

// OutputMask returns the bit-mask buffer of declared output k. Forward
// propagation writes it; reverse propagation reads it as the adjoint
// seed.
func (f *Function) OutputMask(k int) []uint64 { return f.outMask[k] }

// EvalSparsity runs the bit-parallel dataflow pass over the tape. Each
// bit position is an independent dependency thread. In forward mode
// every arithmetic record ORs its operand bits into its result; in
// reverse mode each record moves its result bits into its operands,
// INPUT records move bits out to the input buffers and OUTPUT records
// OR the output buffer bits in.
func (f *Function) EvalSparsity(forward bool) error {
	if err := f.assertInit(); err != nil {
		return err
	}
	w := f.mask
	if forward {
		for i := range f.alg {
			it := &f.alg[i]
			switch it.op {
			case ops.Const, ops.Parameter:
				w[it.i0] = 0
			case ops.Input:
				w[it.i0] = f.inMask[it.i1][it.i2]
			case ops.Output:
				f.outMask[it.i0][it.i2] = w[it.i1]
			default:
				w[it.i0] = w[it.i1] | w[it.i2]
			}
		}
		return nil
	}

	// Reverse propagation starts from a zeroed work array.
	for i := range w {
		w[i] = 0
	}
	for i := len(f.alg) - 1; i >= 0; i-- {
		it := &f.alg[i]
		switch it.op {
		case ops.Const, ops.Parameter:
			w[it.i0] = 0
		case ops.Input:
			f.inMask[it.i1][it.i2] = w[it.i0]
			w[it.i0] = 0
		case ops.Output:
			w[it.i1] |= f.outMask[it.i0][it.i2]
		default:
			seed := w[it.i0]
			w[it.i0] = 0
			w[it.i1] |= seed
			w[it.i2] |= seed
		}
	}
	return nil
}
