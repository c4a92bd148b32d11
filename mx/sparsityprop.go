package mx

import (
	"github.com/symflow/symflow/ops"
)

// InputMask returns the bit-mask buffer of declared input i, one
// machine word per nonzero.
func (f *Function) InputMask(i int) []uint64 { return f.inMask[i] }

// OutputMask returns the bit-mask buffer of declared output k.
func (f *Function) OutputMask(k int) []uint64 { return f.outMask[k] }

// EvalSparsity runs the bit-parallel dataflow pass over the tape,
// reinterpreting the work array as bit-mask vectors of the same element
// count. Forward mode propagates input bits to the outputs; reverse
// mode walks the tape backwards, with INPUT records moving accumulated
// bits out to the input buffers while clearing their slots and OUTPUT
// records ORing the output buffer bits in.
func (f *Function) EvalSparsity(forward bool) error {
	if err := f.assertInit(); err != nil {
		return err
	}

	// Start from a clean work array.
	for _, m := range f.mask {
		for k := range m {
			m[k] = 0
		}
	}

	var argBuf, resBuf [][]uint64
	bind := func(it *algEl) (arg, res [][]uint64) {
		arg = argBuf[:0]
		for _, a := range it.arg {
			if a < 0 {
				arg = append(arg, nil)
			} else {
				arg = append(arg, f.mask[a])
			}
		}
		res = resBuf[:0]
		for _, r := range it.res {
			if r < 0 {
				res = append(res, nil)
			} else {
				res = append(res, f.mask[r])
			}
		}
		argBuf, resBuf = arg, res
		return arg, res
	}

	if forward {
		for i := range f.alg {
			it := &f.alg[i]
			switch it.op {
			case ops.Input:
				copy(f.mask[it.res[0]], f.inMask[it.arg[0]])
			case ops.Output:
				copy(f.outMask[it.res[0]], f.mask[it.arg[0]])
			default:
				arg, res := bind(it)
				it.node.PropagateSparsity(arg, res, f.iw, f.rw, true)
			}
		}
		return nil
	}

	for i := len(f.alg) - 1; i >= 0; i-- {
		it := &f.alg[i]
		switch it.op {
		case ops.Input:
			w := f.mask[it.res[0]]
			copy(f.inMask[it.arg[0]], w)
			for k := range w {
				w[k] = 0
			}
		case ops.Output:
			w := f.mask[it.arg[0]]
			for k := range w {
				w[k] |= f.outMask[it.res[0]][k]
			}
		default:
			arg, res := bind(it)
			it.node.PropagateSparsity(arg, res, f.iw, f.rw, false)
		}
	}
	return nil
}
