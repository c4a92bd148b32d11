package mx

import (
	"fmt"
	"time"

	"github.com/symflow/symflow"
	"github.com/symflow/symflow/ops"
)

// SetInput copies the nonzero values of declared input i, in the
// nonzero order of the input's sparsity.
func (f *Function) SetInput(i int, v []float64) error {
	if err := f.assertInit(); err != nil {
		return err
	}
	if i < 0 || i >= len(f.in) {
		return fmt.Errorf("input index %d: %w", i, symflow.ErrWrongArity)
	}
	if len(v) != len(f.inDM[i].nz) {
		return fmt.Errorf("input %d has %d nonzeros, got %d values: %w",
			i, len(f.inDM[i].nz), len(v), symflow.ErrShapeMismatch)
	}
	copy(f.inDM[i].nz, v)
	return nil
}

// SetInputDM copies a matrix into declared input i, projecting by
// position when the patterns differ.
func (f *Function) SetInputDM(i int, d *DM) error {
	if err := f.assertInit(); err != nil {
		return err
	}
	if i < 0 || i >= len(f.in) {
		return fmt.Errorf("input index %d: %w", i, symflow.ErrWrongArity)
	}
	f.inDM[i].SetFrom(d)
	return nil
}

// GetOutput copies the nonzero values of declared output k into dst.
func (f *Function) GetOutput(k int, dst []float64) error {
	if err := f.assertInit(); err != nil {
		return err
	}
	if k < 0 || k >= len(f.out) {
		return fmt.Errorf("output index %d: %w", k, symflow.ErrWrongArity)
	}
	if len(dst) != len(f.outDM[k].nz) {
		return fmt.Errorf("output %d has %d nonzeros, got %d values: %w",
			k, len(f.outDM[k].nz), len(dst), symflow.ErrShapeMismatch)
	}
	copy(dst, f.outDM[k].nz)
	return nil
}

// Evaluate runs the tape forward numerically: INPUT records copy the
// declared input buffers into their slots, OUTPUT records copy slots
// out, and every other record delegates to the node's numeric kernel
// with the shared scratch buffers.
func (f *Function) Evaluate() error {
	if err := f.assertInit(); err != nil {
		return err
	}
	if len(f.freeVars) > 0 {
		return fmt.Errorf("cannot evaluate %s: variables %v are free: %w",
			f.opts.Name, f.freeVars, symflow.ErrFreeVariable)
	}

	var start time.Time
	if f.prof != nil {
		start = time.Now()
		f.prof.Entry(f.opts.Name)
	}

	var argBuf, resBuf []*DM
	for i := range f.alg {
		it := &f.alg[i]
		var t0 time.Time
		if f.prof != nil {
			t0 = time.Now()
		}

		switch it.op {
		case ops.Input:
			f.work[it.res[0]].SetFrom(f.inDM[it.arg[0]])
		case ops.Output:
			f.outDM[it.res[0]].SetFrom(f.work[it.arg[0]])
		default:
			argBuf, resBuf = f.bindSlots(it, argBuf, resBuf)
			if err := it.node.EvalNumeric(argBuf, resBuf, f.iw, f.rw); err != nil {
				return fmt.Errorf("%s: instruction %d (%v): %w", f.opts.Name, i, it.op, err)
			}
		}

		if f.prof != nil {
			now := time.Now()
			f.prof.Time(f.opts.Name, i, now.Sub(t0), now.Sub(start))
		}
	}

	if f.prof != nil {
		f.prof.Exit(f.opts.Name, time.Since(start))
	}
	return nil
}

// bindSlots points argument and result buffers at the work-array slots
// of a record, with nils for null sentinels. The slices are reused
// across records.
func (f *Function) bindSlots(it *algEl, argBuf, resBuf []*DM) (arg, res []*DM) {
	arg = argBuf[:0]
	for _, a := range it.arg {
		if a < 0 {
			arg = append(arg, nil)
		} else {
			arg = append(arg, f.work[a])
		}
	}
	res = resBuf[:0]
	for _, r := range it.res {
		if r < 0 {
			res = append(res, nil)
		} else {
			res = append(res, f.work[r])
		}
	}
	return arg, res
}
