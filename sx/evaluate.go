package sx

import (
	"fmt"
	"time"

	"github.com/symflow/symflow"
	"github.com/symflow/symflow/ops"
)

// SetInput copies the nonzero values of declared input i.
func (f *Function) SetInput(i int, v []float64) error {
	if err := f.assertInit(); err != nil {
		return err
	}
	if i < 0 || i >= len(f.in) {
		return fmt.Errorf("input index %d: %w", i, symflow.ErrWrongArity)
	}
	if len(v) != len(f.inBuf[i]) {
		return fmt.Errorf("input %d has %d nonzeros, got %d values: %w",
			i, len(f.inBuf[i]), len(v), symflow.ErrShapeMismatch)
	}
	copy(f.inBuf[i], v)
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
	if len(dst) != len(f.outBuf[k]) {
		return fmt.Errorf("output %d has %d nonzeros, got %d values: %w",
			k, len(f.outBuf[k]), len(dst), symflow.ErrShapeMismatch)
	}
	copy(dst, f.outBuf[k])
	return nil
}

// Evaluate runs the tape forward numerically over the work array,
// reading the populated input buffers and writing the output buffers.
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

	for i := range f.alg {
		it := &f.alg[i]
		var t0 time.Time
		if f.prof != nil {
			t0 = time.Now()
		}

		switch it.op {
		case ops.Const:
			f.work[it.i0] = it.d
		case ops.Input:
			f.work[it.i0] = f.inBuf[it.i1][it.i2]
		case ops.Output:
			f.outBuf[it.i0][it.i2] = f.work[it.i1]
		default:
			f.work[it.i0] = ops.Eval(it.op, f.work[it.i1], f.work[it.i2])
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
