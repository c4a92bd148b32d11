package mx

import (
	"fmt"

	"github.com/symflow/symflow"
	"github.com/symflow/symflow/ops"
	"github.com/symflow/symflow/sx"
)

// Expand traverses the compiled tape with scalar symbols, producing an
// equivalent scalar-layer function. When inputs is nil, fresh scalar
// symbol matrices are created matching the names and sparsities of the
// declared inputs; otherwise the supplied matrices are used and must
// match the input sparsities.
//
// Derivative seeds are not part of the replay: expansion evaluates
// values only. Operators without a scalar expansion (embedded calls,
// linear solves) fail with ErrOperatorUnsupported, and free variables
// fail with ErrFreeVariable.
func (f *Function) Expand(inputs []sx.Matrix) (*sx.Function, error) {
	if err := f.assertInit(); err != nil {
		return nil, err
	}
	if len(f.freeVars) > 0 {
		return nil, fmt.Errorf("cannot expand %s: variables %v are free: %w",
			f.opts.Name, f.freeVars, symflow.ErrFreeVariable)
	}

	arg := make([]sx.Matrix, len(f.in))
	if inputs == nil {
		for i, e := range f.in {
			name := fmt.Sprintf("x%d", i)
			if s, ok := e.node.(*symbolNode); ok {
				name = s.name
			}
			arg[i] = sx.SymMatrix(name, e.Sparsity())
		}
	} else {
		if len(inputs) != len(f.in) {
			return nil, fmt.Errorf("%d scalar inputs for %d inputs: %w",
				len(inputs), len(f.in), symflow.ErrWrongArity)
		}
		for i, m := range inputs {
			if m.Sparsity() != f.in[i].Sparsity() {
				return nil, fmt.Errorf("scalar input %d sparsity %v, want %v: %w",
					i, m.Sparsity(), f.in[i].Sparsity(), symflow.ErrShapeMismatch)
			}
		}
		copy(arg, inputs)
	}

	swork := make([]sx.Matrix, len(f.work))
	res := make([]sx.Matrix, len(f.out))

	argM := make([]*sx.Matrix, 0, 4)
	resM := make([]*sx.Matrix, 0, 4)
	for ai := range f.alg {
		it := &f.alg[ai]
		switch it.op {
		case ops.Input:
			swork[it.res[0]] = arg[it.arg[0]]
		case ops.Output:
			res[it.res[0]] = swork[it.arg[0]]
		default:
			argM = argM[:0]
			for _, el := range it.arg {
				if el < 0 {
					argM = append(argM, nil)
				} else {
					argM = append(argM, &swork[el])
				}
			}
			resM = resM[:0]
			for _, el := range it.res {
				if el < 0 {
					resM = append(resM, nil)
				} else {
					resM = append(resM, &swork[el])
				}
			}
			if err := it.node.EvalScalar(argM, resM); err != nil {
				return nil, fmt.Errorf("expanding %s, instruction %d (%v): %w", f.opts.Name, ai, it.op, err)
			}
		}
	}

	opts := f.opts
	opts.Name = "expand_" + f.opts.Name
	sf, err := sx.New(arg, res, opts)
	if err != nil {
		return nil, err
	}
	if err := sf.Init(); err != nil {
		return nil, err
	}
	return sf, nil
}
