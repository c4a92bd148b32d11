package mx

import (
	"fmt"

	"github.com/symflow/symflow"
	"github.com/symflow/symflow/sparsity"
)

// Jacobian returns a new function computing the Jacobian of output oind
// with respect to input iind by the standard seed-matrix recipe: one
// forward derivative direction per input nonzero, sensitivities
// scattered column-wise into the Jacobian expression. The first output
// of the returned function is the Jacobian; the original outputs
// follow.
//
// When compact, the Jacobian is nnz(out) by nnz(in) over structural
// nonzeros; otherwise it addresses full element positions. symmetric
// is a structure hint only and does not change the result.
func (f *Function) Jacobian(iind, oind int, compact, symmetric bool) (*Function, error) {
	_ = symmetric
	if err := f.assertInit(); err != nil {
		return nil, err
	}
	if iind < 0 || iind >= len(f.in) || oind < 0 || oind >= len(f.out) {
		return nil, fmt.Errorf("jacobian block (%d,%d): %w", iind, oind, symflow.ErrWrongArity)
	}

	inSp := f.in[iind].Sparsity()
	outSp := f.out[oind].Sparsity()
	n := inSp.NNZ()
	m := outSp.NNZ()

	// Seed the identity, one direction per input nonzero.
	fseed := make([][]Expr, n)
	for d := 0; d < n; d++ {
		fseed[d] = make([]Expr, len(f.in))
		for i, e := range f.in {
			fseed[d][i] = zerosLike(e)
		}
		unit := NewDM(inSp)
		unit.nz[d] = 1
		fseed[d][iind] = Const(unit)
	}

	_, fsens, _, err := f.EvalSym(f.in, fseed, nil)
	if err != nil {
		return nil, err
	}

	// Scatter each direction's sensitivity into one Jacobian column.
	var jac Expr
	if compact {
		jac = zeroConst(sparsity.Dense(m, n))
	} else {
		jac = zeroConst(sparsity.Dense(outSp.Numel(), inSp.Numel()))
	}
	for d := 0; d < n; d++ {
		s := fsens[d][oind]
		if s.IsZero() {
			continue
		}
		ssp := s.Sparsity()
		pos := make([]int, ssp.NNZ())
		for k := range pos {
			r, c := ssp.Row(k), ssp.Col(k)
			if compact {
				k2 := outSp.Index(r, c)
				if k2 < 0 {
					return nil, fmt.Errorf("sensitivity outside output sparsity at (%d,%d): %w",
						r, c, symflow.ErrShapeMismatch)
				}
				pos[k] = d*m + k2
			} else {
				row := r + c*outSp.NRow()
				col := inSp.ElementIndex(d)
				pos[k] = col*outSp.Numel() + row
			}
		}
		if len(pos) > 0 {
			jac = SetNZ(jac, s, pos)
		}
	}

	outputs := append([]Expr{jac}, f.out...)
	jopts := f.opts
	jopts.Name = f.opts.Name + "_jac"
	jf, err := New(f.in, outputs, jopts)
	if err != nil {
		return nil, err
	}
	if err := jf.Init(); err != nil {
		return nil, err
	}
	return jf, nil
}

// FullJacobian returns the Jacobian function of a single-input,
// single-output function over full element positions.
func (f *Function) FullJacobian() (*Function, error) {
	if err := f.assertInit(); err != nil {
		return nil, err
	}
	if len(f.in) != 1 || len(f.out) != 1 {
		return nil, fmt.Errorf("full jacobian of a %d-input %d-output function: %w",
			len(f.in), len(f.out), symflow.ErrOperatorUnsupported)
	}
	return f.Jacobian(0, 0, false, false)
}
