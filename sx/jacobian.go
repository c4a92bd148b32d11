package sx

import (
	"fmt"

	"github.com/symflow/symflow"
	"github.com/symflow/symflow/sparsity"
)

// Jacobian returns a new function computing the Jacobian of output oind
// with respect to input iind, by seeding one forward derivative
// direction per input nonzero and assembling the sensitivities
// column-wise. The first output of the returned function is the
// Jacobian; the original outputs follow.
//
// When compact, the Jacobian is nnz(out) by nnz(in) over the structural
// nonzeros; otherwise it addresses full element positions. symmetric is
// a structure hint only and does not change the result.
func (f *Function) Jacobian(iind, oind int, compact, symmetric bool) (*Function, error) {
	_ = symmetric
	if err := f.assertInit(); err != nil {
		return nil, err
	}
	if iind < 0 || iind >= len(f.in) || oind < 0 || oind >= len(f.out) {
		return nil, fmt.Errorf("jacobian block (%d,%d): %w", iind, oind, symflow.ErrWrongArity)
	}

	n := f.in[iind].sp.NNZ()
	fseed := make([][]Matrix, n)
	for d := 0; d < n; d++ {
		fseed[d] = make([]Matrix, len(f.in))
		for i := range f.in {
			fseed[d][i] = ZeroMatrix(f.in[i].sp)
		}
		fseed[d][iind].nz[d] = Num(1)
	}

	_, fsens, _, err := f.EvalSym(f.in, fseed, nil)
	if err != nil {
		return nil, err
	}

	m := f.out[oind].sp.NNZ()
	var jac Matrix
	if compact {
		sp := sparsity.Dense(m, n)
		nz := make([]Expr, m*n)
		for d := 0; d < n; d++ {
			for k := 0; k < m; k++ {
				nz[d*m+k] = fsens[d][oind].nz[k]
			}
		}
		jac = Matrix{sp: sp, nz: nz}
	} else {
		nrow := f.out[oind].sp.Numel()
		ncol := f.in[iind].sp.Numel()
		sp := sparsity.Dense(nrow, ncol)
		nz := make([]Expr, nrow*ncol)
		for i := range nz {
			nz[i] = Num(0)
		}
		for d := 0; d < n; d++ {
			col := f.in[iind].sp.ElementIndex(d)
			for k := 0; k < m; k++ {
				row := f.out[oind].sp.ElementIndex(k)
				nz[col*nrow+row] = fsens[d][oind].nz[k]
			}
		}
		jac = Matrix{sp: sp, nz: nz}
	}

	outputs := append([]Matrix{jac}, f.out...)
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

// Gradient returns the densified gradient expression of scalar output
// oind with respect to input iind, computed with one adjoint direction.
func (f *Function) Gradient(iind, oind int) (Matrix, error) {
	if err := f.assertInit(); err != nil {
		return Matrix{}, err
	}
	if iind < 0 || iind >= len(f.in) || oind < 0 || oind >= len(f.out) {
		return Matrix{}, fmt.Errorf("gradient block (%d,%d): %w", iind, oind, symflow.ErrWrongArity)
	}
	if f.out[oind].sp.Numel() != 1 {
		return Matrix{}, fmt.Errorf("gradient of non-scalar output %d: %w", oind, symflow.ErrShapeMismatch)
	}

	in := f.in[iind].sp
	if f.out[oind].sp.NNZ() == 0 {
		return ZeroMatrix(sparsity.Dense(in.NRow(), in.NCol())), nil
	}

	aseed := [][]Matrix{make([]Matrix, len(f.out))}
	for k := range f.out {
		aseed[0][k] = ZeroMatrix(f.out[k].sp)
	}
	aseed[0][oind].nz[0] = Num(1)

	_, _, asens, err := f.EvalSym(f.in, nil, aseed)
	if err != nil {
		return Matrix{}, err
	}

	// Densify: scatter the sparse sensitivities into a dense matrix.
	dense := ZeroMatrix(sparsity.Dense(in.NRow(), in.NCol()))
	for k, e := range asens[0][iind].nz {
		dense.nz[in.ElementIndex(k)] = e
	}
	return dense, nil
}

// Hessian returns a function computing the Hessian of scalar output
// oind with respect to input iind, as the Jacobian of the gradient.
func (f *Function) Hessian(iind, oind int) (*Function, error) {
	g, err := f.Gradient(iind, oind)
	if err != nil {
		return nil, err
	}
	gopts := f.opts
	gopts.Name = f.opts.Name + "_grad"
	gf, err := New(f.in, []Matrix{g}, gopts)
	if err != nil {
		return nil, err
	}
	if err := gf.Init(); err != nil {
		return nil, err
	}
	return gf.Jacobian(iind, 0, false, true)
}
