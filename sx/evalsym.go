package sx

import (
	"fmt"

	"github.com/symflow/symflow"
	"github.com/symflow/symflow/ops"
)

// checkingDepth bounds the structural-equality test used to decide
// whether arguments match the declared inputs and whether a rebuilt
// expression duplicates a recorded one.
const checkingDepth = 2

// EvalSym replays the tape with symbolic operands, computing outputs,
// forward sensitivities for each forward seed direction and adjoint
// sensitivities for each adjoint seed direction.
//
// When the arguments are structurally equal to the declared inputs (to
// bounded depth), the stored output expressions are returned verbatim;
// derivative passes still run. When derivatives are requested, a tape
// of partial-derivative pairs parallel to the operation list is filled
// during the value pass: forward directions combine the partials with
// operand seeds in emission order, adjoint directions walk the tape
// backwards, moving each result's accumulated seed into its operands.
func (f *Function) EvalSym(args []Matrix, fseed, aseed [][]Matrix) (res []Matrix, fsens, asens [][]Matrix, err error) {
	if err := f.assertInit(); err != nil {
		return nil, nil, nil, err
	}
	if len(args) != len(f.in) {
		return nil, nil, nil, fmt.Errorf("%d arguments for %d inputs: %w",
			len(args), len(f.in), symflow.ErrWrongArity)
	}
	for i, a := range args {
		if a.sp != f.in[i].sp {
			return nil, nil, nil, fmt.Errorf("argument %d sparsity %v, want %v: %w",
				i, a.sp, f.in[i].sp, symflow.ErrShapeMismatch)
		}
	}
	for d := range fseed {
		if len(fseed[d]) != len(f.in) {
			return nil, nil, nil, fmt.Errorf("forward direction %d: %w", d, symflow.ErrWrongArity)
		}
		for i, s := range fseed[d] {
			if s.sp != f.in[i].sp {
				return nil, nil, nil, fmt.Errorf("forward seed (%d,%d): %w", d, i, symflow.ErrUnsupportedSeedShape)
			}
		}
	}
	for d := range aseed {
		if len(aseed[d]) != len(f.out) {
			return nil, nil, nil, fmt.Errorf("adjoint direction %d: %w", d, symflow.ErrWrongArity)
		}
		for k, s := range aseed[d] {
			if s.sp != f.out[k].sp {
				return nil, nil, nil, fmt.Errorf("adjoint seed (%d,%d): %w", d, k, symflow.ErrUnsupportedSeedShape)
			}
		}
	}

	nfdir, nadir := len(fseed), len(aseed)
	if nadir > 0 && f.opts.RequireSmooth && !f.IsSmooth() {
		return nil, nil, nil, fmt.Errorf("%s: %w", f.opts.Name, symflow.ErrAdjointNonSmooth)
	}

	// Check whether the arguments match the declared inputs, in which
	// case the outputs are known to be the declared output expressions.
	outputGiven := true
	for i := 0; i < len(args) && outputGiven; i++ {
		for j := 0; j < len(args[i].nz) && outputGiven; j++ {
			if !IsEqual(args[i].nz[j], f.in[i].nz[j], checkingDepth) {
				outputGiven = false
			}
		}
	}

	// Use the declared inputs when possible to avoid problems involving
	// equivalent but different expressions.
	use := args
	if outputGiven {
		use = f.in
	}

	res = make([]Matrix, len(f.out))
	for k := range res {
		if outputGiven {
			res[k] = f.out[k]
		} else {
			res[k] = Matrix{sp: f.out[k].sp, nz: make([]Expr, f.out[k].sp.NNZ())}
		}
	}

	taping := nfdir > 0 || nadir > 0
	var pdwork [][2]Expr
	if taping {
		pdwork = make([][2]Expr, len(f.operations))
	}

	// Forward value pass.
	swork := make([]Expr, f.worksize)
	bIt, cIt, pIt := 0, 0, 0
	for i := range f.alg {
		it := &f.alg[i]
		switch it.op {
		case ops.Input:
			swork[it.i0] = use[it.i1].nz[it.i2]
		case ops.Output:
			if !outputGiven {
				res[it.i0].nz[it.i2] = swork[it.i1]
			}
		case ops.Const:
			swork[it.i0] = f.constants[cIt]
			cIt++
		case ops.Parameter:
			swork[it.i0] = f.freeVars[pIt]
			pIt++
		default:
			// Evaluate to a temporary, as the result slot may alias an
			// operand slot.
			var fv Expr
			if outputGiven {
				fv = f.operations[bIt]
			} else {
				if it.op.NDeps() > 1 {
					fv = binary(it.op, swork[it.i1], swork[it.i2])
				} else {
					fv = unary(it.op, swork[it.i1])
				}
				fv = fv.assignIfDuplicate(f.operations[bIt], checkingDepth)
			}
			if taping {
				d0, d1 := der(it.op, swork[it.i1], swork[it.i2], fv)
				pdwork[bIt] = [2]Expr{d0, d1}
			}
			bIt++
			swork[it.i0] = fv
		}
	}

	if !taping {
		return res, nil, nil, nil
	}

	// Forward derivative sweeps, one direction at a time. The work
	// array is reused for derivative values; the partial tape holds
	// everything the sweeps need.
	fsens = make([][]Matrix, nfdir)
	for dir := 0; dir < nfdir; dir++ {
		fsens[dir] = make([]Matrix, len(f.out))
		for k := range f.out {
			fsens[dir][k] = Matrix{sp: f.out[k].sp, nz: make([]Expr, f.out[k].sp.NNZ())}
		}
		it2 := 0
		for i := range f.alg {
			it := &f.alg[i]
			switch {
			case it.op == ops.Input:
				swork[it.i0] = fseed[dir][it.i1].nz[it.i2]
			case it.op == ops.Output:
				fsens[dir][it.i0].nz[it.i2] = orZero(swork[it.i1])
			case it.op == ops.Const || it.op == ops.Parameter:
				swork[it.i0] = Num(0)
			case it.op.IsBinary():
				swork[it.i0] = addNZ(mulNZ(pdwork[it2][0], swork[it.i1]), mulNZ(pdwork[it2][1], swork[it.i2]))
				it2++
			default:
				swork[it.i0] = mulNZ(pdwork[it2][0], swork[it.i1])
				it2++
			}
		}
	}

	// Adjoint sweeps over a zeroed work array, in reverse tape order.
	asens = make([][]Matrix, nadir)
	if nadir > 0 {
		for i := range swork {
			swork[i] = Expr{}
		}
	}
	for dir := 0; dir < nadir; dir++ {
		asens[dir] = make([]Matrix, len(f.in))
		for i := range f.in {
			asens[dir][i] = Matrix{sp: f.in[i].sp, nz: make([]Expr, f.in[i].sp.NNZ())}
		}
		it2 := len(f.operations) - 1
		for i := len(f.alg) - 1; i >= 0; i-- {
			it := &f.alg[i]
			switch {
			case it.op == ops.Input:
				asens[dir][it.i1].nz[it.i2] = orZero(swork[it.i0])
				swork[it.i0] = Expr{}
			case it.op == ops.Output:
				swork[it.i1] = addNZ(swork[it.i1], aseed[dir][it.i0].nz[it.i2])
			case it.op == ops.Const || it.op == ops.Parameter:
				swork[it.i0] = Expr{}
			case it.op.IsBinary():
				seed := swork[it.i0]
				swork[it.i0] = Expr{}
				swork[it.i1] = addNZ(swork[it.i1], mulNZ(pdwork[it2][0], seed))
				swork[it.i2] = addNZ(swork[it.i2], mulNZ(pdwork[it2][1], seed))
				it2--
			default:
				seed := swork[it.i0]
				swork[it.i0] = Expr{}
				swork[it.i1] = addNZ(swork[it.i1], mulNZ(pdwork[it2][0], seed))
				it2--
			}
		}
	}

	return res, fsens, asens, nil
}

// orZero replaces a null expression with the constant zero.
func orZero(e Expr) Expr {
	if e.n == nil {
		return Num(0)
	}
	return e
}
