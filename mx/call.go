package mx

import (
	"fmt"
	"io"

	"github.com/symflow/symflow"
	"github.com/symflow/symflow/ops"
	"github.com/symflow/symflow/sx"
)

// callNode embeds an evaluation of another compiled function. It is a
// multiple-output node: consumers address its outputs through
// function-output wrappers.
type callNode struct {
	baseNode
	fn *Function
}

// CallFn builds a call to fn with the given arguments and returns one
// expression per output of fn. Argument sparsities must match the
// declared inputs of fn.
func CallFn(fn *Function, args []Expr) []Expr {
	if len(args) != len(fn.in) {
		panic(fmt.Sprintf("mx: call of %s with %d arguments, want %d", fn.Name(), len(args), len(fn.in)))
	}
	for i, a := range args {
		if a.Sparsity() != fn.in[i].Sparsity() {
			panic(fmt.Sprintf("mx: call of %s: argument %d has sparsity %v, want %v",
				fn.Name(), i, a.Sparsity(), fn.in[i].Sparsity()))
		}
	}
	n := &callNode{fn: fn}
	n.deps = append([]Expr(nil), args...)
	for _, o := range fn.out {
		n.sp = append(n.sp, o.Sparsity())
	}
	outs := make([]Expr, len(fn.out))
	for k := range outs {
		outs[k] = outputExpr(n, k)
	}
	return outs
}

func (n *callNode) Op() ops.Op           { return ops.Call }
func (n *callNode) MultipleOutput() bool { return true }

func (n *callNode) EvalNumeric(arg, res []*DM, iw []int, rw []float64) error {
	for i, a := range arg {
		n.fn.inDM[i].SetFrom(a)
	}
	if err := n.fn.Evaluate(); err != nil {
		return fmt.Errorf("call of %s: %w", n.fn.Name(), err)
	}
	for c, r := range res {
		if r != nil {
			r.SetFrom(n.fn.outDM[c])
		}
	}
	return nil
}

func (n *callNode) PropagateSparsity(arg, res [][]uint64, iw []int, rw []float64, forward bool) {
	if forward {
		for i, a := range arg {
			copy(n.fn.inMask[i], a)
		}
		_ = n.fn.EvalSparsity(true)
		for c, r := range res {
			if r != nil {
				copy(r, n.fn.outMask[c])
			}
		}
		return
	}
	for c := range n.fn.outMask {
		for k := range n.fn.outMask[c] {
			n.fn.outMask[c][k] = 0
		}
		if res[c] != nil {
			copy(n.fn.outMask[c], res[c])
		}
	}
	_ = n.fn.EvalSparsity(false)
	for i := range arg {
		for k := range arg[i] {
			arg[i][k] |= n.fn.inMask[i][k]
		}
	}
	for _, r := range res {
		if r != nil {
			for k := range r {
				r[k] = 0
			}
		}
	}
}

func (n *callNode) EvalSym(arg, res []*Expr, fseed, fsens, aseed, asens [][]*Expr, outputGiven bool) error {
	args := make([]Expr, len(arg))
	for i, a := range arg {
		args[i] = *a
	}
	fs := make([][]Expr, len(fseed))
	for d := range fseed {
		fs[d] = make([]Expr, len(arg))
		for i := range arg {
			fs[d][i] = *fseed[d][i]
		}
	}
	as := make([][]Expr, len(aseed))
	for d := range aseed {
		as[d] = make([]Expr, len(res))
		for c := range res {
			if aseed[d][c] != nil {
				as[d][c] = *aseed[d][c]
			} else {
				as[d][c] = Zeros(n.sp[c].NRow(), n.sp[c].NCol())
			}
		}
	}

	cres, cfsens, casens, err := n.fn.EvalSym(args, fs, as)
	if err != nil {
		return fmt.Errorf("call of %s: %w", n.fn.Name(), err)
	}

	if !outputGiven {
		for c, r := range res {
			if r != nil {
				*r = cres[c]
			}
		}
	}
	for d := range fseed {
		for c := range res {
			if fsens[d][c] != nil {
				*fsens[d][c] = cfsens[d][c]
			}
		}
	}
	for d := range aseed {
		for c := range res {
			if aseed[d][c] != nil {
				*aseed[d][c] = Zeros(n.sp[c].NRow(), n.sp[c].NCol())
			}
		}
		for i := range arg {
			*asens[d][i] = addToSum(*asens[d][i], casens[d][i])
		}
	}
	return nil
}

func (n *callNode) EvalScalar(arg, res []*sx.Matrix) error {
	return fmt.Errorf("mx: scalar expansion of a call to %s: %w", n.fn.Name(), symflow.ErrOperatorUnsupported)
}

func (n *callNode) GenerateOp(w io.Writer, arg, res []string) error {
	return fmt.Errorf("mx: code generation of a call to %s: %w", n.fn.Name(), symflow.ErrOperatorUnsupported)
}

func (n *callNode) PrintPart(w io.Writer, part int) {
	switch {
	case part == 0:
		fmt.Fprintf(w, "call_%s(", n.fn.Name())
	case part < n.NDep():
		io.WriteString(w, ", ")
	default:
		io.WriteString(w, ")")
	}
}
