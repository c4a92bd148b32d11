package mx

import (
	"fmt"
	"io"

	"gonum.org/v1/gonum/mat"

	"github.com/symflow/symflow"
	"github.com/symflow/symflow/ops"
	"github.com/symflow/symflow/sparsity"
	"github.com/symflow/symflow/sx"
)

// mtimesNode is the matrix product. The numeric kernel densifies the
// operands, multiplies with gonum and projects onto the structural
// product pattern.
type mtimesNode struct {
	baseNode
}

// Mtimes returns the matrix product x*y.
func Mtimes(x, y Expr) Expr {
	xs, ys := x.Sparsity(), y.Sparsity()
	if xs.NCol() != ys.NRow() {
		panic(fmt.Sprintf("mx: mtimes of %v and %v", xs, ys))
	}
	if x.IsZero() || y.IsZero() {
		return Zeros(xs.NRow(), ys.NCol())
	}
	sp := sparsity.Mtimes(xs, ys)
	return Expr{node: &mtimesNode{
		baseNode: baseNode{deps: []Expr{x, y}, sp: []*sparsity.Pattern{sp}},
	}}
}

func (n *mtimesNode) Op() ops.Op { return ops.Mtimes }

func (n *mtimesNode) EvalNumeric(arg, res []*DM, iw []int, rw []float64) error {
	var prod mat.Dense
	prod.Mul(arg[0].Dense(), arg[1].Dense())
	res[0].ProjectDense(&prod)
	return nil
}

func (n *mtimesNode) PropagateSparsity(arg, res [][]uint64, iw []int, rw []float64, forward bool) {
	xs := n.deps[0].Sparsity()
	ys := n.deps[1].Sparsity()
	out := n.sp[0]
	// Walk the structural product: result entry (i,j) couples A(i,l)
	// and B(l,j) for every shared l.
	for j := 0; j < out.NCol(); j++ {
		for kb := ys.ColInd()[j]; kb < ys.ColInd()[j+1]; kb++ {
			l := ys.Rows()[kb]
			for ka := xs.ColInd()[l]; ka < xs.ColInd()[l+1]; ka++ {
				i := xs.Rows()[ka]
				ko := out.Index(i, j)
				if ko < 0 {
					continue
				}
				if forward {
					res[0][ko] |= arg[0][ka] | arg[1][kb]
				} else {
					arg[0][ka] |= res[0][ko]
					arg[1][kb] |= res[0][ko]
				}
			}
		}
	}
	if !forward {
		for k := range res[0] {
			res[0][k] = 0
		}
	}
}

func (n *mtimesNode) EvalSym(arg, res []*Expr, fseed, fsens, aseed, asens [][]*Expr, outputGiven bool) error {
	x, y := *arg[0], *arg[1]
	var f Expr
	if outputGiven {
		f = *res[0]
	} else {
		f = Mtimes(x, y)
		*res[0] = f
	}
	for d := range fseed {
		s := Mtimes(*fseed[d][0], y)
		s = addToSum(s, Mtimes(x, *fseed[d][1]))
		if s.IsNull() {
			s = Zeros(f.NRow(), f.NCol())
		}
		*fsens[d][0] = s
	}
	for d := range aseed {
		seed := *aseed[d][0]
		*aseed[d][0] = Zeros(f.NRow(), f.NCol())
		if seed.IsZero() {
			continue
		}
		*asens[d][0] = addToSum(*asens[d][0], Mtimes(seed, y.T()))
		*asens[d][1] = addToSum(*asens[d][1], Mtimes(x.T(), seed))
	}
	return nil
}

func (n *mtimesNode) EvalScalar(arg, res []*sx.Matrix) error {
	xs := n.deps[0].Sparsity()
	ys := n.deps[1].Sparsity()
	out := n.sp[0]
	nz := make([]sx.Expr, out.NNZ())
	for k := range nz {
		nz[k] = sx.Num(0)
	}
	for j := 0; j < out.NCol(); j++ {
		for kb := ys.ColInd()[j]; kb < ys.ColInd()[j+1]; kb++ {
			l := ys.Rows()[kb]
			for ka := xs.ColInd()[l]; ka < xs.ColInd()[l+1]; ka++ {
				i := xs.Rows()[ka]
				ko := out.Index(i, j)
				if ko < 0 {
					continue
				}
				nz[ko] = nz[ko].Add(arg[0].Nonzeros()[ka].Mul(arg[1].Nonzeros()[kb]))
			}
		}
	}
	*res[0] = sx.NewMatrix(out, nz)
	return nil
}

func (n *mtimesNode) GenerateOp(w io.Writer, arg, res []string) error {
	xs := n.deps[0].Sparsity()
	ys := n.deps[1].Sparsity()
	out := n.sp[0]
	for k := 0; k < out.NNZ(); k++ {
		fmt.Fprintf(w, "  %s[%d]=0;\n", res[0], k)
	}
	for j := 0; j < out.NCol(); j++ {
		for kb := ys.ColInd()[j]; kb < ys.ColInd()[j+1]; kb++ {
			l := ys.Rows()[kb]
			for ka := xs.ColInd()[l]; ka < xs.ColInd()[l+1]; ka++ {
				ko := out.Index(xs.Rows()[ka], j)
				if ko < 0 {
					continue
				}
				fmt.Fprintf(w, "  %s[%d]+=%s[%d]*%s[%d];\n", res[0], ko, arg[0], ka, arg[1], kb)
			}
		}
	}
	return nil
}

func (n *mtimesNode) PrintPart(w io.Writer, part int) {
	switch part {
	case 0:
		io.WriteString(w, "mtimes(")
	case 1:
		io.WriteString(w, ", ")
	default:
		io.WriteString(w, ")")
	}
}

// solveNode computes X with op(A)*X = B for a square A, where op is
// the identity or the transpose. The numeric kernel uses a gonum LU
// factorization. The result is dense: a linear solve couples every
// entry of A and B with every entry of X, which the sparsity kernels
// propagate conservatively.
type solveNode struct {
	baseNode
	trans bool
}

// Solve returns the solution X of A*X = B.
func Solve(a, b Expr) Expr { return newSolve(a, b, false) }

// SolveT returns the solution X of Aᵀ*X = B.
func SolveT(a, b Expr) Expr { return newSolve(a, b, true) }

func newSolve(a, b Expr, trans bool) Expr {
	as, bs := a.Sparsity(), b.Sparsity()
	if as.NRow() != as.NCol() || as.NRow() != bs.NRow() {
		panic(fmt.Sprintf("mx: solve of %v and %v", as, bs))
	}
	sp := sparsity.Dense(bs.NRow(), bs.NCol())
	return Expr{node: &solveNode{
		baseNode: baseNode{deps: []Expr{a, b}, sp: []*sparsity.Pattern{sp}},
		trans:    trans,
	}}
}

func (n *solveNode) Op() ops.Op { return ops.Solve }

func (n *solveNode) EvalNumeric(arg, res []*DM, iw []int, rw []float64) error {
	var lu mat.LU
	am := arg[0].Dense()
	if n.trans {
		lu.Factorize(am.T())
	} else {
		lu.Factorize(am)
	}
	var x mat.Dense
	if err := lu.SolveTo(&x, false, arg[1].Dense()); err != nil {
		return fmt.Errorf("mx: linear solve: %w", err)
	}
	res[0].ProjectDense(&x)
	return nil
}

func (n *solveNode) PropagateSparsity(arg, res [][]uint64, iw []int, rw []float64, forward bool) {
	if forward {
		var all uint64
		for _, m := range arg {
			for _, b := range m {
				all |= b
			}
		}
		for k := range res[0] {
			res[0][k] = all
		}
		return
	}
	var all uint64
	for _, b := range res[0] {
		all |= b
	}
	for _, m := range arg {
		for k := range m {
			m[k] |= all
		}
	}
	for k := range res[0] {
		res[0][k] = 0
	}
}

func (n *solveNode) EvalSym(arg, res []*Expr, fseed, fsens, aseed, asens [][]*Expr, outputGiven bool) error {
	a, b := *arg[0], *arg[1]
	var x Expr
	if outputGiven {
		x = *res[0]
	} else {
		x = newSolve(a, b, n.trans)
		*res[0] = x
	}
	for d := range fseed {
		// dX = op(A)^-1 (dB - op(dA) X)
		da, db := *fseed[d][0], *fseed[d][1]
		if n.trans {
			da = da.T()
		}
		rhs := db.Sub(Mtimes(da, x))
		if rhs.IsZero() {
			*fsens[d][0] = Zeros(x.NRow(), x.NCol())
			continue
		}
		*fsens[d][0] = newSolve(a, rhs, n.trans)
	}
	for d := range aseed {
		seed := *aseed[d][0]
		*aseed[d][0] = Zeros(x.NRow(), x.NCol())
		if seed.IsZero() {
			continue
		}
		// W = op(A)^-T seed; dB += W; dA -= op(W X^T)
		w := newSolve(a, seed, !n.trans)
		*asens[d][1] = addToSum(*asens[d][1], w)
		contrib := Mtimes(w, x.T())
		if n.trans {
			contrib = contrib.T()
		}
		*asens[d][0] = addToSum(*asens[d][0], contrib.Neg())
	}
	return nil
}

func (n *solveNode) EvalScalar(arg, res []*sx.Matrix) error {
	return fmt.Errorf("mx: cannot expand a linear solve to scalar operations: %w", symflow.ErrOperatorUnsupported)
}

func (n *solveNode) GenerateOp(w io.Writer, arg, res []string) error {
	return fmt.Errorf("mx: cannot generate code for a linear solve")
}

func (n *solveNode) PrintPart(w io.Writer, part int) {
	switch part {
	case 0:
		if n.trans {
			io.WriteString(w, "solveT(")
		} else {
			io.WriteString(w, "solve(")
		}
	case 1:
		io.WriteString(w, ", ")
	default:
		io.WriteString(w, ")")
	}
}
