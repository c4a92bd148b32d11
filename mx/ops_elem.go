package mx

import (
	"fmt"
	"io"

	"github.com/symflow/symflow/ops"
	"github.com/symflow/symflow/sparsity"
	"github.com/symflow/symflow/sx"
)

// unaryNode applies an elementary operation to every nonzero of its
// dependency. The result pattern equals the operand pattern.
type unaryNode struct {
	baseNode
	op ops.Op
}

func newUnary(op ops.Op, x Expr) Expr {
	if op == ops.Neg {
		if inner, ok := x.node.(*unaryNode); ok && inner.op == ops.Neg {
			return inner.deps[0]
		}
	}
	return Expr{node: &unaryNode{
		baseNode: baseNode{deps: []Expr{x}, sp: []*sparsity.Pattern{x.Sparsity()}},
		op:       op,
	}}
}

func (n *unaryNode) Op() ops.Op { return n.op }

func (n *unaryNode) EvalNumeric(arg, res []*DM, iw []int, rw []float64) error {
	x, out := arg[0], res[0]
	for k := range out.nz {
		out.nz[k] = ops.Eval(n.op, x.nz[k], 0)
	}
	return nil
}

func (n *unaryNode) PropagateSparsity(arg, res [][]uint64, iw []int, rw []float64, forward bool) {
	x, out := arg[0], res[0]
	if forward {
		copy(out, x)
		return
	}
	for k := range out {
		x[k] |= out[k]
		out[k] = 0
	}
}

func (n *unaryNode) EvalSym(arg, res []*Expr, fseed, fsens, aseed, asens [][]*Expr, outputGiven bool) error {
	x := *arg[0]
	var f Expr
	if outputGiven {
		f = *res[0]
	} else {
		f = newUnary(n.op, x)
		*res[0] = f
	}
	if len(fseed) == 0 && len(aseed) == 0 {
		return nil
	}
	dx, _ := derMX(n.op, x, Expr{}, f)
	for d := range fseed {
		*fsens[d][0] = (*fseed[d][0]).Mul(dx)
	}
	for d := range aseed {
		seed := *aseed[d][0]
		*aseed[d][0] = Zeros(f.NRow(), f.NCol())
		if seed.IsZero() {
			continue
		}
		*asens[d][0] = addToSum(*asens[d][0], dx.Mul(seed))
	}
	return nil
}

func (n *unaryNode) EvalScalar(arg, res []*sx.Matrix) error {
	x := arg[0]
	nz := make([]sx.Expr, n.sp[0].NNZ())
	for k := range nz {
		nz[k] = sx.Apply(n.op, x.Nonzeros()[k], sx.Expr{})
	}
	*res[0] = sx.NewMatrix(n.sp[0], nz)
	return nil
}

func (n *unaryNode) GenerateOp(w io.Writer, arg, res []string) error {
	for k := 0; k < n.sp[0].NNZ(); k++ {
		fmt.Fprintf(w, "  %s[%d]=%s%s[%d]%s;\n",
			res[0], k, ops.Pre(n.op), arg[0], k, ops.Post(n.op))
	}
	return nil
}

func (n *unaryNode) PrintPart(w io.Writer, part int) {
	if part == 0 {
		io.WriteString(w, ops.Pre(n.op))
	} else {
		io.WriteString(w, ops.Post(n.op))
	}
}

// binaryNode applies an elementary operation elementwise. Operands of
// equal pattern combine directly; a dense 1-by-1 operand broadcasts
// over the other; otherwise the result is the pattern union with
// structural zeros for the missing entries.
type binaryNode struct {
	baseNode
	op               ops.Op
	mapA, mapB       []int // union gather maps, nil for identity
	scalarA, scalarB bool
}

func newBinary(op ops.Op, x, y Expr) Expr {
	xs, ys := x.Sparsity(), y.Sparsity()

	// Result dimensions under scalar broadcasting.
	nrow, ncol := xs.NRow(), xs.NCol()
	if xs.IsScalar() && !ys.IsScalar() {
		nrow, ncol = ys.NRow(), ys.NCol()
	}

	// Identity simplifications, only when they preserve the result
	// shape.
	switch op {
	case ops.Add:
		if x.IsZero() && ys.NRow() == nrow && ys.NCol() == ncol {
			return y
		}
		if y.IsZero() && xs.NRow() == nrow && xs.NCol() == ncol {
			return x
		}
	case ops.Sub:
		if y.IsZero() && xs.NRow() == nrow && xs.NCol() == ncol {
			return x
		}
		if x.IsZero() && ys.NRow() == nrow && ys.NCol() == ncol {
			return newUnary(ops.Neg, y)
		}
	case ops.Mul:
		if x.IsZero() || y.IsZero() {
			return Zeros(nrow, ncol)
		}
		if isOneScalar(x) {
			return y
		}
		if isOneScalar(y) {
			return x
		}
	case ops.Div:
		if x.IsZero() {
			return Zeros(nrow, ncol)
		}
		if isOneScalar(y) {
			return x
		}
	}

	n := &binaryNode{op: op}
	var sp *sparsity.Pattern
	switch {
	case xs.IsScalar() && ys.IsScalar():
		sp = sparsity.Scalar()
	case xs.IsScalar():
		sp = ys
		n.scalarA = true
	case ys.IsScalar():
		sp = xs
		n.scalarB = true
	case xs == ys:
		sp = xs
	default:
		if xs.NRow() != ys.NRow() || xs.NCol() != ys.NCol() {
			panic(fmt.Sprintf("mx: %v of %v and %v", op, xs, ys))
		}
		// The union fill value would be a structural 0 denominator.
		if op == ops.Div {
			panic(fmt.Sprintf("mx: division of mismatched patterns %v and %v", xs, ys))
		}
		sp, n.mapA, n.mapB = sparsity.Union(xs, ys)
	}
	n.baseNode = baseNode{deps: []Expr{x, y}, sp: []*sparsity.Pattern{sp}}
	return Expr{node: n}
}

func isOneScalar(e Expr) bool {
	c, ok := e.node.(*constNode)
	return ok && c.val.sp.IsScalar() && c.val.nz[0] == 1
}

func (n *binaryNode) Op() ops.Op { return n.op }

func (n *binaryNode) pickNum(d *DM, scalar bool, m []int, k int) float64 {
	switch {
	case scalar:
		return d.nz[0]
	case m == nil:
		return d.nz[k]
	case m[k] < 0:
		return 0
	default:
		return d.nz[m[k]]
	}
}

func (n *binaryNode) EvalNumeric(arg, res []*DM, iw []int, rw []float64) error {
	x, y, out := arg[0], arg[1], res[0]
	for k := range out.nz {
		out.nz[k] = ops.Eval(n.op, n.pickNum(x, n.scalarA, n.mapA, k), n.pickNum(y, n.scalarB, n.mapB, k))
	}
	return nil
}

func (n *binaryNode) PropagateSparsity(arg, res [][]uint64, iw []int, rw []float64, forward bool) {
	x, y, out := arg[0], arg[1], res[0]
	pick := func(m []uint64, scalar bool, idx []int, k int) uint64 {
		switch {
		case scalar:
			return m[0]
		case idx == nil:
			return m[k]
		case idx[k] < 0:
			return 0
		default:
			return m[idx[k]]
		}
	}
	if forward {
		for k := range out {
			out[k] = pick(x, n.scalarA, n.mapA, k) | pick(y, n.scalarB, n.mapB, k)
		}
		return
	}
	scatter := func(m []uint64, scalar bool, idx []int, k int, seed uint64) {
		switch {
		case scalar:
			m[0] |= seed
		case idx == nil:
			m[k] |= seed
		case idx[k] >= 0:
			m[idx[k]] |= seed
		}
	}
	for k := range out {
		seed := out[k]
		out[k] = 0
		scatter(x, n.scalarA, n.mapA, k, seed)
		scatter(y, n.scalarB, n.mapB, k, seed)
	}
}

func (n *binaryNode) EvalSym(arg, res []*Expr, fseed, fsens, aseed, asens [][]*Expr, outputGiven bool) error {
	x, y := *arg[0], *arg[1]
	var f Expr
	if outputGiven {
		f = *res[0]
	} else {
		f = newBinary(n.op, x, y)
		*res[0] = f
	}
	if len(fseed) == 0 && len(aseed) == 0 {
		return nil
	}
	dx, dy := derMX(n.op, x, y, f)
	for d := range fseed {
		s := dx.Mul(*fseed[d][0])
		s = addToSum(s, dy.Mul(*fseed[d][1]))
		// A sensitivity that collapsed to a scalar broadcasts over the
		// result shape.
		if !s.IsNull() && s.Sparsity().IsScalar() && !f.Sparsity().IsScalar() {
			s = s.Mul(Const(onesDM(f.NRow(), f.NCol())))
		}
		*fsens[d][0] = s
	}
	for d := range aseed {
		seed := *aseed[d][0]
		*aseed[d][0] = Zeros(f.NRow(), f.NCol())
		if seed.IsZero() {
			continue
		}
		tx := dx.Mul(seed)
		if n.scalarA {
			tx = sumAll(tx)
		}
		*asens[d][0] = addToSum(*asens[d][0], tx)
		ty := dy.Mul(seed)
		if n.scalarB {
			ty = sumAll(ty)
		}
		*asens[d][1] = addToSum(*asens[d][1], ty)
	}
	return nil
}

func (n *binaryNode) EvalScalar(arg, res []*sx.Matrix) error {
	pick := func(m *sx.Matrix, scalar bool, idx []int, k int) sx.Expr {
		switch {
		case scalar:
			return m.Nonzeros()[0]
		case idx == nil:
			return m.Nonzeros()[k]
		case idx[k] < 0:
			return sx.Num(0)
		default:
			return m.Nonzeros()[idx[k]]
		}
	}
	nz := make([]sx.Expr, n.sp[0].NNZ())
	for k := range nz {
		nz[k] = sx.Apply(n.op,
			pick(arg[0], n.scalarA, n.mapA, k),
			pick(arg[1], n.scalarB, n.mapB, k))
	}
	*res[0] = sx.NewMatrix(n.sp[0], nz)
	return nil
}

func (n *binaryNode) GenerateOp(w io.Writer, arg, res []string) error {
	ref := func(name string, scalar bool, idx []int, k int) string {
		switch {
		case scalar:
			return fmt.Sprintf("%s[0]", name)
		case idx == nil:
			return fmt.Sprintf("%s[%d]", name, k)
		case idx[k] < 0:
			return "0"
		default:
			return fmt.Sprintf("%s[%d]", name, idx[k])
		}
	}
	for k := 0; k < n.sp[0].NNZ(); k++ {
		fmt.Fprintf(w, "  %s[%d]=%s%s%s%s%s;\n", res[0], k,
			ops.Pre(n.op), ref(arg[0], n.scalarA, n.mapA, k),
			ops.Sep(n.op), ref(arg[1], n.scalarB, n.mapB, k), ops.Post(n.op))
	}
	return nil
}

func (n *binaryNode) PrintPart(w io.Writer, part int) {
	switch part {
	case 0:
		io.WriteString(w, ops.Pre(n.op))
	case 1:
		io.WriteString(w, ops.Sep(n.op))
	default:
		io.WriteString(w, ops.Post(n.op))
	}
}

// derMX returns the elementwise partial derivatives of an elementary
// operation as matrix expressions, given the operands and the
// already-built result f.
func derMX(op ops.Op, x, y, f Expr) (dx, dy Expr) {
	one := NumScalar(1)
	switch op {
	case ops.Neg:
		return NumScalar(-1), Expr{}
	case ops.Sq:
		return NumScalar(2).Mul(x), Expr{}
	case ops.Sqrt:
		return NumScalar(0.5).Div(f), Expr{}
	case ops.Sin:
		return x.Cos(), Expr{}
	case ops.Cos:
		return x.Sin().Neg(), Expr{}
	case ops.Tan:
		return one.Add(f.Sq()), Expr{}
	case ops.Exp:
		return f, Expr{}
	case ops.Log:
		return one.Div(x), Expr{}
	case ops.Fabs:
		return x.SignExpr(), Expr{}
	case ops.Sign:
		return Zeros(x.NRow(), x.NCol()), Expr{}
	case ops.Add:
		return one, one
	case ops.Sub:
		return one, NumScalar(-1)
	case ops.Mul:
		return y, x
	case ops.Div:
		return one.Div(y), f.Div(y).Neg()
	case ops.Pow:
		return y.Mul(x.Pow(y.Sub(one))), f.Mul(x.Log())
	case ops.Fmin:
		half := NumScalar(0.5)
		s := x.Sub(y).SignExpr()
		return half.Sub(half.Mul(s)), half.Add(half.Mul(s))
	case ops.Fmax:
		half := NumScalar(0.5)
		s := x.Sub(y).SignExpr()
		return half.Add(half.Mul(s)), half.Sub(half.Mul(s))
	}
	panic(fmt.Sprintf("mx: derivative of non-elementary operation %v", op))
}

// Elementwise builders.

// Add returns the elementwise sum e + y.
func (e Expr) Add(y Expr) Expr { return newBinary(ops.Add, e, y) }

// Sub returns the elementwise difference e - y.
func (e Expr) Sub(y Expr) Expr { return newBinary(ops.Sub, e, y) }

// Mul returns the elementwise product of e and y.
func (e Expr) Mul(y Expr) Expr { return newBinary(ops.Mul, e, y) }

// Div returns the elementwise quotient of e and y.
func (e Expr) Div(y Expr) Expr { return newBinary(ops.Div, e, y) }

// Pow returns e raised elementwise to y.
func (e Expr) Pow(y Expr) Expr { return newBinary(ops.Pow, e, y) }

// Fmin returns the elementwise minimum of e and y.
func (e Expr) Fmin(y Expr) Expr { return newBinary(ops.Fmin, e, y) }

// Fmax returns the elementwise maximum of e and y.
func (e Expr) Fmax(y Expr) Expr { return newBinary(ops.Fmax, e, y) }

// Neg returns -e.
func (e Expr) Neg() Expr { return newUnary(ops.Neg, e) }

// Sq returns the elementwise square of e.
func (e Expr) Sq() Expr { return newUnary(ops.Sq, e) }

// Sqrt returns the elementwise square root of e.
func (e Expr) Sqrt() Expr { return newUnary(ops.Sqrt, e) }

// Sin returns the elementwise sine of e.
func (e Expr) Sin() Expr { return newUnary(ops.Sin, e) }

// Cos returns the elementwise cosine of e.
func (e Expr) Cos() Expr { return newUnary(ops.Cos, e) }

// Tan returns the elementwise tangent of e.
func (e Expr) Tan() Expr { return newUnary(ops.Tan, e) }

// Exp returns the elementwise exponential of e.
func (e Expr) Exp() Expr { return newUnary(ops.Exp, e) }

// Log returns the elementwise natural logarithm of e.
func (e Expr) Log() Expr { return newUnary(ops.Log, e) }

// Abs returns the elementwise absolute value of e.
func (e Expr) Abs() Expr { return newUnary(ops.Fabs, e) }

// SignExpr returns the elementwise sign of e.
func (e Expr) SignExpr() Expr { return newUnary(ops.Sign, e) }
