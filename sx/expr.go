// Package sx implements the scalar expression layer: reference-shared
// graphs of elementary scalar operations, sparse matrices of scalar
// expressions, and functions compiled from them into a register-machine
// tape supporting numeric evaluation, sparsity propagation and forward
// and reverse algorithmic differentiation.
package sx

import (
	"fmt"
	"strings"

	"github.com/symflow/symflow/ops"
)

// Expr is a handle to a scalar expression node. Nodes form a DAG with
// exact sharing; dependencies are strictly older than dependents, so
// cycles cannot occur. The zero value is a null expression, treated as
// a structural zero by the evaluators.
type Expr struct {
	n *node
}

type node struct {
	op   ops.Op
	dep  [2]*node
	val  float64 // Const only
	name string  // Parameter only
}

// Sym returns a new symbolic primitive. Every call creates a distinct
// symbol, even under an existing name.
func Sym(name string) Expr {
	return Expr{n: &node{op: ops.Parameter, name: name}}
}

// Num returns a constant expression.
func Num(v float64) Expr {
	return Expr{n: &node{op: ops.Const, val: v}}
}

// IsNull reports whether e is the zero-value handle.
func (e Expr) IsNull() bool { return e.n == nil }

// IsConstant reports whether e is a literal constant.
func (e Expr) IsConstant() bool { return e.n != nil && e.n.op == ops.Const }

// IsSymbolic reports whether e is a symbolic primitive.
func (e Expr) IsSymbolic() bool { return e.n != nil && e.n.op == ops.Parameter }

// IsZero reports whether e is the constant zero.
func (e Expr) IsZero() bool { return e.IsConstant() && e.n.val == 0 }

// IsOne reports whether e is the constant one.
func (e Expr) IsOne() bool { return e.IsConstant() && e.n.val == 1 }

// Op returns the operator tag of the expression node.
func (e Expr) Op() ops.Op { return e.n.op }

// Float64 returns the constant value when e is a literal.
func (e Expr) Float64() (float64, bool) {
	if e.IsConstant() {
		return e.n.val, true
	}
	return 0, false
}

// Name returns the name of a symbolic primitive.
func (e Expr) Name() string { return e.n.name }

// NDep returns the number of dependencies of the expression node.
func (e Expr) NDep() int { return e.n.op.NDeps() }

// Dep returns dependency i.
func (e Expr) Dep(i int) Expr { return Expr{n: e.n.dep[i]} }

func unary(op ops.Op, x Expr) Expr {
	if x.IsConstant() {
		return Num(ops.Eval(op, x.n.val, 0))
	}
	if op == ops.Neg && x.n.op == ops.Neg {
		return Expr{n: x.n.dep[0]}
	}
	return Expr{n: &node{op: op, dep: [2]*node{x.n}}}
}

func binary(op ops.Op, x, y Expr) Expr {
	if x.IsConstant() && y.IsConstant() {
		return Num(ops.Eval(op, x.n.val, y.n.val))
	}
	switch op {
	case ops.Add:
		if x.IsZero() {
			return y
		}
		if y.IsZero() {
			return x
		}
	case ops.Sub:
		if y.IsZero() {
			return x
		}
		if x.IsZero() {
			return unary(ops.Neg, y)
		}
	case ops.Mul:
		if x.IsZero() || y.IsZero() {
			return Num(0)
		}
		if x.IsOne() {
			return y
		}
		if y.IsOne() {
			return x
		}
	case ops.Div:
		if y.IsOne() {
			return x
		}
	}
	return Expr{n: &node{op: op, dep: [2]*node{x.n, y.n}}}
}

// Add returns e + y.
func (e Expr) Add(y Expr) Expr { return binary(ops.Add, e, y) }

// Sub returns e - y.
func (e Expr) Sub(y Expr) Expr { return binary(ops.Sub, e, y) }

// Mul returns e * y.
func (e Expr) Mul(y Expr) Expr { return binary(ops.Mul, e, y) }

// Div returns e / y.
func (e Expr) Div(y Expr) Expr { return binary(ops.Div, e, y) }

// Pow returns e raised to y.
func (e Expr) Pow(y Expr) Expr { return binary(ops.Pow, e, y) }

// Fmin returns the elementwise minimum of e and y.
func (e Expr) Fmin(y Expr) Expr { return binary(ops.Fmin, e, y) }

// Fmax returns the elementwise maximum of e and y.
func (e Expr) Fmax(y Expr) Expr { return binary(ops.Fmax, e, y) }

// Neg returns -e.
func (e Expr) Neg() Expr { return unary(ops.Neg, e) }

// Sq returns e squared.
func (e Expr) Sq() Expr { return unary(ops.Sq, e) }

// Sqrt returns the square root of e.
func (e Expr) Sqrt() Expr { return unary(ops.Sqrt, e) }

// Sin returns the sine of e.
func (e Expr) Sin() Expr { return unary(ops.Sin, e) }

// Cos returns the cosine of e.
func (e Expr) Cos() Expr { return unary(ops.Cos, e) }

// Tan returns the tangent of e.
func (e Expr) Tan() Expr { return unary(ops.Tan, e) }

// Exp returns the exponential of e.
func (e Expr) Exp() Expr { return unary(ops.Exp, e) }

// Log returns the natural logarithm of e.
func (e Expr) Log() Expr { return unary(ops.Log, e) }

// Abs returns the absolute value of e.
func (e Expr) Abs() Expr { return unary(ops.Fabs, e) }

// Sign returns the sign of e.
func (e Expr) Sign() Expr { return unary(ops.Sign, e) }

// Apply builds the elementary operation op over x, and y for binary
// operations, with the usual construction-time simplifications.
func Apply(op ops.Op, x, y Expr) Expr {
	if op.NDeps() > 1 {
		return binary(op, x, y)
	}
	return unary(op, x)
}

// IsEqual reports structural equality of a and b to the given depth:
// identical nodes are equal at any depth, and at positive depth two
// nodes are equal if they carry the same operation and their
// dependencies are equal at depth-1 (trying the swapped pairing for
// commutative operations).
func IsEqual(a, b Expr, depth int) bool {
	if a.n == b.n {
		return true
	}
	if a.n == nil || b.n == nil || depth <= 0 {
		return false
	}
	if a.n.op != b.n.op {
		return false
	}
	switch a.n.op {
	case ops.Const:
		return a.n.val == b.n.val
	case ops.Parameter:
		return false // distinct symbols are never equal
	}
	nd := a.n.op.NDeps()
	if nd == 1 {
		return IsEqual(a.Dep(0), b.Dep(0), depth-1)
	}
	if IsEqual(a.Dep(0), b.Dep(0), depth-1) && IsEqual(a.Dep(1), b.Dep(1), depth-1) {
		return true
	}
	if a.n.op.IsCommutative() {
		return IsEqual(a.Dep(0), b.Dep(1), depth-1) && IsEqual(a.Dep(1), b.Dep(0), depth-1)
	}
	return false
}

// assignIfDuplicate returns recorded when e is structurally equal to it
// at bounded depth, avoiding uncontrolled growth of freshly rebuilt
// expressions during symbolic replay.
func (e Expr) assignIfDuplicate(recorded Expr, depth int) Expr {
	if IsEqual(e, recorded, depth) {
		return recorded
	}
	return e
}

// der returns the symbolic partial derivatives of an elementary
// operation with respect to both operands, given the operands and the
// already-built result f.
func der(op ops.Op, x, y, f Expr) (dx, dy Expr) {
	switch op {
	case ops.Neg:
		return Num(-1), Expr{}
	case ops.Sq:
		return Num(2).Mul(x), Expr{}
	case ops.Sqrt:
		return Num(0.5).Div(f), Expr{}
	case ops.Sin:
		return x.Cos(), Expr{}
	case ops.Cos:
		return x.Sin().Neg(), Expr{}
	case ops.Tan:
		return Num(1).Add(f.Sq()), Expr{}
	case ops.Exp:
		return f, Expr{}
	case ops.Log:
		return Num(1).Div(x), Expr{}
	case ops.Fabs:
		return x.Sign(), Expr{}
	case ops.Sign:
		return Num(0), Expr{}
	case ops.Add:
		return Num(1), Num(1)
	case ops.Sub:
		return Num(1), Num(-1)
	case ops.Mul:
		return y, x
	case ops.Div:
		return Num(1).Div(y), f.Div(y).Neg()
	case ops.Pow:
		return y.Mul(x.Pow(y.Sub(Num(1)))), f.Mul(x.Log())
	case ops.Fmin:
		half := Num(0.5)
		return half.Sub(half.Mul(x.Sub(y).Sign())), half.Add(half.Mul(x.Sub(y).Sign()))
	case ops.Fmax:
		half := Num(0.5)
		return half.Add(half.Mul(x.Sub(y).Sign())), half.Sub(half.Mul(x.Sub(y).Sign()))
	}
	panic(fmt.Sprintf("sx: derivative of non-elementary operation %v", op))
}

// String renders the expression as infix text.
func (e Expr) String() string {
	if e.n == nil {
		return "00"
	}
	var b strings.Builder
	e.print(&b)
	return b.String()
}

func (e Expr) print(b *strings.Builder) {
	switch e.n.op {
	case ops.Const:
		fmt.Fprintf(b, "%g", e.n.val)
	case ops.Parameter:
		b.WriteString(e.n.name)
	default:
		b.WriteString(ops.Pre(e.n.op))
		e.Dep(0).print(b)
		if e.n.op.NDeps() > 1 {
			b.WriteString(ops.Sep(e.n.op))
			e.Dep(1).print(b)
		}
		b.WriteString(ops.Post(e.n.op))
	}
}

// addNZ adds two possibly-null expressions, treating null as zero.
func addNZ(a, b Expr) Expr {
	if a.n == nil {
		return b
	}
	if b.n == nil {
		return a
	}
	return a.Add(b)
}

// mulNZ multiplies two possibly-null expressions, treating null as zero.
func mulNZ(a, b Expr) Expr {
	if a.n == nil || b.n == nil {
		return Expr{}
	}
	return a.Mul(b)
}
