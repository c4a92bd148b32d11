// Package ops defines the closed operator tag set shared by the scalar
// and matrix expression layers, together with the per-operator metadata
// the compilers and evaluators consult: dependency counts, smoothness,
// numeric kernels, partial derivatives and print templates.
package ops

import (
	"fmt"
	"math"
)

// Op tags every node in an expression graph and every tape record.
type Op int

// Structural and special operations.
const (
	Input Op = iota
	Output
	Parameter
	Const
	Call
	Solve
	Lift
	GetNonzeros
	SetNonzeros
	AddNonzeros
	Transpose
	Mtimes

	// FunctionOutput wraps one output of a multiple-output node. It is a
	// graph construct only and never appears on a tape.
	FunctionOutput

	// Unary operations.
	Neg
	Sq
	Sqrt
	Sin
	Cos
	Tan
	Exp
	Log
	Fabs
	Sign

	// Binary operations.
	Add
	Sub
	Mul
	Div
	Pow
	Fmin
	Fmax
)

// IsUnary reports whether op is an elementary unary operation.
func (op Op) IsUnary() bool { return op >= Neg && op <= Sign }

// IsBinary reports whether op is an elementary binary operation.
func (op Op) IsBinary() bool { return op >= Add && op <= Fmax }

// NDeps returns the dependency count of an elementary operation.
// Structural operations determine their arity per node.
func (op Op) NDeps() int {
	switch {
	case op.IsUnary():
		return 1
	case op.IsBinary():
		return 2
	default:
		return 0
	}
}

// IsSmooth reports whether the operation has continuous derivatives
// everywhere. Fabs, Sign, Fmin and Fmax are only piecewise smooth.
func (op Op) IsSmooth() bool {
	switch op {
	case Fabs, Sign, Fmin, Fmax:
		return false
	default:
		return true
	}
}

// IsCommutative reports whether swapping the operands leaves the result
// unchanged. Used by bounded-depth structural equality.
func (op Op) IsCommutative() bool {
	switch op {
	case Add, Mul, Fmin, Fmax:
		return true
	default:
		return false
	}
}

// Eval applies an elementary operation numerically. The second operand
// is ignored for unary operations.
func Eval(op Op, x, y float64) float64 {
	switch op {
	case Neg:
		return -x
	case Sq:
		return x * x
	case Sqrt:
		return math.Sqrt(x)
	case Sin:
		return math.Sin(x)
	case Cos:
		return math.Cos(x)
	case Tan:
		return math.Tan(x)
	case Exp:
		return math.Exp(x)
	case Log:
		return math.Log(x)
	case Fabs:
		return math.Abs(x)
	case Sign:
		switch {
		case x > 0:
			return 1
		case x < 0:
			return -1
		default:
			return x // preserves signed zero and NaN
		}
	case Add:
		return x + y
	case Sub:
		return x - y
	case Mul:
		return x * y
	case Div:
		return x / y
	case Pow:
		return math.Pow(x, y)
	case Fmin:
		return math.Min(x, y)
	case Fmax:
		return math.Max(x, y)
	}
	panic(fmt.Sprintf("ops: Eval of non-elementary operation %v", op))
}

// Der returns the partial derivatives of an elementary operation with
// respect to both operands, given the operands and the already-computed
// function value f.
func Der(op Op, x, y, f float64) (dx, dy float64) {
	switch op {
	case Neg:
		return -1, 0
	case Sq:
		return 2 * x, 0
	case Sqrt:
		return 0.5 / f, 0
	case Sin:
		return math.Cos(x), 0
	case Cos:
		return -math.Sin(x), 0
	case Tan:
		c := math.Cos(x)
		return 1 / (c * c), 0
	case Exp:
		return f, 0
	case Log:
		return 1 / x, 0
	case Fabs:
		return Eval(Sign, x, 0), 0
	case Sign:
		return 0, 0
	case Add:
		return 1, 1
	case Sub:
		return 1, -1
	case Mul:
		return y, x
	case Div:
		return 1 / y, -f / y
	case Pow:
		return y * math.Pow(x, y-1), f * math.Log(x)
	case Fmin:
		if x <= y {
			return 1, 0
		}
		return 0, 1
	case Fmax:
		if x >= y {
			return 1, 0
		}
		return 0, 1
	}
	panic(fmt.Sprintf("ops: Der of non-elementary operation %v", op))
}

// printTemplate holds the pieces printed before the first operand,
// between operands and after the last operand in tape dumps and
// generated code.
type printTemplate struct {
	pre, sep, post string
}

var printTemplates = map[Op]printTemplate{
	Neg:  {pre: "(-", post: ")"},
	Sq:   {pre: "sq(", post: ")"},
	Sqrt: {pre: "sqrt(", post: ")"},
	Sin:  {pre: "sin(", post: ")"},
	Cos:  {pre: "cos(", post: ")"},
	Tan:  {pre: "tan(", post: ")"},
	Exp:  {pre: "exp(", post: ")"},
	Log:  {pre: "log(", post: ")"},
	Fabs: {pre: "fabs(", post: ")"},
	Sign: {pre: "sign(", post: ")"},
	Add:  {pre: "(", sep: "+", post: ")"},
	Sub:  {pre: "(", sep: "-", post: ")"},
	Mul:  {pre: "(", sep: "*", post: ")"},
	Div:  {pre: "(", sep: "/", post: ")"},
	Pow:  {pre: "pow(", sep: ", ", post: ")"},
	Fmin: {pre: "fmin(", sep: ", ", post: ")"},
	Fmax: {pre: "fmax(", sep: ", ", post: ")"},
}

// Pre returns the text printed before the first operand.
func Pre(op Op) string { return printTemplates[op].pre }

// Sep returns the text printed between operands.
func Sep(op Op) string { return printTemplates[op].sep }

// Post returns the text printed after the last operand.
func Post(op Op) string { return printTemplates[op].post }

func (op Op) String() string {
	switch op {
	case Input:
		return "input"
	case Output:
		return "output"
	case Parameter:
		return "parameter"
	case Const:
		return "const"
	case Call:
		return "call"
	case Solve:
		return "solve"
	case Lift:
		return "lift"
	case GetNonzeros:
		return "getnonzeros"
	case SetNonzeros:
		return "setnonzeros"
	case AddNonzeros:
		return "addnonzeros"
	case Transpose:
		return "transpose"
	case Mtimes:
		return "mtimes"
	case FunctionOutput:
		return "functionoutput"
	case Neg:
		return "neg"
	case Sq:
		return "sq"
	case Sqrt:
		return "sqrt"
	case Sin:
		return "sin"
	case Cos:
		return "cos"
	case Tan:
		return "tan"
	case Exp:
		return "exp"
	case Log:
		return "log"
	case Fabs:
		return "fabs"
	case Sign:
		return "sign"
	case Add:
		return "add"
	case Sub:
		return "sub"
	case Mul:
		return "mul"
	case Div:
		return "div"
	case Pow:
		return "pow"
	case Fmin:
		return "fmin"
	case Fmax:
		return "fmax"
	default:
		return fmt.Sprintf("op(%d)", int(op))
	}
}
