package mx

import (
	"fmt"

	"github.com/symflow/symflow/ops"
	"github.com/symflow/symflow/sparsity"
)

// Expr is a handle to a matrix expression node. Nodes form a DAG with
// exact sharing; dependencies are strictly older than dependents. The
// zero value is a null expression, treated as a structural zero of
// unknown shape by the evaluators.
type Expr struct {
	node Node
}

// symbolNode is a symbolic primitive: a named matrix of given sparsity.
// Symbols that are not declared inputs of a function are its free
// variables.
type symbolNode struct {
	baseNode
	name string
}

// Sym returns a new symbolic primitive. Every call creates a distinct
// symbol, even under an existing name.
func Sym(name string, sp *sparsity.Pattern) Expr {
	return Expr{node: &symbolNode{baseNode: baseNode{sp: []*sparsity.Pattern{sp}}, name: name}}
}

// SymDense returns a dense nrow-by-ncol symbolic primitive.
func SymDense(name string, nrow, ncol int) Expr {
	return Sym(name, sparsity.Dense(nrow, ncol))
}

// Const wraps a numeric matrix as a constant expression.
func Const(d *DM) Expr {
	return Expr{node: &constNode{baseNode: baseNode{sp: []*sparsity.Pattern{d.Sparsity()}}, val: d}}
}

// NumScalar returns a dense 1-by-1 constant.
func NumScalar(v float64) Expr { return Const(ScalarDM(v)) }

// Zeros returns the structurally zero nrow-by-ncol expression: a
// constant over the empty pattern. It is the canonical zero used for
// absent derivative seeds and sensitivities.
func Zeros(nrow, ncol int) Expr {
	return Const(NewDM(sparsity.Empty(nrow, ncol)))
}

// IsNull reports whether e is the zero-value handle.
func (e Expr) IsNull() bool { return e.node == nil }

// Node returns the underlying operator node.
func (e Expr) Node() Node { return e.node }

// Op returns the operator tag of the node.
func (e Expr) Op() ops.Op { return e.node.Op() }

// Sparsity returns the pattern of the expression value.
func (e Expr) Sparsity() *sparsity.Pattern { return e.node.Sparsity(outputIndex(e.node)) }

func outputIndex(n Node) int {
	if o, ok := n.(*outputNode); ok {
		return o.oind
	}
	return 0
}

// NRow returns the number of rows of the expression value.
func (e Expr) NRow() int { return e.Sparsity().NRow() }

// NCol returns the number of columns of the expression value.
func (e Expr) NCol() int { return e.Sparsity().NCol() }

// IsSymbolic reports whether e is a symbolic primitive.
func (e Expr) IsSymbolic() bool {
	_, ok := e.node.(*symbolNode)
	return ok
}

// IsConstant reports whether e is a constant matrix.
func (e Expr) IsConstant() bool {
	_, ok := e.node.(*constNode)
	return ok
}

// IsZero reports whether e is structurally or numerically the zero
// matrix: a null handle, an empty pattern, or a constant whose
// nonzeros are all zero.
func (e Expr) IsZero() bool {
	if e.node == nil {
		return true
	}
	if e.Sparsity().IsEmpty() {
		return true
	}
	if c, ok := e.node.(*constNode); ok {
		for _, v := range c.val.nz {
			if v != 0 {
				return false
			}
		}
		return true
	}
	return false
}

// IsEqual reports structural equality of a and b to the given depth:
// identical nodes are equal at any depth, and at positive depth two
// nodes are equal if they carry the same operation, equal output
// sparsity, and dependencies equal at depth-1.
func IsEqual(a, b Expr, depth int) bool {
	if a.node == b.node {
		return true
	}
	if a.node == nil || b.node == nil || depth <= 0 {
		return false
	}
	if a.Op() != b.Op() || a.Sparsity() != b.Sparsity() {
		return false
	}
	switch a.node.(type) {
	case *symbolNode:
		return false // distinct symbols are never equal
	case *constNode:
		ca, cb := a.node.(*constNode), b.node.(*constNode)
		for i, v := range ca.val.nz {
			if cb.val.nz[i] != v {
				return false
			}
		}
		return true
	}
	if a.node.NDep() != b.node.NDep() {
		return false
	}
	for i := 0; i < a.node.NDep(); i++ {
		if !IsEqual(a.node.Dep(i), b.node.Dep(i), depth-1) {
			return false
		}
	}
	return true
}

// outputExpr returns the expression for output oind of a node: the node
// itself for single-output nodes, a function-output wrapper otherwise.
func outputExpr(n Node, oind int) Expr {
	if !n.MultipleOutput() {
		return Expr{node: n}
	}
	return Expr{node: &outputNode{parent: Expr{node: n}, oind: oind}}
}

// addToSum composes adjoint contributions flowing through multiple
// consumers: structural addition treating null and structural zeros as
// identity.
func addToSum(a, b Expr) Expr {
	if b.IsNull() || b.IsZero() {
		if a.IsNull() {
			return b
		}
		return a
	}
	if a.IsNull() || a.IsZero() {
		return b
	}
	return a.Add(b)
}

// sumAll reduces a matrix expression to its dense scalar sum,
// ones(1,m)*e*ones(n,1). Broadcast adjoints of scalar operands reduce
// through it.
func sumAll(e Expr) Expr {
	if e.IsZero() {
		return Zeros(1, 1)
	}
	m, n := e.NRow(), e.NCol()
	if m == 1 && n == 1 {
		return e
	}
	onesRow := Const(onesDM(1, m))
	onesCol := Const(onesDM(n, 1))
	return Mtimes(Mtimes(onesRow, e), onesCol)
}

func onesDM(nrow, ncol int) *DM {
	d := NewDM(sparsity.Dense(nrow, ncol))
	d.Fill(1)
	return d
}

func (e Expr) String() string {
	if e.node == nil {
		return "00"
	}
	return fmt.Sprintf("%s@%p", e.Op(), e.node)
}
