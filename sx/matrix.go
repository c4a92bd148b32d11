package sx

import (
	"fmt"

	"github.com/symflow/symflow/sparsity"
)

// Matrix is a sparse matrix of scalar expressions: a sparsity pattern
// plus one expression per structural nonzero, column-major.
type Matrix struct {
	sp *sparsity.Pattern
	nz []Expr
}

// NewMatrix builds a matrix from a pattern and its nonzero expressions.
func NewMatrix(sp *sparsity.Pattern, nz []Expr) Matrix {
	if len(nz) != sp.NNZ() {
		panic(fmt.Sprintf("sx: %d expressions for pattern %v", len(nz), sp))
	}
	return Matrix{sp: sp, nz: nz}
}

// SymMatrix returns a matrix of fresh symbolic primitives with the
// given pattern. A single nonzero is named name; otherwise the
// nonzeros are named name_0, name_1, ...
func SymMatrix(name string, sp *sparsity.Pattern) Matrix {
	nz := make([]Expr, sp.NNZ())
	for k := range nz {
		if len(nz) == 1 {
			nz[k] = Sym(name)
		} else {
			nz[k] = Sym(fmt.Sprintf("%s_%d", name, k))
		}
	}
	return Matrix{sp: sp, nz: nz}
}

// ScalarMatrix wraps a single expression as a dense 1-by-1 matrix.
func ScalarMatrix(e Expr) Matrix {
	return Matrix{sp: sparsity.Scalar(), nz: []Expr{e}}
}

// ZeroMatrix returns a matrix of constant zeros with the given pattern.
func ZeroMatrix(sp *sparsity.Pattern) Matrix {
	nz := make([]Expr, sp.NNZ())
	for k := range nz {
		nz[k] = Num(0)
	}
	return Matrix{sp: sp, nz: nz}
}

// Sparsity returns the matrix pattern.
func (m Matrix) Sparsity() *sparsity.Pattern { return m.sp }

// Nonzeros returns the nonzero expressions. Callers must not modify it.
func (m Matrix) Nonzeros() []Expr { return m.nz }

// At returns the expression at (r, c), or a constant zero when the
// element is structurally zero.
func (m Matrix) At(r, c int) Expr {
	if k := m.sp.Index(r, c); k >= 0 {
		return m.nz[k]
	}
	return Num(0)
}

// Scalar returns the single expression of a 1-by-1 matrix.
func (m Matrix) Scalar() Expr {
	if !m.sp.IsScalar() {
		panic(fmt.Sprintf("sx: Scalar on %v matrix", m.sp))
	}
	return m.nz[0]
}

// IsSymbolicMatrix reports whether every nonzero is a symbolic
// primitive. Function inputs must satisfy this.
func (m Matrix) IsSymbolicMatrix() bool {
	for _, e := range m.nz {
		if !e.IsSymbolic() {
			return false
		}
	}
	return true
}

func (m Matrix) String() string {
	s := "["
	for k, e := range m.nz {
		if k > 0 {
			s += ", "
		}
		s += e.String()
	}
	return s + "]"
}
