package mx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// The Jacobian of a linear map y = A*x is A itself.
func TestJacobianOfLinearMap(t *testing.T) {
	aVals := []float64{1, 2, 3, 4, 5, 6} // column-major 2x3
	a := Const(DenseDM(2, 3, aVals))
	x := SymDense("x", 3, 1)
	f := mustCompile(t, []Expr{x}, []Expr{Mtimes(a, x)})

	out := evalAt(t, f, [][]float64{{1, 1, 1}})
	assert.Equal(t, []float64{9, 12}, out[0])

	jf, err := f.Jacobian(0, 0, true, false)
	require.NoError(t, err)
	jout := evalAt(t, jf, [][]float64{{0.1, 0.2, 0.3}})
	assert.True(t, floats.EqualApprox(aVals, jout[0], 1e-12),
		"jacobian %v, want %v", jout[0], aVals)
}

// The Jacobian of a linear solve x = A^-1 b with respect to b is the
// matrix inverse.
func TestJacobianOfSolve(t *testing.T) {
	a := Const(DenseDM(2, 2, []float64{2, 0, 0, 4}))
	b := SymDense("b", 2, 1)
	f := mustCompile(t, []Expr{b}, []Expr{Solve(a, b)})

	out := evalAt(t, f, [][]float64{{1, 2}})
	assert.InDelta(t, 0.5, out[0][0], 1e-12)
	assert.InDelta(t, 0.5, out[0][1], 1e-12)

	jf, err := f.Jacobian(0, 0, true, false)
	require.NoError(t, err)
	jout := evalAt(t, jf, [][]float64{{1, 2}})

	// Compare against the gonum-computed inverse.
	var inv mat.Dense
	require.NoError(t, inv.Inverse(mat.NewDense(2, 2, []float64{2, 0, 0, 4})))
	want := []float64{inv.At(0, 0), inv.At(1, 0), inv.At(0, 1), inv.At(1, 1)}
	assert.True(t, floats.EqualApprox(want, jout[0], 1e-12),
		"jacobian %v, want %v", jout[0], want)
}

// Jacobian of a scatter: only the written position depends on the
// scattered value.
func TestJacobianOfSetNonzeros(t *testing.T) {
	x := SymDense("x", 3, 1)
	v := SymDense("v", 1, 1)
	f := mustCompile(t, []Expr{x, v}, []Expr{SetNZ(x, v, []int{1})})

	jv, err := f.Jacobian(1, 0, true, false)
	require.NoError(t, err)
	out := evalAt(t, jv, [][]float64{{1, 2, 3}, {9}})
	assert.Equal(t, []float64{0, 1, 0}, out[0])

	// With respect to x, the overwritten entry contributes nothing.
	jx, err := f.Jacobian(0, 0, true, false)
	require.NoError(t, err)
	out = evalAt(t, jx, [][]float64{{1, 2, 3}, {9}})
	assert.Equal(t, []float64{
		1, 0, 0,
		0, 0, 0,
		0, 0, 1,
	}, out[0])
}

func TestFullJacobian(t *testing.T) {
	x := SymDense("x", 2, 1)
	f := mustCompile(t, []Expr{x}, []Expr{x.Sq()})

	jf, err := f.FullJacobian()
	require.NoError(t, err)
	out := evalAt(t, jf, [][]float64{{3, 5}})
	// Full 2x2 Jacobian of the elementwise square, column-major.
	assert.Equal(t, []float64{6, 0, 0, 10}, out[0])

	g := mustCompile(t, []Expr{x, SymDense("y", 1, 1)}, []Expr{x})
	_, err = g.FullJacobian()
	assert.Error(t, err)
}
