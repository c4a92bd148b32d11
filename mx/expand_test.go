package mx

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/symflow/symflow"
	"github.com/symflow/symflow/sparsity"
)

// Round-trip: the expanded scalar function computes the same values as
// the matrix function.
func TestExpandRoundTrip(t *testing.T) {
	x := SymDense("x", 2, 1)
	x0 := GetNZ(x, sparsity.Scalar(), []int{0})
	x1 := GetNZ(x, sparsity.Scalar(), []int{1})
	y := x0.Sin().Mul(x1).Add(x0.Sq())
	f := mustCompile(t, []Expr{x}, []Expr{y})

	sf, err := f.Expand(nil)
	require.NoError(t, err)
	require.Equal(t, 1, sf.NumIn())
	require.Equal(t, 1, sf.NumOut())

	xv := []float64{0.7, -1.3}
	mxOut := evalAt(t, f, [][]float64{xv})

	require.NoError(t, sf.SetInput(0, xv))
	require.NoError(t, sf.Evaluate())
	sxOut := make([]float64, 1)
	require.NoError(t, sf.GetOutput(0, sxOut))

	assert.InDelta(t, mxOut[0][0], sxOut[0], 1e-12)
	want := math.Sin(xv[0])*xv[1] + xv[0]*xv[0]
	assert.InDelta(t, want, sxOut[0], 1e-12)
}

// Matrix products expand into scalar sum-of-products expressions.
func TestExpandMtimes(t *testing.T) {
	a := Const(DenseDM(2, 2, []float64{1, 2, 3, 4}))
	x := SymDense("x", 2, 1)
	f := mustCompile(t, []Expr{x}, []Expr{Mtimes(a, x)})

	sf, err := f.Expand(nil)
	require.NoError(t, err)

	require.NoError(t, sf.SetInput(0, []float64{10, 100}))
	require.NoError(t, sf.Evaluate())
	out := make([]float64, 2)
	require.NoError(t, sf.GetOutput(0, out))
	assert.InDelta(t, 310, out[0], 1e-12)
	assert.InDelta(t, 420, out[1], 1e-12)
}

func TestExpandUnsupported(t *testing.T) {
	a := Const(DenseDM(2, 2, []float64{2, 0, 0, 4}))
	b := SymDense("b", 2, 1)
	f := mustCompile(t, []Expr{b}, []Expr{Solve(a, b)})

	_, err := f.Expand(nil)
	assert.Error(t, err)
}

func TestExpandFreeVariable(t *testing.T) {
	x := SymDense("x", 1, 1)
	p := SymDense("p", 1, 1)
	f := mustCompile(t, []Expr{x}, []Expr{x.Add(p)})

	_, err := f.Expand(nil)
	assert.ErrorIs(t, err, symflow.ErrFreeVariable)
}
