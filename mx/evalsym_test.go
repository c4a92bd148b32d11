package mx

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/symflow/symflow"
	"github.com/symflow/symflow/sparsity"
)

// Reverse with spill: y = sin(x)*sin(x) compiled with live variables
// reuses the input's slot for the product, so the reverse sweep must
// restore x from the spill tape when differentiating through sin.
func TestReverseWithSpill(t *testing.T) {
	x := SymDense("x", 1, 1)
	u := x.Sin()
	f := mustCompile(t, []Expr{x}, []Expr{u.Mul(u)})

	// The allocator reused a slot, so the spill tape is nonempty.
	require.NotEmpty(t, f.allocTape())

	_, _, asens, err := f.EvalSym([]Expr{x}, nil, [][]Expr{{NumScalar(1)}})
	require.NoError(t, err)

	g := mustCompile(t, []Expr{x}, []Expr{asens[0][0]})
	out := evalAt(t, g, [][]float64{{0.7}})
	want := 2 * math.Sin(0.7) * math.Cos(0.7)
	assert.InDelta(t, want, out[0][0], 1e-12)
}

// AD consistency: reverse-mode adjoint sensitivities match the
// forward-mode Jacobian entries.
func TestAdjointMatchesForward(t *testing.T) {
	x := SymDense("x", 2, 1)
	x0 := GetNZ(x, sparsity.Scalar(), []int{0})
	x1 := GetNZ(x, sparsity.Scalar(), []int{1})
	y := x0.Sin().Mul(x1).Add(x0.Sq())
	f := mustCompile(t, []Expr{x}, []Expr{y})

	xv := []float64{0.7, -1.3}
	wantD0 := math.Cos(xv[0])*xv[1] + 2*xv[0]
	wantD1 := math.Sin(xv[0])

	// Forward route through the Jacobian function.
	jf, err := f.Jacobian(0, 0, true, false)
	require.NoError(t, err)
	jout := evalAt(t, jf, [][]float64{xv})
	require.Len(t, jout[0], 2)
	assert.InDelta(t, wantD0, jout[0][0], 1e-12)
	assert.InDelta(t, wantD1, jout[0][1], 1e-12)

	// Reverse route through one adjoint direction.
	_, _, asens, err := f.EvalSym([]Expr{x}, nil, [][]Expr{{NumScalar(1)}})
	require.NoError(t, err)
	g := mustCompile(t, []Expr{x}, []Expr{asens[0][0]})
	gout := evalAt(t, g, [][]float64{xv})
	require.Len(t, gout[0], 2)
	assert.InDelta(t, wantD0, gout[0][0], 1e-12)
	assert.InDelta(t, wantD1, gout[0][1], 1e-12)
}

// Structurally zero seeds skip the direction and return zero
// sensitivities of the right shape.
func TestZeroSeedFastPath(t *testing.T) {
	x := SymDense("x", 2, 1)
	f := mustCompile(t, []Expr{x}, []Expr{x.Sin()})

	_, fsens, _, err := f.EvalSym([]Expr{x}, [][]Expr{{Zeros(2, 1)}}, nil)
	require.NoError(t, err)
	require.Len(t, fsens, 1)
	assert.True(t, fsens[0][0].IsZero())
	assert.Equal(t, 2, fsens[0][0].NRow())
	assert.Equal(t, 1, fsens[0][0].NCol())

	_, _, asens, err := f.EvalSym([]Expr{x}, nil, [][]Expr{{Zeros(2, 1)}})
	require.NoError(t, err)
	assert.True(t, asens[0][0].IsZero())
	assert.Equal(t, 2, asens[0][0].NRow())
}

func TestOutputGivenQuickReturn(t *testing.T) {
	x := SymDense("x", 2, 1)
	f := mustCompile(t, []Expr{x}, []Expr{x.Exp()})

	res, fsens, asens, err := f.EvalSym([]Expr{x}, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, fsens)
	assert.Empty(t, asens)
	assert.True(t, IsEqual(res[0], f.Out(0), 0))
}

func TestSeedShapeError(t *testing.T) {
	x := SymDense("x", 2, 1)
	f := mustCompile(t, []Expr{x}, []Expr{x.Sq()})

	bad := SymDense("s", 3, 1)
	_, _, _, err := f.EvalSym([]Expr{x}, [][]Expr{{bad}}, nil)
	assert.ErrorIs(t, err, symflow.ErrUnsupportedSeedShape)
}

func TestRequireSmooth(t *testing.T) {
	opts := symflow.DefaultOptions()
	opts.RequireSmooth = true
	x := SymDense("x", 1, 1)
	f := mustCompile(t, []Expr{x}, []Expr{x.Abs()}, opts)

	_, _, _, err := f.EvalSym([]Expr{x}, nil, [][]Expr{{NumScalar(1)}})
	assert.ErrorIs(t, err, symflow.ErrAdjointNonSmooth)
}

// Derivatives flow through an embedded function call, and all-zero
// seeds are accepted.
func TestCallDerivatives(t *testing.T) {
	xi := SymDense("xi", 2, 1)
	inner := mustCompile(t, []Expr{xi}, []Expr{xi.Sq()})

	x := SymDense("x", 2, 1)
	outs := CallFn(inner, []Expr{x})
	f := mustCompile(t, []Expr{x}, []Expr{outs[0]})

	jf, err := f.Jacobian(0, 0, true, false)
	require.NoError(t, err)
	jout := evalAt(t, jf, [][]float64{{3, 5}})
	// d(x^2)/dx is diagonal: compact 2x2 column-major.
	assert.InDelta(t, 6, jout[0][0], 1e-12)
	assert.InDelta(t, 0, jout[0][1], 1e-12)
	assert.InDelta(t, 0, jout[0][2], 1e-12)
	assert.InDelta(t, 10, jout[0][3], 1e-12)

	// All-zero seeds take the zero-seed fast path and give a zero
	// sensitivity without error.
	_, fsens, _, err := f.EvalSym([]Expr{x}, [][]Expr{{Zeros(2, 1)}}, nil)
	require.NoError(t, err)
	assert.True(t, fsens[0][0].IsZero())
}

// Lifted intermediates split into definition and guess functions.
func TestGenerateLiftingFunctions(t *testing.T) {
	x := SymDense("x", 1, 1)
	z := Lift(x.Sin(), NumScalar(0))
	f := mustCompile(t, []Expr{x}, []Expr{z.Mul(z)})

	vdef, vinit, err := f.GenerateLiftingFunctions()
	require.NoError(t, err)

	require.NoError(t, vdef.Init())
	require.Equal(t, 2, vdef.NumIn())
	require.Equal(t, 2, vdef.NumOut())
	require.NoError(t, vdef.SetInput(0, []float64{0.3}))
	require.NoError(t, vdef.SetInput(1, []float64{0.8}))
	require.NoError(t, vdef.Evaluate())
	out0 := make([]float64, 1)
	out1 := make([]float64, 1)
	require.NoError(t, vdef.GetOutput(0, out0))
	require.NoError(t, vdef.GetOutput(1, out1))
	assert.InDelta(t, 0.64, out0[0], 1e-12)
	assert.InDelta(t, math.Sin(0.3), out1[0], 1e-12)

	require.NoError(t, vinit.Init())
	vout := evalAt(t, vinit, [][]float64{{0.3}})
	assert.InDelta(t, 0, vout[0][0], 1e-12)
}
