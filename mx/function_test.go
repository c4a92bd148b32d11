package mx

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/symflow/symflow"
	"github.com/symflow/symflow/sparsity"
)

func mustCompile(t *testing.T, in, out []Expr, opts ...symflow.Options) *Function {
	t.Helper()
	f, err := New(in, out, opts...)
	require.NoError(t, err)
	require.NoError(t, f.Init())
	return f
}

func evalAt(t *testing.T, f *Function, in [][]float64) [][]float64 {
	t.Helper()
	for i, v := range in {
		require.NoError(t, f.SetInput(i, v))
	}
	require.NoError(t, f.Evaluate())
	out := make([][]float64, f.NumOut())
	for k := range out {
		out[k] = make([]float64, f.Out(k).Sparsity().NNZ())
		require.NoError(t, f.GetOutput(k, out[k]))
	}
	return out
}

// constValues extracts the nonzeros of a constant expression.
func constValues(t *testing.T, e Expr) []float64 {
	t.Helper()
	c, ok := e.node.(*constNode)
	require.True(t, ok, "expected a constant, got %v", e.Op())
	return c.val.nz
}

// Identity: inputs [x: 2x1], outputs [x]; work array of one slot,
// seeds pass straight through.
func TestIdentity(t *testing.T) {
	x := SymDense("x", 2, 1)
	f := mustCompile(t, []Expr{x}, []Expr{x})

	assert.Equal(t, 1, f.WorkSize())

	out := evalAt(t, f, [][]float64{{3, 5}})
	assert.Equal(t, []float64{3, 5}, out[0])

	seed := NewDM(x.Sparsity())
	seed.nz[0] = 1
	_, fsens, _, err := f.EvalSym([]Expr{x}, [][]Expr{{Const(seed)}}, nil)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0}, constValues(t, fsens[0][0]))

	aseed := NewDM(x.Sparsity())
	aseed.nz[1] = 1
	_, _, asens, err := f.EvalSym([]Expr{x}, nil, [][]Expr{{Const(aseed)}})
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1}, constValues(t, asens[0][0]))
}

// Slot reuse: y = (a+b)*(a+b); the product reuses a freed slot of the
// same sparsity when live variables are enabled.
func TestSlotReuse(t *testing.T) {
	build := func(opts symflow.Options) *Function {
		a := SymDense("a", 2, 1)
		b := SymDense("b", 2, 1)
		s := a.Add(b)
		return mustCompile(t, []Expr{a, b}, []Expr{s.Mul(s)}, opts)
	}

	live := build(symflow.DefaultOptions())
	off := symflow.DefaultOptions()
	off.LiveVariables = false
	noReuse := build(off)

	assert.Equal(t, 3, live.WorkSize())
	assert.Equal(t, 4, noReuse.WorkSize())
	assert.LessOrEqual(t, live.WorkSize(), noReuse.WorkSize())

	for _, f := range []*Function{live, noReuse} {
		out := evalAt(t, f, [][]float64{{1, 2}, {3, 4}})
		assert.Equal(t, []float64{16, 36}, out[0])
	}
}

func TestFreeVariable(t *testing.T) {
	x := SymDense("x", 1, 1)
	p := SymDense("p", 1, 1)
	f := mustCompile(t, []Expr{x}, []Expr{x.Add(p)})

	require.Len(t, f.FreeVars(), 1)
	assert.ErrorIs(t, f.Evaluate(), symflow.ErrFreeVariable)

	// Symbolic evaluation still works; the parameter stays symbolic.
	res, _, _, err := f.EvalSym([]Expr{x}, nil, nil)
	require.NoError(t, err)
	assert.True(t, IsEqual(res[0], f.Out(0), 0))
}

func TestConstructionErrors(t *testing.T) {
	x := SymDense("x", 1, 1)

	_, err := New([]Expr{NumScalar(1)}, []Expr{x})
	assert.ErrorIs(t, err, symflow.ErrNonSymbolicInput)

	_, err = New([]Expr{x, x}, []Expr{x})
	assert.ErrorIs(t, err, symflow.ErrDuplicateInput)

	_, err = New([]Expr{x}, nil)
	assert.ErrorIs(t, err, symflow.ErrEmptyOutputList)
}

func TestUninitializedCallDependency(t *testing.T) {
	xi := SymDense("xi", 1, 1)
	inner, err := New([]Expr{xi}, []Expr{xi.Sq()})
	require.NoError(t, err)

	x := SymDense("x", 1, 1)
	outs := CallFn(inner, []Expr{x})
	outer, err := New([]Expr{x}, []Expr{outs[0]})
	require.NoError(t, err)
	assert.ErrorIs(t, outer.Init(), symflow.ErrUninitializedDependency)
}

// Multi-output call with one ignored output: the tape carries a -1
// sentinel and the dump prints NULL for it.
func TestMultiOutputIgnored(t *testing.T) {
	xi := SymDense("xi", 2, 1)
	inner := mustCompile(t, []Expr{xi},
		[]Expr{xi.Add(NumScalar(1)), xi.Mul(NumScalar(2))})

	x := SymDense("x", 2, 1)
	outs := CallFn(inner, []Expr{x})
	f := mustCompile(t, []Expr{x}, []Expr{outs[0]})

	out := evalAt(t, f, [][]float64{{2, 5}})
	assert.Equal(t, []float64{3, 6}, out[0])

	var b strings.Builder
	require.NoError(t, f.Print(&b))
	assert.Contains(t, b.String(), "NULL")
	assert.Contains(t, b.String(), "{@")
}

func TestInitIdempotent(t *testing.T) {
	x := SymDense("x", 1, 1)
	f := mustCompile(t, []Expr{x}, []Expr{x.Sq()})
	w := f.WorkSize()
	require.NoError(t, f.Init())
	assert.Equal(t, w, f.WorkSize())
}

func TestClone(t *testing.T) {
	x := SymDense("x", 1, 1)
	f := mustCompile(t, []Expr{x}, []Expr{x.Sq()})
	g := f.Clone()

	require.NoError(t, f.SetInput(0, []float64{3}))
	require.NoError(t, g.SetInput(0, []float64{5}))
	require.NoError(t, f.Evaluate())
	require.NoError(t, g.Evaluate())

	fo := make([]float64, 1)
	gout := make([]float64, 1)
	require.NoError(t, f.GetOutput(0, fo))
	require.NoError(t, g.GetOutput(0, gout))
	assert.Equal(t, 9.0, fo[0])
	assert.Equal(t, 25.0, gout[0])
}

// Nonzero assignment semantics: overwrite versus accumulate.
func TestSetAndAddNonzeros(t *testing.T) {
	x := SymDense("x", 3, 1)
	v := SymDense("v", 1, 1)

	set := mustCompile(t, []Expr{x, v}, []Expr{SetNZ(x, v, []int{1})})
	out := evalAt(t, set, [][]float64{{1, 2, 3}, {9}})
	assert.Equal(t, []float64{1, 9, 3}, out[0])

	add := mustCompile(t, []Expr{x, v}, []Expr{AddNZ(x, v, []int{1})})
	out = evalAt(t, add, [][]float64{{1, 2, 3}, {9}})
	assert.Equal(t, []float64{1, 11, 3}, out[0])
}

func TestTransposeAndGather(t *testing.T) {
	x := SymDense("x", 2, 3)
	f := mustCompile(t, []Expr{x}, []Expr{x.T()})
	// Column-major 2x3 input -> column-major 3x2 transpose.
	out := evalAt(t, f, [][]float64{{1, 2, 3, 4, 5, 6}})
	assert.Equal(t, []float64{1, 3, 5, 2, 4, 6}, out[0])

	y := SymDense("y", 3, 1)
	g := mustCompile(t, []Expr{y}, []Expr{GetNZ(y, sparsity.Dense(2, 1), []int{0, 2})})
	out = evalAt(t, g, [][]float64{{7, 8, 9}})
	assert.Equal(t, []float64{7, 9}, out[0])
}

// Elementwise combination of different patterns goes through the
// pattern union with structural zeros for missing entries.
func TestBinaryPatternUnion(t *testing.T) {
	spA := sparsity.New(3, 1, []int{0, 2}, []int{0, 2})
	spB := sparsity.New(3, 1, []int{0, 2}, []int{1, 2})
	a := Sym("a", spA)
	b := Sym("b", spB)
	f := mustCompile(t, []Expr{a, b}, []Expr{a.Add(b)})

	require.Equal(t, 3, f.Out(0).Sparsity().NNZ())
	out := evalAt(t, f, [][]float64{{1, 2}, {10, 20}})
	assert.Equal(t, []float64{1, 10, 22}, out[0])
}

// Division of mismatched patterns fails at construction: the union
// fill value would be a structural 0 denominator.
func TestDivMismatchedPatternsPanics(t *testing.T) {
	spA := sparsity.New(3, 1, []int{0, 2}, []int{0, 2})
	spB := sparsity.New(3, 1, []int{0, 2}, []int{1, 2})
	a := Sym("a", spA)
	b := Sym("b", spB)

	assert.Panics(t, func() { a.Div(b) })

	// Equal patterns and scalar broadcasts stay fine.
	c := Sym("c", spA)
	f := mustCompile(t, []Expr{a, c}, []Expr{a.Div(c)})
	out := evalAt(t, f, [][]float64{{1, 9}, {2, 3}})
	assert.Equal(t, []float64{0.5, 3}, out[0])

	s := SymDense("s", 1, 1)
	g := mustCompile(t, []Expr{a, s}, []Expr{a.Div(s)})
	out = evalAt(t, g, [][]float64{{4, 6}, {2}})
	assert.Equal(t, []float64{2, 3}, out[0])
}

func TestScalarBroadcast(t *testing.T) {
	x := SymDense("x", 2, 1)
	c := SymDense("c", 1, 1)
	f := mustCompile(t, []Expr{x, c}, []Expr{x.Mul(c)})
	out := evalAt(t, f, [][]float64{{3, 4}, {10}})
	assert.Equal(t, []float64{30, 40}, out[0])
}
