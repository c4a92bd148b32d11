package sx

import (
	"errors"
	"math"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/symflow/symflow"
	"github.com/symflow/symflow/ops"
	"github.com/symflow/symflow/sparsity"
)

func mustCompile(t *testing.T, in, out []Matrix, opts ...symflow.Options) *Function {
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

// Identity: inputs [x: 2x1], outputs [x].
func TestIdentity(t *testing.T) {
	x := SymMatrix("x", sparsity.Dense(2, 1))
	f := mustCompile(t, []Matrix{x}, []Matrix{x})

	assert.Equal(t, 1, f.WorkSize())

	out := evalAt(t, f, [][]float64{{3, 5}})
	assert.Equal(t, []float64{3, 5}, out[0])
}

// Slot reuse: y = (a+b)*(a+b); with live variables two temporaries
// share the work array with the inputs, without reuse every algorithm
// result gets its own slot.
func TestSlotReuse(t *testing.T) {
	build := func(opts symflow.Options) *Function {
		a, b := Sym("a"), Sym("b")
		s := a.Add(b)
		return mustCompile(t,
			[]Matrix{ScalarMatrix(a), ScalarMatrix(b)},
			[]Matrix{ScalarMatrix(s.Mul(s))}, opts)
	}

	live := build(symflow.DefaultOptions())
	off := symflow.DefaultOptions()
	off.LiveVariables = false
	noReuse := build(off)

	assert.Equal(t, 2, live.WorkSize())
	assert.Equal(t, 4, noReuse.WorkSize())
	assert.LessOrEqual(t, live.WorkSize(), noReuse.WorkSize())

	for _, f := range []*Function{live, noReuse} {
		out := evalAt(t, f, [][]float64{{1.5}, {2.5}})
		assert.InDelta(t, 16, out[0][0], 1e-12)
	}
}

// Shared subexpression: u = sin(x) feeds both outputs but is computed
// once.
func TestSharedSubexpression(t *testing.T) {
	x := Sym("x")
	u := x.Sin()
	f := mustCompile(t,
		[]Matrix{ScalarMatrix(x)},
		[]Matrix{ScalarMatrix(u.Add(Num(1))), ScalarMatrix(u.Mul(Num(2)))})

	sinCount := 0
	for i := range f.alg {
		if f.alg[i].op == ops.Sin {
			sinCount++
		}
	}
	assert.Equal(t, 1, sinCount)

	out := evalAt(t, f, [][]float64{{0.5}})
	assert.InDelta(t, math.Sin(0.5)+1, out[0][0], 1e-12)
	assert.InDelta(t, 2*math.Sin(0.5), out[1][0], 1e-12)
}

// Free variable: outputs reference a parameter not listed in inputs.
func TestFreeVariable(t *testing.T) {
	x, p := Sym("x"), Sym("p")
	f := mustCompile(t, []Matrix{ScalarMatrix(x)}, []Matrix{ScalarMatrix(x.Add(p))})

	require.Len(t, f.FreeVars(), 1)
	assert.Equal(t, "p", f.FreeVars()[0].Name())

	err := f.Evaluate()
	assert.ErrorIs(t, err, symflow.ErrFreeVariable)

	// Symbolic evaluation succeeds; the free variable stays symbolic in
	// the result.
	res, _, _, err := f.EvalSym([]Matrix{f.In(0)}, nil, nil)
	require.NoError(t, err)
	assert.True(t, IsEqual(res[0].Nonzeros()[0], f.Out(0).Nonzeros()[0], 0))
}

// The reported free-variable set does not depend on output order.
func TestFreeVariablesPermutationInvariant(t *testing.T) {
	x, p, q := Sym("x"), Sym("p"), Sym("q")
	o1 := ScalarMatrix(x.Add(p))
	o2 := ScalarMatrix(x.Mul(q))

	names := func(f *Function) []string {
		var out []string
		for _, v := range f.FreeVars() {
			out = append(out, v.Name())
		}
		sort.Strings(out)
		return out
	}

	f1 := mustCompile(t, []Matrix{ScalarMatrix(x)}, []Matrix{o1, o2})
	f2 := mustCompile(t, []Matrix{ScalarMatrix(x)}, []Matrix{o2, o1})
	assert.Equal(t, names(f1), names(f2))
}

func TestConstructionErrors(t *testing.T) {
	x := Sym("x")

	_, err := New([]Matrix{ScalarMatrix(Num(1))}, []Matrix{ScalarMatrix(x)})
	assert.ErrorIs(t, err, symflow.ErrNonSymbolicInput)

	_, err = New([]Matrix{ScalarMatrix(x), ScalarMatrix(x)}, []Matrix{ScalarMatrix(x)})
	assert.ErrorIs(t, err, symflow.ErrDuplicateInput)

	_, err = New([]Matrix{ScalarMatrix(x)}, nil)
	assert.ErrorIs(t, err, symflow.ErrEmptyOutputList)
}

func TestInitIdempotent(t *testing.T) {
	x := Sym("x")
	f := mustCompile(t, []Matrix{ScalarMatrix(x)}, []Matrix{ScalarMatrix(x.Sq())})
	w := f.WorkSize()
	require.NoError(t, f.Init())
	assert.Equal(t, w, f.WorkSize())
}

func TestShapeErrors(t *testing.T) {
	x := SymMatrix("x", sparsity.Dense(2, 1))
	f := mustCompile(t, []Matrix{x}, []Matrix{x})

	assert.ErrorIs(t, f.SetInput(0, []float64{1}), symflow.ErrShapeMismatch)
	assert.ErrorIs(t, f.SetInput(3, []float64{1, 2}), symflow.ErrWrongArity)
	assert.ErrorIs(t, f.GetOutput(0, make([]float64, 3)), symflow.ErrShapeMismatch)
}

func TestPrintDump(t *testing.T) {
	x := SymMatrix("x", sparsity.Dense(2, 1))
	f := mustCompile(t, []Matrix{x}, []Matrix{x})

	var b strings.Builder
	require.NoError(t, f.Print(&b))
	dump := b.String()
	assert.Contains(t, dump, "= input[0][0]")
	assert.Contains(t, dump, "output[0][0] = @")
}

func TestClone(t *testing.T) {
	x := Sym("x")
	f := mustCompile(t, []Matrix{ScalarMatrix(x)}, []Matrix{ScalarMatrix(x.Sq())})
	g := f.Clone()

	require.NoError(t, f.SetInput(0, []float64{3}))
	require.NoError(t, g.SetInput(0, []float64{5}))
	require.NoError(t, f.Evaluate())
	require.NoError(t, g.Evaluate())

	fo := make([]float64, 1)
	go_ := make([]float64, 1)
	require.NoError(t, f.GetOutput(0, fo))
	require.NoError(t, g.GetOutput(0, go_))
	assert.InDelta(t, 9, fo[0], 1e-12)
	assert.InDelta(t, 25, go_[0], 1e-12)
}

func TestIsSmooth(t *testing.T) {
	x := Sym("x")
	smooth := mustCompile(t, []Matrix{ScalarMatrix(x)}, []Matrix{ScalarMatrix(x.Sin())})
	assert.True(t, smooth.IsSmooth())

	rough := mustCompile(t, []Matrix{ScalarMatrix(x)}, []Matrix{ScalarMatrix(x.Abs())})
	assert.False(t, rough.IsSmooth())
}

func TestUninitialized(t *testing.T) {
	x := Sym("x")
	f, err := New([]Matrix{ScalarMatrix(x)}, []Matrix{ScalarMatrix(x)})
	require.NoError(t, err)
	assert.Error(t, f.Evaluate())
	var errAny error = f.SetInput(0, []float64{1})
	assert.Error(t, errAny)
	assert.False(t, errors.Is(errAny, symflow.ErrFreeVariable))
}
