package mx

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/symflow/symflow"
)

func TestGenerateCode(t *testing.T) {
	a := SymDense("a", 2, 1)
	b := SymDense("b", 2, 1)
	s := a.Add(b)
	f := mustCompile(t, []Expr{a, b}, []Expr{s.Mul(s)})

	var out strings.Builder
	require.NoError(t, f.GenerateCode(&out, "eval_f"))
	code := out.String()

	assert.Contains(t, code, "void eval_f(const double* x0, const double* x1, double* r0)")
	assert.Contains(t, code, "static struct wstruct")
	assert.Contains(t, code, "double a0[2];")
	assert.Contains(t, code, "if (r0!=0)")
	// Input copies run over the declared nonzero count.
	assert.Contains(t, code, "for (i=0; i<2; ++i)")
}

func TestGenerateCodeFreeVariable(t *testing.T) {
	x := SymDense("x", 1, 1)
	p := SymDense("p", 1, 1)
	f := mustCompile(t, []Expr{x}, []Expr{x.Add(p)})

	var out strings.Builder
	assert.ErrorIs(t, f.GenerateCode(&out, "eval_f"), symflow.ErrFreeVariableInEmit)
}

func TestGenerateCodeUnsupportedOperator(t *testing.T) {
	a := Const(DenseDM(2, 2, []float64{2, 0, 0, 4}))
	b := SymDense("b", 2, 1)
	f := mustCompile(t, []Expr{b}, []Expr{Solve(a, b)})

	var out strings.Builder
	assert.Error(t, f.GenerateCode(&out, "eval_f"))
}

func TestPrintSlotDump(t *testing.T) {
	a := SymDense("a", 2, 1)
	b := SymDense("b", 2, 1)
	f := mustCompile(t, []Expr{a, b}, []Expr{a.Add(b)})

	var buf strings.Builder
	require.NoError(t, f.Print(&buf))
	dump := buf.String()
	assert.Contains(t, dump, "input[0]")
	assert.Contains(t, dump, "input[1]")
	assert.Contains(t, dump, "output[0] = @")
}
