package sx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/symflow/symflow/sparsity"
)

// dependencyFunction compiles y0 = x0 + x1, y1 = x1 * x2 over a dense
// 3-vector, giving distinct dependency footprints per output.
func dependencyFunction(t *testing.T) *Function {
	t.Helper()
	x := SymMatrix("x", sparsity.Dense(3, 1))
	nz := x.Nonzeros()
	return mustCompile(t, []Matrix{x},
		[]Matrix{ScalarMatrix(nz[0].Add(nz[1])), ScalarMatrix(nz[1].Mul(nz[2]))})
}

func TestSparsityForward(t *testing.T) {
	f := dependencyFunction(t)

	in := f.InputMask(0)
	in[0], in[1], in[2] = 1, 2, 4
	require.NoError(t, f.EvalSparsity(true))

	assert.Equal(t, uint64(1|2), f.OutputMask(0)[0])
	assert.Equal(t, uint64(2|4), f.OutputMask(1)[0])
}

func TestSparsityReverse(t *testing.T) {
	f := dependencyFunction(t)

	f.OutputMask(0)[0] = 1
	f.OutputMask(1)[0] = 2
	require.NoError(t, f.EvalSparsity(false))

	in := f.InputMask(0)
	assert.Equal(t, uint64(1), in[0])
	assert.Equal(t, uint64(1|2), in[1])
	assert.Equal(t, uint64(2), in[2])
}

// Sparsity soundness: a set forward bit corresponds to a real numeric
// dependency.
func TestSparsitySoundAgainstNumeric(t *testing.T) {
	f := dependencyFunction(t)

	in := f.InputMask(0)
	for i := range in {
		in[i] = 0
	}
	in[2] = 1
	require.NoError(t, f.EvalSparsity(true))

	// Output 0 does not depend on x2, output 1 does.
	assert.Equal(t, uint64(0), f.OutputMask(0)[0])
	assert.Equal(t, uint64(1), f.OutputMask(1)[0])

	// Check numerically: perturbing x2 only moves y1.
	base := evalAt(t, f, [][]float64{{1, 2, 3}})
	pert := evalAt(t, f, [][]float64{{1, 2, 3.5}})
	assert.Equal(t, base[0][0], pert[0][0])
	assert.NotEqual(t, base[1][0], pert[1][0])
}
