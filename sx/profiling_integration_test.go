package sx

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/symflow/symflow/internal/profiling"
)

func TestProfilingIntegration(t *testing.T) {
	var buf bytes.Buffer
	logger := profiling.New(&buf, false)

	x := Sym("x")
	f, err := New([]Matrix{ScalarMatrix(x)}, []Matrix{ScalarMatrix(x.Sin())})
	require.NoError(t, err)
	f.AttachProfiler(logger)
	require.NoError(t, f.Init())

	require.NoError(t, f.SetInput(0, []float64{0.5}))
	require.NoError(t, f.Evaluate())

	log := buf.String()
	assert.Contains(t, log, "name "+f.Name())
	assert.Contains(t, log, "start "+f.Name())
	assert.Contains(t, log, "stop "+f.Name())
	assert.Contains(t, log, "sin(")
	// Per-instruction timing records carry the function name and the
	// tape index.
	assert.Contains(t, log, " | ")
	assert.Contains(t, log, f.Name()+":0")
}
