package symflow

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	assert.True(t, opts.LiveVariables)
	assert.True(t, opts.PurgeSeeds)
	assert.False(t, opts.Verbose)
	assert.False(t, opts.RequireSmooth)
}

func TestLoadOptions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "opts.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"name: rocket\nlive_variables: false\nverbose: true\n"), 0o644))

	opts, err := LoadOptions(path)
	require.NoError(t, err)
	assert.Equal(t, "rocket", opts.Name)
	assert.False(t, opts.LiveVariables)
	assert.True(t, opts.Verbose)
	// Absent keys keep their defaults.
	assert.True(t, opts.PurgeSeeds)
}

func TestLoadOptionsMissingFile(t *testing.T) {
	_, err := LoadOptions(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestUniqueName(t *testing.T) {
	a := UniqueName("mx")
	b := UniqueName("mx")
	assert.NotEqual(t, a, b)
	assert.Contains(t, a, "mx_")
}
