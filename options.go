package symflow

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Options controls compilation and evaluation of a function.
//
// The zero value is not useful; start from DefaultOptions.
type Options struct {
	// Name identifies the function in dumps and profiling logs.
	// When empty, a unique name is generated at construction.
	Name string `yaml:"name"`

	// LiveVariables enables work-array slot reuse during compilation.
	// When disabled, every algorithm result gets its own slot.
	LiveVariables bool `yaml:"live_variables"`

	// PurgeSeeds drops derivative directions whose entire seed vector is
	// structurally empty before delegating to an embedded function call.
	// Disable for operators whose sparsity kernels have side effects.
	PurgeSeeds bool `yaml:"purge_seeds"`

	// RequireSmooth makes adjoint evaluation fail on non-smooth
	// operations instead of using their one-sided derivatives.
	RequireSmooth bool `yaml:"require_smooth"`

	// Verbose enables compilation and evaluation logging.
	Verbose bool `yaml:"verbose"`
}

// DefaultOptions returns the options used when none are supplied.
func DefaultOptions() Options {
	return Options{
		LiveVariables: true,
		PurgeSeeds:    true,
	}
}

// LoadOptions reads an Options document from a YAML file, starting from
// the defaults so that absent keys keep their default values.
func LoadOptions(path string) (Options, error) {
	opts := DefaultOptions()
	data, err := os.ReadFile(path)
	if err != nil {
		return opts, fmt.Errorf("reading options: %w", err)
	}
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return opts, fmt.Errorf("parsing options: %w", err)
	}
	return opts, nil
}

// UniqueName returns prefix followed by a short unique suffix. It names
// anonymous functions so profiling headers stay distinguishable.
func UniqueName(prefix string) string {
	return prefix + "_" + uuid.NewString()[:8]
}
