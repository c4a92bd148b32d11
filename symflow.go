// Package symflow is a symbolic computation core for dynamic optimization.
//
// Expression graphs over matrix-valued operands are compiled into a linear
// instruction tape for a small virtual machine, which is then replayed
// numerically, over sparsity bit-masks, or with symbolic operands for
// forward- and reverse-mode algorithmic differentiation.
//
// The module has two parallel expression layers:
//   - mx: matrix-level expressions whose nodes carry sparsity patterns
//     and possibly multiple outputs
//   - sx: scalar-level expressions of elementary operations
//
// Both layers compile through the same pipeline: depth-first topological
// sort of the shared-subexpression DAG, liveness-based work-array
// allocation keyed on sparsity, and tape emission. See the mx and sx
// package documentation for usage.
package symflow

import "errors"

const Version = "v0.1.0-dev"

// Construction errors.
var (
	// ErrNonSymbolicInput is returned when a function input is not a
	// symbolic primitive. Support for non-symbolic inputs has been dropped.
	ErrNonSymbolicInput = errors.New("input is not a symbolic primitive")

	// ErrDuplicateInput is returned when the input expressions are not
	// pairwise independent.
	ErrDuplicateInput = errors.New("input expressions are not independent")

	// ErrEmptyOutputList is returned when a function is constructed with
	// no output expressions.
	ErrEmptyOutputList = errors.New("output list is empty")
)

// Compilation errors.
var (
	// ErrUninitializedDependency is returned by Init when an embedded
	// function or other operator prerequisite has not been initialized.
	ErrUninitializedDependency = errors.New("operator dependency not initialized")

	// ErrOperatorUnsupported is returned when an operator cannot take
	// part in the requested transformation (e.g. expanding a call node).
	ErrOperatorUnsupported = errors.New("operator not supported in this context")
)

// Evaluation errors.
var (
	// ErrFreeVariable is returned when evaluating a function whose
	// outputs reference parameters that are not among the declared inputs.
	ErrFreeVariable = errors.New("function has free variables")

	// ErrWrongArity is returned when the number of supplied arguments or
	// seed vectors does not match the function signature.
	ErrWrongArity = errors.New("wrong number of arguments")

	// ErrShapeMismatch is returned when a buffer does not match the
	// declared sparsity of an input or output.
	ErrShapeMismatch = errors.New("shape mismatch")
)

// Algorithmic differentiation errors.
var (
	// ErrAdjointNonSmooth is returned when adjoint derivatives are
	// requested of a function containing non-smooth operations and the
	// caller demanded smoothness.
	ErrAdjointNonSmooth = errors.New("adjoint of non-smooth operation")

	// ErrUnsupportedSeedShape is returned when a derivative seed does not
	// match the sparsity of the corresponding input or output.
	ErrUnsupportedSeedShape = errors.New("unsupported seed shape")
)

// Code emission errors.
var (
	// ErrFreeVariableInEmit is returned when code generation is requested
	// for a function with free variables.
	ErrFreeVariableInEmit = errors.New("code generation with free variables")
)
