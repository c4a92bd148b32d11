package mx

import (
	"io"

	"github.com/symflow/symflow/ops"
	"github.com/symflow/symflow/sparsity"
	"github.com/symflow/symflow/sx"
)

// Node is the operator-node contract the compiler and the evaluators
// consume. The core treats nodes as opaque: it binds work-array slots
// to the declared dependencies and outputs and delegates every kernel.
//
// Symbolic kernel discipline: when evaluating adjoint directions, a
// kernel must capture each adjoint seed it consumes, clear the seed
// entry (replace it with a structural zero) and only then accumulate into
// the sensitivity entries. Result slots can alias argument slots for
// operators declaring a positive inplace count, so seeds and
// sensitivities may share storage.
type Node interface {
	// Op returns the operator tag.
	Op() ops.Op

	// NDep returns the dependency arity.
	NDep() int

	// Dep returns dependency i.
	Dep(i int) Expr

	// NumOutputs returns the output arity.
	NumOutputs() int

	// Sparsity returns the pattern of output oind.
	Sparsity(oind int) *sparsity.Pattern

	// MultipleOutput reports whether the node produces a tuple consumed
	// through function-output wrappers.
	MultipleOutput() bool

	// NumInplace returns how many leading arguments may share storage
	// with results.
	NumInplace() int

	// ScratchNeed returns the integer and real scratch lengths the
	// numeric and sparsity kernels require.
	ScratchNeed() (ni, nr int)

	// EvalNumeric computes the outputs from the inputs. Entries of arg
	// and res are nil where the tape carries a null sentinel.
	EvalNumeric(arg, res []*DM, iw []int, rw []float64) error

	// PropagateSparsity propagates dependency bits through the node,
	// forward from arg to res or in reverse, moving res bits back into
	// arg and clearing them.
	PropagateSparsity(arg, res [][]uint64, iw []int, rw []float64, forward bool)

	// EvalSym evaluates the node symbolically, writing outputs unless
	// outputGiven, forward sensitivities for every seed direction, and
	// adjoint sensitivities following the seed-consumption discipline
	// above.
	EvalSym(arg, res []*Expr, fseed, fsens, aseed, asens [][]*Expr, outputGiven bool) error

	// EvalScalar evaluates the node over matrices of scalar
	// expressions, used when expanding to the scalar layer.
	EvalScalar(arg, res []*sx.Matrix) error

	// GenerateOp emits the C statements computing the node from the
	// named arguments into the named results.
	GenerateOp(w io.Writer, arg, res []string) error

	// PrintPart writes the fragment before the first argument (part 0),
	// between arguments (part i) and after the last (part NDep).
	PrintPart(w io.Writer, part int)
}

// baseNode carries dependencies and output patterns and provides the
// defaults shared by most operators.
type baseNode struct {
	deps []Expr
	sp   []*sparsity.Pattern
}

func (b *baseNode) NDep() int                            { return len(b.deps) }
func (b *baseNode) Dep(i int) Expr                       { return b.deps[i] }
func (b *baseNode) NumOutputs() int                      { return len(b.sp) }
func (b *baseNode) Sparsity(oind int) *sparsity.Pattern  { return b.sp[oind] }
func (b *baseNode) MultipleOutput() bool                 { return false }
func (b *baseNode) NumInplace() int                      { return 0 }
func (b *baseNode) ScratchNeed() (int, int)              { return 0, 0 }

// outputNode wraps a single output of a multiple-output node. Wrappers
// exist only in the graph: the compiler forwards their slot assignment
// to the producing node's result vector instead of emitting records.
type outputNode struct {
	parent Expr
	oind   int
}

func (o *outputNode) Op() ops.Op                           { return ops.FunctionOutput }
func (o *outputNode) NDep() int                            { return 1 }
func (o *outputNode) Dep(i int) Expr                       { return o.parent }
func (o *outputNode) NumOutputs() int                      { return 1 }
func (o *outputNode) Sparsity(oind int) *sparsity.Pattern  { return o.parent.node.Sparsity(o.oind) }
func (o *outputNode) MultipleOutput() bool                 { return false }
func (o *outputNode) NumInplace() int                      { return 0 }
func (o *outputNode) ScratchNeed() (int, int)              { return 0, 0 }

func (o *outputNode) EvalNumeric(arg, res []*DM, iw []int, rw []float64) error {
	panic("mx: function-output wrapper on tape")
}

func (o *outputNode) PropagateSparsity(arg, res [][]uint64, iw []int, rw []float64, forward bool) {
	panic("mx: function-output wrapper on tape")
}

func (o *outputNode) EvalSym(arg, res []*Expr, fseed, fsens, aseed, asens [][]*Expr, outputGiven bool) error {
	panic("mx: function-output wrapper on tape")
}

func (o *outputNode) EvalScalar(arg, res []*sx.Matrix) error {
	panic("mx: function-output wrapper on tape")
}

func (o *outputNode) GenerateOp(w io.Writer, arg, res []string) error {
	panic("mx: function-output wrapper on tape")
}

func (o *outputNode) PrintPart(w io.Writer, part int) {}
