package mx

import (
	"fmt"
	"log"

	"github.com/symflow/symflow"
	"github.com/symflow/symflow/internal/compiler"
	"github.com/symflow/symflow/internal/profiling"
	"github.com/symflow/symflow/ops"
	"github.com/symflow/symflow/sparsity"
)

// algEl is one record of the instruction tape: the operator tag, an
// owning handle to the node, the work-array slots of the arguments and
// of the results. Negative entries are null sentinels: an unreferenced
// output of a multiple-output node, or a missing argument. INPUT
// records carry the input index in arg[0] and the slot in res[0];
// OUTPUT records the slot in arg[0] and the output index in res[0].
type algEl struct {
	op   ops.Op
	node Node
	arg  []int
	res  []int
}

// Function is a compiled matrix function: a tape of operator-node
// instructions replayed over a work array of sparse matrices.
//
// A Function is not safe for concurrent evaluation on a single
// instance: it owns the work array and the reverse-mode spill state.
// Clones evaluate independently.
type Function struct {
	opts symflow.Options

	in  []Expr
	out []Expr

	alg      []algEl
	workSp   []*sparsity.Pattern
	freeVars []Expr

	work []*DM      // numeric slots, one matrix per slot
	mask [][]uint64 // bit-mask slots of equal element count
	iw   []int      // shared integer scratch, sized to the tape maximum
	rw   []float64  // shared real scratch

	inDM, outDM     []*DM
	inMask, outMask [][]uint64

	prof        *profiling.Logger
	initialized bool
}

// New constructs a function mapping the symbolic inputs to the output
// expressions. Inputs must be symbolic primitives and pairwise
// distinct.
func New(in, out []Expr, opts ...symflow.Options) (*Function, error) {
	o := symflow.DefaultOptions()
	if len(opts) > 0 {
		o = opts[0]
	}
	if o.Name == "" {
		o.Name = symflow.UniqueName("mx")
	}
	if len(out) == 0 {
		return nil, symflow.ErrEmptyOutputList
	}
	seen := map[Node]bool{}
	for i, e := range in {
		if !e.IsSymbolic() {
			return nil, fmt.Errorf("input %d: %w", i, symflow.ErrNonSymbolicInput)
		}
		if seen[e.node] {
			return nil, fmt.Errorf("input %d repeats a symbol: %w", i, symflow.ErrDuplicateInput)
		}
		seen[e.node] = true
	}
	return &Function{opts: o, in: in, out: out}, nil
}

// Init compiles the expression graph into the instruction tape:
// topological sort with output sentinels, function-output forwarding
// for multiple-output nodes, reference counting, liveness slot
// allocation keyed on sparsity identity, and input and free-variable
// resolution. Init is idempotent after success.
func (f *Function) Init() error {
	if f.initialized {
		return nil
	}

	// Sort the computational graph depth-first, appending a nil
	// sentinel after the subgraph of each output.
	var nodes []Node
	seen := map[Node]bool{}
	for _, e := range f.out {
		compiler.PostOrder(e.node, Node.NDep,
			func(n Node, i int) Node { return n.Dep(i).node }, seen, &nodes)
		nodes = append(nodes, nil)
	}

	// Make sure all inputs appear, even when unreferenced by any output.
	for _, e := range f.in {
		if !seen[e.node] {
			seen[e.node] = true
			nodes = append(nodes, e.node)
		}
	}

	// Embedded functions must already be compiled.
	for _, n := range nodes {
		if c, ok := n.(*callNode); ok && !c.fn.initialized {
			return fmt.Errorf("call of %s: %w", c.fn.Name(), symflow.ErrUninitializedDependency)
		}
	}

	// Index of each node in the sorted list.
	tmp := make(map[Node]int, len(nodes))
	for i, n := range nodes {
		if n != nil {
			tmp[n] = i
		}
	}

	// Emit the instruction sequence. Function-output wrappers are not
	// emitted: their slot assignment is forwarded to the producing
	// node's result vector.
	type symLoc struct {
		alg int
		n   Node
	}
	var symbLoc []symLoc
	placeInAlg := make([]int, 0, len(nodes))
	refcount := make([]int, len(nodes))
	curOind := 0
	f.alg = make([]algEl, 0, len(nodes))
	for _, n := range nodes {
		op := ops.Output
		if n != nil {
			op = n.Op()
		}
		if op == ops.Parameter {
			symbLoc = append(symbLoc, symLoc{alg: len(f.alg), n: n})
		}
		if op != ops.FunctionOutput {
			ae := algEl{op: op, node: n}
			if op == ops.Output {
				ae.arg = []int{tmp[f.out[curOind].node]}
				ae.res = []int{curOind}
				curOind++
			} else {
				ae.arg = make([]int, n.NDep())
				for i := range ae.arg {
					d := n.Dep(i)
					if d.IsNull() {
						ae.arg[i] = -1
					} else {
						ae.arg[i] = tmp[d.node]
					}
				}
				ae.res = make([]int, n.NumOutputs())
				if n.MultipleOutput() {
					for c := range ae.res {
						ae.res[c] = -1
					}
				} else {
					ae.res[0] = tmp[n]
				}
			}
			for _, a := range ae.arg {
				if a >= 0 {
					refcount[a]++
				}
			}
			placeInAlg = append(placeInAlg, len(f.alg))
			f.alg = append(f.alg, ae)
		} else {
			// Forward the wrapper's slot to the parent's result vector,
			// or reuse the first wrapper encountered for this output.
			o := n.(*outputNode)
			pind := placeInAlg[tmp[o.parent.node]]
			otmp := &f.alg[pind].res[o.oind]
			if *otmp < 0 {
				*otmp = tmp[n]
			} else {
				tmp[n] = *otmp
			}
			placeInAlg = append(placeInAlg, -1)
		}
	}

	// Assign work-array slots with liveness reuse. Freed slots are
	// reusable only under a pointer-identical sparsity. For operators
	// declaring an inplace count, the leading arguments are freed
	// before result allocation so results can alias them.
	place := make([]int, len(nodes))
	unused := compiler.NewFreeStacks()
	worksize := 0
	live := f.opts.LiveVariables
	for ei := range f.alg {
		it := &f.alg[ei]
		firstToFree := 0
		lastToFree := 1
		if it.op != ops.Output {
			lastToFree = it.node.NumInplace()
		}
		for task := 0; task < 2; task++ {
			// Free in reverse order so the first argument ends up on
			// top of the stack.
			for c := lastToFree - 1; c >= firstToFree; c-- {
				chInd := it.arg[c]
				if chInd < 0 {
					continue
				}
				refcount[chInd]--
				if live && refcount[chInd] == 0 {
					unused.Push(nodeSparsity(nodes[chInd]), place[chInd])
				}
				it.arg[c] = place[chInd]
			}
			if it.op == ops.Output || task == 1 {
				break
			}
			firstToFree = lastToFree
			lastToFree = len(it.arg)

			for c := range it.res {
				if it.res[c] < 0 {
					continue
				}
				if live {
					if slot := unused.Pop(it.node.Sparsity(c)); slot >= 0 {
						place[it.res[c]] = slot
						it.res[c] = slot
						continue
					}
				}
				place[it.res[c]] = worksize
				it.res[c] = worksize
				worksize++
			}
		}
	}

	if f.opts.Verbose {
		if live {
			log.Printf("mx: %s: using live variables: work array is %d instead of %d",
				f.opts.Name, worksize, len(nodes))
		} else {
			log.Printf("mx: %s: live variables disabled", f.opts.Name)
		}
	}

	// Allocate the work array and record each slot's declared pattern,
	// sizing the shared scratch to the tape-wide maxima.
	f.workSp = make([]*sparsity.Pattern, worksize)
	var nitmp, nrtmp int
	for ei := range f.alg {
		it := &f.alg[ei]
		if it.op == ops.Output {
			continue
		}
		for c, slot := range it.res {
			if slot < 0 {
				continue
			}
			ni, nr := it.node.ScratchNeed()
			if ni > nitmp {
				nitmp = ni
			}
			if nr > nrtmp {
				nrtmp = nr
			}
			if f.workSp[slot] == nil {
				f.workSp[slot] = it.node.Sparsity(c)
			}
		}
	}
	f.work = make([]*DM, worksize)
	f.mask = make([][]uint64, worksize)
	for i, sp := range f.workSp {
		f.work[i] = NewDM(sp)
		f.mask[i] = make([]uint64, sp.NNZ())
	}
	f.iw = make([]int, nitmp)
	f.rw = make([]float64, nrtmp)

	// Resolve declared inputs: rewrite their parameter records to INPUT
	// records carrying the input index.
	markAlg := make(map[Node]int, len(symbLoc))
	for _, s := range symbLoc {
		markAlg[s.n] = s.alg + 1
	}
	for ind, e := range f.in {
		if i := markAlg[e.node]; i > 0 {
			f.alg[i-1].op = ops.Input
			f.alg[i-1].arg = []int{ind}
			delete(markAlg, e.node)
		}
	}

	// Whatever parameters remain are free variables.
	f.freeVars = f.freeVars[:0]
	for _, s := range symbLoc {
		if markAlg[s.n] > 0 {
			f.freeVars = append(f.freeVars, Expr{node: s.n})
			delete(markAlg, s.n)
		}
	}

	f.inDM = make([]*DM, len(f.in))
	f.inMask = make([][]uint64, len(f.in))
	for i, e := range f.in {
		f.inDM[i] = NewDM(e.Sparsity())
		f.inMask[i] = make([]uint64, e.Sparsity().NNZ())
	}
	f.outDM = make([]*DM, len(f.out))
	f.outMask = make([][]uint64, len(f.out))
	for k, e := range f.out {
		f.outDM[k] = NewDM(e.Sparsity())
		f.outMask[k] = make([]uint64, e.Sparsity().NNZ())
	}

	f.initialized = true

	if f.prof != nil {
		f.prof.Name(f.opts.Name, profiling.KindMX, len(f.alg))
		for i := range f.alg {
			f.prof.SourceLine(f.opts.Name, i, f.recordString(&f.alg[i]), int(f.alg[i].op))
		}
	}
	if f.opts.Verbose {
		log.Printf("mx: initialized %s (%d instructions)", f.opts.Name, len(f.alg))
	}
	return nil
}

// nodeSparsity returns the value sparsity of a node occurring as an
// argument: its single output, or the wrapped output for
// function-output wrappers.
func nodeSparsity(n Node) *sparsity.Pattern {
	return n.Sparsity(outputIndex(n))
}

// Name returns the function name.
func (f *Function) Name() string { return f.opts.Name }

// NumIn returns the number of declared inputs.
func (f *Function) NumIn() int { return len(f.in) }

// NumOut returns the number of declared outputs.
func (f *Function) NumOut() int { return len(f.out) }

// In returns declared input i.
func (f *Function) In(i int) Expr { return f.in[i] }

// Out returns declared output k.
func (f *Function) Out(k int) Expr { return f.out[k] }

// FreeVars returns the parameters reachable from the outputs that are
// not among the declared inputs.
func (f *Function) FreeVars() []Expr { return f.freeVars }

// WorkSize returns the number of work-array slots of the compiled tape.
func (f *Function) WorkSize() int { return len(f.work) }

// NumInstructions returns the tape length.
func (f *Function) NumInstructions() int { return len(f.alg) }

// IsSmooth reports whether every elementary operation on the tape has
// continuous derivatives.
func (f *Function) IsSmooth() bool {
	for i := range f.alg {
		op := f.alg[i].op
		if (op.IsUnary() || op.IsBinary()) && !op.IsSmooth() {
			return false
		}
	}
	return true
}

// AttachProfiler directs profiling records to the given logger.
func (f *Function) AttachProfiler(l *profiling.Logger) { f.prof = l }

// Clone returns a copy with its own work array, buffers and spill
// state, sharing the immutable tape. Clones of one function may
// evaluate in parallel.
func (f *Function) Clone() *Function {
	g := &Function{
		opts:        f.opts,
		in:          f.in,
		out:         f.out,
		alg:         f.alg,
		workSp:      f.workSp,
		freeVars:    f.freeVars,
		prof:        f.prof,
		initialized: f.initialized,
	}
	if f.initialized {
		g.work = make([]*DM, len(f.work))
		g.mask = make([][]uint64, len(f.mask))
		for i := range f.work {
			g.work[i] = NewDM(f.workSp[i])
			g.mask[i] = make([]uint64, len(f.mask[i]))
		}
		g.iw = make([]int, len(f.iw))
		g.rw = make([]float64, len(f.rw))
		g.inDM = make([]*DM, len(f.inDM))
		g.inMask = make([][]uint64, len(f.inMask))
		for i := range f.inDM {
			g.inDM[i] = f.inDM[i].Clone()
			g.inMask[i] = make([]uint64, len(f.inMask[i]))
		}
		g.outDM = make([]*DM, len(f.outDM))
		g.outMask = make([][]uint64, len(f.outMask))
		for k := range f.outDM {
			g.outDM[k] = NewDM(f.outDM[k].Sparsity())
			g.outMask[k] = make([]uint64, len(f.outMask[k]))
		}
	}
	return g
}

func (f *Function) assertInit() error {
	if !f.initialized {
		return fmt.Errorf("mx: %s: function not initialized", f.opts.Name)
	}
	return nil
}
