package sx

import (
	"fmt"
	"log"

	"github.com/symflow/symflow"
	"github.com/symflow/symflow/internal/compiler"
	"github.com/symflow/symflow/internal/profiling"
	"github.com/symflow/symflow/ops"
)

// algEl is one record of the register-machine tape. Every scalar
// operation is at most binary with one output, so a flat index triple
// suffices: i0 is the result slot, i1 and i2 the operand slots. The
// roles shift for sentinels: INPUT records store (slot, input index,
// nonzero index), OUTPUT records (output index, slot, nonzero index).
// d carries the literal of CONST records.
type algEl struct {
	op         ops.Op
	i0, i1, i2 int
	d          float64
}

// ndeps returns how many operand slots a tape record reads.
func ndeps(op ops.Op) int {
	if op == ops.Output {
		return 1
	}
	return op.NDeps()
}

// Function is a compiled scalar function: a tape of elementary
// instructions replayed over a flat work array.
//
// A Function is not safe for concurrent evaluation on a single
// instance; it owns the work array. Clones evaluate independently.
type Function struct {
	opts symflow.Options

	in  []Matrix
	out []Matrix

	alg        []algEl
	constants  []Expr // constant nodes in algorithm order
	operations []Expr // non-leaf nodes in algorithm order
	freeVars   []Expr
	worksize   int

	work []float64  // numeric work array
	mask []uint64   // bit-parallel work array, same slot count
	inBuf, outBuf   [][]float64
	inMask, outMask [][]uint64

	prof        *profiling.Logger
	initialized bool
}

// New constructs a function mapping the symbolic input matrices to the
// output matrices. Every input nonzero must be a distinct symbolic
// primitive.
func New(in, out []Matrix, opts ...symflow.Options) (*Function, error) {
	o := symflow.DefaultOptions()
	if len(opts) > 0 {
		o = opts[0]
	}
	if o.Name == "" {
		o.Name = symflow.UniqueName("sx")
	}
	if len(out) == 0 {
		return nil, symflow.ErrEmptyOutputList
	}
	seen := map[*node]bool{}
	for i, m := range in {
		for _, e := range m.nz {
			if !e.IsSymbolic() {
				return nil, fmt.Errorf("input %d: %w", i, symflow.ErrNonSymbolicInput)
			}
			if seen[e.n] {
				return nil, fmt.Errorf("input %d repeats %s: %w", i, e, symflow.ErrDuplicateInput)
			}
			seen[e.n] = true
		}
	}
	return &Function{opts: o, in: in, out: out}, nil
}

// Init compiles the expression graph into the instruction tape:
// topological sort with output sentinels, reference counting, liveness
// slot allocation and input/free-variable resolution. Init is
// idempotent after success.
func (f *Function) Init() error {
	if f.initialized {
		return nil
	}

	// Sort the computational graph depth-first, appending a nil sentinel
	// after the subgraph of each output nonzero.
	var nodes []*node
	seen := map[*node]bool{}
	for _, m := range f.out {
		for _, e := range m.nz {
			compiler.PostOrder(e.n, func(n *node) int { return n.op.NDeps() },
				func(n *node, i int) *node { return n.dep[i] }, seen, &nodes)
			nodes = append(nodes, nil)
		}
	}

	// Make sure all inputs appear, even when unreferenced by any output.
	for _, m := range f.in {
		for _, e := range m.nz {
			if !seen[e.n] {
				seen[e.n] = true
				nodes = append(nodes, e.n)
			}
		}
	}

	// Index of each node in the sorted list; the currency in which the
	// tape operands are expressed until the allocator rewrites them.
	tmp := make(map[*node]int, len(nodes))
	for i, n := range nodes {
		if n != nil {
			tmp[n] = i
		}
	}

	// Partition nodes by kind for the symbolic replay iterators.
	f.constants = f.constants[:0]
	f.operations = f.operations[:0]
	for _, n := range nodes {
		switch {
		case n == nil:
		case n.op == ops.Const:
			f.constants = append(f.constants, Expr{n: n})
		case n.op != ops.Parameter:
			f.operations = append(f.operations, Expr{n: n})
		}
	}

	// First nonempty output.
	currOind, currNz := 0, 0
	for currOind < len(f.out) && f.out[currOind].sp.NNZ() == 0 {
		currOind++
	}

	// Emit the instruction sequence, counting how many later records
	// will read each node.
	refcount := make([]int, len(nodes))
	type symLoc struct {
		alg int
		n   *node
	}
	var symbLoc []symLoc
	f.alg = make([]algEl, 0, len(nodes))
	for _, n := range nodes {
		var ae algEl
		if n == nil {
			ae.op = ops.Output
		} else {
			ae.op = n.op
		}
		switch ae.op {
		case ops.Const:
			ae.d = n.val
			ae.i0 = tmp[n]
		case ops.Parameter:
			symbLoc = append(symbLoc, symLoc{alg: len(f.alg), n: n})
			ae.i0 = tmp[n]
		case ops.Output:
			ae.i0 = currOind
			ae.i1 = tmp[f.out[currOind].nz[currNz].n]
			ae.i2 = currNz
			currNz++
			if currNz >= f.out[currOind].sp.NNZ() {
				currNz = 0
				currOind++
				for currOind < len(f.out) && f.out[currOind].sp.NNZ() == 0 {
					currOind++
				}
			}
		default:
			ae.i0 = tmp[n]
			ae.i1 = tmp[n.dep[0]]
			if ae.op.NDeps() > 1 {
				ae.i2 = tmp[n.dep[1]]
			} else {
				ae.i2 = ae.i1
			}
		}
		for c := 0; c < ndeps(ae.op); c++ {
			if c == 0 {
				refcount[ae.i1]++
			} else {
				refcount[ae.i2]++
			}
		}
		f.alg = append(f.alg, ae)
	}

	// Assign a work-array slot to every result, reusing freed slots
	// last-in first-out. Arguments are freed before the result is
	// allocated, so a dying operand's slot can host the result.
	place := make([]int, len(nodes))
	var unused []int
	worksize := 0
	for idx := range f.alg {
		it := &f.alg[idx]
		nd := ndeps(it.op)
		for c := nd - 1; c >= 0; c-- {
			chInd := it.i1
			if c == 1 {
				chInd = it.i2
			}
			refcount[chInd]--
			if refcount[chInd] == 0 {
				unused = append(unused, place[chInd])
			}
		}
		if it.op != ops.Output {
			if f.opts.LiveVariables && len(unused) > 0 {
				slot := unused[len(unused)-1]
				unused = unused[:len(unused)-1]
				place[it.i0] = slot
				it.i0 = slot
			} else {
				place[it.i0] = worksize
				it.i0 = worksize
				worksize++
			}
		}
		for c := 0; c < nd; c++ {
			if c == 0 {
				it.i1 = place[it.i1]
			} else {
				it.i2 = place[it.i2]
			}
		}
		// Treat unary records as binary with a repeated operand.
		if nd == 1 && it.op != ops.Output {
			it.i2 = it.i1
		}
	}
	f.worksize = worksize

	if f.opts.Verbose {
		if f.opts.LiveVariables {
			log.Printf("sx: %s: using live variables: work array is %d instead of %d",
				f.opts.Name, worksize, len(nodes))
		} else {
			log.Printf("sx: %s: live variables disabled", f.opts.Name)
		}
	}

	f.work = make([]float64, worksize)
	f.mask = make([]uint64, worksize)

	// Resolve declared inputs: rewrite their parameter records to INPUT
	// records addressing (input index, nonzero index).
	markAlg := make(map[*node]int, len(symbLoc))
	for _, s := range symbLoc {
		markAlg[s.n] = s.alg + 1
	}
	for ind, m := range f.in {
		for nz, e := range m.nz {
			if i := markAlg[e.n]; i > 0 {
				f.alg[i-1].op = ops.Input
				f.alg[i-1].i1 = ind
				f.alg[i-1].i2 = nz
				delete(markAlg, e.n)
			}
		}
	}

	// Whatever parameters remain are free variables.
	f.freeVars = f.freeVars[:0]
	for _, s := range symbLoc {
		if markAlg[s.n] > 0 {
			f.freeVars = append(f.freeVars, Expr{n: s.n})
			delete(markAlg, s.n)
		}
	}

	f.inBuf = make([][]float64, len(f.in))
	f.inMask = make([][]uint64, len(f.in))
	for i, m := range f.in {
		f.inBuf[i] = make([]float64, m.sp.NNZ())
		f.inMask[i] = make([]uint64, m.sp.NNZ())
	}
	f.outBuf = make([][]float64, len(f.out))
	f.outMask = make([][]uint64, len(f.out))
	for k, m := range f.out {
		f.outBuf[k] = make([]float64, m.sp.NNZ())
		f.outMask[k] = make([]uint64, m.sp.NNZ())
	}

	f.initialized = true

	if f.prof != nil {
		f.prof.Name(f.opts.Name, profiling.KindSX, len(f.alg))
		pIt := 0
		for i := range f.alg {
			f.prof.SourceLine(f.opts.Name, i, f.recordString(&f.alg[i], &pIt), int(f.alg[i].op))
		}
	}
	if f.opts.Verbose {
		log.Printf("sx: initialized %s (%d elementary operations)", f.opts.Name, len(f.alg))
	}
	return nil
}

// Name returns the function name.
func (f *Function) Name() string { return f.opts.Name }

// NumIn returns the number of declared inputs.
func (f *Function) NumIn() int { return len(f.in) }

// NumOut returns the number of declared outputs.
func (f *Function) NumOut() int { return len(f.out) }

// In returns declared input i.
func (f *Function) In(i int) Matrix { return f.in[i] }

// Out returns declared output k.
func (f *Function) Out(k int) Matrix { return f.out[k] }

// FreeVars returns the parameters reachable from the outputs that are
// not among the declared inputs.
func (f *Function) FreeVars() []Expr { return f.freeVars }

// WorkSize returns the number of work-array slots of the compiled tape.
func (f *Function) WorkSize() int { return f.worksize }

// NumInstructions returns the tape length.
func (f *Function) NumInstructions() int { return len(f.alg) }

// IsSmooth reports whether every operation on the tape has continuous
// derivatives.
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

// Clone returns a copy with its own work arrays and buffers, sharing
// the immutable tape. Clones of one function may evaluate in parallel.
func (f *Function) Clone() *Function {
	g := &Function{
		opts:        f.opts,
		in:          f.in,
		out:         f.out,
		alg:         f.alg,
		constants:   f.constants,
		operations:  f.operations,
		freeVars:    f.freeVars,
		worksize:    f.worksize,
		prof:        f.prof,
		initialized: f.initialized,
	}
	if f.initialized {
		g.work = make([]float64, f.worksize)
		g.mask = make([]uint64, f.worksize)
		g.inBuf = make([][]float64, len(f.inBuf))
		g.inMask = make([][]uint64, len(f.inMask))
		for i := range f.inBuf {
			g.inBuf[i] = append([]float64(nil), f.inBuf[i]...)
			g.inMask[i] = make([]uint64, len(f.inMask[i]))
		}
		g.outBuf = make([][]float64, len(f.outBuf))
		g.outMask = make([][]uint64, len(f.outMask))
		for k := range f.outBuf {
			g.outBuf[k] = make([]float64, len(f.outBuf[k]))
			g.outMask[k] = make([]uint64, len(f.outMask[k]))
		}
	}
	return g
}

func (f *Function) assertInit() error {
	if !f.initialized {
		return fmt.Errorf("sx: %s: function not initialized", f.opts.Name)
	}
	return nil
}
