package mx

import (
	"fmt"

	"github.com/symflow/symflow"
	"github.com/symflow/symflow/ops"
)

// checkingDepth bounds the structural-equality test deciding whether
// arguments match the declared inputs.
const checkingDepth = 2

// spillEntry records one overwrite of a still-live slot: the algorithm
// index and slot at which it happens, and the forward-time value
// captured there for the reverse sweep.
type spillEntry struct {
	alg  int
	slot int
	val  Expr
}

// allocTape walks the algorithm tracking which slots are in use and
// returns one spill entry per overwrite of a live slot. Only
// overwritten slots need spilling; unchanged live values stay in the
// work array.
func (f *Function) allocTape() []spillEntry {
	inUse := make([]bool, len(f.work))
	var tape []spillEntry
	for ai := range f.alg {
		it := &f.alg[ai]
		if it.op == ops.Output {
			continue
		}
		for _, slot := range it.res {
			if slot < 0 {
				continue
			}
			if inUse[slot] {
				tape = append(tape, spillEntry{alg: ai, slot: slot})
			} else {
				inUse[slot] = true
			}
		}
	}
	return tape
}

func zerosLike(e Expr) Expr { return Zeros(e.NRow(), e.NCol()) }

// EvalSym replays the tape with symbolic operands, producing outputs,
// forward sensitivities per forward seed direction and adjoint
// sensitivities per adjoint seed direction.
//
// Fast paths: when the arguments equal the declared inputs to bounded
// depth, the stored outputs are returned verbatim; forward or adjoint
// directions whose entire seed vector is structurally zero are skipped
// and receive structurally-zero sensitivities of the correct shape.
//
// The reverse sweep consults a spill tape holding the forward-time
// value of every slot overwrite, restoring each spilled value before
// the operator's reverse kernel runs and re-hiding it afterwards.
func (f *Function) EvalSym(args []Expr, fseed, aseed [][]Expr) (res []Expr, fsens, asens [][]Expr, err error) {
	if err := f.assertInit(); err != nil {
		return nil, nil, nil, err
	}
	if len(args) != len(f.in) {
		return nil, nil, nil, fmt.Errorf("%d arguments for %d inputs: %w",
			len(args), len(f.in), symflow.ErrWrongArity)
	}
	use := make([]Expr, len(args))
	for i, a := range args {
		if a.IsNull() {
			return nil, nil, nil, fmt.Errorf("argument %d is null: %w", i, symflow.ErrWrongArity)
		}
		sp := f.in[i].Sparsity()
		if a.NRow() != sp.NRow() || a.NCol() != sp.NCol() {
			return nil, nil, nil, fmt.Errorf("argument %d is %dx%d, want %dx%d: %w",
				i, a.NRow(), a.NCol(), sp.NRow(), sp.NCol(), symflow.ErrShapeMismatch)
		}
		use[i] = projectTo(a, sp)
	}

	normSeeds := func(seeds [][]Expr, decl []Expr, kind error) ([][]Expr, error) {
		norm := make([][]Expr, len(seeds))
		for d := range seeds {
			if len(seeds[d]) != len(decl) {
				return nil, fmt.Errorf("seed direction %d has %d entries, want %d: %w",
					d, len(seeds[d]), len(decl), symflow.ErrWrongArity)
			}
			norm[d] = make([]Expr, len(decl))
			for i, s := range seeds[d] {
				sp := decl[i].Sparsity()
				if s.IsNull() || s.IsZero() {
					norm[d][i] = Zeros(sp.NRow(), sp.NCol())
					continue
				}
				if s.NRow() != sp.NRow() || s.NCol() != sp.NCol() {
					return nil, fmt.Errorf("seed (%d,%d) is %dx%d, want %dx%d: %w",
						d, i, s.NRow(), s.NCol(), sp.NRow(), sp.NCol(), kind)
				}
				norm[d][i] = projectTo(s, sp)
			}
		}
		return norm, nil
	}
	fseedN, err := normSeeds(fseed, f.in, symflow.ErrUnsupportedSeedShape)
	if err != nil {
		return nil, nil, nil, err
	}
	aseedN, err := normSeeds(aseed, f.out, symflow.ErrUnsupportedSeedShape)
	if err != nil {
		return nil, nil, nil, err
	}
	if len(aseedN) > 0 && f.opts.RequireSmooth && !f.IsSmooth() {
		return nil, nil, nil, fmt.Errorf("%s: %w", f.opts.Name, symflow.ErrAdjointNonSmooth)
	}

	// Check whether the arguments match the declared inputs, in which
	// case the outputs are known to be the stored output expressions.
	outputGiven := true
	for i := 0; i < len(use) && outputGiven; i++ {
		if !IsEqual(use[i], f.in[i], checkingDepth) {
			outputGiven = false
		}
	}
	if outputGiven {
		use = f.in
	}

	// Skip derivative directions whose whole seed vector is
	// structurally zero; their sensitivities are zeros of the right
	// shape.
	fsens = make([][]Expr, len(fseedN))
	var fIdx []int
	for d := range fseedN {
		fsens[d] = make([]Expr, len(f.out))
		active := false
		for _, s := range fseedN[d] {
			if !s.IsZero() {
				active = true
				break
			}
		}
		if active {
			fIdx = append(fIdx, d)
		} else {
			for k, o := range f.out {
				fsens[d][k] = zerosLike(o)
			}
		}
	}
	asens = make([][]Expr, len(aseedN))
	var aIdx []int
	for d := range aseedN {
		asens[d] = make([]Expr, len(f.in))
		active := false
		for _, s := range aseedN[d] {
			if !s.IsZero() {
				active = true
				break
			}
		}
		if active {
			aIdx = append(aIdx, d)
		} else {
			for i, in := range f.in {
				asens[d][i] = zerosLike(in)
			}
		}
	}
	nf, na := len(fIdx), len(aIdx)

	res = make([]Expr, len(f.out))
	if outputGiven {
		copy(res, f.out)
	}
	if outputGiven && nf == 0 && na == 0 {
		return res, fsens, asens, nil
	}

	// Symbolic work array, non-differentiated.
	swork := make([]Expr, len(f.work))

	// Spill tape for the reverse sweep.
	var tape []spillEntry
	if na > 0 {
		tape = f.allocTape()
	}
	tt := 0

	// Derivative work array, forward directions.
	dwork := make([][]Expr, len(f.work))
	for i := range dwork {
		dwork[i] = make([]Expr, nf)
	}

	var outputTmp []Expr
	inputP := make([]*Expr, 0, 4)
	outputP := make([]*Expr, 0, 4)
	fseedP := make([][]*Expr, nf)
	fsensP := make([][]*Expr, nf)

	// Forward sweep in emission order.
	for ai := range f.alg {
		it := &f.alg[ai]

		// Capture slots about to be overwritten while still live.
		if na > 0 && it.op != ops.Output {
			for _, slot := range it.res {
				if slot >= 0 && tt < len(tape) && tape[tt].alg == ai && tape[tt].slot == slot {
					tape[tt].val = swork[slot]
					tt++
				}
			}
		}

		switch it.op {
		case ops.Input:
			swork[it.res[0]] = use[it.arg[0]]
			for d := 0; d < nf; d++ {
				dwork[it.res[0]][d] = fseedN[fIdx[d]][it.arg[0]]
			}
		case ops.Output:
			if !outputGiven {
				res[it.res[0]] = swork[it.arg[0]]
			}
			for d := 0; d < nf; d++ {
				s := dwork[it.arg[0]][d]
				if s.IsNull() {
					s = zerosLike(f.out[it.res[0]])
				}
				fsens[fIdx[d]][it.res[0]] = s
			}
		case ops.Parameter:
			swork[it.res[0]] = Expr{node: it.node}
			for d := 0; d < nf; d++ {
				dwork[it.res[0]][d] = Expr{}
			}
		default:
			if outputGiven {
				outputTmp = outputTmp[:0]
				for c, slot := range it.res {
					if slot >= 0 {
						outputTmp = append(outputTmp, outputExpr(it.node, c))
					} else {
						outputTmp = append(outputTmp, Expr{})
					}
				}
			}

			inputP = inputP[:0]
			for _, el := range it.arg {
				if el < 0 {
					inputP = append(inputP, nil)
				} else {
					inputP = append(inputP, &swork[el])
				}
			}
			outputP = outputP[:0]
			for c, el := range it.res {
				switch {
				case el < 0:
					outputP = append(outputP, nil)
				case outputGiven:
					outputP = append(outputP, &outputTmp[c])
				default:
					outputP = append(outputP, &swork[el])
				}
			}

			for d := 0; d < nf; d++ {
				fseedP[d] = fseedP[d][:0]
				for i2, el := range it.arg {
					if el < 0 {
						fseedP[d] = append(fseedP[d], nil)
						continue
					}
					if dwork[el][d].IsNull() {
						// Materialise a structural zero of the operand
						// shape; later directions reuse the first
						// direction's zero when it is one.
						if d > 0 && !dwork[el][0].IsNull() && dwork[el][0].IsZero() {
							dwork[el][d] = dwork[el][0]
						} else {
							dwork[el][d] = zerosLike(*inputP[i2])
						}
					}
					fseedP[d] = append(fseedP[d], &dwork[el][d])
				}
				fsensP[d] = fsensP[d][:0]
				for c, el := range it.res {
					if el < 0 {
						fsensP[d] = append(fsensP[d], nil)
						continue
					}
					if dwork[el][d].IsNull() {
						sp := it.node.Sparsity(c)
						dwork[el][d] = Zeros(sp.NRow(), sp.NCol())
					}
					fsensP[d] = append(fsensP[d], &dwork[el][d])
				}
			}

			if !outputGiven || nf > 0 {
				if err := f.callForward(it, inputP, outputP, fseedP[:nf], fsensP[:nf], outputGiven); err != nil {
					return nil, nil, nil, fmt.Errorf("%s: instruction %d (%v): %w", f.opts.Name, ai, it.op, err)
				}
			}

			// Save results to the work array only now, so inplace
			// operators saw their untouched arguments.
			if outputGiven {
				for c, el := range it.res {
					if el >= 0 {
						swork[el] = outputTmp[c]
					}
				}
			}
		}
	}

	// Reverse sweep.
	if na > 0 {
		for i := range dwork {
			dwork[i] = make([]Expr, na)
		}
		workMark := make([]int, len(f.work))
		aseedP := make([][]*Expr, na)
		asensP := make([][]*Expr, na)
		tt--
		for ai := len(f.alg) - 1; ai >= 0; ai-- {
			it := &f.alg[ai]

			// Mark spilled slots to be read from the tape, so the
			// operator input is the forward-time value while its output
			// slot stays writable.
			if it.op != ops.Output {
				for c := len(it.res) - 1; c >= 0; c-- {
					slot := it.res[c]
					if slot >= 0 && tt >= 0 && tape[tt].alg == ai && tape[tt].slot == slot {
						workMark[slot] = 1 + tt
						tt--
					}
				}
			}

			switch it.op {
			case ops.Input:
				for d := 0; d < na; d++ {
					s := dwork[it.res[0]][d]
					if s.IsNull() {
						s = zerosLike(f.in[it.arg[0]])
					}
					asens[aIdx[d]][it.arg[0]] = s
					dwork[it.res[0]][d] = Expr{}
				}
			case ops.Output:
				for d := 0; d < na; d++ {
					dwork[it.arg[0]][d] = addToSum(dwork[it.arg[0]][d], aseedN[aIdx[d]][it.res[0]])
				}
			case ops.Parameter:
				for d := 0; d < na; d++ {
					dwork[it.res[0]][d] = Expr{}
				}
			default:
				inputP = inputP[:0]
				for _, el := range it.arg {
					switch {
					case el < 0:
						inputP = append(inputP, nil)
					case workMark[el] > 0:
						inputP = append(inputP, &tape[workMark[el]-1].val)
					default:
						inputP = append(inputP, &swork[el])
					}
				}
				outputP = outputP[:0]
				for _, el := range it.res {
					if el < 0 {
						outputP = append(outputP, nil)
					} else {
						outputP = append(outputP, &swork[el])
					}
				}

				for d := 0; d < na; d++ {
					aseedP[d] = aseedP[d][:0]
					for _, el := range it.res {
						if el < 0 {
							aseedP[d] = append(aseedP[d], nil)
							continue
						}
						if dwork[el][d].IsNull() {
							dwork[el][d] = zerosLike(swork[el])
						}
						aseedP[d] = append(aseedP[d], &dwork[el][d])
					}
					asensP[d] = asensP[d][:0]
					for _, el := range it.arg {
						if el < 0 {
							asensP[d] = append(asensP[d], nil)
							continue
						}
						if dwork[el][d].IsNull() {
							dwork[el][d] = zerosLike(swork[el])
						}
						asensP[d] = append(asensP[d], &dwork[el][d])
					}
				}

				if err := f.callReverse(it, inputP, outputP, aseedP, asensP); err != nil {
					return nil, nil, nil, fmt.Errorf("%s: instruction %d (%v): %w", f.opts.Name, ai, it.op, err)
				}
			}

			// Recover the spilled values for records further back,
			// delayed past the kernel for inplace operators.
			if it.op != ops.Output {
				for c := len(it.res) - 1; c >= 0; c-- {
					slot := it.res[c]
					if slot >= 0 && workMark[slot] > 0 {
						swork[slot] = tape[workMark[slot]-1].val
						workMark[slot] = 0
					}
				}
			}
		}
	}

	return res, fsens, asens, nil
}

// callForward invokes a node's symbolic kernel for the forward sweep,
// purging structurally empty seed directions before delegating to an
// embedded function call. The purge is only applied to CALL operators:
// other operators can shape the sensitivities even under zero seeds.
func (f *Function) callForward(it *algEl, inputP, outputP []*Expr, fseedP, fsensP [][]*Expr, outputGiven bool) error {
	if it.op != ops.Call || !f.opts.PurgeSeeds || len(fseedP) == 0 {
		return it.node.EvalSym(inputP, outputP, fseedP, fsensP, nil, nil, outputGiven)
	}
	var keep []int
	for d := range fseedP {
		for _, s := range fseedP[d] {
			if s != nil && !(*s).IsZero() {
				keep = append(keep, d)
				break
			}
		}
	}
	// Nothing survives the purge in either vector: evaluate outputs
	// only. The purged sensitivities keep their pre-seeded zeros.
	if len(keep) == 0 {
		if outputGiven {
			return nil
		}
		return it.node.EvalSym(inputP, outputP, nil, nil, nil, nil, outputGiven)
	}
	if len(keep) == len(fseedP) {
		return it.node.EvalSym(inputP, outputP, fseedP, fsensP, nil, nil, outputGiven)
	}
	fsp := make([][]*Expr, len(keep))
	fss := make([][]*Expr, len(keep))
	for j, d := range keep {
		fsp[j] = fseedP[d]
		fss[j] = fsensP[d]
	}
	return it.node.EvalSym(inputP, outputP, fsp, fss, nil, nil, outputGiven)
}

// callReverse invokes a node's symbolic kernel for the reverse sweep.
// Outputs are always given on the way back. Embedded calls get the
// same seed purge as the forward sweep.
func (f *Function) callReverse(it *algEl, inputP, outputP []*Expr, aseedP, asensP [][]*Expr) error {
	if it.op != ops.Call || !f.opts.PurgeSeeds {
		return it.node.EvalSym(inputP, outputP, nil, nil, aseedP, asensP, true)
	}
	var keep []int
	for d := range aseedP {
		for _, s := range aseedP[d] {
			if s != nil && !(*s).IsZero() {
				keep = append(keep, d)
				break
			}
		}
	}
	if len(keep) == 0 {
		return nil
	}
	if len(keep) == len(aseedP) {
		return it.node.EvalSym(inputP, outputP, nil, nil, aseedP, asensP, true)
	}
	asp := make([][]*Expr, len(keep))
	ass := make([][]*Expr, len(keep))
	for j, d := range keep {
		asp[j] = aseedP[d]
		ass[j] = asensP[d]
	}
	return it.node.EvalSym(inputP, outputP, nil, nil, asp, ass, true)
}
