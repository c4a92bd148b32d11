package mx

import (
	"fmt"
	"io"

	"github.com/symflow/symflow/ops"
	"github.com/symflow/symflow/sparsity"
	"github.com/symflow/symflow/sx"
)

// constNode holds a literal matrix.
type constNode struct {
	baseNode
	val *DM
}

func (n *constNode) Op() ops.Op { return ops.Const }

func (n *constNode) EvalNumeric(arg, res []*DM, iw []int, rw []float64) error {
	res[0].SetFrom(n.val)
	return nil
}

func (n *constNode) PropagateSparsity(arg, res [][]uint64, iw []int, rw []float64, forward bool) {
	for k := range res[0] {
		res[0][k] = 0
	}
}

func (n *constNode) EvalSym(arg, res []*Expr, fseed, fsens, aseed, asens [][]*Expr, outputGiven bool) error {
	if !outputGiven {
		*res[0] = Expr{node: n}
	}
	sp := n.sp[0]
	for d := range fseed {
		*fsens[d][0] = Zeros(sp.NRow(), sp.NCol())
	}
	for d := range aseed {
		*aseed[d][0] = Zeros(sp.NRow(), sp.NCol())
	}
	return nil
}

func (n *constNode) EvalScalar(arg, res []*sx.Matrix) error {
	nz := make([]sx.Expr, len(n.val.nz))
	for k, v := range n.val.nz {
		nz[k] = sx.Num(v)
	}
	*res[0] = sx.NewMatrix(n.sp[0], nz)
	return nil
}

func (n *constNode) GenerateOp(w io.Writer, arg, res []string) error {
	for k, v := range n.val.nz {
		fmt.Fprintf(w, "  %s[%d]=%g;\n", res[0], k, v)
	}
	return nil
}

func (n *constNode) PrintPart(w io.Writer, part int) {
	if part == 0 {
		fmt.Fprintf(w, "const%v", n.val.nz)
	}
}

// symbolNode kernels. Symbols reach the tape only as INPUT records or
// free-variable placeholders, both handled by the evaluator core.
func (n *symbolNode) Op() ops.Op   { return ops.Parameter }
func (n *symbolNode) Name() string { return n.name }

func (n *symbolNode) EvalNumeric(arg, res []*DM, iw []int, rw []float64) error {
	return fmt.Errorf("mx: numeric evaluation of free variable %q", n.name)
}

func (n *symbolNode) PropagateSparsity(arg, res [][]uint64, iw []int, rw []float64, forward bool) {
	for k := range res[0] {
		res[0][k] = 0
	}
}

func (n *symbolNode) EvalSym(arg, res []*Expr, fseed, fsens, aseed, asens [][]*Expr, outputGiven bool) error {
	if !outputGiven {
		*res[0] = Expr{node: n}
	}
	sp := n.sp[0]
	for d := range fseed {
		*fsens[d][0] = Zeros(sp.NRow(), sp.NCol())
	}
	for d := range aseed {
		*aseed[d][0] = Zeros(sp.NRow(), sp.NCol())
	}
	return nil
}

func (n *symbolNode) EvalScalar(arg, res []*sx.Matrix) error {
	return fmt.Errorf("mx: scalar expansion of free variable %q", n.name)
}

func (n *symbolNode) GenerateOp(w io.Writer, arg, res []string) error {
	return fmt.Errorf("mx: code generation of free variable %q", n.name)
}

func (n *symbolNode) PrintPart(w io.Writer, part int) {
	if part == 0 {
		io.WriteString(w, n.name)
	}
}

// zeroConst returns a constant of all zeros over the given pattern,
// used as a scatter base where structural zeros are not acceptable.
func zeroConst(sp *sparsity.Pattern) Expr { return Const(NewDM(sp)) }

// getNonzerosNode gathers nonzeros of its dependency: result nonzero k
// takes dependency nonzero nz[k].
type getNonzerosNode struct {
	baseNode
	nz []int
}

// GetNZ gathers the nonzeros of x at the given indices into a matrix
// with the given pattern. A negative index yields a numeric zero.
func GetNZ(x Expr, sp *sparsity.Pattern, nz []int) Expr {
	if len(nz) != sp.NNZ() {
		panic(fmt.Sprintf("mx: %d gather indices for %v", len(nz), sp))
	}
	if x.IsZero() {
		return Zeros(sp.NRow(), sp.NCol())
	}
	for _, i := range nz {
		if i >= x.Sparsity().NNZ() {
			panic(fmt.Sprintf("mx: gather index %d out of %d nonzeros", i, x.Sparsity().NNZ()))
		}
	}
	return Expr{node: &getNonzerosNode{
		baseNode: baseNode{deps: []Expr{x}, sp: []*sparsity.Pattern{sp}},
		nz:       append([]int(nil), nz...),
	}}
}

// projectTo gathers e into the given pattern by element position,
// filling structural zeros where e has no entry.
func projectTo(e Expr, sp *sparsity.Pattern) Expr {
	es := e.Sparsity()
	if es == sp {
		return e
	}
	nz := make([]int, sp.NNZ())
	rows := sp.Rows()
	colind := sp.ColInd()
	for c := 0; c < sp.NCol(); c++ {
		for k := colind[c]; k < colind[c+1]; k++ {
			nz[k] = es.Index(rows[k], c)
		}
	}
	return GetNZ(e, sp, nz)
}

func (n *getNonzerosNode) Op() ops.Op { return ops.GetNonzeros }

func (n *getNonzerosNode) EvalNumeric(arg, res []*DM, iw []int, rw []float64) error {
	for k, i := range n.nz {
		if i < 0 {
			res[0].nz[k] = 0
		} else {
			res[0].nz[k] = arg[0].nz[i]
		}
	}
	return nil
}

func (n *getNonzerosNode) PropagateSparsity(arg, res [][]uint64, iw []int, rw []float64, forward bool) {
	if forward {
		for k, i := range n.nz {
			if i < 0 {
				res[0][k] = 0
			} else {
				res[0][k] = arg[0][i]
			}
		}
		return
	}
	for k, i := range n.nz {
		if i >= 0 {
			arg[0][i] |= res[0][k]
		}
		res[0][k] = 0
	}
}

func (n *getNonzerosNode) EvalSym(arg, res []*Expr, fseed, fsens, aseed, asens [][]*Expr, outputGiven bool) error {
	x := *arg[0]
	if !outputGiven {
		*res[0] = GetNZ(x, n.sp[0], n.nz)
	}
	depSp := n.deps[0].Sparsity()
	for d := range fseed {
		s := *fseed[d][0]
		if !s.IsZero() {
			s = projectTo(s, depSp)
		}
		*fsens[d][0] = GetNZ(s, n.sp[0], n.nz)
	}
	xs := x.Sparsity()
	for d := range aseed {
		seed := *aseed[d][0]
		*aseed[d][0] = Zeros(n.sp[0].NRow(), n.sp[0].NCol())
		if seed.IsZero() {
			continue
		}
		seed = projectTo(seed, n.sp[0])
		var ks, is []int
		for k, i := range n.nz {
			if i >= 0 {
				ks = append(ks, k)
				is = append(is, i)
			}
		}
		if len(ks) == 0 {
			continue
		}
		sub := seed
		if len(ks) < len(n.nz) {
			sub = GetNZ(seed, sparsity.Dense(len(ks), 1), ks)
		}
		*asens[d][0] = addToSum(*asens[d][0], AddNZ(zeroConst(xs), sub, is))
	}
	return nil
}

func (n *getNonzerosNode) EvalScalar(arg, res []*sx.Matrix) error {
	nz := make([]sx.Expr, len(n.nz))
	for k, i := range n.nz {
		if i < 0 {
			nz[k] = sx.Num(0)
		} else {
			nz[k] = arg[0].Nonzeros()[i]
		}
	}
	*res[0] = sx.NewMatrix(n.sp[0], nz)
	return nil
}

func (n *getNonzerosNode) GenerateOp(w io.Writer, arg, res []string) error {
	for k, i := range n.nz {
		if i < 0 {
			fmt.Fprintf(w, "  %s[%d]=0;\n", res[0], k)
		} else {
			fmt.Fprintf(w, "  %s[%d]=%s[%d];\n", res[0], k, arg[0], i)
		}
	}
	return nil
}

func (n *getNonzerosNode) PrintPart(w io.Writer, part int) {
	if part == 0 {
		fmt.Fprintf(w, "%v=>", n.nz)
	}
}

// setNonzerosNode overwrites (or, when add is set, accumulates into)
// selected nonzeros of its first dependency with the nonzeros of its
// second: result nonzero nz[j] receives x nonzero j. The first
// dependency may share storage with the result.
type setNonzerosNode struct {
	baseNode
	nz  []int
	add bool
}

func newSetNonzeros(y, x Expr, nz []int, add bool) Expr {
	if add && x.IsZero() {
		return y
	}
	if len(nz) != x.Sparsity().NNZ() {
		panic(fmt.Sprintf("mx: %d scatter indices for %d nonzeros", len(nz), x.Sparsity().NNZ()))
	}
	for _, i := range nz {
		if i < 0 || i >= y.Sparsity().NNZ() {
			panic(fmt.Sprintf("mx: scatter index %d out of %d nonzeros", i, y.Sparsity().NNZ()))
		}
	}
	return Expr{node: &setNonzerosNode{
		baseNode: baseNode{deps: []Expr{y, x}, sp: []*sparsity.Pattern{y.Sparsity()}},
		nz:       append([]int(nil), nz...),
		add:      add,
	}}
}

// SetNZ overwrites nonzeros of y at the given indices with the
// nonzeros of x.
func SetNZ(y, x Expr, nz []int) Expr { return newSetNonzeros(y, x, nz, false) }

// AddNZ accumulates the nonzeros of x into nonzeros of y at the given
// indices.
func AddNZ(y, x Expr, nz []int) Expr { return newSetNonzeros(y, x, nz, true) }

func (n *setNonzerosNode) Op() ops.Op {
	if n.add {
		return ops.AddNonzeros
	}
	return ops.SetNonzeros
}

func (n *setNonzerosNode) NumInplace() int { return 1 }

func (n *setNonzerosNode) EvalNumeric(arg, res []*DM, iw []int, rw []float64) error {
	if res[0] != arg[0] {
		res[0].SetFrom(arg[0])
	}
	for j, i := range n.nz {
		if n.add {
			res[0].nz[i] += arg[1].nz[j]
		} else {
			res[0].nz[i] = arg[1].nz[j]
		}
	}
	return nil
}

func (n *setNonzerosNode) PropagateSparsity(arg, res [][]uint64, iw []int, rw []float64, forward bool) {
	y, x, out := arg[0], arg[1], res[0]
	aliased := len(out) > 0 && len(y) > 0 && &out[0] == &y[0]
	if forward {
		if !aliased {
			copy(out, y)
		}
		for j, i := range n.nz {
			if n.add {
				out[i] |= x[j]
			} else {
				out[i] = x[j]
			}
		}
		return
	}
	// Reverse: the scattered positions feed x; with overwrite semantics
	// they carry nothing back to y.
	for j, i := range n.nz {
		x[j] |= out[i]
		if !n.add {
			out[i] = 0
		}
	}
	if !aliased {
		for k := range out {
			y[k] |= out[k]
			out[k] = 0
		}
	}
}

func (n *setNonzerosNode) EvalSym(arg, res []*Expr, fseed, fsens, aseed, asens [][]*Expr, outputGiven bool) error {
	y, x := *arg[0], *arg[1]
	if !outputGiven {
		*res[0] = newSetNonzeros(y, x, n.nz, n.add)
	}
	ysp := n.sp[0]
	xsp := n.deps[1].Sparsity()
	for d := range fseed {
		ys := *fseed[d][0]
		if ys.IsZero() {
			ys = zeroConst(ysp)
		} else {
			ys = projectTo(ys, ysp)
		}
		xs := *fseed[d][1]
		if xs.IsZero() {
			xs = zeroConst(xsp)
		} else {
			xs = projectTo(xs, xsp)
		}
		*fsens[d][0] = newSetNonzeros(ys, xs, n.nz, n.add)
	}
	for d := range aseed {
		seed := *aseed[d][0]
		*aseed[d][0] = Zeros(ysp.NRow(), ysp.NCol())
		if seed.IsZero() {
			continue
		}
		seed = projectTo(seed, ysp)
		*asens[d][1] = addToSum(*asens[d][1], GetNZ(seed, xsp, n.nz))
		if n.add {
			*asens[d][0] = addToSum(*asens[d][0], seed)
		} else {
			*asens[d][0] = addToSum(*asens[d][0], newSetNonzeros(seed, zeroConst(xsp), n.nz, false))
		}
	}
	return nil
}

func (n *setNonzerosNode) EvalScalar(arg, res []*sx.Matrix) error {
	nz := append([]sx.Expr(nil), arg[0].Nonzeros()...)
	for j, i := range n.nz {
		if n.add {
			nz[i] = nz[i].Add(arg[1].Nonzeros()[j])
		} else {
			nz[i] = arg[1].Nonzeros()[j]
		}
	}
	*res[0] = sx.NewMatrix(n.sp[0], nz)
	return nil
}

func (n *setNonzerosNode) GenerateOp(w io.Writer, arg, res []string) error {
	if arg[0] != res[0] {
		for k := 0; k < n.sp[0].NNZ(); k++ {
			fmt.Fprintf(w, "  %s[%d]=%s[%d];\n", res[0], k, arg[0], k)
		}
	}
	op := "="
	if n.add {
		op = "+="
	}
	for j, i := range n.nz {
		fmt.Fprintf(w, "  %s[%d]%s%s[%d];\n", res[0], i, op, arg[1], j)
	}
	return nil
}

func (n *setNonzerosNode) PrintPart(w io.Writer, part int) {
	if part == 1 {
		if n.add {
			fmt.Fprintf(w, "[%v]+=", n.nz)
		} else {
			fmt.Fprintf(w, "[%v]=", n.nz)
		}
	}
}

// transposeNode permutes nonzeros into the transposed pattern.
type transposeNode struct {
	baseNode
	mapping []int // result nonzero k comes from dependency nonzero mapping[k]
}

// T returns the transpose of e.
func (e Expr) T() Expr {
	if e.IsZero() {
		return Zeros(e.NCol(), e.NRow())
	}
	sp, mapping := e.Sparsity().T()
	return Expr{node: &transposeNode{
		baseNode: baseNode{deps: []Expr{e}, sp: []*sparsity.Pattern{sp}},
		mapping:  mapping,
	}}
}

func (n *transposeNode) Op() ops.Op { return ops.Transpose }

func (n *transposeNode) EvalNumeric(arg, res []*DM, iw []int, rw []float64) error {
	for k, i := range n.mapping {
		res[0].nz[k] = arg[0].nz[i]
	}
	return nil
}

func (n *transposeNode) PropagateSparsity(arg, res [][]uint64, iw []int, rw []float64, forward bool) {
	if forward {
		for k, i := range n.mapping {
			res[0][k] = arg[0][i]
		}
		return
	}
	for k, i := range n.mapping {
		arg[0][i] |= res[0][k]
		res[0][k] = 0
	}
}

func (n *transposeNode) EvalSym(arg, res []*Expr, fseed, fsens, aseed, asens [][]*Expr, outputGiven bool) error {
	if !outputGiven {
		*res[0] = (*arg[0]).T()
	}
	for d := range fseed {
		*fsens[d][0] = (*fseed[d][0]).T()
	}
	for d := range aseed {
		seed := *aseed[d][0]
		*aseed[d][0] = Zeros(n.sp[0].NRow(), n.sp[0].NCol())
		if seed.IsZero() {
			continue
		}
		*asens[d][0] = addToSum(*asens[d][0], seed.T())
	}
	return nil
}

func (n *transposeNode) EvalScalar(arg, res []*sx.Matrix) error {
	nz := make([]sx.Expr, len(n.mapping))
	for k, i := range n.mapping {
		nz[k] = arg[0].Nonzeros()[i]
	}
	*res[0] = sx.NewMatrix(n.sp[0], nz)
	return nil
}

func (n *transposeNode) GenerateOp(w io.Writer, arg, res []string) error {
	for k, i := range n.mapping {
		fmt.Fprintf(w, "  %s[%d]=%s[%d];\n", res[0], k, arg[0], i)
	}
	return nil
}

func (n *transposeNode) PrintPart(w io.Writer, part int) {
	if part == 0 {
		io.WriteString(w, "trans(")
	} else {
		io.WriteString(w, ")")
	}
}

// liftNode marks an expression for lifting: numerically the identity on
// its first dependency, carrying an initial guess as its second. The
// lifting-function generator turns these nodes into intermediate
// variables.
type liftNode struct {
	baseNode
}

// Lift marks x as a lifted intermediate with the given initial guess.
func Lift(x, init Expr) Expr {
	return Expr{node: &liftNode{
		baseNode: baseNode{deps: []Expr{x, init}, sp: []*sparsity.Pattern{x.Sparsity()}},
	}}
}

func (n *liftNode) Op() ops.Op { return ops.Lift }

func (n *liftNode) EvalNumeric(arg, res []*DM, iw []int, rw []float64) error {
	res[0].SetFrom(arg[0])
	return nil
}

func (n *liftNode) PropagateSparsity(arg, res [][]uint64, iw []int, rw []float64, forward bool) {
	if forward {
		copy(res[0], arg[0])
		return
	}
	for k := range res[0] {
		arg[0][k] |= res[0][k]
		res[0][k] = 0
	}
}

func (n *liftNode) EvalSym(arg, res []*Expr, fseed, fsens, aseed, asens [][]*Expr, outputGiven bool) error {
	if !outputGiven {
		*res[0] = Lift(*arg[0], *arg[1])
	}
	for d := range fseed {
		*fsens[d][0] = *fseed[d][0]
	}
	for d := range aseed {
		seed := *aseed[d][0]
		*aseed[d][0] = Zeros(n.sp[0].NRow(), n.sp[0].NCol())
		if seed.IsZero() {
			continue
		}
		*asens[d][0] = addToSum(*asens[d][0], seed)
	}
	return nil
}

func (n *liftNode) EvalScalar(arg, res []*sx.Matrix) error {
	*res[0] = *arg[0]
	return nil
}

func (n *liftNode) GenerateOp(w io.Writer, arg, res []string) error {
	for k := 0; k < n.sp[0].NNZ(); k++ {
		fmt.Fprintf(w, "  %s[%d]=%s[%d];\n", res[0], k, arg[0], k)
	}
	return nil
}

func (n *liftNode) PrintPart(w io.Writer, part int) {
	switch part {
	case 0:
		io.WriteString(w, "lift(")
	case 1:
		io.WriteString(w, ", ")
	default:
		io.WriteString(w, ")")
	}
}
