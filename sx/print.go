package sx

import (
	"fmt"
	"io"
	"strings"

	"github.com/symflow/symflow/ops"
)

// recordString renders one tape record in dump form. pIt iterates over
// the free variables, consumed by PARAMETER records in tape order.
func (f *Function) recordString(it *algEl, pIt *int) string {
	var b strings.Builder
	switch it.op {
	case ops.Output:
		fmt.Fprintf(&b, "output[%d][%d] = @%d", it.i0, it.i2, it.i1)
	case ops.Input:
		fmt.Fprintf(&b, "@%d = input[%d][%d]", it.i0, it.i1, it.i2)
	case ops.Const:
		fmt.Fprintf(&b, "@%d = %g", it.i0, it.d)
	case ops.Parameter:
		fmt.Fprintf(&b, "@%d = %s", it.i0, f.freeVars[*pIt])
		(*pIt)++
	default:
		fmt.Fprintf(&b, "@%d = %s@%d", it.i0, ops.Pre(it.op), it.i1)
		if it.op.NDeps() > 1 {
			fmt.Fprintf(&b, "%s@%d", ops.Sep(it.op), it.i2)
		}
		b.WriteString(ops.Post(it.op))
	}
	return b.String()
}

// Print writes a readable dump of the compiled tape, one instruction
// per line.
func (f *Function) Print(w io.Writer) error {
	if err := f.assertInit(); err != nil {
		return err
	}
	pIt := 0
	for i := range f.alg {
		if _, err := fmt.Fprintf(w, "%s;\n", f.recordString(&f.alg[i], &pIt)); err != nil {
			return err
		}
	}
	return nil
}
