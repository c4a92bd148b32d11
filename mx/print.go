package mx

import (
	"fmt"
	"io"
	"strings"

	"github.com/symflow/symflow/ops"
)

// recordString renders one tape record in dump form: slots as @N,
// null sentinels as NULL, multiple results in braces.
func (f *Function) recordString(it *algEl) string {
	var b strings.Builder
	switch {
	case it.op == ops.Output:
		fmt.Fprintf(&b, "output[%d] = @%d", it.res[0], it.arg[0])
	case it.op == ops.SetNonzeros || it.op == ops.AddNonzeros:
		if it.res[0] != it.arg[0] {
			fmt.Fprintf(&b, "@%d = @%d; ", it.res[0], it.arg[0])
		}
		fmt.Fprintf(&b, "@%d", it.res[0])
		it.node.PrintPart(&b, 1)
		fmt.Fprintf(&b, "@%d", it.arg[1])
	default:
		if len(it.res) == 1 {
			fmt.Fprintf(&b, "@%d = ", it.res[0])
		} else {
			b.WriteString("{")
			for i, r := range it.res {
				if i != 0 {
					b.WriteString(", ")
				}
				if r >= 0 {
					fmt.Fprintf(&b, "@%d", r)
				} else {
					b.WriteString("NULL")
				}
			}
			b.WriteString("} = ")
		}
		if it.op == ops.Input {
			fmt.Fprintf(&b, "input[%d]", it.arg[0])
		} else {
			it.node.PrintPart(&b, 0)
			for i, a := range it.arg {
				if a >= 0 {
					fmt.Fprintf(&b, "@%d", a)
				} else {
					b.WriteString("NULL")
				}
				it.node.PrintPart(&b, i+1)
			}
		}
	}
	return b.String()
}

// Print writes a readable dump of the compiled tape, one instruction
// per line.
func (f *Function) Print(w io.Writer) error {
	if err := f.assertInit(); err != nil {
		return err
	}
	for i := range f.alg {
		if _, err := fmt.Fprintf(w, "%s\n", f.recordString(&f.alg[i])); err != nil {
			return err
		}
	}
	return nil
}

// PrintWork writes the current numeric contents of the work array.
func (f *Function) PrintWork(w io.Writer) error {
	if err := f.assertInit(); err != nil {
		return err
	}
	for k, d := range f.work {
		if _, err := fmt.Fprintf(w, "work[%d] = %v\n", k, d.nz); err != nil {
			return err
		}
	}
	return nil
}
