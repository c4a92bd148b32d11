package sx

import (
	"fmt"
	"io"

	"github.com/symflow/symflow"
	"github.com/symflow/symflow/ops"
)

// GenerateCode emits a self-contained C routine evaluating the compiled
// tape. Work slots become local variables aN, inputs are read from
// xI[j] and outputs, when their pointers are non-null, written to
// rK[j]. Fails when free variables remain.
func (f *Function) GenerateCode(w io.Writer, fname string) error {
	if err := f.assertInit(); err != nil {
		return err
	}
	if len(f.freeVars) > 0 {
		return fmt.Errorf("cannot generate %s: variables %v are free: %w",
			fname, f.freeVars, symflow.ErrFreeVariableInEmit)
	}

	fmt.Fprint(w, "#include <math.h>\n\n")

	// Auxiliary helpers used by the operator print templates.
	fmt.Fprintf(w, "static double sq(double x) { return x*x; }\n")
	fmt.Fprintf(w, "static double sign(double x) { return x<0 ? -1 : x>0 ? 1 : x; }\n\n")

	fmt.Fprintf(w, "void %s(", fname)
	for i := range f.in {
		if i > 0 {
			fmt.Fprint(w, ", ")
		}
		fmt.Fprintf(w, "const double* x%d", i)
	}
	for k := range f.out {
		if len(f.in) > 0 || k > 0 {
			fmt.Fprint(w, ", ")
		}
		fmt.Fprintf(w, "double* r%d", k)
	}
	fmt.Fprint(w, ") {\n")

	declared := make([]bool, f.worksize)
	for i := range f.alg {
		it := &f.alg[i]
		fmt.Fprint(w, "  ")
		if it.op == ops.Output {
			fmt.Fprintf(w, "if (r%d!=0) r%d[%d]=a%d", it.i0, it.i0, it.i2, it.i1)
		} else {
			if !declared[it.i0] {
				fmt.Fprint(w, "double ")
				declared[it.i0] = true
			}
			fmt.Fprintf(w, "a%d=", it.i0)
			switch it.op {
			case ops.Const:
				fmt.Fprintf(w, "%g", it.d)
			case ops.Input:
				fmt.Fprintf(w, "x%d[%d]", it.i1, it.i2)
			default:
				fmt.Fprintf(w, "%sa%d", ops.Pre(it.op), it.i1)
				if it.op.NDeps() > 1 {
					fmt.Fprintf(w, "%sa%d", ops.Sep(it.op), it.i2)
				}
				fmt.Fprint(w, ops.Post(it.op))
			}
		}
		fmt.Fprint(w, ";\n")
	}
	fmt.Fprint(w, "}\n")
	return nil
}
