package mx

import (
	"fmt"
	"io"

	"github.com/symflow/symflow"
	"github.com/symflow/symflow/ops"
)

// GenerateCode emits a self-contained C routine evaluating the compiled
// tape. The emitter first declares the work-array storage, one array
// per slot, then walks the tape emitting one block per record. Slot N is
// named aN inside a static work structure, inputs read from xI[j] and
// outputs written to rK[j], with every output guarded by a null check
// since outputs are optional at call sites. Per-operator emission is
// delegated to the operator node.
func (f *Function) GenerateCode(w io.Writer, fname string) error {
	if err := f.assertInit(); err != nil {
		return err
	}
	if len(f.freeVars) > 0 {
		return fmt.Errorf("cannot generate %s: variables %v are free: %w",
			fname, f.freeVars, symflow.ErrFreeVariableInEmit)
	}

	fmt.Fprint(w, "#include <math.h>\n\n")
	fmt.Fprint(w, "static double sq(double x) { return x*x; }\n")
	fmt.Fprint(w, "static double sign(double x) { return x<0 ? -1 : x>0 ? 1 : x; }\n\n")

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

	// Declare the work-array storage.
	fmt.Fprint(w, "  static struct wstruct {\n")
	for i, sp := range f.workSp {
		fmt.Fprintf(w, "    double a%d[%d];\n", i, sp.NNZ())
	}
	fmt.Fprint(w, "  } w;\n")
	fmt.Fprint(w, "  int i;\n\n")

	arg := make([]string, 0, 4)
	res := make([]string, 0, 4)
	for ai := range f.alg {
		it := &f.alg[ai]
		fmt.Fprintf(w, "  /* %d : %v */\n", ai, it.op)
		switch it.op {
		case ops.Input:
			nnz := f.in[it.arg[0]].Sparsity().NNZ()
			fmt.Fprintf(w, "  for (i=0; i<%d; ++i) w.a%d[i]=x%d[i];\n", nnz, it.res[0], it.arg[0])
		case ops.Output:
			nnz := f.out[it.res[0]].Sparsity().NNZ()
			fmt.Fprintf(w, "  if (r%d!=0) for (i=0; i<%d; ++i) r%d[i]=w.a%d[i];\n",
				it.res[0], nnz, it.res[0], it.arg[0])
		default:
			arg = arg[:0]
			for _, a := range it.arg {
				if a < 0 {
					arg = append(arg, "0")
				} else {
					arg = append(arg, fmt.Sprintf("w.a%d", a))
				}
			}
			res = res[:0]
			for _, r := range it.res {
				if r < 0 {
					res = append(res, "0")
				} else {
					res = append(res, fmt.Sprintf("w.a%d", r))
				}
			}
			if err := it.node.GenerateOp(w, arg, res); err != nil {
				return fmt.Errorf("generating %s, instruction %d: %w", fname, ai, err)
			}
		}
	}
	fmt.Fprint(w, "}\n")
	return nil
}
