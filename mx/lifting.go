package mx

import (
	"fmt"

	"github.com/symflow/symflow"
	"github.com/symflow/symflow/ops"
)

// GenerateLiftingFunctions splits the lifted intermediates out of the
// function: it returns a definition function mapping the original
// inputs plus fresh intermediate symbols to the original outputs plus
// the defining expressions of the intermediates, and an initialization
// function mapping the inputs to the initial guesses carried by the
// lift markers.
func (f *Function) GenerateLiftingFunctions() (vdef, vinit *Function, err error) {
	if err := f.assertInit(); err != nil {
		return nil, nil, err
	}

	swork := make([]Expr, len(f.work))

	var y []Expr     // intermediate variables
	var g []Expr     // their definitions
	var xInit []Expr // their initial guesses
	fG := make([]Expr, len(f.out))

	inputP := make([]*Expr, 0, 4)
	outputP := make([]*Expr, 0, 4)
	for algNo := 0; algNo < 2; algNo++ {
		for ai := range f.alg {
			it := &f.alg[ai]
			switch it.op {
			case ops.Lift:
				argE := swork[it.arg[0]]
				argInit := swork[it.arg[1]]
				switch algNo {
				case 0:
					yi := Sym(fmt.Sprintf("y%d", len(y)), argE.Sparsity())
					y = append(y, yi)
					g = append(g, argE)
					swork[it.res[0]] = yi
				case 1:
					xInit = append(xInit, argInit)
					swork[it.res[0]] = argInit
				}
			case ops.Input:
				swork[it.res[0]] = f.in[it.arg[0]]
			case ops.Parameter:
				swork[it.res[0]] = Expr{node: it.node}
			case ops.Output:
				if algNo == 0 {
					fG[it.res[0]] = swork[it.arg[0]]
				}
			default:
				inputP = inputP[:0]
				for _, el := range it.arg {
					if el < 0 {
						inputP = append(inputP, nil)
					} else {
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
				if err := it.node.EvalSym(inputP, outputP, nil, nil, nil, nil, false); err != nil {
					return nil, nil, fmt.Errorf("lifting %s, instruction %d: %w", f.opts.Name, ai, err)
				}
			}
		}
	}

	if len(y) == 0 {
		return nil, nil, fmt.Errorf("%s has no lifted intermediates: %w",
			f.opts.Name, symflow.ErrOperatorUnsupported)
	}

	fIn := append(append([]Expr{}, f.in...), y...)
	fOut := append(append([]Expr{}, fG...), g...)
	vdefOpts := f.opts
	vdefOpts.Name = "lifting_variable_definition"
	vdef, err = New(fIn, fOut, vdefOpts)
	if err != nil {
		return nil, nil, err
	}

	vinitOpts := f.opts
	vinitOpts.Name = "lifting_variable_guess"
	vinit, err = New(append([]Expr{}, f.in...), xInit, vinitOpts)
	if err != nil {
		return nil, nil, err
	}
	return vdef, vinit, nil
}
