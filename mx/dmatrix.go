// Package mx implements the matrix expression layer: operator-node
// graphs over sparse matrix-valued operands, compiled into a linear
// instruction tape evaluated numerically, over sparsity bit-masks, or
// symbolically for forward and reverse algorithmic differentiation.
package mx

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/symflow/symflow/sparsity"
)

// DM is a numeric matrix of a declared sparsity: one float64 per
// structural nonzero, column-major. Work-array slots, input buffers and
// output buffers are all DMs.
type DM struct {
	sp *sparsity.Pattern
	nz []float64
}

// NewDM returns a zero-valued matrix with the given pattern.
func NewDM(sp *sparsity.Pattern) *DM {
	return &DM{sp: sp, nz: make([]float64, sp.NNZ())}
}

// DenseDM builds a dense matrix from column-major values.
func DenseDM(nrow, ncol int, values []float64) *DM {
	sp := sparsity.Dense(nrow, ncol)
	if len(values) != sp.NNZ() {
		panic(fmt.Sprintf("mx: %d values for %v", len(values), sp))
	}
	return &DM{sp: sp, nz: append([]float64(nil), values...)}
}

// ScalarDM builds a dense 1-by-1 matrix.
func ScalarDM(v float64) *DM {
	return &DM{sp: sparsity.Scalar(), nz: []float64{v}}
}

// Sparsity returns the declared pattern.
func (d *DM) Sparsity() *sparsity.Pattern { return d.sp }

// Nonzeros returns the nonzero storage. Mutations are visible to the
// owner of the matrix.
func (d *DM) Nonzeros() []float64 { return d.nz }

// At returns the value of element (r, c), zero when structurally absent.
func (d *DM) At(r, c int) float64 {
	if k := d.sp.Index(r, c); k >= 0 {
		return d.nz[k]
	}
	return 0
}

// SetFrom copies src into d, projecting by position: each nonzero of d
// takes the value at the same (row, column) of src, or zero when src is
// structurally zero there. The patterns may differ as long as the
// dimensions agree; d's pattern may be a structural superset of src's.
func (d *DM) SetFrom(src *DM) {
	if d.sp == src.sp {
		copy(d.nz, src.nz)
		return
	}
	if d.sp.NRow() != src.sp.NRow() || d.sp.NCol() != src.sp.NCol() {
		panic(fmt.Sprintf("mx: SetFrom %v into %v", src.sp, d.sp))
	}
	rows := d.sp.Rows()
	colind := d.sp.ColInd()
	for c := 0; c < d.sp.NCol(); c++ {
		for k := colind[c]; k < colind[c+1]; k++ {
			d.nz[k] = src.At(rows[k], c)
		}
	}
}

// Fill sets every nonzero to v.
func (d *DM) Fill(v float64) {
	for i := range d.nz {
		d.nz[i] = v
	}
}

// Dense expands the matrix to dense gonum storage.
func (d *DM) Dense() *mat.Dense {
	m := mat.NewDense(d.sp.NRow(), d.sp.NCol(), nil)
	rows := d.sp.Rows()
	colind := d.sp.ColInd()
	for c := 0; c < d.sp.NCol(); c++ {
		for k := colind[c]; k < colind[c+1]; k++ {
			m.Set(rows[k], c, d.nz[k])
		}
	}
	return m
}

// ProjectDense gathers d's structural nonzeros from dense gonum storage.
func (d *DM) ProjectDense(m mat.Matrix) {
	rows := d.sp.Rows()
	colind := d.sp.ColInd()
	for c := 0; c < d.sp.NCol(); c++ {
		for k := colind[c]; k < colind[c+1]; k++ {
			d.nz[k] = m.At(rows[k], c)
		}
	}
}

// Clone returns an independent copy.
func (d *DM) Clone() *DM {
	return &DM{sp: d.sp, nz: append([]float64(nil), d.nz...)}
}

func (d *DM) String() string {
	return fmt.Sprintf("DM(%v, %v)", d.sp, d.nz)
}
