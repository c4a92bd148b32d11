// Package sparsity provides immutable, interned nonzero-pattern
// descriptors for sparse matrices in compressed column storage.
//
// Patterns are interned in a package-level registry: two structurally
// equal patterns are always the same pointer. The compiler relies on
// this, using pattern identity as the key under which freed work-array
// slots are reused.
package sparsity

import (
	"fmt"
	"strings"
	"sync"
)

// Pattern describes the nonzero structure of an nrow-by-ncol matrix in
// compressed column storage. Patterns are immutable; obtain them through
// the package constructors, which intern structurally equal patterns to
// a single pointer.
type Pattern struct {
	nrow, ncol int
	colind     []int // length ncol+1
	row        []int // row index of each nonzero, column-major
}

var (
	registryMu sync.Mutex
	registry   = map[string]*Pattern{}
)

func internKey(nrow, ncol int, colind, row []int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%dx%d;", nrow, ncol)
	for _, c := range colind {
		fmt.Fprintf(&b, "%d,", c)
	}
	b.WriteByte(';')
	for _, r := range row {
		fmt.Fprintf(&b, "%d,", r)
	}
	return b.String()
}

// New returns the interned pattern with the given structure. The colind
// and row slices are copied; callers keep ownership of their arguments.
func New(nrow, ncol int, colind, row []int) *Pattern {
	if len(colind) != ncol+1 {
		panic(fmt.Sprintf("sparsity: colind has length %d, want %d", len(colind), ncol+1))
	}
	if colind[ncol] != len(row) {
		panic(fmt.Sprintf("sparsity: colind[%d]=%d does not match %d nonzeros", ncol, colind[ncol], len(row)))
	}
	key := internKey(nrow, ncol, colind, row)

	registryMu.Lock()
	defer registryMu.Unlock()
	if p, ok := registry[key]; ok {
		return p
	}
	p := &Pattern{
		nrow:   nrow,
		ncol:   ncol,
		colind: append([]int(nil), colind...),
		row:    append([]int(nil), row...),
	}
	registry[key] = p
	return p
}

// Dense returns the pattern of a fully dense nrow-by-ncol matrix.
func Dense(nrow, ncol int) *Pattern {
	colind := make([]int, ncol+1)
	row := make([]int, nrow*ncol)
	for c := 0; c < ncol; c++ {
		colind[c+1] = (c + 1) * nrow
		for r := 0; r < nrow; r++ {
			row[c*nrow+r] = r
		}
	}
	return New(nrow, ncol, colind, row)
}

// Scalar returns the dense 1-by-1 pattern.
func Scalar() *Pattern { return Dense(1, 1) }

// Empty returns the nrow-by-ncol pattern with no nonzeros.
func Empty(nrow, ncol int) *Pattern {
	return New(nrow, ncol, make([]int, ncol+1), nil)
}

// NRow returns the number of rows.
func (p *Pattern) NRow() int { return p.nrow }

// NCol returns the number of columns.
func (p *Pattern) NCol() int { return p.ncol }

// NNZ returns the number of structural nonzeros.
func (p *Pattern) NNZ() int { return len(p.row) }

// Numel returns the total number of matrix elements, nrow*ncol.
func (p *Pattern) Numel() int { return p.nrow * p.ncol }

// IsDense reports whether every element is structurally nonzero.
func (p *Pattern) IsDense() bool { return len(p.row) == p.nrow*p.ncol }

// IsScalar reports whether the pattern is dense 1-by-1.
func (p *Pattern) IsScalar() bool { return p.nrow == 1 && p.ncol == 1 && p.IsDense() }

// IsEmpty reports whether the pattern has no structural nonzeros.
func (p *Pattern) IsEmpty() bool { return len(p.row) == 0 }

// ColInd returns the column offsets. Callers must not modify it.
func (p *Pattern) ColInd() []int { return p.colind }

// Rows returns the row index of each nonzero. Callers must not modify it.
func (p *Pattern) Rows() []int { return p.row }

// Col returns the column of nonzero k.
func (p *Pattern) Col(k int) int {
	for c := 0; c < p.ncol; c++ {
		if k < p.colind[c+1] {
			return c
		}
	}
	panic(fmt.Sprintf("sparsity: nonzero index %d out of range", k))
}

// Row returns the row of nonzero k.
func (p *Pattern) Row(k int) int { return p.row[k] }

// Index returns the nonzero index of element (r, c), or -1 if the
// element is structurally zero.
func (p *Pattern) Index(r, c int) int {
	for k := p.colind[c]; k < p.colind[c+1]; k++ {
		if p.row[k] == r {
			return k
		}
	}
	return -1
}

// ElementIndex returns the column-major element index of nonzero k,
// r + c*nrow. Used when mapping nonzeros into dense storage.
func (p *Pattern) ElementIndex(k int) int {
	return p.row[k] + p.Col(k)*p.nrow
}

// T returns the transposed pattern and, for each nonzero of the result,
// the index of the corresponding nonzero in p.
func (p *Pattern) T() (*Pattern, []int) {
	nnz := p.NNZ()
	colind := make([]int, p.nrow+1)
	row := make([]int, nnz)
	mapping := make([]int, nnz)

	// Count entries per result column (= rows of p).
	for _, r := range p.row {
		colind[r+1]++
	}
	for c := 0; c < p.nrow; c++ {
		colind[c+1] += colind[c]
	}
	fill := append([]int(nil), colind...)
	for c := 0; c < p.ncol; c++ {
		for k := p.colind[c]; k < p.colind[c+1]; k++ {
			r := p.row[k]
			pos := fill[r]
			fill[r]++
			row[pos] = c
			mapping[pos] = k
		}
	}
	return New(p.ncol, p.nrow, colind, row), mapping
}

// Union returns the interned pattern containing the nonzeros of both a
// and b (which must have equal dimensions), together with two mappings
// giving, for each nonzero of the union, the corresponding nonzero
// index in a and in b, or -1 where absent.
func Union(a, b *Pattern) (u *Pattern, mapA, mapB []int) {
	if a.nrow != b.nrow || a.ncol != b.ncol {
		panic(fmt.Sprintf("sparsity: union of %dx%d and %dx%d", a.nrow, a.ncol, b.nrow, b.ncol))
	}
	if a == b {
		ident := make([]int, a.NNZ())
		for k := range ident {
			ident[k] = k
		}
		return a, ident, ident
	}
	colind := make([]int, a.ncol+1)
	var row, ma, mb []int
	for c := 0; c < a.ncol; c++ {
		ka, kb := a.colind[c], b.colind[c]
		for ka < a.colind[c+1] || kb < b.colind[c+1] {
			var r int
			ia, ib := -1, -1
			switch {
			case kb >= b.colind[c+1] || (ka < a.colind[c+1] && a.row[ka] < b.row[kb]):
				r, ia = a.row[ka], ka
				ka++
			case ka >= a.colind[c+1] || b.row[kb] < a.row[ka]:
				r, ib = b.row[kb], kb
				kb++
			default: // equal rows
				r, ia, ib = a.row[ka], ka, kb
				ka++
				kb++
			}
			row = append(row, r)
			ma = append(ma, ia)
			mb = append(mb, ib)
		}
		colind[c+1] = len(row)
	}
	return New(a.nrow, a.ncol, colind, row), ma, mb
}

// Mtimes returns the structural pattern of the matrix product a*b.
func Mtimes(a, b *Pattern) *Pattern {
	if a.ncol != b.nrow {
		panic(fmt.Sprintf("sparsity: product of %dx%d and %dx%d", a.nrow, a.ncol, b.nrow, b.ncol))
	}
	colind := make([]int, b.ncol+1)
	var row []int
	hit := make([]bool, a.nrow)
	for j := 0; j < b.ncol; j++ {
		for i := range hit {
			hit[i] = false
		}
		for kb := b.colind[j]; kb < b.colind[j+1]; kb++ {
			l := b.row[kb]
			for ka := a.colind[l]; ka < a.colind[l+1]; ka++ {
				hit[a.row[ka]] = true
			}
		}
		for i := 0; i < a.nrow; i++ {
			if hit[i] {
				row = append(row, i)
			}
		}
		colind[j+1] = len(row)
	}
	return New(a.nrow, b.ncol, colind, row)
}

// String returns a compact description like "3x3,nnz=5" or "2x2,dense".
func (p *Pattern) String() string {
	if p.IsDense() {
		return fmt.Sprintf("%dx%d,dense", p.nrow, p.ncol)
	}
	return fmt.Sprintf("%dx%d,nnz=%d", p.nrow, p.ncol, p.NNZ())
}
