package sparsity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInterning(t *testing.T) {
	a := Dense(2, 3)
	b := Dense(2, 3)
	if a != b {
		t.Fatal("structurally equal patterns are not interned to one pointer")
	}

	c := New(3, 1, []int{0, 2}, []int{0, 2})
	d := New(3, 1, []int{0, 2}, []int{0, 2})
	if c != d {
		t.Fatal("sparse patterns are not interned")
	}
	if a == (*Pattern)(nil) || a == c {
		t.Fatal("distinct structures interned together")
	}
}

func TestBasicQueries(t *testing.T) {
	p := New(3, 2, []int{0, 2, 3}, []int{0, 2, 1})

	assert.Equal(t, 3, p.NRow())
	assert.Equal(t, 2, p.NCol())
	assert.Equal(t, 3, p.NNZ())
	assert.Equal(t, 6, p.Numel())
	assert.False(t, p.IsDense())
	assert.False(t, p.IsEmpty())

	// Nonzeros are (0,0), (2,0), (1,1) in column-major order.
	assert.Equal(t, 0, p.Index(0, 0))
	assert.Equal(t, 1, p.Index(2, 0))
	assert.Equal(t, 2, p.Index(1, 1))
	assert.Equal(t, -1, p.Index(1, 0))
	assert.Equal(t, 0, p.Col(0))
	assert.Equal(t, 1, p.Col(2))
	assert.Equal(t, 4, p.ElementIndex(2)) // (1,1) -> 1 + 1*3
}

func TestDenseAndScalar(t *testing.T) {
	d := Dense(2, 2)
	assert.True(t, d.IsDense())
	assert.Equal(t, 4, d.NNZ())

	s := Scalar()
	assert.True(t, s.IsScalar())

	e := Empty(4, 4)
	assert.True(t, e.IsEmpty())
	assert.Equal(t, 0, e.NNZ())
}

func TestTranspose(t *testing.T) {
	p := New(3, 2, []int{0, 2, 3}, []int{0, 2, 1})
	pt, mapping := p.T()

	assert.Equal(t, 2, pt.NRow())
	assert.Equal(t, 3, pt.NCol())
	require.Equal(t, p.NNZ(), pt.NNZ())

	// Every transposed nonzero maps back to its source.
	for k := 0; k < pt.NNZ(); k++ {
		r, c := pt.Row(k), pt.Col(k)
		assert.Equal(t, mapping[k], p.Index(c, r), "nonzero %d", k)
	}
}

func TestUnion(t *testing.T) {
	a := New(3, 1, []int{0, 2}, []int{0, 2})
	b := New(3, 1, []int{0, 2}, []int{1, 2})
	u, ma, mb := Union(a, b)

	require.Equal(t, 3, u.NNZ())
	assert.Equal(t, []int{0, 1, 2}, u.Rows())
	assert.Equal(t, []int{0, -1, 1}, ma)
	assert.Equal(t, []int{-1, 0, 1}, mb)

	// Union with itself is the identity.
	u2, ma2, mb2 := Union(a, a)
	assert.Same(t, a, u2)
	assert.Equal(t, []int{0, 1}, ma2)
	assert.Equal(t, []int{0, 1}, mb2)
}

func TestMtimes(t *testing.T) {
	// Diagonal times dense column: product keeps the column dense.
	diag := New(2, 2, []int{0, 1, 2}, []int{0, 1})
	col := Dense(2, 1)
	p := Mtimes(diag, col)
	assert.Equal(t, 2, p.NRow())
	assert.Equal(t, 1, p.NCol())
	assert.Equal(t, 2, p.NNZ())

	// Structural zeros stay zero: strictly lower triangular squared
	// has a single entry for 3x3.
	low := New(3, 3, []int{0, 2, 3, 3}, []int{1, 2, 2})
	sq := Mtimes(low, low)
	assert.Equal(t, 1, sq.NNZ())
	assert.Equal(t, 0, sq.Index(2, 0))
}
