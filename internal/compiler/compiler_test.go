package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/symflow/symflow/sparsity"
)

type tnode struct {
	name string
	deps []*tnode
}

func sortFrom(roots ...*tnode) []*tnode {
	var out []*tnode
	seen := map[*tnode]bool{}
	for _, r := range roots {
		PostOrder(r,
			func(n *tnode) int { return len(n.deps) },
			func(n *tnode, i int) *tnode { return n.deps[i] },
			seen, &out)
	}
	return out
}

func TestPostOrderChain(t *testing.T) {
	a := &tnode{name: "a"}
	b := &tnode{name: "b", deps: []*tnode{a}}
	c := &tnode{name: "c", deps: []*tnode{b}}

	got := sortFrom(c)
	assert.Equal(t, []*tnode{a, b, c}, got)
}

func TestPostOrderSharedSubexpression(t *testing.T) {
	x := &tnode{name: "x"}
	u := &tnode{name: "u", deps: []*tnode{x}}
	y1 := &tnode{name: "y1", deps: []*tnode{u}}
	y2 := &tnode{name: "y2", deps: []*tnode{u}}

	got := sortFrom(y1, y2)

	// u appears exactly once, before both consumers.
	count := 0
	for _, n := range got {
		if n == u {
			count++
		}
	}
	assert.Equal(t, 1, count)
	assert.Equal(t, []*tnode{x, u, y1, y2}, got)
}

func TestPostOrderDiamond(t *testing.T) {
	x := &tnode{name: "x"}
	l := &tnode{name: "l", deps: []*tnode{x}}
	r := &tnode{name: "r", deps: []*tnode{x}}
	top := &tnode{name: "top", deps: []*tnode{l, r}}

	got := sortFrom(top)
	assert.Len(t, got, 4)

	pos := map[*tnode]int{}
	for i, n := range got {
		pos[n] = i
	}
	assert.Less(t, pos[x], pos[l])
	assert.Less(t, pos[x], pos[r])
	assert.Less(t, pos[l], pos[top])
	assert.Less(t, pos[r], pos[top])
}

func TestFreeStacksLIFO(t *testing.T) {
	f := NewFreeStacks()
	sp1 := sparsity.Dense(2, 1)
	sp2 := sparsity.Dense(3, 1)

	assert.Equal(t, -1, f.Pop(sp1))

	f.Push(sp1, 0)
	f.Push(sp1, 1)
	f.Push(sp2, 2)

	// LIFO per pattern, no crosstalk between patterns.
	assert.Equal(t, 1, f.Pop(sp1))
	assert.Equal(t, 0, f.Pop(sp1))
	assert.Equal(t, -1, f.Pop(sp1))
	assert.Equal(t, 2, f.Pop(sp2))
}
