// Package compiler holds the graph-to-tape machinery shared by the
// scalar and matrix expression layers: depth-first topological sorting
// and the per-sparsity free-slot stacks used by the liveness allocator.
package compiler

import "github.com/symflow/symflow/sparsity"

// PostOrder appends to *out the transitive dependencies of root in
// depth-first post-order, followed by root itself, skipping nodes
// already present in seen. The traversal uses an explicit stack so deep
// graphs cannot overflow the goroutine stack.
//
// Nodes are compared by identity through the map key; N is typically a
// pointer or an interface holding one.
func PostOrder[N comparable](root N, ndep func(N) int, dep func(N, int) N, seen map[N]bool, out *[]N) {
	if seen[root] {
		return
	}
	// Parallel stacks: the node and the index of its next unvisited
	// dependency.
	stack := []N{root}
	next := []int{0}
	for len(stack) > 0 {
		top := len(stack) - 1
		n := stack[top]
		if next[top] == 0 && seen[n] {
			// Pushed twice before being finished; already emitted.
			stack = stack[:top]
			next = next[:top]
			continue
		}
		if next[top] < ndep(n) {
			c := dep(n, next[top])
			next[top]++
			if !seen[c] {
				stack = append(stack, c)
				next = append(next, 0)
			}
			continue
		}
		seen[n] = true
		*out = append(*out, n)
		stack = stack[:top]
		next = next[:top]
	}
}

// FreeStacks is a collection of LIFO stacks of freed work-array slots,
// one per sparsity pattern. Slot reuse only pairs a new result with a
// freed slot whose pattern is pointer-identical, so each slot keeps one
// declared shape for the lifetime of a compilation.
type FreeStacks struct {
	stacks map[*sparsity.Pattern][]int
}

// NewFreeStacks returns an empty collection.
func NewFreeStacks() *FreeStacks {
	return &FreeStacks{stacks: map[*sparsity.Pattern][]int{}}
}

// Push records slot as free for reuse under the given pattern.
func (f *FreeStacks) Push(sp *sparsity.Pattern, slot int) {
	f.stacks[sp] = append(f.stacks[sp], slot)
}

// Pop returns the most recently freed slot for the pattern, or -1 when
// none is available. LIFO order maximises cache locality.
func (f *FreeStacks) Pop(sp *sparsity.Pattern) int {
	s := f.stacks[sp]
	if len(s) == 0 {
		return -1
	}
	slot := s[len(s)-1]
	f.stacks[sp] = s[:len(s)-1]
	return slot
}
