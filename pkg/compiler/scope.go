package compiler

import (
	"container/heap"

	"github.com/kristofer/smog/pkg/value"
)

// intMinHeap is a binary min-heap of freed register indices, giving
// O(log n) get-min/delete-min so register reuse is biased toward low
// indices and frame sizes stay tight across branchy code (spec.md §4.3,
// §9's "Open question" resolves in favor of the min-heap variant over a
// LIFO stack).
type intMinHeap []int

func (h intMinHeap) Len() int            { return len(h) }
func (h intMinHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h intMinHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *intMinHeap) Push(x interface{}) { *h = append(*h, x.(int)) }
func (h *intMinHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// literalPool is the per-function-scope constant table. Looking a value
// up returns its cached index; a miss appends and records a new index
// (spec.md §4.3). It is keyed by hash with linear chain comparison
// rather than a plain Go map, since Value's general equality (alias-
// collapsing strings, structural numbers) isn't Go's map equality.
type literalPool struct {
	items   []value.Value
	buckets map[uint32][]int
}

func newLiteralPool() *literalPool {
	return &literalPool{buckets: make(map[uint32][]int)}
}

// Add returns v's index in the pool, reusing an existing entry if one
// compares equal.
func (p *literalPool) Add(v value.Value) int {
	h := value.Hash(v)
	for _, idx := range p.buckets[h] {
		existing := p.items[idx]
		if value.Equal(&existing, &v) {
			return idx
		}
	}
	idx := len(p.items)
	p.items = append(p.items, v)
	p.buckets[h] = append(p.buckets[h], idx)
	return idx
}

// Scope is one node in the compiler's lexical scope chain, innermost at
// the tail (spec.md §4.3).
type Scope struct {
	level        int // function-nesting depth
	nextLocal    int
	frameSize    int // high-water mark, rolled up from popped children
	freeHeap     *intMinHeap
	literals     *literalPool
	locals       map[string]int
	parent       *Scope
	sameFunction bool // false marks a function-boundary scope
	freed        map[int]bool
}

// PushScope creates a child scope. When sameFunction is true the child
// is a lexical block inside the same function and inherits nextLocal,
// the literal pool, and the freed-register heap from its parent; when
// false it starts a fresh function frame with its own register numbering
// and literal pool (spec.md §4.3).
func PushScope(parent *Scope, sameFunction bool) *Scope {
	s := &Scope{
		locals:       make(map[string]int),
		parent:       parent,
		sameFunction: sameFunction,
		freed:        make(map[int]bool),
	}
	if parent == nil {
		s.literals = newLiteralPool()
		s.freeHeap = &intMinHeap{}
		return s
	}
	s.level = parent.level
	if sameFunction {
		s.nextLocal = parent.nextLocal
		s.literals = parent.literals
		s.freeHeap = parent.freeHeap
		s.freed = parent.freed
	} else {
		s.level = parent.level + 1
		s.literals = newLiteralPool()
		s.freeHeap = &intMinHeap{}
	}
	return s
}

// FrameSize reports the scope's rolled-up high-water register count:
// max(frameSize, nextLocal). This is the value finalize-funcdef uses for
// a function's locals count (spec.md §9's second Open question: use the
// rolled-up high-water mark, not the raw nextLocal snapshot, since inner
// blocks may have used more registers than nextLocal shows at the point
// the function scope itself is popped).
func (s *Scope) FrameSize() int {
	if s.nextLocal > s.frameSize {
		return s.nextLocal
	}
	return s.frameSize
}

// PopScope rolls this scope's FrameSize() up into its parent — but only
// across a same-function pop; a function-boundary scope's register
// count is specific to that function and must not inflate an unrelated
// enclosing frame's size (spec.md §4.3).
func PopScope(s *Scope) *Scope {
	if s.sameFunction && s.parent != nil {
		rolled := s.FrameSize()
		if rolled > s.parent.frameSize {
			s.parent.frameSize = rolled
		}
	}
	return s.parent
}

// GetLocal allocates a register: the minimum freed index if any is
// available, otherwise the next fresh index. Overflowing the 16-bit
// register space is a compile error (spec.md §4.3).
func (s *Scope) GetLocal() (int, error) {
	if s.freeHeap.Len() > 0 {
		idx := heap.Pop(s.freeHeap).(int)
		delete(s.freed, idx)
		return idx, nil
	}
	if s.nextLocal > 0xFFFF {
		return 0, newCompileError("too many locals in function (register space exhausted)")
	}
	idx := s.nextLocal
	s.nextLocal++
	return idx, nil
}

// FreeLocal returns a register to the scope's free-list. Freeing the
// same index twice without an intervening GetLocal is a compile error
// (spec.md §4.3, §8).
func (s *Scope) FreeLocal(i int) error {
	if s.freed[i] {
		return newCompileError("double free of register slot")
	}
	s.freed[i] = true
	heap.Push(s.freeHeap, i)
	return nil
}

// Declare binds name to a freshly allocated register in s and returns
// that register's index.
func (s *Scope) Declare(name string) (int, error) {
	idx, err := s.GetLocal()
	if err != nil {
		return 0, err
	}
	s.locals[name] = idx
	return idx, nil
}

// Resolve walks the scope chain outward from s looking for name.
// levelDelta is the number of function boundaries crossed to reach the
// scope that declared it: zero means a same-function local, non-zero
// means an up-value (spec.md §4.3).
func Resolve(s *Scope, name string) (levelDelta, index int, ok bool) {
	start := s.level
	for cur := s; cur != nil; cur = cur.parent {
		if idx, found := cur.locals[name]; found {
			return start - cur.level, idx, true
		}
	}
	return 0, 0, false
}
