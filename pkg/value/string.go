package value

import (
	"math"
	"unsafe"

	"github.com/kristofer/smog/pkg/gc"
)

// String is the shared layout behind both string and symbol values: an
// immutable byte block prefixed by a cached length and hash. The hash is
// computed lazily — zero means "not yet computed" — using djb2 over the
// byte range (spec.md §3).
type String struct {
	gc.Header
	data   []byte
	hash   uint32
	symbol bool
}

// GCHeader implements gc.Traceable.
func (s *String) GCHeader() *gc.Header { return &s.Header }

// GCTrace implements gc.Traceable; strings own no other heap references.
func (s *String) GCTrace(visit func(gc.Traceable)) {}

// Bytes returns the string's backing bytes. Callers must not mutate them;
// strings are immutable once constructed.
func (s *String) Bytes() []byte { return s.data }

// Len returns the string's length in bytes.
func (s *String) Len() int { return len(s.data) }

func djb2(data []byte) uint32 {
	var h uint32 = 5381
	for _, b := range data {
		h = h*33 + uint32(b)
	}
	return h
}

// Hash returns the cached djb2 hash, computing and caching it on first
// use.
func (s *String) Hash() uint32 {
	if s.hash == 0 && len(s.data) > 0 {
		s.hash = djb2(s.data)
		if s.hash == 0 {
			s.hash = 1
		}
	}
	return s.hash
}

func newStringObj(a *gc.Allocator, data []byte, symbol bool) *String {
	s := &String{data: data, symbol: symbol}
	a.Track(&s.Header, uintptr(unsafe.Sizeof(*s))+uintptr(len(data)))
	s.Hash()
	return s
}

// NewString allocates a string value through a, copying data so later
// mutation of the caller's slice cannot alias the immutable string.
func NewString(a *gc.Allocator, data string) Value {
	buf := make([]byte, len(data))
	copy(buf, data)
	return fromHeap(KindString, newStringObj(a, buf, false))
}

// NewSymbol allocates a symbol value. Symbols share String's layout and
// hashing; they are distinguished only by the Value's top-level Kind tag
// (spec.md §3, §6).
func NewSymbol(a *gc.Allocator, name string) Value {
	buf := make([]byte, len(name))
	copy(buf, name)
	return fromHeap(KindSymbol, newStringObj(a, buf, true))
}

// AsString returns the String object backing a string or symbol value.
// Panics if v is not a string/symbol; callers check Kind first.
func (v Value) AsString() *String { return v.heap.(*String) }

// Text is a convenience that returns the Go string form of a string or
// symbol value's bytes.
func (v Value) Text() string { return string(v.AsString().data) }

// Equal implements the Value equality contract used by the runtime and
// by dictionary lookups (spec.md §4.7, §8). For strings and symbols it
// compares by hash then by bytes, and — per the alias-collapsing
// optimization in spec.md §3 — when two distinct allocations compare
// equal it unifies them by overwriting b's backing object with a's, so
// repeated equality checks gradually collapse duplicate allocations.
// Equal takes pointers so that unification is observable to the caller.
func Equal(a, b *Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNil:
		return true
	case KindBool:
		return a.bl == b.bl
	case KindNumber:
		return a.num == b.num
	case KindString, KindSymbol:
		as, bs := a.heap.(*String), b.heap.(*String)
		if as == bs {
			return true
		}
		if as.Hash() != bs.Hash() {
			return false
		}
		if string(as.data) != string(bs.data) {
			return false
		}
		b.heap = as
		return true
	default:
		return a.heap == b.heap
	}
}

// Hash implements the hash half of the hash/equals contract required by
// dictionary keys (spec.md §8: x1 ≡ x2 ⇒ hash(x1) = hash(x2)).
func Hash(v Value) uint32 {
	switch v.kind {
	case KindNil:
		return 0
	case KindBool:
		if v.bl {
			return 1
		}
		return 2
	case KindNumber:
		n := v.num
		if n == 0 {
			n = 0 // -0 equals +0, so both must hash alike
		}
		bits := math.Float64bits(n)
		return uint32(bits) ^ uint32(bits>>32)
	case KindString, KindSymbol:
		return v.heap.(*String).Hash()
	default:
		return uint32(uintptr(unsafe.Pointer(v.GCHeaderOrNil())))
	}
}

// GCHeaderOrNil returns the heap object's header pointer for hashing
// reference-identity kinds (functions, arrays, tables, ...), or nil for
// scalars.
func (v Value) GCHeaderOrNil() *gc.Header {
	if v.heap == nil {
		return nil
	}
	return v.heap.GCHeader()
}
