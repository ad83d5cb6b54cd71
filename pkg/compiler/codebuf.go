package compiler

import "github.com/kristofer/smog/pkg/bytecode"

// codeBuf is the compiler's single shared bytecode emission buffer.
// Every function the compiler emits — top-level and nested — writes
// into this one growable word buffer; when a nested `fn` finishes, the
// tail it just emitted is sliced out into the new FuncDef's own Code and
// the buffer is truncated back, so the enclosing function's subsequent
// emission picks up exactly where it left off (spec.md §4.4, §9's note
// on the shared mutable bytecode buffer). Growth mirrors the 2x policy
// value.Buffer uses for byte buffers (spec.md §4.2), adapted to word
// granularity since bytecode is a stream of 16-bit words, not bytes
// (spec.md §4.5).
type codeBuf struct {
	words []uint16
}

func newCodeBuf() *codeBuf {
	return &codeBuf{words: make([]uint16, 0, 64)}
}

func (b *codeBuf) grow(extra int) {
	if cap(b.words)-len(b.words) >= extra {
		return
	}
	need := len(b.words) + extra
	newCap := cap(b.words)
	if newCap == 0 {
		newCap = 16
	}
	for newCap < need {
		newCap *= 2
	}
	grown := make([]uint16, len(b.words), newCap)
	copy(grown, b.words)
	b.words = grown
}

func (b *codeBuf) emit(words ...uint16) int {
	at := len(b.words)
	b.grow(len(words))
	b.words = append(b.words, words...)
	return at
}

func (b *codeBuf) pos() int { return len(b.words) }

func (b *codeBuf) patchInt32At(at int, v int32) {
	hi, lo := bytecode.PackInt32(v)
	b.words[at] = hi
	b.words[at+1] = lo
}

func (b *codeBuf) truncate(to int) {
	b.words = b.words[:to]
}

// sliceFrom copies the tail starting at from into its own owned slice,
// suitable for handing to a FuncDef.
func (b *codeBuf) sliceFrom(from int) []uint16 {
	out := make([]uint16, len(b.words)-from)
	copy(out, b.words[from:])
	return out
}
