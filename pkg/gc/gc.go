// Package gc implements the tracing mark-and-sweep collector shared by the
// compiler and the virtual machine.
//
// Every heap object the language runtime allocates — strings, buffers,
// arrays, tables, function definitions, captured environments, closures,
// and threads — is linked into a single intrusive list via an embedded
// Header. A full collection cycle walks the documented root set, colors
// every reachable block with the collector's current "black" color, then
// sweeps the list once, unlinking anything that is not black.
//
// Go itself already garbage collects the memory backing these blocks, so
// sweeping here does not free bytes by hand; it unlinks the block from the
// tracked list so the collector's own bookkeeping (live bytes, next
// collection threshold, cycle counts) stays faithful to the documented
// design, and so nothing reachable only through a freed block is
// considered live on the next cycle. Once a block is unlinked and nothing
// else references it, Go's allocator reclaims it on its own schedule.
package gc

import "fmt"

// Header is embedded as the first field of every heap-tracked object.
// It carries the intrusive list pointer and the object's mark color.
type Header struct {
	next  *Header
	black bool
	size  uintptr
}

// Traceable is implemented by every heap-tracked object. GCHeader exposes
// the embedded Header so the collector can link and color the block;
// GCTrace recurses into whatever that object references, calling visit
// for each Traceable it owns.
type Traceable interface {
	GCHeader() *Header
	GCTrace(visit func(Traceable))
}

// Visitor is retained for symmetry with the design note in spec.md §4.1;
// in this implementation marking is driven directly through GCTrace
// callbacks rather than a separate visitor value, so Visitor carries no
// state of its own.
type Visitor struct{}

// RootProvider supplies additional roots at collection time, for a host
// that holds heap objects outside the roots it passes to MaybeCollect or
// Collect. The compiler in this module does not register one: its
// in-progress literal pools are not reported as roots while it runs the
// VM to expand macros.
type RootProvider func() []Traceable

// Stats reports bookkeeping about the collector's state, primarily for
// diagnostics and tests.
type Stats struct {
	Cycles      int
	LiveBytes   uintptr
	FreedBytes  uintptr
	LastFreed   int
	LastScanned int
}

// Allocator tracks every live block in a single linked list and triggers
// collection once enough bytes have accumulated since the last cycle.
type Allocator struct {
	head           *Header
	nextCollection uintptr
	memoryInterval uintptr
	blackIsTrue    bool
	lock           int
	roots          []RootProvider
	stats          Stats

	// OnCollect, when set, is called with the collector's Stats after
	// each completed cycle. It is nil by default.
	OnCollect func(stats Stats)
}

// NewAllocator creates an allocator. memoryInterval is the number of
// allocated bytes that must accumulate before maybe_collect runs a cycle;
// zero forces a collection at every safepoint, which is useful for GC
// stress tests (spec.md §6).
func NewAllocator(memoryInterval uintptr) *Allocator {
	return &Allocator{
		memoryInterval: memoryInterval,
		blackIsTrue:    true,
	}
}

// Track links a freshly allocated block into the list and accounts for its
// size against the next-collection threshold. A fresh block is colored
// the opposite of the allocator's current black so a collection that
// starts immediately afterward still treats it as a live candidate rather
// than accidentally-already-marked.
func (a *Allocator) Track(h *Header, size uintptr) {
	h.black = !a.blackIsTrue
	h.size = size
	h.next = a.head
	a.head = h
	a.nextCollection += size
	a.stats.LiveBytes += size
}

// PushRootProvider registers an additional source of GC roots and returns
// a function that unregisters it.
func (a *Allocator) PushRootProvider(p RootProvider) (pop func()) {
	a.roots = append(a.roots, p)
	idx := len(a.roots) - 1
	return func() {
		a.roots = append(a.roots[:idx], a.roots[idx+1:]...)
	}
}

// Lock defers collection; used around native-function calls and other
// windows where a collection would be unsafe (spec.md §4.1, §5).
func (a *Allocator) Lock() { a.lock++ }

// Unlock releases a previously acquired Lock.
func (a *Allocator) Unlock() {
	if a.lock == 0 {
		panic("gc: Unlock without matching Lock")
	}
	a.lock--
}

// MaybeCollect runs a full mark/sweep cycle if next_collection has crossed
// memory_interval and the allocator isn't locked. Roots passed in augment
// any RootProviders registered via PushRootProvider.
func (a *Allocator) MaybeCollect(roots ...Traceable) {
	if a.lock > 0 {
		return
	}
	if a.nextCollection < a.memoryInterval {
		return
	}
	a.collect(roots)
}

// Collect forces a cycle regardless of the memory_interval threshold,
// still honoring Lock. Used by tests. With memory_interval=0 (as the
// "bench" driver configures) MaybeCollect already collects every time.
func (a *Allocator) Collect(roots ...Traceable) {
	if a.lock > 0 {
		return
	}
	a.collect(roots)
}

func (a *Allocator) collect(roots []Traceable) {
	black := a.blackIsTrue

	var mark func(t Traceable)
	seen := make(map[*Header]bool)
	mark = func(t Traceable) {
		if t == nil {
			return
		}
		h := t.GCHeader()
		if h == nil || h.black == black || seen[h] {
			return
		}
		h.black = black
		seen[h] = true
		t.GCTrace(mark)
	}

	for _, r := range roots {
		mark(r)
	}
	for _, p := range a.roots {
		for _, r := range p() {
			mark(r)
		}
	}

	var freedBytes uintptr
	var freedCount int
	var liveBytes uintptr
	var scanned int

	prevPtr := &a.head
	for h := a.head; h != nil; {
		scanned++
		next := h.next
		if h.black != black {
			*prevPtr = next
			freedBytes += h.size
			freedCount++
		} else {
			liveBytes += h.size
			prevPtr = &h.next
		}
		h = next
	}

	a.blackIsTrue = !black
	a.nextCollection = 0
	a.stats.Cycles++
	a.stats.FreedBytes += freedBytes
	a.stats.LiveBytes = liveBytes
	a.stats.LastFreed = freedCount
	a.stats.LastScanned = scanned

	if a.OnCollect != nil {
		a.OnCollect(a.stats)
	}
}

// Stats returns a snapshot of the collector's bookkeeping.
func (a *Allocator) Stats() Stats { return a.stats }

func (s Stats) String() string {
	return fmt.Sprintf("gc: cycle=%d live=%dB freed=%dB last_swept=%d/%d",
		s.Cycles, s.LiveBytes, s.FreedBytes, s.LastFreed, s.LastScanned)
}
