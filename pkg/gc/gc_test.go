package gc

import (
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/require"
)

// block is a minimal Traceable used to exercise the allocator without
// pulling in package value.
type block struct {
	Header
	refs []*block
}

func (b *block) GCHeader() *Header { return &b.Header }
func (b *block) GCTrace(visit func(Traceable)) {
	for _, r := range b.refs {
		visit(r)
	}
}

func newBlock(a *Allocator) *block {
	b := &block{}
	a.Track(&b.Header, 16)
	return b
}

func TestCollect_SweepsUnreachable(t *testing.T) {
	a := NewAllocator(0)
	root := newBlock(a)
	orphan := newBlock(a)
	_ = orphan

	a.Collect(root)
	stats := a.Stats()
	require.Equal(t, 1, stats.LastFreed, "expected the unreferenced block to be swept: %s", spew.Sdump(stats))
	require.Equal(t, uintptr(16), stats.LiveBytes)
}

func TestCollect_KeepsTransitivelyReachable(t *testing.T) {
	a := NewAllocator(0)
	root := newBlock(a)
	child := newBlock(a)
	root.refs = append(root.refs, child)

	a.Collect(root)
	stats := a.Stats()
	require.Equal(t, 0, stats.LastFreed, "both blocks should survive via the root->child edge: %s", spew.Sdump(stats))
	require.Equal(t, uintptr(32), stats.LiveBytes)
}

func TestMaybeCollect_RespectsMemoryInterval(t *testing.T) {
	a := NewAllocator(1 << 20)
	root := newBlock(a)
	_ = newBlock(a)

	a.MaybeCollect(root)
	require.Equal(t, 0, a.Stats().Cycles, "a large interval should defer collection")
}

func TestLockUnlock_DefersCollection(t *testing.T) {
	a := NewAllocator(0)
	root := newBlock(a)
	a.Lock()
	a.Collect(root)
	require.Equal(t, 0, a.Stats().Cycles, "Collect must no-op while locked")
	a.Unlock()
	a.Collect(root)
	require.Equal(t, 1, a.Stats().Cycles)
}

func TestOnCollect_CalledAfterCycle(t *testing.T) {
	a := NewAllocator(0)
	root := newBlock(a)
	var got Stats
	a.OnCollect = func(s Stats) { got = s }
	a.Collect(root)
	require.Equal(t, 1, got.Cycles)
}
