// Package diag provides the optional diagnostic-callback plumbing the
// GC and VM report through: plain func(string, ...any) hooks rather
// than a logging framework, matching the teacher's printf-to-stdout
// texture (pkg/vm/debugger.go) while giving byte counts human-readable
// formatting.
package diag

import (
	"github.com/dustin/go-humanize"

	"github.com/kristofer/smog/pkg/gc"
)

// Func is the diagnostic callback shape accepted by vm.Config.Diag: a
// format string plus arguments, the same calling convention as
// fmt.Printf but routed through a hook instead of stdout directly.
type Func func(format string, args ...any)

// CollectLine formats one GC cycle's bookkeeping as a single
// human-readable diagnostic line, byte counts rendered via
// humanize.Bytes.
func CollectLine(s gc.Stats) string {
	return "gc: cycle " + itoa(s.Cycles) +
		" live=" + humanize.Bytes(uint64(s.LiveBytes)) +
		" freed=" + humanize.Bytes(uint64(s.FreedBytes)) +
		" swept=" + itoa(s.LastFreed) + "/" + itoa(s.LastScanned)
}

func itoa(n int) string {
	return humanize.Comma(int64(n))
}

// WireGC installs diag as alloc's OnCollect hook, translating every
// completed cycle into one formatted diagnostic call. A nil diag is a
// no-op, matching vm.Config's "Diag optional" contract.
func WireGC(alloc *gc.Allocator, diag Func) {
	if diag == nil {
		return
	}
	alloc.OnCollect = func(s gc.Stats) {
		diag("%s", CollectLine(s))
	}
}
