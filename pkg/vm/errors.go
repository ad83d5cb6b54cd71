// Package vm - error handling with stack traces
package vm

import (
	"fmt"
	"strings"

	"github.com/kristofer/smog/pkg/value"
)

// StackFrame is a snapshot of one activation record, captured at the
// moment an error escapes a frame (spec.md §7).
type StackFrame struct {
	Name string // the callee's FuncDef.Name, or "<anonymous>"
	PC   int    // resume point within that frame's bytecode
}

// RuntimeError is the error value the VM's unwind path produces: a
// message plus the stack of frames that were live when it was raised,
// innermost first, tagged with the ID of the thread that raised it so a
// host juggling multiple coroutines (spec.md §9) can tell which one
// failed.
type RuntimeError struct {
	Message    string
	ThreadID   string
	StackTrace []StackFrame
}

func (e *RuntimeError) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if len(e.StackTrace) > 0 {
		b.WriteString(fmt.Sprintf("\n\nStack trace (thread %s):", e.ThreadID))
		for _, frame := range e.StackTrace {
			b.WriteString(fmt.Sprintf("\n  at %s [pc=%d]", frame.Name, frame.PC))
		}
	}
	return b.String()
}

func newRuntimeError(message, threadID string, stack []StackFrame) *RuntimeError {
	return &RuntimeError{Message: message, ThreadID: threadID, StackTrace: stack}
}

// captureStack snapshots t's current frames, innermost first, for
// attaching to a RuntimeError as it unwinds.
func captureStack(t *value.Thread) []StackFrame {
	frames := make([]StackFrame, 0, len(t.Frames))
	for i := len(t.Frames) - 1; i >= 0; i-- {
		f := t.Frames[i]
		name := f.Callee.Def.Name
		if name == "" {
			name = "<anonymous>"
		}
		frames = append(frames, StackFrame{Name: name, PC: f.PC})
	}
	return frames
}
