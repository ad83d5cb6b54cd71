package value

import (
	"unsafe"

	"github.com/google/uuid"

	"github.com/kristofer/smog/pkg/gc"
)

// FuncDef is an immutable compiled function template: arity, the number
// of registers the frame needs (locals), a literal pool, and packed
// bytecode (spec.md §3).
type FuncDef struct {
	gc.Header
	Arity    int
	Locals   int
	Literals []Value
	Code     []uint16
	Name     string // best-effort, for stack traces; "" if anonymous
}

func (d *FuncDef) GCHeader() *gc.Header { return &d.Header }
func (d *FuncDef) GCTrace(visit func(gc.Traceable)) {
	for _, lit := range d.Literals {
		lit.Trace(visit)
	}
}

// NewFuncDef allocates a FuncDef through a. Code and Literals are taken
// as given (the compiler hands over its own freshly sliced copies).
func NewFuncDef(a *gc.Allocator, arity, locals int, literals []Value, code []uint16, name string) Value {
	d := &FuncDef{Arity: arity, Locals: locals, Literals: literals, Code: code, Name: name}
	a.Track(&d.Header, unsafe.Sizeof(*d)+uintptr(len(code))*2+uintptr(len(literals))*unsafe.Sizeof(Value{}))
	return fromHeap(KindFuncDef, d)
}

// AsFuncDef returns the FuncDef object backing v.
func (v Value) AsFuncDef() *FuncDef { return v.heap.(*FuncDef) }

// FuncEnv is the capture record shared by every closure created over the
// same activation record. While its owning frame is still on the stack,
// env.Thread is non-nil and StackOffset indexes into that thread's
// register file. Once the frame returns, the env is "snapshotted": its
// Values are copied off-stack, Thread is cleared, and StackOffset is
// repurposed to mean "number of captured slots" (spec.md §3, §4.5).
type FuncEnv struct {
	gc.Header
	Thread      *Thread
	StackOffset int
	captureSize int
	Values      []Value
}

func (e *FuncEnv) GCHeader() *gc.Header { return &e.Header }
func (e *FuncEnv) GCTrace(visit func(gc.Traceable)) {
	if e.Thread != nil {
		visit(e.Thread)
		return
	}
	for _, v := range e.Values {
		v.Trace(visit)
	}
}

// Live reports whether the env still reads through its owning thread's
// live register window.
func (e *FuncEnv) Live() bool { return e.Thread != nil }

// Detach snapshots the env's captured registers off the thread stack and
// clears the thread back-reference, per the Return semantics in
// spec.md §4.5.
func (e *FuncEnv) Detach() {
	if e.Thread == nil {
		return
	}
	n := e.captureSize
	vals := make([]Value, n)
	copy(vals, e.Thread.Regs[e.StackOffset:e.StackOffset+n])
	e.Values = vals
	e.Thread = nil
	e.StackOffset = n
}

// NewFuncEnv allocates a capture record bound to a live thread frame.
// size is the number of registers captured, recorded separately from
// StackOffset so Detach knows how much to snapshot even though
// StackOffset itself is reused afterward to mean that same count
// (spec.md §3's "stackOffset whose meaning switches to number of
// captured slots" — Go has no union types, so the pre-detach count is
// kept in its own field rather than overloading StackOffset in place).
func NewFuncEnv(a *gc.Allocator, thread *Thread, stackOffset, size int) *FuncEnv {
	e := &FuncEnv{Thread: thread, StackOffset: stackOffset, captureSize: size}
	a.Track(&e.Header, unsafe.Sizeof(*e))
	return e
}

// Func is a closure: a FuncDef paired with the environment it captured
// and a parent link for walking outward through nested up-values
// (spec.md §3).
type Func struct {
	gc.Header
	Def    *FuncDef
	Env    *FuncEnv
	Parent *Func
}

func (f *Func) GCHeader() *gc.Header { return &f.Header }
func (f *Func) GCTrace(visit func(gc.Traceable)) {
	visit(f.Def)
	if f.Env != nil {
		visit(f.Env)
	}
	if f.Parent != nil {
		visit(f.Parent)
	}
}

// NewFunc allocates a closure.
func NewFunc(a *gc.Allocator, def *FuncDef, env *FuncEnv, parent *Func) Value {
	fn := &Func{Def: def, Env: env, Parent: parent}
	a.Track(&fn.Header, unsafe.Sizeof(*fn))
	return fromHeap(KindFunction, fn)
}

// AsFunc returns the Func object backing v.
func (v Value) AsFunc() *Func { return v.heap.(*Func) }

// Args is the native-function ABI view of the arguments on the VM's
// register window for a native call (spec.md §6).
type Args struct {
	values []Value
}

// NewArgs wraps a register slice as a native-call argument view.
func NewArgs(values []Value) *Args { return &Args{values: values} }

// Count returns the number of arguments supplied.
func (a *Args) Count() int { return len(a.values) }

// Arg returns argument i. Callers must check i < Count().
func (a *Args) Arg(i int) Value { return a.values[i] }

// NativeFunc wraps a host-provided callback. A native either returns a
// value or an error (the VM's long-jump-equivalent raise path,
// spec.md §6).
type NativeFunc struct {
	gc.Header
	Name string
	Fn   func(args *Args) (Value, error)
}

func (n *NativeFunc) GCHeader() *gc.Header             { return &n.Header }
func (n *NativeFunc) GCTrace(visit func(gc.Traceable)) {}

// NewNativeFunc allocates a native function value.
func NewNativeFunc(a *gc.Allocator, name string, fn func(args *Args) (Value, error)) Value {
	n := &NativeFunc{Name: name, Fn: fn}
	a.Track(&n.Header, unsafe.Sizeof(*n))
	return fromHeap(KindNative, n)
}

// AsNativeFunc returns the NativeFunc object backing v.
func (v Value) AsNativeFunc() *NativeFunc { return v.heap.(*NativeFunc) }

// ThreadStatus is a coroutine's lifecycle state (spec.md §9).
type ThreadStatus uint8

const (
	ThreadPending ThreadStatus = iota
	ThreadAlive
	ThreadDead
)

// Frame is one activation record on a Thread's call stack. It is kept as
// a separate Go struct (parallel to the Thread's flat register slice)
// rather than interleaved inline in a single raw array, the idiomatic-Go
// reading of the C-shaped layout in spec.md §3: the two slices together
// still behave as "a growable Value stack interleaving frames and
// locals" — Frames grow and shrink in lockstep with the Regs window each
// one owns — without resorting to unsafe pointer arithmetic over a
// union array.
type Frame struct {
	Callee      *Func
	Base        int // index into Thread.Regs where this frame's window starts
	Size        int // number of registers owned by this frame
	PrevSize    int // caller's frame size, for fast pop accounting
	Env         *FuncEnv
	Ret         int // caller register to receive the result (-1 at top level)
	PC          int // resume point within Callee.Def.Code
	HasHandler  bool
	ErrorSlot   int
}

// Thread is a suspended or running call stack: a growable Value register
// file plus the frame stack indexing into it (spec.md §3).
type Thread struct {
	gc.Header
	ID     uuid.UUID
	Status ThreadStatus
	Frames []Frame
	Regs   []Value
}

func (t *Thread) GCHeader() *gc.Header { return &t.Header }
func (t *Thread) GCTrace(visit func(gc.Traceable)) {
	for i := range t.Frames {
		f := &t.Frames[i]
		if f.Callee != nil {
			visit(f.Callee)
		}
		if f.Env != nil {
			visit(f.Env)
		}
	}
	for _, v := range t.Regs {
		v.Trace(visit)
	}
}

// NewThread allocates a fresh, pending thread.
func NewThread(a *gc.Allocator) *Thread {
	t := &Thread{ID: uuid.New(), Status: ThreadPending}
	a.Track(&t.Header, unsafe.Sizeof(*t))
	return t
}

// AsThread returns the Thread object backing v.
func (v Value) AsThread() *Thread { return v.heap.(*Thread) }

// FromThread wraps a *Thread as a Value.
func FromThread(t *Thread) Value { return fromHeap(KindThread, t) }

// FromFunc wraps a *Func as a Value (used when re-boxing a closure
// already on a register, e.g. after an up-value read).
func FromFunc(f *Func) Value { return fromHeap(KindFunction, f) }
