// Package vm implements the register-based bytecode interpreter: a
// switch-dispatched loop over fixed-width 16-bit opcodes, a growable
// call-stack of frames per thread, tail-call flattening, closure
// up-value resolution, and a controlled error-unwind path (spec.md
// §4.5, §5).
package vm

import (
	"fmt"
	"math"

	"github.com/pkg/errors"

	"github.com/kristofer/smog/internal/diag"
	"github.com/kristofer/smog/pkg/bytecode"
	"github.com/kristofer/smog/pkg/gc"
	"github.com/kristofer/smog/pkg/value"
)

// Config carries the process-wide VM settings spec.md §6 documents:
// memory_interval (the GC's bytes-allocated threshold; 0 forces a
// collection at every safepoint, used for stress tests), an optional
// pre-populated root environment of globals, and an optional diagnostic
// callback the GC reports cycle summaries through. A zero-value Config
// is legal: the VM gets a fresh allocator with a memory interval of 0
// (a collection at every safepoint), no diagnostics, and the globals
// NewGlobals installs.
type Config struct {
	MemoryInterval uint64
	RootEnv        *value.Table
	Diag           diag.Func

	// Alloc, when set, is used in place of a freshly created allocator.
	// A driver that parses and compiles source before running it needs
	// the parser, compiler, and VM to share one allocator so every
	// literal and FuncDef the compiler builds stays reachable from the
	// VM's root set; MemoryInterval and Diag are ignored when Alloc is
	// supplied; set them through gc.NewAllocator directly instead.
	Alloc *gc.Allocator
}

// VM owns the single execution context spec.md §9 describes: the
// allocator, the global environment, the one live thread, and the last
// returned value / thrown error observable on the VM root once
// execution halts.
type VM struct {
	Alloc    *gc.Allocator
	Globals  *value.Table
	Debugger *Debugger

	thread    *value.Thread
	lastValue value.Value
	lastError value.Value
	halted    bool
}

// New creates a VM with its own allocator (unless cfg.Alloc is supplied)
// and, unless cfg.RootEnv is
// supplied, a fresh global table pre-populated by NewGlobals. Passing
// the same table to compiler.New lets compiled source resolve the
// installed natives by name at compile time (spec.md §6).
func New(cfg Config) *VM {
	alloc := cfg.Alloc
	if alloc == nil {
		alloc = gc.NewAllocator(uintptr(cfg.MemoryInterval))
		diag.WireGC(alloc, cfg.Diag)
	}
	globals := cfg.RootEnv
	if globals == nil {
		globals = NewGlobals(alloc)
	}
	return &VM{Alloc: alloc, Globals: globals}
}

// LastError returns the error value left on the VM root by the most
// recent failed Run/CallSync, or value.Nil if none.
func (vm *VM) LastError() value.Value { return vm.lastError }

// Run installs def as a fresh thread's sole top-level frame and drives
// the dispatch loop to completion, returning the function's result (or
// a runtime error once all frames have unwound with no handler found,
// spec.md §7).
func (vm *VM) Run(def *value.FuncDef) (value.Value, error) {
	top := value.NewFunc(vm.Alloc, def, nil, nil).AsFunc()
	t := value.NewThread(vm.Alloc)
	t.Status = value.ThreadAlive
	t.Regs = make([]value.Value, def.Locals)
	t.Frames = []value.Frame{{Callee: top, Base: 0, Size: def.Locals, PrevSize: 0, Env: nil, Ret: -1, PC: 0}}
	vm.thread = t
	return vm.dispatch()
}

// CallSync invokes fn (a closure or native) to completion on a fresh
// thread and returns its result. The compiler uses this (injected as
// compiler.Invoker) to run macro expansions mid-compile (spec.md §4.4).
func (vm *VM) CallSync(fn value.Value, args []value.Value) (value.Value, error) {
	switch fn.Kind() {
	case value.KindNative:
		return vm.callNative(fn.AsNativeFunc(), args)
	case value.KindFunction:
		f := fn.AsFunc()
		def := f.Def
		if len(args) != def.Arity {
			return value.Nil, errors.Errorf("wrong number of arguments: want %d, got %d", def.Arity, len(args))
		}
		t := value.NewThread(vm.Alloc)
		t.Status = value.ThreadAlive
		t.Regs = make([]value.Value, def.Locals)
		copy(t.Regs, args)
		t.Frames = []value.Frame{{Callee: f, Base: 0, Size: def.Locals, PrevSize: 0, Env: nil, Ret: -1, PC: 0}}
		saved := vm.thread
		vm.thread = t
		result, err := vm.dispatch()
		vm.thread = saved
		return result, err
	default:
		return value.Nil, errors.Errorf("call on non-callable value of kind %s", fn.Kind())
	}
}

// dispatch runs the current thread until its frame stack empties (a
// top-level return) or a runtime error escapes unhandled.
func (vm *VM) dispatch() (value.Value, error) {
	vm.halted = false
	for !vm.halted {
		if len(vm.thread.Frames) == 0 {
			return value.Nil, errors.New("vm: dispatch with empty frame stack")
		}
		fi := len(vm.thread.Frames) - 1
		frame := &vm.thread.Frames[fi]
		code := frame.Callee.Def.Code
		if frame.PC >= len(code) {
			return value.Nil, errors.New("vm: program counter ran off the end of bytecode")
		}
		ins, next := bytecode.Decode(code, frame.PC)

		if vm.Debugger != nil && vm.Debugger.enabled {
			vm.Debugger.beforeStep(vm, fi, ins)
		}

		if err := vm.step(fi, ins, next); err != nil {
			return vm.unwind(err)
		}
		vm.Alloc.MaybeCollect(vm.roots()...)
	}
	return vm.lastValue, nil
}

func (vm *VM) roots() []gc.Traceable {
	roots := make([]gc.Traceable, 0, 4)
	if vm.thread != nil {
		roots = append(roots, vm.thread)
	}
	if vm.Globals != nil {
		roots = append(roots, vm.Globals)
	}
	if h := vm.lastValue.Heap(); h != nil {
		roots = append(roots, h)
	}
	if h := vm.lastError.Heap(); h != nil {
		roots = append(roots, h)
	}
	return roots
}

// unwind implements spec.md §7's runtime-error policy: pop frames
// (detaching any live envs along the way, so outstanding closures keep
// reading a valid snapshot) until the thread empties, since none of the
// special forms this language compiles ever install a handler. The
// error is reported to the top-level caller with the error value left
// on the VM root.
func (vm *VM) unwind(cause error) (value.Value, error) {
	t := vm.thread
	stack := captureStack(t)
	for len(t.Frames) > 0 {
		top := &t.Frames[len(t.Frames)-1]
		if top.Env != nil {
			top.Env.Detach()
		}
		t.Frames = t.Frames[:len(t.Frames)-1]
	}
	rtErr := newRuntimeError(cause.Error(), t.ID.String(), stack)
	vm.lastError = value.NewString(vm.Alloc, rtErr.Error())
	t.Status = value.ThreadDead
	return value.Nil, rtErr
}

func regIndex(frame *value.Frame, r uint16) int { return frame.Base + int(r) }

// step executes exactly one instruction in frame index fi, advancing
// its PC (or, for CALL/TAIL_CALL/RETURN, performing the corresponding
// frame-stack surgery) (spec.md §4.5).
func (vm *VM) step(fi int, ins bytecode.Instr, next int) error {
	t := vm.thread
	frame := &t.Frames[fi]
	regs := t.Regs

	switch ins.Op {
	case bytecode.LOAD_0:
		regs[regIndex(frame, ins.Operands[0])] = value.Number(0)
	case bytecode.LOAD_1:
		regs[regIndex(frame, ins.Operands[0])] = value.Number(1)
	case bytecode.LOAD_FALSE:
		regs[regIndex(frame, ins.Operands[0])] = value.Bool(false)
	case bytecode.LOAD_TRUE:
		regs[regIndex(frame, ins.Operands[0])] = value.Bool(true)
	case bytecode.LOAD_NIL:
		regs[regIndex(frame, ins.Operands[0])] = value.Nil
	case bytecode.LOAD_I16:
		imm := int16(ins.Operands[1])
		regs[regIndex(frame, ins.Operands[0])] = value.Number(float64(imm))
	case bytecode.LOAD_I32:
		n := bytecode.UnpackInt32(ins.Operands[1], ins.Operands[2])
		regs[regIndex(frame, ins.Operands[0])] = value.Number(float64(n))
	case bytecode.LOAD_F64:
		bits := bytecode.UnpackFloat64([4]uint16{ins.Operands[1], ins.Operands[2], ins.Operands[3], ins.Operands[4]})
		regs[regIndex(frame, ins.Operands[0])] = value.Number(math.Float64frombits(bits))
	case bytecode.LOAD_CONST:
		idx := int(ins.Operands[1])
		regs[regIndex(frame, ins.Operands[0])] = frame.Callee.Def.Literals[idx]
	case bytecode.LOAD_GLOBAL:
		idx := int(ins.Operands[1])
		name := frame.Callee.Def.Literals[idx]
		regs[regIndex(frame, ins.Operands[0])] = vm.Globals.Get(name)
	case bytecode.LOAD_UPVALUE:
		level, idx := int(ins.Operands[1]), int(ins.Operands[2])
		v, err := vm.readUpvalue(frame.Callee, level, idx)
		if err != nil {
			return err
		}
		regs[regIndex(frame, ins.Operands[0])] = v
	case bytecode.STORE_UPVALUE:
		level, idx := int(ins.Operands[0]), int(ins.Operands[1])
		v := regs[regIndex(frame, ins.Operands[2])]
		if err := vm.writeUpvalue(frame.Callee, level, idx, v); err != nil {
			return err
		}
	case bytecode.MOVE:
		regs[regIndex(frame, ins.Operands[0])] = regs[regIndex(frame, ins.Operands[1])]
	case bytecode.MAKE_CLOSURE:
		idx := int(ins.Operands[1])
		def := frame.Callee.Def.Literals[idx].AsFuncDef()
		if frame.Env == nil {
			frame.Env = value.NewFuncEnv(vm.Alloc, t, frame.Base, frame.Size)
		}
		regs[regIndex(frame, ins.Operands[0])] = value.NewFunc(vm.Alloc, def, frame.Env, frame.Callee)
	case bytecode.ADD, bytecode.SUB, bytecode.MUL, bytecode.DIV:
		if err := vm.binaryArith(frame, ins); err != nil {
			return err
		}
	case bytecode.ADD_N, bytecode.SUB_N, bytecode.MUL_N, bytecode.DIV_N:
		if err := vm.naryArith(frame, ins); err != nil {
			return err
		}
	case bytecode.NOT:
		v := regs[regIndex(frame, ins.Operands[1])]
		regs[regIndex(frame, ins.Operands[0])] = value.Bool(!v.Truthy())
	case bytecode.EQ:
		a, b := regs[regIndex(frame, ins.Operands[1])], regs[regIndex(frame, ins.Operands[2])]
		regs[regIndex(frame, ins.Operands[0])] = value.Bool(value.Equal(&a, &b))
	case bytecode.LT, bytecode.LE:
		r, err := vm.compareNumbers(frame, ins)
		if err != nil {
			return err
		}
		regs[regIndex(frame, ins.Operands[0])] = r
	case bytecode.JIF:
		cond := regs[regIndex(frame, ins.Operands[0])]
		off := bytecode.UnpackInt32(ins.Operands[1], ins.Operands[2])
		if !cond.Truthy() {
			frame.PC = next + int(off)
		} else {
			frame.PC = next
		}
		return nil
	case bytecode.JMP:
		off := bytecode.UnpackInt32(ins.Operands[0], ins.Operands[1])
		frame.PC = next + int(off)
		return nil
	case bytecode.CALL:
		return vm.execCall(fi, ins, next)
	case bytecode.TAIL_CALL:
		return vm.execTailCall(fi, ins, next)
	case bytecode.RETURN:
		v := regs[regIndex(frame, ins.Operands[0])]
		vm.doReturn(v)
		return nil
	case bytecode.RETURN_NIL:
		vm.doReturn(value.Nil)
		return nil
	case bytecode.ARR:
		return vm.execArr(frame, ins)
	case bytecode.DIC:
		return vm.execDic(frame, ins)
	case bytecode.GET:
		return vm.execGet(frame, ins)
	case bytecode.SET:
		return vm.execSet(frame, ins)
	default:
		return errors.Errorf("vm: unknown opcode %s", ins.Op)
	}

	frame.PC = next
	return nil
}

func (vm *VM) readUpvalue(f *value.Func, level, idx int) (value.Value, error) {
	cur := f
	for i := 1; i < level; i++ {
		if cur.Parent == nil {
			return value.Nil, errors.New("vm: up-value level exceeds closure nesting")
		}
		cur = cur.Parent
	}
	if cur.Env == nil {
		return value.Nil, errors.New("vm: up-value read through closure with no captured environment")
	}
	if cur.Env.Live() {
		return cur.Env.Thread.Regs[cur.Env.StackOffset+idx], nil
	}
	return cur.Env.Values[idx], nil
}

func (vm *VM) writeUpvalue(f *value.Func, level, idx int, v value.Value) error {
	cur := f
	for i := 1; i < level; i++ {
		if cur.Parent == nil {
			return errors.New("vm: up-value level exceeds closure nesting")
		}
		cur = cur.Parent
	}
	if cur.Env == nil {
		return errors.New("vm: up-value write through closure with no captured environment")
	}
	if cur.Env.Live() {
		cur.Env.Thread.Regs[cur.Env.StackOffset+idx] = v
		return nil
	}
	cur.Env.Values[idx] = v
	return nil
}

func (vm *VM) binaryArith(frame *value.Frame, ins bytecode.Instr) error {
	a := vm.thread.Regs[regIndex(frame, ins.Operands[1])]
	b := vm.thread.Regs[regIndex(frame, ins.Operands[2])]
	if a.Kind() != value.KindNumber || b.Kind() != value.KindNumber {
		return errors.Errorf("arithmetic requires numbers, got %s and %s", a.Kind(), b.Kind())
	}
	var r float64
	switch ins.Op {
	case bytecode.ADD:
		r = a.AsNumber() + b.AsNumber()
	case bytecode.SUB:
		r = a.AsNumber() - b.AsNumber()
	case bytecode.MUL:
		r = a.AsNumber() * b.AsNumber()
	case bytecode.DIV:
		r = a.AsNumber() / b.AsNumber()
	}
	vm.thread.Regs[regIndex(frame, ins.Operands[0])] = value.Number(r)
	return nil
}

func (vm *VM) naryArith(frame *value.Frame, ins bytecode.Instr) error {
	vals := make([]float64, len(ins.Args))
	for i, r := range ins.Args {
		v := vm.thread.Regs[regIndex(frame, r)]
		if v.Kind() != value.KindNumber {
			return errors.Errorf("arithmetic requires numbers, got %s", v.Kind())
		}
		vals[i] = v.AsNumber()
	}
	acc := vals[0]
	for _, x := range vals[1:] {
		switch ins.Op {
		case bytecode.ADD_N:
			acc += x
		case bytecode.SUB_N:
			acc -= x
		case bytecode.MUL_N:
			acc *= x
		case bytecode.DIV_N:
			acc /= x
		}
	}
	vm.thread.Regs[regIndex(frame, ins.Operands[0])] = value.Number(acc)
	return nil
}

func (vm *VM) compareNumbers(frame *value.Frame, ins bytecode.Instr) (value.Value, error) {
	a := vm.thread.Regs[regIndex(frame, ins.Operands[1])]
	b := vm.thread.Regs[regIndex(frame, ins.Operands[2])]
	if a.Kind() != value.KindNumber || b.Kind() != value.KindNumber {
		return value.Nil, errors.Errorf("comparison requires numbers, got %s and %s", a.Kind(), b.Kind())
	}
	if ins.Op == bytecode.LT {
		return value.Bool(a.AsNumber() < b.AsNumber()), nil
	}
	return value.Bool(a.AsNumber() <= b.AsNumber()), nil
}

func (vm *VM) execArr(frame *value.Frame, ins bytecode.Instr) error {
	arr := value.NewArray(vm.Alloc, len(ins.Args))
	a := arr.AsArray()
	for _, r := range ins.Args {
		a.Push(vm.thread.Regs[regIndex(frame, r)])
	}
	vm.thread.Regs[regIndex(frame, ins.Operands[0])] = arr
	return nil
}

func (vm *VM) execDic(frame *value.Frame, ins bytecode.Instr) error {
	if len(ins.Args)%2 != 0 {
		return errors.New("dict construction requires an even number of key/value registers")
	}
	d := value.NewTable(vm.Alloc)
	t := d.AsTable()
	for i := 0; i < len(ins.Args); i += 2 {
		k := vm.thread.Regs[regIndex(frame, ins.Args[i])]
		v := vm.thread.Regs[regIndex(frame, ins.Args[i+1])]
		t.Put(k, v)
	}
	vm.thread.Regs[regIndex(frame, ins.Operands[0])] = d
	return nil
}

func (vm *VM) execGet(frame *value.Frame, ins bytecode.Instr) error {
	ds := vm.thread.Regs[regIndex(frame, ins.Operands[1])]
	key := vm.thread.Regs[regIndex(frame, ins.Operands[2])]
	v, err := getIndexed(ds, key)
	if err != nil {
		return err
	}
	vm.thread.Regs[regIndex(frame, ins.Operands[0])] = v
	return nil
}

func getIndexed(ds, key value.Value) (value.Value, error) {
	switch ds.Kind() {
	case value.KindArray:
		if key.Kind() != value.KindNumber {
			return value.Nil, errors.New("array index must be a number")
		}
		return ds.AsArray().Get(int(key.AsNumber()))
	case value.KindTable:
		return ds.AsTable().Get(key), nil
	default:
		return value.Nil, errors.Errorf("cannot index into a %s", ds.Kind())
	}
}

func (vm *VM) execSet(frame *value.Frame, ins bytecode.Instr) error {
	ds := vm.thread.Regs[regIndex(frame, ins.Operands[0])]
	key := vm.thread.Regs[regIndex(frame, ins.Operands[1])]
	val := vm.thread.Regs[regIndex(frame, ins.Operands[2])]
	switch ds.Kind() {
	case value.KindArray:
		if key.Kind() != value.KindNumber {
			return errors.New("array index must be a number")
		}
		return ds.AsArray().Set(int(key.AsNumber()), val)
	case value.KindTable:
		ds.AsTable().Put(key, val)
		return nil
	default:
		return errors.Errorf("cannot set into a %s", ds.Kind())
	}
}

// execCall pushes a new frame for a scripted callee, or invokes a
// native in place, then resumes the caller (spec.md §4.5).
func (vm *VM) execCall(fi int, ins bytecode.Instr, next int) error {
	t := vm.thread
	frame := &t.Frames[fi]
	target := int(ins.Operands[0])
	calleeVal := t.Regs[regIndex(frame, ins.Operands[1])]
	args := make([]value.Value, len(ins.Args))
	for i, r := range ins.Args {
		args[i] = t.Regs[regIndex(frame, r)]
	}

	switch calleeVal.Kind() {
	case value.KindNative:
		frame.PC = next
		result, err := vm.callNative(calleeVal.AsNativeFunc(), args)
		if err != nil {
			return err
		}
		t.Regs[regIndex(frame, uint16(target))] = result
		return nil

	case value.KindFunction:
		fn := calleeVal.AsFunc()
		def := fn.Def
		if len(args) != def.Arity {
			return errors.Errorf("wrong number of arguments: %s wants %d, got %d", def.Name, def.Arity, len(args))
		}
		frame.PC = next
		newBase := frame.Base + frame.Size
		vm.ensureRegs(t, newBase+def.Locals)
		copy(t.Regs[newBase:newBase+len(args)], args)
		for i := len(args); i < def.Locals; i++ {
			t.Regs[newBase+i] = value.Nil
		}
		t.Frames = append(t.Frames, value.Frame{
			Callee: fn, Base: newBase, Size: def.Locals, PrevSize: frame.Size,
			Env: nil, Ret: target, PC: 0,
		})
		return nil

	default:
		return errors.Errorf("call on non-callable value of kind %s", calleeVal.Kind())
	}
}

// execTailCall flattens a tail position call into the current frame
// (spec.md §4.5, §8 — frame stack depth must not grow across a
// tail-recursive loop). A native callee is simply invoked in place and
// its result fed through the same return path a RETURN opcode takes.
func (vm *VM) execTailCall(fi int, ins bytecode.Instr, next int) error {
	t := vm.thread
	frame := &t.Frames[fi]
	calleeVal := t.Regs[regIndex(frame, ins.Operands[0])]
	args := make([]value.Value, len(ins.Args))
	for i, r := range ins.Args {
		args[i] = t.Regs[regIndex(frame, r)]
	}

	switch calleeVal.Kind() {
	case value.KindNative:
		result, err := vm.callNative(calleeVal.AsNativeFunc(), args)
		if err != nil {
			return err
		}
		vm.doReturn(result)
		return nil

	case value.KindFunction:
		fn := calleeVal.AsFunc()
		def := fn.Def
		if len(args) != def.Arity {
			return errors.Errorf("wrong number of arguments: %s wants %d, got %d", def.Name, def.Arity, len(args))
		}
		if frame.Env != nil {
			frame.Env.Detach()
			frame.Env = nil
		}
		vm.ensureRegs(t, frame.Base+def.Locals)
		for i, a := range args {
			t.Regs[frame.Base+i] = a
		}
		for i := len(args); i < def.Locals; i++ {
			t.Regs[frame.Base+i] = value.Nil
		}
		frame.Callee = fn
		frame.Size = def.Locals
		frame.PC = 0
		return nil

	default:
		return errors.Errorf("call on non-callable value of kind %s", calleeVal.Kind())
	}
}

func (vm *VM) callNative(n *value.NativeFunc, args []value.Value) (value.Value, error) {
	vm.Alloc.Lock()
	defer vm.Alloc.Unlock()
	result, err := n.Fn(value.NewArgs(args))
	if err != nil {
		return value.Nil, errors.Wrapf(err, "native %q", n.Name)
	}
	return result, nil
}

// doReturn implements the Return semantics of spec.md §4.5: snapshot
// the popped frame's env (if any closure captured it) off the stack,
// shrink the register file back to the frame's own base, and deliver
// the value to the caller's target register — or, with no caller left,
// halt the thread with val as the VM's result.
func (vm *VM) doReturn(val value.Value) {
	t := vm.thread
	top := t.Frames[len(t.Frames)-1]
	if top.Env != nil {
		top.Env.Detach()
	}
	t.Frames = t.Frames[:len(t.Frames)-1]
	t.Regs = t.Regs[:top.Base]

	if len(t.Frames) == 0 {
		vm.lastValue = val
		vm.halted = true
		t.Status = value.ThreadDead
		return
	}
	caller := &t.Frames[len(t.Frames)-1]
	vm.ensureRegs(t, caller.Base+caller.Size)
	t.Regs[caller.Base+top.Ret] = val
}

// ensureRegs grows t.Regs (2x policy, matching value.Buffer/Array) so
// indices up to need-1 are addressable.
func (vm *VM) ensureRegs(t *value.Thread, need int) {
	if len(t.Regs) >= need {
		return
	}
	newCap := cap(t.Regs)
	if newCap == 0 {
		newCap = 8
	}
	for newCap < need {
		newCap *= 2
	}
	grown := make([]value.Value, need, newCap)
	copy(grown, t.Regs)
	t.Regs = grown
}

// DisassembleActive is a debugging convenience: it reports a
// human-readable description of the currently executing instruction, or
// "<halted>" once the thread has no frames left.
func (vm *VM) DisassembleActive() string {
	if vm.thread == nil || len(vm.thread.Frames) == 0 {
		return "<halted>"
	}
	f := vm.thread.Frames[len(vm.thread.Frames)-1]
	if f.PC >= len(f.Callee.Def.Code) {
		return "<eof>"
	}
	ins, _ := bytecode.Decode(f.Callee.Def.Code, f.PC)
	return fmt.Sprintf("%s @%d", ins.Op, f.PC)
}
