// Package compiler performs the one-pass lowering of an already-parsed
// AST (a Value graph whose interior "form" nodes are arrays) into
// register-based bytecode (spec.md §4.3, §4.4).
//
// The compiler never calls back into the lexer or parser — those are
// out-of-scope collaborators (spec.md §1) — it only ever sees Values.
package compiler

import (
	"math"

	"github.com/kristofer/smog/pkg/bytecode"
	"github.com/kristofer/smog/pkg/gc"
	"github.com/kristofer/smog/pkg/value"
)

// slot is the descriptor every compile call returns: which register
// holds the result, and flags describing how the caller should treat it
// (spec.md §4.4).
type slot struct {
	index       int
	isNil       bool // logical nil; nothing need be materialized if unobserved
	isTemp      bool // compiler-owned temporary; caller must free it
	hasReturned bool // already routed through a return opcode
}

func nilSlot() slot { return slot{isNil: true} }

// formOpts carries the four pieces of context spec.md §4.4 passes into
// every recursive compile call.
type formOpts struct {
	target       int
	canChoose    bool
	resultUnused bool
	isTail       bool
	fnNameHint   string
}

func (o formOpts) withTarget(t int) formOpts {
	o.target = t
	o.canChoose = false
	return o
}

func choiceOpts() formOpts { return formOpts{canChoose: true} }

// Invoker runs a macro at compile time: fn is the macro dictionary's
// entry, it runs to completion, and its result replaces the invoking
// form before compilation proceeds (spec.md §4.4).
type Invoker func(fn value.Value, args []value.Value) (value.Value, error)

// Compiler holds the state threaded through one top-level compilation:
// the allocator every literal and FuncDef goes through, an optional
// root environment of pre-declared globals, the macro dictionary, and
// the single shared emission buffer (spec.md §4.4, §6, §9).
type Compiler struct {
	alloc   *gc.Allocator
	rootEnv *value.Table
	macros  map[string]value.Value
	invoke  Invoker
	buf     *codeBuf
	special map[string]specialForm
}

type specialForm func(c *Compiler, s *Scope, args []value.Value, opts formOpts) (slot, error)

// New creates a compiler with no macros registered. rootEnv, when
// non-nil, is consulted when a symbol resolves to nothing lexically
// (spec.md §6's "optional root-env object to register globals before
// compilation" — typically vm.NewGlobals's table, shared with the VM
// that will later run the compiled code so a name installed as a
// native is resolvable both at compile time and at run time).
func New(alloc *gc.Allocator, rootEnv *value.Table) *Compiler {
	return newCompiler(alloc, rootEnv, nil, nil)
}

// NewWithMacros creates a compiler whose macro dictionary is consulted
// before every form is compiled (spec.md §4.4). invoke runs a macro
// function to completion; it is typically vm.CallSync from package vm,
// injected here rather than imported directly so the compiler has no
// hard dependency on the VM package.
func NewWithMacros(alloc *gc.Allocator, rootEnv *value.Table, macros map[string]value.Value, invoke Invoker) *Compiler {
	return newCompiler(alloc, rootEnv, macros, invoke)
}

func newCompiler(alloc *gc.Allocator, rootEnv *value.Table, macros map[string]value.Value, invoke Invoker) *Compiler {
	c := &Compiler{alloc: alloc, rootEnv: rootEnv, macros: macros, invoke: invoke, buf: newCodeBuf()}
	c.special = map[string]specialForm{
		"+": bindArith("+"), "-": bindArith("-"), "*": bindArith("*"), "/": bindArith("/"),
		"=": bindCompare("="), "<": bindCompare("<"), "<=": bindCompare("<="),
		">": bindCompare(">"), ">=": bindCompare(">="),
		"not":   c.compileNot,
		"get":   c.compileGet,
		"set":   c.compileSet,
		"array": c.compileArrayLit,
		"dict":  c.compileDictLit,
		"if":    c.compileIf,
		"while": c.compileWhile,
		"do":    c.compileDo,
		"fn":    c.compileFn,
		"quote": c.compileQuote,
		"'":     c.compileQuote,
		":=":    c.compileAssign,
		"set!":  c.compileAssign,
		"var":   c.compileAssign,
	}
	return c
}

// CompileTopLevel compiles a single AST form as the body of an implicit
// zero-argument top-level function and returns its FuncDef.
func (c *Compiler) CompileTopLevel(ast value.Value) (*value.FuncDef, error) {
	root := PushScope(nil, false)
	start := c.buf.pos()

	sl, err := c.compile(root, ast, formOpts{isTail: true, canChoose: true})
	if err != nil {
		return nil, err
	}
	if !sl.hasReturned {
		c.emitReturn(sl)
	}

	code := c.buf.sliceFrom(start)
	c.buf.truncate(start)
	locals := root.FrameSize()
	literals := append([]value.Value(nil), root.literals.items...)

	defVal := value.NewFuncDef(c.alloc, 0, locals, literals, code, "")
	return defVal.AsFuncDef(), nil
}

// expandMacros implements spec.md §4.4's macro-expansion pass: while ast
// is a form whose head symbol names a registered macro, the macro is
// invoked (via c.invoke, typically vm.CallSync) on the form's tail —
// unevaluated — and its result replaces ast, repeating until the head no
// longer names a macro. A compiler created via New (no macro dictionary)
// never matches and returns ast unchanged on the first check.
func (c *Compiler) expandMacros(ast value.Value) (value.Value, error) {
	for {
		if len(c.macros) == 0 || ast.Kind() != value.KindArray {
			return ast, nil
		}
		form := ast.AsArray()
		if form.Len() == 0 {
			return ast, nil
		}
		head, _ := form.Get(0)
		if head.Kind() != value.KindSymbol {
			return ast, nil
		}
		macro, ok := c.macros[head.Text()]
		if !ok {
			return ast, nil
		}
		args := make([]value.Value, form.Len()-1)
		for i := range args {
			args[i], _ = form.Get(i + 1)
		}
		expanded, err := c.invoke(macro, args)
		if err != nil {
			return value.Value{}, wrapCompileError(err, "macro expansion failed")
		}
		ast = expanded
	}
}

// compile dispatches on the AST node's shape (spec.md §4.4). Every path
// through this dispatcher is finished through finishTail before
// returning, so a tail-position sub-expression always culminates in a
// RETURN/RETURN_NIL (or, for calls, a TAIL_CALL) rather than falling
// through into whatever bytecode the compiler happens to emit next —
// this is what makes it safe for `if`'s tail branches to sit back to
// back with no JMP between them (spec.md §4.4's "in tail position both
// branches emit their own return").
func (c *Compiler) compile(s *Scope, ast value.Value, opts formOpts) (slot, error) {
	expanded, err := c.expandMacros(ast)
	if err != nil {
		return slot{}, err
	}
	ast = expanded

	var sl slot
	switch ast.Kind() {
	case value.KindNil, value.KindBool, value.KindNumber:
		sl, err = c.compileScalarLiteral(s, ast, opts)
	case value.KindSymbol:
		sl, err = c.compileSymbolRef(s, ast.Text(), opts)
	case value.KindArray:
		sl, err = c.compileFormOrCall(s, ast.AsArray(), opts)
	default:
		sl, err = c.compileConstLiteral(s, ast, opts)
	}
	if err != nil {
		return slot{}, err
	}
	return c.finishTail(opts, sl), nil
}

// finishTail is the single place that turns "a tail-position expression
// computed its value into some register" into "a tail-position
// expression has left control with the caller" (spec.md §4.4). A call
// already finishes itself (compileCall emits TAIL_CALL and reports
// hasReturned), so this is a no-op whenever the slot already reports
// having returned; applying it uniformly here rather than duplicating
// an isTail check in every special form is what lets compileIf lay its
// two tail branches back to back with no intervening jump.
func (c *Compiler) finishTail(opts formOpts, sl slot) slot {
	if !opts.isTail || sl.hasReturned {
		return sl
	}
	c.emitReturn(sl)
	return slot{hasReturned: true}
}

func (c *Compiler) compileScalarLiteral(s *Scope, ast value.Value, opts formOpts) (slot, error) {
	if opts.resultUnused {
		return nilSlot(), nil
	}
	target, err := c.pickTarget(s, opts)
	if err != nil {
		return slot{}, err
	}
	switch ast.Kind() {
	case value.KindNil:
		c.buf.emit(uint16(bytecode.LOAD_NIL), uint16(target))
	case value.KindBool:
		if ast.AsBool() {
			c.buf.emit(uint16(bytecode.LOAD_TRUE), uint16(target))
		} else {
			c.buf.emit(uint16(bytecode.LOAD_FALSE), uint16(target))
		}
	case value.KindNumber:
		c.emitNumber(target, ast.AsNumber())
	}
	return slot{index: target, isTemp: opts.canChoose}, nil
}

// emitNumber picks the narrowest encoding that represents n exactly:
// LOAD_0/LOAD_1 for the two cheapest cases, LOAD_I16 for values in
// [-32767,32767], LOAD_I32 for the rest of the exact 32-bit signed
// range, LOAD_F64 otherwise (spec.md §8).
func (c *Compiler) emitNumber(target int, n float64) {
	switch {
	case n == 0:
		c.buf.emit(uint16(bytecode.LOAD_0), uint16(target))
	case n == 1:
		c.buf.emit(uint16(bytecode.LOAD_1), uint16(target))
	case isExactInt32(n) && n >= -32767 && n <= 32767:
		hi, lo := bytecode.PackInt32(int32(n))
		c.buf.emit(uint16(bytecode.LOAD_I16), uint16(target), lo)
		_ = hi // LOAD_I16's single operand word is the low 16 bits; sign extends at decode time
	case isExactInt32(n):
		hi, lo := bytecode.PackInt32(int32(n))
		c.buf.emit(uint16(bytecode.LOAD_I32), uint16(target), hi, lo)
	default:
		bits := math.Float64bits(n)
		w := bytecode.PackFloat64(bits)
		c.buf.emit(uint16(bytecode.LOAD_F64), uint16(target), w[0], w[1], w[2], w[3])
	}
}

func isExactInt32(n float64) bool {
	if n != math.Trunc(n) {
		return false
	}
	return n >= math.MinInt32 && n <= math.MaxInt32
}

func (c *Compiler) compileSymbolRef(s *Scope, name string, opts formOpts) (slot, error) {
	levelDelta, idx, ok := Resolve(s, name)
	if !ok {
		return c.compileGlobalRef(s, name, opts)
	}
	if opts.resultUnused {
		return nilSlot(), nil
	}
	if levelDelta > 0 {
		target, err := c.pickTarget(s, opts)
		if err != nil {
			return slot{}, err
		}
		c.buf.emit(uint16(bytecode.LOAD_UPVALUE), uint16(target), uint16(levelDelta), uint16(idx))
		return slot{index: target, isTemp: opts.canChoose}, nil
	}
	if opts.canChoose {
		return slot{index: idx}, nil
	}
	if opts.target != idx {
		c.buf.emit(uint16(bytecode.MOVE), uint16(opts.target), uint16(idx))
	}
	return slot{index: opts.target}, nil
}

// compileGlobalRef resolves a symbol that no lexical scope claimed
// against the compiler's root environment (spec.md §6), emitting
// LOAD_GLOBAL rather than failing outright — this is how an installed
// native like `len` or `print` (vm.NewGlobals) becomes a callable name
// in source. A symbol absent from both the scope chain and the root
// environment is still a compile error.
func (c *Compiler) compileGlobalRef(s *Scope, name string, opts formOpts) (slot, error) {
	if c.rootEnv == nil {
		return slot{}, newCompileError("undefined symbol: %s", name)
	}
	sym := value.NewSymbol(c.alloc, name)
	if c.rootEnv.Get(sym).IsNil() {
		return slot{}, newCompileError("undefined symbol: %s", name)
	}
	if opts.resultUnused {
		return nilSlot(), nil
	}
	idx := s.literals.Add(sym)
	target, err := c.pickTarget(s, opts)
	if err != nil {
		return slot{}, err
	}
	c.buf.emit(uint16(bytecode.LOAD_GLOBAL), uint16(target), uint16(idx))
	return slot{index: target, isTemp: opts.canChoose}, nil
}

func (c *Compiler) compileConstLiteral(s *Scope, ast value.Value, opts formOpts) (slot, error) {
	if opts.resultUnused {
		return nilSlot(), nil
	}
	idx := s.literals.Add(ast)
	target, err := c.pickTarget(s, opts)
	if err != nil {
		return slot{}, err
	}
	c.buf.emit(uint16(bytecode.LOAD_CONST), uint16(target), uint16(idx))
	return slot{index: target, isTemp: opts.canChoose}, nil
}

func (c *Compiler) compileFormOrCall(s *Scope, form *value.Array, opts formOpts) (slot, error) {
	if form.Len() == 0 {
		return c.compileScalarLiteral(s, value.Nil, opts)
	}
	head, _ := form.Get(0)
	if head.Kind() == value.KindSymbol {
		if sf, ok := c.special[head.Text()]; ok {
			args := make([]value.Value, form.Len()-1)
			for i := range args {
				args[i], _ = form.Get(i + 1)
			}
			return sf(c, s, args, opts)
		}
	}
	return c.compileCall(s, form, opts)
}

func (c *Compiler) compileCall(s *Scope, form *value.Array, opts formOpts) (slot, error) {
	n := form.Len()
	head, _ := form.Get(0)
	calleeSlot, err := c.compile(s, head, choiceOpts())
	if err != nil {
		return slot{}, err
	}
	argRegs := make([]uint16, 0, n-1)
	argSlots := make([]slot, 0, n-1)
	for i := 1; i < n; i++ {
		a, _ := form.Get(i)
		as, err := c.compile(s, a, choiceOpts())
		if err != nil {
			return slot{}, err
		}
		as = c.materialize(s, as)
		argRegs = append(argRegs, uint16(as.index))
		argSlots = append(argSlots, as)
	}

	if opts.isTail {
		c.emitTailCall(uint16(calleeSlot.index), argRegs)
		c.freeTemp(s, calleeSlot)
		for _, as := range argSlots {
			c.freeTemp(s, as)
		}
		return slot{hasReturned: true}, nil
	}

	target, err := c.pickTarget(s, opts)
	if err != nil {
		return slot{}, err
	}
	c.emitCall(uint16(target), uint16(calleeSlot.index), argRegs)
	c.freeTemp(s, calleeSlot)
	for _, as := range argSlots {
		c.freeTemp(s, as)
	}
	if opts.resultUnused {
		_ = s.FreeLocal(target)
		return nilSlot(), nil
	}
	return slot{index: target, isTemp: opts.canChoose}, nil
}

func (c *Compiler) emitCall(target, callee uint16, args []uint16) {
	c.buf.emit(uint16(bytecode.CALL), target, callee)
	c.buf.emit(uint16(len(args)))
	c.buf.emit(args...)
}

func (c *Compiler) emitTailCall(callee uint16, args []uint16) {
	c.buf.emit(uint16(bytecode.TAIL_CALL), callee)
	c.buf.emit(uint16(len(args)))
	c.buf.emit(args...)
}

// pickTarget resolves the register a compile step should write into,
// honoring resultUnused/canChoose/target (spec.md §4.4).
func (c *Compiler) pickTarget(s *Scope, opts formOpts) (int, error) {
	if opts.canChoose || opts.resultUnused {
		return s.GetLocal()
	}
	return opts.target, nil
}

// materialize ensures a slot that compiled to "logical nil" has an
// actual register backing it, for contexts (call arguments, operands)
// that must observe a concrete value.
func (c *Compiler) materialize(s *Scope, sl slot) slot {
	if !sl.isNil {
		return sl
	}
	idx, _ := s.GetLocal()
	c.buf.emit(uint16(bytecode.LOAD_NIL), uint16(idx))
	return slot{index: idx, isTemp: true}
}

func (c *Compiler) freeTemp(s *Scope, sl slot) {
	if sl.isTemp {
		_ = s.FreeLocal(sl.index)
	}
}

func (c *Compiler) emitReturn(sl slot) {
	if sl.isNil {
		c.buf.emit(uint16(bytecode.RETURN_NIL))
		return
	}
	c.buf.emit(uint16(bytecode.RETURN), uint16(sl.index))
}
