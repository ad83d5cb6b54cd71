package compiler

import (
	"github.com/kristofer/smog/pkg/bytecode"
	"github.com/kristofer/smog/pkg/value"
)

// bindArith binds the variadic `+ - * /` special forms (spec.md §4.4) to
// a specialForm closure carrying the operator's name: 0-ary loads the
// operator's identity element directly (LOAD_0 for +/-, LOAD_1 for */÷
// — no literal needed), unary reduces to the binary opcode against that
// identity, 2-ary emits the fixed binary opcode, and 3+-ary emits the
// n-ary fold opcode.
func bindArith(name string) specialForm {
	return func(c *Compiler, s *Scope, args []value.Value, opts formOpts) (slot, error) {
		return c.compileVariadicArith(name, s, args, opts)
	}
}

func (c *Compiler) arithOp(name string) (identity float64, binOp, nOp bytecode.Opcode) {
	switch name {
	case "+":
		return 0, bytecode.ADD, bytecode.ADD_N
	case "-":
		return 0, bytecode.SUB, bytecode.SUB_N
	case "*":
		return 1, bytecode.MUL, bytecode.MUL_N
	case "/":
		return 1, bytecode.DIV, bytecode.DIV_N
	}
	return 0, bytecode.ADD, bytecode.ADD_N
}

func (c *Compiler) compileVariadicArith(name string, s *Scope, args []value.Value, opts formOpts) (slot, error) {
	identity, binOp, nOp := c.arithOp(name)

	if opts.resultUnused {
		for _, a := range args {
			if _, err := c.compile(s, a, formOpts{resultUnused: true}); err != nil {
				return slot{}, err
			}
		}
		return nilSlot(), nil
	}

	target, err := c.pickTarget(s, opts)
	if err != nil {
		return slot{}, err
	}

	switch len(args) {
	case 0:
		c.emitNumber(target, identity)
		return slot{index: target, isTemp: opts.canChoose}, nil

	case 1:
		argSlot, err := c.compile(s, args[0], choiceOpts())
		if err != nil {
			return slot{}, err
		}
		argSlot = c.materialize(s, argSlot)
		if name == "+" || name == "*" {
			if argSlot.index != target {
				c.buf.emit(uint16(bytecode.MOVE), uint16(target), uint16(argSlot.index))
			}
		} else {
			idTemp, err := s.GetLocal()
			if err != nil {
				return slot{}, err
			}
			c.emitNumber(idTemp, identity)
			c.buf.emit(uint16(binOp), uint16(target), uint16(idTemp), uint16(argSlot.index))
			_ = s.FreeLocal(idTemp)
		}
		c.freeTemp(s, argSlot)
		return slot{index: target, isTemp: opts.canChoose}, nil

	case 2:
		aSlot, err := c.compileMaterialized(s, args[0])
		if err != nil {
			return slot{}, err
		}
		bSlot, err := c.compileMaterialized(s, args[1])
		if err != nil {
			return slot{}, err
		}
		c.buf.emit(uint16(binOp), uint16(target), uint16(aSlot.index), uint16(bSlot.index))
		c.freeTemp(s, aSlot)
		c.freeTemp(s, bSlot)
		return slot{index: target, isTemp: opts.canChoose}, nil

	default:
		regs := make([]uint16, 0, len(args))
		slots := make([]slot, 0, len(args))
		for _, a := range args {
			as, err := c.compileMaterialized(s, a)
			if err != nil {
				return slot{}, err
			}
			regs = append(regs, uint16(as.index))
			slots = append(slots, as)
		}
		c.buf.emit(uint16(nOp), uint16(target))
		c.buf.emit(uint16(len(regs)))
		c.buf.emit(regs...)
		for _, as := range slots {
			c.freeTemp(s, as)
		}
		return slot{index: target, isTemp: opts.canChoose}, nil
	}
}

func (c *Compiler) compileMaterialized(s *Scope, v value.Value) (slot, error) {
	sl, err := c.compile(s, v, choiceOpts())
	if err != nil {
		return slot{}, err
	}
	return c.materialize(s, sl), nil
}

// bindCompare binds `= < <= > >=` (fixed binary) to a specialForm
// closure carrying the operator's name. `>` and `>=` reuse the LT/LE
// opcodes with operand order reversed (spec.md §4.4).
func bindCompare(name string) specialForm {
	return func(c *Compiler, s *Scope, args []value.Value, opts formOpts) (slot, error) {
		return c.compileCompare(name, s, args, opts)
	}
}

// compileCompare is the shared body for `= < <= > >=`.
func (c *Compiler) compileCompare(name string, s *Scope, args []value.Value, opts formOpts) (slot, error) {
	if len(args) != 2 {
		return slot{}, newCompileError("comparison requires exactly 2 arguments, got %d", len(args))
	}
	if opts.resultUnused {
		for _, a := range args {
			if _, err := c.compile(s, a, formOpts{resultUnused: true}); err != nil {
				return slot{}, err
			}
		}
		return nilSlot(), nil
	}
	aSlot, err := c.compileMaterialized(s, args[0])
	if err != nil {
		return slot{}, err
	}
	bSlot, err := c.compileMaterialized(s, args[1])
	if err != nil {
		return slot{}, err
	}
	target, err := c.pickTarget(s, opts)
	if err != nil {
		return slot{}, err
	}
	a, b := uint16(aSlot.index), uint16(bSlot.index)
	switch name {
	case "=":
		c.buf.emit(uint16(bytecode.EQ), uint16(target), a, b)
	case "<":
		c.buf.emit(uint16(bytecode.LT), uint16(target), a, b)
	case "<=":
		c.buf.emit(uint16(bytecode.LE), uint16(target), a, b)
	case ">":
		c.buf.emit(uint16(bytecode.LT), uint16(target), b, a)
	case ">=":
		c.buf.emit(uint16(bytecode.LE), uint16(target), b, a)
	}
	c.freeTemp(s, aSlot)
	c.freeTemp(s, bSlot)
	return slot{index: target, isTemp: opts.canChoose}, nil
}

// compileNot handles `not`: unary negation, with the 0-ary case
// degenerating to `load false` (spec.md §4.4).
func (c *Compiler) compileNot(s *Scope, args []value.Value, opts formOpts) (slot, error) {
	if len(args) == 0 {
		if opts.resultUnused {
			return nilSlot(), nil
		}
		target, err := c.pickTarget(s, opts)
		if err != nil {
			return slot{}, err
		}
		c.buf.emit(uint16(bytecode.LOAD_FALSE), uint16(target))
		return slot{index: target, isTemp: opts.canChoose}, nil
	}
	if len(args) != 1 {
		return slot{}, newCompileError("not requires 0 or 1 arguments, got %d", len(args))
	}
	if opts.resultUnused {
		_, err := c.compile(s, args[0], formOpts{resultUnused: true})
		return nilSlot(), err
	}
	argSlot, err := c.compileMaterialized(s, args[0])
	if err != nil {
		return slot{}, err
	}
	target, err := c.pickTarget(s, opts)
	if err != nil {
		return slot{}, err
	}
	c.buf.emit(uint16(bytecode.NOT), uint16(target), uint16(argSlot.index))
	c.freeTemp(s, argSlot)
	return slot{index: target, isTemp: opts.canChoose}, nil
}

// compileGet handles `(get ds key)` (spec.md §4.4).
func (c *Compiler) compileGet(s *Scope, args []value.Value, opts formOpts) (slot, error) {
	if len(args) != 2 {
		return slot{}, newCompileError("get requires exactly 2 arguments, got %d", len(args))
	}
	dsSlot, err := c.compileMaterialized(s, args[0])
	if err != nil {
		return slot{}, err
	}
	keySlot, err := c.compileMaterialized(s, args[1])
	if err != nil {
		return slot{}, err
	}
	if opts.resultUnused {
		c.freeTemp(s, dsSlot)
		c.freeTemp(s, keySlot)
		return nilSlot(), nil
	}
	target, err := c.pickTarget(s, opts)
	if err != nil {
		return slot{}, err
	}
	c.buf.emit(uint16(bytecode.GET), uint16(target), uint16(dsSlot.index), uint16(keySlot.index))
	c.freeTemp(s, dsSlot)
	c.freeTemp(s, keySlot)
	return slot{index: target, isTemp: opts.canChoose}, nil
}

// compileSet handles `(set ds key val)`, which emits SET and yields ds
// itself as its result (spec.md §4.4).
func (c *Compiler) compileSet(s *Scope, args []value.Value, opts formOpts) (slot, error) {
	if len(args) != 3 {
		return slot{}, newCompileError("set requires exactly 3 arguments, got %d", len(args))
	}
	dsSlot, err := c.compileMaterialized(s, args[0])
	if err != nil {
		return slot{}, err
	}
	keySlot, err := c.compileMaterialized(s, args[1])
	if err != nil {
		return slot{}, err
	}
	valSlot, err := c.compileMaterialized(s, args[2])
	if err != nil {
		return slot{}, err
	}
	c.buf.emit(uint16(bytecode.SET), uint16(dsSlot.index), uint16(keySlot.index), uint16(valSlot.index))
	c.freeTemp(s, keySlot)
	c.freeTemp(s, valSlot)
	if opts.resultUnused {
		c.freeTemp(s, dsSlot)
		return nilSlot(), nil
	}
	return dsSlot, nil
}

// compileArrayLit handles `(array a b c ...)`.
func (c *Compiler) compileArrayLit(s *Scope, args []value.Value, opts formOpts) (slot, error) {
	return c.compileVariadicConstruct(bytecode.ARR, s, args, opts)
}

// compileDictLit handles `(dict k1 v1 k2 v2 ...)`; the argument count
// (excluding the leading `dict` symbol, already stripped by the caller)
// must be even (spec.md §4.4).
func (c *Compiler) compileDictLit(s *Scope, args []value.Value, opts formOpts) (slot, error) {
	if len(args)%2 != 0 {
		return slot{}, newCompileError("dict requires an even number of key/value arguments, got %d", len(args))
	}
	return c.compileVariadicConstruct(bytecode.DIC, s, args, opts)
}

func (c *Compiler) compileVariadicConstruct(op bytecode.Opcode, s *Scope, args []value.Value, opts formOpts) (slot, error) {
	regs := make([]uint16, 0, len(args))
	slots := make([]slot, 0, len(args))
	for _, a := range args {
		as, err := c.compileMaterialized(s, a)
		if err != nil {
			return slot{}, err
		}
		regs = append(regs, uint16(as.index))
		slots = append(slots, as)
	}
	if opts.resultUnused {
		for _, as := range slots {
			c.freeTemp(s, as)
		}
		return nilSlot(), nil
	}
	target, err := c.pickTarget(s, opts)
	if err != nil {
		return slot{}, err
	}
	c.buf.emit(uint16(op), uint16(target))
	c.buf.emit(uint16(len(regs)))
	c.buf.emit(regs...)
	for _, as := range slots {
		c.freeTemp(s, as)
	}
	return slot{index: target, isTemp: opts.canChoose}, nil
}

// compileQuote handles `quote`/`'`: the argument is added to the literal
// pool and loaded as a constant without being evaluated (spec.md §4.4).
func (c *Compiler) compileQuote(s *Scope, args []value.Value, opts formOpts) (slot, error) {
	if len(args) != 1 {
		return slot{}, newCompileError("quote requires exactly 1 argument, got %d", len(args))
	}
	if opts.resultUnused {
		return nilSlot(), nil
	}
	idx := s.literals.Add(args[0])
	target, err := c.pickTarget(s, opts)
	if err != nil {
		return slot{}, err
	}
	c.buf.emit(uint16(bytecode.LOAD_CONST), uint16(target), uint16(idx))
	return slot{index: target, isTemp: opts.canChoose}, nil
}

// compileIf handles 2- and 3-arity `if` (spec.md §4.4). In tail position
// both branches emit their own return and report hasReturned so the
// caller doesn't emit a redundant one.
func (c *Compiler) compileIf(s *Scope, args []value.Value, opts formOpts) (slot, error) {
	if len(args) != 2 && len(args) != 3 {
		return slot{}, newCompileError("if requires 2 or 3 arguments, got %d", len(args))
	}

	condSlot, err := c.compileMaterialized(s, args[0])
	if err != nil {
		return slot{}, err
	}
	jifAt := c.buf.emit(uint16(bytecode.JIF), uint16(condSlot.index), 0, 0)
	c.freeTemp(s, condSlot)
	jifNext := c.buf.pos()

	branchOpts := opts
	var target int
	if !opts.resultUnused && !opts.isTail {
		target, err = c.pickTarget(s, opts)
		if err != nil {
			return slot{}, err
		}
		branchOpts = opts.withTarget(target)
	}

	trueSlot, err := c.compile(s, args[1], branchOpts)
	if err != nil {
		return slot{}, err
	}
	trueReturned := trueSlot.hasReturned

	var jmpAt int
	haveJmp := false
	if !opts.isTail {
		jmpAt = c.buf.emit(uint16(bytecode.JMP), 0, 0)
		haveJmp = true
	}

	jifTarget := c.buf.pos()
	c.buf.patchInt32At(jifAt+2, int32(jifTarget-jifNext))

	var falseSlot slot
	if len(args) == 3 {
		falseSlot, err = c.compile(s, args[2], branchOpts)
		if err != nil {
			return slot{}, err
		}
	} else {
		falseSlot, err = c.compile(s, value.Nil, branchOpts)
		if err != nil {
			return slot{}, err
		}
	}
	falseReturned := falseSlot.hasReturned

	if haveJmp {
		jmpTarget := c.buf.pos()
		c.buf.patchInt32At(jmpAt+1, int32(jmpTarget-(jmpAt+3)))
	}

	if opts.isTail {
		return slot{hasReturned: trueReturned && falseReturned}, nil
	}
	if opts.resultUnused {
		return nilSlot(), nil
	}
	return slot{index: target, isTemp: opts.canChoose}, nil
}

// compileWhile handles the pre-test loop form; its result is always nil
// (spec.md §4.4).
func (c *Compiler) compileWhile(s *Scope, args []value.Value, opts formOpts) (slot, error) {
	if len(args) < 1 {
		return slot{}, newCompileError("while requires a condition")
	}
	loop := PushScope(s, true)

	preCond := c.buf.pos()
	condSlot, err := c.compileMaterialized(loop, args[0])
	if err != nil {
		return slot{}, err
	}
	jifAt := c.buf.emit(uint16(bytecode.JIF), uint16(condSlot.index), 0, 0)
	jifNext := c.buf.pos()
	c.freeTemp(loop, condSlot)

	for _, bodyExpr := range args[1:] {
		if _, err := c.compile(loop, bodyExpr, formOpts{resultUnused: true}); err != nil {
			return slot{}, err
		}
	}

	jmpAt := c.buf.emit(uint16(bytecode.JMP), 0, 0)
	c.buf.patchInt32At(jmpAt+1, int32(preCond-(jmpAt+3)))

	exit := c.buf.pos()
	c.buf.patchInt32At(jifAt+2, int32(exit-jifNext))

	PopScope(loop)

	if opts.resultUnused {
		return nilSlot(), nil
	}
	return c.compileScalarLiteral(s, value.Nil, opts)
}

// compileDo handles a sequential block compiled in a child scope; only
// the final expression propagates isTail, every sibling is compiled
// with resultUnused=true and its temporaries freed (spec.md §4.4).
func (c *Compiler) compileDo(s *Scope, args []value.Value, opts formOpts) (slot, error) {
	block := PushScope(s, true)
	defer func() { PopScope(block) }()

	if len(args) == 0 {
		if opts.resultUnused {
			return nilSlot(), nil
		}
		return c.compileScalarLiteral(block, value.Nil, opts)
	}

	for _, expr := range args[:len(args)-1] {
		if _, err := c.compile(block, expr, formOpts{resultUnused: true}); err != nil {
			return slot{}, err
		}
	}
	return c.compile(block, args[len(args)-1], opts)
}

// compileAssign handles `:=` / `set!` / `var` (spec.md §4.4): an
// up-value target evaluates the RHS freely and emits STORE_UPVALUE; a
// same-level local evaluates the RHS targeted directly at that
// register; an unresolved name declares a new local in the current
// scope and targets its register.
func (c *Compiler) compileAssign(s *Scope, args []value.Value, opts formOpts) (slot, error) {
	if len(args) != 2 {
		return slot{}, newCompileError("assignment requires exactly 2 arguments, got %d", len(args))
	}
	if args[0].Kind() != value.KindSymbol {
		return slot{}, newCompileError("assignment target must be a symbol")
	}
	name := args[0].Text()
	rhs := args[1]

	levelDelta, idx, ok := Resolve(s, name)
	switch {
	case ok && levelDelta > 0:
		rhsSlot, err := c.compileMaterialized(s, rhs)
		if err != nil {
			return slot{}, err
		}
		c.buf.emit(uint16(bytecode.STORE_UPVALUE), uint16(levelDelta), uint16(idx), uint16(rhsSlot.index))
		if opts.resultUnused {
			c.freeTemp(s, rhsSlot)
			return nilSlot(), nil
		}
		return rhsSlot, nil

	case ok:
		rhsSlot, err := c.compile(s, rhs, formOpts{target: idx, fnNameHint: name})
		if err != nil {
			return slot{}, err
		}
		if opts.resultUnused {
			return nilSlot(), nil
		}
		return rhsSlot, nil

	default:
		newIdx, err := s.Declare(name)
		if err != nil {
			return slot{}, err
		}
		rhsSlot, err := c.compile(s, rhs, formOpts{target: newIdx, fnNameHint: name})
		if err != nil {
			return slot{}, err
		}
		if opts.resultUnused {
			return nilSlot(), nil
		}
		return rhsSlot, nil
	}
}

// compileFn handles `(fn [params...] body...)`, with an optional leading
// docstring before the parameter array (spec.md §4.4): it pushes a
// function-boundary scope, declares each parameter so they occupy
// registers 0..arity-1 by construction, compiles the body with the
// final expression in tail position, and slices the emitted tail out of
// the shared buffer into a new FuncDef registered as a literal in the
// *enclosing* scope. MAKE_CLOSURE in the enclosing scope then
// materializes the closure over that literal at runtime.
func (c *Compiler) compileFn(s *Scope, args []value.Value, opts formOpts) (slot, error) {
	i := 0
	if i < len(args) && args[i].Kind() == value.KindString {
		i++ // docstring, carried on the FuncDef only informally; not stored
	}
	if i >= len(args) || args[i].Kind() != value.KindArray {
		return slot{}, newCompileError("fn requires a parameter array")
	}
	params := args[i].AsArray()
	body := args[i+1:]

	fnScope := PushScope(s, false)
	arity := params.Len()
	for p := 0; p < arity; p++ {
		sym, _ := params.Get(p)
		if sym.Kind() != value.KindSymbol {
			return slot{}, newCompileError("fn parameter must be a symbol")
		}
		if _, err := fnScope.Declare(sym.Text()); err != nil {
			return slot{}, err
		}
	}

	start := c.buf.pos()
	var last value.Value = value.Nil
	if len(body) > 0 {
		for _, expr := range body[:len(body)-1] {
			if _, err := c.compile(fnScope, expr, formOpts{resultUnused: true}); err != nil {
				return slot{}, err
			}
		}
		last = body[len(body)-1]
	}
	bodySlot, err := c.compile(fnScope, last, formOpts{isTail: true, canChoose: true})
	if err != nil {
		return slot{}, err
	}
	if !bodySlot.hasReturned {
		c.emitReturn(bodySlot)
	}

	code := c.buf.sliceFrom(start)
	c.buf.truncate(start)
	locals := fnScope.FrameSize()
	literals := append([]value.Value(nil), fnScope.literals.items...)
	PopScope(fnScope)

	defVal := value.NewFuncDef(c.alloc, arity, locals, literals, code, opts.fnNameHint)
	litIdx := s.literals.Add(defVal)

	if opts.resultUnused {
		return nilSlot(), nil
	}
	target, err := c.pickTarget(s, opts)
	if err != nil {
		return slot{}, err
	}
	c.buf.emit(uint16(bytecode.MAKE_CLOSURE), uint16(target), uint16(litIdx))
	return slot{index: target, isTemp: opts.canChoose}, nil
}
