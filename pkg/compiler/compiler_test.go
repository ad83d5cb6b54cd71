package compiler

import (
	"testing"

	"github.com/kylelemons/godebug/pretty"
	"github.com/stretchr/testify/require"

	"github.com/kristofer/smog/pkg/bytecode"
	"github.com/kristofer/smog/pkg/gc"
	"github.com/kristofer/smog/pkg/parser"
	"github.com/kristofer/smog/pkg/value"
)

// opNames returns the mnemonic of every instruction emitted for src: the
// top-level function's code in program order, followed (depth first) by
// that of each function literal in its literal pool — a compact
// fingerprint of the emitted shape that two semantically-equivalent
// compilations should share.
func opNames(t *testing.T, src string) []string {
	t.Helper()
	alloc := gc.NewAllocator(1 << 16)
	ast, err := parser.New(alloc, src).ParseProgram()
	require.NoError(t, err)
	c := New(alloc, nil)
	def, err := c.CompileTopLevel(ast)
	require.NoError(t, err)

	var names []string
	var walk func(d *value.FuncDef)
	walk = func(d *value.FuncDef) {
		for pc := 0; pc < len(d.Code); {
			ins, next := bytecode.Decode(d.Code, pc)
			names = append(names, ins.Op.String())
			pc = next
		}
		for _, lit := range d.Literals {
			if lit.Kind() == value.KindFuncDef {
				walk(lit.AsFuncDef())
			}
		}
	}
	walk(def)
	return names
}

// TestCompileArithmetic_EmitsNaryOp asserts a variadic call to `+`
// compiles to the single ADD_N opcode rather than a chain of binary
// ADDs (spec.md §4.4's n-ary arithmetic folding).
func TestCompileArithmetic_EmitsNaryOp(t *testing.T) {
	got := opNames(t, "(+ 1 2 3 4)")
	want := []string{"LOAD_1", "LOAD_I16", "LOAD_I16", "LOAD_I16", "ADD_N", "RETURN"}
	if diff := pretty.Compare(want, got); diff != "" {
		t.Errorf("opcode shape mismatch (-want +got):\n%s", diff)
	}
}

// TestCompileIf_EmitsJumps asserts an `if` form in non-tail position
// (here, the right-hand side of an assignment) compiles to a conditional
// jump followed by an unconditional jump over the else branch, per
// spec.md §4.4's control-flow lowering. In tail position each branch
// returns on its own and no JMP is emitted.
func TestCompileIf_EmitsJumps(t *testing.T) {
	got := opNames(t, `(:= x (if true 1 2))`)
	require.Contains(t, got, "JIF")
	require.Contains(t, got, "JMP")
}

// TestCompileFn_EmitsClosureConstruction confirms a `fn` literal
// produces MAKE_CLOSURE rather than inlining the function body.
func TestCompileFn_EmitsClosureConstruction(t *testing.T) {
	got := opNames(t, `(fn [x] x)`)
	require.Contains(t, got, "MAKE_CLOSURE")
}

// TestCompileTailCall_FlattensRecursion asserts a self-call in tail
// position compiles to TAIL_CALL, not CALL followed by RETURN.
func TestCompileTailCall_FlattensRecursion(t *testing.T) {
	src := `(:= fact (fn [n] (if (= n 0) n (fact (- n 1)))))`
	got := opNames(t, src)
	require.NotContains(t, got, "CALL")
	require.Contains(t, got, "TAIL_CALL")
}
