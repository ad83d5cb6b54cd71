package vm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kristofer/smog/pkg/compiler"
	"github.com/kristofer/smog/pkg/gc"
	"github.com/kristofer/smog/pkg/parser"
	"github.com/kristofer/smog/pkg/value"
)

// run parses, compiles, and executes src on a fresh VM, returning its
// final value. It is the shared harness for the end-to-end scenario
// tests in this package that need no VM setup of their own.
func run(t *testing.T, src string) value.Value {
	t.Helper()
	alloc := gc.NewAllocator(1 << 20)
	ast, err := parser.New(alloc, src).ParseProgram()
	require.NoError(t, err)

	globals := NewGlobals(alloc)
	c := compiler.New(alloc, globals)
	def, err := c.CompileTopLevel(ast)
	require.NoError(t, err)

	vm := New(Config{Alloc: alloc, RootEnv: globals})
	result, err := vm.Run(def)
	require.NoError(t, err)
	return result
}

func TestVM_NumberLiteral(t *testing.T) {
	require.Equal(t, 42.0, run(t, "42").AsNumber())
}

func TestVM_StringLiteral(t *testing.T) {
	require.Equal(t, "hello", run(t, `"hello"`).Text())
}

func TestVM_BooleanLiterals(t *testing.T) {
	require.True(t, run(t, "true").AsBool())
	require.False(t, run(t, "false").AsBool())
}

func TestVM_NilLiteral(t *testing.T) {
	require.True(t, run(t, "nil").IsNil())
}

// TestVM_VariadicAdd checks that a single `+` call sums all three of
// its arguments.
func TestVM_VariadicAdd(t *testing.T) {
	require.Equal(t, 6.0, run(t, "(+ 1 2 3)").AsNumber())
}

func TestVM_SequentialAssignment(t *testing.T) {
	v := run(t, "(do (:= x 10) (:= y 20) (+ x y))")
	require.Equal(t, 30.0, v.AsNumber())
}

func TestVM_ClosureMakeAdder(t *testing.T) {
	src := `(do
		(:= make-adder (fn [n] (fn [x] (+ x n))))
		(:= add5 (make-adder 5))
		(add5 37))`
	require.Equal(t, 42.0, run(t, src).AsNumber())
}

func TestVM_TailRecursiveFactorial(t *testing.T) {
	src := `(do
		(:= fact (fn [n acc] (if (= n 0) acc (fact (- n 1) (* acc n)))))
		(fact 10 1))`
	require.Equal(t, 3628800.0, run(t, src).AsNumber())
}

func TestVM_DictMutation(t *testing.T) {
	src := `(do
		(:= d {"a" 100})
		(set d "a" 101)
		(get d "a"))`
	require.Equal(t, 101.0, run(t, src).AsNumber())
}

func TestVM_IfFalseBranch(t *testing.T) {
	v := run(t, `(if (< 3 2) "no" "yes")`)
	require.Equal(t, "yes", v.Text())
}

func TestVM_ArrayIndexing(t *testing.T) {
	src := `(do (:= a [10 20 30]) (get a 1))`
	require.Equal(t, 20.0, run(t, src).AsNumber())
}

func TestVM_DeepTailRecursionDoesNotGrowFrameStack(t *testing.T) {
	alloc := gc.NewAllocator(1 << 20)
	src := `(do
		(:= loop (fn [n] (if (= n 0) "done" (loop (- n 1)))))
		(loop 100000))`
	ast, err := parser.New(alloc, src).ParseProgram()
	require.NoError(t, err)
	c := compiler.New(alloc, nil)
	def, err := c.CompileTopLevel(ast)
	require.NoError(t, err)

	vm := New(Config{Alloc: alloc})
	result, err := vm.Run(def)
	require.NoError(t, err)
	require.Equal(t, "done", result.Text())
}
