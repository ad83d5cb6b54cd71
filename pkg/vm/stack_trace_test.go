package vm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kristofer/smog/pkg/compiler"
	"github.com/kristofer/smog/pkg/gc"
	"github.com/kristofer/smog/pkg/parser"
)

// TestStackTraceOnError asserts that an unhandled runtime error carries
// a non-empty stack trace naming the function it propagated through
// (spec.md §7: runtime errors unwind the frame stack reporting it).
func TestStackTraceOnError(t *testing.T) {
	alloc := gc.NewAllocator(1 << 20)
	src := `(do
		(:= divide (fn [a b] (/ a b)))
		(divide 10 "oops"))`

	ast, err := parser.New(alloc, src).ParseProgram()
	require.NoError(t, err)
	c := compiler.New(alloc, nil)
	def, err := c.CompileTopLevel(ast)
	require.NoError(t, err)

	vm := New(Config{Alloc: alloc})
	_, err = vm.Run(def)
	require.Error(t, err)

	rtErr, ok := err.(*RuntimeError)
	require.True(t, ok, "expected *RuntimeError, got %T", err)
	require.NotEmpty(t, rtErr.StackTrace)
	require.Equal(t, "divide", rtErr.StackTrace[0].Name)
	require.NotEmpty(t, rtErr.ThreadID)
}

func TestStackTraceOnError_LeavesErrorOnVMRoot(t *testing.T) {
	alloc := gc.NewAllocator(1 << 20)
	src := `(do (:= f (fn [] (/ 1 "x"))) (f))`

	ast, err := parser.New(alloc, src).ParseProgram()
	require.NoError(t, err)
	c := compiler.New(alloc, nil)
	def, err := c.CompileTopLevel(ast)
	require.NoError(t, err)

	vm := New(Config{Alloc: alloc})
	_, err = vm.Run(def)
	require.Error(t, err)
	require.False(t, vm.LastError().IsNil())
}
