package vm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kristofer/smog/pkg/compiler"
	"github.com/kristofer/smog/pkg/gc"
	"github.com/kristofer/smog/pkg/parser"
)

// TestReturnFromNestedCall asserts that RETURN unwinds exactly one
// frame: a call three deep returns its value straight to its immediate
// caller without disturbing the grandparent's register window.
func TestReturnFromNestedCall(t *testing.T) {
	src := `(do
		(:= inner (fn [] 7))
		(:= middle (fn [] (+ (inner) 1)))
		(:= outer (fn [] (+ (middle) 10)))
		(outer))`
	require.Equal(t, 18.0, run(t, src).AsNumber())
}

// TestClosureEnvDetachedAfterReturn exercises doReturn's Env.Detach
// path: the returned closure keeps reading captured values correctly
// after its defining frame has already popped off the stack.
func TestClosureEnvDetachedAfterReturn(t *testing.T) {
	src := `(do
		(:= make-counter (fn [start] (fn [] (+ start 1))))
		(:= c (make-counter 41))
		(c))`
	require.Equal(t, 42.0, run(t, src).AsNumber())
}

// TestMultipleClosuresShareDetachedEnv asserts that two closures
// captured from the same now-returned frame still see the same
// up-value storage.
func TestMultipleClosuresShareDetachedEnv(t *testing.T) {
	alloc := gc.NewAllocator(1 << 20)
	src := `(do
		(:= make-pair (fn [n]
			(array (fn [] n) (fn [] (* n 2)))))
		(:= pair (make-pair 5))
		(:= first (get pair 0))
		(:= second (get pair 1))
		(+ (first) (second)))`
	ast, err := parser.New(alloc, src).ParseProgram()
	require.NoError(t, err)
	c := compiler.New(alloc, nil)
	def, err := c.CompileTopLevel(ast)
	require.NoError(t, err)

	vm := New(Config{Alloc: alloc})
	result, err := vm.Run(def)
	require.NoError(t, err)
	require.Equal(t, 15.0, result.AsNumber())
}
