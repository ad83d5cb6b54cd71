// Package test provides end-to-end integration tests driving the full
// lexer -> parser -> compiler -> VM pipeline over complete programs,
// the golden scenarios spec.md §8 names as the system's testable
// properties.
package test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kristofer/smog/pkg/compiler"
	"github.com/kristofer/smog/pkg/gc"
	"github.com/kristofer/smog/pkg/parser"
	"github.com/kristofer/smog/pkg/value"
	"github.com/kristofer/smog/pkg/vm"
)

// evalNumber runs src end to end and requires the result be a number,
// returning it for comparison.
func evalNumber(t *testing.T, src string) float64 {
	t.Helper()
	v := eval(t, src)
	require.Equal(t, value.KindNumber, v.Kind(), "program: %s", src)
	return v.AsNumber()
}

func eval(t *testing.T, src string) value.Value {
	t.Helper()
	alloc := gc.NewAllocator(1 << 16)
	ast, err := parser.New(alloc, src).ParseProgram()
	require.NoError(t, err, "parse: %s", src)

	c := compiler.New(alloc, nil)
	def, err := c.CompileTopLevel(ast)
	require.NoError(t, err, "compile: %s", src)

	machine := vm.New(vm.Config{Alloc: alloc})
	result, err := machine.Run(def)
	require.NoError(t, err, "run: %s", src)
	return result
}

// TestGoldenScenarios reproduces the six literal end-to-end scenarios
// spec.md §8 specifies as acceptance behavior for a complete
// implementation.
func TestGoldenScenarios(t *testing.T) {
	t.Run("variadic addition", func(t *testing.T) {
		require.Equal(t, 6.0, evalNumber(t, "(+ 1 2 3)"))
	})

	t.Run("sequential assignment", func(t *testing.T) {
		require.Equal(t, 30.0, evalNumber(t, "(do (:= x 10) (:= y 20) (+ x y))"))
	})

	t.Run("closures via make-adder", func(t *testing.T) {
		src := `(do
			(:= make-adder (fn [n] (fn [x] (+ x n))))
			(:= add5 (make-adder 5))
			(add5 37))`
		require.Equal(t, 42.0, evalNumber(t, src))
	})

	t.Run("tail-recursive factorial", func(t *testing.T) {
		src := `(do
			(:= fact (fn [n acc] (if (= n 0) acc (fact (- n 1) (* acc n)))))
			(fact 10 1))`
		require.Equal(t, 3628800.0, evalNumber(t, src))
	})

	t.Run("dict mutation", func(t *testing.T) {
		src := `(do
			(:= d {"k" 100})
			(set d "k" 101)
			(get d "k"))`
		require.Equal(t, 101.0, evalNumber(t, src))
	})

	t.Run("if selects false branch", func(t *testing.T) {
		v := eval(t, `(if (< 3 2) "no" "yes")`)
		require.Equal(t, "yes", v.Text())
	})
}

// TestEndToEnd_RecursiveFibonacci exercises ordinary (non-tail)
// recursion, where each call grows the frame stack, alongside the
// tail-recursive factorial scenario above.
func TestEndToEnd_RecursiveFibonacci(t *testing.T) {
	src := `(do
		(:= fib (fn [n] (if (< n 2) n (+ (fib (- n 1)) (fib (- n 2))))))
		(fib 15))`
	require.Equal(t, 610.0, evalNumber(t, src))
}

// TestEndToEnd_MutualClosuresShareUpvalues verifies that two closures
// created in the same call both observe a later mutation of a shared
// captured variable made by assigning to it with `:=` from inside one
// of them (the closures are fetched from the returned array with `get`).
func TestEndToEnd_MutualClosuresShareUpvalues(t *testing.T) {
	src := `(do
		(:= make-counter (fn []
			(do
				(:= n 0)
				(array
					(fn [] (do (:= n (+ n 1)) n))
					(fn [] n)))))
		(:= pair (make-counter))
		(:= inc (get pair 0))
		(:= peek (get pair 1))
		(inc)
		(inc)
		(peek))`
	require.Equal(t, 2.0, evalNumber(t, src))
}

// TestEndToEnd_NestedArraysAndDicts exercises the array/dict literal
// desugaring together with nested indexing.
func TestEndToEnd_NestedArraysAndDicts(t *testing.T) {
	src := `(do
		(:= data {"nums" [1 2 3]})
		(:= nums (get data "nums"))
		(get nums 2))`
	require.Equal(t, 3.0, evalNumber(t, src))
}
