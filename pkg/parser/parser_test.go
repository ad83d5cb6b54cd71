package parser

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kristofer/smog/pkg/gc"
	"github.com/kristofer/smog/pkg/value"
)

func newAlloc() *gc.Allocator { return gc.NewAllocator(1 << 20) }

func TestParseProgram_Number(t *testing.T) {
	v, err := New(newAlloc(), "42").ParseProgram()
	require.NoError(t, err)
	require.Equal(t, value.KindNumber, v.Kind())
	require.Equal(t, 42.0, v.AsNumber())
}

func TestParseProgram_NegativeFloat(t *testing.T) {
	v, err := New(newAlloc(), "-3.5").ParseProgram()
	require.NoError(t, err)
	require.Equal(t, -3.5, v.AsNumber())
}

func TestParseProgram_String(t *testing.T) {
	v, err := New(newAlloc(), `"hi there"`).ParseProgram()
	require.NoError(t, err)
	require.Equal(t, value.KindString, v.Kind())
	require.Equal(t, "hi there", v.Text())
}

func TestParseProgram_Symbol(t *testing.T) {
	v, err := New(newAlloc(), "foo-bar").ParseProgram()
	require.NoError(t, err)
	require.Equal(t, value.KindSymbol, v.Kind())
	require.Equal(t, "foo-bar", v.Text())
}

func TestParseProgram_BoolAndNil(t *testing.T) {
	v, err := New(newAlloc(), "true").ParseProgram()
	require.NoError(t, err)
	require.Equal(t, value.KindBool, v.Kind())
	require.True(t, v.AsBool())

	v, err = New(newAlloc(), "nil").ParseProgram()
	require.NoError(t, err)
	require.True(t, v.IsNil())
}

func TestParseProgram_Form(t *testing.T) {
	v, err := New(newAlloc(), "(+ 1 2 3)").ParseProgram()
	require.NoError(t, err)
	require.Equal(t, value.KindArray, v.Kind())
	arr := v.AsArray()
	require.Equal(t, 4, arr.Len())
	head, _ := arr.Get(0)
	require.Equal(t, value.KindSymbol, head.Kind())
	require.Equal(t, "+", head.Text())
}

func TestParseProgram_NestedForm(t *testing.T) {
	v, err := New(newAlloc(), "(if (< 3 2) \"no\" \"yes\")").ParseProgram()
	require.NoError(t, err)
	arr := v.AsArray()
	require.Equal(t, 4, arr.Len())
	cond, _ := arr.Get(1)
	require.Equal(t, value.KindArray, cond.Kind())
}

func TestParseProgram_ArrayLiteralDesugarsToForm(t *testing.T) {
	v, err := New(newAlloc(), "[1 2 3]").ParseProgram()
	require.NoError(t, err)
	require.Equal(t, value.KindArray, v.Kind())
	arr := v.AsArray()
	require.Equal(t, 4, arr.Len())
	head, _ := arr.Get(0)
	require.Equal(t, "array", head.Text())
	first, _ := arr.Get(1)
	require.Equal(t, 1.0, first.AsNumber())
}

func TestParseProgram_DictLiteralDesugarsToForm(t *testing.T) {
	v, err := New(newAlloc(), `{"a" 1 "b" 2}`).ParseProgram()
	require.NoError(t, err)
	arr := v.AsArray()
	require.Equal(t, 5, arr.Len())
	head, _ := arr.Get(0)
	require.Equal(t, "dict", head.Text())
}

func TestParseProgram_Quote(t *testing.T) {
	v, err := New(newAlloc(), "'x").ParseProgram()
	require.NoError(t, err)
	arr := v.AsArray()
	require.Equal(t, 2, arr.Len())
	head, _ := arr.Get(0)
	require.Equal(t, "quote", head.Text())
	inner, _ := arr.Get(1)
	require.Equal(t, value.KindSymbol, inner.Kind())
	require.Equal(t, "x", inner.Text())
}

func TestParseProgram_MultipleTopLevelWrappedInDo(t *testing.T) {
	v, err := New(newAlloc(), "(:= x 10) (:= y 20) (+ x y)").ParseProgram()
	require.NoError(t, err)
	arr := v.AsArray()
	require.Equal(t, 4, arr.Len())
	head, _ := arr.Get(0)
	require.Equal(t, "do", head.Text())
}

func TestParseProgram_UnterminatedFormIsError(t *testing.T) {
	_, err := New(newAlloc(), "(+ 1 2").ParseProgram()
	require.Error(t, err)
}

func TestParseProgram_FactorialSource(t *testing.T) {
	src := `(do (:= fact (fn [n acc] (if (= n 0) acc (fact (- n 1) (* acc n))))) (fact 10 1))`
	v, err := New(newAlloc(), src).ParseProgram()
	require.NoError(t, err)
	require.Equal(t, value.KindArray, v.Kind())
	head, _ := v.AsArray().Get(0)
	require.Equal(t, "do", head.Text())
}
