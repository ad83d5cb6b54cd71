package vm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kristofer/smog/pkg/gc"
	"github.com/kristofer/smog/pkg/value"
)

func TestFormatNumber_Integral(t *testing.T) {
	require.Equal(t, "42", formatNumber(42))
	require.Equal(t, "-7", formatNumber(-7))
	require.Equal(t, "0", formatNumber(0))
}

func TestFormatNumber_Fractional(t *testing.T) {
	require.Equal(t, "3.14", formatNumber(3.14))
}

func TestDisplayString_Scalars(t *testing.T) {
	require.Equal(t, "nil", displayString(value.Nil))
	require.Equal(t, "true", displayString(value.Bool(true)))
	require.Equal(t, "false", displayString(value.Bool(false)))
	require.Equal(t, "42", displayString(value.Number(42)))
}

func TestDisplayString_Array(t *testing.T) {
	alloc := gc.NewAllocator(1 << 20)
	arr := value.NewArray(alloc, 2)
	a := arr.AsArray()
	a.Push(value.Number(1))
	a.Push(value.Number(2))
	require.Equal(t, "[1 2]", displayString(arr))
}

func TestDisplayString_String(t *testing.T) {
	alloc := gc.NewAllocator(1 << 20)
	require.Equal(t, "hi", displayString(value.NewString(alloc, "hi")))
}

func TestPrimType_RejectsWrongArity(t *testing.T) {
	alloc := gc.NewAllocator(1 << 20)
	vm := New(Config{Alloc: alloc})
	_, err := vm.primType(value.NewArgs([]value.Value{value.Number(1), value.Number(2)}))
	require.Error(t, err)
}

func TestPrimStr_EmptyArgsReturnsEmptyString(t *testing.T) {
	alloc := gc.NewAllocator(1 << 20)
	vm := New(Config{Alloc: alloc})
	v, err := vm.primStr(value.NewArgs(nil))
	require.NoError(t, err)
	require.Equal(t, "", v.Text())
}
