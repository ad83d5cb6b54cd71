package vm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kristofer/smog/pkg/gc"
	"github.com/kristofer/smog/pkg/value"
)

// The TestPrimitives_Len*, _Type* and _Str* tests exercise the installed
// natives through a real compile+run pipeline rather than calling
// vm.primLen directly, to confirm the native dispatch path of the call
// opcodes reaches them correctly. TestPrimitives_LenRejectsWrongArity
// calls vm.primLen directly.
func TestPrimitives_LenArray(t *testing.T) {
	require.Equal(t, 3.0, run(t, "(len [1 2 3])").AsNumber())
}

func TestPrimitives_LenString(t *testing.T) {
	require.Equal(t, 5.0, run(t, `(len "hello")`).AsNumber())
}

func TestPrimitives_TypeOfNumber(t *testing.T) {
	require.Equal(t, "number", run(t, "(type 42)").Text())
}

func TestPrimitives_TypeOfArray(t *testing.T) {
	require.Equal(t, "array", run(t, "(type [1 2])").Text())
}

func TestPrimitives_StrConcatenatesArguments(t *testing.T) {
	require.Equal(t, "hello42", run(t, `(str "hello" 42)`).Text())
}

func TestPrimitives_LenRejectsWrongArity(t *testing.T) {
	alloc := gc.NewAllocator(1 << 20)
	vm := New(Config{Alloc: alloc})
	_, err := vm.primLen(value.NewArgs(nil))
	require.Error(t, err)
}
