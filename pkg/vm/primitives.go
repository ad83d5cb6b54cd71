// Package vm - host-provided native functions.
//
// spec.md §1 places "the standard library of host-provided functions"
// out of scope as an external collaborator; what the VM owns is the
// native-function ABI itself (spec.md §6). NewGlobals registers just
// enough natives to exercise that ABI end to end — printing,
// stringification, length/type introspection — rather than rebuilding
// a full standard library. The returned table doubles as the root
// environment the compiler resolves bare global symbols against
// (spec.md §6), so a native installed here becomes a callable name in
// source the moment it is registered.
package vm

import (
	"fmt"

	"github.com/kristofer/smog/pkg/gc"
	"github.com/kristofer/smog/pkg/value"
)

// NewGlobals builds the root environment a VM and its compiler share:
// a table of installed natives, keyed by symbol. Pass the same table to
// both vm.New (via Config.RootEnv) and compiler.New so compiled source
// can call `print`, `str`, `len`, and `type` by name.
func NewGlobals(alloc *gc.Allocator) *value.Table {
	g := value.NewTable(alloc).AsTable()
	register(alloc, g, "print", primPrint)
	register(alloc, g, "str", func(args *value.Args) (value.Value, error) { return primStr(alloc, args) })
	register(alloc, g, "len", primLen)
	register(alloc, g, "type", func(args *value.Args) (value.Value, error) { return primType(alloc, args) })
	return g
}

func register(alloc *gc.Allocator, g *value.Table, name string, fn func(args *value.Args) (value.Value, error)) {
	g.Put(value.NewSymbol(alloc, name), value.NewNativeFunc(alloc, name, fn))
}

// thin wrappers preserved for tests that call these as VM methods.
func (vm *VM) primPrint(args *value.Args) (value.Value, error) { return primPrint(args) }
func (vm *VM) primStr(args *value.Args) (value.Value, error)  { return primStr(vm.Alloc, args) }
func (vm *VM) primLen(args *value.Args) (value.Value, error)  { return primLen(args) }
func (vm *VM) primType(args *value.Args) (value.Value, error) { return primType(vm.Alloc, args) }

func primPrint(args *value.Args) (value.Value, error) {
	for i := 0; i < args.Count(); i++ {
		if i > 0 {
			fmt.Print(" ")
		}
		fmt.Print(displayString(args.Arg(i)))
	}
	fmt.Println()
	return value.Nil, nil
}

func primStr(alloc *gc.Allocator, args *value.Args) (value.Value, error) {
	var s string
	for i := 0; i < args.Count(); i++ {
		s += displayString(args.Arg(i))
	}
	return value.NewString(alloc, s), nil
}

func primLen(args *value.Args) (value.Value, error) {
	if args.Count() != 1 {
		return value.Nil, fmt.Errorf("len requires exactly 1 argument, got %d", args.Count())
	}
	v := args.Arg(0)
	switch v.Kind() {
	case value.KindString, value.KindSymbol:
		return value.Number(float64(v.AsString().Len())), nil
	case value.KindArray:
		return value.Number(float64(v.AsArray().Len())), nil
	case value.KindTable:
		return value.Number(float64(v.AsTable().Len())), nil
	case value.KindBuffer:
		return value.Number(float64(v.AsBuffer().Len())), nil
	default:
		return value.Nil, fmt.Errorf("len: cannot measure a %s", v.Kind())
	}
}

func primType(alloc *gc.Allocator, args *value.Args) (value.Value, error) {
	if args.Count() != 1 {
		return value.Nil, fmt.Errorf("type requires exactly 1 argument, got %d", args.Count())
	}
	return value.NewSymbol(alloc, args.Arg(0).Kind().String()), nil
}

// FormatValue exposes displayString for callers outside this package
// (the cmd/smog driver uses it to print a run's result).
func FormatValue(v value.Value) string { return displayString(v) }

// displayString renders v the way print/str present it: no quoting for
// strings, recursively for arrays/dicts.
func displayString(v value.Value) string {
	switch v.Kind() {
	case value.KindNil:
		return "nil"
	case value.KindBool:
		if v.AsBool() {
			return "true"
		}
		return "false"
	case value.KindNumber:
		return formatNumber(v.AsNumber())
	case value.KindString, value.KindSymbol:
		return v.Text()
	case value.KindArray:
		a := v.AsArray()
		s := "["
		for i := 0; i < a.Len(); i++ {
			if i > 0 {
				s += " "
			}
			elem, _ := a.Get(i)
			s += displayString(elem)
		}
		return s + "]"
	case value.KindTable:
		s := "{"
		first := true
		v.AsTable().Each(func(k, val value.Value) {
			if !first {
				s += " "
			}
			first = false
			s += displayString(k) + " " + displayString(val)
		})
		return s + "}"
	case value.KindFunction:
		name := v.AsFunc().Def.Name
		if name == "" {
			name = "anonymous"
		}
		return "<fn " + name + ">"
	case value.KindNative:
		return "<native " + v.AsNativeFunc().Name + ">"
	case value.KindThread:
		return "<thread " + v.AsThread().ID.String() + ">"
	default:
		return "<" + v.Kind().String() + ">"
	}
}

func formatNumber(n float64) string {
	if n == float64(int64(n)) {
		return fmt.Sprintf("%d", int64(n))
	}
	return fmt.Sprintf("%g", n)
}
