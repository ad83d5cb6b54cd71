// Package value implements the tagged-union runtime value that flows
// through the compiler and the virtual machine: nil, booleans, numbers,
// strings, symbols, byte buffers, arrays, tables, closures, native
// functions, function definitions, captured environments, and threads.
//
// Scalars (nil, bool, number) carry their data inline in a Value. Every
// other kind is a reference to a heap object tracked by package gc; the
// Value itself is always copied by value, while the object it points at
// is shared.
package value

import "github.com/kristofer/smog/pkg/gc"

// Kind tags the variant a Value currently holds.
type Kind uint8

const (
	KindNil Kind = iota
	KindBool
	KindNumber
	KindString
	KindSymbol
	KindBuffer
	KindArray
	KindTable
	KindFunction
	KindNative
	KindFuncDef
	KindFuncEnv
	KindThread
)

func (k Kind) String() string {
	switch k {
	case KindNil:
		return "nil"
	case KindBool:
		return "boolean"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindSymbol:
		return "symbol"
	case KindBuffer:
		return "buffer"
	case KindArray:
		return "array"
	case KindTable:
		return "table"
	case KindFunction:
		return "function"
	case KindNative:
		return "native"
	case KindFuncDef:
		return "funcdef"
	case KindFuncEnv:
		return "funcenv"
	case KindThread:
		return "thread"
	default:
		return "unknown"
	}
}

// Value is the tagged union every register, literal, argument, and
// returned result is represented by throughout the compiler and VM.
type Value struct {
	kind   Kind
	num    float64
	bl     bool
	heap   gc.Traceable
}

// Nil is the singleton nil value.
var Nil = Value{kind: KindNil}

// Bool constructs a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, bl: b} }

// Number constructs a number value.
func Number(n float64) Value { return Value{kind: KindNumber, num: n} }

// Kind reports which variant v holds.
func (v Value) Kind() Kind { return v.kind }

// IsNil reports whether v is the nil value.
func (v Value) IsNil() bool { return v.kind == KindNil }

// AsBool returns the boolean payload; only meaningful when Kind() == KindBool.
func (v Value) AsBool() bool { return v.bl }

// AsNumber returns the numeric payload; only meaningful when Kind() == KindNumber.
func (v Value) AsNumber() float64 { return v.num }

// Heap returns the heap object backing v, or nil for scalar kinds.
func (v Value) Heap() gc.Traceable { return v.heap }

// Truthy implements the language's truthiness rule: everything except nil
// and boolean false is truthy (spec.md §4.5, §9 glossary).
func (v Value) Truthy() bool {
	switch v.kind {
	case KindNil:
		return false
	case KindBool:
		return v.bl
	default:
		return true
	}
}

// Trace reports the heap object v references to visit, if any. Scalars
// and Values with no backing object do nothing.
func (v Value) Trace(visit func(gc.Traceable)) {
	if v.heap != nil {
		visit(v.heap)
	}
}

func fromHeap(k Kind, h gc.Traceable) Value {
	return Value{kind: k, heap: h}
}
