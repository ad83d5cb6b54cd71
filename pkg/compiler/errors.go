package compiler

import "github.com/pkg/errors"

// CompileError is the error kind spec.md §7 calls "compile": symbol
// undefined, wrong arity for a special form, invalid function
// parameters, too many locals, malformed literal, invalid scope pop, or
// double slot free. Compilation aborts on the first one; the compiler
// discards its partial scope chain and the caller receives this error's
// message.
type CompileError struct {
	cause error
}

func (e *CompileError) Error() string { return e.cause.Error() }
func (e *CompileError) Unwrap() error { return e.cause }

func newCompileError(format string, args ...interface{}) error {
	return &CompileError{cause: errors.Errorf(format, args...)}
}

func wrapCompileError(err error, msg string) error {
	return &CompileError{cause: errors.Wrap(err, msg)}
}
