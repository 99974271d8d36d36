package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Exceptions
// ---------------------------------------------------------------------------

// Names of the built-in exception classes. All of them extend Exception.
const (
	ExException           = "Exception"
	ExIllegalState        = "IllegalState"
	ExIllegalArgument     = "IllegalArgument"
	ExArityMismatch       = "ArityMismatch"
	ExUnassignedReference = "UnassignedReference"
	ExImmutableObject     = "ImmutableObject"
	ExOutOfBounds         = "OutOfBounds"
	ExDivisionByZero      = "DivisionByZero"
	ExNotShareable        = "NotShareable"
	ExTypeMismatch        = "TypeMismatch"
	ExAssertionFailed     = "AssertionFailed"
	ExStackOverflow       = "StackOverflow"
	ExIOException         = "IOException"
	ExTimeoutException    = "TimeoutException"
)

var builtinExceptions = []string{
	ExIllegalState, ExIllegalArgument, ExArityMismatch, ExUnassignedReference,
	ExImmutableObject, ExOutOfBounds, ExDivisionByZero, ExNotShareable,
	ExTypeMismatch, ExAssertionFailed, ExStackOverflow, ExIOException,
	ExTimeoutException,
}

// ExceptionHandle is a user-visible exception. It is an immutable value and
// may be caught by guards.
type ExceptionHandle struct {
	Class   *Class
	Message string
	Cause   *ExceptionHandle
	// Object is the thrown user object when the exception class is declared
	// in a module; nil for exceptions raised by the runtime.
	Object *ObjectHandle
	// Trace records "Class.method/n@ip" for each frame the exception
	// unwound through, innermost first.
	Trace []string
}

// NewException creates an exception of class c.
func NewException(c *Class, msg string) *ExceptionHandle {
	return &ExceptionHandle{Class: c, Message: msg}
}

func (*ExceptionHandle) Kind() Kind      { return KindException }
func (*ExceptionHandle) IsMutable() bool { return false }

func (e *ExceptionHandle) String() string {
	if e.Message == "" {
		return e.Class.Name
	}
	return e.Class.Name + ": " + e.Message
}

// Error lets an uncaught exception be reported as a Go error.
func (e *ExceptionHandle) Error() string { return e.String() }

// Report renders the exception with its cause chain and trace.
func (e *ExceptionHandle) Report() string {
	var b strings.Builder
	for ex := e; ex != nil; ex = ex.Cause {
		if ex != e {
			b.WriteString("caused by: ")
		}
		b.WriteString(ex.String())
		b.WriteByte('\n')
		for _, t := range ex.Trace {
			b.WriteString("    at ")
			b.WriteString(t)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// ---------------------------------------------------------------------------
// Internal errors
// ---------------------------------------------------------------------------

// InternalError reports a violated compile-time contract, such as a super
// call with no active chain. It travels as a Go panic, is never visible to
// guards, and terminates the fiber that raised it.
type InternalError struct {
	Msg    string
	Method string
	IP     int
}

func (e *InternalError) Error() string {
	if e.Method == "" {
		return "internal error: " + e.Msg
	}
	return fmt.Sprintf("internal error in %s at ip %d: %s", e.Method, e.IP, e.Msg)
}

// internalf panics with an InternalError.
func internalf(format string, args ...any) {
	panic(&InternalError{Msg: fmt.Sprintf(format, args...)})
}
