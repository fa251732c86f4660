// Package errs defines the engine's typed error taxonomy. Every error the
// interpreter, loader, storage layer or call proxy raises is one of these
// kinds, carrying a short message and, where the active prototype has line
// info, a source location -- so a host embedding the engine can report a
// failure without having to string-match error text.
package errs

import "fmt"

// Kind identifies which branch of the taxonomy an error belongs to.
type Kind uint8

const (
	KindCompile Kind = iota
	KindRuntime
	KindStackOverflow
	KindStorage
	KindHost
	KindPolicy
	KindInterrupted
	KindProtocol
)

func (k Kind) String() string {
	switch k {
	case KindCompile:
		return "CompileError"
	case KindRuntime:
		return "RuntimeError"
	case KindStackOverflow:
		return "StackOverflow"
	case KindStorage:
		return "StorageError"
	case KindHost:
		return "HostError"
	case KindPolicy:
		return "PolicyError"
	case KindInterrupted:
		return "Interrupted"
	case KindProtocol:
		return "ProtocolError"
	default:
		return "UnknownError"
	}
}

// Location is the source position an error is attributed to, derived from
// the active prototype's line-info table. Source is the prototype's debug
// name, not its chunk name, since that is what a contract author will
// recognise.
type Location struct {
	Source string
	Line   uint32
}

func (l Location) String() string {
	if l.Source == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", l.Source, l.Line)
}

// Error is the concrete type behind every error this engine raises outside
// the bytecode loader (which keeps its own CompileError for historical
// reasons tied to the wire format and wraps it here at the boundary).
type Error struct {
	Kind     Kind
	Message  string
	Location Location

	// catchable is false for StackOverflow and Interrupted: both must
	// unwind straight through any pcall marker per the propagation rule.
	catchable bool

	// Cause is the underlying error this one wraps, if any -- usually a
	// sentinel from package value (ErrDivideByZero, ErrReadonly, ...).
	Cause error
}

func (e *Error) Error() string {
	loc := e.Location.String()
	if loc != "" {
		return fmt.Sprintf("%s: %s: %s", loc, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Catchable reports whether a pcall-protected region may intercept this
// error. StackOverflow and Interrupted always return false.
func (e *Error) Catchable() bool { return e.catchable }

func newf(k Kind, catchable bool, format string, args ...any) *Error {
	return &Error{Kind: k, Message: fmt.Sprintf(format, args...), catchable: catchable}
}

// Compile builds a CompileError. The loader package has its own
// CompileError type at the wire-format boundary; engine-level code that
// needs to surface a load failure through this taxonomy wraps it with this
// constructor.
func Compile(format string, args ...any) *Error { return newf(KindCompile, true, format, args...) }

// Runtime builds a RuntimeError: a type error, arithmetic trap, nil index,
// read-only write or failed metamethod dispatch encountered while
// executing bytecode.
func Runtime(format string, args ...any) *Error { return newf(KindRuntime, true, format, args...) }

// RuntimeAt is Runtime with an explicit source location attached.
func RuntimeAt(loc Location, format string, args ...any) *Error {
	e := newf(KindRuntime, true, format, args...)
	e.Location = loc
	return e
}

// StackOverflow builds a non-catchable StackOverflow error.
func StackOverflow(format string, args ...any) *Error {
	return newf(KindStackOverflow, false, format, args...)
}

// Storage builds a StorageError: an unrepresentable value, a depth bound
// exceeded while serializing, or a host-rejected commit.
func Storage(format string, args ...any) *Error { return newf(KindStorage, true, format, args...) }

// Host builds a HostError: a host-interface call returned failure.
func Host(format string, args ...any) *Error { return newf(KindHost, true, format, args...) }

// Policy builds a PolicyError: a static-call write/emit/transfer attempt, a
// non-entry contract calling a special API, or a write to a read-only
// table.
func Policy(format string, args ...any) *Error { return newf(KindPolicy, true, format, args...) }

// Interrupted builds a non-catchable Interrupted error, raised when the
// engine's stop flag is observed between instructions.
func Interrupted() *Error {
	return newf(KindInterrupted, false, "execution interrupted")
}

// Protocol builds a ProtocolError: a loaded contract's API set disagrees
// with its host-declared metadata.
func Protocol(format string, args ...any) *Error { return newf(KindProtocol, true, format, args...) }

// Wrap attaches an existing error as the Cause of a new typed Error,
// reusing its message as the wrapped error's own.
func Wrap(k Kind, cause error) *Error {
	return &Error{Kind: k, Message: cause.Error(), catchable: k != KindStackOverflow && k != KindInterrupted, Cause: cause}
}

// As reports whether err is an *Error of the given kind, returning it if so.
func As(err error, k Kind) (*Error, bool) {
	e, ok := err.(*Error)
	if !ok || e.Kind != k {
		return nil, false
	}
	return e, true
}
