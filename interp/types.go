// Package interp is the register-based bytecode interpreter: it executes a
// loaded bytecode.Proto tree against a value.Value stack, dispatching
// metamethods where a primitive operation does not apply and scheduling
// coroutines as stackful fibres.
package interp

import (
	"github.com/rockercheng/uvm/bytecode"
	"github.com/rockercheng/uvm/errs"
	"github.com/rockercheng/uvm/value"
)

// Frame is one activation record: a window of registers on the owning
// Thread's shared stack, a program counter into the active prototype, and
// the upvalue bindings of the closure being run.
type Frame struct {
	Closure *value.Closure
	Proto   *bytecode.Proto // nil for native closures, which never reach execute
	Base    int             // register 0's index into Thread.Stack
	PC      int             // 0-based index into Proto.Code
	Varargs []value.Value

	// Top tracks "one past the last live register" after an instruction
	// that produces a variable number of results (CALL/VARARG with a
	// zero count operand). -1 means no such instruction has run yet in
	// this frame; consulting it otherwise is a loader-validated
	// precondition, not a runtime check.
	Top int

	// openUpvals lists upvalues this frame has opened, so JMP-with-close
	// and frame return can close them without a global registry scan.
	openUpvals []*value.Upvalue

	Caller *Frame
}

// Thread is one stackful fibre: its own value stack and frame chain. The
// main thread and every coroutine each own one Thread; Thread itself knows
// nothing about scheduling, only about holding state between instructions.
type Thread struct {
	Stack []value.Value
	Depth int
	Top   *Frame

	// TopBase is the register index one past the highest allocated
	// frame window: the next frame's Base.
	TopBase int

	// Co is nil for the main thread; set for a thread driving a
	// value.Coroutine body, so native library functions (coroutine.yield)
	// can find their way back to the scheduler.
	Co *value.Coroutine
}

// NewThread allocates an empty thread with no active frame.
func NewThread() *Thread { return &Thread{} }

func (th *Thread) ensure(n int) {
	for len(th.Stack) <= n {
		th.Stack = append(th.Stack, nil)
	}
}

func (th *Thread) setReg(base, r int, v value.Value) {
	th.ensure(base + r)
	th.Stack[base+r] = v
}

func (th *Thread) getReg(base, r int) value.Value {
	idx := base + r
	if idx < 0 || idx >= len(th.Stack) {
		return nil
	}
	return th.Stack[idx]
}

// Interp holds the per-engine interpreter configuration: recursion bound,
// interrupt flag and process-wide (really: per-engine) type metatables.
// Design Notes calls out that this kind of state must be owned by the
// engine, never ambient -- so every method here takes the Interp it
// belongs to explicitly rather than reading package-level globals.
type Interp struct {
	MaxCallDepth int
	TypeMeta     map[value.Tag]*value.Table

	// Stop is polled between instructions and at host-boundary crossings;
	// when true the running call raises a non-catchable Interrupted
	// error. It is a pointer-to-bool so that code outside the running call
	// can hold the same flag and set it; NewInterp starts it false.
	Stop *bool

	// Hooks, any of which may be nil, fire at the listed transitions.
	// Hooks must not suspend execution across a call boundary: they run
	// synchronously inline with the instruction that triggered them.
	Hooks Hooks
}

// Hooks are optional debug/trace callbacks.
type Hooks struct {
	Instruction func(th *Thread, f *Frame)
	Line        func(th *Thread, f *Frame, line uint32)
	Call        func(th *Thread, f *Frame)
	Return      func(th *Thread, f *Frame)
}

// NewInterp builds an interpreter with the given call-depth bound.
func NewInterp(maxCallDepth int) *Interp {
	stop := false
	return &Interp{
		MaxCallDepth: maxCallDepth,
		TypeMeta:     map[value.Tag]*value.Table{},
		Stop:         &stop,
	}
}

func (in *Interp) checkStop() error {
	if in.Stop != nil && *in.Stop {
		return errs.Interrupted()
	}
	return nil
}
