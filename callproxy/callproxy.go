// Package callproxy implements the identity stack every cross-contract
// invocation pushes a frame onto, and the trampoline that wraps each
// loaded contract's public API so entering it — whether as the
// transaction's top-level entry point or as a nested cross-contract call —
// always goes through the same bookkeeping.
package callproxy

import (
	"github.com/rockercheng/uvm/errs"
	"github.com/rockercheng/uvm/value"
)

// CallType distinguishes how a contract API was entered, mirroring the
// call opcode a caller used to reach it.
type CallType string

const (
	CallTypeCall     CallType = "CALL"
	CallTypeStatic   CallType = "STATIC_CALL"
	CallTypeDelegate CallType = "DELEGATE_CALL"
)

// Entry is one frame of the identity stack: which contract is executing,
// which contract's storage its reads and writes target, which API it
// entered through, and how it was called.
type Entry struct {
	ContractID        string
	StorageContractID string
	APIName           string
	CallType          CallType
}

// Stack is the per-engine identity stack. It is not safe for concurrent
// use; an engine drives exactly one at a time from its own goroutine.
type Stack struct {
	entries []Entry

	// pendingCallType is set by the call/static_call/delegate_call host
	// primitives immediately before invoking the callee's trampoline, and
	// consumed — reset back to CallTypeCall — the instant the next push
	// reads it. A primitive that calls SetPending and then never actually
	// invokes anything leaves the flag set, so the next push, whatever it
	// is, consumes it.
	pendingCallType CallType
}

// NewStack returns an empty identity stack, its pending call type
// defaulted to CallTypeCall so a top-level entry invocation -- which never
// goes through SetPending -- is pushed as an ordinary call.
func NewStack() *Stack {
	return &Stack{pendingCallType: CallTypeCall}
}

// SetPending records the call type the very next push should use. Called
// by the call/static_call/delegate_call natives right before they invoke
// the callee; consumed exactly once, by that invocation's own push.
func (s *Stack) SetPending(ct CallType) {
	s.pendingCallType = ct
}

// Top returns the innermost active frame, and false if the stack is
// empty (only possible before the transaction's entry call has pushed).
func (s *Stack) Top() (Entry, bool) {
	if len(s.entries) == 0 {
		return Entry{}, false
	}
	return s.entries[len(s.entries)-1], true
}

// Push installs a new identity frame for contractID/apiName, deriving its
// call type from whatever was last set via SetPending (defaulting to
// CallTypeCall for the very first push) and consuming that pending value.
// A DELEGATE_CALL frame inherits the caller's storage_contract_id instead
// of using its own contract_id, per the delegate-call storage-inheritance
// rule.
func (s *Stack) Push(contractID, apiName string) Entry {
	ct := s.pendingCallType
	s.pendingCallType = CallTypeCall

	storageID := contractID
	if ct == CallTypeDelegate {
		if caller, ok := s.Top(); ok {
			storageID = caller.StorageContractID
		}
	}

	e := Entry{ContractID: contractID, StorageContractID: storageID, APIName: apiName, CallType: ct}
	s.entries = append(s.entries, e)
	return e
}

// Pop removes the innermost identity frame, called on both normal return
// and error unwind so a failed nested call never leaves a stale frame
// visible to whatever runs next.
func (s *Stack) Pop() {
	if len(s.entries) == 0 {
		return
	}
	s.entries = s.entries[:len(s.entries)-1]
}

// Depth reports how many frames are currently pushed.
func (s *Stack) Depth() int { return len(s.entries) }

// Trampoline wraps a contract API's native implementation with the
// push/invoke/pop discipline every public API function gets when the
// registry installs it. fn is whatever the loaded contract table actually
// stored at that key, already a value.Native (a bytecode closure's
// behaviour exposed as one by the interpreter, or a genuinely native
// function for a library entry).
func Trampoline(stack *Stack, contractID, apiName string, fn value.Native) value.Native {
	return func(co any, args []value.Value) ([]value.Value, error) {
		stack.Push(contractID, apiName)
		defer stack.Pop()

		results, err := fn(co, args)
		if err != nil {
			return nil, err
		}
		return results, nil
	}
}

// EnforceStaticPurity rejects a storage write or event emission attempted
// while the top of the stack is a STATIC_CALL frame. Native primitives
// that touch storage or emit events call this before doing anything else.
func EnforceStaticPurity(stack *Stack) error {
	top, ok := stack.Top()
	if !ok {
		return nil
	}
	if top.CallType == CallTypeStatic {
		return errs.Policy("static call %s.%s attempted a storage write or event emission", top.ContractID, top.APIName)
	}
	return nil
}

// CurrentContractID returns the contract_id of the innermost frame, the
// answer get_contract_id() gives a running contract.
func CurrentContractID(stack *Stack) string {
	top, ok := stack.Top()
	if !ok {
		return ""
	}
	return top.ContractID
}

// CurrentStorageContractID returns the storage_contract_id of the
// innermost frame: where storage reads and writes actually target, which
// differs from ContractID only inside a delegate call.
func CurrentStorageContractID(stack *Stack) string {
	top, ok := stack.Top()
	if !ok {
		return ""
	}
	return top.StorageContractID
}
