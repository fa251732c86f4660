package callproxy

import (
	"testing"

	"github.com/rockercheng/uvm/value"
)

func TestPushDefaultsToCall(t *testing.T) {
	s := NewStack()
	e := s.Push("0xdead", "transfer")
	defer s.Pop()

	if e.CallType != CallTypeCall {
		t.Fatalf("CallType = %v, want CallTypeCall", e.CallType)
	}
	if e.StorageContractID != "0xdead" {
		t.Fatalf("StorageContractID = %q, want 0xdead", e.StorageContractID)
	}
}

func TestDelegateCallInheritsCallerStorageID(t *testing.T) {
	s := NewStack()
	outer := s.Push("0xcaller", "run")

	s.SetPending(CallTypeDelegate)
	inner := s.Push("0xlib", "helper")

	if inner.CallType != CallTypeDelegate {
		t.Fatalf("CallType = %v, want CallTypeDelegate", inner.CallType)
	}
	if inner.StorageContractID != outer.StorageContractID {
		t.Fatalf("StorageContractID = %q, want caller's %q", inner.StorageContractID, outer.StorageContractID)
	}
	if inner.ContractID != "0xlib" {
		t.Fatalf("ContractID = %q, want 0xlib", inner.ContractID)
	}

	s.Pop()
	s.Pop()
}

func TestPendingCallTypeIsOneShot(t *testing.T) {
	s := NewStack()
	s.SetPending(CallTypeDelegate)

	first := s.Push("0xa", "f")
	if first.CallType != CallTypeDelegate {
		t.Fatalf("first call = %v, want CallTypeDelegate", first.CallType)
	}
	s.Pop()

	second := s.Push("0xb", "g")
	if second.CallType != CallTypeCall {
		t.Fatalf("second call = %v, want CallTypeCall (flag should have been consumed)", second.CallType)
	}
	s.Pop()
}

func TestStaticCallBlocksPurityViolation(t *testing.T) {
	s := NewStack()
	s.SetPending(CallTypeStatic)
	s.Push("0xa", "f")
	defer s.Pop()

	if err := EnforceStaticPurity(s); err == nil {
		t.Fatal("expected EnforceStaticPurity to reject a write under a static call")
	}
}

func TestNonStaticCallAllowsWrite(t *testing.T) {
	s := NewStack()
	s.Push("0xa", "f")
	defer s.Pop()

	if err := EnforceStaticPurity(s); err != nil {
		t.Fatalf("EnforceStaticPurity = %v, want nil under CALL", err)
	}
}

func TestTrampolinePushesAndPopsAroundSuccess(t *testing.T) {
	s := NewStack()
	var sawDepth int
	fn := func(co any, args []value.Value) ([]value.Value, error) {
		sawDepth = s.Depth()
		return []value.Value{int64(1)}, nil
	}

	tramp := Trampoline(s, "0xa", "f", fn)
	results, err := tramp(nil, nil)
	if err != nil {
		t.Fatalf("Trampoline call: %v", err)
	}
	if sawDepth != 1 {
		t.Fatalf("depth during call = %d, want 1", sawDepth)
	}
	if s.Depth() != 0 {
		t.Fatalf("depth after call = %d, want 0", s.Depth())
	}
	if len(results) != 1 || results[0] != int64(1) {
		t.Fatalf("results = %v", results)
	}
}

func TestTrampolinePopsOnError(t *testing.T) {
	s := NewStack()
	fn := func(co any, args []value.Value) ([]value.Value, error) {
		return nil, errExpected
	}
	tramp := Trampoline(s, "0xa", "f", fn)
	if _, err := tramp(nil, nil); err == nil {
		t.Fatal("expected the trampoline to forward the error")
	}
	if s.Depth() != 0 {
		t.Fatalf("depth after error = %d, want 0", s.Depth())
	}
}

var errExpected = &testError{"boom"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }
