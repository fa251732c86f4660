package errs

import (
	"errors"
	"testing"
)

func TestCatchability(t *testing.T) {
	if !Runtime("boom").Catchable() {
		t.Fatal("RuntimeError should be catchable")
	}
	if StackOverflow("too deep").Catchable() {
		t.Fatal("StackOverflow must not be catchable")
	}
	if Interrupted().Catchable() {
		t.Fatal("Interrupted must not be catchable")
	}
}

func TestErrorStringIncludesLocation(t *testing.T) {
	e := RuntimeAt(Location{Source: "token.uvm", Line: 12}, "attempt to index a nil value")
	want := "token.uvm:12: RuntimeError: attempt to index a nil value"
	if e.Error() != want {
		t.Fatalf("Error() = %q, want %q", e.Error(), want)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("division by zero")
	e := Wrap(KindRuntime, cause)
	if !errors.Is(e, cause) {
		t.Fatal("Wrap should preserve Cause for errors.Is/As")
	}
}

func TestAs(t *testing.T) {
	var err error = Protocol("api set mismatch")
	pe, ok := As(err, KindProtocol)
	if !ok || pe.Kind != KindProtocol {
		t.Fatalf("As(ProtocolError) = %v, %v", pe, ok)
	}
	if _, ok := As(err, KindHost); ok {
		t.Fatal("As should not match a different kind")
	}
}
