package stdlib

import (
	"testing"

	"github.com/rockercheng/uvm/errs"
	"github.com/rockercheng/uvm/interp"
	"github.com/rockercheng/uvm/value"
)

func TestCoroutineCreateResumeReturnsBodyResult(t *testing.T) {
	in := interp.NewInterp(64)
	body := native("body", func(co any, vs []value.Value) ([]value.Value, error) {
		return []value.Value{int64(1), int64(2)}, nil
	})

	createRes, err := coroutineCreate(nil, []value.Value{body})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	co := createRes[0].(*value.Coroutine)

	resume := coroutineResume(in)
	res, err := resume(nil, []value.Value{co})
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if len(res) != 3 || res[0] != true || res[1] != int64(1) || res[2] != int64(2) {
		t.Fatalf("resume result = %v, want [true 1 2]", res)
	}

	statusRes, err := coroutineStatus(nil, []value.Value{co})
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if statusRes[0] != "dead" {
		t.Fatalf("status after completion = %v, want dead", statusRes[0])
	}
}

func TestCoroutineResumeReportsFailureWithoutPanicking(t *testing.T) {
	in := interp.NewInterp(64)
	body := native("boom", func(co any, vs []value.Value) ([]value.Value, error) {
		return nil, errs.Runtime("kaboom")
	})

	createRes, err := coroutineCreate(nil, []value.Value{body})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	co := createRes[0].(*value.Coroutine)

	resume := coroutineResume(in)
	res, err := resume(nil, []value.Value{co})
	if err != nil {
		t.Fatalf("resume itself should not return a Go error for a catchable failure: %v", err)
	}
	if len(res) != 2 || res[0] != false {
		t.Fatalf("resume result = %v, want [false, message]", res)
	}
}

func TestCoroutineWrapResumesOnEachCall(t *testing.T) {
	in := interp.NewInterp(64)
	calls := 0
	body := native("counter", func(co any, vs []value.Value) ([]value.Value, error) {
		calls++
		return []value.Value{int64(calls)}, nil
	})

	wrap := coroutineWrap(in)
	wrapped, err := wrap(nil, []value.Value{body})
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	fn := wrapped[0].(*value.Closure)

	res, err := fn.Run(nil, nil)
	if err != nil {
		t.Fatalf("wrapped call: %v", err)
	}
	if len(res) != 1 || res[0] != int64(1) {
		t.Fatalf("wrapped() = %v, want [1]", res)
	}
}

func TestCoroutineRunningOutsideCoroutine(t *testing.T) {
	res, err := coroutineRunning(nil, nil)
	if err != nil {
		t.Fatalf("running: %v", err)
	}
	if len(res) != 2 || res[0] != nil || res[1] != true {
		t.Fatalf("running() outside a coroutine = %v, want [nil true]", res)
	}
}
