package interp

import (
	"testing"

	"github.com/rockercheng/uvm/value"
)

// yieldingBody is a native closure that yields twice before returning,
// exercising the full suspend/resume cycle without needing a compiled
// prototype.
func yieldingBody(in *Interp) *value.Closure {
	return &value.Closure{
		Name: "yieldingBody",
		Run: func(co any, args []value.Value) ([]value.Value, error) {
			th := co.(*Thread)
			first, err := in.Yield(th, []value.Value{int64(1)})
			if err != nil {
				return nil, err
			}
			second, err := in.Yield(th, []value.Value{int64(2)})
			if err != nil {
				return nil, err
			}
			return append(append([]value.Value{}, first...), second...), nil
		},
	}
}

func TestResumeYieldCycle(t *testing.T) {
	in := NewInterp(256)
	co := value.NewCoroutine(yieldingBody(in))

	rs, err := in.Resume(co, []value.Value{int64(0)})
	if err != nil {
		t.Fatalf("first resume: %v", err)
	}
	if len(rs) != 1 || rs[0] != int64(1) {
		t.Fatalf("first yield = %v, want [1]", rs)
	}
	if co.Status != value.CoSuspended {
		t.Fatalf("status = %v, want suspended", co.Status)
	}

	rs, err = in.Resume(co, []value.Value{"a"})
	if err != nil {
		t.Fatalf("second resume: %v", err)
	}
	if len(rs) != 1 || rs[0] != int64(2) {
		t.Fatalf("second yield = %v, want [2]", rs)
	}

	rs, err = in.Resume(co, []value.Value{"b"})
	if err != nil {
		t.Fatalf("final resume: %v", err)
	}
	if co.Status != value.CoDead {
		t.Fatalf("status = %v, want dead", co.Status)
	}
	if len(rs) != 2 || rs[0] != "a" || rs[1] != "b" {
		t.Fatalf("final return = %v, want [a b]", rs)
	}
}

func TestResumeDeadCoroutineErrors(t *testing.T) {
	in := NewInterp(256)
	co := value.NewCoroutine(&value.Closure{
		Run: func(co any, args []value.Value) ([]value.Value, error) { return nil, nil },
	})
	if _, err := in.Resume(co, nil); err != nil {
		t.Fatalf("first resume: %v", err)
	}
	if co.Status != value.CoDead {
		t.Fatalf("status = %v, want dead", co.Status)
	}
	if _, err := in.Resume(co, nil); err == nil {
		t.Fatal("resuming a dead coroutine should error")
	}
}

func TestYieldOutsideCoroutineErrors(t *testing.T) {
	in := NewInterp(256)
	th := NewThread()
	if _, err := in.Yield(th, nil); err == nil {
		t.Fatal("yielding outside a coroutine should error")
	}
}
