package stdlib

import (
	"github.com/rockercheng/uvm/errs"
	"github.com/rockercheng/uvm/interp"
	"github.com/rockercheng/uvm/value"
)

func coroutineCreate(_ any, vs []value.Value) ([]value.Value, error) {
	a := newArgs("coroutine.create", vs)
	fn, err := a.closure()
	if err != nil {
		return nil, err
	}
	return []value.Value{value.NewCoroutine(fn)}, nil
}

func coroutineResume(in *interp.Interp) value.Native {
	return func(_ any, vs []value.Value) ([]value.Value, error) {
		a := newArgs("coroutine.resume", vs)
		co, err := a.coroutine()
		if err != nil {
			return nil, err
		}
		results, rerr := in.Resume(co, vs[1:])
		if rerr != nil {
			if typed, ok := rerr.(*errs.Error); ok && !typed.Catchable() {
				return nil, rerr
			}
			return []value.Value{false, rerr.Error()}, nil
		}
		return append([]value.Value{true}, results...), nil
	}
}

func coroutineYield(in *interp.Interp) value.Native {
	return func(co any, vs []value.Value) ([]value.Value, error) {
		th, ok := co.(*interp.Thread)
		if !ok {
			return nil, errs.Runtime("coroutine.yield called outside an interpreter thread")
		}
		return in.Yield(th, vs)
	}
}

func coroutineStatus(_ any, vs []value.Value) ([]value.Value, error) {
	a := newArgs("coroutine.status", vs)
	co, err := a.coroutine()
	if err != nil {
		return nil, err
	}
	return []value.Value{interp.StatusName(co)}, nil
}

func coroutineIsyieldable(co any, vs []value.Value) ([]value.Value, error) {
	th, ok := co.(*interp.Thread)
	return []value.Value{ok && th != nil && th.Co != nil}, nil
}

func coroutineRunning(co any, vs []value.Value) ([]value.Value, error) {
	th, ok := co.(*interp.Thread)
	if !ok || th.Co == nil {
		return []value.Value{nil, true}, nil
	}
	return []value.Value{th.Co, false}, nil
}

// coroutineWrap returns a closure that resumes co each time it is called,
// forwarding the coroutine's own error as a Go error instead of the
// (ok, err) pair coroutine.resume returns -- matching the base library's
// wrap/resume split.
func coroutineWrap(in *interp.Interp) value.Native {
	return func(_ any, vs []value.Value) ([]value.Value, error) {
		a := newArgs("coroutine.wrap", vs)
		fn, err := a.closure()
		if err != nil {
			return nil, err
		}
		co := value.NewCoroutine(fn)
		return []value.Value{native("wrapped", func(_ any, wargs []value.Value) ([]value.Value, error) {
			return in.Resume(co, wargs)
		})}, nil
	}
}

func installCoroutine(env *value.Table, in *interp.Interp) {
	lib := value.NewTable()
	lib.ForceSet("create", native("create", coroutineCreate))
	lib.ForceSet("resume", native("resume", coroutineResume(in)))
	lib.ForceSet("yield", native("yield", coroutineYield(in)))
	lib.ForceSet("status", native("status", coroutineStatus))
	lib.ForceSet("isyieldable", native("isyieldable", coroutineIsyieldable))
	lib.ForceSet("running", native("running", coroutineRunning))
	lib.ForceSet("wrap", native("wrap", coroutineWrap(in)))
	env.ForceSet("coroutine", lib)
}
