package interp

import (
	"github.com/rockercheng/uvm/errs"
	"github.com/rockercheng/uvm/value"
)

// Resume drives a coroutine: on the first call it starts the coroutine's
// body on a fresh goroutine running its own Thread; on every later call it
// hands args back to whatever coroutine.yield call is blocked waiting for
// them. Either way it blocks until the coroutine yields, returns, or
// errors, exactly like the function it is named after.
func (in *Interp) Resume(co *value.Coroutine, args []value.Value) ([]value.Value, error) {
	switch co.Status {
	case value.CoDead:
		return nil, errs.Runtime("cannot resume dead coroutine")
	case value.CoRunning, value.CoNormal:
		return nil, errs.Runtime("cannot resume non-suspended coroutine")
	}

	resumeCh, yieldCh := co.Channels()
	co.Status = value.CoRunning

	if wasStarted := co.MarkStarted(); !wasStarted {
		go in.runCoroutineBody(co, args)
	} else {
		resumeCh <- args
	}

	result := <-yieldCh
	if result.Done {
		co.Status = value.CoDead
	} else {
		co.Status = value.CoSuspended
	}
	return result.Values, result.Err
}

// runCoroutineBody is the goroutine entry point for a freshly started
// coroutine: it owns its own Thread, entirely separate from whichever
// Thread called Resume, and reports its final result on yieldCh exactly
// once, the same way a suspend does, so Resume's receive loop doesn't need
// to distinguish "yielded" from "returned" except by the Done flag.
func (in *Interp) runCoroutineBody(co *value.Coroutine, args []value.Value) {
	_, yieldCh := co.Channels()
	th := &Thread{Co: co}
	results, err := in.Call(th, co.Body, args)
	yieldCh <- value.YieldResult{Values: results, Err: err, Done: true}
}

// Yield suspends the coroutine driving th, handing args back to whoever is
// blocked in Resume, and blocks in turn until that caller resumes it. It is
// a runtime error to call this outside a coroutine's own Thread.
func (in *Interp) Yield(th *Thread, args []value.Value) ([]value.Value, error) {
	co := th.Co
	if co == nil {
		return nil, errs.Runtime("attempt to yield from outside a coroutine")
	}

	resumeCh, yieldCh := co.Channels()
	co.Status = value.CoSuspended
	yieldCh <- value.YieldResult{Values: args}
	resumed := <-resumeCh
	co.Status = value.CoRunning
	return resumed, nil
}

// StatusName renders a coroutine's status the way coroutine.status reports
// it to contract code.
func StatusName(co *value.Coroutine) string {
	switch co.Status {
	case value.CoSuspended:
		return "suspended"
	case value.CoRunning:
		return "running"
	case value.CoNormal:
		return "normal"
	default:
		return "dead"
	}
}
