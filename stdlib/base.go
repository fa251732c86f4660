package stdlib

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/rockercheng/uvm/errs"
	"github.com/rockercheng/uvm/interp"
	"github.com/rockercheng/uvm/value"
)

// tostring renders v the way the base library's tostring and string
// concatenation of non-strings both need: numbers print their decimal
// form, everything else gets a short type-tagged identity.
func tostring(v value.Value) string {
	switch t := v.(type) {
	case nil:
		return "nil"
	case bool:
		if t {
			return "true"
		}
		return "false"
	case int64:
		return strconv.FormatInt(t, 10)
	case value.Number:
		return t.String()
	case string:
		return t
	case *value.Table:
		return fmt.Sprintf("table: %p", t)
	case *value.Closure:
		return fmt.Sprintf("function: %p", t)
	case *value.Coroutine:
		return fmt.Sprintf("thread: %p", t)
	default:
		return fmt.Sprintf("%s: %p", value.TypeName(v), v)
	}
}

func globalTostring(_ any, vs []value.Value) ([]value.Value, error) {
	a := newArgs("tostring", vs)
	return []value.Value{tostring(a.any())}, nil
}

func globalType(_ any, vs []value.Value) ([]value.Value, error) {
	a := newArgs("type", vs)
	return []value.Value{value.TypeName(a.any())}, nil
}

// globalTonumber parses a string in the given base (default 10), the same
// contract as Lua's tonumber(s [, base]): failure returns nil, not an error.
func globalTonumber(_ any, vs []value.Value) ([]value.Value, error) {
	a := newArgs("tonumber", vs)
	v := a.any()
	base, err := a.integer(10)
	if err != nil {
		return nil, err
	}

	switch t := v.(type) {
	case int64, value.Number:
		return []value.Value{t}, nil
	case string:
		if base == 10 {
			if i, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64); err == nil {
				return []value.Value{i}, nil
			}
			if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
				scaled := math.Round(f * math.Pow10(value.Scale))
				if scaled > math.MaxInt64 || scaled < math.MinInt64 {
					return []value.Value{nil}, nil
				}
				return []value.Value{value.NewNumber(int64(scaled))}, nil
			}
			return []value.Value{nil}, nil
		}
		if base < 2 || base > 36 {
			return []value.Value{nil}, nil
		}
		i, err := strconv.ParseInt(strings.TrimSpace(t), int(base), 64)
		if err != nil {
			return []value.Value{nil}, nil
		}
		return []value.Value{i}, nil
	default:
		return []value.Value{nil}, nil
	}
}

func globalAssert(_ any, vs []value.Value) ([]value.Value, error) {
	a := newArgs("assert", vs)
	v := a.any()
	if value.Truthy(v) {
		return vs, nil
	}
	msg, _ := a.string("assertion failed!")
	return nil, errs.Runtime("%s", msg)
}

func globalError(_ any, vs []value.Value) ([]value.Value, error) {
	a := newArgs("error", vs)
	msg, _ := a.string("")
	return nil, errs.Runtime("%s", msg)
}

// globalPcall invokes f(args...) through the caller's own interpreter and
// turns any catchable failure into (false, message) rather than letting it
// propagate, the one piece of Lua's error model this tree needs to support
// explicitly: every other error path here is already a plain Go error
// return, so "catching" one means nothing more than inspecting it instead
// of forwarding it.
func globalPcall(in *interp.Interp) value.Native {
	return func(co any, vs []value.Value) ([]value.Value, error) {
		a := newArgs("pcall", vs)
		fn, err := a.closure()
		if err != nil {
			return nil, err
		}
		th, _ := co.(*interp.Thread)
		if th == nil {
			th = interp.NewThread()
		}
		results, callErr := in.CallValue(th, fn, vs[1:])
		if callErr == nil {
			return append([]value.Value{true}, results...), nil
		}
		if typed, ok := callErr.(*errs.Error); ok && !typed.Catchable() {
			return nil, callErr
		}
		return []value.Value{false, callErr.Error()}, nil
	}
}

// globalXpcall is pcall with a handler invoked on failure, its result
// replacing the plain error string pcall would have returned.
func globalXpcall(in *interp.Interp) value.Native {
	return func(co any, vs []value.Value) ([]value.Value, error) {
		a := newArgs("xpcall", vs)
		fn, err := a.closure()
		if err != nil {
			return nil, err
		}
		handler, err := a.closure()
		if err != nil {
			return nil, err
		}
		th, _ := co.(*interp.Thread)
		results, callErr := in.CallValue(th, fn, vs[2:])
		if callErr == nil {
			return append([]value.Value{true}, results...), nil
		}
		if typed, ok := callErr.(*errs.Error); ok && !typed.Catchable() {
			return nil, callErr
		}
		handled, herr := in.CallValue(th, handler, []value.Value{callErr.Error()})
		if herr != nil {
			return nil, herr
		}
		return append([]value.Value{false}, handled...), nil
	}
}

func globalRawget(_ any, vs []value.Value) ([]value.Value, error) {
	a := newArgs("rawget", vs)
	t, err := a.table()
	if err != nil {
		return nil, err
	}
	return []value.Value{t.Get(a.any())}, nil
}

func globalRawset(_ any, vs []value.Value) ([]value.Value, error) {
	a := newArgs("rawset", vs)
	t, err := a.table()
	if err != nil {
		return nil, err
	}
	k, v := a.any(), a.any()
	if setErr := t.Set(k, v); setErr != nil {
		return nil, errs.Policy("%s", setErr.Error())
	}
	return []value.Value{t}, nil
}

func globalRawequal(_ any, vs []value.Value) ([]value.Value, error) {
	a := newArgs("rawequal", vs)
	x, y := a.any(), a.any()
	return []value.Value{value.RawEqual(x, y)}, nil
}

func globalRawlen(_ any, vs []value.Value) ([]value.Value, error) {
	a := newArgs("rawlen", vs)
	v := a.any()
	switch t := v.(type) {
	case *value.Table:
		return []value.Value{int64(t.Len())}, nil
	case string:
		return []value.Value{int64(len(t))}, nil
	default:
		return nil, errs.Runtime("rawlen: table or string expected, got %s", value.TypeName(v))
	}
}

// next and pairs are built over Table.Iter, so iteration order for the
// hash part is Table.Iter's fixed key order rather than Go's randomised map
// order -- a contract iterating the same table twice in one call sees the
// same sequence both times.
func globalNext(_ any, vs []value.Value) ([]value.Value, error) {
	a := newArgs("next", vs)
	t, err := a.table()
	if err != nil {
		return nil, err
	}
	fromKey := a.any()

	seenKey := false
	for k, v := range t.Iter() {
		if fromKey == nil {
			return []value.Value{k, v}, nil
		}
		if seenKey {
			return []value.Value{k, v}, nil
		}
		if value.RawEqual(k, fromKey) {
			seenKey = true
		}
	}
	if fromKey == nil || seenKey {
		return []value.Value{nil}, nil
	}
	return nil, errs.Runtime("next: invalid key to 'next'")
}

var nextClosure = native("next", globalNext)

func globalPairs(_ any, vs []value.Value) ([]value.Value, error) {
	a := newArgs("pairs", vs)
	t, err := a.table()
	if err != nil {
		return nil, err
	}
	return []value.Value{nextClosure, t, nil}, nil
}

func ipairsIter(_ any, vs []value.Value) ([]value.Value, error) {
	a := newArgs("ipairs_iter", vs)
	t, err := a.table()
	if err != nil {
		return nil, err
	}
	i, err := a.integer()
	if err != nil {
		return nil, err
	}
	i++
	v := t.Get(i)
	if v == nil {
		return nil, nil
	}
	return []value.Value{i, v}, nil
}

var ipairsIterClosure = native("ipairs_iter", ipairsIter)

func globalIpairs(_ any, vs []value.Value) ([]value.Value, error) {
	a := newArgs("ipairs", vs)
	t, err := a.table()
	if err != nil {
		return nil, err
	}
	return []value.Value{ipairsIterClosure, t, int64(0)}, nil
}

func globalUnpack(in *interp.Interp) value.Native {
	return func(co any, vs []value.Value) ([]value.Value, error) {
		return tableUnpack(co, vs)
	}
}

// installBase writes the base library's global functions directly onto env,
// the way Lua's base library is not a sub-table but a set of globals.
func installBase(env *value.Table, in *interp.Interp) {
	env.ForceSet("tostring", native("tostring", globalTostring))
	env.ForceSet("type", native("type", globalType))
	env.ForceSet("tonumber", native("tonumber", globalTonumber))
	env.ForceSet("assert", native("assert", globalAssert))
	env.ForceSet("error", native("error", globalError))
	env.ForceSet("pcall", native("pcall", globalPcall(in)))
	env.ForceSet("xpcall", native("xpcall", globalXpcall(in)))
	env.ForceSet("rawget", native("rawget", globalRawget))
	env.ForceSet("rawset", native("rawset", globalRawset))
	env.ForceSet("rawequal", native("rawequal", globalRawequal))
	env.ForceSet("rawlen", native("rawlen", globalRawlen))
	env.ForceSet("next", nextClosure)
	env.ForceSet("pairs", native("pairs", globalPairs))
	env.ForceSet("ipairs", native("ipairs", globalIpairs))
	env.ForceSet("unpack", native("unpack", globalUnpack(in)))
}
