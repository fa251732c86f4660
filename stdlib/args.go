package stdlib

import (
	"github.com/rockercheng/uvm/errs"
	"github.com/rockercheng/uvm/value"
)

// args is a small cursor over a native function's argument list, mirroring
// the shape of an ordinary positional parameter list without needing a
// reflection-based dispatcher. Unlike a bytecode call, a missing or
// mistyped argument here returns a RuntimeError rather than panicking,
// matching how every other native boundary in this tree reports failure.
type args struct {
	name string
	vs   []value.Value
	pos  int
}

func newArgs(name string, vs []value.Value) *args { return &args{name: name, vs: vs} }

func (a *args) next() (value.Value, bool) {
	if a.pos >= len(a.vs) {
		return nil, false
	}
	v := a.vs[a.pos]
	a.pos++
	return v, true
}

func (a *args) any(def ...value.Value) value.Value {
	v, ok := a.next()
	if !ok && len(def) > 0 {
		return def[0]
	}
	return v
}

func (a *args) string(def ...string) (string, error) {
	v, ok := a.next()
	if !ok {
		if len(def) > 0 {
			return def[0], nil
		}
		return "", errs.Runtime("%s: missing string argument #%d", a.name, a.pos+1)
	}
	s, ok := v.(string)
	if !ok {
		return "", errs.Runtime("%s: argument #%d expected string, got %s", a.name, a.pos, value.TypeName(v))
	}
	return s, nil
}

func (a *args) integer(def ...int64) (int64, error) {
	v, ok := a.next()
	if !ok {
		if len(def) > 0 {
			return def[0], nil
		}
		return 0, errs.Runtime("%s: missing integer argument #%d", a.name, a.pos+1)
	}
	switch n := v.(type) {
	case int64:
		return n, nil
	case value.Number:
		i, ok := value.ToInteger(n)
		if !ok {
			return 0, errs.Runtime("%s: argument #%d has no integer representation", a.name, a.pos)
		}
		return i, nil
	default:
		return 0, errs.Runtime("%s: argument #%d expected a number, got %s", a.name, a.pos, value.TypeName(v))
	}
}

func (a *args) table() (*value.Table, error) {
	v, ok := a.next()
	if !ok {
		return nil, errs.Runtime("%s: missing table argument #%d", a.name, a.pos+1)
	}
	t, ok := v.(*value.Table)
	if !ok {
		return nil, errs.Runtime("%s: argument #%d expected table, got %s", a.name, a.pos, value.TypeName(v))
	}
	return t, nil
}

func (a *args) closure() (*value.Closure, error) {
	v, ok := a.next()
	if !ok {
		return nil, errs.Runtime("%s: missing function argument #%d", a.name, a.pos+1)
	}
	cl, ok := v.(*value.Closure)
	if !ok {
		return nil, errs.Runtime("%s: argument #%d expected function, got %s", a.name, a.pos, value.TypeName(v))
	}
	return cl, nil
}

func (a *args) coroutine() (*value.Coroutine, error) {
	v, ok := a.next()
	if !ok {
		return nil, errs.Runtime("%s: missing thread argument #%d", a.name, a.pos+1)
	}
	co, ok := v.(*value.Coroutine)
	if !ok {
		return nil, errs.Runtime("%s: argument #%d expected thread, got %s", a.name, a.pos, value.TypeName(v))
	}
	return co, nil
}

// native wraps a Go function as a named value.Closure, the shape every
// library entry this package installs takes.
func native(name string, fn value.Native) *value.Closure {
	return &value.Closure{Name: name, Run: fn}
}
