package interp

import (
	"github.com/rockercheng/uvm/errs"
	"github.com/rockercheng/uvm/value"
)

// GetMetatable returns v's metatable: the table's or userdata's own, or the
// interpreter's per-type metatable for every other tag.
func (in *Interp) GetMetatable(v value.Value) *value.Table {
	switch t := v.(type) {
	case *value.Table:
		return t.Metatable
	case *value.UserData:
		return t.Metatable
	default:
		tag, _ := value.TypeOf(v)
		return in.TypeMeta[tag]
	}
}

func metamethod(in *Interp, v value.Value, name string) value.Value {
	mt := in.GetMetatable(v)
	if mt == nil {
		return nil
	}
	return mt.GetHash(name)
}

// CallValue invokes v as a function, consulting __call if v is not itself
// a closure.
func (in *Interp) CallValue(th *Thread, v value.Value, args []value.Value) ([]value.Value, error) {
	if cl, ok := v.(*value.Closure); ok {
		return in.Call(th, cl, args)
	}
	if h := metamethod(in, v, "__call"); h != nil {
		callArgs := make([]value.Value, 0, len(args)+1)
		callArgs = append(callArgs, v)
		callArgs = append(callArgs, args...)
		return in.CallValue(th, h, callArgs)
	}
	return nil, errs.Runtime("attempt to call a %s value", value.TypeName(v))
}

func first(vs []value.Value) value.Value {
	if len(vs) == 0 {
		return nil
	}
	return vs[0]
}

// Index implements t[k] lookup: raw slot first, then __index (recursing
// through a table chain or invoking a function handler).
func (in *Interp) Index(th *Thread, v value.Value, key value.Value) (value.Value, error) {
	if t, ok := v.(*value.Table); ok {
		if raw := t.Get(key); raw != nil {
			return raw, nil
		}
		if t.Metatable == nil {
			return nil, nil
		}
		h := t.Metatable.GetHash("__index")
		switch handler := h.(type) {
		case nil:
			return nil, nil
		case *value.Table:
			return in.Index(th, handler, key)
		default:
			rs, err := in.CallValue(th, handler, []value.Value{v, key})
			return first(rs), err
		}
	}

	mt := in.GetMetatable(v)
	if mt == nil {
		return nil, errs.Runtime("attempt to index a %s value", value.TypeName(v))
	}
	h := mt.GetHash("__index")
	switch handler := h.(type) {
	case nil:
		return nil, errs.Runtime("attempt to index a %s value", value.TypeName(v))
	case *value.Table:
		return in.Index(th, handler, key)
	default:
		rs, err := in.CallValue(th, handler, []value.Value{v, key})
		return first(rs), err
	}
}

// NewIndex implements t[k] = v: __newindex is consulted only when the raw
// slot is currently absent.
func (in *Interp) NewIndex(th *Thread, v, key, val value.Value) error {
	t, ok := v.(*value.Table)
	if !ok {
		mt := in.GetMetatable(v)
		if mt == nil {
			return errs.Runtime("attempt to index a %s value", value.TypeName(v))
		}
		return in.newIndexMeta(th, mt, v, key, val)
	}

	if t.Get(key) != nil || t.Metatable == nil {
		if err := t.Set(key, val); err != nil {
			return errs.Policy("%s", err.Error())
		}
		return nil
	}
	return in.newIndexMeta(th, t.Metatable, v, key, val)
}

func (in *Interp) newIndexMeta(th *Thread, mt *value.Table, v, key, val value.Value) error {
	h := mt.GetHash("__newindex")
	switch handler := h.(type) {
	case nil:
		if t, ok := v.(*value.Table); ok {
			if err := t.Set(key, val); err != nil {
				return errs.Policy("%s", err.Error())
			}
			return nil
		}
		return errs.Runtime("attempt to index a %s value", value.TypeName(v))
	case *value.Table:
		return in.NewIndex(th, handler, key, val)
	default:
		_, err := in.CallValue(th, handler, []value.Value{v, key, val})
		return err
	}
}

// Length implements the # operator: array length for tables without a
// __len metamethod, string byte length, or __len dispatch otherwise.
func (in *Interp) Length(th *Thread, v value.Value) (value.Value, error) {
	if s, ok := v.(string); ok {
		return int64(len(s)), nil
	}
	if t, ok := v.(*value.Table); ok {
		if t.Metatable != nil {
			if h := t.Metatable.GetHash("__len"); h != nil {
				rs, err := in.CallValue(th, h, []value.Value{v})
				return first(rs), err
			}
		}
		return int64(t.Len()), nil
	}
	if h := metamethod(in, v, "__len"); h != nil {
		rs, err := in.CallValue(th, h, []value.Value{v})
		return first(rs), err
	}
	return nil, errs.Runtime("attempt to get length of a %s value", value.TypeName(v))
}

// Concat implements the .. operator: strings and numbers/integers coerce
// to their textual form; anything else needs __concat.
func (in *Interp) Concat(th *Thread, a, b value.Value) (value.Value, error) {
	as, aok := concatString(a)
	bs, bok := concatString(b)
	if aok && bok {
		return as + bs, nil
	}
	if h := metamethod(in, a, "__concat"); h != nil {
		rs, err := in.CallValue(th, h, []value.Value{a, b})
		return first(rs), err
	}
	if h := metamethod(in, b, "__concat"); h != nil {
		rs, err := in.CallValue(th, h, []value.Value{a, b})
		return first(rs), err
	}
	bad := a
	if aok {
		bad = b
	}
	return nil, errs.Runtime("attempt to concatenate a %s value", value.TypeName(bad))
}

func concatString(v value.Value) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case int64:
		return intToString(t), true
	case value.Number:
		return t.String(), true
	default:
		return "", false
	}
}

// EqualValues implements == with metamethod fallback: __eq is consulted
// only when both operands share a type tag and raw comparison says unequal.
func (in *Interp) EqualValues(th *Thread, a, b value.Value) (bool, error) {
	if value.RawEqual(a, b) {
		return true, nil
	}
	ta, _ := value.TypeOf(a)
	tb, _ := value.TypeOf(b)
	if ta != tb || (ta != value.TagTable && ta != value.TagUserData) {
		return false, nil
	}
	h := metamethod(in, a, "__eq")
	if h == nil {
		h = metamethod(in, b, "__eq")
	}
	if h == nil {
		return false, nil
	}
	rs, err := in.CallValue(th, h, []value.Value{a, b})
	if err != nil {
		return false, err
	}
	return value.Truthy(first(rs)), nil
}

// LessThan and LessEqual implement < and <=: numeric/string comparison
// first, __lt/__le fallback otherwise.
func (in *Interp) LessThan(th *Thread, a, b value.Value) (bool, error) {
	if r, ok := comparePrimitive(a, b); ok {
		return r < 0, nil
	}
	return in.compareMeta(th, "__lt", a, b)
}

func (in *Interp) LessEqual(th *Thread, a, b value.Value) (bool, error) {
	if r, ok := comparePrimitive(a, b); ok {
		return r <= 0, nil
	}
	return in.compareMeta(th, "__le", a, b)
}

func (in *Interp) compareMeta(th *Thread, name string, a, b value.Value) (bool, error) {
	h := metamethod(in, a, name)
	if h == nil {
		h = metamethod(in, b, name)
	}
	if h == nil {
		return false, errs.Runtime("attempt to compare %s with %s", value.TypeName(a), value.TypeName(b))
	}
	rs, err := in.CallValue(th, h, []value.Value{a, b})
	if err != nil {
		return false, err
	}
	return value.Truthy(first(rs)), nil
}

func comparePrimitive(a, b value.Value) (int, bool) {
	switch av := a.(type) {
	case int64:
		switch bv := b.(type) {
		case int64:
			switch {
			case av < bv:
				return -1, true
			case av > bv:
				return 1, true
			default:
				return 0, true
			}
		case value.Number:
			an, ok := value.FromInteger(av)
			if !ok {
				return 0, false
			}
			return value.NumCompare(an, bv), true
		}
	case value.Number:
		switch bv := b.(type) {
		case value.Number:
			return value.NumCompare(av, bv), true
		case int64:
			bn, ok := value.FromInteger(bv)
			if !ok {
				return 0, false
			}
			return value.NumCompare(av, bn), true
		}
	case string:
		if bv, ok := b.(string); ok {
			switch {
			case av < bv:
				return -1, true
			case av > bv:
				return 1, true
			default:
				return 0, true
			}
		}
	}
	return 0, false
}
