package stdlib

import (
	"sort"
	"strings"

	"github.com/rockercheng/uvm/errs"
	"github.com/rockercheng/uvm/interp"
	"github.com/rockercheng/uvm/value"
)

func tableInsert(_ any, vs []value.Value) ([]value.Value, error) {
	a := newArgs("table.insert", vs)
	t, err := a.table()
	if err != nil {
		return nil, err
	}
	if t.Readonly {
		return nil, errs.Policy("attempt to modify a readonly table")
	}

	if len(vs) == 2 {
		v := a.any()
		if err := t.Set(int64(t.Len()+1), v); err != nil {
			return nil, errs.Policy("%s", err.Error())
		}
		return nil, nil
	}

	pos, err := a.integer()
	if err != nil {
		return nil, err
	}
	v := a.any()
	n := t.Len()
	if pos < 1 || pos > int64(n)+1 {
		return nil, errs.Runtime("table.insert: position out of bounds")
	}
	for i := int64(n); i >= pos; i-- {
		t.ForceSet(i+1, t.Get(i))
	}
	t.ForceSet(pos, v)
	return nil, nil
}

func tableRemove(_ any, vs []value.Value) ([]value.Value, error) {
	a := newArgs("table.remove", vs)
	t, err := a.table()
	if err != nil {
		return nil, err
	}
	if t.Readonly {
		return nil, errs.Policy("attempt to modify a readonly table")
	}

	n := int64(t.Len())
	pos, err := a.integer(n)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return []value.Value{nil}, nil
	}
	removed := t.Get(pos)
	for i := pos; i < n; i++ {
		t.ForceSet(i, t.Get(i+1))
	}
	t.ForceSet(n, nil)
	return []value.Value{removed}, nil
}

func tableConcat(_ any, vs []value.Value) ([]value.Value, error) {
	a := newArgs("table.concat", vs)
	t, err := a.table()
	if err != nil {
		return nil, err
	}
	sep, err := a.string("")
	if err != nil {
		return nil, err
	}
	i, err := a.integer(1)
	if err != nil {
		return nil, err
	}
	j, err := a.integer(int64(t.Len()))
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	for ; i <= j; i++ {
		v := t.Get(i)
		var s string
		switch v.(type) {
		case string, int64, value.Number:
			s = tostring(v)
		default:
			return nil, errs.Runtime("table.concat: invalid value (%s) at index %d", value.TypeName(v), i)
		}
		b.WriteString(s)
		if i < j {
			b.WriteString(sep)
		}
	}
	return []value.Value{b.String()}, nil
}

func tablePack(_ any, vs []value.Value) ([]value.Value, error) {
	t := value.NewTable()
	for i, v := range vs {
		t.ForceSet(int64(i+1), v)
	}
	t.ForceSet("n", int64(len(vs)))
	return []value.Value{t}, nil
}

func tableUnpack(_ any, vs []value.Value) ([]value.Value, error) {
	a := newArgs("table.unpack", vs)
	t, err := a.table()
	if err != nil {
		return nil, err
	}
	i, err := a.integer(1)
	if err != nil {
		return nil, err
	}
	j, err := a.integer(int64(t.Len()))
	if err != nil {
		return nil, err
	}
	if j < i {
		return nil, nil
	}
	out := make([]value.Value, 0, j-i+1)
	for ; i <= j; i++ {
		out = append(out, t.Get(i))
	}
	return out, nil
}

func tableClone(_ any, vs []value.Value) ([]value.Value, error) {
	a := newArgs("table.clone", vs)
	t, err := a.table()
	if err != nil {
		return nil, err
	}
	return []value.Value{t.Clone()}, nil
}

func tableFreeze(_ any, vs []value.Value) ([]value.Value, error) {
	a := newArgs("table.freeze", vs)
	t, err := a.table()
	if err != nil {
		return nil, err
	}
	t.Readonly = true
	return []value.Value{t}, nil
}

func tableIsfrozen(_ any, vs []value.Value) ([]value.Value, error) {
	a := newArgs("table.isfrozen", vs)
	t, err := a.table()
	if err != nil {
		return nil, err
	}
	return []value.Value{t.Readonly}, nil
}

func tableFind(_ any, vs []value.Value) ([]value.Value, error) {
	a := newArgs("table.find", vs)
	t, err := a.table()
	if err != nil {
		return nil, err
	}
	needle := a.any()
	for k, v := range t.Iter() {
		if value.RawEqual(v, needle) {
			return []value.Value{k}, nil
		}
	}
	return []value.Value{nil}, nil
}

// tableSort runs Go's sort.SliceStable over the array part, delegating key
// comparison to a contract-supplied closure when one is given and to the
// interpreter's LessThan (the < operator, metamethods included) otherwise.
// Sorting only ever touches the array part: a table
// with a hash part has no well-defined total order across the two.
func tableSort(in *interp.Interp) value.Native {
	return func(co any, vs []value.Value) ([]value.Value, error) {
		a := newArgs("table.sort", vs)
		t, err := a.table()
		if err != nil {
			return nil, err
		}
		if t.Readonly {
			return nil, errs.Policy("attempt to modify a readonly table")
		}

		var cmpErr error
		var less func(i, j int) bool
		if len(vs) >= 2 {
			fn, err := a.closure()
			if err != nil {
				return nil, err
			}
			th, _ := co.(*interp.Thread)
			less = func(i, j int) bool {
				if cmpErr != nil {
					return false
				}
				results, err := in.Call(th, fn, []value.Value{t.Array[i], t.Array[j]})
				if err != nil {
					cmpErr = err
					return false
				}
				return len(results) > 0 && value.Truthy(results[0])
			}
		} else {
			th, _ := co.(*interp.Thread)
			less = func(i, j int) bool {
				if cmpErr != nil {
					return false
				}
				lt, err := in.LessThan(th, t.Array[i], t.Array[j])
				if err != nil {
					cmpErr = err
					return false
				}
				return lt
			}
		}

		sort.SliceStable(t.Array, less)
		if cmpErr != nil {
			return nil, cmpErr
		}
		return nil, nil
	}
}

func installTable(env *value.Table, in *interp.Interp) {
	lib := value.NewTable()
	lib.ForceSet("insert", native("insert", tableInsert))
	lib.ForceSet("remove", native("remove", tableRemove))
	lib.ForceSet("concat", native("concat", tableConcat))
	lib.ForceSet("pack", native("pack", tablePack))
	lib.ForceSet("unpack", native("unpack", tableUnpack))
	lib.ForceSet("clone", native("clone", tableClone))
	lib.ForceSet("freeze", native("freeze", tableFreeze))
	lib.ForceSet("isfrozen", native("isfrozen", tableIsfrozen))
	lib.ForceSet("find", native("find", tableFind))
	lib.ForceSet("sort", native("sort", tableSort(in)))
	env.ForceSet("table", lib)
}
