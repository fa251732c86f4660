package value

import (
	"cmp"
	"errors"
	"iter"
	"slices"
	"strings"
)

// ErrReadonly is returned by Set when the table's Readonly flag is set.
// PolicyError wraps it at the interpreter boundary.
var ErrReadonly = errors.New("attempt to modify a readonly table")

// integerKey reports whether k is an integer-valued int64 or Number and, if
// so, returns that integer. This is the canonical form any integer-valued
// key is reduced to before it reaches the hash part, so that RawEqual's
// int64/Number equivalence (value.go) holds for hash lookups the same way
// it already holds for comparisons and metatable dispatch -- without it,
// t[-5] and t[Number(-5.0)] would land on distinct Go map keys.
func integerKey(k Value) (int64, bool) {
	switch kv := k.(type) {
	case int64:
		return kv, true
	case Number:
		return ToInteger(kv)
	default:
		return 0, false
	}
}

// arrayKey reports whether k addresses the array part: a positive integer
// represented exactly as a Number or int64.
func arrayKey(k Value) (int, bool) {
	i, ok := integerKey(k)
	return int(i), ok && i >= 1 && int64(int(i)) == i
}

// canonicalKey reduces any integer-valued key to int64 so that keys equal
// under RawEqual always map to the same Go map key in the hash part.
func canonicalKey(k Value) Value {
	if i, ok := integerKey(k); ok {
		return i
	}
	return k
}

func mapKeySort(a, b Value) int {
	// Map keys need a total order for deterministic iteration; it does not
	// need to be the order a human would expect, just the same order
	// everywhere. (The serialization bridge sorts map entries by its own
	// string form of each key, not by this order.)
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return ra - rb
	}
	switch av := a.(type) {
	case bool:
		bv := b.(bool)
		if av == bv {
			return 0
		}
		if !av {
			return -1
		}
		return 1
	case int64:
		return cmp.Compare(av, b.(int64))
	case Number:
		return NumCompare(av, b.(Number))
	case string:
		return strings.Compare(av, b.(string))
	default:
		return strings.Compare(ptrString(a), ptrString(b))
	}
}

func rank(v Value) int {
	switch v.(type) {
	case bool:
		return 0
	case int64:
		return 1
	case Number:
		return 2
	case string:
		return 3
	default:
		return 4
	}
}

func ptrString(v Value) string {
	type stringer interface{ String() string }
	if s, ok := v.(stringer); ok {
		return s.String()
	}
	return TypeName(v)
}

func iterArray(a []Value, y func(Value, Value) bool) bool {
	for i, v := range a {
		if v != nil && !y(int64(i+1), v) {
			return false
		}
	}
	return true
}

func iterHash(h map[Value]Value, y func(Value, Value) bool) bool {
	keys := make([]Value, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, mapKeySort)
	for _, k := range keys {
		if !y(k, h[k]) {
			return false
		}
	}
	return true
}

// Table is a Luau/Lua-style table: a dense array part addressed by positive
// integers and a hash part keyed by any non-nil value, plus an optional
// metatable and a read-only flag. Tables are always handled through a
// pointer; they are reference types.
type Table struct {
	Array     []Value
	Hash      map[Value]Value
	Metatable *Table
	Readonly  bool
}

// NewTable allocates an empty, writable table.
func NewTable() *Table { return &Table{} }

// Len returns the length of the array part: the boundary n such that
// t[n] != nil and t[n+1] == nil. Ties are broken in favour of the array
// part's own size, matching the invariant in the data model.
func (t *Table) Len() int {
	return len(t.Array)
}

func (t *Table) setHash(k, v Value) {
	if t.Hash == nil {
		if v == nil {
			return
		}
		t.Hash = map[Value]Value{k: v}
		return
	}
	if v == nil {
		delete(t.Hash, k)
		return
	}
	t.Hash[k] = v
}

func (t *Table) moveFromHash(fromLen int) {
	if t.Hash == nil {
		return
	}
	for next := int64(fromLen + 1); ; next++ {
		v, ok := t.Hash[next]
		if !ok {
			return
		}
		t.Array = append(t.Array, v)
		delete(t.Hash, next)
	}
}

// setArray places v at the 1-based array index i, moving elements between
// the array and hash parts as the boundary shifts.
func (t *Table) setArray(i int, v Value) {
	switch {
	case t.Array == nil:
		if i == 1 && v != nil {
			t.Array = []Value{v}
			t.moveFromHash(1)
			return
		}
	case i >= 1 && i <= len(t.Array):
		if v != nil {
			t.Array[i-1] = v
			return
		}
		// cutting the array: everything after the hole moves to the hash part
		tail := t.Array[i:]
		t.Array = t.Array[:i-1]
		for j, tv := range tail {
			t.setHash(int64(i+j+1), tv)
		}
		return
	case i == len(t.Array)+1:
		if v == nil {
			break
		}
		t.Array = append(t.Array, v)
		t.moveFromHash(len(t.Array))
		return
	}
	t.setHash(int64(i), v)
}

// ForceSet writes a key regardless of the readonly flag. Used by the engine
// to populate contract metadata tables (`name`, `id`, `storage`, `_data`)
// that are then frozen for the contract's own code.
func (t *Table) ForceSet(k, v Value) {
	if ak, ok := arrayKey(k); ok {
		t.setArray(ak, v)
		return
	}
	t.setHash(canonicalKey(k), v)
}

// Set writes a key, honouring the readonly flag.
func (t *Table) Set(k, v Value) error {
	if t.Readonly {
		return ErrReadonly
	}
	t.ForceSet(k, v)
	return nil
}

// GetHash reads a key from the hash part only.
func (t *Table) GetHash(k Value) Value {
	if t.Hash == nil {
		return nil
	}
	return t.Hash[canonicalKey(k)]
}

// Get reads a key from the table, checking the array part first.
func (t *Table) Get(k Value) Value {
	if ak, ok := arrayKey(k); ok && ak >= 1 && ak <= len(t.Array) {
		return t.Array[ak-1]
	}
	return t.GetHash(k)
}

// Iter yields key-value pairs in a deterministic order: array part first by
// index, then hash part ordered by mapKeySort.
func (t *Table) Iter() iter.Seq2[Value, Value] {
	return func(y func(Value, Value) bool) {
		if t.Array != nil && !iterArray(t.Array, y) {
			return
		}
		if t.Hash != nil {
			iterHash(t.Hash, y)
		}
	}
}

// IsSequence reports whether the table's keys are exactly the contiguous
// integers 1..N with no hash-part entries -- the condition under which the
// serialization bridge encodes it as an array rather than a map.
func (t *Table) IsSequence() bool {
	return len(t.Hash) == 0
}

// Clone makes a shallow copy of the table's array and hash parts. The
// metatable reference and readonly flag are copied, not deep-cloned.
func (t *Table) Clone() *Table {
	nt := &Table{Metatable: t.Metatable, Readonly: t.Readonly}
	if t.Array != nil {
		nt.Array = slices.Clone(t.Array)
	}
	if t.Hash != nil {
		nt.Hash = make(map[Value]Value, len(t.Hash))
		for k, v := range t.Hash {
			nt.Hash[k] = v
		}
	}
	return nt
}
