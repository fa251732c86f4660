// Package serialize implements the self-describing binary object format
// the engine uses for persistent storage and for marshalling arguments and
// results across contract-call boundaries. It is deliberately independent
// of package interp: it knows about value.Value, nothing about frames,
// closures executing, or the host.
package serialize

import (
	"encoding/binary"
	"fmt"
	"sort"

	"golang.org/x/text/unicode/norm"

	"github.com/rockercheng/uvm/errs"
	"github.com/rockercheng/uvm/value"
)

// Wire tags. The format is CBOR-equivalent but deliberately narrower: only
// the variants the engine's value model can actually produce.
const (
	tagNull byte = iota
	tagFalse
	tagTrue
	tagIntSmall // zigzag varint, fits a 32-bit signed range
	tagIntExt   // full 8-byte two's-complement int64, for the rest of the range
	tagNumber   // deterministic decimal: 8-byte raw scaled mantissa
	tagString
	tagBytes
	tagArray
	tagMap
)

// DefaultMaxDepth bounds table nesting during encode, independent of any
// depth bound a caller (the storage facade, most notably) layers on top.
// It exists so a pathologically deep but acyclic table can't blow the Go
// call stack before the caller's own policy ever gets a chance to reject
// it.
const DefaultMaxDepth = 64

// Encode converts an engine value to its canonical binary form. Canonical
// means: for any two logically equal values, Encode produces byte-identical
// output, map keys included.
func Encode(v value.Value) ([]byte, error) {
	return EncodeDepth(v, DefaultMaxDepth)
}

// EncodeDepth is Encode with an explicit nesting bound, for callers (the
// storage facade) that enforce their own limit distinct from the package
// default.
func EncodeDepth(v value.Value, maxDepth int) ([]byte, error) {
	e := &encoder{maxDepth: maxDepth, seen: map[*value.Table]bool{}}
	if err := e.put(v, 0); err != nil {
		return nil, err
	}
	return e.buf, nil
}

type encoder struct {
	buf      []byte
	maxDepth int
	seen     map[*value.Table]bool
}

func (e *encoder) put(v value.Value, depth int) error {
	if depth > e.maxDepth {
		return errs.Storage("table nesting exceeds depth limit %d", e.maxDepth)
	}
	switch t := v.(type) {
	case nil:
		e.buf = append(e.buf, tagNull)
	case bool:
		if t {
			e.buf = append(e.buf, tagTrue)
		} else {
			e.buf = append(e.buf, tagFalse)
		}
	case int64:
		e.putInt(t)
	case value.Number:
		e.buf = append(e.buf, tagNumber)
		e.buf = binary.LittleEndian.AppendUint64(e.buf, uint64(t.Raw()))
	case string:
		e.putString(tagString, t)
	case []byte:
		e.putBytes(t)
	case *value.Table:
		return e.putTable(t, depth)
	default:
		return errs.Storage("value of type %s is not encodable", value.TypeName(v))
	}
	return nil
}

func (e *encoder) putInt(i int64) {
	if i >= -(1<<31) && i < (1<<31) {
		e.buf = append(e.buf, tagIntSmall)
		e.buf = appendVarint(e.buf, zigzag32(int32(i)))
		return
	}
	e.buf = append(e.buf, tagIntExt)
	e.buf = binary.LittleEndian.AppendUint64(e.buf, uint64(i))
}

func (e *encoder) putString(tag byte, s string) {
	e.buf = append(e.buf, tag)
	e.buf = appendVarint(e.buf, uint32(len(s)))
	e.buf = append(e.buf, s...)
}

func (e *encoder) putBytes(b []byte) {
	e.buf = append(e.buf, tagBytes)
	e.buf = appendVarint(e.buf, uint32(len(b)))
	e.buf = append(e.buf, b...)
}

func (e *encoder) putTable(t *value.Table, depth int) error {
	if e.seen[t] {
		return errs.Storage("cannot encode a table graph containing a cycle")
	}
	e.seen[t] = true
	defer delete(e.seen, t)

	if t.IsSequence() {
		e.buf = append(e.buf, tagArray)
		e.buf = appendVarint(e.buf, uint32(t.Len()))
		for _, elt := range t.Array {
			if err := e.put(elt, depth+1); err != nil {
				return err
			}
		}
		return nil
	}

	type kv struct {
		key string
		val value.Value
	}
	entries := make([]kv, 0, t.Len()+len(t.Hash))
	for k, v := range t.Iter() {
		ks, ok := stringifyKey(k)
		if !ok {
			return errs.Storage("table key of type %s is not encodable", value.TypeName(k))
		}
		entries = append(entries, kv{norm.NFC.String(ks), v})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })

	e.buf = append(e.buf, tagMap)
	e.buf = appendVarint(e.buf, uint32(len(entries)))
	for _, ent := range entries {
		e.putString(tagString, ent.key)
		if err := e.put(ent.val, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// stringifyKey renders a non-encodable-as-is table key as the string a map
// key must be; non-string scalar keys coerce to their textual form, per the
// engine-value-to-serialization-value conversion rules.
func stringifyKey(k value.Value) (string, bool) {
	switch t := k.(type) {
	case string:
		return t, true
	case int64:
		return fmt.Sprintf("%d", t), true
	case value.Number:
		return t.String(), true
	case bool:
		if t {
			return "true", true
		}
		return "false", true
	default:
		return "", false
	}
}

func zigzag32(v int32) uint32 { return uint32((v << 1) ^ (v >> 31)) }
func unzigzag32(v uint32) int32 { return int32((v >> 1) ^ -(v & 1)) }

func appendVarint(buf []byte, v uint32) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			buf = append(buf, b|0x80)
		} else {
			return append(buf, b)
		}
	}
}
