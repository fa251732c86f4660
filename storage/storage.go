// Package storage implements the per-transaction storage-diff layer sitting
// between a contract's "storage" facade and the host's key-value store.
// Reads are read-through: a slot already touched this transaction answers
// from its in-flight post-image; otherwise the call falls through to the
// host. Writes accumulate as StorageChange records, one per (contract,
// slot) pair touched, each carrying a binary diff against the slot's
// pre-image so the host can apply a minimal patch instead of a full
// overwrite. A Txn also buffers the events emitted during the call: both
// kinds of side effect share the same all-or-nothing lifecycle, visible
// to the running transaction immediately but reaching the host only on
// commit, and discarded together on failure.
package storage

import (
	"github.com/rockercheng/uvm/errs"
	"github.com/rockercheng/uvm/host"
	"github.com/rockercheng/uvm/serialize"
	"github.com/rockercheng/uvm/value"
)

// MaxDepth bounds table nesting during storage serialisation, distinct
// from serialize's own package default: storage values are persisted
// forever, so the bound here is deliberately tighter.
const MaxDepth = 32

type slotKey struct {
	contractID string
	slot       string
}

// change tracks one slot's before/after images across however many writes
// it receives within a single transaction.
type change struct {
	before []byte
	after  []byte
}

// Txn is the per-transaction storage facade. One Txn is created per engine
// API call and discarded (or committed) when the call finishes.
type Txn struct {
	h       host.Host
	pending map[slotKey]*change
	events  []host.Event
}

// NewTxn opens a storage transaction backed by h.
func NewTxn(h host.Host) *Txn {
	return &Txn{h: h, pending: map[slotKey]*change{}}
}

// EmitEvent buffers an event in emit order, to be delivered to the host
// only once this transaction commits.
func (t *Txn) EmitEvent(contractID, name, arg string) {
	t.events = append(t.events, host.Event{ContractID: contractID, Name: name, Arg: arg})
}

// Events returns the events buffered so far, in emit order.
func (t *Txn) Events() []host.Event {
	return t.events
}

// Get returns the current effective value of (contractID, slot): the
// in-flight post-image if this transaction has already written it,
// otherwise whatever the host has stored, decoded from the serialization
// format. A slot that has never been written decodes as nil.
func (t *Txn) Get(contractID, slot string) (value.Value, error) {
	key := slotKey{contractID, slot}
	if c, ok := t.pending[key]; ok {
		if len(c.after) == 0 {
			return nil, nil
		}
		return serialize.Decode(c.after)
	}

	raw, err := t.h.StorageGet(contractID, slot)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	return serialize.Decode(raw)
}

// Set records a write to (contractID, slot). Assigning nil deletes the
// slot: its after-image becomes empty, the serialization-format
// representation of "no value here."
func (t *Txn) Set(contractID, slot string, v value.Value) error {
	var after []byte
	if v != nil {
		enc, err := serialize.EncodeDepth(v, MaxDepth)
		if err != nil {
			return err
		}
		after = enc
	}

	key := slotKey{contractID, slot}
	if c, ok := t.pending[key]; ok {
		c.after = after
		return nil
	}

	before, err := t.h.StorageGet(contractID, slot)
	if err != nil {
		return err
	}
	t.pending[key] = &change{before: before, after: after}
	return nil
}

// Delete is Set(contractID, slot, nil) spelled out, matching the contract
// facade's own vocabulary (assigning nil at the top level deletes).
func (t *Txn) Delete(contractID, slot string) error {
	return t.Set(contractID, slot, nil)
}

// Dirty reports whether anything has been written this transaction and
// not discarded since.
func (t *Txn) Dirty() bool {
	return len(t.pending) > 0
}

// ChangeSet renders the pending writes as host.StorageChange records,
// each carrying the diff of its after-image against its before-image, in
// no particular order (the host commits atomically as a set).
func (t *Txn) ChangeSet() []host.StorageChange {
	out := make([]host.StorageChange, 0, len(t.pending))
	for key, c := range t.pending {
		out = append(out, host.StorageChange{
			ContractID: key.contractID,
			Slot:       key.slot,
			Before:     c.before,
			After:      c.after,
			Diff:       Diff(c.before, c.after),
		})
	}
	return out
}

// Discard drops every pending write and buffered event, used when an API
// call's invocation fails and neither its storage changes nor its events
// may reach the host.
func (t *Txn) Discard() {
	t.pending = map[slotKey]*change{}
	t.events = nil
}

// Diff computes a minimal binary patch turning before into after: a
// common-prefix length, a common-suffix length measured against what
// remains after the prefix, and the literal bytes of whatever sits
// between them in after. It is not a general LCS diff — slot values are
// typically small structured records, and common-prefix/suffix framing
// captures the common case (appending to a list, bumping one field in an
// otherwise-identical record) without the cost of a full diff algorithm.
func Diff(before, after []byte) []byte {
	prefix := commonPrefixLen(before, after)
	suffix := commonSuffixLen(before[prefix:], after[prefix:])

	mid := after[prefix : len(after)-suffix]

	buf := appendVarint(nil, uint32(prefix))
	buf = appendVarint(buf, uint32(suffix))
	buf = appendVarint(buf, uint32(len(mid)))
	buf = append(buf, mid...)
	return buf
}

// ApplyDiff reconstructs after from before and a patch produced by Diff,
// rejecting a patch that references more of before than actually exists.
func ApplyDiff(before, diff []byte) ([]byte, error) {
	d := diffReader{data: diff}
	prefix, err := d.rVarint()
	if err != nil {
		return nil, err
	}
	suffix, err := d.rVarint()
	if err != nil {
		return nil, err
	}
	midLen, err := d.rVarint()
	if err != nil {
		return nil, err
	}
	mid, err := d.rBytes(midLen)
	if err != nil {
		return nil, err
	}
	if int(prefix)+int(suffix) > len(before) {
		return nil, errs.Storage("diff prefix/suffix exceeds before length")
	}

	out := make([]byte, 0, int(prefix)+len(mid)+int(suffix))
	out = append(out, before[:prefix]...)
	out = append(out, mid...)
	out = append(out, before[len(before)-int(suffix):]...)
	return out, nil
}

func commonPrefixLen(a, b []byte) int {
	n := min(len(a), len(b))
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

func commonSuffixLen(a, b []byte) int {
	n := min(len(a), len(b))
	i := 0
	for i < n && a[len(a)-1-i] == b[len(b)-1-i] {
		i++
	}
	return i
}

type diffReader struct {
	data []byte
	pos  int
}

func (d *diffReader) rVarint() (uint32, error) {
	var result uint32
	var shift uint
	for {
		if d.pos >= len(d.data) {
			return 0, errs.Storage("truncated diff")
		}
		b := d.data[d.pos]
		d.pos++
		result |= uint32(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
		if shift >= 35 {
			return 0, errs.Storage("malformed diff varint")
		}
	}
}

func (d *diffReader) rBytes(n uint32) ([]byte, error) {
	if len(d.data)-d.pos < int(n) {
		return nil, errs.Storage("truncated diff")
	}
	b := d.data[d.pos : d.pos+int(n)]
	d.pos += int(n)
	return b, nil
}

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
