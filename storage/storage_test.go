package storage

import (
	"bytes"
	"testing"

	"github.com/rockercheng/uvm/host"
	"github.com/rockercheng/uvm/serialize"
	"github.com/rockercheng/uvm/value"
)

func TestTxnReadThroughHost(t *testing.T) {
	h := host.NewMemHost("alice")
	h.Deploy("0xdead", host.ContractMeta{Name: "token"}, nil)
	if err := h.StorageCommit([]host.StorageChange{{ContractID: "0xdead", Slot: "total", After: mustEncode(t, int64(100))}}); err != nil {
		t.Fatalf("seed StorageCommit: %v", err)
	}

	txn := NewTxn(h)
	v, err := txn.Get("0xdead", "total")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v != int64(100) {
		t.Fatalf("Get = %#v, want 100", v)
	}
}

func TestTxnWriteIsReadThroughBeforeCommit(t *testing.T) {
	h := host.NewMemHost("alice")
	txn := NewTxn(h)

	if err := txn.Set("0xdead", "total", int64(7)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, err := txn.Get("0xdead", "total")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v != int64(7) {
		t.Fatalf("Get = %#v, want 7", v)
	}

	// the host itself must not see the write until the change set is
	// handed over and committed.
	raw, _ := h.StorageGet("0xdead", "total")
	if len(raw) != 0 {
		t.Fatalf("host saw uncommitted write: %v", raw)
	}
}

func TestTxnSecondWriteKeepsOriginalBeforeImage(t *testing.T) {
	h := host.NewMemHost("alice")
	if err := h.StorageCommit([]host.StorageChange{{ContractID: "0xdead", Slot: "total", After: mustEncode(t, int64(1))}}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	txn := NewTxn(h)
	if err := txn.Set("0xdead", "total", int64(2)); err != nil {
		t.Fatalf("Set 1: %v", err)
	}
	if err := txn.Set("0xdead", "total", int64(3)); err != nil {
		t.Fatalf("Set 2: %v", err)
	}

	changes := txn.ChangeSet()
	if len(changes) != 1 {
		t.Fatalf("ChangeSet = %d entries, want 1", len(changes))
	}
	c := changes[0]
	if !bytes.Equal(c.Before, mustEncode(t, int64(1))) {
		t.Fatalf("Before changed across writes: %v", c.Before)
	}
	applied, err := ApplyDiff(c.Before, c.Diff)
	if err != nil {
		t.Fatalf("ApplyDiff: %v", err)
	}
	if !bytes.Equal(applied, c.After) {
		t.Fatalf("ApplyDiff(Before, Diff) = %v, want After %v", applied, c.After)
	}
}

func TestTxnDeleteProducesEmptyAfter(t *testing.T) {
	h := host.NewMemHost("alice")
	txn := NewTxn(h)
	if err := txn.Delete("0xdead", "total"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	changes := txn.ChangeSet()
	if len(changes) != 1 || len(changes[0].After) != 0 {
		t.Fatalf("ChangeSet = %+v, want a single empty-After entry", changes)
	}
}

func TestTxnDiscardDropsWrites(t *testing.T) {
	h := host.NewMemHost("alice")
	txn := NewTxn(h)
	if err := txn.Set("0xdead", "total", int64(9)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	txn.Discard()
	if txn.Dirty() {
		t.Fatal("expected Discard to clear dirty state")
	}
	if len(txn.ChangeSet()) != 0 {
		t.Fatal("expected Discard to clear pending changes")
	}
}

func TestTxnBuffersEventsUntilDiscardedOrRead(t *testing.T) {
	h := host.NewMemHost("alice")
	txn := NewTxn(h)

	txn.EmitEvent("0xdead", "Transfer", "A,B,300")
	txn.EmitEvent("0xdead", "Approval", "A,C,500")

	events := txn.Events()
	if len(events) != 2 || events[0].Name != "Transfer" || events[1].Name != "Approval" {
		t.Fatalf("Events() = %+v", events)
	}
	if len(h.Events()) != 0 {
		t.Fatal("expected the host to see no events before commit")
	}

	txn.Discard()
	if len(txn.Events()) != 0 {
		t.Fatal("expected Discard to clear buffered events")
	}
}

func TestDiffRoundTrip(t *testing.T) {
	cases := [][2]string{
		{"hello world", "hello there world"},
		{"abcdef", "abXYef"},
		{"", "new value"},
		{"old value", ""},
		{"same", "same"},
	}
	for _, c := range cases {
		before, after := []byte(c[0]), []byte(c[1])
		diff := Diff(before, after)
		got, err := ApplyDiff(before, diff)
		if err != nil {
			t.Fatalf("ApplyDiff(%q, Diff(%q, %q)): %v", before, c[0], c[1], err)
		}
		if !bytes.Equal(got, after) {
			t.Fatalf("ApplyDiff(Diff(%q, %q)) = %q, want %q", c[0], c[1], got, c[1])
		}
	}
}

func TestApplyDiffRejectsOversizedPrefixSuffix(t *testing.T) {
	diff := appendVarint(nil, 100) // prefix=100
	diff = appendVarint(diff, 0)   // suffix=0
	diff = appendVarint(diff, 0)   // mid len=0
	if _, err := ApplyDiff([]byte("short"), diff); err == nil {
		t.Fatal("expected an error for a diff referencing more bytes than before has")
	}
}

func mustEncode(t *testing.T, v value.Value) []byte {
	t.Helper()
	enc, err := serialize.Encode(v)
	if err != nil {
		t.Fatalf("encode seed value: %v", err)
	}
	return enc
}
