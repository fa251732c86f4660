package registry

import (
	"testing"

	"github.com/rockercheng/uvm/bytecode"
	"github.com/rockercheng/uvm/callproxy"
	"github.com/rockercheng/uvm/host"
	"github.com/rockercheng/uvm/interp"
	"github.com/rockercheng/uvm/storage"
	"github.com/rockercheng/uvm/value"
)

// tokenModule builds a minimal compiled module whose top-level chunk
// returns a table with one API, greet(), returning the constant string
// "hello".
func tokenModule() *bytecode.Module {
	child := &bytecode.Proto{
		Dbgname:      "greet",
		MaxStackSize: 2,
		Constants:    []bytecode.Const{{Kind: bytecode.ConstString, Str: "hello"}},
		Code: []bytecode.Inst{
			{Op: bytecode.OpLoadK, A: 0, Bx: 0},
			{Op: bytecode.OpReturn, A: 0, B: 2},
		},
	}
	main := &bytecode.Proto{
		Dbgname:      "main",
		MaxStackSize: 2,
		Constants:    []bytecode.Const{{Kind: bytecode.ConstString, Str: "greet"}},
		Protos:       []*bytecode.Proto{child},
		Code: []bytecode.Inst{
			{Op: bytecode.OpNewTable, A: 0},
			{Op: bytecode.OpClosure, A: 1, Bx: 0},
			{Op: bytecode.OpSetTable, A: 0, B: bytecode.EncodeConst(0), C: bytecode.EncodeReg(1)},
			{Op: bytecode.OpReturn, A: 0, B: 2},
		},
	}
	return &bytecode.Module{Main: main}
}

func newTestRegistry(t *testing.T) (*Registry, *host.MemHost, *interp.Thread) {
	t.Helper()
	code := bytecode.Encode(tokenModule())

	h := host.NewMemHost("alice")
	h.Deploy("0xdead", host.ContractMeta{Name: "token", APIs: []string{"greet"}}, code)

	in := interp.NewInterp(64)
	stack := callproxy.NewStack()
	txn := storage.NewTxn(h)
	r := New(h, in, stack, txn)
	th := interp.NewThread()
	return r, h, th
}

func TestLoadRunsTopLevelAndCollectsAPIs(t *testing.T) {
	r, _, th := newTestRegistry(t)

	l, err := r.Load(th, "token", true)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !l.HasAPI("greet") {
		t.Fatalf("APIs = %v, want to include greet", l.APIs)
	}
	if l.Table.Get("name") != "token" {
		t.Fatalf("name field = %#v, want token", l.Table.Get("name"))
	}
	if l.Table.Get("id") != "0xdead" {
		t.Fatalf("id field = %#v, want 0xdead", l.Table.Get("id"))
	}
}

func TestLoadMemoisesByResolvedKey(t *testing.T) {
	r, _, th := newTestRegistry(t)

	first, err := r.Load(th, "token", true)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	second, err := r.Load(th, "@address:0xdead", true)
	if err != nil {
		t.Fatalf("Load by address: %v", err)
	}
	if first.Table != second.Table {
		t.Fatal("expected loading by name and by address to hit the same memoised module")
	}
}

func TestLoadedAPIIsCallableThroughTrampoline(t *testing.T) {
	r, _, th := newTestRegistry(t)

	l, err := r.Load(th, "token", true)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	greet, ok := l.Table.GetHash("greet").(*value.Closure)
	if !ok {
		t.Fatal("greet is not a closure after trampolining")
	}
	results, err := greet.Run(th, nil)
	if err != nil {
		t.Fatalf("greet(): %v", err)
	}
	if len(results) != 1 || results[0] != "hello" {
		t.Fatalf("greet() = %v, want [hello]", results)
	}
}

func TestLoadRejectsAPIMismatch(t *testing.T) {
	h := host.NewMemHost("alice")
	code := bytecode.Encode(tokenModule())
	h.Deploy("0xdead", host.ContractMeta{Name: "token", APIs: []string{"transfer"}}, code)

	in := interp.NewInterp(64)
	r := New(h, in, callproxy.NewStack(), storage.NewTxn(h))
	th := interp.NewThread()

	if _, err := r.Load(th, "token", true); err == nil {
		t.Fatal("expected an API-mismatch ProtocolError")
	}
}

func TestNonEntryModuleStripsSpecialAPIs(t *testing.T) {
	special := &bytecode.Proto{
		Dbgname:      "init",
		MaxStackSize: 2,
		Constants:    []bytecode.Const{{Kind: bytecode.ConstString, Str: "initialized"}},
		Code: []bytecode.Inst{
			{Op: bytecode.OpLoadK, A: 0, Bx: 0},
			{Op: bytecode.OpReturn, A: 0, B: 2},
		},
	}
	main := &bytecode.Proto{
		Dbgname:      "main",
		MaxStackSize: 2,
		Constants:    []bytecode.Const{{Kind: bytecode.ConstString, Str: "init"}},
		Protos:       []*bytecode.Proto{special},
		Code: []bytecode.Inst{
			{Op: bytecode.OpNewTable, A: 0},
			{Op: bytecode.OpClosure, A: 1, Bx: 0},
			{Op: bytecode.OpSetTable, A: 0, B: bytecode.EncodeConst(0), C: bytecode.EncodeReg(1)},
			{Op: bytecode.OpReturn, A: 0, B: 2},
		},
	}
	code := bytecode.Encode(&bytecode.Module{Main: main})

	h := host.NewMemHost("alice")
	h.Deploy("0xlib", host.ContractMeta{Name: "lib", APIs: []string{"init"}}, code)

	in := interp.NewInterp(64)
	r := New(h, in, callproxy.NewStack(), storage.NewTxn(h))
	th := interp.NewThread()

	l, err := r.Load(th, "lib", false)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if l.HasAPI("init") {
		t.Fatal("expected the special API init to be stripped from a non-entry module")
	}
	if l.Table.GetHash("init") != nil {
		t.Fatal("expected init's table slot to be cleared")
	}
}

func TestStorageFacadeRoundTrips(t *testing.T) {
	r, _, th := newTestRegistry(t)
	l, err := r.Load(th, "token", true)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	storageTbl, ok := l.Table.Get("storage").(*value.Table)
	if !ok {
		t.Fatal("storage field is not a table")
	}
	in := interp.NewInterp(64)
	if err := in.NewIndex(th, storageTbl, "balance", int64(42)); err != nil {
		t.Fatalf("storage write: %v", err)
	}
	v, err := in.Index(th, storageTbl, "balance")
	if err != nil {
		t.Fatalf("storage read: %v", err)
	}
	if v != int64(42) {
		t.Fatalf("storage read = %#v, want 42", v)
	}
}
