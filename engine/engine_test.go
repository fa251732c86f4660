package engine

import (
	"testing"

	"github.com/rockercheng/uvm/bytecode"
	"github.com/rockercheng/uvm/host"
	"github.com/rockercheng/uvm/serialize"
)

// tokenModule builds a minimal compiled contract whose main chunk returns
// a table with three APIs -- init, transfer, balance_of -- exercising
// upvalue-captured self-table access, storage reads/writes through the
// registry's storage facade, and a global (_ENV-routed) host primitive
// call from a nested closure.
func tokenModule() *bytecode.Module {
	init := &bytecode.Proto{
		Dbgname:      "init",
		NumParams:    1,
		MaxStackSize: 2,
		Upvalues:     []bytecode.UpvalDesc{{Name: "self", Source: bytecode.UpvalFromLocal, Index: 0}},
		Constants: []bytecode.Const{
			{Kind: bytecode.ConstString, Str: "storage"},
			{Kind: bytecode.ConstString, Str: "balance"},
		},
		Code: []bytecode.Inst{
			{Op: bytecode.OpGetUpval, A: 1, B: 0},
			{Op: bytecode.OpGetTable, A: 1, B: 1, C: bytecode.EncodeConst(0)},
			{Op: bytecode.OpSetTable, A: 1, B: bytecode.EncodeConst(1), C: bytecode.EncodeReg(0)},
			{Op: bytecode.OpReturn, A: 0, B: 1},
		},
	}

	transfer := &bytecode.Proto{
		Dbgname:      "transfer",
		NumParams:    2, // to, amount
		MaxStackSize: 9,
		Upvalues: []bytecode.UpvalDesc{
			{Name: "self", Source: bytecode.UpvalFromLocal, Index: 0},
			{Name: "_ENV", Source: bytecode.UpvalFromUpvalue, Index: 0},
		},
		Constants: []bytecode.Const{
			{Kind: bytecode.ConstString, Str: "storage"},
			{Kind: bytecode.ConstString, Str: "balance"},
			{Kind: bytecode.ConstString, Str: "emit_event"},
			{Kind: bytecode.ConstString, Str: "transferred"},
		},
		Code: []bytecode.Inst{
			{Op: bytecode.OpGetUpval, A: 2, B: 0},
			{Op: bytecode.OpGetTable, A: 3, B: 2, C: bytecode.EncodeConst(0)},
			{Op: bytecode.OpGetTable, A: 4, B: 3, C: bytecode.EncodeConst(1)},
			{Op: bytecode.OpSub, A: 5, B: bytecode.EncodeReg(4), C: bytecode.EncodeReg(1)},
			{Op: bytecode.OpSetTable, A: 3, B: bytecode.EncodeConst(1), C: bytecode.EncodeReg(5)},
			{Op: bytecode.OpGetTabUp, A: 6, B: 1, C: bytecode.EncodeConst(2)},
			{Op: bytecode.OpLoadK, A: 7, Bx: 3},
			{Op: bytecode.OpMove, A: 8, B: 0},
			{Op: bytecode.OpCall, A: 6, B: 3, C: 1},
			{Op: bytecode.OpReturn, A: 0, B: 1},
		},
	}

	balanceOf := &bytecode.Proto{
		Dbgname:      "balance_of",
		MaxStackSize: 1,
		Upvalues:     []bytecode.UpvalDesc{{Name: "self", Source: bytecode.UpvalFromLocal, Index: 0}},
		Constants: []bytecode.Const{
			{Kind: bytecode.ConstString, Str: "storage"},
			{Kind: bytecode.ConstString, Str: "balance"},
		},
		Code: []bytecode.Inst{
			{Op: bytecode.OpGetUpval, A: 0, B: 0},
			{Op: bytecode.OpGetTable, A: 0, B: 0, C: bytecode.EncodeConst(0)},
			{Op: bytecode.OpGetTable, A: 0, B: 0, C: bytecode.EncodeConst(1)},
			{Op: bytecode.OpReturn, A: 0, B: 2},
		},
	}

	main := &bytecode.Proto{
		Dbgname:      "main",
		MaxStackSize: 2,
		Upvalues:     []bytecode.UpvalDesc{{Name: "_ENV"}},
		Protos:       []*bytecode.Proto{init, transfer, balanceOf},
		Constants: []bytecode.Const{
			{Kind: bytecode.ConstString, Str: "init"},
			{Kind: bytecode.ConstString, Str: "transfer"},
			{Kind: bytecode.ConstString, Str: "balance_of"},
		},
		Code: []bytecode.Inst{
			{Op: bytecode.OpNewTable, A: 0},
			{Op: bytecode.OpClosure, A: 1, Bx: 0},
			{Op: bytecode.OpSetTable, A: 0, B: bytecode.EncodeConst(0), C: bytecode.EncodeReg(1)},
			{Op: bytecode.OpClosure, A: 1, Bx: 1},
			{Op: bytecode.OpSetTable, A: 0, B: bytecode.EncodeConst(1), C: bytecode.EncodeReg(1)},
			{Op: bytecode.OpClosure, A: 1, Bx: 2},
			{Op: bytecode.OpSetTable, A: 0, B: bytecode.EncodeConst(2), C: bytecode.EncodeReg(1)},
			{Op: bytecode.OpReturn, A: 0, B: 2},
		},
	}
	return &bytecode.Module{Main: main}
}

func deployToken(t *testing.T) *host.MemHost {
	t.Helper()
	code := bytecode.Encode(tokenModule())
	h := host.NewMemHost("alice")
	h.Deploy("0xtoken", host.ContractMeta{
		Name: "token",
		APIs: []string{"init", "transfer", "balance_of"},
	}, code)
	return h
}

func encodeArg(t *testing.T, v any) []byte {
	t.Helper()
	var enc []byte
	var err error
	switch n := v.(type) {
	case int64:
		enc, err = serialize.Encode(n)
	case string:
		enc, err = serialize.Encode(n)
	default:
		t.Fatalf("unsupported fixture argument type %T", v)
	}
	if err != nil {
		t.Fatalf("encode arg: %v", err)
	}
	return enc
}

func TestExecuteInitCommitsStorage(t *testing.T) {
	h := deployToken(t)
	eng := New(h)

	res, err := eng.Execute("token", "init", [][]byte{encodeArg(t, int64(100))})
	if err != nil {
		t.Fatalf("Execute(init): %v", err)
	}
	if len(res.Changes) == 0 {
		t.Fatal("expected init to produce at least one storage change")
	}
	raw, err := h.StorageGet("0xtoken", "balance")
	if err != nil {
		t.Fatalf("StorageGet: %v", err)
	}
	if len(raw) == 0 {
		t.Fatal("expected committed storage to contain the balance slot")
	}
}

func TestExecuteTransferEmitsEventAndUpdatesBalance(t *testing.T) {
	h := deployToken(t)
	eng := New(h)

	if _, err := eng.Execute("token", "init", [][]byte{encodeArg(t, int64(100))}); err != nil {
		t.Fatalf("Execute(init): %v", err)
	}

	res, err := eng.Execute("token", "transfer", [][]byte{encodeArg(t, "bob"), encodeArg(t, int64(30))})
	if err != nil {
		t.Fatalf("Execute(transfer): %v", err)
	}
	if len(res.Events) != 1 || res.Events[0].Name != "transferred" {
		t.Fatalf("Events = %v, want one transferred event", res.Events)
	}
	if len(h.Events()) != 1 {
		t.Fatalf("host recorded %d events, want 1", len(h.Events()))
	}

	balRes, err := eng.Execute("token", "balance_of", nil)
	if err != nil {
		t.Fatalf("Execute(balance_of): %v", err)
	}
	if len(balRes.Values) != 1 || balRes.Values[0] != int64(70) {
		t.Fatalf("balance_of = %v, want [70]", balRes.Values)
	}
}

func TestExecuteStaticRejectsMutationAndCommitsNothing(t *testing.T) {
	h := deployToken(t)
	eng := New(h)
	if _, err := eng.Execute("token", "init", [][]byte{encodeArg(t, int64(100))}); err != nil {
		t.Fatalf("Execute(init): %v", err)
	}

	_, err := eng.ExecuteStatic("token", "transfer", [][]byte{encodeArg(t, "bob"), encodeArg(t, int64(30))})
	if err == nil {
		t.Fatal("expected a static call attempting a storage write to fail")
	}
	if got := eng.LastRunError(); got == nil {
		t.Fatal("expected LastRunError to be populated after a failed static call")
	}

	raw, _ := h.StorageGet("0xtoken", "balance")
	var v int64
	if len(raw) > 0 {
		decoded, derr := serialize.Decode(raw)
		if derr != nil {
			t.Fatalf("decode committed balance: %v", derr)
		}
		v = decoded.(int64)
	}
	if v != 100 {
		t.Fatalf("balance after failed static transfer = %d, want unchanged 100", v)
	}
}

func TestExecuteBalanceOfIsReadOnlyUnderStaticCall(t *testing.T) {
	h := deployToken(t)
	eng := New(h)
	if _, err := eng.Execute("token", "init", [][]byte{encodeArg(t, int64(42))}); err != nil {
		t.Fatalf("Execute(init): %v", err)
	}

	res, err := eng.ExecuteStatic("token", "balance_of", nil)
	if err != nil {
		t.Fatalf("ExecuteStatic(balance_of): %v", err)
	}
	if len(res.Values) != 1 || res.Values[0] != int64(42) {
		t.Fatalf("balance_of under static call = %v, want [42]", res.Values)
	}
	if len(res.Changes) != 0 || len(res.Events) != 0 {
		t.Fatalf("static call produced changes=%v events=%v, want both empty", res.Changes, res.Events)
	}
}

func TestExecuteRecordsCompileErrorOnAPIMismatch(t *testing.T) {
	code := bytecode.Encode(tokenModule())
	h := host.NewMemHost("alice")
	h.Deploy("0xtoken", host.ContractMeta{Name: "token", APIs: []string{"does_not_exist"}}, code)
	eng := New(h)

	_, err := eng.Execute("token", "init", [][]byte{encodeArg(t, int64(1))})
	if err == nil {
		t.Fatal("expected an API-mismatch failure")
	}
	if eng.LastCompileError() == nil {
		t.Fatal("expected LastCompileError to be populated for a module/host API disagreement")
	}
	if eng.LastRunError() != nil {
		t.Fatalf("LastRunError = %v, want nil for a load-time failure", eng.LastRunError())
	}
}

func TestExecuteRecordsRunErrorOnMissingContract(t *testing.T) {
	h := host.NewMemHost("alice")
	eng := New(h)

	_, err := eng.Execute("nobody", "init", nil)
	if err == nil {
		t.Fatal("expected Execute against an undeployed contract to fail")
	}
	if eng.LastRunError() == nil {
		t.Fatal("expected LastRunError to be populated for a missing contract")
	}
	if eng.LastCompileError() != nil {
		t.Fatalf("LastCompileError = %v, want nil for a missing-contract failure", eng.LastCompileError())
	}
}

func TestExecuteWithStreamsLoadsUndeployedBytecode(t *testing.T) {
	h := host.NewMemHost("alice")
	eng := New(h)
	code := bytecode.Encode(tokenModule())

	_, err := eng.ExecuteWithStreams("@stream:token", "init", [][]byte{encodeArg(t, int64(5))}, map[string][]byte{"token": code})
	if err != nil {
		t.Fatalf("ExecuteWithStreams(init): %v", err)
	}
}

func TestErrorBuffersClearBetweenCalls(t *testing.T) {
	h := deployToken(t)
	eng := New(h)

	if _, err := eng.Execute("nobody", "init", nil); err == nil {
		t.Fatal("expected first call against an undeployed contract to fail")
	}
	if eng.LastRunError() == nil {
		t.Fatal("expected LastRunError set after the failing call")
	}

	if _, err := eng.Execute("token", "init", [][]byte{encodeArg(t, int64(1))}); err != nil {
		t.Fatalf("Execute(init): %v", err)
	}
	if eng.LastRunError() != nil {
		t.Fatalf("LastRunError = %v, want nil after a subsequent successful call", eng.LastRunError())
	}
}
