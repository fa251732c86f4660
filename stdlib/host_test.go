package stdlib

import (
	"testing"

	"github.com/rockercheng/uvm/callproxy"
	"github.com/rockercheng/uvm/host"
	"github.com/rockercheng/uvm/value"
)

type fakeSink struct {
	events []string
}

func (f *fakeSink) EmitEvent(contractID, name, arg string) {
	f.events = append(f.events, contractID+":"+name+":"+arg)
}

func TestHostGetContractIDReadsStackTop(t *testing.T) {
	stack := callproxy.NewStack()
	stack.Push("0xabc", "init")

	res, err := hostGetContractID(stack)(nil, nil)
	if err != nil {
		t.Fatalf("get_contract_id: %v", err)
	}
	if res[0] != "0xabc" {
		t.Fatalf("get_contract_id() = %v, want 0xabc", res[0])
	}
}

func TestHostEmitEventRecordsOnSink(t *testing.T) {
	stack := callproxy.NewStack()
	stack.Push("0xabc", "transfer")
	sink := &fakeSink{}

	_, err := hostEmitEvent(stack, sink)(nil, []value.Value{"moved", "42"})
	if err != nil {
		t.Fatalf("emit_event: %v", err)
	}
	if len(sink.events) != 1 || sink.events[0] != "0xabc:moved:42" {
		t.Fatalf("sink.events = %v, want one 0xabc:moved:42 entry", sink.events)
	}
}

func TestHostEmitEventRejectedUnderStaticCall(t *testing.T) {
	stack := callproxy.NewStack()
	stack.SetPending(callproxy.CallTypeStatic)
	stack.Push("0xabc", "balance_of")
	sink := &fakeSink{}

	_, err := hostEmitEvent(stack, sink)(nil, []value.Value{"moved", "42"})
	if err == nil {
		t.Fatal("expected emit_event under a static call to fail")
	}
	if len(sink.events) != 0 {
		t.Fatalf("sink.events = %v, want none after a rejected emit", sink.events)
	}
}

func TestHostGetBalanceDelegatesToHost(t *testing.T) {
	h := host.NewMemHost("alice")
	h.SetBalance("0xabc", "UVM", 500)

	res, err := hostGetBalance(h)(nil, []value.Value{"0xabc", "UVM"})
	if err != nil {
		t.Fatalf("get_balance: %v", err)
	}
	if res[0] != int64(500) {
		t.Fatalf("get_balance = %v, want 500", res[0])
	}
}

func TestHostCheckContractExists(t *testing.T) {
	h := host.NewMemHost("alice")
	h.Deploy("0xabc", host.ContractMeta{Name: "token"}, []byte("code"))

	res, err := hostCheckContractExists(h)(nil, []value.Value{"0xabc"})
	if err != nil {
		t.Fatalf("check_contract_exists: %v", err)
	}
	if res[0] != true {
		t.Fatal("expected check_contract_exists(0xabc) = true")
	}

	res, err = hostCheckContractExists(h)(nil, []value.Value{"0xnope"})
	if err != nil {
		t.Fatalf("check_contract_exists: %v", err)
	}
	if res[0] != false {
		t.Fatal("expected check_contract_exists(0xnope) = false")
	}
}

func TestHostThrowSurfacesHostError(t *testing.T) {
	h := host.NewMemHost("alice")
	_, err := hostThrow(h)(nil, []value.Value{int64(7), "bad state"})
	if err == nil {
		t.Fatal("expected throw to always return an error")
	}
}
