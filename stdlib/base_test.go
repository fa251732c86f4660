package stdlib

import (
	"testing"

	"github.com/rockercheng/uvm/errs"
	"github.com/rockercheng/uvm/interp"
	"github.com/rockercheng/uvm/value"
)

func TestGlobalTostring(t *testing.T) {
	cases := []struct {
		in   value.Value
		want string
	}{
		{nil, "nil"},
		{true, "true"},
		{false, "false"},
		{int64(42), "42"},
		{"hi", "hi"},
	}
	for _, c := range cases {
		res, err := globalTostring(nil, []value.Value{c.in})
		if err != nil {
			t.Fatalf("tostring(%v): %v", c.in, err)
		}
		if res[0] != c.want {
			t.Fatalf("tostring(%v) = %v, want %v", c.in, res[0], c.want)
		}
	}
}

func TestGlobalTypeReportsTag(t *testing.T) {
	res, err := globalType(nil, []value.Value{int64(1)})
	if err != nil {
		t.Fatalf("type: %v", err)
	}
	if res[0] != value.TypeName(int64(1)) {
		t.Fatalf("type(1) = %v, want %v", res[0], value.TypeName(int64(1)))
	}
}

func TestGlobalTonumberParsesDecimalString(t *testing.T) {
	res, err := globalTonumber(nil, []value.Value{"123"})
	if err != nil {
		t.Fatalf("tonumber: %v", err)
	}
	if res[0] != int64(123) {
		t.Fatalf("tonumber(\"123\") = %v, want 123", res[0])
	}
}

func TestGlobalTonumberParsesFractionalString(t *testing.T) {
	res, err := globalTonumber(nil, []value.Value{"3.14"})
	if err != nil {
		t.Fatalf("tonumber: %v", err)
	}
	n, ok := res[0].(value.Number)
	if !ok {
		t.Fatalf("tonumber(\"3.14\") = %v (%T), want a value.Number", res[0], res[0])
	}
	const want = 3_140_000_000 // 3.14 scaled by 10^value.Scale
	if n.Raw() != want {
		t.Fatalf("tonumber(\"3.14\").Raw() = %d, want %d (String() = %s)", n.Raw(), want, n.String())
	}
}

func TestGlobalTonumberReturnsNilOnFailure(t *testing.T) {
	res, err := globalTonumber(nil, []value.Value{"not a number"})
	if err != nil {
		t.Fatalf("tonumber: %v", err)
	}
	if res[0] != nil {
		t.Fatalf("tonumber(garbage) = %v, want nil", res[0])
	}
}

func TestGlobalAssertPassesThroughTruthyArgs(t *testing.T) {
	res, err := globalAssert(nil, []value.Value{int64(1), "extra"})
	if err != nil {
		t.Fatalf("assert: %v", err)
	}
	if len(res) != 2 || res[0] != int64(1) || res[1] != "extra" {
		t.Fatalf("assert passthrough = %v", res)
	}
}

func TestGlobalAssertFailsOnFalsy(t *testing.T) {
	_, err := globalAssert(nil, []value.Value{false, "boom"})
	if err == nil {
		t.Fatal("expected assert(false, ...) to fail")
	}
	if e, ok := errs.As(err, errs.KindRuntime); !ok || e.Message != "boom" {
		t.Fatalf("assert error = %q, want a RuntimeError with message %q", err.Error(), "boom")
	}
}

func TestGlobalRawequalAndRawlen(t *testing.T) {
	tbl := value.NewTable()
	tbl.ForceSet(int64(1), "a")
	tbl.ForceSet(int64(2), "b")

	eqRes, err := globalRawequal(nil, []value.Value{int64(1), int64(1)})
	if err != nil {
		t.Fatalf("rawequal: %v", err)
	}
	if eqRes[0] != true {
		t.Fatalf("rawequal(1,1) = %v, want true", eqRes[0])
	}

	lenRes, err := globalRawlen(nil, []value.Value{tbl})
	if err != nil {
		t.Fatalf("rawlen: %v", err)
	}
	if lenRes[0] != int64(2) {
		t.Fatalf("rawlen(tbl) = %v, want 2", lenRes[0])
	}
}

func TestGlobalIpairsIteratesArrayPart(t *testing.T) {
	tbl := value.NewTable()
	tbl.ForceSet(int64(1), "x")
	tbl.ForceSet(int64(2), "y")

	ipairsRes, err := globalIpairs(nil, []value.Value{tbl})
	if err != nil {
		t.Fatalf("ipairs: %v", err)
	}
	iterFn, ok := ipairsRes[0].(*value.Closure)
	if !ok {
		t.Fatal("ipairs did not return an iterator closure")
	}

	var got []value.Value
	state, ctrl := ipairsRes[1], ipairsRes[2]
	for {
		step, err := iterFn.Run(nil, []value.Value{state, ctrl})
		if err != nil {
			t.Fatalf("ipairs iterator: %v", err)
		}
		if len(step) == 0 || step[0] == nil {
			break
		}
		ctrl = step[0]
		got = append(got, step[1])
	}
	if len(got) != 2 || got[0] != "x" || got[1] != "y" {
		t.Fatalf("ipairs walked %v, want [x y]", got)
	}
}

func TestGlobalPcallCatchesRuntimeError(t *testing.T) {
	in := interp.NewInterp(64)
	failing := native("boom", func(co any, vs []value.Value) ([]value.Value, error) {
		return nil, errs.Runtime("kaboom")
	})

	pcall := globalPcall(in)
	res, err := pcall(nil, []value.Value{failing})
	if err != nil {
		t.Fatalf("pcall itself should not fail: %v", err)
	}
	if len(res) != 2 || res[0] != false {
		t.Fatalf("pcall(failing) = %v, want [false, message]", res)
	}
	if _, ok := res[1].(string); !ok {
		t.Fatalf("pcall error slot = %v, want a string message", res[1])
	}
}

func TestGlobalPcallPassesThroughSuccess(t *testing.T) {
	in := interp.NewInterp(64)
	ok := native("ok", func(co any, vs []value.Value) ([]value.Value, error) {
		return []value.Value{int64(7)}, nil
	})

	pcall := globalPcall(in)
	res, err := pcall(nil, []value.Value{ok})
	if err != nil {
		t.Fatalf("pcall: %v", err)
	}
	if len(res) != 2 || res[0] != true || res[1] != int64(7) {
		t.Fatalf("pcall(ok) = %v, want [true, 7]", res)
	}
}
