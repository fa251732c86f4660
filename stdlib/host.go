package stdlib

import (
	"github.com/rockercheng/uvm/callproxy"
	"github.com/rockercheng/uvm/errs"
	"github.com/rockercheng/uvm/host"
	"github.com/rockercheng/uvm/interp"
	"github.com/rockercheng/uvm/registry"
	"github.com/rockercheng/uvm/value"
)

func hostGetContractID(stack *callproxy.Stack) value.Native {
	return func(_ any, vs []value.Value) ([]value.Value, error) {
		return []value.Value{callproxy.CurrentContractID(stack)}, nil
	}
}

func hostEmitEvent(stack *callproxy.Stack, txn eventSink) value.Native {
	return func(_ any, vs []value.Value) ([]value.Value, error) {
		if err := callproxy.EnforceStaticPurity(stack); err != nil {
			return nil, err
		}
		a := newArgs("emit_event", vs)
		name, err := a.string()
		if err != nil {
			return nil, err
		}
		arg, err := a.string("")
		if err != nil {
			return nil, err
		}
		txn.EmitEvent(callproxy.CurrentContractID(stack), name, arg)
		return nil, nil
	}
}

// eventSink is the one method host.go needs from *storage.Txn, named
// separately so this file does not have to import package storage just to
// spell out the concrete type.
type eventSink interface {
	EmitEvent(contractID, name, arg string)
}

func hostTransfer(h host.Host, stack *callproxy.Stack) value.Native {
	return func(_ any, vs []value.Value) ([]value.Value, error) {
		if err := callproxy.EnforceStaticPurity(stack); err != nil {
			return nil, err
		}
		a := newArgs("transfer", vs)
		to, err := a.string()
		if err != nil {
			return nil, err
		}
		asset, err := a.string()
		if err != nil {
			return nil, err
		}
		amount, err := a.integer()
		if err != nil {
			return nil, err
		}
		from := callproxy.CurrentStorageContractID(stack)
		res, terr := h.Transfer(from, to, asset, amount)
		if terr != nil {
			return nil, errs.Host("%s", terr.Error())
		}
		return []value.Value{res.OK, res.Message}, nil
	}
}

func hostGetBalance(h host.Host) value.Native {
	return func(_ any, vs []value.Value) ([]value.Value, error) {
		a := newArgs("get_balance", vs)
		addr, err := a.string()
		if err != nil {
			return nil, err
		}
		asset, err := a.string()
		if err != nil {
			return nil, err
		}
		bal, berr := h.GetBalance(addr, asset)
		if berr != nil {
			return nil, errs.Host("%s", berr.Error())
		}
		return []value.Value{bal}, nil
	}
}

func hostCheckContractExists(h host.Host) value.Native {
	return func(_ any, vs []value.Value) ([]value.Value, error) {
		a := newArgs("check_contract_exists", vs)
		name, err := a.string()
		if err != nil {
			return nil, err
		}
		ok, cerr := h.CheckContractExists(name)
		if cerr != nil {
			return nil, errs.Host("%s", cerr.Error())
		}
		return []value.Value{ok}, nil
	}
}

func hostThrow(h host.Host) value.Native {
	return func(_ any, vs []value.Value) ([]value.Value, error) {
		a := newArgs("throw", vs)
		code, err := a.integer()
		if err != nil {
			return nil, err
		}
		msg, err := a.string("")
		if err != nil {
			return nil, err
		}
		return nil, errs.Host("%s", h.Throw(int(code), msg).Error())
	}
}

func hostCrossCall(reg *registry.Registry, stack *callproxy.Stack, ct callproxy.CallType, name string) value.Native {
	return func(co any, vs []value.Value) ([]value.Value, error) {
		a := newArgs(name, vs)
		contractName, err := a.string()
		if err != nil {
			return nil, err
		}
		apiName, err := a.string()
		if err != nil {
			return nil, err
		}
		th, ok := co.(*interp.Thread)
		if !ok {
			return nil, errs.Runtime("%s called outside an interpreter thread", name)
		}

		loaded, lerr := reg.Load(th, contractName, false)
		if lerr != nil {
			return nil, lerr
		}
		if !loaded.HasAPI(apiName) {
			return nil, errs.Protocol("contract %s has no API named %q", loaded.Name, apiName)
		}
		fn, ok := loaded.Table.GetHash(apiName).(*value.Closure)
		if !ok {
			return nil, errs.Protocol("API %s.%s is not callable", loaded.Name, apiName)
		}

		stack.SetPending(ct)
		return fn.Run(th, vs[2:])
	}
}

func installHostPrimitives(env *value.Table, h host.Host, stack *callproxy.Stack, txn eventSink, reg *registry.Registry) {
	env.ForceSet("get_contract_id", native("get_contract_id", hostGetContractID(stack)))
	env.ForceSet("emit_event", native("emit_event", hostEmitEvent(stack, txn)))
	env.ForceSet("transfer", native("transfer", hostTransfer(h, stack)))
	env.ForceSet("get_balance", native("get_balance", hostGetBalance(h)))
	env.ForceSet("check_contract_exists", native("check_contract_exists", hostCheckContractExists(h)))
	env.ForceSet("throw", native("throw", hostThrow(h)))
	env.ForceSet("now", native("now", func(any, []value.Value) ([]value.Value, error) { return []value.Value{h.Now()}, nil }))
	env.ForceSet("current_block_number", native("current_block_number", func(any, []value.Value) ([]value.Value, error) {
		return []value.Value{h.CurrentBlockNumber()}, nil
	}))
	env.ForceSet("tx_id", native("tx_id", func(any, []value.Value) ([]value.Value, error) { return []value.Value{h.TxID()}, nil }))
	env.ForceSet("random", native("random", func(any, []value.Value) ([]value.Value, error) { return []value.Value{h.Random()}, nil }))
	env.ForceSet("caller_address", native("caller_address", func(any, []value.Value) ([]value.Value, error) {
		return []value.Value{h.CallerAddress()}, nil
	}))
	env.ForceSet("system_asset_symbol", native("system_asset_symbol", func(any, []value.Value) ([]value.Value, error) {
		return []value.Value{h.SystemAssetSymbol()}, nil
	}))

	env.ForceSet("call", native("call", hostCrossCall(reg, stack, callproxy.CallTypeCall, "call")))
	env.ForceSet("static_call", native("static_call", hostCrossCall(reg, stack, callproxy.CallTypeStatic, "static_call")))
	env.ForceSet("delegate_call", native("delegate_call", hostCrossCall(reg, stack, callproxy.CallTypeDelegate, "delegate_call")))
}
