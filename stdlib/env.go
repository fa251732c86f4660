// Package stdlib builds the global environment table every loaded
// contract module's top-level chunk runs against: the base/table/
// coroutine/utf8 libraries a Lua-like contract language expects, plus the
// host-primitive bindings (storage-adjacent calls, cross-contract
// call/static_call/delegate_call) that tie a contract to the engine
// running it.
package stdlib

import (
	"github.com/rockercheng/uvm/callproxy"
	"github.com/rockercheng/uvm/host"
	"github.com/rockercheng/uvm/interp"
	"github.com/rockercheng/uvm/registry"
	"github.com/rockercheng/uvm/storage"
	"github.com/rockercheng/uvm/value"
)

// NewEnv builds one fresh _ENV table for a single engine call: the
// sub-libraries never hold per-call state themselves, but the host
// primitives close over this call's host handle, identity stack, storage
// transaction and registry, so a new table is built per call rather than
// shared across them.
func NewEnv(h host.Host, stack *callproxy.Stack, txn *storage.Txn, in *interp.Interp, reg *registry.Registry) *value.Table {
	env := value.NewTable()

	installBase(env, in)
	installTable(env, in)
	installCoroutine(env, in)
	installUtf8(env)
	installHostPrimitives(env, h, stack, txn, reg)

	env.ForceSet("_G", env)
	env.ForceSet("_ENV", env)
	env.ForceSet("contract_mt", value.NewTable())
	env.ForceSet("storage_mt", value.NewTable())
	env.ForceSet("last_return", nil)
	env.ForceSet("arg", value.NewTable())

	return env
}
