// Package registry implements the module loader and the per-engine
// `loaded` memoisation table: resolving a contract name to its bytecode,
// running its top-level chunk, validating the table it returns against
// the host's declared metadata, and wrapping every function it exposes
// with a call-proxy trampoline before handing it back to whatever asked
// to load it.
package registry

import (
	"fmt"
	"slices"
	"strings"

	"github.com/rockercheng/uvm/bundle"
	"github.com/rockercheng/uvm/bytecode"
	"github.com/rockercheng/uvm/callproxy"
	"github.com/rockercheng/uvm/errs"
	"github.com/rockercheng/uvm/host"
	"github.com/rockercheng/uvm/interp"
	"github.com/rockercheng/uvm/storage"
	"github.com/rockercheng/uvm/value"
)

// specialAPIs names the reserved API set only a transaction's top-level
// entry contract may execute; every other module loaded as a dependency
// has these stripped from the table it hands back.
var specialAPIs = map[string]bool{
	"init":        true,
	"on_deposit":  true,
	"on_upgrade":  true,
	"on_withdraw": true,
}

// Loaded is one module's entry in the `loaded` table: the table the
// contract's top-level chunk returned, already fitted with its standard
// fields and trampolined APIs, plus what the registry knows about it.
type Loaded struct {
	Table       *value.Table
	Name        string
	ContractID  string
	APIs        []string
	OfflineAPIs []string
}

// HasAPI reports whether name names a (non-special, or special-if-entry)
// callable entry on this module.
func (l *Loaded) HasAPI(name string) bool {
	return slices.Contains(l.APIs, name)
}

// Registry is the per-engine module loader and memoisation table. It is
// not safe for concurrent use, matching the single-threaded engine model
// every other package in this tree assumes.
type Registry struct {
	host    host.Host
	in      *interp.Interp
	stack   *callproxy.Stack
	txn     *storage.Txn
	streams map[string][]byte
	loaded  map[string]*Loaded
	env     *value.Table
}

// New builds an empty registry over the given collaborators. The
// interpreter, identity stack and storage transaction are shared with the
// rest of the engine for the duration of one API call.
func New(h host.Host, in *interp.Interp, stack *callproxy.Stack, txn *storage.Txn) *Registry {
	return &Registry{
		host:    h,
		in:      in,
		stack:   stack,
		txn:     txn,
		streams: map[string][]byte{},
		loaded:  map[string]*Loaded{},
	}
}

// AddStream hands the registry an in-memory byte stream addressable as
// `@stream:<id>`, for hosts that pass freshly-compiled bytecode alongside
// a transaction rather than through the named/addressed contract store.
func (r *Registry) AddStream(id string, code []byte) {
	r.streams[id] = code
}

// SetEnv binds the global environment table every loaded module's
// top-level chunk sees through its upvalue 0. Must be called before the
// first Load, since the main closure's upvalue is bound at load time.
func (r *Registry) SetEnv(env *value.Table) {
	r.env = env
}

// Loaded returns a previously loaded module without attempting to load
// it; the second result is false when nothing is loaded under
// resolvedKey. The cross-contract primitives go through Load instead.
func (r *Registry) Loaded(resolvedKey string) (*Loaded, bool) {
	l, ok := r.loaded[resolvedKey]
	return l, ok
}

// Load resolves name to bytecode, loads and executes it if not already
// memoised, and returns the fitted module table. isEntry marks whether
// this is the transaction's top-level contract, which alone is allowed to
// keep the special-API set in its returned table.
func (r *Registry) Load(th *interp.Thread, name string, isEntry bool) (*Loaded, error) {
	resolvedKey, code, meta, err := r.fetch(name)
	if err != nil {
		return nil, err
	}
	if l, ok := r.loaded[resolvedKey]; ok {
		return l, nil
	}

	module, err := bytecode.Load(code)
	if err != nil {
		return nil, errs.Wrap(errs.KindCompile, err)
	}

	mainClosure := &value.Closure{Proto: module.Main, Name: module.Main.Dbgname}
	if len(module.Main.Upvalues) > 0 && r.env != nil {
		mainClosure.Upvals = []*value.Upvalue{{Closed: r.env}}
	}
	results, err := r.in.Call(th, mainClosure, nil)
	if err != nil {
		return nil, err
	}
	if len(results) != 1 {
		return nil, errs.Protocol("contract module %q must return exactly one table, got %d results", name, len(results))
	}
	tbl, ok := results[0].(*value.Table)
	if !ok {
		return nil, errs.Protocol("contract module %q must return a table, got %s", name, value.TypeName(results[0]))
	}

	apis, offline := collectAPIs(tbl)
	if err := r.validateAgainstHost(apis, offline, meta); err != nil {
		return nil, err
	}
	if err := validateArgTypes(tbl, meta); err != nil {
		return nil, err
	}

	r.attachStandardFields(tbl, resolvedKey, meta.Name)

	for _, api := range apis {
		fn := tbl.GetHash(api)
		cl, ok := fn.(*value.Closure)
		if !ok {
			continue
		}
		tbl.ForceSet(api, r.trampolineClosure(resolvedKey, api, cl))
	}

	if !isEntry {
		for special := range specialAPIs {
			tbl.ForceSet(special, nil)
		}
		apis = slices.DeleteFunc(slices.Clone(apis), func(a string) bool { return specialAPIs[a] })
	}

	loaded := &Loaded{Table: tbl, Name: meta.Name, ContractID: resolvedKey, APIs: apis, OfflineAPIs: offline}
	r.loaded[resolvedKey] = loaded
	return loaded, nil
}

// fetch resolves name to its bytecode and host metadata without running
// anything: bare names and @address: forms go through the host, @stream:
// forms resolve against bytes the engine was handed directly.
func (r *Registry) fetch(name string) (resolvedKey string, code []byte, meta host.ContractMeta, err error) {
	switch {
	case strings.HasPrefix(name, "@stream:"):
		id := strings.TrimPrefix(name, "@stream:")
		b, ok := r.streams[id]
		if !ok {
			return "", nil, host.ContractMeta{}, errs.Host("no such stream: %s", id)
		}
		// a caller may hand AddStream either raw or gzip-compressed
		// bytecode; the loader only ever sees the raw form.
		raw, err := bundle.DecompressIfNeeded(b)
		if err != nil {
			return "", nil, host.ContractMeta{}, errs.Host("stream %s: %s", id, err.Error())
		}
		addr, err := bundle.Address(raw)
		if err != nil {
			return "", nil, host.ContractMeta{}, errs.Host("stream %s: %s", id, err.Error())
		}
		return "stream:" + addr, raw, host.ContractMeta{Name: id}, nil

	case strings.HasPrefix(name, "@address:"):
		addr := strings.TrimPrefix(name, "@address:")
		c, m, e := r.host.OpenContract(addr)
		return addr, c, m, e

	default:
		addr, e := r.host.GetContractAddressByName(name)
		if e != nil {
			return "", nil, host.ContractMeta{}, errs.Host("%s", e.Error())
		}
		c, m, e := r.host.OpenContract(name)
		return addr, c, m, e
	}
}

// collectAPIs reads the string-keyed function-valued entries of tbl as
// the module's public API set, and its optional `locals` field as the
// offline-only subset.
func collectAPIs(tbl *value.Table) (apis, offline []string) {
	for k, v := range tbl.Iter() {
		ks, ok := k.(string)
		if !ok || ks == "locals" {
			continue
		}
		if _, ok := v.(*value.Closure); ok {
			apis = append(apis, ks)
		}
	}
	slices.Sort(apis)

	if locals, ok := tbl.Get("locals").(*value.Table); ok {
		for _, v := range locals.Array {
			if s, ok := v.(string); ok {
				offline = append(offline, s)
			}
		}
	}
	return apis, offline
}

// validateAgainstHost checks that the module's actual API surface matches
// what the host believes this contract exposes. A bare-fetch meta with no
// declared APIs (the common case for a stream or a freshly deployed
// contract the host has not yet indexed) is accepted without comparison.
func (r *Registry) validateAgainstHost(apis, offline []string, meta host.ContractMeta) error {
	if len(meta.APIs) == 0 {
		return nil
	}
	want := slices.Clone(meta.APIs)
	slices.Sort(want)
	got := slices.Clone(apis)
	slices.Sort(got)
	if !slices.Equal(want, got) {
		return errs.Protocol("module %s API set %v does not match host metadata %v", meta.Name, got, want)
	}

	wantOffline := slices.Clone(meta.Offline)
	slices.Sort(wantOffline)
	gotOffline := slices.Clone(offline)
	slices.Sort(gotOffline)
	if !slices.Equal(wantOffline, gotOffline) {
		return errs.Protocol("module %s offline API set %v does not match host metadata %v", meta.Name, gotOffline, wantOffline)
	}
	return nil
}

// validateArgTypes checks that every API the host declares an expected
// argument count for actually takes that many bytecode-level parameters.
// It does not check runtime value types -- a dynamically typed contract
// API has no static type to compare against -- only the declared arity,
// which is the one thing the loader can verify before anything runs.
func validateArgTypes(tbl *value.Table, meta host.ContractMeta) error {
	for api, types := range meta.ArgTypes {
		fn, ok := tbl.GetHash(api).(*value.Closure)
		if !ok || fn.IsNative() {
			continue
		}
		proto, ok := fn.Proto.(*bytecode.Proto)
		if !ok {
			continue
		}
		if !proto.IsVararg && int(proto.NumParams) != len(types) {
			return errs.Protocol("API %s declares %d argument type(s) but the module defines %d parameter(s)", api, len(types), proto.NumParams)
		}
	}
	return nil
}

// attachStandardFields installs the fields every loaded contract table
// gets regardless of what its own code set: name, id, a storage facade
// table delegating through the storage layer, and a frozen _data table.
func (r *Registry) attachStandardFields(tbl *value.Table, contractID, name string) {
	tbl.ForceSet("name", name)
	tbl.ForceSet("id", contractID)

	if r.env != nil {
		if mt, ok := r.env.GetHash("contract_mt").(*value.Table); ok {
			tbl.Metatable = mt
		}
	}

	storageTable := value.NewTable()
	storageMT := value.NewTable()
	storageMT.ForceSet("__index", storageIndexClosure(r.txn, contractID))
	storageMT.ForceSet("__newindex", storageNewIndexClosure(r.stack, r.txn, contractID))
	storageTable.Metatable = storageMT
	tbl.ForceSet("storage", storageTable)

	data := value.NewTable()
	data.Readonly = true
	tbl.ForceSet("_data", data)
}

func storageIndexClosure(txn *storage.Txn, contractID string) *value.Closure {
	return &value.Closure{Name: "storage.__index", Run: func(co any, args []value.Value) ([]value.Value, error) {
		if len(args) < 2 {
			return nil, errs.Runtime("storage index requires a key")
		}
		slot, ok := slotName(args[1])
		if !ok {
			return nil, errs.Runtime("storage key of type %s is not usable as a slot name", value.TypeName(args[1]))
		}
		v, err := txn.Get(contractID, slot)
		if err != nil {
			return nil, err
		}
		return []value.Value{v}, nil
	}}
}

func storageNewIndexClosure(stack *callproxy.Stack, txn *storage.Txn, contractID string) *value.Closure {
	return &value.Closure{Name: "storage.__newindex", Run: func(co any, args []value.Value) ([]value.Value, error) {
		if len(args) < 3 {
			return nil, errs.Runtime("storage assignment requires a key and a value")
		}
		if err := callproxy.EnforceStaticPurity(stack); err != nil {
			return nil, err
		}
		slot, ok := slotName(args[1])
		if !ok {
			return nil, errs.Runtime("storage key of type %s is not usable as a slot name", value.TypeName(args[1]))
		}
		if err := txn.Set(contractID, slot, args[2]); err != nil {
			return nil, err
		}
		return nil, nil
	}}
}

func slotName(k value.Value) (string, bool) {
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

// trampolineClosure wraps a loaded closure's invocation with the
// call-proxy trampoline. A native closure's Run is wrapped directly; a
// bytecode closure is wrapped in a native shim that dispatches back
// through this registry's own interpreter, since a closure's Run field
// and its Proto are mutually exclusive (IsNative is Run != nil) and the
// trampoline needs a value.Native to sit behind.
func (r *Registry) trampolineClosure(contractID, api string, cl *value.Closure) *value.Closure {
	if cl.IsNative() {
		return &value.Closure{Name: cl.Name, Run: callproxy.Trampoline(r.stack, contractID, api, cl.Run)}
	}
	inner := cl
	return &value.Closure{Name: cl.Name, Run: callproxy.Trampoline(r.stack, contractID, api, func(co any, args []value.Value) ([]value.Value, error) {
		th, ok := co.(*interp.Thread)
		if !ok {
			return nil, errs.Runtime("contract API %s.%s invoked outside an interpreter thread", contractID, api)
		}
		return r.in.Call(th, inner, args)
	})}
}
