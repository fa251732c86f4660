// Package engine ties the loader, interpreter, call-proxy and storage-diff
// layers together into the one entry point a host actually calls: run this
// API, on this contract, with these arguments, and hand back either a
// result plus the events and storage changes to commit, or a typed failure
// with nothing committed at all.
package engine

import (
	"github.com/rockercheng/uvm/callproxy"
	"github.com/rockercheng/uvm/errs"
	"github.com/rockercheng/uvm/host"
	"github.com/rockercheng/uvm/interp"
	"github.com/rockercheng/uvm/registry"
	"github.com/rockercheng/uvm/serialize"
	"github.com/rockercheng/uvm/stdlib"
	"github.com/rockercheng/uvm/storage"
	"github.com/rockercheng/uvm/value"
)

// DefaultMaxCallDepth bounds cross-contract and recursive call nesting for
// an Engine constructed with New; a host that needs a different bound uses
// NewWithCallDepth directly.
const DefaultMaxCallDepth = 200

// Engine is the per-host VM instance. One Engine is built once and reused
// across transactions; Execute opens a fresh storage transaction and
// identity stack every call, but the interpreter configuration and the two
// error buffers live on the Engine itself, matching how a host actually
// wants to poll "what went wrong with the last call."
type Engine struct {
	host host.Host
	in   *interp.Interp

	lastCompileErr error
	lastRunErr     error
}

// New builds an Engine over h with the default call-depth bound.
func New(h host.Host) *Engine { return NewWithCallDepth(h, DefaultMaxCallDepth) }

// NewWithCallDepth builds an Engine over h with an explicit call-depth bound.
func NewWithCallDepth(h host.Host, maxCallDepth int) *Engine {
	return &Engine{host: h, in: interp.NewInterp(maxCallDepth)}
}

// LastCompileError returns whatever CompileError or ProtocolError the most
// recent Execute call raised while resolving or loading a module, or nil if
// loading succeeded (or Execute has never been called).
func (e *Engine) LastCompileError() error { return e.lastCompileErr }

// LastRunError returns whatever error the most recent Execute call raised
// once the requested API was actually running, or nil if it ran to
// completion (or never reached that point).
func (e *Engine) LastRunError() error { return e.lastRunErr }

// Result bundles everything a successful Execute call produced: the raw
// return values of the invoked API, the events it emitted in emit order,
// and the storage changes the host must now commit atomically.
type Result struct {
	Values  []value.Value
	Events  []host.Event
	Changes []host.StorageChange
}

// Execute is the engine's one entry point: load contractIdentifier, invoke
// apiName with argBytes decoded from the serialization format, and either
// commit its storage changes and events to the host and return them, or
// discard everything it attempted and return a typed failure.
// contractIdentifier may be a bare registered name or an `@address:<hex>`
// form. Each call builds a fresh registry, so an `@stream:<id>` form only
// resolves through ExecuteWithStreams.
func (e *Engine) Execute(contractIdentifier, apiName string, argBytes [][]byte) (*Result, error) {
	return e.execute(contractIdentifier, apiName, argBytes, nil, callproxy.CallTypeCall)
}

// ExecuteStatic runs apiName the same way Execute does, except the
// top-level call itself enters as a STATIC_CALL frame: any write, event
// emission or transfer it attempts fails with a PolicyError, and on success
// its returned Changes and Events are always empty. Hosts use this for
// offline/view queries that must not be able to mutate state no matter what
// the contract's code actually does.
func (e *Engine) ExecuteStatic(contractIdentifier, apiName string, argBytes [][]byte) (*Result, error) {
	return e.execute(contractIdentifier, apiName, argBytes, nil, callproxy.CallTypeStatic)
}

// ExecuteWithStreams is Execute, but first registers the given named byte
// streams so contractIdentifier (or anything it loads) may reference them
// as `@stream:<id>` without the host needing a prior deploy step -- used by
// a host that compiles and runs bytecode in one round trip rather than
// deploying it first.
func (e *Engine) ExecuteWithStreams(contractIdentifier, apiName string, argBytes [][]byte, streams map[string][]byte) (*Result, error) {
	return e.execute(contractIdentifier, apiName, argBytes, streams, callproxy.CallTypeCall)
}

func (e *Engine) execute(contractIdentifier, apiName string, argBytes [][]byte, streams map[string][]byte, callType callproxy.CallType) (*Result, error) {
	e.lastCompileErr = nil
	e.lastRunErr = nil

	txn := storage.NewTxn(e.host)
	stack := callproxy.NewStack()
	reg := registry.New(e.host, e.in, stack, txn)
	for id, code := range streams {
		reg.AddStream(id, code)
	}
	reg.SetEnv(stdlib.NewEnv(e.host, stack, txn, e.in, reg))
	th := interp.NewThread()

	loaded, err := reg.Load(th, contractIdentifier, true)
	if err != nil {
		e.recordLoadError(err)
		txn.Discard()
		return nil, err
	}

	fn, err := resolveAPI(loaded, apiName)
	if err != nil {
		e.recordLoadError(err)
		txn.Discard()
		return nil, err
	}

	args, err := decodeArgs(argBytes)
	if err != nil {
		e.lastRunErr = err
		txn.Discard()
		return nil, err
	}

	stack.SetPending(callType)
	results, err := fn.Run(th, args)
	if err != nil {
		e.lastRunErr = err
		txn.Discard()
		return nil, err
	}

	changes := txn.ChangeSet()
	if err := e.host.StorageCommit(changes); err != nil {
		werr := errs.Wrap(errs.KindStorage, err)
		e.lastRunErr = werr
		txn.Discard()
		return nil, werr
	}

	events := txn.Events()
	for _, ev := range events {
		e.host.EmitEvent(ev.ContractID, ev.Name, ev.Arg)
	}

	return &Result{Values: results, Events: events, Changes: changes}, nil
}

// recordLoadError files err under the compile-error slot for load-time
// failures that are really about the module itself (a malformed binary or
// an API surface that disagrees with host metadata), and under the run-error
// slot for everything else a load can still fail with (a missing contract,
// a host round trip failing).
func (e *Engine) recordLoadError(err error) {
	if typed, ok := err.(*errs.Error); ok {
		switch typed.Kind {
		case errs.KindCompile, errs.KindProtocol:
			e.lastCompileErr = err
			return
		}
	}
	e.lastRunErr = err
}

// resolveAPI looks up apiName on the loaded module's table, requiring that
// it both appears in the module's declared API set and is actually a
// callable closure -- the registry has already trampolined it, so calling
// its Run directly carries the identity-stack push/pop for free.
func resolveAPI(l *registry.Loaded, apiName string) (*value.Closure, error) {
	if !l.HasAPI(apiName) {
		return nil, errs.Protocol("contract %s has no API named %q", l.Name, apiName)
	}
	fn, ok := l.Table.GetHash(apiName).(*value.Closure)
	if !ok {
		return nil, errs.Protocol("API %s.%s is not callable", l.Name, apiName)
	}
	return fn, nil
}

// decodeArgs decodes a sequence of serialization-format argument values in
// order, failing the whole call on the first malformed one.
func decodeArgs(argBytes [][]byte) ([]value.Value, error) {
	if len(argBytes) == 0 {
		return nil, nil
	}
	args := make([]value.Value, len(argBytes))
	for i, b := range argBytes {
		v, err := serialize.Decode(b)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return args, nil
}
