package host

import (
	"fmt"
	"sync/atomic"
)

// MemHost is an in-memory Host, useful for unit tests of the packages that
// consume the Host interface and for driving the engine outside of a real
// chain. It is not concurrency-safe beyond what the interface itself
// promises (single engine goroutine).
type MemHost struct {
	contracts map[string]memContract
	storage   map[string][]byte // "address/slot"
	events    []Event
	balances  map[string]map[string]int64

	caller     string
	blockNum   int64
	txID       string
	nowUnix    int64
	randomSeed int64
}

type memContract struct {
	code []byte
	meta ContractMeta
}

// NewMemHost builds an empty in-memory host with the given caller address
// as the transaction's sender.
func NewMemHost(caller string) *MemHost {
	return &MemHost{
		contracts: map[string]memContract{},
		storage:   map[string][]byte{},
		balances:  map[string]map[string]int64{},
		caller:    caller,
		blockNum:  1,
		txID:      "tx-0",
		nowUnix:   0,
	}
}

// Deploy registers a contract's code and metadata under both its name and
// its address, so either form of name resolution finds it.
func (h *MemHost) Deploy(address string, meta ContractMeta, code []byte) {
	meta.Address = address
	c := memContract{code: code, meta: meta}
	h.contracts[address] = c
	if meta.Name != "" {
		h.contracts[meta.Name] = c
	}
}

func (h *MemHost) SetBalance(address, asset string, amount int64) {
	m, ok := h.balances[address]
	if !ok {
		m = map[string]int64{}
		h.balances[address] = m
	}
	m[asset] = amount
}

func (h *MemHost) CheckContractExists(nameOrAddress string) (bool, error) {
	_, ok := h.contracts[nameOrAddress]
	return ok, nil
}

func (h *MemHost) OpenContract(nameOrAddress string) ([]byte, ContractMeta, error) {
	c, ok := h.contracts[nameOrAddress]
	if !ok {
		return nil, ContractMeta{}, fmt.Errorf("no such contract: %s", nameOrAddress)
	}
	return c.code, c.meta, nil
}

func (h *MemHost) GetContractAddressByName(name string) (string, error) {
	c, ok := h.contracts[name]
	if !ok {
		return "", fmt.Errorf("no such contract: %s", name)
	}
	return c.meta.Address, nil
}

func (h *MemHost) StorageGet(contractAddress, slot string) ([]byte, error) {
	return h.storage[contractAddress+"/"+slot], nil
}

func (h *MemHost) StorageCommit(changes []StorageChange) error {
	for _, c := range changes {
		if len(c.After) == 0 {
			delete(h.storage, c.ContractID+"/"+c.Slot)
			continue
		}
		h.storage[c.ContractID+"/"+c.Slot] = c.After
	}
	return nil
}

func (h *MemHost) EmitEvent(contractID, name, arg string) {
	h.events = append(h.events, Event{ContractID: contractID, Name: name, Arg: arg})
}

// Events returns every event emitted so far, for test assertions.
func (h *MemHost) Events() []Event { return h.events }

func (h *MemHost) Transfer(from, to, asset string, amount int64) (TransferResult, error) {
	bal := h.balances[from]
	if bal == nil || bal[asset] < amount {
		return TransferResult{OK: false, Message: "insufficient balance"}, nil
	}
	bal[asset] -= amount
	if h.balances[to] == nil {
		h.balances[to] = map[string]int64{}
	}
	h.balances[to][asset] += amount
	return TransferResult{OK: true}, nil
}

func (h *MemHost) GetBalance(address, asset string) (int64, error) {
	return h.balances[address][asset], nil
}

func (h *MemHost) Now() int64               { return h.nowUnix }
func (h *MemHost) CurrentBlockNumber() int64 { return h.blockNum }
func (h *MemHost) TxID() string              { return h.txID }
func (h *MemHost) Random() int64             { return atomic.AddInt64(&h.randomSeed, 1) }
func (h *MemHost) CallerAddress() string     { return h.caller }
func (h *MemHost) SystemAssetSymbol() string { return "UVM" }

func (h *MemHost) Throw(code int, message string) error {
	return fmt.Errorf("host error %d: %s", code, message)
}
