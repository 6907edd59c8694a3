package contracts

import (
	"sync"

	"github.com/aidledger/aidledger/log"
)

// deployed pairs a contract with its isolated state. The per-contract
// mutex covers the whole execute-then-commit sequence.
type deployed struct {
	contract Contract
	mu       sync.Mutex
	state    map[string]string
}

func (d *deployed) Get(key string) (string, bool) {
	v, ok := d.state[key]
	return v, ok
}

// Engine manages deployed contracts. ExecuteApplicable walks them in
// deployment order.
type Engine struct {
	mu        sync.RWMutex
	order     []string
	contracts map[string]*deployed
	logger    *log.Logger
}

func NewEngine() *Engine {
	return &Engine{
		contracts: make(map[string]*deployed),
		logger:    log.Module("contracts"),
	}
}

// Deploy registers a contract. Ids are unique.
func (e *Engine) Deploy(c Contract) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.contracts[c.ID()]; ok {
		return ErrDuplicateID
	}
	e.contracts[c.ID()] = &deployed{contract: c, state: make(map[string]string)}
	e.order = append(e.order, c.ID())
	e.logger.Info("contract deployed", "id", c.ID(), "version", c.Version())
	return nil
}

// Undeploy removes a contract and discards its state.
func (e *Engine) Undeploy(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.contracts[id]; !ok {
		return ErrUnknownContract
	}
	delete(e.contracts, id)
	for i, cid := range e.order {
		if cid == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	e.logger.Info("contract undeployed", "id", id)
	return nil
}

// Get returns a deployed contract.
func (e *Engine) Get(id string) (Contract, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	d, ok := e.contracts[id]
	if !ok {
		return nil, ErrUnknownContract
	}
	return d.contract, nil
}

// All returns deployed contracts in deployment order.
func (e *Engine) All() []Contract {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Contract, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.contracts[id].contract)
	}
	return out
}

// Execute runs one contract against ctx. The state-delta of a successful
// result is committed before the contract lock is released; a failed
// result leaves state untouched.
func (e *Engine) Execute(id string, ctx *Context) (*Result, error) {
	e.mu.RLock()
	d, ok := e.contracts[id]
	e.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownContract
	}
	return e.run(d, ctx), nil
}

// ExecuteApplicable runs every deployed contract whose CanExecute accepts
// ctx, in deployment order, and collects the results. Failed executions do
// not stop the walk.
func (e *Engine) ExecuteApplicable(ctx *Context) []*Result {
	e.mu.RLock()
	var targets []*deployed
	for _, id := range e.order {
		d := e.contracts[id]
		if d.contract.CanExecute(ctx) {
			targets = append(targets, d)
		}
	}
	e.mu.RUnlock()

	results := make([]*Result, 0, len(targets))
	for _, d := range targets {
		results = append(results, e.run(d, ctx))
	}
	return results
}

func (e *Engine) run(d *deployed, ctx *Context) *Result {
	d.mu.Lock()
	defer d.mu.Unlock()

	res := d.contract.Execute(ctx, d)
	res.ContractID = d.contract.ID()
	if res.Success {
		for k, v := range res.StateDelta {
			d.state[k] = v
		}
	} else if res.Err != nil {
		e.logger.Debug("contract execution failed",
			"id", d.contract.ID(), "tx", txID(ctx), "err", res.Err)
	}
	return res
}

// StateOf returns a copy of a contract's state, for inspection.
func (e *Engine) StateOf(id string) (map[string]string, error) {
	e.mu.RLock()
	d, ok := e.contracts[id]
	e.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownContract
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]string, len(d.state))
	for k, v := range d.state {
		out[k] = v
	}
	return out, nil
}

func txID(ctx *Context) string {
	if ctx == nil || ctx.Transaction == nil {
		return ""
	}
	return ctx.Transaction.ID
}
