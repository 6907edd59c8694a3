// Package contracts provides a framework for deterministic handlers that
// observe ledger transactions: each contract declares which transactions
// it applies to, and executing one yields an output, a set of events and a
// proposed state-delta that the engine commits atomically on success.
package contracts

import (
	"errors"

	"github.com/aidledger/aidledger/core/types"
)

var (
	ErrDuplicateID     = errors.New("contracts: contract id already deployed")
	ErrUnknownContract = errors.New("contracts: unknown contract id")
)

// Context carries what a contract execution may read: the triggering
// transaction, optionally its containing block, and caller-supplied
// orchestration data. Contracts must not mutate it.
type Context struct {
	Transaction *types.Transaction
	Block       *types.Block
	Data        map[string]string
}

// Value reads an orchestration data entry.
func (c *Context) Value(key string) (string, bool) {
	v, ok := c.Data[key]
	return v, ok
}

// Event is emitted inside a Result; the engine does not post-process
// events, consumers read them off the result.
type Event struct {
	Name string            `json:"name"`
	Data map[string]string `json:"data,omitempty"`
}

// Result is the outcome of one contract execution. StateDelta is applied
// to the contract's state only when Success is true.
type Result struct {
	ContractID string            `json:"contract_id"`
	Success    bool              `json:"success"`
	Output     string            `json:"output,omitempty"`
	StateDelta map[string]string `json:"state_delta,omitempty"`
	Events     []Event           `json:"events,omitempty"`
	Err        error             `json:"-"`
}

// Succeed builds a successful result.
func Succeed(output string, delta map[string]string, events ...Event) *Result {
	return &Result{Success: true, Output: output, StateDelta: delta, Events: events}
}

// Fail builds a failed result; any events still ride along so consumers
// can observe why.
func Fail(err error, events ...Event) *Result {
	return &Result{Success: false, Err: err, Events: events}
}

// State is the read view of a contract's own state during execution.
type State interface {
	Get(key string) (string, bool)
}

// Contract is a deterministic transaction handler. CanExecute must be
// pure; Execute must be deterministic given the context and state.
type Contract interface {
	ID() string
	Name() string
	Version() string
	Description() string
	CanExecute(ctx *Context) bool
	Execute(ctx *Context, state State) *Result
}
