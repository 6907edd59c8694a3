// Package core implements the ledger engine: the hash-linked chain, the
// FIFO pending pool and full-chain validation. The Ledger exclusively owns
// both structures; all mutations serialize under one lock and accessors
// return defensive copies.
package core

import (
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/aidledger/aidledger/core/types"
	"github.com/aidledger/aidledger/log"
	"github.com/aidledger/aidledger/params"
)

// lookupCacheSize bounds the transaction-id location cache.
const lookupCacheSize = 4096

// Ledger is the single live chain of the process plus its pending pool.
type Ledger struct {
	mu      sync.RWMutex
	chain   []*types.Block
	pending []*types.Transaction
	// txids indexes every transaction id on-chain or pending, for O(1)
	// duplicate checks. Rebuilt from scratch on chain replacement.
	txids   map[string]uint64 // id → block index; pendingMarker for pool entries
	lookups *lru.Cache        // id → block index, hot path for TransactionByID

	validation params.ValidationSettings
	logger     *log.Logger
}

// pendingMarker tags pool entries in the txids index.
const pendingMarker = ^uint64(0)

// NewLedger creates a ledger holding only the genesis block.
func NewLedger(validation params.ValidationSettings) *Ledger {
	lookups, _ := lru.New(lookupCacheSize)
	l := &Ledger{
		chain:      []*types.Block{types.NewGenesisBlock()},
		txids:      make(map[string]uint64),
		lookups:    lookups,
		validation: validation,
		logger:     log.Module("core"),
	}
	return l
}

// AddTransaction appends a signed transaction to the pending pool.
func (l *Ledger) AddTransaction(tx *types.Transaction) error {
	if tx == nil || tx.ID == "" || tx.Type == "" || tx.SenderPublicKey == "" || tx.Payload == "" {
		return ErrBadTransaction
	}
	if l.validation.ValidateTransactionSignatures && !tx.VerifySignature() {
		return fmt.Errorf("%w: transaction %s", ErrInvalidSignature, tx.ID)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.txids[tx.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, tx.ID)
	}
	l.pending = append(l.pending, tx.Copy())
	l.txids[tx.ID] = pendingMarker
	l.logger.Debug("transaction queued", "id", tx.ID, "type", tx.Type, "pending", len(l.pending))
	return nil
}

// CreateBlock builds an unsealed candidate block over the entire pending
// pool. The chain is not mutated; the pool is not drained.
func (l *Ledger) CreateBlock(validatorPublicKey string) (*types.Block, error) {
	return l.CreateBlockLimit(validatorPublicKey, 0)
}

// CreateBlockLimit is CreateBlock with an oldest-first cutoff: when maxTx is
// positive, at most maxTx transactions enter the candidate and the rest stay
// pending.
func (l *Ledger) CreateBlockLimit(validatorPublicKey string, maxTx int) (*types.Block, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.pending) == 0 {
		return nil, ErrEmptyPool
	}
	window := l.pending
	if maxTx > 0 && len(window) > maxTx {
		window = window[:maxTx]
	}
	txs := make([]*types.Transaction, len(window))
	for i, tx := range window {
		txs[i] = tx.Copy()
	}
	head := l.chain[len(l.chain)-1]
	b := &types.Block{
		Index:              head.Index + 1,
		Timestamp:          time.Now().UTC(),
		Transactions:       txs,
		PreviousHash:       head.Hash,
		ValidatorPublicKey: validatorPublicKey,
	}
	b.Hash = b.ComputeHash()
	return b, nil
}

// AddBlock validates a sealed block against the current head and appends it.
// On success the block's transactions leave the pending pool. On failure the
// chain and pool are untouched.
func (l *Ledger) AddBlock(b *types.Block) error {
	if b == nil {
		return ErrUnknownBlock
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	head := l.chain[len(l.chain)-1]
	if err := l.validateAgainst(b, head); err != nil {
		return err
	}

	l.chain = append(l.chain, b.Copy())
	for _, tx := range b.Transactions {
		l.txids[tx.ID] = b.Index
		l.lookups.Add(tx.ID, b.Index)
	}
	l.trimPendingLocked(b.Transactions)
	l.logger.Info("block appended", "index", b.Index, "txs", len(b.Transactions), "hash", abbrev(b.Hash))
	return nil
}

// validateAgainst checks b as the immediate successor of prev.
func (l *Ledger) validateAgainst(b, prev *types.Block) error {
	if b.Index != prev.Index+1 {
		return fmt.Errorf("%w: have %d, want %d", ErrInvalidBlockIndex, b.Index, prev.Index+1)
	}
	if b.PreviousHash != prev.Hash {
		return fmt.Errorf("%w: block %d", ErrInvalidPreviousHash, b.Index)
	}
	if b.ComputeHash() != b.Hash {
		return fmt.Errorf("%w: block %d", ErrInvalidHash, b.Index)
	}
	if l.validation.ValidateTransactionSignatures {
		for _, tx := range b.Transactions {
			if !tx.VerifySignature() {
				return fmt.Errorf("%w: transaction %s in block %d", ErrInvalidSignature, tx.ID, b.Index)
			}
		}
	}
	if l.validation.ValidateBlockSignatures && !b.VerifySeal() {
		return fmt.Errorf("%w: block %d seal", ErrInvalidSignature, b.Index)
	}
	return nil
}

// trimPendingLocked removes the given transactions from the pool. Caller
// holds the write lock.
func (l *Ledger) trimPendingLocked(sealed []*types.Transaction) {
	if len(sealed) == 0 {
		return
	}
	drop := make(map[string]struct{}, len(sealed))
	for _, tx := range sealed {
		drop[tx.ID] = struct{}{}
	}
	kept := l.pending[:0]
	for _, tx := range l.pending {
		if _, ok := drop[tx.ID]; !ok {
			kept = append(kept, tx)
		}
	}
	for i := len(kept); i < len(l.pending); i++ {
		l.pending[i] = nil
	}
	l.pending = kept
}

// ValidateChain re-checks every link from index 1 upward and reports all
// failures. It is a pure read: consecutive calls on an unchanged chain
// return identical results.
func (l *Ledger) ValidateChain() (bool, []error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var errs []error
	seen := make(map[string]struct{})
	for i := 1; i < len(l.chain); i++ {
		b, prev := l.chain[i], l.chain[i-1]
		if b.Index != prev.Index+1 {
			errs = append(errs, &ChainError{b.Index, ErrInvalidBlockIndex})
		}
		if b.PreviousHash != prev.Hash {
			errs = append(errs, &ChainError{b.Index, ErrInvalidPreviousHash})
		}
		if b.ComputeHash() != b.Hash {
			errs = append(errs, &ChainError{b.Index, ErrInvalidHash})
		}
		if l.validation.ValidateTransactionSignatures {
			for _, tx := range b.Transactions {
				if !tx.VerifySignature() {
					errs = append(errs, &ChainError{b.Index, fmt.Errorf("%w: transaction %s", ErrInvalidSignature, tx.ID)})
				}
			}
		}
		if l.validation.ValidateBlockSignatures && !b.VerifySeal() {
			errs = append(errs, &ChainError{b.Index, fmt.Errorf("%w: seal", ErrInvalidSignature)})
		}
		for _, tx := range b.Transactions {
			if _, dup := seen[tx.ID]; dup {
				errs = append(errs, &ChainError{b.Index, fmt.Errorf("%w: %s", ErrDuplicate, tx.ID)})
			}
			seen[tx.ID] = struct{}{}
		}
	}
	return len(errs) == 0, errs
}

// ── Read accessors ───────────────────────────────────────────────────────────

// Head returns a copy of the newest block.
func (l *Ledger) Head() *types.Block {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.chain[len(l.chain)-1].Copy()
}

// Height returns the number of blocks including genesis.
func (l *Ledger) Height() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return uint64(len(l.chain))
}

// BlockByIndex returns a copy of the block at index i.
func (l *Ledger) BlockByIndex(i uint64) (*types.Block, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if i >= uint64(len(l.chain)) {
		return nil, fmt.Errorf("%w: index %d", ErrUnknownBlock, i)
	}
	return l.chain[i].Copy(), nil
}

// Chain returns a copy of the full chain.
func (l *Ledger) Chain() []*types.Block {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*types.Block, len(l.chain))
	for i, b := range l.chain {
		out[i] = b.Copy()
	}
	return out
}

// Pending returns a copy of the pool in FIFO order.
func (l *Ledger) Pending() []*types.Transaction {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*types.Transaction, len(l.pending))
	for i, tx := range l.pending {
		out[i] = tx.Copy()
	}
	return out
}

// PendingCount returns the pool size.
func (l *Ledger) PendingCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.pending)
}

// TransactionByID locates a committed or pending transaction.
func (l *Ledger) TransactionByID(id string) (*types.Transaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if cached, ok := l.lookups.Get(id); ok {
		idx := cached.(uint64)
		if idx < uint64(len(l.chain)) {
			if tx := findInBlock(l.chain[idx], id); tx != nil {
				return tx.Copy(), nil
			}
		}
	}
	if idx, ok := l.txids[id]; ok {
		if idx == pendingMarker {
			for _, tx := range l.pending {
				if tx.ID == id {
					return tx.Copy(), nil
				}
			}
		} else if idx < uint64(len(l.chain)) {
			if tx := findInBlock(l.chain[idx], id); tx != nil {
				l.lookups.Add(id, idx)
				return tx.Copy(), nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownTransaction, id)
}

// Located pairs a committed transaction with its block position.
type Located struct {
	Transaction *types.Transaction
	BlockIndex  uint64
	BlockHash   string
}

// TransactionsMatching scans every committed block, oldest first, and
// returns the transactions whose canonical payload contains substr. This is
// the single lookup path for entity history, so index and scan can never
// disagree.
func (l *Ledger) TransactionsMatching(substr string) []Located {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Located
	for _, b := range l.chain {
		for _, tx := range b.Transactions {
			if strings.Contains(tx.Payload, substr) {
				out = append(out, Located{Transaction: tx.Copy(), BlockIndex: b.Index, BlockHash: b.Hash})
			}
		}
	}
	return out
}

// Replace swaps in a previously persisted chain and pool, rebuilding the id
// index. The caller is responsible for having validated the chain.
func (l *Ledger) Replace(chain []*types.Block, pending []*types.Transaction) error {
	if len(chain) == 0 || !chain[0].IsGenesis() {
		return fmt.Errorf("%w: replacement chain has no genesis", ErrUnknownBlock)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.chain = make([]*types.Block, len(chain))
	txids := make(map[string]uint64)
	for i, b := range chain {
		l.chain[i] = b.Copy()
		for _, tx := range b.Transactions {
			txids[tx.ID] = b.Index
		}
	}
	l.pending = make([]*types.Transaction, 0, len(pending))
	for _, tx := range pending {
		if _, ok := txids[tx.ID]; ok {
			continue // already sealed; stale pool entry from an older snapshot
		}
		txids[tx.ID] = pendingMarker
		l.pending = append(l.pending, tx.Copy())
	}
	l.txids = txids
	l.lookups.Purge()
	l.logger.Info("chain replaced", "height", len(l.chain), "pending", len(l.pending))
	return nil
}

func findInBlock(b *types.Block, id string) *types.Transaction {
	for _, tx := range b.Transactions {
		if tx.ID == id {
			return tx
		}
	}
	return nil
}

func abbrev(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
