// Package poa implements proof-of-authority block production. The engine
// composes the ledger, the validator registry and the credential vault:
// it picks the next proposer round-robin, decrypts that validator's key
// under a caller-supplied passphrase, seals a block over the pending pool
// and appends it.
package poa

import (
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/aidledger/aidledger/audit"
	"github.com/aidledger/aidledger/core"
	"github.com/aidledger/aidledger/core/snapshot"
	"github.com/aidledger/aidledger/core/types"
	"github.com/aidledger/aidledger/log"
	"github.com/aidledger/aidledger/params"
	"github.com/aidledger/aidledger/validator"
	"github.com/aidledger/aidledger/vault"
)

var (
	ErrNoValidators  = errors.New("poa: no active validators")
	ErrUnknownSigner = errors.New("poa: block sealed by unregistered validator")
)

// sealCacheSize bounds the cache of already-verified block seals.
const sealCacheSize = 1024

// Engine drives block production and verification.
type Engine struct {
	// mu is the consensus lock: at most one sealing sequence in flight.
	mu sync.Mutex

	ledger   *core.Ledger
	registry *validator.Registry
	snaps    *snapshot.Store // nil disables persistence
	sink     *audit.Sink     // nil disables auditing
	cfg      params.ConsensusSettings
	autoSave bool

	// seals caches (hash, validator) pairs whose signatures already
	// verified, so replay validation does not redo ECDSA work.
	seals  *lru.ARCCache
	logger *log.Logger
}

func NewEngine(ledger *core.Ledger, registry *validator.Registry, cfg params.ConsensusSettings) *Engine {
	seals, _ := lru.NewARC(sealCacheSize)
	return &Engine{
		ledger:   ledger,
		registry: registry,
		cfg:      cfg,
		seals:    seals,
		logger:   log.Module("poa"),
	}
}

// WithPersistence makes the engine snapshot the chain after each sealed
// block when autoSave is set.
func (e *Engine) WithPersistence(store *snapshot.Store, autoSave bool) *Engine {
	e.snaps = store
	e.autoSave = autoSave
	return e
}

// WithAudit attaches an audit sink for sealing outcomes.
func (e *Engine) WithAudit(sink *audit.Sink) *Engine {
	e.sink = sink
	return e
}

// SealNextBlock produces one block from the pending pool. The passphrase
// must decrypt the selected proposer's private key; a mismatch fails with
// vault.ErrUnauthorized and no other validator is tried. On any failure the
// candidate is discarded and neither chain, pool nor validator statistics
// change.
func (e *Engine) SealNextBlock(passphrase string) (*types.Block, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ledger.PendingCount() == 0 {
		return nil, core.ErrEmptyPool
	}

	proposer, err := e.registry.NextProposer()
	if errors.Is(err, validator.ErrNoActive) {
		e.audit("block_sealed", "", "", false, "no active validators")
		return nil, ErrNoValidators
	}
	if err != nil {
		return nil, fmt.Errorf("poa: proposer selection: %w", err)
	}

	priv, err := vault.Decrypt(proposer.EncryptedPrivateKey, passphrase)
	if err != nil {
		e.audit("block_sealed", proposer.ID, "", false, "key decryption failed")
		if errors.Is(err, vault.ErrUnauthorized) {
			return nil, err
		}
		return nil, fmt.Errorf("poa: decrypt proposer key: %w", err)
	}

	b, err := e.ledger.CreateBlockLimit(proposer.PublicKey, e.cfg.MaximumTransactionsPerBlock)
	if err != nil {
		return nil, err
	}
	if err := b.Seal(priv); err != nil {
		e.audit("block_sealed", proposer.ID, b.Hash, false, "seal failed")
		return nil, fmt.Errorf("poa: seal: %w", err)
	}
	if err := e.ledger.AddBlock(b); err != nil {
		e.audit("block_sealed", proposer.ID, b.Hash, false, err.Error())
		return nil, err
	}

	// The block is committed; stat and persistence failures are logged but
	// do not undo it.
	if err := e.registry.RecordBlockCreation(proposer.ID); err != nil {
		e.logger.Error("recording block creation failed", "validator", proposer.ID, "err", err)
	}
	if e.snaps != nil && e.autoSave {
		if err := e.snaps.Save(e.ledger.Chain(), e.ledger.Pending()); err != nil {
			e.logger.Error("post-seal snapshot failed", "err", err)
		}
	}
	e.seals.Add(sealKey(b), struct{}{})
	e.audit("block_sealed", proposer.ID, b.Hash, true,
		fmt.Sprintf("index=%d txs=%d", b.Index, len(b.Transactions)))
	e.logger.Info("block sealed",
		"index", b.Index, "txs", len(b.Transactions), "validator", proposer.Name)
	return b, nil
}

// ValidateBlock checks b as the successor of prev: index continuity,
// previous-hash linkage, hash recomputation and seal signature. It does not
// require the sealing validator to still be registered or active.
func (e *Engine) ValidateBlock(b, prev *types.Block) error {
	if b == nil || prev == nil {
		return core.ErrUnknownBlock
	}
	if b.Index != prev.Index+1 {
		return core.ErrInvalidBlockIndex
	}
	if b.PreviousHash != prev.Hash {
		return core.ErrInvalidPreviousHash
	}
	if b.Hash != b.ComputeHash() {
		return core.ErrInvalidHash
	}
	if _, ok := e.seals.Get(sealKey(b)); ok {
		return nil
	}
	if !b.VerifySeal() {
		return core.ErrInvalidSignature
	}
	e.seals.Add(sealKey(b), struct{}{})
	return nil
}

// ValidateBlockStrict additionally requires the sealing key to belong to a
// registered validator. Used when replaying a chain from disk, where an
// unknown signer means the snapshot was not produced by this deployment.
func (e *Engine) ValidateBlockStrict(b, prev *types.Block) error {
	if err := e.ValidateBlock(b, prev); err != nil {
		return err
	}
	if b.IsGenesis() {
		return nil
	}
	if _, err := e.registry.ByPublicKey(b.ValidatorPublicKey); err != nil {
		if errors.Is(err, validator.ErrUnknown) {
			return ErrUnknownSigner
		}
		return err
	}
	return nil
}

// ValidateBlockAt validates the chain block at the given index against its
// predecessor. Genesis always validates.
func (e *Engine) ValidateBlockAt(index uint64) error {
	b, err := e.ledger.BlockByIndex(index)
	if err != nil {
		return err
	}
	if b.IsGenesis() {
		return nil
	}
	prev, err := e.ledger.BlockByIndex(index - 1)
	if err != nil {
		return err
	}
	return e.ValidateBlock(b, prev)
}

// CurrentProposerID reports which validator would seal the next block.
func (e *Engine) CurrentProposerID() (string, error) {
	v, err := e.registry.NextProposer()
	if errors.Is(err, validator.ErrNoActive) {
		return "", ErrNoValidators
	}
	if err != nil {
		return "", err
	}
	return v.ID, nil
}

// Status is a point-in-time view of the consensus state for introspection.
type Status struct {
	Height            uint64     `json:"height"`
	HeadHash          string     `json:"head_hash"`
	HeadTimestamp     time.Time  `json:"head_timestamp"`
	PendingCount      int        `json:"pending_count"`
	TotalValidators   int        `json:"total_validators"`
	ActiveValidators  int        `json:"active_validators"`
	CurrentProposerID string     `json:"current_proposer_id,omitempty"`
	IntervalSeconds   int        `json:"block_interval_seconds"`
	AutoSealing       bool       `json:"auto_sealing"`
}

func (e *Engine) Status() (*Status, error) {
	total, active, err := e.registry.Count()
	if err != nil {
		return nil, err
	}
	head := e.ledger.Head()
	st := &Status{
		Height:           e.ledger.Height(),
		HeadHash:         head.Hash,
		HeadTimestamp:    head.Timestamp,
		PendingCount:     e.ledger.PendingCount(),
		TotalValidators:  total,
		ActiveValidators: active,
		IntervalSeconds:  e.cfg.BlockCreationIntervalSeconds,
		AutoSealing:      e.cfg.EnableAutomatedBlockCreation,
	}
	if id, err := e.CurrentProposerID(); err == nil {
		st.CurrentProposerID = id
	}
	return st, nil
}

func (e *Engine) audit(action, principal, entity string, success bool, detail string) {
	if e.sink == nil {
		return
	}
	r := &audit.Record{
		Category:    audit.CategoryConsensus,
		Action:      action,
		PrincipalID: principal,
		EntityID:    entity,
		EntityType:  "block",
		Success:     success,
	}
	if success {
		r.Description = detail
	} else {
		r.ErrorMessage = detail
	}
	e.sink.Emit(r)
}

func sealKey(b *types.Block) string {
	return b.Hash + "|" + b.ValidatorPublicKey
}
