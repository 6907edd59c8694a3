package poa

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/aidledger/aidledger/audit"
	"github.com/aidledger/aidledger/core"
	"github.com/aidledger/aidledger/core/snapshot"
	"github.com/aidledger/aidledger/core/types"
	"github.com/aidledger/aidledger/crypto"
	"github.com/aidledger/aidledger/ledgerdb/memorydb"
	"github.com/aidledger/aidledger/params"
	"github.com/aidledger/aidledger/validator"
	"github.com/aidledger/aidledger/vault"
)

const testPassphrase = "sealing-pw"

type fixture struct {
	ledger   *core.Ledger
	registry *validator.Registry
	engine   *Engine
}

func newFixture(t *testing.T, validators int) *fixture {
	t.Helper()
	cfg := params.DefaultConfig()
	f := &fixture{
		ledger:   core.NewLedger(cfg.Validation),
		registry: validator.NewRegistry(memorydb.New()),
	}
	for i := 0; i < validators; i++ {
		if _, err := f.registry.Register(fmt.Sprintf("v%d", i), "", 0, testPassphrase); err != nil {
			t.Fatalf("register validator %d: %v", i, err)
		}
	}
	f.engine = NewEngine(f.ledger, f.registry, cfg.Consensus)
	return f
}

func (f *fixture) submitTx(t *testing.T, payload string) *types.Transaction {
	t.Helper()
	pub, priv, err := crypto.GenerateKeypair()
	if err != nil {
		t.Fatal(err)
	}
	tx := types.NewTransaction(types.TxShipmentCreated, pub, payload)
	if err := tx.Sign(priv); err != nil {
		t.Fatal(err)
	}
	if err := f.ledger.AddTransaction(tx); err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}
	return tx
}

// ── SealNextBlock ────────────────────────────────────────────────────────────

func TestSealNextBlock(t *testing.T) {
	f := newFixture(t, 1)
	f.submitTx(t, `{"shipmentId":"SH-1"}`)

	b, err := f.engine.SealNextBlock(testPassphrase)
	if err != nil {
		t.Fatalf("SealNextBlock: %v", err)
	}
	if b.Index != 1 || len(b.Transactions) != 1 {
		t.Fatalf("unexpected block: %+v", b)
	}
	if !b.VerifySeal() {
		t.Fatal("sealed block does not verify")
	}
	if f.ledger.Height() != 2 || f.ledger.PendingCount() != 0 {
		t.Fatal("chain/pool state wrong after sealing")
	}

	v, err := f.registry.ByName("v0")
	if err != nil {
		t.Fatal(err)
	}
	if v.TotalBlocksCreated != 1 || v.LastBlockCreatedAt == nil {
		t.Fatal("proposer statistics not recorded")
	}
}

func TestSealNextBlockEmptyPool(t *testing.T) {
	f := newFixture(t, 1)
	if _, err := f.engine.SealNextBlock(testPassphrase); !errors.Is(err, core.ErrEmptyPool) {
		t.Fatalf("err = %v, want ErrEmptyPool", err)
	}
}

func TestSealNextBlockNoValidators(t *testing.T) {
	f := newFixture(t, 0)
	f.submitTx(t, `{}`)
	if _, err := f.engine.SealNextBlock(testPassphrase); !errors.Is(err, ErrNoValidators) {
		t.Fatalf("err = %v, want ErrNoValidators", err)
	}
	if f.ledger.Height() != 1 || f.ledger.PendingCount() != 1 {
		t.Fatal("failed sealing mutated state")
	}
}

func TestSealNextBlockWrongPassphrase(t *testing.T) {
	f := newFixture(t, 1)
	f.submitTx(t, `{}`)

	if _, err := f.engine.SealNextBlock("wrong"); !errors.Is(err, vault.ErrUnauthorized) {
		t.Fatalf("err = %v, want vault.ErrUnauthorized", err)
	}
	// The pool is untouched and the proposer's counter did not move.
	if f.ledger.PendingCount() != 1 {
		t.Fatal("pool drained on unauthorized sealing")
	}
	v, _ := f.registry.ByName("v0")
	if v.TotalBlocksCreated != 0 {
		t.Fatal("statistics recorded for failed sealing")
	}
}

func TestSealingRotatesProposers(t *testing.T) {
	f := newFixture(t, 3)
	seen := make(map[string]int)
	for i := 0; i < 6; i++ {
		f.submitTx(t, fmt.Sprintf(`{"n":%d}`, i))
		b, err := f.engine.SealNextBlock(testPassphrase)
		if err != nil {
			t.Fatalf("seal %d: %v", i, err)
		}
		seen[b.ValidatorPublicKey]++
	}
	if len(seen) != 3 {
		t.Fatalf("blocks sealed by %d validators, want 3", len(seen))
	}
	for pub, n := range seen {
		if n != 2 {
			t.Fatalf("validator %.12s sealed %d blocks, want 2", pub, n)
		}
	}
}

func TestSealRespectsMaxTransactions(t *testing.T) {
	f := newFixture(t, 1)
	f.engine.cfg.MaximumTransactionsPerBlock = 2
	for i := 0; i < 5; i++ {
		f.submitTx(t, fmt.Sprintf(`{"n":%d}`, i))
	}
	b, err := f.engine.SealNextBlock(testPassphrase)
	if err != nil {
		t.Fatal(err)
	}
	if len(b.Transactions) != 2 {
		t.Fatalf("block carries %d txs, want 2", len(b.Transactions))
	}
	if f.ledger.PendingCount() != 3 {
		t.Fatalf("pool kept %d txs, want 3", f.ledger.PendingCount())
	}
}

func TestSealPersistsSnapshot(t *testing.T) {
	f := newFixture(t, 1)
	store := snapshot.NewStore(params.PersistenceSettings{
		FilePath: filepath.Join(t.TempDir(), "chain.json"),
	})
	f.engine.WithPersistence(store, true)

	f.submitTx(t, `{}`)
	if _, err := f.engine.SealNextBlock(testPassphrase); err != nil {
		t.Fatal(err)
	}
	chain, _, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(chain) != 2 {
		t.Fatalf("snapshot holds %d blocks, want 2", len(chain))
	}
}

func TestSealEmitsAuditRecords(t *testing.T) {
	f := newFixture(t, 1)
	store, err := audit.NewStore(memorydb.New())
	if err != nil {
		t.Fatal(err)
	}
	sink := audit.NewSink(store)
	f.engine.WithAudit(sink)

	f.submitTx(t, `{}`)
	if _, err := f.engine.SealNextBlock(testPassphrase); err != nil {
		t.Fatal(err)
	}
	f.submitTx(t, `{}`)
	if _, err := f.engine.SealNextBlock("wrong"); err == nil {
		t.Fatal("expected unauthorized sealing to fail")
	}
	if err := sink.Close(); err != nil {
		t.Fatal(err)
	}

	recs, err := store.Query(audit.Filter{Category: audit.CategoryConsensus})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d audit records, want 2", len(recs))
	}
	if !recs[0].Success || recs[1].Success {
		t.Fatalf("audit outcomes wrong: %+v", recs)
	}
}

// ── Validation ───────────────────────────────────────────────────────────────

func TestValidateBlock(t *testing.T) {
	f := newFixture(t, 1)
	f.submitTx(t, `{}`)
	b, err := f.engine.SealNextBlock(testPassphrase)
	if err != nil {
		t.Fatal(err)
	}
	genesis, _ := f.ledger.BlockByIndex(0)

	if err := f.engine.ValidateBlock(b, genesis); err != nil {
		t.Fatalf("valid block rejected: %v", err)
	}
	// Second pass hits the seal cache and still validates.
	if err := f.engine.ValidateBlock(b, genesis); err != nil {
		t.Fatalf("cached validation failed: %v", err)
	}

	tampered := b.Copy()
	tampered.Transactions = nil
	if err := f.engine.ValidateBlock(tampered, genesis); !errors.Is(err, core.ErrInvalidHash) {
		t.Fatalf("err = %v, want ErrInvalidHash", err)
	}

	gap := b.Copy()
	gap.Index = 7
	if err := f.engine.ValidateBlock(gap, genesis); !errors.Is(err, core.ErrInvalidBlockIndex) {
		t.Fatalf("err = %v, want ErrInvalidBlockIndex", err)
	}
}

func TestValidateBlockStrict(t *testing.T) {
	f := newFixture(t, 1)
	f.submitTx(t, `{}`)
	b, err := f.engine.SealNextBlock(testPassphrase)
	if err != nil {
		t.Fatal(err)
	}
	genesis, _ := f.ledger.BlockByIndex(0)

	if err := f.engine.ValidateBlockStrict(b, genesis); err != nil {
		t.Fatalf("registered signer rejected: %v", err)
	}

	// A block sealed by a key outside the registry fails only the strict
	// variant.
	pub, priv, _ := crypto.GenerateKeypair()
	foreign := &types.Block{
		Index:              1,
		Timestamp:          b.Timestamp,
		Transactions:       []*types.Transaction{},
		PreviousHash:       genesis.Hash,
		ValidatorPublicKey: pub,
	}
	foreign.Hash = foreign.ComputeHash()
	if err := foreign.Seal(priv); err != nil {
		t.Fatal(err)
	}
	if err := f.engine.ValidateBlock(foreign, genesis); err != nil {
		t.Fatalf("lenient validation rejected well-formed block: %v", err)
	}
	if err := f.engine.ValidateBlockStrict(foreign, genesis); !errors.Is(err, ErrUnknownSigner) {
		t.Fatalf("err = %v, want ErrUnknownSigner", err)
	}
}

func TestValidateBlockAt(t *testing.T) {
	f := newFixture(t, 1)
	f.submitTx(t, `{}`)
	if _, err := f.engine.SealNextBlock(testPassphrase); err != nil {
		t.Fatal(err)
	}
	if err := f.engine.ValidateBlockAt(0); err != nil {
		t.Fatalf("genesis: %v", err)
	}
	if err := f.engine.ValidateBlockAt(1); err != nil {
		t.Fatalf("block 1: %v", err)
	}
	if err := f.engine.ValidateBlockAt(9); !errors.Is(err, core.ErrUnknownBlock) {
		t.Fatalf("err = %v, want ErrUnknownBlock", err)
	}
}

// ── Introspection ────────────────────────────────────────────────────────────

func TestCurrentProposerAndStatus(t *testing.T) {
	f := newFixture(t, 2)
	id, err := f.engine.CurrentProposerID()
	if err != nil {
		t.Fatal(err)
	}
	v0, _ := f.registry.ByName("v0")
	if id != v0.ID {
		t.Fatalf("current proposer = %s, want v0", id)
	}

	f.submitTx(t, `{}`)
	st, err := f.engine.Status()
	if err != nil {
		t.Fatal(err)
	}
	if st.Height != 1 || st.PendingCount != 1 || st.ActiveValidators != 2 || st.TotalValidators != 2 {
		t.Fatalf("unexpected status: %+v", st)
	}
	if st.CurrentProposerID != v0.ID {
		t.Fatalf("status proposer = %s, want v0", st.CurrentProposerID)
	}
	if st.HeadHash == "" {
		t.Fatal("status missing head hash")
	}
}
