package sealer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aidledger/aidledger/consensus/poa"
	"github.com/aidledger/aidledger/core"
	"github.com/aidledger/aidledger/core/types"
	"github.com/aidledger/aidledger/crypto"
	"github.com/aidledger/aidledger/ledgerdb/memorydb"
	"github.com/aidledger/aidledger/params"
	"github.com/aidledger/aidledger/validator"
)

const testPassphrase = "sealing-pw"

func testSetup(t *testing.T, cfg params.ConsensusSettings) (*core.Ledger, *Sealer) {
	t.Helper()
	ledger := core.NewLedger(params.ValidationSettings{
		ValidateTransactionSignatures: true,
		ValidateBlockSignatures:       true,
	})
	registry := validator.NewRegistry(memorydb.New())
	if _, err := registry.Register("v0", "", 0, testPassphrase); err != nil {
		t.Fatal(err)
	}
	engine := poa.NewEngine(ledger, registry, cfg)
	return ledger, New(engine, ledger, cfg)
}

func submitTxs(t *testing.T, ledger *core.Ledger, n int) {
	t.Helper()
	pub, priv, err := crypto.GenerateKeypair()
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < n; i++ {
		tx := types.NewTransaction(types.TxShipmentCreated, pub, fmt.Sprintf(`{"n":%d}`, i))
		if err := tx.Sign(priv); err != nil {
			t.Fatal(err)
		}
		if err := ledger.AddTransaction(tx); err != nil {
			t.Fatal(err)
		}
	}
}

func runFor(s *Sealer, d time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return s.Run(ctx)
}

func TestSealsWhenMinimumMet(t *testing.T) {
	cfg := params.ConsensusSettings{
		BlockCreationIntervalSeconds: 1,
		MinimumTransactionsPerBlock:  1,
		MaximumTransactionsPerBlock:  100,
		ValidatorPassword:            testPassphrase,
		EnableAutomatedBlockCreation: true,
	}
	ledger, s := testSetup(t, cfg)
	submitTxs(t, ledger, 2)

	if err := runFor(s, 1500*time.Millisecond); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run returned %v", err)
	}
	if s.SealedCount() == 0 {
		t.Fatal("no block sealed")
	}
	if ledger.Height() < 2 || ledger.PendingCount() != 0 {
		t.Fatalf("chain height %d, pending %d after sealing", ledger.Height(), ledger.PendingCount())
	}
}

func TestSkipsBelowMinimum(t *testing.T) {
	cfg := params.ConsensusSettings{
		BlockCreationIntervalSeconds: 1,
		MinimumTransactionsPerBlock:  3,
		MaximumTransactionsPerBlock:  100,
		ValidatorPassword:            testPassphrase,
		EnableAutomatedBlockCreation: true,
	}
	ledger, s := testSetup(t, cfg)
	submitTxs(t, ledger, 2)

	_ = runFor(s, 1500*time.Millisecond)
	if s.SealedCount() != 0 {
		t.Fatal("sealed below the minimum pool size")
	}
	if ledger.PendingCount() != 2 {
		t.Fatal("pool drained without sealing")
	}
}

func TestDisabledLoopDoesNothing(t *testing.T) {
	cfg := params.ConsensusSettings{
		BlockCreationIntervalSeconds: 1,
		MinimumTransactionsPerBlock:  1,
		MaximumTransactionsPerBlock:  100,
		ValidatorPassword:            testPassphrase,
		EnableAutomatedBlockCreation: false,
	}
	ledger, s := testSetup(t, cfg)
	submitTxs(t, ledger, 2)

	_ = runFor(s, 1500*time.Millisecond)
	if s.SealedCount() != 0 || ledger.Height() != 1 {
		t.Fatal("disabled loop produced blocks")
	}
}

func TestFailuresAreCountedNotFatal(t *testing.T) {
	cfg := params.ConsensusSettings{
		BlockCreationIntervalSeconds: 1,
		MinimumTransactionsPerBlock:  1,
		MaximumTransactionsPerBlock:  100,
		ValidatorPassword:            "wrong-passphrase",
		EnableAutomatedBlockCreation: true,
	}
	ledger, s := testSetup(t, cfg)
	submitTxs(t, ledger, 1)

	// Two ticks, both failing on the bad passphrase; the loop keeps going.
	if err := runFor(s, 2500*time.Millisecond); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run returned %v", err)
	}
	if s.FailureCount() < 2 {
		t.Fatalf("failure count = %d, want >= 2", s.FailureCount())
	}
	if ledger.PendingCount() != 1 {
		t.Fatal("failed ticks mutated the pool")
	}
}

func TestCancellationStopsPromptly(t *testing.T) {
	cfg := params.ConsensusSettings{
		BlockCreationIntervalSeconds: 60,
		MinimumTransactionsPerBlock:  1,
		MaximumTransactionsPerBlock:  100,
		EnableAutomatedBlockCreation: true,
	}
	_, s := testSetup(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}
