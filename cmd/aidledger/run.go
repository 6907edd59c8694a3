package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/aidledger/aidledger/audit"
	"github.com/aidledger/aidledger/consensus/poa"
	"github.com/aidledger/aidledger/contracts"
	"github.com/aidledger/aidledger/contracts/builtin"
	"github.com/aidledger/aidledger/core"
	"github.com/aidledger/aidledger/core/snapshot"
	"github.com/aidledger/aidledger/ledgerdb"
	"github.com/aidledger/aidledger/ledgerdb/leveldb"
	"github.com/aidledger/aidledger/log"
	"github.com/aidledger/aidledger/node"
	"github.com/aidledger/aidledger/params"
	"github.com/aidledger/aidledger/sealer"
	"github.com/aidledger/aidledger/shipment"
	"github.com/aidledger/aidledger/validator"
	"github.com/aidledger/aidledger/vault"
)

func runNode(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	log.SetDefault(log.NewTerminal(os.Stderr, log.LevelFromString(cfg.LogLevel)))
	logger := log.Module("main")
	logger.Info("starting aidledger", "version", params.VersionWithMeta, "datadir", cfg.DataDir)

	db, err := openStateDB(cfg.DataDir)
	if err != nil {
		return err
	}
	defer db.Close()

	ledger := core.NewLedger(cfg.Validation)
	snaps := snapshot.NewStore(cfg.Persistence)
	if cfg.Persistence.Enabled && cfg.Persistence.AutoLoadOnStartup && snaps.Available() {
		if err := restoreChain(ledger, snaps); err != nil {
			return err
		}
		logger.Info("chain restored from snapshot", "height", ledger.Height(), "pending", ledger.PendingCount())
	}

	registry := validator.NewRegistry(db)
	auditStore, err := audit.NewStore(db)
	if err != nil {
		return err
	}
	sink := audit.NewSink(auditStore)
	defer sink.Close()

	engine := poa.NewEngine(ledger, registry, cfg.Consensus).
		WithAudit(sink)
	if cfg.Persistence.Enabled {
		engine.WithPersistence(snaps, cfg.Persistence.AutoSaveAfterBlockCreation)
	}

	contractEngine := contracts.NewEngine()
	for _, c := range []contracts.Contract{
		builtin.NewShipmentTracking(),
		builtin.NewDeliveryVerification(),
	} {
		if err := contractEngine.Deploy(c); err != nil {
			return err
		}
	}

	keyring := vault.NewKeyring(vault.NewSessionKeys())
	service := shipment.NewService(shipment.NewMemoryRepository(), ledger, keyring).
		WithContracts(contractEngine).
		WithAudit(sink).
		WithBootstrap(ctx.Bool(bootstrapFlag.Name))

	var loop *sealer.Sealer
	if cfg.Consensus.EnableAutomatedBlockCreation {
		loop = sealer.New(engine, ledger, cfg.Consensus)
	}

	n := node.New(node.Config{
		Params:   cfg,
		Ledger:   ledger,
		Registry: registry,
		Engine:   engine,
		Sealer:   loop,
		Service:  service,
		AuditLog: auditStore,
	})

	runCtx, stop := signal.NotifyContext(ctx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = n.Run(runCtx)

	// A final snapshot catches pool changes since the last sealed block.
	if cfg.Persistence.Enabled {
		if saveErr := snaps.Save(ledger.Chain(), ledger.Pending()); saveErr != nil {
			logger.Error("final snapshot failed", "err", saveErr)
		}
	}
	return err
}

// openStateDB opens the registry/audit database. An empty data directory
// selects an in-memory backend for ephemeral runs.
func openStateDB(dataDir string) (ledgerdb.KeyValueStore, error) {
	if dataDir == "" {
		return leveldb.NewInMemory()
	}
	db, err := leveldb.New(filepath.Join(dataDir, "state"))
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}
	return db, nil
}

// restoreChain loads the snapshot into the ledger and re-validates the
// whole chain; a snapshot that parses but fails validation is corrupt.
func restoreChain(ledger *core.Ledger, snaps *snapshot.Store) error {
	chain, pending, err := snaps.Load()
	if err != nil {
		return err
	}
	if chain == nil {
		return nil
	}
	if err := ledger.Replace(chain, pending); err != nil {
		return err
	}
	if ok, errs := ledger.ValidateChain(); !ok {
		return fmt.Errorf("%w: %v", snapshot.ErrCorruptSnapshot, errs[0])
	}
	return nil
}
