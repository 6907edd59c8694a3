// Package params holds the runtime configuration surface of the ledger node:
// consensus pacing, persistence behaviour and signature enforcement flags,
// together with their documented defaults.
package params

import (
	"errors"
	"time"
)

// Defaults applied by Sanitize when a field is zero.
const (
	DefaultBlockCreationInterval = 30 * time.Second
	DefaultMinTxPerBlock         = 1
	DefaultMaxTxPerBlock         = 100
	DefaultMaxBackupFiles        = 5
	DefaultSnapshotPath          = "aidledger.chain.json"
	DefaultHTTPAddr              = "127.0.0.1:8545"
)

// ConsensusSettings paces automated block production.
type ConsensusSettings struct {
	// BlockCreationIntervalSeconds is the sealing loop tick period.
	BlockCreationIntervalSeconds int
	// MinimumTransactionsPerBlock gates sealing: a tick with fewer pending
	// transactions produces no block.
	MinimumTransactionsPerBlock int
	// MaximumTransactionsPerBlock caps the oldest-first window sealed into a
	// single block; the remainder stays pending.
	MaximumTransactionsPerBlock int
	// ValidatorPassword is the service passphrase the sealing loop uses to
	// decrypt the proposer's key.
	ValidatorPassword string
	// EnableAutomatedBlockCreation turns the background sealing loop on.
	EnableAutomatedBlockCreation bool
}

// Interval returns the tick period as a duration.
func (c *ConsensusSettings) Interval() time.Duration {
	return time.Duration(c.BlockCreationIntervalSeconds) * time.Second
}

// PersistenceSettings control the on-disk chain snapshot.
type PersistenceSettings struct {
	Enabled                    bool
	FilePath                   string
	AutoSaveAfterBlockCreation bool
	AutoLoadOnStartup          bool
	CreateBackup               bool
	MaxBackupFiles             int
}

// ValidationSettings are the signature enforcement flags. Both default to
// on; disabling them is a bootstrap/development affordance only.
type ValidationSettings struct {
	ValidateTransactionSignatures bool
	ValidateBlockSignatures       bool
}

// Config is the root node configuration.
type Config struct {
	Consensus   ConsensusSettings
	Persistence PersistenceSettings
	Validation  ValidationSettings
	// HTTPAddr is the listen address for the HTTP resource surface.
	HTTPAddr string
	// DataDir holds the registry and audit databases. Empty selects
	// in-memory backends (tests, ephemeral runs).
	DataDir string
	// LogLevel is one of debug, info, warn, error.
	LogLevel string
}

// DefaultConfig returns the documented default configuration: strict
// signature enforcement, persistence on, automated sealing on.
func DefaultConfig() *Config {
	return &Config{
		Consensus: ConsensusSettings{
			BlockCreationIntervalSeconds: int(DefaultBlockCreationInterval / time.Second),
			MinimumTransactionsPerBlock:  DefaultMinTxPerBlock,
			MaximumTransactionsPerBlock:  DefaultMaxTxPerBlock,
			EnableAutomatedBlockCreation: true,
		},
		Persistence: PersistenceSettings{
			Enabled:                    true,
			FilePath:                   DefaultSnapshotPath,
			AutoSaveAfterBlockCreation: true,
			AutoLoadOnStartup:          true,
			CreateBackup:               true,
			MaxBackupFiles:             DefaultMaxBackupFiles,
		},
		Validation: ValidationSettings{
			ValidateTransactionSignatures: true,
			ValidateBlockSignatures:       true,
		},
		HTTPAddr: DefaultHTTPAddr,
		LogLevel: "info",
	}
}

// Sanitize fills zero fields with defaults and rejects contradictory values.
func (c *Config) Sanitize() error {
	if c.Consensus.BlockCreationIntervalSeconds <= 0 {
		c.Consensus.BlockCreationIntervalSeconds = int(DefaultBlockCreationInterval / time.Second)
	}
	if c.Consensus.MinimumTransactionsPerBlock <= 0 {
		c.Consensus.MinimumTransactionsPerBlock = DefaultMinTxPerBlock
	}
	if c.Consensus.MaximumTransactionsPerBlock <= 0 {
		c.Consensus.MaximumTransactionsPerBlock = DefaultMaxTxPerBlock
	}
	if c.Consensus.MaximumTransactionsPerBlock < c.Consensus.MinimumTransactionsPerBlock {
		return errors.New("params: maximum transactions per block below minimum")
	}
	if c.Persistence.Enabled && c.Persistence.FilePath == "" {
		c.Persistence.FilePath = DefaultSnapshotPath
	}
	if c.Persistence.MaxBackupFiles <= 0 {
		c.Persistence.MaxBackupFiles = DefaultMaxBackupFiles
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = DefaultHTTPAddr
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	return nil
}
