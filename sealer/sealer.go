// Package sealer runs the background loop that drives block production on
// a fixed interval. It is deliberately thin: all sealing logic lives in the
// consensus engine; the loop only decides when to invoke it.
package sealer

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/aidledger/aidledger/consensus/poa"
	"github.com/aidledger/aidledger/core"
	"github.com/aidledger/aidledger/log"
	"github.com/aidledger/aidledger/params"
)

// Pool is the view of the pending pool the loop needs.
type Pool interface {
	PendingCount() int
}

// Sealer ticks at the configured interval and seals a block whenever the
// pool holds at least the configured minimum of transactions. Failures are
// logged and counted, never fatal to the loop.
type Sealer struct {
	engine     *poa.Engine
	pool       Pool
	cfg        params.ConsensusSettings
	passphrase string

	sealed   atomic.Uint64
	failures atomic.Uint64
	logger   *log.Logger
}

func New(engine *poa.Engine, pool Pool, cfg params.ConsensusSettings) *Sealer {
	return &Sealer{
		engine:     engine,
		pool:       pool,
		cfg:        cfg,
		passphrase: cfg.ValidatorPassword,
		logger:     log.Module("sealer"),
	}
}

// Run blocks until ctx is cancelled. A tick already in flight completes
// before Run returns. When automated block creation is disabled the loop
// still runs but every tick is a no-op, so enabling it is a restart away.
func (s *Sealer) Run(ctx context.Context) error {
	interval := s.cfg.Interval()
	s.logger.Info("sealing loop started",
		"interval", interval,
		"min_txs", s.cfg.MinimumTransactionsPerBlock,
		"enabled", s.cfg.EnableAutomatedBlockCreation)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sealing loop stopped", "sealed", s.sealed.Load(), "failures", s.failures.Load())
			return ctx.Err()
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Sealer) tick() {
	if !s.cfg.EnableAutomatedBlockCreation {
		return
	}
	pending := s.pool.PendingCount()
	if pending < s.cfg.MinimumTransactionsPerBlock {
		s.logger.Debug("skipping tick", "pending", pending, "min", s.cfg.MinimumTransactionsPerBlock)
		return
	}

	b, err := s.engine.SealNextBlock(s.passphrase)
	if err != nil {
		// A raced-away pool is not a failure worth counting.
		if errors.Is(err, core.ErrEmptyPool) {
			return
		}
		s.failures.Add(1)
		s.logger.Warn("automated sealing failed", "err", err, "failures", s.failures.Load())
		return
	}
	s.sealed.Add(1)
	s.logger.Info("automated block sealed", "index", b.Index, "txs", len(b.Transactions))
}

// SealedCount reports blocks produced by this loop.
func (s *Sealer) SealedCount() uint64 { return s.sealed.Load() }

// FailureCount reports ticks that attempted to seal and failed.
func (s *Sealer) FailureCount() uint64 { return s.failures.Load() }
