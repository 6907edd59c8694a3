// Package node wires the subsystems together and exposes them over HTTP:
// chain reads, consensus operations, shipment lifecycle and audit queries.
package node

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	"github.com/aidledger/aidledger/audit"
	"github.com/aidledger/aidledger/consensus/poa"
	"github.com/aidledger/aidledger/core"
	"github.com/aidledger/aidledger/log"
	"github.com/aidledger/aidledger/params"
	"github.com/aidledger/aidledger/sealer"
	"github.com/aidledger/aidledger/shipment"
	"github.com/aidledger/aidledger/validator"
)

// shutdownTimeout bounds the drain of in-flight HTTP requests.
const shutdownTimeout = 5 * time.Second

// Node owns the subsystems of one ledger instance.
type Node struct {
	cfg      *params.Config
	ledger   *core.Ledger
	registry *validator.Registry
	engine   *poa.Engine
	sealer   *sealer.Sealer
	service  *shipment.Service
	auditLog *audit.Store

	resolve PrincipalResolver
	logger  *log.Logger
}

// Config collects the constructed subsystems. Optional fields may be nil;
// the corresponding endpoints then report 404 or are skipped.
type Config struct {
	Params   *params.Config
	Ledger   *core.Ledger
	Registry *validator.Registry
	Engine   *poa.Engine
	Sealer   *sealer.Sealer
	Service  *shipment.Service
	AuditLog *audit.Store
	Resolver PrincipalResolver
}

func New(cfg Config) *Node {
	n := &Node{
		cfg:      cfg.Params,
		ledger:   cfg.Ledger,
		registry: cfg.Registry,
		engine:   cfg.Engine,
		sealer:   cfg.Sealer,
		service:  cfg.Service,
		auditLog: cfg.AuditLog,
		resolve:  cfg.Resolver,
		logger:   log.Module("node"),
	}
	if n.resolve == nil {
		n.resolve = HeaderPrincipalResolver
	}
	return n
}

// Run serves HTTP and drives the sealing loop until ctx is cancelled, then
// shuts the server down gracefully.
func (n *Node) Run(ctx context.Context) error {
	handler := cors.Default().Handler(n.router())
	srv := &http.Server{
		Addr:    n.cfg.HTTPAddr,
		Handler: handler,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n.logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if n.sealer != nil {
		g.Go(func() error {
			err := n.sealer.Run(gctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
