// Package quarry issues a mined utility token across multiple
// independent chains: emission with halving-schedule allocation caps,
// attestation-gated mining sessions, replay-safe cross-chain teleports,
// and multi-asset attestation payments.
package quarry

import (
	"fmt"
	"io"
	"time"

	"github.com/quarrylabs/quarry/clients"
	"github.com/quarrylabs/quarry/emission"
	"github.com/quarrylabs/quarry/logger"
	"github.com/quarrylabs/quarry/metrics"
	"github.com/quarrylabs/quarry/router"
	"github.com/quarrylabs/quarry/session"
	"github.com/quarrylabs/quarry/settlement"
	"github.com/quarrylabs/quarry/types"
)

// Capabilities bundles the external services one chain's components
// depend on. Use the in-memory doubles from the clients package for
// tests and the EVM adapters for production wiring.
type Capabilities struct {
	Attestor  clients.Attestation
	Messenger clients.Messaging
	DEX       clients.DEX
	Tokens    clients.Token
	Reader    clients.ChainReader
}

// Chain is the per-chain component bundle.
type Chain struct {
	ID         uint64
	Ledger     *emission.Ledger
	Sessions   *session.Registry
	Settlement *settlement.Settlement
	Router     *router.Router

	caps Capabilities
}

// Quarry wires one Chain per configured chain id.
type Quarry struct {
	chains map[uint64]*Chain

	log logger.Logger
	rec metrics.Recorder
	now func() time.Time
}

// New validates cfg and builds the per-chain components around the
// supplied capabilities, keyed by chain id.
func New(cfg *types.Config, caps map[uint64]Capabilities, opts ...Option) (*Quarry, error) {
	if cfg == nil {
		return nil, types.NewError(types.ErrConfig, "config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	q := &Quarry{
		chains: make(map[uint64]*Chain, len(cfg.Chains)),
		log:    logger.NoopLogger{},
		rec:    metrics.NoopRecorder{},
		now:    time.Now,
	}
	if cfg.LogLevel != "" {
		q.log = logger.NewZapLogger(cfg.LogLevel)
	}
	if cfg.EnableMetrics {
		q.rec = metrics.NewPrometheusRecorder()
	}
	for _, opt := range opts {
		opt(q)
	}

	for i := range cfg.Chains {
		cc := cfg.Chains[i]
		cs, ok := caps[cc.ChainID]
		if !ok {
			return nil, types.NewError(types.ErrConfig,
				fmt.Sprintf("no capabilities wired for chain %d", cc.ChainID))
		}
		ledger := emission.NewLedger(cc, cs.Reader, q.log, q.rec)
		q.chains[cc.ChainID] = &Chain{
			ID:         cc.ChainID,
			Ledger:     ledger,
			Sessions:   session.NewRegistry(cc.ChainID, cs.Attestor, ledger, cc.SessionAuthority, q.now, q.log, q.rec),
			Settlement: settlement.New(cc, ledger, cs.Messenger, q.log, q.rec),
			Router:     router.New(cc, cc.BridgeAuthority, cs.DEX, cs.Tokens, q.log, q.rec),
			caps:       cs,
		}
	}
	return q, nil
}

// Chain returns the component bundle for a chain id.
func (q *Quarry) Chain(id uint64) (*Chain, bool) {
	c, ok := q.chains[id]
	return c, ok
}

// Chains lists the configured chain ids.
func (q *Quarry) Chains() []uint64 {
	ids := make([]uint64, 0, len(q.chains))
	for id := range q.chains {
		ids = append(ids, id)
	}
	return ids
}

// Close closes every capability client that exposes a closer.
func (q *Quarry) Close() {
	for _, c := range q.chains {
		for _, dep := range []any{c.caps.Attestor, c.caps.Messenger, c.caps.DEX, c.caps.Tokens, c.caps.Reader} {
			if closer, ok := dep.(io.Closer); ok {
				_ = closer.Close()
			} else if closer, ok := dep.(interface{ Close() }); ok {
				closer.Close()
			}
		}
	}
}
