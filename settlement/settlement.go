// Package settlement moves quarry balance between chains: the outbound
// path burns locally and emits a message through the transport, the
// inbound path verifies the message's provenance and mints with replay
// protection.
package settlement

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/quarrylabs/quarry/clients"
	"github.com/quarrylabs/quarry/emission"
	"github.com/quarrylabs/quarry/logger"
	"github.com/quarrylabs/quarry/metrics"
	"github.com/quarrylabs/quarry/types"
)

// Settlement is the cross-chain settlement endpoint of one chain.
//
// Mutating operations assume a single writer per chain: the mutex
// keeps reads consistent against a concurrent writer, but two
// concurrent claims of the same message are not serialized against
// each other. Drive teleports and claims for one chain from one
// goroutine.
type Settlement struct {
	mu sync.Mutex

	chainID   uint64
	ledger    *emission.Ledger
	messenger clients.Messaging
	authority common.Address
	admin     common.Address
	log       logger.Logger
	rec       metrics.Recorder

	trustedChains  map[uint64]bool
	trustedRouters map[uint64]common.Address

	// claimed transfer ids; append-only, never pruned
	claimed map[common.Hash]bool
}

// New builds the settlement endpoint for cfg's chain, burning and
// minting through ledger under the bridge authority identity.
func New(cfg types.ChainConfig, ledger *emission.Ledger, messenger clients.Messaging,
	log logger.Logger, rec metrics.Recorder) *Settlement {
	s := &Settlement{
		chainID:        cfg.ChainID,
		ledger:         ledger,
		messenger:      messenger,
		authority:      cfg.BridgeAuthority,
		admin:          cfg.Admin,
		log:            log,
		rec:            rec,
		trustedChains:  make(map[uint64]bool),
		trustedRouters: make(map[uint64]common.Address),
		claimed:        make(map[common.Hash]bool),
	}
	for _, id := range cfg.TrustedChains {
		s.trustedChains[id] = true
	}
	for id, addr := range cfg.TrustedRouters {
		s.trustedRouters[id] = addr
	}
	return s
}

// Teleport burns amount from caller and emits a transfer message
// toward destChain. Returns the transport-assigned message id; replay
// protection is enforced on the receiving side only. If the transport
// rejects the send, the burn is rolled back in full.
func (s *Settlement) Teleport(ctx context.Context, caller common.Address, destChain uint64,
	recipient common.Address, amount math.Int) (uint64, error) {
	defer func(start time.Time) {
		s.rec.ObserveLatency("teleport", time.Since(start), s.label())
	}(time.Now())

	s.mu.Lock()
	trusted := s.trustedChains[destChain]
	s.mu.Unlock()
	if !trusted {
		return 0, types.NewError(types.ErrUntrustedChain,
			fmt.Sprintf("destination chain %d is not allow-listed", destChain),
			"chainId", destChain)
	}

	payload, err := EncodeTransfer(recipient, amount)
	if err != nil {
		return 0, err
	}

	snap := s.ledger.Snapshot()
	if err := s.ledger.BridgeBurn(s.authority, caller, amount, destChain); err != nil {
		return 0, err
	}
	messageID, err := s.messenger.Send(ctx, payload)
	if err != nil {
		s.ledger.Restore(snap)
		return 0, fmt.Errorf("emit transfer message: %w", err)
	}

	s.rec.IncCounter(metrics.CounterTeleports, s.label())
	s.log.Info("teleport emitted", map[string]any{
		"chain": s.chainID, "destChain": destChain, "recipient": recipient.Hex(),
		"amount": amount.String(), "messageId": messageID,
	})
	return messageID, nil
}

// ClaimTeleport settles the verified inbound message at index: checks
// provenance against the trust tables, derives the transfer id, and
// mints to the embedded recipient exactly once. A failed mint leaves
// the message unclaimed so the call can be retried.
func (s *Settlement) ClaimTeleport(ctx context.Context, index uint64) (math.Int, error) {
	defer func(start time.Time) {
		s.rec.ObserveLatency("claim", time.Since(start), s.label())
	}(time.Now())

	amount, _, err := s.claimOne(ctx, index)
	return amount, err
}

func (s *Settlement) claimOne(ctx context.Context, index uint64) (math.Int, common.Hash, error) {
	zero := math.ZeroInt()

	msg, err := s.messenger.ReadVerified(ctx, index)
	if err != nil {
		return zero, common.Hash{}, err
	}
	if !msg.Valid {
		return zero, common.Hash{}, types.NewError(types.ErrInvalidMessage,
			fmt.Sprintf("message %d failed transport verification", index),
			"index", index)
	}

	s.mu.Lock()
	trusted := s.trustedChains[msg.SourceChain]
	peer, hasPeer := s.trustedRouters[msg.SourceChain]
	s.mu.Unlock()
	if !trusted {
		return zero, common.Hash{}, types.NewError(types.ErrUntrustedChain,
			fmt.Sprintf("source chain %d is not allow-listed", msg.SourceChain),
			"chainId", msg.SourceChain)
	}
	if !hasPeer || peer != msg.OriginSender {
		return zero, common.Hash{}, types.NewError(types.ErrUntrustedSender,
			fmt.Sprintf("sender %s is not the trusted settlement peer of chain %d",
				msg.OriginSender.Hex(), msg.SourceChain),
			"sender", msg.OriginSender.Hex(), "chainId", msg.SourceChain)
	}

	transferID := TransferID(msg.SourceChain, msg.OriginSender, msg.Payload)

	s.mu.Lock()
	alreadyClaimed := s.claimed[transferID]
	s.mu.Unlock()
	if alreadyClaimed {
		return zero, common.Hash{}, types.NewError(types.ErrTeleportClaimed,
			fmt.Sprintf("transfer %s already claimed", transferID.Hex()),
			"transferId", transferID.Hex())
	}

	recipient, amount, err := DecodeTransfer(msg.Payload)
	if err != nil {
		return zero, common.Hash{}, err
	}

	// Mint, then record. BridgeMint is the only mutation, so a cap
	// failure aborts with the message still claimable.
	if err := s.ledger.BridgeMint(s.authority, recipient, amount, transferID); err != nil {
		return zero, common.Hash{}, err
	}
	s.mu.Lock()
	s.claimed[transferID] = true
	s.mu.Unlock()

	s.rec.IncCounter(metrics.CounterClaims, s.label())
	s.log.Info("teleport claimed", map[string]any{
		"chain": s.chainID, "sourceChain": msg.SourceChain,
		"recipient": recipient.Hex(), "amount": amount.String(),
		"transferId": transferID.Hex(),
	})
	return amount, transferID, nil
}

// BatchClaimTeleports claims every index in order and returns the
// total minted. The batch is all-or-nothing: any single failure rolls
// back every claim already applied.
func (s *Settlement) BatchClaimTeleports(ctx context.Context, indices []uint64) (math.Int, error) {
	total := math.ZeroInt()
	snap := s.ledger.Snapshot()
	applied := make([]common.Hash, 0, len(indices))

	for _, index := range indices {
		amount, transferID, err := s.claimOne(ctx, index)
		if err != nil {
			// unwind: restore the ledger and forget only the claims
			// this batch recorded
			s.ledger.Restore(snap)
			s.mu.Lock()
			for _, id := range applied {
				delete(s.claimed, id)
			}
			s.mu.Unlock()
			return math.ZeroInt(), err
		}
		applied = append(applied, transferID)
		total = total.Add(amount)
	}

	s.log.Info("batch claim applied", map[string]any{
		"chain": s.chainID, "claims": len(indices), "total": total.String(),
	})
	return total, nil
}

// IsClaimed reports whether a transfer id has been settled.
func (s *Settlement) IsClaimed(transferID common.Hash) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.claimed[transferID]
}

// AddTrustedChain allow-lists a counterpart chain. Admin only.
func (s *Settlement) AddTrustedChain(caller common.Address, chainID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if caller != s.admin {
		return types.NewError(types.ErrUnauthorized,
			fmt.Sprintf("addTrustedChain: caller %s lacks the admin role", caller.Hex()),
			"caller", caller.Hex())
	}
	s.trustedChains[chainID] = true
	return nil
}

// AddTrustedRouter records the peer settlement contract trusted for a
// chain. Admin only.
func (s *Settlement) AddTrustedRouter(caller common.Address, chainID uint64, router common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if caller != s.admin {
		return types.NewError(types.ErrUnauthorized,
			fmt.Sprintf("addTrustedRouter: caller %s lacks the admin role", caller.Hex()),
			"caller", caller.Hex())
	}
	s.trustedRouters[chainID] = router
	return nil
}

func (s *Settlement) label() map[string]string {
	return map[string]string{"chain": strconv.FormatUint(s.chainID, 10)}
}
