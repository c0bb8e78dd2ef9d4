// Package router accepts attestation payments in arbitrary tokens,
// normalizes them to the settlement token through a DEX capability,
// and records the resulting payment requests against mining sessions.
package router

import (
	"context"
	"encoding/binary"
	"fmt"
	"strconv"
	"sync"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"github.com/quarrylabs/quarry/clients"
	"github.com/quarrylabs/quarry/logger"
	"github.com/quarrylabs/quarry/metrics"
	"github.com/quarrylabs/quarry/types"
	"github.com/quarrylabs/quarry/utils"
)

// PaymentRequest records one settled attestation payment. Read-only
// once recorded; Bridged is asserted at creation since every payment
// is forwarded toward the destination chain immediately.
type PaymentRequest struct {
	ID                   common.Hash
	Requester            common.Address
	SessionID            string
	SettlementAmountPaid math.Int
	Bridged              bool
}

// Router is the payment endpoint of one chain.
type Router struct {
	mu sync.Mutex

	chainID         uint64
	settlementToken common.Address
	wrappedNative   common.Address
	attestationCost math.Int
	destChain       uint64
	destRouter      common.Address
	self            common.Address

	dex    clients.DEX
	tokens clients.Token
	log    logger.Logger
	rec    metrics.Recorder

	nonces   map[common.Address]uint64
	requests map[common.Hash]PaymentRequest
}

// New builds the router for cfg's chain. self is the custody identity
// settlement funds accumulate under (the bridge authority in the
// default facade wiring).
func New(cfg types.ChainConfig, self common.Address, dex clients.DEX, tokens clients.Token,
	log logger.Logger, rec metrics.Recorder) *Router {
	return &Router{
		chainID:         cfg.ChainID,
		settlementToken: cfg.SettlementToken,
		wrappedNative:   cfg.WrappedNative,
		attestationCost: cfg.AttestationCost,
		destChain:       cfg.DestChainID,
		destRouter:      cfg.DestRouter,
		self:            self,
		dex:             dex,
		tokens:          tokens,
		log:             log,
		rec:             rec,
		nonces:          make(map[common.Address]uint64),
		requests:        make(map[common.Hash]PaymentRequest),
	}
}

// GetPaymentQuote returns the amount of token required to cover the
// attestation cost. For the settlement token itself the cost is
// returned unchanged; any other token is quoted over the direct DEX
// pair.
func (r *Router) GetPaymentQuote(ctx context.Context, token common.Address) (math.Int, error) {
	if token == r.settlementToken {
		return r.attestationCost, nil
	}
	amounts, err := r.dex.QuoteIn(ctx, r.attestationCost, []common.Address{token, r.settlementToken})
	if err != nil {
		return math.ZeroInt(), fmt.Errorf("quote %s: %w", token.Hex(), err)
	}
	return amounts[0], nil
}

// PayForAttestation pulls amountIn of token from payer and settles the
// attestation cost for sessionID. Non-settlement tokens are swapped
// with minOut as the slippage floor; a swap output that clears minOut
// but falls short of the attestation cost is refunded and rejected.
func (r *Router) PayForAttestation(ctx context.Context, payer, token common.Address,
	amountIn, minOut math.Int, sessionID string) (common.Hash, error) {
	if amountIn.IsNil() || !amountIn.IsPositive() {
		return common.Hash{}, types.NewError(types.ErrZeroAmount, "payment amount must be positive")
	}

	if token == r.settlementToken {
		if amountIn.LT(r.attestationCost) {
			return common.Hash{}, types.NewError(types.ErrInsufficientPayment,
				fmt.Sprintf("payment %s below attestation cost %s", amountIn, r.attestationCost),
				"paid", amountIn.String(), "required", r.attestationCost.String())
		}
		if err := r.tokens.TransferFrom(ctx, token, payer, r.self, amountIn); err != nil {
			return common.Hash{}, err
		}
		return r.record(payer, sessionID, r.attestationCost), nil
	}

	if err := r.tokens.TransferFrom(ctx, token, payer, r.self, amountIn); err != nil {
		return common.Hash{}, err
	}
	settled, err := r.swapToSettlement(ctx, payer, token, amountIn, minOut)
	if err != nil {
		return common.Hash{}, err
	}
	return r.record(payer, sessionID, settled), nil
}

// PayWithNative is the native-asset variant of PayForAttestation: the
// value is wrapped into the wrapped-native token first, then swapped.
func (r *Router) PayWithNative(ctx context.Context, payer common.Address,
	value, minOut math.Int, sessionID string) (common.Hash, error) {
	if value.IsNil() || !value.IsPositive() {
		return common.Hash{}, types.NewError(types.ErrZeroAmount, "payment amount must be positive")
	}
	if err := r.tokens.Deposit(ctx, r.wrappedNative, payer, value); err != nil {
		return common.Hash{}, fmt.Errorf("wrap native: %w", err)
	}
	if err := r.tokens.TransferFrom(ctx, r.wrappedNative, payer, r.self, value); err != nil {
		return common.Hash{}, err
	}
	settled, err := r.swapToSettlement(ctx, payer, r.wrappedNative, value, minOut)
	if err != nil {
		return common.Hash{}, err
	}
	return r.record(payer, sessionID, settled), nil
}

// swapToSettlement converts amountIn of token held by the router into
// settlement tokens. Every failure path returns the pulled value to
// the payer, so a failed call leaves no value with the router: a
// rejected swap refunds the input token, a short output refunds the
// settlement tokens received.
func (r *Router) swapToSettlement(ctx context.Context, payer, token common.Address,
	amountIn, minOut math.Int) (math.Int, error) {
	path := []common.Address{token, r.settlementToken}
	amounts, err := r.dex.Swap(ctx, amountIn, minOut, path, r.self)
	if err != nil {
		if refundErr := r.tokens.TransferFrom(ctx, token, r.self, payer, amountIn); refundErr != nil {
			return math.ZeroInt(), fmt.Errorf("refund rejected swap: %w", refundErr)
		}
		return math.ZeroInt(), err
	}
	out := amounts[len(amounts)-1]
	if out.LT(r.attestationCost) {
		if refundErr := r.tokens.TransferFrom(ctx, r.settlementToken, r.self, payer, out); refundErr != nil {
			return math.ZeroInt(), fmt.Errorf("refund short payment: %w", refundErr)
		}
		return math.ZeroInt(), types.NewError(types.ErrInsufficientPayment,
			fmt.Sprintf("swap output %s below attestation cost %s", out, r.attestationCost),
			"received", out.String(), "required", r.attestationCost.String())
	}
	return out, nil
}

// record stores the payment request and returns its id. The id is
// derived from (payer, sessionId, per-payer nonce) so repeated
// payments for one session stay distinguishable.
func (r *Router) record(payer common.Address, sessionID string, settled math.Int) common.Hash {
	r.mu.Lock()
	defer r.mu.Unlock()

	nonce := r.nonces[payer]
	r.nonces[payer] = nonce + 1

	var nonceBytes [8]byte
	binary.BigEndian.PutUint64(nonceBytes[:], nonce)
	id := crypto.Keccak256Hash(payer.Bytes(), []byte(sessionID), nonceBytes[:])

	r.requests[id] = PaymentRequest{
		ID:                   id,
		Requester:            payer,
		SessionID:            sessionID,
		SettlementAmountPaid: settled,
		Bridged:              true,
	}

	r.rec.IncCounter(metrics.CounterPayments, map[string]string{"chain": strconv.FormatUint(r.chainID, 10)})
	r.log.Info("payment recorded", map[string]any{
		"chain": r.chainID, "requestId": id.Hex(), "payer": payer.Hex(),
		"sessionId": sessionID, "settled": settled.String(),
		"destChain": r.destChain, "destRouter": r.destRouter.Hex(),
	})
	return id
}

// QuoteInSettlementUnits renders the attestation cost in human units
// at the settlement token's precision.
func (r *Router) QuoteInSettlementUnits(decimals int) decimal.Decimal {
	return utils.FormatAmount(r.attestationCost, decimals)
}

// Request returns the recorded payment request for id.
func (r *Router) Request(id common.Hash) (PaymentRequest, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	return req, ok
}

// RequestsBySession lists the payment requests recorded for a session.
func (r *Router) RequestsBySession(sessionID string) []PaymentRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []PaymentRequest
	for _, req := range r.requests {
		if req.SessionID == sessionID {
			out = append(out, req)
		}
	}
	return out
}
