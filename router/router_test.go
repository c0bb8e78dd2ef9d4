package router

import (
	"context"
	"testing"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/quarrylabs/quarry/clients"
	"github.com/quarrylabs/quarry/logger"
	"github.com/quarrylabs/quarry/metrics"
	"github.com/quarrylabs/quarry/types"
)

var (
	payer = common.HexToAddress("0xb1")
	self  = common.HexToAddress("0xa4")

	settlementToken = common.HexToAddress("0xd1")
	wrappedNative   = common.HexToAddress("0xd2")
	payToken        = common.HexToAddress("0xd3")
)

func newTestRouter(t *testing.T) (*Router, *clients.MemoryToken, *clients.StaticDEX) {
	t.Helper()
	cfg := types.ChainConfig{
		ChainID:         1,
		SettlementToken: settlementToken,
		WrappedNative:   wrappedNative,
		AttestationCost: math.NewInt(100),
		DestChainID:     2,
		DestRouter:      common.HexToAddress("0xc2"),
	}
	tokens := clients.NewMemoryToken()
	dex := clients.NewStaticDEX(tokens)
	// payToken and wrapped native are both worth two settlement tokens
	dex.SetPrice(payToken, settlementToken, decimal.NewFromInt(2))
	dex.SetPrice(wrappedNative, settlementToken, decimal.NewFromInt(2))
	r := New(cfg, self, dex, tokens, logger.NoopLogger{}, metrics.NoopRecorder{})
	return r, tokens, dex
}

func balance(t *testing.T, tokens *clients.MemoryToken, token, holder common.Address) string {
	t.Helper()
	b, err := tokens.BalanceOf(context.Background(), token, holder)
	require.NoError(t, err)
	return b.String()
}

func TestGetPaymentQuote(t *testing.T) {
	r, _, _ := newTestRouter(t)
	ctx := context.Background()

	// settlement token: cost passes through unquoted
	quote, err := r.GetPaymentQuote(ctx, settlementToken)
	require.NoError(t, err)
	require.Equal(t, "100", quote.String())

	// other token: backward quote over the direct pair, 100 / 2 = 50
	quote, err = r.GetPaymentQuote(ctx, payToken)
	require.NoError(t, err)
	require.Equal(t, "50", quote.String())

	_, err = r.GetPaymentQuote(ctx, common.HexToAddress("0xdead"))
	require.Error(t, err)

	require.Equal(t, "0.0001", r.QuoteInSettlementUnits(6).String())
}

func TestPayWithSettlementToken(t *testing.T) {
	r, tokens, _ := newTestRouter(t)
	ctx := context.Background()
	tokens.Mint(settlementToken, payer, math.NewInt(150))

	id, err := r.PayForAttestation(ctx, payer, settlementToken, math.NewInt(120), math.ZeroInt(), "sess-1")
	require.NoError(t, err)

	req, ok := r.Request(id)
	require.True(t, ok)
	require.Equal(t, payer, req.Requester)
	require.Equal(t, "sess-1", req.SessionID)
	require.Equal(t, "100", req.SettlementAmountPaid.String())
	require.True(t, req.Bridged)

	// the full amountIn moves to the router's custody identity
	require.Equal(t, "30", balance(t, tokens, settlementToken, payer))
	require.Equal(t, "120", balance(t, tokens, settlementToken, self))
}

func TestPaySettlementTokenBelowCost(t *testing.T) {
	r, tokens, _ := newTestRouter(t)
	ctx := context.Background()
	tokens.Mint(settlementToken, payer, math.NewInt(99))

	_, err := r.PayForAttestation(ctx, payer, settlementToken, math.NewInt(99), math.ZeroInt(), "sess-1")
	require.True(t, types.IsCode(err, types.ErrInsufficientPayment))

	// rejected before any transfer
	require.Equal(t, "99", balance(t, tokens, settlementToken, payer))
	require.Empty(t, r.RequestsBySession("sess-1"))
}

func TestPayWithOtherToken(t *testing.T) {
	r, tokens, _ := newTestRouter(t)
	ctx := context.Background()
	tokens.Mint(payToken, payer, math.NewInt(50))

	// 50 payToken swap at 2.0 -> 100 settlement, exactly the cost
	id, err := r.PayForAttestation(ctx, payer, payToken, math.NewInt(50), math.NewInt(90), "sess-1")
	require.NoError(t, err)

	req, ok := r.Request(id)
	require.True(t, ok)
	require.Equal(t, "100", req.SettlementAmountPaid.String())
	require.Equal(t, "0", balance(t, tokens, payToken, payer))
	require.Equal(t, "100", balance(t, tokens, settlementToken, self))
}

func TestPayOtherTokenShortOutputRefunded(t *testing.T) {
	r, tokens, _ := newTestRouter(t)
	ctx := context.Background()
	tokens.Mint(payToken, payer, math.NewInt(40))

	// 40 payToken -> 80 settlement clears minOut but not the cost
	_, err := r.PayForAttestation(ctx, payer, payToken, math.NewInt(40), math.NewInt(50), "sess-1")
	require.True(t, types.IsCode(err, types.ErrInsufficientPayment))

	// swap output refunded to the payer, nothing retained
	require.Equal(t, "80", balance(t, tokens, settlementToken, payer))
	require.Equal(t, "0", balance(t, tokens, settlementToken, self))
	require.Empty(t, r.RequestsBySession("sess-1"))
}

func TestPaySlippageRejected(t *testing.T) {
	r, tokens, _ := newTestRouter(t)
	ctx := context.Background()
	tokens.Mint(payToken, payer, math.NewInt(40))

	// output 80 below the caller's own floor of 100
	_, err := r.PayForAttestation(ctx, payer, payToken, math.NewInt(40), math.NewInt(100), "sess-1")
	require.True(t, types.IsCode(err, types.ErrSlippage))

	// the pulled input is refunded in full: the rejected payment leaves
	// no value with the router
	require.Equal(t, "40", balance(t, tokens, payToken, payer))
	require.Equal(t, "0", balance(t, tokens, payToken, self))
	require.Empty(t, r.RequestsBySession("sess-1"))
}

func TestPaySwapErrorRefunded(t *testing.T) {
	r, tokens, _ := newTestRouter(t)
	ctx := context.Background()

	// no DEX price configured for this token, so the swap itself errors
	unpriced := common.HexToAddress("0xd4")
	tokens.Mint(unpriced, payer, math.NewInt(40))

	_, err := r.PayForAttestation(ctx, payer, unpriced, math.NewInt(40), math.ZeroInt(), "sess-1")
	require.Error(t, err)
	require.Equal(t, "40", balance(t, tokens, unpriced, payer))
	require.Equal(t, "0", balance(t, tokens, unpriced, self))
}

func TestPayZeroAmount(t *testing.T) {
	r, _, _ := newTestRouter(t)
	ctx := context.Background()

	_, err := r.PayForAttestation(ctx, payer, settlementToken, math.ZeroInt(), math.ZeroInt(), "sess-1")
	require.True(t, types.IsCode(err, types.ErrZeroAmount))
	_, err = r.PayWithNative(ctx, payer, math.ZeroInt(), math.ZeroInt(), "sess-1")
	require.True(t, types.IsCode(err, types.ErrZeroAmount))

	// negative amounts are rejected before any token movement
	_, err = r.PayForAttestation(ctx, payer, settlementToken, math.NewInt(-1), math.ZeroInt(), "sess-1")
	require.True(t, types.IsCode(err, types.ErrZeroAmount))
	_, err = r.PayWithNative(ctx, payer, math.NewInt(-1), math.ZeroInt(), "sess-1")
	require.True(t, types.IsCode(err, types.ErrZeroAmount))
}

func TestPayWithNative(t *testing.T) {
	r, tokens, _ := newTestRouter(t)
	ctx := context.Background()

	// 60 native wraps to 60 wrapped-native, swaps to 120 settlement
	id, err := r.PayWithNative(ctx, payer, math.NewInt(60), math.NewInt(100), "sess-1")
	require.NoError(t, err)

	req, ok := r.Request(id)
	require.True(t, ok)
	require.Equal(t, "120", req.SettlementAmountPaid.String())
	require.True(t, req.Bridged)
	require.Equal(t, "120", balance(t, tokens, settlementToken, self))
}

func TestRequestIDsDistinctPerPayment(t *testing.T) {
	r, tokens, _ := newTestRouter(t)
	ctx := context.Background()
	tokens.Mint(settlementToken, payer, math.NewInt(300))

	id1, err := r.PayForAttestation(ctx, payer, settlementToken, math.NewInt(100), math.ZeroInt(), "sess-1")
	require.NoError(t, err)
	id2, err := r.PayForAttestation(ctx, payer, settlementToken, math.NewInt(100), math.ZeroInt(), "sess-1")
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)

	require.Len(t, r.RequestsBySession("sess-1"), 2)
	require.Empty(t, r.RequestsBySession("sess-2"))
}
