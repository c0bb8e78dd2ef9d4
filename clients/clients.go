// Package clients defines the narrow capability interfaces the quarry
// core depends on (attestation verification, cross-chain messaging,
// DEX swaps, token custody, chain reads) together with EVM adapters
// and in-memory doubles for tests and local wiring.
//
// The core treats every capability result as potentially adversarial:
// validation happens in the calling component before any local state
// is committed.
package clients

import (
	"context"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/quarrylabs/quarry/types"
)

// AttestationReport is the decoded result of verifying a raw
// confidential-compute quote.
type AttestationReport struct {
	Valid    bool
	DeviceID common.Hash
	Tier     types.PrivacyTier
}

// Attestation verifies opaque hardware quotes.
type Attestation interface {
	Verify(ctx context.Context, quote []byte) (AttestationReport, error)
}

// InboundMessage is a transport-verified message delivered to the
// local chain.
type InboundMessage struct {
	SourceChain  uint64
	OriginSender common.Address
	Payload      []byte
	Valid        bool
}

// Messaging is the cross-chain message channel. Send emits a payload
// toward the configured counterpart chain and returns the
// transport-assigned message id. ReadVerified returns the inbound
// message at index on the local chain.
type Messaging interface {
	Send(ctx context.Context, payload []byte) (uint64, error)
	ReadVerified(ctx context.Context, index uint64) (InboundMessage, error)
}

// DEX swaps and quotes along explicit token paths. Amount slices are
// ordered like the path: element 0 is the input amount, the last
// element the output amount.
type DEX interface {
	Swap(ctx context.Context, amountIn, minOut math.Int, path []common.Address, recipient common.Address) ([]math.Int, error)
	QuoteIn(ctx context.Context, amountOut math.Int, path []common.Address) ([]math.Int, error)
	QuoteOut(ctx context.Context, amountIn math.Int, path []common.Address) ([]math.Int, error)
}

// Token is the custody surface the payment router uses: ERC-20 style
// pulls plus native wrapping.
type Token interface {
	TransferFrom(ctx context.Context, token, from, to common.Address, amount math.Int) error
	// Deposit wraps value of the native asset into the wrapped token,
	// crediting from.
	Deposit(ctx context.Context, wrapped, from common.Address, value math.Int) error
	BalanceOf(ctx context.Context, token, holder common.Address) (math.Int, error)
}

// ChainReader reads the local chain head. Epoch math in the emission
// ledger is derived from it.
type ChainReader interface {
	Height(ctx context.Context) (uint64, error)
}
