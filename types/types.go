// Package types defines the shared domain types of the quarry protocol:
// privacy tiers, error codes, and the configuration structures consumed
// by the top-level facade.
package types

import (
	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

// BpsDenominator is the basis-point scale used for the treasury share
// and the tier reward multipliers.
const BpsDenominator = 10_000

// PrivacyTier classifies the confidential-compute environment reported
// by an attestation quote.
type PrivacyTier uint8

const (
	TierPublic PrivacyTier = iota
	TierPrivate
	TierConfidential
	TierSovereign
)

// tier → reward multiplier in basis points
var tierMultipliers = map[PrivacyTier]uint32{
	TierPublic:       2_500,
	TierPrivate:      5_000,
	TierConfidential: 10_000,
	TierSovereign:    15_000,
}

// MultiplierBps returns the reward multiplier for a tier. The second
// return is false for tiers the protocol does not recognize.
func (t PrivacyTier) MultiplierBps() (uint32, bool) {
	bps, ok := tierMultipliers[t]
	return bps, ok
}

func (t PrivacyTier) String() string {
	switch t {
	case TierPublic:
		return "public"
	case TierPrivate:
		return "private"
	case TierConfidential:
		return "confidential"
	case TierSovereign:
		return "sovereign"
	default:
		return "unknown"
	}
}

// ZeroAddress is the null identity. Mints to it are rejected.
var ZeroAddress = common.Address{}

// ZeroInt is a convenience zero amount.
func ZeroInt() math.Int { return math.ZeroInt() }
