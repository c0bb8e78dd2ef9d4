package types

import (
	"fmt"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
)

// Default emission parameters. Amounts are in atomic units with 18
// decimals.
var (
	DefaultChainSupplyCap         = math.NewIntWithDecimal(1_000_000_000, 18)
	DefaultLiquidityCap           = math.NewIntWithDecimal(300_000_000, 18)
	DefaultMiningCap              = math.NewIntWithDecimal(700_000_000, 18)
	DefaultInitialRewardPerMinute = math.NewIntWithDecimal(1, 18)
)

const (
	DefaultHalvingIntervalBlocks = 2_100_000
	DefaultTreasuryShareBps      = 1_000
)

// ChainConfig holds the per-chain deployment parameters: role
// identities, emission constants, and the cross-chain trust tables.
type ChainConfig struct {
	ChainID uint64 `json:"chainId" validate:"required"`

	// Role identities. Admin controls genesis, pause, liquidity mints
	// and trust tables. SessionAuthority is the only identity allowed
	// to mint rewards; BridgeAuthority the only one allowed to
	// bridge-mint and bridge-burn.
	Admin            common.Address `json:"admin" validate:"required"`
	Treasury         common.Address `json:"treasury" validate:"required"`
	SessionAuthority common.Address `json:"sessionAuthority" validate:"required"`
	BridgeAuthority  common.Address `json:"bridgeAuthority" validate:"required"`

	// Emission constants. Zero values are replaced with the defaults
	// above by Normalize.
	ChainSupplyCap         math.Int `json:"chainSupplyCap"`
	LiquidityCap           math.Int `json:"liquidityCap"`
	MiningCap              math.Int `json:"miningCap"`
	InitialRewardPerMinute math.Int `json:"initialRewardPerMinute"`
	HalvingIntervalBlocks  uint64   `json:"halvingIntervalBlocks"`
	TreasuryShareBps       uint32   `json:"treasuryShareBps" validate:"lte=10000"`

	// Payment routing.
	SettlementToken common.Address `json:"settlementToken"`
	WrappedNative   common.Address `json:"wrappedNative"`
	AttestationCost math.Int       `json:"attestationCost"`
	DestChainID     uint64         `json:"destChainId"`
	DestRouter      common.Address `json:"destRouter"`

	// Cross-chain trust tables: allow-listed counterpart chains and the
	// peer settlement contract trusted on each.
	TrustedChains  []uint64                  `json:"trustedChains"`
	TrustedRouters map[uint64]common.Address `json:"trustedRouters"`
}

// Normalize fills zero-valued emission constants with the protocol
// defaults. It returns the receiver for chaining.
func (c *ChainConfig) Normalize() *ChainConfig {
	if c.ChainSupplyCap.IsNil() {
		c.ChainSupplyCap = DefaultChainSupplyCap
	}
	if c.LiquidityCap.IsNil() {
		c.LiquidityCap = DefaultLiquidityCap
	}
	if c.MiningCap.IsNil() {
		c.MiningCap = DefaultMiningCap
	}
	if c.InitialRewardPerMinute.IsNil() {
		c.InitialRewardPerMinute = DefaultInitialRewardPerMinute
	}
	if c.HalvingIntervalBlocks == 0 {
		c.HalvingIntervalBlocks = DefaultHalvingIntervalBlocks
	}
	if c.TreasuryShareBps == 0 {
		c.TreasuryShareBps = DefaultTreasuryShareBps
	}
	if c.AttestationCost.IsNil() {
		c.AttestationCost = math.ZeroInt()
	}
	return c
}

// Validate checks structural tags and the numeric relations the tags
// cannot express.
func (c *ChainConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return NewError(ErrConfig, fmt.Sprintf("chain %d: %v", c.ChainID, err))
	}
	for name, v := range map[string]math.Int{
		"chainSupplyCap":         c.ChainSupplyCap,
		"liquidityCap":           c.LiquidityCap,
		"miningCap":              c.MiningCap,
		"initialRewardPerMinute": c.InitialRewardPerMinute,
		"attestationCost":        c.AttestationCost,
	} {
		if v.IsNil() || v.IsNegative() {
			return NewError(ErrConfig,
				fmt.Sprintf("chain %d: %s must be a non-negative amount", c.ChainID, name))
		}
	}
	if c.LiquidityCap.Add(c.MiningCap).GT(c.ChainSupplyCap) {
		return NewError(ErrConfig,
			fmt.Sprintf("chain %d: liquidityCap + miningCap exceeds chainSupplyCap", c.ChainID),
			"liquidityCap", c.LiquidityCap.String(),
			"miningCap", c.MiningCap.String(),
			"chainSupplyCap", c.ChainSupplyCap.String())
	}
	for _, id := range c.TrustedChains {
		if id == c.ChainID {
			return NewError(ErrConfig,
				fmt.Sprintf("chain %d: cannot trust itself", c.ChainID))
		}
	}
	return nil
}

// Config is the facade-level configuration: one ChainConfig per ledger
// the process participates in.
type Config struct {
	Chains []ChainConfig `json:"chains" validate:"required,min=1"`

	LogLevel      string `json:"logLevel,omitempty"`
	EnableMetrics bool   `json:"enableMetrics,omitempty"`
}

var validate = validator.New()

// Validate normalizes and validates every chain entry and rejects
// duplicate chain ids.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return NewError(ErrConfig, err.Error())
	}
	seen := make(map[uint64]bool, len(c.Chains))
	for i := range c.Chains {
		cc := c.Chains[i].Normalize()
		if err := cc.Validate(); err != nil {
			return err
		}
		if seen[cc.ChainID] {
			return NewError(ErrConfig,
				fmt.Sprintf("duplicate chain id %d", cc.ChainID))
		}
		seen[cc.ChainID] = true
	}
	return nil
}
