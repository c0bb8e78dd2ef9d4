// Package emission owns the per-chain supply bookkeeping of the quarry
// token: allocation categories with hard caps, the halving schedule,
// and the mint/burn paths used by mining sessions and the cross-chain
// settlement bridge.
package emission

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/quarrylabs/quarry/clients"
	"github.com/quarrylabs/quarry/logger"
	"github.com/quarrylabs/quarry/metrics"
	"github.com/quarrylabs/quarry/types"
)

// Ledger is the supply book for one chain. All mutating operations are
// atomic: either every counter and balance change of a call is applied
// or none is.
//
// Category invariant, held at all times:
//
//	totalSupply == liquidityMinted + miningMinted + treasuryMinted <= chainSupplyCap
//	liquidityMinted <= liquidityCap
//	miningMinted + treasuryMinted <= miningCap (reward path only; bridged
//	value is folded into the mining category as already-minted supply)
type Ledger struct {
	mu sync.Mutex

	cfg   types.ChainConfig
	chain clients.ChainReader
	log   logger.Logger
	rec   metrics.Recorder

	paused        bool
	genesisHeight uint64

	totalSupply     math.Int
	liquidityMinted math.Int
	miningMinted    math.Int
	treasuryMinted  math.Int

	balances map[common.Address]math.Int
}

// NewLedger builds an empty ledger for cfg. The chain reader feeds the
// halving schedule.
func NewLedger(cfg types.ChainConfig, chain clients.ChainReader, log logger.Logger, rec metrics.Recorder) *Ledger {
	return &Ledger{
		cfg:             cfg,
		chain:           chain,
		log:             log,
		rec:             rec,
		totalSupply:     math.ZeroInt(),
		liquidityMinted: math.ZeroInt(),
		miningMinted:    math.ZeroInt(),
		treasuryMinted:  math.ZeroInt(),
		balances:        make(map[common.Address]math.Int),
	}
}

func (l *Ledger) chainLabel() map[string]string {
	return map[string]string{"chain": strconv.FormatUint(l.cfg.ChainID, 10)}
}

// MintLiquidity credits to from the liquidity allocation. Admin only.
func (l *Ledger) MintLiquidity(caller, to common.Address, amount math.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.cfg.Admin {
		return unauthorized("mintLiquidity", caller)
	}
	if l.paused {
		return pausedErr("mintLiquidity")
	}
	if amount.IsNil() || amount.IsZero() {
		return types.NewError(types.ErrZeroAmount, "mint amount must be positive")
	}
	if to == types.ZeroAddress {
		return types.NewError(types.ErrInvalidRecipient, "cannot mint to the null identity")
	}
	available := l.cfg.LiquidityCap.Sub(l.liquidityMinted)
	if amount.GT(available) {
		return types.NewError(types.ErrLiquidityCapExceeded,
			fmt.Sprintf("liquidity mint %s exceeds remaining allocation %s", amount, available),
			"requested", amount.String(), "available", available.String())
	}

	l.liquidityMinted = l.liquidityMinted.Add(amount)
	l.totalSupply = l.totalSupply.Add(amount)
	l.credit(to, amount)

	l.log.Info("liquidity minted", map[string]any{
		"chain": l.cfg.ChainID, "to": to.Hex(), "amount": amount.String(),
	})
	return nil
}

// MintReward mints a gross mining reward, splitting it between the
// miner and the treasury by treasuryShareBps. The two cuts always sum
// exactly to amount. Restricted to the session authority.
func (l *Ledger) MintReward(caller, to common.Address, amount math.Int) (minerCut, treasuryCut math.Int, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	zero := math.ZeroInt()
	if caller != l.cfg.SessionAuthority {
		return zero, zero, unauthorized("mintReward", caller)
	}
	if l.paused {
		return zero, zero, pausedErr("mintReward")
	}
	if l.genesisHeight == 0 {
		return zero, zero, types.NewError(types.ErrGenesisNotSet, "emission genesis has not been initialized")
	}
	minted := l.miningMinted.Add(l.treasuryMinted)
	available := l.cfg.MiningCap.Sub(minted)
	if amount.GT(available) {
		return zero, zero, types.NewError(types.ErrMiningCapExceeded,
			fmt.Sprintf("reward mint %s exceeds remaining mining allocation %s", amount, available),
			"requested", amount.String(), "available", available.String())
	}

	treasuryCut = amount.MulRaw(int64(l.cfg.TreasuryShareBps)).QuoRaw(types.BpsDenominator)
	minerCut = amount.Sub(treasuryCut)

	l.miningMinted = l.miningMinted.Add(minerCut)
	l.treasuryMinted = l.treasuryMinted.Add(treasuryCut)
	l.totalSupply = l.totalSupply.Add(amount)
	l.credit(to, minerCut)
	l.credit(l.cfg.Treasury, treasuryCut)

	l.rec.IncCounter(metrics.CounterRewardsMinted, l.chainLabel())
	l.log.Info("reward minted", map[string]any{
		"chain": l.cfg.ChainID, "miner": to.Hex(),
		"minerCut": minerCut.String(), "treasuryCut": treasuryCut.String(),
	})
	return minerCut, treasuryCut, nil
}

// BridgeMint credits value arriving from another chain. The amount is
// folded into the mining category as already-minted supply. Restricted
// to the bridge authority.
func (l *Ledger) BridgeMint(caller, to common.Address, amount math.Int, transferID common.Hash) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.cfg.BridgeAuthority {
		return unauthorized("bridgeMint", caller)
	}
	if l.paused {
		return pausedErr("bridgeMint")
	}
	available := l.cfg.ChainSupplyCap.Sub(l.totalSupply)
	if amount.GT(available) {
		return types.NewError(types.ErrSupplyCapExceeded,
			fmt.Sprintf("bridge mint %s exceeds remaining chain supply %s", amount, available),
			"requested", amount.String(), "available", available.String())
	}

	l.miningMinted = l.miningMinted.Add(amount)
	l.totalSupply = l.totalSupply.Add(amount)
	l.credit(to, amount)

	l.log.Info("bridge minted", map[string]any{
		"chain": l.cfg.ChainID, "to": to.Hex(),
		"amount": amount.String(), "transferId": transferID.Hex(),
	})
	return nil
}

// BridgeBurn debits holder and removes amount from supply ahead of a
// cross-chain transfer. The category counters are reduced
// proportionally to their current shares so the category invariant
// keeps holding. Restricted to the bridge authority.
func (l *Ledger) BridgeBurn(caller, holder common.Address, amount math.Int, destChain uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.cfg.BridgeAuthority {
		return unauthorized("bridgeBurn", caller)
	}
	if l.paused {
		return pausedErr("bridgeBurn")
	}
	have := l.balanceOf(holder)
	if have.LT(amount) {
		return types.NewError(types.ErrInsufficientBalance,
			fmt.Sprintf("balance %s below burn amount %s", have, amount),
			"holder", holder.Hex(), "available", have.String(), "requested", amount.String())
	}

	liqCut, minCut, treCut := l.splitBurn(amount)
	l.balances[holder] = have.Sub(amount)
	l.liquidityMinted = l.liquidityMinted.Sub(liqCut)
	l.miningMinted = l.miningMinted.Sub(minCut)
	l.treasuryMinted = l.treasuryMinted.Sub(treCut)
	l.totalSupply = l.totalSupply.Sub(amount)

	l.log.Info("bridge burned", map[string]any{
		"chain": l.cfg.ChainID, "holder": holder.Hex(),
		"amount": amount.String(), "destChain": destChain,
	})
	return nil
}

// splitBurn apportions a burn across the three categories
// proportionally to their current sizes, assigning the flooring
// remainder to mining first, then treasury, then liquidity, without
// driving any category negative. Caller holds the lock; amount is
// known to be <= totalSupply.
func (l *Ledger) splitBurn(amount math.Int) (liqCut, minCut, treCut math.Int) {
	if l.totalSupply.IsZero() {
		zero := math.ZeroInt()
		return zero, zero, zero
	}
	liqCut = amount.Mul(l.liquidityMinted).Quo(l.totalSupply)
	treCut = amount.Mul(l.treasuryMinted).Quo(l.totalSupply)
	minCut = amount.Sub(liqCut).Sub(treCut)

	if minCut.GT(l.miningMinted) {
		spill := minCut.Sub(l.miningMinted)
		minCut = l.miningMinted
		treCut = treCut.Add(spill)
	}
	if treCut.GT(l.treasuryMinted) {
		spill := treCut.Sub(l.treasuryMinted)
		treCut = l.treasuryMinted
		liqCut = liqCut.Add(spill)
	}
	return liqCut, minCut, treCut
}

// SetGenesis records the current chain height as the emission genesis.
// Admin only, one-shot.
func (l *Ledger) SetGenesis(ctx context.Context, caller common.Address) error {
	height, err := l.chain.Height(ctx)
	if err != nil {
		return fmt.Errorf("read chain height: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if caller != l.cfg.Admin {
		return unauthorized("setGenesis", caller)
	}
	if l.genesisHeight != 0 {
		return types.NewError(types.ErrConfig, "genesis already set",
			"genesisHeight", l.genesisHeight)
	}
	if height == 0 {
		height = 1
	}
	l.genesisHeight = height
	l.log.Info("genesis set", map[string]any{"chain": l.cfg.ChainID, "height": height})
	return nil
}

// SetPaused toggles the process-wide pause flag. Admin only. Read
// accessors are unaffected.
func (l *Ledger) SetPaused(caller common.Address, paused bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if caller != l.cfg.Admin {
		return unauthorized("setPaused", caller)
	}
	l.paused = paused
	return nil
}

func (l *Ledger) credit(to common.Address, amount math.Int) {
	cur, ok := l.balances[to]
	if !ok {
		cur = math.ZeroInt()
	}
	l.balances[to] = cur.Add(amount)
}

func (l *Ledger) balanceOf(addr common.Address) math.Int {
	if b, ok := l.balances[addr]; ok {
		return b
	}
	return math.ZeroInt()
}

// Read accessors.

func (l *Ledger) TotalSupply() math.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalSupply
}

func (l *Ledger) LiquidityMinted() math.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.liquidityMinted
}

func (l *Ledger) MiningMinted() math.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.miningMinted
}

func (l *Ledger) TreasuryMinted() math.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.treasuryMinted
}

func (l *Ledger) BalanceOf(addr common.Address) math.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balanceOf(addr)
}

func (l *Ledger) GenesisHeight() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.genesisHeight
}

func (l *Ledger) Paused() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.paused
}

// Snapshot captures the full mutable state of the ledger. The
// settlement layer uses it to make multi-claim batches all-or-nothing.
type Snapshot struct {
	paused          bool
	genesisHeight   uint64
	totalSupply     math.Int
	liquidityMinted math.Int
	miningMinted    math.Int
	treasuryMinted  math.Int
	balances        map[common.Address]math.Int
}

func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	balances := make(map[common.Address]math.Int, len(l.balances))
	for k, v := range l.balances {
		balances[k] = v
	}
	return Snapshot{
		paused:          l.paused,
		genesisHeight:   l.genesisHeight,
		totalSupply:     l.totalSupply,
		liquidityMinted: l.liquidityMinted,
		miningMinted:    l.miningMinted,
		treasuryMinted:  l.treasuryMinted,
		balances:        balances,
	}
}

func (l *Ledger) Restore(s Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.paused = s.paused
	l.genesisHeight = s.genesisHeight
	l.totalSupply = s.totalSupply
	l.liquidityMinted = s.liquidityMinted
	l.miningMinted = s.miningMinted
	l.treasuryMinted = s.treasuryMinted
	l.balances = make(map[common.Address]math.Int, len(s.balances))
	for k, v := range s.balances {
		l.balances[k] = v
	}
}

func unauthorized(op string, caller common.Address) error {
	return types.NewError(types.ErrUnauthorized,
		fmt.Sprintf("%s: caller %s lacks the required role", op, caller.Hex()),
		"operation", op, "caller", caller.Hex())
}

func pausedErr(op string) error {
	return types.NewError(types.ErrPaused, op+": emission is paused", "operation", op)
}
