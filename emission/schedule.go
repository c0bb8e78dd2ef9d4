package emission

import (
	"context"
	"fmt"
	"math/big"

	"cosmossdk.io/math"

	"github.com/quarrylabs/quarry/types"
)

// MaxHalvings is the epoch from which the per-minute reward is clamped
// to zero regardless of the initial reward's precision.
const MaxHalvings = 64

// CurrentEpoch derives the halving epoch from the chain head:
// floor((height - genesisHeight) / halvingIntervalBlocks), 0 while the
// head is behind genesis. Fails until genesis is set.
func (l *Ledger) CurrentEpoch(ctx context.Context) (uint64, error) {
	height, err := l.chain.Height(ctx)
	if err != nil {
		return 0, fmt.Errorf("read chain height: %w", err)
	}

	l.mu.Lock()
	genesis := l.genesisHeight
	interval := l.cfg.HalvingIntervalBlocks
	l.mu.Unlock()

	if genesis == 0 {
		return 0, types.NewError(types.ErrGenesisNotSet, "emission genesis has not been initialized")
	}
	if height < genesis {
		return 0, nil
	}
	return (height - genesis) / interval, nil
}

// CurrentReward is the per-minute base reward for the current epoch:
// initialRewardPerMinute halved once per elapsed epoch, clamped to
// zero from MaxHalvings on.
func (l *Ledger) CurrentReward(ctx context.Context) (math.Int, error) {
	epoch, err := l.CurrentEpoch(ctx)
	if err != nil {
		return math.ZeroInt(), err
	}
	return l.RewardAtEpoch(epoch), nil
}

// RewardAtEpoch is the pure halving calculation, exposed for schedule
// introspection.
func (l *Ledger) RewardAtEpoch(epoch uint64) math.Int {
	if epoch >= MaxHalvings {
		return math.ZeroInt()
	}
	l.mu.Lock()
	initial := l.cfg.InitialRewardPerMinute
	l.mu.Unlock()
	shifted := new(big.Int).Rsh(initial.BigInt(), uint(epoch))
	return math.NewIntFromBigInt(shifted)
}
