package emission

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quarrylabs/quarry/types"
)

func TestCurrentEpoch(t *testing.T) {
	l, chain := newTestLedger(t)
	ctx := context.Background()

	_, err := l.CurrentEpoch(ctx)
	require.True(t, types.IsCode(err, types.ErrGenesisNotSet))

	chain.SetHeight(100)
	require.NoError(t, l.SetGenesis(ctx, admin))

	tests := []struct {
		height uint64
		epoch  uint64
	}{
		{50, 0},  // head behind genesis
		{100, 0}, // genesis block itself
		{199, 0},
		{200, 1}, // interval is 100 blocks
		{250, 1},
		{300, 2},
		{1_100, 10},
	}
	for _, tc := range tests {
		chain.SetHeight(tc.height)
		epoch, err := l.CurrentEpoch(ctx)
		require.NoError(t, err)
		require.Equal(t, tc.epoch, epoch, "height %d", tc.height)
	}
}

func TestRewardAtEpoch(t *testing.T) {
	l, _ := newTestLedger(t)

	// initial reward 1000, halved once per epoch
	require.Equal(t, "1000", l.RewardAtEpoch(0).String())
	require.Equal(t, "500", l.RewardAtEpoch(1).String())
	require.Equal(t, "250", l.RewardAtEpoch(2).String())
	require.Equal(t, "125", l.RewardAtEpoch(3).String())
	require.Equal(t, "7", l.RewardAtEpoch(7).String())
	require.Equal(t, "0", l.RewardAtEpoch(10).String())

	// clamp: zero from MaxHalvings on, no matter the precision of initial
	require.True(t, l.RewardAtEpoch(MaxHalvings).IsZero())
	require.True(t, l.RewardAtEpoch(MaxHalvings+100).IsZero())
}

func TestCurrentRewardFollowsHead(t *testing.T) {
	l, chain := newTestLedger(t)
	ctx := context.Background()

	chain.SetHeight(100)
	require.NoError(t, l.SetGenesis(ctx, admin))

	reward, err := l.CurrentReward(ctx)
	require.NoError(t, err)
	require.Equal(t, "1000", reward.String())

	chain.Advance(100)
	reward, err = l.CurrentReward(ctx)
	require.NoError(t, err)
	require.Equal(t, "500", reward.String())

	chain.Advance(100)
	reward, err = l.CurrentReward(ctx)
	require.NoError(t, err)
	require.Equal(t, "250", reward.String())
}
