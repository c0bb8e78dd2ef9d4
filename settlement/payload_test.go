package settlement

import (
	"testing"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/quarrylabs/quarry/types"
)

func TestTransferCodecRoundTrip(t *testing.T) {
	recipient := common.HexToAddress("0xb1")
	amount := math.NewInt(123_456_789)

	payload, err := EncodeTransfer(recipient, amount)
	require.NoError(t, err)
	// abi.encode(address, uint256) is two 32-byte words
	require.Len(t, payload, 64)

	gotRecipient, gotAmount, err := DecodeTransfer(payload)
	require.NoError(t, err)
	require.Equal(t, recipient, gotRecipient)
	require.True(t, amount.Equal(gotAmount))
}

func TestEncodeTransferRejectsNegative(t *testing.T) {
	_, err := EncodeTransfer(common.HexToAddress("0xb1"), math.NewInt(-1))
	require.True(t, types.IsCode(err, types.ErrZeroAmount))
}

func TestDecodeTransferRejectsGarbage(t *testing.T) {
	for _, payload := range [][]byte{nil, {0x01}, make([]byte, 63)} {
		_, _, err := DecodeTransfer(payload)
		require.True(t, types.IsCode(err, types.ErrInvalidMessage))
	}
}

func TestTransferIDDeterminism(t *testing.T) {
	sender := common.HexToAddress("0xc1")
	payload, err := EncodeTransfer(common.HexToAddress("0xb1"), math.NewInt(40))
	require.NoError(t, err)

	id := TransferID(1, sender, payload)
	require.Equal(t, id, TransferID(1, sender, payload))

	// any provenance or content change yields a distinct id
	require.NotEqual(t, id, TransferID(2, sender, payload))
	require.NotEqual(t, id, TransferID(1, common.HexToAddress("0xc2"), payload))
	other, err := EncodeTransfer(common.HexToAddress("0xb1"), math.NewInt(41))
	require.NoError(t, err)
	require.NotEqual(t, id, TransferID(1, sender, other))
}
