package settlement

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/quarrylabs/quarry/types"
)

// Wire format of a teleport payload: abi.encode(address recipient,
// uint256 amount). The same bytes are hashed into the transfer id, so
// the codec must stay deterministic.

var transferArgs = func() abi.Arguments {
	addressT, err := abi.NewType("address", "", nil)
	if err != nil {
		panic(err)
	}
	uint256T, err := abi.NewType("uint256", "", nil)
	if err != nil {
		panic(err)
	}
	return abi.Arguments{
		{Name: "recipient", Type: addressT},
		{Name: "amount", Type: uint256T},
	}
}()

// EncodeTransfer packs a (recipient, amount) pair into payload bytes.
func EncodeTransfer(recipient common.Address, amount math.Int) ([]byte, error) {
	if amount.IsNil() || amount.IsNegative() {
		return nil, types.NewError(types.ErrZeroAmount, "transfer amount must be non-negative")
	}
	return transferArgs.Pack(recipient, amount.BigInt())
}

// DecodeTransfer unpacks payload bytes produced by EncodeTransfer.
func DecodeTransfer(payload []byte) (common.Address, math.Int, error) {
	values, err := transferArgs.Unpack(payload)
	if err != nil {
		return common.Address{}, math.ZeroInt(), types.NewError(types.ErrInvalidMessage,
			fmt.Sprintf("malformed transfer payload: %v", err))
	}
	recipient, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, math.ZeroInt(), types.NewError(types.ErrInvalidMessage, "malformed transfer recipient")
	}
	raw, ok := values[1].(*big.Int)
	if !ok {
		return common.Address{}, math.ZeroInt(), types.NewError(types.ErrInvalidMessage, "malformed transfer amount")
	}
	return recipient, math.NewIntFromBigInt(raw), nil
}

// TransferID derives the replay-protection identifier of a verified
// inbound message: keccak256(sourceChain_be64 || originSender ||
// payload). Replaying the identical message maps to the same id even
// across transport re-delivery.
func TransferID(sourceChain uint64, originSender common.Address, payload []byte) common.Hash {
	var chainBytes [8]byte
	binary.BigEndian.PutUint64(chainBytes[:], sourceChain)
	return crypto.Keccak256Hash(chainBytes[:], originSender.Bytes(), payload)
}
