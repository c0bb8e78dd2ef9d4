package clients

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/quarrylabs/quarry/types"
)

// EVM adapters. Reads go through eth_call; mutating capability calls
// are delegated to a TransactFunc so key management and gas policy
// stay outside this package.

// TransactFunc submits calldata to a contract and returns the
// ABI-encoded return value of the call. Implementations typically
// simulate via eth_call, then sign and broadcast.
type TransactFunc func(ctx context.Context, to common.Address, value *big.Int, calldata []byte) ([]byte, error)

var (
	attestationABI = mustABI(`[
		{"name":"verify","type":"function","stateMutability":"view",
		 "inputs":[{"name":"quote","type":"bytes"}],
		 "outputs":[{"name":"valid","type":"bool"},{"name":"deviceId","type":"bytes32"},{"name":"tier","type":"uint8"}]}
	]`)

	messengerABI = mustABI(`[
		{"name":"send","type":"function","stateMutability":"nonpayable",
		 "inputs":[{"name":"payload","type":"bytes"}],
		 "outputs":[{"name":"messageId","type":"uint256"}]},
		{"name":"readVerified","type":"function","stateMutability":"view",
		 "inputs":[{"name":"index","type":"uint256"}],
		 "outputs":[{"name":"sourceChain","type":"uint64"},{"name":"originSender","type":"address"},
		            {"name":"payload","type":"bytes"},{"name":"valid","type":"bool"}]}
	]`)

	dexRouterABI = mustABI(`[
		{"name":"swapExactTokensForTokens","type":"function","stateMutability":"nonpayable",
		 "inputs":[{"name":"amountIn","type":"uint256"},{"name":"amountOutMin","type":"uint256"},
		           {"name":"path","type":"address[]"},{"name":"to","type":"address"}],
		 "outputs":[{"name":"amounts","type":"uint256[]"}]},
		{"name":"getAmountsIn","type":"function","stateMutability":"view",
		 "inputs":[{"name":"amountOut","type":"uint256"},{"name":"path","type":"address[]"}],
		 "outputs":[{"name":"amounts","type":"uint256[]"}]},
		{"name":"getAmountsOut","type":"function","stateMutability":"view",
		 "inputs":[{"name":"amountIn","type":"uint256"},{"name":"path","type":"address[]"}],
		 "outputs":[{"name":"amounts","type":"uint256[]"}]}
	]`)

	erc20ABI = mustABI(`[
		{"name":"transferFrom","type":"function","stateMutability":"nonpayable",
		 "inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"value","type":"uint256"}],
		 "outputs":[{"name":"ok","type":"bool"}]},
		{"name":"balanceOf","type":"function","stateMutability":"view",
		 "inputs":[{"name":"owner","type":"address"}],
		 "outputs":[{"name":"balance","type":"uint256"}]},
		{"name":"deposit","type":"function","stateMutability":"payable","inputs":[],"outputs":[]}
	]`)
)

func mustABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}

// EVMAttestor verifies quotes against an on-chain verifier contract.
type EVMAttestor struct {
	client   *ethclient.Client
	contract common.Address
}

func NewEVMAttestor(rpcURL string, contract common.Address) (*EVMAttestor, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rpcURL, err)
	}
	return &EVMAttestor{client: client, contract: contract}, nil
}

func (a *EVMAttestor) Verify(ctx context.Context, quote []byte) (AttestationReport, error) {
	data, err := attestationABI.Pack("verify", quote)
	if err != nil {
		return AttestationReport{}, err
	}
	ret, err := a.client.CallContract(ctx, ethereum.CallMsg{To: &a.contract, Data: data}, nil)
	if err != nil {
		return AttestationReport{}, fmt.Errorf("verifier call: %w", err)
	}
	out, err := attestationABI.Unpack("verify", ret)
	if err != nil {
		return AttestationReport{}, fmt.Errorf("verifier return: %w", err)
	}
	valid := out[0].(bool)
	device := out[1].([32]byte)
	tier := out[2].(uint8)
	return AttestationReport{
		Valid:    valid,
		DeviceID: common.Hash(device),
		Tier:     types.PrivacyTier(tier),
	}, nil
}

func (a *EVMAttestor) Close() { a.client.Close() }

// EVMMessenger adapts an on-chain message-channel contract.
type EVMMessenger struct {
	client   *ethclient.Client
	contract common.Address
	transact TransactFunc
}

func NewEVMMessenger(rpcURL string, contract common.Address, transact TransactFunc) (*EVMMessenger, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rpcURL, err)
	}
	return &EVMMessenger{client: client, contract: contract, transact: transact}, nil
}

func (m *EVMMessenger) Send(ctx context.Context, payload []byte) (uint64, error) {
	data, err := messengerABI.Pack("send", payload)
	if err != nil {
		return 0, err
	}
	ret, err := m.transact(ctx, m.contract, nil, data)
	if err != nil {
		return 0, fmt.Errorf("send message: %w", err)
	}
	out, err := messengerABI.Unpack("send", ret)
	if err != nil {
		return 0, fmt.Errorf("send return: %w", err)
	}
	return out[0].(*big.Int).Uint64(), nil
}

func (m *EVMMessenger) ReadVerified(ctx context.Context, index uint64) (InboundMessage, error) {
	data, err := messengerABI.Pack("readVerified", new(big.Int).SetUint64(index))
	if err != nil {
		return InboundMessage{}, err
	}
	ret, err := m.client.CallContract(ctx, ethereum.CallMsg{To: &m.contract, Data: data}, nil)
	if err != nil {
		return InboundMessage{}, fmt.Errorf("readVerified call: %w", err)
	}
	out, err := messengerABI.Unpack("readVerified", ret)
	if err != nil {
		return InboundMessage{}, fmt.Errorf("readVerified return: %w", err)
	}
	return InboundMessage{
		SourceChain:  out[0].(uint64),
		OriginSender: out[1].(common.Address),
		Payload:      out[2].([]byte),
		Valid:        out[3].(bool),
	}, nil
}

func (m *EVMMessenger) Close() { m.client.Close() }

// EVMDex adapts a pair-path swap router (Uniswap v2 interface).
type EVMDex struct {
	client   *ethclient.Client
	router   common.Address
	transact TransactFunc
}

func NewEVMDex(rpcURL string, router common.Address, transact TransactFunc) (*EVMDex, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rpcURL, err)
	}
	return &EVMDex{client: client, router: router, transact: transact}, nil
}

func (d *EVMDex) Swap(ctx context.Context, amountIn, minOut math.Int, path []common.Address, recipient common.Address) ([]math.Int, error) {
	data, err := dexRouterABI.Pack("swapExactTokensForTokens",
		amountIn.BigInt(), minOut.BigInt(), path, recipient)
	if err != nil {
		return nil, err
	}
	ret, err := d.transact(ctx, d.router, nil, data)
	if err != nil {
		return nil, fmt.Errorf("swap: %w", err)
	}
	return unpackAmounts(dexRouterABI, "swapExactTokensForTokens", ret)
}

func (d *EVMDex) QuoteIn(ctx context.Context, amountOut math.Int, path []common.Address) ([]math.Int, error) {
	return d.quote(ctx, "getAmountsIn", amountOut, path)
}

func (d *EVMDex) QuoteOut(ctx context.Context, amountIn math.Int, path []common.Address) ([]math.Int, error) {
	return d.quote(ctx, "getAmountsOut", amountIn, path)
}

func (d *EVMDex) quote(ctx context.Context, method string, amount math.Int, path []common.Address) ([]math.Int, error) {
	data, err := dexRouterABI.Pack(method, amount.BigInt(), path)
	if err != nil {
		return nil, err
	}
	ret, err := d.client.CallContract(ctx, ethereum.CallMsg{To: &d.router, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("%s call: %w", method, err)
	}
	return unpackAmounts(dexRouterABI, method, ret)
}

func (d *EVMDex) Close() { d.client.Close() }

func unpackAmounts(parsed abi.ABI, method string, ret []byte) ([]math.Int, error) {
	out, err := parsed.Unpack(method, ret)
	if err != nil {
		return nil, fmt.Errorf("%s return: %w", method, err)
	}
	raw := out[0].([]*big.Int)
	amounts := make([]math.Int, len(raw))
	for i, v := range raw {
		amounts[i] = math.NewIntFromBigInt(v)
	}
	return amounts, nil
}

// EVMToken adapts ERC-20 custody plus wrapped-native deposits.
type EVMToken struct {
	client   *ethclient.Client
	transact TransactFunc
}

func NewEVMToken(rpcURL string, transact TransactFunc) (*EVMToken, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rpcURL, err)
	}
	return &EVMToken{client: client, transact: transact}, nil
}

func (t *EVMToken) TransferFrom(ctx context.Context, token, from, to common.Address, amount math.Int) error {
	data, err := erc20ABI.Pack("transferFrom", from, to, amount.BigInt())
	if err != nil {
		return err
	}
	if _, err := t.transact(ctx, token, nil, data); err != nil {
		return fmt.Errorf("transferFrom: %w", err)
	}
	return nil
}

func (t *EVMToken) Deposit(ctx context.Context, wrapped, _ common.Address, value math.Int) error {
	data, err := erc20ABI.Pack("deposit")
	if err != nil {
		return err
	}
	if _, err := t.transact(ctx, wrapped, value.BigInt(), data); err != nil {
		return fmt.Errorf("deposit: %w", err)
	}
	return nil
}

func (t *EVMToken) BalanceOf(ctx context.Context, token, holder common.Address) (math.Int, error) {
	data, err := erc20ABI.Pack("balanceOf", holder)
	if err != nil {
		return math.Int{}, err
	}
	ret, err := t.client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return math.Int{}, fmt.Errorf("balanceOf call: %w", err)
	}
	out, err := erc20ABI.Unpack("balanceOf", ret)
	if err != nil {
		return math.Int{}, fmt.Errorf("balanceOf return: %w", err)
	}
	return math.NewIntFromBigInt(out[0].(*big.Int)), nil
}

func (t *EVMToken) Close() { t.client.Close() }

// EVMChain reads the local chain head over RPC.
type EVMChain struct {
	client *ethclient.Client
}

func NewEVMChain(rpcURL string) (*EVMChain, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rpcURL, err)
	}
	return &EVMChain{client: client}, nil
}

func (c *EVMChain) Height(ctx context.Context) (uint64, error) {
	return c.client.BlockNumber(ctx)
}

func (c *EVMChain) Close() { c.client.Close() }
