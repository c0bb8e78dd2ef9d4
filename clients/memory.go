package clients

import (
	"context"
	"fmt"
	"sync"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/quarrylabs/quarry/types"
)

// In-memory capability doubles. Tests and single-process deployments
// wire these; production wiring uses the EVM adapters.

// StaticAttestor reports a fixed tier and device id for every quote.
type StaticAttestor struct {
	Tier     types.PrivacyTier
	DeviceID common.Hash
	Invalid  bool
	Err      error
}

func (a *StaticAttestor) Verify(_ context.Context, quote []byte) (AttestationReport, error) {
	if a.Err != nil {
		return AttestationReport{}, a.Err
	}
	if a.Invalid || len(quote) == 0 {
		return AttestationReport{Valid: false}, nil
	}
	return AttestationReport{Valid: true, DeviceID: a.DeviceID, Tier: a.Tier}, nil
}

// MessageBus is an in-process message transport connecting the
// settlement instances of several chains. Every delivered message is
// already "verified": the bus stamps the true source chain and sender.
type MessageBus struct {
	mu      sync.Mutex
	inboxes map[uint64][]InboundMessage
}

func NewMessageBus() *MessageBus {
	return &MessageBus{inboxes: make(map[uint64][]InboundMessage)}
}

// Endpoint returns the Messaging view for one chain: sends are
// delivered to remote's inbox, reads come from the local inbox.
func (b *MessageBus) Endpoint(local uint64, sender common.Address, remote uint64) *BusEndpoint {
	return &BusEndpoint{bus: b, local: local, sender: sender, remote: remote}
}

// Inject places an arbitrary message in dest's inbox and returns its
// index. Used by tests to forge unverified or hostile messages.
func (b *MessageBus) Inject(dest uint64, msg InboundMessage) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inboxes[dest] = append(b.inboxes[dest], msg)
	return uint64(len(b.inboxes[dest]) - 1)
}

type BusEndpoint struct {
	bus    *MessageBus
	local  uint64
	sender common.Address
	remote uint64
}

func (e *BusEndpoint) Send(_ context.Context, payload []byte) (uint64, error) {
	cp := make([]byte, len(payload))
	copy(cp, payload)
	return e.bus.Inject(e.remote, InboundMessage{
		SourceChain:  e.local,
		OriginSender: e.sender,
		Payload:      cp,
		Valid:        true,
	}), nil
}

func (e *BusEndpoint) ReadVerified(_ context.Context, index uint64) (InboundMessage, error) {
	e.bus.mu.Lock()
	defer e.bus.mu.Unlock()
	inbox := e.bus.inboxes[e.local]
	if index >= uint64(len(inbox)) {
		return InboundMessage{}, types.NewError(types.ErrInvalidMessage,
			fmt.Sprintf("no message at index %d", index), "index", index)
	}
	return inbox[index], nil
}

// MemoryToken is an in-memory multi-token balance book implementing
// the Token capability.
type MemoryToken struct {
	mu       sync.Mutex
	balances map[common.Address]map[common.Address]math.Int
}

func NewMemoryToken() *MemoryToken {
	return &MemoryToken{balances: make(map[common.Address]map[common.Address]math.Int)}
}

// Mint credits to with amount of token. Test setup helper.
func (t *MemoryToken) Mint(token, to common.Address, amount math.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.credit(token, to, amount)
}

func (t *MemoryToken) TransferFrom(_ context.Context, token, from, to common.Address, amount math.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	have := t.balance(token, from)
	if have.LT(amount) {
		return types.NewError(types.ErrInsufficientBalance,
			fmt.Sprintf("balance %s below transfer amount %s", have, amount),
			"token", token.Hex(), "holder", from.Hex(),
			"available", have.String(), "requested", amount.String())
	}
	t.balances[token][from] = have.Sub(amount)
	t.credit(token, to, amount)
	return nil
}

func (t *MemoryToken) Deposit(_ context.Context, wrapped, from common.Address, value math.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.credit(wrapped, from, value)
	return nil
}

func (t *MemoryToken) BalanceOf(_ context.Context, token, holder common.Address) (math.Int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balance(token, holder), nil
}

func (t *MemoryToken) balance(token, holder common.Address) math.Int {
	if book, ok := t.balances[token]; ok {
		if b, ok := book[holder]; ok {
			return b
		}
	}
	return math.ZeroInt()
}

func (t *MemoryToken) credit(token, to common.Address, amount math.Int) {
	book, ok := t.balances[token]
	if !ok {
		book = make(map[common.Address]math.Int)
		t.balances[token] = book
	}
	cur, ok := book[to]
	if !ok {
		cur = math.ZeroInt()
	}
	book[to] = cur.Add(amount)
}

// StaticDEX prices direct pairs at fixed rates and settles swaps
// against a MemoryToken book. Rates are decimal "output units per
// input unit".
type StaticDEX struct {
	mu     sync.Mutex
	tokens *MemoryToken
	prices map[[2]common.Address]decimal.Decimal
}

func NewStaticDEX(tokens *MemoryToken) *StaticDEX {
	return &StaticDEX{tokens: tokens, prices: make(map[[2]common.Address]decimal.Decimal)}
}

func (d *StaticDEX) SetPrice(in, out common.Address, price decimal.Decimal) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.prices[[2]common.Address{in, out}] = price
}

func (d *StaticDEX) price(in, out common.Address) (decimal.Decimal, error) {
	p, ok := d.prices[[2]common.Address{in, out}]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("no price for pair %s -> %s", in.Hex(), out.Hex())
	}
	return p, nil
}

// QuoteOut walks the path forward, flooring at each hop.
func (d *StaticDEX) QuoteOut(_ context.Context, amountIn math.Int, path []common.Address) ([]math.Int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(path) < 2 {
		return nil, fmt.Errorf("path must have at least two tokens")
	}
	amounts := make([]math.Int, len(path))
	amounts[0] = amountIn
	cur := decimal.NewFromBigInt(amountIn.BigInt(), 0)
	for i := 1; i < len(path); i++ {
		p, err := d.price(path[i-1], path[i])
		if err != nil {
			return nil, err
		}
		cur = cur.Mul(p).Floor()
		amounts[i] = math.NewIntFromBigInt(cur.BigInt())
	}
	return amounts, nil
}

// QuoteIn walks the path backward, ceiling at each hop so the quoted
// input is always sufficient.
func (d *StaticDEX) QuoteIn(_ context.Context, amountOut math.Int, path []common.Address) ([]math.Int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(path) < 2 {
		return nil, fmt.Errorf("path must have at least two tokens")
	}
	amounts := make([]math.Int, len(path))
	amounts[len(path)-1] = amountOut
	cur := decimal.NewFromBigInt(amountOut.BigInt(), 0)
	for i := len(path) - 1; i > 0; i-- {
		p, err := d.price(path[i-1], path[i])
		if err != nil {
			return nil, err
		}
		cur = cur.Div(p).Ceil()
		amounts[i-1] = math.NewIntFromBigInt(cur.BigInt())
	}
	return amounts, nil
}

// Swap converts recipient's path[0] balance into the terminal token at
// the configured rates. Output below minOut fails with no balance
// movement.
func (d *StaticDEX) Swap(ctx context.Context, amountIn, minOut math.Int, path []common.Address, recipient common.Address) ([]math.Int, error) {
	amounts, err := d.QuoteOut(ctx, amountIn, path)
	if err != nil {
		return nil, err
	}
	out := amounts[len(amounts)-1]
	if out.LT(minOut) {
		return nil, types.NewError(types.ErrSlippage,
			fmt.Sprintf("swap output %s below minimum %s", out, minOut),
			"output", out.String(), "minOut", minOut.String())
	}
	burn := common.BytesToAddress([]byte("staticdex-sink"))
	if err := d.tokens.TransferFrom(ctx, path[0], recipient, burn, amountIn); err != nil {
		return nil, err
	}
	d.tokens.Mint(path[len(path)-1], recipient, out)
	return amounts, nil
}

// StaticChain reports a settable block height.
type StaticChain struct {
	mu     sync.Mutex
	height uint64
}

func NewStaticChain(height uint64) *StaticChain {
	return &StaticChain{height: height}
}

func (c *StaticChain) Height(context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.height, nil
}

func (c *StaticChain) SetHeight(h uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.height = h
}

func (c *StaticChain) Advance(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.height += n
}
