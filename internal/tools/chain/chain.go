// Package chain registers the chain.* tools (and their legacy evm.* aliases)
// on a tools.Registry. Every state-changing tool goes through the transfer
// pipeline; read-only tools talk to the chain client directly.
package chain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"AIWeb3-Agents/internal/tools"
	"AIWeb3-Agents/internal/transfer"
	"AIWeb3-Agents/internal/web3"
)

// Tool names.
const (
	GetBalance       = "chain.get_balance"
	SimulateTransfer = "chain.simulate_transfer"
	SendTransfer     = "chain.send_transfer"
	MintNFT          = "chain.mint_nft"
	CounterIncrement = "chain.counter_increment"
	QueryTransfers   = "chain.query_transfers"
	Snapshot         = "chain.snapshot"
)

var legacyAliases = map[string]string{
	"evm.get_balance":       GetBalance,
	"evm.simulate_transfer": SimulateTransfer,
	"evm.send_transfer":     SendTransfer,
}

// Deps are the collaborators shared by the chain tools.
type Deps struct {
	Client       web3.Client
	Pipeline     *transfer.Pipeline
	MintGasLimit uint64
	LogLookback  uint64
	LogLimit     int
}

// Register adds every chain tool and legacy alias to r.
func Register(r *tools.Registry, d Deps) {
	if d.MintGasLimit == 0 {
		d.MintGasLimit = 400000
	}
	if d.LogLookback == 0 {
		d.LogLookback = 5000
	}
	if d.LogLimit <= 0 {
		d.LogLimit = 50
	}

	r.Register(GetBalance, tools.Typed(decodeBalance, d.getBalance),
		tools.WithDescription("Return the wei balance of an address (defaults to the signing account)."),
		tools.WithSchema(objectSchema(map[string]any{
			"address": addressProp("Account to query."),
		})))
	r.Register(SimulateTransfer, tools.Typed(decodeTransfer, d.simulateTransfer),
		tools.WithDescription("Estimate gas for a native transfer from the signing account without sending it."),
		tools.WithSchema(objectSchema(map[string]any{
			"to":    addressProp("Destination address."),
			"value": amountProp("Amount in wei."),
		}, "to", "value")))
	r.Register(SendTransfer, tools.Typed(decodeTransfer, d.sendTransfer),
		tools.WithDescription("Policy-check, simulate, sign, submit and confirm a native transfer; returns the receipt."),
		tools.WithSchema(objectSchema(map[string]any{
			"to":        addressProp("Destination address."),
			"value":     amountProp("Amount in wei."),
			"max_value": amountProp("Per-request replacement for the policy max value."),
		}, "to", "value")))
	r.Register(MintNFT, tools.Typed(decodeMint, d.mintNFT),
		tools.WithDescription("Call safeMint(to, tokenURI) on an ERC-721 contract through the transfer pipeline."),
		tools.WithSchema(objectSchema(map[string]any{
			"contract":  addressProp("ERC-721 contract address."),
			"token_uri": map[string]any{"type": "string", "description": "Token metadata URI."},
			"to":        addressProp("Recipient; defaults to the signing account."),
		}, "contract", "token_uri")))
	r.Register(CounterIncrement, tools.Typed(decodeCounter, d.counterIncrement),
		tools.WithDescription("Call increment() on a counter contract through the transfer pipeline; returns count before and after."),
		tools.WithSchema(objectSchema(map[string]any{
			"contract": addressProp("Counter contract address."),
		}, "contract")))
	r.Register(QueryTransfers, tools.Typed(decodeQuery, d.queryTransfers),
		tools.WithDescription("List ERC-20 Transfer events of a token contract over a block range."),
		tools.WithSchema(objectSchema(map[string]any{
			"token":      addressProp("ERC-20 contract address."),
			"from_block": map[string]any{"type": []string{"integer", "string"}},
			"to_block":   map[string]any{"type": []string{"integer", "string"}},
			"limit":      map[string]any{"type": []string{"integer", "string"}},
		}, "token")))
	r.Register(Snapshot, tools.HandlerFunc(d.snapshot),
		tools.WithDescription("Return the chain id and latest block number."),
		tools.WithSchema(objectSchema(map[string]any{})))

	for alias, target := range legacyAliases {
		r.Alias(alias, target)
	}
}

func objectSchema(props map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func addressProp(desc string) map[string]any {
	return map[string]any{"type": "string", "pattern": "^0x[0-9a-fA-F]{40}$", "description": desc}
}

func amountProp(desc string) map[string]any {
	return map[string]any{"type": []string{"string", "integer"}, "description": desc}
}

// BalanceOutput is the result of chain.get_balance.
type BalanceOutput struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
}

type balanceArgs struct {
	Address *common.Address
}

func decodeBalance(a tools.Args) (balanceArgs, error) {
	addr, err := a.OptionalAddress("address")
	return balanceArgs{Address: addr}, err
}

func (d Deps) getBalance(ctx context.Context, in balanceArgs) (any, error) {
	account := d.Pipeline.From()
	if in.Address != nil {
		account = *in.Address
	}
	balance, err := d.Client.BalanceAt(ctx, account)
	if err != nil {
		return nil, err
	}
	return BalanceOutput{Address: account.Hex(), Balance: balance.String()}, nil
}

type transferArgs struct {
	To       common.Address
	Value    *uint256.Int
	MaxValue *uint256.Int
}

func decodeTransfer(a tools.Args) (transferArgs, error) {
	to, err := a.Address("to")
	if err != nil {
		return transferArgs{}, err
	}
	value, err := a.Amount("value", "value_wei")
	if err != nil {
		return transferArgs{}, err
	}
	maxValue, err := a.OptionalAmount("max_value", "max_value_wei")
	if err != nil {
		return transferArgs{}, err
	}
	return transferArgs{To: to, Value: value, MaxValue: maxValue}, nil
}

func (d Deps) simulateTransfer(ctx context.Context, in transferArgs) (any, error) {
	return d.Pipeline.Simulate(ctx, in.To, in.Value, nil), nil
}

func (d Deps) sendTransfer(ctx context.Context, in transferArgs) (any, error) {
	res, err := d.Pipeline.Send(ctx, transfer.Request{
		To:               in.To,
		Value:            in.Value,
		MaxValueOverride: in.MaxValue,
	})
	if err != nil {
		return nil, err
	}
	return res.Receipt, nil
}

func (d Deps) snapshot(ctx context.Context, _ tools.Args) (any, error) {
	return d.Client.FetchChainSnapshot(ctx)
}
