package chain

import (
	"context"
	"math/big"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"

	xerrors "AIWeb3-Agents/internal/errors"
	"AIWeb3-Agents/internal/tools"
	"AIWeb3-Agents/internal/transfer"
)

const counterABIJSON = `[{"inputs":[],"name":"count","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},{"inputs":[],"name":"increment","outputs":[],"stateMutability":"nonpayable","type":"function"}]`

var counterABI = mustParseABI(counterABIJSON)

// CounterOutput is the result of chain.counter_increment.
type CounterOutput struct {
	Contract string         `json:"contract"`
	Before   string         `json:"before"`
	After    string         `json:"after"`
	Receipt  *types.Receipt `json:"receipt"`
}

type counterArgs struct {
	Contract common.Address
}

func decodeCounter(a tools.Args) (counterArgs, error) {
	contract, err := a.Address("contract", "counter_address")
	if err != nil {
		return counterArgs{}, err
	}
	return counterArgs{Contract: contract}, nil
}

func (d Deps) readCount(ctx context.Context, contract common.Address) (*big.Int, error) {
	data, err := counterABI.Pack("count")
	if err != nil {
		return nil, err
	}
	raw, err := d.Client.CallContract(ctx, gethcore.CallMsg{From: d.Pipeline.From(), To: &contract, Data: data})
	if err != nil {
		return nil, err
	}
	out, err := counterABI.Unpack("count", raw)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "count() 返回值无法解析，地址可能不是计数器合约")
	}
	return out[0].(*big.Int), nil
}

// counterIncrement reads count(), sends increment() through the pipeline
// and reads count() again once the receipt is in.
func (d Deps) counterIncrement(ctx context.Context, in counterArgs) (any, error) {
	if err := d.Pipeline.Policy().Evaluate(in.Contract.Hex(), new(uint256.Int), nil); err != nil {
		return nil, err
	}
	before, err := d.readCount(ctx, in.Contract)
	if err != nil {
		return nil, err
	}
	data, err := counterABI.Pack("increment")
	if err != nil {
		return nil, err
	}
	res, err := d.Pipeline.Send(ctx, transfer.Request{To: in.Contract, Data: data})
	if err != nil {
		return nil, err
	}
	after, err := d.readCount(ctx, in.Contract)
	if err != nil {
		return nil, err
	}
	return CounterOutput{
		Contract: in.Contract.Hex(),
		Before:   before.String(),
		After:    after.String(),
		Receipt:  res.Receipt,
	}, nil
}
