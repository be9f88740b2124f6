package chain

import (
	"context"
	"math/big"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "AIWeb3-Agents/internal/errors"
	"AIWeb3-Agents/internal/tools"
)

var transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// TokenTransfer is one decoded ERC-20 Transfer event.
type TokenTransfer struct {
	BlockNumber uint64 `json:"block_number"`
	TxHash      string `json:"tx_hash"`
	LogIndex    uint   `json:"log_index"`
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
}

// TransfersOutput is the result of chain.query_transfers.
type TransfersOutput struct {
	Token     string          `json:"token"`
	FromBlock uint64          `json:"from_block"`
	ToBlock   uint64          `json:"to_block"`
	Total     int             `json:"total"`
	Transfers []TokenTransfer `json:"transfers"`
}

type queryArgs struct {
	Token     common.Address
	FromBlock *uint64
	ToBlock   *uint64
	Limit     *uint64
}

func decodeQuery(a tools.Args) (queryArgs, error) {
	token, err := a.Address("token", "erc20_address")
	if err != nil {
		return queryArgs{}, err
	}
	from, err := a.OptionalUint64("from_block")
	if err != nil {
		return queryArgs{}, err
	}
	to, err := a.OptionalUint64("to_block")
	if err != nil {
		return queryArgs{}, err
	}
	limit, err := a.OptionalUint64("limit")
	if err != nil {
		return queryArgs{}, err
	}
	if from != nil && to != nil && *from > *to {
		return queryArgs{}, xerrors.New(xerrors.CodeInvalidArgument, "from_block must not exceed to_block")
	}
	return queryArgs{Token: token, FromBlock: from, ToBlock: to, Limit: limit}, nil
}

func (d Deps) queryTransfers(ctx context.Context, in queryArgs) (any, error) {
	var toBlock uint64
	if in.ToBlock != nil {
		toBlock = *in.ToBlock
	} else {
		head, err := d.Client.BlockNumber(ctx)
		if err != nil {
			return nil, err
		}
		toBlock = head
	}
	var fromBlock uint64
	if in.FromBlock != nil {
		fromBlock = *in.FromBlock
	} else if toBlock > d.LogLookback {
		fromBlock = toBlock - d.LogLookback
	}

	logs, err := d.Client.FilterLogs(ctx, gethcore.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{in.Token},
		Topics:    [][]common.Hash{{transferTopic}},
	})
	if err != nil {
		return nil, err
	}

	limit := d.LogLimit
	if in.Limit != nil && *in.Limit > 0 && *in.Limit < uint64(limit) {
		limit = int(*in.Limit)
	}
	out := TransfersOutput{
		Token:     in.Token.Hex(),
		FromBlock: fromBlock,
		ToBlock:   toBlock,
		Total:     len(logs),
		Transfers: make([]TokenTransfer, 0, min(limit, len(logs))),
	}
	for _, l := range logs {
		if len(out.Transfers) >= limit {
			break
		}
		if t, ok := decodeTransferLog(l); ok {
			out.Transfers = append(out.Transfers, t)
		}
	}
	return out, nil
}

// decodeTransferLog skips logs that are not standard ERC-20 transfers
// (ERC-721 Transfer shares the topic but indexes the token id).
func decodeTransferLog(l types.Log) (TokenTransfer, bool) {
	if len(l.Topics) != 3 || l.Topics[0] != transferTopic || len(l.Data) != 32 {
		return TokenTransfer{}, false
	}
	return TokenTransfer{
		BlockNumber: l.BlockNumber,
		TxHash:      l.TxHash.Hex(),
		LogIndex:    l.Index,
		From:        common.BytesToAddress(l.Topics[1].Bytes()).Hex(),
		To:          common.BytesToAddress(l.Topics[2].Bytes()).Hex(),
		Value:       new(big.Int).SetBytes(l.Data).String(),
	}, true
}
