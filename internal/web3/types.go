package web3

import (
	"context"
	"math/big"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ChainSnapshot represents summarized network metadata for reporting.
type ChainSnapshot struct {
	ChainID     string `json:"chain_id"`
	BlockNumber string `json:"block_number"`
	Notes       string `json:"notes,omitempty"`
}

// Fees carries the fee parameters for a new transaction. GasPrice is set
// only when the chain head has no base fee, in which case a legacy
// transaction must be built.
type Fees struct {
	GasTipCap *big.Int
	GasFeeCap *big.Int
	GasPrice  *big.Int
}

// Legacy reports whether the fees describe a pre-London transaction.
func (f Fees) Legacy() bool {
	return f.GasPrice != nil
}

// Client is the narrow set of chain operations the tool layer relies on.
// Implementations must be safe for concurrent use.
type Client interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address) (*big.Int, error)
	EstimateGas(ctx context.Context, msg gethcore.CallMsg) (uint64, error)
	CallContract(ctx context.Context, msg gethcore.CallMsg) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestFees(ctx context.Context) (Fees, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	WaitMined(ctx context.Context, hash common.Hash, poll time.Duration) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, query gethcore.FilterQuery) ([]types.Log, error)
	FetchChainSnapshot(ctx context.Context) (ChainSnapshot, error)
	Close()
}
