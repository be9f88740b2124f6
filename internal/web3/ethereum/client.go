package ethereum

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"AIWeb3-Agents/internal/web3"
	"AIWeb3-Agents/pkg/logger"
)

// Config describes how to construct an EVM compatible client.
type Config struct {
	RPCURL      string
	DialTimeout time.Duration
	Notes       string
}

// Backend is the subset of ethclient methods the facade needs. Both
// *ethclient.Client and the simulated backend client satisfy it.
type Backend interface {
	gethcore.ChainIDReader
	gethcore.BlockNumberReader
	HeaderByNumber(ctx context.Context, number *big.Int) (*coretypes.Header, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	EstimateGas(ctx context.Context, msg gethcore.CallMsg) (uint64, error)
	CallContract(ctx context.Context, msg gethcore.CallMsg, blockNumber *big.Int) ([]byte, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *coretypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*coretypes.Receipt, error)
	FilterLogs(ctx context.Context, q gethcore.FilterQuery) ([]coretypes.Log, error)
}

// Client implements web3.Client for EVM compatible chains.
type Client struct {
	backend   Backend
	rpcClient *gethrpc.Client
	notes     string

	mu      sync.Mutex
	chainID *big.Int
}

var _ web3.Client = (*Client)(nil)

// NewClient dials the configured RPC endpoint and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}
	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}

	return &Client{
		backend:   ethclient.NewClient(rpcClient),
		rpcClient: rpcClient,
		notes:     cfg.Notes,
	}, nil
}

// NewSimulatedClient wraps a go-ethereum simulated backend for testing purposes.
func NewSimulatedClient(backend simulated.Client) *Client {
	return &Client{backend: backend, notes: "simulated backend"}
}

// NewWithBackend wraps an arbitrary backend implementation.
func NewWithBackend(backend Backend, notes string) *Client {
	return &Client{backend: backend, notes: notes}
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rpcClient != nil {
		c.rpcClient.Close()
		c.rpcClient = nil
	}
}

// ChainID returns the chain id, cached after the first successful call.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	cached := c.chainID
	c.mu.Unlock()
	if cached != nil {
		return new(big.Int).Set(cached), nil
	}

	id, err := c.backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取链 ID 失败: %w", err)
	}
	c.mu.Lock()
	c.chainID = new(big.Int).Set(id)
	c.mu.Unlock()
	return id, nil
}

// BlockNumber returns the latest block height.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	n, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("获取最新区块高度失败: %w", err)
	}
	return n, nil
}

// BalanceAt returns the latest balance of account in wei.
func (c *Client) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	balance, err := c.backend.BalanceAt(ctx, account, nil)
	if err != nil {
		return nil, fmt.Errorf("查询余额失败: %w", err)
	}
	return balance, nil
}

// EstimateGas asks the node to estimate the gas for msg. The node's error
// message is preserved so callers can surface it verbatim.
func (c *Client) EstimateGas(ctx context.Context, msg gethcore.CallMsg) (uint64, error) {
	return c.backend.EstimateGas(ctx, msg)
}

// CallContract executes a read-only call against the latest block.
func (c *Client) CallContract(ctx context.Context, msg gethcore.CallMsg) ([]byte, error) {
	out, err := c.backend.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("调用合约失败: %w", err)
	}
	return out, nil
}

// PendingNonceAt returns the next nonce including pending transactions.
func (c *Client) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	nonce, err := c.backend.PendingNonceAt(ctx, account)
	if err != nil {
		return 0, fmt.Errorf("查询交易计数失败: %w", err)
	}
	return nonce, nil
}

// SuggestFees returns EIP-1559 fee caps, or a legacy gas price when the
// head block carries no base fee.
func (c *Client) SuggestFees(ctx context.Context) (web3.Fees, error) {
	head, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return web3.Fees{}, fmt.Errorf("获取最新区块头失败: %w", err)
	}
	if head.BaseFee == nil {
		price, err := c.backend.SuggestGasPrice(ctx)
		if err != nil {
			return web3.Fees{}, fmt.Errorf("获取 gas 价格失败: %w", err)
		}
		return web3.Fees{GasPrice: price}, nil
	}

	tip, err := c.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return web3.Fees{}, fmt.Errorf("获取小费上限失败: %w", err)
	}
	feeCap := new(big.Int).Mul(head.BaseFee, big.NewInt(2))
	feeCap.Add(feeCap, tip)
	return web3.Fees{GasTipCap: tip, GasFeeCap: feeCap}, nil
}

// SendTransaction broadcasts a signed transaction.
func (c *Client) SendTransaction(ctx context.Context, tx *coretypes.Transaction) error {
	if err := c.backend.SendTransaction(ctx, tx); err != nil {
		return fmt.Errorf("发送交易失败: %w", err)
	}
	return nil
}

// WaitMined polls for the receipt of hash until it is available or ctx is
// done. Lookup errors are treated as transient; a node may still be
// indexing a mined transaction. A poll interval <= 0 defaults to one second.
func (c *Client) WaitMined(ctx context.Context, hash common.Hash, poll time.Duration) (*coretypes.Receipt, error) {
	if poll <= 0 {
		poll = time.Second
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	var lastErr error
	for {
		receipt, err := c.backend.TransactionReceipt(ctx, hash)
		switch {
		case err == nil && receipt != nil:
			return receipt, nil
		case err != nil && !errors.Is(err, gethcore.NotFound) && ctx.Err() == nil:
			lastErr = err
			logger.Named("web3").Debug("receipt lookup failed, retrying",
				slog.String("tx_hash", hash.Hex()), slog.Any("error", err))
		}

		select {
		case <-ctx.Done():
			if lastErr != nil {
				return nil, fmt.Errorf("等待交易 %s 上链超时: %w", hash.Hex(), errors.Join(ctx.Err(), lastErr))
			}
			return nil, fmt.Errorf("等待交易 %s 上链超时: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// FilterLogs executes a log filter query.
func (c *Client) FilterLogs(ctx context.Context, query gethcore.FilterQuery) ([]coretypes.Log, error) {
	logs, err := c.backend.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("查询事件日志失败: %w", err)
	}
	return logs, nil
}

// FetchChainSnapshot gathers lightweight metadata from the chain.
func (c *Client) FetchChainSnapshot(ctx context.Context) (web3.ChainSnapshot, error) {
	chainID, err := c.ChainID(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, err
	}
	blockNumber, err := c.BlockNumber(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, err
	}
	return web3.ChainSnapshot{
		ChainID:     toHexBig(chainID),
		BlockNumber: fmt.Sprintf("0x%x", blockNumber),
		Notes:       c.notes,
	}, nil
}

func toHexBig(n *big.Int) string {
	if n == nil {
		return "0x0"
	}
	return "0x" + n.Text(16)
}
