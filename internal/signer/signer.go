// Package signer 提供交易签名能力的抽象，转账流水线只依赖 Signer 接口，
// 不接触私钥本身。
package signer

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer 表示一个可以为交易签名的凭证。
type Signer interface {
	Address() common.Address
	SignTx(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// KeySigner 使用进程内的 ECDSA 私钥签名。
type KeySigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

var _ Signer = (*KeySigner)(nil)

// NewKeySigner 从十六进制私钥（可带 0x 前缀）创建签名器。
func NewKeySigner(hexKey string) (*KeySigner, error) {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"), "0X")
	if trimmed == "" {
		return nil, errors.New("签名私钥为空")
	}
	key, err := crypto.HexToECDSA(trimmed)
	if err != nil {
		// 不回显私钥内容。
		return nil, errors.New("签名私钥格式无效")
	}
	return FromECDSA(key), nil
}

// FromECDSA 包装已有的私钥。
func FromECDSA(key *ecdsa.PrivateKey) *KeySigner {
	return &KeySigner{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

// Address 返回签名账户地址。
func (s *KeySigner) Address() common.Address {
	return s.address
}

// SignTx 使用与链 ID 匹配的最新签名规则签名交易。
func (s *KeySigner) SignTx(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if chainID == nil {
		return nil, errors.New("签名需要链 ID")
	}
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
	if err != nil {
		return nil, fmt.Errorf("交易签名失败: %w", err)
	}
	return signed, nil
}
