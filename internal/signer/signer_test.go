package signer

import (
	"context"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

func TestKeySignerSignsForChain(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	hexKey := "0x" + common.Bytes2Hex(crypto.FromECDSA(key))

	s, err := NewKeySigner(hexKey)
	if err != nil {
		t.Fatalf("NewKeySigner: %v", err)
	}
	if s.Address() != crypto.PubkeyToAddress(key.PublicKey) {
		t.Fatalf("unexpected address %s", s.Address().Hex())
	}

	chainID := big.NewInt(1337)
	to := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Gas:       21000,
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(2),
		To:        &to,
		Value:     big.NewInt(10),
	})
	signed, err := s.SignTx(context.Background(), tx, chainID)
	if err != nil {
		t.Fatalf("SignTx: %v", err)
	}
	sender, err := types.Sender(types.LatestSignerForChainID(chainID), signed)
	if err != nil {
		t.Fatalf("recover sender: %v", err)
	}
	if sender != s.Address() {
		t.Fatalf("recovered %s, want %s", sender.Hex(), s.Address().Hex())
	}
}

func TestNewKeySignerRejectsGarbage(t *testing.T) {
	secret := "not-a-key-but-secret"
	_, err := NewKeySigner(secret)
	if err == nil {
		t.Fatal("expected error")
	}
	if strings.Contains(err.Error(), secret) {
		t.Fatal("error message leaks key material")
	}
	if _, err := NewKeySigner("  "); err == nil {
		t.Fatal("expected error for empty key")
	}
}
