package chain

import (
	"context"
	"math/big"
	"testing"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	"github.com/holiman/uint256"

	xerrors "AIWeb3-Agents/internal/errors"
	"AIWeb3-Agents/internal/policy"
	"AIWeb3-Agents/internal/signer"
	"AIWeb3-Agents/internal/tools"
	"AIWeb3-Agents/internal/transfer"
	"AIWeb3-Agents/internal/web3"
	"AIWeb3-Agents/internal/web3/ethereum"
)

const denied = "0xBAD0000000000000000000000000000000000001"

type harness struct {
	registry *tools.Registry
	client   *ethereum.Client
	signer   *signer.KeySigner
	from     common.Address
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	s := signer.FromECDSA(key)
	funds, _ := new(big.Int).SetString("1000000000000000000", 10)

	backend := simulated.NewBackend(types.GenesisAlloc{s.Address(): {Balance: funds}})
	t.Cleanup(func() { _ = backend.Close() })

	done := make(chan struct{})
	t.Cleanup(func() { close(done) })
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				backend.Commit()
			}
		}
	}()

	client := ethereum.NewSimulatedClient(backend.Client())
	spend := policy.New(uint256.NewInt(1000), nil, []string{denied})
	p, err := transfer.New(client, s, spend, transfer.WithConfig(transfer.Config{PollInterval: 10 * time.Millisecond}))
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}

	r := tools.NewRegistry()
	Register(r, Deps{Client: client, Pipeline: p})
	return &harness{registry: r, client: client, signer: s, from: s.Address()}
}

func TestChainToolsEndToEnd(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	to := "0x00000000000000000000000000000000000000aa"

	sim, err := h.registry.Dispatch(ctx, SimulateTransfer, map[string]any{"to": to, "value": "500"})
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	result := sim.(transfer.SimulationResult)
	if !result.OK || *result.EstimatedGas != 21000 {
		t.Fatalf("unexpected simulation %+v", result)
	}

	out, err := h.registry.Dispatch(ctx, SendTransfer, map[string]any{"to": to, "value": float64(500)})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	receipt := out.(*types.Receipt)
	if receipt.Status != types.ReceiptStatusSuccessful {
		t.Fatalf("unexpected receipt status %d", receipt.Status)
	}

	bal, err := h.registry.Dispatch(ctx, "evm.get_balance", map[string]any{"address": to})
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if got := bal.(BalanceOutput); got.Balance != "500" {
		t.Fatalf("unexpected balance %+v", got)
	}

	own, err := h.registry.Dispatch(ctx, GetBalance, nil)
	if err != nil {
		t.Fatalf("own balance: %v", err)
	}
	if own.(BalanceOutput).Address != h.from.Hex() {
		t.Fatalf("default address should be the signer, got %+v", own)
	}

	snap, err := h.registry.Dispatch(ctx, Snapshot, nil)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.(web3.ChainSnapshot).ChainID != "0x539" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestSendTransferPolicyErrors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.registry.Dispatch(ctx, SendTransfer, map[string]any{"to": denied, "value": 500})
	if policy.ReasonOf(err) != policy.ReasonDenylisted {
		t.Fatalf("expected denylisted, got %v", err)
	}
	_, err = h.registry.Dispatch(ctx, "evm.send_transfer", map[string]any{
		"to":        "0x00000000000000000000000000000000000000aa",
		"value_wei": "1500",
	})
	if policy.ReasonOf(err) != policy.ReasonExceedsMax {
		t.Fatalf("expected exceeds_max, got %v", err)
	}
	_, err = h.registry.Dispatch(ctx, SendTransfer, map[string]any{"to": "0x1234", "value": 1})
	if xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected INVALID_ARGUMENT, got %v", err)
	}
}

// counterCreation deploys a minimal counter: count() returns slot 0,
// increment() adds one to it.
const counterCreation = "603480600b6000396000f3" +
	"60003560e01c806306661abd14601d5763d09de08a14602957600080fd" +
	"5b60005460005260206000f3" +
	"5b60005460010160005500"

func (h *harness) deploy(ctx context.Context, t *testing.T, code []byte) common.Address {
	t.Helper()
	nonce, err := h.client.PendingNonceAt(ctx, h.from)
	if err != nil {
		t.Fatalf("nonce: %v", err)
	}
	fees, err := h.client.SuggestFees(ctx)
	if err != nil {
		t.Fatalf("fees: %v", err)
	}
	chainID := big.NewInt(1337)
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: fees.GasTipCap,
		GasFeeCap: fees.GasFeeCap,
		Gas:       200000,
		Data:      code,
	})
	signed, err := h.signer.SignTx(ctx, tx, chainID)
	if err != nil {
		t.Fatalf("sign deploy: %v", err)
	}
	if err := h.client.SendTransaction(ctx, signed); err != nil {
		t.Fatalf("send deploy: %v", err)
	}
	receipt, err := h.client.WaitMined(ctx, signed.Hash(), 10*time.Millisecond)
	if err != nil {
		t.Fatalf("wait deploy: %v", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		t.Fatalf("deploy failed with status %d", receipt.Status)
	}
	return receipt.ContractAddress
}

func TestCounterIncrement(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	contract := h.deploy(ctx, t, common.FromHex(counterCreation))

	out, err := h.registry.Dispatch(ctx, CounterIncrement, map[string]any{"contract": contract.Hex()})
	if err != nil {
		t.Fatalf("increment: %v", err)
	}
	got := out.(CounterOutput)
	if got.Before != "0" || got.After != "1" {
		t.Fatalf("unexpected counter values %+v", got)
	}
	if got.Receipt == nil || got.Receipt.Status != types.ReceiptStatusSuccessful {
		t.Fatalf("unexpected receipt %+v", got.Receipt)
	}

	out, err = h.registry.Dispatch(ctx, CounterIncrement, map[string]any{"counter_address": contract.Hex()})
	if err != nil {
		t.Fatalf("second increment: %v", err)
	}
	if got := out.(CounterOutput); got.Before != "1" || got.After != "2" {
		t.Fatalf("unexpected counter values %+v", got)
	}
}

func TestCounterIncrementDeniedContract(t *testing.T) {
	h := newHarness(t)
	_, err := h.registry.Dispatch(context.Background(), CounterIncrement, map[string]any{"contract": denied})
	if policy.ReasonOf(err) != policy.ReasonDenylisted {
		t.Fatalf("expected denylisted, got %v", err)
	}
}

func TestPackMint(t *testing.T) {
	to := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	data, err := packMint(to, "ipfs://token/1")
	if err != nil {
		t.Fatalf("packMint: %v", err)
	}
	selector := crypto.Keccak256([]byte("safeMint(address,string)"))[:4]
	if common.Bytes2Hex(data[:4]) != common.Bytes2Hex(selector) {
		t.Fatalf("unexpected selector %x", data[:4])
	}
	args, err := erc721ABI.Methods["safeMint"].Inputs.Unpack(data[4:])
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if args[0].(common.Address) != to || args[1].(string) != "ipfs://token/1" {
		t.Fatalf("unexpected decoded args %v", args)
	}
}

type logStub struct {
	web3.Client
	head  uint64
	query gethcore.FilterQuery
	logs  []types.Log
}

func (s *logStub) BlockNumber(context.Context) (uint64, error) { return s.head, nil }

func (s *logStub) FilterLogs(_ context.Context, q gethcore.FilterQuery) ([]types.Log, error) {
	s.query = q
	return s.logs, nil
}

func transferLog(block uint64, from, to common.Address, value int64) types.Log {
	return types.Log{
		BlockNumber: block,
		Topics:      []common.Hash{transferTopic, common.BytesToHash(from.Bytes()), common.BytesToHash(to.Bytes())},
		Data:        common.LeftPadBytes(big.NewInt(value).Bytes(), 32),
	}
}

func TestQueryTransfersDefaultsAndLimit(t *testing.T) {
	from := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	to := common.HexToAddress("0x00000000000000000000000000000000000000b2")
	stub := &logStub{head: 10000}
	for i := 0; i < 60; i++ {
		stub.logs = append(stub.logs, transferLog(uint64(9000+i), from, to, int64(i+1)))
	}
	// ERC-721 风格的 Transfer 会被跳过。
	stub.logs = append([]types.Log{{Topics: []common.Hash{transferTopic, {}, {}, {}}}}, stub.logs...)

	deps := Deps{Client: stub, LogLookback: 5000, LogLimit: 50}
	in, err := decodeQuery(tools.Args{"token": "0x00000000000000000000000000000000000000cc"})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	raw, err := deps.queryTransfers(context.Background(), in)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	out := raw.(TransfersOutput)
	if out.FromBlock != 5000 || out.ToBlock != 10000 {
		t.Fatalf("unexpected range %d-%d", out.FromBlock, out.ToBlock)
	}
	if stub.query.FromBlock.Uint64() != 5000 || stub.query.Topics[0][0] != transferTopic {
		t.Fatalf("unexpected filter query %+v", stub.query)
	}
	if len(out.Transfers) != 50 || out.Total != 61 {
		t.Fatalf("expected 50 of 61 logs, got %d of %d", len(out.Transfers), out.Total)
	}
	first := out.Transfers[0]
	if first.From != from.Hex() || first.To != to.Hex() || first.Value != "1" {
		t.Fatalf("unexpected decoded transfer %+v", first)
	}

	if _, err := decodeQuery(tools.Args{"token": "0x00000000000000000000000000000000000000cc", "from_block": 10, "to_block": 5}); err == nil {
		t.Fatal("expected error for inverted range")
	}
}
