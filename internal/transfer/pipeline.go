package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	xerrors "AIWeb3-Agents/internal/errors"
	"AIWeb3-Agents/internal/events"
	"AIWeb3-Agents/internal/lock"
	"AIWeb3-Agents/internal/observability/alerting"
	"AIWeb3-Agents/internal/observability/metrics"
	"AIWeb3-Agents/internal/policy"
	"AIWeb3-Agents/internal/signer"
	"AIWeb3-Agents/internal/web3"
	"AIWeb3-Agents/pkg/logger"
)

// Config 控制流水线的 gas 下限与各阶段超时。
type Config struct {
	MinGas          uint64
	SimulateTimeout time.Duration
	ConfirmTimeout  time.Duration
	PollInterval    time.Duration
}

func (c Config) withDefaults() Config {
	if c.MinGas == 0 {
		c.MinGas = 21000
	}
	if c.SimulateTimeout <= 0 {
		c.SimulateTimeout = 30 * time.Second
	}
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = 120 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	return c
}

// Pipeline 执行策略校验、模拟、签名提交与确认。
type Pipeline struct {
	client    web3.Client
	signer    signer.Signer
	policy    *policy.SpendPolicy
	cfg       Config
	locker    lock.Locker
	publisher events.Publisher
	alerter   alerting.Dispatcher
	log       *slog.Logger
}

// Option 定义可选配置。
type Option func(*Pipeline)

// WithConfig 覆盖默认的 gas 与超时参数。
func WithConfig(cfg Config) Option {
	return func(p *Pipeline) {
		p.cfg = cfg.withDefaults()
	}
}

// WithLocker 指定提交锁实现，默认使用进程内锁。
func WithLocker(l lock.Locker) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.locker = l
		}
	}
}

// WithPublisher 指定确认事件的发布器。
func WithPublisher(pub events.Publisher) Option {
	return func(p *Pipeline) {
		if pub != nil {
			p.publisher = pub
		}
	}
}

// WithAlertDispatcher 注入告警分发器。
func WithAlertDispatcher(d alerting.Dispatcher) Option {
	return func(p *Pipeline) {
		p.alerter = d
	}
}

// New 创建流水线。spend 为 nil 时不做任何限制。
func New(client web3.Client, s signer.Signer, spend *policy.SpendPolicy, opts ...Option) (*Pipeline, error) {
	if client == nil {
		return nil, xerrors.New(xerrors.CodeConfiguration, "转账流水线缺少链客户端")
	}
	if s == nil {
		return nil, xerrors.New(xerrors.CodeConfiguration, "转账流水线缺少签名器")
	}
	p := &Pipeline{
		client:    client,
		signer:    s,
		policy:    spend,
		cfg:       Config{}.withDefaults(),
		locker:    lock.NewLocal(),
		publisher: events.Nop{},
		log:       logger.Named("transfer"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if spend == nil {
		p.log.Warn("未配置支出策略，所有转账只受模拟结果约束")
	}
	return p, nil
}

// From 返回签名账户地址。
func (p *Pipeline) From() common.Address {
	return p.signer.Address()
}

// Policy 返回当前生效的支出策略。
func (p *Pipeline) Policy() *policy.SpendPolicy {
	return p.policy
}

// Simulate 以签名账户为 from 预估 gas。节点拒绝时返回 OK=false，不返回错误。
func (p *Pipeline) Simulate(ctx context.Context, to common.Address, value *uint256.Int, data []byte) SimulationResult {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.SimulateTimeout)
	defer cancel()

	msg := gethcore.CallMsg{
		From:  p.signer.Address(),
		To:    &to,
		Value: toBig(value),
		Data:  data,
	}
	gas, err := p.client.EstimateGas(ctx, msg)
	if err != nil {
		return SimulationResult{OK: false, Error: err.Error()}
	}
	return SimulationResult{OK: true, EstimatedGas: &gas}
}

// Send 依次执行策略校验、模拟、提交与确认。任一阶段失败即停止，
// 返回的 Result 记录到达的终态。
func (p *Pipeline) Send(ctx context.Context, req Request) (*Result, error) {
	res := &Result{RequestID: uuid.NewString(), State: StateRequested}
	value := req.Value
	if value == nil {
		value = new(uint256.Int)
	}
	log := p.log.With(
		slog.String("request_id", res.RequestID),
		slog.String("from", p.signer.Address().Hex()),
		slog.String("to", req.To.Hex()),
		slog.String("value", value.Dec()),
	)
	log.Debug("收到转账请求")

	if err := p.policy.Evaluate(req.To.Hex(), value, req.MaxValueOverride); err != nil {
		return p.finish(ctx, log, res, StateRejected, req, err)
	}
	res.State = StatePolicyChecked

	res.Simulation = p.Simulate(ctx, req.To, value, req.Data)
	if !res.Simulation.OK {
		err := xerrors.New(xerrors.CodeSimulationFailed, res.Simulation.Error,
			xerrors.WithMetadata("simulation_error", res.Simulation.Error))
		return p.finish(ctx, log, res, StateSimulationFailed, req, err)
	}
	res.State = StateSimulated

	gas := *res.Simulation.EstimatedGas
	if gas < p.cfg.MinGas {
		gas = p.cfg.MinGas
	}
	if gas < req.GasFloor {
		gas = req.GasFloor
	}

	tx, err := p.submit(ctx, req, value, gas)
	if err != nil {
		return p.finish(ctx, log, res, StateSubmissionFailed, req, err)
	}
	hash := tx.Hash()
	res.TxHash = &hash
	res.State = StateSubmitted
	log = log.With(slog.String("tx_hash", hash.Hex()))
	log.Info("交易已提交", slog.Uint64("nonce", tx.Nonce()), slog.Uint64("gas", tx.Gas()))

	waitCtx, cancel := context.WithTimeout(ctx, p.cfg.ConfirmTimeout)
	defer cancel()
	receipt, err := p.client.WaitMined(waitCtx, hash, p.cfg.PollInterval)
	if err != nil {
		code := xerrors.CodeSubmissionFailed
		if errors.Is(err, context.DeadlineExceeded) {
			code = xerrors.CodeTimeout
		}
		wrapped := xerrors.Wrap(code, err, "等待交易确认失败", xerrors.WithMetadata("tx_hash", hash.Hex()))
		return p.finish(ctx, log, res, StateSubmissionFailed, req, wrapped)
	}
	res.Receipt = receipt
	if receipt.Status != types.ReceiptStatusSuccessful {
		err := xerrors.New(xerrors.CodeSubmissionFailed, "交易执行失败 (receipt status 0)",
			xerrors.WithMetadata("tx_hash", hash.Hex()),
			xerrors.WithMetadata("block_number", receipt.BlockNumber.String()),
		)
		return p.finish(ctx, log, res, StateSubmissionFailed, req, err)
	}

	res.State = StateConfirmed
	p.publishConfirmed(ctx, log, res, tx, value, req)
	return p.finish(ctx, log, res, StateConfirmed, req, nil)
}

// submit 在签名账户的锁内获取 nonce 与费用、签名并广播交易。
func (p *Pipeline) submit(ctx context.Context, req Request, value *uint256.Int, gas uint64) (*types.Transaction, error) {
	from := p.signer.Address()
	release, err := p.locker.Acquire(ctx, strings.ToLower(from.Hex()))
	if err != nil {
		return nil, submissionError("获取签名账户锁失败", err)
	}
	defer release()

	chainID, err := p.client.ChainID(ctx)
	if err != nil {
		return nil, submissionError("获取链 ID 失败", err)
	}
	nonce, err := p.client.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, submissionError("获取 nonce 失败", err)
	}
	fees, err := p.client.SuggestFees(ctx)
	if err != nil {
		return nil, submissionError("获取 gas 费用失败", err)
	}

	to := req.To
	var unsigned *types.Transaction
	if fees.Legacy() {
		unsigned = types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			GasPrice: fees.GasPrice,
			Gas:      gas,
			To:       &to,
			Value:    toBig(value),
			Data:     req.Data,
		})
	} else {
		unsigned = types.NewTx(&types.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     nonce,
			GasTipCap: fees.GasTipCap,
			GasFeeCap: fees.GasFeeCap,
			Gas:       gas,
			To:        &to,
			Value:     toBig(value),
			Data:      req.Data,
		})
	}

	signed, err := p.signer.SignTx(ctx, unsigned, chainID)
	if err != nil {
		return nil, submissionError("交易签名失败", err)
	}
	if err := p.client.SendTransaction(ctx, signed); err != nil {
		return nil, submissionError("广播交易失败", err)
	}
	return signed, nil
}

func submissionError(message string, err error) error {
	code := xerrors.CodeSubmissionFailed
	if errors.Is(err, context.DeadlineExceeded) {
		code = xerrors.CodeTimeout
	}
	return xerrors.Wrap(code, err, message)
}

// publishConfirmed 发布确认事件，链 ID 取自已签名交易，不再查询节点。
func (p *Pipeline) publishConfirmed(ctx context.Context, log *slog.Logger, res *Result, tx *types.Transaction, value *uint256.Int, req Request) {
	event := events.TransferConfirmed{
		RequestID:   res.RequestID,
		From:        p.signer.Address().Hex(),
		To:          req.To.Hex(),
		Value:       value.Dec(),
		TxHash:      res.TxHash.Hex(),
		BlockNumber: res.Receipt.BlockNumber.Uint64(),
		GasUsed:     res.Receipt.GasUsed,
		ConfirmedAt: time.Now().UTC(),
	}
	if chainID := tx.ChainId(); chainID != nil && chainID.Sign() > 0 {
		event.ChainID = chainID.String()
	}
	if err := p.publisher.PublishTransfer(ctx, event); err != nil {
		wrapped := xerrors.Wrap(xerrors.CodePublishFailure, err, "发布转账确认事件失败")
		log.Warn("发布转账确认事件失败", slog.Any("error", wrapped))
		p.emitAlert(ctx, res.RequestID, wrapped)
	}
}

// finish 记录终态：日志、审计、指标与告警。
func (p *Pipeline) finish(ctx context.Context, log *slog.Logger, res *Result, state State, req Request, err error) (*Result, error) {
	res.State = state
	metrics.ObserveTransfer(string(state))

	attrs := []any{
		slog.String("request_id", res.RequestID),
		slog.String("state", string(state)),
		slog.String("from", p.signer.Address().Hex()),
		slog.String("to", req.To.Hex()),
	}
	if req.Value != nil {
		attrs = append(attrs, slog.String("value", req.Value.Dec()))
	}
	if res.TxHash != nil {
		attrs = append(attrs, slog.String("tx_hash", res.TxHash.Hex()))
	}

	if err != nil {
		attrs = append(attrs, slog.String("code", string(xerrors.CodeOf(err))), slog.String("error", err.Error()))
		if reason := policy.ReasonOf(err); reason != "" {
			attrs = append(attrs, slog.String("reason", string(reason)))
		}
		log.Warn("转账未完成", slog.String("state", string(state)), slog.Any("error", err))
		logger.Audit().Warn("transfer", attrs...)
		if xerrors.ShouldAlert(err) {
			p.emitAlert(ctx, res.RequestID, err)
		}
		return res, err
	}

	log.Info("转账已确认", slog.Uint64("block_number", res.Receipt.BlockNumber.Uint64()))
	logger.Audit().Info("transfer", attrs...)
	return res, nil
}

func (p *Pipeline) emitAlert(ctx context.Context, requestID string, err error) {
	if p.alerter == nil {
		return
	}
	event := alerting.FromError(err, requestID, "transfer")
	if notifyErr := p.alerter.Notify(context.WithoutCancel(ctx), event); notifyErr != nil {
		p.log.Error("告警通知失败", slog.Any("error", notifyErr), slog.String("request_id", requestID))
	}
}

func toBig(v *uint256.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v.ToBig()
}

// String 便于日志输出。
func (r SimulationResult) String() string {
	if r.OK && r.EstimatedGas != nil {
		return fmt.Sprintf("ok gas=%d", *r.EstimatedGas)
	}
	return "failed: " + r.Error
}
