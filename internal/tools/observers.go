package tools

import (
	"context"
	"encoding/json"
	"log/slog"

	xerrors "AIWeb3-Agents/internal/errors"
	"AIWeb3-Agents/internal/observability/metrics"
	"AIWeb3-Agents/internal/records"
	"AIWeb3-Agents/pkg/logger"
)

// MetricsObserver 将调用计入 Prometheus 指标。
type MetricsObserver struct{}

// ObserveCall 实现 Observer。
func (MetricsObserver) ObserveCall(_ context.Context, call Call) {
	code := "OK"
	if call.Err != nil {
		code = string(xerrors.CodeOf(call.Err))
	}
	metrics.ObserveToolCall(call.Tool, code, call.FinishedAt.Sub(call.StartedAt))
}

// RecordObserver 把每次调用保存为结果记录。保存失败只记录日志，不影响调用结果。
type RecordObserver struct {
	Store records.Store
}

// WithRecorder 是 WithObserver(RecordObserver{Store: store}) 的简写。
func WithRecorder(store records.Store) Option {
	if store == nil {
		return nil
	}
	return WithObserver(RecordObserver{Store: store})
}

// ObserveCall 实现 Observer。
func (o RecordObserver) ObserveCall(ctx context.Context, call Call) {
	record := records.Record{
		ID:         call.ID,
		Tool:       call.Tool,
		StartedAt:  call.StartedAt,
		FinishedAt: call.FinishedAt,
	}
	if raw, err := json.Marshal(Redact(call.Args)); err == nil {
		record.Args = raw
	}
	if call.Err != nil {
		record.ErrorCode = string(xerrors.CodeOf(call.Err))
		record.Error = call.Err.Error()
	} else if call.Output != nil {
		if raw, err := json.Marshal(call.Output); err == nil {
			record.Output = raw
		}
	}
	if err := o.Store.Save(context.WithoutCancel(ctx), record); err != nil {
		logger.Named("tools").Error("保存调用记录失败",
			slog.String("call_id", call.ID),
			slog.Any("error", xerrors.Wrap(xerrors.CodeStorageFailure, err, "保存调用记录失败")),
		)
	}
}
