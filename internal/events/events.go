// Package events 发布已确认转账等领域事件。发布失败不会影响已上链的转账结果。
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// TransferConfirmed 在交易回执状态为成功后发布。
type TransferConfirmed struct {
	RequestID   string    `json:"request_id"`
	ChainID     string    `json:"chain_id"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	Value       string    `json:"value"`
	TxHash      string    `json:"tx_hash"`
	BlockNumber uint64    `json:"block_number"`
	GasUsed     uint64    `json:"gas_used"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}

// Publisher 将事件投递到外部消息系统。
type Publisher interface {
	PublishTransfer(ctx context.Context, event TransferConfirmed) error
	Close() error
}

func encode(event TransferConfirmed) ([]byte, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("序列化事件失败: %w", err)
	}
	return body, nil
}

// Nop 丢弃所有事件。
type Nop struct{}

// PublishTransfer 实现 Publisher。
func (Nop) PublishTransfer(context.Context, TransferConfirmed) error { return nil }

// Close 实现 Publisher。
func (Nop) Close() error { return nil }

// Memory 在内存中保存事件，供测试与本地调试使用。
type Memory struct {
	mu     sync.Mutex
	events []TransferConfirmed
}

// NewMemory 创建内存发布器。
func NewMemory() *Memory {
	return &Memory{}
}

// PublishTransfer 追加一条事件。
func (m *Memory) PublishTransfer(_ context.Context, event TransferConfirmed) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

// Transfers 返回已发布事件的副本。
func (m *Memory) Transfers() []TransferConfirmed {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TransferConfirmed, len(m.events))
	copy(out, m.events)
	return out
}

// Close 实现 Publisher。
func (m *Memory) Close() error { return nil }
