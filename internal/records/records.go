// Package records 保存工具调用的结果记录，这是系统唯一的持久化内容。
package records

import (
	"context"
	"encoding/json"
	"time"
)

// Record 描述一次已分发的工具调用。
type Record struct {
	ID         string          `json:"id"`
	Tool       string          `json:"tool"`
	Args       json.RawMessage `json:"args,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
	ErrorCode  string          `json:"error_code,omitempty"`
	Error      string          `json:"error,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
}

// Store 定义记录存储需要实现的能力。ListLatest 按时间倒序返回。
type Store interface {
	Save(ctx context.Context, record Record) error
	ListLatest(ctx context.Context, limit int) ([]Record, error)
	Close() error
}

// maxInMemory 为内存中保留的最近记录条数。
const maxInMemory = 512
