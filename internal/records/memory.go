package records

import (
	"context"
	"sync"
)

// MemoryStore 仅在内存中保留最近的记录。
type MemoryStore struct {
	mu      sync.RWMutex
	records []Record
}

// NewMemoryStore 创建内存存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Save 记录一次调用。
func (m *MemoryStore) Save(_ context.Context, record Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.push(record)
	return nil
}

func (m *MemoryStore) push(record Record) {
	m.records = append([]Record{record}, m.records...)
	if len(m.records) > maxInMemory {
		m.records = m.records[:maxInMemory]
	}
}

// ListLatest 返回最近的记录，按时间倒序排列。
func (m *MemoryStore) ListLatest(_ context.Context, limit int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.records) {
		limit = len(m.records)
	}
	results := make([]Record, limit)
	copy(results, m.records[:limit])
	return results, nil
}

// Close 实现 Store。
func (m *MemoryStore) Close() error { return nil }
