package lock

import (
	"context"
	"sync"
)

// Local 是进程内的按 key 互斥锁，适用于单进程部署。
type Local struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

var _ Locker = (*Local)(nil)

// NewLocal 创建进程内锁。
func NewLocal() *Local {
	return &Local{slots: make(map[string]chan struct{})}
}

func (l *Local) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[key] = ch
	}
	return ch
}

// Acquire 阻塞直到获得 key 对应的锁或 ctx 结束。
func (l *Local) Acquire(ctx context.Context, key string) (Release, error) {
	ch := l.slot(key)
	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() {
		once.Do(func() { <-ch })
	}, nil
}
