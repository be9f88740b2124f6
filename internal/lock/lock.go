// Package lock 提供按签名凭证串行化 “取 nonce → 签名 → 提交” 的互斥锁。
package lock

import "context"

// Release 释放已获取的锁，可重复调用。
type Release func()

// Locker 按 key 获取互斥锁，等待期间响应 ctx 取消。
type Locker interface {
	Acquire(ctx context.Context, key string) (Release, error)
}
