package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"AIWeb3-Agents/pkg/logger"
)

// RedisConfig 描述分布式锁的连接参数。
type RedisConfig struct {
	Address   string
	Username  string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
	Retry     time.Duration
}

// Redis 使用 SET NX PX 实现跨进程的锁，释放时校验持有者令牌。
// TTL 需大于一次签名提交的耗时，否则锁可能在持有期间过期。
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	retry  time.Duration
}

var _ Locker = (*Redis)(nil)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// NewRedis 创建 Redis 锁并检查连通性。
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return NewRedisWithClient(client, cfg), nil
}

// NewRedisWithClient 使用已有客户端创建锁。
func NewRedisWithClient(client *redis.Client, cfg RedisConfig) *Redis {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	retry := cfg.Retry
	if retry <= 0 {
		retry = 50 * time.Millisecond
	}
	return &Redis{client: client, prefix: cfg.KeyPrefix, ttl: ttl, retry: retry}
}

// Acquire 轮询直到 SET NX 成功或 ctx 结束。
func (r *Redis) Acquire(ctx context.Context, key string) (Release, error) {
	redisKey := r.prefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(r.retry)
	defer ticker.Stop()

	for {
		ok, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
		if err != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("获取 Redis 锁失败: %w", err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, r.client, []string{redisKey}, token).Err(); err != nil {
				logger.Named("lock").Warn("释放 Redis 锁失败", "key", redisKey, "error", err)
			}
		})
	}, nil
}

// Close 关闭 Redis 连接。
func (r *Redis) Close() error {
	return r.client.Close()
}
