package orderlock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// keyPrefix 锁键前缀，按订单号隔离
const keyPrefix = "order:lock:"

// releaseScript 校验持有者令牌后删除，防止释放他人后续获得的锁
const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`

// Locker 基于 Redis 的按订单互斥锁。
// SET NX PX 获取；值为持有者令牌，释放时用 Lua 校验令牌。
// 锁过期后写入仍可能落库，调用方需保证写入幂等（更新集防回退）。
type Locker struct {
	rdb    goredis.UniversalClient
	ttl    time.Duration
	logger *zap.Logger
}

// NewLocker 创建订单锁。ttl<=0 时使用 30s。
func NewLocker(rdb goredis.UniversalClient, ttl time.Duration, logger *zap.Logger) *Locker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Locker{rdb: rdb, ttl: ttl, logger: logger}
}

// Handle 已获取锁的句柄，释放时校验令牌。
type Handle struct {
	key   string
	token string
	rdb   goredis.UniversalClient
}

// TryAcquire 尝试获取订单锁，不等待不重试。
// 返回 (nil, nil) 表示锁被他人持有。
func (l *Locker) TryAcquire(ctx context.Context, orderNo string) (*Handle, error) {
	key := keyPrefix + orderNo
	token := uuid.NewString()

	ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire order lock: %w", err)
	}
	if !ok {
		l.logger.Debug("order lock contended", zap.String("order_no", orderNo))
		return nil, nil
	}
	return &Handle{key: key, token: token, rdb: l.rdb}, nil
}

// Release 释放锁。锁已过期或被他人持有时静默返回。
func (h *Handle) Release(ctx context.Context) error {
	if h == nil {
		return nil
	}
	return h.rdb.Eval(ctx, releaseScript, []string{h.key}, h.token).Err()
}
