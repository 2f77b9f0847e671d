package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// 去重Key前缀
	dedupKeyPrefix = "notify:dedup"

	// DefaultDedupTTL 默认去重TTL（24小时）
	DefaultDedupTTL = 24 * time.Hour
)

// Deduper 去重器（基于Redis实现）。
// 完成/异常通知必须恰好一次触达用户，去重边界由事件ID决定。
type Deduper struct {
	redis  redis.UniversalClient
	logger *zap.Logger
	ttl    time.Duration
}

// NewDeduper 创建去重器
func NewDeduper(redisClient redis.UniversalClient, logger *zap.Logger, ttl time.Duration) *Deduper {
	if ttl == 0 {
		ttl = DefaultDedupTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deduper{
		redis:  redisClient,
		logger: logger,
		ttl:    ttl,
	}
}

// IsDuplicate 检查事件是否重复
// 返回true表示是重复事件，false表示首次出现
func (d *Deduper) IsDuplicate(ctx context.Context, eventID string) (bool, error) {
	if d == nil || d.redis == nil {
		return false, fmt.Errorf("deduper not initialized")
	}
	if eventID == "" {
		return false, fmt.Errorf("event_id is empty")
	}

	key := d.buildKey(eventID)

	// SetNX 原子判重：设置成功=首次出现
	success, err := d.redis.SetNX(ctx, key, "1", d.ttl).Result()
	if err != nil {
		d.logger.Error("dedup check failed",
			zap.String("event_id", eventID),
			zap.Error(err))
		return false, fmt.Errorf("redis setnx: %w", err)
	}

	isDup := !success
	if isDup {
		d.logger.Debug("duplicate event detected",
			zap.String("event_id", eventID))
	}
	return isDup, nil
}

// Delete 删除去重标记（用于测试或手动清理）
func (d *Deduper) Delete(ctx context.Context, eventID string) error {
	if d == nil || d.redis == nil {
		return fmt.Errorf("deduper not initialized")
	}
	if eventID == "" {
		return fmt.Errorf("event_id is empty")
	}
	return d.redis.Del(ctx, d.buildKey(eventID)).Err()
}

func (d *Deduper) buildKey(eventID string) string {
	return fmt.Sprintf("%s:%s", dedupKeyPrefix, eventID)
}
