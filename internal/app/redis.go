package app

import (
	"go.uber.org/zap"

	cfgpkg "github.com/codeisall/charge-broker/internal/config"
	redisstorage "github.com/codeisall/charge-broker/internal/storage/redis"
)

// NewRedisClient 创建Redis客户端（订单锁、令牌缓存、通知队列共用）
func NewRedisClient(cfg cfgpkg.RedisConfig, logger *zap.Logger) (*redisstorage.Client, error) {
	client, err := redisstorage.NewClient(cfg)
	if err != nil {
		return nil, err
	}

	logger.Info("redis client initialized",
		zap.String("addr", cfg.Addr),
		zap.Int("pool_size", cfg.PoolSize))
	return client, nil
}
