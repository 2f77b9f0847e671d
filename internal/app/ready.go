package app

import "sync/atomic"

// Ready 就绪状态聚合：DB 与 Redis 都就绪后 /readyz 才返回 200
type Ready struct {
	db    atomic.Bool
	redis atomic.Bool
}

// NewReady 创建就绪聚合器
func NewReady() *Ready { return &Ready{} }

// SetDBReady 标记数据库就绪
func (r *Ready) SetDBReady(v bool) { r.db.Store(v) }

// SetRedisReady 标记Redis就绪
func (r *Ready) SetRedisReady(v bool) { r.redis.Store(v) }

// Ready 整体就绪判断
func (r *Ready) Ready() bool { return r.db.Load() && r.redis.Load() }
