package app

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	cfgpkg "github.com/codeisall/charge-broker/internal/config"
	"github.com/codeisall/charge-broker/internal/coremodel"
	"github.com/codeisall/charge-broker/internal/metrics"
	"github.com/codeisall/charge-broker/internal/reconcile"
	"github.com/codeisall/charge-broker/internal/storage/pg"
)

// ChargingScanner 轮询所需的有界扫描能力
type ChargingScanner interface {
	ListChargingOrders(ctx context.Context, limit int) ([]pg.OrderRef, error)
	CountChargingOrders(ctx context.Context) (int64, error)
}

// StatusQuerier 平台状态查询
type StatusQuerier interface {
	QueryChargeStatus(ctx context.Context, platformOrderNo string) (*coremodel.StatusSnapshot, error)
}

// StatusReconciler 对账入口
type StatusReconciler interface {
	Reconcile(ctx context.Context, orderNo string, snap *coremodel.StatusSnapshot, source string) bool
}

// StatusPoller 活跃订单轮询器
// 定期抽取一批充电中订单，逐个向平台查询并对账。
// 批量上限与出站限速共同约束对平台的请求压力。
type StatusPoller struct {
	scanner    ChargingScanner
	gateway    StatusQuerier
	reconciler StatusReconciler
	metrics    *metrics.AppMetrics
	logger     *zap.Logger

	interval time.Duration // 轮询间隔
	batch    int           // 单轮最多处理订单数
	limiter  *rate.Limiter // 出站请求限速

	// 统计
	statsRounds  atomic.Int64
	statsQueried atomic.Int64
	statsApplied atomic.Int64
	statsErrors  atomic.Int64
}

// NewStatusPoller 创建轮询器
func NewStatusPoller(scanner ChargingScanner, gateway StatusQuerier, reconciler StatusReconciler, cfg cfgpkg.SyncConfig, m *metrics.AppMetrics, logger *zap.Logger) *StatusPoller {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	batch := cfg.PollBatch
	if batch <= 0 {
		batch = 20
	}
	gap := cfg.RequestGap
	if gap <= 0 {
		gap = 100 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatusPoller{
		scanner:    scanner,
		gateway:    gateway,
		reconciler: reconciler,
		metrics:    m,
		logger:     logger,
		interval:   interval,
		batch:      batch,
		limiter:    rate.NewLimiter(rate.Every(gap), 1),
	}
}

// Start 启动轮询循环，ctx 取消后退出
func (p *StatusPoller) Start(ctx context.Context) {
	p.logger.Info("status poller started",
		zap.Duration("interval", p.interval),
		zap.Int("batch", p.batch))

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("status poller stopped",
				zap.Int64("rounds", p.statsRounds.Load()),
				zap.Int64("queried", p.statsQueried.Load()),
				zap.Int64("applied", p.statsApplied.Load()),
				zap.Int64("errors", p.statsErrors.Load()))
			return
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

// pollOnce 执行一轮轮询，单个订单失败不影响其余订单
func (p *StatusPoller) pollOnce(ctx context.Context) {
	p.statsRounds.Add(1)

	refs, err := p.scanner.ListChargingOrders(ctx, p.batch)
	if err != nil {
		p.statsErrors.Add(1)
		p.logger.Error("list charging orders failed", zap.Error(err))
		return
	}

	// 顺带刷新充电中订单数指标
	if p.metrics != nil {
		if n, err := p.scanner.CountChargingOrders(ctx); err == nil {
			p.metrics.ChargingOrdersGauge.Set(float64(n))
		}
	}

	if len(refs) == 0 {
		return
	}

	for _, ref := range refs {
		if ref.PlatformOrderNo == nil {
			continue
		}
		if err := p.limiter.Wait(ctx); err != nil {
			return
		}

		p.statsQueried.Add(1)
		snap, err := p.gateway.QueryChargeStatus(ctx, *ref.PlatformOrderNo)
		if err != nil {
			p.statsErrors.Add(1)
			p.logger.Warn("poll query failed",
				zap.String("order_no", ref.OrderNo),
				zap.String("platform_order_no", *ref.PlatformOrderNo),
				zap.Error(err))
			continue
		}

		if p.reconciler.Reconcile(ctx, ref.OrderNo, snap, reconcile.SourceScheduledSync) {
			p.statsApplied.Add(1)
		}
	}

	p.logger.Debug("poll round finished", zap.Int("orders", len(refs)))
}

// Stats 运行统计（管理端点暴露）
func (p *StatusPoller) Stats() map[string]interface{} {
	return map[string]interface{}{
		"rounds":   p.statsRounds.Load(),
		"queried":  p.statsQueried.Load(),
		"applied":  p.statsApplied.Load(),
		"errors":   p.statsErrors.Load(),
		"interval": p.interval.String(),
		"batch":    p.batch,
	}
}
