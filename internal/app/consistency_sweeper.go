package app

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	cfgpkg "github.com/codeisall/charge-broker/internal/config"
	"github.com/codeisall/charge-broker/internal/coremodel"
	"github.com/codeisall/charge-broker/internal/metrics"
	"github.com/codeisall/charge-broker/internal/platform"
	"github.com/codeisall/charge-broker/internal/reconcile"
	"github.com/codeisall/charge-broker/internal/storage/models"
	"github.com/codeisall/charge-broker/internal/storage/pg"
)

// SweepScanner 巡检所需的有界扫描能力
type SweepScanner interface {
	ListStuckStarting(ctx context.Context, threshold time.Time) ([]pg.OrderRef, error)
	ListStaleCharging(ctx context.Context, threshold time.Time, limit int) ([]pg.OrderRef, error)
	ListCompletedMissingEndTime(ctx context.Context, limit int) ([]pg.OrderRef, error)
}

// OrderFixer 巡检的订单修复能力。
// MarkFailed 是对账器之外唯一被许可的写路径：孤儿单没有快照可差分。
type OrderFixer interface {
	GetByOrderNo(ctx context.Context, orderNo string) (*models.ChargeOrder, error)
	MarkFailed(ctx context.Context, orderNo string, reason coremodel.StopReason, endTime time.Time) error
	BackfillEndTime(ctx context.Context, orderNo string, endTime time.Time) error
}

// FaultNotifier 异常通知
type FaultNotifier interface {
	NotifyFault(ctx context.Context, order *models.ChargeOrder) error
}

// ConsistencySweeper 一致性巡检器
// 推送和轮询对单个订单都可能静默失败，巡检是最后的自愈兜底：
// 卡单强查、陈旧抽检、结束时间回填，三项检查彼此独立、各自有界。
type ConsistencySweeper struct {
	scanner    SweepScanner
	fixer      OrderFixer
	gateway    StatusQuerier
	reconciler StatusReconciler
	notifier   FaultNotifier
	metrics    *metrics.AppMetrics
	logger     *zap.Logger

	interval   time.Duration // 巡检间隔
	stuckAfter time.Duration // 启动中判卡阈值
	staleAfter time.Duration // 充电中判陈旧阈值
	staleBatch int           // 陈旧抽检上限
	backfill   int           // 回填上限
	now        func() time.Time

	// 统计
	statsSweeps    atomic.Int64
	statsOrphans   atomic.Int64
	statsStale     atomic.Int64
	statsBackfills atomic.Int64
}

// NewConsistencySweeper 创建巡检器
func NewConsistencySweeper(scanner SweepScanner, fixer OrderFixer, gateway StatusQuerier, reconciler StatusReconciler, notifier FaultNotifier, cfg cfgpkg.SyncConfig, m *metrics.AppMetrics, logger *zap.Logger) *ConsistencySweeper {
	interval := cfg.SweepInterval
	if interval <= 0 {
		interval = time.Hour
	}
	stuckAfter := cfg.StuckAfter
	if stuckAfter <= 0 {
		stuckAfter = 2 * time.Hour
	}
	staleAfter := cfg.StaleAfter
	if staleAfter <= 0 {
		staleAfter = 10 * time.Minute
	}
	staleBatch := cfg.StaleBatch
	if staleBatch <= 0 {
		staleBatch = 10
	}
	backfill := cfg.BackfillBatch
	if backfill <= 0 {
		backfill = 20
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConsistencySweeper{
		scanner:    scanner,
		fixer:      fixer,
		gateway:    gateway,
		reconciler: reconciler,
		notifier:   notifier,
		metrics:    m,
		logger:     logger,
		interval:   interval,
		stuckAfter: stuckAfter,
		staleAfter: staleAfter,
		staleBatch: staleBatch,
		backfill:   backfill,
		now:        time.Now,
	}
}

// Start 启动巡检循环，ctx 取消后退出
func (s *ConsistencySweeper) Start(ctx context.Context) {
	s.logger.Info("consistency sweeper started",
		zap.Duration("interval", s.interval),
		zap.Duration("stuck_after", s.stuckAfter),
		zap.Duration("stale_after", s.staleAfter))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("consistency sweeper stopped",
				zap.Int64("sweeps", s.statsSweeps.Load()),
				zap.Int64("orphans", s.statsOrphans.Load()),
				zap.Int64("stale_fixed", s.statsStale.Load()),
				zap.Int64("backfills", s.statsBackfills.Load()))
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce 执行一轮完整巡检（管理端点可直接调用）
func (s *ConsistencySweeper) RunOnce(ctx context.Context) {
	s.statsSweeps.Add(1)
	s.checkStuckStarting(ctx)
	s.checkStaleCharging(ctx)
	s.checkMissingEndTime(ctx)
}

// checkStuckStarting 卡单检查：长期停留在启动中的订单强制查询。
// 平台查无此单即为孤儿单，直接终结并通知用户。
func (s *ConsistencySweeper) checkStuckStarting(ctx context.Context) {
	threshold := s.now().Add(-s.stuckAfter)
	refs, err := s.scanner.ListStuckStarting(ctx, threshold)
	if err != nil {
		s.logger.Error("list stuck starting orders failed", zap.Error(err))
		return
	}

	for _, ref := range refs {
		s.count("stuck", "checked")

		if ref.PlatformOrderNo == nil {
			// 有充电中状态却无平台订单号：数据已破损，按孤儿处理
			s.handleOrphan(ctx, ref.OrderNo)
			continue
		}

		snap, err := s.gateway.QueryChargeStatus(ctx, *ref.PlatformOrderNo)
		if err != nil {
			if errors.Is(err, platform.ErrSessionNotFound) {
				s.handleOrphan(ctx, ref.OrderNo)
				continue
			}
			s.logger.Warn("force query stuck order failed",
				zap.String("order_no", ref.OrderNo), zap.Error(err))
			continue
		}

		if s.reconciler.Reconcile(ctx, ref.OrderNo, snap, reconcile.SourceConsistencyCheck) {
			s.count("stuck", "reconciled")
		}
	}
}

// handleOrphan 孤儿单处理：FAILED + 平台停止 + end_time=now + 异常通知
func (s *ConsistencySweeper) handleOrphan(ctx context.Context, orderNo string) {
	now := s.now()
	if err := s.fixer.MarkFailed(ctx, orderNo, coremodel.StopReasonPlatform, now); err != nil {
		s.logger.Error("mark orphan order failed", zap.String("order_no", orderNo), zap.Error(err))
		return
	}
	s.statsOrphans.Add(1)
	s.count("stuck", "orphan_failed")

	s.logger.Warn("⚠️ orphan order terminated",
		zap.String("order_no", orderNo),
		zap.Time("end_time", now))

	if s.notifier != nil {
		if order, err := s.fixer.GetByOrderNo(ctx, orderNo); err == nil {
			if err := s.notifier.NotifyFault(ctx, order); err != nil {
				s.logger.Warn("orphan fault notify failed", zap.String("order_no", orderNo), zap.Error(err))
			}
		}
	}
}

// checkStaleCharging 陈旧抽检：久未刷新的充电中订单重新对账
func (s *ConsistencySweeper) checkStaleCharging(ctx context.Context) {
	threshold := s.now().Add(-s.staleAfter)
	refs, err := s.scanner.ListStaleCharging(ctx, threshold, s.staleBatch)
	if err != nil {
		s.logger.Error("list stale charging orders failed", zap.Error(err))
		return
	}

	for _, ref := range refs {
		s.count("stale", "checked")
		if ref.PlatformOrderNo == nil {
			continue
		}

		snap, err := s.gateway.QueryChargeStatus(ctx, *ref.PlatformOrderNo)
		if err != nil {
			s.logger.Warn("query stale order failed",
				zap.String("order_no", ref.OrderNo), zap.Error(err))
			continue
		}

		if s.reconciler.Reconcile(ctx, ref.OrderNo, snap, reconcile.SourceInconsistencyFix) {
			s.statsStale.Add(1)
			s.count("stale", "reconciled")
		}
	}
}

// checkMissingEndTime 结束时间回填：已完成订单用最后一次有效信号兜底
func (s *ConsistencySweeper) checkMissingEndTime(ctx context.Context) {
	refs, err := s.scanner.ListCompletedMissingEndTime(ctx, s.backfill)
	if err != nil {
		s.logger.Error("list completed orders missing end time failed", zap.Error(err))
		return
	}

	for _, ref := range refs {
		if err := s.fixer.BackfillEndTime(ctx, ref.OrderNo, ref.UpdatedAt); err != nil {
			s.logger.Warn("backfill end time failed",
				zap.String("order_no", ref.OrderNo), zap.Error(err))
			continue
		}
		s.statsBackfills.Add(1)
		s.count("missing_end_time", "backfilled")
		s.logger.Info("end time backfilled",
			zap.String("order_no", ref.OrderNo),
			zap.Time("end_time", ref.UpdatedAt))
	}
}

// CheckSingleOrder 单订单手动巡检（运营端点同步调用）。
// 返回是否发生落库；孤儿单终结也计为已处理。
func (s *ConsistencySweeper) CheckSingleOrder(ctx context.Context, orderNo string) (bool, error) {
	order, err := s.fixer.GetByOrderNo(ctx, orderNo)
	if err != nil {
		return false, err
	}
	if order.PlatformOrderNo == nil {
		return false, nil
	}

	snap, err := s.gateway.QueryChargeStatus(ctx, *order.PlatformOrderNo)
	if err != nil {
		if errors.Is(err, platform.ErrSessionNotFound) && order.Status == coremodel.OrderStatusCharging {
			s.handleOrphan(ctx, orderNo)
			return true, nil
		}
		return false, err
	}

	return s.reconciler.Reconcile(ctx, orderNo, snap, reconcile.SourceManualCheck), nil
}

func (s *ConsistencySweeper) count(scenario, action string) {
	if s.metrics != nil {
		s.metrics.ConsistencyTotal.WithLabelValues(scenario, action).Inc()
	}
}

// Stats 运行统计（管理端点暴露）
func (s *ConsistencySweeper) Stats() map[string]interface{} {
	return map[string]interface{}{
		"sweeps":      s.statsSweeps.Load(),
		"orphans":     s.statsOrphans.Load(),
		"stale_fixed": s.statsStale.Load(),
		"backfills":   s.statsBackfills.Load(),
		"interval":    s.interval.String(),
	}
}
