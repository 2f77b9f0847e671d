package reconcile

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/codeisall/charge-broker/internal/coremodel"
	"github.com/codeisall/charge-broker/internal/metrics"
	"github.com/codeisall/charge-broker/internal/orderlock"
	"github.com/codeisall/charge-broker/internal/storage"
	"github.com/codeisall/charge-broker/internal/storage/models"
)

// OrderStore 对账器需要的最小订单存储能力
type OrderStore interface {
	GetByOrderNo(ctx context.Context, orderNo string) (*models.ChargeOrder, error)
	ApplyUpdateGuarded(ctx context.Context, orderNo string, seenUpdatedAt time.Time, update *storage.OrderUpdate) error
}

// StopCommander 向平台下发停止充电指令
type StopCommander interface {
	StopCharge(ctx context.Context, platformOrderNo string) error
}

// Notifier 通知分发（异步投递，调用方只记录失败）
type Notifier interface {
	NotifyStatusChange(ctx context.Context, order *models.ChargeOrder) error
	NotifyProgress(ctx context.Context, order *models.ChargeOrder, durationMinutes int) error
	NotifyCompletion(ctx context.Context, order *models.ChargeOrder) error
}

// Reconciler 订单状态对账器：系统内唯一的订单自动写路径。
// 所有来源（推送/轮询/巡检/手动/用户查询）都经由 Reconcile 串行化到订单粒度。
type Reconciler struct {
	locker   *orderlock.Locker
	store    OrderStore
	stopper  StopCommander
	notifier Notifier
	metrics  *metrics.AppMetrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewReconciler 组装对账器。notifier/stopper 可为 nil（测试或降级场景）。
func NewReconciler(locker *orderlock.Locker, store OrderStore, stopper StopCommander, notifier Notifier, m *metrics.AppMetrics, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		locker:   locker,
		store:    store,
		stopper:  stopper,
		notifier: notifier,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

// Reconcile 用平台快照安全更新订单，返回是否实际落库。
//
// 流程：取锁 → 读订单 → 差分 → 单次写入 → 按标记分发通知 → 放锁。
// 任何一步失败统一返回 false，调用方视为“稍后再试”，下一轮推送/轮询/巡检会收敛。
func (r *Reconciler) Reconcile(ctx context.Context, orderNo string, snap *coremodel.StatusSnapshot, source string) bool {
	handle, err := r.locker.TryAcquire(ctx, orderNo)
	if err != nil {
		r.logger.Error("acquire order lock failed",
			zap.String("order_no", orderNo), zap.String("source", source), zap.Error(err))
		r.count(source, "error")
		return false
	}
	if handle == nil {
		// 他人正在对账，跳过本轮
		r.logger.Debug("order lock held by another source, skip",
			zap.String("order_no", orderNo), zap.String("source", source))
		if r.metrics != nil {
			r.metrics.LockContentionTotal.Inc()
		}
		r.count(source, "skipped")
		return false
	}
	defer func() {
		if err := handle.Release(ctx); err != nil {
			r.logger.Warn("release order lock failed",
				zap.String("order_no", orderNo), zap.Error(err))
		}
	}()

	order, err := r.store.GetByOrderNo(ctx, orderNo)
	if err != nil {
		r.logger.Warn("load order for reconcile failed",
			zap.String("order_no", orderNo), zap.String("source", source), zap.Error(err))
		r.count(source, "error")
		return false
	}

	update := BuildUpdateSet(order, snap, r.now())
	if !update.HasChanges() {
		r.count(source, "noop")
		return false
	}

	// 乐观校验兜底锁租约过期：若读取后订单已被他人写过，放弃本轮
	if err := r.store.ApplyUpdateGuarded(ctx, orderNo, order.UpdatedAt, &update.Update); err != nil {
		if errors.Is(err, storage.ErrStaleOrder) {
			r.logger.Warn("order changed during reconcile, drop update ⚠️",
				zap.String("order_no", orderNo), zap.String("source", source))
			r.count(source, "conflict")
			return false
		}
		r.logger.Error("persist order update failed",
			zap.String("order_no", orderNo), zap.String("source", source), zap.Error(err))
		r.count(source, "error")
		return false
	}

	r.logger.Info("order reconciled",
		zap.String("order_no", orderNo),
		zap.String("source", source),
		zap.Bool("status_changed", update.StatusChanged),
		zap.Bool("sub_status_changed", update.SubStatusChanged),
		zap.Bool("fee_changed", update.FeeChanged),
		zap.Bool("time_changed", update.TimeChanged),
		zap.Bool("should_auto_stop", update.ShouldAutoStop))

	r.dispatch(ctx, order, update)
	r.count(source, "applied")
	return true
}

// dispatch 按更新集标记分发通知与自动停止指令，均为尽力而为。
func (r *Reconciler) dispatch(ctx context.Context, before *models.ChargeOrder, update *UpdateSet) {
	orderNo := before.OrderNo

	completed := update.Update.Status != nil && *update.Update.Status == coremodel.OrderStatusCompleted

	if r.notifier != nil {
		// 三类通知统一携带落库后的最终数据
		after, err := r.store.GetByOrderNo(ctx, orderNo)
		if err != nil {
			r.logger.Warn("reload order for notify failed", zap.String("order_no", orderNo), zap.Error(err))
			after = nil
		}

		if after != nil {
			if update.StatusChanged || update.SubStatusChanged {
				if err := r.notifier.NotifyStatusChange(ctx, after); err != nil {
					r.logger.Warn("status change notify failed", zap.String("order_no", orderNo), zap.Error(err))
				}
			}

			if update.FeeChanged && after.Status == coremodel.OrderStatusCharging {
				duration := after.ChargeDurationMinutes(r.now())
				if err := r.notifier.NotifyProgress(ctx, after, duration); err != nil {
					r.logger.Warn("progress notify failed", zap.String("order_no", orderNo), zap.Error(err))
				}
			}

			if completed {
				if err := r.notifier.NotifyCompletion(ctx, after); err != nil {
					r.logger.Warn("completion notify failed", zap.String("order_no", orderNo), zap.Error(err))
				}
			}
		}
	}

	if update.ShouldAutoStop && r.stopper != nil {
		platformNo := ""
		if before.PlatformOrderNo != nil {
			platformNo = *before.PlatformOrderNo
		} else if update.Update.PlatformOrderNo != nil {
			platformNo = *update.Update.PlatformOrderNo
		}
		if platformNo == "" {
			r.logger.Warn("auto stop skipped, missing platform order no", zap.String("order_no", orderNo))
			return
		}

		// 失败不同步重试，下一轮轮询/巡检会再次检测到仍在充电
		if err := r.stopper.StopCharge(ctx, platformNo); err != nil {
			r.logger.Error("auto stop charge failed ⚠️",
				zap.String("order_no", orderNo),
				zap.String("platform_order_no", platformNo),
				zap.Error(err))
			return
		}
		if r.metrics != nil && before.StopCondition != nil {
			r.metrics.AutoStopTotal.WithLabelValues(before.StopCondition.String()).Inc()
		}
		r.logger.Info("auto stop issued ✅",
			zap.String("order_no", orderNo),
			zap.String("platform_order_no", platformNo))
	}
}

func (r *Reconciler) count(source, result string) {
	if r.metrics != nil {
		r.metrics.ReconcileTotal.WithLabelValues(source, result).Inc()
	}
}
