package gormrepo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/codeisall/charge-broker/internal/coremodel"
	"github.com/codeisall/charge-broker/internal/storage"
	"github.com/codeisall/charge-broker/internal/storage/models"
)

// Repository 基于 GORM 的 OrderRepo 实现。
// 使用 isTx 标记区分事务上下文，避免嵌套事务重复 Begin/Commit。
type Repository struct {
	db   *gorm.DB
	isTx bool
}

// New 返回一个使用给定 *gorm.DB 的 OrderRepo 实例。
func New(db *gorm.DB) storage.OrderRepo {
	return &Repository{db: db}
}

// WithTx 复用现有事务或开启新事务执行 fn。
func (r *Repository) WithTx(ctx context.Context, fn func(storage.OrderRepo) error) error {
	if r.isTx {
		return fn(r)
	}

	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}

	child := &Repository{db: tx, isTx: true}
	if err := fn(child); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit().Error
}

// CreateOrder 创建订单记录。
func (r *Repository) CreateOrder(ctx context.Context, order *models.ChargeOrder) error {
	return r.db.WithContext(ctx).Create(order).Error
}

// GetByOrderNo 通过本地订单号查询。
func (r *Repository) GetByOrderNo(ctx context.Context, orderNo string) (*models.ChargeOrder, error) {
	var order models.ChargeOrder
	err := r.db.WithContext(ctx).
		Where("order_no = ?", orderNo).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

// GetByPlatformOrderNo 通过平台订单号查询。
func (r *Repository) GetByPlatformOrderNo(ctx context.Context, platformOrderNo string) (*models.ChargeOrder, error) {
	var order models.ChargeOrder
	err := r.db.WithContext(ctx).
		Where("platform_order_no = ?", platformOrderNo).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

// GetActiveOrderByUser 获取用户当前进行中的订单。
// 活动判定：状态为已创建或充电中。
func (r *Repository) GetActiveOrderByUser(ctx context.Context, userID int64) (*models.ChargeOrder, error) {
	var order models.ChargeOrder
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status IN ?", userID,
			[]coremodel.OrderStatus{coremodel.OrderStatusCreated, coremodel.OrderStatusCharging}).
		Order("created_at DESC").
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

// GetActiveOrderByConnector 获取指定枪上进行中的订单。
func (r *Repository) GetActiveOrderByConnector(ctx context.Context, connectorID string) (*models.ChargeOrder, error) {
	var order models.ChargeOrder
	err := r.db.WithContext(ctx).
		Where("connector_id = ? AND status IN ?", connectorID,
			[]coremodel.OrderStatus{coremodel.OrderStatusCreated, coremodel.OrderStatusCharging}).
		Order("created_at DESC").
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

// ListOrdersByUser 用户历史订单，按创建时间倒序。
func (r *Repository) ListOrdersByUser(ctx context.Context, userID int64, limit, offset int) ([]models.ChargeOrder, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var orders []models.ChargeOrder
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// ApplyUpdate 按更新集稀疏更新订单。
// 空更新集直接返回，避免无意义的 updated_at 抖动。
func (r *Repository) ApplyUpdate(ctx context.Context, orderNo string, update *storage.OrderUpdate) error {
	if update == nil || update.Empty() {
		return nil
	}

	result := r.db.WithContext(ctx).
		Model(&models.ChargeOrder{}).
		Where("order_no = ?", orderNo).
		Updates(buildAssign(update))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrOrderNotFound
	}
	return nil
}

// ApplyUpdateGuarded 带乐观校验的稀疏更新。WHERE 条件同时比对
// updated_at，锁租约过期后另一持有者先行写入时这里影响行数为 0。
func (r *Repository) ApplyUpdateGuarded(ctx context.Context, orderNo string, seenUpdatedAt time.Time, update *storage.OrderUpdate) error {
	if update == nil || update.Empty() {
		return nil
	}

	result := r.db.WithContext(ctx).
		Model(&models.ChargeOrder{}).
		Where("order_no = ? AND updated_at = ?", orderNo, seenUpdatedAt).
		Updates(buildAssign(update))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var n int64
		if err := r.db.WithContext(ctx).
			Model(&models.ChargeOrder{}).
			Where("order_no = ?", orderNo).
			Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return storage.ErrOrderNotFound
		}
		return storage.ErrStaleOrder
	}
	return nil
}

func buildAssign(update *storage.OrderUpdate) map[string]interface{} {
	assign := map[string]interface{}{
		"updated_at": time.Now(),
	}
	if update.Status != nil {
		assign["status"] = *update.Status
	}
	if update.ChargeStatus != nil {
		assign["charge_status"] = *update.ChargeStatus
	}
	if update.PlatformOrderNo != nil {
		assign["platform_order_no"] = *update.PlatformOrderNo
	}
	if update.StopReason != nil {
		assign["stop_reason"] = *update.StopReason
	}
	if update.TotalPower != nil {
		assign["total_power"] = *update.TotalPower
	}
	if update.ElectricityFee != nil {
		assign["electricity_fee"] = *update.ElectricityFee
	}
	if update.ServiceFee != nil {
		assign["service_fee"] = *update.ServiceFee
	}
	if update.TotalFee != nil {
		assign["total_fee"] = *update.TotalFee
	}
	if update.Soc != nil {
		assign["soc"] = *update.Soc
	}
	if update.StartTime != nil {
		assign["start_time"] = *update.StartTime
	}
	if update.EndTime != nil {
		assign["end_time"] = *update.EndTime
	}
	return assign
}

// MarkFailed 将订单标记为异常终态。
// end_time 仅在为空时写入，保持首写不变。
func (r *Repository) MarkFailed(ctx context.Context, orderNo string, reason coremodel.StopReason, endTime time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&models.ChargeOrder{}).
		Where("order_no = ?", orderNo).
		Updates(map[string]interface{}{
			"status":      coremodel.OrderStatusFailed,
			"stop_reason": reason,
			"end_time":    gorm.Expr("COALESCE(end_time, ?)", endTime),
			"updated_at":  time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrOrderNotFound
	}
	return nil
}

// BackfillEndTime 为缺失 end_time 的订单补写结束时间。
// 条件限定 end_time IS NULL，已有值不覆盖。
func (r *Repository) BackfillEndTime(ctx context.Context, orderNo string, endTime time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.ChargeOrder{}).
		Where("order_no = ? AND end_time IS NULL", orderNo).
		Updates(map[string]interface{}{
			"end_time":   endTime,
			"updated_at": time.Now(),
		}).Error
}

// AppendNotification 追加一条通知投递记录。
func (r *Repository) AppendNotification(ctx context.Context, record *models.NotificationRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}
