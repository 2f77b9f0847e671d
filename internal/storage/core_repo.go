package storage

import (
	"context"
	"errors"
	"time"

	"github.com/codeisall/charge-broker/internal/coremodel"
	"github.com/codeisall/charge-broker/internal/storage/models"
)

// ErrOrderNotFound 订单不存在
var ErrOrderNotFound = errors.New("storage: order not found")

// ErrStaleOrder 乐观校验失败：订单在读取之后已被其它写入者修改
var ErrStaleOrder = errors.New("storage: order modified concurrently")

// OrderUpdate 对账器产出的稀疏更新集。
// nil 字段表示不写该列；Apply 方按字段拼装 UPDATE，并统一刷新 updated_at。
type OrderUpdate struct {
	Status          *coremodel.OrderStatus
	ChargeStatus    *coremodel.ChargeStatus
	PlatformOrderNo *string
	StopReason      *coremodel.StopReason

	TotalPower     *float64
	ElectricityFee *float64
	ServiceFee     *float64
	TotalFee       *float64
	Soc            *float64

	StartTime *time.Time
	EndTime   *time.Time
}

// Empty 判断更新集是否为空（无需落库）
func (u *OrderUpdate) Empty() bool {
	return u.Status == nil && u.ChargeStatus == nil && u.PlatformOrderNo == nil &&
		u.StopReason == nil && u.TotalPower == nil && u.ElectricityFee == nil &&
		u.ServiceFee == nil && u.TotalFee == nil && u.Soc == nil &&
		u.StartTime == nil && u.EndTime == nil
}

// OrderRepo 面向订单对账核心的存储抽象。
// 约束：
// - 订单写入统一通过本接口，禁止上层直接写 SQL
// - 实现需要提供事务封装 WithTx，保证核心路径原子性
// - 接口必须保持 DB-agnostic（面向模型与基础类型）
type OrderRepo interface {
	// ---------- 事务 ----------
	// WithTx 在单个事务中执行 fn，fn 内使用 repo 执行的所有写入/读取都在同一事务中。
	// 实现应保证嵌套调用正确复用当前事务。
	WithTx(ctx context.Context, fn func(repo OrderRepo) error) error

	// ---------- 订单 ----------
	// CreateOrder 创建订单（调用方填充 OrderNo/UserID/ConnectorID/...）
	CreateOrder(ctx context.Context, order *models.ChargeOrder) error
	// GetByOrderNo 通过本地订单号查询，不存在返回 ErrOrderNotFound
	GetByOrderNo(ctx context.Context, orderNo string) (*models.ChargeOrder, error)
	// GetByPlatformOrderNo 通过平台订单号查询
	GetByPlatformOrderNo(ctx context.Context, platformOrderNo string) (*models.ChargeOrder, error)
	// GetActiveOrderByUser 获取用户当前进行中的订单（状态为已创建或充电中）
	GetActiveOrderByUser(ctx context.Context, userID int64) (*models.ChargeOrder, error)
	// GetActiveOrderByConnector 获取指定枪上进行中的订单
	GetActiveOrderByConnector(ctx context.Context, connectorID string) (*models.ChargeOrder, error)
	// ListOrdersByUser 用户历史订单，按创建时间倒序
	ListOrdersByUser(ctx context.Context, userID int64, limit, offset int) ([]models.ChargeOrder, error)

	// ApplyUpdate 按更新集稀疏更新订单，空更新集直接返回。
	// 每次写入同时刷新 updated_at。
	ApplyUpdate(ctx context.Context, orderNo string, update *OrderUpdate) error
	// ApplyUpdateGuarded 带乐观校验的稀疏更新：仅当 updated_at 仍等于
	// seenUpdatedAt 时写入生效，否则返回 ErrStaleOrder。分布式锁租约
	// 过期后旧持有者的迟到写入会在这里被拒绝。
	ApplyUpdateGuarded(ctx context.Context, orderNo string, seenUpdatedAt time.Time, update *OrderUpdate) error
	// MarkFailed 将订单标记为异常终态（平台侧订单丢失等场景）
	MarkFailed(ctx context.Context, orderNo string, reason coremodel.StopReason, endTime time.Time) error
	// BackfillEndTime 为缺失 end_time 的订单补写结束时间（仅当 end_time 为空时生效）
	BackfillEndTime(ctx context.Context, orderNo string, endTime time.Time) error

	// ---------- 通知留痕 ----------
	// AppendNotification 追加一条通知投递记录
	AppendNotification(ctx context.Context, record *models.NotificationRecord) error
}
