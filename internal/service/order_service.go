package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/codeisall/charge-broker/internal/coremodel"
	"github.com/codeisall/charge-broker/internal/reconcile"
	"github.com/codeisall/charge-broker/internal/storage"
	"github.com/codeisall/charge-broker/internal/storage/models"
)

var (
	// ErrActiveOrderExists 用户已有进行中的订单
	ErrActiveOrderExists = errors.New("service: user already has an active order")
	// ErrConnectorBusy 充电枪被其它订单占用
	ErrConnectorBusy = errors.New("service: connector occupied by another order")
	// ErrOrderNotOwned 订单不属于该用户
	ErrOrderNotOwned = errors.New("service: order does not belong to user")
	// ErrOrderNotActive 订单不在可停止状态
	ErrOrderNotActive = errors.New("service: order is not active")
)

// 平台枪状态：1空闲 2占用未充电 3占用充电中 4预约 255故障
const (
	connectorIdle  = 1
	connectorFault = 255
)

// PlatformGateway 订单服务需要的平台能力
type PlatformGateway interface {
	StartCharge(ctx context.Context, orderNo, connectorID string) (string, error)
	StopCharge(ctx context.Context, platformOrderNo string) error
	QueryChargeStatus(ctx context.Context, platformOrderNo string) (*coremodel.StatusSnapshot, error)
	QueryConnectorStatus(ctx context.Context, connectorID string) (int, error)
}

// StatusReconciler 对账入口
type StatusReconciler interface {
	Reconcile(ctx context.Context, orderNo string, snap *coremodel.StatusSnapshot, source string) bool
}

// StopTarget 自动停止目标
type StopTarget struct {
	Condition       coremodel.StopCondition
	DurationMinutes *int32
	TargetSoc       *float64
	TargetAmount    *float64
}

// OrderService 充电订单业务服务：启动、停止、查询。
// 订单状态的自动演进完全交给对账器，这里只负责用户动作与护栏校验。
type OrderService struct {
	repo       storage.OrderRepo
	gateway    PlatformGateway
	reconciler StatusReconciler
	logger     *zap.Logger
	now        func() time.Time
}

// NewOrderService 创建订单服务
func NewOrderService(repo storage.OrderRepo, gateway PlatformGateway, reconciler StatusReconciler, logger *zap.Logger) *OrderService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderService{
		repo:       repo,
		gateway:    gateway,
		reconciler: reconciler,
		logger:     logger,
		now:        time.Now,
	}
}

// GenerateOrderNo 生成本地订单号：CB + 日期 + uuid 前 12 位
func GenerateOrderNo(at time.Time) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("CB%s%s", at.Format("20060102150405"), id)
}

// StartCharge 启动充电。
// 护栏：同一用户同时只允许一个活动订单；同一枪同时只允许一个活动订单。
func (s *OrderService) StartCharge(ctx context.Context, userID int64, connectorID, stationID string, target *StopTarget) (*models.ChargeOrder, error) {
	if _, err := s.repo.GetActiveOrderByUser(ctx, userID); err == nil {
		return nil, ErrActiveOrderExists
	} else if !errors.Is(err, storage.ErrOrderNotFound) {
		return nil, fmt.Errorf("check active order: %w", err)
	}

	if _, err := s.repo.GetActiveOrderByConnector(ctx, connectorID); err == nil {
		return nil, ErrConnectorBusy
	} else if !errors.Is(err, storage.ErrOrderNotFound) {
		return nil, fmt.Errorf("check connector: %w", err)
	}

	// 启动前校验枪可用性（平台不可达时放行，由启动调用自身兜底）
	if status, err := s.gateway.QueryConnectorStatus(ctx, connectorID); err == nil {
		if status != connectorIdle {
			s.logger.Info("connector not idle",
				zap.String("connector_id", connectorID), zap.Int("status", status))
			return nil, ErrConnectorBusy
		}
	} else {
		s.logger.Warn("query connector status failed, proceeding",
			zap.String("connector_id", connectorID), zap.Error(err))
	}

	now := s.now()
	order := &models.ChargeOrder{
		OrderNo:      GenerateOrderNo(now),
		UserID:       userID,
		ConnectorID:  connectorID,
		StationID:    stationID,
		Status:       coremodel.OrderStatusCreated,
		ChargeStatus: coremodel.ChargeStatusStarting,
		StartTime:    &now,
	}
	if target != nil {
		cond := target.Condition
		order.StopCondition = &cond
		order.TargetDuration = target.DurationMinutes
		order.TargetSoc = target.TargetSoc
		order.TargetAmount = target.TargetAmount
	}

	if err := s.repo.CreateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	platformNo, err := s.gateway.StartCharge(ctx, order.OrderNo, connectorID)
	if err != nil {
		// 启动失败直接终结订单，避免留下永远卡在已创建的僵尸单
		s.logger.Error("platform start charge failed",
			zap.String("order_no", order.OrderNo),
			zap.String("connector_id", connectorID),
			zap.Error(err))
		if markErr := s.repo.MarkFailed(ctx, order.OrderNo, coremodel.StopReasonPlatform, s.now()); markErr != nil {
			s.logger.Error("mark order failed error", zap.String("order_no", order.OrderNo), zap.Error(markErr))
		}
		return nil, fmt.Errorf("start charge: %w", err)
	}

	status := coremodel.OrderStatusCharging
	update := &storage.OrderUpdate{
		Status:          &status,
		PlatformOrderNo: &platformNo,
	}
	if err := s.repo.ApplyUpdate(ctx, order.OrderNo, update); err != nil {
		return nil, fmt.Errorf("promote order to charging: %w", err)
	}

	s.logger.Info("charge started ✅",
		zap.String("order_no", order.OrderNo),
		zap.String("platform_order_no", platformNo),
		zap.String("connector_id", connectorID),
		zap.Int64("user_id", userID))

	return s.repo.GetByOrderNo(ctx, order.OrderNo)
}

// StopCharge 用户手动停止充电。
// 只下发停机指令并登记停止原因；终态推进由后续的推送/轮询对账完成。
func (s *OrderService) StopCharge(ctx context.Context, userID int64, orderNo string) error {
	order, err := s.repo.GetByOrderNo(ctx, orderNo)
	if err != nil {
		return err
	}
	if order.UserID != userID {
		return ErrOrderNotOwned
	}
	if order.Status != coremodel.OrderStatusCharging || order.PlatformOrderNo == nil {
		return ErrOrderNotActive
	}

	if err := s.gateway.StopCharge(ctx, *order.PlatformOrderNo); err != nil {
		return fmt.Errorf("stop charge: %w", err)
	}

	reason := coremodel.StopReasonUser
	sub := coremodel.ChargeStatusStopping
	update := &storage.OrderUpdate{
		StopReason:   &reason,
		ChargeStatus: &sub,
	}
	if err := s.repo.ApplyUpdate(ctx, orderNo, update); err != nil {
		s.logger.Warn("record stop reason failed", zap.String("order_no", orderNo), zap.Error(err))
	}

	s.logger.Info("stop charge requested",
		zap.String("order_no", orderNo),
		zap.Int64("user_id", userID))
	return nil
}

// GetChargeStatus 查询订单状态。
// 活动订单顺带向平台拉取最新快照并对账，让用户看到的总是新鲜数据。
func (s *OrderService) GetChargeStatus(ctx context.Context, orderNo string) (*models.ChargeOrder, error) {
	order, err := s.repo.GetByOrderNo(ctx, orderNo)
	if err != nil {
		return nil, err
	}

	if order.Status == coremodel.OrderStatusCharging && order.PlatformOrderNo != nil {
		snap, err := s.gateway.QueryChargeStatus(ctx, *order.PlatformOrderNo)
		if err != nil {
			// 平台暂不可用不阻塞查询，返回本地存量
			s.logger.Warn("query platform status failed, serving local state",
				zap.String("order_no", orderNo), zap.Error(err))
			return order, nil
		}
		if s.reconciler.Reconcile(ctx, orderNo, snap, reconcile.SourceUserQuery) {
			return s.repo.GetByOrderNo(ctx, orderNo)
		}
	}
	return order, nil
}

// CurrentOrder 用户当前进行中的订单
func (s *OrderService) CurrentOrder(ctx context.Context, userID int64) (*models.ChargeOrder, error) {
	return s.repo.GetActiveOrderByUser(ctx, userID)
}

// ListOrders 用户历史订单
func (s *OrderService) ListOrders(ctx context.Context, userID int64, limit, offset int) ([]models.ChargeOrder, error) {
	return s.repo.ListOrdersByUser(ctx, userID, limit, offset)
}
