package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/codeisall/charge-broker/internal/coremodel"
	"github.com/codeisall/charge-broker/internal/service"
	"github.com/codeisall/charge-broker/internal/storage"
	"github.com/codeisall/charge-broker/internal/storage/models"
)

// OrderCommands 订单处理器需要的业务能力
type OrderCommands interface {
	StartCharge(ctx context.Context, userID int64, connectorID, stationID string, target *service.StopTarget) (*models.ChargeOrder, error)
	StopCharge(ctx context.Context, userID int64, orderNo string) error
	GetChargeStatus(ctx context.Context, orderNo string) (*models.ChargeOrder, error)
	CurrentOrder(ctx context.Context, userID int64) (*models.ChargeOrder, error)
	ListOrders(ctx context.Context, userID int64, limit, offset int) ([]models.ChargeOrder, error)
}

// OrderHandler 充电订单API处理器
type OrderHandler struct {
	orders OrderCommands
	logger *zap.Logger
	now    func() time.Time
}

// NewOrderHandler 创建订单处理器
func NewOrderHandler(orders OrderCommands, logger *zap.Logger) *OrderHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderHandler{orders: orders, logger: logger, now: time.Now}
}

// StartChargeRequest 启动充电请求
type StartChargeRequest struct {
	UserID      int64  `json:"user_id" binding:"required,min=1"`
	ConnectorID string `json:"connector_id" binding:"required"`
	StationID   string `json:"station_id" binding:"required"`
	// 自动停止条件：1=按时长,2=按电量,3=按金额,4=仅手动（缺省为仅手动）
	StopCondition   int      `json:"stop_condition" binding:"omitempty,min=1,max=4"`
	DurationMinutes *int32   `json:"duration_minutes"`
	TargetSoc       *float64 `json:"target_soc"`
	TargetAmount    *float64 `json:"target_amount"`
}

// StopTarget 将请求转为自动停止目标，条件与目标值必须匹配
func (r *StartChargeRequest) StopTarget() (*service.StopTarget, error) {
	cond := coremodel.StopCondition(r.StopCondition)
	if r.StopCondition == 0 {
		cond = coremodel.StopConditionManual
	}
	switch cond {
	case coremodel.StopConditionTime:
		if r.DurationMinutes == nil || *r.DurationMinutes <= 0 {
			return nil, fmt.Errorf("按时长停止需要正的 duration_minutes")
		}
	case coremodel.StopConditionSoc:
		if r.TargetSoc == nil || *r.TargetSoc <= 0 || *r.TargetSoc > 100 {
			return nil, fmt.Errorf("按电量停止需要 (0,100] 范围内的 target_soc")
		}
	case coremodel.StopConditionAmount:
		if r.TargetAmount == nil || *r.TargetAmount <= 0 {
			return nil, fmt.Errorf("按金额停止需要正的 target_amount")
		}
	}
	return &service.StopTarget{
		Condition:       cond,
		DurationMinutes: r.DurationMinutes,
		TargetSoc:       r.TargetSoc,
		TargetAmount:    r.TargetAmount,
	}, nil
}

// StopChargeRequest 停止充电请求
type StopChargeRequest struct {
	UserID int64 `json:"user_id" binding:"required,min=1"`
}

// OrderView 订单对外视图
type OrderView struct {
	OrderNo          string     `json:"order_no"`
	PlatformOrderNo  string     `json:"platform_order_no,omitempty"`
	UserID           int64      `json:"user_id"`
	ConnectorID      string     `json:"connector_id"`
	StationID        string     `json:"station_id"`
	Status           int32      `json:"status"`
	StatusDesc       string     `json:"status_desc"`
	ChargeStatus     int32      `json:"charge_status"`
	ChargeStatusDesc string     `json:"charge_status_desc"`
	StopReasonDesc   string     `json:"stop_reason_desc,omitempty"`
	TotalPower       float64    `json:"total_power"`
	ElectricityFee   float64    `json:"electricity_fee"`
	ServiceFee       float64    `json:"service_fee"`
	TotalFee         float64    `json:"total_fee"`
	Soc              *float64   `json:"soc,omitempty"`
	StartTime        *time.Time `json:"start_time,omitempty"`
	EndTime          *time.Time `json:"end_time,omitempty"`
	DurationMinutes  int        `json:"duration_minutes"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func newOrderView(o *models.ChargeOrder, now time.Time) *OrderView {
	v := &OrderView{
		OrderNo:          o.OrderNo,
		UserID:           o.UserID,
		ConnectorID:      o.ConnectorID,
		StationID:        o.StationID,
		Status:           int32(o.Status),
		StatusDesc:       o.Status.Desc(),
		ChargeStatus:     int32(o.ChargeStatus),
		ChargeStatusDesc: o.ChargeStatus.Desc(),
		TotalPower:       o.TotalPower,
		ElectricityFee:   o.ElectricityFee,
		ServiceFee:       o.ServiceFee,
		TotalFee:         o.TotalFee,
		Soc:              o.Soc,
		StartTime:        o.StartTime,
		EndTime:          o.EndTime,
		DurationMinutes:  o.ChargeDurationMinutes(now),
		CreatedAt:        o.CreatedAt,
		UpdatedAt:        o.UpdatedAt,
	}
	if o.PlatformOrderNo != nil {
		v.PlatformOrderNo = *o.PlatformOrderNo
	}
	if o.StopReason != nil {
		v.StopReasonDesc = o.StopReason.Desc()
	}
	return v
}

// StartCharge 启动充电
// POST /api/v1/orders
func (h *OrderHandler) StartCharge(c *gin.Context) {
	ctx := c.Request.Context()

	var req StartChargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, fmt.Sprintf("无效的请求: %v", err))
		return
	}

	target, err := req.StopTarget()
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	order, err := h.orders.StartCharge(ctx, req.UserID, req.ConnectorID, req.StationID, target)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	respondOK(c, http.StatusCreated, newOrderView(order, h.now()))
}

// StopCharge 停止充电
// POST /api/v1/orders/:order_no/stop
func (h *OrderHandler) StopCharge(c *gin.Context) {
	ctx := c.Request.Context()
	orderNo := c.Param("order_no")

	var req StopChargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, fmt.Sprintf("无效的请求: %v", err))
		return
	}

	if err := h.orders.StopCharge(ctx, req.UserID, orderNo); err != nil {
		h.respondServiceError(c, err)
		return
	}

	respondOK(c, http.StatusOK, gin.H{"order_no": orderNo, "stopping": true})
}

// GetOrder 查询订单（活动订单会顺带向平台刷新一次状态）
// GET /api/v1/orders/:order_no
func (h *OrderHandler) GetOrder(c *gin.Context) {
	ctx := c.Request.Context()
	orderNo := c.Param("order_no")

	order, err := h.orders.GetChargeStatus(ctx, orderNo)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	respondOK(c, http.StatusOK, newOrderView(order, h.now()))
}

// CurrentOrder 查询用户当前活动订单
// GET /api/v1/users/:user_id/orders/current
func (h *OrderHandler) CurrentOrder(c *gin.Context) {
	ctx := c.Request.Context()
	userID, ok := h.parseUserID(c)
	if !ok {
		return
	}

	order, err := h.orders.CurrentOrder(ctx, userID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	respondOK(c, http.StatusOK, newOrderView(order, h.now()))
}

// ListOrders 查询用户历史订单
// GET /api/v1/users/:user_id/orders
func (h *OrderHandler) ListOrders(c *gin.Context) {
	ctx := c.Request.Context()
	userID, ok := h.parseUserID(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if offset < 0 {
		offset = 0
	}

	orders, err := h.orders.ListOrders(ctx, userID, limit, offset)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	now := h.now()
	views := make([]*OrderView, 0, len(orders))
	for i := range orders {
		views = append(views, newOrderView(&orders[i], now))
	}
	respondOK(c, http.StatusOK, gin.H{"orders": views, "count": len(views)})
}

func (h *OrderHandler) parseUserID(c *gin.Context) (int64, bool) {
	userID, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		respondError(c, http.StatusBadRequest, "无效的 user_id")
		return 0, false
	}
	return userID, true
}

// respondServiceError 业务错误 → HTTP 状态码
func (h *OrderHandler) respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, storage.ErrOrderNotFound):
		respondError(c, http.StatusNotFound, "订单不存在")
	case errors.Is(err, service.ErrActiveOrderExists):
		respondError(c, http.StatusConflict, "用户已有进行中的订单")
	case errors.Is(err, service.ErrConnectorBusy):
		respondError(c, http.StatusConflict, "充电枪被占用")
	case errors.Is(err, service.ErrOrderNotOwned):
		respondError(c, http.StatusForbidden, "订单不属于该用户")
	case errors.Is(err, service.ErrOrderNotActive):
		respondError(c, http.StatusConflict, "订单不在可停止状态")
	default:
		h.logger.Error("order api failed",
			zap.String("path", c.Request.URL.Path),
			zap.Error(err))
		respondError(c, http.StatusInternalServerError, "内部错误")
	}
}
