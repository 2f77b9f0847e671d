package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/codeisall/charge-broker/internal/coremodel"
	"github.com/codeisall/charge-broker/internal/metrics"
	"github.com/codeisall/charge-broker/internal/platform"
	"github.com/codeisall/charge-broker/internal/reconcile"
	"github.com/codeisall/charge-broker/internal/storage"
	"github.com/codeisall/charge-broker/internal/storage/models"
)

// 平台推送应答码，与出站调用的返回码约定一致
const (
	pushRetSuccess    = 0
	pushRetSigInvalid = 4001
	pushRetBadParam   = 4003
	pushRetNotFound   = 4004
)

// OrderLookup 推送处理器需要的订单检索能力
type OrderLookup interface {
	GetByPlatformOrderNo(ctx context.Context, platformOrderNo string) (*models.ChargeOrder, error)
	GetActiveOrderByConnector(ctx context.Context, connectorID string) (*models.ChargeOrder, error)
}

// WebhookHandler 平台推送处理器。
// 平台的状态推送与结算推送经解密验签后转为快照，统一走对账器落库；
// 推送处理器自身绝不直接写订单。
type WebhookHandler struct {
	key        string
	iv         string
	sigSecret  string
	operatorID string

	orders     OrderLookup
	reconciler StatusReconciler
	notifier   FaultNotifier
	metrics    *metrics.AppMetrics
	logger     *zap.Logger
}

// StatusReconciler 对账入口
type StatusReconciler interface {
	Reconcile(ctx context.Context, orderNo string, snap *coremodel.StatusSnapshot, source string) bool
}

// FaultNotifier 异常通知
type FaultNotifier interface {
	NotifyFault(ctx context.Context, order *models.ChargeOrder) error
}

// NewWebhookHandler 创建推送处理器，加解密参数沿用出站网关的配置
func NewWebhookHandler(gw *platform.Gateway, orders OrderLookup, reconciler StatusReconciler, notifier FaultNotifier, m *metrics.AppMetrics, logger *zap.Logger) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	key, iv, sigSecret, operatorID := gw.CryptoConfig()
	return &WebhookHandler{
		key:        key,
		iv:         iv,
		sigSecret:  sigSecret,
		operatorID: operatorID,
		orders:     orders,
		reconciler: reconciler,
		notifier:   notifier,
		metrics:    m,
		logger:     logger,
	}
}

// decode 验签并解密推送信封，失败时已写出应答
func (h *WebhookHandler) decode(c *gin.Context, kind string) ([]byte, bool) {
	var env platform.Envelope
	if err := c.ShouldBindJSON(&env); err != nil {
		h.count(kind, "bad_envelope")
		h.respond(c, pushRetBadParam, "无效的报文")
		return nil, false
	}

	if !platform.VerifyEnvelope(h.sigSecret, env.OperatorID, env.Data, env.TimeStamp, env.Seq, env.Sig) {
		h.count(kind, "sig_invalid")
		h.logger.Warn("push signature invalid",
			zap.String("kind", kind),
			zap.String("operator_id", env.OperatorID),
			zap.String("seq", env.Seq))
		h.respond(c, pushRetSigInvalid, "签名校验失败")
		return nil, false
	}

	plain, err := platform.DecryptData(env.Data, h.key, h.iv)
	if err != nil {
		h.count(kind, "decrypt_failed")
		h.respond(c, pushRetBadParam, "报文解密失败")
		return nil, false
	}
	return plain, true
}

func (h *WebhookHandler) respond(c *gin.Context, ret int, msg string) {
	c.JSON(http.StatusOK, platform.Response{Ret: ret, Msg: msg})
}

func (h *WebhookHandler) count(kind, result string) {
	if h.metrics != nil {
		h.metrics.WebhookReceivedTotal.WithLabelValues(kind, result).Inc()
	}
}

// ChargeStatus 充电状态推送
// POST /platform/notification_equip_charge_status
func (h *WebhookHandler) ChargeStatus(c *gin.Context) {
	const kind = "charge_status"
	plain, ok := h.decode(c, kind)
	if !ok {
		return
	}

	var push platform.ChargeStatusNotification
	if err := json.Unmarshal(plain, &push); err != nil || push.StartChargeSeq == "" {
		h.count(kind, "bad_body")
		h.respond(c, pushRetBadParam, "无效的推送体")
		return
	}

	h.reconcileSnapshot(c, kind, push.StartChargeSeq, push.Snapshot())
}

// ChargeResult 充电结束结算推送
// POST /platform/notification_charge_order_info
func (h *WebhookHandler) ChargeResult(c *gin.Context) {
	const kind = "charge_result"
	plain, ok := h.decode(c, kind)
	if !ok {
		return
	}

	var push platform.ChargeResultNotification
	if err := json.Unmarshal(plain, &push); err != nil || push.StartChargeSeq == "" {
		h.count(kind, "bad_body")
		h.respond(c, pushRetBadParam, "无效的推送体")
		return
	}

	snap := push.Snapshot()
	if snap.EndTime == nil {
		// 结算推送缺结束时间时以接收时刻兜底
		now := time.Now()
		snap.EndTime = &now
	}
	h.reconcileSnapshot(c, kind, push.StartChargeSeq, snap)
}

// reconcileSnapshot 推送快照 → 对账器。
// 推送乱序、重复都交给对账器的差分规则吸收，这里只负责订单关联。
func (h *WebhookHandler) reconcileSnapshot(c *gin.Context, kind, platformOrderNo string, snap *coremodel.StatusSnapshot) {
	ctx := c.Request.Context()

	order, err := h.orders.GetByPlatformOrderNo(ctx, platformOrderNo)
	if err != nil {
		if errors.Is(err, storage.ErrOrderNotFound) {
			h.count(kind, "unknown_order")
			h.logger.Warn("push for unknown order",
				zap.String("kind", kind),
				zap.String("platform_order_no", platformOrderNo))
			h.respond(c, pushRetNotFound, "订单不存在")
			return
		}
		h.count(kind, "error")
		h.respond(c, pushRetBadParam, "订单查询失败")
		return
	}

	if h.reconciler.Reconcile(ctx, order.OrderNo, snap, reconcile.SourcePlatformPush) {
		h.count(kind, "applied")
	} else {
		h.count(kind, "noop")
	}
	h.respond(c, pushRetSuccess, "success")
}

// ConnectorStatus 枪状态变化推送。故障上报时通知受影响的活动订单用户。
// POST /platform/notification_stationStatus
func (h *WebhookHandler) ConnectorStatus(c *gin.Context) {
	const kind = "connector_status"
	plain, ok := h.decode(c, kind)
	if !ok {
		return
	}

	var push platform.ConnectorStatusNotification
	if err := json.Unmarshal(plain, &push); err != nil || push.ConnectorID == "" {
		h.count(kind, "bad_body")
		h.respond(c, pushRetBadParam, "无效的推送体")
		return
	}

	if !push.Faulted() {
		h.count(kind, "noop")
		h.respond(c, pushRetSuccess, "success")
		return
	}

	ctx := c.Request.Context()
	order, err := h.orders.GetActiveOrderByConnector(ctx, push.ConnectorID)
	if err != nil {
		if errors.Is(err, storage.ErrOrderNotFound) {
			// 枪上没有活动订单：无法关联本地订单的故障只留痕，不静默丢弃
			h.logger.Warn("connector fault without active order",
				zap.String("connector_id", push.ConnectorID),
				zap.Int("status", push.Status))
			h.count(kind, "uncorrelated")
			h.respond(c, pushRetSuccess, "success")
			return
		}
		h.logger.Error("lookup active order for fault push failed",
			zap.String("connector_id", push.ConnectorID),
			zap.Error(err))
		h.count(kind, "error")
		h.respond(c, pushRetBadParam, "订单查询失败")
		return
	}

	h.logger.Warn("⚠️ connector fault with active order",
		zap.String("connector_id", push.ConnectorID),
		zap.String("order_no", order.OrderNo))
	if h.notifier != nil {
		if err := h.notifier.NotifyFault(ctx, order); err != nil {
			h.logger.Warn("fault notify failed", zap.String("order_no", order.OrderNo), zap.Error(err))
		}
	}
	h.count(kind, "fault_notified")
	h.respond(c, pushRetSuccess, "success")
}
