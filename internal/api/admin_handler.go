package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/codeisall/charge-broker/internal/storage"
)

// SweepRunner 一致性巡检的运营入口
type SweepRunner interface {
	RunOnce(ctx context.Context)
	CheckSingleOrder(ctx context.Context, orderNo string) (bool, error)
	Stats() map[string]interface{}
}

// PollerStats 轮询器运行统计
type PollerStats interface {
	Stats() map[string]interface{}
}

// QueueInspector 通知队列巡视能力
type QueueInspector interface {
	QueueLength(ctx context.Context) (int64, error)
	DLQLength(ctx context.Context) (int64, error)
	GetDLQEvents(ctx context.Context, start, stop int64) ([]string, error)
	ClearDLQ(ctx context.Context) error
}

// AdminHandler 运营管理API处理器
type AdminHandler struct {
	sweeper SweepRunner
	poller  PollerStats
	queue   QueueInspector
	logger  *zap.Logger
}

// NewAdminHandler 创建运营处理器，任一依赖可为 nil（对应能力未启用）
func NewAdminHandler(sweeper SweepRunner, poller PollerStats, queue QueueInspector, logger *zap.Logger) *AdminHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminHandler{sweeper: sweeper, poller: poller, queue: queue, logger: logger}
}

// TriggerSweep 手动触发一轮一致性巡检（同步执行）
// POST /api/v1/admin/consistency/sweep
func (h *AdminHandler) TriggerSweep(c *gin.Context) {
	if h.sweeper == nil {
		respondError(c, http.StatusServiceUnavailable, "巡检未启用")
		return
	}

	h.logger.Info("manual consistency sweep triggered",
		zap.String("remote_addr", c.ClientIP()))
	h.sweeper.RunOnce(c.Request.Context())

	respondOK(c, http.StatusOK, h.sweeper.Stats())
}

// CheckOrder 单订单手动对账
// POST /api/v1/admin/orders/:order_no/check
func (h *AdminHandler) CheckOrder(c *gin.Context) {
	if h.sweeper == nil {
		respondError(c, http.StatusServiceUnavailable, "巡检未启用")
		return
	}
	orderNo := c.Param("order_no")

	applied, err := h.sweeper.CheckSingleOrder(c.Request.Context(), orderNo)
	if err != nil {
		if errors.Is(err, storage.ErrOrderNotFound) {
			respondError(c, http.StatusNotFound, "订单不存在")
			return
		}
		h.logger.Error("manual order check failed",
			zap.String("order_no", orderNo), zap.Error(err))
		respondError(c, http.StatusInternalServerError, "对账失败")
		return
	}

	respondOK(c, http.StatusOK, gin.H{"order_no": orderNo, "applied": applied})
}

// SyncStats 同步链路的运行统计
// GET /api/v1/admin/sync/stats
func (h *AdminHandler) SyncStats(c *gin.Context) {
	ctx := c.Request.Context()
	stats := gin.H{}

	if h.poller != nil {
		stats["poller"] = h.poller.Stats()
	}
	if h.sweeper != nil {
		stats["sweeper"] = h.sweeper.Stats()
	}
	if h.queue != nil {
		queueLen, _ := h.queue.QueueLength(ctx)
		dlqLen, _ := h.queue.DLQLength(ctx)
		stats["notify"] = gin.H{"queue_length": queueLen, "dlq_length": dlqLen}
	}

	respondOK(c, http.StatusOK, stats)
}

// ListDLQ 查看通知死信
// GET /api/v1/admin/notify/dlq?limit=50
func (h *AdminHandler) ListDLQ(c *gin.Context) {
	if h.queue == nil {
		respondError(c, http.StatusServiceUnavailable, "通知队列未启用")
		return
	}

	limit, _ := strconv.ParseInt(c.DefaultQuery("limit", "50"), 10, 64)
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	events, err := h.queue.GetDLQEvents(c.Request.Context(), 0, limit-1)
	if err != nil {
		h.logger.Error("list dlq failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "死信查询失败")
		return
	}

	respondOK(c, http.StatusOK, gin.H{"events": events, "count": len(events)})
}

// ClearDLQ 清空通知死信（不可恢复的运营操作）
// DELETE /api/v1/admin/notify/dlq
func (h *AdminHandler) ClearDLQ(c *gin.Context) {
	if h.queue == nil {
		respondError(c, http.StatusServiceUnavailable, "通知队列未启用")
		return
	}

	if err := h.queue.ClearDLQ(c.Request.Context()); err != nil {
		h.logger.Error("clear dlq failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "死信清空失败")
		return
	}

	h.logger.Warn("notify dlq cleared", zap.String("remote_addr", c.ClientIP()))
	respondOK(c, http.StatusOK, gin.H{"cleared": true})
}
