package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/codeisall/charge-broker/internal/api/middleware"
)

// RegisterRoutes 注册全部业务路由。
// 平台推送路由靠信封签名鉴权，不走API Key；订单与运营路由走API Key认证。
func RegisterRoutes(
	r *gin.Engine,
	orders *OrderHandler,
	webhook *WebhookHandler,
	admin *AdminHandler,
	authCfg middleware.AuthConfig,
	logger *zap.Logger,
) {
	if r == nil {
		return
	}

	r.Use(middleware.RequestID())

	// 平台推送（入站）
	if webhook != nil {
		push := r.Group("/platform")
		push.POST("/notification_equip_charge_status", webhook.ChargeStatus)
		push.POST("/notification_charge_order_info", webhook.ChargeResult)
		push.POST("/notification_stationStatus", webhook.ConnectorStatus)
	}

	api := r.Group("/api/v1")
	if authCfg.Enabled {
		api.Use(middleware.APIKeyAuth(authCfg, logger))
		logger.Info("api authentication enabled", zap.Int("api_keys_count", len(authCfg.APIKeys)))
	} else {
		logger.Warn("api authentication disabled - only for development!")
	}

	// 订单
	if orders != nil {
		api.POST("/orders", orders.StartCharge)
		api.POST("/orders/:order_no/stop", orders.StopCharge)
		api.GET("/orders/:order_no", orders.GetOrder)
		api.GET("/users/:user_id/orders/current", orders.CurrentOrder)
		api.GET("/users/:user_id/orders", orders.ListOrders)
	}

	// 运营
	if admin != nil {
		api.POST("/admin/consistency/sweep", admin.TriggerSweep)
		api.POST("/admin/orders/:order_no/check", admin.CheckOrder)
		api.GET("/admin/sync/stats", admin.SyncStats)
		api.GET("/admin/notify/dlq", admin.ListDLQ)
		api.DELETE("/admin/notify/dlq", admin.ClearDLQ)
	}

	logger.Info("routes registered")
}
