package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/codeisall/charge-broker/internal/storage/models"
)

// RecordStore 通知留痕存储
type RecordStore interface {
	AppendNotification(ctx context.Context, record *models.NotificationRecord) error
}

// Notifier 通知分发门面：渲染文案 → 去重 → 入队 → 落留痕。
// 对账路径只依赖本类型，推送的网络往返全部发生在队列 Worker 中。
type Notifier struct {
	queue     *EventQueue
	deduper   *Deduper
	templates *Templates
	records   RecordStore
	logger    *zap.Logger
	now       func() time.Time
}

// NewNotifier 组装通知门面。records 可为 nil（不留痕）。
func NewNotifier(queue *EventQueue, deduper *Deduper, templates *Templates, records RecordStore, logger *zap.Logger) *Notifier {
	if templates == nil {
		templates = DefaultTemplates()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		queue:     queue,
		deduper:   deduper,
		templates: templates,
		records:   records,
		logger:    logger,
		now:       time.Now,
	}
}

// NotifyStatusChange 状态变化通知。
// 去重边界：同一订单同一 (状态,子状态) 组合只通知一次。
func (n *Notifier) NotifyStatusChange(ctx context.Context, order *models.ChargeOrder) error {
	data := &StatusChangedData{
		Status:       int32(order.Status),
		StatusDesc:   order.Status.Desc(),
		ChargeStatus: int32(order.ChargeStatus),
		ChargeDesc:   order.ChargeStatus.Desc(),
		Message: Render(n.templates.StatusChanged, map[string]string{
			"orderNo":      order.OrderNo,
			"status":       order.Status.Desc(),
			"chargeStatus": order.ChargeStatus.Desc(),
		}),
	}

	dedupKey := fmt.Sprintf("s%d-c%d", order.Status, order.ChargeStatus)
	event := NewEvent(EventOrderStatusChanged, order.OrderNo, order.UserID, dedupKey, data.ToMap())
	return n.emit(ctx, order, event, true)
}

// NotifyProgress 充电进度通知。进度天然递增，不做去重。
func (n *Notifier) NotifyProgress(ctx context.Context, order *models.ChargeOrder, durationMinutes int) error {
	data := &ProgressData{
		DurationMinutes: durationMinutes,
		TotalPower:      order.TotalPower,
		TotalFee:        order.TotalFee,
		Soc:             order.Soc,
		Message: Render(n.templates.Progress, map[string]string{
			"orderNo":  order.OrderNo,
			"duration": fmt.Sprintf("%d", durationMinutes),
			"power":    fmt.Sprintf("%.2f", order.TotalPower),
			"fee":      fmt.Sprintf("%.2f", order.TotalFee),
		}),
	}

	dedupKey := fmt.Sprintf("p%d", n.now().UnixNano())
	event := NewEvent(EventChargingProgress, order.OrderNo, order.UserID, dedupKey, data.ToMap())
	return n.emit(ctx, order, event, false)
}

// NotifyCompletion 完成通知，每单恰好一次。
func (n *Notifier) NotifyCompletion(ctx context.Context, order *models.ChargeOrder) error {
	duration := order.ChargeDurationMinutes(n.now())
	endUnix := int64(0)
	if order.EndTime != nil {
		endUnix = order.EndTime.Unix()
	}

	data := &CompletedData{
		TotalPower:     order.TotalPower,
		ElectricityFee: order.ElectricityFee,
		ServiceFee:     order.ServiceFee,
		TotalFee:       order.TotalFee,
		DurationMin:    duration,
		EndTime:        endUnix,
		Message: Render(n.templates.Completed, map[string]string{
			"orderNo":  order.OrderNo,
			"duration": fmt.Sprintf("%d", duration),
			"power":    fmt.Sprintf("%.2f", order.TotalPower),
			"fee":      fmt.Sprintf("%.2f", order.TotalFee),
		}),
	}

	event := NewEvent(EventOrderCompleted, order.OrderNo, order.UserID, "completed", data.ToMap())
	return n.emit(ctx, order, event, true)
}

// NotifyFault 异常通知（孤儿单等），每单恰好一次。
func (n *Notifier) NotifyFault(ctx context.Context, order *models.ChargeOrder) error {
	reasonDesc := "未知原因"
	var reason int32
	if order.StopReason != nil {
		reason = int32(*order.StopReason)
		reasonDesc = order.StopReason.Desc()
	}

	data := &FaultData{
		StopReason: reason,
		ReasonDesc: reasonDesc,
		Message: Render(n.templates.Fault, map[string]string{
			"orderNo": order.OrderNo,
			"reason":  reasonDesc,
		}),
	}

	event := NewEvent(EventOrderFault, order.OrderNo, order.UserID, "fault", data.ToMap())
	return n.emit(ctx, order, event, true)
}

// emit 去重后入队并留痕
func (n *Notifier) emit(ctx context.Context, order *models.ChargeOrder, event *StandardEvent, dedup bool) error {
	if dedup && n.deduper != nil {
		isDup, err := n.deduper.IsDuplicate(ctx, event.EventID)
		if err != nil {
			// 去重失败时宁可重复通知，不可漏通知
			n.logger.Warn("dedup check failed, sending anyway",
				zap.String("event_id", event.EventID), zap.Error(err))
		} else if isDup {
			return nil
		}
	}

	if n.queue == nil {
		return nil
	}
	if err := n.queue.Enqueue(ctx, event); err != nil {
		return err
	}

	if n.records != nil {
		payload, _ := json.Marshal(event.Data)
		record := &models.NotificationRecord{
			UserID:    order.UserID,
			OrderNo:   order.OrderNo,
			EventKind: string(event.EventType),
			Payload:   payload,
			Success:   true,
		}
		if err := n.records.AppendNotification(ctx, record); err != nil {
			n.logger.Warn("append notification record failed",
				zap.String("order_no", order.OrderNo), zap.Error(err))
		}
	}
	return nil
}
