package notify

import (
	"fmt"
	"time"
)

// EventType 通知事件类型
type EventType string

const (
	// EventOrderStatusChanged 订单状态/子状态变化事件
	EventOrderStatusChanged EventType = "order.status_changed"

	// EventChargingProgress 充电进度事件（费用/电量推进）
	EventChargingProgress EventType = "charging.progress"

	// EventOrderCompleted 订单完成事件
	EventOrderCompleted EventType = "order.completed"

	// EventOrderFault 订单异常事件（孤儿单、平台故障）
	EventOrderFault EventType = "order.fault"
)

// StandardEvent 标准事件结构
type StandardEvent struct {
	// 基础字段
	EventID   string    `json:"event_id"`   // 事件唯一ID（用于去重）
	EventType EventType `json:"event_type"` // 事件类型
	OrderNo   string    `json:"order_no"`   // 本地订单号
	UserID    int64     `json:"user_id"`    // 用户ID
	Timestamp int64     `json:"timestamp"`  // 事件时间戳（Unix秒）
	Nonce     string    `json:"nonce"`      // 随机数（用于签名）

	// 业务数据
	Data map[string]interface{} `json:"data"` // 具体事件数据
}

// NewEvent 创建标准事件。
// EventID 由 类型+订单号+去重键 构成：同一订单的同类事件以 dedupKey 为幂等边界。
func NewEvent(eventType EventType, orderNo string, userID int64, dedupKey string, data map[string]interface{}) *StandardEvent {
	now := time.Now()
	return &StandardEvent{
		EventID:   fmt.Sprintf("%s-%s-%s", eventType, orderNo, dedupKey),
		EventType: eventType,
		OrderNo:   orderNo,
		UserID:    userID,
		Timestamp: now.Unix(),
		Nonce:     fmt.Sprintf("%08x", uint32(now.UnixNano())),
		Data:      data,
	}
}

// StatusChangedData 状态变化事件数据
type StatusChangedData struct {
	Status       int32  `json:"status"`
	StatusDesc   string `json:"status_desc"`
	ChargeStatus int32  `json:"charge_status"`
	ChargeDesc   string `json:"charge_desc"`
	Message      string `json:"message,omitempty"` // 模板渲染后的展示文案
}

func (d *StatusChangedData) ToMap() map[string]interface{} {
	m := map[string]interface{}{
		"status":        d.Status,
		"status_desc":   d.StatusDesc,
		"charge_status": d.ChargeStatus,
		"charge_desc":   d.ChargeDesc,
	}
	if d.Message != "" {
		m["message"] = d.Message
	}
	return m
}

// ProgressData 充电进度事件数据
type ProgressData struct {
	DurationMinutes int      `json:"duration_minutes"`
	TotalPower      float64  `json:"total_power"`
	TotalFee        float64  `json:"total_fee"`
	Soc             *float64 `json:"soc,omitempty"`
	Message         string   `json:"message,omitempty"`
}

func (d *ProgressData) ToMap() map[string]interface{} {
	m := map[string]interface{}{
		"duration_minutes": d.DurationMinutes,
		"total_power":      d.TotalPower,
		"total_fee":        d.TotalFee,
	}
	if d.Soc != nil {
		m["soc"] = *d.Soc
	}
	if d.Message != "" {
		m["message"] = d.Message
	}
	return m
}

// CompletedData 订单完成事件数据
type CompletedData struct {
	TotalPower     float64 `json:"total_power"`
	ElectricityFee float64 `json:"electricity_fee"`
	ServiceFee     float64 `json:"service_fee"`
	TotalFee       float64 `json:"total_fee"`
	DurationMin    int     `json:"duration_minutes"`
	EndTime        int64   `json:"end_time"`
	Message        string  `json:"message,omitempty"`
}

func (d *CompletedData) ToMap() map[string]interface{} {
	m := map[string]interface{}{
		"total_power":      d.TotalPower,
		"electricity_fee":  d.ElectricityFee,
		"service_fee":      d.ServiceFee,
		"total_fee":        d.TotalFee,
		"duration_minutes": d.DurationMin,
		"end_time":         d.EndTime,
	}
	if d.Message != "" {
		m["message"] = d.Message
	}
	return m
}

// FaultData 订单异常事件数据
type FaultData struct {
	StopReason int32  `json:"stop_reason"`
	ReasonDesc string `json:"reason_desc"`
	Message    string `json:"message,omitempty"`
}

func (d *FaultData) ToMap() map[string]interface{} {
	m := map[string]interface{}{
		"stop_reason": d.StopReason,
		"reason_desc": d.ReasonDesc,
	}
	if d.Message != "" {
		m["message"] = d.Message
	}
	return m
}
