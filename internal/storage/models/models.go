package models

import (
	"time"

	"github.com/codeisall/charge-broker/internal/coremodel"
)

// 注意：
// - 保持与 db/migrations/ 下的迁移文件完全对齐
// - 不使用 gorm.Model，显式声明每个字段，避免隐式 DeletedAt

// ChargeOrder 映射 charge_orders 表（本地充电会话记录）
type ChargeOrder struct {
	// 主键
	ID int64 `gorm:"column:id;primaryKey;autoIncrement"`
	// 本地订单号，创建时生成
	OrderNo string `gorm:"column:order_no;type:text;not null;uniqueIndex"`
	// 平台订单号，启动确认后回填
	PlatformOrderNo *string `gorm:"column:platform_order_no;type:text;uniqueIndex"`

	UserID      int64  `gorm:"column:user_id;not null;index"`
	ConnectorID string `gorm:"column:connector_id;type:text;not null"`
	StationID   string `gorm:"column:station_id;type:text;not null"`

	// 订单状态：1-已创建，2-充电中，3-充电完成，4-已结算，5-已取消，6-异常
	Status coremodel.OrderStatus `gorm:"column:status;not null;index"`
	// 充电子状态：1-启动中，2-充电中，3-停止中，4-已结束，5-未知
	ChargeStatus coremodel.ChargeStatus `gorm:"column:charge_status;not null"`
	// 停止原因：0-用户，1-平台，2-BMS，3-故障，4-断开
	StopReason *coremodel.StopReason `gorm:"column:stop_reason"`

	// 累计量，充电中单调不减
	TotalPower     float64  `gorm:"column:total_power;not null;default:0"`
	ElectricityFee float64  `gorm:"column:electricity_fee;not null;default:0"`
	ServiceFee     float64  `gorm:"column:service_fee;not null;default:0"`
	TotalFee       float64  `gorm:"column:total_fee;not null;default:0"`
	Soc            *float64 `gorm:"column:soc"`

	StartTime *time.Time `gorm:"column:start_time"`
	// EndTime 一经写入不再变更
	EndTime *time.Time `gorm:"column:end_time"`

	// 自动停止目标（创建时设定，条件类型终生不变）
	StopCondition  *coremodel.StopCondition `gorm:"column:stop_condition"`
	TargetDuration *int32                   `gorm:"column:target_duration"` // 分钟
	TargetSoc      *float64                 `gorm:"column:target_soc"`
	TargetAmount   *float64                 `gorm:"column:target_amount"`

	// 审计字段
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime;index"`
}

func (ChargeOrder) TableName() string { return "charge_orders" }

// ChargeDurationMinutes 计算充电时长（分钟）
// 未结束的订单按 now 截止
func (o *ChargeOrder) ChargeDurationMinutes(now time.Time) int {
	if o.StartTime == nil {
		return 0
	}
	end := now
	if o.EndTime != nil {
		end = *o.EndTime
	}
	d := end.Sub(*o.StartTime)
	if d < 0 {
		return 0
	}
	return int(d.Minutes())
}

// NotificationRecord 映射 notification_records 表（已投递通知的留痕）
type NotificationRecord struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	UserID    int64     `gorm:"column:user_id;not null;index"`
	OrderNo   string    `gorm:"column:order_no;type:text;not null;index"`
	EventKind string    `gorm:"column:event_kind;type:text;not null"`
	Payload   []byte    `gorm:"column:payload"`
	Success   bool      `gorm:"column:success;not null;default:false"`
	LastError *string   `gorm:"column:last_error;type:text"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (NotificationRecord) TableName() string { return "notification_records" }
