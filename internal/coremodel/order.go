package coremodel

// OrderNo 本地订单号（创建时生成，全局稳定）
type OrderNo string

// PlatformOrderNo 电能平台分配的订单号（启动确认后才存在）
type PlatformOrderNo string

// OrderStatus 订单状态
// 与 charge_orders.status 列对齐，编码沿用平台对接约定
type OrderStatus int32

const (
	OrderStatusCreated   OrderStatus = 1 // 已创建，等待启动充电
	OrderStatusCharging  OrderStatus = 2 // 充电中
	OrderStatusCompleted OrderStatus = 3 // 充电完成，等待结算
	OrderStatusSettled   OrderStatus = 4 // 已结算
	OrderStatusCancelled OrderStatus = 5 // 已取消
	OrderStatusFailed    OrderStatus = 6 // 异常
)

// String 返回状态英文名（日志/指标用）
func (s OrderStatus) String() string {
	switch s {
	case OrderStatusCreated:
		return "created"
	case OrderStatusCharging:
		return "charging"
	case OrderStatusCompleted:
		return "completed"
	case OrderStatusSettled:
		return "settled"
	case OrderStatusCancelled:
		return "cancelled"
	case OrderStatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Desc 返回状态中文描述（面向用户的展示文案）
func (s OrderStatus) Desc() string {
	switch s {
	case OrderStatusCreated:
		return "已创建"
	case OrderStatusCharging:
		return "充电中"
	case OrderStatusCompleted:
		return "充电完成"
	case OrderStatusSettled:
		return "已结算"
	case OrderStatusCancelled:
		return "已取消"
	case OrderStatusFailed:
		return "异常"
	default:
		return "未知状态"
	}
}

// Terminal 终态订单冻结自动变更（仅允许最终费用/时间修复）
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusCompleted, OrderStatusSettled, OrderStatusCancelled, OrderStatusFailed:
		return true
	default:
		return false
	}
}

// rank 定义状态的前向顺序，状态只允许沿 rank 递增方向迁移
func (s OrderStatus) rank() int {
	switch s {
	case OrderStatusCreated:
		return 0
	case OrderStatusCharging:
		return 1
	case OrderStatusCompleted:
		return 2
	case OrderStatusSettled:
		return 3
	case OrderStatusCancelled, OrderStatusFailed:
		// 取消/异常与完成同层：一旦进入不再回退，也不互相迁移
		return 2
	default:
		return -1
	}
}

// CanAdvanceTo 判断 s -> next 是否为合法的前向迁移
// 任何组件都不允许让订单状态回退
func (s OrderStatus) CanAdvanceTo(next OrderStatus) bool {
	if s == next {
		return false
	}
	if s.Terminal() {
		return false
	}
	return next.rank() > s.rank()
}

// ChargeStatus 平台侧充电子状态（会话相位）
type ChargeStatus int32

const (
	ChargeStatusStarting ChargeStatus = 1 // 启动中
	ChargeStatusCharging ChargeStatus = 2 // 充电中
	ChargeStatusStopping ChargeStatus = 3 // 停止中
	ChargeStatusFinished ChargeStatus = 4 // 已结束
	ChargeStatusUnknown  ChargeStatus = 5 // 未知
)

// String 返回子状态英文名
func (s ChargeStatus) String() string {
	switch s {
	case ChargeStatusStarting:
		return "starting"
	case ChargeStatusCharging:
		return "charging"
	case ChargeStatusStopping:
		return "stopping"
	case ChargeStatusFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Desc 返回子状态中文描述
func (s ChargeStatus) Desc() string {
	switch s {
	case ChargeStatusStarting:
		return "启动中"
	case ChargeStatusCharging:
		return "充电中"
	case ChargeStatusStopping:
		return "停止中"
	case ChargeStatusFinished:
		return "已结束"
	default:
		return "未知"
	}
}

// Valid 校验子状态编码是否在平台定义范围内
func (s ChargeStatus) Valid() bool {
	return s >= ChargeStatusStarting && s <= ChargeStatusUnknown
}

// StopReason 停止原因
type StopReason int32

const (
	StopReasonUser       StopReason = 0 // 用户手动停止
	StopReasonPlatform   StopReason = 1 // 平台停止
	StopReasonBMS        StopReason = 2 // BMS 停止
	StopReasonFault      StopReason = 3 // 设备故障
	StopReasonDisconnect StopReason = 4 // 连接断开
)

// Desc 返回停止原因中文描述
func (r StopReason) Desc() string {
	switch r {
	case StopReasonUser:
		return "用户手动停止"
	case StopReasonPlatform:
		return "平台停止"
	case StopReasonBMS:
		return "BMS停止"
	case StopReasonFault:
		return "设备故障"
	case StopReasonDisconnect:
		return "连接断开"
	default:
		return "未知原因"
	}
}

// StopCondition 自动停止条件类型，订单创建时设定且终生不变
type StopCondition int32

const (
	StopConditionTime   StopCondition = 1 // 按时长
	StopConditionSoc    StopCondition = 2 // 按电量 (SOC)
	StopConditionAmount StopCondition = 3 // 按金额
	StopConditionManual StopCondition = 4 // 仅手动
)

// String 返回条件英文名
func (c StopCondition) String() string {
	switch c {
	case StopConditionTime:
		return "time"
	case StopConditionSoc:
		return "soc"
	case StopConditionAmount:
		return "amount"
	case StopConditionManual:
		return "manual"
	default:
		return "unknown"
	}
}
