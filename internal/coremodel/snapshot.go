package coremodel

import "time"

// StatusSnapshot 平台侧充电会话的一次观测
// 由推送或查询获得，字段全部可缺省；同一订单的多个快照可能乱序到达，
// 快照本身不落库，只作为对账输入。
type StatusSnapshot struct {
	PlatformOrderNo string

	// ChargeStatus 平台子状态；nil 表示本次观测未携带
	ChargeStatus *ChargeStatus

	// 电气遥测
	VoltageV *float64 // 电压 (V)
	CurrentA *float64 // 电流 (A)
	Soc      *float64 // 电池电量百分比

	// 累计量：充电中单调不减，出现回退视为陈旧快照
	TotalPower     *float64 // 累计电量 (kWh)
	ElectricityFee *float64 // 电费 (元)
	ServiceFee     *float64 // 服务费 (元)
	TotalFee       *float64 // 总费用 (元)

	// EndTime 会话结束时间，仅结束类观测携带
	EndTime *time.Time
}

// HasReading 快照是否携带 SOC 读数
func (s *StatusSnapshot) HasReading() bool {
	return s != nil && s.Soc != nil
}
