package reconcile

import (
	"time"

	"github.com/codeisall/charge-broker/internal/coremodel"
	"github.com/codeisall/charge-broker/internal/storage"
	"github.com/codeisall/charge-broker/internal/storage/models"
)

// subStatusToStatus 子状态 → 订单状态 的唯一映射表。
// 全局只允许此处定义，任何调用点不得自建 switch。
// 未知子状态不驱动订单状态变化。
var subStatusToStatus = map[coremodel.ChargeStatus]coremodel.OrderStatus{
	coremodel.ChargeStatusStarting: coremodel.OrderStatusCharging,
	coremodel.ChargeStatusCharging: coremodel.OrderStatusCharging,
	coremodel.ChargeStatusStopping: coremodel.OrderStatusCharging,
	coremodel.ChargeStatusFinished: coremodel.OrderStatusCompleted,
}

// UpdateSet 一次对账产出的稀疏更新与变化标记。
// 标记驱动持久化后的通知分发，不允许事后反查原始字段差异。
type UpdateSet struct {
	Update storage.OrderUpdate

	StatusChanged    bool // 订单状态前向迁移
	SubStatusChanged bool // 充电子状态变化
	FeeChanged       bool // 电量/费用累计变化
	TimeChanged      bool // 结束时间首次写入
	ReadingChanged   bool // SOC 读数变化

	// ShouldAutoStop 达到自动停止条件，持久化后需向平台下发停机
	ShouldAutoStop bool
}

// HasChanges 判断是否需要落库。
// 仅 SOC 读数变化不单独触发写入；一旦其它字段触发写入，已暂存的 SOC 一并落库。
func (u *UpdateSet) HasChanges() bool {
	return u.StatusChanged || u.SubStatusChanged || u.FeeChanged || u.TimeChanged
}

// stageIncrease 累计字段防回退暂存：快照值低于存量视为过期快照，静默忽略。
func stageIncrease(stored float64, snap *float64, dst **float64) bool {
	if snap == nil {
		return false
	}
	if *snap <= stored {
		return false
	}
	v := *snap
	*dst = &v
	return true
}

// BuildUpdateSet 纯函数：对比订单存量与平台快照，产出最小更新集。
//
// 规则：
//  1. 子状态有效且不同 → 暂存并标记
//  2. 子状态映射出的订单状态仅允许前向迁移
//  3. 累计字段（电量/电费/服务费/总费用）只增不减，回退视为过期快照
//  4. 结束时间首写不变
//  5. SOC 变化标记 ReadingChanged；快照带 SOC 读数时评估自动停止
//
// 终态订单冻结状态类变更，仅允许最终费用/时间修复。
func BuildUpdateSet(order *models.ChargeOrder, snap *coremodel.StatusSnapshot, now time.Time) *UpdateSet {
	u := &UpdateSet{}
	terminal := order.Status.Terminal()

	// 子状态
	if snap.ChargeStatus != nil && snap.ChargeStatus.Valid() && !terminal {
		ss := *snap.ChargeStatus
		if ss != coremodel.ChargeStatusUnknown && ss != order.ChargeStatus {
			u.Update.ChargeStatus = &ss
			u.SubStatusChanged = true
		}

		// 订单状态：仅前向迁移
		if target, ok := subStatusToStatus[ss]; ok && order.Status.CanAdvanceTo(target) {
			// 充电中订单必须有平台订单号
			hasPlatformNo := order.PlatformOrderNo != nil || snap.PlatformOrderNo != ""
			if target != coremodel.OrderStatusCharging || hasPlatformNo {
				t := target
				u.Update.Status = &t
				u.StatusChanged = true
			}
		}
	}

	// 平台订单号回填（启动确认后第一次快照携带）
	if snap.PlatformOrderNo != "" && order.PlatformOrderNo == nil {
		no := snap.PlatformOrderNo
		u.Update.PlatformOrderNo = &no
	}

	// 累计字段，防回退
	feeChanged := false
	feeChanged = stageIncrease(order.TotalPower, snap.TotalPower, &u.Update.TotalPower) || feeChanged
	feeChanged = stageIncrease(order.ElectricityFee, snap.ElectricityFee, &u.Update.ElectricityFee) || feeChanged
	feeChanged = stageIncrease(order.ServiceFee, snap.ServiceFee, &u.Update.ServiceFee) || feeChanged
	feeChanged = stageIncrease(order.TotalFee, snap.TotalFee, &u.Update.TotalFee) || feeChanged
	u.FeeChanged = feeChanged

	// 结束时间首写不变
	if snap.EndTime != nil && order.EndTime == nil {
		t := *snap.EndTime
		u.Update.EndTime = &t
		u.TimeChanged = true
	}

	// SOC 读数
	if snap.Soc != nil {
		if order.Soc == nil || *snap.Soc != *order.Soc {
			soc := *snap.Soc
			u.Update.Soc = &soc
			u.ReadingChanged = true
		}

		// 新读数到达时评估自动停止（终态或即将完成的订单不评估）
		completing := u.Update.Status != nil && *u.Update.Status != coremodel.OrderStatusCharging
		if !terminal && !completing {
			u.ShouldAutoStop = ShouldAutoStop(order, snap, now)
		}
	}

	return u
}
