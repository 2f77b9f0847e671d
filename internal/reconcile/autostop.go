package reconcile

import (
	"time"

	"github.com/codeisall/charge-broker/internal/coremodel"
	"github.com/codeisall/charge-broker/internal/storage/models"
)

// ShouldAutoStop 判断订单是否已达到自动停止条件。
// 每个订单只评估创建时设定的那一个条件；未设定条件或仅手动停止时恒为 false。
func ShouldAutoStop(order *models.ChargeOrder, snap *coremodel.StatusSnapshot, now time.Time) bool {
	if order.StopCondition == nil {
		return false
	}

	switch *order.StopCondition {
	case coremodel.StopConditionTime:
		if order.TargetDuration == nil || order.StartTime == nil {
			return false
		}
		elapsed := now.Sub(*order.StartTime)
		return elapsed >= time.Duration(*order.TargetDuration)*time.Minute

	case coremodel.StopConditionSoc:
		if order.TargetSoc == nil || snap.Soc == nil {
			return false
		}
		return *snap.Soc >= *order.TargetSoc

	case coremodel.StopConditionAmount:
		if order.TargetAmount == nil {
			return false
		}
		// 以快照总费用为准，缺失时退回存量
		fee := order.TotalFee
		if snap.TotalFee != nil && *snap.TotalFee > fee {
			fee = *snap.TotalFee
		}
		return fee >= *order.TargetAmount

	default:
		// 仅手动停止
		return false
	}
}
