package platform

import (
	"time"

	"github.com/codeisall/charge-broker/internal/coremodel"
)

// 平台主动推送的业务体。外层信封与出站调用一致（AES 业务体 + HMAC 签名），
// 解密后按推送接口区分结构。供 webhook 处理器解析使用。

// ChargeStatusNotification 充电状态推送体。
// 字段与 query_equip_charge_status 的返回体完全一致，平台按相同结构推送。
type ChargeStatusNotification struct {
	StartChargeSeq     string   `json:"StartChargeSeq"`
	StartChargeSeqStat int      `json:"StartChargeSeqStat"` // 1启动中 2充电中 3停止中 4已结束 5未知
	ConnectorID        string   `json:"ConnectorID"`
	ConnectorStatus    int      `json:"ConnectorStatus"`
	CurrentA           *float64 `json:"CurrentA"` // 电流
	VoltageA           *float64 `json:"VoltageA"` // 电压
	Soc                *float64 `json:"Soc"`
	StartTime          string   `json:"StartTime"` // yyyy-MM-dd HH:mm:ss
	EndTime            string   `json:"EndTime"`
	TotalPower         *float64 `json:"TotalPower"`
	ElecMoney          *float64 `json:"ElecMoney"`   // 电费
	SeviceMoney        *float64 `json:"SeviceMoney"` // 服务费（平台侧拼写如此）
	TotalMoney         *float64 `json:"TotalMoney"`
	SumPeriod          int      `json:"SumPeriod"`
}

// Snapshot 将推送体转换为对账输入
func (n *ChargeStatusNotification) Snapshot() *coremodel.StatusSnapshot {
	return snapshotFromStatus(n)
}

// ChargeResultNotification 充电结束结算推送体
type ChargeResultNotification struct {
	StartChargeSeq string   `json:"StartChargeSeq"`
	ConnectorID    string   `json:"ConnectorID"`
	StartTime      string   `json:"StartTime"`
	EndTime        string   `json:"EndTime"`
	TotalPower     *float64 `json:"TotalPower"`
	ElecMoney      *float64 `json:"ElecMoney"`
	SeviceMoney    *float64 `json:"SeviceMoney"`
	TotalMoney     *float64 `json:"TotalMoney"`
	StopReason     int      `json:"StopReason"`
}

// Snapshot 结算推送体 → 终态快照（子状态固定为已结束）
func (n *ChargeResultNotification) Snapshot() *coremodel.StatusSnapshot {
	finished := coremodel.ChargeStatusFinished
	snap := &coremodel.StatusSnapshot{
		PlatformOrderNo: n.StartChargeSeq,
		ChargeStatus:    &finished,
		TotalPower:      n.TotalPower,
		ElectricityFee:  n.ElecMoney,
		ServiceFee:      n.SeviceMoney,
		TotalFee:        n.TotalMoney,
	}
	if n.EndTime != "" {
		if t, err := time.ParseInLocation(timeLayout, n.EndTime, time.Local); err == nil {
			snap.EndTime = &t
		}
	}
	return snap
}

// ConnectorStatusNotification 枪状态变化推送体
type ConnectorStatusNotification struct {
	ConnectorID string `json:"ConnectorID"`
	Status      int    `json:"Status"` // 1空闲 2占用未充电 3占用充电中 4预约 255故障
}

// Faulted 是否为故障上报
func (n *ConnectorStatusNotification) Faulted() bool {
	return n.Status == 255
}
