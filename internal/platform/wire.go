package platform

// 平台互联报文结构。外层信封统一，业务体加密后放入 Data 字段。

// Envelope 请求/响应外层信封
type Envelope struct {
	OperatorID string `json:"OperatorID"`
	Data       string `json:"Data"` // AES 加密 + Base64 的业务体
	TimeStamp  string `json:"TimeStamp"`
	Seq        string `json:"Seq"`
	Sig        string `json:"Sig"`
}

// Response 平台统一响应
type Response struct {
	Ret  int    `json:"Ret"` // 0=成功
	Msg  string `json:"Msg"`
	Data string `json:"Data"` // 加密业务体
	Sig  string `json:"Sig"`
}

// 平台返回码
const (
	retSuccess       = 0
	retTokenExpired  = 4002
	retOrderNotFound = 4004
)

// tokenRequest query_token 业务体
type tokenRequest struct {
	OperatorID     string `json:"OperatorID"`
	OperatorSecret string `json:"OperatorSecret"`
}

// tokenResponse query_token 返回体
type tokenResponse struct {
	OperatorID  string `json:"OperatorID"`
	AccessToken string `json:"AccessToken"`
	TokenExpire int64  `json:"TokenAvailableTime"` // 秒
	FailReason  int    `json:"FailReason"`
}

// startChargeRequest query_start_charge 业务体
type startChargeRequest struct {
	StartChargeSeq string `json:"StartChargeSeq"` // 本地订单号
	ConnectorID    string `json:"ConnectorID"`
	QRCode         string `json:"QRCode,omitempty"`
}

// startChargeResponse query_start_charge 返回体
type startChargeResponse struct {
	StartChargeSeq     string `json:"StartChargeSeq"`
	StartChargeSeqStat int    `json:"StartChargeSeqStat"` // 充电订单状态
	ConnectorID        string `json:"ConnectorID"`
	SuccStat           int    `json:"SuccStat"` // 0=成功
	FailReason         int    `json:"FailReason"`
}

// stopChargeRequest query_stop_charge 业务体
type stopChargeRequest struct {
	StartChargeSeq string `json:"StartChargeSeq"` // 平台订单号
	ConnectorID    string `json:"ConnectorID,omitempty"`
}

// stopChargeResponse query_stop_charge 返回体
type stopChargeResponse struct {
	StartChargeSeq string `json:"StartChargeSeq"`
	SuccStat       int    `json:"SuccStat"`
	FailReason     int    `json:"FailReason"`
}

// statusQueryRequest query_equip_charge_status 业务体
type statusQueryRequest struct {
	StartChargeSeq string `json:"StartChargeSeq"` // 平台订单号
}

// statusQueryResponse query_equip_charge_status 返回体
// 推送接口复用同一结构，见 push.go
type statusQueryResponse = ChargeStatusNotification

// connectorStatusRequest query_station_status 业务体
type connectorStatusRequest struct {
	ConnectorID string `json:"ConnectorID"`
}

// connectorStatusResponse 枪状态返回体
type connectorStatusResponse struct {
	ConnectorID string `json:"ConnectorID"`
	Status      int    `json:"Status"` // 1空闲 2占用未充电 3占用充电中 4预约 255故障
	FailReason  int    `json:"FailReason"`
}

// policyRequest query_equip_business_policy 业务体
type policyRequest struct {
	EquipBizSeq string `json:"EquipBizSeq"`
	ConnectorID string `json:"ConnectorID"`
}

// PolicyInfo 计费策略段
type PolicyInfo struct {
	StartTime   string  `json:"StartTime"`   // HHmmss
	ElecPrice   float64 `json:"ElecPrice"`   // 电费单价
	SevicePrice float64 `json:"SevicePrice"` // 服务费单价
}

// policyResponse 计费策略返回体
type policyResponse struct {
	EquipBizSeq string       `json:"EquipBizSeq"`
	ConnectorID string       `json:"ConnectorID"`
	SumPeriod   int          `json:"SumPeriod"`
	PolicyInfos []PolicyInfo `json:"PolicyInfos"`
	FailReason  int          `json:"FailReason"`
}
