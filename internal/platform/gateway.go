package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	cfgpkg "github.com/codeisall/charge-broker/internal/config"
	"github.com/codeisall/charge-broker/internal/coremodel"
	"github.com/codeisall/charge-broker/internal/metrics"
)

// ErrSessionNotFound 平台侧查无此充电会话（孤儿单判定依据）
var ErrSessionNotFound = errors.New("platform: session not found")

const (
	tokenCacheKey = "platform:access_token"
	timeLayout    = "2006-01-02 15:04:05"
)

// Gateway 电能平台网关：封装令牌获取、报文加解密与签名。
// 只读查询与启停指令都经此出站，网关本身无任何本地状态写入。
type Gateway struct {
	cfg     cfgpkg.PlatformConfig
	client  *http.Client
	redis   redis.UniversalClient
	metrics *metrics.AppMetrics
	logger  *zap.Logger
	seq     atomic.Uint64
}

// NewGateway 创建平台网关。redis 用于跨实例共享访问令牌。
func NewGateway(cfg cfgpkg.PlatformConfig, redisClient redis.UniversalClient, m *metrics.AppMetrics, logger *zap.Logger) *Gateway {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		cfg:     cfg,
		client:  &http.Client{Timeout: timeout},
		redis:   redisClient,
		metrics: m,
		logger:  logger,
	}
}

// CryptoConfig 返回报文加解密参数（Webhook 解密复用）
func (g *Gateway) CryptoConfig() (key, iv, sigSecret, operatorID string) {
	return g.cfg.DataSecret, g.cfg.DataSecretIV, g.cfg.SigSecret, g.cfg.OperatorID
}

// token 获取访问令牌，优先走 Redis 缓存
func (g *Gateway) token(ctx context.Context) (string, error) {
	if g.redis != nil {
		if cached, err := g.redis.Get(ctx, tokenCacheKey).Result(); err == nil && cached != "" {
			return cached, nil
		}
	}
	return g.refreshToken(ctx)
}

// refreshToken 调用 query_token 换取新令牌并写缓存
func (g *Gateway) refreshToken(ctx context.Context) (string, error) {
	req := &tokenRequest{
		OperatorID:     g.cfg.OperatorID,
		OperatorSecret: g.cfg.OperatorSecret,
	}

	var resp tokenResponse
	if err := g.post(ctx, "query_token", "", req, &resp); err != nil {
		return "", fmt.Errorf("query token: %w", err)
	}
	if resp.AccessToken == "" {
		return "", fmt.Errorf("query token: empty token, fail_reason=%d", resp.FailReason)
	}

	ttl := g.cfg.TokenTTL
	if resp.TokenExpire > 0 {
		// 提前 1 分钟过期，避开边界
		platformTTL := time.Duration(resp.TokenExpire)*time.Second - time.Minute
		if platformTTL > 0 && (ttl <= 0 || platformTTL < ttl) {
			ttl = platformTTL
		}
	}
	if ttl <= 0 {
		ttl = 25 * time.Minute
	}

	if g.redis != nil {
		if err := g.redis.Set(ctx, tokenCacheKey, resp.AccessToken, ttl).Err(); err != nil {
			g.logger.Warn("cache platform token failed", zap.Error(err))
		}
	}
	g.logger.Info("platform token refreshed", zap.Duration("ttl", ttl))
	return resp.AccessToken, nil
}

// invalidateToken 令牌失效时清缓存
func (g *Gateway) invalidateToken(ctx context.Context) {
	if g.redis != nil {
		_ = g.redis.Del(ctx, tokenCacheKey).Err()
	}
}

// call 发起带令牌的业务调用；令牌过期自动刷新重试一次
func (g *Gateway) call(ctx context.Context, op string, reqBody, respBody interface{}) error {
	tok, err := g.token(ctx)
	if err != nil {
		g.count(op, "error")
		return err
	}

	err = g.post(ctx, op, tok, reqBody, respBody)
	if errors.Is(err, errTokenExpired) {
		g.invalidateToken(ctx)
		if tok, err = g.refreshToken(ctx); err != nil {
			g.count(op, "error")
			return err
		}
		err = g.post(ctx, op, tok, reqBody, respBody)
	}

	switch {
	case err == nil:
		g.count(op, "ok")
	case errors.Is(err, ErrSessionNotFound):
		g.count(op, "not_found")
	default:
		g.count(op, "error")
	}
	return err
}

var errTokenExpired = errors.New("platform: token expired")

// post 加密、签名、发送并解密响应
func (g *Gateway) post(ctx context.Context, op, token string, reqBody, respBody interface{}) error {
	plain, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal %s body: %w", op, err)
	}
	data, err := EncryptData(plain, g.cfg.DataSecret, g.cfg.DataSecretIV)
	if err != nil {
		return fmt.Errorf("encrypt %s body: %w", op, err)
	}

	ts := time.Now().Format("20060102150405")
	seq := fmt.Sprintf("%04d", g.seq.Add(1)%10000)
	env := &Envelope{
		OperatorID: g.cfg.OperatorID,
		Data:       data,
		TimeStamp:  ts,
		Seq:        seq,
		Sig:        SignEnvelope(g.cfg.SigSecret, g.cfg.OperatorID, data, ts, seq),
	}

	body, err := json.Marshal(env)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+"/"+op, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	httpResp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", op, err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("%s read response: %w", op, err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s http %d", op, httpResp.StatusCode)
	}

	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return fmt.Errorf("%s parse response: %w", op, err)
	}

	switch resp.Ret {
	case retSuccess:
	case retTokenExpired:
		return errTokenExpired
	case retOrderNotFound:
		return ErrSessionNotFound
	default:
		return fmt.Errorf("%s platform ret=%d msg=%s", op, resp.Ret, resp.Msg)
	}

	if respBody == nil || resp.Data == "" {
		return nil
	}
	plainResp, err := DecryptData(resp.Data, g.cfg.DataSecret, g.cfg.DataSecretIV)
	if err != nil {
		return fmt.Errorf("decrypt %s response: %w", op, err)
	}
	if err := json.Unmarshal(plainResp, respBody); err != nil {
		return fmt.Errorf("unmarshal %s response: %w", op, err)
	}
	return nil
}

func (g *Gateway) count(op, result string) {
	if g.metrics != nil {
		g.metrics.GatewayRequestTotal.WithLabelValues(op, result).Inc()
	}
}

// StartCharge 请求平台启动充电，返回平台订单号
func (g *Gateway) StartCharge(ctx context.Context, orderNo, connectorID string) (string, error) {
	req := &startChargeRequest{
		StartChargeSeq: orderNo,
		ConnectorID:    connectorID,
	}
	var resp startChargeResponse
	if err := g.call(ctx, "query_start_charge", req, &resp); err != nil {
		return "", err
	}
	if resp.SuccStat != 0 {
		return "", fmt.Errorf("start charge rejected, fail_reason=%d", resp.FailReason)
	}
	return resp.StartChargeSeq, nil
}

// StopCharge 请求平台停止充电
func (g *Gateway) StopCharge(ctx context.Context, platformOrderNo string) error {
	req := &stopChargeRequest{StartChargeSeq: platformOrderNo}
	var resp stopChargeResponse
	if err := g.call(ctx, "query_stop_charge", req, &resp); err != nil {
		return err
	}
	if resp.SuccStat != 0 {
		return fmt.Errorf("stop charge rejected, fail_reason=%d", resp.FailReason)
	}
	return nil
}

// QueryChargeStatus 查询充电会话状态并转换为本地快照。
// 平台查无此单返回 ErrSessionNotFound。
func (g *Gateway) QueryChargeStatus(ctx context.Context, platformOrderNo string) (*coremodel.StatusSnapshot, error) {
	req := &statusQueryRequest{StartChargeSeq: platformOrderNo}
	var resp statusQueryResponse
	if err := g.call(ctx, "query_equip_charge_status", req, &resp); err != nil {
		return nil, err
	}
	return snapshotFromStatus(&resp), nil
}

// snapshotFromStatus 平台状态报文 → 本地快照
func snapshotFromStatus(resp *statusQueryResponse) *coremodel.StatusSnapshot {
	snap := &coremodel.StatusSnapshot{
		PlatformOrderNo: resp.StartChargeSeq,
		VoltageV:        resp.VoltageA,
		CurrentA:        resp.CurrentA,
		Soc:             resp.Soc,
		TotalPower:      resp.TotalPower,
		ElectricityFee:  resp.ElecMoney,
		ServiceFee:      resp.SeviceMoney,
		TotalFee:        resp.TotalMoney,
	}

	cs := coremodel.ChargeStatus(resp.StartChargeSeqStat)
	if cs.Valid() {
		snap.ChargeStatus = &cs
	}

	if resp.EndTime != "" {
		if t, err := time.ParseInLocation(timeLayout, resp.EndTime, time.Local); err == nil {
			snap.EndTime = &t
		}
	}
	return snap
}

// QueryConnectorStatus 查询充电枪实时状态（启动前校验可用性）
func (g *Gateway) QueryConnectorStatus(ctx context.Context, connectorID string) (int, error) {
	req := &connectorStatusRequest{ConnectorID: connectorID}
	var resp connectorStatusResponse
	if err := g.call(ctx, "query_station_status", req, &resp); err != nil {
		return 0, err
	}
	return resp.Status, nil
}

// QueryChargePolicy 查询充电枪计费策略
func (g *Gateway) QueryChargePolicy(ctx context.Context, connectorID string) ([]PolicyInfo, error) {
	req := &policyRequest{ConnectorID: connectorID}
	var resp policyResponse
	if err := g.call(ctx, "query_equip_business_policy", req, &resp); err != nil {
		return nil, err
	}
	return resp.PolicyInfos, nil
}
