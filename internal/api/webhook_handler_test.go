package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/codeisall/charge-broker/internal/api/middleware"
	cfgpkg "github.com/codeisall/charge-broker/internal/config"
	"github.com/codeisall/charge-broker/internal/coremodel"
	"github.com/codeisall/charge-broker/internal/platform"
	"github.com/codeisall/charge-broker/internal/storage"
	"github.com/codeisall/charge-broker/internal/storage/models"
)

const (
	pushKey      = "0123456789abcdef"
	pushIV       = "fedcba9876543210"
	pushSig      = "push-sig-secret"
	pushOperator = "9900001"
)

type fakeLookup struct {
	byPlatformNo map[string]*models.ChargeOrder
	byConnector  map[string]*models.ChargeOrder
	connErr      error
}

func (f *fakeLookup) GetByPlatformOrderNo(_ context.Context, platformOrderNo string) (*models.ChargeOrder, error) {
	if o, ok := f.byPlatformNo[platformOrderNo]; ok {
		return o, nil
	}
	return nil, storage.ErrOrderNotFound
}

func (f *fakeLookup) GetActiveOrderByConnector(_ context.Context, connectorID string) (*models.ChargeOrder, error) {
	if f.connErr != nil {
		return nil, f.connErr
	}
	if o, ok := f.byConnector[connectorID]; ok {
		return o, nil
	}
	return nil, storage.ErrOrderNotFound
}

type fakeReconciler struct {
	calls   []string
	sources []string
	snaps   []*coremodel.StatusSnapshot
	applied bool
}

func (f *fakeReconciler) Reconcile(_ context.Context, orderNo string, snap *coremodel.StatusSnapshot, source string) bool {
	f.calls = append(f.calls, orderNo)
	f.sources = append(f.sources, source)
	f.snaps = append(f.snaps, snap)
	return f.applied
}

type fakeFaultNotifier struct {
	faults []string
}

func (f *fakeFaultNotifier) NotifyFault(_ context.Context, order *models.ChargeOrder) error {
	f.faults = append(f.faults, order.OrderNo)
	return nil
}

func newWebhookRouter(t *testing.T, lookup *fakeLookup, rec *fakeReconciler, notifier *fakeFaultNotifier) *gin.Engine {
	return newWebhookRouterWithLogger(t, lookup, rec, notifier, zap.NewNop())
}

func newWebhookRouterWithLogger(t *testing.T, lookup *fakeLookup, rec *fakeReconciler, notifier *fakeFaultNotifier, logger *zap.Logger) *gin.Engine {
	t.Helper()
	gw := platform.NewGateway(cfgpkg.PlatformConfig{
		OperatorID:   pushOperator,
		DataSecret:   pushKey,
		DataSecretIV: pushIV,
		SigSecret:    pushSig,
	}, nil, nil, zap.NewNop())

	h := NewWebhookHandler(gw, lookup, rec, notifier, nil, logger)
	r := gin.New()
	RegisterRoutes(r, nil, h, nil, middleware.AuthConfig{}, zap.NewNop())
	return r
}

// signedEnvelope 按平台约定构造加密并签名的推送信封
func signedEnvelope(t *testing.T, body interface{}) []byte {
	t.Helper()
	plain, err := json.Marshal(body)
	require.NoError(t, err)
	data, err := platform.EncryptData(plain, pushKey, pushIV)
	require.NoError(t, err)

	ts := time.Now().Format("20060102150405")
	env := platform.Envelope{
		OperatorID: pushOperator,
		Data:       data,
		TimeStamp:  ts,
		Seq:        "0001",
		Sig:        platform.SignEnvelope(pushSig, pushOperator, data, ts, "0001"),
	}
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	return raw
}

func postPush(r *gin.Engine, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func pushRet(t *testing.T, w *httptest.ResponseRecorder) int {
	t.Helper()
	var resp platform.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Ret
}

func TestChargeStatusPush_Reconciled(t *testing.T) {
	order := sampleOrder()
	lookup := &fakeLookup{byPlatformNo: map[string]*models.ChargeOrder{"EP-777": order}}
	rec := &fakeReconciler{applied: true}
	r := newWebhookRouter(t, lookup, rec, nil)

	soc := 80.0
	fee := 9.9
	body := signedEnvelope(t, platform.ChargeStatusNotification{
		StartChargeSeq:     "EP-777",
		StartChargeSeqStat: 2,
		Soc:                &soc,
		TotalMoney:         &fee,
	})

	w := postPush(r, "/platform/notification_equip_charge_status", body)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, pushRet(t, w))
	require.Len(t, rec.calls, 1)
	assert.Equal(t, order.OrderNo, rec.calls[0])
	assert.Equal(t, "PLATFORM_PUSH", rec.sources[0])
	require.NotNil(t, rec.snaps[0].Soc)
	assert.Equal(t, 80.0, *rec.snaps[0].Soc)
}

func TestChargeStatusPush_BadSignature(t *testing.T) {
	rec := &fakeReconciler{}
	r := newWebhookRouter(t, &fakeLookup{}, rec, nil)

	plain, _ := json.Marshal(platform.ChargeStatusNotification{StartChargeSeq: "EP-777"})
	data, err := platform.EncryptData(plain, pushKey, pushIV)
	require.NoError(t, err)
	env := platform.Envelope{
		OperatorID: pushOperator,
		Data:       data,
		TimeStamp:  time.Now().Format("20060102150405"),
		Seq:        "0001",
		Sig:        "DEADBEEF",
	}
	raw, _ := json.Marshal(env)

	w := postPush(r, "/platform/notification_equip_charge_status", raw)

	assert.Equal(t, 4001, pushRet(t, w))
	assert.Empty(t, rec.calls)
}

func TestChargeStatusPush_UnknownOrder(t *testing.T) {
	rec := &fakeReconciler{}
	r := newWebhookRouter(t, &fakeLookup{}, rec, nil)

	body := signedEnvelope(t, platform.ChargeStatusNotification{StartChargeSeq: "EP-GONE"})
	w := postPush(r, "/platform/notification_equip_charge_status", body)

	assert.Equal(t, 4004, pushRet(t, w))
	assert.Empty(t, rec.calls)
}

func TestChargeResultPush_FinishedSnapshot(t *testing.T) {
	order := sampleOrder()
	lookup := &fakeLookup{byPlatformNo: map[string]*models.ChargeOrder{"EP-777": order}}
	rec := &fakeReconciler{applied: true}
	r := newWebhookRouter(t, lookup, rec, nil)

	total := 12.5
	body := signedEnvelope(t, platform.ChargeResultNotification{
		StartChargeSeq: "EP-777",
		EndTime:        "2026-09-01 12:30:00",
		TotalMoney:     &total,
	})

	w := postPush(r, "/platform/notification_charge_order_info", body)

	assert.Equal(t, 0, pushRet(t, w))
	require.Len(t, rec.snaps, 1)
	snap := rec.snaps[0]
	require.NotNil(t, snap.ChargeStatus)
	assert.Equal(t, coremodel.ChargeStatusFinished, *snap.ChargeStatus)
	assert.NotNil(t, snap.EndTime)
}

func TestConnectorFaultPush_NotifiesActiveOrder(t *testing.T) {
	order := sampleOrder()
	lookup := &fakeLookup{byConnector: map[string]*models.ChargeOrder{"CN-01": order}}
	notifier := &fakeFaultNotifier{}
	r := newWebhookRouter(t, lookup, &fakeReconciler{}, notifier)

	body := signedEnvelope(t, platform.ConnectorStatusNotification{ConnectorID: "CN-01", Status: 255})
	w := postPush(r, "/platform/notification_stationStatus", body)

	assert.Equal(t, 0, pushRet(t, w))
	assert.Equal(t, []string{order.OrderNo}, notifier.faults)
}

func TestConnectorFaultPush_WithoutActiveOrderLogged(t *testing.T) {
	core, observed := observer.New(zap.WarnLevel)
	notifier := &fakeFaultNotifier{}
	r := newWebhookRouterWithLogger(t, &fakeLookup{}, &fakeReconciler{}, notifier, zap.New(core))

	body := signedEnvelope(t, platform.ConnectorStatusNotification{ConnectorID: "CN-GHOST", Status: 255})
	w := postPush(r, "/platform/notification_stationStatus", body)

	// 无法关联活动订单的故障推送要留痕，不能静默应答成功
	assert.Equal(t, 0, pushRet(t, w))
	assert.Empty(t, notifier.faults)

	entries := observed.FilterMessage("connector fault without active order").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "CN-GHOST", entries[0].ContextMap()["connector_id"])
	assert.EqualValues(t, 255, entries[0].ContextMap()["status"])
}

func TestConnectorFaultPush_LookupError(t *testing.T) {
	core, observed := observer.New(zap.ErrorLevel)
	lookup := &fakeLookup{connErr: errors.New("db down")}
	r := newWebhookRouterWithLogger(t, lookup, &fakeReconciler{}, nil, zap.New(core))

	body := signedEnvelope(t, platform.ConnectorStatusNotification{ConnectorID: "CN-01", Status: 255})
	w := postPush(r, "/platform/notification_stationStatus", body)

	// 查询失败不能当成“无订单”应答成功
	assert.Equal(t, 4003, pushRet(t, w))
	assert.Equal(t, 1, observed.FilterMessage("lookup active order for fault push failed").Len())
}

func TestConnectorStatusPush_IdleIgnored(t *testing.T) {
	notifier := &fakeFaultNotifier{}
	r := newWebhookRouter(t, &fakeLookup{}, &fakeReconciler{}, notifier)

	body := signedEnvelope(t, platform.ConnectorStatusNotification{ConnectorID: "CN-01", Status: 1})
	w := postPush(r, "/platform/notification_stationStatus", body)

	assert.Equal(t, 0, pushRet(t, w))
	assert.Empty(t, notifier.faults)
}
