package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/codeisall/charge-broker/internal/api/middleware"
	"github.com/codeisall/charge-broker/internal/coremodel"
	"github.com/codeisall/charge-broker/internal/service"
	"github.com/codeisall/charge-broker/internal/storage"
	"github.com/codeisall/charge-broker/internal/storage/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeOrders struct {
	order    *models.ChargeOrder
	orders   []models.ChargeOrder
	startErr error
	stopErr  error
	getErr   error

	startedUser int64
	target      *service.StopTarget
	stoppedNo   string
}

func (f *fakeOrders) StartCharge(_ context.Context, userID int64, connectorID, stationID string, target *service.StopTarget) (*models.ChargeOrder, error) {
	f.startedUser = userID
	f.target = target
	if f.startErr != nil {
		return nil, f.startErr
	}
	return f.order, nil
}

func (f *fakeOrders) StopCharge(_ context.Context, _ int64, orderNo string) error {
	f.stoppedNo = orderNo
	return f.stopErr
}

func (f *fakeOrders) GetChargeStatus(_ context.Context, _ string) (*models.ChargeOrder, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.order, nil
}

func (f *fakeOrders) CurrentOrder(_ context.Context, _ int64) (*models.ChargeOrder, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.order, nil
}

func (f *fakeOrders) ListOrders(_ context.Context, _ int64, limit, _ int) ([]models.ChargeOrder, error) {
	if len(f.orders) > limit {
		return f.orders[:limit], nil
	}
	return f.orders, nil
}

func sampleOrder() *models.ChargeOrder {
	platformNo := "EP-777"
	start := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	return &models.ChargeOrder{
		OrderNo:         "CB20260901100000abc123def456",
		PlatformOrderNo: &platformNo,
		UserID:          42,
		ConnectorID:     "CN-01",
		StationID:       "ST-01",
		Status:          coremodel.OrderStatusCharging,
		ChargeStatus:    coremodel.ChargeStatusCharging,
		TotalPower:      5.2,
		TotalFee:        8.8,
		StartTime:       &start,
	}
}

func newOrderRouter(orders *fakeOrders) *gin.Engine {
	r := gin.New()
	RegisterRoutes(r, NewOrderHandler(orders, zap.NewNop()), nil, nil,
		middleware.AuthConfig{}, zap.NewNop())
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) *StandardResponse {
	t.Helper()
	var resp StandardResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return &resp
}

func TestStartCharge_OK(t *testing.T) {
	orders := &fakeOrders{order: sampleOrder()}
	r := newOrderRouter(orders)

	dur := int32(60)
	w := doJSON(t, r, http.MethodPost, "/api/v1/orders", StartChargeRequest{
		UserID:          42,
		ConnectorID:     "CN-01",
		StationID:       "ST-01",
		StopCondition:   int(coremodel.StopConditionTime),
		DurationMinutes: &dur,
	})

	assert.Equal(t, http.StatusCreated, w.Code)
	resp := decodeResponse(t, w)
	assert.Equal(t, 0, resp.Code)
	assert.Equal(t, int64(42), orders.startedUser)
	require.NotNil(t, orders.target)
	assert.Equal(t, coremodel.StopConditionTime, orders.target.Condition)
	assert.NotEmpty(t, resp.RequestID)
}

func TestStartCharge_TargetMismatch(t *testing.T) {
	r := newOrderRouter(&fakeOrders{order: sampleOrder()})

	// 按时长停止但没给时长
	w := doJSON(t, r, http.MethodPost, "/api/v1/orders", StartChargeRequest{
		UserID:        42,
		ConnectorID:   "CN-01",
		StationID:     "ST-01",
		StopCondition: int(coremodel.StopConditionTime),
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStartCharge_ActiveOrderConflict(t *testing.T) {
	r := newOrderRouter(&fakeOrders{startErr: service.ErrActiveOrderExists})

	w := doJSON(t, r, http.MethodPost, "/api/v1/orders", StartChargeRequest{
		UserID:      42,
		ConnectorID: "CN-01",
		StationID:   "ST-01",
	})

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestStopCharge_OK(t *testing.T) {
	orders := &fakeOrders{}
	r := newOrderRouter(orders)

	w := doJSON(t, r, http.MethodPost, "/api/v1/orders/CB1001/stop", StopChargeRequest{UserID: 42})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "CB1001", orders.stoppedNo)
}

func TestStopCharge_NotOwned(t *testing.T) {
	r := newOrderRouter(&fakeOrders{stopErr: service.ErrOrderNotOwned})

	w := doJSON(t, r, http.MethodPost, "/api/v1/orders/CB1001/stop", StopChargeRequest{UserID: 42})

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestGetOrder_NotFound(t *testing.T) {
	r := newOrderRouter(&fakeOrders{getErr: storage.ErrOrderNotFound})

	w := doJSON(t, r, http.MethodGet, "/api/v1/orders/CB-NOPE", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetOrder_View(t *testing.T) {
	r := newOrderRouter(&fakeOrders{order: sampleOrder()})

	w := doJSON(t, r, http.MethodGet, "/api/v1/orders/CB20260901100000abc123def456", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decodeResponse(t, w)
	view, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "EP-777", view["platform_order_no"])
	assert.Equal(t, "充电中", view["status_desc"])
}

func TestListOrders_LimitClamped(t *testing.T) {
	orders := &fakeOrders{orders: make([]models.ChargeOrder, 150)}
	for i := range orders.orders {
		orders.orders[i] = *sampleOrder()
	}
	r := newOrderRouter(orders)

	w := doJSON(t, r, http.MethodGet, "/api/v1/users/42/orders?limit=9999", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decodeResponse(t, w)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, float64(20), data["count"])
}

func TestAPIKeyAuth_Enforced(t *testing.T) {
	r := gin.New()
	RegisterRoutes(r, NewOrderHandler(&fakeOrders{order: sampleOrder()}, zap.NewNop()), nil, nil,
		middleware.AuthConfig{Enabled: true, APIKeys: []string{"sk_live_test"}}, zap.NewNop())

	// 无Key拒绝
	w := doJSON(t, r, http.MethodGet, "/api/v1/orders/CB1", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// 错误Key拒绝
	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/CB1", nil)
	req.Header.Set("X-API-Key", "sk_live_wrong")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// 正确Key放行
	req = httptest.NewRequest(http.MethodGet, "/api/v1/orders/CB1", nil)
	req.Header.Set("X-API-Key", "sk_live_test")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
