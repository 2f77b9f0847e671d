package service

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeisall/charge-broker/internal/coremodel"
	"github.com/codeisall/charge-broker/internal/storage"
	"github.com/codeisall/charge-broker/internal/storage/models"
)

// fakeRepo 内存版 OrderRepo
type fakeRepo struct {
	orders map[string]*models.ChargeOrder
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{orders: make(map[string]*models.ChargeOrder)}
}

func (r *fakeRepo) WithTx(ctx context.Context, fn func(storage.OrderRepo) error) error {
	return fn(r)
}

func (r *fakeRepo) CreateOrder(_ context.Context, order *models.ChargeOrder) error {
	r.orders[order.OrderNo] = order
	return nil
}

func (r *fakeRepo) GetByOrderNo(_ context.Context, orderNo string) (*models.ChargeOrder, error) {
	o, ok := r.orders[orderNo]
	if !ok {
		return nil, storage.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (r *fakeRepo) GetByPlatformOrderNo(_ context.Context, platformOrderNo string) (*models.ChargeOrder, error) {
	for _, o := range r.orders {
		if o.PlatformOrderNo != nil && *o.PlatformOrderNo == platformOrderNo {
			cp := *o
			return &cp, nil
		}
	}
	return nil, storage.ErrOrderNotFound
}

func (r *fakeRepo) GetActiveOrderByUser(_ context.Context, userID int64) (*models.ChargeOrder, error) {
	for _, o := range r.orders {
		if o.UserID == userID && (o.Status == coremodel.OrderStatusCreated || o.Status == coremodel.OrderStatusCharging) {
			cp := *o
			return &cp, nil
		}
	}
	return nil, storage.ErrOrderNotFound
}

func (r *fakeRepo) GetActiveOrderByConnector(_ context.Context, connectorID string) (*models.ChargeOrder, error) {
	for _, o := range r.orders {
		if o.ConnectorID == connectorID && (o.Status == coremodel.OrderStatusCreated || o.Status == coremodel.OrderStatusCharging) {
			cp := *o
			return &cp, nil
		}
	}
	return nil, storage.ErrOrderNotFound
}

func (r *fakeRepo) ListOrdersByUser(_ context.Context, userID int64, limit, offset int) ([]models.ChargeOrder, error) {
	var out []models.ChargeOrder
	for _, o := range r.orders {
		if o.UserID == userID {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *fakeRepo) ApplyUpdate(_ context.Context, orderNo string, u *storage.OrderUpdate) error {
	o, ok := r.orders[orderNo]
	if !ok {
		return storage.ErrOrderNotFound
	}
	if u.Status != nil {
		o.Status = *u.Status
	}
	if u.ChargeStatus != nil {
		o.ChargeStatus = *u.ChargeStatus
	}
	if u.PlatformOrderNo != nil {
		o.PlatformOrderNo = u.PlatformOrderNo
	}
	if u.StopReason != nil {
		o.StopReason = u.StopReason
	}
	if u.TotalFee != nil {
		o.TotalFee = *u.TotalFee
	}
	o.UpdatedAt = time.Now()
	return nil
}

func (r *fakeRepo) ApplyUpdateGuarded(ctx context.Context, orderNo string, _ time.Time, u *storage.OrderUpdate) error {
	return r.ApplyUpdate(ctx, orderNo, u)
}

func (r *fakeRepo) MarkFailed(_ context.Context, orderNo string, reason coremodel.StopReason, endTime time.Time) error {
	o, ok := r.orders[orderNo]
	if !ok {
		return storage.ErrOrderNotFound
	}
	o.Status = coremodel.OrderStatusFailed
	o.StopReason = &reason
	if o.EndTime == nil {
		o.EndTime = &endTime
	}
	return nil
}

func (r *fakeRepo) BackfillEndTime(_ context.Context, orderNo string, endTime time.Time) error {
	o, ok := r.orders[orderNo]
	if !ok {
		return storage.ErrOrderNotFound
	}
	if o.EndTime == nil {
		o.EndTime = &endTime
	}
	return nil
}

func (r *fakeRepo) AppendNotification(_ context.Context, _ *models.NotificationRecord) error {
	return nil
}

// fakeGateway 可编排的平台网关
type fakeGateway struct {
	startErr        error
	stopErr         error
	connectorStatus int
	stopped         []string
	snap            *coremodel.StatusSnapshot
	queryErr        error
}

func (g *fakeGateway) StartCharge(_ context.Context, orderNo, _ string) (string, error) {
	if g.startErr != nil {
		return "", g.startErr
	}
	return "EP-" + orderNo, nil
}

func (g *fakeGateway) StopCharge(_ context.Context, platformOrderNo string) error {
	if g.stopErr != nil {
		return g.stopErr
	}
	g.stopped = append(g.stopped, platformOrderNo)
	return nil
}

func (g *fakeGateway) QueryChargeStatus(_ context.Context, _ string) (*coremodel.StatusSnapshot, error) {
	if g.queryErr != nil {
		return nil, g.queryErr
	}
	return g.snap, nil
}

func (g *fakeGateway) QueryConnectorStatus(_ context.Context, _ string) (int, error) {
	if g.connectorStatus == 0 {
		return connectorIdle, nil
	}
	return g.connectorStatus, nil
}

// fakeReconciler 记录对账调用
type fakeReconciler struct {
	calls   int
	applied bool
	apply   func(orderNo string, snap *coremodel.StatusSnapshot)
}

func (r *fakeReconciler) Reconcile(_ context.Context, orderNo string, snap *coremodel.StatusSnapshot, _ string) bool {
	r.calls++
	if r.apply != nil {
		r.apply(orderNo, snap)
	}
	return r.applied
}

func TestStartCharge_HappyPath(t *testing.T) {
	repo := newFakeRepo()
	gw := &fakeGateway{}
	svc := NewOrderService(repo, gw, &fakeReconciler{}, nil)

	order, err := svc.StartCharge(context.Background(), 42, "CONN-1", "ST-1", &StopTarget{
		Condition: coremodel.StopConditionSoc,
		TargetSoc: f64(80),
	})
	require.NoError(t, err)

	assert.Equal(t, coremodel.OrderStatusCharging, order.Status)
	require.NotNil(t, order.PlatformOrderNo)
	assert.Equal(t, "EP-"+order.OrderNo, *order.PlatformOrderNo)
	require.NotNil(t, order.StopCondition)
	assert.Equal(t, coremodel.StopConditionSoc, *order.StopCondition)
	assert.NotNil(t, order.StartTime)
}

func TestStartCharge_ActiveOrderGuard(t *testing.T) {
	repo := newFakeRepo()
	gw := &fakeGateway{}
	svc := NewOrderService(repo, gw, &fakeReconciler{}, nil)

	_, err := svc.StartCharge(context.Background(), 42, "CONN-1", "ST-1", nil)
	require.NoError(t, err)

	// 同一用户二启被拒
	_, err = svc.StartCharge(context.Background(), 42, "CONN-2", "ST-1", nil)
	assert.ErrorIs(t, err, ErrActiveOrderExists)

	// 同一枪二启被拒
	_, err = svc.StartCharge(context.Background(), 43, "CONN-1", "ST-1", nil)
	assert.ErrorIs(t, err, ErrConnectorBusy)
}

func TestStartCharge_PlatformFailureMarksFailed(t *testing.T) {
	repo := newFakeRepo()
	gw := &fakeGateway{startErr: errors.New("platform rejected")}
	svc := NewOrderService(repo, gw, &fakeReconciler{}, nil)

	_, err := svc.StartCharge(context.Background(), 42, "CONN-1", "ST-1", nil)
	require.Error(t, err)

	// 失败订单被终结，不挡住用户再次启动
	require.Len(t, repo.orders, 1)
	for _, o := range repo.orders {
		assert.Equal(t, coremodel.OrderStatusFailed, o.Status)
		require.NotNil(t, o.StopReason)
		assert.Equal(t, coremodel.StopReasonPlatform, *o.StopReason)
		assert.NotNil(t, o.EndTime)
	}

	gw.startErr = nil
	_, err = svc.StartCharge(context.Background(), 42, "CONN-1", "ST-1", nil)
	assert.NoError(t, err)
}

func TestStopCharge(t *testing.T) {
	repo := newFakeRepo()
	gw := &fakeGateway{}
	svc := NewOrderService(repo, gw, &fakeReconciler{}, nil)

	order, err := svc.StartCharge(context.Background(), 42, "CONN-1", "ST-1", nil)
	require.NoError(t, err)

	// 非本人不可停止
	err = svc.StopCharge(context.Background(), 99, order.OrderNo)
	assert.ErrorIs(t, err, ErrOrderNotOwned)

	require.NoError(t, svc.StopCharge(context.Background(), 42, order.OrderNo))
	assert.Equal(t, []string{*order.PlatformOrderNo}, gw.stopped)

	got, _ := repo.GetByOrderNo(context.Background(), order.OrderNo)
	require.NotNil(t, got.StopReason)
	assert.Equal(t, coremodel.StopReasonUser, *got.StopReason)
	assert.Equal(t, coremodel.ChargeStatusStopping, got.ChargeStatus)
	// 状态仍为充电中，终态由对账推进
	assert.Equal(t, coremodel.OrderStatusCharging, got.Status)
}

func TestGetChargeStatus_ReconcilesActiveOrder(t *testing.T) {
	repo := newFakeRepo()
	fee := 8.8
	gw := &fakeGateway{snap: &coremodel.StatusSnapshot{TotalFee: &fee}}
	rec := &fakeReconciler{applied: true}
	svc := NewOrderService(repo, gw, rec, nil)

	order, err := svc.StartCharge(context.Background(), 42, "CONN-1", "ST-1", nil)
	require.NoError(t, err)

	rec.apply = func(orderNo string, snap *coremodel.StatusSnapshot) {
		_ = repo.ApplyUpdate(context.Background(), orderNo, &storage.OrderUpdate{TotalFee: snap.TotalFee})
	}

	got, err := svc.GetChargeStatus(context.Background(), order.OrderNo)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.calls)
	assert.Equal(t, 8.8, got.TotalFee)
}

func TestGetChargeStatus_PlatformDownServesLocal(t *testing.T) {
	repo := newFakeRepo()
	gw := &fakeGateway{queryErr: errors.New("timeout")}
	rec := &fakeReconciler{}
	svc := NewOrderService(repo, gw, rec, nil)

	order, err := svc.StartCharge(context.Background(), 42, "CONN-1", "ST-1", nil)
	require.NoError(t, err)

	got, err := svc.GetChargeStatus(context.Background(), order.OrderNo)
	require.NoError(t, err)
	assert.Equal(t, order.OrderNo, got.OrderNo)
	assert.Zero(t, rec.calls)
}

func f64(v float64) *float64 { return &v }
