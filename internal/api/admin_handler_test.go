package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/codeisall/charge-broker/internal/api/middleware"
	"github.com/codeisall/charge-broker/internal/storage"
)

type fakeSweeper struct {
	runs    int
	checked []string
	applied bool
	err     error
}

func (f *fakeSweeper) RunOnce(_ context.Context) { f.runs++ }

func (f *fakeSweeper) CheckSingleOrder(_ context.Context, orderNo string) (bool, error) {
	f.checked = append(f.checked, orderNo)
	return f.applied, f.err
}

func (f *fakeSweeper) Stats() map[string]interface{} {
	return map[string]interface{}{"sweeps": int64(f.runs)}
}

type fakePoller struct{}

func (fakePoller) Stats() map[string]interface{} {
	return map[string]interface{}{"polls": int64(3)}
}

type fakeQueue struct {
	dlq     []string
	cleared bool
}

func (f *fakeQueue) QueueLength(_ context.Context) (int64, error) { return 2, nil }
func (f *fakeQueue) DLQLength(_ context.Context) (int64, error)   { return int64(len(f.dlq)), nil }

func (f *fakeQueue) GetDLQEvents(_ context.Context, start, stop int64) ([]string, error) {
	if stop >= int64(len(f.dlq)) {
		stop = int64(len(f.dlq)) - 1
	}
	if start > stop {
		return nil, nil
	}
	return f.dlq[start : stop+1], nil
}

func (f *fakeQueue) ClearDLQ(_ context.Context) error {
	f.cleared = true
	f.dlq = nil
	return nil
}

func newAdminRouter(sweeper *fakeSweeper, queue *fakeQueue) *gin.Engine {
	r := gin.New()
	RegisterRoutes(r, nil, nil, NewAdminHandler(sweeper, fakePoller{}, queue, zap.NewNop()),
		middleware.AuthConfig{}, zap.NewNop())
	return r
}

func TestTriggerSweep(t *testing.T) {
	sweeper := &fakeSweeper{}
	r := newAdminRouter(sweeper, &fakeQueue{})

	w := doJSON(t, r, http.MethodPost, "/api/v1/admin/consistency/sweep", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, sweeper.runs)
}

func TestCheckOrder(t *testing.T) {
	sweeper := &fakeSweeper{applied: true}
	r := newAdminRouter(sweeper, &fakeQueue{})

	w := doJSON(t, r, http.MethodPost, "/api/v1/admin/orders/CB1001/check", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"CB1001"}, sweeper.checked)
	resp := decodeResponse(t, w)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, true, data["applied"])
}

func TestCheckOrder_NotFound(t *testing.T) {
	sweeper := &fakeSweeper{err: storage.ErrOrderNotFound}
	r := newAdminRouter(sweeper, &fakeQueue{})

	w := doJSON(t, r, http.MethodPost, "/api/v1/admin/orders/CB-NOPE/check", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSyncStats(t *testing.T) {
	r := newAdminRouter(&fakeSweeper{}, &fakeQueue{dlq: []string{"e1"}})

	w := doJSON(t, r, http.MethodGet, "/api/v1/admin/sync/stats", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decodeResponse(t, w)
	data := resp.Data.(map[string]interface{})
	require.Contains(t, data, "poller")
	require.Contains(t, data, "sweeper")
	notify := data["notify"].(map[string]interface{})
	assert.Equal(t, float64(1), notify["dlq_length"])
}

func TestDLQ_ListAndClear(t *testing.T) {
	queue := &fakeQueue{dlq: []string{"e1", "e2"}}
	r := newAdminRouter(&fakeSweeper{}, queue)

	w := doJSON(t, r, http.MethodGet, "/api/v1/admin/notify/dlq?limit=1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	resp := decodeResponse(t, w)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, float64(1), data["count"])

	w = doJSON(t, r, http.MethodDelete, "/api/v1/admin/notify/dlq", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, queue.cleared)
}
