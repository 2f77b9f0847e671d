package notify

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeisall/charge-broker/internal/coremodel"
	"github.com/codeisall/charge-broker/internal/storage/models"
)

func newTestRedis(t *testing.T) (*goredis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb, mr
}

func testOrder() *models.ChargeOrder {
	start := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	return &models.ChargeOrder{
		OrderNo:      "CB2001",
		UserID:       42,
		Status:       coremodel.OrderStatusCharging,
		ChargeStatus: coremodel.ChargeStatusCharging,
		TotalPower:   8.5,
		TotalFee:     6.8,
		StartTime:    &start,
	}
}

func TestDeduper(t *testing.T) {
	rdb, mr := newTestRedis(t)
	d := NewDeduper(rdb, nil, time.Hour)
	ctx := context.Background()

	dup, err := d.IsDuplicate(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, dup)

	dup, err = d.IsDuplicate(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, dup)

	// TTL到期后重新视为首次
	mr.FastForward(2 * time.Hour)
	dup, err = d.IsDuplicate(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, dup)
}

func TestEventQueue_Enqueue(t *testing.T) {
	rdb, _ := newTestRedis(t)
	q := NewEventQueue(rdb, nil, "http://example.com/webhook", nil, nil)
	ctx := context.Background()

	event := NewEvent(EventOrderCompleted, "CB2001", 42, "completed", map[string]interface{}{"total_fee": 6.8})
	require.NoError(t, q.Enqueue(ctx, event))

	n, err := q.QueueLength(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// 队列中的事件可正常反序列化
	raw, err := rdb.LPop(ctx, eventQueueKey).Result()
	require.NoError(t, err)
	var got StandardEvent
	require.NoError(t, json.Unmarshal([]byte(raw), &got))
	assert.Equal(t, EventOrderCompleted, got.EventType)
	assert.Equal(t, "CB2001", got.OrderNo)
	assert.Equal(t, "order.completed-CB2001-completed", got.EventID)
}

func TestNotifier_CompletionExactlyOnce(t *testing.T) {
	rdb, _ := newTestRedis(t)
	q := NewEventQueue(rdb, nil, "http://example.com/webhook", nil, nil)
	d := NewDeduper(rdb, nil, time.Hour)
	n := NewNotifier(q, d, nil, nil, nil)
	ctx := context.Background()

	order := testOrder()
	end := time.Date(2026, 9, 1, 11, 0, 0, 0, time.UTC)
	order.Status = coremodel.OrderStatusCompleted
	order.EndTime = &end

	require.NoError(t, n.NotifyCompletion(ctx, order))
	require.NoError(t, n.NotifyCompletion(ctx, order))

	count, err := q.QueueLength(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestNotifier_StatusChangeDedupPerState(t *testing.T) {
	rdb, _ := newTestRedis(t)
	q := NewEventQueue(rdb, nil, "http://example.com/webhook", nil, nil)
	d := NewDeduper(rdb, nil, time.Hour)
	n := NewNotifier(q, d, nil, nil, nil)
	ctx := context.Background()

	order := testOrder()
	require.NoError(t, n.NotifyStatusChange(ctx, order))
	require.NoError(t, n.NotifyStatusChange(ctx, order)) // 同状态重复，去重

	order.ChargeStatus = coremodel.ChargeStatusStopping
	require.NoError(t, n.NotifyStatusChange(ctx, order)) // 新状态组合，放行

	count, err := q.QueueLength(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestLoadTemplates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "templates.yaml")
	content := "completed: \"充电结束，共消费 {fee} 元\"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	tpl, err := LoadTemplates(path)
	require.NoError(t, err)
	assert.Equal(t, "充电结束，共消费 {fee} 元", tpl.Completed)
	// 未覆盖的字段回退默认
	assert.Equal(t, DefaultTemplates().Fault, tpl.Fault)

	msg := Render(tpl.Completed, map[string]string{"fee": "6.80"})
	assert.Equal(t, "充电结束，共消费 6.80 元", msg)
}

func TestRender_UnknownPlaceholderKept(t *testing.T) {
	out := Render("订单 {orderNo} 状态 {status}", map[string]string{"orderNo": "CB1"})
	assert.Equal(t, "订单 CB1 状态 {status}", out)
}
