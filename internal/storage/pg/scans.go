package pg

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Scanner 面向巡检/轮询的只读仓储。
// 与 gormrepo 的业务写路径分离：这里只做有界扫描，不做任何订单写入。
type Scanner struct {
	Pool *pgxpool.Pool
}

// NewScanner 返回基于 pgx 连接池的扫描仓储。
func NewScanner(pool *pgxpool.Pool) *Scanner {
	return &Scanner{Pool: pool}
}

// OrderRef 扫描结果的最小订单引用
type OrderRef struct {
	OrderNo         string
	PlatformOrderNo *string
	UserID          int64
	ConnectorID     string
	UpdatedAt       time.Time
}

const orderRefCols = `order_no, platform_order_no, user_id, connector_id, updated_at`

func (s *Scanner) scanRefs(ctx context.Context, q string, args ...interface{}) ([]OrderRef, error) {
	rows, err := s.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refs []OrderRef
	for rows.Next() {
		var ref OrderRef
		if err := rows.Scan(&ref.OrderNo, &ref.PlatformOrderNo, &ref.UserID, &ref.ConnectorID, &ref.UpdatedAt); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// ListChargingOrders 列出充电中订单，最近有活动的优先（活跃会话优先刷新）。
// 仅选择已回填平台订单号的订单；limit 限制单轮处理量，避免轮询挤占平台配额。
func (s *Scanner) ListChargingOrders(ctx context.Context, limit int) ([]OrderRef, error) {
	const q = `SELECT ` + orderRefCols + ` FROM charge_orders
		WHERE status = 2 AND platform_order_no IS NOT NULL
		ORDER BY updated_at DESC LIMIT $1`
	return s.scanRefs(ctx, q, limit)
}

// ListStuckStarting 列出长时间停留在“启动中”的充电订单。
// updated_at 早于 threshold 且子状态仍为启动中，视为疑似卡单。
func (s *Scanner) ListStuckStarting(ctx context.Context, threshold time.Time) ([]OrderRef, error) {
	const q = `SELECT ` + orderRefCols + ` FROM charge_orders
		WHERE status = 2 AND charge_status = 1 AND updated_at < $1
		ORDER BY updated_at ASC LIMIT 100`
	return s.scanRefs(ctx, q, threshold)
}

// ListStaleCharging 抽检长时间未刷新的充电中订单。
func (s *Scanner) ListStaleCharging(ctx context.Context, threshold time.Time, limit int) ([]OrderRef, error) {
	const q = `SELECT ` + orderRefCols + ` FROM charge_orders
		WHERE status = 2 AND updated_at < $1
		ORDER BY updated_at ASC LIMIT $2`
	return s.scanRefs(ctx, q, threshold, limit)
}

// ListCompletedMissingEndTime 列出已完成但缺失 end_time 的订单。
func (s *Scanner) ListCompletedMissingEndTime(ctx context.Context, limit int) ([]OrderRef, error) {
	const q = `SELECT ` + orderRefCols + ` FROM charge_orders
		WHERE status = 3 AND end_time IS NULL
		ORDER BY updated_at ASC LIMIT $1`
	return s.scanRefs(ctx, q, limit)
}

// CountChargingOrders 统计当前充电中订单数（供指标上报）。
func (s *Scanner) CountChargingOrders(ctx context.Context) (int64, error) {
	var n int64
	err := s.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM charge_orders WHERE status = 2`).Scan(&n)
	return n, err
}
