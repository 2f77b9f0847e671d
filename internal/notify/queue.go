package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/codeisall/charge-broker/internal/metrics"
)

const (
	// Redis Key前缀
	eventQueueKey = "notify:event:queue"    // 主队列
	eventDLQKey   = "notify:event:dlq"      // 死信队列
	eventRetryKey = "notify:event:retry:%s" // 重试计数器（event_id）

	maxRetries = 5              // 最大重试次数
	retryTTL   = 24 * time.Hour // 重试记录TTL
)

// EventQueue 异步事件队列：入队不阻塞对账路径，Worker 负责推送
type EventQueue struct {
	redis   redis.UniversalClient
	logger  *zap.Logger
	pusher  *Pusher
	baseURL string // Webhook基础URL
	metrics *metrics.AppMetrics
}

// NewEventQueue 创建事件队列
func NewEventQueue(redisClient redis.UniversalClient, pusher *Pusher, webhookURL string, m *metrics.AppMetrics, logger *zap.Logger) *EventQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventQueue{
		redis:   redisClient,
		logger:  logger,
		pusher:  pusher,
		baseURL: webhookURL,
		metrics: m,
	}
}

// Enqueue 入队事件（异步，不阻塞业务逻辑）
func (q *EventQueue) Enqueue(ctx context.Context, event *StandardEvent) error {
	if q == nil || q.redis == nil {
		return fmt.Errorf("event queue not initialized")
	}

	data, err := json.Marshal(event)
	if err != nil {
		q.logger.Error("failed to marshal event",
			zap.String("event_id", event.EventID),
			zap.String("event_type", string(event.EventType)),
			zap.Error(err))
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := q.redis.RPush(ctx, eventQueueKey, data).Err(); err != nil {
		q.logger.Error("failed to enqueue event",
			zap.String("event_id", event.EventID),
			zap.String("event_type", string(event.EventType)),
			zap.Error(err))
		return fmt.Errorf("redis rpush: %w", err)
	}

	q.logger.Debug("event enqueued",
		zap.String("event_id", event.EventID),
		zap.String("event_type", string(event.EventType)),
		zap.String("order_no", event.OrderNo))
	return nil
}

// StartWorkers 启动事件消费Worker
func (q *EventQueue) StartWorkers(ctx context.Context, workerCount int) {
	if q == nil || q.redis == nil || q.pusher == nil {
		q.logger.Error("event queue worker cannot start: not initialized")
		return
	}
	if workerCount <= 0 {
		workerCount = 2
	}

	q.logger.Info("starting notify queue workers",
		zap.Int("worker_count", workerCount),
		zap.String("webhook_url", q.baseURL))

	for i := 0; i < workerCount; i++ {
		workerID := i + 1
		go q.worker(ctx, workerID)
	}
}

// worker 单个Worker协程
func (q *EventQueue) worker(ctx context.Context, workerID int) {
	logger := q.logger.With(zap.Int("worker_id", workerID))
	logger.Info("notify queue worker started")

	for {
		select {
		case <-ctx.Done():
			logger.Info("notify queue worker stopped")
			return
		default:
			// 阻塞取出事件（超时5秒）
			result, err := q.redis.BLPop(ctx, 5*time.Second, eventQueueKey).Result()
			if err != nil {
				if err == redis.Nil {
					continue
				}
				if ctx.Err() != nil {
					return
				}
				logger.Error("redis blpop error", zap.Error(err))
				time.Sleep(time.Second)
				continue
			}
			if len(result) < 2 {
				logger.Warn("invalid blpop result", zap.Any("result", result))
				continue
			}
			q.processEvent(ctx, result[1], logger)
		}
	}
}

// processEvent 处理单个事件
func (q *EventQueue) processEvent(ctx context.Context, eventData string, logger *zap.Logger) {
	var event StandardEvent
	if err := json.Unmarshal([]byte(eventData), &event); err != nil {
		logger.Error("failed to unmarshal event", zap.Error(err))
		// 格式错误的事件直接丢弃
		return
	}

	retryCount, err := q.getRetryCount(ctx, event.EventID)
	if err != nil {
		logger.Error("failed to get retry count",
			zap.String("event_id", event.EventID),
			zap.Error(err))
	}

	if retryCount >= maxRetries {
		logger.Warn("event exceeded max retries, moving to DLQ ⚠️",
			zap.String("event_id", event.EventID),
			zap.String("event_type", string(event.EventType)),
			zap.Int("retry_count", retryCount))
		q.moveToDLQ(ctx, eventData, "max_retries_exceeded")
		q.count(event.EventType, "error")
		return
	}

	pushCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	statusCode, respBody, err := q.pusher.SendJSON(pushCtx, q.baseURL, &event)

	if err != nil || statusCode >= 500 {
		logger.Warn("event push failed, will retry",
			zap.String("event_id", event.EventID),
			zap.String("event_type", string(event.EventType)),
			zap.Int("status_code", statusCode),
			zap.Int("retry_count", retryCount+1),
			zap.Error(err))

		q.incrementRetryCount(ctx, event.EventID)

		// 指数退避后重新入队
		delay := time.Duration(1<<uint(retryCount)) * time.Second
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		if err := q.redis.RPush(ctx, eventQueueKey, eventData).Err(); err != nil {
			logger.Error("failed to re-enqueue event",
				zap.String("event_id", event.EventID),
				zap.Error(err))
			q.moveToDLQ(ctx, eventData, "re_enqueue_failed")
		}
		return
	}

	if statusCode >= 400 && statusCode < 500 {
		// 4xx 客户端错误不重试，直接进DLQ
		logger.Warn("event push client error, moving to DLQ",
			zap.String("event_id", event.EventID),
			zap.String("event_type", string(event.EventType)),
			zap.Int("status_code", statusCode),
			zap.ByteString("response", respBody))
		q.moveToDLQ(ctx, eventData, fmt.Sprintf("client_error_%d", statusCode))
		q.count(event.EventType, "error")
		return
	}

	logger.Info("event pushed ✅",
		zap.String("event_id", event.EventID),
		zap.String("event_type", string(event.EventType)),
		zap.Int("status_code", statusCode))
	q.count(event.EventType, "ok")
	q.deleteRetryCount(ctx, event.EventID)
}

func (q *EventQueue) count(event EventType, result string) {
	if q.metrics != nil {
		q.metrics.NotifyPushTotal.WithLabelValues(string(event), result).Inc()
	}
}

// moveToDLQ 移动事件到死信队列
func (q *EventQueue) moveToDLQ(ctx context.Context, eventData string, reason string) {
	dlqRecord := map[string]interface{}{
		"event_data": eventData,
		"reason":     reason,
		"timestamp":  time.Now().Unix(),
	}

	dlqData, err := json.Marshal(dlqRecord)
	if err != nil {
		q.logger.Error("failed to marshal dlq record", zap.Error(err))
		return
	}

	if err := q.redis.RPush(ctx, eventDLQKey, dlqData).Err(); err != nil {
		q.logger.Error("failed to move event to DLQ", zap.Error(err))
	}
}

// getRetryCount 获取重试次数
func (q *EventQueue) getRetryCount(ctx context.Context, eventID string) (int, error) {
	key := fmt.Sprintf(eventRetryKey, eventID)
	val, err := q.redis.Get(ctx, key).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var count int
	_, err = fmt.Sscanf(val, "%d", &count)
	return count, err
}

// incrementRetryCount 增加重试计数
func (q *EventQueue) incrementRetryCount(ctx context.Context, eventID string) {
	key := fmt.Sprintf(eventRetryKey, eventID)
	if _, err := q.redis.Incr(ctx, key).Result(); err != nil {
		q.logger.Error("failed to increment retry count",
			zap.String("event_id", eventID),
			zap.Error(err))
		return
	}
	q.redis.Expire(ctx, key, retryTTL)
}

// deleteRetryCount 删除重试计数
func (q *EventQueue) deleteRetryCount(ctx context.Context, eventID string) {
	key := fmt.Sprintf(eventRetryKey, eventID)
	q.redis.Del(ctx, key)
}

// QueueLength 获取队列长度
func (q *EventQueue) QueueLength(ctx context.Context) (int64, error) {
	if q == nil || q.redis == nil {
		return 0, fmt.Errorf("queue not initialized")
	}
	return q.redis.LLen(ctx, eventQueueKey).Result()
}

// DLQLength 获取死信队列长度
func (q *EventQueue) DLQLength(ctx context.Context) (int64, error) {
	if q == nil || q.redis == nil {
		return 0, fmt.Errorf("queue not initialized")
	}
	return q.redis.LLen(ctx, eventDLQKey).Result()
}

// GetDLQEvents 获取死信队列中的事件（用于人工处理）
func (q *EventQueue) GetDLQEvents(ctx context.Context, start, stop int64) ([]string, error) {
	if q == nil || q.redis == nil {
		return nil, fmt.Errorf("queue not initialized")
	}
	return q.redis.LRange(ctx, eventDLQKey, start, stop).Result()
}

// ClearDLQ 清空死信队列
func (q *EventQueue) ClearDLQ(ctx context.Context) error {
	if q == nil || q.redis == nil {
		return fmt.Errorf("queue not initialized")
	}
	return q.redis.Del(ctx, eventDLQKey).Err()
}
