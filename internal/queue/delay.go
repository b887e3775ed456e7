package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"gng-loaner/internal/clock"
)

// delayedTask 有序集合成员，score 为触发时刻的 unix 秒
type delayedTask struct {
	ID      string            `json:"id"`
	Stream  string            `json:"stream"`
	Handler string            `json:"handler"`
	Payload map[string]string `json:"payload,omitempty"`
}

// DelayQueue 延迟任务：到点后搬运到任务流
// 搬运先入队后删除成员，崩溃时宁可重复不丢任务
type DelayQueue struct {
	client   *redis.Client
	logger   *zap.Logger
	queue    *Queue
	clk      clock.Clock
	setKey   string
	interval time.Duration
}

// NewDelayQueue 创建延迟队列
func NewDelayQueue(client *redis.Client, logger *zap.Logger, q *Queue, clk clock.Clock, setKey string, interval time.Duration) *DelayQueue {
	return &DelayQueue{
		client:   client,
		logger:   logger,
		queue:    q,
		clk:      clk,
		setKey:   setKey,
		interval: interval,
	}
}

// Schedule 登记一个在 fireAt 触发的任务
func (d *DelayQueue) Schedule(ctx context.Context, fireAt time.Time, stream, handler string, payload map[string]string) (string, error) {
	if stream == "" || handler == "" {
		return "", fmt.Errorf("stream and handler are required")
	}

	task := delayedTask{
		ID:      uuid.New().String(),
		Stream:  stream,
		Handler: handler,
		Payload: payload,
	}
	member, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("failed to marshal delayed task: %w", err)
	}

	err = d.client.ZAdd(ctx, d.setKey, &redis.Z{
		Score:  float64(fireAt.Unix()),
		Member: string(member),
	}).Err()
	if err != nil {
		return "", fmt.Errorf("failed to schedule delayed task: %w", err)
	}

	d.logger.Debug("delayed task scheduled",
		zap.String("task_id", task.ID),
		zap.String("handler", handler),
		zap.Time("fire_at", fireAt))

	return task.ID, nil
}

// Run 启动搬运循环，ctx 取消后返回
func (d *DelayQueue) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := d.MoveDue(ctx); err != nil {
				d.logger.Error("failed to move due tasks", zap.Error(err))
			}
		}
	}
}

// MoveDue 搬运所有已到点的任务
func (d *DelayQueue) MoveDue(ctx context.Context) error {
	now := d.clk.Now()
	members, err := d.client.ZRangeByScore(ctx, d.setKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now.Unix()),
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to read due tasks: %w", err)
	}

	for _, member := range members {
		var task delayedTask
		if err := json.Unmarshal([]byte(member), &task); err != nil {
			// 坏成员直接移除，留着只会反复失败
			d.logger.Error("invalid delayed task member, removing", zap.Error(err))
			d.client.ZRem(ctx, d.setKey, member)
			continue
		}

		if _, err := d.queue.Enqueue(ctx, task.Stream, task.Handler, task.Payload); err != nil {
			d.logger.Error("failed to enqueue due task",
				zap.String("task_id", task.ID),
				zap.Error(err))
			continue
		}

		if err := d.client.ZRem(ctx, d.setKey, member).Err(); err != nil {
			d.logger.Error("failed to remove moved task",
				zap.String("task_id", task.ID),
				zap.Error(err))
		}
	}

	return nil
}
