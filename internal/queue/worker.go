package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"gng-loaner/internal/common/redisq"
)

// WorkerConfig 消费端配置
type WorkerConfig struct {
	Stream       string
	Group        string
	Consumer     string
	BatchSize    int64
	MaxAttempts  int64         // 超过该投递次数后确认并丢弃
	ClaimMinIdle time.Duration // 认领滞留消息的最小空闲时间
}

// Worker 单个流的消费循环
// 成功确认；临时失败留在 pending 等待认领重试；永久失败确认并丢弃
type Worker struct {
	client   *redis.Client
	logger   *zap.Logger
	cfg      WorkerConfig
	registry *Registry
}

// NewWorker 创建消费者
func NewWorker(client *redis.Client, logger *zap.Logger, cfg WorkerConfig, registry *Registry) *Worker {
	return &Worker{
		client:   client,
		logger:   logger,
		cfg:      cfg,
		registry: registry,
	}
}

// Run 启动消费循环，ctx 取消后返回
func (w *Worker) Run(ctx context.Context) error {
	if err := redisq.CreateConsumerGroup(ctx, w.client, w.cfg.Stream, w.cfg.Group); err != nil {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	w.logger.Info("worker started",
		zap.String("stream", w.cfg.Stream),
		zap.String("group", w.cfg.Group),
		zap.String("consumer", w.cfg.Consumer))

	claimTicker := time.NewTicker(w.cfg.ClaimMinIdle)
	defer claimTicker.Stop()

	// 读失败时指数退避，上限 30 秒
	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopped", zap.String("stream", w.cfg.Stream))
			return nil
		case <-claimTicker.C:
			w.claimStale(ctx)
		default:
		}

		messages, err := redisq.ReadFromStream(ctx, w.client, w.cfg.Stream, w.cfg.Group, w.cfg.Consumer, w.cfg.BatchSize, 5*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Error("failed to read from stream",
				zap.String("stream", w.cfg.Stream),
				zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			w.process(ctx, msg)
		}
	}
}

// claimStale 认领其他消费者长时间未确认的消息并重试
func (w *Worker) claimStale(ctx context.Context) {
	messages, err := redisq.ClaimStale(ctx, w.client, w.cfg.Stream, w.cfg.Group, w.cfg.Consumer, w.cfg.ClaimMinIdle, w.cfg.BatchSize)
	if err != nil {
		w.logger.Error("failed to claim stale messages",
			zap.String("stream", w.cfg.Stream),
			zap.Error(err))
		return
	}
	for _, msg := range messages {
		w.process(ctx, msg)
	}
}

// process 派发一条消息
func (w *Worker) process(ctx context.Context, msg redisq.StreamMessage) {
	payload := make(map[string]string, len(msg.Values))
	for k, v := range msg.Values {
		if s, ok := v.(string); ok {
			payload[k] = s
		}
	}

	taskID := payload[fieldTaskID]
	handlerName := payload[fieldHandler]
	delete(payload, fieldVersion)
	delete(payload, fieldTaskID)
	delete(payload, fieldHandler)

	log := w.logger.With(
		zap.String("stream", w.cfg.Stream),
		zap.String("message_id", msg.ID),
		zap.String("task_id", taskID),
		zap.String("handler", handlerName))

	handler, ok := w.registry.Lookup(handlerName)
	if !ok {
		// 未注册的处理函数重试也不会成功
		log.Error("unknown handler, dropping task")
		w.ack(ctx, msg.ID, log)
		return
	}

	if w.cfg.MaxAttempts > 0 {
		attempts, err := redisq.PendingCount(ctx, w.client, w.cfg.Stream, w.cfg.Group, msg.ID)
		if err != nil {
			log.Warn("failed to read delivery count", zap.Error(err))
		} else if attempts > w.cfg.MaxAttempts {
			log.Error("max attempts exceeded, dropping task", zap.Int64("attempts", attempts))
			w.ack(ctx, msg.ID, log)
			return
		}
	}

	if err := handler(ctx, payload); err != nil {
		if errors.Is(err, ErrPermanentTaskFailure) {
			log.Error("task failed permanently, dropping", zap.Error(err))
			w.ack(ctx, msg.ID, log)
			return
		}
		// 临时失败：不确认，留在 pending，由认领循环重试
		log.Warn("task failed, will retry", zap.Error(err))
		return
	}

	w.ack(ctx, msg.ID, log)
}

func (w *Worker) ack(ctx context.Context, messageID string, log *zap.Logger) {
	if err := redisq.Ack(ctx, w.client, w.cfg.Stream, w.cfg.Group, messageID); err != nil {
		log.Error("failed to ack message", zap.Error(err))
	}
}
