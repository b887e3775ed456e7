package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"gng-loaner/internal/common/redisq"
)

// ErrPermanentTaskFailure 任务永久失败，确认后丢弃，不再重试
var ErrPermanentTaskFailure = errors.New("permanent task failure")

// 消息保留字段，入队时写入，派发前剥离
const (
	fieldVersion = "v"
	fieldTaskID  = "task_id"
	fieldHandler = "handler"

	payloadVersion = "1"
)

// Handler 任务处理函数，收到的 payload 不含保留字段
type Handler func(ctx context.Context, payload map[string]string) error

// Queue 基于 Redis Streams 的持久任务队列（生产端）
type Queue struct {
	client *redis.Client
	logger *zap.Logger
}

// NewQueue 创建任务队列
func NewQueue(client *redis.Client, logger *zap.Logger) *Queue {
	return &Queue{
		client: client,
		logger: logger,
	}
}

// Enqueue 入队一个任务
// payload 必须是扁平字符串映射；实体引用只传 ID，处理函数自行回读
func (q *Queue) Enqueue(ctx context.Context, stream, handler string, payload map[string]string) (string, error) {
	if stream == "" || handler == "" {
		return "", fmt.Errorf("stream and handler are required")
	}

	taskID := uuid.New().String()
	values := map[string]interface{}{
		fieldVersion: payloadVersion,
		fieldTaskID:  taskID,
		fieldHandler: handler,
	}
	for k, v := range payload {
		if k == fieldVersion || k == fieldTaskID || k == fieldHandler {
			return "", fmt.Errorf("payload key %q is reserved", k)
		}
		values[k] = v
	}

	msgID, err := redisq.PublishToStream(ctx, q.client, stream, values)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue task: %w", err)
	}

	q.logger.Debug("task enqueued",
		zap.String("stream", stream),
		zap.String("handler", handler),
		zap.String("task_id", taskID),
		zap.String("message_id", msgID))

	return taskID, nil
}

// Registry 任务处理函数注册表，启动阶段写入，运行期只读
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry 创建注册表
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register 注册处理函数，重名视为接线错误
func (r *Registry) Register(name string, h Handler) error {
	if name == "" || h == nil {
		return fmt.Errorf("handler name and func are required")
	}
	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("handler %q already registered", name)
	}
	r.handlers[name] = h
	return nil
}

// Lookup 查找处理函数
func (r *Registry) Lookup(name string) (Handler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}
