package dispatch

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"gng-loaner/internal/models"
)

// eventStore 事件配置读取（由 repository.EventRepository 实现）
type eventStore interface {
	ListEvents(ctx context.Context) ([]*models.Event, error)
}

// enqueuer 任务入队（由 queue.Queue 实现）
type enqueuer interface {
	Enqueue(ctx context.Context, stream, handler string, payload map[string]string) (string, error)
}

// ActionRunner 同步执行单个动作（由 actions.Runner 实现）
type ActionRunner func(ctx context.Context, action string, payload map[string]string) error

// Dispatcher 事件到动作的派发器
// 映射按需构建并缓存，事件配置写入时失效重建
type Dispatcher struct {
	events eventStore
	queue  enqueuer
	runner ActionRunner
	logger *zap.Logger
	stream string

	mu      sync.RWMutex
	mapping map[string][]string
	loaded  bool
}

// NewDispatcher 创建派发器，stream 为动作任务流
func NewDispatcher(events eventStore, queue enqueuer, runner ActionRunner, logger *zap.Logger, stream string) *Dispatcher {
	return &Dispatcher{
		events: events,
		queue:  queue,
		runner: runner,
		logger: logger,
		stream: stream,
	}
}

// Invalidate 丢弃缓存的映射，下次派发时重建
// 接到 repository.EventRepository.SetOnWrite 上
func (d *Dispatcher) Invalidate() {
	d.mu.Lock()
	d.loaded = false
	d.mapping = nil
	d.mu.Unlock()
}

// actionsFor 取事件对应的动作列表，未知事件返回空
func (d *Dispatcher) actionsFor(ctx context.Context, event string) ([]string, error) {
	d.mu.RLock()
	if d.loaded {
		actions := d.mapping[event]
		d.mu.RUnlock()
		return actions, nil
	}
	d.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.loaded {
		events, err := d.events.ListEvents(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to build action mapping: %w", err)
		}
		mapping := make(map[string][]string, len(events))
		for _, e := range events {
			if !e.Enabled || len(e.Actions) == 0 {
				continue
			}
			mapping[e.Name] = e.Actions
		}
		d.mapping = mapping
		d.loaded = true
	}

	return d.mapping[event], nil
}

// RaiseEvent 异步派发：每个动作入队一个 process_action 任务
// 事件没有动作不算错误，记一条日志返回
func (d *Dispatcher) RaiseEvent(ctx context.Context, event string, payload map[string]string) error {
	actions, err := d.actionsFor(ctx, event)
	if err != nil {
		return err
	}
	if len(actions) == 0 {
		d.logger.Info("event has no actions", zap.String("event", event))
		return nil
	}

	for _, action := range actions {
		taskPayload := make(map[string]string, len(payload)+2)
		for k, v := range payload {
			taskPayload[k] = v
		}
		taskPayload["event"] = event
		taskPayload["action"] = action

		if _, err := d.queue.Enqueue(ctx, d.stream, "process_action", taskPayload); err != nil {
			return fmt.Errorf("failed to enqueue action %s for event %s: %w", action, event, err)
		}
	}

	d.logger.Debug("event dispatched",
		zap.String("event", event),
		zap.Int("actions", len(actions)))

	return nil
}

// RaiseEventSync 同步派发：动作就地执行，首个失败即返回
// 用于失败必须阻断调用方的事件（如设备注册）
func (d *Dispatcher) RaiseEventSync(ctx context.Context, event string, payload map[string]string) error {
	actions, err := d.actionsFor(ctx, event)
	if err != nil {
		return err
	}
	if len(actions) == 0 {
		d.logger.Info("event has no actions", zap.String("event", event))
		return nil
	}

	for _, action := range actions {
		taskPayload := make(map[string]string, len(payload)+2)
		for k, v := range payload {
			taskPayload[k] = v
		}
		taskPayload["event"] = event
		taskPayload["action"] = action

		if err := d.runner(ctx, action, taskPayload); err != nil {
			return fmt.Errorf("action %s for event %s failed: %w", action, event, err)
		}
	}

	return nil
}
