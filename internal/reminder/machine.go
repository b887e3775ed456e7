package reminder

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"gng-loaner/internal/clock"
	"gng-loaner/internal/config"
	"gng-loaner/internal/models"
	"gng-loaner/internal/repository"
)

// 提醒状态机写入实体时使用的操作者
const machineActor = "reminder-machine"

const remindBatchSize = 100

// deviceStore 设备读写（由 repository.DeviceRepository 实现）
type deviceStore interface {
	PutDevice(ctx context.Context, d *models.Device, meta repository.WriteMeta) error
	ListDueReminders(ctx context.Context, now time.Time, limit, offset int) ([]*models.Device, error)
}

// eventStore 提醒级别配置读取
type eventStore interface {
	ListReminderEvents(ctx context.Context) ([]*models.Event, error)
}

// evaluator 设备规则求值（由 rules.Engine 实现）
type evaluator interface {
	EvaluateDevices(ctx context.Context, conds []models.Condition, fn func(*models.Device) error) error
}

// eventRaiser 事件派发（由 dispatch.Dispatcher 实现）
type eventRaiser interface {
	RaiseEvent(ctx context.Context, event string, payload map[string]string) error
}

// Machine 借用提醒状态机
// 两个阶段各自由调度器驱动：先找出该提醒的设备打点，再对到点设备触发事件
type Machine struct {
	devices    deviceStore
	events     eventStore
	engine     evaluator
	dispatcher eventRaiser
	clk        clock.Clock
	logger     *zap.Logger
	cfg        config.LoanerConfig
}

// NewMachine 创建提醒状态机
func NewMachine(devices deviceStore, events eventStore, engine evaluator, dispatcher eventRaiser, clk clock.Clock, logger *zap.Logger, cfg config.LoanerConfig) *Machine {
	return &Machine{
		devices:    devices,
		events:     events,
		engine:     engine,
		dispatcher: dispatcher,
		clk:        clk,
		logger:     logger,
		cfg:        cfg,
	}
}

// FindRemindableDevices 第一阶段：按每个提醒级别的条件找设备，写 next_reminder
// 单个设备写入失败不影响其余设备
func (m *Machine) FindRemindableDevices(ctx context.Context) error {
	events, err := m.events.ListReminderEvents(ctx)
	if err != nil {
		return fmt.Errorf("failed to list reminder levels: %w", err)
	}

	now := m.clk.Now()
	delay := time.Duration(m.cfg.ReminderDelayHours) * time.Hour

	for _, event := range events {
		if !event.Enabled || event.Level == nil {
			continue
		}
		level := *event.Level

		err := m.engine.EvaluateDevices(ctx, event.Conditions, func(d *models.Device) error {
			if m.shouldSkip(d, event, level, now) {
				return nil
			}

			count := 0
			if d.LastReminder != nil && d.LastReminder.Level == level {
				count = d.LastReminder.Count
			}
			d.NextReminder = &models.Reminder{
				Level: level,
				Time:  now.Add(delay),
				Count: count,
			}

			meta := repository.WriteMeta{
				Actor:   machineActor,
				Method:  "find_remindable_devices",
				Summary: fmt.Sprintf("Scheduling level %d reminder for device %s.", level, d.Identifier()),
			}
			if err := m.devices.PutDevice(ctx, d, meta); err != nil {
				m.logger.Error("failed to schedule reminder",
					zap.String("device_id", d.DeviceID),
					zap.Int("level", level),
					zap.Error(err))
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	return nil
}

// shouldSkip 设备是否跳过本级别的打点
func (m *Machine) shouldSkip(d *models.Device, event *models.Event, level int, now time.Time) bool {
	// 自报归还宽限期内不催
	if d.MarkPendingReturnDate != nil {
		grace := time.Duration(m.cfg.ReturnGracePeriodMin) * time.Minute
		if now.Before(d.MarkPendingReturnDate.Add(grace)) {
			return true
		}
	}

	// 同级别已经打过点，等它触发
	if d.NextReminder != nil && d.NextReminder.Level == level {
		return true
	}

	// 同级别已提醒过：不允许重复，或重复间隔未到
	if d.LastReminder != nil && d.LastReminder.Level == level {
		if !event.RepeatInterval {
			return true
		}
		interval := time.Duration(event.IntervalDays) * 24 * time.Hour
		if now.Sub(d.LastReminder.Time) < interval {
			return true
		}
	}

	return false
}

// RemindForDevices 第二阶段：对 next_reminder 到点的设备触发对应级别事件
// 单个设备派发失败不影响其余设备
func (m *Machine) RemindForDevices(ctx context.Context) error {
	now := m.clk.Now()
	offset := 0

	for {
		batch, err := m.devices.ListDueReminders(ctx, now, remindBatchSize, offset)
		if err != nil {
			return fmt.Errorf("failed to list due reminders: %w", err)
		}

		for _, d := range batch {
			if d.NextReminder == nil {
				continue
			}
			level := d.NextReminder.Level
			payload := map[string]string{
				"device_id": d.DeviceID,
				"level":     strconv.Itoa(level),
			}
			if err := m.dispatcher.RaiseEvent(ctx, models.ReminderEventName(level), payload); err != nil {
				m.logger.Error("failed to raise reminder event",
					zap.String("device_id", d.DeviceID),
					zap.Int("level", level),
					zap.Error(err))
			}
		}

		if len(batch) < remindBatchSize {
			return nil
		}
		offset += remindBatchSize
	}
}
