package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"gng-loaner/internal/adapters"
	"gng-loaner/internal/clock"
	"gng-loaner/internal/config"
	"gng-loaner/internal/models"
)

// eventStore 事件配置读取（由 repository.EventRepository 实现）
type eventStore interface {
	ListEnabledCustomEvents(ctx context.Context) ([]*models.Event, error)
	GetShelfAuditEvent(ctx context.Context) (*models.Event, error)
}

// evaluator 规则求值（由 rules.Engine 实现）
type evaluator interface {
	Evaluate(ctx context.Context, event *models.Event, fn func(entityID string) error) error
}

// eventRaiser 事件派发（由 dispatch.Dispatcher 实现）
type eventRaiser interface {
	RaiseEvent(ctx context.Context, event string, payload map[string]string) error
}

// reminderMachine 提醒状态机两个阶段
type reminderMachine interface {
	FindRemindableDevices(ctx context.Context) error
	RemindForDevices(ctx context.Context) error
}

// shelfLister 盘点超期货架查询（由 repository.ShelfRepository 实现）
type shelfLister interface {
	ListAuditCandidates(ctx context.Context, now time.Time, globalIntervalHours int) ([]*models.Shelf, error)
}

// roleStore 角色与成员读写（由 repository.UserRepository 实现）
type roleStore interface {
	ListRolesWithGroup(ctx context.Context) ([]*models.Role, error)
	ListUserEmailsWithRole(ctx context.Context, role string) ([]string, error)
	AddUserRole(ctx context.Context, email, role string) error
	RemoveUserRole(ctx context.Context, email, role string) error
}

// groupLister 目录服务群组成员查询
type groupLister interface {
	ListGroupMembers(ctx context.Context, group string) ([]string, error)
}

// Sweeps 定时巡检任务集合，由 HTTP cron 入口触发
type Sweeps struct {
	events    eventStore
	engine    evaluator
	dispatch  eventRaiser
	machine   reminderMachine
	shelves   shelfLister
	roles     roleStore
	directory groupLister
	clk       clock.Clock
	logger    *zap.Logger
	cfg       config.LoanerConfig
}

// NewSweeps 创建巡检任务集合
func NewSweeps(
	events eventStore,
	engine evaluator,
	dispatch eventRaiser,
	machine reminderMachine,
	shelves shelfLister,
	roles roleStore,
	directory adapters.DirectoryAdapter,
	clk clock.Clock,
	logger *zap.Logger,
	cfg config.LoanerConfig,
) *Sweeps {
	return &Sweeps{
		events:    events,
		engine:    engine,
		dispatch:  dispatch,
		machine:   machine,
		shelves:   shelves,
		roles:     roles,
		directory: directory,
		clk:       clk,
		logger:    logger,
		cfg:       cfg,
	}
}

// RunCustomEvents 对所有启用的自定义事件求值并派发
// 单个事件求值失败或单个实体派发失败只记日志，不中断整个巡检
func (s *Sweeps) RunCustomEvents(ctx context.Context) error {
	events, err := s.events.ListEnabledCustomEvents(ctx)
	if err != nil {
		return fmt.Errorf("failed to list custom events: %w", err)
	}

	for _, event := range events {
		event := event
		idKey := "device_id"
		if event.Model == models.ModelShelf {
			idKey = "shelf_id"
		}

		err := s.engine.Evaluate(ctx, event, func(entityID string) error {
			payload := map[string]string{
				"model": event.Model,
				idKey:   entityID,
			}
			if err := s.dispatch.RaiseEvent(ctx, event.Name, payload); err != nil {
				s.logger.Error("failed to raise custom event",
					zap.String("event", event.Name),
					zap.String("entity_id", entityID),
					zap.Error(err))
			}
			return nil
		})
		if err != nil {
			s.logger.Error("failed to evaluate custom event",
				zap.String("event", event.Name),
				zap.Error(err))
		}
	}

	return nil
}

// RunReminderEvents 驱动提醒状态机；两个阶段由调用方按标志选择
func (s *Sweeps) RunReminderEvents(ctx context.Context, findRemindable, remindForDevices bool) error {
	if !findRemindable && !remindForDevices {
		return fmt.Errorf("no reminder phase selected")
	}
	if findRemindable {
		if err := s.machine.FindRemindableDevices(ctx); err != nil {
			return err
		}
	}
	if remindForDevices {
		if err := s.machine.RemindForDevices(ctx); err != nil {
			return err
		}
	}
	return nil
}

// RunShelfAuditEvents 对盘点超期的货架触发 shelf_needs_audit
// 巡检关闭或事件未配置/未启用时直接返回
func (s *Sweeps) RunShelfAuditEvents(ctx context.Context) error {
	if !s.cfg.ShelfAuditEnabled {
		s.logger.Warn("shelf audit sweep is disabled")
		return nil
	}

	event, err := s.events.GetShelfAuditEvent(ctx)
	if err != nil {
		return fmt.Errorf("failed to load shelf audit event: %w", err)
	}
	if event == nil || !event.Enabled {
		s.logger.Warn("shelf audit event is not enabled")
		return nil
	}

	shelves, err := s.shelves.ListAuditCandidates(ctx, s.clk.Now(), s.cfg.ShelfAuditIntervalHrs)
	if err != nil {
		return fmt.Errorf("failed to list audit candidates: %w", err)
	}

	for _, shelf := range shelves {
		payload := map[string]string{"shelf_id": shelf.ShelfID}
		if err := s.dispatch.RaiseEvent(ctx, models.EventShelfNeedsAudit, payload); err != nil {
			s.logger.Error("failed to raise shelf audit event",
				zap.String("shelf_id", shelf.ShelfID),
				zap.Error(err))
		}
	}

	return nil
}

// SyncUserRoles 把目录服务群组成员同步到关联角色
// 单个角色同步失败只记日志，继续处理其余角色
func (s *Sweeps) SyncUserRoles(ctx context.Context) error {
	roles, err := s.roles.ListRolesWithGroup(ctx)
	if err != nil {
		return fmt.Errorf("failed to list roles: %w", err)
	}

	for _, role := range roles {
		if err := s.syncRole(ctx, role); err != nil {
			s.logger.Error("failed to sync role",
				zap.String("role", role.Name),
				zap.String("group", role.AssociatedGroup),
				zap.Error(err))
		}
	}

	return nil
}

func (s *Sweeps) syncRole(ctx context.Context, role *models.Role) error {
	members, err := s.directory.ListGroupMembers(ctx, role.AssociatedGroup)
	if err != nil {
		return fmt.Errorf("failed to list group members: %w", err)
	}

	current, err := s.roles.ListUserEmailsWithRole(ctx, role.Name)
	if err != nil {
		return fmt.Errorf("failed to list role members: %w", err)
	}

	want := make(map[string]bool, len(members))
	for _, email := range members {
		want[email] = true
	}
	have := make(map[string]bool, len(current))
	for _, email := range current {
		have[email] = true
	}

	for email := range want {
		if have[email] {
			continue
		}
		if err := s.roles.AddUserRole(ctx, email, role.Name); err != nil {
			s.logger.Error("failed to add user role",
				zap.String("email", email),
				zap.String("role", role.Name),
				zap.Error(err))
		}
	}
	for email := range have {
		if want[email] {
			continue
		}
		if err := s.roles.RemoveUserRole(ctx, email, role.Name); err != nil {
			s.logger.Error("failed to remove user role",
				zap.String("email", email),
				zap.String("role", role.Name),
				zap.Error(err))
		}
	}

	return nil
}
