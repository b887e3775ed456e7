package actions

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"gng-loaner/internal/adapters"
	"gng-loaner/internal/clock"
	"gng-loaner/internal/models"
	"gng-loaner/internal/queue"
	"gng-loaner/internal/repository"
)

// 动作使用的邮件模板名
const (
	TemplateWelcome      = "loan_welcome"
	TemplateThankYou     = "loan_return_thanks"
	TemplateAuditRequest = "shelf_audit_request"
)

// deviceStore 设备读写（由 repository.DeviceRepository 实现）
type deviceStore interface {
	GetDevice(ctx context.Context, deviceID string) (*models.Device, error)
	PutDevice(ctx context.Context, d *models.Device, meta repository.WriteMeta) error
}

// eventGetter 事件配置读取
type eventGetter interface {
	GetEvent(ctx context.Context, name string) (*models.Event, error)
}

// deviceLocker 设备锁定（由 lifecycle.DeviceService 实现）
type deviceLocker interface {
	Lock(ctx context.Context, actor, deviceID string) (*models.Device, error)
	DisableGuestMode(ctx context.Context, deviceID, expectedUser string) error
}

// auditRequester 货架盘点请求（由 lifecycle.ShelfService 实现）
type auditRequester interface {
	RequestAudit(ctx context.Context, shelfID string) (*models.Shelf, error)
}

// renderer 模板渲染（由 templates.Renderer 实现）
type renderer interface {
	Render(ctx context.Context, name string, data interface{}) (string, string, error)
}

// Runner 具名动作的执行器
// 同一套实现既服务队列任务（process_action），也被硬事件就地调用
type Runner struct {
	devices  deviceStore
	events   eventGetter
	locker   deviceLocker
	auditor  auditRequester
	renderer renderer
	email    adapters.EmailAdapter
	clk      clock.Clock
	logger   *zap.Logger
}

// NewRunner 创建动作执行器
func NewRunner(
	devices deviceStore,
	events eventGetter,
	locker deviceLocker,
	auditor auditRequester,
	rend renderer,
	email adapters.EmailAdapter,
	clk clock.Clock,
	logger *zap.Logger,
) *Runner {
	return &Runner{
		devices:  devices,
		events:   events,
		locker:   locker,
		auditor:  auditor,
		renderer: rend,
		email:    email,
		clk:      clk,
		logger:   logger,
	}
}

// RegisterAll 把队列处理函数挂到注册表；flush 为审计行落库任务
func (r *Runner) RegisterAll(reg *queue.Registry, flush func(ctx context.Context) error) error {
	if err := reg.Register("process_action", r.handleProcessAction); err != nil {
		return err
	}
	if err := reg.Register("disable_guest_mode", r.handleDisableGuestMode); err != nil {
		return err
	}
	if err := reg.Register("stream_rows", func(ctx context.Context, payload map[string]string) error {
		return flush(ctx)
	}); err != nil {
		return err
	}
	return nil
}

// handleProcessAction 队列任务：按 payload 里的动作名执行
func (r *Runner) handleProcessAction(ctx context.Context, payload map[string]string) error {
	action := payload["action"]
	if action == "" {
		return fmt.Errorf("payload has no action: %w", queue.ErrPermanentTaskFailure)
	}
	return r.Run(ctx, action, payload)
}

// handleDisableGuestMode 延迟任务：访客模式超时
func (r *Runner) handleDisableGuestMode(ctx context.Context, payload map[string]string) error {
	deviceID := payload["device_id"]
	if deviceID == "" {
		return fmt.Errorf("payload has no device_id: %w", queue.ErrPermanentTaskFailure)
	}
	return r.locker.DisableGuestMode(ctx, deviceID, payload["assigned_user"])
}

// Run 执行单个动作；未知动作永久失败
func (r *Runner) Run(ctx context.Context, action string, payload map[string]string) error {
	switch action {
	case "send_welcome":
		return r.sendDeviceMail(ctx, payload, TemplateWelcome)
	case "send_thank_you":
		return r.sendDeviceMail(ctx, payload, TemplateThankYou)
	case "send_reminder":
		return r.sendReminder(ctx, payload)
	case "lock_device":
		_, err := r.locker.Lock(ctx, "system", payload["device_id"])
		return err
	case "request_shelf_audit":
		return r.requestShelfAudit(ctx, payload)
	default:
		return fmt.Errorf("unknown action %q: %w", action, queue.ErrPermanentTaskFailure)
	}
}

// templateData 模板渲染数据
func templateData(d *models.Device, user string) map[string]string {
	data := map[string]string{
		"User":       user,
		"Identifier": d.Identifier(),
	}
	if d.DueDate != nil {
		data["DueDate"] = d.DueDate.Format("2006-01-02")
	}
	return data
}

// sendDeviceMail 给借用人发通知邮件
// 归还类事件里设备字段已清空，收件人取 payload 里的快照
func (r *Runner) sendDeviceMail(ctx context.Context, payload map[string]string, template string) error {
	d, err := r.devices.GetDevice(ctx, payload["device_id"])
	if err != nil {
		return err
	}
	if d == nil {
		return fmt.Errorf("device %s not found: %w", payload["device_id"], queue.ErrPermanentTaskFailure)
	}

	user := payload["assigned_user"]
	if user == "" && d.AssignedUser != nil {
		user = *d.AssignedUser
	}
	if user == "" {
		r.logger.Info("device has no recipient, skipping mail",
			zap.String("device_id", d.DeviceID),
			zap.String("template", template))
		return nil
	}

	title, body, err := r.renderer.Render(ctx, template, templateData(d, user))
	if err != nil {
		return err
	}
	return r.email.Send(ctx, []string{user}, title, body)
}

// sendReminder 发送催还邮件并推进提醒状态
func (r *Runner) sendReminder(ctx context.Context, payload map[string]string) error {
	d, err := r.devices.GetDevice(ctx, payload["device_id"])
	if err != nil {
		return err
	}
	if d == nil {
		return fmt.Errorf("device %s not found: %w", payload["device_id"], queue.ErrPermanentTaskFailure)
	}
	if d.NextReminder == nil {
		// 任务晚到，提醒已被归还等操作清掉
		r.logger.Info("reminder already cleared",
			zap.String("device_id", d.DeviceID))
		return nil
	}

	level := d.NextReminder.Level
	event, err := r.events.GetEvent(ctx, models.ReminderEventName(level))
	if err != nil {
		return err
	}
	if event == nil {
		return fmt.Errorf("reminder level %d not configured: %w", level, queue.ErrPermanentTaskFailure)
	}

	if d.IsAssigned() {
		template := event.Template
		if template == "" {
			template = models.ReminderEventName(level)
		}
		title, body, err := r.renderer.Render(ctx, template, templateData(d, *d.AssignedUser))
		if err != nil {
			return err
		}
		if err := r.email.Send(ctx, []string{*d.AssignedUser}, title, body); err != nil {
			return err
		}
	}

	now := r.clk.Now()
	count := 1
	if d.LastReminder != nil && d.LastReminder.Level == level {
		count = d.LastReminder.Count + 1
	}
	d.LastReminder = &models.Reminder{Level: level, Time: now, Count: count}
	d.NextReminder = nil

	meta := repository.WriteMeta{
		Actor:   "reminder-machine",
		Method:  "send_reminder",
		Summary: fmt.Sprintf("Sending level %d reminder for device %s.", level, d.Identifier()),
	}
	return r.devices.PutDevice(ctx, d, meta)
}

// requestShelfAudit 置位盘点请求并通知负责群组
func (r *Runner) requestShelfAudit(ctx context.Context, payload map[string]string) error {
	shelf, err := r.auditor.RequestAudit(ctx, payload["shelf_id"])
	if err != nil {
		return err
	}

	if shelf.ResponsibleForAudit == "" || !shelf.AuditNotificationEnabled {
		return nil
	}

	data := map[string]string{
		"Identifier": shelf.Identifier(),
		"Location":   shelf.Location,
	}
	title, body, err := r.renderer.Render(ctx, TemplateAuditRequest, data)
	if err != nil {
		// 通知失败不回滚盘点请求
		r.logger.Error("failed to render audit request mail",
			zap.String("shelf_id", shelf.ShelfID),
			zap.Error(err))
		return nil
	}
	if err := r.email.Send(ctx, []string{shelf.ResponsibleForAudit}, title, body); err != nil {
		r.logger.Error("failed to send audit request mail",
			zap.String("shelf_id", shelf.ShelfID),
			zap.Error(err))
	}
	return nil
}
