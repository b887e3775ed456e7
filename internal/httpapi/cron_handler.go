package httpapi

import (
	"context"
	"net/http"

	"go.uber.org/zap"
)

// sweepRunner 定时巡检任务（由 scheduler.Sweeps 实现）
type sweepRunner interface {
	RunCustomEvents(ctx context.Context) error
	RunReminderEvents(ctx context.Context, findRemindable, remindForDevices bool) error
	RunShelfAuditEvents(ctx context.Context) error
	SyncUserRoles(ctx context.Context) error
}

// CronHandler /cron/* 入口
type CronHandler struct {
	sweeps sweepRunner
	logger *zap.Logger
}

func NewCronHandler(sweeps sweepRunner, logger *zap.Logger) *CronHandler {
	return &CronHandler{sweeps: sweeps, logger: logger}
}

func (c *CronHandler) RunCustomEvents(w http.ResponseWriter, req *http.Request) {
	if err := c.sweeps.RunCustomEvents(req.Context()); err != nil {
		c.logger.Error("custom event sweep failed", zap.Error(err))
		fail(w, http.StatusInternalServerError, err.Error())
		return
	}
	ok(w, "custom events processed")
}

func (c *CronHandler) RunReminderEvents(w http.ResponseWriter, req *http.Request) {
	query := req.URL.Query()
	find := query.Get("find_remindable_devices") == "true"
	remind := query.Get("remind_for_devices") == "true"
	if !find && !remind {
		fail(w, http.StatusBadRequest, "find_remindable_devices or remind_for_devices is required")
		return
	}

	if err := c.sweeps.RunReminderEvents(req.Context(), find, remind); err != nil {
		c.logger.Error("reminder sweep failed", zap.Error(err))
		fail(w, http.StatusInternalServerError, err.Error())
		return
	}
	ok(w, "reminder events processed")
}

func (c *CronHandler) RunShelfAuditEvents(w http.ResponseWriter, req *http.Request) {
	if err := c.sweeps.RunShelfAuditEvents(req.Context()); err != nil {
		c.logger.Error("shelf audit sweep failed", zap.Error(err))
		fail(w, http.StatusInternalServerError, err.Error())
		return
	}
	ok(w, "shelf audit events processed")
}

func (c *CronHandler) SyncUserRoles(w http.ResponseWriter, req *http.Request) {
	if err := c.sweeps.SyncUserRoles(req.Context()); err != nil {
		c.logger.Error("role sync failed", zap.Error(err))
		fail(w, http.StatusInternalServerError, err.Error())
		return
	}
	ok(w, "user roles synced")
}
