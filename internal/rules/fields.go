package rules

import (
	"fmt"
	"time"

	"gng-loaner/internal/models"
)

// 条件可引用的字段及其列类型
type fieldKind int

const (
	kindString fieldKind = iota
	kindBool
	kindInt
	kindTime
)

type fieldDef struct {
	column string
	kind   fieldKind
}

var deviceFields = map[string]fieldDef{
	"serial_number":            {"serial_number", kindString},
	"asset_tag":                {"asset_tag", kindString},
	"enrolled":                 {"enrolled", kindBool},
	"device_model":             {"device_model", kindString},
	"chrome_device_id":         {"chrome_device_id", kindString},
	"current_ou":               {"current_ou", kindString},
	"ou_changed_date":          {"ou_changed_date", kindTime},
	"assigned_user":            {"assigned_user", kindString},
	"assignment_date":          {"assignment_date", kindTime},
	"due_date":                 {"due_date", kindTime},
	"last_known_healthy":       {"last_known_healthy", kindTime},
	"last_heartbeat":           {"last_heartbeat", kindTime},
	"locked":                   {"locked", kindBool},
	"lost":                     {"lost", kindBool},
	"damaged":                  {"damaged", kindBool},
	"mark_pending_return_date": {"mark_pending_return_date", kindTime},
	"shelf_id":                 {"shelf_id", kindString},
	"last_reminder_level":      {"last_reminder_level", kindInt},
	"last_reminder_time":       {"last_reminder_time", kindTime},
	"next_reminder_level":      {"next_reminder_level", kindInt},
	"next_reminder_time":       {"next_reminder_time", kindTime},
}

var shelfFields = map[string]fieldDef{
	"location":                   {"location", kindString},
	"friendly_name":              {"friendly_name", kindString},
	"capacity":                   {"capacity", kindInt},
	"enabled":                    {"enabled", kindBool},
	"audit_notification_enabled": {"audit_notification_enabled", kindBool},
	"audit_requested":            {"audit_requested", kindBool},
	"last_audit_time":            {"last_audit_time", kindTime},
	"last_audit_by":              {"last_audit_by", kindString},
	"audit_interval_override":    {"audit_interval_override", kindInt},
	"responsible_for_audit":      {"responsible_for_audit", kindString},
}

func fieldsFor(model string) (map[string]fieldDef, error) {
	switch model {
	case models.ModelDevice:
		return deviceFields, nil
	case models.ModelShelf:
		return shelfFields, nil
	default:
		return nil, fmt.Errorf("unknown rule model: %s", model)
	}
}

// deviceValue 取设备字段值，第二个返回值表示字段是否有值
func deviceValue(d *models.Device, field string) (interface{}, bool) {
	switch field {
	case "serial_number":
		return d.SerialNumber, true
	case "asset_tag":
		if d.AssetTag == nil {
			return nil, false
		}
		return *d.AssetTag, true
	case "enrolled":
		return d.Enrolled, true
	case "device_model":
		return d.DeviceModel, true
	case "chrome_device_id":
		return d.ChromeDeviceID, true
	case "current_ou":
		return d.CurrentOU, true
	case "ou_changed_date":
		return timeValue(d.OUChangedDate)
	case "assigned_user":
		if d.AssignedUser == nil {
			return nil, false
		}
		return *d.AssignedUser, true
	case "assignment_date":
		return timeValue(d.AssignmentDate)
	case "due_date":
		return timeValue(d.DueDate)
	case "last_known_healthy":
		return timeValue(d.LastKnownHealthy)
	case "last_heartbeat":
		return timeValue(d.LastHeartbeat)
	case "locked":
		return d.Locked, true
	case "lost":
		return d.Lost, true
	case "damaged":
		return d.Damaged, true
	case "mark_pending_return_date":
		return timeValue(d.MarkPendingReturnDate)
	case "shelf_id":
		if d.ShelfID == nil {
			return nil, false
		}
		return *d.ShelfID, true
	case "last_reminder_level":
		if d.LastReminder == nil {
			return nil, false
		}
		return d.LastReminder.Level, true
	case "last_reminder_time":
		if d.LastReminder == nil {
			return nil, false
		}
		return d.LastReminder.Time, true
	case "next_reminder_level":
		if d.NextReminder == nil {
			return nil, false
		}
		return d.NextReminder.Level, true
	case "next_reminder_time":
		if d.NextReminder == nil {
			return nil, false
		}
		return d.NextReminder.Time, true
	}
	return nil, false
}

// shelfValue 取货架字段值
func shelfValue(s *models.Shelf, field string) (interface{}, bool) {
	switch field {
	case "location":
		return s.Location, true
	case "friendly_name":
		if s.FriendlyName == nil {
			return nil, false
		}
		return *s.FriendlyName, true
	case "capacity":
		return s.Capacity, true
	case "enabled":
		return s.Enabled, true
	case "audit_notification_enabled":
		return s.AuditNotificationEnabled, true
	case "audit_requested":
		return s.AuditRequested, true
	case "last_audit_time":
		return timeValue(s.LastAuditTime)
	case "last_audit_by":
		if s.LastAuditBy == nil {
			return nil, false
		}
		return *s.LastAuditBy, true
	case "audit_interval_override":
		if s.AuditIntervalOverride == nil {
			return nil, false
		}
		return *s.AuditIntervalOverride, true
	case "responsible_for_audit":
		return s.ResponsibleForAudit, true
	}
	return nil, false
}

func timeValue(t *time.Time) (interface{}, bool) {
	if t == nil {
		return nil, false
	}
	return *t, true
}
