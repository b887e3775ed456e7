package models

import "time"

// Shelf 设备货架
type Shelf struct {
	ShelfID                  string     `json:"shelf_id"`
	Location                 string     `json:"location"`
	FriendlyName             *string    `json:"friendly_name,omitempty"`
	Capacity                 int        `json:"capacity"`
	Latitude                 *float64   `json:"latitude,omitempty"`
	Longitude                *float64   `json:"longitude,omitempty"`
	Altitude                 *float64   `json:"altitude,omitempty"`
	Enabled                  bool       `json:"enabled"`
	AuditNotificationEnabled bool       `json:"audit_notification_enabled"`
	AuditRequested           bool       `json:"audit_requested"`
	LastAuditTime            *time.Time `json:"last_audit_time,omitempty"`
	LastAuditBy              *string    `json:"last_audit_by,omitempty"`
	AuditIntervalOverride    *int       `json:"audit_interval_override,omitempty"` // 小时
	ResponsibleForAudit      string     `json:"responsible_for_audit,omitempty"`
	CreatedAt                time.Time  `json:"created_at"`
	UpdatedAt                time.Time  `json:"updated_at"`
}

// Identifier 货架展示标识：优先别名，其次位置
func (s *Shelf) Identifier() string {
	if s.FriendlyName != nil && *s.FriendlyName != "" {
		return *s.FriendlyName
	}
	return s.Location
}

// Audited 在全局盘点周期内是否已完成盘点
func (s *Shelf) Audited(now time.Time, globalIntervalHours int) bool {
	if s.LastAuditTime == nil {
		return false
	}
	return now.Before(s.LastAuditTime.Add(time.Duration(globalIntervalHours) * time.Hour))
}
