package models

import (
	"strings"
	"time"
)

// Reminder 设备借用提醒状态（嵌入 Device）
type Reminder struct {
	Level int       `json:"level"`
	Time  time.Time `json:"time"`
	Count int       `json:"count"`
}

// Device 借用设备
type Device struct {
	DeviceID              string     `json:"device_id"`
	SerialNumber          string     `json:"serial_number"`
	AssetTag              *string    `json:"asset_tag,omitempty"`
	Enrolled              bool       `json:"enrolled"`
	DeviceModel           string     `json:"device_model,omitempty"`
	ChromeDeviceID        string     `json:"chrome_device_id,omitempty"`
	CurrentOU             string     `json:"current_ou,omitempty"`
	OUChangedDate         *time.Time `json:"ou_changed_date,omitempty"`
	AssignedUser          *string    `json:"assigned_user,omitempty"`
	AssignmentDate        *time.Time `json:"assignment_date,omitempty"`
	DueDate               *time.Time `json:"due_date,omitempty"`
	LastKnownHealthy      *time.Time `json:"last_known_healthy,omitempty"`
	LastHeartbeat         *time.Time `json:"last_heartbeat,omitempty"`
	Locked                bool       `json:"locked"`
	Lost                  bool       `json:"lost"`
	Damaged               bool       `json:"damaged"`
	DamagedReason         *string    `json:"damaged_reason,omitempty"`
	MarkPendingReturnDate *time.Time `json:"mark_pending_return_date,omitempty"`
	ShelfID               *string    `json:"shelf_id,omitempty"`
	LastReminder          *Reminder  `json:"last_reminder,omitempty"`
	NextReminder          *Reminder  `json:"next_reminder,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// NormalizeIdentifier 序列号/资产标签统一小写去空白
func NormalizeIdentifier(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Identifier 设备展示标识：优先资产标签，其次序列号
func (d *Device) Identifier() string {
	if d.AssetTag != nil && *d.AssetTag != "" {
		return *d.AssetTag
	}
	return d.SerialNumber
}

// IsAssigned 是否已借出
func (d *Device) IsAssigned() bool {
	return d.AssignedUser != nil && *d.AssignedUser != ""
}

// IsOverdue 是否已超期
func (d *Device) IsOverdue(now time.Time) bool {
	return d.DueDate != nil && d.DueDate.Before(now)
}

// GuestEnabled 是否处于访客OU
func (d *Device) GuestEnabled(guestOU string) bool {
	return d.CurrentOU == guestOU
}
