package models

import "fmt"

// 事件种类
const (
	EventKindCore       = "core"
	EventKindCustom     = "custom"
	EventKindShelfAudit = "shelf_audit"
	EventKindReminder   = "reminder"
)

// 规则作用的实体类型
const (
	ModelDevice = "Device"
	ModelShelf  = "Shelf"
)

// 生命周期核心事件名
const (
	EventDeviceEnroll     = "device_enroll"
	EventDeviceUnenroll   = "device_unenroll"
	EventDeviceLoanAssign = "device_loan_assign"
	EventDeviceLoanReturn = "device_loan_return"
	EventShelfEnroll      = "shelf_enroll"
	EventShelfDisable     = "shelf_disable"
	EventShelfAudited     = "shelf_audited"
	EventShelfNeedsAudit  = "shelf_needs_audit"
)

// 条件比较运算符
const (
	OpLess         = "<"
	OpLessEqual    = "<="
	OpEqual        = "="
	OpNotEqual     = "!="
	OpGreaterEqual = ">="
	OpGreater      = ">"
)

// Condition 单个规则条件
// Value 为字面量或相对时间记号（如 "+3d"），相对时间在求值时换算
type Condition struct {
	Field string `json:"field"`
	Op    string `json:"op"`
	Value string `json:"value"`
}

// Event 事件配置（四种事件共用一张表，按 Kind 区分）
//   - core: 由生命周期代码按名称触发
//   - custom: 用户自定义规则，定时求值
//   - shelf_audit: 单例，货架盘点超期时触发
//   - reminder: 按提醒级别配置，Level 即 ID
type Event struct {
	Name           string      `json:"name"`
	Kind           string      `json:"kind"`
	Description    string      `json:"description,omitempty"`
	Model          string      `json:"model,omitempty"` // Device 或 Shelf（custom/reminder）
	Enabled        bool        `json:"enabled"`
	Actions        []string    `json:"actions"`
	Conditions     []Condition `json:"conditions,omitempty"`
	Level          *int        `json:"level,omitempty"`           // reminder 专用
	IntervalDays   int         `json:"interval_days,omitempty"`   // reminder：重复提醒间隔（天）
	RepeatInterval bool        `json:"repeat_interval,omitempty"` // reminder：是否允许重复提醒
	Template       string      `json:"template,omitempty"`        // reminder：邮件模板名
}

// ReminderEventName 提醒事件名，如 "reminder_level_0"
func ReminderEventName(level int) string {
	return fmt.Sprintf("reminder_level_%d", level)
}

// ReminderEventID 提醒事件的实体ID（级别的十进制字符串）
func ReminderEventID(level int) string {
	return fmt.Sprintf("%d", level)
}
