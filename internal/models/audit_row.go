package models

import (
	"encoding/json"
	"time"
)

// AuditRow 审计行：每次状态变更写入一行，之后批量落库到数据仓库
// 只追加，不更新（落库成功后仅翻转 Streamed）
type AuditRow struct {
	RowID     string          `json:"row_id"`
	EntityKey string          `json:"ndb_key"` // 来源实体键，如 "Device:<id>"
	ModelType string          `json:"model_type"`
	Timestamp time.Time       `json:"timestamp"`
	Actor     string          `json:"actor"`
	Method    string          `json:"method"`
	Summary   string          `json:"summary"`
	Entity    json.RawMessage `json:"entity,omitempty"` // 变更后实体快照
	Streamed  bool            `json:"streamed"`
}
