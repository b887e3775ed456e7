package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"gng-loaner/internal/models"

	"go.uber.org/zap"
)

// EventRepository 事件配置仓库
// 四种事件（core/custom/shelf_audit/reminder）共用一张表，按 kind 区分
type EventRepository struct {
	db      *sql.DB
	logger  *zap.Logger
	onWrite func() // 写入后回调，用于失效事件→动作映射缓存
}

// NewEventRepository 创建事件配置仓库
func NewEventRepository(db *sql.DB, logger *zap.Logger) *EventRepository {
	return &EventRepository{
		db:     db,
		logger: logger,
	}
}

// SetOnWrite 注册写入后回调
func (r *EventRepository) SetOnWrite(fn func()) {
	r.onWrite = fn
}

const eventColumns = `
	name,
	kind,
	description,
	model,
	enabled,
	actions,
	conditions,
	level,
	interval_days,
	repeat_interval,
	template
`

// scanEvent 扫描单行事件配置
func scanEvent(row rowScanner) (*models.Event, error) {
	var e models.Event
	var description, model, template sql.NullString
	var actions, conditions []byte
	var level sql.NullInt64
	var intervalDays sql.NullInt64
	var repeatInterval sql.NullBool

	err := row.Scan(
		&e.Name,
		&e.Kind,
		&description,
		&model,
		&e.Enabled,
		&actions,
		&conditions,
		&level,
		&intervalDays,
		&repeatInterval,
		&template,
	)
	if err != nil {
		return nil, err
	}

	if description.Valid {
		e.Description = description.String
	}
	if model.Valid {
		e.Model = model.String
	}
	if template.Valid {
		e.Template = template.String
	}
	if level.Valid {
		n := int(level.Int64)
		e.Level = &n
	}
	if intervalDays.Valid {
		e.IntervalDays = int(intervalDays.Int64)
	}
	if repeatInterval.Valid {
		e.RepeatInterval = repeatInterval.Bool
	}

	// JSONB 字段
	if len(actions) > 0 {
		if err := json.Unmarshal(actions, &e.Actions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal actions: %w", err)
		}
	}
	if e.Actions == nil {
		e.Actions = []string{}
	}
	if len(conditions) > 0 {
		if err := json.Unmarshal(conditions, &e.Conditions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal conditions: %w", err)
		}
	}

	return &e, nil
}

// GetEvent 按名称获取事件配置
func (r *EventRepository) GetEvent(ctx context.Context, name string) (*models.Event, error) {
	if name == "" {
		return nil, fmt.Errorf("name is required")
	}

	query := fmt.Sprintf(`SELECT %s FROM events WHERE name = $1`, eventColumns)

	event, err := scanEvent(r.db.QueryRowContext(ctx, query, name))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}

	return event, nil
}

// ListEvents 列出全部事件配置（动作映射构建使用）
func (r *EventRepository) ListEvents(ctx context.Context) ([]*models.Event, error) {
	query := fmt.Sprintf(`SELECT %s FROM events ORDER BY name`, eventColumns)
	return r.queryEvents(ctx, query)
}

// ListByKind 按种类列出事件配置
func (r *EventRepository) ListByKind(ctx context.Context, kind string) ([]*models.Event, error) {
	if kind == "" {
		return nil, fmt.Errorf("kind is required")
	}

	query := fmt.Sprintf(`SELECT %s FROM events WHERE kind = $1 ORDER BY name`, eventColumns)
	return r.queryEvents(ctx, query, kind)
}

// ListEnabledCustomEvents 列出启用的自定义事件
func (r *EventRepository) ListEnabledCustomEvents(ctx context.Context) ([]*models.Event, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM events
		WHERE kind = $1 AND enabled = TRUE
		ORDER BY name
	`, eventColumns)
	return r.queryEvents(ctx, query, models.EventKindCustom)
}

// ListReminderEvents 按级别升序列出启用的提醒事件
func (r *EventRepository) ListReminderEvents(ctx context.Context) ([]*models.Event, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM events
		WHERE kind = $1 AND enabled = TRUE
		ORDER BY level
	`, eventColumns)
	return r.queryEvents(ctx, query, models.EventKindReminder)
}

// MaxReminderLevel 已配置的最高提醒级别（无提醒事件时返回 -1）
func (r *EventRepository) MaxReminderLevel(ctx context.Context) (int, error) {
	var level sql.NullInt64
	err := r.db.QueryRowContext(ctx,
		`SELECT MAX(level) FROM events WHERE kind = $1`, models.EventKindReminder,
	).Scan(&level)
	if err != nil {
		return -1, fmt.Errorf("failed to get max reminder level: %w", err)
	}
	if !level.Valid {
		return -1, nil
	}
	return int(level.Int64), nil
}

// GetShelfAuditEvent 获取货架盘点单例事件
func (r *EventRepository) GetShelfAuditEvent(ctx context.Context) (*models.Event, error) {
	return r.GetEvent(ctx, models.EventShelfNeedsAudit)
}

// PutEvent 写入事件配置（upsert），成功后触发缓存失效回调
func (r *EventRepository) PutEvent(ctx context.Context, event *models.Event) error {
	if event == nil {
		return fmt.Errorf("event is required")
	}
	if event.Name == "" {
		return fmt.Errorf("name is required")
	}
	switch event.Kind {
	case models.EventKindCore, models.EventKindCustom, models.EventKindShelfAudit, models.EventKindReminder:
	default:
		return fmt.Errorf("invalid event kind: %s", event.Kind)
	}
	if event.Kind == models.EventKindReminder && event.Level == nil {
		return fmt.Errorf("reminder event requires a level")
	}

	actions, err := json.Marshal(event.Actions)
	if err != nil {
		return fmt.Errorf("failed to marshal actions: %w", err)
	}
	conditions, err := json.Marshal(event.Conditions)
	if err != nil {
		return fmt.Errorf("failed to marshal conditions: %w", err)
	}

	query := `
		INSERT INTO events (
			name, kind, description, model, enabled,
			actions, conditions, level, interval_days, repeat_interval, template
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)
		ON CONFLICT (name) DO UPDATE SET
			kind = EXCLUDED.kind,
			description = EXCLUDED.description,
			model = EXCLUDED.model,
			enabled = EXCLUDED.enabled,
			actions = EXCLUDED.actions,
			conditions = EXCLUDED.conditions,
			level = EXCLUDED.level,
			interval_days = EXCLUDED.interval_days,
			repeat_interval = EXCLUDED.repeat_interval,
			template = EXCLUDED.template
	`

	_, err = r.db.ExecContext(ctx, query,
		event.Name,
		event.Kind,
		event.Description,
		event.Model,
		event.Enabled,
		actions,
		conditions,
		event.Level,
		event.IntervalDays,
		event.RepeatInterval,
		event.Template,
	)
	if err != nil {
		return fmt.Errorf("failed to put event: %w", err)
	}

	if r.onWrite != nil {
		r.onWrite()
	}

	return nil
}

func (r *EventRepository) queryEvents(ctx context.Context, query string, args ...interface{}) ([]*models.Event, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	events := []*models.Event{}
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}

	return events, nil
}
