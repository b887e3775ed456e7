package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"gng-loaner/internal/models"

	"go.uber.org/zap"
)

// DeviceRepository 设备仓库
type DeviceRepository struct {
	db       *sql.DB
	logger   *zap.Logger
	afterPut AfterPutHook
}

// NewDeviceRepository 创建设备仓库
func NewDeviceRepository(db *sql.DB, logger *zap.Logger) *DeviceRepository {
	return &DeviceRepository{
		db:     db,
		logger: logger,
	}
}

// SetAfterPut 设置写入后回调（接线时由审计记录器注册）
func (r *DeviceRepository) SetAfterPut(hook AfterPutHook) {
	r.afterPut = hook
}

// deviceColumns SELECT 列清单（与 scanDevice 顺序一致）
const deviceColumns = `
	device_id,
	serial_number,
	asset_tag,
	enrolled,
	device_model,
	chrome_device_id,
	current_ou,
	ou_changed_date,
	assigned_user,
	assignment_date,
	due_date,
	last_known_healthy,
	last_heartbeat,
	locked,
	lost,
	damaged,
	damaged_reason,
	mark_pending_return_date,
	shelf_id,
	last_reminder_level,
	last_reminder_time,
	last_reminder_count,
	next_reminder_level,
	next_reminder_time,
	next_reminder_count,
	created_at,
	updated_at
`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanDevice 扫描单行设备记录
func scanDevice(row rowScanner) (*models.Device, error) {
	var d models.Device
	var assetTag, assignedUser, damagedReason, shelfID sql.NullString
	var ouChanged, assignmentDate, dueDate, lastHealthy, lastHeartbeat, pendingReturn sql.NullTime
	var lastLevel, lastCount, nextLevel, nextCount sql.NullInt64
	var lastTime, nextTime sql.NullTime

	err := row.Scan(
		&d.DeviceID,
		&d.SerialNumber,
		&assetTag,
		&d.Enrolled,
		&d.DeviceModel,
		&d.ChromeDeviceID,
		&d.CurrentOU,
		&ouChanged,
		&assignedUser,
		&assignmentDate,
		&dueDate,
		&lastHealthy,
		&lastHeartbeat,
		&d.Locked,
		&d.Lost,
		&d.Damaged,
		&damagedReason,
		&pendingReturn,
		&shelfID,
		&lastLevel,
		&lastTime,
		&lastCount,
		&nextLevel,
		&nextTime,
		&nextCount,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	// 处理可空字段
	if assetTag.Valid {
		d.AssetTag = &assetTag.String
	}
	if assignedUser.Valid {
		d.AssignedUser = &assignedUser.String
	}
	if damagedReason.Valid {
		d.DamagedReason = &damagedReason.String
	}
	if shelfID.Valid {
		d.ShelfID = &shelfID.String
	}
	if ouChanged.Valid {
		d.OUChangedDate = &ouChanged.Time
	}
	if assignmentDate.Valid {
		d.AssignmentDate = &assignmentDate.Time
	}
	if dueDate.Valid {
		d.DueDate = &dueDate.Time
	}
	if lastHealthy.Valid {
		d.LastKnownHealthy = &lastHealthy.Time
	}
	if lastHeartbeat.Valid {
		d.LastHeartbeat = &lastHeartbeat.Time
	}
	if pendingReturn.Valid {
		d.MarkPendingReturnDate = &pendingReturn.Time
	}

	// 嵌入的提醒状态（level/time/count 三列同存同空）
	if lastLevel.Valid && lastTime.Valid {
		d.LastReminder = &models.Reminder{
			Level: int(lastLevel.Int64),
			Time:  lastTime.Time,
			Count: int(lastCount.Int64),
		}
	}
	if nextLevel.Valid && nextTime.Valid {
		d.NextReminder = &models.Reminder{
			Level: int(nextLevel.Int64),
			Time:  nextTime.Time,
			Count: int(nextCount.Int64),
		}
	}

	return &d, nil
}

// reminderArgs 嵌入提醒状态展开为 SQL 参数
func reminderArgs(rem *models.Reminder) (interface{}, interface{}, interface{}) {
	if rem == nil {
		return nil, nil, nil
	}
	return rem.Level, rem.Time, rem.Count
}

// GetDevice 按 device_id 获取设备
func (r *DeviceRepository) GetDevice(ctx context.Context, deviceID string) (*models.Device, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("device_id is required")
	}

	query := fmt.Sprintf(`SELECT %s FROM devices WHERE device_id = $1`, deviceColumns)

	device, err := scanDevice(r.db.QueryRowContext(ctx, query, deviceID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get device: %w", err)
	}

	return device, nil
}

// GetDeviceBySerial 按序列号获取设备（序列号已归一化）
func (r *DeviceRepository) GetDeviceBySerial(ctx context.Context, serial string) (*models.Device, error) {
	if serial == "" {
		return nil, fmt.Errorf("serial_number is required")
	}

	query := fmt.Sprintf(`SELECT %s FROM devices WHERE serial_number = $1`, deviceColumns)

	device, err := scanDevice(r.db.QueryRowContext(ctx, query, models.NormalizeIdentifier(serial)))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get device by serial: %w", err)
	}

	return device, nil
}

// GetDeviceByAssetTag 按资产标签获取设备
func (r *DeviceRepository) GetDeviceByAssetTag(ctx context.Context, assetTag string) (*models.Device, error) {
	if assetTag == "" {
		return nil, fmt.Errorf("asset_tag is required")
	}

	query := fmt.Sprintf(`SELECT %s FROM devices WHERE asset_tag = $1`, deviceColumns)

	device, err := scanDevice(r.db.QueryRowContext(ctx, query, models.NormalizeIdentifier(assetTag)))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get device by asset tag: %w", err)
	}

	return device, nil
}

// PutDevice 写入设备（upsert），成功后同步触发写入回调
func (r *DeviceRepository) PutDevice(ctx context.Context, device *models.Device, meta WriteMeta) error {
	if device == nil {
		return fmt.Errorf("device is required")
	}
	if device.DeviceID == "" {
		return fmt.Errorf("device_id is required")
	}

	lastLevel, lastTime, lastCount := reminderArgs(device.LastReminder)
	nextLevel, nextTime, nextCount := reminderArgs(device.NextReminder)

	query := `
		INSERT INTO devices (
			device_id,
			serial_number,
			asset_tag,
			enrolled,
			device_model,
			chrome_device_id,
			current_ou,
			ou_changed_date,
			assigned_user,
			assignment_date,
			due_date,
			last_known_healthy,
			last_heartbeat,
			locked,
			lost,
			damaged,
			damaged_reason,
			mark_pending_return_date,
			shelf_id,
			last_reminder_level,
			last_reminder_time,
			last_reminder_count,
			next_reminder_level,
			next_reminder_time,
			next_reminder_count,
			created_at,
			updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25,
			CURRENT_TIMESTAMP, CURRENT_TIMESTAMP
		)
		ON CONFLICT (device_id) DO UPDATE SET
			serial_number = EXCLUDED.serial_number,
			asset_tag = EXCLUDED.asset_tag,
			enrolled = EXCLUDED.enrolled,
			device_model = EXCLUDED.device_model,
			chrome_device_id = EXCLUDED.chrome_device_id,
			current_ou = EXCLUDED.current_ou,
			ou_changed_date = EXCLUDED.ou_changed_date,
			assigned_user = EXCLUDED.assigned_user,
			assignment_date = EXCLUDED.assignment_date,
			due_date = EXCLUDED.due_date,
			last_known_healthy = EXCLUDED.last_known_healthy,
			last_heartbeat = EXCLUDED.last_heartbeat,
			locked = EXCLUDED.locked,
			lost = EXCLUDED.lost,
			damaged = EXCLUDED.damaged,
			damaged_reason = EXCLUDED.damaged_reason,
			mark_pending_return_date = EXCLUDED.mark_pending_return_date,
			shelf_id = EXCLUDED.shelf_id,
			last_reminder_level = EXCLUDED.last_reminder_level,
			last_reminder_time = EXCLUDED.last_reminder_time,
			last_reminder_count = EXCLUDED.last_reminder_count,
			next_reminder_level = EXCLUDED.next_reminder_level,
			next_reminder_time = EXCLUDED.next_reminder_time,
			next_reminder_count = EXCLUDED.next_reminder_count,
			updated_at = CURRENT_TIMESTAMP
	`

	_, err := r.db.ExecContext(ctx, query,
		device.DeviceID,
		models.NormalizeIdentifier(device.SerialNumber),
		normalizedPtr(device.AssetTag),
		device.Enrolled,
		device.DeviceModel,
		device.ChromeDeviceID,
		device.CurrentOU,
		device.OUChangedDate,
		device.AssignedUser,
		device.AssignmentDate,
		device.DueDate,
		device.LastKnownHealthy,
		device.LastHeartbeat,
		device.Locked,
		device.Lost,
		device.Damaged,
		device.DamagedReason,
		device.MarkPendingReturnDate,
		device.ShelfID,
		lastLevel, lastTime, lastCount,
		nextLevel, nextTime, nextCount,
	)
	if err != nil {
		return fmt.Errorf("failed to put device: %w", err)
	}

	if r.afterPut != nil {
		if err := r.afterPut(ctx, models.ModelDevice, device.DeviceID, device, meta); err != nil {
			return fmt.Errorf("device put hook failed: %w", err)
		}
	}

	return nil
}

// SelectDevices 按给定 WHERE 子句查询设备（规则引擎查询计划使用）
// whereSQL 为空时查询全部；orderBy 为空时按 device_id 排序保证分页稳定
func (r *DeviceRepository) SelectDevices(ctx context.Context, whereSQL string, args []interface{}, orderBy string, limit, offset int) ([]*models.Device, error) {
	query := fmt.Sprintf(`SELECT %s FROM devices`, deviceColumns)
	if whereSQL != "" {
		query += " WHERE " + whereSQL
	}
	if orderBy == "" {
		orderBy = "device_id"
	}
	query += fmt.Sprintf(" ORDER BY %s LIMIT %d OFFSET %d", orderBy, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select devices: %w", err)
	}
	defer rows.Close()

	devices := []*models.Device{}
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		devices = append(devices, device)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate devices: %w", err)
	}

	return devices, nil
}

// ListDueReminders 查询 next_reminder_time 已到的设备（提醒阶段二）
func (r *DeviceRepository) ListDueReminders(ctx context.Context, now time.Time, limit, offset int) ([]*models.Device, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM devices
		WHERE next_reminder_time IS NOT NULL
		  AND next_reminder_time <= $1
		ORDER BY next_reminder_time
		LIMIT %d OFFSET %d
	`, deviceColumns, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list due reminders: %w", err)
	}
	defer rows.Close()

	devices := []*models.Device{}
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		devices = append(devices, device)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate due reminders: %w", err)
	}

	return devices, nil
}

// normalizedPtr 归一化可空标识
func normalizedPtr(s *string) interface{} {
	if s == nil || *s == "" {
		return nil
	}
	return models.NormalizeIdentifier(*s)
}
