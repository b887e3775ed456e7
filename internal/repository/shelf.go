package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"gng-loaner/internal/models"

	"go.uber.org/zap"
)

// ShelfRepository 货架仓库
type ShelfRepository struct {
	db       *sql.DB
	logger   *zap.Logger
	afterPut AfterPutHook
}

// NewShelfRepository 创建货架仓库
func NewShelfRepository(db *sql.DB, logger *zap.Logger) *ShelfRepository {
	return &ShelfRepository{
		db:     db,
		logger: logger,
	}
}

// SetAfterPut 设置写入后回调
func (r *ShelfRepository) SetAfterPut(hook AfterPutHook) {
	r.afterPut = hook
}

const shelfColumns = `
	shelf_id,
	location,
	friendly_name,
	capacity,
	latitude,
	longitude,
	altitude,
	enabled,
	audit_notification_enabled,
	audit_requested,
	last_audit_time,
	last_audit_by,
	audit_interval_override,
	responsible_for_audit,
	created_at,
	updated_at
`

// scanShelf 扫描单行货架记录
func scanShelf(row rowScanner) (*models.Shelf, error) {
	var s models.Shelf
	var friendlyName, lastAuditBy sql.NullString
	var lat, lon, alt sql.NullFloat64
	var lastAuditTime sql.NullTime
	var override sql.NullInt64

	err := row.Scan(
		&s.ShelfID,
		&s.Location,
		&friendlyName,
		&s.Capacity,
		&lat,
		&lon,
		&alt,
		&s.Enabled,
		&s.AuditNotificationEnabled,
		&s.AuditRequested,
		&lastAuditTime,
		&lastAuditBy,
		&override,
		&s.ResponsibleForAudit,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if friendlyName.Valid {
		s.FriendlyName = &friendlyName.String
	}
	if lastAuditBy.Valid {
		s.LastAuditBy = &lastAuditBy.String
	}
	if lat.Valid {
		s.Latitude = &lat.Float64
	}
	if lon.Valid {
		s.Longitude = &lon.Float64
	}
	if alt.Valid {
		s.Altitude = &alt.Float64
	}
	if lastAuditTime.Valid {
		s.LastAuditTime = &lastAuditTime.Time
	}
	if override.Valid {
		n := int(override.Int64)
		s.AuditIntervalOverride = &n
	}

	return &s, nil
}

// GetShelf 按 shelf_id 获取货架
func (r *ShelfRepository) GetShelf(ctx context.Context, shelfID string) (*models.Shelf, error) {
	if shelfID == "" {
		return nil, fmt.Errorf("shelf_id is required")
	}

	query := fmt.Sprintf(`SELECT %s FROM shelves WHERE shelf_id = $1`, shelfColumns)

	shelf, err := scanShelf(r.db.QueryRowContext(ctx, query, shelfID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get shelf: %w", err)
	}

	return shelf, nil
}

// GetShelfByLocation 按位置获取货架（位置唯一）
func (r *ShelfRepository) GetShelfByLocation(ctx context.Context, location string) (*models.Shelf, error) {
	if location == "" {
		return nil, fmt.Errorf("location is required")
	}

	query := fmt.Sprintf(`SELECT %s FROM shelves WHERE location = $1`, shelfColumns)

	shelf, err := scanShelf(r.db.QueryRowContext(ctx, query, location))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get shelf by location: %w", err)
	}

	return shelf, nil
}

// PutShelf 写入货架（upsert），成功后同步触发写入回调
func (r *ShelfRepository) PutShelf(ctx context.Context, shelf *models.Shelf, meta WriteMeta) error {
	if shelf == nil {
		return fmt.Errorf("shelf is required")
	}
	if shelf.ShelfID == "" {
		return fmt.Errorf("shelf_id is required")
	}
	if shelf.Capacity < 1 {
		return fmt.Errorf("capacity must be >= 1")
	}
	// lat 与 lon 必须成对出现
	if (shelf.Latitude == nil) != (shelf.Longitude == nil) {
		return fmt.Errorf("latitude and longitude must be set together")
	}

	query := `
		INSERT INTO shelves (
			shelf_id,
			location,
			friendly_name,
			capacity,
			latitude,
			longitude,
			altitude,
			enabled,
			audit_notification_enabled,
			audit_requested,
			last_audit_time,
			last_audit_by,
			audit_interval_override,
			responsible_for_audit,
			created_at,
			updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			CURRENT_TIMESTAMP, CURRENT_TIMESTAMP
		)
		ON CONFLICT (shelf_id) DO UPDATE SET
			location = EXCLUDED.location,
			friendly_name = EXCLUDED.friendly_name,
			capacity = EXCLUDED.capacity,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			altitude = EXCLUDED.altitude,
			enabled = EXCLUDED.enabled,
			audit_notification_enabled = EXCLUDED.audit_notification_enabled,
			audit_requested = EXCLUDED.audit_requested,
			last_audit_time = EXCLUDED.last_audit_time,
			last_audit_by = EXCLUDED.last_audit_by,
			audit_interval_override = EXCLUDED.audit_interval_override,
			responsible_for_audit = EXCLUDED.responsible_for_audit,
			updated_at = CURRENT_TIMESTAMP
	`

	_, err := r.db.ExecContext(ctx, query,
		shelf.ShelfID,
		shelf.Location,
		shelf.FriendlyName,
		shelf.Capacity,
		shelf.Latitude,
		shelf.Longitude,
		shelf.Altitude,
		shelf.Enabled,
		shelf.AuditNotificationEnabled,
		shelf.AuditRequested,
		shelf.LastAuditTime,
		shelf.LastAuditBy,
		shelf.AuditIntervalOverride,
		shelf.ResponsibleForAudit,
	)
	if err != nil {
		return fmt.Errorf("failed to put shelf: %w", err)
	}

	if r.afterPut != nil {
		if err := r.afterPut(ctx, models.ModelShelf, shelf.ShelfID, shelf, meta); err != nil {
			return fmt.Errorf("shelf put hook failed: %w", err)
		}
	}

	return nil
}

// SelectShelves 按给定 WHERE 子句查询货架（规则引擎查询计划使用）
func (r *ShelfRepository) SelectShelves(ctx context.Context, whereSQL string, args []interface{}, orderBy string, limit, offset int) ([]*models.Shelf, error) {
	query := fmt.Sprintf(`SELECT %s FROM shelves`, shelfColumns)
	if whereSQL != "" {
		query += " WHERE " + whereSQL
	}
	if orderBy == "" {
		orderBy = "shelf_id"
	}
	query += fmt.Sprintf(" ORDER BY %s LIMIT %d OFFSET %d", orderBy, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select shelves: %w", err)
	}
	defer rows.Close()

	shelves := []*models.Shelf{}
	for rows.Next() {
		shelf, err := scanShelf(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan shelf: %w", err)
		}
		shelves = append(shelves, shelf)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate shelves: %w", err)
	}

	return shelves, nil
}

// ListAuditCandidates 查询盘点超期的货架
// 两类：无覆写且 last_audit_time 早于全局周期；有覆写且早于覆写周期
func (r *ShelfRepository) ListAuditCandidates(ctx context.Context, now time.Time, globalIntervalHours int) ([]*models.Shelf, error) {
	globalCutoff := now.Add(-time.Duration(globalIntervalHours) * time.Hour)

	query := fmt.Sprintf(`
		SELECT %s FROM shelves
		WHERE enabled = TRUE
		  AND audit_notification_enabled = TRUE
		  AND audit_requested = FALSE
		  AND last_audit_time IS NOT NULL
		  AND (
			(audit_interval_override IS NULL AND last_audit_time < $1)
			OR
			(audit_interval_override IS NOT NULL
			 AND last_audit_time < $2 - audit_interval_override * INTERVAL '1 hour')
		  )
		ORDER BY last_audit_time
	`, shelfColumns)

	rows, err := r.db.QueryContext(ctx, query, globalCutoff, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit candidates: %w", err)
	}
	defer rows.Close()

	shelves := []*models.Shelf{}
	for rows.Next() {
		shelf, err := scanShelf(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan shelf: %w", err)
		}
		shelves = append(shelves, shelf)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit candidates: %w", err)
	}

	return shelves, nil
}
