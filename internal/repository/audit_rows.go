package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"gng-loaner/internal/models"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// AuditRowRepository 审计行仓库（只追加；落库成功后仅翻转 streamed）
type AuditRowRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAuditRowRepository 创建审计行仓库
func NewAuditRowRepository(db *sql.DB, logger *zap.Logger) *AuditRowRepository {
	return &AuditRowRepository{
		db:     db,
		logger: logger,
	}
}

const auditRowColumns = `
	row_id,
	entity_key,
	model_type,
	ts,
	actor,
	method,
	summary,
	entity,
	streamed
`

// scanAuditRow 扫描单行审计记录
func scanAuditRow(row rowScanner) (*models.AuditRow, error) {
	var a models.AuditRow
	var entity []byte

	err := row.Scan(
		&a.RowID,
		&a.EntityKey,
		&a.ModelType,
		&a.Timestamp,
		&a.Actor,
		&a.Method,
		&a.Summary,
		&entity,
		&a.Streamed,
	)
	if err != nil {
		return nil, err
	}

	if len(entity) > 0 {
		a.Entity = entity
	}

	return &a, nil
}

// Insert 追加审计行
// row_id 由调用方按内容稳定生成，重复插入被 ON CONFLICT 吞掉（客户端幂等）
func (r *AuditRowRepository) Insert(ctx context.Context, row *models.AuditRow) error {
	if row == nil {
		return fmt.Errorf("row is required")
	}
	if row.RowID == "" {
		return fmt.Errorf("row_id is required")
	}
	if row.EntityKey == "" || row.Actor == "" || row.Method == "" {
		return fmt.Errorf("entity_key, actor and method are required")
	}

	query := `
		INSERT INTO audit_rows (
			row_id, entity_key, model_type, ts, actor, method, summary, entity, streamed
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, FALSE
		)
		ON CONFLICT (row_id) DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, query,
		row.RowID,
		row.EntityKey,
		row.ModelType,
		row.Timestamp,
		row.Actor,
		row.Method,
		row.Summary,
		[]byte(row.Entity),
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit row: %w", err)
	}

	return nil
}

// CountUnstreamed 统计未落库行数
func (r *AuditRowRepository) CountUnstreamed(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit_rows WHERE streamed = FALSE`,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unstreamed rows: %w", err)
	}
	return count, nil
}

// OldestUnstreamed 最老未落库行的时间（无未落库行时返回 nil）
func (r *AuditRowRepository) OldestUnstreamed(ctx context.Context) (*time.Time, error) {
	var ts sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`SELECT MIN(ts) FROM audit_rows WHERE streamed = FALSE`,
	).Scan(&ts)
	if err != nil {
		return nil, fmt.Errorf("failed to get oldest unstreamed row: %w", err)
	}
	if !ts.Valid {
		return nil, nil
	}
	return &ts.Time, nil
}

// ListUnstreamed 按时间升序取未落库行
func (r *AuditRowRepository) ListUnstreamed(ctx context.Context, limit int) ([]*models.AuditRow, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM audit_rows
		WHERE streamed = FALSE
		ORDER BY ts
		LIMIT %d
	`, auditRowColumns, limit)

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list unstreamed rows: %w", err)
	}
	defer rows.Close()

	result := []*models.AuditRow{}
	for rows.Next() {
		row, err := scanAuditRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit row: %w", err)
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit rows: %w", err)
	}

	return result, nil
}

// MarkStreamed 批量翻转 streamed=TRUE
func (r *AuditRowRepository) MarkStreamed(ctx context.Context, rowIDs []string) error {
	if len(rowIDs) == 0 {
		return nil
	}

	_, err := r.db.ExecContext(ctx,
		`UPDATE audit_rows SET streamed = TRUE WHERE row_id = ANY($1)`,
		pq.Array(rowIDs),
	)
	if err != nil {
		return fmt.Errorf("failed to mark rows streamed: %w", err)
	}

	return nil
}
