package repository

import (
	"context"
	"database/sql"
	"fmt"

	"gng-loaner/internal/models"

	"go.uber.org/zap"
)

// TemplateRepository 通知模板仓库
type TemplateRepository struct {
	db      *sql.DB
	logger  *zap.Logger
	onWrite func()
}

// NewTemplateRepository 创建模板仓库
func NewTemplateRepository(db *sql.DB, logger *zap.Logger) *TemplateRepository {
	return &TemplateRepository{
		db:     db,
		logger: logger,
	}
}

// SetOnWrite 模板写入后的回调（渲染缓存失效）
func (r *TemplateRepository) SetOnWrite(fn func()) {
	r.onWrite = fn
}

// GetTemplate 按名称获取模板
func (r *TemplateRepository) GetTemplate(ctx context.Context, name string) (*models.Template, error) {
	if name == "" {
		return nil, fmt.Errorf("name is required")
	}

	var t models.Template
	var title sql.NullString

	err := r.db.QueryRowContext(ctx,
		`SELECT name, title, body FROM templates WHERE name = $1`, name,
	).Scan(&t.Name, &title, &t.Body)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get template: %w", err)
	}

	if title.Valid {
		t.Title = title.String
	}

	return &t, nil
}

// PutTemplate 写入模板（upsert）
func (r *TemplateRepository) PutTemplate(ctx context.Context, t *models.Template) error {
	if t == nil {
		return fmt.Errorf("template is required")
	}
	if t.Name == "" {
		return fmt.Errorf("name is required")
	}

	query := `
		INSERT INTO templates (name, title, body)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET
			title = EXCLUDED.title,
			body = EXCLUDED.body
	`

	_, err := r.db.ExecContext(ctx, query, t.Name, t.Title, t.Body)
	if err != nil {
		return fmt.Errorf("failed to put template: %w", err)
	}

	if r.onWrite != nil {
		r.onWrite()
	}

	return nil
}
