package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"gng-loaner/internal/adapters"
	"gng-loaner/internal/config"
	"gng-loaner/internal/models"
	"gng-loaner/internal/queue"
)

// warehouseEnvelope 落仓库的行载荷
type warehouseEnvelope struct {
	EntityKey string          `json:"ndb_key"`
	Timestamp time.Time       `json:"timestamp"`
	Actor     string          `json:"actor"`
	Method    string          `json:"method"`
	Summary   string          `json:"summary,omitempty"`
	Entity    json.RawMessage `json:"entity,omitempty"`
}

// Flusher 把未落库的审计行整批推送到数据仓库
type Flusher struct {
	rows      rowStore
	warehouse adapters.WarehouseAdapter
	logger    *zap.Logger
	cfg       config.AuditConfig
}

// NewFlusher 创建落库器
func NewFlusher(rows rowStore, warehouse adapters.WarehouseAdapter, logger *zap.Logger, cfg config.AuditConfig) *Flusher {
	return &Flusher{
		rows:      rows,
		warehouse: warehouse,
		logger:    logger,
		cfg:       cfg,
	}
}

// Flush 读取至多 MaxBatch 行，按实体类型分组推送，成功后标记已落库
// 仓库出错时中止，行保持未落库状态，由队列重试
func (f *Flusher) Flush(ctx context.Context) error {
	pending, err := f.rows.ListUnstreamed(ctx, f.cfg.MaxBatch)
	if err != nil {
		return fmt.Errorf("failed to list unstreamed rows: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	groups := make(map[string][]*models.AuditRow)
	for _, row := range pending {
		groups[row.ModelType] = append(groups[row.ModelType], row)
	}

	for modelType, rows := range groups {
		table := f.cfg.DatasetTable + "_" + strings.ToLower(modelType)

		batch := make([]adapters.WarehouseRow, 0, len(rows))
		ids := make([]string, 0, len(rows))
		for _, row := range rows {
			data, err := json.Marshal(warehouseEnvelope{
				EntityKey: row.EntityKey,
				Timestamp: row.Timestamp,
				Actor:     row.Actor,
				Method:    row.Method,
				Summary:   row.Summary,
				Entity:    row.Entity,
			})
			if err != nil {
				return fmt.Errorf("failed to marshal warehouse row: %w", err)
			}
			batch = append(batch, adapters.WarehouseRow{InsertID: row.RowID, Data: data})
			ids = append(ids, row.RowID)
		}

		if err := f.warehouse.StreamRows(ctx, table, batch); err != nil {
			if errors.Is(err, adapters.ErrDuplicateRows) {
				// 仓库已有这批行：本地补标记，任务不再重试
				if markErr := f.rows.MarkStreamed(ctx, ids); markErr != nil {
					f.logger.Error("failed to mark duplicate rows streamed", zap.Error(markErr))
				}
				return fmt.Errorf("warehouse rejected duplicate batch for %s: %w", table, queue.ErrPermanentTaskFailure)
			}
			return fmt.Errorf("failed to stream rows to %s: %w", table, err)
		}

		if err := f.rows.MarkStreamed(ctx, ids); err != nil {
			return fmt.Errorf("failed to mark rows streamed: %w", err)
		}

		f.logger.Info("audit rows streamed",
			zap.String("table", table),
			zap.Int("rows", len(ids)))
	}

	return nil
}
