package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"gng-loaner/internal/clock"
	"gng-loaner/internal/config"
	"gng-loaner/internal/models"
	"gng-loaner/internal/repository"
)

// rowStore 审计行存取（由 repository.AuditRowRepository 实现）
type rowStore interface {
	Insert(ctx context.Context, row *models.AuditRow) error
	CountUnstreamed(ctx context.Context) (int, error)
	OldestUnstreamed(ctx context.Context) (*time.Time, error)
	ListUnstreamed(ctx context.Context, limit int) ([]*models.AuditRow, error)
	MarkStreamed(ctx context.Context, rowIDs []string) error
}

// enqueuer 任务入队（由 queue.Queue 实现）
type enqueuer interface {
	Enqueue(ctx context.Context, stream, handler string, payload map[string]string) (string, error)
}

// InsertID 审计行的确定性 ID：五元组哈希，仓库端按它去重
func InsertID(entityKey string, ts time.Time, actor, method, summary string) string {
	h := sha256.New()
	h.Write([]byte(entityKey))
	h.Write([]byte{0})
	h.Write([]byte(ts.UTC().Format(time.RFC3339Nano)))
	h.Write([]byte{0})
	h.Write([]byte(actor))
	h.Write([]byte{0})
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(summary))
	return hex.EncodeToString(h.Sum(nil))
}

// Recorder 写后钩子：每次实体落库追加一条审计行
// 追加失败使业务写入整体失败；落库任务入队失败只告警，周期扫描会兜底
type Recorder struct {
	rows   rowStore
	queue  enqueuer
	clk    clock.Clock
	logger *zap.Logger
	cfg    config.AuditConfig
	stream string

	mu          sync.Mutex
	lastEnqueue time.Time
}

// NewRecorder 创建审计记录器
func NewRecorder(rows rowStore, queue enqueuer, clk clock.Clock, logger *zap.Logger, cfg config.AuditConfig, stream string) *Recorder {
	return &Recorder{
		rows:   rows,
		queue:  queue,
		clk:    clk,
		logger: logger,
		cfg:    cfg,
		stream: stream,
	}
}

// AfterPut 实现 repository.AfterPutHook
func (r *Recorder) AfterPut(ctx context.Context, modelType, entityID string, entity interface{}, meta repository.WriteMeta) error {
	if meta.Actor == "" || meta.Method == "" {
		return fmt.Errorf("write meta actor and method are required")
	}

	snapshot, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("failed to marshal entity snapshot: %w", err)
	}

	ts := r.clk.Now().UTC()
	entityKey := modelType + ":" + entityID

	row := &models.AuditRow{
		RowID:     InsertID(entityKey, ts, meta.Actor, meta.Method, meta.Summary),
		EntityKey: entityKey,
		ModelType: modelType,
		Timestamp: ts,
		Actor:     meta.Actor,
		Method:    meta.Method,
		Summary:   meta.Summary,
		Entity:    snapshot,
	}

	if err := r.rows.Insert(ctx, row); err != nil {
		return fmt.Errorf("failed to record audit row: %w", err)
	}

	r.maybeEnqueueFlush(ctx)
	return nil
}

// maybeEnqueueFlush 行数或最老行年龄越过阈值时触发落库任务
// 同一时刻只保持一个在途任务：上一次入队后 TimeThreshold 内不再重复触发
func (r *Recorder) maybeEnqueueFlush(ctx context.Context) {
	count, err := r.rows.CountUnstreamed(ctx)
	if err != nil {
		r.logger.Warn("failed to count unstreamed rows", zap.Error(err))
		return
	}

	due := count >= r.cfg.SizeThreshold
	if !due && count > 0 {
		oldest, err := r.rows.OldestUnstreamed(ctx)
		if err != nil {
			r.logger.Warn("failed to read oldest unstreamed row", zap.Error(err))
			return
		}
		due = oldest != nil && r.clk.Now().Sub(*oldest) >= r.cfg.TimeThreshold
	}
	if !due {
		return
	}

	now := r.clk.Now()
	r.mu.Lock()
	if !r.lastEnqueue.IsZero() && now.Sub(r.lastEnqueue) < r.cfg.TimeThreshold {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	if _, err := r.queue.Enqueue(ctx, r.stream, "stream_rows", nil); err != nil {
		r.logger.Warn("failed to enqueue stream_rows task", zap.Error(err))
		return
	}

	r.mu.Lock()
	r.lastEnqueue = now
	r.mu.Unlock()
}
