package rules

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"gng-loaner/internal/clock"
	"gng-loaner/internal/models"
)

// 单批查询的行数
const evalBatchSize = 500

// deviceSelector 设备查询（由 repository.DeviceRepository 实现）
type deviceSelector interface {
	SelectDevices(ctx context.Context, whereSQL string, args []interface{}, orderBy string, limit, offset int) ([]*models.Device, error)
}

// shelfSelector 货架查询（由 repository.ShelfRepository 实现）
type shelfSelector interface {
	SelectShelves(ctx context.Context, whereSQL string, args []interface{}, orderBy string, limit, offset int) ([]*models.Shelf, error)
}

// Engine 规则求值引擎
// 分批拉取候选实体，内存过滤后逐个回调
// 查询失败只记日志不回调任何实体：宁可这轮漏发，不能错发
type Engine struct {
	devices deviceSelector
	shelves shelfSelector
	clk     clock.Clock
	logger  *zap.Logger
}

// NewEngine 创建求值引擎
func NewEngine(devices deviceSelector, shelves shelfSelector, clk clock.Clock, logger *zap.Logger) *Engine {
	return &Engine{
		devices: devices,
		shelves: shelves,
		clk:     clk,
		logger:  logger,
	}
}

// EvaluateDevices 对设备求值，fn 返回错误即中止
func (e *Engine) EvaluateDevices(ctx context.Context, conds []models.Condition, fn func(*models.Device) error) error {
	now := e.clk.Now()
	plan, err := Compile(models.ModelDevice, conds, now)
	if err != nil {
		// 条件在写入时已校验过，走到这里说明配置被绕过了校验
		e.logger.Error("failed to compile device rule", zap.Error(err))
		return nil
	}

	offset := 0
	for {
		batch, err := e.devices.SelectDevices(ctx, plan.Where, plan.Args, "device_id", evalBatchSize, offset)
		if err != nil {
			e.logger.Error("device rule query failed", zap.Error(err))
			return nil
		}
		for _, d := range batch {
			if !plan.MatchDevice(d) {
				continue
			}
			if err := fn(d); err != nil {
				return err
			}
		}
		if len(batch) < evalBatchSize {
			return nil
		}
		offset += evalBatchSize
	}
}

// EvaluateShelves 对货架求值
func (e *Engine) EvaluateShelves(ctx context.Context, conds []models.Condition, fn func(*models.Shelf) error) error {
	now := e.clk.Now()
	plan, err := Compile(models.ModelShelf, conds, now)
	if err != nil {
		e.logger.Error("failed to compile shelf rule", zap.Error(err))
		return nil
	}

	offset := 0
	for {
		batch, err := e.shelves.SelectShelves(ctx, plan.Where, plan.Args, "shelf_id", evalBatchSize, offset)
		if err != nil {
			e.logger.Error("shelf rule query failed", zap.Error(err))
			return nil
		}
		for _, s := range batch {
			if !plan.MatchShelf(s) {
				continue
			}
			if err := fn(s); err != nil {
				return err
			}
		}
		if len(batch) < evalBatchSize {
			return nil
		}
		offset += evalBatchSize
	}
}

// Evaluate 按事件配置求值，命中的实体以 ID 回调
func (e *Engine) Evaluate(ctx context.Context, event *models.Event, fn func(entityID string) error) error {
	switch event.Model {
	case models.ModelDevice:
		return e.EvaluateDevices(ctx, event.Conditions, func(d *models.Device) error {
			return fn(d.DeviceID)
		})
	case models.ModelShelf:
		return e.EvaluateShelves(ctx, event.Conditions, func(s *models.Shelf) error {
			return fn(s.ShelfID)
		})
	default:
		return fmt.Errorf("event %s has unknown model: %s", event.Name, event.Model)
	}
}
