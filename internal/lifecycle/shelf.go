package lifecycle

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gng-loaner/internal/clock"
	"gng-loaner/internal/models"
	"gng-loaner/internal/repository"
)

// shelfStore 货架读写（由 repository.ShelfRepository 实现）
type shelfStore interface {
	GetShelf(ctx context.Context, shelfID string) (*models.Shelf, error)
	GetShelfByLocation(ctx context.Context, location string) (*models.Shelf, error)
	PutShelf(ctx context.Context, s *models.Shelf, meta repository.WriteMeta) error
}

// ShelfService 货架生命周期操作
type ShelfService struct {
	shelves    shelfStore
	dispatcher eventRaiser
	clk        clock.Clock
	logger     *zap.Logger
}

// NewShelfService 创建货架生命周期服务
func NewShelfService(shelves shelfStore, dispatcher eventRaiser, clk clock.Clock, logger *zap.Logger) *ShelfService {
	return &ShelfService{
		shelves:    shelves,
		dispatcher: dispatcher,
		clk:        clk,
		logger:     logger,
	}
}

func (s *ShelfService) getShelf(ctx context.Context, shelfID string) (*models.Shelf, error) {
	shelf, err := s.shelves.GetShelf(ctx, shelfID)
	if err != nil {
		return nil, err
	}
	if shelf == nil {
		return nil, fmt.Errorf("shelf %s: %w", shelfID, ErrShelfNotFound)
	}
	return shelf, nil
}

func (s *ShelfService) raiseSoft(ctx context.Context, event string, shelf *models.Shelf) {
	payload := map[string]string{"shelf_id": shelf.ShelfID}
	if err := s.dispatcher.RaiseEvent(ctx, event, payload); err != nil {
		s.logger.Error("failed to raise event",
			zap.String("event", event),
			zap.String("shelf_id", shelf.ShelfID),
			zap.Error(err))
	}
}

// Enroll 登记货架；同位置的旧货架复活而不是新建
func (s *ShelfService) Enroll(ctx context.Context, actor string, shelf *models.Shelf) (*models.Shelf, error) {
	if shelf == nil || shelf.Location == "" {
		return nil, fmt.Errorf("shelf location is required")
	}

	existing, err := s.shelves.GetShelfByLocation(ctx, shelf.Location)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		existing.FriendlyName = shelf.FriendlyName
		existing.Capacity = shelf.Capacity
		existing.Latitude = shelf.Latitude
		existing.Longitude = shelf.Longitude
		existing.Altitude = shelf.Altitude
		existing.AuditNotificationEnabled = shelf.AuditNotificationEnabled
		existing.AuditIntervalOverride = shelf.AuditIntervalOverride
		existing.ResponsibleForAudit = shelf.ResponsibleForAudit
		existing.Enabled = true
		shelf = existing
	} else {
		shelf.ShelfID = uuid.New().String()
		shelf.Enabled = true
	}

	s.raiseSoft(ctx, models.EventShelfEnroll, shelf)

	meta := repository.WriteMeta{
		Actor:   actor,
		Method:  "enroll",
		Summary: fmt.Sprintf("Enrolling shelf %s.", shelf.Identifier()),
	}
	if err := s.shelves.PutShelf(ctx, shelf, meta); err != nil {
		return nil, err
	}

	return shelf, nil
}

// Edit 修改货架属性
func (s *ShelfService) Edit(ctx context.Context, actor string, updated *models.Shelf) (*models.Shelf, error) {
	shelf, err := s.getShelf(ctx, updated.ShelfID)
	if err != nil {
		return nil, err
	}

	shelf.FriendlyName = updated.FriendlyName
	shelf.Capacity = updated.Capacity
	shelf.Latitude = updated.Latitude
	shelf.Longitude = updated.Longitude
	shelf.Altitude = updated.Altitude
	shelf.AuditNotificationEnabled = updated.AuditNotificationEnabled
	shelf.AuditIntervalOverride = updated.AuditIntervalOverride
	shelf.ResponsibleForAudit = updated.ResponsibleForAudit

	meta := repository.WriteMeta{
		Actor:   actor,
		Method:  "edit",
		Summary: fmt.Sprintf("Editing shelf %s.", shelf.Identifier()),
	}
	if err := s.shelves.PutShelf(ctx, shelf, meta); err != nil {
		return nil, err
	}

	return shelf, nil
}

// Enable 启用货架
func (s *ShelfService) Enable(ctx context.Context, actor, shelfID string) (*models.Shelf, error) {
	shelf, err := s.getShelf(ctx, shelfID)
	if err != nil {
		return nil, err
	}

	shelf.Enabled = true

	meta := repository.WriteMeta{
		Actor:   actor,
		Method:  "enable",
		Summary: fmt.Sprintf("Enabling shelf %s.", shelf.Identifier()),
	}
	if err := s.shelves.PutShelf(ctx, shelf, meta); err != nil {
		return nil, err
	}

	return shelf, nil
}

// Disable 停用货架
func (s *ShelfService) Disable(ctx context.Context, actor, shelfID string) (*models.Shelf, error) {
	shelf, err := s.getShelf(ctx, shelfID)
	if err != nil {
		return nil, err
	}

	shelf.Enabled = false

	s.raiseSoft(ctx, models.EventShelfDisable, shelf)

	meta := repository.WriteMeta{
		Actor:   actor,
		Method:  "disable",
		Summary: fmt.Sprintf("Disabling shelf %s.", shelf.Identifier()),
	}
	if err := s.shelves.PutShelf(ctx, shelf, meta); err != nil {
		return nil, err
	}

	return shelf, nil
}

// Audit 完成盘点：刷新盘点时间，清除盘点请求
func (s *ShelfService) Audit(ctx context.Context, actor, shelfID string) (*models.Shelf, error) {
	shelf, err := s.getShelf(ctx, shelfID)
	if err != nil {
		return nil, err
	}

	now := s.clk.Now()
	shelf.LastAuditTime = &now
	shelf.LastAuditBy = &actor
	shelf.AuditRequested = false

	s.raiseSoft(ctx, models.EventShelfAudited, shelf)

	meta := repository.WriteMeta{
		Actor:   actor,
		Method:  "audit",
		Summary: fmt.Sprintf("Auditing shelf %s.", shelf.Identifier()),
	}
	if err := s.shelves.PutShelf(ctx, shelf, meta); err != nil {
		return nil, err
	}

	return shelf, nil
}

// RequestAudit 盘点超期时由动作回调：置位盘点请求
func (s *ShelfService) RequestAudit(ctx context.Context, shelfID string) (*models.Shelf, error) {
	shelf, err := s.getShelf(ctx, shelfID)
	if err != nil {
		return nil, err
	}
	if shelf.AuditRequested {
		return shelf, nil
	}

	shelf.AuditRequested = true

	meta := repository.WriteMeta{
		Actor:   "shelf-audit-sweep",
		Method:  "request_audit",
		Summary: fmt.Sprintf("Requesting audit of shelf %s.", shelf.Identifier()),
	}
	if err := s.shelves.PutShelf(ctx, shelf, meta); err != nil {
		return nil, err
	}

	return shelf, nil
}
