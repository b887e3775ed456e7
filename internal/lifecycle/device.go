package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gng-loaner/internal/adapters"
	"gng-loaner/internal/clock"
	"gng-loaner/internal/config"
	"gng-loaner/internal/models"
	"gng-loaner/internal/repository"
)

// 续借日期统一落在当天的这个整点
const defaultDueHour = 12

// deviceStore 设备读写（由 repository.DeviceRepository 实现）
type deviceStore interface {
	GetDevice(ctx context.Context, deviceID string) (*models.Device, error)
	GetDeviceBySerial(ctx context.Context, serial string) (*models.Device, error)
	GetDeviceByAssetTag(ctx context.Context, assetTag string) (*models.Device, error)
	PutDevice(ctx context.Context, d *models.Device, meta repository.WriteMeta) error
}

// shelfGetter 货架读取
type shelfGetter interface {
	GetShelf(ctx context.Context, shelfID string) (*models.Shelf, error)
}

// permissionChecker 权限判断（由 repository.UserRepository 实现）
type permissionChecker interface {
	HasPermission(ctx context.Context, email, permission string) (bool, error)
}

// eventRaiser 事件派发（由 dispatch.Dispatcher 实现）
type eventRaiser interface {
	RaiseEvent(ctx context.Context, event string, payload map[string]string) error
	RaiseEventSync(ctx context.Context, event string, payload map[string]string) error
}

// delayScheduler 延迟任务登记（由 queue.DelayQueue 实现）
type delayScheduler interface {
	Schedule(ctx context.Context, fireAt time.Time, stream, handler string, payload map[string]string) (string, error)
}

// DeviceService 设备生命周期操作
// 每个操作：校验与鉴权 → 外部副作用 → 更新字段 → 触发事件 → 落库（落库钩子追加审计行）
type DeviceService struct {
	devices      deviceStore
	shelves      shelfGetter
	users        permissionChecker
	directory    adapters.DirectoryAdapter
	dispatcher   eventRaiser
	delay        delayScheduler
	clk          clock.Clock
	logger       *zap.Logger
	cfg          config.LoanerConfig
	actionStream string
}

// NewDeviceService 创建设备生命周期服务
func NewDeviceService(
	devices deviceStore,
	shelves shelfGetter,
	users permissionChecker,
	directory adapters.DirectoryAdapter,
	dispatcher eventRaiser,
	delay delayScheduler,
	clk clock.Clock,
	logger *zap.Logger,
	cfg config.LoanerConfig,
	actionStream string,
) *DeviceService {
	return &DeviceService{
		devices:      devices,
		shelves:      shelves,
		users:        users,
		directory:    directory,
		dispatcher:   dispatcher,
		delay:        delay,
		clk:          clk,
		logger:       logger,
		cfg:          cfg,
		actionStream: actionStream,
	}
}

func (s *DeviceService) getDevice(ctx context.Context, deviceID string) (*models.Device, error) {
	d, err := s.devices.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, fmt.Errorf("device %s: %w", deviceID, ErrDeviceNotFound)
	}
	return d, nil
}

// authorize 借用人本人或持有借用管理权限的用户可操作
func (s *DeviceService) authorize(ctx context.Context, actor string, d *models.Device) error {
	if d.AssignedUser != nil && *d.AssignedUser == actor {
		return nil
	}
	ok, err := s.users.HasPermission(ctx, actor, models.PermissionAdministrateLoan)
	if err != nil {
		return fmt.Errorf("failed to check permission for %s: %w", actor, err)
	}
	if !ok {
		return fmt.Errorf("%s: %w", actor, ErrUnauthorized)
	}
	return nil
}

// raiseSoft 软事件：派发失败只记日志
func (s *DeviceService) raiseSoft(ctx context.Context, event string, d *models.Device) {
	payload := map[string]string{"device_id": d.DeviceID}
	if d.AssignedUser != nil {
		payload["assigned_user"] = *d.AssignedUser
	}
	if err := s.dispatcher.RaiseEvent(ctx, event, payload); err != nil {
		s.logger.Error("failed to raise event",
			zap.String("event", event),
			zap.String("device_id", d.DeviceID),
			zap.Error(err))
	}
}

// findByIdentifier 按标识模式校验并查找已有记录
func (s *DeviceService) findByIdentifier(ctx context.Context, serial, assetTag string) (*models.Device, error) {
	switch s.cfg.IdentifierMode {
	case config.IdentifierSerial:
		if serial == "" {
			return nil, fmt.Errorf("serial number is required: %w", ErrDeviceIdentifier)
		}
	case config.IdentifierAsset:
		if assetTag == "" {
			return nil, fmt.Errorf("asset tag is required: %w", ErrDeviceIdentifier)
		}
	case config.IdentifierBoth:
		if serial == "" || assetTag == "" {
			return nil, fmt.Errorf("serial number and asset tag are required: %w", ErrDeviceIdentifier)
		}
	}

	if serial != "" {
		if d, err := s.devices.GetDeviceBySerial(ctx, serial); err != nil || d != nil {
			return d, err
		}
	}
	if assetTag != "" {
		if d, err := s.devices.GetDeviceByAssetTag(ctx, assetTag); err != nil || d != nil {
			return d, err
		}
	}
	return nil, nil
}

// Enroll 注册设备；标识已存在时复活原记录而不是新建
func (s *DeviceService) Enroll(ctx context.Context, actor, serial, assetTag string) (*models.Device, error) {
	serial = models.NormalizeIdentifier(serial)
	assetTag = models.NormalizeIdentifier(assetTag)

	d, err := s.findByIdentifier(ctx, serial, assetTag)
	if err != nil {
		return nil, err
	}

	// 资产标签模式下允许不带序列号，但目录查询只认序列号：
	// 已有记录（如心跳影子）的序列号可以顶上，否则明确报错
	if serial == "" {
		if d != nil && d.SerialNumber != "" {
			serial = d.SerialNumber
		} else {
			return nil, fmt.Errorf("serial number is required for directory lookup: %w", ErrDeviceIdentifier)
		}
	}

	now := s.clk.Now()
	if d == nil {
		d = &models.Device{DeviceID: uuid.New().String()}
	} else {
		// 复活：清掉上一轮借用留下的状态
		d.AssignedUser = nil
		d.AssignmentDate = nil
		d.DueDate = nil
		d.MarkPendingReturnDate = nil
		d.LastReminder = nil
		d.NextReminder = nil
		d.ShelfID = nil
		d.Damaged = false
		d.DamagedReason = nil
	}
	d.SerialNumber = serial
	if assetTag != "" {
		d.AssetTag = &assetTag
	}
	d.Enrolled = true

	dir, err := s.directory.GetDeviceBySerial(ctx, serial)
	if err != nil {
		return nil, fmt.Errorf("directory lookup for %s failed: %v: %w", serial, err, ErrCreation)
	}
	d.ChromeDeviceID = dir.DirectoryID
	d.DeviceModel = dir.Model
	d.CurrentOU = dir.OrgUnitPath

	// 注册是硬事件，动作失败视为注册失败
	if err := s.dispatcher.RaiseEventSync(ctx, models.EventDeviceEnroll, map[string]string{"device_id": d.DeviceID}); err != nil {
		return nil, fmt.Errorf("device_enroll actions failed: %v: %w", err, ErrCreation)
	}

	if err := s.moveOU(ctx, d, s.cfg.DefaultOU); err != nil {
		return nil, fmt.Errorf("failed to move device to default OU: %v: %w", err, ErrCreation)
	}
	d.LastKnownHealthy = &now

	meta := repository.WriteMeta{
		Actor:   actor,
		Method:  "enroll",
		Summary: fmt.Sprintf("Enrolling device %s.", d.Identifier()),
	}
	if err := s.devices.PutDevice(ctx, d, meta); err != nil {
		return nil, err
	}

	return d, nil
}

// CreateUnenrolled 心跳带来的未注册影子记录
func (s *DeviceService) CreateUnenrolled(ctx context.Context, serial string) (*models.Device, error) {
	serial = models.NormalizeIdentifier(serial)
	if serial == "" {
		return nil, fmt.Errorf("serial number is required: %w", ErrDeviceIdentifier)
	}

	d := &models.Device{
		DeviceID:     uuid.New().String(),
		SerialNumber: serial,
		Enrolled:     false,
	}

	// 目录里有记录就顺带补齐，没有也不拦着
	if dir, err := s.directory.GetDeviceBySerial(ctx, serial); err == nil {
		d.ChromeDeviceID = dir.DirectoryID
		d.DeviceModel = dir.Model
		d.CurrentOU = dir.OrgUnitPath
	} else if !errors.Is(err, adapters.ErrNotFound) {
		s.logger.Warn("directory lookup for shadow device failed",
			zap.String("serial_number", serial),
			zap.Error(err))
	}

	meta := repository.WriteMeta{
		Actor:   "heartbeat",
		Method:  "create_unenrolled",
		Summary: fmt.Sprintf("Creating shadow record for device %s.", serial),
	}
	if err := s.devices.PutDevice(ctx, d, meta); err != nil {
		return nil, err
	}

	return d, nil
}

// Unenroll 注销设备：归还借用、迁回根OU、清空借用状态
func (s *DeviceService) Unenroll(ctx context.Context, actor, deviceID string) (*models.Device, error) {
	d, err := s.getDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	if d.IsAssigned() {
		if d, err = s.LoanReturn(ctx, actor, deviceID); err != nil {
			return nil, err
		}
	}

	if err := s.moveOU(ctx, d, s.cfg.UnenrollOU); err != nil {
		return nil, fmt.Errorf("failed to move device to unenroll OU: %v: %w", err, ErrUnenroll)
	}

	d.Enrolled = false
	d.DueDate = nil
	d.ShelfID = nil
	d.AssignedUser = nil
	d.AssignmentDate = nil
	d.MarkPendingReturnDate = nil
	d.LastReminder = nil
	d.NextReminder = nil

	s.raiseSoft(ctx, models.EventDeviceUnenroll, d)

	meta := repository.WriteMeta{
		Actor:   actor,
		Method:  "unenroll",
		Summary: fmt.Sprintf("Unenrolling device %s.", d.Identifier()),
	}
	if err := s.devices.PutDevice(ctx, d, meta); err != nil {
		return nil, err
	}

	return d, nil
}

// LoanAssign 借出设备给用户
func (s *DeviceService) LoanAssign(ctx context.Context, actor, deviceID, user string) (*models.Device, error) {
	d, err := s.getDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if !d.Enrolled {
		return nil, fmt.Errorf("device %s: %w", d.Identifier(), ErrAssignment)
	}

	if d.IsAssigned() && *d.AssignedUser != user {
		if d, err = s.LoanReturn(ctx, actor, deviceID); err != nil {
			return nil, err
		}
	}

	now := s.clk.Now()
	due := now.Add(time.Duration(s.cfg.LoanDuration) * 24 * time.Hour)
	d.AssignedUser = &user
	d.AssignmentDate = &now
	d.DueDate = &due
	d.ShelfID = nil

	if err := s.moveOU(ctx, d, s.cfg.DefaultOU); err != nil {
		s.logger.Error("failed to move assigned device to default OU",
			zap.String("device_id", d.DeviceID),
			zap.Error(err))
	}

	s.raiseSoft(ctx, models.EventDeviceLoanAssign, d)

	meta := repository.WriteMeta{
		Actor:   actor,
		Method:  "loan_assign",
		Summary: fmt.Sprintf("Assigning device %s to %s.", d.Identifier(), user),
	}
	if err := s.devices.PutDevice(ctx, d, meta); err != nil {
		return nil, err
	}

	return d, nil
}

// LoanExtend 续借：新到期日不得早于今天、不得超出最长借期
func (s *DeviceService) LoanExtend(ctx context.Context, actor, deviceID string, newDue time.Time) (*models.Device, error) {
	d, err := s.getDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, actor, d); err != nil {
		return nil, err
	}
	if !d.IsAssigned() || d.AssignmentDate == nil {
		return nil, fmt.Errorf("device %s: %w", d.Identifier(), ErrUnassignedDevice)
	}

	now := s.clk.Now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	maxDue := d.AssignmentDate.Add(time.Duration(s.cfg.MaximumLoanDuration) * 24 * time.Hour)

	// 存库的是归一化后的中午时刻，边界校验也要用它
	due := time.Date(newDue.Year(), newDue.Month(), newDue.Day(), defaultDueHour, 0, 0, 0, time.UTC)
	if due.Before(today) || due.After(maxDue) {
		return nil, fmt.Errorf("due date %s: %w", due.Format("2006-01-02"), ErrExtend)
	}

	d.DueDate = &due

	meta := repository.WriteMeta{
		Actor:   actor,
		Method:  "loan_extend",
		Summary: fmt.Sprintf("Extending loan of device %s to %s.", d.Identifier(), due.Format("2006-01-02")),
	}
	if err := s.devices.PutDevice(ctx, d, meta); err != nil {
		return nil, err
	}

	return d, nil
}

// LoanReturn 归还设备：清空借用状态，解锁并迁回默认OU
func (s *DeviceService) LoanReturn(ctx context.Context, actor, deviceID string) (*models.Device, error) {
	d, err := s.getDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, actor, d); err != nil {
		return nil, err
	}

	s.raiseSoft(ctx, models.EventDeviceLoanReturn, d)

	if d.Lost {
		d.Lost = false
	}
	if d.Locked {
		s.unlockDirectory(ctx, d)
	}

	d.AssignedUser = nil
	d.AssignmentDate = nil
	d.DueDate = nil
	d.MarkPendingReturnDate = nil
	d.LastReminder = nil
	d.NextReminder = nil

	if err := s.moveOU(ctx, d, s.cfg.DefaultOU); err != nil {
		s.logger.Error("failed to move returned device to default OU",
			zap.String("device_id", d.DeviceID),
			zap.Error(err))
	}

	meta := repository.WriteMeta{
		Actor:   actor,
		Method:  "loan_return",
		Summary: fmt.Sprintf("Returning device %s.", d.Identifier()),
	}
	if err := s.devices.PutDevice(ctx, d, meta); err != nil {
		return nil, err
	}

	return d, nil
}

// MarkPendingReturn 用户自报已归还，进入宽限期
func (s *DeviceService) MarkPendingReturn(ctx context.Context, actor, deviceID string) (*models.Device, error) {
	d, err := s.getDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, actor, d); err != nil {
		return nil, err
	}
	if !d.IsAssigned() {
		return nil, fmt.Errorf("device %s: %w", d.Identifier(), ErrUnassignedDevice)
	}

	now := s.clk.Now()
	d.MarkPendingReturnDate = &now

	if err := s.moveOU(ctx, d, s.cfg.DefaultOU); err != nil {
		s.logger.Error("failed to move pending-return device to default OU",
			zap.String("device_id", d.DeviceID),
			zap.Error(err))
	}

	meta := repository.WriteMeta{
		Actor:   actor,
		Method:  "mark_pending_return",
		Summary: fmt.Sprintf("Marking device %s as pending return.", d.Identifier()),
	}
	if err := s.devices.PutDevice(ctx, d, meta); err != nil {
		return nil, err
	}

	return d, nil
}

// MarkDamaged 标记设备损坏
func (s *DeviceService) MarkDamaged(ctx context.Context, actor, deviceID, reason string) (*models.Device, error) {
	d, err := s.getDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	if reason == "" {
		reason = "No reason provided."
	}
	d.Damaged = true
	d.DamagedReason = &reason

	meta := repository.WriteMeta{
		Actor:   actor,
		Method:  "mark_damaged",
		Summary: fmt.Sprintf("Marking device %s as damaged: %s", d.Identifier(), reason),
	}
	if err := s.devices.PutDevice(ctx, d, meta); err != nil {
		return nil, err
	}

	return d, nil
}

// MarkUndamaged 撤销损坏标记
func (s *DeviceService) MarkUndamaged(ctx context.Context, actor, deviceID string) (*models.Device, error) {
	d, err := s.getDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	d.Damaged = false
	d.DamagedReason = nil

	meta := repository.WriteMeta{
		Actor:   actor,
		Method:  "mark_undamaged",
		Summary: fmt.Sprintf("Clearing damaged flag of device %s.", d.Identifier()),
	}
	if err := s.devices.PutDevice(ctx, d, meta); err != nil {
		return nil, err
	}

	return d, nil
}

// MarkLost 标记设备丢失：清空借用状态并锁定
func (s *DeviceService) MarkLost(ctx context.Context, actor, deviceID string) (*models.Device, error) {
	d, err := s.getDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	d.Lost = true
	d.AssignedUser = nil
	d.AssignmentDate = nil
	d.DueDate = nil
	d.MarkPendingReturnDate = nil
	d.LastReminder = nil
	d.NextReminder = nil

	s.lockDirectory(ctx, d)

	meta := repository.WriteMeta{
		Actor:   actor,
		Method:  "mark_lost",
		Summary: fmt.Sprintf("Marking device %s as lost.", d.Identifier()),
	}
	if err := s.devices.PutDevice(ctx, d, meta); err != nil {
		return nil, err
	}

	return d, nil
}

// EnableGuestMode 迁入访客OU；配置了超时则登记延迟关闭任务
func (s *DeviceService) EnableGuestMode(ctx context.Context, actor, deviceID string) (*models.Device, error) {
	d, err := s.getDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, actor, d); err != nil {
		return nil, err
	}
	if !d.IsAssigned() {
		return nil, fmt.Errorf("device %s: %w", d.Identifier(), ErrUnassignedDevice)
	}
	if !s.cfg.AllowGuestMode {
		return nil, ErrGuestNotAllowed
	}

	if err := s.moveOU(ctx, d, s.cfg.GuestOU); err != nil {
		return nil, fmt.Errorf("failed to move device to guest OU: %v: %w", err, ErrEnableGuest)
	}

	if s.cfg.TimeoutGuestMode {
		fireAt := s.clk.Now().Add(time.Duration(s.cfg.GuestModeTimeoutHours) * time.Hour)
		payload := map[string]string{
			"device_id":     d.DeviceID,
			"assigned_user": *d.AssignedUser,
		}
		if _, err := s.delay.Schedule(ctx, fireAt, s.actionStream, "disable_guest_mode", payload); err != nil {
			s.logger.Error("failed to schedule guest mode timeout",
				zap.String("device_id", d.DeviceID),
				zap.Error(err))
		}
	}

	meta := repository.WriteMeta{
		Actor:   actor,
		Method:  "enable_guest_mode",
		Summary: fmt.Sprintf("Enabling guest mode on device %s.", d.Identifier()),
	}
	if err := s.devices.PutDevice(ctx, d, meta); err != nil {
		return nil, err
	}

	return d, nil
}

// DisableGuestMode 延迟任务回调：原借用关系还在才迁回默认OU
func (s *DeviceService) DisableGuestMode(ctx context.Context, deviceID, expectedUser string) error {
	d, err := s.devices.GetDevice(ctx, deviceID)
	if err != nil {
		return err
	}
	if d == nil {
		return nil
	}

	// 前置条件复核：设备已还、换人或已注销时放弃
	if !d.Enrolled || !d.IsAssigned() || *d.AssignedUser != expectedUser || !d.GuestEnabled(s.cfg.GuestOU) {
		s.logger.Info("guest mode timeout is a no-op",
			zap.String("device_id", deviceID))
		return nil
	}

	if err := s.moveOU(ctx, d, s.cfg.DefaultOU); err != nil {
		return fmt.Errorf("failed to disable guest mode: %w", err)
	}

	meta := repository.WriteMeta{
		Actor:   "guest-mode-timeout",
		Method:  "disable_guest_mode",
		Summary: fmt.Sprintf("Guest mode timed out on device %s.", d.Identifier()),
	}
	return s.devices.PutDevice(ctx, d, meta)
}

// Lock 在目录服务中禁用设备
func (s *DeviceService) Lock(ctx context.Context, actor, deviceID string) (*models.Device, error) {
	d, err := s.getDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	s.lockDirectory(ctx, d)

	meta := repository.WriteMeta{
		Actor:   actor,
		Method:  "lock",
		Summary: fmt.Sprintf("Locking device %s.", d.Identifier()),
	}
	if err := s.devices.PutDevice(ctx, d, meta); err != nil {
		return nil, err
	}

	return d, nil
}

// Unlock 恢复设备并迁回默认OU，丢失标记一并清除
func (s *DeviceService) Unlock(ctx context.Context, actor, deviceID string) (*models.Device, error) {
	d, err := s.getDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	s.unlockDirectory(ctx, d)
	d.Lost = false

	if err := s.moveOU(ctx, d, s.cfg.DefaultOU); err != nil {
		s.logger.Error("failed to move unlocked device to default OU",
			zap.String("device_id", d.DeviceID),
			zap.Error(err))
	}

	meta := repository.WriteMeta{
		Actor:   actor,
		Method:  "unlock",
		Summary: fmt.Sprintf("Unlocking device %s.", d.Identifier()),
	}
	if err := s.devices.PutDevice(ctx, d, meta); err != nil {
		return nil, err
	}

	return d, nil
}

// RecordHeartbeat 记录心跳；未知序列号创建影子记录
// 自报归还超过宽限期还有心跳说明设备没还，恢复借用
func (s *DeviceService) RecordHeartbeat(ctx context.Context, serial string) (*models.Device, error) {
	serial = models.NormalizeIdentifier(serial)
	d, err := s.devices.GetDeviceBySerial(ctx, serial)
	if err != nil {
		return nil, err
	}
	if d == nil {
		if d, err = s.CreateUnenrolled(ctx, serial); err != nil {
			return nil, err
		}
	}

	now := s.clk.Now()
	d.LastHeartbeat = &now
	d.LastKnownHealthy = &now

	if d.MarkPendingReturnDate != nil {
		grace := time.Duration(s.cfg.ReturnGracePeriodMin) * time.Minute
		if now.Sub(*d.MarkPendingReturnDate) > grace {
			d.MarkPendingReturnDate = nil
		}
	}

	meta := repository.WriteMeta{
		Actor:   "heartbeat",
		Method:  "record_heartbeat",
		Summary: fmt.Sprintf("Heartbeat from device %s.", d.Identifier()),
	}
	if err := s.devices.PutDevice(ctx, d, meta); err != nil {
		return nil, err
	}

	return d, nil
}

// MoveToShelf 放上货架，货架必须启用；借出中的设备先归还
func (s *DeviceService) MoveToShelf(ctx context.Context, actor, deviceID, shelfID string) (*models.Device, error) {
	d, err := s.getDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	shelf, err := s.shelves.GetShelf(ctx, shelfID)
	if err != nil {
		return nil, err
	}
	if shelf == nil || !shelf.Enabled {
		return nil, fmt.Errorf("shelf %s: %w", shelfID, ErrUnableToMoveToShelf)
	}

	if d.IsAssigned() {
		if d, err = s.LoanReturn(ctx, actor, deviceID); err != nil {
			return nil, err
		}
	}

	d.ShelfID = &shelfID

	meta := repository.WriteMeta{
		Actor:   actor,
		Method:  "move_to_shelf",
		Summary: fmt.Sprintf("Placing device %s on shelf %s.", d.Identifier(), shelf.Identifier()),
	}
	if err := s.devices.PutDevice(ctx, d, meta); err != nil {
		return nil, err
	}

	return d, nil
}

// RemoveFromShelf 从货架取下
func (s *DeviceService) RemoveFromShelf(ctx context.Context, actor, deviceID string) (*models.Device, error) {
	d, err := s.getDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	d.ShelfID = nil

	meta := repository.WriteMeta{
		Actor:   actor,
		Method:  "remove_from_shelf",
		Summary: fmt.Sprintf("Removing device %s from its shelf.", d.Identifier()),
	}
	if err := s.devices.PutDevice(ctx, d, meta); err != nil {
		return nil, err
	}

	return d, nil
}

// moveOU 目录迁移并同步本地字段
func (s *DeviceService) moveOU(ctx context.Context, d *models.Device, orgUnitPath string) error {
	if d.CurrentOU != orgUnitPath {
		if err := s.directory.MoveDeviceOU(ctx, d.ChromeDeviceID, orgUnitPath); err != nil {
			return err
		}
		d.CurrentOU = orgUnitPath
		now := s.clk.Now()
		d.OUChangedDate = &now
	}
	return nil
}

// lockDirectory 目录禁用；已禁用只纠正本地状态
func (s *DeviceService) lockDirectory(ctx context.Context, d *models.Device) {
	if err := s.directory.DisableDevice(ctx, d.ChromeDeviceID); err != nil {
		if errors.Is(err, adapters.ErrAlreadyDisabled) {
			s.logger.Info("device already disabled in directory",
				zap.String("device_id", d.DeviceID))
		} else {
			s.logger.Error("failed to disable device in directory",
				zap.String("device_id", d.DeviceID),
				zap.Error(err))
			return
		}
	}
	d.Locked = true
}

func (s *DeviceService) unlockDirectory(ctx context.Context, d *models.Device) {
	if err := s.directory.ReenableDevice(ctx, d.ChromeDeviceID); err != nil {
		s.logger.Error("failed to reenable device in directory",
			zap.String("device_id", d.DeviceID),
			zap.Error(err))
		return
	}
	d.Locked = false
}
