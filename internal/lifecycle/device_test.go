package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gng-loaner/internal/adapters"
	"gng-loaner/internal/clock"
	"gng-loaner/internal/config"
	"gng-loaner/internal/models"
	"gng-loaner/internal/repository"
)

type fakeDeviceStore struct {
	devices map[string]*models.Device
	metas   []repository.WriteMeta
}

func newFakeDeviceStore() *fakeDeviceStore {
	return &fakeDeviceStore{devices: make(map[string]*models.Device)}
}

func (f *fakeDeviceStore) GetDevice(ctx context.Context, deviceID string) (*models.Device, error) {
	d, ok := f.devices[deviceID]
	if !ok {
		return nil, nil
	}
	copied := *d
	return &copied, nil
}

func (f *fakeDeviceStore) GetDeviceBySerial(ctx context.Context, serial string) (*models.Device, error) {
	serial = models.NormalizeIdentifier(serial)
	for _, d := range f.devices {
		if d.SerialNumber == serial {
			copied := *d
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeDeviceStore) GetDeviceByAssetTag(ctx context.Context, assetTag string) (*models.Device, error) {
	assetTag = models.NormalizeIdentifier(assetTag)
	for _, d := range f.devices {
		if d.AssetTag != nil && *d.AssetTag == assetTag {
			copied := *d
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeDeviceStore) PutDevice(ctx context.Context, d *models.Device, meta repository.WriteMeta) error {
	copied := *d
	f.devices[d.DeviceID] = &copied
	f.metas = append(f.metas, meta)
	return nil
}

func (f *fakeDeviceStore) lastMeta() repository.WriteMeta {
	if len(f.metas) == 0 {
		return repository.WriteMeta{}
	}
	return f.metas[len(f.metas)-1]
}

type fakeShelfGetter struct {
	shelves map[string]*models.Shelf
}

func (f *fakeShelfGetter) GetShelf(ctx context.Context, shelfID string) (*models.Shelf, error) {
	return f.shelves[shelfID], nil
}

type fakePermChecker struct {
	admins map[string]bool
}

func (f *fakePermChecker) HasPermission(ctx context.Context, email, permission string) (bool, error) {
	return f.admins[email], nil
}

type fakeRaiser struct {
	raised  []string
	sync    []string
	syncErr error
}

func (f *fakeRaiser) RaiseEvent(ctx context.Context, event string, payload map[string]string) error {
	f.raised = append(f.raised, event)
	return nil
}

func (f *fakeRaiser) RaiseEventSync(ctx context.Context, event string, payload map[string]string) error {
	if f.syncErr != nil {
		return f.syncErr
	}
	f.sync = append(f.sync, event)
	return nil
}

type scheduled struct {
	fireAt  time.Time
	handler string
	payload map[string]string
}

type fakeDelay struct {
	tasks []scheduled
}

func (f *fakeDelay) Schedule(ctx context.Context, fireAt time.Time, stream, handler string, payload map[string]string) (string, error) {
	f.tasks = append(f.tasks, scheduled{fireAt: fireAt, handler: handler, payload: payload})
	return "delayed-1", nil
}

type deviceFixture struct {
	store     *fakeDeviceStore
	shelves   *fakeShelfGetter
	perms     *fakePermChecker
	directory *adapters.FakeDirectory
	raiser    *fakeRaiser
	delay     *fakeDelay
	clk       *clock.Fake
	svc       *DeviceService
}

func deviceTestConfig() config.LoanerConfig {
	return config.LoanerConfig{
		IdentifierMode:        config.IdentifierSerial,
		LoanDuration:          3,
		MaximumLoanDuration:   14,
		AllowGuestMode:        true,
		TimeoutGuestMode:      true,
		GuestModeTimeoutHours: 12,
		ReminderDelayHours:    1,
		ReturnGracePeriodMin:  15,
		DefaultOU:             "/Grab n Go/Default",
		GuestOU:               "/Grab n Go/Guest",
		UnenrollOU:            "/",
	}
}

func newDeviceFixture(t *testing.T) *deviceFixture {
	f := &deviceFixture{
		store:     newFakeDeviceStore(),
		shelves:   &fakeShelfGetter{shelves: make(map[string]*models.Shelf)},
		perms:     &fakePermChecker{admins: map[string]bool{"admin@example.com": true}},
		directory: adapters.NewFakeDirectory(),
		raiser:    &fakeRaiser{},
		delay:     &fakeDelay{},
		clk:       clock.NewFake(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)),
	}
	f.svc = NewDeviceService(f.store, f.shelves, f.perms, f.directory, f.raiser, f.delay,
		f.clk, zap.NewNop(), deviceTestConfig(), "gng:queue:process-action")
	return f
}

func (f *deviceFixture) addDirectoryDevice(serial, directoryID string) {
	f.directory.Devices[directoryID] = &adapters.DirectoryDevice{
		DirectoryID:  directoryID,
		SerialNumber: serial,
		Model:        "Chromebook-14",
		OrgUnitPath:  "/Grab n Go/Dev/Default",
	}
}

func (f *deviceFixture) enrolled(t *testing.T, serial string) *models.Device {
	f.addDirectoryDevice(serial, "dir-"+serial)
	d, err := f.svc.Enroll(context.Background(), "admin@example.com", serial, "")
	require.NoError(t, err)
	return d
}

func (f *deviceFixture) assigned(t *testing.T, serial, user string) *models.Device {
	d := f.enrolled(t, serial)
	d, err := f.svc.LoanAssign(context.Background(), "admin@example.com", d.DeviceID, user)
	require.NoError(t, err)
	return d
}

func TestEnroll_Success(t *testing.T) {
	f := newDeviceFixture(t)
	f.addDirectoryDevice("s1", "d1")

	d, err := f.svc.Enroll(context.Background(), "a@x", "S1", "")

	require.NoError(t, err)
	assert.Equal(t, "s1", d.SerialNumber)
	assert.True(t, d.Enrolled)
	assert.Equal(t, "d1", d.ChromeDeviceID)
	assert.Equal(t, "Chromebook-14", d.DeviceModel)
	assert.Equal(t, "/Grab n Go/Default", d.CurrentOU)
	assert.NotNil(t, d.LastKnownHealthy)
	assert.False(t, d.Damaged)
	assert.Nil(t, d.ShelfID)

	assert.Equal(t, []string{models.EventDeviceEnroll}, f.raiser.sync)

	meta := f.store.lastMeta()
	assert.Equal(t, "enroll", meta.Method)
	assert.Equal(t, "Enrolling device s1.", meta.Summary)
	assert.Equal(t, "a@x", meta.Actor)
}

func TestEnroll_MissingSerial(t *testing.T) {
	f := newDeviceFixture(t)

	_, err := f.svc.Enroll(context.Background(), "a@x", "", "")

	assert.True(t, errors.Is(err, ErrDeviceIdentifier))
}

func TestEnroll_DirectoryMissing(t *testing.T) {
	f := newDeviceFixture(t)

	_, err := f.svc.Enroll(context.Background(), "a@x", "s1", "")

	assert.True(t, errors.Is(err, ErrCreation))
}

func TestEnroll_HardEventFailure(t *testing.T) {
	f := newDeviceFixture(t)
	f.addDirectoryDevice("s1", "d1")
	f.raiser.syncErr = fmt.Errorf("action failed")

	_, err := f.svc.Enroll(context.Background(), "a@x", "s1", "")

	assert.True(t, errors.Is(err, ErrCreation))
}

func TestEnroll_ReactivatesExisting(t *testing.T) {
	f := newDeviceFixture(t)
	d := f.assigned(t, "s1", "user@example.com")
	firstID := d.DeviceID

	_, err := f.svc.Unenroll(context.Background(), "admin@example.com", d.DeviceID)
	require.NoError(t, err)

	again, err := f.svc.Enroll(context.Background(), "admin@example.com", "s1", "")

	require.NoError(t, err)
	// 同一标识复活原记录
	assert.Equal(t, firstID, again.DeviceID)
	assert.True(t, again.Enrolled)
	assert.Nil(t, again.AssignedUser)
	assert.Nil(t, again.DueDate)
	assert.Nil(t, again.NextReminder)
}

func TestEnroll_AssetModeUsesShadowSerial(t *testing.T) {
	f := newDeviceFixture(t)
	cfg := deviceTestConfig()
	cfg.IdentifierMode = config.IdentifierAsset
	f.svc = NewDeviceService(f.store, f.shelves, f.perms, f.directory, f.raiser, f.delay,
		f.clk, zap.NewNop(), cfg, "gng:queue:process-action")

	// 心跳影子记录带序列号，注册时只提供资产标签
	tag := "a7"
	f.store.devices["shadow"] = &models.Device{
		DeviceID:     "shadow",
		SerialNumber: "s7",
		AssetTag:     &tag,
		Enrolled:     false,
	}
	f.addDirectoryDevice("s7", "dir-s7")

	d, err := f.svc.Enroll(context.Background(), "a@x", "", "A7")

	require.NoError(t, err)
	assert.Equal(t, "shadow", d.DeviceID)
	assert.Equal(t, "s7", d.SerialNumber)
	assert.True(t, d.Enrolled)
	assert.Equal(t, "dir-s7", d.ChromeDeviceID)
}

func TestEnroll_AssetModeWithoutSerialFails(t *testing.T) {
	f := newDeviceFixture(t)
	cfg := deviceTestConfig()
	cfg.IdentifierMode = config.IdentifierAsset
	f.svc = NewDeviceService(f.store, f.shelves, f.perms, f.directory, f.raiser, f.delay,
		f.clk, zap.NewNop(), cfg, "gng:queue:process-action")

	_, err := f.svc.Enroll(context.Background(), "a@x", "", "a9")

	assert.True(t, errors.Is(err, ErrDeviceIdentifier))
	assert.Empty(t, f.store.metas)
}

func TestLoanAssign_SetsDueDate(t *testing.T) {
	f := newDeviceFixture(t)
	d := f.enrolled(t, "s1")

	d, err := f.svc.LoanAssign(context.Background(), "admin@example.com", d.DeviceID, "user@example.com")

	require.NoError(t, err)
	require.NotNil(t, d.AssignedUser)
	assert.Equal(t, "user@example.com", *d.AssignedUser)
	require.NotNil(t, d.AssignmentDate)
	require.NotNil(t, d.DueDate)
	assert.Equal(t, f.clk.Now().Add(3*24*time.Hour), *d.DueDate)
	assert.Contains(t, f.raiser.raised, models.EventDeviceLoanAssign)
}

func TestLoanAssign_Unenrolled(t *testing.T) {
	f := newDeviceFixture(t)
	d := f.enrolled(t, "s1")
	_, err := f.svc.Unenroll(context.Background(), "admin@example.com", d.DeviceID)
	require.NoError(t, err)

	_, err = f.svc.LoanAssign(context.Background(), "admin@example.com", d.DeviceID, "user@example.com")

	assert.True(t, errors.Is(err, ErrAssignment))
}

func TestLoanExtend_Success(t *testing.T) {
	f := newDeviceFixture(t)
	d := f.assigned(t, "s1", "user@example.com")

	newDue := f.clk.Now().Add(5 * 24 * time.Hour)
	d, err := f.svc.LoanExtend(context.Background(), "user@example.com", d.DeviceID, newDue)

	require.NoError(t, err)
	require.NotNil(t, d.DueDate)
	assert.Equal(t, newDue.Day(), d.DueDate.Day())
	assert.Equal(t, defaultDueHour, d.DueDate.Hour())
}

func TestLoanExtend_OutOfBounds(t *testing.T) {
	f := newDeviceFixture(t)
	d := f.assigned(t, "s1", "user@example.com")

	_, err := f.svc.LoanExtend(context.Background(), "user@example.com", d.DeviceID, f.clk.Now().Add(20*24*time.Hour))
	assert.True(t, errors.Is(err, ErrExtend))

	_, err = f.svc.LoanExtend(context.Background(), "user@example.com", d.DeviceID, f.clk.Now().Add(-2*24*time.Hour))
	assert.True(t, errors.Is(err, ErrExtend))
}

func TestLoanExtend_NormalizedDueStaysWithinMax(t *testing.T) {
	f := newDeviceFixture(t)
	d := f.assigned(t, "s1", "user@example.com")

	// 上午借出：最后一天的中午已经超出最长借期
	early := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	f.store.devices[d.DeviceID].AssignmentDate = &early

	_, err := f.svc.LoanExtend(context.Background(), "user@example.com", d.DeviceID,
		time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC))
	assert.True(t, errors.Is(err, ErrExtend))

	d, err = f.svc.LoanExtend(context.Background(), "user@example.com", d.DeviceID,
		time.Date(2024, 6, 14, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NotNil(t, d.DueDate)
	assert.Equal(t, time.Date(2024, 6, 14, defaultDueHour, 0, 0, 0, time.UTC), *d.DueDate)
}

func TestLoanExtend_Unauthorized(t *testing.T) {
	f := newDeviceFixture(t)
	d := f.assigned(t, "s1", "user@example.com")

	_, err := f.svc.LoanExtend(context.Background(), "stranger@example.com", d.DeviceID, f.clk.Now().Add(24*time.Hour))

	assert.True(t, errors.Is(err, ErrUnauthorized))
}

func TestLoanReturn_ClearsLoanState(t *testing.T) {
	f := newDeviceFixture(t)
	d := f.assigned(t, "s1", "user@example.com")

	d, err := f.svc.LoanReturn(context.Background(), "user@example.com", d.DeviceID)

	require.NoError(t, err)
	assert.Nil(t, d.AssignedUser)
	assert.Nil(t, d.AssignmentDate)
	assert.Nil(t, d.DueDate)
	assert.Nil(t, d.MarkPendingReturnDate)
	assert.Nil(t, d.LastReminder)
	assert.Nil(t, d.NextReminder)
	assert.Equal(t, "/Grab n Go/Default", d.CurrentOU)
	assert.Contains(t, f.raiser.raised, models.EventDeviceLoanReturn)
}

func TestLoanReturn_UnlocksLostDevice(t *testing.T) {
	f := newDeviceFixture(t)
	d := f.assigned(t, "s1", "user@example.com")

	d, err := f.svc.MarkLost(context.Background(), "admin@example.com", d.DeviceID)
	require.NoError(t, err)
	assert.True(t, d.Lost)
	assert.True(t, d.Locked)

	// 设备找回后由管理员归还
	d, err = f.svc.LoanReturn(context.Background(), "admin@example.com", d.DeviceID)

	require.NoError(t, err)
	assert.False(t, d.Lost)
	assert.False(t, d.Locked)
}

func TestMarkPendingReturn_RequiresAssigned(t *testing.T) {
	f := newDeviceFixture(t)
	d := f.enrolled(t, "s1")

	_, err := f.svc.MarkPendingReturn(context.Background(), "admin@example.com", d.DeviceID)

	assert.True(t, errors.Is(err, ErrUnassignedDevice))
}

func TestEnableGuestMode_SchedulesTimeout(t *testing.T) {
	f := newDeviceFixture(t)
	d := f.assigned(t, "s1", "user@example.com")

	d, err := f.svc.EnableGuestMode(context.Background(), "user@example.com", d.DeviceID)

	require.NoError(t, err)
	assert.Equal(t, "/Grab n Go/Guest", d.CurrentOU)
	require.Len(t, f.delay.tasks, 1)
	assert.Equal(t, "disable_guest_mode", f.delay.tasks[0].handler)
	assert.Equal(t, f.clk.Now().Add(12*time.Hour), f.delay.tasks[0].fireAt)
	assert.Equal(t, d.DeviceID, f.delay.tasks[0].payload["device_id"])
}

func TestEnableGuestMode_NotAllowed(t *testing.T) {
	f := newDeviceFixture(t)
	cfg := deviceTestConfig()
	cfg.AllowGuestMode = false
	f.svc = NewDeviceService(f.store, f.shelves, f.perms, f.directory, f.raiser, f.delay,
		f.clk, zap.NewNop(), cfg, "gng:queue:process-action")

	d := f.assigned(t, "s1", "user@example.com")

	_, err := f.svc.EnableGuestMode(context.Background(), "user@example.com", d.DeviceID)

	assert.True(t, errors.Is(err, ErrGuestNotAllowed))
}

func TestDisableGuestMode_NoOpWhenReassigned(t *testing.T) {
	f := newDeviceFixture(t)
	d := f.assigned(t, "s1", "user@example.com")

	_, err := f.svc.EnableGuestMode(context.Background(), "user@example.com", d.DeviceID)
	require.NoError(t, err)

	// 到点前设备换了借用人，超时任务放弃
	_, err = f.svc.LoanAssign(context.Background(), "admin@example.com", d.DeviceID, "other@example.com")
	require.NoError(t, err)

	err = f.svc.DisableGuestMode(context.Background(), d.DeviceID, "user@example.com")

	require.NoError(t, err)
	got, _ := f.store.GetDevice(context.Background(), d.DeviceID)
	assert.Equal(t, "/Grab n Go/Default", got.CurrentOU)
	assert.Equal(t, "other@example.com", *got.AssignedUser)
}

func TestDisableGuestMode_RestoresDefaultOU(t *testing.T) {
	f := newDeviceFixture(t)
	d := f.assigned(t, "s1", "user@example.com")

	_, err := f.svc.EnableGuestMode(context.Background(), "user@example.com", d.DeviceID)
	require.NoError(t, err)

	err = f.svc.DisableGuestMode(context.Background(), d.DeviceID, "user@example.com")

	require.NoError(t, err)
	got, _ := f.store.GetDevice(context.Background(), d.DeviceID)
	assert.Equal(t, "/Grab n Go/Default", got.CurrentOU)
}

func TestRecordHeartbeat_ResumeIfLate(t *testing.T) {
	f := newDeviceFixture(t)
	d := f.assigned(t, "s1", "user@example.com")

	_, err := f.svc.MarkPendingReturn(context.Background(), "user@example.com", d.DeviceID)
	require.NoError(t, err)

	// 宽限期内的心跳不动归还标记
	f.clk.Advance(14 * time.Minute)
	got, err := f.svc.RecordHeartbeat(context.Background(), "s1")
	require.NoError(t, err)
	assert.NotNil(t, got.MarkPendingReturnDate)

	// 过了宽限期还有心跳：恢复借用
	f.clk.Advance(2 * time.Minute)
	got, err = f.svc.RecordHeartbeat(context.Background(), "s1")
	require.NoError(t, err)
	assert.Nil(t, got.MarkPendingReturnDate)
	assert.Equal(t, f.clk.Now(), *got.LastHeartbeat)
}

func TestRecordHeartbeat_CreatesShadow(t *testing.T) {
	f := newDeviceFixture(t)

	d, err := f.svc.RecordHeartbeat(context.Background(), "UNKNOWN-1")

	require.NoError(t, err)
	assert.Equal(t, "unknown-1", d.SerialNumber)
	assert.False(t, d.Enrolled)
	assert.NotNil(t, d.LastHeartbeat)
}

func TestMoveToShelf_DisabledShelf(t *testing.T) {
	f := newDeviceFixture(t)
	d := f.enrolled(t, "s1")
	f.shelves.shelves["shelf-1"] = &models.Shelf{ShelfID: "shelf-1", Location: "b1", Enabled: false}

	_, err := f.svc.MoveToShelf(context.Background(), "admin@example.com", d.DeviceID, "shelf-1")

	assert.True(t, errors.Is(err, ErrUnableToMoveToShelf))
}

func TestMoveToShelf_ReturnsAssignedFirst(t *testing.T) {
	f := newDeviceFixture(t)
	d := f.assigned(t, "s1", "user@example.com")
	f.shelves.shelves["shelf-1"] = &models.Shelf{ShelfID: "shelf-1", Location: "b1", Enabled: true}

	d, err := f.svc.MoveToShelf(context.Background(), "admin@example.com", d.DeviceID, "shelf-1")

	require.NoError(t, err)
	assert.Nil(t, d.AssignedUser)
	require.NotNil(t, d.ShelfID)
	assert.Equal(t, "shelf-1", *d.ShelfID)
}

func TestEveryMutationAppendsOneAuditRow(t *testing.T) {
	f := newDeviceFixture(t)
	d := f.enrolled(t, "s1")
	require.Len(t, f.store.metas, 1)

	_, err := f.svc.LoanAssign(context.Background(), "admin@example.com", d.DeviceID, "user@example.com")
	require.NoError(t, err)
	assert.Len(t, f.store.metas, 2)

	_, err = f.svc.LoanReturn(context.Background(), "admin@example.com", d.DeviceID)
	require.NoError(t, err)
	assert.Len(t, f.store.metas, 3)
}
