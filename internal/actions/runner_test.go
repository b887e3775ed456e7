package actions

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
	"gng-loaner/internal/models"
	"gng-loaner/internal/queue"
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

func (f *fakeDeviceStore) PutDevice(ctx context.Context, d *models.Device, meta repository.WriteMeta) error {
	copied := *d
	f.devices[d.DeviceID] = &copied
	f.metas = append(f.metas, meta)
	return nil
}

type fakeEventGetter struct {
	events map[string]*models.Event
}

func (f *fakeEventGetter) GetEvent(ctx context.Context, name string) (*models.Event, error) {
	return f.events[name], nil
}

type fakeLocker struct {
	locked   []string
	disabled []string
}

func (f *fakeLocker) Lock(ctx context.Context, actor, deviceID string) (*models.Device, error) {
	f.locked = append(f.locked, deviceID)
	return &models.Device{DeviceID: deviceID}, nil
}

func (f *fakeLocker) DisableGuestMode(ctx context.Context, deviceID, expectedUser string) error {
	f.disabled = append(f.disabled, deviceID+"/"+expectedUser)
	return nil
}

type fakeAuditor struct {
	shelf *models.Shelf
	err   error
}

func (f *fakeAuditor) RequestAudit(ctx context.Context, shelfID string) (*models.Shelf, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.shelf.AuditRequested = true
	return f.shelf, nil
}

type fakeRenderer struct {
	rendered []string
	err      error
}

func (f *fakeRenderer) Render(ctx context.Context, name string, data interface{}) (string, string, error) {
	if f.err != nil {
		return "", "", f.err
	}
	f.rendered = append(f.rendered, name)
	return "title:" + name, "body:" + name, nil
}

type runnerFixture struct {
	devices  *fakeDeviceStore
	events   *fakeEventGetter
	locker   *fakeLocker
	auditor  *fakeAuditor
	renderer *fakeRenderer
	email    *adapters.FakeEmail
	clk      *clock.Fake
	runner   *Runner
}

func newRunnerFixture(t *testing.T) *runnerFixture {
	f := &runnerFixture{
		devices:  newFakeDeviceStore(),
		events:   &fakeEventGetter{events: make(map[string]*models.Event)},
		locker:   &fakeLocker{},
		auditor:  &fakeAuditor{shelf: &models.Shelf{ShelfID: "sh1", Location: "bldg-1"}},
		renderer: &fakeRenderer{},
		email:    adapters.NewFakeEmail(),
		clk:      clock.NewFake(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)),
	}
	f.runner = NewRunner(f.devices, f.events, f.locker, f.auditor, f.renderer, f.email, f.clk, zap.NewNop())
	return f
}

func (f *runnerFixture) addAssignedDevice(deviceID, user string) *models.Device {
	due := f.clk.Now().Add(72 * time.Hour)
	d := &models.Device{
		DeviceID:     deviceID,
		SerialNumber: "s-" + deviceID,
		Enrolled:     true,
		AssignedUser: &user,
		DueDate:      &due,
	}
	f.devices.devices[deviceID] = d
	return d
}

func TestRun_SendWelcome_Success(t *testing.T) {
	f := newRunnerFixture(t)
	f.addAssignedDevice("d1", "user@example.com")

	err := f.runner.Run(context.Background(), "send_welcome", map[string]string{"device_id": "d1"})

	require.NoError(t, err)
	require.Len(t, f.email.Sent, 1)
	assert.Equal(t, []string{"user@example.com"}, f.email.Sent[0].To)
	assert.Equal(t, "title:"+TemplateWelcome, f.email.Sent[0].Title)
}

func TestRun_SendThankYou_UsesPayloadRecipient(t *testing.T) {
	f := newRunnerFixture(t)
	// 归还后设备上的借用人已清空，收件人来自事件快照
	f.devices.devices["d1"] = &models.Device{DeviceID: "d1", SerialNumber: "s-d1", Enrolled: true}

	err := f.runner.Run(context.Background(), "send_thank_you", map[string]string{
		"device_id":     "d1",
		"assigned_user": "gone@example.com",
	})

	require.NoError(t, err)
	require.Len(t, f.email.Sent, 1)
	assert.Equal(t, []string{"gone@example.com"}, f.email.Sent[0].To)
	assert.Equal(t, "title:"+TemplateThankYou, f.email.Sent[0].Title)
}

func TestRun_SendWelcome_NoRecipientSkips(t *testing.T) {
	f := newRunnerFixture(t)
	f.devices.devices["d1"] = &models.Device{DeviceID: "d1", SerialNumber: "s-d1", Enrolled: true}

	err := f.runner.Run(context.Background(), "send_welcome", map[string]string{"device_id": "d1"})

	require.NoError(t, err)
	assert.Empty(t, f.email.Sent)
}

func TestRun_SendWelcome_MissingDevicePermanent(t *testing.T) {
	f := newRunnerFixture(t)

	err := f.runner.Run(context.Background(), "send_welcome", map[string]string{"device_id": "nope"})

	assert.True(t, errors.Is(err, queue.ErrPermanentTaskFailure))
}

func TestRun_SendReminder_Success(t *testing.T) {
	f := newRunnerFixture(t)
	d := f.addAssignedDevice("d1", "user@example.com")
	d.NextReminder = &models.Reminder{Level: 1, Time: f.clk.Now()}
	level := 1
	f.events.events["reminder_level_1"] = &models.Event{
		Name:     "reminder_level_1",
		Kind:     models.EventKindReminder,
		Enabled:  true,
		Level:    &level,
		Template: "custom_reminder",
	}

	err := f.runner.Run(context.Background(), "send_reminder", map[string]string{"device_id": "d1"})

	require.NoError(t, err)
	require.Len(t, f.email.Sent, 1)
	assert.Equal(t, []string{"user@example.com"}, f.email.Sent[0].To)
	assert.Equal(t, []string{"custom_reminder"}, f.renderer.rendered)

	got := f.devices.devices["d1"]
	assert.Nil(t, got.NextReminder)
	require.NotNil(t, got.LastReminder)
	assert.Equal(t, 1, got.LastReminder.Level)
	assert.Equal(t, 1, got.LastReminder.Count)
	assert.Equal(t, f.clk.Now(), got.LastReminder.Time)

	require.Len(t, f.devices.metas, 1)
	assert.Equal(t, "reminder-machine", f.devices.metas[0].Actor)
}

func TestRun_SendReminder_RepeatIncrementsCount(t *testing.T) {
	f := newRunnerFixture(t)
	d := f.addAssignedDevice("d1", "user@example.com")
	d.NextReminder = &models.Reminder{Level: 1, Time: f.clk.Now()}
	d.LastReminder = &models.Reminder{Level: 1, Time: f.clk.Now().Add(-48 * time.Hour), Count: 2}
	level := 1
	f.events.events["reminder_level_1"] = &models.Event{
		Name: "reminder_level_1", Kind: models.EventKindReminder, Enabled: true, Level: &level,
	}

	err := f.runner.Run(context.Background(), "send_reminder", map[string]string{"device_id": "d1"})

	require.NoError(t, err)
	assert.Equal(t, 3, f.devices.devices["d1"].LastReminder.Count)
	// 事件未配模板时回落到级别默认名
	assert.Equal(t, []string{"reminder_level_1"}, f.renderer.rendered)
}

func TestRun_SendReminder_AlreadyCleared(t *testing.T) {
	f := newRunnerFixture(t)
	f.addAssignedDevice("d1", "user@example.com")

	err := f.runner.Run(context.Background(), "send_reminder", map[string]string{"device_id": "d1"})

	require.NoError(t, err)
	assert.Empty(t, f.email.Sent)
	assert.Empty(t, f.devices.metas)
}

func TestRun_LockDevice(t *testing.T) {
	f := newRunnerFixture(t)

	err := f.runner.Run(context.Background(), "lock_device", map[string]string{"device_id": "d1"})

	require.NoError(t, err)
	assert.Equal(t, []string{"d1"}, f.locker.locked)
}

func TestRun_RequestShelfAudit_Notifies(t *testing.T) {
	f := newRunnerFixture(t)
	f.auditor.shelf.AuditNotificationEnabled = true
	f.auditor.shelf.ResponsibleForAudit = "audit-team@example.com"

	err := f.runner.Run(context.Background(), "request_shelf_audit", map[string]string{"shelf_id": "sh1"})

	require.NoError(t, err)
	assert.True(t, f.auditor.shelf.AuditRequested)
	require.Len(t, f.email.Sent, 1)
	assert.Equal(t, []string{"audit-team@example.com"}, f.email.Sent[0].To)
}

func TestRun_RequestShelfAudit_NotificationDisabled(t *testing.T) {
	f := newRunnerFixture(t)
	f.auditor.shelf.ResponsibleForAudit = "audit-team@example.com"

	err := f.runner.Run(context.Background(), "request_shelf_audit", map[string]string{"shelf_id": "sh1"})

	require.NoError(t, err)
	assert.Empty(t, f.email.Sent)
}

func TestRun_RequestShelfAudit_MailFailureIsSoft(t *testing.T) {
	f := newRunnerFixture(t)
	f.auditor.shelf.AuditNotificationEnabled = true
	f.auditor.shelf.ResponsibleForAudit = "audit-team@example.com"
	f.email.Err = fmt.Errorf("smtp down")

	err := f.runner.Run(context.Background(), "request_shelf_audit", map[string]string{"shelf_id": "sh1"})

	require.NoError(t, err)
	assert.True(t, f.auditor.shelf.AuditRequested)
}

func TestRun_UnknownActionPermanent(t *testing.T) {
	f := newRunnerFixture(t)

	err := f.runner.Run(context.Background(), "reticulate_splines", nil)

	assert.True(t, errors.Is(err, queue.ErrPermanentTaskFailure))
}

func TestRegisterAll_WiresHandlers(t *testing.T) {
	f := newRunnerFixture(t)
	reg := queue.NewRegistry()
	flushed := 0

	err := f.runner.RegisterAll(reg, func(ctx context.Context) error {
		flushed++
		return nil
	})
	require.NoError(t, err)

	h, ok := reg.Lookup("stream_rows")
	require.True(t, ok)
	require.NoError(t, h(context.Background(), nil))
	assert.Equal(t, 1, flushed)

	h, ok = reg.Lookup("disable_guest_mode")
	require.True(t, ok)
	require.NoError(t, h(context.Background(), map[string]string{
		"device_id":     "d1",
		"assigned_user": "user@example.com",
	}))
	assert.Equal(t, []string{"d1/user@example.com"}, f.locker.disabled)

	h, ok = reg.Lookup("process_action")
	require.True(t, ok)
	err = h(context.Background(), map[string]string{})
	assert.True(t, errors.Is(err, queue.ErrPermanentTaskFailure))
}
