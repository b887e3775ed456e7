package rules

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gng-loaner/internal/clock"
	"gng-loaner/internal/models"
)

func TestCompile_EqualityInWhere(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	plan, err := Compile(models.ModelDevice, []models.Condition{
		{Field: "enrolled", Op: "=", Value: "true"},
		{Field: "locked", Op: "!=", Value: "true"},
	}, now)

	require.NoError(t, err)
	assert.Equal(t, "enrolled = $1 AND locked <> $2", plan.Where)
	assert.Equal(t, []interface{}{true, true}, plan.Args)
	assert.Empty(t, plan.post)
}

func TestCompile_SingleInequalityInWhere(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	plan, err := Compile(models.ModelDevice, []models.Condition{
		{Field: "due_date", Op: "<", Value: "+1d"},
	}, now)

	require.NoError(t, err)
	assert.Equal(t, "(due_date IS NOT NULL AND due_date < $1)", plan.Where)
	require.Len(t, plan.Args, 1)
	assert.Equal(t, now.Add(24*time.Hour), plan.Args[0])
}

func TestCompile_SecondInequalityPostFiltered(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	plan, err := Compile(models.ModelDevice, []models.Condition{
		{Field: "due_date", Op: "<", Value: "-1d"},
		{Field: "last_heartbeat", Op: ">", Value: "-2h"},
	}, now)

	require.NoError(t, err)
	assert.Equal(t, "(due_date IS NOT NULL AND due_date < $1)", plan.Where)
	require.Len(t, plan.post, 1)
	assert.Equal(t, "last_heartbeat", plan.post[0].field)
}

func TestCompile_AbsoluteTime(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	plan, err := Compile(models.ModelDevice, []models.Condition{
		{Field: "assignment_date", Op: ">=", Value: "2024-05-01T00:00:00Z"},
	}, now)

	require.NoError(t, err)
	assert.Equal(t, "assignment_date >= $1", plan.Where)
	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), plan.Args[0])
}

func TestValidateConditions_Errors(t *testing.T) {
	cases := []struct {
		name string
		cond models.Condition
	}{
		{"unknown field", models.Condition{Field: "bogus", Op: "=", Value: "x"}},
		{"unknown op", models.Condition{Field: "enrolled", Op: "~", Value: "true"}},
		{"bad bool", models.Condition{Field: "enrolled", Op: "=", Value: "maybe"}},
		{"bad int", models.Condition{Field: "last_reminder_level", Op: "=", Value: "one"}},
		{"bad time", models.Condition{Field: "due_date", Op: "<", Value: "yesterday"}},
		{"inequality on string", models.Condition{Field: "serial_number", Op: "<", Value: "sn-1"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateConditions(models.ModelDevice, []models.Condition{tc.cond})
			assert.Error(t, err)
		})
	}
}

func TestValidateConditions_Success(t *testing.T) {
	err := ValidateConditions(models.ModelShelf, []models.Condition{
		{Field: "enabled", Op: "=", Value: "true"},
		{Field: "last_audit_time", Op: "<", Value: "-1w"},
		{Field: "capacity", Op: ">=", Value: "5"},
	})

	assert.NoError(t, err)
}

func TestMatchDevice_NullFieldNeverMatchesLess(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	// 两个不等式：第二个进入内存过滤
	plan, err := Compile(models.ModelDevice, []models.Condition{
		{Field: "due_date", Op: "<", Value: "+1d"},
		{Field: "last_heartbeat", Op: "<", Value: "-1h"},
	}, now)
	require.NoError(t, err)

	withHeartbeat := now.Add(-2 * time.Hour)
	assert.True(t, plan.MatchDevice(&models.Device{LastHeartbeat: &withHeartbeat}))

	// last_heartbeat 为空的设备不命中小于条件
	assert.False(t, plan.MatchDevice(&models.Device{}))
}

type fakeDeviceSelector struct {
	batches  [][]*models.Device
	calls    int
	gotWhere string
	err      error
}

func (f *fakeDeviceSelector) SelectDevices(ctx context.Context, whereSQL string, args []interface{}, orderBy string, limit, offset int) ([]*models.Device, error) {
	f.calls++
	f.gotWhere = whereSQL
	if f.err != nil {
		return nil, f.err
	}
	if len(f.batches) == 0 {
		return nil, nil
	}
	batch := f.batches[0]
	f.batches = f.batches[1:]
	return batch, nil
}

type fakeShelfSelector struct {
	shelves []*models.Shelf
	err     error
}

func (f *fakeShelfSelector) SelectShelves(ctx context.Context, whereSQL string, args []interface{}, orderBy string, limit, offset int) ([]*models.Shelf, error) {
	if f.err != nil {
		return nil, f.err
	}
	if offset > 0 {
		return nil, nil
	}
	return f.shelves, nil
}

func newTestEngine(devices deviceSelector, shelves shelfSelector) *Engine {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	return NewEngine(devices, shelves, clock.NewFake(now), zap.NewNop())
}

func TestEvaluateDevices_PostFilterApplied(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	recent := now.Add(-10 * time.Minute)
	stale := now.Add(-3 * time.Hour)

	sel := &fakeDeviceSelector{batches: [][]*models.Device{{
		{DeviceID: "dev-1", DueDate: &stale, LastHeartbeat: &recent},
		{DeviceID: "dev-2", DueDate: &stale, LastHeartbeat: &stale},
		{DeviceID: "dev-3", DueDate: &stale},
	}}}

	e := newTestEngine(sel, &fakeShelfSelector{})

	var matched []string
	err := e.EvaluateDevices(context.Background(), []models.Condition{
		{Field: "due_date", Op: "<", Value: "-1h"},
		{Field: "last_heartbeat", Op: ">", Value: "-1h"},
	}, func(d *models.Device) error {
		matched = append(matched, d.DeviceID)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"dev-1"}, matched)
	assert.Contains(t, sel.gotWhere, "due_date")
}

func TestEvaluateDevices_QueryErrorYieldsNothing(t *testing.T) {
	sel := &fakeDeviceSelector{err: fmt.Errorf("db down")}
	e := newTestEngine(sel, &fakeShelfSelector{})

	called := false
	err := e.EvaluateDevices(context.Background(), nil, func(d *models.Device) error {
		called = true
		return nil
	})

	assert.NoError(t, err)
	assert.False(t, called)
}

func TestEvaluateDevices_CallbackErrorAborts(t *testing.T) {
	sel := &fakeDeviceSelector{batches: [][]*models.Device{{
		{DeviceID: "dev-1"},
		{DeviceID: "dev-2"},
	}}}
	e := newTestEngine(sel, &fakeShelfSelector{})

	var seen int
	err := e.EvaluateDevices(context.Background(), nil, func(d *models.Device) error {
		seen++
		return fmt.Errorf("stop")
	})

	assert.Error(t, err)
	assert.Equal(t, 1, seen)
}

func TestEvaluate_ShelfModel(t *testing.T) {
	sel := &fakeShelfSelector{shelves: []*models.Shelf{
		{ShelfID: "shelf-1", Enabled: true},
		{ShelfID: "shelf-2", Enabled: false},
	}}
	e := newTestEngine(&fakeDeviceSelector{}, sel)

	event := &models.Event{
		Name:  "disabled_shelves",
		Kind:  models.EventKindCustom,
		Model: models.ModelShelf,
		Conditions: []models.Condition{
			{Field: "enabled", Op: "=", Value: "false"},
		},
	}

	var matched []string
	err := e.Evaluate(context.Background(), event, func(entityID string) error {
		matched = append(matched, entityID)
		return nil
	})

	require.NoError(t, err)
	// 等式条件已在 WHERE 下推，假查询器不执行 SQL，两个都会回来；
	// 没有内存过滤条件时全部命中
	assert.Equal(t, []string{"shelf-1", "shelf-2"}, matched)
}

func TestEvaluate_UnknownModel(t *testing.T) {
	e := newTestEngine(&fakeDeviceSelector{}, &fakeShelfSelector{})

	err := e.Evaluate(context.Background(), &models.Event{Name: "x", Model: "Tag"}, func(string) error { return nil })

	assert.Error(t, err)
}
