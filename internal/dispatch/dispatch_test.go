package dispatch

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gng-loaner/internal/models"
)

type fakeEventStore struct {
	events    []*models.Event
	listCalls int
	err       error
}

func (f *fakeEventStore) ListEvents(ctx context.Context) ([]*models.Event, error) {
	f.listCalls++
	if f.err != nil {
		return nil, f.err
	}
	return f.events, nil
}

type enqueuedTask struct {
	stream  string
	handler string
	payload map[string]string
}

type fakeEnqueuer struct {
	tasks []enqueuedTask
	err   error
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, stream, handler string, payload map[string]string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.tasks = append(f.tasks, enqueuedTask{stream: stream, handler: handler, payload: payload})
	return "task-1", nil
}

func testEvents() []*models.Event {
	return []*models.Event{
		{Name: "device_enroll", Kind: models.EventKindCore, Enabled: true, Actions: []string{"send_welcome", "move_default_ou"}},
		{Name: "device_loan_return", Kind: models.EventKindCore, Enabled: true, Actions: []string{"send_thank_you"}},
		{Name: "shelf_disable", Kind: models.EventKindCore, Enabled: true},
		{Name: "stale_loaner", Kind: models.EventKindCustom, Enabled: false, Actions: []string{"lock_device"}},
	}
}

func TestRaiseEvent_EnqueuesPerAction(t *testing.T) {
	store := &fakeEventStore{events: testEvents()}
	eq := &fakeEnqueuer{}
	d := NewDispatcher(store, eq, nil, zap.NewNop(), "gng:queue:process-action")

	err := d.RaiseEvent(context.Background(), "device_enroll", map[string]string{"device_id": "dev-1"})

	require.NoError(t, err)
	require.Len(t, eq.tasks, 2)
	assert.Equal(t, "gng:queue:process-action", eq.tasks[0].stream)
	assert.Equal(t, "process_action", eq.tasks[0].handler)
	assert.Equal(t, "device_enroll", eq.tasks[0].payload["event"])
	assert.Equal(t, "send_welcome", eq.tasks[0].payload["action"])
	assert.Equal(t, "dev-1", eq.tasks[0].payload["device_id"])
	assert.Equal(t, "move_default_ou", eq.tasks[1].payload["action"])
}

func TestRaiseEvent_NoActions(t *testing.T) {
	store := &fakeEventStore{events: testEvents()}
	eq := &fakeEnqueuer{}
	d := NewDispatcher(store, eq, nil, zap.NewNop(), "gng:queue:process-action")

	err := d.RaiseEvent(context.Background(), "shelf_disable", nil)

	require.NoError(t, err)
	assert.Empty(t, eq.tasks)
}

func TestRaiseEvent_DisabledEventSkipped(t *testing.T) {
	store := &fakeEventStore{events: testEvents()}
	eq := &fakeEnqueuer{}
	d := NewDispatcher(store, eq, nil, zap.NewNop(), "gng:queue:process-action")

	err := d.RaiseEvent(context.Background(), "stale_loaner", nil)

	require.NoError(t, err)
	assert.Empty(t, eq.tasks)
}

func TestRaiseEvent_MappingCached(t *testing.T) {
	store := &fakeEventStore{events: testEvents()}
	eq := &fakeEnqueuer{}
	d := NewDispatcher(store, eq, nil, zap.NewNop(), "gng:queue:process-action")

	ctx := context.Background()
	require.NoError(t, d.RaiseEvent(ctx, "device_enroll", nil))
	require.NoError(t, d.RaiseEvent(ctx, "device_loan_return", nil))

	assert.Equal(t, 1, store.listCalls)
}

func TestRaiseEvent_InvalidateRebuilds(t *testing.T) {
	store := &fakeEventStore{events: testEvents()}
	eq := &fakeEnqueuer{}
	d := NewDispatcher(store, eq, nil, zap.NewNop(), "gng:queue:process-action")

	ctx := context.Background()
	require.NoError(t, d.RaiseEvent(ctx, "device_enroll", nil))

	d.Invalidate()
	require.NoError(t, d.RaiseEvent(ctx, "device_enroll", nil))

	assert.Equal(t, 2, store.listCalls)
}

func TestRaiseEventSync_RunsInline(t *testing.T) {
	store := &fakeEventStore{events: testEvents()}
	var ran []string
	runner := func(ctx context.Context, action string, payload map[string]string) error {
		ran = append(ran, action)
		return nil
	}
	d := NewDispatcher(store, &fakeEnqueuer{}, runner, zap.NewNop(), "gng:queue:process-action")

	err := d.RaiseEventSync(context.Background(), "device_enroll", map[string]string{"device_id": "dev-1"})

	require.NoError(t, err)
	assert.Equal(t, []string{"send_welcome", "move_default_ou"}, ran)
}

func TestRaiseEventSync_ErrorPropagates(t *testing.T) {
	store := &fakeEventStore{events: testEvents()}
	runner := func(ctx context.Context, action string, payload map[string]string) error {
		return fmt.Errorf("directory unavailable")
	}
	d := NewDispatcher(store, &fakeEnqueuer{}, runner, zap.NewNop(), "gng:queue:process-action")

	err := d.RaiseEventSync(context.Background(), "device_enroll", nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "send_welcome")
}
