package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gng-loaner/internal/config"
)

type fakeSweeps struct {
	calls []string
	err   error
}

func (f *fakeSweeps) RunCustomEvents(ctx context.Context) error {
	f.calls = append(f.calls, "custom")
	return f.err
}

func (f *fakeSweeps) RunReminderEvents(ctx context.Context, findRemindable, remindForDevices bool) error {
	f.calls = append(f.calls, fmt.Sprintf("reminder:%t:%t", findRemindable, remindForDevices))
	return f.err
}

func (f *fakeSweeps) RunShelfAuditEvents(ctx context.Context) error {
	f.calls = append(f.calls, "shelf_audit")
	return f.err
}

func (f *fakeSweeps) SyncUserRoles(ctx context.Context) error {
	f.calls = append(f.calls, "sync_roles")
	return f.err
}

type enqueued struct {
	stream  string
	handler string
	payload map[string]string
}

type fakeEnqueuer struct {
	tasks []enqueued
	err   error
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, stream, handler string, payload map[string]string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.tasks = append(f.tasks, enqueued{stream: stream, handler: handler, payload: payload})
	return "task-1", nil
}

func newTestRouter(sweeps *fakeSweeps, q *fakeEnqueuer) *Router {
	logger := zap.NewNop()
	r := NewRouter(logger)
	r.RegisterCronRoutes(NewCronHandler(sweeps, logger))
	r.RegisterQueueRoutes(NewQueueHandler(q, config.QueueConfig{
		ActionStream: "gng:queue:process-action",
		StreamStream: "gng:queue:stream-rows",
	}, logger))
	r.RegisterHealthRoute()
	return r
}

func doRequest(t *testing.T, r *Router, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestCron_RunCustomEvents(t *testing.T) {
	sweeps := &fakeSweeps{}
	r := newTestRouter(sweeps, &fakeEnqueuer{})

	rec := doRequest(t, r, http.MethodGet, "/cron/run_custom_events", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"custom"}, sweeps.calls)
}

func TestCron_RunReminderEvents_Flags(t *testing.T) {
	sweeps := &fakeSweeps{}
	r := newTestRouter(sweeps, &fakeEnqueuer{})

	rec := doRequest(t, r, http.MethodGet, "/cron/run_reminder_events?find_remindable_devices=true", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, r, http.MethodGet, "/cron/run_reminder_events?remind_for_devices=true", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, []string{"reminder:true:false", "reminder:false:true"}, sweeps.calls)
}

func TestCron_RunReminderEvents_NoFlag(t *testing.T) {
	sweeps := &fakeSweeps{}
	r := newTestRouter(sweeps, &fakeEnqueuer{})

	rec := doRequest(t, r, http.MethodGet, "/cron/run_reminder_events", "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, sweeps.calls)
}

func TestCron_SweepErrorIs500(t *testing.T) {
	sweeps := &fakeSweeps{err: fmt.Errorf("db down")}
	r := newTestRouter(sweeps, &fakeEnqueuer{})

	rec := doRequest(t, r, http.MethodGet, "/cron/sync_user_roles", "")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var result Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "error", result.Status)
}

func TestCron_PostNotAllowed(t *testing.T) {
	sweeps := &fakeSweeps{}
	r := newTestRouter(sweeps, &fakeEnqueuer{})

	rec := doRequest(t, r, http.MethodPost, "/cron/run_shelf_audit_events", "")

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Empty(t, sweeps.calls)
}

func TestQueue_ProcessAction(t *testing.T) {
	q := &fakeEnqueuer{}
	r := newTestRouter(&fakeSweeps{}, q)

	rec := doRequest(t, r, http.MethodPost, "/queue/process-action",
		`{"action":"lock_device","device_id":"d1"}`)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, q.tasks, 1)
	assert.Equal(t, "gng:queue:process-action", q.tasks[0].stream)
	assert.Equal(t, "process_action", q.tasks[0].handler)
	assert.Equal(t, "lock_device", q.tasks[0].payload["action"])
	assert.Equal(t, "d1", q.tasks[0].payload["device_id"])

	var result Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "task-1", result.TaskID)
}

func TestQueue_ProcessAction_MissingAction(t *testing.T) {
	q := &fakeEnqueuer{}
	r := newTestRouter(&fakeSweeps{}, q)

	rec := doRequest(t, r, http.MethodPost, "/queue/process-action", `{"device_id":"d1"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, q.tasks)
}

func TestQueue_ProcessAction_BadJSON(t *testing.T) {
	q := &fakeEnqueuer{}
	r := newTestRouter(&fakeSweeps{}, q)

	rec := doRequest(t, r, http.MethodPost, "/queue/process-action", `{bad`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueue_StreamRows(t *testing.T) {
	q := &fakeEnqueuer{}
	r := newTestRouter(&fakeSweeps{}, q)

	rec := doRequest(t, r, http.MethodPost, "/queue/stream-rows", "")

	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, q.tasks, 1)
	assert.Equal(t, "gng:queue:stream-rows", q.tasks[0].stream)
	assert.Equal(t, "stream_rows", q.tasks[0].handler)
}

func TestHealthz(t *testing.T) {
	r := newTestRouter(&fakeSweeps{}, &fakeEnqueuer{})

	rec := doRequest(t, r, http.MethodGet, "/healthz", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}
