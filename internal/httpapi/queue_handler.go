package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"go.uber.org/zap"

	"gng-loaner/internal/config"
)

const maxBodyBytes = 64 * 1024

// enqueuer 任务入队（由 queue.Queue 实现）
type enqueuer interface {
	Enqueue(ctx context.Context, stream, handler string, payload map[string]string) (string, error)
}

// QueueHandler /queue/* 入口：把任务直接投递到流
type QueueHandler struct {
	queue  enqueuer
	cfg    config.QueueConfig
	logger *zap.Logger
}

func NewQueueHandler(queue enqueuer, cfg config.QueueConfig, logger *zap.Logger) *QueueHandler {
	return &QueueHandler{queue: queue, cfg: cfg, logger: logger}
}

// ProcessAction 投递一个具名动作任务
// body: {"action": "...", "device_id": "...", "shelf_id": "...", ...}
func (q *QueueHandler) ProcessAction(w http.ResponseWriter, req *http.Request) {
	payload, err := readPayload(req)
	if err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}
	if payload["action"] == "" {
		fail(w, http.StatusBadRequest, "action is required")
		return
	}

	taskID, err := q.queue.Enqueue(req.Context(), q.cfg.ActionStream, "process_action", payload)
	if err != nil {
		q.logger.Error("failed to enqueue action task", zap.Error(err))
		fail(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, Result{Status: "ok", TaskID: taskID})
}

// StreamRows 投递一次审计行落库任务
func (q *QueueHandler) StreamRows(w http.ResponseWriter, req *http.Request) {
	taskID, err := q.queue.Enqueue(req.Context(), q.cfg.StreamStream, "stream_rows", nil)
	if err != nil {
		q.logger.Error("failed to enqueue stream task", zap.Error(err))
		fail(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, Result{Status: "ok", TaskID: taskID})
}

// readPayload 把 JSON body 读成字符串键值对
func readPayload(req *http.Request) (map[string]string, error) {
	body, err := io.ReadAll(io.LimitReader(req.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	payload := map[string]string{}
	if len(body) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}
