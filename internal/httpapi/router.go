package httpapi

import (
	"net/http"

	"go.uber.org/zap"
)

// Router 使用标准库 http.ServeMux（避免引入第三方路由依赖）
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// RegisterCronRoutes 注册定时巡检入口（由外部 cron 以 GET 触发）
func (r *Router) RegisterCronRoutes(c *CronHandler) {
	r.Handle("/cron/run_custom_events", requireMethod(http.MethodGet, c.RunCustomEvents))
	r.Handle("/cron/run_reminder_events", requireMethod(http.MethodGet, c.RunReminderEvents))
	r.Handle("/cron/run_shelf_audit_events", requireMethod(http.MethodGet, c.RunShelfAuditEvents))
	r.Handle("/cron/sync_user_roles", requireMethod(http.MethodGet, c.SyncUserRoles))
}

// RegisterQueueRoutes 注册任务投递入口
func (r *Router) RegisterQueueRoutes(q *QueueHandler) {
	r.Handle("/queue/process-action", requireMethod(http.MethodPost, q.ProcessAction))
	r.Handle("/queue/stream-rows", requireMethod(http.MethodPost, q.StreamRows))
}

// RegisterHealthRoute 注册存活探针
func (r *Router) RegisterHealthRoute() {
	r.Handle("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func requireMethod(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != method {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h(w, req)
	}
}
