package httpapi

import (
	"encoding/json"
	"net/http"
)

// Result 统一响应体
type Result struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	TaskID  string `json:"task_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func ok(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusOK, Result{Status: "ok", Message: message})
}

func fail(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, Result{Status: "error", Message: message})
}
