package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"hrtrainer/internal/service"
	"hrtrainer/internal/store"
)

// Error bodies keep the wording the training page already shows.
const (
	msgMissingParams  = "缺少必要参数"
	msgMissingSession = "缺少会话ID"
	msgNotFound       = "会话不存在"
	msgNotActive      = "会话已结束"
	msgSaveFailed     = "保存会话失败"
	msgInvalidBody    = "请求格式错误"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeServiceError maps service and store errors to a status. invalidMsg is
// the body used for ErrInvalidInput.
func writeServiceError(w http.ResponseWriter, err error, invalidMsg string) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, invalidMsg)
	case errors.Is(err, store.ErrSessionNotActive):
		writeError(w, http.StatusBadRequest, msgNotActive)
	case errors.Is(err, store.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, msgNotFound)
	case errors.Is(err, store.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, msgSaveFailed)
	}
}
