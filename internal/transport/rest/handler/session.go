package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"hrtrainer/internal/model"
	"hrtrainer/internal/service"
	"hrtrainer/internal/store"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// SessionHandler serves the training endpoints
type SessionHandler struct {
	engine    *service.ConversationEngine
	evaluator *service.EvaluationPipeline
	store     *store.SessionStore
	log       *zap.Logger
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(engine *service.ConversationEngine, evaluator *service.EvaluationPipeline, st *store.SessionStore, log *zap.Logger) *SessionHandler {
	return &SessionHandler{
		engine:    engine,
		evaluator: evaluator,
		store:     st,
		log:       log,
	}
}

// StartChatResponse is returned by POST /api/start_chat
type StartChatResponse struct {
	SessionID      string `json:"session_id"`
	InitialMessage string `json:"initial_message"`
	TargetProduct  string `json:"target_product"`
}

// StartChat handles POST /api/start_chat
func (h *SessionHandler) StartChat(w http.ResponseWriter, r *http.Request) {
	h.log.Info("开始新的聊天会话")

	sess, err := h.engine.StartSession(r.Context())
	if err != nil {
		h.log.Error("初始化会话失败", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.log.Info("会话初始化成功", zap.String("session_id", sess.ID))

	writeJSON(w, http.StatusOK, StartChatResponse{
		SessionID:      sess.ID,
		InitialMessage: sess.Transcript[0].Text,
		TargetProduct:  sess.TargetProduct,
	})
}

// SendMessage handles GET /api/send_message?session_id=&message=
// The reply is streamed as server-sent events.
func (h *SessionHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	message := r.URL.Query().Get("message")
	h.log.Info("接收到新消息", zap.String("session_id", sessionID))

	events, err := h.engine.SendMessage(r.Context(), sessionID, message)
	if err != nil {
		h.log.Error("无法处理消息", zap.String("session_id", sessionID), zap.Error(err))
		writeServiceError(w, err, msgMissingParams)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	for ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			// the engine notices through the request context
			continue
		}
		rc.Flush()
	}
}

// EndChatRequest is the body of POST /api/end_chat
type EndChatRequest struct {
	SessionID string `json:"session_id"`
}

// EndChat handles POST /api/end_chat
func (h *SessionHandler) EndChat(w http.ResponseWriter, r *http.Request) {
	var req EndChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	h.log.Info("请求结束会话并评分", zap.String("session_id", req.SessionID))

	eval, err := h.evaluator.Terminate(r.Context(), req.SessionID)
	if err != nil {
		h.log.Error("结束会话失败", zap.String("session_id", req.SessionID), zap.Error(err))
		writeServiceError(w, err, msgMissingSession)
		return
	}

	writeJSON(w, http.StatusOK, map[string]model.Evaluation{"evaluation": eval})
}

// ListSessions handles GET /api/sessions
func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.store.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if summaries == nil {
		summaries = []model.SessionSummary{}
	}
	writeJSON(w, http.StatusOK, map[string][]model.SessionSummary{"sessions": summaries})
}

// GetSession handles GET /api/session/{id}
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	sess, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.log.Error("会话不存在", zap.String("session_id", id), zap.Error(err))
		writeServiceError(w, err, msgMissingSession)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}
