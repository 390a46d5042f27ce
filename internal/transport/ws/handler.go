package ws

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"hrtrainer/internal/service"
	"hrtrainer/internal/store"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8192
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for dev
	},
}

// ChatFrame is what a chat client sends for each agent turn.
type ChatFrame struct {
	Message string `json:"message"`
}

// Handler handles WebSocket connections
type Handler struct {
	hub    *Hub
	engine *service.ConversationEngine
	store  *store.SessionStore
	log    *zap.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(hub *Hub, engine *service.ConversationEngine, st *store.SessionStore, log *zap.Logger) *Handler {
	return &Handler{
		hub:    hub,
		engine: engine,
		store:  st,
		log:    log,
	}
}

// ChatWS handles GET /api/ws/sessions/{id}/chat. Each {"message"} frame runs
// one turn; the reply comes back as Event frames ending in done or error.
func (h *Handler) ChatWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !h.sessionExists(w, r, id) {
		return
	}

	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("WebSocket upgrade error", zap.Error(err))
		return
	}
	defer wsConn.Close()
	h.log.Info("客服已通过WebSocket连接会话", zap.String("session_id", id))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	frames := make(chan ChatFrame)
	go h.readFrames(ctx, wsConn, frames, cancel)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			wsConn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsConn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case frame := <-frames:
			if !h.runTurn(ctx, wsConn, id, frame.Message) {
				return
			}
		}
	}
}

// runTurn streams one reply. It returns false once the socket is unusable.
func (h *Handler) runTurn(ctx context.Context, wsConn *websocket.Conn, id, message string) bool {
	events, err := h.engine.SendMessage(ctx, id, message)
	if err != nil {
		return writeEvent(wsConn, service.Event{Error: turnError(err)}) == nil
	}
	for ev := range events {
		if err := writeEvent(wsConn, ev); err != nil {
			// drain so the engine can finish and record the partial reply
			for range events {
			}
			return false
		}
	}
	return true
}

func (h *Handler) readFrames(ctx context.Context, wsConn *websocket.Conn, frames chan<- ChatFrame, cancel context.CancelFunc) {
	defer cancel()

	wsConn.SetReadLimit(maxMessageSize)
	wsConn.SetReadDeadline(time.Now().Add(pongWait))
	wsConn.SetPongHandler(func(string) error {
		wsConn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var frame ChatFrame
		if err := wsConn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Warn("WebSocket error", zap.Error(err))
			}
			return
		}
		wsConn.SetReadDeadline(time.Now().Add(pongWait))
		select {
		case frames <- frame:
		case <-ctx.Done():
			return
		}
	}
}

// WatchWS handles GET /api/ws/sessions/{id}/watch
func (h *Handler) WatchWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !h.sessionExists(w, r, id) {
		return
	}

	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("WebSocket upgrade error", zap.Error(err))
		return
	}

	conn := &Connection{
		SessionID: id,
		Send:      make(chan []byte, 256),
	}
	h.hub.Register(conn)

	go h.writePump(wsConn, conn)
	go h.readPump(wsConn, conn)
}

func (h *Handler) sessionExists(w http.ResponseWriter, r *http.Request, id string) bool {
	if _, err := h.store.Get(r.Context(), id); err != nil {
		http.Error(w, "会话不存在", http.StatusNotFound)
		return false
	}
	return true
}

func (h *Handler) readPump(wsConn *websocket.Conn, conn *Connection) {
	defer func() {
		h.hub.Unregister(conn)
		wsConn.Close()
	}()

	wsConn.SetReadLimit(maxMessageSize)
	wsConn.SetReadDeadline(time.Now().Add(pongWait))
	wsConn.SetPongHandler(func(string) error {
		wsConn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		// monitors are read-only; reading only services control frames
		if _, _, err := wsConn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Warn("WebSocket error", zap.Error(err))
			}
			return
		}
	}
}

func (h *Handler) writePump(wsConn *websocket.Conn, conn *Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		wsConn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			wsConn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				wsConn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := wsConn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			wsConn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsConn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeEvent(wsConn *websocket.Conn, ev service.Event) error {
	wsConn.SetWriteDeadline(time.Now().Add(writeWait))
	return wsConn.WriteJSON(ev)
}

func turnError(err error) string {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		return "缺少必要参数"
	case errors.Is(err, store.ErrSessionNotActive):
		return "会话已结束"
	case errors.Is(err, store.ErrSessionNotFound):
		return "会话不存在"
	default:
		return strings.TrimSpace(err.Error())
	}
}
