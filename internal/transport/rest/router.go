package rest

import (
	"net/http"

	"hrtrainer/internal/config"
	"hrtrainer/internal/metrics"
	"hrtrainer/internal/service"
	"hrtrainer/internal/store"
	"hrtrainer/internal/transport/rest/handler"
	"hrtrainer/internal/transport/rest/middleware"
	"hrtrainer/internal/transport/ws"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Container holds all dependencies for the router
type Container struct {
	Engine    *service.ConversationEngine
	Evaluator *service.EvaluationPipeline
	Store     *store.SessionStore
	WSHub     *ws.Hub
	Server    config.ServerConfig
	Metrics   bool
	Log       *zap.Logger
}

// NewRouter creates the API router with all endpoints
func NewRouter(c *Container) http.Handler {
	r := mux.NewRouter()

	sessionHandler := handler.NewSessionHandler(c.Engine, c.Evaluator, c.Store, c.Log)
	wsHandler := ws.NewHandler(c.WSHub, c.Engine, c.Store, c.Log)

	// CORS middleware (apply first)
	r.Use(corsMiddleware(c.Server))
	r.Use(middleware.Observe(c.Log))

	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/start_chat", sessionHandler.StartChat).Methods("POST", "OPTIONS")
	api.HandleFunc("/send_message", sessionHandler.SendMessage).Methods("GET", "OPTIONS")
	api.HandleFunc("/end_chat", sessionHandler.EndChat).Methods("POST", "OPTIONS")
	api.HandleFunc("/sessions", sessionHandler.ListSessions).Methods("GET", "OPTIONS")
	api.HandleFunc("/session/{id}", sessionHandler.GetSession).Methods("GET", "OPTIONS")

	// WebSocket routes
	api.HandleFunc("/ws/sessions/{id}/chat", wsHandler.ChatWS).Methods("GET")
	api.HandleFunc("/ws/sessions/{id}/watch", wsHandler.WatchWS).Methods("GET")

	// Health check
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")

	if c.Metrics {
		r.Handle("/metrics", metrics.Handler()).Methods("GET")
	}

	return r
}

func corsMiddleware(cfg config.ServerConfig) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", cfg.AllowedOrigins)
			w.Header().Set("Access-Control-Allow-Methods", cfg.AllowedMethods)
			w.Header().Set("Access-Control-Allow-Headers", cfg.AllowedHeaders)

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
