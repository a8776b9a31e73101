package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/BioHazard786/syncwave/internal/config"
	"github.com/BioHazard786/syncwave/internal/metrics"
	"github.com/BioHazard786/syncwave/internal/signaling"
)

// NewRouter mounts the websocket relay, health check and metrics.
func NewRouter(hub *signaling.Hub, cfg *config.Server, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Method(http.MethodGet, "/health", metrics.Instrument("health", http.HandlerFunc(healthCheckHandler)))
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/ws", ServeWs(hub, cfg, logger))

	return r
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Signaling server is healthy."))
}

// ServeWs returns an http.HandlerFunc that upgrades to a websocket and
// hands the connection to the hub under a fresh member identifier.
func ServeWs(hub *signaling.Hub, cfg *config.Server, logger *zap.Logger) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  64 * 1024, // 64 KB
		WriteBufferSize: 64 * 1024, // 64 KB
		CheckOrigin: func(r *http.Request) bool {
			return cfg.AllowsOrigin(r.Header.Get("Origin"))
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("failed to upgrade connection", zap.Error(err), zap.String("remote", r.RemoteAddr))
			return
		}

		client := signaling.NewClient(hub, conn, uuid.NewString())
		hub.Register(client)

		go client.WritePump()
		go client.ReadPump()
	}
}
