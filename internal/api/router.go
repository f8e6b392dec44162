package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mcoot/typerace/internal/api/apierr"
	"github.com/mcoot/typerace/internal/api/handler"
	"github.com/mcoot/typerace/internal/middleware"
)

// RouterConfig holds configuration for the API router
type RouterConfig struct {
	Logger       *slog.Logger
	Rooms        handler.Rooms
	Gateway      http.Handler
	Metrics      http.Handler
	HealthChecks []handler.HealthCheck
}

// NewRouter creates the HTTP router: the game socket, the JSON API and metrics
func NewRouter(cfg RouterConfig) http.Handler {
	r := mux.NewRouter()

	gameHandler := handler.NewGameHandler(cfg.Rooms, cfg.Logger)
	healthHandler := handler.NewHealthHandler(cfg.Logger, cfg.HealthChecks...)

	loggingMiddleware := middleware.Logging(cfg.Logger)

	// The socket is long-lived; only its upgrade is logged
	r.Handle("/ws", loggingMiddleware(cfg.Gateway)).Methods(http.MethodGet)

	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.Recovery(cfg.Logger, writeInternalError))
	api.Use(loggingMiddleware)

	api.HandleFunc("/health", healthHandler.Get).Methods(http.MethodGet)
	api.HandleFunc("/games/{id}", gameHandler.Get).Methods(http.MethodGet)
	api.HandleFunc("/games/{id}/results", gameHandler.Results).Methods(http.MethodGet)

	return r
}

// writeInternalError answers a recovered panic with the JSON error body
func writeInternalError(w http.ResponseWriter, _ *http.Request, _ any) {
	apierr.WriteError(w, apierr.NewInternalError())
}
