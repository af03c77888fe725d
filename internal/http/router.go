package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/forecast-compare-service/internal/observability"
)

// NewRouter wires the session API, health and metrics routes. The rate limit and request
// timeout apply to the session API only.
func NewRouter(h *Handler, logger *zap.Logger, limiter *rate.Limiter, requestTimeout time.Duration) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler())

	sessions := router.PathPrefix("/sessions").Subrouter()
	sessions.Use(RateLimitMiddleware(limiter))
	sessions.Use(TimeoutMiddleware(requestTimeout))
	sessions.HandleFunc("", h.CreateSession).Methods(http.MethodPost)
	sessions.HandleFunc("/{id}", h.GetSession).Methods(http.MethodGet)
	sessions.HandleFunc("/{id}", h.DeleteSession).Methods(http.MethodDelete)
	sessions.HandleFunc("/{id}/restart", h.RestartSession).Methods(http.MethodPost)
	sessions.HandleFunc("/{id}/queries", h.SubmitQueries).Methods(http.MethodPost)
	sessions.HandleFunc("/{id}/selections", h.SubmitSelections).Methods(http.MethodPost)
	sessions.HandleFunc("/{id}/forecast", h.GetForecast).Methods(http.MethodGet)
	return router
}
