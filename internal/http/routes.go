package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-forecast-service/internal/observability"
)

// RouterOptions configures the middleware applied to the forecast and sync routes.
type RouterOptions struct {
	Limiter        *rate.Limiter // nil disables rate limiting
	RequestTimeout time.Duration
}

// NewRouter registers every route. Rate limiting and the request deadline apply to the
// routes that reach the provider or remote storage; health, metrics and history do not.
func NewRouter(h *Handler, logger *zap.Logger, opts RouterOptions) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)

	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler())
	router.HandleFunc("/history", h.GetHistory).Methods(http.MethodGet)
	router.HandleFunc("/history/download", h.GetHistoryDownload).Methods(http.MethodGet)
	router.HandleFunc("/display/{location}", h.GetDisplay).Methods(http.MethodGet)

	upstream := router.NewRoute().Subrouter()
	upstream.Use(RateLimitMiddleware(opts.Limiter))
	if opts.RequestTimeout > 0 {
		upstream.Use(TimeoutMiddleware(opts.RequestTimeout))
	}
	upstream.HandleFunc("/forecast/{location}", h.GetForecast).Methods(http.MethodGet)
	upstream.HandleFunc("/sync/asset", h.PostSyncAsset).Methods(http.MethodPost)
	upstream.HandleFunc("/sync/{location}", h.PostSyncRecord).Methods(http.MethodPost)

	return router
}
