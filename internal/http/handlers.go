package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-forecast-service/internal/cache"
	"github.com/kjstillabower/weather-forecast-service/internal/client"
	"github.com/kjstillabower/weather-forecast-service/internal/lifecycle"
	"github.com/kjstillabower/weather-forecast-service/internal/models"
	"github.com/kjstillabower/weather-forecast-service/internal/observability"
	"github.com/kjstillabower/weather-forecast-service/internal/service"
	"github.com/kjstillabower/weather-forecast-service/internal/traffic"
	"github.com/kjstillabower/weather-forecast-service/internal/validation"
)

// ForecastService is the slice of service.ForecastService the handlers use.
type ForecastService interface {
	Lookup(ctx context.Context, location string) (models.ForecastRecord, error)
	Display(ctx context.Context, location string) (models.ForecastRecord, error)
	PushRecord(ctx context.Context, location string) error
	PullAsset(ctx context.Context) (string, error)
	History(ctx context.Context) ([]models.LookupEntry, error)
	HistoryPath() string
}

// HealthConfig holds thresholds and probes for the health handler.
type HealthConfig struct {
	DegradedWindow   time.Duration
	DegradedErrorPct int
	// UpstreamOpen reports whether the forecast provider circuit is open.
	UpstreamOpen func() bool
	// DocumentStorePing, when set, checks the document store. Used with the memcached backend.
	DocumentStorePing func() error
	Version           string
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	svc          ForecastService
	healthConfig *HealthConfig
	logger       *zap.Logger

	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

func NewHandler(svc ForecastService, healthConfig *HealthConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		svc:          svc,
		healthConfig: healthConfig,
		logger:       logger,
	}
}

// GetForecast handles GET /forecast/{location}.
func (h *Handler) GetForecast(w http.ResponseWriter, r *http.Request) {
	location, ok := h.locationVar(w, r)
	if !ok {
		return
	}
	h.requestLogger(r).Info("user searched for weather",
		zap.String("location", location),
		zap.String("remote_addr", r.RemoteAddr))

	record, err := h.svc.Lookup(r.Context(), location)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) || errors.Is(err, cache.ErrInvalidKey) {
			traffic.RecordSuccess()
		} else {
			traffic.RecordError()
		}
		h.writeServiceError(w, r, err, "LOCATION_NOT_FOUND")
		return
	}
	traffic.RecordSuccess()
	writeJSON(w, http.StatusOK, record)
}

// GetDisplay handles GET /display/{location}: the cached record for an already resolved location.
func (h *Handler) GetDisplay(w http.ResponseWriter, r *http.Request) {
	location, ok := h.locationVar(w, r)
	if !ok {
		return
	}
	record, err := h.svc.Display(r.Context(), location)
	if err != nil {
		h.writeServiceError(w, r, err, "RECORD_NOT_FOUND")
		return
	}
	h.requestLogger(r).Info("forecast displayed", zap.String("location", record.Location))
	writeJSON(w, http.StatusOK, record)
}

// PostSyncRecord handles POST /sync/{location}.
func (h *Handler) PostSyncRecord(w http.ResponseWriter, r *http.Request) {
	location, ok := h.locationVar(w, r)
	if !ok {
		return
	}
	if err := h.svc.PushRecord(r.Context(), location); err != nil {
		h.writeServiceError(w, r, err, "RECORD_NOT_FOUND")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "synced",
		"location": location,
	})
}

// PostSyncAsset handles POST /sync/asset.
func (h *Handler) PostSyncAsset(w http.ResponseWriter, r *http.Request) {
	path, err := h.svc.PullAsset(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err, "ASSET_NOT_FOUND")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "downloaded",
		"path":   path,
	})
}

// GetHistory handles GET /history.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.History(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err, "HISTORY_NOT_FOUND")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

// GetHistoryDownload handles GET /history/download: the raw ledger file as an attachment.
func (h *Handler) GetHistoryDownload(w http.ResponseWriter, r *http.Request) {
	path := h.svc.HistoryPath()
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			writeError(w, r, http.StatusNotFound, "HISTORY_NOT_FOUND", "No lookups recorded yet")
			return
		}
		h.writeServiceError(w, r, err, "HISTORY_NOT_FOUND")
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		h.writeServiceError(w, r, err, "HISTORY_NOT_FOUND")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filepath.Base(path)+`"`)
	http.ServeContent(w, r, filepath.Base(path), info.ModTime(), f)
}

func (h *Handler) locationVar(w http.ResponseWriter, r *http.Request) (string, bool) {
	location, err := validation.ValidateLocation(mux.Vars(r)["location"], validation.DefaultMinLength, validation.DefaultMaxLength)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_LOCATION", err.Error())
		return "", false
	}
	return location, true
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := map[string]string{"forecastApi": "healthy"}
	if result.reason == "error_rate_breach" || result.reason == "circuit_open" {
		checks["forecastApi"] = "unhealthy"
	}
	version := "dev"
	if h.healthConfig != nil {
		if h.healthConfig.Version != "" {
			version = h.healthConfig.Version
		}
		if h.healthConfig.DocumentStorePing != nil {
			if h.healthConfig.DocumentStorePing() == nil {
				checks["documentStore"] = "healthy"
			} else {
				checks["documentStore"] = "unhealthy"
			}
		}
	}
	writeJSON(w, result.statusCode, map[string]interface{}{
		"status":    result.status,
		"service":   observability.ServiceName,
		"version":   version,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// computeHealthStatus evaluates, in order: shutting-down, open upstream circuit,
// lookup error rate over the window, healthy.
func (h *Handler) computeHealthStatus() healthResult {
	if why, _, draining := lifecycle.ShutdownReason(); draining {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, why}
	}
	if h.healthConfig == nil {
		return healthResult{"healthy", http.StatusOK, ""}
	}
	if h.healthConfig.UpstreamOpen != nil && h.healthConfig.UpstreamOpen() {
		return healthResult{"degraded", http.StatusServiceUnavailable, "circuit_open"}
	}
	if h.healthConfig.DegradedWindow > 0 && h.healthConfig.DegradedErrorPct > 0 {
		errs, total := traffic.ErrorRate(h.healthConfig.DegradedWindow)
		if total > 0 && float64(errs)*100/float64(total) >= float64(h.healthConfig.DegradedErrorPct) {
			return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

func (h *Handler) requestLogger(r *http.Request) *zap.Logger {
	return observability.LoggerFrom(r.Context(), h.logger)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes {"error":{code,message,requestId}}; requestId is the correlation ID.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": observability.CorrelationID(r.Context()),
		},
	})
}

// writeServiceError maps service errors to status codes. notFoundCode is the error code used
// for models.ErrNotFound, which differs per endpoint.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error, notFoundCode string) {
	logger := h.requestLogger(r)
	switch {
	case errors.Is(err, models.ErrNotFound):
		writeError(w, r, http.StatusNotFound, notFoundCode, "Not found")
		logger.Debug("not found", zap.Error(err))
		return
	case errors.Is(err, cache.ErrInvalidKey):
		writeError(w, r, http.StatusBadRequest, "INVALID_LOCATION", "Location cannot be used as a cache key")
		logger.Debug("invalid cache key", zap.Error(err))
		return
	case errors.Is(err, models.ErrMalformedPayload):
		writeError(w, r, http.StatusBadGateway, "MALFORMED_PAYLOAD", "Forecast provider returned an unusable response")
	case errors.Is(err, models.ErrTranslationFailed):
		writeError(w, r, http.StatusBadGateway, "TRANSLATION_FAILED", "Unable to translate the location name")
	case errors.Is(err, models.ErrCorruptRecord):
		writeError(w, r, http.StatusInternalServerError, "CORRUPT_RECORD", "Stored data could not be read")
	case errors.Is(err, models.ErrSyncFailed):
		writeError(w, r, http.StatusBadGateway, "SYNC_FAILED", "Remote storage operation failed")
	case errors.Is(err, service.ErrSyncDisabled):
		writeError(w, r, http.StatusServiceUnavailable, "SYNC_DISABLED", "Remote sync is not configured")
		return
	default:
		writeError(w, r, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "Unable to fetch forecast data")
	}
	logger.Warn("request failed",
		zap.String("category", string(client.CategorizeError(err))),
		zap.Error(err))
}
