package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
)

// TestMetrics_Usable verifies that all metrics accept the label sets used by the
// client, cache, ledger, translate and syncgateway packages.
func TestMetrics_Usable(t *testing.T) {
	HTTPRequestsTotal.WithLabelValues("GET", "/forecast/{location}", "2xx").Inc()
	HTTPRequestDuration.WithLabelValues("GET", "/forecast/{location}").Observe(0.01)
	ForecastAPICallsTotal.WithLabelValues("success").Inc()
	ForecastAPICallsTotal.WithLabelValues("error").Inc()
	ForecastAPIDuration.WithLabelValues("success").Observe(0.1)
	CacheHitsTotal.Inc()
	CacheMissesTotal.Inc()
	CacheEvictionsTotal.WithLabelValues("expired").Inc()
	CacheEvictionsTotal.WithLabelValues("capacity").Inc()
	CacheEntries.Set(3)
	LedgerAppendsTotal.WithLabelValues("success").Inc()
	TranslationsTotal.WithLabelValues("error").Inc()
	SyncOperationsTotal.WithLabelValues("push_record", "success").Inc()
	SetCircuitBreakerState("forecast_api", 2)
}

// TestRecordCityLookup verifies tracked cities get their own label and the rest fall into "other".
func TestRecordCityLookup(t *testing.T) {
	SetTrackedLocations([]string{"Seattle", "portland"})
	defer SetTrackedLocations(nil)

	beforeSeattle := testutil.ToFloat64(CityLookupsTotal.WithLabelValues("seattle"))
	beforeOther := testutil.ToFloat64(CityLookupsTotal.WithLabelValues("other"))

	RecordCityLookup("  SEATTLE ")
	RecordCityLookup("unknown-city")

	if got := testutil.ToFloat64(CityLookupsTotal.WithLabelValues("seattle")) - beforeSeattle; got != 1 {
		t.Errorf("seattle delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(CityLookupsTotal.WithLabelValues("other")) - beforeOther; got != 1 {
		t.Errorf("other delta = %v, want 1", got)
	}
}

// TestMetricsHandler_ServesPrometheusFormat verifies that MetricsHandler serves
// Prometheus text exposition format with correct HTTP status and metric output.
func TestMetricsHandler_ServesPrometheusFormat(t *testing.T) {
	HTTPRequestsTotal.WithLabelValues("GET", "/health", "2xx").Inc()
	handler := MetricsHandler()
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("MetricsHandler status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "httpRequestsTotal") {
		t.Error("MetricsHandler response should contain metric output")
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	if got := CorrelationID(ctx); got != "" {
		t.Errorf("CorrelationID(empty) = %q, want empty", got)
	}
	fallback := zap.NewNop()
	if got := LoggerFrom(ctx, fallback); got != fallback {
		t.Error("LoggerFrom should return fallback when no logger is set")
	}

	reqLogger := zap.NewNop().With(zap.String("k", "v"))
	ctx = WithLogger(WithCorrelationID(ctx, "abc-123"), reqLogger)
	if got := CorrelationID(ctx); got != "abc-123" {
		t.Errorf("CorrelationID = %q, want abc-123", got)
	}
	if got := LoggerFrom(ctx, fallback); got != reqLogger {
		t.Error("LoggerFrom should return the stored logger")
	}
}
