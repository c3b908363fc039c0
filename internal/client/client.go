package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/kjstillabower/weather-forecast-service/internal/models"
	"github.com/kjstillabower/weather-forecast-service/internal/observability"
)

// DefaultAPIURL is the Visual Crossing timeline endpoint; the location is appended as a path segment.
const DefaultAPIURL = "https://weather.visualcrossing.com/VisualCrossingWebServices/rest/services/timeline"

const forecastElements = "datetime,datetimeEpoch,tempmax,tempmin,temp,humidity"

// ForecastClient fetches the raw forecast payload for a location.
type ForecastClient interface {
	FetchForecast(ctx context.Context, location string) ([]byte, error)
}

var (
	ErrInvalidAPIKey = errors.New("invalid API key")
	// ErrLocationNotFound is returned for every non-200 provider response.
	ErrLocationNotFound = fmt.Errorf("location %w", models.ErrNotFound)
	ErrCircuitOpen      = errors.New("circuit breaker open")
)

// VisualCrossingClient implements ForecastClient against the Visual Crossing timeline API.
type VisualCrossingClient struct {
	apiKey         string
	apiURL         string
	timeout        time.Duration
	client         *http.Client
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	breaker        *gobreaker.CircuitBreaker
}

func NewVisualCrossingClient(apiKey, apiURL string, timeout time.Duration) (*VisualCrossingClient, error) {
	return NewVisualCrossingClientWithRetry(apiKey, apiURL, timeout, 3, 100*time.Millisecond, 2*time.Second)
}

func NewVisualCrossingClientWithRetry(apiKey, apiURL string, timeout time.Duration, retryAttempts int, retryBaseDelay, retryMaxDelay time.Duration) (*VisualCrossingClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrInvalidAPIKey)
	}
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	if retryAttempts <= 0 {
		retryAttempts = 1
	}

	return &VisualCrossingClient{
		apiKey:         apiKey,
		apiURL:         strings.TrimRight(apiURL, "/"),
		timeout:        timeout,
		retryAttempts:  retryAttempts,
		retryBaseDelay: retryBaseDelay,
		retryMaxDelay:  retryMaxDelay,
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// SetCircuitBreaker guards upstream calls with cb. Only transport failures count
// against the breaker; "not found" answers do not.
func (c *VisualCrossingClient) SetCircuitBreaker(cb *gobreaker.CircuitBreaker) {
	c.breaker = cb
}

// FetchForecast returns the raw JSON payload for location. Transport errors and
// timeouts are retried with backoff; any non-200 status returns ErrLocationNotFound
// immediately.
func (c *VisualCrossingClient) FetchForecast(ctx context.Context, location string) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			observability.ForecastAPIRetriesTotal.Inc()
			delay := c.calculateBackoff(attempt)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		body, err := c.guardedCall(ctx, location)
		if err == nil {
			return body, nil
		}

		lastErr = err
		if ctx.Err() != nil || !c.isRetryable(err) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("exhausted retries: %w", lastErr)
}

type callOutcome struct {
	body []byte
	err  error
}

func (c *VisualCrossingClient) guardedCall(ctx context.Context, location string) ([]byte, error) {
	if c.breaker == nil {
		return c.callAPI(ctx, location)
	}
	res, err := c.breaker.Execute(func() (interface{}, error) {
		body, err := c.callAPI(ctx, location)
		if err != nil && errors.Is(err, ErrLocationNotFound) {
			return callOutcome{err: err}, nil
		}
		return callOutcome{body: body}, err
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
		}
		return nil, err
	}
	out := res.(callOutcome)
	return out.body, out.err
}

func (c *VisualCrossingClient) callAPI(ctx context.Context, location string) ([]byte, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, location)
	if err != nil {
		observability.ForecastAPICallsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("build request: %w", err)
	}

	if corrID := observability.CorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		duration := time.Since(start).Seconds()
		observability.ForecastAPICallsTotal.WithLabelValues("error").Inc()
		observability.ForecastAPIDuration.WithLabelValues("error").Observe(duration)

		if errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("request canceled: %w", err)
		}
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return nil, fmt.Errorf("request timeout: %w (%v)", context.DeadlineExceeded, err)
		}
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	duration := time.Since(start).Seconds()
	status := statusLabel(resp.StatusCode)
	observability.ForecastAPICallsTotal.WithLabelValues(status).Inc()
	observability.ForecastAPIDuration.WithLabelValues(status).Observe(duration)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: HTTP %d", ErrLocationNotFound, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return body, nil
}

func (c *VisualCrossingClient) isRetryable(err error) bool {
	if err == nil || errors.Is(err, ErrLocationNotFound) || errors.Is(err, ErrCircuitOpen) {
		return false
	}

	errStr := err.Error()
	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "http request failed") || strings.Contains(errStr, "read response body") {
		return true
	}

	return false
}

func (c *VisualCrossingClient) calculateBackoff(attempt int) time.Duration {
	delay := float64(c.retryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.retryMaxDelay) {
		delay = float64(c.retryMaxDelay)
	}

	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func (c *VisualCrossingClient) buildRequest(ctx context.Context, location string) (*http.Request, error) {
	baseURL, err := url.Parse(c.apiURL + "/" + url.PathEscape(location))
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	params := url.Values{}
	params.Set("unitGroup", "metric")
	params.Set("elements", forecastElements)
	params.Set("include", "days,hours")
	params.Set("key", c.apiKey)
	params.Set("contentType", "json")
	baseURL.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	return req, nil
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}
