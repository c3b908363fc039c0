package service

import (
	"context"
	"sync"
	"time"

	"github.com/kjstillabower/weather-forecast-service/internal/models"
)

// inFlightFetch is a single provider fetch that several lookups may wait on.
type inFlightFetch struct {
	done   chan struct{}
	record models.ForecastRecord
	err    error
}

// requestCoalescer collapses concurrent cache misses for the same key into one fetch.
type requestCoalescer struct {
	mu       sync.Mutex
	inFlight map[string]*inFlightFetch
	timeout  time.Duration
}

func newRequestCoalescer(timeout time.Duration) *requestCoalescer {
	return &requestCoalescer{
		inFlight: make(map[string]*inFlightFetch),
		timeout:  timeout,
	}
}

// GetOrDo joins the fetch already running for key, or starts fn for it. fn runs detached
// from the caller's cancellation, bounded by the coalescer timeout, so one caller giving
// up does not fail the others. shared reports whether the result came from another caller's fetch.
func (rc *requestCoalescer) GetOrDo(ctx context.Context, key string, fn func(context.Context) (models.ForecastRecord, error)) (record models.ForecastRecord, shared bool, err error) {
	rc.mu.Lock()
	call, exists := rc.inFlight[key]
	if !exists {
		call = &inFlightFetch{done: make(chan struct{})}
		rc.inFlight[key] = call
	}
	rc.mu.Unlock()

	if !exists {
		go rc.run(ctx, key, call, fn)
	}

	waitCtx, cancel := context.WithTimeout(ctx, rc.timeout)
	defer cancel()
	select {
	case <-call.done:
		return call.record, exists, call.err
	case <-waitCtx.Done():
		return models.ForecastRecord{}, exists, waitCtx.Err()
	}
}

func (rc *requestCoalescer) run(ctx context.Context, key string, call *inFlightFetch, fn func(context.Context) (models.ForecastRecord, error)) {
	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rc.timeout)
	defer cancel()

	call.record, call.err = fn(fetchCtx)
	close(call.done)

	rc.mu.Lock()
	delete(rc.inFlight, key)
	rc.mu.Unlock()
}
