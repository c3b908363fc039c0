package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-forecast-service/internal/models"
	"github.com/kjstillabower/weather-forecast-service/internal/observability"
)

// ForecastFetcher is implemented by the service layer to load a location into the cache.
// Used by Warmer to avoid a circular dependency on the service package.
type ForecastFetcher interface {
	Prefetch(ctx context.Context, location string) (models.ForecastRecord, error)
}

// Warmer prefetches forecasts for a list of locations so the first user lookups hit the cache.
type Warmer struct {
	fetcher ForecastFetcher
	logger  *zap.Logger
}

// NewWarmer creates a Warmer that uses the given fetcher and logger.
func NewWarmer(fetcher ForecastFetcher, logger *zap.Logger) *Warmer {
	return &Warmer{fetcher: fetcher, logger: logger}
}

// Warm looks up each location concurrently. Returns an aggregated error if any location failed.
func (w *Warmer) Warm(ctx context.Context, locations []string) error {
	start := time.Now()
	observability.CacheWarmingTotal.Inc()
	if w.logger != nil {
		w.logger.Info("warming cache", zap.Int("locations", len(locations)))
	}
	var wg sync.WaitGroup
	errCh := make(chan error, len(locations))
	for _, loc := range locations {
		wg.Add(1)
		go func(loc string) {
			defer wg.Done()
			if _, err := w.fetcher.Prefetch(ctx, loc); err != nil {
				errCh <- fmt.Errorf("warm %s: %w", loc, err)
			}
		}(loc)
	}
	wg.Wait()
	close(errCh)
	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	if w.logger != nil {
		w.logger.Info("cache warming complete",
			zap.Int("locations", len(locations)),
			zap.Int("errors", len(errs)),
			zap.Duration("duration", time.Since(start)))
	}
	if len(errs) > 0 {
		observability.CacheWarmingErrorsTotal.Inc()
		return fmt.Errorf("cache warming: %v", errs)
	}
	return nil
}
