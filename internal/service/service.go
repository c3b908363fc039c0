package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-forecast-service/internal/cache"
	"github.com/kjstillabower/weather-forecast-service/internal/client"
	"github.com/kjstillabower/weather-forecast-service/internal/models"
	"github.com/kjstillabower/weather-forecast-service/internal/normalize"
	"github.com/kjstillabower/weather-forecast-service/internal/observability"
)

// ErrSyncDisabled is returned by sync operations when no gateway is configured.
var ErrSyncDisabled = errors.New("sync is not configured")

// Ledger records lookups and serves them back in order.
type Ledger interface {
	Append(ctx context.Context, location string, ts time.Time) error
	ReadAll(ctx context.Context) ([]models.LookupEntry, error)
	Path() string
}

// Syncer pushes cached records to remote storage and pulls the shared asset.
type Syncer interface {
	PushRecord(ctx context.Context, record models.ForecastRecord) error
	PullAsset(ctx context.Context) (string, error)
}

// Dependencies groups the collaborators of ForecastService. Sync may be nil.
type Dependencies struct {
	Client     client.ForecastClient
	Normalizer *normalize.Normalizer
	Store      cache.Store
	Ledger     Ledger
	Sync       Syncer
	Clock      clockwork.Clock
	Logger     *zap.Logger
}

// ForecastService runs the lookup flow: cache check (which sweeps), provider fetch and
// normalization on a miss, cache write, then a ledger entry.
type ForecastService struct {
	client     client.ForecastClient
	normalizer *normalize.Normalizer
	store      cache.Store
	ledger     Ledger
	sync       Syncer
	clock      clockwork.Clock
	logger     *zap.Logger
	coalescer  *requestCoalescer // nil when coalescing is disabled
}

// NewForecastService wires the lookup flow. Coalescing is off when disabled or timeout is 0.
func NewForecastService(deps Dependencies, coalesceEnabled bool, coalesceTimeout time.Duration) *ForecastService {
	var coalescer *requestCoalescer
	if coalesceEnabled && coalesceTimeout > 0 {
		coalescer = newRequestCoalescer(coalesceTimeout)
	}
	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ForecastService{
		client:     deps.Client,
		normalizer: deps.Normalizer,
		store:      deps.Store,
		ledger:     deps.Ledger,
		sync:       deps.Sync,
		clock:      clock,
		logger:     logger,
		coalescer:  coalescer,
	}
}

// Lookup returns the forecast for location and records the lookup in the ledger.
// A ledger failure is logged and does not fail the lookup.
func (s *ForecastService) Lookup(ctx context.Context, location string) (models.ForecastRecord, error) {
	location = normalizeLocation(location)
	record, err := s.Prefetch(ctx, location)
	if err != nil {
		return models.ForecastRecord{}, err
	}
	if err := s.ledger.Append(ctx, location, s.clock.Now()); err != nil {
		observability.LoggerFrom(ctx, s.logger).Warn("ledger append failed",
			zap.String("location", location), zap.Error(err))
	}
	return record, nil
}

// Prefetch returns the forecast for location from the cache, fetching and storing it on a
// miss. Nothing is written to the ledger.
func (s *ForecastService) Prefetch(ctx context.Context, location string) (models.ForecastRecord, error) {
	location = normalizeLocation(location)
	key := normalize.CacheKey(location)
	logger := observability.LoggerFrom(ctx, s.logger)
	start := s.clock.Now()

	ok, err := s.store.Exists(ctx, key)
	if err != nil {
		return models.ForecastRecord{}, fmt.Errorf("check cache for %s: %w", key, err)
	}
	if ok {
		record, err := s.store.Get(ctx, key)
		if err == nil {
			observability.CacheHitsTotal.Inc()
			logger.Debug("cache hit", zap.String("location", key))
			return record, nil
		}
		if !errors.Is(err, models.ErrNotFound) {
			return models.ForecastRecord{}, fmt.Errorf("read cache for %s: %w", key, err)
		}
	}

	observability.CacheMissesTotal.Inc()
	logger.Debug("cache miss, fetching upstream", zap.String("location", location))

	var record models.ForecastRecord
	if s.coalescer != nil {
		var shared bool
		record, shared, err = s.coalescer.GetOrDo(ctx, location, func(ctx context.Context) (models.ForecastRecord, error) {
			return s.fetchAndStore(ctx, location)
		})
		if shared {
			logger.Debug("joined in-flight fetch", zap.String("location", location))
		}
	} else {
		record, err = s.fetchAndStore(ctx, location)
	}
	if err != nil {
		return models.ForecastRecord{}, err
	}

	logger.Debug("forecast served",
		zap.String("location", record.Location),
		zap.Bool("cached", false),
		zap.Duration("duration", s.clock.Since(start)))
	return record, nil
}

// fetchAndStore fetches the raw payload, normalizes it and writes the record under the
// key derived from the resolved location name.
func (s *ForecastService) fetchAndStore(ctx context.Context, location string) (models.ForecastRecord, error) {
	raw, err := s.client.FetchForecast(ctx, location)
	if err != nil {
		return models.ForecastRecord{}, fmt.Errorf("fetch forecast for %s: %w", location, err)
	}
	result, err := s.normalizer.Normalize(ctx, raw)
	if err != nil {
		return models.ForecastRecord{}, fmt.Errorf("normalize forecast for %s: %w", location, err)
	}

	key := normalize.CacheKey(result.ResolvedLocation)
	record := normalize.BuildRecord(key, result.Days, s.clock.Now())
	if err := s.store.Put(ctx, key, record); err != nil {
		return models.ForecastRecord{}, fmt.Errorf("store forecast for %s: %w", key, err)
	}
	return record, nil
}

// Display returns the cached record for a resolved location and counts the view per city.
func (s *ForecastService) Display(ctx context.Context, location string) (models.ForecastRecord, error) {
	key := normalize.CacheKey(location)
	observability.RecordCityLookup(key)
	record, err := s.store.Get(ctx, key)
	if err != nil {
		return models.ForecastRecord{}, fmt.Errorf("display %s: %w", key, err)
	}
	return record, nil
}

// PushRecord sends the cached record for location to the document store.
func (s *ForecastService) PushRecord(ctx context.Context, location string) error {
	if s.sync == nil {
		return ErrSyncDisabled
	}
	key := normalize.CacheKey(location)
	record, err := s.store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("load %s for sync: %w", key, err)
	}
	return s.sync.PushRecord(ctx, record)
}

// PullAsset downloads the shared asset and returns its local path.
func (s *ForecastService) PullAsset(ctx context.Context) (string, error) {
	if s.sync == nil {
		return "", ErrSyncDisabled
	}
	return s.sync.PullAsset(ctx)
}

// History returns every recorded lookup in append order.
func (s *ForecastService) History(ctx context.Context) ([]models.LookupEntry, error) {
	return s.ledger.ReadAll(ctx)
}

// HistoryPath is the ledger file served by the history download endpoint.
func (s *ForecastService) HistoryPath() string {
	return s.ledger.Path()
}

// normalizeLocation trims whitespace and lower-cases, matching how lookups are recorded.
func normalizeLocation(location string) string {
	return strings.ToLower(strings.TrimSpace(location))
}
