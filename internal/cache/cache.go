package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-forecast-service/internal/fsutil"
	"github.com/kjstillabower/weather-forecast-service/internal/models"
	"github.com/kjstillabower/weather-forecast-service/internal/observability"
)

const fileExt = ".json"

// ErrInvalidKey is returned for keys that cannot name a file in the cache directory.
var ErrInvalidKey = errors.New("invalid cache key")

// Store defines the forecast cache. Exists runs the eviction sweep before it
// answers, so a check may remove entries other than key.
type Store interface {
	Exists(ctx context.Context, key string) (bool, error)
	Get(ctx context.Context, key string) (models.ForecastRecord, error)
	Put(ctx context.Context, key string, record models.ForecastRecord) error
	Delete(ctx context.Context, key string) error
	Sweep(ctx context.Context) (SweepResult, error)
}

// Policy bounds the cache: entries at least MaxAge old are expired, and the
// oldest entries are dropped while MaxEntries or more remain.
type Policy struct {
	MaxAge     time.Duration
	MaxEntries int
}

// DefaultPolicy keeps entries for less than a day and at most ten of them.
var DefaultPolicy = Policy{MaxAge: 24 * time.Hour, MaxEntries: 10}

// SweepResult lists the keys removed by one sweep.
type SweepResult struct {
	Expired   []string
	Overflow  []string
	Remaining int
}

// Evicted returns the number of keys removed.
func (r SweepResult) Evicted() int {
	return len(r.Expired) + len(r.Overflow)
}

// DiskStore implements Store with one JSON file per key, named <key>.json.
// A file's modification time is the record's creation time and drives eviction.
// All operations are serialized by a single mutex.
type DiskStore struct {
	dir    string
	policy Policy
	clock  clockwork.Clock
	logger *zap.Logger

	mu sync.Mutex
}

// NewDiskStore creates dir if needed and returns a store rooted there.
// A nil clock uses real time; a nil logger discards logs.
func NewDiskStore(dir string, policy Policy, clock clockwork.Clock, logger *zap.Logger) (*DiskStore, error) {
	if dir == "" {
		return nil, errors.New("cache: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: create directory: %w", err)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DiskStore{dir: dir, policy: policy, clock: clock, logger: logger}, nil
}

// Dir returns the cache directory.
func (s *DiskStore) Dir() string {
	return s.dir
}

func (s *DiskStore) path(key string) (string, error) {
	if key == "" || key == "." || key == ".." || strings.ContainsAny(key, `/\`) || strings.HasPrefix(key, fsutil.TempPrefix) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(s.dir, key+fileExt), nil
}

// Exists sweeps the cache and then reports whether key has a stored record.
func (s *DiskStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p, err := s.path(key)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.sweepLocked(); err != nil {
		return false, err
	}
	if _, err := os.Stat(p); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("cache: stat %s: %w", key, err)
	}
	return true, nil
}

// Get reads the record for key. Returns models.ErrNotFound when absent and
// models.ErrCorruptRecord when the file does not parse.
func (s *DiskStore) Get(ctx context.Context, key string) (models.ForecastRecord, error) {
	if err := ctx.Err(); err != nil {
		return models.ForecastRecord{}, err
	}
	p, err := s.path(key)
	if err != nil {
		return models.ForecastRecord{}, err
	}

	s.mu.Lock()
	raw, err := os.ReadFile(p)
	s.mu.Unlock()
	if err != nil {
		if os.IsNotExist(err) {
			return models.ForecastRecord{}, fmt.Errorf("cache: %s: %w", key, models.ErrNotFound)
		}
		return models.ForecastRecord{}, fmt.Errorf("cache: read %s: %w", key, err)
	}
	var rec models.ForecastRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return models.ForecastRecord{}, fmt.Errorf("cache: %s: %w: %v", key, models.ErrCorruptRecord, err)
	}
	return rec, nil
}

// Put writes record under key, replacing any previous value. It does not sweep.
// A zero CreatedAt is stamped with the store clock.
func (s *DiskStore) Put(ctx context.Context, key string, record models.ForecastRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = s.clock.Now()
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("cache: create directory: %w", err)
	}
	if err := fsutil.WriteFileAtomic(p, raw, 0o644); err != nil {
		return fmt.Errorf("cache: write %s: %w", key, err)
	}
	if err := os.Chtimes(p, record.CreatedAt, record.CreatedAt); err != nil {
		return fmt.Errorf("cache: stamp %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *DiskStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.path(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("cache: delete %s: %w", key, err)
	}
	return nil
}

// Keys returns the stored keys, oldest first.
func (s *DiskStore) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	files, err := s.listLocked()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(files))
	for _, f := range files {
		keys = append(keys, f.key)
	}
	return keys, nil
}

// Sweep applies the eviction policy once.
func (s *DiskStore) Sweep(ctx context.Context) (SweepResult, error) {
	if err := ctx.Err(); err != nil {
		return SweepResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked()
}

type storedFile struct {
	key     string
	path    string
	modTime time.Time
}

// listLocked returns record files sorted by modification time, oldest first.
func (s *DiskStore) listLocked() ([]storedFile, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("cache: list directory: %w", err)
	}
	files := make([]storedFile, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, fileExt) || strings.HasPrefix(name, fsutil.TempPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// removed since ReadDir
			continue
		}
		files = append(files, storedFile{
			key:     strings.TrimSuffix(name, fileExt),
			path:    filepath.Join(s.dir, name),
			modTime: info.ModTime(),
		})
	}
	sort.SliceStable(files, func(i, j int) bool {
		if files[i].modTime.Equal(files[j].modTime) {
			return files[i].key < files[j].key
		}
		return files[i].modTime.Before(files[j].modTime)
	})
	return files, nil
}

// sweepLocked removes every entry at least MaxAge old, then drops the oldest
// survivors while MaxEntries or more remain. Removal errors are logged and the
// entry is treated as gone.
func (s *DiskStore) sweepLocked() (SweepResult, error) {
	files, err := s.listLocked()
	if err != nil {
		return SweepResult{}, err
	}
	now := s.clock.Now()

	var res SweepResult
	survivors := files[:0]
	for _, f := range files {
		if s.policy.MaxAge > 0 && now.Sub(f.modTime) >= s.policy.MaxAge {
			s.remove(f, "expired")
			res.Expired = append(res.Expired, f.key)
			continue
		}
		survivors = append(survivors, f)
	}
	if s.policy.MaxEntries > 0 {
		for len(survivors) > 0 && len(survivors) >= s.policy.MaxEntries {
			s.remove(survivors[0], "capacity")
			res.Overflow = append(res.Overflow, survivors[0].key)
			survivors = survivors[1:]
		}
	}
	res.Remaining = len(survivors)
	observability.CacheEntries.Set(float64(res.Remaining))
	if res.Evicted() > 0 {
		s.logger.Debug("cache sweep",
			zap.Strings("expired", res.Expired),
			zap.Strings("overflow", res.Overflow),
			zap.Int("remaining", res.Remaining))
	}
	return res, nil
}

func (s *DiskStore) remove(f storedFile, reason string) {
	observability.CacheEvictionsTotal.WithLabelValues(reason).Inc()
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("cache eviction failed", zap.String("key", f.key), zap.String("reason", reason), zap.Error(err))
	}
}
