// Package ledger keeps the append-only history of forecast lookups in a single
// JSON array file.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-forecast-service/internal/fsutil"
	"github.com/kjstillabower/weather-forecast-service/internal/models"
	"github.com/kjstillabower/weather-forecast-service/internal/observability"
)

// Ledger appends LookupEntries to a JSON file with full read-modify-write cycles.
// Appends within the process are serialized; there is no cross-process locking.
type Ledger struct {
	path   string
	logger *zap.Logger

	mu sync.Mutex
}

// New returns a Ledger backed by path. The parent directory is created on first append.
func New(path string, logger *zap.Logger) (*Ledger, error) {
	if path == "" {
		return nil, errors.New("ledger: path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{path: path, logger: logger}, nil
}

// Path returns the backing file.
func (l *Ledger) Path() string {
	return l.path
}

// Append records one lookup. A missing or unreadable ledger file is treated as
// empty history and replaced.
func (l *Ledger) Append(ctx context.Context, location string, ts time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.readLocked()
	if err != nil {
		l.logger.Warn("ledger unreadable, starting new history", zap.String("path", l.path), zap.Error(err))
		entries = nil
	}
	entries = append(entries, models.LookupEntry{Time: ts, Location: location})

	raw, err := json.Marshal(entries)
	if err != nil {
		observability.LedgerAppendsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("ledger: encode: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		observability.LedgerAppendsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("ledger: create directory: %w", err)
	}
	if err := fsutil.WriteFileAtomic(l.path, raw, 0o644); err != nil {
		observability.LedgerAppendsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("ledger: write: %w", err)
	}
	observability.LedgerAppendsTotal.WithLabelValues("success").Inc()
	return nil
}

// ReadAll returns every entry in append order. A missing file yields an empty
// slice. A file that does not parse is logged and read as empty history; other
// read errors are returned.
func (l *Ledger) ReadAll(ctx context.Context) ([]models.LookupEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	entries, err := l.readLocked()
	if errors.Is(err, models.ErrCorruptRecord) {
		l.logger.Warn("ledger unreadable, reporting empty history", zap.String("path", l.path), zap.Error(err))
		return []models.LookupEntry{}, nil
	}
	return entries, err
}

func (l *Ledger) readLocked() ([]models.LookupEntry, error) {
	raw, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []models.LookupEntry{}, nil
		}
		return nil, fmt.Errorf("ledger: read: %w", err)
	}
	entries := []models.LookupEntry{}
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("ledger: %w: %v", models.ErrCorruptRecord, err)
	}
	return entries, nil
}
