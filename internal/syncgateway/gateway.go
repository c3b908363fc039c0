// Package syncgateway pushes cached forecast records to a remote document store
// and pulls a fixed asset from remote object storage. Every operation is a single
// attempt; failures surface as models.ErrSyncFailed.
package syncgateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-forecast-service/internal/fsutil"
	"github.com/kjstillabower/weather-forecast-service/internal/models"
	"github.com/kjstillabower/weather-forecast-service/internal/observability"
)

// DocumentStore stores one opaque value under a key, replacing any previous value.
type DocumentStore interface {
	PutDocument(ctx context.Context, key string, value []byte) error
}

// ObjectStore streams a named object into w.
type ObjectStore interface {
	Download(ctx context.Context, name string, w io.Writer) error
}

// Options name the fixed remote and local locations the gateway works with.
type Options struct {
	RecordKey string // document key every pushed record is stored under
	AssetName string // object fetched by PullAsset
	AssetPath string // local destination of PullAsset
}

// Gateway is the one-way bridge between the local cache and remote stores.
type Gateway struct {
	docs    DocumentStore
	objects ObjectStore
	opts    Options
	logger  *zap.Logger
}

// New returns a Gateway. Either store may be nil; the matching operation then fails.
func New(docs DocumentStore, objects ObjectStore, opts Options, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{docs: docs, objects: objects, opts: opts, logger: logger}
}

// PushRecord serializes record and writes it under the configured record key.
// Last write wins.
func (g *Gateway) PushRecord(ctx context.Context, record models.ForecastRecord) error {
	err := g.pushRecord(ctx, record)
	observeSync("push_record", err)
	if err != nil {
		return fmt.Errorf("%w: push record %s: %v", models.ErrSyncFailed, record.Location, err)
	}
	g.logger.Info("record pushed", zap.String("location", record.Location), zap.String("key", g.opts.RecordKey))
	return nil
}

func (g *Gateway) pushRecord(ctx context.Context, record models.ForecastRecord) error {
	if g.docs == nil {
		return errors.New("document store not configured")
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return g.docs.PutDocument(ctx, g.opts.RecordKey, raw)
}

// PullAsset downloads the configured object to the configured local path,
// overwriting any existing file. Returns the local path.
func (g *Gateway) PullAsset(ctx context.Context) (string, error) {
	err := g.pullAsset(ctx)
	observeSync("pull_asset", err)
	if err != nil {
		return "", fmt.Errorf("%w: pull asset %s: %v", models.ErrSyncFailed, g.opts.AssetName, err)
	}
	g.logger.Info("asset pulled", zap.String("object", g.opts.AssetName), zap.String("path", g.opts.AssetPath))
	return g.opts.AssetPath, nil
}

func (g *Gateway) pullAsset(ctx context.Context) error {
	if g.objects == nil {
		return errors.New("object store not configured")
	}
	if g.opts.AssetPath == "" {
		return errors.New("asset path not configured")
	}
	if err := os.MkdirAll(filepath.Dir(g.opts.AssetPath), 0o755); err != nil {
		return err
	}
	return fsutil.WriteAtomic(g.opts.AssetPath, 0o644, func(w io.Writer) error {
		return g.objects.Download(ctx, g.opts.AssetName, w)
	})
}

func observeSync(operation string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	observability.SyncOperationsTotal.WithLabelValues(operation, status).Inc()
}
