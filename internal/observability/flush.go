package observability

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"
)

// FlushTelemetry closes the remaining client connections in order, then syncs the
// logger. Metrics are pull-based and need no flush. Closers still pending when ctx
// is done are skipped. All errors are joined.
func FlushTelemetry(ctx context.Context, logger *zap.Logger, closers ...io.Closer) error {
	var errs []error
	for _, c := range closers {
		if err := ctx.Err(); err != nil {
			errs = append(errs, fmt.Errorf("flush: %w", err))
			break
		}
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close: %w", err))
		}
	}
	if logger != nil {
		if err := logger.Sync(); err != nil {
			errs = append(errs, fmt.Errorf("flush logs: %w", err))
		}
	}
	return errors.Join(errs...)
}
