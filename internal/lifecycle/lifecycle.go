// Package lifecycle holds process-wide drain state read by the health check.
package lifecycle

import (
	"sync"
	"time"
)

var (
	mu       sync.RWMutex
	draining bool
	reason   string
	since    time.Time
)

// BeginShutdown marks the process as draining. The first call wins; reason
// (usually the received signal) is reported by the health check.
func BeginShutdown(why string) {
	mu.Lock()
	defer mu.Unlock()
	if draining {
		return
	}
	draining = true
	reason = why
	since = time.Now()
}

// IsShuttingDown reports whether new traffic should be refused.
func IsShuttingDown() bool {
	mu.RLock()
	defer mu.RUnlock()
	return draining
}

// ShutdownReason returns the reason given to BeginShutdown and when it was called.
// ok is false while the process is serving normally.
func ShutdownReason() (why string, at time.Time, ok bool) {
	mu.RLock()
	defer mu.RUnlock()
	return reason, since, draining
}

// Reset clears the drain state. Tests use it between cases.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	draining = false
	reason = ""
	since = time.Time{}
}
