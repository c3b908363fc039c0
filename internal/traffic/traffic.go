// Package traffic keeps sliding windows of request outcomes for health and rate-limit reporting.
package traffic

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// retention bounds how long outcomes are kept regardless of the window asked for.
const retention = 5 * time.Minute

var defaultTracker = NewTracker(clockwork.NewRealClock())

// RecordSuccess records a lookup that produced a forecast.
func RecordSuccess() { defaultTracker.Record(Success) }

// RecordError records a lookup that failed upstream (provider, translator, cache I/O).
func RecordError() { defaultTracker.Record(Error) }

// RecordDenied records a rate-limit denial (429).
func RecordDenied() { defaultTracker.Record(Denied) }

// RequestCount returns successes, errors and denials within the window.
func RequestCount(window time.Duration) int { return defaultTracker.RequestCount(window) }

// DenialCount returns the number of denials within the window.
func DenialCount(window time.Duration) int { return defaultTracker.DenialCount(window) }

// ErrorRate returns (errorCount, totalCount) within the window. Denials are not part of totalCount.
func ErrorRate(window time.Duration) (errors, total int) { return defaultTracker.ErrorRate(window) }

// Reset clears all recorded outcomes. For tests only.
func Reset() { defaultTracker.Reset() }

// Outcome classifies a recorded request.
type Outcome int

const (
	Success Outcome = iota
	Error
	Denied
	numOutcomes
)

// Tracker maintains per-outcome timestamp windows.
type Tracker struct {
	clock clockwork.Clock

	mu    sync.Mutex
	times [numOutcomes][]time.Time
}

func NewTracker(clock clockwork.Clock) *Tracker {
	return &Tracker{clock: clock}
}

// Record appends the current time to the outcome's window and drops stale entries.
func (t *Tracker) Record(o Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock.Now()
	t.times[o] = append(t.times[o], now)
	t.pruneLocked(now)
}

func (t *Tracker) RequestCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.clock.Now().Add(-window)
	n := 0
	for o := Outcome(0); o < numOutcomes; o++ {
		n += countSince(t.times[o], cutoff)
	}
	return n
}

func (t *Tracker) DenialCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return countSince(t.times[Denied], t.clock.Now().Add(-window))
}

func (t *Tracker) ErrorRate(window time.Duration) (errors, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.clock.Now().Add(-window)
	errors = countSince(t.times[Error], cutoff)
	return errors, errors + countSince(t.times[Success], cutoff)
}

func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for o := range t.times {
		t.times[o] = nil
	}
}

func countSince(times []time.Time, cutoff time.Time) int {
	n := 0
	for _, ts := range times {
		if !ts.Before(cutoff) {
			n++
		}
	}
	return n
}

// pruneLocked must be called with t.mu held.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-retention)
	for o := range t.times {
		times := t.times[o]
		i := 0
		for i < len(times) && times[i].Before(cutoff) {
			i++
		}
		if i > 0 {
			t.times[o] = append(times[:0], times[i:]...)
		}
	}
}
