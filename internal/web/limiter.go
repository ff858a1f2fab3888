package web

import (
	"context"
	"sync"
	"time"
)

// maxConcurrentRuns bounds how many ingestion runs (syncs and imports) may
// execute at once. Runs hammer both the upstream API and the database, so
// the bound is deliberately small.
const maxConcurrentRuns = 2

// runLimiter controls concurrent ingestion runs with a semaphore. Handlers
// reject new runs outright when all slots are taken rather than queueing
// them; a queued sync would only repeat work the running one is doing.
type runLimiter struct {
	semaphore chan struct{}

	mu     sync.RWMutex
	active int
}

func newRunLimiter(maxConcurrent int) *runLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = maxConcurrentRuns
	}
	return &runLimiter{semaphore: make(chan struct{}, maxConcurrent)}
}

// tryAcquire claims a run slot without blocking. The caller must release
// exactly once per successful claim.
func (l *runLimiter) tryAcquire() bool {
	select {
	case l.semaphore <- struct{}{}:
		l.mu.Lock()
		l.active++
		l.mu.Unlock()
		return true
	default:
		return false
	}
}

func (l *runLimiter) release() {
	l.mu.Lock()
	l.active--
	l.mu.Unlock()
	<-l.semaphore
}

func (l *runLimiter) activeCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.active
}

// waitForDrain blocks until all active runs complete or ctx is cancelled.
// Shutdown uses it so in-flight runs finalize their run logs before the
// process exits.
func (l *runLimiter) waitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if l.activeCount() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// runLimiterStatus is the monitoring snapshot exposed on the health route.
type runLimiterStatus struct {
	Active        int `json:"active"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"maxConcurrent"`
}

func (l *runLimiter) status() runLimiterStatus {
	l.mu.RLock()
	active := l.active
	l.mu.RUnlock()

	return runLimiterStatus{
		Active:        active,
		Available:     cap(l.semaphore) - len(l.semaphore),
		MaxConcurrent: cap(l.semaphore),
	}
}
