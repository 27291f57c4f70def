// Package ratelimit implements per-key fixed-window admission control.
//
// The limiter keeps one active window per key. A request arriving after the
// window has expired starts a fresh window instead of sliding continuously,
// which permits up to twice the configured ceiling across a window boundary.
// That bounded-burst behavior is intentional and tested; callers that need a
// strict ceiling must account for it.
package ratelimit

import (
	"log/slog"
	"sync"
	"time"
)

// window holds the fixed-window state for one key. Expired windows are
// replaced wholesale rather than mutated incrementally.
type window struct {
	mu       sync.Mutex
	start    time.Time
	count    int
	lastSeen time.Time
}

// Limiter is a concurrency-safe fixed-window rate limiter. The zero value
// is not usable; construct with NewLimiter.
type Limiter struct {
	windows  sync.Map // key string -> *window
	duration time.Duration
	logger   *slog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewLimiter creates a Limiter with the given window duration and starts
// the background sweep that evicts windows idle for more than twice the
// window duration. Call Stop to shut the sweep down.
func NewLimiter(duration time.Duration, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}

	l := &Limiter{
		duration: duration,
		logger:   logger.With(slog.String("component", "rate_limiter")),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}

	go l.sweep()

	return l
}

// Allow reports whether the key has quota left in its current window and
// consumes one unit if so. Exceeding the limit is signaled by the boolean
// return; Allow never fails.
func (l *Limiter) Allow(key string, max int) bool {
	w := l.windowFor(key)

	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	w.lastSeen = now

	if now.Sub(w.start) >= l.duration {
		// Window expired: start a fresh one rather than sliding.
		w.start = now
		w.count = 0
	}

	if w.count >= max {
		return false
	}

	w.count++
	return true
}

// Remaining returns how many admissions are left for the key in its
// current window, without consuming quota.
func (l *Limiter) Remaining(key string, max int) int {
	w := l.windowFor(key)

	w.mu.Lock()
	defer w.mu.Unlock()

	if time.Since(w.start) >= l.duration {
		return max
	}

	remaining := max - w.count
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Stop shuts down the background sweep. Safe to call more than once.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopCh)
	})
	<-l.doneCh
}

// windowFor returns the window for the key, creating it lazily on first use.
func (l *Limiter) windowFor(key string) *window {
	if existing, ok := l.windows.Load(key); ok {
		return existing.(*window)
	}

	created := &window{lastSeen: time.Now()}
	actual, _ := l.windows.LoadOrStore(key, created)
	return actual.(*window)
}

// sweep periodically removes windows that have gone idle, to bound memory
// for workloads with many distinct keys.
func (l *Limiter) sweep() {
	defer close(l.doneCh)

	ticker := time.NewTicker(l.duration)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return

		case <-ticker.C:
			cutoff := time.Now().Add(-2 * l.duration)
			evicted := 0

			l.windows.Range(func(key, value any) bool {
				w := value.(*window)
				w.mu.Lock()
				idle := w.lastSeen.Before(cutoff)
				w.mu.Unlock()

				if idle {
					l.windows.Delete(key)
					evicted++
				}
				return true
			})

			if evicted > 0 {
				l.logger.Debug("evicted idle rate limit windows", slog.Int("count", evicted))
			}
		}
	}
}

// activeKeys counts the tracked windows. Used by tests to verify eviction.
func (l *Limiter) activeKeys() int {
	count := 0
	l.windows.Range(func(_, _ any) bool {
		count++
		return true
	})
	return count
}
