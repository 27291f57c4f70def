package webhook

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/critichq/critic-api/internal/store"
)

// Sweeper periodically re-enables endpoints whose scheduled retry time has
// passed. The underlying store update increments retry_count and flips
// enabled in a single statement, so overlapping sweep runs across process
// instances cannot double-increment.
type Sweeper struct {
	endpoints store.WebhookEndpointStore
	interval  time.Duration
	logger    *slog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewSweeper creates a Sweeper that checks every interval.
// If log is nil, a default logger will be used.
func NewSweeper(endpoints store.WebhookEndpointStore, interval time.Duration, log *slog.Logger) *Sweeper {
	if endpoints == nil {
		panic("endpoints store cannot be nil")
	}
	if log == nil {
		log = slog.Default()
	}

	return &Sweeper{
		endpoints: endpoints,
		interval:  interval,
		logger:    log.With(slog.String("component", "webhook_sweeper")),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start launches the sweep loop. Call Stop to shut it down.
func (s *Sweeper) Start() {
	go s.run()
}

// Stop shuts the sweep loop down and waits for it to exit.
// Safe to call more than once.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	<-s.doneCh
}

// SweepOnce runs a single re-enable pass. Exposed so callers can trigger a
// sweep outside the periodic schedule, e.g. in tests or an admin action.
func (s *Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	return s.endpoints.ReEnableDue(ctx, time.Now().UTC())
}

func (s *Sweeper) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return

		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.interval)
			count, err := s.SweepOnce(ctx)
			cancel()

			if err != nil {
				s.logger.Error("webhook re-enable sweep failed", slog.String("error", err.Error()))
				continue
			}
			if count > 0 {
				s.logger.Info("re-enabled webhook endpoints", slog.Int64("count", count))
			}
		}
	}
}
