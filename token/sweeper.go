package token

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jrsteele09/go-session-service/token/refresh"
)

// Sweeper periodically purges terminal ledger records that are past the
// retention window. It is advisory housekeeping: authorization decisions
// are always re-derived from record state and expiry, never from record
// absence, so a delayed or skipped sweep only grows storage.
type Sweeper struct {
	ledger    refresh.Ledger
	interval  time.Duration
	retention time.Duration
	batchSize int
	log       zerolog.Logger
	nowFunc   func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// SweeperOption modifies the Sweeper instance.
type SweeperOption func(*Sweeper)

// WithSweepInterval sets how often the sweeper scans the ledger.
func WithSweepInterval(interval time.Duration) SweeperOption {
	return func(s *Sweeper) {
		s.interval = interval
	}
}

// WithRetention sets how long terminal records are kept before deletion.
func WithRetention(retention time.Duration) SweeperOption {
	return func(s *Sweeper) {
		s.retention = retention
	}
}

// WithBatchSize sets the maximum records deleted per sweep pass.
func WithBatchSize(batchSize int) SweeperOption {
	return func(s *Sweeper) {
		s.batchSize = batchSize
	}
}

// WithSweeperNowFunc sets the now time function (primarily for testing)
func WithSweeperNowFunc(now func() time.Time) SweeperOption {
	return func(s *Sweeper) {
		s.nowFunc = now
	}
}

// NewSweeper creates a sweeper over the ledger. It does nothing until
// Start is called; ownership of the background goroutine stays with the
// caller's process lifecycle.
func NewSweeper(ledger refresh.Ledger, log zerolog.Logger, options ...SweeperOption) *Sweeper {
	s := &Sweeper{
		ledger:    ledger,
		interval:  24 * time.Hour,
		retention: 30 * 24 * time.Hour,
		batchSize: 500,
		log:       log,
		nowFunc:   time.Now,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	for _, opt := range options {
		opt(s)
	}

	return s
}

// Start launches the background sweep loop. The loop exits when Stop is
// called or the context is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.sweep(ctx)
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the sweep loop and waits for it to exit.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

// Sweep runs a single purge pass immediately. Exposed so operators can
// trigger housekeeping out of cycle.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.nowFunc().Add(-s.retention)
	return s.ledger.PurgeTerminal(ctx, cutoff, s.batchSize)
}

func (s *Sweeper) sweep(ctx context.Context) {
	purged, err := s.Sweep(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("refresh token sweep failed")
		return
	}
	if purged > 0 {
		s.log.Info().Int("purged", purged).Msg("refresh token sweep")
	}
}
