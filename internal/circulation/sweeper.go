// internal/circulation/sweeper.go
package circulation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// Sweeper runs the overdue sweep on a fixed interval. Consecutive failures
// open a circuit breaker so a broken database is not hammered every tick.
type Sweeper struct {
	service  Service
	interval time.Duration
	breaker  *gobreaker.CircuitBreaker
	logger   *slog.Logger
}

// NewSweeper creates a sweeper. An interval of zero disables it.
func NewSweeper(service Service, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		service:  service,
		interval: interval,
		logger:   logger,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "overdue-sweep",
			Timeout: 5 * interval,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			},
		}),
	}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Info("overdue sweeper disabled")
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Check(ctx)
		}
	}
}

// Check runs a single sweep through the breaker and returns the number of loans updated.
func (s *Sweeper) Check(ctx context.Context) int {
	result, err := s.breaker.Execute(func() (interface{}, error) {
		return s.service.SweepOverdue(ctx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			s.logger.WarnContext(ctx, "overdue sweep skipped", "error", err)
			return 0
		}
		if ctx.Err() == nil {
			s.logger.ErrorContext(ctx, "overdue sweep failed", "error", err)
		}
		return 0
	}

	updated := len(result.([]*Loan))
	s.logger.InfoContext(ctx, "overdue sweep completed", "updated", updated)
	return updated
}
