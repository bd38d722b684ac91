package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"floodmon-gateway/internal/telemetry"
)

type BreakerConfig struct {
	// Failures is the number of consecutive failed appends that opens the breaker.
	Failures int
	// Open is how long appends are rejected before a trial append is let through.
	Open time.Duration
}

// Breaker rejects appends without calling the sink while the sink keeps
// failing. It never retries.
type Breaker struct {
	next Appender
	cb   *gobreaker.CircuitBreaker
}

func NewBreaker(next Appender, cfg BreakerConfig, logger *slog.Logger) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Failures <= 0 {
		cfg.Failures = 5
	}
	if cfg.Open <= 0 {
		cfg.Open = 30 * time.Second
	}
	failures := uint32(cfg.Failures)
	return &Breaker{
		next: next,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "store",
			Timeout: cfg.Open,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= failures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
			},
		}),
	}
}

func (b *Breaker) Append(ctx context.Context, path, dateKey string, rec telemetry.Record) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, b.next.Append(ctx, path, dateKey, rec)
	})
	return err
}

func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}
