package feed

import (
	"context"

	"github.com/sony/gobreaker"

	"fieldsync/internal/config"
	"fieldsync/internal/logger"
)

// BreakerWriter guards a Writer with a circuit breaker so a dead write path fails fast
// instead of holding every command for the full timeout.
type BreakerWriter struct {
	next Writer
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerWriter wraps next. A zero MaxFailures disables tripping.
func NewBreakerWriter(next Writer, cfg config.BreakerConfig, log *logger.Logger) *BreakerWriter {
	log = log.Named("breaker")
	return &BreakerWriter{
		next: next,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:     "actuator-write",
			Interval: cfg.Interval,
			Timeout:  cfg.OpenFor,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return cfg.MaxFailures > 0 && c.ConsecutiveFailures >= cfg.MaxFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warnw("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
			},
		}),
	}
}

func (b *BreakerWriter) Write(ctx context.Context, path string, value any) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.Write(ctx, path, value)
	})
	return err
}

// State reports the breaker state, e.g. "closed" or "open".
func (b *BreakerWriter) State() string {
	return b.cb.State().String()
}

