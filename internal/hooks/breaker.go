package hooks

import (
	"context"
	"errors"
	"time"

	"github.com/punchamoorthee/savingsledger/internal/logging"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

var ErrCircuitOpen = errors.New("publisher circuit open")

type BreakerConfig struct {
	// MaxRequests allowed through while half-open.
	MaxRequests uint32
	// Interval is the closed-state window after which counts reset.
	Interval time.Duration
	// Timeout is how long the breaker stays open.
	Timeout time.Duration
	// ConsecutiveFailures trips the breaker.
	ConsecutiveFailures uint32
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:         1,
		Interval:            time.Minute,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
	}
}

// BreakerPublisher stops calling a failing broker for a while so a broker
// outage does not add latency to every ledger operation.
type BreakerPublisher struct {
	next   Publisher
	cb     *gobreaker.CircuitBreaker
	logger *logging.Logger
}

func NewBreakerPublisher(next Publisher, cfg BreakerConfig, logger *logging.Logger) *BreakerPublisher {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	logger = logger.Named("breaker")
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 5
	}

	settings := gobreaker.Settings{
		Name:        "event_publisher",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}
	return &BreakerPublisher{
		next:   next,
		cb:     gobreaker.NewCircuitBreaker(settings),
		logger: logger,
	}
}

func (b *BreakerPublisher) Publish(ctx context.Context, exchange, routingKey string, body []byte) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.Publish(ctx, exchange, routingKey, body)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrCircuitOpen
	}
	return err
}

func (b *BreakerPublisher) State() gobreaker.State {
	return b.cb.State()
}

func (b *BreakerPublisher) Close() {
	b.next.Close()
}
