package breaker

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned when the breaker rejects a call without
// attempting the downstream dependency.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ErrTimeout is returned when a protected call exceeds its deadline.
// Timeouts count as failures toward opening the breaker.
var ErrTimeout = errors.New("protected call timed out")

// Config holds circuit breaker tunables for one downstream dependency.
type Config struct {
	Name               string        `json:"name"`
	Timeout            time.Duration `json:"timeout"`            // Per-call deadline
	ErrorRateThreshold float64       `json:"errorRateThreshold"` // Open when failures/total reaches this
	ResetAfter         time.Duration `json:"resetAfter"`         // Open -> HalfOpen delay
	MinRequests        uint32        `json:"minRequests"`        // Samples required before tripping
}

// DefaultConfig returns the breaker defaults used by both the publish and
// email breakers.
func DefaultConfig(name string) Config {
	return Config{
		Name:               name,
		Timeout:            3 * time.Second,
		ErrorRateThreshold: 0.5,
		ResetAfter:         30 * time.Second,
		MinRequests:        4,
	}
}

// Breaker wraps a downstream dependency with circuit breaking and a
// per-call timeout. HalfOpen admits a single probe.
type Breaker struct {
	cb      *gobreaker.CircuitBreaker
	timeout time.Duration
	logger  *logrus.Entry
}

// New creates a breaker from the provided configuration.
func New(cfg Config, logger *logrus.Entry) *Breaker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.ErrorRateThreshold <= 0 {
		cfg.ErrorRateThreshold = 0.5
	}
	if cfg.ResetAfter <= 0 {
		cfg.ResetAfter = 30 * time.Second
	}
	if cfg.MinRequests == 0 {
		cfg.MinRequests = 4
	}

	b := &Breaker{
		timeout: cfg.Timeout,
		logger:  logger,
	}

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1, // single probe in half-open
		Timeout:     cfg.ResetAfter,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			rate := float64(counts.TotalFailures) / float64(counts.Requests)
			return rate >= cfg.ErrorRateThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if logger != nil {
				logger.WithFields(logrus.Fields{
					"breaker": name,
					"from":    from.String(),
					"to":      to.String(),
				}).Warn("Circuit breaker state change")
			}
		},
	}
	b.cb = gobreaker.NewCircuitBreaker(settings)
	return b
}

// Execute runs fn under the breaker. The function receives a context
// bounded by the breaker's per-call timeout; exceeding it records a
// failure and returns ErrTimeout. Calls rejected while Open return
// ErrCircuitOpen immediately.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, b.timeout)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			done <- fn(callCtx)
		}()

		select {
		case err := <-done:
			return nil, err
		case <-callCtx.Done():
			return nil, ErrTimeout
		}
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrCircuitOpen
	}
	return err
}

// IsOpen reports whether the breaker currently rejects calls.
func (b *Breaker) IsOpen() bool {
	return b.cb.State() == gobreaker.StateOpen
}

// State returns the current breaker state as a lowercase string.
func (b *Breaker) State() string {
	switch b.cb.State() {
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}
