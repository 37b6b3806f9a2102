package circuitbreaker

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"enrollsync/pkg/metrics"
)

// ErrOpen is returned by Do when the breaker rejects the call.
var ErrOpen = errors.New("circuit breaker is open")

const (
	defaultMaxRequests  = 3
	defaultWindow       = time.Minute
	defaultMinRequests  = 3
	defaultFailureRatio = 0.5
)

// Settings mirrors the circuit_breaker section of the service configuration.
// Zero values fall back to the package defaults.
type Settings struct {
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	FailureRatio float64
	MinRequests  uint32

	// OnStateChange is called after the state gauge is updated.
	OnStateChange func(name string, from, to gobreaker.State)
}

// Breaker guards calls to one dependency and reports its state to
// Prometheus.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

func New(name string, s Settings) *Breaker {
	minRequests := orDefault(s.MinRequests, defaultMinRequests)
	ratio := s.FailureRatio
	if ratio <= 0 {
		ratio = defaultFailureRatio
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: orDefault(s.MaxRequests, defaultMaxRequests),
		Interval:    orDefault(s.Interval, defaultWindow),
		Timeout:     orDefault(s.Timeout, defaultWindow),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < minRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= ratio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			setStateGauge(name, to)
			if s.OnStateChange != nil {
				s.OnStateChange(name, from, to)
			}
		},
	})
	setStateGauge(name, cb.State())

	return &Breaker{cb: cb}
}

func orDefault[T uint32 | time.Duration](v, def T) T {
	if v > 0 {
		return v
	}
	return def
}

// Do runs fn through the breaker. A canceled ctx short-circuits without
// counting against the dependency, and gobreaker's rejections come back
// as ErrOpen.
func Do[T any](ctx context.Context, b *Breaker, fn func() (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	result, err := b.cb.Execute(func() (interface{}, error) {
		return fn()
	})
	b.record(err)

	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return zero, ErrOpen
	case err != nil:
		return zero, err
	case result == nil:
		return zero, nil
	}
	return result.(T), nil
}

func (b *Breaker) State() gobreaker.State { return b.cb.State() }

func (b *Breaker) Name() string { return b.cb.Name() }

func (b *Breaker) IsOpen() bool {
	return b.cb.State() == gobreaker.StateOpen
}

func (b *Breaker) record(err error) {
	name := b.cb.Name()
	metrics.CircuitBreakerRequests.WithLabelValues(name, b.cb.State().String()).Inc()
	if err != nil {
		metrics.CircuitBreakerFailures.WithLabelValues(name).Inc()
	}
}

// setStateGauge exports closed, half-open and open as 0, 1 and 2.
func setStateGauge(name string, state gobreaker.State) {
	var v float64
	switch state {
	case gobreaker.StateHalfOpen:
		v = 1
	case gobreaker.StateOpen:
		v = 2
	}
	metrics.CircuitBreakerState.WithLabelValues(name).Set(v)
}
