package utils

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrBreakerOpen rejects calls while the breaker waits out a failure burst.
	ErrBreakerOpen = errors.New("circuit breaker is open")
	// ErrBreakerBusy rejects calls beyond the half-open trial allowance.
	ErrBreakerBusy = errors.New("too many requests while circuit breaker is half open")
)

type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerHalfOpen
	BreakerOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerHalfOpen:
		return "half-open"
	case BreakerOpen:
		return "open"
	}
	return "unknown"
}

// BreakerSettings tunes a CircuitBreaker. Zero fields fall back to the
// defaults used by NewCircuitBreaker.
type BreakerSettings struct {
	// MaxRequests caps concurrent trial calls in the half-open state and is
	// the minimum sample size before the failure ratio can trip the breaker.
	MaxRequests uint32
	// Interval is how long closed-state counts accumulate before resetting.
	Interval time.Duration
	// Timeout is how long the breaker stays open before probing again.
	Timeout time.Duration
	// FailureRatio trips the breaker once failures/requests reaches it.
	FailureRatio float64
}

func (s BreakerSettings) withDefaults() BreakerSettings {
	if s.MaxRequests == 0 {
		s.MaxRequests = 100
	}
	if s.Interval == 0 {
		s.Interval = time.Minute
	}
	if s.Timeout == 0 {
		s.Timeout = time.Minute
	}
	if s.FailureRatio == 0 {
		s.FailureRatio = 0.6
	}
	return s
}

type BreakerCounts struct {
	Requests       uint32
	TotalSuccesses uint32
	TotalFailures  uint32
}

// CircuitBreaker sheds calls to a flaky dependency. Closed passes everything
// through and trips once the failure ratio is reached over a full window;
// open rejects immediately until Timeout elapses; half-open lets a bounded
// number of trial calls decide whether to close again.
type CircuitBreaker struct {
	name     string
	settings BreakerSettings

	mu     sync.Mutex
	state  BreakerState
	counts BreakerCounts
	expiry time.Time
}

func NewCircuitBreaker(name string) *CircuitBreaker {
	return NewCircuitBreakerWithSettings(name, BreakerSettings{})
}

func NewCircuitBreakerWithSettings(name string, settings BreakerSettings) *CircuitBreaker {
	settings = settings.withDefaults()
	return &CircuitBreaker{
		name:     name,
		settings: settings,
		state:    BreakerClosed,
		expiry:   time.Now().Add(settings.Interval),
	}
}

// Do runs op through the breaker. The op's own error is returned as-is;
// ErrBreakerOpen and ErrBreakerBusy mean op never ran.
func (cb *CircuitBreaker) Do(ctx context.Context, op func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := cb.beforeRequest(); err != nil {
		return err
	}

	panicked := true
	defer func() {
		if panicked {
			cb.afterRequest(false)
		}
	}()

	err := op()
	panicked = false
	cb.afterRequest(err == nil)
	return err
}

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.refresh(time.Now())

	switch cb.state {
	case BreakerOpen:
		return ErrBreakerOpen
	case BreakerHalfOpen:
		if cb.counts.Requests >= cb.settings.MaxRequests {
			return ErrBreakerBusy
		}
	}

	cb.counts.Requests++
	return nil
}

func (cb *CircuitBreaker) afterRequest(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	cb.refresh(now)

	if success {
		cb.counts.TotalSuccesses++
		if cb.state == BreakerHalfOpen {
			cb.setState(BreakerClosed, now)
		}
		return
	}

	cb.counts.TotalFailures++
	if cb.state == BreakerHalfOpen || cb.readyToTrip() {
		cb.setState(BreakerOpen, now)
	}
}

func (cb *CircuitBreaker) readyToTrip() bool {
	c := cb.counts
	return c.Requests >= cb.settings.MaxRequests &&
		float64(c.TotalFailures)/float64(c.Requests) >= cb.settings.FailureRatio
}

// refresh advances time-driven state: closed windows roll over, open
// breakers move to half-open after Timeout. Callers hold cb.mu.
func (cb *CircuitBreaker) refresh(now time.Time) {
	switch cb.state {
	case BreakerClosed:
		if cb.expiry.Before(now) {
			cb.counts = BreakerCounts{}
			cb.expiry = now.Add(cb.settings.Interval)
		}
	case BreakerOpen:
		if cb.expiry.Before(now) {
			cb.setState(BreakerHalfOpen, now)
		}
	}
}

func (cb *CircuitBreaker) setState(next BreakerState, now time.Time) {
	if cb.state == next {
		return
	}
	slog.Warn("circuit breaker state change",
		"name", cb.name, "from", cb.state.String(), "to", next.String(),
		"requests", cb.counts.Requests, "failures", cb.counts.TotalFailures)

	cb.state = next
	cb.counts = BreakerCounts{}
	switch next {
	case BreakerClosed:
		cb.expiry = now.Add(cb.settings.Interval)
	case BreakerOpen:
		cb.expiry = now.Add(cb.settings.Timeout)
	default:
		cb.expiry = time.Time{}
	}
}
