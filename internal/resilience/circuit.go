// Package resilience provides retry and circuit breaker wrappers for
// database calls that can fail transiently.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// CircuitState is the position of a Breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned without calling the backend while a breaker is
// open, or while its single half-open attempt is still in flight.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// BreakerConfig sizes a Breaker for one backend.
type BreakerConfig struct {
	// Name identifies the backend in logs, e.g. "catalog".
	Name string
	// FailureThreshold is the number of consecutive transient failures that
	// opens the breaker.
	FailureThreshold int
	// ResetTimeout is how long the breaker stays open before one call is
	// let through.
	ResetTimeout time.Duration
}

// DefaultBreakerConfig opens after 5 transient failures for 30 seconds.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{Name: name, FailureThreshold: 5, ResetTimeout: 30 * time.Second}
}

// Breaker stops calling a backend whose connection keeps failing. Only
// transient errors (see IsTransient) count against it. A query that reaches
// the database and fails on bad data closes the breaker like a success, and
// a cancelled call leaves it unchanged.
type Breaker struct {
	cfg      BreakerConfig
	log      *zap.Logger
	listener func(from, to CircuitState)
	now      func() time.Time

	mu       sync.Mutex
	state    CircuitState
	failures int
	openedAt time.Time
	probing  bool
}

// BreakerOption configures a Breaker.
type BreakerOption func(*Breaker)

// WithStateListener is called, under the breaker lock, on every transition.
func WithStateListener(fn func(from, to CircuitState)) BreakerOption {
	return func(b *Breaker) { b.listener = fn }
}

// WithBreakerLogger replaces the global logger for transition logs.
func WithBreakerLogger(l *zap.Logger) BreakerOption {
	return func(b *Breaker) { b.log = l }
}

// NewBreaker creates a closed breaker. Non-positive config values fall back
// to DefaultBreakerConfig.
func NewBreaker(cfg BreakerConfig, opts ...BreakerOption) *Breaker {
	def := DefaultBreakerConfig(cfg.Name)
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = def.ResetTimeout
	}
	b := &Breaker{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	if b.log == nil {
		b.log = zap.L()
	}
	return b
}

// Guard runs fn through b. While b is open it returns ErrCircuitOpen without
// calling fn.
func Guard[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := b.admit(); err != nil {
		return zero, err
	}
	v, err := fn(ctx)
	b.record(err)
	return v, err
}

// State reports the breaker position. An open breaker whose reset timeout
// has passed reports half-open.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == CircuitOpen && b.cooled() {
		return CircuitHalfOpen
	}
	return b.state
}

func (b *Breaker) cooled() bool {
	return b.now().Sub(b.openedAt) >= b.cfg.ResetTimeout
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitOpen:
		if !b.cooled() {
			return ErrCircuitOpen
		}
		b.moveTo(CircuitHalfOpen)
		b.probing = true
		return nil
	case CircuitHalfOpen:
		if b.probing {
			return ErrCircuitOpen
		}
		b.probing = true
	}
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == CircuitHalfOpen {
		b.probing = false
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	if err == nil || !IsTransient(err) {
		b.failures = 0
		if b.state != CircuitClosed {
			b.moveTo(CircuitClosed)
		}
		return
	}

	b.failures++
	switch {
	case b.state == CircuitHalfOpen,
		b.state == CircuitClosed && b.failures >= b.cfg.FailureThreshold:
		b.openedAt = b.now()
		b.moveTo(CircuitOpen)
	}
}

func (b *Breaker) moveTo(to CircuitState) {
	from := b.state
	b.state = to
	b.log.Warn("resilience: circuit breaker state change",
		zap.String("backend", b.cfg.Name),
		zap.Stringer("from", from),
		zap.Stringer("to", to),
		zap.Int("consecutive_failures", b.failures),
	)
	if b.listener != nil {
		b.listener(from, to)
	}
}
