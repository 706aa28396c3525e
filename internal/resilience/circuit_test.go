package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var (
	errDown = &pgconn.PgError{Code: "08006", Message: "connection failure"}
	errData = &pgconn.PgError{Code: "23505", Message: "duplicate key"}
)

func fail(err error) func(context.Context) (int, error) {
	return func(context.Context) (int, error) { return 0, err }
}

func ok(v int) func(context.Context) (int, error) {
	return func(context.Context) (int, error) { return v, nil }
}

// testBreaker returns a breaker on a controllable clock.
func testBreaker(threshold int, opts ...BreakerOption) (*Breaker, *time.Time) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewBreaker(BreakerConfig{Name: "catalog", FailureThreshold: threshold, ResetTimeout: time.Minute}, opts...)
	b.now = func() time.Time { return now }
	return b, &now
}

func TestBreaker_OpensAfterTransientFailures(t *testing.T) {
	b, _ := testBreaker(3)
	ctx := context.Background()

	for range 3 {
		_, err := Guard(ctx, b, fail(errDown))
		assert.ErrorIs(t, err, errDown)
	}
	assert.Equal(t, CircuitOpen, b.State())

	called := false
	_, err := Guard(ctx, b, func(context.Context) (int, error) {
		called = true
		return 1, nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestBreaker_PermanentErrorsDoNotTrip(t *testing.T) {
	b, _ := testBreaker(2)
	ctx := context.Background()

	_, _ = Guard(ctx, b, fail(errDown))
	// A data error proves the backend answered.
	_, err := Guard(ctx, b, fail(errData))
	assert.ErrorIs(t, err, errData)
	_, _ = Guard(ctx, b, fail(errDown))
	assert.Equal(t, CircuitClosed, b.State())

	for range 10 {
		_, _ = Guard(ctx, b, fail(errors.New("bad row")))
	}
	assert.Equal(t, CircuitClosed, b.State())
}

func TestBreaker_CancelledCallsAreNeutral(t *testing.T) {
	b, _ := testBreaker(2)
	ctx := context.Background()

	_, _ = Guard(ctx, b, fail(errDown))
	_, _ = Guard(ctx, b, fail(context.Canceled))
	_, _ = Guard(ctx, b, fail(errDown))
	assert.Equal(t, CircuitOpen, b.State())
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	var transitions []string
	b, now := testBreaker(1, WithStateListener(func(from, to CircuitState) {
		transitions = append(transitions, from.String()+"->"+to.String())
	}))
	ctx := context.Background()

	_, _ = Guard(ctx, b, fail(errDown))
	require.Equal(t, CircuitOpen, b.State())

	*now = now.Add(time.Minute)
	assert.Equal(t, CircuitHalfOpen, b.State())

	// A failed half-open attempt reopens for a full timeout.
	_, err := Guard(ctx, b, fail(errDown))
	assert.ErrorIs(t, err, errDown)
	assert.Equal(t, CircuitOpen, b.State())
	_, err = Guard(ctx, b, ok(1))
	assert.ErrorIs(t, err, ErrCircuitOpen)

	*now = now.Add(time.Minute)
	v, err := Guard(ctx, b, ok(7))
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Equal(t, CircuitClosed, b.State())

	assert.Equal(t, []string{
		"closed->open",
		"open->half-open",
		"half-open->open",
		"open->half-open",
		"half-open->closed",
	}, transitions)
}

func TestBreaker_SingleHalfOpenAttempt(t *testing.T) {
	b, now := testBreaker(1)
	ctx := context.Background()

	_, _ = Guard(ctx, b, fail(errDown))
	*now = now.Add(time.Minute)

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := Guard(ctx, b, func(context.Context) (int, error) {
			close(entered)
			<-release
			return 1, nil
		})
		done <- err
	}()

	<-entered
	_, err := Guard(ctx, b, ok(2))
	assert.ErrorIs(t, err, ErrCircuitOpen)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, CircuitClosed, b.State())
}

func TestBreaker_LogsTransitions(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	b, _ := testBreaker(1, WithBreakerLogger(zap.New(core)))

	_, _ = Guard(context.Background(), b, fail(errDown))

	entries := logs.FilterMessage("resilience: circuit breaker state change").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "catalog", fields["backend"])
	assert.Equal(t, "closed", fields["from"])
	assert.Equal(t, "open", fields["to"])
	assert.EqualValues(t, 1, fields["consecutive_failures"])
}

func TestBreaker_ConcurrentAccess(t *testing.T) {
	b, _ := testBreaker(1000)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				_, _ = Guard(ctx, b, ok(i))
			} else {
				_, _ = Guard(ctx, b, fail(errDown))
			}
			_ = b.State()
		}()
	}
	wg.Wait()
	assert.Equal(t, CircuitClosed, b.State())
}

func TestNewBreaker_Defaults(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "catalog"})
	assert.Equal(t, DefaultBreakerConfig("catalog"), b.cfg)
	assert.Equal(t, CircuitClosed, b.State())
	assert.Equal(t, "unknown", CircuitState(9).String())
}

func TestFromBreakerConfig(t *testing.T) {
	cfg := FromBreakerConfig("catalog", 0, 5)
	assert.Equal(t, "catalog", cfg.Name)
	assert.Equal(t, DefaultBreakerConfig("catalog").FailureThreshold, cfg.FailureThreshold)
	assert.Equal(t, 5*time.Second, cfg.ResetTimeout)
}
