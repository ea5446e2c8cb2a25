package infra

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errRelay = errors.New("relay unavailable")

func newTestBreaker(clock *time.Time) *CircuitBreaker {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2, SuccessThreshold: 1, OpenTimeout: time.Minute})
	cb.now = func() time.Time { return *clock }
	return cb
}

func TestCircuitBreaker_TripsAfterThreshold(t *testing.T) {
	clock := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	cb := newTestBreaker(&clock)
	fail := func() error { return errRelay }

	assert.ErrorIs(t, cb.Execute(fail), errRelay)
	assert.Equal(t, CBClosed, cb.State())
	assert.ErrorIs(t, cb.Execute(fail), errRelay)
	assert.Equal(t, CBOpen, cb.State())

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	clock := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	cb := newTestBreaker(&clock)
	fail := func() error { return errRelay }
	ok := func() error { return nil }

	_ = cb.Execute(fail)
	_ = cb.Execute(fail)
	require.Equal(t, CBOpen, cb.State())

	clock = clock.Add(time.Minute)
	assert.Equal(t, CBHalfOpen, cb.State())

	// a failed trial call reopens immediately
	assert.ErrorIs(t, cb.Execute(fail), errRelay)
	assert.Equal(t, CBOpen, cb.State())

	clock = clock.Add(time.Minute)
	require.NoError(t, cb.Execute(ok))
	assert.Equal(t, CBClosed, cb.State())
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	clock := time.Now()
	cb := newTestBreaker(&clock)

	_ = cb.Execute(func() error { return errRelay })
	require.NoError(t, cb.Execute(func() error { return nil }))
	_ = cb.Execute(func() error { return errRelay })

	assert.Equal(t, CBClosed, cb.State())
}

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{})
	assert.Equal(t, DefaultCBConfig(), cb.cfg)
	assert.Equal(t, "closed", cb.State().String())
}
