package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errBoom = errors.New("boom")

func TestBreakerOpensAfterMaxFailures(t *testing.T) {
	cb := NewCircuitBreaker(Settings{Name: "test", MaxFailures: 2, Timeout: time.Minute})

	assert.ErrorIs(t, cb.Execute(func() error { return errBoom }), errBoom)
	assert.Equal(t, StateClosed, cb.State())
	assert.ErrorIs(t, cb.Execute(func() error { return errBoom }), errBoom)
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	cb := NewCircuitBreaker(Settings{MaxFailures: 1, Timeout: time.Second})
	now := time.Now()
	cb.now = func() time.Time { return now }

	_ = cb.Execute(func() error { return errBoom })
	assert.Equal(t, StateOpen, cb.State())

	now = now.Add(2 * time.Second)
	assert.Equal(t, StateHalfOpen, cb.State())

	assert.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerFailedProbeReopens(t *testing.T) {
	cb := NewCircuitBreaker(Settings{MaxFailures: 3, Timeout: time.Second})
	now := time.Now()
	cb.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		_ = cb.Execute(func() error { return errBoom })
	}
	now = now.Add(2 * time.Second)

	_ = cb.Execute(func() error { return errBoom })
	assert.Equal(t, StateOpen, cb.State())
}

func TestBreakerStaleCallDoesNotFreeProbeSlot(t *testing.T) {
	cb := NewCircuitBreaker(Settings{MaxFailures: 1, Timeout: time.Second})
	now := time.Now()
	cb.now = func() time.Time { return now }

	started := make(chan struct{})
	releaseStale := make(chan struct{})
	staleDone := make(chan error)
	go func() {
		staleDone <- cb.Execute(func() error {
			close(started)
			<-releaseStale
			return nil
		})
	}()
	<-started

	_ = cb.Execute(func() error { return errBoom })
	assert.Equal(t, StateOpen, cb.State())
	now = now.Add(2 * time.Second)

	probing := make(chan struct{})
	releaseProbe := make(chan struct{})
	probeDone := make(chan error)
	go func() {
		probeDone <- cb.Execute(func() error {
			close(probing)
			<-releaseProbe
			return nil
		})
	}()
	<-probing

	close(releaseStale)
	assert.NoError(t, <-staleDone)
	assert.Equal(t, StateHalfOpen, cb.State())

	called := false
	assert.ErrorIs(t, cb.Execute(func() error { called = true; return nil }), ErrOpen)
	assert.False(t, called)

	close(releaseProbe)
	assert.NoError(t, <-probeDone)
	assert.Equal(t, StateClosed, cb.State())
	assert.NoError(t, cb.Execute(func() error { return nil }))
}

func TestBreakerIgnoresNonFailures(t *testing.T) {
	notCounted := errors.New("expected")
	cb := NewCircuitBreaker(Settings{
		MaxFailures: 1,
		IsFailure:   func(err error) bool { return err != nil && !errors.Is(err, notCounted) },
	})

	assert.ErrorIs(t, cb.Execute(func() error { return notCounted }), notCounted)
	assert.Equal(t, StateClosed, cb.State())
}
