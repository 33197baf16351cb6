package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_DoSuccess(t *testing.T) {
	cb := NewCircuitBreaker("test")

	err := cb.Do(context.Background(), func() error { return nil })

	assert.NoError(t, err)
	assert.Equal(t, BreakerClosed, cb.state)
	assert.Equal(t, uint32(1), cb.counts.TotalSuccesses)
}

func TestCircuitBreaker_DoPassesThroughError(t *testing.T) {
	cb := NewCircuitBreaker("test")

	boom := errors.New("boom")
	err := cb.Do(context.Background(), func() error { return boom })

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, uint32(1), cb.counts.TotalFailures)
}

func TestCircuitBreaker_OpensOnFailureRatio(t *testing.T) {
	cb := NewCircuitBreakerWithSettings("test", BreakerSettings{
		MaxRequests:  5,
		FailureRatio: 0.6,
	})

	ctx := context.Background()
	boom := errors.New("failure")
	for i := 0; i < 5; i++ {
		cb.Do(ctx, func() error { return boom })
	}

	assert.Equal(t, BreakerOpen, cb.state)

	err := cb.Do(ctx, func() error {
		t.Fatal("must not execute while open")
		return nil
	})
	assert.ErrorIs(t, err, ErrBreakerOpen)
}

func TestCircuitBreaker_RecoversAfterTimeout(t *testing.T) {
	cb := NewCircuitBreakerWithSettings("test", BreakerSettings{
		MaxRequests:  2,
		FailureRatio: 0.5,
		Timeout:      50 * time.Millisecond,
	})

	ctx := context.Background()
	boom := errors.New("failure")
	for i := 0; i < 2; i++ {
		cb.Do(ctx, func() error { return boom })
	}
	require.Equal(t, BreakerOpen, cb.state)

	time.Sleep(80 * time.Millisecond)

	err := cb.Do(ctx, func() error { return nil })
	assert.NoError(t, err)
	assert.Equal(t, BreakerClosed, cb.state)
}

func TestCircuitBreaker_HalfOpenCapsTrialCalls(t *testing.T) {
	cb := NewCircuitBreakerWithSettings("test", BreakerSettings{
		MaxRequests:  1,
		FailureRatio: 0.5,
		Timeout:      10 * time.Millisecond,
	})

	ctx := context.Background()
	cb.Do(ctx, func() error { return errors.New("failure") })
	require.Equal(t, BreakerOpen, cb.state)

	time.Sleep(30 * time.Millisecond)

	release := make(chan struct{})
	started := make(chan struct{})
	go cb.Do(ctx, func() error {
		close(started)
		<-release
		return nil
	})
	<-started

	err := cb.Do(ctx, func() error { return nil })
	assert.ErrorIs(t, err, ErrBreakerBusy)

	close(release)
}

func TestKeyMutex_RunsFnWhileHoldingLock(t *testing.T) {
	db, mock := redismock.NewClientMock()
	mock.Regexp().ExpectSetNX("lock:test", `[A-F0-9]{32}`, 10*time.Second).SetVal(true)

	m := NewKeyMutex(db, 10*time.Second)

	ran := false
	err := m.WithLock(context.Background(), "lock:test", func() error {
		ran = true
		return nil
	})

	assert.NoError(t, err)
	assert.True(t, ran)
}

func TestKeyMutex_RetriesUntilAcquired(t *testing.T) {
	db, mock := redismock.NewClientMock()
	mock.Regexp().ExpectSetNX("lock:busy", `[A-F0-9]{32}`, 10*time.Second).SetVal(false)
	mock.Regexp().ExpectSetNX("lock:busy", `[A-F0-9]{32}`, 10*time.Second).SetVal(true)

	m := NewKeyMutex(db, 10*time.Second)

	err := m.WithLock(context.Background(), "lock:busy", func() error {
		return nil
	})

	assert.NoError(t, err)
}

func TestKeyMutex_PropagatesFnError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	mock.Regexp().ExpectSetNX("lock:test", `[A-F0-9]{32}`, time.Second).SetVal(true)

	m := NewKeyMutex(db, time.Second)

	boom := errors.New("boom")
	err := m.WithLock(context.Background(), "lock:test", func() error {
		return boom
	})

	assert.ErrorIs(t, err, boom)
}

func TestGenerateCode(t *testing.T) {
	code, err := GenerateCode(16)
	require.NoError(t, err)
	assert.Len(t, code, 32)
	assert.Regexp(t, `^[A-F0-9]+$`, code)

	other, err := GenerateCode(16)
	require.NoError(t, err)
	assert.NotEqual(t, code, other)
}

func TestRedisHealthCheck(t *testing.T) {
	db, mock := redismock.NewClientMock()
	mock.ExpectPing().SetVal("PONG")
	assert.NoError(t, RedisHealthCheck(db))

	db2, mock2 := redismock.NewClientMock()
	mock2.ExpectPing().SetErr(errors.New("connection refused"))
	err := RedisHealthCheck(db2)
	assert.ErrorContains(t, err, "redis health check failed")
}
