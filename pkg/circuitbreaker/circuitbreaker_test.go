package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errTestError = errors.New("test error")
	errNotFound  = errors.New("not found")
)

func testConfig() Config {
	return Config{
		FailureThreshold:    2,
		SuccessThreshold:    2,
		Timeout:             50 * time.Millisecond,
		MaxRequestsHalfOpen: 3,
	}
}

func failN(t *testing.T, cb *CircuitBreaker, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_ = cb.Execute(context.Background(), func() error { return errTestError })
	}
}

func TestCircuitBreaker_ClosedState_Success(t *testing.T) {
	cb := New(DefaultConfig())

	err := cb.Execute(context.Background(), func() error { return nil })

	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_ClosedState_FailurePassesThrough(t *testing.T) {
	cb := New(DefaultConfig())

	err := cb.Execute(context.Background(), func() error { return errTestError })

	assert.Equal(t, errTestError, err)
	assert.Equal(t, StateClosed, cb.GetState())
	assert.Equal(t, 1, cb.GetStats().FailureCount)
}

func TestCircuitBreaker_OpensAndRejects(t *testing.T) {
	cb := New(testConfig())
	failN(t, cb, 2)
	require.Equal(t, StateOpen, cb.GetState())

	called := false
	err := cb.Execute(context.Background(), func() error {
		called = true
		return nil
	})

	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_HalfOpenRecovers(t *testing.T) {
	cb := New(testConfig())
	failN(t, cb, 2)

	time.Sleep(60 * time.Millisecond)

	require.NoError(t, cb.Execute(context.Background(), func() error { return nil }))
	assert.Equal(t, StateHalfOpen, cb.GetState())
	require.NoError(t, cb.Execute(context.Background(), func() error { return nil }))
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := New(testConfig())
	failN(t, cb, 2)

	time.Sleep(60 * time.Millisecond)
	failN(t, cb, 1)

	assert.Equal(t, StateOpen, cb.GetState())
}

func TestCircuitBreaker_IsFailureIgnoresDomainErrors(t *testing.T) {
	cfg := testConfig()
	cfg.IsFailure = func(err error) bool { return !errors.Is(err, errNotFound) }
	cb := New(cfg)

	for i := 0; i < 5; i++ {
		err := cb.Execute(context.Background(), func() error { return errNotFound })
		assert.Equal(t, errNotFound, err)
	}

	assert.Equal(t, StateClosed, cb.GetState())
	assert.Equal(t, 0, cb.GetStats().FailureCount)
}

func TestExecute_Generic(t *testing.T) {
	cb := New(DefaultConfig())

	v, err := Execute(context.Background(), cb, func() (int, error) { return 42, nil })

	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestCircuitBreaker_CancelledContext(t *testing.T) {
	cb := New(DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := cb.Execute(ctx, func() error { return nil })

	assert.ErrorIs(t, err, context.Canceled)
}

func TestCircuitBreaker_StateChangeCallback(t *testing.T) {
	cb := New(testConfig())

	var mu sync.Mutex
	var transitions []State
	done := make(chan struct{}, 1)
	cb.OnStateChange(func(_, to State) {
		mu.Lock()
		transitions = append(transitions, to)
		mu.Unlock()
		done <- struct{}{}
	})

	failN(t, cb, 2)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("state change callback not invoked")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateOpen}, transitions)
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := New(testConfig())
	failN(t, cb, 2)

	cb.Reset()

	assert.Equal(t, StateClosed, cb.GetState())
	assert.NoError(t, cb.Execute(context.Background(), func() error { return nil }))
}
