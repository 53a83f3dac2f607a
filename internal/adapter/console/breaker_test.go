package console

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opsassist/internal/domain"
	"opsassist/internal/infra/config"
)

// fakeAppender fails a configurable number of times before succeeding.
type fakeAppender struct {
	calls    int
	failures int
	err      error
}

func (f *fakeAppender) AppendMessage(ctx context.Context, sessionID, role, content string) (*domain.ChatMessage, error) {
	f.calls++
	if f.calls <= f.failures {
		err := f.err
		if err == nil {
			err = domain.ErrConsoleUnavailable
		}
		return nil, err
	}
	return &domain.ChatMessage{ID: "msg-1", Role: role, Content: content}, nil
}

func breakerConfig(maxFailures uint32) config.ConsoleConfig {
	return config.ConsoleConfig{
		Breaker: config.BreakerConfig{
			MaxFailures: maxFailures,
			Timeout:     50 * time.Millisecond,
			Interval:    time.Minute,
		},
	}
}

func TestGuardedAppenderPassesThroughOnSuccess(t *testing.T) {
	inner := &fakeAppender{}
	guard := NewGuardedAppender(inner, breakerConfig(3), testLogger())

	msg, err := guard.AppendMessage(context.Background(), "sess-1", domain.RoleUser, "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.Content)
	assert.Equal(t, gobreaker.StateClosed, guard.State())
}

func TestGuardedAppenderOpensAfterConsecutiveFailures(t *testing.T) {
	inner := &fakeAppender{failures: 100}
	guard := NewGuardedAppender(inner, breakerConfig(3), testLogger())

	for i := 0; i < 3; i++ {
		_, err := guard.AppendMessage(context.Background(), "sess-1", domain.RoleUser, "hello")
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, guard.State())

	// While open, calls fail fast without reaching the inner client.
	callsBefore := inner.calls
	_, err := guard.AppendMessage(context.Background(), "sess-1", domain.RoleUser, "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConsoleUnavailable)
	assert.Equal(t, callsBefore, inner.calls)
}

func TestGuardedAppenderRecoversThroughHalfOpen(t *testing.T) {
	inner := &fakeAppender{failures: 3}
	guard := NewGuardedAppender(inner, breakerConfig(3), testLogger())

	for i := 0; i < 3; i++ {
		guard.AppendMessage(context.Background(), "sess-1", domain.RoleUser, "hello")
	}
	require.Equal(t, gobreaker.StateOpen, guard.State())

	// Wait out the open timeout, then a successful probe closes the circuit.
	time.Sleep(60 * time.Millisecond)
	_, err := guard.AppendMessage(context.Background(), "sess-1", domain.RoleUser, "hello")
	require.NoError(t, err)
	assert.Equal(t, gobreaker.StateClosed, guard.State())
}

func TestGuardedAppenderClientErrorsDoNotTrip(t *testing.T) {
	inner := &fakeAppender{failures: 100, err: domain.ErrSessionNotFound}
	guard := NewGuardedAppender(inner, breakerConfig(2), testLogger())

	for i := 0; i < 5; i++ {
		_, err := guard.AppendMessage(context.Background(), "sess-1", domain.RoleUser, "hello")
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrSessionNotFound))
	}
	assert.Equal(t, gobreaker.StateClosed, guard.State())
}

func TestGuardedAppenderRateLimit(t *testing.T) {
	inner := &fakeAppender{}
	cfg := breakerConfig(3)
	cfg.SendsPerMinute = 1 // refill far slower than the test runs
	cfg.SendBurst = 2
	guard := NewGuardedAppender(inner, cfg, testLogger())

	for i := 0; i < 2; i++ {
		_, err := guard.AppendMessage(context.Background(), "sess-1", domain.RoleUser, "hello")
		require.NoError(t, err)
	}

	_, err := guard.AppendMessage(context.Background(), "sess-1", domain.RoleUser, "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRateLimit)
	assert.Equal(t, 2, inner.calls, "rate-limited call must not reach the backend")
}
