package utils

import (
	"errors"
	"strings"
	"testing"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSessionID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewSessionID()
		assert.Len(t, id, 32)
		assert.False(t, seen[id], "session IDs must not repeat")
		seen[id] = true
	}
}

func TestGenerateCode(t *testing.T) {
	code, err := GenerateCode(4)
	require.NoError(t, err)
	assert.Len(t, code, 8)
	assert.Equal(t, strings.ToUpper(code), code)

	other, err := GenerateCode(4)
	require.NoError(t, err)
	assert.NotEqual(t, code, other)
}

func TestCircuitBreaker_PassesThroughWhileClosed(t *testing.T) {
	cb := NewCircuitBreaker("test")

	calls := 0
	err := cb.Execute(func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_ReturnsUnderlyingError(t *testing.T) {
	cb := NewCircuitBreaker("test")
	boom := errors.New("backend down")

	err := cb.Execute(func() error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StateClosed, cb.State(), "a single failure does not trip the breaker")
}

func TestCircuitBreaker_TripsOpenAfterSustainedFailures(t *testing.T) {
	cb := NewCircuitBreaker("test")
	boom := errors.New("backend down")

	for i := 0; i < 100; i++ {
		cb.Execute(func() error { return boom })
	}
	assert.Equal(t, StateOpen, cb.State())

	// While open the call is rejected without reaching the backend.
	calls := 0
	err := cb.Execute(func() error {
		calls++
		return nil
	})
	assert.ErrorIs(t, err, ErrBreakerOpen)
	assert.Zero(t, calls)
}

func TestRedisHealthCheck(t *testing.T) {
	db, mock := redismock.NewClientMock()

	mock.ExpectPing().SetVal("PONG")
	assert.NoError(t, RedisHealthCheck(db))

	mock.ExpectPing().SetErr(errors.New("connection refused"))
	assert.Error(t, RedisHealthCheck(db))

	assert.NoError(t, mock.ExpectationsWereMet())
}
