package persist

import (
	"testing"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"queue-system/config"
)

func TestNewGateway(t *testing.T) {
	db, _ := redismock.NewClientMock()

	gateway, err := NewGateway(&config.Config{Persist: "redis"}, db)
	require.NoError(t, err)
	assert.IsType(t, &RedisGateway{}, gateway)

	_, err = NewGateway(&config.Config{Persist: "redis"}, nil)
	assert.Error(t, err, "redis persistence without a client is a misconfiguration")

	gateway, err = NewGateway(&config.Config{Persist: "none"}, nil)
	require.NoError(t, err)
	assert.NotNil(t, gateway)

	_, err = NewGateway(&config.Config{Persist: "parchment"}, nil)
	assert.Error(t, err)
}
