package persist

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"queue-system/config"
)

// NewGateway builds the configured Persistence Gateway implementation.
func NewGateway(cfg *config.Config, redisClient *redis.Client) (Gateway, error) {
	switch cfg.Persist {
	case "redis":
		if redisClient == nil {
			return nil, fmt.Errorf("redis persistence requires a redis client")
		}
		return NewRedisGateway(redisClient), nil
	case "none", "":
		return NewNoopGateway(), nil
	}
	return nil, fmt.Errorf("unknown persistence provider %q", cfg.Persist)
}
