package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"queue-system/models"
)

// Key layout, one namespace per queue:
//
//	active_queues              set of active queue IDs
//	queue:config:<id>          JSON QueueConfig
//	queue:sessions:<id>        hash session ID -> JSON SessionRecord
//	queue:log:<id>             list of mutation entries, newest last
const (
	activeQueuesKey = "active_queues"
	mutationLogCap  = 10000
)

func configKey(queueID string) string   { return fmt.Sprintf("queue:config:%s", queueID) }
func sessionsKey(queueID string) string { return fmt.Sprintf("queue:sessions:%s", queueID) }
func logKey(queueID string) string      { return fmt.Sprintf("queue:log:%s", queueID) }

// mutationEntry is one line of the write-behind log.
type mutationEntry struct {
	SessionID string               `json:"session_id"`
	UserID    string               `json:"user_id"`
	Sequence  uint64               `json:"sequence"`
	From      models.SessionStatus `json:"from"`
	To        models.SessionStatus `json:"to"`
	At        time.Time            `json:"at"`
}

// RedisGateway persists queue state in Redis. The sessions hash always
// mirrors the latest record per session, so a snapshot load is a single
// HGetAll; the log list exists for audit and replay tooling.
type RedisGateway struct {
	redis *redis.Client
}

func NewRedisGateway(client *redis.Client) *RedisGateway {
	return &RedisGateway{redis: client}
}

func (g *RedisGateway) AppendMutation(ctx context.Context, queueID string, rec *models.SessionRecord, from, to models.SessionStatus) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", rec.ID, err)
	}
	if err := g.redis.HSet(ctx, sessionsKey(queueID), rec.ID, data).Err(); err != nil {
		return fmt.Errorf("persist session %s: %w", rec.ID, err)
	}

	entry, err := json.Marshal(mutationEntry{
		SessionID: rec.ID,
		UserID:    rec.UserID,
		Sequence:  rec.SequenceNumber,
		From:      from,
		To:        to,
		At:        rec.EnqueuedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal mutation: %w", err)
	}
	if err := g.redis.RPush(ctx, logKey(queueID), entry).Err(); err != nil {
		return fmt.Errorf("append mutation log: %w", err)
	}
	return g.redis.LTrim(ctx, logKey(queueID), -mutationLogCap, -1).Err()
}

func (g *RedisGateway) SaveQueueConfig(ctx context.Context, cfg models.QueueConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal queue config %s: %w", cfg.ID, err)
	}
	if err := g.redis.Set(ctx, configKey(cfg.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("persist queue config %s: %w", cfg.ID, err)
	}
	if cfg.IsActive {
		return g.redis.SAdd(ctx, activeQueuesKey, cfg.ID).Err()
	}
	return g.redis.SRem(ctx, activeQueuesKey, cfg.ID).Err()
}

func (g *RedisGateway) DeleteQueue(ctx context.Context, queueID string) error {
	if err := g.redis.SRem(ctx, activeQueuesKey, queueID).Err(); err != nil {
		return err
	}
	return g.redis.Del(ctx, configKey(queueID), sessionsKey(queueID), logKey(queueID)).Err()
}

func (g *RedisGateway) LoadQueueSnapshot(ctx context.Context, queueID string) (*models.QueueSnapshot, error) {
	raw, err := g.redis.Get(ctx, configKey(queueID)).Result()
	if err == redis.Nil {
		return nil, fmt.Errorf("queue %s has no persisted config", queueID)
	} else if err != nil {
		return nil, err
	}

	snap := &models.QueueSnapshot{}
	if err := json.Unmarshal([]byte(raw), &snap.Config); err != nil {
		return nil, fmt.Errorf("unmarshal queue config %s: %w", queueID, err)
	}

	fields, err := g.redis.HGetAll(ctx, sessionsKey(queueID)).Result()
	if err != nil {
		return nil, err
	}
	for id, data := range fields {
		rec := &models.SessionRecord{}
		if err := json.Unmarshal([]byte(data), rec); err != nil {
			return nil, fmt.Errorf("unmarshal session %s: %w", id, err)
		}
		snap.Sessions = append(snap.Sessions, rec)
	}
	return snap, nil
}

func (g *RedisGateway) LoadActiveQueueConfigs(ctx context.Context) ([]models.QueueConfig, error) {
	ids, err := g.redis.SMembers(ctx, activeQueuesKey).Result()
	if err != nil {
		return nil, err
	}

	configs := make([]models.QueueConfig, 0, len(ids))
	for _, id := range ids {
		raw, err := g.redis.Get(ctx, configKey(id)).Result()
		if err == redis.Nil {
			continue
		} else if err != nil {
			return nil, err
		}
		var cfg models.QueueConfig
		if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal queue config %s: %w", id, err)
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

func (g *RedisGateway) Close() error {
	return g.redis.Close()
}
