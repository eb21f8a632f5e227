package persist

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"queue-system/models"
)

func testRecord() *models.SessionRecord {
	return &models.SessionRecord{
		ID:             "sess-1",
		QueueID:        "main-event",
		UserID:         "alice",
		EnqueuedAt:     time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC),
		SequenceNumber: 7,
		Status:         models.StatusWaiting,
	}
}

func TestRedisGateway_AppendMutation(t *testing.T) {
	db, mock := redismock.NewClientMock()
	gateway := NewRedisGateway(db)

	rec := testRecord()
	data, err := json.Marshal(rec)
	require.NoError(t, err)
	entry, err := json.Marshal(mutationEntry{
		SessionID: rec.ID,
		UserID:    rec.UserID,
		Sequence:  rec.SequenceNumber,
		From:      "",
		To:        models.StatusWaiting,
		At:        rec.EnqueuedAt,
	})
	require.NoError(t, err)

	mock.ExpectHSet("queue:sessions:main-event", rec.ID, data).SetVal(1)
	mock.ExpectRPush("queue:log:main-event", entry).SetVal(1)
	mock.ExpectLTrim("queue:log:main-event", -10000, -1).SetVal("OK")

	err = gateway.AppendMutation(context.Background(), "main-event", rec, "", models.StatusWaiting)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisGateway_SaveQueueConfig_Active(t *testing.T) {
	db, mock := redismock.NewClientMock()
	gateway := NewRedisGateway(db)

	cfg := models.QueueConfig{
		ID:                   "main-event",
		Name:                 "Main Event",
		MaxConcurrentUsers:   10,
		ReleaseRatePerMinute: 30,
		IsActive:             true,
	}
	data, err := json.Marshal(cfg)
	require.NoError(t, err)

	mock.ExpectSet("queue:config:main-event", data, 0).SetVal("OK")
	mock.ExpectSAdd("active_queues", "main-event").SetVal(1)

	require.NoError(t, gateway.SaveQueueConfig(context.Background(), cfg))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisGateway_SaveQueueConfig_InactiveLeavesActiveSet(t *testing.T) {
	db, mock := redismock.NewClientMock()
	gateway := NewRedisGateway(db)

	cfg := models.QueueConfig{ID: "main-event", IsActive: false}
	data, err := json.Marshal(cfg)
	require.NoError(t, err)

	mock.ExpectSet("queue:config:main-event", data, 0).SetVal("OK")
	mock.ExpectSRem("active_queues", "main-event").SetVal(1)

	require.NoError(t, gateway.SaveQueueConfig(context.Background(), cfg))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisGateway_DeleteQueue(t *testing.T) {
	db, mock := redismock.NewClientMock()
	gateway := NewRedisGateway(db)

	mock.ExpectSRem("active_queues", "main-event").SetVal(1)
	mock.ExpectDel(
		"queue:config:main-event",
		"queue:sessions:main-event",
		"queue:log:main-event",
	).SetVal(3)

	require.NoError(t, gateway.DeleteQueue(context.Background(), "main-event"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisGateway_LoadQueueSnapshot(t *testing.T) {
	db, mock := redismock.NewClientMock()
	gateway := NewRedisGateway(db)

	cfg := models.QueueConfig{ID: "main-event", MaxConcurrentUsers: 5, IsActive: true}
	cfgData, err := json.Marshal(cfg)
	require.NoError(t, err)

	rec := testRecord()
	recData, err := json.Marshal(rec)
	require.NoError(t, err)

	mock.ExpectGet("queue:config:main-event").SetVal(string(cfgData))
	mock.ExpectHGetAll("queue:sessions:main-event").SetVal(map[string]string{
		rec.ID: string(recData),
	})

	snap, err := gateway.LoadQueueSnapshot(context.Background(), "main-event")
	require.NoError(t, err)
	assert.Equal(t, cfg, snap.Config)
	require.Len(t, snap.Sessions, 1)
	assert.Equal(t, rec, snap.Sessions[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisGateway_LoadQueueSnapshot_MissingConfig(t *testing.T) {
	db, mock := redismock.NewClientMock()
	gateway := NewRedisGateway(db)

	mock.ExpectGet("queue:config:ghost").RedisNil()

	_, err := gateway.LoadQueueSnapshot(context.Background(), "ghost")
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisGateway_LoadActiveQueueConfigs(t *testing.T) {
	db, mock := redismock.NewClientMock()
	gateway := NewRedisGateway(db)

	cfg := models.QueueConfig{ID: "main-event", IsActive: true}
	cfgData, err := json.Marshal(cfg)
	require.NoError(t, err)

	mock.ExpectSMembers("active_queues").SetVal([]string{"main-event", "stale"})
	mock.ExpectGet("queue:config:main-event").SetVal(string(cfgData))
	// A dangling set member without a config is skipped, not fatal.
	mock.ExpectGet("queue:config:stale").RedisNil()

	configs, err := gateway.LoadActiveQueueConfigs(context.Background())
	require.NoError(t, err)
	require.Len(t, configs, 1)
	assert.Equal(t, "main-event", configs[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNoopGateway_LoadQueueSnapshotIsEmpty(t *testing.T) {
	gateway := NewNoopGateway()
	snap, err := gateway.LoadQueueSnapshot(context.Background(), "anything")
	require.NoError(t, err)
	assert.Equal(t, "anything", snap.Config.ID)
	assert.Empty(t, snap.Sessions)
}
