package notify

//go:generate sh -c "mockgen -source=$GOFILE -destination=$(echo $GOFILE | sed 's/\\.go$//')_mock.go -package=$GOPACKAGE"

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/rqure/qcore/pkg/logger"
	"github.com/rqure/qcore/pkg/qstore/entity"
	"github.com/rqure/qcore/pkg/qstore/ids"
)

// Publisher is the optional cross-process notification bridge: fired
// writes are published here in addition to local listener queues, so
// a second process observes writes without being an in-process
// listener. A nil Publisher means pure in-process fan-out.
type Publisher interface {
	Publish(ctx context.Context, entityID ids.EntityId, fieldType ids.FieldType, current entity.Cell)
}

// wireNotification is the published JSON shape. Values travel in their
// debug-string form; cross-process consumers are cache warmers and
// dashboards, not replicas, so the opaque form is enough.
type wireNotification struct {
	EntityId  string    `json:"entity_id"`
	FieldType string    `json:"field_type"`
	Value     string    `json:"value"`
	WriteTime time.Time `json:"write_time"`
}

// RedisPublisher publishes fired notifications to a Redis Pub/Sub
// channel. Publish failures are logged and swallowed; the write path
// never blocks on the bridge.
type RedisPublisher struct {
	client  redis.UniversalClient
	channel string
	log     logger.Logger
}

func NewRedisPublisher(client redis.UniversalClient, channel string, log logger.Logger) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel, log: log}
}

func (p *RedisPublisher) Publish(ctx context.Context, entityID ids.EntityId, fieldType ids.FieldType, current entity.Cell) {
	payload, err := json.Marshal(wireNotification{
		EntityId:  entityID.String(),
		FieldType: fieldType.String(),
		Value:     current.Value.DebugString(),
		WriteTime: current.WriteTime,
	})
	if err != nil {
		return
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil && p.log != nil {
		p.log.Warn("notification publish failed", logger.Fields{
			"channel": p.channel,
			"error":   err.Error(),
		})
	}
}
