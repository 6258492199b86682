package events

import (
	"context"
	"encoding/json"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/signalmesh/registry/pkg/logger"
)

// RedisEmitter appends events to a Redis Stream, the append-only log that
// downstream indexers consume. Failures are logged and dropped; the producing
// operation has already committed.
type RedisEmitter struct {
	client *redis.Client
	stream string
	log    *logger.Logger
}

// NewRedisEmitter constructs a stream-backed emitter.
func NewRedisEmitter(client *redis.Client, stream string, log *logger.Logger) *RedisEmitter {
	if stream == "" {
		stream = "registry.events"
	}
	if log == nil {
		log = logger.NewDefault("events-redis")
	}
	return &RedisEmitter{client: client, stream: stream, log: log}
}

func (e *RedisEmitter) Emit(ctx context.Context, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		e.log.WithError(err).WithField("event", ev.EventKind()).Warn("marshal event failed")
		return
	}

	err = e.client.XAdd(ctx, &redis.XAddArgs{
		Stream: e.stream,
		Values: map[string]interface{}{
			"id":      uuid.NewString(),
			"kind":    ev.EventKind(),
			"payload": string(payload),
		},
	}).Err()
	if err != nil {
		e.log.WithError(err).WithField("event", ev.EventKind()).Warn("append event to stream failed")
	}
}
