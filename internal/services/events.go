package services

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
)

func StatusChannel(sessionID string) string   { return "session:" + sessionID + ":status" }
func ResponseChannel(sessionID string) string { return "session:" + sessionID + ":response" }

type StatusEvent struct {
	Type       string `json:"type"`
	Status     string `json:"status"`
	Message    string `json:"message,omitempty"`
	ChunkIndex int64  `json:"chunk_index,omitempty"`
}

// EventPublisher fans session events out to whoever holds a live socket.
type EventPublisher interface {
	PublishStatus(ctx context.Context, sessionID string, ev StatusEvent) error
	PublishResponse(ctx context.Context, sessionID string, payload any) error
}

type redisPublisher struct {
	rdb *redis.Client
}

func NewRedisPublisher(rdb *redis.Client) EventPublisher {
	return &redisPublisher{rdb: rdb}
}

func (p *redisPublisher) PublishStatus(ctx context.Context, sessionID string, ev StatusEvent) error {
	if ev.Type == "" {
		ev.Type = "status"
	}
	return p.publish(ctx, StatusChannel(sessionID), ev)
}

func (p *redisPublisher) PublishResponse(ctx context.Context, sessionID string, payload any) error {
	return p.publish(ctx, ResponseChannel(sessionID), payload)
}

func (p *redisPublisher) publish(ctx context.Context, channel string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.rdb.Publish(ctx, channel, string(b)).Err()
}
