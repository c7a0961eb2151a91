package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/agent-mesh/agent-mesh/pkg/observability"
)

// RedisPublisher publishes domain events to Redis pub/sub channels.
// Each event type maps to its own channel under a common prefix so
// consumers can subscribe to "<prefix>.context.*" style patterns.
type RedisPublisher struct {
	client        *redis.Client
	channelPrefix string
	logger        observability.Logger
}

// NewRedisPublisher creates a Redis-backed event publisher
func NewRedisPublisher(client *redis.Client, channelPrefix string, logger observability.Logger) *RedisPublisher {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &RedisPublisher{
		client:        client,
		channelPrefix: channelPrefix,
		logger:        logger,
	}
}

// Channel returns the pub/sub channel used for an event type
func (p *RedisPublisher) Channel(eventType EventType) string {
	return fmt.Sprintf("%s.%s", p.channelPrefix, eventType)
}

// Publish publishes an event to its type channel
func (p *RedisPublisher) Publish(ctx context.Context, event *DomainEvent) error {
	if event == nil {
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("Failed to marshal event", map[string]interface{}{
			"error":      err.Error(),
			"event_type": string(event.Type),
		})
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	channel := p.Channel(event.Type)
	if err := p.client.Publish(ctx, channel, payload).Err(); err != nil {
		p.logger.Error("Failed to publish event", map[string]interface{}{
			"error":      err.Error(),
			"event_type": string(event.Type),
			"channel":    channel,
		})
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Debug("Published event", map[string]interface{}{
		"event_type": string(event.Type),
		"event_id":   event.ID,
		"channel":    channel,
	})
	return nil
}

// PublishBatch publishes multiple events, stopping at the first failure
func (p *RedisPublisher) PublishBatch(ctx context.Context, events []*DomainEvent) error {
	for _, event := range events {
		if err := p.Publish(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// Close logs shutdown. The Redis client is shared and closed by its owner.
func (p *RedisPublisher) Close() error {
	p.logger.Info("Redis event publisher closed", map[string]interface{}{
		"channel_prefix": p.channelPrefix,
	})
	return nil
}
