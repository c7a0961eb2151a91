package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agent-mesh/agent-mesh/pkg/observability"
)

func TestNewDomainEvent(t *testing.T) {
	ctx := observability.WithAgentID(context.Background(), "agent-1")
	ctx = observability.WithCorrelationID(ctx, "corr-1")
	ctx = observability.WithCausationID(ctx, "cause-1")

	event := NewDomainEvent(ctx, EventTeamFormed, "team", "team-1", map[string]interface{}{
		"strategy": "balanced",
	})

	_, err := uuid.Parse(event.ID)
	require.NoError(t, err)
	assert.Equal(t, EventTeamFormed, event.Type)
	assert.Equal(t, "team", event.AggregateType)
	assert.Equal(t, "team-1", event.AggregateID)
	assert.Equal(t, "agent-1", event.Metadata.AgentID)
	assert.Equal(t, "corr-1", event.Metadata.CorrelationID)
	assert.Equal(t, "cause-1", event.Metadata.CausationID)
	assert.Equal(t, "balanced", event.Payload["strategy"])
	assert.False(t, event.Timestamp.IsZero())
}

func TestBus_PublishInvokesHandlersInOrder(t *testing.T) {
	bus := NewBus(nil)
	defer func() { _ = bus.Close() }()

	var calls []string
	bus.Subscribe(EventContextCreated, func(ctx context.Context, event *DomainEvent) error {
		calls = append(calls, "first")
		return nil
	})
	bus.Subscribe(EventContextCreated, func(ctx context.Context, event *DomainEvent) error {
		calls = append(calls, "second")
		return nil
	})
	bus.Subscribe(EventContextDeleted, func(ctx context.Context, event *DomainEvent) error {
		calls = append(calls, "other")
		return nil
	})

	event := NewDomainEvent(context.Background(), EventContextCreated, "context", "ctx-1", nil)
	require.NoError(t, bus.Publish(context.Background(), event))

	assert.Equal(t, []string{"first", "second"}, calls)
}

func TestBus_HandlerErrorDoesNotStopOthers(t *testing.T) {
	bus := NewBus(nil)
	defer func() { _ = bus.Close() }()

	var reached bool
	bus.Subscribe(EventContextUpdated, func(ctx context.Context, event *DomainEvent) error {
		return errors.New("handler failed")
	})
	bus.Subscribe(EventContextUpdated, func(ctx context.Context, event *DomainEvent) error {
		reached = true
		return nil
	})

	event := NewDomainEvent(context.Background(), EventContextUpdated, "context", "ctx-1", nil)
	require.NoError(t, bus.Publish(context.Background(), event))
	assert.True(t, reached)
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(nil)
	defer func() { _ = bus.Close() }()

	var calls int
	sub := bus.Subscribe(EventTeamDisbanded, func(ctx context.Context, event *DomainEvent) error {
		calls++
		return nil
	})

	event := NewDomainEvent(context.Background(), EventTeamDisbanded, "team", "team-1", nil)
	require.NoError(t, bus.Publish(context.Background(), event))
	assert.Equal(t, 1, calls)

	bus.Unsubscribe(sub)
	require.NoError(t, bus.Publish(context.Background(), event))
	assert.Equal(t, 1, calls)
}

func TestBus_CloseDropsHandlers(t *testing.T) {
	bus := NewBus(nil)

	var calls int
	bus.Subscribe(EventAgentRegistered, func(ctx context.Context, event *DomainEvent) error {
		calls++
		return nil
	})

	require.NoError(t, bus.Close())

	event := NewDomainEvent(context.Background(), EventAgentRegistered, "agent", "agent-1", nil)
	require.NoError(t, bus.Publish(context.Background(), event))
	assert.Equal(t, 0, calls)
}

func TestRedisPublisher_PublishesToTypeChannel(t *testing.T) {
	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	ctx := context.Background()
	publisher := NewRedisPublisher(client, "agentmesh.events", nil)
	assert.Equal(t, "agentmesh.events.negotiation.resolved", publisher.Channel(EventNegotiationResolved))

	sub := client.Subscribe(ctx, publisher.Channel(EventNegotiationResolved))
	defer func() { _ = sub.Close() }()
	// Wait for the subscription to be established before publishing
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	event := NewDomainEvent(ctx, EventNegotiationResolved, "negotiation", "neg-1", map[string]interface{}{
		"status": "successful",
	})
	require.NoError(t, publisher.Publish(ctx, event))

	select {
	case msg := <-sub.Channel():
		var got DomainEvent
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		assert.Equal(t, event.ID, got.ID)
		assert.Equal(t, EventNegotiationResolved, got.Type)
		assert.Equal(t, "neg-1", got.AggregateID)
		assert.Equal(t, "successful", got.Payload["status"])
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published event")
	}

	require.NoError(t, publisher.Close())
}
