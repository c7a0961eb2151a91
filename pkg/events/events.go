package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/agent-mesh/agent-mesh/pkg/observability"
)

// EventType defines the type of a domain event
type EventType string

// Domain event types published by the coordination engines
const (
	EventContextCreated  EventType = "context.created"
	EventContextUpdated  EventType = "context.updated"
	EventContextDeleted  EventType = "context.deleted"
	EventContextForked   EventType = "context.forked"
	EventContextMerged   EventType = "context.merged"
	EventContextReverted EventType = "context.reverted"

	EventTeamFormed    EventType = "team.formed"
	EventTeamDisbanded EventType = "team.disbanded"

	EventNegotiationInitiated EventType = "negotiation.initiated"
	EventNegotiationResolved  EventType = "negotiation.resolved"
	EventNegotiationFailed    EventType = "negotiation.failed"
	EventNegotiationTimedOut  EventType = "negotiation.timed_out"

	EventAgentRegistered EventType = "agent.registered"
	EventAgentUpdated    EventType = "agent.updated"
)

// Metadata contains event metadata propagated from the originating request
type Metadata struct {
	AgentID       string `json:"agent_id,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	CausationID   string `json:"causation_id,omitempty"`
}

// DomainEvent represents a domain event emitted by one of the engines
type DomainEvent struct {
	ID            string                 `json:"id"`
	Type          EventType              `json:"type"`
	AggregateType string                 `json:"aggregate_type"`
	AggregateID   string                 `json:"aggregate_id"`
	Timestamp     time.Time              `json:"timestamp"`
	Payload       map[string]interface{} `json:"payload,omitempty"`
	Metadata      Metadata               `json:"metadata"`
}

// NewDomainEvent creates a domain event with a fresh ID and timestamp.
// Correlation, causation and agent identifiers are lifted from the context.
func NewDomainEvent(ctx context.Context, eventType EventType, aggregateType, aggregateID string, payload map[string]interface{}) *DomainEvent {
	return &DomainEvent{
		ID:            uuid.New().String(),
		Type:          eventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Timestamp:     time.Now().UTC(),
		Payload:       payload,
		Metadata: Metadata{
			AgentID:       observability.GetAgentID(ctx),
			CorrelationID: observability.GetCorrelationID(ctx),
			CausationID:   observability.GetCausationID(ctx),
		},
	}
}

// Handler processes a domain event
type Handler func(ctx context.Context, event *DomainEvent) error

// Publisher defines the interface for publishing domain events
type Publisher interface {
	// Publish publishes a single event
	Publish(ctx context.Context, event *DomainEvent) error

	// PublishBatch publishes multiple events, stopping at the first failure
	PublishBatch(ctx context.Context, events []*DomainEvent) error

	// Close releases publisher resources
	Close() error
}

// NoOpPublisher discards all events
type NoOpPublisher struct{}

func (p *NoOpPublisher) Publish(ctx context.Context, event *DomainEvent) error {
	return nil
}

func (p *NoOpPublisher) PublishBatch(ctx context.Context, events []*DomainEvent) error {
	return nil
}

func (p *NoOpPublisher) Close() error {
	return nil
}
