// Package services holds the coordination engines: shared context, team
// formation, and negotiation, plus the agent registry they draw on. Engines
// receive their configuration, repositories, sinks, and clock at
// construction and hold no global state.
package services

import (
	"context"

	"github.com/agent-mesh/agent-mesh/pkg/common/clock"
	"github.com/agent-mesh/agent-mesh/pkg/events"
	"github.com/agent-mesh/agent-mesh/pkg/observability"
)

// ServiceConfig provides common configuration for all services
type ServiceConfig struct {
	Logger  observability.Logger
	Metrics observability.MetricsClient
	Tracer  observability.StartSpanFunc
	Clock   clock.Clock
}

// withDefaults fills missing collaborators with no-op implementations so a
// service can be constructed with a zero config in tests.
func (c ServiceConfig) withDefaults() ServiceConfig {
	if c.Logger == nil {
		c.Logger = observability.NewNoopLogger()
	}
	if c.Metrics == nil {
		c.Metrics = observability.NewNoOpMetricsClient()
	}
	if c.Tracer == nil {
		c.Tracer = observability.NoopStartSpan
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	return c
}

// BaseService provides common functionality for all services
type BaseService struct {
	config    ServiceConfig
	publisher events.Publisher
}

// NewBaseService creates a new base service
func NewBaseService(config ServiceConfig) BaseService {
	return BaseService{config: config.withDefaults()}
}

// SetEventPublisher sets the domain event publisher
func (s *BaseService) SetEventPublisher(publisher events.Publisher) {
	s.publisher = publisher
}

// publishEvent emits a domain event. Publishing is best effort; failures
// are logged and never surface to the caller.
func (s *BaseService) publishEvent(ctx context.Context, eventType events.EventType, aggregateType, aggregateID string, payload map[string]interface{}) {
	if s.publisher == nil {
		return
	}

	event := events.NewDomainEvent(ctx, eventType, aggregateType, aggregateID, payload)
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.config.Logger.Warn("Failed to publish domain event", map[string]interface{}{
			"event_type":   string(eventType),
			"aggregate_id": aggregateID,
			"error":        err.Error(),
		})
	}
}
