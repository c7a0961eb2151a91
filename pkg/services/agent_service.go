package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/agent-mesh/agent-mesh/pkg/events"
	"github.com/agent-mesh/agent-mesh/pkg/models"
	"github.com/agent-mesh/agent-mesh/pkg/repository"
)

// AgentService manages the agent and capability registry. It is the only
// write path for agent rows besides collaboration score feedback.
type AgentService interface {
	RegisterAgent(ctx context.Context, agent *models.Agent) (*models.Agent, error)
	GetAgent(ctx context.Context, agentID string) (*models.Agent, error)
	ListAgents(ctx context.Context, filter repository.AgentFilter) ([]*models.Agent, error)
	UpdateAgent(ctx context.Context, agent *models.Agent) (*models.Agent, error)
	SetAvailability(ctx context.Context, agentID string, available bool) (*models.Agent, error)

	RegisterCapability(ctx context.Context, capability *models.Capability) (*models.Capability, error)
	GetCapability(ctx context.Context, capabilityID string) (*models.Capability, error)
	ListCapabilities(ctx context.Context) ([]*models.Capability, error)
}

type agentService struct {
	BaseService
	agents       repository.AgentRepository
	capabilities repository.CapabilityRepository
}

// NewAgentService creates the agent registry service.
func NewAgentService(config ServiceConfig, agents repository.AgentRepository, capabilities repository.CapabilityRepository) AgentService {
	return &agentService{
		BaseService:  NewBaseService(config),
		agents:       agents,
		capabilities: capabilities,
	}
}

func (s *agentService) RegisterAgent(ctx context.Context, agent *models.Agent) (*models.Agent, error) {
	ctx, span := s.config.Tracer(ctx, "AgentService.RegisterAgent")
	defer span.End()

	if agent == nil {
		return nil, invalidArgf("agent is required")
	}
	agent.SetDefaultValues()
	if err := agent.Validate(); err != nil {
		return nil, invalidArgf("invalid agent: %v", err)
	}
	if agent.ID == "" {
		agent.ID = uuid.New().String()
	}
	now := s.config.Clock.Now().UTC()
	agent.CreatedAt = now
	agent.UpdatedAt = now

	if err := s.agents.Create(ctx, agent); err != nil {
		return nil, translateError(err, "failed to register agent")
	}

	s.config.Logger.Info("Agent registered", map[string]interface{}{
		"agent_id":       agent.ID,
		"name":           agent.Name,
		"specialization": agent.Specialization,
		"capabilities":   len(agent.Capabilities),
	})
	s.config.Metrics.IncrementCounter("agents.registered", 1)
	s.publishEvent(ctx, events.EventAgentRegistered, "agent", agent.ID, map[string]interface{}{
		"name":           agent.Name,
		"specialization": agent.Specialization,
	})

	return agent, nil
}

func (s *agentService) GetAgent(ctx context.Context, agentID string) (*models.Agent, error) {
	ctx, span := s.config.Tracer(ctx, "AgentService.GetAgent")
	defer span.End()

	if agentID == "" {
		return nil, invalidArgf("agent ID is required")
	}

	agent, err := s.agents.Get(ctx, agentID)
	if err != nil {
		return nil, translateError(err, "failed to get agent")
	}
	return agent, nil
}

func (s *agentService) ListAgents(ctx context.Context, filter repository.AgentFilter) ([]*models.Agent, error) {
	ctx, span := s.config.Tracer(ctx, "AgentService.ListAgents")
	defer span.End()

	agents, err := s.agents.List(ctx, filter)
	if err != nil {
		return nil, translateError(err, "failed to list agents")
	}
	return agents, nil
}

func (s *agentService) UpdateAgent(ctx context.Context, agent *models.Agent) (*models.Agent, error) {
	ctx, span := s.config.Tracer(ctx, "AgentService.UpdateAgent")
	defer span.End()

	if agent == nil || agent.ID == "" {
		return nil, invalidArgf("agent ID is required")
	}
	if err := agent.Validate(); err != nil {
		return nil, invalidArgf("invalid agent: %v", err)
	}
	agent.UpdatedAt = s.config.Clock.Now().UTC()

	if err := s.agents.Update(ctx, agent); err != nil {
		return nil, translateError(err, "failed to update agent")
	}

	s.publishEvent(ctx, events.EventAgentUpdated, "agent", agent.ID, nil)
	return agent, nil
}

func (s *agentService) SetAvailability(ctx context.Context, agentID string, available bool) (*models.Agent, error) {
	ctx, span := s.config.Tracer(ctx, "AgentService.SetAvailability")
	defer span.End()

	agent, err := s.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if agent.Available == available {
		return agent, nil
	}

	agent.Available = available
	agent.UpdatedAt = s.config.Clock.Now().UTC()
	if err := s.agents.Update(ctx, agent); err != nil {
		return nil, translateError(err, "failed to update agent availability")
	}

	s.config.Logger.Debug("Agent availability changed", map[string]interface{}{
		"agent_id":  agent.ID,
		"available": available,
	})
	return agent, nil
}

func (s *agentService) RegisterCapability(ctx context.Context, capability *models.Capability) (*models.Capability, error) {
	ctx, span := s.config.Tracer(ctx, "AgentService.RegisterCapability")
	defer span.End()

	if capability == nil {
		return nil, invalidArgf("capability is required")
	}
	if err := capability.Validate(); err != nil {
		return nil, invalidArgf("invalid capability: %v", err)
	}
	if capability.ID == "" {
		capability.ID = capability.Name
	}
	capability.CreatedAt = s.config.Clock.Now().UTC()

	if err := s.capabilities.Create(ctx, capability); err != nil {
		return nil, translateError(err, "failed to register capability")
	}
	return capability, nil
}

func (s *agentService) GetCapability(ctx context.Context, capabilityID string) (*models.Capability, error) {
	ctx, span := s.config.Tracer(ctx, "AgentService.GetCapability")
	defer span.End()

	if capabilityID == "" {
		return nil, invalidArgf("capability ID is required")
	}

	capability, err := s.capabilities.Get(ctx, capabilityID)
	if err != nil {
		return nil, translateError(err, "failed to get capability")
	}
	return capability, nil
}

func (s *agentService) ListCapabilities(ctx context.Context) ([]*models.Capability, error) {
	ctx, span := s.config.Tracer(ctx, "AgentService.ListCapabilities")
	defer span.End()

	capabilities, err := s.capabilities.List(ctx)
	if err != nil {
		return nil, translateError(err, "failed to list capabilities")
	}
	return capabilities, nil
}
