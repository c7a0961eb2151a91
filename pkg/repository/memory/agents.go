package memory

import (
	"context"

	"github.com/agent-mesh/agent-mesh/pkg/models"
	"github.com/agent-mesh/agent-mesh/pkg/repository"
)

type agentRepository struct {
	store *Store
}

func (r *agentRepository) Create(ctx context.Context, agent *models.Agent) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, exists := r.store.agents[agent.ID]; exists {
		return repository.ErrAlreadyExists
	}
	r.store.agents[agent.ID] = cloneAgent(agent)
	return nil
}

func (r *agentRepository) Get(ctx context.Context, id string) (*models.Agent, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	agent, ok := r.store.agents[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneAgent(agent), nil
}

func (r *agentRepository) Update(ctx context.Context, agent *models.Agent) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := r.store.agents[agent.ID]; !ok {
		return repository.ErrNotFound
	}
	r.store.agents[agent.ID] = cloneAgent(agent)
	return nil
}

func (r *agentRepository) Delete(ctx context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := r.store.agents[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.store.agents, id)
	return nil
}

func (r *agentRepository) List(ctx context.Context, filter repository.AgentFilter) ([]*models.Agent, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var result []*models.Agent
	for _, agent := range r.store.agents {
		if filter.Available != nil && agent.Available != *filter.Available {
			continue
		}
		if filter.Specialization != "" && agent.Specialization != filter.Specialization {
			continue
		}
		if filter.Capability != "" && !agent.HasCapability(filter.Capability) {
			continue
		}
		result = append(result, cloneAgent(agent))
	}

	sortByCreation(result,
		func(a *models.Agent) int64 { return a.CreatedAt.UnixNano() },
		func(a *models.Agent) string { return a.ID })
	return applyWindow(result, filter.Limit, filter.Offset), nil
}

type capabilityRepository struct {
	store *Store
}

func (r *capabilityRepository) Create(ctx context.Context, capability *models.Capability) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, exists := r.store.capabilities[capability.ID]; exists {
		return repository.ErrAlreadyExists
	}
	r.store.capabilities[capability.ID] = cloneCapability(capability)
	return nil
}

func (r *capabilityRepository) Get(ctx context.Context, id string) (*models.Capability, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	capability, ok := r.store.capabilities[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneCapability(capability), nil
}

func (r *capabilityRepository) List(ctx context.Context) ([]*models.Capability, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	result := make([]*models.Capability, 0, len(r.store.capabilities))
	for _, capability := range r.store.capabilities {
		result = append(result, cloneCapability(capability))
	}
	sortByCreation(result,
		func(c *models.Capability) int64 { return c.CreatedAt.UnixNano() },
		func(c *models.Capability) string { return c.ID })
	return result, nil
}
