package memory

import (
	"context"

	"github.com/agent-mesh/agent-mesh/pkg/models"
	"github.com/agent-mesh/agent-mesh/pkg/repository"
)

type teamRepository struct {
	store *Store
}

func (r *teamRepository) Create(ctx context.Context, team *models.Team) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, exists := r.store.teams[team.ID]; exists {
		return repository.ErrAlreadyExists
	}
	r.store.teams[team.ID] = cloneTeam(team)
	return nil
}

func (r *teamRepository) Get(ctx context.Context, id string) (*models.Team, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	team, ok := r.store.teams[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneTeam(team), nil
}

// Update replaces the team after checking the optimistic version and bumps
// both the stored and the caller's Version on success
func (r *teamRepository) Update(ctx context.Context, team *models.Team) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	stored, ok := r.store.teams[team.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if stored.Version != team.Version {
		return repository.ErrOptimisticLock
	}

	copied := cloneTeam(team)
	copied.Version = team.Version + 1
	r.store.teams[team.ID] = copied
	team.Version = copied.Version
	return nil
}

func (r *teamRepository) Delete(ctx context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := r.store.teams[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.store.teams, id)
	return nil
}

func (r *teamRepository) List(ctx context.Context, filter repository.TeamFilter) ([]*models.Team, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var result []*models.Team
	for _, team := range r.store.teams {
		if filter.Status != "" && team.Status != filter.Status {
			continue
		}
		if filter.TaskID != "" && team.TaskID != filter.TaskID {
			continue
		}
		if filter.AgentID != "" && !team.HasAgent(filter.AgentID) {
			continue
		}
		result = append(result, cloneTeam(team))
	}

	sortByCreation(result,
		func(t *models.Team) int64 { return t.CreatedAt.UnixNano() },
		func(t *models.Team) string { return t.ID })
	return applyWindow(result, filter.Limit, filter.Offset), nil
}
