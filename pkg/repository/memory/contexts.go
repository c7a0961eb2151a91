package memory

import (
	"context"
	"sort"
	"strings"

	"github.com/agent-mesh/agent-mesh/pkg/models"
	"github.com/agent-mesh/agent-mesh/pkg/repository"
)

type contextRepository struct {
	store *Store
}

func (r *contextRepository) Create(ctx context.Context, sc *models.SharedContext) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, exists := r.store.contexts[sc.ID]; exists {
		return repository.ErrAlreadyExists
	}
	r.store.contexts[sc.ID] = cloneContext(sc)
	return nil
}

func (r *contextRepository) Get(ctx context.Context, id string) (*models.SharedContext, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	sc, ok := r.store.contexts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	result := cloneContext(sc)
	result.AccessControl = r.accessRowsLocked(id)
	return result, nil
}

// Update replaces the context after checking the optimistic version and
// bumps both the stored and the caller's Version on success
func (r *contextRepository) Update(ctx context.Context, sc *models.SharedContext) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	stored, ok := r.store.contexts[sc.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if stored.Version != sc.Version {
		return repository.ErrOptimisticLock
	}

	copied := cloneContext(sc)
	copied.Version = sc.Version + 1
	r.store.contexts[sc.ID] = copied
	sc.Version = copied.Version
	return nil
}

func (r *contextRepository) Delete(ctx context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := r.store.contexts[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.store.contexts, id)
	delete(r.store.access, id)
	for _, versionID := range r.store.versionOrder[id] {
		delete(r.store.versions, versionID)
	}
	delete(r.store.versionOrder, id)
	return nil
}

func (r *contextRepository) List(ctx context.Context, filter repository.ContextFilter) ([]*models.SharedContext, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	nameQuery := strings.ToLower(filter.NameQuery)

	var result []*models.SharedContext
	for _, sc := range r.store.contexts {
		if filter.OwnerID != "" && sc.OwnerID != filter.OwnerID {
			continue
		}
		if filter.ContextType != "" && sc.ContextType != filter.ContextType {
			continue
		}
		if nameQuery != "" && !strings.Contains(strings.ToLower(sc.Name), nameQuery) {
			continue
		}
		copied := cloneContext(sc)
		copied.AccessControl = r.accessRowsLocked(sc.ID)
		result = append(result, copied)
	}

	sortByCreation(result,
		func(c *models.SharedContext) int64 { return c.CreatedAt.UnixNano() },
		func(c *models.SharedContext) string { return c.ID })
	return applyWindow(result, filter.Limit, filter.Offset), nil
}

func (r *contextRepository) UpsertAccess(ctx context.Context, access *models.ContextAccess) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := r.store.contexts[access.ContextID]; !ok {
		return repository.ErrNotFound
	}
	rows, ok := r.store.access[access.ContextID]
	if !ok {
		rows = make(map[string]models.ContextAccess)
		r.store.access[access.ContextID] = rows
	}
	rows[access.AgentID] = cloneAccess(*access)
	return nil
}

func (r *contextRepository) DeleteAccess(ctx context.Context, contextID, agentID string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	rows, ok := r.store.access[contextID]
	if !ok {
		return repository.ErrNotFound
	}
	if _, ok := rows[agentID]; !ok {
		return repository.ErrNotFound
	}
	delete(rows, agentID)
	return nil
}

func (r *contextRepository) ListAccess(ctx context.Context, contextID string) ([]models.ContextAccess, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	if _, ok := r.store.contexts[contextID]; !ok {
		return nil, repository.ErrNotFound
	}
	return r.accessRowsLocked(contextID), nil
}

// accessRowsLocked returns cloned access rows sorted by agent ID.
// Callers must hold the store lock.
func (r *contextRepository) accessRowsLocked(contextID string) []models.ContextAccess {
	rows := r.store.access[contextID]
	if len(rows) == 0 {
		return nil
	}
	result := make([]models.ContextAccess, 0, len(rows))
	for _, row := range rows {
		result = append(result, cloneAccess(row))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].AgentID < result[j].AgentID })
	return result
}

func (r *contextRepository) CreateVersion(ctx context.Context, version *models.ContextVersion) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := r.store.contexts[version.ContextID]; !ok {
		return repository.ErrNotFound
	}
	if _, exists := r.store.versions[version.ID]; exists {
		return repository.ErrAlreadyExists
	}
	r.store.versions[version.ID] = cloneVersion(version)
	r.store.versionOrder[version.ContextID] = append(r.store.versionOrder[version.ContextID], version.ID)
	return nil
}

func (r *contextRepository) GetVersion(ctx context.Context, versionID string) (*models.ContextVersion, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	version, ok := r.store.versions[versionID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneVersion(version), nil
}

// ListVersions returns a context's versions in creation order
func (r *contextRepository) ListVersions(ctx context.Context, contextID string) ([]*models.ContextVersion, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	if _, ok := r.store.contexts[contextID]; !ok {
		return nil, repository.ErrNotFound
	}

	order := r.store.versionOrder[contextID]
	result := make([]*models.ContextVersion, 0, len(order))
	for _, versionID := range order {
		if version, ok := r.store.versions[versionID]; ok {
			result = append(result, cloneVersion(version))
		}
	}
	return result, nil
}

func (r *contextRepository) CountVersions(ctx context.Context, contextID string) (int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	if _, ok := r.store.contexts[contextID]; !ok {
		return 0, repository.ErrNotFound
	}
	return len(r.store.versionOrder[contextID]), nil
}
