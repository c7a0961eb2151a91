package memory

import (
	"context"

	"github.com/agent-mesh/agent-mesh/pkg/models"
	"github.com/agent-mesh/agent-mesh/pkg/repository"
)

type negotiationRepository struct {
	store *Store
}

func (r *negotiationRepository) Create(ctx context.Context, negotiation *models.Negotiation) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, exists := r.store.negotiations[negotiation.ID]; exists {
		return repository.ErrAlreadyExists
	}
	r.store.negotiations[negotiation.ID] = cloneNegotiation(negotiation)
	return nil
}

func (r *negotiationRepository) Get(ctx context.Context, id string) (*models.Negotiation, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	negotiation, ok := r.store.negotiations[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneNegotiation(negotiation), nil
}

func (r *negotiationRepository) Update(ctx context.Context, negotiation *models.Negotiation) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := r.store.negotiations[negotiation.ID]; !ok {
		return repository.ErrNotFound
	}
	r.store.negotiations[negotiation.ID] = cloneNegotiation(negotiation)
	return nil
}

func (r *negotiationRepository) Delete(ctx context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := r.store.negotiations[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.store.negotiations, id)
	return nil
}

func (r *negotiationRepository) List(ctx context.Context, filter repository.NegotiationFilter) ([]*models.Negotiation, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var result []*models.Negotiation
	for _, negotiation := range r.store.negotiations {
		if filter.Status != "" && negotiation.Status != filter.Status {
			continue
		}
		if filter.ActiveOnly && !negotiation.IsActive() {
			continue
		}
		if filter.PartyID != "" && !negotiation.IsParty(filter.PartyID) {
			continue
		}
		result = append(result, cloneNegotiation(negotiation))
	}

	sortByCreation(result,
		func(n *models.Negotiation) int64 { return n.StartTime.UnixNano() },
		func(n *models.Negotiation) string { return n.ID })
	return applyWindow(result, filter.Limit, filter.Offset), nil
}
