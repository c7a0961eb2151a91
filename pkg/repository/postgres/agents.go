package postgres

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/agent-mesh/agent-mesh/pkg/models"
	"github.com/agent-mesh/agent-mesh/pkg/repository"
)

type agentRepository struct {
	store *Store
}

func (r *agentRepository) Create(ctx context.Context, agent *models.Agent) error {
	ctx, span := r.store.tracer(ctx, "AgentRepository.Create")
	defer span.End()

	query := `
		INSERT INTO agents (
			id, name, specialization, capabilities,
			performance_rating, collaboration_score, cost_per_token,
			available, metadata, created_at, updated_at
		) VALUES (
			:id, :name, :specialization, :capabilities,
			:performance_rating, :collaboration_score, :cost_per_token,
			:available, :metadata, :created_at, :updated_at
		)
	`

	_, err := r.store.writeDB.NamedExecContext(ctx, query, agent)
	if err != nil {
		if translated := translateError(err); translated == repository.ErrAlreadyExists {
			return translated
		}
		r.store.logger.Error("Failed to create agent", map[string]interface{}{
			"error":    err.Error(),
			"agent_id": agent.ID,
		})
		return errors.Wrap(err, "failed to create agent")
	}
	return nil
}

func (r *agentRepository) Get(ctx context.Context, id string) (*models.Agent, error) {
	ctx, span := r.store.tracer(ctx, "AgentRepository.Get")
	defer span.End()

	query := `
		SELECT id, name, specialization, capabilities,
		       performance_rating, collaboration_score, cost_per_token,
		       available, metadata, created_at, updated_at
		FROM agents
		WHERE id = $1
	`

	var agent models.Agent
	if err := r.store.readDB.GetContext(ctx, &agent, query, id); err != nil {
		if translated := translateError(err); translated == repository.ErrNotFound {
			return nil, translated
		}
		return nil, errors.Wrap(err, "failed to get agent")
	}
	return &agent, nil
}

func (r *agentRepository) Update(ctx context.Context, agent *models.Agent) error {
	ctx, span := r.store.tracer(ctx, "AgentRepository.Update")
	defer span.End()

	query := `
		UPDATE agents SET
			name = :name,
			specialization = :specialization,
			capabilities = :capabilities,
			performance_rating = :performance_rating,
			collaboration_score = :collaboration_score,
			cost_per_token = :cost_per_token,
			available = :available,
			metadata = :metadata,
			updated_at = :updated_at
		WHERE id = :id
	`

	result, err := r.store.writeDB.NamedExecContext(ctx, query, agent)
	if err != nil {
		r.store.logger.Error("Failed to update agent", map[string]interface{}{
			"error":    err.Error(),
			"agent_id": agent.ID,
		})
		return errors.Wrap(err, "failed to update agent")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check rows affected")
	}
	if affected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *agentRepository) Delete(ctx context.Context, id string) error {
	ctx, span := r.store.tracer(ctx, "AgentRepository.Delete")
	defer span.End()

	result, err := r.store.writeDB.ExecContext(ctx, `DELETE FROM agents WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "failed to delete agent")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check rows affected")
	}
	if affected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *agentRepository) List(ctx context.Context, filter repository.AgentFilter) ([]*models.Agent, error) {
	ctx, span := r.store.tracer(ctx, "AgentRepository.List")
	defer span.End()

	query := `
		SELECT id, name, specialization, capabilities,
		       performance_rating, collaboration_score, cost_per_token,
		       available, metadata, created_at, updated_at
		FROM agents
		WHERE 1 = 1
	`

	var args []interface{}
	argCount := 0

	if filter.Available != nil {
		argCount++
		query += fmt.Sprintf(" AND available = $%d", argCount)
		args = append(args, *filter.Available)
	}
	if filter.Specialization != "" {
		argCount++
		query += fmt.Sprintf(" AND specialization = $%d", argCount)
		args = append(args, filter.Specialization)
	}
	if filter.Capability != "" {
		argCount++
		query += fmt.Sprintf(" AND $%d = ANY(capabilities)", argCount)
		args = append(args, filter.Capability)
	}

	query += " ORDER BY created_at, id"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	var agents []*models.Agent
	if err := r.store.readDB.SelectContext(ctx, &agents, query, args...); err != nil {
		return nil, errors.Wrap(err, "failed to list agents")
	}
	return agents, nil
}

type capabilityRepository struct {
	store *Store
}

func (r *capabilityRepository) Create(ctx context.Context, capability *models.Capability) error {
	ctx, span := r.store.tracer(ctx, "CapabilityRepository.Create")
	defer span.End()

	query := `
		INSERT INTO capabilities (id, name, category, complexity_level, is_core, created_at)
		VALUES (:id, :name, :category, :complexity_level, :is_core, :created_at)
	`

	_, err := r.store.writeDB.NamedExecContext(ctx, query, capability)
	if err != nil {
		if translated := translateError(err); translated == repository.ErrAlreadyExists {
			return translated
		}
		return errors.Wrap(err, "failed to create capability")
	}
	return nil
}

func (r *capabilityRepository) Get(ctx context.Context, id string) (*models.Capability, error) {
	ctx, span := r.store.tracer(ctx, "CapabilityRepository.Get")
	defer span.End()

	query := `
		SELECT id, name, category, complexity_level, is_core, created_at
		FROM capabilities
		WHERE id = $1
	`

	var capability models.Capability
	if err := r.store.readDB.GetContext(ctx, &capability, query, id); err != nil {
		if translated := translateError(err); translated == repository.ErrNotFound {
			return nil, translated
		}
		return nil, errors.Wrap(err, "failed to get capability")
	}
	return &capability, nil
}

func (r *capabilityRepository) List(ctx context.Context) ([]*models.Capability, error) {
	ctx, span := r.store.tracer(ctx, "CapabilityRepository.List")
	defer span.End()

	query := `
		SELECT id, name, category, complexity_level, is_core, created_at
		FROM capabilities
		ORDER BY created_at, id
	`

	var capabilities []*models.Capability
	if err := r.store.readDB.SelectContext(ctx, &capabilities, query); err != nil {
		return nil, errors.Wrap(err, "failed to list capabilities")
	}
	return capabilities, nil
}
