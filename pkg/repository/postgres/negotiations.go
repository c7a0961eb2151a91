package postgres

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/agent-mesh/agent-mesh/pkg/models"
	"github.com/agent-mesh/agent-mesh/pkg/repository"
)

type negotiationRepository struct {
	store *Store
}

func (r *negotiationRepository) Create(ctx context.Context, negotiation *models.Negotiation) error {
	ctx, span := r.store.tracer(ctx, "NegotiationRepository.Create")
	defer span.End()

	query := `
		INSERT INTO negotiations (
			id, initiator_id, participant_ids, subject, resources,
			status, start_time, end_time, current_round, max_rounds,
			timeout_ns, proposals, messages, state, conflict_resolution_strategy
		) VALUES (
			:id, :initiator_id, :participant_ids, :subject, :resources,
			:status, :start_time, :end_time, :current_round, :max_rounds,
			:timeout_ns, :proposals, :messages, :state, :conflict_resolution_strategy
		)
	`

	if _, err := r.store.writeDB.NamedExecContext(ctx, query, negotiation); err != nil {
		if translated := translateError(err); translated == repository.ErrAlreadyExists {
			return translated
		}
		r.store.logger.Error("Failed to create negotiation", map[string]interface{}{
			"error":          err.Error(),
			"negotiation_id": negotiation.ID,
		})
		return errors.Wrap(err, "failed to create negotiation")
	}
	return nil
}

func (r *negotiationRepository) Get(ctx context.Context, id string) (*models.Negotiation, error) {
	ctx, span := r.store.tracer(ctx, "NegotiationRepository.Get")
	defer span.End()

	query := `
		SELECT id, initiator_id, participant_ids, subject, resources,
		       status, start_time, end_time, current_round, max_rounds,
		       timeout_ns, proposals, messages, state, conflict_resolution_strategy
		FROM negotiations
		WHERE id = $1
	`

	var negotiation models.Negotiation
	if err := r.store.readDB.GetContext(ctx, &negotiation, query, id); err != nil {
		if translated := translateError(err); translated == repository.ErrNotFound {
			return nil, translated
		}
		return nil, errors.Wrap(err, "failed to get negotiation")
	}
	return &negotiation, nil
}

func (r *negotiationRepository) Update(ctx context.Context, negotiation *models.Negotiation) error {
	ctx, span := r.store.tracer(ctx, "NegotiationRepository.Update")
	defer span.End()

	query := `
		UPDATE negotiations SET
			status = :status,
			end_time = :end_time,
			current_round = :current_round,
			proposals = :proposals,
			messages = :messages,
			state = :state
		WHERE id = :id
	`

	result, err := r.store.writeDB.NamedExecContext(ctx, query, negotiation)
	if err != nil {
		r.store.logger.Error("Failed to update negotiation", map[string]interface{}{
			"error":          err.Error(),
			"negotiation_id": negotiation.ID,
		})
		return errors.Wrap(err, "failed to update negotiation")
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

func (r *negotiationRepository) Delete(ctx context.Context, id string) error {
	ctx, span := r.store.tracer(ctx, "NegotiationRepository.Delete")
	defer span.End()

	result, err := r.store.writeDB.ExecContext(ctx, `DELETE FROM negotiations WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "failed to delete negotiation")
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

func (r *negotiationRepository) List(ctx context.Context, filter repository.NegotiationFilter) ([]*models.Negotiation, error) {
	ctx, span := r.store.tracer(ctx, "NegotiationRepository.List")
	defer span.End()

	query := `
		SELECT id, initiator_id, participant_ids, subject, resources,
		       status, start_time, end_time, current_round, max_rounds,
		       timeout_ns, proposals, messages, state, conflict_resolution_strategy
		FROM negotiations
		WHERE 1 = 1
	`

	var args []interface{}
	argCount := 0

	if filter.Status != "" {
		argCount++
		query += fmt.Sprintf(" AND status = $%d", argCount)
		args = append(args, filter.Status)
	}
	if filter.ActiveOnly {
		query += ` AND status IN ('initiated', 'in_progress')`
	}
	if filter.PartyID != "" {
		argCount++
		query += fmt.Sprintf(" AND (initiator_id = $%d OR $%d = ANY(participant_ids))", argCount, argCount)
		args = append(args, filter.PartyID)
	}

	query += " ORDER BY start_time, id"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	var negotiations []*models.Negotiation
	if err := r.store.readDB.SelectContext(ctx, &negotiations, query, args...); err != nil {
		return nil, errors.Wrap(err, "failed to list negotiations")
	}
	return negotiations, nil
}
