package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/agent-mesh/agent-mesh/pkg/models"
	"github.com/agent-mesh/agent-mesh/pkg/repository"
)

type teamRepository struct {
	store *Store
}

func (r *teamRepository) Create(ctx context.Context, team *models.Team) error {
	ctx, span := r.store.tracer(ctx, "TeamRepository.Create")
	defer span.End()

	tx, err := r.store.writeDB.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO teams (
			id, name, task_id, agents, leader, capabilities,
			status, formation_strategy, performance_metrics,
			created_at, updated_at, version
		) VALUES (
			:id, :name, :task_id, :agents, :leader, :capabilities,
			:status, :formation_strategy, :performance_metrics,
			:created_at, :updated_at, :version
		)
	`

	if _, err := tx.NamedExecContext(ctx, query, team); err != nil {
		if translated := translateError(err); translated == repository.ErrAlreadyExists {
			return translated
		}
		r.store.logger.Error("Failed to create team", map[string]interface{}{
			"error":   err.Error(),
			"team_id": team.ID,
		})
		return errors.Wrap(err, "failed to create team")
	}

	if err := insertTeamRoles(ctx, tx, team.ID, team.Roles); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(), "failed to commit team create")
}

func insertTeamRoles(ctx context.Context, tx *sqlx.Tx, teamID string, roles []models.Role) error {
	query := `
		INSERT INTO team_roles (
			id, team_id, name, required_capabilities, priority,
			categories, filled, assigned_agent, position
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	for i := range roles {
		role := &roles[i]
		if _, err := tx.ExecContext(ctx, query,
			role.ID, teamID, role.Name, role.RequiredCapabilities, role.Priority,
			role.Categories, role.Filled, role.AssignedAgent, i,
		); err != nil {
			return errors.Wrapf(err, "failed to insert team role %s", role.Name)
		}
	}
	return nil
}

func (r *teamRepository) Get(ctx context.Context, id string) (*models.Team, error) {
	ctx, span := r.store.tracer(ctx, "TeamRepository.Get")
	defer span.End()

	query := `
		SELECT id, name, task_id, agents, leader, capabilities,
		       status, formation_strategy, performance_metrics,
		       created_at, updated_at, version
		FROM teams
		WHERE id = $1
	`

	var team models.Team
	if err := r.store.readDB.GetContext(ctx, &team, query, id); err != nil {
		if translated := translateError(err); translated == repository.ErrNotFound {
			return nil, translated
		}
		return nil, errors.Wrap(err, "failed to get team")
	}

	rolesQuery := `
		SELECT id, team_id, name, required_capabilities, priority,
		       categories, filled, assigned_agent
		FROM team_roles
		WHERE team_id = $1
		ORDER BY position
	`
	if err := r.store.readDB.SelectContext(ctx, &team.Roles, rolesQuery, id); err != nil {
		return nil, errors.Wrap(err, "failed to load team roles")
	}
	return &team, nil
}

// Update rewrites the team and its roles behind a version predicate. The
// caller's Version is bumped on success; a stale version reports
// repository.ErrOptimisticLock.
func (r *teamRepository) Update(ctx context.Context, team *models.Team) error {
	ctx, span := r.store.tracer(ctx, "TeamRepository.Update")
	defer span.End()

	tx, err := r.store.writeDB.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		UPDATE teams SET
			name = :name,
			task_id = :task_id,
			agents = :agents,
			leader = :leader,
			capabilities = :capabilities,
			status = :status,
			formation_strategy = :formation_strategy,
			performance_metrics = :performance_metrics,
			updated_at = :updated_at,
			version = version + 1
		WHERE id = :id AND version = :version
	`

	result, err := tx.NamedExecContext(ctx, query, team)
	if err != nil {
		r.store.logger.Error("Failed to update team", map[string]interface{}{
			"error":   err.Error(),
			"team_id": team.ID,
		})
		return errors.Wrap(err, "failed to update team")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check rows affected")
	}
	if affected == 0 {
		return repository.ErrOptimisticLock
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM team_roles WHERE team_id = $1`, team.ID); err != nil {
		return errors.Wrap(err, "failed to clear team roles")
	}
	if err := insertTeamRoles(ctx, tx, team.ID, team.Roles); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit team update")
	}

	team.Version++
	return nil
}

func (r *teamRepository) Delete(ctx context.Context, id string) error {
	ctx, span := r.store.tracer(ctx, "TeamRepository.Delete")
	defer span.End()

	result, err := r.store.writeDB.ExecContext(ctx, `DELETE FROM teams WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "failed to delete team")
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

func (r *teamRepository) List(ctx context.Context, filter repository.TeamFilter) ([]*models.Team, error) {
	ctx, span := r.store.tracer(ctx, "TeamRepository.List")
	defer span.End()

	query := `
		SELECT id, name, task_id, agents, leader, capabilities,
		       status, formation_strategy, performance_metrics,
		       created_at, updated_at, version
		FROM teams
		WHERE 1 = 1
	`

	var args []interface{}
	argCount := 0

	if filter.Status != "" {
		argCount++
		query += fmt.Sprintf(" AND status = $%d", argCount)
		args = append(args, filter.Status)
	}
	if filter.TaskID != "" {
		argCount++
		query += fmt.Sprintf(" AND task_id = $%d", argCount)
		args = append(args, filter.TaskID)
	}
	if filter.AgentID != "" {
		argCount++
		query += fmt.Sprintf(" AND $%d = ANY(agents)", argCount)
		args = append(args, filter.AgentID)
	}

	query += " ORDER BY created_at, id"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	var teams []*models.Team
	if err := r.store.readDB.SelectContext(ctx, &teams, query, args...); err != nil {
		return nil, errors.Wrap(err, "failed to list teams")
	}
	return teams, nil
}
