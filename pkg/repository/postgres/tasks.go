package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/agent-mesh/agent-mesh/pkg/models"
	"github.com/agent-mesh/agent-mesh/pkg/repository"
)

type taskRepository struct {
	store *Store
}

func (r *taskRepository) Create(ctx context.Context, task *models.Task) error {
	ctx, span := r.store.tracer(ctx, "TaskRepository.Create")
	defer span.End()

	tx, err := r.store.writeDB.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO tasks (
			id, name, description, required_capabilities,
			priority, complexity, min_team_size, max_team_size,
			status, assigned_team, created_at, updated_at
		) VALUES (
			:id, :name, :description, :required_capabilities,
			:priority, :complexity, :min_team_size, :max_team_size,
			:status, :assigned_team, :created_at, :updated_at
		)
	`

	if _, err := tx.NamedExecContext(ctx, query, task); err != nil {
		if translated := translateError(err); translated == repository.ErrAlreadyExists {
			return translated
		}
		r.store.logger.Error("Failed to create task", map[string]interface{}{
			"error":   err.Error(),
			"task_id": task.ID,
		})
		return errors.Wrap(err, "failed to create task")
	}

	if err := insertTaskRoles(ctx, tx, task.ID, task.RequiredRoles); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(), "failed to commit task create")
}

func insertTaskRoles(ctx context.Context, tx *sqlx.Tx, taskID string, roles []models.Role) error {
	query := `
		INSERT INTO task_roles (id, task_id, name, required_capabilities, priority, categories, position)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	for i := range roles {
		role := &roles[i]
		if _, err := tx.ExecContext(ctx, query,
			role.ID, taskID, role.Name, role.RequiredCapabilities, role.Priority, role.Categories, i,
		); err != nil {
			return errors.Wrapf(err, "failed to insert task role %s", role.Name)
		}
	}
	return nil
}

func (r *taskRepository) Get(ctx context.Context, id string) (*models.Task, error) {
	ctx, span := r.store.tracer(ctx, "TaskRepository.Get")
	defer span.End()

	query := `
		SELECT id, name, description, required_capabilities,
		       priority, complexity, min_team_size, max_team_size,
		       status, assigned_team, created_at, updated_at
		FROM tasks
		WHERE id = $1
	`

	var task models.Task
	if err := r.store.readDB.GetContext(ctx, &task, query, id); err != nil {
		if translated := translateError(err); translated == repository.ErrNotFound {
			return nil, translated
		}
		return nil, errors.Wrap(err, "failed to get task")
	}

	rolesQuery := `
		SELECT id, name, required_capabilities, priority, categories
		FROM task_roles
		WHERE task_id = $1
		ORDER BY position
	`
	if err := r.store.readDB.SelectContext(ctx, &task.RequiredRoles, rolesQuery, id); err != nil {
		return nil, errors.Wrap(err, "failed to load task roles")
	}
	return &task, nil
}

func (r *taskRepository) Update(ctx context.Context, task *models.Task) error {
	ctx, span := r.store.tracer(ctx, "TaskRepository.Update")
	defer span.End()

	tx, err := r.store.writeDB.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		UPDATE tasks SET
			name = :name,
			description = :description,
			required_capabilities = :required_capabilities,
			priority = :priority,
			complexity = :complexity,
			min_team_size = :min_team_size,
			max_team_size = :max_team_size,
			status = :status,
			assigned_team = :assigned_team,
			updated_at = :updated_at
		WHERE id = :id
	`

	result, err := tx.NamedExecContext(ctx, query, task)
	if err != nil {
		return errors.Wrap(err, "failed to update task")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check rows affected")
	}
	if affected == 0 {
		return repository.ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM task_roles WHERE task_id = $1`, task.ID); err != nil {
		return errors.Wrap(err, "failed to clear task roles")
	}
	if err := insertTaskRoles(ctx, tx, task.ID, task.RequiredRoles); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(), "failed to commit task update")
}

func (r *taskRepository) Delete(ctx context.Context, id string) error {
	ctx, span := r.store.tracer(ctx, "TaskRepository.Delete")
	defer span.End()

	result, err := r.store.writeDB.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "failed to delete task")
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

func (r *taskRepository) List(ctx context.Context, filter repository.TaskFilter) ([]*models.Task, error) {
	ctx, span := r.store.tracer(ctx, "TaskRepository.List")
	defer span.End()

	query := `
		SELECT id, name, description, required_capabilities,
		       priority, complexity, min_team_size, max_team_size,
		       status, assigned_team, created_at, updated_at
		FROM tasks
		WHERE 1 = 1
	`

	var args []interface{}
	argCount := 0

	if filter.Status != "" {
		argCount++
		query += fmt.Sprintf(" AND status = $%d", argCount)
		args = append(args, filter.Status)
	}

	query += " ORDER BY created_at, id"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	var tasks []*models.Task
	if err := r.store.readDB.SelectContext(ctx, &tasks, query, args...); err != nil {
		return nil, errors.Wrap(err, "failed to list tasks")
	}
	return tasks, nil
}
