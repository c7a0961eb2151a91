package postgres

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/agent-mesh/agent-mesh/pkg/models"
	"github.com/agent-mesh/agent-mesh/pkg/repository"
)

type contextRepository struct {
	store *Store
}

func (r *contextRepository) Create(ctx context.Context, sc *models.SharedContext) error {
	ctx, span := r.store.tracer(ctx, "ContextRepository.Create")
	defer span.End()

	query := `
		INSERT INTO contexts (
			id, name, context_type, owner_id, current_version_id,
			content, is_compressed, subscribers, metadata,
			created_at, updated_at, version
		) VALUES (
			:id, :name, :context_type, :owner_id, :current_version_id,
			:content, :is_compressed, :subscribers, :metadata,
			:created_at, :updated_at, :version
		)
	`

	if _, err := r.store.writeDB.NamedExecContext(ctx, query, sc); err != nil {
		if translated := translateError(err); translated == repository.ErrAlreadyExists {
			return translated
		}
		r.store.logger.Error("Failed to create context", map[string]interface{}{
			"error":      err.Error(),
			"context_id": sc.ID,
		})
		return errors.Wrap(err, "failed to create context")
	}
	return nil
}

func (r *contextRepository) Get(ctx context.Context, id string) (*models.SharedContext, error) {
	ctx, span := r.store.tracer(ctx, "ContextRepository.Get")
	defer span.End()

	query := `
		SELECT id, name, context_type, owner_id, current_version_id,
		       content, is_compressed, subscribers, metadata,
		       created_at, updated_at, version
		FROM contexts
		WHERE id = $1
	`

	var sc models.SharedContext
	if err := r.store.readDB.GetContext(ctx, &sc, query, id); err != nil {
		if translated := translateError(err); translated == repository.ErrNotFound {
			return nil, translated
		}
		return nil, errors.Wrap(err, "failed to get context")
	}

	access, err := r.listAccess(ctx, id)
	if err != nil {
		return nil, err
	}
	sc.AccessControl = access
	return &sc, nil
}

// Update rewrites the context row behind a version predicate. The caller's
// Version is bumped on success; a stale version reports
// repository.ErrOptimisticLock.
func (r *contextRepository) Update(ctx context.Context, sc *models.SharedContext) error {
	ctx, span := r.store.tracer(ctx, "ContextRepository.Update")
	defer span.End()

	query := `
		UPDATE contexts SET
			name = :name,
			context_type = :context_type,
			owner_id = :owner_id,
			current_version_id = :current_version_id,
			content = :content,
			is_compressed = :is_compressed,
			subscribers = :subscribers,
			metadata = :metadata,
			updated_at = :updated_at,
			version = version + 1
		WHERE id = :id AND version = :version
	`

	result, err := r.store.writeDB.NamedExecContext(ctx, query, sc)
	if err != nil {
		r.store.logger.Error("Failed to update context", map[string]interface{}{
			"error":      err.Error(),
			"context_id": sc.ID,
		})
		return errors.Wrap(err, "failed to update context")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check rows affected")
	}
	if affected == 0 {
		return repository.ErrOptimisticLock
	}

	sc.Version++
	return nil
}

// Delete removes the context; access and version rows cascade
func (r *contextRepository) Delete(ctx context.Context, id string) error {
	ctx, span := r.store.tracer(ctx, "ContextRepository.Delete")
	defer span.End()

	result, err := r.store.writeDB.ExecContext(ctx, `DELETE FROM contexts WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "failed to delete context")
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

func (r *contextRepository) List(ctx context.Context, filter repository.ContextFilter) ([]*models.SharedContext, error) {
	ctx, span := r.store.tracer(ctx, "ContextRepository.List")
	defer span.End()

	query := `
		SELECT id, name, context_type, owner_id, current_version_id,
		       content, is_compressed, subscribers, metadata,
		       created_at, updated_at, version
		FROM contexts
		WHERE 1 = 1
	`

	var args []interface{}
	argCount := 0

	if filter.OwnerID != "" {
		argCount++
		query += fmt.Sprintf(" AND owner_id = $%d", argCount)
		args = append(args, filter.OwnerID)
	}
	if filter.ContextType != "" {
		argCount++
		query += fmt.Sprintf(" AND context_type = $%d", argCount)
		args = append(args, filter.ContextType)
	}
	if filter.NameQuery != "" {
		argCount++
		query += fmt.Sprintf(" AND name ILIKE '%%' || $%d || '%%'", argCount)
		args = append(args, filter.NameQuery)
	}

	query += " ORDER BY created_at, id"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	var contexts []*models.SharedContext
	if err := r.store.readDB.SelectContext(ctx, &contexts, query, args...); err != nil {
		return nil, errors.Wrap(err, "failed to list contexts")
	}
	return contexts, nil
}

func (r *contextRepository) UpsertAccess(ctx context.Context, access *models.ContextAccess) error {
	ctx, span := r.store.tracer(ctx, "ContextRepository.UpsertAccess")
	defer span.End()

	query := `
		INSERT INTO context_access (context_id, agent_id, level, granted_at, granted_by, expires_at)
		VALUES (:context_id, :agent_id, :level, :granted_at, :granted_by, :expires_at)
		ON CONFLICT (context_id, agent_id) DO UPDATE SET
			level = EXCLUDED.level,
			granted_at = EXCLUDED.granted_at,
			granted_by = EXCLUDED.granted_by,
			expires_at = EXCLUDED.expires_at
	`

	if _, err := r.store.writeDB.NamedExecContext(ctx, query, access); err != nil {
		return errors.Wrap(err, "failed to upsert context access")
	}
	return nil
}

func (r *contextRepository) DeleteAccess(ctx context.Context, contextID, agentID string) error {
	ctx, span := r.store.tracer(ctx, "ContextRepository.DeleteAccess")
	defer span.End()

	result, err := r.store.writeDB.ExecContext(ctx,
		`DELETE FROM context_access WHERE context_id = $1 AND agent_id = $2`, contextID, agentID)
	if err != nil {
		return errors.Wrap(err, "failed to delete context access")
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

func (r *contextRepository) ListAccess(ctx context.Context, contextID string) ([]models.ContextAccess, error) {
	ctx, span := r.store.tracer(ctx, "ContextRepository.ListAccess")
	defer span.End()

	return r.listAccess(ctx, contextID)
}

func (r *contextRepository) listAccess(ctx context.Context, contextID string) ([]models.ContextAccess, error) {
	query := `
		SELECT context_id, agent_id, level, granted_at, granted_by, expires_at
		FROM context_access
		WHERE context_id = $1
		ORDER BY agent_id
	`

	var access []models.ContextAccess
	if err := r.store.readDB.SelectContext(ctx, &access, query, contextID); err != nil {
		return nil, errors.Wrap(err, "failed to list context access")
	}
	return access, nil
}

func (r *contextRepository) CreateVersion(ctx context.Context, version *models.ContextVersion) error {
	ctx, span := r.store.tracer(ctx, "ContextRepository.CreateVersion")
	defer span.End()

	query := `
		INSERT INTO context_versions (
			id, context_id, parent_version_id, timestamp,
			agent_id, changes, metadata, content_hash
		) VALUES (
			:id, :context_id, :parent_version_id, :timestamp,
			:agent_id, :changes, :metadata, :content_hash
		)
	`

	if _, err := r.store.writeDB.NamedExecContext(ctx, query, version); err != nil {
		if translated := translateError(err); translated == repository.ErrAlreadyExists {
			return translated
		}
		return errors.Wrap(err, "failed to create context version")
	}
	return nil
}

func (r *contextRepository) GetVersion(ctx context.Context, versionID string) (*models.ContextVersion, error) {
	ctx, span := r.store.tracer(ctx, "ContextRepository.GetVersion")
	defer span.End()

	query := `
		SELECT id, context_id, parent_version_id, timestamp,
		       agent_id, changes, metadata, content_hash
		FROM context_versions
		WHERE id = $1
	`

	var version models.ContextVersion
	if err := r.store.readDB.GetContext(ctx, &version, query, versionID); err != nil {
		if translated := translateError(err); translated == repository.ErrNotFound {
			return nil, translated
		}
		return nil, errors.Wrap(err, "failed to get context version")
	}
	return &version, nil
}

// ListVersions returns a context's versions in creation order
func (r *contextRepository) ListVersions(ctx context.Context, contextID string) ([]*models.ContextVersion, error) {
	ctx, span := r.store.tracer(ctx, "ContextRepository.ListVersions")
	defer span.End()

	query := `
		SELECT id, context_id, parent_version_id, timestamp,
		       agent_id, changes, metadata, content_hash
		FROM context_versions
		WHERE context_id = $1
		ORDER BY seq
	`

	var versions []*models.ContextVersion
	if err := r.store.readDB.SelectContext(ctx, &versions, query, contextID); err != nil {
		return nil, errors.Wrap(err, "failed to list context versions")
	}
	return versions, nil
}

func (r *contextRepository) CountVersions(ctx context.Context, contextID string) (int, error) {
	ctx, span := r.store.tracer(ctx, "ContextRepository.CountVersions")
	defer span.End()

	var count int
	err := r.store.readDB.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM context_versions WHERE context_id = $1`, contextID)
	if err != nil {
		return 0, errors.Wrap(err, "failed to count context versions")
	}
	return count, nil
}
