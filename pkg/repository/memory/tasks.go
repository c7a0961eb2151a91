package memory

import (
	"context"

	"github.com/agent-mesh/agent-mesh/pkg/models"
	"github.com/agent-mesh/agent-mesh/pkg/repository"
)

type taskRepository struct {
	store *Store
}

func (r *taskRepository) Create(ctx context.Context, task *models.Task) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, exists := r.store.tasks[task.ID]; exists {
		return repository.ErrAlreadyExists
	}
	r.store.tasks[task.ID] = cloneTask(task)
	return nil
}

func (r *taskRepository) Get(ctx context.Context, id string) (*models.Task, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	task, ok := r.store.tasks[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneTask(task), nil
}

func (r *taskRepository) Update(ctx context.Context, task *models.Task) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := r.store.tasks[task.ID]; !ok {
		return repository.ErrNotFound
	}
	r.store.tasks[task.ID] = cloneTask(task)
	return nil
}

func (r *taskRepository) Delete(ctx context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := r.store.tasks[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.store.tasks, id)
	return nil
}

func (r *taskRepository) List(ctx context.Context, filter repository.TaskFilter) ([]*models.Task, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var result []*models.Task
	for _, task := range r.store.tasks {
		if filter.Status != "" && task.Status != filter.Status {
			continue
		}
		result = append(result, cloneTask(task))
	}

	sortByCreation(result,
		func(t *models.Task) int64 { return t.CreatedAt.UnixNano() },
		func(t *models.Task) string { return t.ID })
	return applyWindow(result, filter.Limit, filter.Offset), nil
}
