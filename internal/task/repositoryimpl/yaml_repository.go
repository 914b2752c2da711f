package repositoryimpl

import (
	"context"
	"slices"
	"sort"

	"github.com/OutllierRejects/reliefops/internal/task"
	"github.com/OutllierRejects/reliefops/pkg/storage"
	"github.com/OutllierRejects/reliefops/pkg/yamlstore"
)

const tasksPrefix = "tasks"

type YAMLRepository struct {
	store *yamlstore.Store[task.Task, *task.Task]
}

func NewYAMLRepository(s storage.Storage) *YAMLRepository {
	return &YAMLRepository{
		store: yamlstore.New[task.Task](s, tasksPrefix, "task"),
	}
}

func (r *YAMLRepository) Create(ctx context.Context, t *task.Task) error {
	return r.store.Create(ctx, t)
}

func (r *YAMLRepository) Get(ctx context.Context, id string) (*task.Task, error) {
	return r.store.Get(ctx, id)
}

func (r *YAMLRepository) List(ctx context.Context, f task.ListFilter) ([]*task.Task, int, error) {
	all, err := r.store.All(ctx)
	if err != nil {
		return nil, 0, err
	}
	filtered := all[:0]
	for _, t := range all {
		if f.RequestID != "" && t.RequestID != f.RequestID {
			continue
		}
		if f.ResourceID != "" && t.ResourceID != f.ResourceID {
			continue
		}
		if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, t.Status) {
			continue
		}
		filtered = append(filtered, t)
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		if !filtered[i].CreatedAt.Equal(filtered[j].CreatedAt) {
			return filtered[i].CreatedAt.Before(filtered[j].CreatedAt)
		}
		return filtered[i].ID < filtered[j].ID
	})
	page, total := yamlstore.Page(filtered, f.Limit, f.Offset)
	return page, total, nil
}

func (r *YAMLRepository) Update(ctx context.Context, t *task.Task) error {
	return r.store.Update(ctx, t)
}

func (r *YAMLRepository) Delete(ctx context.Context, id string) error {
	return r.store.Delete(ctx, id)
}
