package repositoryimpl

import (
	"context"
	"sort"

	"github.com/OutllierRejects/reliefops/internal/resource"
	"github.com/OutllierRejects/reliefops/internal/triage"
	"github.com/OutllierRejects/reliefops/pkg/storage"
	"github.com/OutllierRejects/reliefops/pkg/yamlstore"
)

const resourcesPrefix = "resources"

type YAMLRepository struct {
	store *yamlstore.Store[resource.Resource, *resource.Resource]
}

func NewYAMLRepository(s storage.Storage) *YAMLRepository {
	return &YAMLRepository{
		store: yamlstore.New[resource.Resource](s, resourcesPrefix, "resource"),
	}
}

func (r *YAMLRepository) Create(ctx context.Context, res *resource.Resource) error {
	return r.store.Create(ctx, res)
}

func (r *YAMLRepository) Get(ctx context.Context, id string) (*resource.Resource, error) {
	return r.store.Get(ctx, id)
}

func (r *YAMLRepository) List(ctx context.Context, f resource.ListFilter) ([]*resource.Resource, int, error) {
	all, err := r.store.All(ctx)
	if err != nil {
		return nil, 0, err
	}
	filtered := all[:0]
	for _, res := range all {
		if f.Kind != "" && res.Kind != f.Kind {
			continue
		}
		if f.Status != "" && res.Status != f.Status {
			continue
		}
		if f.Capability != "" && !res.Serves(triage.Category(f.Capability)) {
			continue
		}
		filtered = append(filtered, res)
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].ID < filtered[j].ID
	})
	page, total := yamlstore.Page(filtered, f.Limit, f.Offset)
	return page, total, nil
}

func (r *YAMLRepository) Update(ctx context.Context, res *resource.Resource) error {
	return r.store.Update(ctx, res)
}

func (r *YAMLRepository) Delete(ctx context.Context, id string) error {
	return r.store.Delete(ctx, id)
}
