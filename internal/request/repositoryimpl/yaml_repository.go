package repositoryimpl

import (
	"context"
	"slices"
	"sort"

	"github.com/OutllierRejects/reliefops/internal/request"
	"github.com/OutllierRejects/reliefops/pkg/storage"
	"github.com/OutllierRejects/reliefops/pkg/yamlstore"
)

const requestsPrefix = "requests"

type YAMLRepository struct {
	store *yamlstore.Store[request.Request, *request.Request]
}

func NewYAMLRepository(s storage.Storage) *YAMLRepository {
	return &YAMLRepository{
		store: yamlstore.New[request.Request](s, requestsPrefix, "request"),
	}
}

func (r *YAMLRepository) Create(ctx context.Context, req *request.Request) error {
	return r.store.Create(ctx, req)
}

func (r *YAMLRepository) Get(ctx context.Context, id string) (*request.Request, error) {
	return r.store.Get(ctx, id)
}

func (r *YAMLRepository) List(ctx context.Context, f request.ListFilter) ([]*request.Request, int, error) {
	all, err := r.store.All(ctx)
	if err != nil {
		return nil, 0, err
	}
	filtered := all[:0]
	for _, req := range all {
		if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, req.Status) {
			continue
		}
		if f.Priority != "" && (req.Priority == nil || req.Priority.Priority != f.Priority) {
			continue
		}
		if f.CreatorID != "" && req.CreatorID != f.CreatorID {
			continue
		}
		filtered = append(filtered, req)
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return request.Before(filtered[i], filtered[j])
	})
	page, total := yamlstore.Page(filtered, f.Limit, f.Offset)
	return page, total, nil
}

func (r *YAMLRepository) Update(ctx context.Context, req *request.Request) error {
	return r.store.Update(ctx, req)
}
