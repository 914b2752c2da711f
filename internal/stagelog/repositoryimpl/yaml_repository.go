package repositoryimpl

import (
	"context"
	"sort"

	"github.com/OutllierRejects/reliefops/internal/stagelog"
	"github.com/OutllierRejects/reliefops/pkg/storage"
	"github.com/OutllierRejects/reliefops/pkg/yamlstore"
)

const stageLogsPrefix = "stage_logs"

type YAMLRepository struct {
	store *yamlstore.Store[stagelog.Entry, *stagelog.Entry]
}

func NewYAMLRepository(s storage.Storage) *YAMLRepository {
	return &YAMLRepository{
		store: yamlstore.New[stagelog.Entry](s, stageLogsPrefix, "stage log"),
	}
}

func (r *YAMLRepository) Create(ctx context.Context, e *stagelog.Entry) error {
	return r.store.Create(ctx, e)
}

// List returns the entries of requestID in the order they were written.
func (r *YAMLRepository) List(ctx context.Context, requestID string, limit, offset int) ([]*stagelog.Entry, int, error) {
	all, err := r.store.All(ctx)
	if err != nil {
		return nil, 0, err
	}
	filtered := all[:0]
	for _, e := range all {
		if requestID != "" && e.RequestID != requestID {
			continue
		}
		filtered = append(filtered, e)
	}
	// ULIDs sort by creation time.
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].ID < filtered[j].ID
	})
	page, total := yamlstore.Page(filtered, limit, offset)
	return page, total, nil
}
