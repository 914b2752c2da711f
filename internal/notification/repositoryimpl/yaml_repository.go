package repositoryimpl

import (
	"context"
	"slices"
	"sort"

	"github.com/OutllierRejects/reliefops/internal/notification"
	"github.com/OutllierRejects/reliefops/pkg/storage"
	"github.com/OutllierRejects/reliefops/pkg/yamlstore"
)

const notificationsPrefix = "notifications"

type YAMLRepository struct {
	store *yamlstore.Store[notification.Notification, *notification.Notification]
}

func NewYAMLRepository(s storage.Storage) *YAMLRepository {
	return &YAMLRepository{
		store: yamlstore.New[notification.Notification](s, notificationsPrefix, "notification"),
	}
}

func (r *YAMLRepository) Create(ctx context.Context, n *notification.Notification) error {
	return r.store.Create(ctx, n)
}

func (r *YAMLRepository) Get(ctx context.Context, id string) (*notification.Notification, error) {
	return r.store.Get(ctx, id)
}

func (r *YAMLRepository) List(ctx context.Context, f notification.ListFilter) ([]*notification.Notification, int, error) {
	all, err := r.store.All(ctx)
	if err != nil {
		return nil, 0, err
	}
	filtered := all[:0]
	for _, n := range all {
		if f.RequestID != "" && n.RequestID != f.RequestID {
			continue
		}
		if f.RecipientID != "" && n.RecipientID != f.RecipientID {
			continue
		}
		if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, n.Status) {
			continue
		}
		filtered = append(filtered, n)
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].CreatedAt.Before(filtered[j].CreatedAt)
	})
	page, total := yamlstore.Page(filtered, f.Limit, f.Offset)
	return page, total, nil
}

func (r *YAMLRepository) Update(ctx context.Context, n *notification.Notification) error {
	return r.store.Update(ctx, n)
}
