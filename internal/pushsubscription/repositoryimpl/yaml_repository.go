package repositoryimpl

import (
	"context"
	"sort"

	"github.com/OutllierRejects/reliefops/internal/pushsubscription"
	"github.com/OutllierRejects/reliefops/pkg/cerr"
	"github.com/OutllierRejects/reliefops/pkg/storage"
	"github.com/OutllierRejects/reliefops/pkg/yamlstore"
)

const pushSubscriptionsPrefix = "push_subscriptions"

type YAMLRepository struct {
	store *yamlstore.Store[pushsubscription.Subscription, *pushsubscription.Subscription]
}

func NewYAMLRepository(s storage.Storage) *YAMLRepository {
	return &YAMLRepository{
		store: yamlstore.New[pushsubscription.Subscription](s, pushSubscriptionsPrefix, "push subscription"),
	}
}

func (r *YAMLRepository) Create(ctx context.Context, s *pushsubscription.Subscription) error {
	return r.store.Create(ctx, s)
}

func (r *YAMLRepository) Get(ctx context.Context, id string) (*pushsubscription.Subscription, error) {
	return r.store.Get(ctx, id)
}

// List returns matching subscriptions oldest first. An empty filter matches
// every subscription.
func (r *YAMLRepository) List(ctx context.Context, f pushsubscription.ListFilter) ([]*pushsubscription.Subscription, error) {
	all, err := r.store.All(ctx)
	if err != nil {
		return nil, err
	}
	filtered := all[:0]
	for _, s := range all {
		if f.RecipientID != "" && s.RecipientID != f.RecipientID {
			continue
		}
		if f.Operators && !s.Operator {
			continue
		}
		filtered = append(filtered, s)
	}
	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].ID < filtered[j].ID
	})
	return filtered, nil
}

func (r *YAMLRepository) Delete(ctx context.Context, id string) error {
	return r.store.Delete(ctx, id)
}

func (r *YAMLRepository) FindByEndpoint(ctx context.Context, endpoint string) (*pushsubscription.Subscription, error) {
	all, err := r.store.All(ctx)
	if err != nil {
		return nil, err
	}
	for _, s := range all {
		if s.Endpoint == endpoint {
			return s, nil
		}
	}
	return nil, cerr.NewError(cerr.NotFound, "push subscription not found", nil)
}

func (r *YAMLRepository) DeleteByEndpoint(ctx context.Context, endpoint string) error {
	s, err := r.FindByEndpoint(ctx, endpoint)
	if err != nil {
		return err
	}
	return r.Delete(ctx, s.ID)
}
