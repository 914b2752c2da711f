package resource

import "context"

type ListFilter struct {
	Kind       Kind
	Capability string
	Status     Status
	Limit      int
	Offset     int
}

type Repository interface {
	Create(ctx context.Context, r *Resource) error
	Get(ctx context.Context, id string) (*Resource, error)
	List(ctx context.Context, f ListFilter) ([]*Resource, int, error)
	Update(ctx context.Context, r *Resource) error
	Delete(ctx context.Context, id string) error
}
