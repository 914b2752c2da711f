package task

import "context"

type ListFilter struct {
	RequestID  string
	ResourceID string
	Statuses   []Status
	Limit      int
	Offset     int
}

type Repository interface {
	Create(ctx context.Context, t *Task) error
	Get(ctx context.Context, id string) (*Task, error)
	List(ctx context.Context, f ListFilter) ([]*Task, int, error)
	Update(ctx context.Context, t *Task) error
	Delete(ctx context.Context, id string) error
}
