package notification

import "context"

type ListFilter struct {
	RequestID   string
	RecipientID string
	Statuses    []Status
	Limit       int
	Offset      int
}

type Repository interface {
	Create(ctx context.Context, n *Notification) error
	Get(ctx context.Context, id string) (*Notification, error)
	List(ctx context.Context, f ListFilter) ([]*Notification, int, error)
	Update(ctx context.Context, n *Notification) error
}
