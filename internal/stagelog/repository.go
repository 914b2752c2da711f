package stagelog

import "context"

type Repository interface {
	Create(ctx context.Context, e *Entry) error
	List(ctx context.Context, requestID string, limit, offset int) ([]*Entry, int, error)
}
