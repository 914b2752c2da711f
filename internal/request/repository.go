package request

import (
	"context"

	"github.com/OutllierRejects/reliefops/internal/triage"
)

type ListFilter struct {
	Statuses  []Status
	Priority  triage.Level
	CreatorID string
	Limit     int
	Offset    int
}

// Repository persists requests. Update is atomic per record and fails with
// cerr.Aborted when the caller's Version is stale.
type Repository interface {
	Create(ctx context.Context, r *Request) error
	Get(ctx context.Context, id string) (*Request, error)
	// List returns requests in scheduling order (see Before).
	List(ctx context.Context, f ListFilter) ([]*Request, int, error)
	Update(ctx context.Context, r *Request) error
}
