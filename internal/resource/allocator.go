package resource

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/OutllierRejects/reliefops/internal/eventbus"
	"github.com/OutllierRejects/reliefops/pkg/cerr"
)

// Allocator is the only writer of ActiveTasks. Claims and releases on the
// same resource are serialized; the versioned update guards against writers
// outside this process.
type Allocator struct {
	repo     Repository
	locks    *mutexMap
	eventBus *eventbus.Bus
	now      func() time.Time
}

func NewAllocator(repo Repository, eventBus *eventbus.Bus) *Allocator {
	return &Allocator{repo: repo, locks: newMutexMap(), eventBus: eventBus, now: time.Now}
}

// Claim takes one unit of capacity on resource id. It fails with
// cerr.Aborted when the resource can no longer take a task, so callers can
// re-evaluate their candidates.
func (a *Allocator) Claim(ctx context.Context, id string) (*Resource, error) {
	a.locks.Lock(id)
	defer a.locks.Unlock(id)

	r, err := a.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !r.Assignable(a.now()) {
		return nil, cerr.NewError(cerr.Aborted, fmt.Sprintf("resource %s is no longer available", r.Name), nil)
	}
	r.ActiveTasks++
	r.UpdatedAt = a.now()
	if err := a.repo.Update(ctx, r); err != nil {
		return nil, err
	}
	a.publish(r)
	return r, nil
}

// Release returns one unit of capacity. Releasing an idle resource is a no-op.
func (a *Allocator) Release(ctx context.Context, id string) error {
	a.locks.Lock(id)
	defer a.locks.Unlock(id)

	r, err := a.repo.Get(ctx, id)
	if err != nil {
		if cerr.IsCode(err, cerr.NotFound) {
			slog.WarnContext(ctx, "allocator: releasing unknown resource", "resource_id", id)
			return nil
		}
		return err
	}
	if r.ActiveTasks == 0 {
		return nil
	}
	r.ActiveTasks--
	r.UpdatedAt = a.now()
	if err := a.repo.Update(ctx, r); err != nil {
		return err
	}
	a.publish(r)
	return nil
}

// Modify applies fn to the stored resource under the resource lock, so
// administrative edits do not race with claims.
func (a *Allocator) Modify(ctx context.Context, id string, fn func(r *Resource) error) (*Resource, error) {
	a.locks.Lock(id)
	defer a.locks.Unlock(id)

	r, err := a.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(r); err != nil {
		return nil, err
	}
	r.UpdatedAt = a.now()
	if err := a.repo.Update(ctx, r); err != nil {
		return nil, err
	}
	a.publish(r)
	return r, nil
}

// Delete removes resource id unless it still holds tasks. The check and the
// delete run under the resource lock so a concurrent Claim cannot slip in.
func (a *Allocator) Delete(ctx context.Context, id string) (*Resource, error) {
	a.locks.Lock(id)
	defer a.locks.Unlock(id)

	r, err := a.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.ActiveTasks > 0 {
		return nil, cerr.NewError(cerr.FailedPrecondition, "resource still has active tasks", nil)
	}
	if err := a.repo.Delete(ctx, id); err != nil {
		return nil, err
	}
	a.eventBus.PublishNew(eventbus.ResourceChanged, r.ID, r.Name, map[string]string{"deleted": "true"})
	return r, nil
}

func (a *Allocator) publish(r *Resource) {
	a.eventBus.PublishNew(eventbus.ResourceChanged, r.ID, r.Name, map[string]string{
		"status":       string(r.Status),
		"active_tasks": strconv.Itoa(r.ActiveTasks),
		"capacity":     strconv.Itoa(r.Capacity()),
	})
}
