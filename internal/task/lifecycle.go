package task

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/OutllierRejects/reliefops/internal/eventbus"
	"github.com/OutllierRejects/reliefops/internal/request"
	"github.com/OutllierRejects/reliefops/internal/resource"
	"github.com/OutllierRejects/reliefops/pkg/cerr"
)

// Lifecycle applies task status changes and their side effects on the
// parent request and the claimed resource.
type Lifecycle struct {
	repo      Repository
	requests  request.Repository
	allocator *resource.Allocator
	eventBus  *eventbus.Bus
	now       func() time.Time
}

var _ request.TaskCanceller = (*Lifecycle)(nil)

func NewLifecycle(repo Repository, requests request.Repository, allocator *resource.Allocator, eventBus *eventbus.Bus) *Lifecycle {
	return &Lifecycle{
		repo:      repo,
		requests:  requests,
		allocator: allocator,
		eventBus:  eventBus,
		now:       time.Now,
	}
}

// UpdateStatus moves task id to status. Finishing a task frees its resource;
// the first task started moves the request to in_progress and the last one
// completed moves it to completed.
func (l *Lifecycle) UpdateStatus(ctx context.Context, id string, status Status) (*Task, error) {
	t, err := l.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(t.Status, status) {
		return nil, cerr.NewError(cerr.FailedPrecondition,
			fmt.Sprintf("task cannot move from %s to %s", t.Status, status), nil)
	}
	now := l.now()
	t.Status = status
	t.UpdatedAt = now
	if status.Terminal() {
		t.CompletedAt = &now
	}
	if err := l.repo.Update(ctx, t); err != nil {
		return nil, err
	}
	if status.Terminal() {
		if err := l.allocator.Release(ctx, t.ResourceID); err != nil {
			slog.ErrorContext(ctx, "task: failed to release resource",
				"task_id", t.ID, "resource_id", t.ResourceID, "error", err)
		}
	}
	l.publish(t)

	if err := l.syncRequest(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (l *Lifecycle) syncRequest(ctx context.Context, t *Task) error {
	var target request.Status
	switch t.Status {
	case StatusInProgress:
		target = request.StatusInProgress
	case StatusCompleted, StatusCancelled:
		siblings, _, err := l.repo.List(ctx, ListFilter{RequestID: t.RequestID})
		if err != nil {
			return err
		}
		completed := 0
		for _, s := range siblings {
			if !s.Status.Terminal() {
				return nil
			}
			if s.Status == StatusCompleted {
				completed++
			}
		}
		if completed == 0 {
			return nil
		}
		target = request.StatusCompleted
	default:
		return nil
	}

	for range 3 {
		req, err := l.requests.Get(ctx, t.RequestID)
		if err != nil {
			return err
		}
		if req.Status == target || !request.CanTransition(req.Status, target) {
			return nil
		}
		_ = req.Transition(target)
		err = l.requests.Update(ctx, req)
		if cerr.IsCode(err, cerr.Aborted) {
			continue
		}
		if err != nil {
			return err
		}
		l.eventBus.PublishNew(eventbus.RequestStatusChanged, req.ID, string(req.Status), map[string]string{
			"status": string(req.Status),
		})
		return nil
	}
	return cerr.NewError(cerr.Aborted, "request was modified concurrently", nil)
}

// Cancel cancels t if it is still open and frees its resource. Deleting
// removes the record too; that is used when the owning request never
// completed assignment. It reports whether this call did the cancellation.
func (l *Lifecycle) Cancel(ctx context.Context, t *Task, deleteRecord bool) (bool, error) {
	if t.Status.Terminal() {
		return false, nil
	}
	now := l.now()
	t.Status = StatusCancelled
	t.UpdatedAt = now
	t.CompletedAt = &now
	if err := l.repo.Update(ctx, t); err != nil {
		// Someone else changed or removed the task; they own the release.
		if cerr.IsCode(err, cerr.Aborted) || cerr.IsCode(err, cerr.NotFound) {
			return false, nil
		}
		return false, err
	}
	if err := l.allocator.Release(ctx, t.ResourceID); err != nil {
		return true, err
	}
	if deleteRecord {
		if err := l.repo.Delete(ctx, t.ID); err != nil {
			return true, err
		}
	}
	l.publish(t)
	return true, nil
}

// CancelRequestTasks cancels every open task of a cancelled request. Tasks of
// a request that never finished assignment are deleted.
func (l *Lifecycle) CancelRequestTasks(ctx context.Context, requestID, reason string) error {
	req, err := l.requests.Get(ctx, requestID)
	if err != nil {
		return err
	}
	tasks, _, err := l.repo.List(ctx, ListFilter{RequestID: requestID})
	if err != nil {
		return err
	}
	deleteRecords := req.Assignment == nil
	for _, t := range tasks {
		if _, err := l.Cancel(ctx, t, deleteRecords); err != nil {
			return err
		}
	}
	if len(tasks) > 0 {
		slog.InfoContext(ctx, "task: cancelled tasks of request",
			"request_id", requestID, "tasks", len(tasks), "deleted", deleteRecords, "reason", reason)
	}
	return nil
}

func (l *Lifecycle) publish(t *Task) {
	l.eventBus.PublishNew(eventbus.TaskStatusChanged, t.ID, string(t.Status), map[string]string{
		"request_id":  t.RequestID,
		"resource_id": t.ResourceID,
		"status":      string(t.Status),
	})
}
