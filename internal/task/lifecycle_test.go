package task_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OutllierRejects/reliefops/internal/eventbus"
	"github.com/OutllierRejects/reliefops/internal/request"
	requestimpl "github.com/OutllierRejects/reliefops/internal/request/repositoryimpl"
	"github.com/OutllierRejects/reliefops/internal/resource"
	resourceimpl "github.com/OutllierRejects/reliefops/internal/resource/repositoryimpl"
	"github.com/OutllierRejects/reliefops/internal/task"
	"github.com/OutllierRejects/reliefops/internal/task/repositoryimpl"
	"github.com/OutllierRejects/reliefops/internal/triage"
	"github.com/OutllierRejects/reliefops/pkg/cerr"
	"github.com/OutllierRejects/reliefops/pkg/storage"
)

type fixture struct {
	tasks     *repositoryimpl.YAMLRepository
	requests  *requestimpl.YAMLRepository
	resources *resourceimpl.YAMLRepository
	allocator *resource.Allocator
	lifecycle *task.Lifecycle
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	bus := eventbus.New()
	f := &fixture{
		tasks:     repositoryimpl.NewYAMLRepository(s),
		requests:  requestimpl.NewYAMLRepository(s),
		resources: resourceimpl.NewYAMLRepository(s),
	}
	f.allocator = resource.NewAllocator(f.resources, bus)
	f.lifecycle = task.NewLifecycle(f.tasks, f.requests, f.allocator, bus)
	return f
}

// seed creates an assigned request with one claimed task per resource id.
func (f *fixture) seed(t *testing.T, withAssignment bool, resourceIDs ...string) (*request.Request, []*task.Task) {
	t.Helper()
	ctx := context.Background()
	now := time.Now()
	req := &request.Request{
		ID:        "REQ-1",
		Title:     "Flood",
		Status:    request.StatusProcessing,
		Stage:     request.StageAssignment,
		Intake:    &request.IntakeResult{Needs: []triage.Category{triage.Rescue}},
		Priority:  &request.PriorityResult{Priority: triage.High},
		CreatedAt: now,
	}
	var tasks []*task.Task
	for _, id := range resourceIDs {
		require.NoError(t, f.resources.Create(ctx, &resource.Resource{
			ID: id, Name: id, Capabilities: []triage.Category{triage.Rescue}, Status: resource.StatusAvailable,
		}))
		_, err := f.allocator.Claim(ctx, id)
		require.NoError(t, err)
		tk := &task.Task{
			ID: "T-" + id, RequestID: req.ID, ResourceID: id,
			Needs: []triage.Category{triage.Rescue}, Status: task.StatusAssigned, CreatedAt: now,
		}
		require.NoError(t, f.tasks.Create(ctx, tk))
		tasks = append(tasks, tk)
	}
	if withAssignment {
		req.Status = request.StatusAssigned
		req.Assignment = &request.AssignmentResult{}
		for _, tk := range tasks {
			req.Assignment.TaskIDs = append(req.Assignment.TaskIDs, tk.ID)
		}
	}
	require.NoError(t, f.requests.Create(ctx, req))
	return req, tasks
}

func (f *fixture) activeTasks(t *testing.T, id string) int {
	t.Helper()
	r, err := f.resources.Get(context.Background(), id)
	require.NoError(t, err)
	return r.ActiveTasks
}

func TestLifecycle_UpdateStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	req, tasks := f.seed(t, true, "team-a", "team-b")

	_, err := f.lifecycle.UpdateStatus(ctx, tasks[0].ID, task.StatusCompleted)
	assert.True(t, cerr.IsCode(err, cerr.FailedPrecondition), "assigned tasks cannot complete directly")

	_, err = f.lifecycle.UpdateStatus(ctx, tasks[0].ID, task.StatusInProgress)
	require.NoError(t, err)
	got, err := f.requests.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, request.StatusInProgress, got.Status)

	_, err = f.lifecycle.UpdateStatus(ctx, tasks[0].ID, task.StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, 0, f.activeTasks(t, "team-a"))
	got, err = f.requests.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, request.StatusInProgress, got.Status, "one task is still open")

	_, err = f.lifecycle.UpdateStatus(ctx, tasks[1].ID, task.StatusAccepted)
	require.NoError(t, err)
	_, err = f.lifecycle.UpdateStatus(ctx, tasks[1].ID, task.StatusInProgress)
	require.NoError(t, err)
	_, err = f.lifecycle.UpdateStatus(ctx, tasks[1].ID, task.StatusCompleted)
	require.NoError(t, err)

	got, err = f.requests.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, request.StatusCompleted, got.Status)
	assert.Equal(t, 0, f.activeTasks(t, "team-b"))
}

func TestLifecycle_CancelRequestTasks(t *testing.T) {
	ctx := context.Background()

	t.Run("after assignment", func(t *testing.T) {
		f := newFixture(t)
		req, tasks := f.seed(t, true, "team-a")
		require.NoError(t, f.lifecycle.CancelRequestTasks(ctx, req.ID, "resolved"))

		got, err := f.tasks.Get(ctx, tasks[0].ID)
		require.NoError(t, err)
		assert.Equal(t, task.StatusCancelled, got.Status)
		assert.Equal(t, 0, f.activeTasks(t, "team-a"))
	})

	t.Run("during assignment", func(t *testing.T) {
		f := newFixture(t)
		req, tasks := f.seed(t, false, "team-a")
		require.NoError(t, f.lifecycle.CancelRequestTasks(ctx, req.ID, "duplicate"))

		_, err := f.tasks.Get(ctx, tasks[0].ID)
		assert.True(t, cerr.IsCode(err, cerr.NotFound))
		assert.Equal(t, 0, f.activeTasks(t, "team-a"))
	})
}

func TestLifecycle_CancelReleasesOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, tasks := f.seed(t, true, "team-a", "team-b")
	// team-a holds a second claim from another request.
	_, err := f.allocator.Claim(ctx, "team-a")
	require.NoError(t, err)

	stale := *tasks[0]
	done, err := f.lifecycle.Cancel(ctx, tasks[0], false)
	require.NoError(t, err)
	assert.True(t, done)

	done, err = f.lifecycle.Cancel(ctx, &stale, false)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, 1, f.activeTasks(t, "team-a"))
}
