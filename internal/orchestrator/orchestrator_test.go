package orchestrator_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/OutllierRejects/reliefops/internal/eventbus"
	"github.com/OutllierRejects/reliefops/internal/orchestrator"
	"github.com/OutllierRejects/reliefops/internal/request"
	"github.com/OutllierRejects/reliefops/internal/request/repositoryimpl"
	"github.com/OutllierRejects/reliefops/internal/triage"
	"github.com/OutllierRejects/reliefops/pkg/cerr"
	"github.com/OutllierRejects/reliefops/pkg/storage"
)

func TestMain(m *testing.M) {
	// opencensus (imported via googlemaps) starts a worker goroutine in its package init.
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

type fakeProcessor struct {
	mu        sync.Mutex
	processed []string
	resubmits []string
	results   map[string]*request.ProcessingResult
	panicOn   string
}

func (f *fakeProcessor) Process(_ context.Context, id string) (*request.ProcessingResult, error) {
	if id == f.panicOn {
		panic("boom")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed = append(f.processed, id)
	if res, ok := f.results[id]; ok {
		return res, nil
	}
	return &request.ProcessingResult{Request: &request.Request{ID: id}}, nil
}

func (f *fakeProcessor) Resubmit(_ context.Context, id string) (*request.ProcessingResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resubmits = append(f.resubmits, id)
	return &request.ProcessingResult{Request: &request.Request{ID: id}}, nil
}

func (f *fakeProcessor) seen() ([]string, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.processed...), append([]string(nil), f.resubmits...)
}

type countingRetrier struct {
	mu    sync.Mutex
	calls int
}

func (c *countingRetrier) RetryDue(context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return 0, nil
}

func (c *countingRetrier) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func newRepo(t *testing.T) *repositoryimpl.YAMLRepository {
	t.Helper()
	s, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	return repositoryimpl.NewYAMLRepository(s)
}

func start(t *testing.T, o *orchestrator.Orchestrator) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Start(ctx) }()
	return func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("orchestrator did not stop")
		}
	}
}

// waitReady returns once Start has subscribed and the pool accepts jobs.
func waitReady(t *testing.T, o *orchestrator.Orchestrator) {
	t.Helper()
	require.Eventually(t, func() bool {
		_, err := o.ProcessPending(context.Background())
		return err == nil
	}, time.Second, 5*time.Millisecond)
}

func TestOrchestrator_ProcessesBusEvents(t *testing.T) {
	bus := eventbus.New()
	proc := &fakeProcessor{results: map[string]*request.ProcessingResult{
		"REQ-FAIL": {
			Request:  &request.Request{ID: "REQ-FAIL", Failure: &request.Failure{Stage: request.StageIntake, Reason: "too short"}},
			Outcomes: []request.StageOutcome{{Stage: request.StageIntake, Status: request.StageFailed}},
		},
	}}
	o := orchestrator.New(bus, newRepo(t), proc, nil, orchestrator.Config{Workers: 2})
	stop := start(t, o)
	defer stop()

	waitReady(t, o)
	bus.PublishNew(eventbus.RequestSubmitted, "REQ-1", "", nil)
	bus.PublishNew(eventbus.RequestApproved, "REQ-2", "", nil)
	bus.PublishNew(eventbus.RequestResubmitted, "REQ-3", "", nil)
	bus.PublishNew(eventbus.RequestSubmitted, "REQ-FAIL", "", nil)
	bus.PublishNew(eventbus.TaskCreated, "T-1", "", nil)

	require.Eventually(t, func() bool { return o.Stats().Processed == 4 }, 2*time.Second, 5*time.Millisecond)
	processed, resubmits := proc.seen()
	assert.ElementsMatch(t, []string{"REQ-1", "REQ-2", "REQ-FAIL"}, processed)
	assert.Equal(t, []string{"REQ-3"}, resubmits)

	stats := o.Stats()
	assert.EqualValues(t, 3, stats.Succeeded)
	assert.EqualValues(t, 1, stats.Failed)
	assert.Contains(t, stats.LastError, "too short")
	assert.Zero(t, stats.InFlight)
}

func TestOrchestrator_SweepQueuesUnfinishedRequests(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)
	seed := []*request.Request{
		{ID: "SUB", Status: request.StatusSubmitted, CreatedAt: base},
		{ID: "PROC", Status: request.StatusProcessing, Stage: request.StageAssignment,
			Priority: &request.PriorityResult{Priority: triage.Critical}, CreatedAt: base.Add(time.Minute)},
		{ID: "REVIEW", Status: request.StatusProcessing, ReviewRequired: true,
			Intake: &request.IntakeResult{Urgency: triage.High}, CreatedAt: base},
		{ID: "DONE", Status: request.StatusAssigned, Communication: &request.CommunicationResult{}, CreatedAt: base},
		{ID: "UNSENT", Status: request.StatusAssigned, CreatedAt: base},
		{ID: "FAILED", Status: request.StatusFailed, CreatedAt: base},
		{ID: "CANCELLED", Status: request.StatusCancelled, CreatedAt: base},
	}
	for _, r := range seed {
		require.NoError(t, repo.Create(ctx, r))
	}

	proc := &fakeProcessor{}
	retrier := &countingRetrier{}
	o := orchestrator.New(eventbus.New(), repo, proc, retrier, orchestrator.Config{
		Workers:       1,
		RetrySchedule: "@every 1s",
	})

	_, err := o.ProcessPending(ctx)
	assert.True(t, cerr.IsCode(err, cerr.FailedPrecondition), "not running yet")

	stop := start(t, o)
	require.Eventually(t, func() bool {
		st := o.Stats()
		return st.Processed == 3 && st.InFlight == 0
	}, 2*time.Second, 5*time.Millisecond)
	processed, _ := proc.seen()
	assert.Equal(t, []string{"PROC", "SUB", "UNSENT"}, processed, "critical first, then FIFO")

	n, err := o.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.Eventually(t, func() bool { return retrier.count() > 0 }, 3*time.Second, 10*time.Millisecond)
	stop()
}

func TestOrchestrator_PanickingJobIsRecorded(t *testing.T) {
	bus := eventbus.New()
	proc := &fakeProcessor{panicOn: "REQ-BAD"}
	o := orchestrator.New(bus, newRepo(t), proc, nil, orchestrator.Config{Workers: 1})
	stop := start(t, o)
	defer stop()

	waitReady(t, o)
	bus.PublishNew(eventbus.RequestSubmitted, "REQ-BAD", "", nil)
	bus.PublishNew(eventbus.RequestSubmitted, "REQ-OK", "", nil)

	require.Eventually(t, func() bool { return o.Stats().Processed == 2 }, 2*time.Second, 5*time.Millisecond)
	stats := o.Stats()
	assert.EqualValues(t, 1, stats.Failed)
	assert.EqualValues(t, 1, stats.Succeeded)
}

func TestOrchestrator_InvalidSchedule(t *testing.T) {
	o := orchestrator.New(eventbus.New(), newRepo(t), &fakeProcessor{}, nil, orchestrator.Config{SweepSchedule: "whenever"})
	err := o.Start(context.Background())
	assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))
}
