package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sourcegraph/conc/pool"

	"github.com/OutllierRejects/reliefops/internal/eventbus"
	"github.com/OutllierRejects/reliefops/internal/request"
	"github.com/OutllierRejects/reliefops/pkg/cerr"
	"github.com/OutllierRejects/reliefops/pkg/panicerr"
)

// Processor runs the pipeline for one request.
type Processor interface {
	Process(ctx context.Context, id string) (*request.ProcessingResult, error)
	Resubmit(ctx context.Context, id string) (*request.ProcessingResult, error)
}

// Retrier re-attempts notifications whose backoff has elapsed.
type Retrier interface {
	RetryDue(ctx context.Context) (int, error)
}

type Config struct {
	Workers        int
	SweepSchedule  string
	RetrySchedule  string
	SweepBatchSize int
}

type Stats struct {
	Processed   int64      `json:"processed"`
	Succeeded   int64      `json:"succeeded"`
	Failed      int64      `json:"failed"`
	Halted      int64      `json:"halted"`
	InFlight    int        `json:"in_flight"`
	Dropped     int        `json:"dropped_events"`
	LastError   string     `json:"last_error,omitempty"`
	LastErrorAt *time.Time `json:"last_error_at,omitempty"`
}

type job struct {
	id       string
	resubmit bool
}

// Orchestrator runs the pipeline in the background: for requests announced
// on the bus, and for requests a periodic sweep finds unfinished after
// missed events or a restart.
type Orchestrator struct {
	eventBus  *eventbus.Bus
	requests  request.Repository
	processor Processor
	retrier   Retrier
	cfg       Config

	mu         sync.Mutex
	submitting sync.WaitGroup
	workers    *pool.Pool
	runCtx     context.Context
	inFlight   map[string]struct{}
	stats      Stats
	subID      string
}

func New(eventBus *eventbus.Bus, requests request.Repository, processor Processor, retrier Retrier, cfg Config) *Orchestrator {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.SweepBatchSize < 1 {
		cfg.SweepBatchSize = 50
	}
	return &Orchestrator{
		eventBus:  eventBus,
		requests:  requests,
		processor: processor,
		retrier:   retrier,
		cfg:       cfg,
		inFlight:  make(map[string]struct{}),
	}
}

// Start subscribes to the event bus, schedules the sweeps and processes
// requests on a bounded pool. It blocks until ctx is cancelled and every
// running job has returned.
func (o *Orchestrator) Start(ctx context.Context) error {
	subID, ch := o.eventBus.Subscribe(256)
	defer o.eventBus.Unsubscribe(subID)

	c := cron.New()
	if o.cfg.SweepSchedule != "" {
		if _, err := c.AddFunc(o.cfg.SweepSchedule, func() { o.sweep(ctx) }); err != nil {
			return cerr.NewError(cerr.InvalidArgument, "invalid sweep schedule", err)
		}
	}
	if o.cfg.RetrySchedule != "" && o.retrier != nil {
		if _, err := c.AddFunc(o.cfg.RetrySchedule, func() { o.retryNotifications(ctx) }); err != nil {
			return cerr.NewError(cerr.InvalidArgument, "invalid notification retry schedule", err)
		}
	}

	o.mu.Lock()
	o.workers = pool.New().WithMaxGoroutines(o.cfg.Workers)
	o.runCtx = ctx
	o.subID = subID
	o.mu.Unlock()
	c.Start()

	slog.Info("orchestrator started", "workers", o.cfg.Workers)
	o.sweep(ctx)

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case event, ok := <-ch:
			if !ok {
				break loop
			}
			o.handleEvent(event)
		}
	}

	<-c.Stop().Done()
	o.mu.Lock()
	workers := o.workers
	o.workers = nil
	o.mu.Unlock()
	o.submitting.Wait()
	workers.Wait()
	slog.Info("orchestrator stopped")
	return nil
}

func (o *Orchestrator) handleEvent(event *eventbus.Event) {
	switch event.Type {
	case eventbus.RequestSubmitted, eventbus.RequestApproved:
		o.enqueue(job{id: event.ResourceID})
	case eventbus.RequestResubmitted:
		o.enqueue(job{id: event.ResourceID, resubmit: true})
	}
}

// ProcessPending runs a sweep now and returns how many requests it queued.
func (o *Orchestrator) ProcessPending(ctx context.Context) (int, error) {
	o.mu.Lock()
	running := o.workers != nil
	o.mu.Unlock()
	if !running {
		return 0, cerr.NewError(cerr.FailedPrecondition, "orchestrator is not running", nil)
	}
	return o.sweep(ctx), nil
}

// sweep queues unfinished requests in scheduling order. Requests waiting
// for review and requests already being processed are left alone.
func (o *Orchestrator) sweep(ctx context.Context) int {
	pending, _, err := o.requests.List(ctx, request.ListFilter{Statuses: []request.Status{
		request.StatusSubmitted, request.StatusProcessing, request.StatusPrioritized, request.StatusAssigned,
	}})
	if err != nil {
		slog.ErrorContext(ctx, "orchestrator: sweep failed to list requests", "error", err)
		return 0
	}
	queued := 0
	for _, r := range pending {
		if queued >= o.cfg.SweepBatchSize {
			break
		}
		if !resumable(r) {
			continue
		}
		if o.enqueue(job{id: r.ID}) {
			queued++
		}
	}
	if queued > 0 {
		slog.InfoContext(ctx, "orchestrator: sweep queued requests", "count", queued)
	}
	return queued
}

func resumable(r *request.Request) bool {
	if r.ReviewRequired && !r.Approved && r.Priority == nil {
		return false
	}
	if r.Status == request.StatusAssigned && r.Communication != nil {
		return false
	}
	return true
}

// enqueue hands j to the pool unless the request is already queued or
// running. It blocks while every worker is busy. Jobs run under the context
// given to Start, not the one of whoever asked for them.
func (o *Orchestrator) enqueue(j job) bool {
	o.mu.Lock()
	ctx := o.runCtx
	if o.workers == nil || ctx.Err() != nil {
		o.mu.Unlock()
		return false
	}
	if _, ok := o.inFlight[j.id]; ok {
		o.mu.Unlock()
		return false
	}
	o.inFlight[j.id] = struct{}{}
	workers := o.workers
	o.submitting.Add(1)
	o.mu.Unlock()
	defer o.submitting.Done()

	workers.Go(func() {
		defer func() {
			o.mu.Lock()
			delete(o.inFlight, j.id)
			o.mu.Unlock()
		}()
		if err := panicerr.SafeContext(func(ctx context.Context) error { return o.run(ctx, j) })(ctx); err != nil {
			o.recordError(err)
			slog.ErrorContext(ctx, "orchestrator: job failed", "request_id", j.id, "error", err)
		}
	})
	return true
}

func (o *Orchestrator) run(ctx context.Context, j job) error {
	run := o.processor.Process
	if j.resubmit {
		run = o.processor.Resubmit
	}
	res, err := run(ctx, j.id)
	if err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.stats.Processed++
	switch {
	case res.Failed():
		o.stats.Failed++
		now := time.Now()
		o.stats.LastErrorAt = &now
		o.stats.LastError = j.id + ": " + failureReason(res)
	case res.Halted != "":
		o.stats.Halted++
	default:
		o.stats.Succeeded++
	}
	return nil
}

func failureReason(res *request.ProcessingResult) string {
	if f := res.Request.Failure; f != nil {
		return string(f.Stage) + ": " + f.Reason
	}
	return "stage failed"
}

func (o *Orchestrator) recordError(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	now := time.Now()
	o.stats.Processed++
	o.stats.Failed++
	o.stats.LastError = cerr.Message(err)
	o.stats.LastErrorAt = &now
}

func (o *Orchestrator) retryNotifications(ctx context.Context) {
	n, err := o.retrier.RetryDue(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "orchestrator: notification retry failed", "error", err)
		return
	}
	if n > 0 {
		slog.InfoContext(ctx, "orchestrator: retried notifications", "count", n)
	}
}

func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := o.stats
	s.InFlight = len(o.inFlight)
	if o.subID != "" {
		s.Dropped = o.eventBus.Dropped(o.subID)
	}
	return s
}
