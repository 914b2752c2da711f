package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/singleflight"

	"github.com/OutllierRejects/reliefops/internal/eventbus"
	"github.com/OutllierRejects/reliefops/internal/request"
	"github.com/OutllierRejects/reliefops/internal/resource"
	"github.com/OutllierRejects/reliefops/internal/stagelog"
	"github.com/OutllierRejects/reliefops/internal/task"
	"github.com/OutllierRejects/reliefops/pkg/cerr"
)

const (
	HaltCancelled      = "cancelled"
	HaltReviewRequired = "review_required"
	HaltInterrupted    = "interrupted"
	HaltClosed         = "closed"

	updateAttempts = 3
)

var (
	errCancelled = errors.New("request was cancelled")
	errStopped   = errors.New("request is no longer processing")
)

type CoordinatorConfig struct {
	Retry RetryPolicy
	// StageTimeout bounds each attempt of a stage. Zero disables it.
	StageTimeout time.Duration
	// ConfidenceThreshold is the intake confidence below which a request
	// waits for an operator before prioritization.
	ConfidenceThreshold float64
}

type Stages struct {
	Intake       *Intake
	Prioritizer  *Prioritizer
	Assigner     *Assigner
	Communicator *Communicator
}

// Coordinator drives a request through intake, prioritization, assignment
// and communication. Each stage runs only when the request lacks its output,
// so running a request again resumes where it stopped.
type Coordinator struct {
	requests  request.Repository
	resources resource.Repository
	logs      stagelog.Repository
	lifecycle *task.Lifecycle
	stages    Stages
	bus       *eventbus.Bus
	cfg       CoordinatorConfig
	flight    singleflight.Group
	now       func() time.Time
}

var _ request.Processor = (*Coordinator)(nil)

func NewCoordinator(
	requests request.Repository,
	resources resource.Repository,
	logs stagelog.Repository,
	lifecycle *task.Lifecycle,
	stages Stages,
	bus *eventbus.Bus,
	cfg CoordinatorConfig,
) *Coordinator {
	return &Coordinator{
		requests:  requests,
		resources: resources,
		logs:      logs,
		lifecycle: lifecycle,
		stages:    stages,
		bus:       bus,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Process runs the missing stages of request id. Concurrent calls for the
// same id share one run. Stage failures are reported in the result and on
// the request; the error is only about reaching storage.
func (c *Coordinator) Process(ctx context.Context, id string) (*request.ProcessingResult, error) {
	v, err, _ := c.flight.Do(id, func() (any, error) {
		return c.run(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return v.(*request.ProcessingResult), nil
}

// Resubmit reopens a failed request and processes it again from the stage
// that failed. Requests that have not failed simply resume.
func (c *Coordinator) Resubmit(ctx context.Context, id string) (*request.ProcessingResult, error) {
	_, err := c.update(ctx, id, func(r *request.Request) error {
		switch r.Status {
		case request.StatusFailed:
			return r.Reopen()
		case request.StatusCancelled, request.StatusCompleted:
			return cerr.NewError(cerr.FailedPrecondition,
				fmt.Sprintf("request is %s and cannot be resubmitted", r.Status), nil)
		}
		return errStopped
	})
	if err != nil && !errors.Is(err, errStopped) {
		return nil, err
	}
	if err == nil {
		slog.InfoContext(ctx, "pipeline: request reopened", "request_id", id)
		c.publishStatus(id, request.StatusProcessing)
	}
	return c.Process(ctx, id)
}

func (c *Coordinator) run(ctx context.Context, id string) (*request.ProcessingResult, error) {
	r, err := c.requests.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status == request.StatusFailed {
		return nil, cerr.NewError(cerr.FailedPrecondition,
			fmt.Sprintf("request failed at %s, resubmit it to process again", r.Stage), nil)
	}

	result := &request.ProcessingResult{Request: r}
	for _, stage := range request.Stages {
		// Cancellation is observed between stages only.
		r, err = c.requests.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		result.Request = r
		if r.Status == request.StatusCancelled {
			c.halt(ctx, result, stage, 0, HaltCancelled)
			return result, nil
		}
		if r.HasOutput(stage) {
			c.skip(ctx, result, stage)
			continue
		}
		if r.Status.Terminal() {
			return result, nil
		}
		if stage == request.StagePrioritization && r.ReviewRequired && !r.Approved {
			c.halt(ctx, result, stage, 0, HaltReviewRequired)
			return result, nil
		}

		r, err = c.enter(ctx, id, stage)
		switch {
		case errors.Is(err, errCancelled):
			c.halt(ctx, result, stage, 0, HaltCancelled)
			return result, nil
		case errors.Is(err, errStopped):
			return result, nil
		case err != nil:
			return nil, err
		}
		result.Request = r

		start := c.now()
		apply, attempts, stageErr := c.attempt(ctx, r, stage)
		elapsed := c.now().Sub(start)
		if stageErr != nil {
			if ctx.Err() != nil {
				c.halt(ctx, result, stage, attempts, HaltInterrupted)
				return result, nil
			}
			failed, err := c.fail(ctx, id, stage, attempts, stageErr)
			if errors.Is(err, errCancelled) {
				c.halt(ctx, result, stage, attempts, HaltCancelled)
				return result, nil
			}
			if errors.Is(err, errStopped) {
				c.closed(ctx, result, stage, attempts)
				return result, nil
			}
			if err != nil {
				return nil, err
			}
			result.Request = failed
			result.Outcomes = append(result.Outcomes, request.StageOutcome{
				Stage:    stage,
				Status:   request.StageFailed,
				Attempts: attempts,
				Error:    cerr.Message(stageErr),
				Duration: elapsed,
			})
			return result, nil
		}

		r, err = c.commit(ctx, id, stage, apply)
		if errors.Is(err, errCancelled) {
			if stage == request.StageAssignment {
				c.discardAssignment(ctx, id)
			}
			c.halt(ctx, result, stage, attempts, HaltCancelled)
			return result, nil
		}
		if errors.Is(err, errStopped) {
			c.closed(ctx, result, stage, attempts)
			return result, nil
		}
		if err != nil {
			return nil, err
		}
		result.Request = r
		result.Outcomes = append(result.Outcomes, request.StageOutcome{
			Stage:    stage,
			Status:   request.StageSucceeded,
			Attempts: attempts,
			Duration: elapsed,
		})
		c.bus.PublishNew(eventbus.StageCompleted, id, string(stage), map[string]string{
			"stage":    string(stage),
			"attempts": strconv.Itoa(attempts),
			"status":   string(r.Status),
		})
		if stage == request.StageIntake && r.ReviewRequired {
			slog.InfoContext(ctx, "pipeline: low confidence intake, waiting for review",
				"request_id", id, "confidence", r.Intake.Confidence)
			c.bus.PublishNew(eventbus.RequestReviewNeeded, id, r.Title, map[string]string{
				"confidence": strconv.FormatFloat(r.Intake.Confidence, 'f', 2, 64),
			})
		}
	}
	return result, nil
}

// attempt runs stage under the retry policy, logging every attempt.
func (c *Coordinator) attempt(ctx context.Context, r *request.Request, stage request.Stage) (func(*request.Request) error, int, error) {
	var apply func(*request.Request) error
	attempts, err := c.cfg.Retry.Do(ctx, func(ctx context.Context, attempt int) error {
		if c.cfg.StageTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.cfg.StageTimeout)
			defer cancel()
		}
		start := c.now()
		var err error
		apply, err = c.execute(ctx, r, stage)
		entry := &stagelog.Entry{
			RequestID: r.ID,
			Stage:     string(stage),
			Attempt:   attempt,
			Outcome:   stagelog.OutcomeSucceeded,
			Duration:  c.now().Sub(start),
		}
		if err != nil {
			entry.Outcome = stagelog.OutcomeFailed
			entry.Message = err.Error()
			if c.cfg.Retry.WillRetry(attempt, err) {
				entry.Outcome = stagelog.OutcomeRetrying
				slog.WarnContext(ctx, "pipeline: stage attempt failed, retrying",
					"request_id", r.ID, "stage", stage, "attempt", attempt, "error", err)
			}
		}
		c.log(ctx, entry)
		return err
	})
	return apply, attempts, err
}

// execute runs one attempt of stage and returns how to store its output.
func (c *Coordinator) execute(ctx context.Context, r *request.Request, stage request.Stage) (func(*request.Request) error, error) {
	switch stage {
	case request.StageIntake:
		res, err := c.stages.Intake.Run(ctx, IntakeInput{
			Title:       r.Title,
			Description: r.Description,
			RawLocation: r.RawLocation,
		})
		if err != nil {
			return nil, err
		}
		return func(r *request.Request) error {
			r.Intake = res
			r.ReviewRequired = res.Confidence < c.cfg.ConfidenceThreshold
			r.Stage = request.StagePrioritization
			return nil
		}, nil

	case request.StagePrioritization:
		pool, _, err := c.resources.List(ctx, resource.ListFilter{})
		if err != nil {
			return nil, err
		}
		res, err := c.stages.Prioritizer.Run(ctx, PriorityInput{
			Intake:      r.Intake,
			Description: r.Description,
			CreatedAt:   r.CreatedAt,
		}, resource.NewSnapshot(pool, c.now()))
		if err != nil {
			return nil, err
		}
		return func(r *request.Request) error {
			r.Priority = res
			r.Stage = request.StageAssignment
			return r.Transition(request.StatusPrioritized)
		}, nil

	case request.StageAssignment:
		res, err := c.stages.Assigner.Run(ctx, r)
		if err != nil {
			return nil, err
		}
		return func(r *request.Request) error {
			r.Assignment = res
			r.Stage = request.StageCommunication
			return r.Transition(request.StatusAssigned)
		}, nil

	case request.StageCommunication:
		res, err := c.stages.Communicator.Run(ctx, r)
		if err != nil {
			return nil, err
		}
		return func(r *request.Request) error {
			r.Communication = res
			r.Stage = ""
			return nil
		}, nil
	}
	return nil, cerr.NewError(cerr.Internal, fmt.Sprintf("unknown stage %s", stage), nil)
}

// enter records that stage is in progress and moves the request into the
// status the stage runs under.
func (c *Coordinator) enter(ctx context.Context, id string, stage request.Stage) (*request.Request, error) {
	var from request.Status
	r, err := c.update(ctx, id, func(r *request.Request) error {
		if err := checkOpen(r); err != nil {
			return err
		}
		from = r.Status
		r.Stage = stage
		switch {
		case stage == request.StageCommunication && r.Status == request.StatusProcessing:
			return r.Transition(request.StatusAssigned)
		case stage == request.StageCommunication:
			return nil
		case r.Status != request.StatusProcessing:
			return r.Transition(request.StatusProcessing)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if r.Status != from {
		c.publishStatus(id, r.Status)
	}
	return r, nil
}

func (c *Coordinator) commit(ctx context.Context, id string, stage request.Stage, apply func(*request.Request) error) (*request.Request, error) {
	var from request.Status
	r, err := c.update(ctx, id, func(r *request.Request) error {
		if err := checkOpen(r); err != nil {
			return err
		}
		from = r.Status
		return apply(r)
	})
	if err != nil {
		return nil, err
	}
	if r.Status != from {
		c.publishStatus(id, r.Status)
	}
	return r, nil
}

// fail marks the request failed at stage with a reason safe to show to the
// requester.
func (c *Coordinator) fail(ctx context.Context, id string, stage request.Stage, attempts int, stageErr error) (*request.Request, error) {
	now := c.now()
	r, err := c.update(ctx, id, func(r *request.Request) error {
		if err := checkOpen(r); err != nil {
			return err
		}
		r.Stage = stage
		r.Failure = &request.Failure{
			Stage:    stage,
			Code:     cerr.CodeOf(stageErr).String(),
			Reason:   cerr.Message(stageErr),
			Field:    cerr.FieldOf(stageErr),
			Attempts: attempts,
			FailedAt: now,
		}
		return r.Transition(request.StatusFailed)
	})
	if err != nil {
		return nil, err
	}
	slog.ErrorContext(ctx, "pipeline: stage failed",
		"request_id", id, "stage", stage, "attempts", attempts, "error", stageErr)
	meta := map[string]string{
		"stage":    string(stage),
		"attempts": strconv.Itoa(attempts),
		"code":     r.Failure.Code,
		"reason":   r.Failure.Reason,
	}
	c.bus.PublishNew(eventbus.StageFailed, id, string(stage), meta)
	c.bus.PublishNew(eventbus.RequestFailed, id, r.Title, meta)
	c.publishStatus(id, r.Status)
	return r, nil
}

// discardAssignment undoes an assignment whose request was cancelled while
// it ran.
func (c *Coordinator) discardAssignment(ctx context.Context, id string) {
	if err := c.lifecycle.CancelRequestTasks(context.WithoutCancel(ctx), id, "cancelled during assignment"); err != nil {
		slog.ErrorContext(ctx, "pipeline: failed to discard assignment of cancelled request",
			"request_id", id, "error", err)
	}
}

// update applies fn to a fresh copy of the request and stores it, re-reading
// on version conflicts.
func (c *Coordinator) update(ctx context.Context, id string, fn func(r *request.Request) error) (*request.Request, error) {
	var err error
	for range updateAttempts {
		var r *request.Request
		r, err = c.requests.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := fn(r); err != nil {
			return nil, err
		}
		r.UpdatedAt = c.now()
		err = c.requests.Update(ctx, r)
		if err == nil {
			return r, nil
		}
		if !cerr.IsCode(err, cerr.Aborted) {
			return nil, err
		}
	}
	return nil, err
}

func checkOpen(r *request.Request) error {
	switch {
	case r.Status == request.StatusCancelled:
		return errCancelled
	case r.Status.Terminal():
		return errStopped
	}
	return nil
}

func (c *Coordinator) halt(ctx context.Context, result *request.ProcessingResult, stage request.Stage, attempts int, reason string) {
	result.Halted = reason
	result.Outcomes = append(result.Outcomes, request.StageOutcome{
		Stage:    stage,
		Status:   request.StageHalted,
		Attempts: attempts,
		Error:    reason,
	})
	c.log(ctx, &stagelog.Entry{
		RequestID: result.Request.ID,
		Stage:     string(stage),
		Attempt:   attempts,
		Outcome:   stagelog.OutcomeHalted,
		Message:   reason,
	})
	slog.InfoContext(ctx, "pipeline: run halted", "request_id", result.Request.ID, "stage", stage, "reason", reason)
}

// closed halts a run whose request reached a terminal status while the
// stage ran, for example when every task completed before communication
// was recorded. The stage output is dropped.
func (c *Coordinator) closed(ctx context.Context, result *request.ProcessingResult, stage request.Stage, attempts int) {
	if r, err := c.requests.Get(ctx, result.Request.ID); err == nil {
		result.Request = r
	}
	c.halt(ctx, result, stage, attempts, HaltClosed)
}

func (c *Coordinator) skip(ctx context.Context, result *request.ProcessingResult, stage request.Stage) {
	result.Outcomes = append(result.Outcomes, request.StageOutcome{Stage: stage, Status: request.StageSkipped})
	c.log(ctx, &stagelog.Entry{
		RequestID: result.Request.ID,
		Stage:     string(stage),
		Outcome:   stagelog.OutcomeSkipped,
		Message:   "output already present",
	})
}

// log appends a stage log entry. It outlives the caller's context so that
// interrupted runs are still traced.
func (c *Coordinator) log(ctx context.Context, e *stagelog.Entry) {
	e.ID = ulid.Make().String()
	e.CreatedAt = c.now()
	if err := c.logs.Create(context.WithoutCancel(ctx), e); err != nil {
		slog.WarnContext(ctx, "pipeline: failed to write stage log", "request_id", e.RequestID, "error", err)
	}
}

func (c *Coordinator) publishStatus(id string, status request.Status) {
	c.bus.PublishNew(eventbus.RequestStatusChanged, id, string(status), map[string]string{
		"status": string(status),
	})
}
