package pipeline

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai/jsonschema"

	"github.com/OutllierRejects/reliefops/internal/eventbus"
	"github.com/OutllierRejects/reliefops/internal/geo"
	"github.com/OutllierRejects/reliefops/internal/llm"
	"github.com/OutllierRejects/reliefops/internal/request"
	"github.com/OutllierRejects/reliefops/internal/resource"
	"github.com/OutllierRejects/reliefops/internal/task"
	"github.com/OutllierRejects/reliefops/internal/triage"
	"github.com/OutllierRejects/reliefops/pkg/cerr"
)

const defaultTaskDuration = 2 * time.Hour

var instructionTemplates = map[triage.Category]string{
	triage.Rescue:    "Reach %s and extract the people in danger. Secure the area before entering damaged structures.",
	triage.Medical:   "Provide first aid at %s and assess whether hospital transport is needed.",
	triage.Water:     "Deliver drinking water to %s.",
	triage.Food:      "Deliver food supplies to %s.",
	triage.Shelter:   "Arrange temporary shelter for the people at %s.",
	triage.Transport: "Provide transport from %s to the nearest safe location.",
	triage.Other:     "Contact the requester at %s and assess what help is needed.",
}

var templateDurations = map[triage.Category]time.Duration{
	triage.Rescue:    3 * time.Hour,
	triage.Medical:   90 * time.Minute,
	triage.Water:     time.Hour,
	triage.Food:      time.Hour,
	triage.Shelter:   4 * time.Hour,
	triage.Transport: 2 * time.Hour,
	triage.Other:     time.Hour,
}

type AssignerConfig struct {
	// ClaimAttempts bounds the rounds spent re-evaluating candidates after
	// losing claims to concurrent runs.
	ClaimAttempts int
}

// Assigner matches the needs of a prioritized request to resources and
// creates one task per claimed resource. Needs without a candidate are
// reported as unfulfilled; that is not an error.
type Assigner struct {
	resources resource.Repository
	allocator *resource.Allocator
	tasks     task.Repository
	lifecycle *task.Lifecycle
	gate      *Gate
	llm       llm.Client
	bus       *eventbus.Bus
	cfg       AssignerConfig
	now       func() time.Time
}

func NewAssigner(
	resources resource.Repository,
	allocator *resource.Allocator,
	tasks task.Repository,
	lifecycle *task.Lifecycle,
	gate *Gate,
	c llm.Client,
	bus *eventbus.Bus,
	cfg AssignerConfig,
) *Assigner {
	if cfg.ClaimAttempts < 1 {
		cfg.ClaimAttempts = 1
	}
	return &Assigner{
		resources: resources,
		allocator: allocator,
		tasks:     tasks,
		lifecycle: lifecycle,
		gate:      gate,
		llm:       c,
		bus:       bus,
		cfg:       cfg,
		now:       time.Now,
	}
}

type plan struct {
	Instructions string
	Duration     time.Duration
}

type claim struct {
	res      *resource.Resource
	needs    []triage.Category
	distance *float64
}

func (a *Assigner) Run(ctx context.Context, r *request.Request) (*request.AssignmentResult, error) {
	if r.Intake == nil || len(r.Intake.Needs) == 0 {
		return nil, cerr.NewValidationError("intake.needs", "request has no classified needs")
	}
	if r.Priority == nil {
		return nil, cerr.NewValidationError("priority", "request has no priority")
	}
	if err := a.clearLeftovers(ctx, r.ID); err != nil {
		return nil, err
	}

	plans, err := a.plan(ctx, r)
	if err != nil {
		return nil, err
	}

	release, err := a.gate.Acquire(ctx, r.Priority.Priority.Rank(), r.CreatedAt, r.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	claims, unfulfilled, err := a.claim(ctx, r)
	if err != nil {
		a.rollback(ctx, claims, nil)
		return nil, err
	}

	created := make([]*task.Task, 0, len(claims))
	now := a.now()
	for i, c := range claims {
		t := a.newTask(r, i+1, c, plans, now)
		if err := a.tasks.Create(ctx, t); err != nil {
			a.rollback(ctx, claims[i:], created)
			return nil, err
		}
		created = append(created, t)
	}

	result := &request.AssignmentResult{
		TaskIDs:          make([]string, len(created)),
		UnfulfilledNeeds: unfulfilled,
		CompletedAt:      now,
	}
	for i, t := range created {
		result.TaskIDs[i] = t.ID
		a.bus.PublishNew(eventbus.TaskCreated, t.ID, t.AssigneeName, map[string]string{
			"request_id":  r.ID,
			"resource_id": t.ResourceID,
			"priority":    string(t.Priority),
		})
	}
	if len(unfulfilled) > 0 {
		slog.WarnContext(ctx, "assignment: needs left unfulfilled",
			"request_id", r.ID, "unfulfilled", joinCategories(unfulfilled))
	}
	return result, nil
}

// clearLeftovers removes tasks a previous interrupted run created before
// its result was recorded, releasing their resources.
func (a *Assigner) clearLeftovers(ctx context.Context, requestID string) error {
	leftovers, _, err := a.tasks.List(ctx, task.ListFilter{RequestID: requestID})
	if err != nil {
		return err
	}
	for _, t := range leftovers {
		if t.Status.Terminal() {
			if err := a.tasks.Delete(ctx, t.ID); err != nil && !cerr.IsCode(err, cerr.NotFound) {
				return err
			}
			continue
		}
		if _, err := a.lifecycle.Cancel(ctx, t, true); err != nil {
			return err
		}
	}
	if len(leftovers) > 0 {
		slog.InfoContext(ctx, "assignment: cleared leftover tasks", "request_id", requestID, "tasks", len(leftovers))
	}
	return nil
}

// claim walks the needs in category precedence. A resource already claimed
// for this request covers every later need it serves. Losing a claim to a
// concurrent run puts the need back for another round on a fresh pool.
func (a *Assigner) claim(ctx context.Context, r *request.Request) ([]*claim, []triage.Category, error) {
	var (
		claims      []*claim
		unfulfilled []triage.Category
	)
	pending := slices.Clone(r.Intake.Needs)
	triage.SortCategories(pending)

	for round := 1; round <= a.cfg.ClaimAttempts && len(pending) > 0; round++ {
		pool, _, err := a.resources.List(ctx, resource.ListFilter{Status: resource.StatusAvailable})
		if err != nil {
			return claims, nil, err
		}
		var contended []triage.Category
		for _, need := range pending {
			if c := claimServing(claims, need); c != nil {
				c.needs = append(c.needs, need)
				continue
			}
			c, lost, err := a.claimOne(ctx, pool, need, r.Intake.Point)
			if err != nil {
				return claims, nil, err
			}
			switch {
			case c != nil:
				claims = append(claims, c)
			case lost:
				contended = append(contended, need)
			default:
				unfulfilled = append(unfulfilled, need)
			}
		}
		if len(contended) > 0 {
			slog.InfoContext(ctx, "assignment: lost claims to a concurrent run",
				"request_id", r.ID, "round", round, "needs", joinCategories(contended))
		}
		pending = contended
	}
	unfulfilled = append(unfulfilled, pending...)
	triage.SortCategories(unfulfilled)
	return claims, unfulfilled, nil
}

func (a *Assigner) claimOne(ctx context.Context, pool []*resource.Resource, need triage.Category, at *geo.Point) (*claim, bool, error) {
	lost := false
	for _, cand := range rankCandidates(pool, need, at, a.now()) {
		res, err := a.allocator.Claim(ctx, cand.res.ID)
		if err != nil {
			if cerr.IsCode(err, cerr.Aborted) || cerr.IsCode(err, cerr.NotFound) {
				lost = true
				continue
			}
			return nil, false, err
		}
		return &claim{res: res, needs: []triage.Category{need}, distance: cand.distance}, false, nil
	}
	return nil, lost, nil
}

func claimServing(claims []*claim, need triage.Category) *claim {
	for _, c := range claims {
		if c.res.Serves(need) {
			return c
		}
	}
	return nil
}

type candidate struct {
	res      *resource.Resource
	distance *float64
}

// rankCandidates orders the resources that can take need: nearest first
// (unknown distance last), then fewest active tasks, then the longest
// remaining availability window.
func rankCandidates(pool []*resource.Resource, need triage.Category, at *geo.Point, now time.Time) []candidate {
	var out []candidate
	for _, res := range pool {
		if !res.Serves(need) || !res.Assignable(now) {
			continue
		}
		c := candidate{res: res}
		if at != nil && res.Point != nil {
			d := geo.DistanceKm(*at, *res.Point)
			c.distance = &d
		}
		out = append(out, c)
	}
	slices.SortFunc(out, func(x, y candidate) int {
		switch {
		case x.distance != nil && y.distance == nil:
			return -1
		case x.distance == nil && y.distance != nil:
			return 1
		case x.distance != nil && y.distance != nil && *x.distance != *y.distance:
			return cmp.Compare(*x.distance, *y.distance)
		}
		if n := cmp.Compare(x.res.ActiveTasks, y.res.ActiveTasks); n != 0 {
			return n
		}
		if n := cmp.Compare(y.res.RemainingWindow(now), x.res.RemainingWindow(now)); n != 0 {
			return n
		}
		return cmp.Compare(x.res.ID, y.res.ID)
	})
	return out
}

func (a *Assigner) newTask(r *request.Request, seq int, c *claim, plans map[triage.Category]plan, now time.Time) *task.Task {
	var (
		instructions []string
		duration     time.Duration
	)
	for _, need := range c.needs {
		p := plans[need]
		instructions = append(instructions, p.Instructions)
		duration = max(duration, p.Duration)
	}
	return &task.Task{
		ID:                fmt.Sprintf("%s-T%02d", r.ID, seq),
		RequestID:         r.ID,
		ResourceID:        c.res.ID,
		AssigneeName:      c.res.Name,
		AssigneeContact:   c.res.Contact,
		Needs:             c.needs,
		Requirements:      r.Intake.SpecialRequirements,
		Instructions:      strings.Join(instructions, "\n"),
		EstimatedDuration: duration,
		Priority:          r.Priority.Priority,
		DistanceKm:        c.distance,
		Status:            task.StatusAssigned,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// rollback frees the claims of a failed run and removes the tasks it created.
// It runs detached from ctx so a cancelled caller still leaves the pool
// consistent.
func (a *Assigner) rollback(ctx context.Context, unused []*claim, created []*task.Task) {
	ctx = context.WithoutCancel(ctx)
	for _, t := range created {
		if _, err := a.lifecycle.Cancel(ctx, t, true); err != nil {
			slog.ErrorContext(ctx, "assignment: rollback of task failed", "task_id", t.ID, "error", err)
		}
	}
	for _, c := range unused {
		if err := a.allocator.Release(ctx, c.res.ID); err != nil {
			slog.ErrorContext(ctx, "assignment: rollback of claim failed", "resource_id", c.res.ID, "error", err)
		}
	}
}

type planAnswer struct {
	Tasks []struct {
		Need             string `json:"need"`
		Instructions     string `json:"instructions"`
		EstimatedMinutes int    `json:"estimated_minutes"`
	} `json:"tasks"`
}

var planSchema = llm.Object(map[string]jsonschema.Definition{
	"tasks": llm.Array("one entry per need", llm.Object(map[string]jsonschema.Definition{
		"need":              llm.String("need category", categoryNames()...),
		"instructions":      llm.String("short instructions for the responder"),
		"estimated_minutes": llm.Integer("estimated minutes to complete"),
	})),
})

const planSystemPrompt = `You write field instructions for disaster responders.
For every need listed write two or three sentences of practical instructions
and estimate how many minutes the work takes. Answer with JSON only.`

// plan returns instructions per need: from the model when one is
// configured, else from templates. Needs the model skips get the template.
func (a *Assigner) plan(ctx context.Context, r *request.Request) (map[triage.Category]plan, error) {
	location := r.Intake.Location
	if location == "" {
		location = "the reported location"
	}
	plans := make(map[triage.Category]plan, len(r.Intake.Needs))
	for _, need := range r.Intake.Needs {
		plans[need] = plan{
			Instructions: fmt.Sprintf(instructionTemplates[need], location),
			Duration:     cmp.Or(templateDurations[need], defaultTaskDuration),
		}
	}
	if a.llm == nil {
		return plans, nil
	}

	var ans planAnswer
	err := llm.Generate(ctx, a.llm, llm.Request{
		Name:   "assignment",
		System: planSystemPrompt,
		Prompt: fmt.Sprintf("Needs: %s\nLocation: %s\nPriority: %s\nSummary: %s\nSpecial requirements: %s",
			joinCategories(r.Intake.Needs), location, r.Priority.Priority, r.Intake.Summary,
			strings.Join(r.Intake.SpecialRequirements, "; ")),
		Schema: planSchema,
	}, &ans)
	if err != nil {
		return nil, err
	}
	for _, t := range ans.Tasks {
		need, ok := triage.ParseCategory(t.Need)
		if !ok {
			continue
		}
		if _, wanted := plans[need]; !wanted || strings.TrimSpace(t.Instructions) == "" {
			continue
		}
		p := plan{Instructions: strings.TrimSpace(t.Instructions), Duration: plans[need].Duration}
		if t.EstimatedMinutes > 0 {
			p.Duration = time.Duration(t.EstimatedMinutes) * time.Minute
		}
		plans[need] = p
	}
	return plans, nil
}
