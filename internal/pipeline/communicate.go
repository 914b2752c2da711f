package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai/jsonschema"

	"github.com/OutllierRejects/reliefops/internal/eventbus"
	"github.com/OutllierRejects/reliefops/internal/llm"
	"github.com/OutllierRejects/reliefops/internal/notification"
	"github.com/OutllierRejects/reliefops/internal/request"
	"github.com/OutllierRejects/reliefops/internal/task"
	"github.com/OutllierRejects/reliefops/pkg/cerr"
)

// ChannelSet reports which delivery channels are configured.
type ChannelSet interface {
	Has(ch notification.Channel) bool
}

// Communicator writes the requester and assignee messages of an assigned
// request and hands them to the deliverer. Delivery problems are tracked on
// each notification and never fail the stage.
type Communicator struct {
	notifications notification.Repository
	tasks         task.Repository
	deliverer     *notification.Deliverer
	channels      ChannelSet
	llm           llm.Client
	bus           *eventbus.Bus
	now           func() time.Time
}

func NewCommunicator(
	notifications notification.Repository,
	tasks task.Repository,
	deliverer *notification.Deliverer,
	channels ChannelSet,
	c llm.Client,
	bus *eventbus.Bus,
) *Communicator {
	return &Communicator{
		notifications: notifications,
		tasks:         tasks,
		deliverer:     deliverer,
		channels:      channels,
		llm:           c,
		bus:           bus,
		now:           time.Now,
	}
}

type outgoing struct {
	kind    notification.Kind
	taskID  string
	contact notification.Contact
	subject string
	body    string
}

type messageAnswer struct {
	RequesterMessage string `json:"requester_message"`
	AssigneeMessages []struct {
		TaskID  string `json:"task_id"`
		Message string `json:"message"`
	} `json:"assignee_messages"`
}

var messageSchema = llm.Object(map[string]jsonschema.Definition{
	"requester_message": llm.String("message to the person who asked for help"),
	"assignee_messages": llm.Array("one message per task", llm.Object(map[string]jsonschema.Definition{
		"task_id": llm.String("id of the task"),
		"message": llm.String("message to the responder of the task"),
	})),
})

const messageSystemPrompt = `You write short, calm notifications for a disaster relief service.
Tell the requester what happens next. Tell each responder what to do and where.
Do not promise anything that is not in the facts given. Answer with JSON only.`

func (c *Communicator) Run(ctx context.Context, r *request.Request) (*request.CommunicationResult, error) {
	if r.Assignment == nil {
		return nil, cerr.NewValidationError("assignment", "request has no assignment result")
	}
	tasks := make([]*task.Task, 0, len(r.Assignment.TaskIDs))
	for _, id := range r.Assignment.TaskIDs {
		t, err := c.tasks.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}

	msgs := c.templates(r, tasks)
	if c.llm != nil {
		if err := c.compose(ctx, r, tasks, msgs); err != nil {
			return nil, err
		}
	}
	if !r.Assignment.Fulfilled() {
		msgs[0].body = strings.TrimSpace(msgs[0].body) + " " + pendingNote(r.Assignment)
	}

	now := c.now()
	result := &request.CommunicationResult{CompletedAt: now}
	var pending []*notification.Notification
	seq := 0
	for _, m := range msgs {
		for _, ch := range c.route(m.contact) {
			seq++
			n := &notification.Notification{
				ID:          fmt.Sprintf("%s-N%02d", r.ID, seq),
				RequestID:   r.ID,
				TaskID:      m.taskID,
				Kind:        m.kind,
				Channel:     ch,
				RecipientID: m.contact.RecipientID,
				Recipient:   m.contact.Address(ch),
				Subject:     m.subject,
				Body:        m.body,
				Status:      notification.StatusPending,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if err := c.notifications.Create(ctx, n); err != nil {
				if !cerr.IsCode(err, cerr.AlreadyExists) {
					return nil, err
				}
				// Created by an earlier interrupted run.
				if n, err = c.notifications.Get(ctx, n.ID); err != nil {
					return nil, err
				}
			} else {
				c.bus.PublishNew(eventbus.NotificationCreated, n.ID, n.Subject, map[string]string{
					"request_id":   r.ID,
					"channel":      string(n.Channel),
					"recipient_id": n.RecipientID,
					"kind":         string(n.Kind),
				})
			}
			result.NotificationIDs = append(result.NotificationIDs, n.ID)
			if n.Status == notification.StatusPending {
				pending = append(pending, n)
			}
		}
	}
	c.deliverer.DeliverAll(ctx, pending)
	return result, nil
}

// route keeps the contact's preferred channels that are configured here and
// falls back to in-app.
func (c *Communicator) route(contact notification.Contact) []notification.Channel {
	var out []notification.Channel
	for _, ch := range contact.Route() {
		if c.channels == nil || c.channels.Has(ch) {
			out = append(out, ch)
		}
	}
	if len(out) == 0 {
		return []notification.Channel{notification.ChannelInApp}
	}
	return out
}

func (c *Communicator) templates(r *request.Request, tasks []*task.Task) []*outgoing {
	status := fmt.Sprintf("Your request %q is now %s with %s priority.", r.Title, request.StatusAssigned, r.Priority.Priority)
	if r.Priority.EstimatedResponseTime != "" {
		status += fmt.Sprintf(" Estimated response: %s.", r.Priority.EstimatedResponseTime)
	}
	switch len(tasks) {
	case 0:
	case 1:
		status += fmt.Sprintf(" %s is on the way.", tasks[0].AssigneeName)
	default:
		names := make([]string, len(tasks))
		for i, t := range tasks {
			names[i] = t.AssigneeName
		}
		status += fmt.Sprintf(" %s are on the way.", strings.Join(names, ", "))
	}

	msgs := []*outgoing{{
		kind:    notification.KindRequestStatus,
		contact: r.Contact,
		subject: fmt.Sprintf("Update on your request: %s", r.Title),
		body:    status,
	}}
	for _, t := range tasks {
		location := r.Intake.Location
		if location == "" {
			location = "location unknown, contact the requester"
		}
		msgs = append(msgs, &outgoing{
			kind:    notification.KindTaskAssignment,
			taskID:  t.ID,
			contact: t.AssigneeContact,
			subject: fmt.Sprintf("[%s] New assignment: %s", t.Priority, r.Title),
			body: fmt.Sprintf("You have been assigned to %s (%s). Location: %s.\n%s",
				r.Title, joinCategories(t.Needs), location, t.Instructions),
		})
	}
	return msgs
}

// compose replaces template bodies with the model's wording. Messages the
// model leaves out keep their template.
func (c *Communicator) compose(ctx context.Context, r *request.Request, tasks []*task.Task, msgs []*outgoing) error {
	var facts strings.Builder
	fmt.Fprintf(&facts, "Request: %s\nStatus: %s\nPriority: %s\nEstimated response: %s\nLocation: %s\n",
		r.Title, request.StatusAssigned, r.Priority.Priority, r.Priority.EstimatedResponseTime, r.Intake.Location)
	for _, t := range tasks {
		fmt.Fprintf(&facts, "Task %s: responder %s, needs %s, instructions: %s\n",
			t.ID, t.AssigneeName, joinCategories(t.Needs), t.Instructions)
	}

	var ans messageAnswer
	err := llm.Generate(ctx, c.llm, llm.Request{
		Name:   "communication",
		System: messageSystemPrompt,
		Prompt: facts.String(),
		Schema: messageSchema,
	}, &ans)
	if err != nil {
		return err
	}
	if body := strings.TrimSpace(ans.RequesterMessage); body != "" {
		msgs[0].body = body
	}
	for _, am := range ans.AssigneeMessages {
		for _, m := range msgs[1:] {
			if m.taskID == am.TaskID && strings.TrimSpace(am.Message) != "" {
				m.body = strings.TrimSpace(am.Message)
			}
		}
	}
	return nil
}

func pendingNote(a *request.AssignmentResult) string {
	return fmt.Sprintf("Dispatch is pending additional resources for: %s.", joinCategories(a.UnfulfilledNeeds))
}
