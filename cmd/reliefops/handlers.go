package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/OutllierRejects/reliefops/internal/client"
	"github.com/OutllierRejects/reliefops/internal/event"
	"github.com/OutllierRejects/reliefops/internal/eventbus"
	"github.com/OutllierRejects/reliefops/internal/request"
	"github.com/OutllierRejects/reliefops/internal/resource"
	"github.com/OutllierRejects/reliefops/internal/task"
	"github.com/OutllierRejects/reliefops/internal/triage"
)

func handleSubmit(ctx context.Context, c *client.Client) error {
	in := &request.SubmitRequestRequest{
		Title:       *submitTitle,
		Description: *submitDescription,
		Location:    *submitLocation,
	}
	if *submitName != "" || *submitEmail != "" || *submitPhone != "" || len(*submitChannels) > 0 {
		in.Contact = &request.ContactMessage{
			Name:              *submitName,
			Email:             *submitEmail,
			Phone:             *submitPhone,
			PreferredChannels: *submitChannels,
		}
	}
	v, err := c.Requests.Submit(ctx, in)
	if err != nil {
		return err
	}
	return printRequest(v)
}

func handleShow(ctx context.Context, c *client.Client) error {
	v, err := c.Requests.Get(ctx, *showID)
	if err != nil {
		return err
	}
	if err := printRequest(v); err != nil {
		return err
	}
	if !*showLogs {
		return nil
	}
	logs, err := c.Requests.StageLogs(ctx, *showID, 100)
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(logs)
	}
	w := newTable()
	fmt.Fprintln(w, "\nSTAGE\tATTEMPT\tOUTCOME\tDURATION\tMESSAGE")
	for _, e := range logs.Logs {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n", e.Stage, e.Attempt, e.Outcome, e.Duration.Round(time.Millisecond), e.Message)
	}
	return w.Flush()
}

func handleList(ctx context.Context, c *client.Client) error {
	resp, err := c.Requests.List(ctx, &request.ListRequestsRequest{
		Status:   *listStatus,
		Priority: *listPriority,
		Limit:    *listLimit,
	})
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(resp)
	}
	w := newTable()
	fmt.Fprintln(w, "ID\tSTATUS\tPRIORITY\tTITLE\tCREATED")
	for _, v := range resp.Requests {
		priority := "-"
		if v.Priority != nil {
			priority = levelText(v.Priority.Priority)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", v.ID, statusText(string(v.Status)), priority, v.Title, v.CreatedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(w, "\n%d of %d request(s)\n", len(resp.Requests), resp.Total)
	return w.Flush()
}

func handleResubmit(ctx context.Context, c *client.Client) error {
	resp, err := c.Requests.Resubmit(ctx, *resubmitID, *resubmitAsync)
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(resp)
	}
	if resp.Queued {
		fmt.Printf("Queued %s\n", *resubmitID)
		return nil
	}
	w := newTable()
	fmt.Fprintln(w, "STAGE\tOUTCOME\tATTEMPTS\tERROR")
	for _, o := range resp.Outcomes {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", o.Stage, statusText(string(o.Status)), o.Attempts, o.Error)
	}
	if resp.Halted != "" {
		fmt.Fprintf(w, "\nHalted: %s\n", resp.Halted)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return printRequest(resp.Request)
}

func handleStats(ctx context.Context, c *client.Client) error {
	s, err := c.Pipeline.Stats(ctx)
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(s)
	}
	w := newTable()
	fmt.Fprintf(w, "Processed:\t%d\n", s.Processed)
	fmt.Fprintf(w, "Succeeded:\t%d\n", s.Succeeded)
	fmt.Fprintf(w, "Failed:\t%d\n", s.Failed)
	fmt.Fprintf(w, "Halted:\t%d\n", s.Halted)
	fmt.Fprintf(w, "In flight:\t%d\n", s.InFlight)
	fmt.Fprintf(w, "Dropped events:\t%d\n", s.Dropped)
	if s.LastError != "" && s.LastErrorAt != nil {
		fmt.Fprintf(w, "Last error:\t%s (%s)\n", s.LastError, s.LastErrorAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func handleResourcesList(ctx context.Context, c *client.Client) error {
	resp, err := c.Resources.List(ctx, &resource.ListResourcesRequest{
		Capability: *resourcesCapability,
		Status:     *resourcesStatus,
		Limit:      500,
	})
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(resp)
	}
	return printResources(resp.Resources...)
}

func handleResourcesAdd(ctx context.Context, c *client.Client) error {
	caps := make([]triage.Category, 0, len(*resourcesAddCapabilities))
	for _, name := range *resourcesAddCapabilities {
		caps = append(caps, triage.Category(strings.ToLower(name)))
	}
	r, err := c.Resources.Create(ctx, &resource.Resource{
		ID:                 *resourcesAddID,
		Name:               *resourcesAddName,
		Kind:               resource.Kind(*resourcesAddKind),
		Capabilities:       caps,
		Location:           *resourcesAddLocation,
		Exclusive:          *resourcesAddExclusive,
		MaxConcurrentTasks: *resourcesAddMax,
		Status:             resource.StatusAvailable,
	})
	if err != nil {
		return err
	}
	return printResources(r)
}

func handleTasks(ctx context.Context, c *client.Client) error {
	resp, err := c.Tasks.List(ctx, &task.ListTasksRequest{
		RequestID: *tasksRequest,
		Status:    *tasksStatus,
		Limit:     500,
	})
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(resp)
	}
	return printTasks(resp.Tasks...)
}

func handleWatch(ctx context.Context, c *client.Client) error {
	enc := json.NewEncoder(os.Stdout)
	return c.Events.Watch(ctx, &event.SubscribeEventsRequest{
		Types:     *watchTypes,
		RequestID: *watchRequest,
	}, func(e *eventbus.Event) error {
		if *jsonOut {
			return enc.Encode(e)
		}
		printEvent(e)
		return nil
	})
}

func handleEvents(ctx context.Context, c *client.Client) error {
	events, err := c.Events.List(ctx, &event.ListEventsRequest{
		Date:      *eventsDate,
		Types:     *eventsTypes,
		RequestID: *eventsRequest,
		Limit:     *eventsLimit,
	})
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(events)
	}
	for _, e := range events {
		printEvent(e)
	}
	return nil
}

func printEvent(e *eventbus.Event) {
	fmt.Printf("%s  %-24s %-28s %s\n", e.CreatedAt.Format(time.TimeOnly), e.Type, e.ResourceID, e.Payload)
}
