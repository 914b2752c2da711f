package client

import (
	"context"
	"fmt"

	"connectrpc.com/connect"

	"github.com/OutllierRejects/reliefops/internal/event"
	"github.com/OutllierRejects/reliefops/internal/eventbus"
	"github.com/OutllierRejects/reliefops/internal/orchestrator"
)

type PipelineClient struct {
	stats          *connect.Client[orchestrator.GetStatsRequest, orchestrator.GetStatsResponse]
	processPending *connect.Client[orchestrator.ProcessPendingRequest, orchestrator.ProcessPendingResponse]
}

func newPipelineClient(c *conn) *PipelineClient {
	const svc = orchestrator.ServiceName
	return &PipelineClient{
		stats:          method[orchestrator.GetStatsRequest, orchestrator.GetStatsResponse](c, svc, "GetStats"),
		processPending: method[orchestrator.ProcessPendingRequest, orchestrator.ProcessPendingResponse](c, svc, "ProcessPending"),
	}
}

func (c *PipelineClient) Stats(ctx context.Context) (*orchestrator.Stats, error) {
	resp, err := c.stats.CallUnary(ctx, connect.NewRequest(&orchestrator.GetStatsRequest{}))
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return &resp.Msg.Stats, nil
}

// ProcessPending queues every unfinished request and returns how many were
// queued.
func (c *PipelineClient) ProcessPending(ctx context.Context) (int, error) {
	resp, err := c.processPending.CallUnary(ctx, connect.NewRequest(&orchestrator.ProcessPendingRequest{}))
	if err != nil {
		return 0, fmt.Errorf("failed to process pending requests: %w", err)
	}
	return resp.Msg.Queued, nil
}

type EventClient struct {
	subscribe *connect.Client[event.SubscribeEventsRequest, eventbus.Event]
	list      *connect.Client[event.ListEventsRequest, event.ListEventsResponse]
}

func newEventClient(c *conn) *EventClient {
	return &EventClient{
		subscribe: method[event.SubscribeEventsRequest, eventbus.Event](c, event.ServiceName, "SubscribeEvents"),
		list:      method[event.ListEventsRequest, event.ListEventsResponse](c, event.ServiceName, "ListEvents"),
	}
}

// List returns recorded events of one day from the server's journal.
func (c *EventClient) List(ctx context.Context, in *event.ListEventsRequest) ([]*eventbus.Event, error) {
	resp, err := c.list.CallUnary(ctx, connect.NewRequest(in))
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return resp.Msg.Events, nil
}

// Watch streams matching events to fn until ctx is done, the stream ends or
// fn returns an error.
func (c *EventClient) Watch(ctx context.Context, in *event.SubscribeEventsRequest, fn func(*eventbus.Event) error) error {
	stream, err := c.subscribe.CallServerStream(ctx, connect.NewRequest(in))
	if err != nil {
		return fmt.Errorf("failed to subscribe to events: %w", err)
	}
	defer stream.Close()
	for stream.Receive() {
		if err := fn(stream.Msg()); err != nil {
			return err
		}
	}
	if err := stream.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("event stream failed: %w", err)
	}
	return nil
}
