package event

import (
	"context"
	"net/http"
	"strings"
	"time"

	"connectrpc.com/connect"

	"github.com/OutllierRejects/reliefops/internal/eventbus"
	"github.com/OutllierRejects/reliefops/pkg/cerr"
	"github.com/OutllierRejects/reliefops/pkg/jsonrpc"
)

const ServiceName = "reliefops.v1.EventService"

type Server struct {
	eventBus *eventbus.Bus
	journal  *Journal
}

// NewServer serves the live stream from eventBus and, when journal is not
// nil, the recorded history.
func NewServer(eventBus *eventbus.Bus, journal *Journal) *Server {
	return &Server{eventBus: eventBus, journal: journal}
}

func (s *Server) Handler(opts ...connect.HandlerOption) (string, http.Handler) {
	svc := jsonrpc.NewService(ServiceName, opts...)
	jsonrpc.ServerStream(svc, "SubscribeEvents", s.SubscribeEvents)
	jsonrpc.Unary(svc, "ListEvents", s.ListEvents)
	return svc.Handler()
}

type SubscribeEventsRequest struct {
	// Types selects event types; an entry ending in ".*" selects a family
	// such as "request.*". Empty means every event.
	Types     []string `json:"types,omitempty"`
	RequestID string   `json:"request_id,omitempty"`
}

type ListEventsRequest struct {
	// Date is a UTC day as YYYY-MM-DD; empty means today.
	Date      string   `json:"date,omitempty"`
	Types     []string `json:"types,omitempty"`
	RequestID string   `json:"request_id,omitempty"`
	Limit     int      `json:"limit,omitempty"`
}

type ListEventsResponse struct {
	Events []*eventbus.Event `json:"events"`
}

func (s *Server) SubscribeEvents(ctx context.Context, req *connect.Request[SubscribeEventsRequest], stream *connect.ServerStream[eventbus.Event]) error {
	subID, ch := s.eventBus.Subscribe(64)
	defer s.eventBus.Unsubscribe(subID)

	match := newMatcher(req.Msg.Types)
	requestID := req.Msg.RequestID

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-ch:
			if !ok {
				return nil
			}
			if !match(event.Type) {
				continue
			}
			if !forRequest(event, requestID) {
				continue
			}
			if err := stream.Send(event); err != nil {
				return err
			}
		}
	}
}

// forRequest reports whether e concerns request id. An empty id matches
// every event.
func forRequest(e *eventbus.Event, id string) bool {
	return id == "" || e.ResourceID == id || e.Metadata["request_id"] == id
}

func newMatcher(types []string) func(eventbus.EventType) bool {
	if len(types) == 0 {
		return func(eventbus.EventType) bool { return true }
	}
	exact := make(map[eventbus.EventType]struct{}, len(types))
	var families []string
	for _, t := range types {
		if family, ok := strings.CutSuffix(t, ".*"); ok {
			families = append(families, family+".")
			continue
		}
		exact[eventbus.EventType(t)] = struct{}{}
	}
	return func(et eventbus.EventType) bool {
		if _, ok := exact[et]; ok {
			return true
		}
		for _, f := range families {
			if strings.HasPrefix(string(et), f) {
				return true
			}
		}
		return false
	}
}

func (s *Server) ListEvents(_ context.Context, req *connect.Request[ListEventsRequest]) (*connect.Response[ListEventsResponse], error) {
	if s.journal == nil {
		return nil, cerr.NewError(cerr.FailedPrecondition, "event journal is not enabled", nil)
	}
	day := time.Now().UTC()
	if req.Msg.Date != "" {
		d, err := time.Parse(dateLayout, req.Msg.Date)
		if err != nil {
			return nil, cerr.NewValidationError("date", "date must be YYYY-MM-DD")
		}
		day = d
	}
	if req.Msg.Limit < 0 {
		return nil, cerr.NewValidationError("limit", "limit must not be negative")
	}
	events, err := s.journal.Read(day, Filter{
		Types:     req.Msg.Types,
		RequestID: req.Msg.RequestID,
		Limit:     req.Msg.Limit,
	})
	if err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", err)
	}
	return connect.NewResponse(&ListEventsResponse{Events: events}), nil
}
