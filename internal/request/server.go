package request

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"connectrpc.com/connect"
	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/OutllierRejects/reliefops/internal/eventbus"
	"github.com/OutllierRejects/reliefops/internal/notification"
	"github.com/OutllierRejects/reliefops/internal/stagelog"
	"github.com/OutllierRejects/reliefops/internal/triage"
	"github.com/OutllierRejects/reliefops/pkg/cerr"
	"github.com/OutllierRejects/reliefops/pkg/jsonrpc"
)

const ServiceName = "reliefops.v1.RequestService"

// Processor runs the pipeline for a request on demand.
type Processor interface {
	Resubmit(ctx context.Context, id string) (*ProcessingResult, error)
}

// TaskCanceller undoes the assignment side effects of a cancelled request.
type TaskCanceller interface {
	CancelRequestTasks(ctx context.Context, requestID, reason string) error
}

type Server struct {
	repo      Repository
	logs      stagelog.Repository
	processor Processor
	tasks     TaskCanceller
	eventBus  *eventbus.Bus
}

func NewServer(repo Repository, logs stagelog.Repository, processor Processor, tasks TaskCanceller, eventBus *eventbus.Bus) *Server {
	return &Server{
		repo:      repo,
		logs:      logs,
		processor: processor,
		tasks:     tasks,
		eventBus:  eventBus,
	}
}

func (s *Server) Handler(opts ...connect.HandlerOption) (string, http.Handler) {
	svc := jsonrpc.NewService(ServiceName, opts...)
	jsonrpc.Unary(svc, "SubmitRequest", s.SubmitRequest)
	jsonrpc.Unary(svc, "GetRequest", s.GetRequest)
	jsonrpc.Unary(svc, "ListRequests", s.ListRequests)
	jsonrpc.Unary(svc, "CancelRequest", s.CancelRequest)
	jsonrpc.Unary(svc, "ResubmitRequest", s.ResubmitRequest)
	jsonrpc.Unary(svc, "ApproveRequest", s.ApproveRequest)
	jsonrpc.Unary(svc, "ListStageLogs", s.ListStageLogs)
	return svc.Handler()
}

type ContactMessage struct {
	RecipientID       string   `json:"recipient_id,omitempty"`
	Name              string   `json:"name,omitempty"`
	Email             string   `json:"email,omitempty"`
	Phone             string   `json:"phone,omitempty"`
	PreferredChannels []string `json:"preferred_channels,omitempty"`
}

type SubmitRequestRequest struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Location    string          `json:"location,omitempty"`
	Contact     *ContactMessage `json:"contact,omitempty"`
	CreatorID   string          `json:"creator_id,omitempty"`
}

type RequestResponse struct {
	Request *View `json:"request"`
}

type GetRequestRequest struct {
	ID string `json:"id"`
}

type ListRequestsRequest struct {
	Status   string `json:"status,omitempty"`
	Priority string `json:"priority,omitempty"`
	Limit    int    `json:"limit,omitempty"`
	Offset   int    `json:"offset,omitempty"`
}

type ListRequestsResponse struct {
	Requests []*View `json:"requests"`
	Total    int     `json:"total"`
	Limit    int     `json:"limit"`
	Offset   int     `json:"offset"`
}

type CancelRequestRequest struct {
	ID     string `json:"id"`
	Reason string `json:"reason,omitempty"`
}

type ResubmitRequestRequest struct {
	ID string `json:"id"`
	// Async hands the run to the background workers instead of waiting.
	Async bool `json:"async,omitempty"`
}

type ResubmitRequestResponse struct {
	Request  *View          `json:"request"`
	Outcomes []StageOutcome `json:"outcomes,omitempty"`
	Halted   string         `json:"halted,omitempty"`
	Queued   bool           `json:"queued,omitempty"`
}

type ApproveRequestRequest struct {
	ID string `json:"id"`
}

type ListStageLogsRequest struct {
	RequestID string `json:"request_id"`
	Limit     int    `json:"limit,omitempty"`
	Offset    int    `json:"offset,omitempty"`
}

type ListStageLogsResponse struct {
	Logs  []*stagelog.Entry `json:"logs"`
	Total int               `json:"total"`
}

// View is the read model of a request exposed to clients.
type View struct {
	ID             string               `json:"id"`
	CreatorID      string               `json:"creator_id,omitempty"`
	Title          string               `json:"title"`
	Description    string               `json:"description"`
	Location       string               `json:"location,omitempty"`
	Status         Status               `json:"status"`
	Stage          Stage                `json:"stage,omitempty"`
	ReviewRequired bool                 `json:"review_required,omitempty"`
	Intake         *IntakeResult        `json:"intake,omitempty"`
	Priority       *PriorityResult      `json:"priority,omitempty"`
	Assignment     *AssignmentResult    `json:"assignment,omitempty"`
	Communication  *CommunicationResult `json:"communication,omitempty"`
	Failure        *Failure             `json:"failure,omitempty"`
	CancelReason   string               `json:"cancel_reason,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

func ToView(r *Request) *View {
	if r == nil {
		return nil
	}
	return &View{
		ID:             r.ID,
		CreatorID:      r.CreatorID,
		Title:          r.Title,
		Description:    r.Description,
		Location:       r.RawLocation,
		Status:         r.Status,
		Stage:          r.Stage,
		ReviewRequired: r.ReviewRequired,
		Intake:         r.Intake,
		Priority:       r.Priority,
		Assignment:     r.Assignment,
		Communication:  r.Communication,
		Failure:        r.Failure,
		CancelReason:   r.CancelReason,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

func (s *Server) SubmitRequest(ctx context.Context, req *connect.Request[SubmitRequestRequest]) (*connect.Response[RequestResponse], error) {
	msg := req.Msg
	if strings.TrimSpace(msg.Title) == "" {
		return nil, cerr.NewValidationError("title", "title is required")
	}
	if strings.TrimSpace(msg.Description) == "" {
		return nil, cerr.NewValidationError("description", "description is required")
	}
	contact, err := toContact(msg.Contact)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	r := &Request{
		ID:          ulid.Make().String(),
		CreatorID:   msg.CreatorID,
		Title:       strings.TrimSpace(msg.Title),
		Description: strings.TrimSpace(msg.Description),
		RawLocation: strings.TrimSpace(msg.Location),
		Contact:     contact,
		Status:      StatusSubmitted,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if r.Contact.RecipientID == "" {
		r.Contact.RecipientID = r.CreatorID
	}
	if r.Contact.RecipientID == "" {
		r.Contact.RecipientID = "requester-" + r.ID
	}
	if err := s.repo.Create(ctx, r); err != nil {
		return nil, err
	}

	s.eventBus.PublishNew(eventbus.RequestSubmitted, r.ID, r.Title, map[string]string{
		"status": string(r.Status),
	})

	return connect.NewResponse(&RequestResponse{Request: ToView(r)}), nil
}

func (s *Server) GetRequest(ctx context.Context, req *connect.Request[GetRequestRequest]) (*connect.Response[RequestResponse], error) {
	r, err := s.repo.Get(ctx, req.Msg.ID)
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&RequestResponse{Request: ToView(r)}), nil
}

func (s *Server) ListRequests(ctx context.Context, req *connect.Request[ListRequestsRequest]) (*connect.Response[ListRequestsResponse], error) {
	limit, offset := 50, 0
	if req.Msg.Limit > 0 {
		limit = req.Msg.Limit
	}
	if req.Msg.Offset > 0 {
		offset = req.Msg.Offset
	}
	f := ListFilter{Limit: limit, Offset: offset}
	if req.Msg.Status != "" {
		st := Status(req.Msg.Status)
		if !st.Valid() {
			return nil, cerr.NewValidationError("status", fmt.Sprintf("unknown status %q", req.Msg.Status))
		}
		f.Statuses = []Status{st}
	}
	if req.Msg.Priority != "" {
		lvl, ok := triage.ParseLevel(req.Msg.Priority)
		if !ok {
			return nil, cerr.NewValidationError("priority", fmt.Sprintf("unknown priority %q", req.Msg.Priority))
		}
		f.Priority = lvl
	}

	requests, total, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, err
	}
	views := make([]*View, len(requests))
	for i, r := range requests {
		views[i] = ToView(r)
	}
	return connect.NewResponse(&ListRequestsResponse{
		Requests: views,
		Total:    total,
		Limit:    limit,
		Offset:   offset,
	}), nil
}

const cancelAttempts = 3

func (s *Server) CancelRequest(ctx context.Context, req *connect.Request[CancelRequestRequest]) (*connect.Response[RequestResponse], error) {
	var r *Request
	var err error
	// A pipeline run may update the record between our read and write.
	for range cancelAttempts {
		r, err = s.repo.Get(ctx, req.Msg.ID)
		if err != nil {
			return nil, err
		}
		if err = r.Transition(StatusCancelled); err != nil {
			return nil, err
		}
		r.CancelReason = req.Msg.Reason
		if err = s.repo.Update(ctx, r); !cerr.IsCode(err, cerr.Aborted) {
			break
		}
	}
	if err != nil {
		return nil, err
	}

	if err := s.tasks.CancelRequestTasks(ctx, r.ID, req.Msg.Reason); err != nil {
		return nil, err
	}

	s.eventBus.PublishNew(eventbus.RequestCancelled, r.ID, req.Msg.Reason, map[string]string{
		"status": string(r.Status),
	})

	return connect.NewResponse(&RequestResponse{Request: ToView(r)}), nil
}

func (s *Server) ResubmitRequest(ctx context.Context, req *connect.Request[ResubmitRequestRequest]) (*connect.Response[ResubmitRequestResponse], error) {
	if req.Msg.Async {
		r, err := s.repo.Get(ctx, req.Msg.ID)
		if err != nil {
			return nil, err
		}
		if r.Status != StatusFailed && r.Status != StatusSubmitted {
			return nil, cerr.NewError(cerr.FailedPrecondition,
				fmt.Sprintf("only failed requests can be resubmitted, request is %s", r.Status), nil)
		}
		s.eventBus.PublishNew(eventbus.RequestResubmitted, r.ID, "", map[string]string{
			"status": string(r.Status),
		})
		return connect.NewResponse(&ResubmitRequestResponse{Request: ToView(r), Queued: true}), nil
	}

	result, err := s.processor.Resubmit(ctx, req.Msg.ID)
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&ResubmitRequestResponse{
		Request:  ToView(result.Request),
		Outcomes: result.Outcomes,
		Halted:   result.Halted,
	}), nil
}

func (s *Server) ApproveRequest(ctx context.Context, req *connect.Request[ApproveRequestRequest]) (*connect.Response[RequestResponse], error) {
	r, err := s.repo.Get(ctx, req.Msg.ID)
	if err != nil {
		return nil, err
	}
	if !r.ReviewRequired {
		return nil, cerr.NewError(cerr.FailedPrecondition, "request is not waiting for review", nil)
	}
	r.ReviewRequired = false
	r.Approved = true
	r.UpdatedAt = time.Now()
	if err := s.repo.Update(ctx, r); err != nil {
		return nil, err
	}

	s.eventBus.PublishNew(eventbus.RequestApproved, r.ID, "", map[string]string{
		"status": string(r.Status),
	})

	return connect.NewResponse(&RequestResponse{Request: ToView(r)}), nil
}

func (s *Server) ListStageLogs(ctx context.Context, req *connect.Request[ListStageLogsRequest]) (*connect.Response[ListStageLogsResponse], error) {
	if req.Msg.RequestID == "" {
		return nil, cerr.NewValidationError("request_id", "request_id is required")
	}
	logs, total, err := s.logs.List(ctx, req.Msg.RequestID, req.Msg.Limit, req.Msg.Offset)
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&ListStageLogsResponse{Logs: logs, Total: total}), nil
}

// StatusView is the public, unauthenticated status of a request.
type StatusView struct {
	ID               string    `json:"id"`
	Status           Status    `json:"status"`
	Stage            Stage     `json:"stage,omitempty"`
	Priority         string    `json:"priority,omitempty"`
	UnfulfilledNeeds []string  `json:"unfulfilled_needs,omitempty"`
	FailureReason    string    `json:"failure_reason,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// StatusHandler serves GET /v1/requests/{id}/status through the cerr JSON
// middleware.
func (s *Server) StatusHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := s.repo.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	v := &StatusView{
		ID:        req.ID,
		Status:    req.Status,
		Stage:     req.Stage,
		UpdatedAt: req.UpdatedAt,
	}
	if req.Priority != nil {
		v.Priority = string(req.Priority.Priority)
	}
	if req.Assignment != nil {
		for _, c := range req.Assignment.UnfulfilledNeeds {
			v.UnfulfilledNeeds = append(v.UnfulfilledNeeds, string(c))
		}
	}
	if req.Failure != nil {
		v.FailureReason = req.Failure.Reason
	}
	cerr.SetJSONResponse(ctx, v)
}

func toContact(m *ContactMessage) (notification.Contact, error) {
	if m == nil {
		return notification.Contact{}, nil
	}
	c := notification.Contact{
		RecipientID: m.RecipientID,
		Name:        m.Name,
		Email:       m.Email,
		Phone:       m.Phone,
	}
	for _, name := range m.PreferredChannels {
		ch := notification.Channel(strings.ToLower(strings.TrimSpace(name)))
		if !ch.Valid() {
			return c, cerr.NewValidationError("contact.preferred_channels",
				fmt.Sprintf("unknown channel %q", name))
		}
		c.Channels = append(c.Channels, ch)
	}
	return c, nil
}
