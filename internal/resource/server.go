package resource

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/oklog/ulid/v2"

	"github.com/OutllierRejects/reliefops/internal/eventbus"
	"github.com/OutllierRejects/reliefops/pkg/cerr"
	"github.com/OutllierRejects/reliefops/pkg/jsonrpc"
)

const ServiceName = "reliefops.v1.ResourceService"

type Server struct {
	repo      Repository
	allocator *Allocator
	eventBus  *eventbus.Bus
}

func NewServer(repo Repository, allocator *Allocator, eventBus *eventbus.Bus) *Server {
	return &Server{repo: repo, allocator: allocator, eventBus: eventBus}
}

func (s *Server) Handler(opts ...connect.HandlerOption) (string, http.Handler) {
	svc := jsonrpc.NewService(ServiceName, opts...)
	jsonrpc.Unary(svc, "CreateResource", s.CreateResource)
	jsonrpc.Unary(svc, "GetResource", s.GetResource)
	jsonrpc.Unary(svc, "ListResources", s.ListResources)
	jsonrpc.Unary(svc, "UpdateResource", s.UpdateResource)
	jsonrpc.Unary(svc, "DeleteResource", s.DeleteResource)
	jsonrpc.Unary(svc, "SetAvailability", s.SetAvailability)
	return svc.Handler()
}

type ResourceResponse struct {
	Resource *Resource `json:"resource"`
}

type CreateResourceRequest struct {
	Resource *Resource `json:"resource"`
}

type GetResourceRequest struct {
	ID string `json:"id"`
}

type ListResourcesRequest struct {
	Kind       string `json:"kind,omitempty"`
	Capability string `json:"capability,omitempty"`
	Status     string `json:"status,omitempty"`
	Limit      int    `json:"limit,omitempty"`
	Offset     int    `json:"offset,omitempty"`
}

type ListResourcesResponse struct {
	Resources []*Resource `json:"resources"`
	Total     int         `json:"total"`
}

type UpdateResourceRequest struct {
	Resource *Resource `json:"resource"`
}

type DeleteResourceRequest struct {
	ID string `json:"id"`
}

type DeleteResourceResponse struct{}

type SetAvailabilityRequest struct {
	ID             string     `json:"id"`
	Status         string     `json:"status"`
	AvailableFrom  *time.Time `json:"available_from,omitempty"`
	AvailableUntil *time.Time `json:"available_until,omitempty"`
}

func (s *Server) CreateResource(ctx context.Context, req *connect.Request[CreateResourceRequest]) (*connect.Response[ResourceResponse], error) {
	r := req.Msg.Resource
	if r == nil {
		return nil, cerr.NewValidationError("resource", "resource is required")
	}
	if r.ID == "" {
		r.ID = ulid.Make().String()
	}
	if err := Normalize(r); err != nil {
		return nil, err
	}
	now := time.Now()
	r.ActiveTasks = 0
	r.CreatedAt = now
	r.UpdatedAt = now
	if err := s.repo.Create(ctx, r); err != nil {
		return nil, err
	}
	s.allocator.publish(r)
	return connect.NewResponse(&ResourceResponse{Resource: r}), nil
}

func (s *Server) GetResource(ctx context.Context, req *connect.Request[GetResourceRequest]) (*connect.Response[ResourceResponse], error) {
	r, err := s.repo.Get(ctx, req.Msg.ID)
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&ResourceResponse{Resource: r}), nil
}

func (s *Server) ListResources(ctx context.Context, req *connect.Request[ListResourcesRequest]) (*connect.Response[ListResourcesResponse], error) {
	limit := 100
	if req.Msg.Limit > 0 {
		limit = req.Msg.Limit
	}
	resources, total, err := s.repo.List(ctx, ListFilter{
		Kind:       Kind(req.Msg.Kind),
		Capability: req.Msg.Capability,
		Status:     Status(req.Msg.Status),
		Limit:      limit,
		Offset:     req.Msg.Offset,
	})
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&ListResourcesResponse{Resources: resources, Total: total}), nil
}

func (s *Server) UpdateResource(ctx context.Context, req *connect.Request[UpdateResourceRequest]) (*connect.Response[ResourceResponse], error) {
	in := req.Msg.Resource
	if in == nil {
		return nil, cerr.NewValidationError("resource", "resource is required")
	}
	if err := Normalize(in); err != nil {
		return nil, err
	}
	r, err := s.allocator.Modify(ctx, in.ID, func(r *Resource) error {
		if in.Capacity() < r.ActiveTasks {
			return cerr.NewError(cerr.FailedPrecondition,
				fmt.Sprintf("resource holds %d tasks, capacity cannot drop below that", r.ActiveTasks), nil)
		}
		r.Name = in.Name
		r.Kind = in.Kind
		r.Capabilities = in.Capabilities
		r.Location = in.Location
		r.Point = in.Point
		r.Exclusive = in.Exclusive
		r.MaxConcurrentTasks = in.MaxConcurrentTasks
		r.AvailableFrom = in.AvailableFrom
		r.AvailableUntil = in.AvailableUntil
		r.Contact = in.Contact
		r.Status = in.Status
		return nil
	})
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&ResourceResponse{Resource: r}), nil
}

func (s *Server) DeleteResource(ctx context.Context, req *connect.Request[DeleteResourceRequest]) (*connect.Response[DeleteResourceResponse], error) {
	if req.Msg.ID == "" {
		return nil, cerr.NewValidationError("id", "id is required")
	}
	if _, err := s.allocator.Delete(ctx, req.Msg.ID); err != nil {
		return nil, err
	}
	return connect.NewResponse(&DeleteResourceResponse{}), nil
}

func (s *Server) SetAvailability(ctx context.Context, req *connect.Request[SetAvailabilityRequest]) (*connect.Response[ResourceResponse], error) {
	status := Status(req.Msg.Status)
	if status != StatusAvailable && status != StatusOffline {
		return nil, cerr.NewValidationError("status", fmt.Sprintf("unknown status %q", req.Msg.Status))
	}
	from, until := req.Msg.AvailableFrom, req.Msg.AvailableUntil
	if from != nil && until != nil && !from.Before(*until) {
		return nil, cerr.NewValidationError("available_until", "window must end after it starts")
	}
	r, err := s.allocator.Modify(ctx, req.Msg.ID, func(r *Resource) error {
		r.Status = status
		r.AvailableFrom = from
		r.AvailableUntil = until
		return nil
	})
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&ResourceResponse{Resource: r}), nil
}
