package task

import (
	"context"
	"net/http"

	"connectrpc.com/connect"

	"github.com/OutllierRejects/reliefops/pkg/cerr"
	"github.com/OutllierRejects/reliefops/pkg/jsonrpc"
)

const ServiceName = "reliefops.v1.TaskService"

type Server struct {
	repo      Repository
	lifecycle *Lifecycle
}

func NewServer(repo Repository, lifecycle *Lifecycle) *Server {
	return &Server{repo: repo, lifecycle: lifecycle}
}

func (s *Server) Handler(opts ...connect.HandlerOption) (string, http.Handler) {
	svc := jsonrpc.NewService(ServiceName, opts...)
	jsonrpc.Unary(svc, "GetTask", s.GetTask)
	jsonrpc.Unary(svc, "ListTasks", s.ListTasks)
	jsonrpc.Unary(svc, "UpdateTaskStatus", s.UpdateTaskStatus)
	return svc.Handler()
}

type GetTaskRequest struct {
	ID string `json:"id"`
}

type TaskResponse struct {
	Task *Task `json:"task"`
}

type ListTasksRequest struct {
	RequestID  string `json:"request_id,omitempty"`
	ResourceID string `json:"resource_id,omitempty"`
	Status     string `json:"status,omitempty"`
	Limit      int    `json:"limit,omitempty"`
	Offset     int    `json:"offset,omitempty"`
}

type ListTasksResponse struct {
	Tasks []*Task `json:"tasks"`
	Total int     `json:"total"`
}

type UpdateTaskStatusRequest struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (s *Server) GetTask(ctx context.Context, req *connect.Request[GetTaskRequest]) (*connect.Response[TaskResponse], error) {
	t, err := s.repo.Get(ctx, req.Msg.ID)
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&TaskResponse{Task: t}), nil
}

func (s *Server) ListTasks(ctx context.Context, req *connect.Request[ListTasksRequest]) (*connect.Response[ListTasksResponse], error) {
	limit := 50
	if req.Msg.Limit > 0 {
		limit = req.Msg.Limit
	}
	f := ListFilter{
		RequestID:  req.Msg.RequestID,
		ResourceID: req.Msg.ResourceID,
		Limit:      limit,
		Offset:     req.Msg.Offset,
	}
	if req.Msg.Status != "" {
		f.Statuses = []Status{Status(req.Msg.Status)}
	}
	tasks, total, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&ListTasksResponse{Tasks: tasks, Total: total}), nil
}

func (s *Server) UpdateTaskStatus(ctx context.Context, req *connect.Request[UpdateTaskStatusRequest]) (*connect.Response[TaskResponse], error) {
	status := Status(req.Msg.Status)
	if _, ok := transitions[status]; !ok && !status.Terminal() {
		return nil, cerr.NewValidationError("status", "unknown task status "+req.Msg.Status)
	}
	t, err := s.lifecycle.UpdateStatus(ctx, req.Msg.ID, status)
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&TaskResponse{Task: t}), nil
}
