package orchestrator

import (
	"context"
	"net/http"

	"connectrpc.com/connect"

	"github.com/OutllierRejects/reliefops/pkg/jsonrpc"
)

const ServiceName = "reliefops.v1.PipelineService"

type Server struct {
	orchestrator *Orchestrator
}

func NewServer(o *Orchestrator) *Server {
	return &Server{orchestrator: o}
}

func (s *Server) Handler(opts ...connect.HandlerOption) (string, http.Handler) {
	svc := jsonrpc.NewService(ServiceName, opts...)
	jsonrpc.Unary(svc, "GetStats", s.GetStats)
	jsonrpc.Unary(svc, "ProcessPending", s.ProcessPending)
	return svc.Handler()
}

type GetStatsRequest struct{}

type GetStatsResponse struct {
	Stats Stats `json:"stats"`
}

type ProcessPendingRequest struct{}

type ProcessPendingResponse struct {
	Queued int `json:"queued"`
}

func (s *Server) GetStats(_ context.Context, _ *connect.Request[GetStatsRequest]) (*connect.Response[GetStatsResponse], error) {
	return connect.NewResponse(&GetStatsResponse{Stats: s.orchestrator.Stats()}), nil
}

func (s *Server) ProcessPending(ctx context.Context, _ *connect.Request[ProcessPendingRequest]) (*connect.Response[ProcessPendingResponse], error) {
	n, err := s.orchestrator.ProcessPending(ctx)
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&ProcessPendingResponse{Queued: n}), nil
}
