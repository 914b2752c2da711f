package jsonrpc

import (
	"context"
	"net/http"

	"connectrpc.com/connect"
)

// Service collects the procedures of one Connect service on a mux, the way a
// generated New<Service>Handler does.
type Service struct {
	name string
	mux  *http.ServeMux
	opts []connect.HandlerOption
}

func NewService(name string, opts ...connect.HandlerOption) *Service {
	return &Service{name: name, mux: http.NewServeMux(), opts: HandlerOptions(opts...)}
}

func (s *Service) Name() string { return s.name }

// Handler returns the path prefix and handler to mount on the router.
func (s *Service) Handler() (string, http.Handler) {
	return "/" + s.name + "/", s.mux
}

func Unary[Req, Res any](s *Service, method string, fn func(context.Context, *connect.Request[Req]) (*connect.Response[Res], error)) {
	procedure := Procedure(s.name, method)
	s.mux.Handle(procedure, connect.NewUnaryHandler(procedure, fn, s.opts...))
}

func ServerStream[Req, Res any](s *Service, method string, fn func(context.Context, *connect.Request[Req], *connect.ServerStream[Res]) error) {
	procedure := Procedure(s.name, method)
	s.mux.Handle(procedure, connect.NewServerStreamHandler(procedure, fn, s.opts...))
}
