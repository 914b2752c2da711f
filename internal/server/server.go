package server

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"connectrpc.com/connect"
	"connectrpc.com/grpchealth"
	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/OutllierRejects/reliefops/internal/config"
	"github.com/OutllierRejects/reliefops/internal/event"
	"github.com/OutllierRejects/reliefops/internal/orchestrator"
	"github.com/OutllierRejects/reliefops/internal/pushnotification"
	"github.com/OutllierRejects/reliefops/internal/request"
	"github.com/OutllierRejects/reliefops/internal/resource"
	"github.com/OutllierRejects/reliefops/internal/task"
	"github.com/OutllierRejects/reliefops/pkg/cerr"
	"github.com/OutllierRejects/reliefops/pkg/clog"
	"github.com/OutllierRejects/reliefops/pkg/jsonrpc"
)

type Server struct {
	server         *http.Server
	env            *config.Env
	requestServer  *request.Server
	resourceServer *resource.Server
	taskServer     *task.Server
	pipelineServer *orchestrator.Server
	eventServer    *event.Server
	pushServer     *pushnotification.Server
}

func NewServer(
	env *config.Env,
	requestServer *request.Server,
	resourceServer *resource.Server,
	taskServer *task.Server,
	pipelineServer *orchestrator.Server,
	eventServer *event.Server,
	pushServer *pushnotification.Server,
) *Server {
	return &Server{
		env:            env,
		requestServer:  requestServer,
		resourceServer: resourceServer,
		taskServer:     taskServer,
		pipelineServer: pipelineServer,
		eventServer:    eventServer,
		pushServer:     pushServer,
	}
}

// Handler assembles every route behind CORS and the API key check.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Route("/v1", func(r chi.Router) {
		r.Use(
			clog.SlogChiMiddleware(),
			cerr.NewJSONResponseChiMiddleware(),
		)
		r.Get("/requests/{id}/status", s.requestServer.StatusHandler)
		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			cerr.SetNewJSONError(r.Context(), cerr.NotFound, "not found", nil)
		})
	})

	mux := http.NewServeMux()

	mux.Handle("/health", &HealthChecker{})
	mux.Handle("/v1/", r)
	mux.Handle(grpchealth.NewHandler(grpchealth.NewStaticChecker(
		request.ServiceName,
		resource.ServiceName,
		task.ServiceName,
		orchestrator.ServiceName,
		event.ServiceName,
		pushnotification.ServiceName,
	)))

	opts := jsonrpc.HandlerOptions(connect.WithInterceptors(s.interceptors()...))

	mux.Handle(s.requestServer.Handler(opts...))
	mux.Handle(s.resourceServer.Handler(opts...))
	mux.Handle(s.taskServer.Handler(opts...))
	mux.Handle(s.pipelineServer.Handler(opts...))
	mux.Handle(s.eventServer.Handler(opts...))
	mux.Handle(s.pushServer.Handler(opts...))

	return cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.apiKeyMiddleware(mux))
}

// ListenAndServe starts the HTTP server. ctx becomes the base context of
// every request so streaming RPCs end when ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := net.JoinHostPort(s.env.HTTPHost, s.env.HTTPPort)
	slog.Info("starting server", "addr", addr)

	s.server = &http.Server{
		Addr:        addr,
		Handler:     h2c.NewHandler(s.Handler(), &http2.Server{}),
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}

	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

type HealthChecker struct{}

func (hc *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) interceptors() []connect.Interceptor {
	return []connect.Interceptor{
		clog.NewSlogConnectInterceptor(),
		cerr.NewConvertConnectErrorInterceptor(),
	}
}

func public(path string) bool {
	if path == "/health" || path == "/grpc.health.v1.Health/Check" {
		return true
	}
	return strings.HasPrefix(path, "/v1/requests/") && strings.HasSuffix(path, "/status")
}

func (s *Server) apiKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if public(r.URL.Path) || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		apiKey := r.Header.Get("X-API-Key")
		if apiKey == "" {
			apiKey = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(s.env.APIKey)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
