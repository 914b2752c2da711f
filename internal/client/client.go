// Package client is a typed Connect client for the reliefops services.
package client

import (
	"context"
	"net/http"

	"connectrpc.com/connect"

	"github.com/OutllierRejects/reliefops/pkg/jsonrpc"
)

type Client struct {
	Requests  *RequestClient
	Resources *ResourceClient
	Tasks     *TaskClient
	Pipeline  *PipelineClient
	Events    *EventClient
}

// New connects to the server at baseURL and authenticates every call with
// apiKey.
func New(baseURL, apiKey string, httpClient connect.HTTPClient) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	c := &conn{
		baseURL:    baseURL,
		httpClient: httpClient,
		opts:       jsonrpc.ClientOptions(connect.WithInterceptors(newAuthInterceptor(apiKey))),
	}
	return &Client{
		Requests:  newRequestClient(c),
		Resources: newResourceClient(c),
		Tasks:     newTaskClient(c),
		Pipeline:  newPipelineClient(c),
		Events:    newEventClient(c),
	}
}

type conn struct {
	baseURL    string
	httpClient connect.HTTPClient
	opts       []connect.ClientOption
}

func method[Req, Res any](c *conn, service, name string) *connect.Client[Req, Res] {
	return connect.NewClient[Req, Res](c.httpClient, c.baseURL+jsonrpc.Procedure(service, name), c.opts...)
}

// authInterceptor adds the API key to outgoing requests.
type authInterceptor struct {
	apiKey string
}

func newAuthInterceptor(apiKey string) *authInterceptor {
	return &authInterceptor{apiKey: apiKey}
}

func (i *authInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		req.Header().Set("Authorization", "Bearer "+i.apiKey)
		return next(ctx, req)
	}
}

func (i *authInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return func(ctx context.Context, spec connect.Spec) connect.StreamingClientConn {
		conn := next(ctx, spec)
		conn.RequestHeader().Set("Authorization", "Bearer "+i.apiKey)
		return conn
	}
}

func (i *authInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return next
}
