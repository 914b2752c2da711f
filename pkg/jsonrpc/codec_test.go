package jsonrpc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"connectrpc.com/connect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoRequest struct {
	Text string `json:"text"`
}

type echoResponse struct {
	Text  string `json:"text"`
	Count int    `json:"count"`
}

func TestUnaryRoundTrip(t *testing.T) {
	procedure := Procedure("reliefops.test.v1.EchoService", "Echo")
	mux := http.NewServeMux()
	mux.Handle(procedure, connect.NewUnaryHandler(procedure,
		func(_ context.Context, req *connect.Request[echoRequest]) (*connect.Response[echoResponse], error) {
			return connect.NewResponse(&echoResponse{Text: req.Msg.Text, Count: len(req.Msg.Text)}), nil
		},
		HandlerOptions()...,
	))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client := connect.NewClient[echoRequest, echoResponse](srv.Client(), srv.URL+procedure, ClientOptions()...)
	resp, err := client.CallUnary(context.Background(), connect.NewRequest(&echoRequest{Text: "rescue"}))
	require.NoError(t, err)
	assert.Equal(t, "rescue", resp.Msg.Text)
	assert.Equal(t, 6, resp.Msg.Count)
}

func TestCodec_Unmarshal(t *testing.T) {
	var req echoRequest
	require.NoError(t, Codec{}.Unmarshal(nil, &req))
	assert.Empty(t, req.Text)

	assert.Error(t, Codec{}.Unmarshal([]byte(`{"unknown":1}`), &req))
}

func TestService_Handler(t *testing.T) {
	svc := NewService("reliefops.test.v1.EchoService")
	Unary(svc, "Echo", func(_ context.Context, req *connect.Request[echoRequest]) (*connect.Response[echoResponse], error) {
		return nil, connect.NewError(connect.CodeInvalidArgument, nil)
	})
	path, handler := svc.Handler()
	assert.Equal(t, "/reliefops.test.v1.EchoService/", path)

	mux := http.NewServeMux()
	mux.Handle(path, handler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client := connect.NewClient[echoRequest, echoResponse](srv.Client(),
		srv.URL+Procedure(svc.Name(), "Echo"), ClientOptions()...)
	_, err := client.CallUnary(context.Background(), connect.NewRequest(&echoRequest{}))
	require.Error(t, err)
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
}
