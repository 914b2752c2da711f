package client_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"connectrpc.com/connect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OutllierRejects/reliefops/internal/client"
	"github.com/OutllierRejects/reliefops/internal/eventbus"
	"github.com/OutllierRejects/reliefops/internal/request"
	"github.com/OutllierRejects/reliefops/internal/request/repositoryimpl"
	stagelogimpl "github.com/OutllierRejects/reliefops/internal/stagelog/repositoryimpl"
	"github.com/OutllierRejects/reliefops/pkg/cerr"
	"github.com/OutllierRejects/reliefops/pkg/jsonrpc"
	"github.com/OutllierRejects/reliefops/pkg/storage"
)

func TestRequestClient(t *testing.T) {
	s, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	srv := request.NewServer(repositoryimpl.NewYAMLRepository(s), stagelogimpl.NewYAMLRepository(s), nil, nil, eventbus.New())

	var authHeaders []string
	mux := http.NewServeMux()
	mux.Handle(srv.Handler(jsonrpc.HandlerOptions(connect.WithInterceptors(cerr.NewConvertConnectErrorInterceptor()))...))
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeaders = append(authHeaders, r.Header.Get("Authorization"))
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(ts.Close)

	ctx := context.Background()
	c := client.New(ts.URL, "secret", ts.Client())

	created, err := c.Requests.Submit(ctx, &request.SubmitRequestRequest{
		Title:       "Trapped",
		Description: "Person trapped under debris, leg injury",
	})
	require.NoError(t, err)
	assert.Equal(t, request.StatusSubmitted, created.Status)

	got, err := c.Requests.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Trapped", got.Title)

	list, err := c.Requests.List(ctx, &request.ListRequestsRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, list.Total)

	_, err = c.Requests.Get(ctx, "missing")
	assert.Equal(t, connect.CodeNotFound, connect.CodeOf(err))

	_, err = c.Requests.Submit(ctx, &request.SubmitRequestRequest{Title: "No description"})
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))

	for _, h := range authHeaders {
		assert.Equal(t, "Bearer secret", h)
	}
}
