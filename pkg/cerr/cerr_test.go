package cerr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"buf.build/gen/go/bufbuild/protovalidate/protocolbuffers/go/buf/validate"
	"connectrpc.com/connect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OutllierRejects/reliefops/pkg/storage"
)

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		want      Code
		retryable bool
	}{
		{"nil", nil, OK, false},
		{"validation", NewValidationError("description", "description is too short"), InvalidArgument, false},
		{"wrapped unavailable", fmt.Errorf("stage: %w", NewError(Unavailable, "llm unavailable", nil)), Unavailable, true},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), DeadlineExceeded, true},
		{"canceled", context.Canceled, Canceled, false},
		{"conflict", NewError(Aborted, "version conflict", nil), Aborted, true},
		{"plain", errors.New("boom"), Unknown, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CodeOf(tt.err))
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
		})
	}
}

func TestNewValidationError(t *testing.T) {
	err := NewValidationError("description", "description must be at least 10 characters")
	assert.Equal(t, "description", FieldOf(fmt.Errorf("intake: %w", err)))
	assert.Equal(t, "description must be at least 10 characters", Message(err))
	assert.Empty(t, err.Stack, "info level codes do not capture a stack")

	require.Len(t, err.Details, 1)
	v, ok := err.Details[0].(*validate.Violation)
	require.True(t, ok)
	require.Len(t, v.GetField().GetElements(), 1)
	assert.Equal(t, "description", v.GetField().GetElements()[0].GetFieldName())
}

func TestNewError_Stack(t *testing.T) {
	err := NewError(Internal, "server error", errors.New("disk full"))
	assert.NotEmpty(t, err.Stack)
	assert.Equal(t, "[internal] server error: disk full", err.Error())
	assert.Equal(t, "internal error", Message(errors.New("raw")))
}

func TestExtractConnectError(t *testing.T) {
	err := ExtractConnectError(context.Background(), NewError(NotFound, "request not found", storage.ErrNotFound))
	var connectErr *connect.Error
	require.ErrorAs(t, err, &connectErr)
	assert.Equal(t, connect.CodeNotFound, connectErr.Code())
	assert.Equal(t, "request not found", connectErr.Message())
	assert.Equal(t, NotFound, NewCodeFromConnectError(err))

	err = ExtractConnectError(context.Background(), errors.New("secret detail"))
	require.ErrorAs(t, err, &connectErr)
	assert.Equal(t, connect.CodeUnknown, connectErr.Code())
	assert.NotContains(t, connectErr.Message(), "secret")
}

func TestWrapStorageReadError(t *testing.T) {
	err := WrapStorageReadError("request", fmt.Errorf("requests/x.yaml: %w", storage.ErrNotFound))
	assert.True(t, IsCode(err, NotFound))
	assert.Equal(t, "request not found", Message(err))

	err = WrapStorageReadError("request", errors.New("io"))
	assert.True(t, IsCode(err, Internal))
}

func TestJSONResponseChiMiddleware(t *testing.T) {
	h := NewJSONResponseChiMiddleware()(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("fail") != "" {
			SetJSONError(r.Context(), NewValidationError("id", "id is required"))
			return
		}
		SetJSONResponse(r.Context(), map[string]string{"status": "assigned"})
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"assigned"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?fail=1", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"code":"invalid_argument","message":"id is required","field":"id"}`, rec.Body.String())
}
