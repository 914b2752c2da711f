package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sashabaranov/go-openai/jsonschema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OutllierRejects/reliefops/pkg/cerr"
)

type answer struct {
	Urgency string   `json:"urgency"`
	Needs   []string `json:"needs"`
	Score   float64  `json:"score"`
}

var answerSchema = Object(map[string]jsonschema.Definition{
	"urgency": String("urgency", "critical", "high", "medium", "low"),
	"needs":   Array("needs", String("need")),
	"score":   Number("score"),
})

func TestStripFences(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}\n```\n", `{"a":1}`},
		{"  {\"a\":1}  ", `{"a":1}`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StripFences(tt.in))
	}
}

func TestGenerate(t *testing.T) {
	ctx := context.Background()
	req := Request{Name: "answer", Schema: answerSchema}

	var out answer
	err := Generate(ctx, Func(func(context.Context, Request) (string, error) {
		return "```json\n{\"urgency\":\"high\",\"needs\":[\"water\"],\"score\":0.8}\n```", nil
	}), req, &out)
	require.NoError(t, err)
	assert.Equal(t, answer{Urgency: "high", Needs: []string{"water"}, Score: 0.8}, out)

	err = Generate(ctx, Func(func(context.Context, Request) (string, error) {
		return `{"urgency":"high","needs":"water","score":0.8}`, nil
	}), req, &out)
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))
	assert.False(t, cerr.IsRetryable(err))

	err = Generate(ctx, Func(func(context.Context, Request) (string, error) {
		return `{"urgency":"high"}`, nil
	}), req, &out)
	assert.True(t, cerr.IsCode(err, cerr.InvalidArgument), "missing required properties")
}

func TestOpenAI_Complete(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"{\"urgency\":\"low\",\"needs\":[],\"score\":0.1}"},"finish_reason":"stop"}]}`))
	}))
	t.Cleanup(srv.Close)

	client := NewOpenAI(OpenAIConfig{APIKey: "test", BaseURL: srv.URL + "/v1", Model: "gpt-4o-mini"})
	var out answer
	require.NoError(t, Generate(context.Background(), client, Request{Name: "answer", Prompt: "hi", Schema: answerSchema}, &out))
	assert.Equal(t, "low", out.Urgency)
	assert.Equal(t, "gpt-4o-mini", got["model"])
	format, ok := got["response_format"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "json_schema", format["type"])
}

func TestOpenAI_ErrorClassification(t *testing.T) {
	tests := []struct {
		status int
		code   cerr.Code
	}{
		{http.StatusTooManyRequests, cerr.ResourceExhausted},
		{http.StatusBadGateway, cerr.Unavailable},
		{http.StatusBadRequest, cerr.InvalidArgument},
		{http.StatusUnauthorized, cerr.FailedPrecondition},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":{"message":"nope","type":"test"}}`))
			}))
			defer srv.Close()

			client := NewOpenAI(OpenAIConfig{APIKey: "test", BaseURL: srv.URL + "/v1"})
			_, err := client.Complete(context.Background(), Request{Name: "answer", Schema: answerSchema})
			require.Error(t, err)
			assert.Equal(t, tt.code, cerr.CodeOf(err))
		})
	}
}
