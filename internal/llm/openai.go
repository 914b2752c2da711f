package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/sashabaranov/go-openai"

	"github.com/OutllierRejects/reliefops/pkg/cerr"
)

type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	MaxTokens   int
	HTTPClient  *http.Client
}

// OpenAI implements Client with chat completions in JSON schema mode.
type OpenAI struct {
	client *openai.Client
	cfg    OpenAIConfig
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	conf := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		conf.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		conf.HTTPClient = cfg.HTTPClient
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	return &OpenAI{client: openai.NewClientWithConfig(conf), cfg: cfg}
}

func (o *OpenAI) Complete(ctx context.Context, req Request) (string, error) {
	schema := req.Schema
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
		Temperature: o.cfg.Temperature,
		MaxTokens:   o.cfg.MaxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   req.Name,
				Schema: &schema,
			},
		},
	})
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", cerr.NewError(cerr.InvalidArgument, "model returned no choices", nil)
	}
	return resp.Choices[0].Message.Content, nil
}

// classify maps provider failures onto cerr codes: rate limits and server
// errors are transient, other client errors are not.
func classify(err error) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return cerr.NewError(cerr.DeadlineExceeded, "language model timed out", err)
	case errors.Is(err, context.Canceled):
		return cerr.NewError(cerr.Canceled, "language model call cancelled", err)
	case status == http.StatusTooManyRequests:
		return cerr.NewError(cerr.ResourceExhausted, "language model rate limited", err)
	case status == http.StatusRequestTimeout:
		return cerr.NewError(cerr.DeadlineExceeded, "language model timed out", err)
	case status >= 500:
		return cerr.NewError(cerr.Unavailable, "language model unavailable", err)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return cerr.NewError(cerr.FailedPrecondition, "language model credentials rejected", err)
	case status >= 400:
		return cerr.NewError(cerr.InvalidArgument, fmt.Sprintf("language model rejected the request (%d)", status), err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return cerr.NewError(cerr.Unavailable, "language model unreachable", err)
	}
	return cerr.NewError(cerr.Unavailable, "language model call failed", err)
}
