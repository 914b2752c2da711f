// Package llm issues structured-output requests to a language model and
// validates the answer against the expected JSON schema.
package llm

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/sashabaranov/go-openai/jsonschema"

	"github.com/OutllierRejects/reliefops/pkg/cerr"
)

// Request is one structured-output call. Schema describes the JSON object
// the model must answer with; Name identifies it to the provider.
type Request struct {
	Name   string
	System string
	Prompt string
	Schema jsonschema.Definition
}

// Client returns the raw text content of the model's answer. Transient
// provider failures carry a retryable cerr code.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Func adapts a function to Client. Tests use it as the model.
type Func func(ctx context.Context, req Request) (string, error)

func (f Func) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Generate calls c and decodes the validated answer into out. An answer that
// does not match req.Schema is an InvalidArgument error and is not retryable.
func Generate(ctx context.Context, c Client, req Request, out any) error {
	content, err := c.Complete(ctx, req)
	if err != nil {
		return err
	}
	body := StripFences(content)
	if body == "" {
		return cerr.NewError(cerr.InvalidArgument, "model returned an empty answer", nil)
	}
	if err := jsonschema.VerifySchemaAndUnmarshal(req.Schema, []byte(body), out); err != nil {
		return cerr.NewError(cerr.InvalidArgument,
			fmt.Sprintf("model answer does not match the %s schema", req.Name), err)
	}
	return nil
}

// StripFences removes a surrounding ``` or ```json block, which models add
// even when asked for bare JSON.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// Object is a convenience for building object schemas whose properties are
// all required.
func Object(props map[string]jsonschema.Definition) jsonschema.Definition {
	required := make([]string, 0, len(props))
	for name := range props {
		required = append(required, name)
	}
	slices.Sort(required)
	return jsonschema.Definition{
		Type:                 jsonschema.Object,
		Properties:           props,
		Required:             required,
		AdditionalProperties: false,
	}
}

func String(desc string, enum ...string) jsonschema.Definition {
	return jsonschema.Definition{Type: jsonschema.String, Description: desc, Enum: enum}
}

func Number(desc string) jsonschema.Definition {
	return jsonschema.Definition{Type: jsonschema.Number, Description: desc}
}

func Integer(desc string) jsonschema.Definition {
	return jsonschema.Definition{Type: jsonschema.Integer, Description: desc}
}

func Array(desc string, items jsonschema.Definition) jsonschema.Definition {
	return jsonschema.Definition{Type: jsonschema.Array, Description: desc, Items: &items}
}
