// Package jsonrpc lets Connect serve and call procedures whose messages are
// plain Go structs. It registers a JSON codec under the "json" name, so the
// Connect protocol (unary and streaming) works with application/json and
// application/connect+json bodies.
package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"

	"connectrpc.com/connect"
)

const codecName = "json"

type Codec struct{}

var _ connect.Codec = Codec{}

func (Codec) Name() string { return codecName }

func (Codec) Marshal(msg any) ([]byte, error) {
	return json.Marshal(msg)
}

// MarshalStable is used for GET requests; encoding/json already sorts map keys.
func (Codec) MarshalStable(msg any) ([]byte, error) {
	return json.Marshal(msg)
}

func (Codec) IsBinary() bool { return false }

func (Codec) Unmarshal(data []byte, msg any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(msg); err != nil {
		return fmt.Errorf("decode %T: %w", msg, err)
	}
	return nil
}

// Procedure builds the full procedure path of method on service.
func Procedure(service, method string) string {
	return "/" + service + "/" + method
}

// HandlerOptions are appended to every handler so the JSON codec replaces
// the protobuf based defaults.
func HandlerOptions(opts ...connect.HandlerOption) []connect.HandlerOption {
	return append([]connect.HandlerOption{connect.WithCodec(Codec{})}, opts...)
}

// ClientOptions select the JSON codec for a client.
func ClientOptions(opts ...connect.ClientOption) []connect.ClientOption {
	return append([]connect.ClientOption{connect.WithCodec(Codec{})}, opts...)
}
