package notification

import (
	"context"
	"fmt"

	"github.com/OutllierRejects/reliefops/pkg/cerr"
)

// Message is one rendered notification handed to a transport.
type Message struct {
	NotificationID string
	RequestID      string
	Channel        Channel
	RecipientID    string
	Recipient      string
	Subject        string
	Body           string
}

// Transport delivers a message on one channel. A nil error means the message
// was accepted by the provider and the returned status is final for this
// attempt. Retryable failures carry a retryable cerr code.
type Transport interface {
	Send(ctx context.Context, msg Message) (Status, error)
}

type TransportFunc func(ctx context.Context, msg Message) (Status, error)

func (f TransportFunc) Send(ctx context.Context, msg Message) (Status, error) {
	return f(ctx, msg)
}

// Router dispatches on the message channel.
type Router map[Channel]Transport

func (r Router) Send(ctx context.Context, msg Message) (Status, error) {
	t, ok := r[msg.Channel]
	if !ok || t == nil {
		return StatusFailed, cerr.NewError(cerr.FailedPrecondition,
			fmt.Sprintf("channel %s is not configured", msg.Channel), nil)
	}
	return t.Send(ctx, msg)
}

// Has reports whether a transport is configured for ch.
func (r Router) Has(ch Channel) bool {
	t, ok := r[ch]
	return ok && t != nil
}
