package notification

import (
	"context"

	"github.com/OutllierRejects/reliefops/internal/eventbus"
)

// InAppTransport delivers by publishing on the event bus; connected clients
// pick the message up from the event stream and the stored record serves
// everyone else. It never fails, which is what makes it the fallback channel.
type InAppTransport struct {
	bus *eventbus.Bus
}

func NewInAppTransport(bus *eventbus.Bus) *InAppTransport {
	return &InAppTransport{bus: bus}
}

func (t *InAppTransport) Send(_ context.Context, msg Message) (Status, error) {
	t.bus.PublishNew(eventbus.NotificationCreated, msg.NotificationID, msg.Subject, map[string]string{
		"request_id":   msg.RequestID,
		"recipient_id": msg.RecipientID,
		"channel":      string(ChannelInApp),
	})
	return StatusSent, nil
}
