package pushnotification

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/OutllierRejects/reliefops/internal/eventbus"
)

// Dispatcher turns pipeline events that need a human into operator push
// alerts.
type Dispatcher struct {
	eventBus *eventbus.Bus
	sender   *Sender
}

func NewDispatcher(eventBus *eventbus.Bus, sender *Sender) *Dispatcher {
	return &Dispatcher{
		eventBus: eventBus,
		sender:   sender,
	}
}

// Start blocks until ctx is done.
func (d *Dispatcher) Start(ctx context.Context) {
	subID, ch := d.eventBus.Subscribe(256)
	defer d.eventBus.Unsubscribe(subID)

	slog.Info("push notification dispatcher started")
	for {
		select {
		case <-ctx.Done():
			slog.Info("push notification dispatcher stopped")
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			payload := alertFor(event)
			if payload == nil {
				continue
			}
			if _, err := d.sender.SendToOperators(ctx, payload); err != nil {
				slog.ErrorContext(ctx, "push dispatcher: failed to alert operators",
					"event", event.Type, "resource_id", event.ResourceID, "error", err)
			}
		}
	}
}

func alertFor(event *eventbus.Event) *NotificationPayload {
	switch event.Type {
	case eventbus.RequestFailed:
		return &NotificationPayload{
			Title: "Request failed",
			Body:  fmt.Sprintf("%s failed at %s: %s", event.Payload, event.Metadata["stage"], event.Metadata["reason"]),
			URL:   "/requests/" + event.ResourceID,
			Tag:   event.ResourceID,
		}
	case eventbus.RequestReviewNeeded:
		return &NotificationPayload{
			Title: "Review required",
			Body:  fmt.Sprintf("%s needs review (confidence %s)", event.Payload, event.Metadata["confidence"]),
			URL:   "/requests/" + event.ResourceID,
			Tag:   event.ResourceID,
		}
	case eventbus.NotificationFailed:
		// Push failures would alert over the channel that just failed.
		if event.Metadata["channel"] == "push" {
			return nil
		}
		return &NotificationPayload{
			Title: "Notification undeliverable",
			Body:  fmt.Sprintf("%s message to %s failed: %s", event.Metadata["channel"], event.Metadata["recipient_id"], event.Payload),
			URL:   "/requests/" + event.Metadata["request_id"],
			Tag:   event.ResourceID,
		}
	}
	return nil
}
