package eventbus

import "time"

type EventType string

const (
	RequestSubmitted     EventType = "request.submitted"
	RequestStatusChanged EventType = "request.status_changed"
	RequestResubmitted   EventType = "request.resubmitted"
	RequestApproved      EventType = "request.approved"
	RequestReviewNeeded  EventType = "request.review_required"
	RequestFailed        EventType = "request.failed"
	RequestCancelled     EventType = "request.cancelled"

	StageCompleted EventType = "stage.completed"
	StageFailed    EventType = "stage.failed"

	TaskCreated       EventType = "task.created"
	TaskStatusChanged EventType = "task.status_changed"

	NotificationCreated EventType = "notification.created"
	NotificationSent    EventType = "notification.sent"
	NotificationFailed  EventType = "notification.failed"

	ResourceChanged EventType = "resource.changed"
)

// Event is what subscribers of the bus and clients of the event stream see.
// Payload is a short human readable summary; Metadata carries the ids and
// values a client needs to refresh its view.
type Event struct {
	ID         string            `json:"id"`
	Type       EventType         `json:"type"`
	ResourceID string            `json:"resource_id"`
	Payload    string            `json:"payload,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}
