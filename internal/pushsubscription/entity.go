package pushsubscription

import "time"

// Subscription is a browser Web Push endpoint. RecipientID ties it to a
// requester or responder; Operator subscriptions receive pipeline alerts.
type Subscription struct {
	ID          string    `yaml:"id"`
	RecipientID string    `yaml:"recipient_id,omitempty"`
	Operator    bool      `yaml:"operator,omitempty"`
	Endpoint    string    `yaml:"endpoint"`
	P256dhKey   string    `yaml:"p256dh_key"`
	AuthKey     string    `yaml:"auth_key"`
	CreatedAt   time.Time `yaml:"created_at"`
}

func (s *Subscription) RecordID() string { return s.ID }
