package notification

import (
	"slices"
	"time"
)

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
	ChannelInApp Channel = "in_app"
)

var Channels = []Channel{ChannelEmail, ChannelSMS, ChannelPush, ChannelInApp}

func (c Channel) Valid() bool {
	return slices.Contains(Channels, c)
}

// Contact is how a requester or responder can be reached. Channels is the
// preference order; an empty list means in-app only.
type Contact struct {
	RecipientID string    `yaml:"recipient_id,omitempty" json:"recipient_id,omitempty"`
	Name        string    `yaml:"name,omitempty" json:"name,omitempty"`
	Email       string    `yaml:"email,omitempty" json:"email,omitempty"`
	Phone       string    `yaml:"phone,omitempty" json:"phone,omitempty"`
	Channels    []Channel `yaml:"channels,omitempty" json:"channels,omitempty"`
}

// Address returns where a message on ch should go, or "" when the contact
// has no address for that channel.
func (c Contact) Address(ch Channel) string {
	switch ch {
	case ChannelEmail:
		return c.Email
	case ChannelSMS:
		return c.Phone
	case ChannelPush, ChannelInApp:
		return c.RecipientID
	}
	return ""
}

// Route picks the channels to notify on: every preferred channel the contact
// has an address for, falling back to in-app.
func (c Contact) Route() []Channel {
	var out []Channel
	for _, ch := range c.Channels {
		if ch.Valid() && c.Address(ch) != "" && !slices.Contains(out, ch) {
			out = append(out, ch)
		}
	}
	if len(out) == 0 {
		return []Channel{ChannelInApp}
	}
	return out
}

type Kind string

const (
	KindRequestStatus  Kind = "request_status"
	KindTaskAssignment Kind = "task_assignment"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusSent     Status = "sent"
	StatusRetrying Status = "retrying"
	StatusFailed   Status = "failed"
)

type Notification struct {
	ID          string     `yaml:"id"`
	RequestID   string     `yaml:"request_id"`
	TaskID      string     `yaml:"task_id,omitempty"`
	Kind        Kind       `yaml:"kind"`
	Channel     Channel    `yaml:"channel"`
	RecipientID string     `yaml:"recipient_id,omitempty"`
	Recipient   string     `yaml:"recipient"`
	Subject     string     `yaml:"subject"`
	Body        string     `yaml:"body"`
	Status      Status     `yaml:"status"`
	Attempts    int        `yaml:"attempts"`
	LastError   string     `yaml:"last_error,omitempty"`
	NextAttempt *time.Time `yaml:"next_attempt,omitempty"`
	SentAt      *time.Time `yaml:"sent_at,omitempty"`
	Version     int        `yaml:"version"`
	CreatedAt   time.Time  `yaml:"created_at"`
	UpdatedAt   time.Time  `yaml:"updated_at"`
}

func (n *Notification) RecordID() string       { return n.ID }
func (n *Notification) RecordVersion() int     { return n.Version }
func (n *Notification) SetRecordVersion(v int) { n.Version = v }

// Due reports whether a retrying notification may be attempted at now.
func (n *Notification) Due(now time.Time) bool {
	if n.Status != StatusRetrying && n.Status != StatusPending {
		return false
	}
	return n.NextAttempt == nil || !n.NextAttempt.After(now)
}
