package pushnotification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/OutllierRejects/reliefops/internal/config"
	"github.com/OutllierRejects/reliefops/internal/notification"
	"github.com/OutllierRejects/reliefops/internal/pushsubscription"
	"github.com/OutllierRejects/reliefops/pkg/cerr"
)

const ttlSeconds = 86400

type NotificationPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url,omitempty"`
	Tag   string `json:"tag,omitempty"`
}

type Sender struct {
	vapidEnv *config.VAPIDEnv
	repo     pushsubscription.Repository
	client   webpush.HTTPClient
}

type Option func(*Sender)

// WithHTTPClient replaces the client used to reach push services.
func WithHTTPClient(c webpush.HTTPClient) Option {
	return func(s *Sender) { s.client = c }
}

func NewSender(vapidEnv *config.VAPIDEnv, repo pushsubscription.Repository, opts ...Option) *Sender {
	s := &Sender{
		vapidEnv: vapidEnv,
		repo:     repo,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

var _ notification.Transport = (*Sender)(nil)

func (s *Sender) Configured() bool {
	return s.vapidEnv != nil && s.vapidEnv.PublicKey != "" && s.vapidEnv.PrivateKey != ""
}

// Send delivers msg to every subscription of its recipient. It succeeds when
// at least one push service accepted the message.
func (s *Sender) Send(ctx context.Context, msg notification.Message) (notification.Status, error) {
	if !s.Configured() {
		return notification.StatusFailed, cerr.NewError(cerr.FailedPrecondition, "VAPID keys not configured", nil)
	}
	if msg.Recipient == "" {
		return notification.StatusFailed, cerr.NewValidationError("recipient", "recipient id is required")
	}
	subs, err := s.repo.List(ctx, pushsubscription.ListFilter{RecipientID: msg.Recipient})
	if err != nil {
		return notification.StatusFailed, err
	}
	if len(subs) == 0 {
		return notification.StatusFailed, cerr.NewError(cerr.FailedPrecondition,
			fmt.Sprintf("recipient %s has no push subscription", msg.Recipient), nil)
	}
	data, err := json.Marshal(&NotificationPayload{
		Title: msg.Subject,
		Body:  msg.Body,
		URL:   "/requests/" + msg.RequestID,
		Tag:   msg.NotificationID,
	})
	if err != nil {
		return notification.StatusFailed, cerr.NewError(cerr.Internal, "server error", err)
	}

	var lastErr error
	delivered := 0
	for _, sub := range subs {
		if err := s.sendToSubscription(ctx, sub, data); err != nil {
			lastErr = err
			continue
		}
		delivered++
	}
	if delivered == 0 {
		return notification.StatusFailed, cerr.NewError(cerr.Unavailable, "push delivery failed", lastErr)
	}
	return notification.StatusSent, nil
}

// SendToOperators pushes payload to every operator subscription and returns
// how many were reached. Failures are logged, never returned per endpoint.
func (s *Sender) SendToOperators(ctx context.Context, payload *NotificationPayload) (int, error) {
	if !s.Configured() {
		slog.WarnContext(ctx, "push notification: VAPID keys not configured, skipping")
		return 0, nil
	}
	subs, err := s.repo.List(ctx, pushsubscription.ListFilter{Operators: true})
	if err != nil {
		return 0, err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, cerr.NewError(cerr.Internal, "server error", err)
	}
	sent := 0
	for _, sub := range subs {
		if err := s.sendToSubscription(ctx, sub, data); err != nil {
			slog.WarnContext(ctx, "push notification: operator alert failed",
				"endpoint", sub.Endpoint, "error", err)
			continue
		}
		sent++
	}
	return sent, nil
}

// errExpired marks a subscription the push service no longer knows.
var errExpired = cerr.NewError(cerr.NotFound, "push subscription expired", nil)

func (s *Sender) sendToSubscription(ctx context.Context, sub *pushsubscription.Subscription, data []byte) error {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dhKey,
			Auth:   sub.AuthKey,
		},
	}

	resp, err := webpush.SendNotificationWithContext(ctx, data, wpSub, &webpush.Options{
		HTTPClient:      s.client,
		VAPIDPublicKey:  s.vapidEnv.PublicKey,
		VAPIDPrivateKey: s.vapidEnv.PrivateKey,
		Subscriber:      s.vapidEnv.ContactEmail,
		TTL:             ttlSeconds,
	})
	if err != nil {
		slog.ErrorContext(ctx, "push notification: failed to send", "endpoint", sub.Endpoint, "error", err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound {
		slog.InfoContext(ctx, "push notification: subscription expired, removing", "endpoint", sub.Endpoint)
		if err := s.repo.Delete(ctx, sub.ID); err != nil {
			slog.ErrorContext(ctx, "push notification: failed to delete expired subscription", "id", sub.ID, "error", err)
		}
		return errExpired
	}

	if resp.StatusCode >= 400 {
		slog.WarnContext(ctx, "push notification: unexpected status", "endpoint", sub.Endpoint, "status", resp.StatusCode)
		return fmt.Errorf("push service returned %d", resp.StatusCode)
	}
	return nil
}
