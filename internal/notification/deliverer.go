package notification

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/OutllierRejects/reliefops/internal/eventbus"
	"github.com/OutllierRejects/reliefops/pkg/cerr"
)

type DelivererConfig struct {
	MaxAttempts int
	// Backoff before the second attempt; doubles for every further attempt.
	Backoff     time.Duration
	Concurrency int
	// Lease is how long a claimed notification is hidden from the retry
	// sweep while its send is in flight.
	Lease time.Duration
}

const defaultLease = 2 * time.Minute

// Deliverer performs delivery attempts and records their outcome on the
// notification. Each notification is independent: one failing never stops
// or delays another.
type Deliverer struct {
	repo      Repository
	transport Transport
	bus       *eventbus.Bus
	cfg       DelivererConfig
	now       func() time.Time
}

func NewDeliverer(repo Repository, transport Transport, bus *eventbus.Bus, cfg DelivererConfig) *Deliverer {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.Lease <= 0 {
		cfg.Lease = defaultLease
	}
	return &Deliverer{repo: repo, transport: transport, bus: bus, cfg: cfg, now: time.Now}
}

// Deliver makes one attempt for n and persists the outcome. The returned
// error is only about persistence; delivery failures are recorded on n.
// When another caller claimed n first, nothing is sent.
func (d *Deliverer) Deliver(ctx context.Context, n *Notification) error {
	claimed, err := d.claim(ctx, n)
	if err != nil || !claimed {
		return err
	}
	status, sendErr := d.transport.Send(ctx, Message{
		NotificationID: n.ID,
		RequestID:      n.RequestID,
		Channel:        n.Channel,
		RecipientID:    n.RecipientID,
		Recipient:      n.Recipient,
		Subject:        n.Subject,
		Body:           n.Body,
	})
	now := d.now()
	n.UpdatedAt = now

	switch {
	case sendErr == nil && status == StatusSent:
		n.Status = StatusSent
		n.SentAt = &now
		n.NextAttempt = nil
		n.LastError = ""
	case d.exhausted(n, sendErr):
		n.Status = StatusFailed
		n.NextAttempt = nil
		n.LastError = failureText(sendErr)
	default:
		next := now.Add(d.backoff(n.Attempts))
		n.Status = StatusRetrying
		n.NextAttempt = &next
		n.LastError = failureText(sendErr)
	}

	if err := d.repo.Update(ctx, n); err != nil {
		return err
	}

	switch n.Status {
	case StatusSent:
		d.bus.PublishNew(eventbus.NotificationSent, n.ID, n.Subject, d.metadata(n))
	case StatusFailed:
		slog.WarnContext(ctx, "notification: delivery failed permanently",
			"notification_id", n.ID, "request_id", n.RequestID, "channel", n.Channel,
			"attempts", n.Attempts, "error", sendErr)
		d.bus.PublishNew(eventbus.NotificationFailed, n.ID, n.LastError, d.metadata(n))
	case StatusRetrying:
		slog.InfoContext(ctx, "notification: delivery will be retried",
			"notification_id", n.ID, "channel", n.Channel, "attempts", n.Attempts, "error", sendErr)
	}
	return nil
}

// claim records the attempt and leases n before the transport is called.
// A stale copy loses on the version check and reports false.
func (d *Deliverer) claim(ctx context.Context, n *Notification) (bool, error) {
	now := d.now()
	if !n.Due(now) {
		return false, nil
	}
	lease := now.Add(d.cfg.Lease)
	n.Attempts++
	n.NextAttempt = &lease
	n.UpdatedAt = now
	if err := d.repo.Update(ctx, n); err != nil {
		if cerr.IsCode(err, cerr.Aborted) {
			slog.DebugContext(ctx, "notification: already claimed", "notification_id", n.ID)
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// DeliverAll attempts every notification with bounded concurrency.
func (d *Deliverer) DeliverAll(ctx context.Context, ns []*Notification) {
	var g errgroup.Group
	g.SetLimit(d.cfg.Concurrency)
	for _, n := range ns {
		g.Go(func() error {
			if err := d.Deliver(ctx, n); err != nil {
				slog.ErrorContext(ctx, "notification: failed to record delivery",
					"notification_id", n.ID, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// RetryDue re-attempts every notification whose backoff has elapsed and
// returns how many were attempted.
func (d *Deliverer) RetryDue(ctx context.Context) (int, error) {
	pending, _, err := d.repo.List(ctx, ListFilter{Statuses: []Status{StatusPending, StatusRetrying}})
	if err != nil {
		return 0, err
	}
	now := d.now()
	due := make([]*Notification, 0, len(pending))
	for _, n := range pending {
		if n.Due(now) {
			due = append(due, n)
		}
	}
	d.DeliverAll(ctx, due)
	return len(due), nil
}

func (d *Deliverer) exhausted(n *Notification, err error) bool {
	if n.Attempts >= d.cfg.MaxAttempts {
		return true
	}
	// Bad addresses and unconfigured channels will not fix themselves.
	switch cerr.CodeOf(err) {
	case cerr.InvalidArgument, cerr.FailedPrecondition:
		return true
	}
	return false
}

func (d *Deliverer) backoff(attempts int) time.Duration {
	b := d.cfg.Backoff
	for i := 1; i < attempts; i++ {
		b *= 2
	}
	return b
}

func (d *Deliverer) metadata(n *Notification) map[string]string {
	return map[string]string{
		"request_id":   n.RequestID,
		"recipient_id": n.RecipientID,
		"channel":      string(n.Channel),
		"status":       string(n.Status),
	}
}

func failureText(err error) string {
	if err == nil {
		return "transport reported no delivery"
	}
	return cerr.Message(err)
}
