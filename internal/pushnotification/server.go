package pushnotification

import (
	"context"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/oklog/ulid/v2"

	"github.com/OutllierRejects/reliefops/internal/config"
	"github.com/OutllierRejects/reliefops/internal/pushsubscription"
	"github.com/OutllierRejects/reliefops/pkg/cerr"
	"github.com/OutllierRejects/reliefops/pkg/jsonrpc"
)

const ServiceName = "reliefops.v1.PushService"

type Server struct {
	vapidEnv *config.VAPIDEnv
	repo     pushsubscription.Repository
	sender   *Sender
}

func NewServer(vapidEnv *config.VAPIDEnv, repo pushsubscription.Repository, sender *Sender) *Server {
	return &Server{
		vapidEnv: vapidEnv,
		repo:     repo,
		sender:   sender,
	}
}

func (s *Server) Handler(opts ...connect.HandlerOption) (string, http.Handler) {
	svc := jsonrpc.NewService(ServiceName, opts...)
	jsonrpc.Unary(svc, "GetVapidPublicKey", s.GetVapidPublicKey)
	jsonrpc.Unary(svc, "RegisterPushSubscription", s.RegisterPushSubscription)
	jsonrpc.Unary(svc, "UnregisterPushSubscription", s.UnregisterPushSubscription)
	jsonrpc.Unary(svc, "SendTestNotification", s.SendTestNotification)
	return svc.Handler()
}

type GetVapidPublicKeyRequest struct{}

type GetVapidPublicKeyResponse struct {
	PublicKey string `json:"public_key"`
}

type RegisterPushSubscriptionRequest struct {
	Endpoint    string `json:"endpoint"`
	P256dhKey   string `json:"p256dh_key"`
	AuthKey     string `json:"auth_key"`
	RecipientID string `json:"recipient_id,omitempty"`
	Operator    bool   `json:"operator,omitempty"`
}

type RegisterPushSubscriptionResponse struct {
	ID string `json:"id"`
}

type UnregisterPushSubscriptionRequest struct {
	Endpoint string `json:"endpoint"`
}

type UnregisterPushSubscriptionResponse struct{}

type SendTestNotificationRequest struct{}

type SendTestNotificationResponse struct {
	Sent int `json:"sent"`
}

func (s *Server) GetVapidPublicKey(_ context.Context, _ *connect.Request[GetVapidPublicKeyRequest]) (*connect.Response[GetVapidPublicKeyResponse], error) {
	if s.vapidEnv.PublicKey == "" {
		return nil, cerr.NewError(cerr.FailedPrecondition, "VAPID keys not configured", nil)
	}
	return connect.NewResponse(&GetVapidPublicKeyResponse{
		PublicKey: s.vapidEnv.PublicKey,
	}), nil
}

// RegisterPushSubscription is idempotent per endpoint: registering a known
// endpoint again replaces its keys and owner.
func (s *Server) RegisterPushSubscription(ctx context.Context, req *connect.Request[RegisterPushSubscriptionRequest]) (*connect.Response[RegisterPushSubscriptionResponse], error) {
	if req.Msg.Endpoint == "" {
		return nil, cerr.NewValidationError("endpoint", "endpoint is required")
	}
	if req.Msg.P256dhKey == "" {
		return nil, cerr.NewValidationError("p256dh_key", "p256dh_key is required")
	}
	if req.Msg.AuthKey == "" {
		return nil, cerr.NewValidationError("auth_key", "auth_key is required")
	}
	if req.Msg.RecipientID == "" && !req.Msg.Operator {
		return nil, cerr.NewValidationError("recipient_id", "recipient_id is required unless operator is set")
	}

	sub := &pushsubscription.Subscription{
		ID:        ulid.Make().String(),
		CreatedAt: time.Now(),
	}
	existing, err := s.repo.FindByEndpoint(ctx, req.Msg.Endpoint)
	switch {
	case err == nil:
		if err := s.repo.Delete(ctx, existing.ID); err != nil {
			return nil, err
		}
		sub.ID = existing.ID
		sub.CreatedAt = existing.CreatedAt
	case !cerr.IsCode(err, cerr.NotFound):
		return nil, err
	}
	sub.Endpoint = req.Msg.Endpoint
	sub.P256dhKey = req.Msg.P256dhKey
	sub.AuthKey = req.Msg.AuthKey
	sub.RecipientID = req.Msg.RecipientID
	sub.Operator = req.Msg.Operator
	if err := s.repo.Create(ctx, sub); err != nil {
		return nil, err
	}
	return connect.NewResponse(&RegisterPushSubscriptionResponse{ID: sub.ID}), nil
}

func (s *Server) UnregisterPushSubscription(ctx context.Context, req *connect.Request[UnregisterPushSubscriptionRequest]) (*connect.Response[UnregisterPushSubscriptionResponse], error) {
	if req.Msg.Endpoint == "" {
		return nil, cerr.NewValidationError("endpoint", "endpoint is required")
	}
	if err := s.repo.DeleteByEndpoint(ctx, req.Msg.Endpoint); err != nil && !cerr.IsCode(err, cerr.NotFound) {
		return nil, err
	}
	return connect.NewResponse(&UnregisterPushSubscriptionResponse{}), nil
}

func (s *Server) SendTestNotification(ctx context.Context, _ *connect.Request[SendTestNotificationRequest]) (*connect.Response[SendTestNotificationResponse], error) {
	n, err := s.sender.SendToOperators(ctx, &NotificationPayload{
		Title: "ReliefOps Test",
		Body:  "Push notifications are working!",
	})
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&SendTestNotificationResponse{Sent: n}), nil
}
