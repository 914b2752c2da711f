package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/OutllierRejects/reliefops/pkg/cerr"
)

type SMSConfig struct {
	GatewayURL string
	Token      string
	From       string
}

// SMSTransport posts messages to an HTTP SMS gateway as
// {"from","to","body"} with a bearer token.
type SMSTransport struct {
	cfg    SMSConfig
	client *http.Client
}

func NewSMSTransport(cfg SMSConfig, client *http.Client) *SMSTransport {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &SMSTransport{cfg: cfg, client: client}
}

type smsPayload struct {
	From string `json:"from"`
	To   string `json:"to"`
	Body string `json:"body"`
}

func (t *SMSTransport) Send(ctx context.Context, msg Message) (Status, error) {
	if msg.Recipient == "" {
		return StatusFailed, cerr.NewValidationError("recipient", "phone number is required")
	}
	body, err := json.Marshal(smsPayload{From: t.cfg.From, To: msg.Recipient, Body: msg.Body})
	if err != nil {
		return StatusFailed, cerr.NewError(cerr.Internal, "server error", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.GatewayURL, bytes.NewReader(body))
	if err != nil {
		return StatusFailed, cerr.NewError(cerr.Internal, "server error", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+t.cfg.Token)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return StatusFailed, cerr.NewError(cerr.Unavailable, "sms gateway unavailable", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode < 300:
		return StatusSent, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return StatusFailed, cerr.NewError(cerr.ResourceExhausted, "sms gateway rate limited", nil)
	case resp.StatusCode >= 500:
		return StatusFailed, cerr.NewError(cerr.Unavailable, "sms gateway unavailable", fmt.Errorf("status %d", resp.StatusCode))
	default:
		return StatusFailed, cerr.NewError(cerr.InvalidArgument, "sms rejected", fmt.Errorf("status %d", resp.StatusCode))
	}
}
