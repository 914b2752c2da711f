package pushnotification

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OutllierRejects/reliefops/internal/eventbus"
)

func TestAlertFor(t *testing.T) {
	tests := []struct {
		name     string
		event    eventbus.Event
		wantNil  bool
		wantBody string
		wantURL  string
	}{
		{
			name: "request failed",
			event: eventbus.Event{Type: eventbus.RequestFailed, ResourceID: "REQ-1", Payload: "Flooded basement",
				Metadata: map[string]string{"stage": "prioritization", "reason": "model unavailable"}},
			wantBody: "Flooded basement failed at prioritization: model unavailable",
			wantURL:  "/requests/REQ-1",
		},
		{
			name: "review required",
			event: eventbus.Event{Type: eventbus.RequestReviewNeeded, ResourceID: "REQ-2", Payload: "Unclear report",
				Metadata: map[string]string{"confidence": "0.30"}},
			wantBody: "Unclear report needs review (confidence 0.30)",
			wantURL:  "/requests/REQ-2",
		},
		{
			name: "sms notification failed",
			event: eventbus.Event{Type: eventbus.NotificationFailed, ResourceID: "REQ-3-N01", Payload: "gateway rejected",
				Metadata: map[string]string{"channel": "sms", "recipient_id": "alice", "request_id": "REQ-3"}},
			wantBody: "sms message to alice failed: gateway rejected",
			wantURL:  "/requests/REQ-3",
		},
		{
			name:    "push notification failed",
			event:   eventbus.Event{Type: eventbus.NotificationFailed, Metadata: map[string]string{"channel": "push"}},
			wantNil: true,
		},
		{
			name:    "routine event",
			event:   eventbus.Event{Type: eventbus.StageCompleted},
			wantNil: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := alertFor(&tt.event)
			if tt.wantNil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.wantBody, got.Body)
			assert.Equal(t, tt.wantURL, got.URL)
		})
	}
}
