package pushnotification_test

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"connectrpc.com/connect"
	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OutllierRejects/reliefops/internal/config"
	"github.com/OutllierRejects/reliefops/internal/eventbus"
	"github.com/OutllierRejects/reliefops/internal/notification"
	"github.com/OutllierRejects/reliefops/internal/pushnotification"
	"github.com/OutllierRejects/reliefops/internal/pushsubscription"
	"github.com/OutllierRejects/reliefops/internal/pushsubscription/repositoryimpl"
	"github.com/OutllierRejects/reliefops/pkg/cerr"
	"github.com/OutllierRejects/reliefops/pkg/storage"
)

// pushService answers each endpoint path with a fixed status and counts hits.
type pushService struct {
	*httptest.Server
	mu     sync.Mutex
	status map[string]int
	hits   map[string]int
}

func newPushService(t *testing.T) *pushService {
	t.Helper()
	p := &pushService{status: map[string]int{}, hits: map[string]int{}}
	p.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.hits[r.URL.Path]++
		code, ok := p.status[r.URL.Path]
		if !ok {
			code = http.StatusCreated
		}
		w.WriteHeader(code)
	}))
	t.Cleanup(p.Close)
	return p
}

func (p *pushService) Hits(path string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hits[path]
}

func (p *pushService) SetStatus(path string, code int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status[path] = code
}

type fixture struct {
	repo    *repositoryimpl.YAMLRepository
	vapid   *config.VAPIDEnv
	service *pushService
	sender  *pushnotification.Sender
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	priv, pub, err := webpush.GenerateVAPIDKeys()
	require.NoError(t, err)
	f := &fixture{
		repo:    repositoryimpl.NewYAMLRepository(s),
		vapid:   &config.VAPIDEnv{PublicKey: pub, PrivateKey: priv, ContactEmail: "ops@example.com"},
		service: newPushService(t),
	}
	f.sender = pushnotification.NewSender(f.vapid, f.repo, pushnotification.WithHTTPClient(f.service.Client()))
	return f
}

func (f *fixture) subscribe(t *testing.T, id, path, recipient string, operator bool) {
	t.Helper()
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	auth := make([]byte, 16)
	_, err = rand.Read(auth)
	require.NoError(t, err)
	require.NoError(t, f.repo.Create(context.Background(), &pushsubscription.Subscription{
		ID:          id,
		RecipientID: recipient,
		Operator:    operator,
		Endpoint:    f.service.URL + path,
		P256dhKey:   base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes()),
		AuthKey:     base64.RawURLEncoding.EncodeToString(auth),
		CreatedAt:   time.Now(),
	}))
}

func message(recipient string) notification.Message {
	return notification.Message{
		NotificationID: "REQ-1-N01",
		RequestID:      "REQ-1",
		Channel:        notification.ChannelPush,
		RecipientID:    recipient,
		Recipient:      recipient,
		Subject:        "Request assigned",
		Body:           "Help is on the way",
	}
}

func TestSender_Send(t *testing.T) {
	ctx := context.Background()

	t.Run("expired subscription is removed", func(t *testing.T) {
		f := newFixture(t)
		f.subscribe(t, "S1", "/live", "alice", false)
		f.subscribe(t, "S2", "/gone", "alice", false)
		f.subscribe(t, "S3", "/other", "bob", false)
		f.service.SetStatus("/gone", http.StatusGone)

		status, err := f.sender.Send(ctx, message("alice"))
		require.NoError(t, err)
		assert.Equal(t, notification.StatusSent, status)
		assert.Equal(t, 1, f.service.Hits("/live"))
		assert.Equal(t, 1, f.service.Hits("/gone"))
		assert.Zero(t, f.service.Hits("/other"))

		_, err = f.repo.Get(ctx, "S2")
		assert.True(t, cerr.IsCode(err, cerr.NotFound))
	})

	t.Run("no subscription", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.sender.Send(ctx, message("alice"))
		assert.True(t, cerr.IsCode(err, cerr.FailedPrecondition))
		assert.False(t, cerr.IsRetryable(err))
	})

	t.Run("every endpoint failing is retryable", func(t *testing.T) {
		f := newFixture(t)
		f.subscribe(t, "S1", "/broken", "alice", false)
		f.service.SetStatus("/broken", http.StatusInternalServerError)

		status, err := f.sender.Send(ctx, message("alice"))
		assert.Equal(t, notification.StatusFailed, status)
		assert.True(t, cerr.IsCode(err, cerr.Unavailable))

		_, err = f.repo.Get(ctx, "S1")
		assert.NoError(t, err)
	})

	t.Run("missing VAPID keys", func(t *testing.T) {
		f := newFixture(t)
		f.subscribe(t, "S1", "/live", "alice", false)
		sender := pushnotification.NewSender(&config.VAPIDEnv{}, f.repo)

		_, err := sender.Send(ctx, message("alice"))
		assert.True(t, cerr.IsCode(err, cerr.FailedPrecondition))
		assert.Zero(t, f.service.Hits("/live"))
	})
}

func TestSender_SendToOperators(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, "S1", "/desk-1", "", true)
	f.subscribe(t, "S2", "/desk-2", "", true)
	f.subscribe(t, "S3", "/alice", "alice", false)
	f.service.SetStatus("/desk-2", http.StatusBadRequest)

	n, err := f.sender.SendToOperators(context.Background(), &pushnotification.NotificationPayload{Title: "t", Body: "b"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Zero(t, f.service.Hits("/alice"))
}

func TestDispatcher(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, "S1", "/desk", "", true)
	bus := eventbus.New()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		pushnotification.NewDispatcher(bus, f.sender).Start(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Events published before the subscription lands are lost, so keep
	// publishing until the first alert arrives.
	require.Eventually(t, func() bool {
		bus.PublishNew(eventbus.RequestFailed, "REQ-1", "Flooded basement", map[string]string{
			"stage": "prioritization", "reason": "model unavailable",
		})
		return f.service.Hits("/desk") > 0
	}, 5*time.Second, 20*time.Millisecond)
}

func TestServer_RegisterPushSubscription(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	srv := pushnotification.NewServer(f.vapid, f.repo, f.sender)

	key, err := srv.GetVapidPublicKey(ctx, connect.NewRequest(&pushnotification.GetVapidPublicKeyRequest{}))
	require.NoError(t, err)
	assert.Equal(t, f.vapid.PublicKey, key.Msg.PublicKey)

	_, err = srv.RegisterPushSubscription(ctx, connect.NewRequest(&pushnotification.RegisterPushSubscriptionRequest{
		Endpoint: "https://push.example/1", P256dhKey: "k", AuthKey: "a",
	}))
	assert.Equal(t, "recipient_id", cerr.FieldOf(err))

	req := &pushnotification.RegisterPushSubscriptionRequest{
		Endpoint: "https://push.example/1", P256dhKey: "k1", AuthKey: "a1", RecipientID: "alice",
	}
	first, err := srv.RegisterPushSubscription(ctx, connect.NewRequest(req))
	require.NoError(t, err)

	req.P256dhKey = "k2"
	second, err := srv.RegisterPushSubscription(ctx, connect.NewRequest(req))
	require.NoError(t, err)
	assert.Equal(t, first.Msg.ID, second.Msg.ID)

	subs, err := f.repo.List(ctx, pushsubscription.ListFilter{})
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "k2", subs[0].P256dhKey)

	_, err = srv.UnregisterPushSubscription(ctx, connect.NewRequest(&pushnotification.UnregisterPushSubscriptionRequest{Endpoint: req.Endpoint}))
	require.NoError(t, err)
	_, err = srv.UnregisterPushSubscription(ctx, connect.NewRequest(&pushnotification.UnregisterPushSubscriptionRequest{Endpoint: req.Endpoint}))
	require.NoError(t, err)

	subs, err = f.repo.List(ctx, pushsubscription.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, subs)
}
