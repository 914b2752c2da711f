package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestBus_PublishSubscribe(t *testing.T) {
	bus := New()
	id1, ch1 := bus.Subscribe(4)
	id2, ch2 := bus.Subscribe(4)
	defer bus.Unsubscribe(id1)
	defer bus.Unsubscribe(id2)

	bus.PublishNew(RequestSubmitted, "REQ-1", "submitted", map[string]string{"status": "submitted"})

	for _, ch := range []<-chan *Event{ch1, ch2} {
		ev := <-ch
		require.NotNil(t, ev)
		assert.Equal(t, RequestSubmitted, ev.Type)
		assert.Equal(t, "REQ-1", ev.ResourceID)
		assert.Equal(t, "submitted", ev.Metadata["status"])
		assert.NotEmpty(t, ev.ID)
		assert.False(t, ev.CreatedAt.IsZero())
	}
}

func TestBus_SlowSubscriberDrops(t *testing.T) {
	bus := New()
	id, ch := bus.Subscribe(1)
	defer bus.Unsubscribe(id)

	bus.PublishNew(StageCompleted, "REQ-1", "intake", nil)
	bus.PublishNew(StageCompleted, "REQ-1", "prioritization", nil)
	bus.PublishNew(StageCompleted, "REQ-1", "assignment", nil)

	ev := <-ch
	assert.Equal(t, "intake", ev.Payload)
	assert.Equal(t, 2, bus.Dropped(id))
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := New()
	id, ch := bus.Subscribe(1)
	bus.Unsubscribe(id)

	_, ok := <-ch
	assert.False(t, ok, "channel is closed on unsubscribe")

	bus.Unsubscribe(id)
	bus.PublishNew(RequestCancelled, "REQ-1", "", nil)
}
