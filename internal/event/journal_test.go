package event_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OutllierRejects/reliefops/internal/event"
	"github.com/OutllierRejects/reliefops/internal/eventbus"
	"github.com/OutllierRejects/reliefops/pkg/cerr"
)

func at(day string, hour int) time.Time {
	d, _ := time.Parse("2006-01-02", day)
	return d.Add(time.Duration(hour) * time.Hour)
}

func TestJournal_AppendAndRead(t *testing.T) {
	dir := t.TempDir()
	j, err := event.NewJournal(dir)
	require.NoError(t, err)

	for _, e := range []*eventbus.Event{
		{ID: "E1", Type: eventbus.RequestSubmitted, ResourceID: "REQ-1", CreatedAt: at("2026-03-01", 1)},
		{ID: "E2", Type: eventbus.TaskCreated, ResourceID: "REQ-1-T01", Metadata: map[string]string{"request_id": "REQ-1"}, CreatedAt: at("2026-03-01", 2)},
		{ID: "E3", Type: eventbus.RequestSubmitted, ResourceID: "REQ-2", CreatedAt: at("2026-03-01", 3)},
		{ID: "E4", Type: eventbus.RequestFailed, ResourceID: "REQ-1", CreatedAt: at("2026-03-02", 1)},
	} {
		require.NoError(t, j.Append(e))
	}
	assert.FileExists(t, filepath.Join(dir, "events_2026-03-01.ndjson"))

	tests := []struct {
		name   string
		day    string
		filter event.Filter
		want   []string
	}{
		{name: "whole day", day: "2026-03-01", want: []string{"E1", "E2", "E3"}},
		{name: "by request", day: "2026-03-01", filter: event.Filter{RequestID: "REQ-1"}, want: []string{"E1", "E2"}},
		{name: "by family", day: "2026-03-01", filter: event.Filter{Types: []string{"request.*"}}, want: []string{"E1", "E3"}},
		{name: "newest only", day: "2026-03-01", filter: event.Filter{Limit: 1}, want: []string{"E3"}},
		{name: "next day", day: "2026-03-02", want: []string{"E4"}},
		{name: "empty day", day: "2026-03-05", want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := j.Read(at(tt.day, 0), tt.filter)
			require.NoError(t, err)
			ids := []string{}
			for _, e := range events {
				ids = append(ids, e.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestJournal_SkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	j, err := event.NewJournal(dir)
	require.NoError(t, err)
	require.NoError(t, j.Append(&eventbus.Event{ID: "E1", Type: eventbus.RequestSubmitted, CreatedAt: at("2026-03-01", 1)}))

	f, err := os.OpenFile(filepath.Join(dir, "events_2026-03-01.ndjson"), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, j.Append(&eventbus.Event{ID: "E2", Type: eventbus.RequestSubmitted, CreatedAt: at("2026-03-01", 2)}))

	events, err := j.Read(at("2026-03-01", 0), event.Filter{})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "E2", events[1].ID)
}

func TestJournal_RunRecordsBusEvents(t *testing.T) {
	j, err := event.NewJournal(t.TempDir())
	require.NoError(t, err)
	bus := eventbus.New()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		j.Run(ctx, bus)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.Eventually(t, func() bool {
		bus.PublishNew(eventbus.RequestSubmitted, "REQ-1", "Trapped", nil)
		events, err := j.Read(time.Now(), event.Filter{RequestID: "REQ-1"})
		return err == nil && len(events) > 0
	}, 5*time.Second, 20*time.Millisecond)
}

func TestServer_ListEvents(t *testing.T) {
	ctx := context.Background()

	_, err := event.NewServer(eventbus.New(), nil).ListEvents(ctx, connect.NewRequest(&event.ListEventsRequest{}))
	assert.True(t, cerr.IsCode(err, cerr.FailedPrecondition))

	j, err := event.NewJournal(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, j.Append(&eventbus.Event{ID: "E1", Type: eventbus.RequestSubmitted, ResourceID: "REQ-1", CreatedAt: at("2026-03-01", 1)}))
	srv := event.NewServer(eventbus.New(), j)

	resp, err := srv.ListEvents(ctx, connect.NewRequest(&event.ListEventsRequest{Date: "2026-03-01"}))
	require.NoError(t, err)
	require.Len(t, resp.Msg.Events, 1)
	assert.Equal(t, "E1", resp.Msg.Events[0].ID)

	_, err = srv.ListEvents(ctx, connect.NewRequest(&event.ListEventsRequest{Date: "March 1st"}))
	assert.Equal(t, "date", cerr.FieldOf(err))
}
