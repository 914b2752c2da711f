package event

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/OutllierRejects/reliefops/internal/eventbus"
)

const dateLayout = "2006-01-02"

// Journal appends every bus event to a daily NDJSON file so the event
// history outlives the in-memory bus.
type Journal struct {
	dir string
	mu  sync.Mutex
}

func NewJournal(dir string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}
	return &Journal{dir: dir}, nil
}

func (j *Journal) path(day time.Time) string {
	return filepath.Join(j.dir, fmt.Sprintf("events_%s.ndjson", day.UTC().Format(dateLayout)))
}

func (j *Journal) Append(e *eventbus.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	data = append(data, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.OpenFile(j.path(e.CreatedAt), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("failed to write event to journal: %w", err)
	}
	return nil
}

// Run records events from bus until ctx is done.
func (j *Journal) Run(ctx context.Context, bus *eventbus.Bus) {
	subID, ch := bus.Subscribe(1024)
	defer bus.Unsubscribe(subID)

	for {
		select {
		case <-ctx.Done():
			if n := bus.Dropped(subID); n > 0 {
				slog.Warn("event journal: events dropped", "count", n)
			}
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if err := j.Append(e); err != nil {
				slog.Error("event journal: failed to append", "event_id", e.ID, "error", err)
			}
		}
	}
}

type Filter struct {
	Types     []string
	RequestID string
	// Limit keeps the newest Limit events. Zero keeps all.
	Limit int
}

// Read returns the events recorded on day, oldest first. A day without a
// journal file has no events.
func (j *Journal) Read(day time.Time, f Filter) ([]*eventbus.Event, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	file, err := os.Open(j.path(day))
	if err != nil {
		if os.IsNotExist(err) {
			return []*eventbus.Event{}, nil
		}
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	defer file.Close()

	match := newMatcher(f.Types)
	events := []*eventbus.Event{}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e eventbus.Event
		if err := json.Unmarshal(line, &e); err != nil {
			slog.Warn("event journal: skipping malformed line", "error", err)
			continue
		}
		if !match(e.Type) || !forRequest(&e, f.RequestID) {
			continue
		}
		events = append(events, &e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}
	if f.Limit > 0 && len(events) > f.Limit {
		events = events[len(events)-f.Limit:]
	}
	return events, nil
}
