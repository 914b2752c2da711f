package resource

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/OutllierRejects/reliefops/internal/triage"
	"github.com/OutllierRejects/reliefops/pkg/cerr"
)

const rosterDebounce = 200 * time.Millisecond

type rosterFile struct {
	Resources []*Resource `yaml:"resources"`
}

// Roster keeps the repository in sync with a YAML roster file. Entries are
// upserted by id; runtime state (active tasks) is never taken from the file.
type Roster struct {
	path      string
	repo      Repository
	allocator *Allocator
	lastHash  [sha256.Size]byte
}

func NewRoster(path string, repo Repository, allocator *Allocator) *Roster {
	return &Roster{path: path, repo: repo, allocator: allocator}
}

// LoadRoster parses and normalizes a roster file.
func LoadRoster(path string) ([]*Resource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read roster: %w", err)
	}
	var f rosterFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse roster %s: %w", path, err)
	}
	for i, r := range f.Resources {
		if err := Normalize(r); err != nil {
			return nil, fmt.Errorf("roster entry %d: %w", i, err)
		}
	}
	return f.Resources, nil
}

// Normalize validates r and fills defaults.
func Normalize(r *Resource) error {
	r.ID = strings.TrimSpace(r.ID)
	r.Name = strings.TrimSpace(r.Name)
	if r.ID == "" {
		return cerr.NewValidationError("id", "resource id is required")
	}
	if r.Name == "" {
		return cerr.NewValidationError("name", "resource name is required")
	}
	switch r.Kind {
	case KindPersonnel, KindEquipment:
	case "":
		r.Kind = KindPersonnel
	default:
		return cerr.NewValidationError("kind", fmt.Sprintf("unknown kind %q", r.Kind))
	}
	if len(r.Capabilities) == 0 {
		return cerr.NewValidationError("capabilities", "at least one capability is required")
	}
	labels := make([]string, len(r.Capabilities))
	for i, c := range r.Capabilities {
		labels[i] = string(c)
	}
	r.Capabilities = triage.NormalizeCategories(labels)
	switch r.Status {
	case StatusAvailable, StatusOffline:
	case "":
		r.Status = StatusAvailable
	default:
		return cerr.NewValidationError("status", fmt.Sprintf("unknown status %q", r.Status))
	}
	if r.MaxConcurrentTasks < 0 {
		return cerr.NewValidationError("max_concurrent_tasks", "must not be negative")
	}
	if r.AvailableFrom != nil && r.AvailableUntil != nil && !r.AvailableFrom.Before(*r.AvailableUntil) {
		return cerr.NewValidationError("available_until", "window must end after it starts")
	}
	if r.Contact.RecipientID == "" {
		r.Contact.RecipientID = r.ID
	}
	return nil
}

// Apply upserts every roster entry and returns how many were written.
func (ro *Roster) Apply(ctx context.Context) (int, error) {
	entries, err := LoadRoster(ro.path)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if err := ro.upsert(ctx, e); err != nil {
			return n, err
		}
		n++
	}
	if h, err := hashFile(ro.path); err == nil {
		ro.lastHash = h
	}
	return n, nil
}

func (ro *Roster) upsert(ctx context.Context, e *Resource) error {
	_, err := ro.repo.Get(ctx, e.ID)
	if cerr.IsCode(err, cerr.NotFound) {
		now := time.Now()
		e.ActiveTasks = 0
		e.CreatedAt = now
		e.UpdatedAt = now
		return ro.repo.Create(ctx, e)
	}
	if err != nil {
		return err
	}
	_, err = ro.allocator.Modify(ctx, e.ID, func(r *Resource) error {
		r.Name = e.Name
		r.Kind = e.Kind
		r.Capabilities = e.Capabilities
		r.Location = e.Location
		r.Point = e.Point
		r.Exclusive = e.Exclusive
		r.MaxConcurrentTasks = e.MaxConcurrentTasks
		r.AvailableFrom = e.AvailableFrom
		r.AvailableUntil = e.AvailableUntil
		r.Contact = e.Contact
		r.Status = e.Status
		return nil
	})
	return err
}

// Watch re-applies the roster whenever the file content changes, until ctx
// is done. The parent directory is watched so atomic replaces are seen.
func (ro *Roster) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create roster watcher: %w", err)
	}
	defer watcher.Close()

	dir, name := filepath.Dir(ro.path), filepath.Base(ro.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	slog.InfoContext(ctx, "roster: watching for changes", "path", ro.path)

	changed := make(chan struct{}, 1)
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(rosterDebounce, func() {
				select {
				case changed <- struct{}{}:
				default:
				}
			})
		case <-changed:
			h, err := hashFile(ro.path)
			if err != nil || h == ro.lastHash {
				continue
			}
			n, err := ro.Apply(ctx)
			if err != nil {
				slog.ErrorContext(ctx, "roster: failed to apply", "path", ro.path, "error", err)
				continue
			}
			slog.InfoContext(ctx, "roster: applied", "path", ro.path, "resources", n)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.WarnContext(ctx, "roster: watcher error", "error", err)
		}
	}
}

func hashFile(path string) ([sha256.Size]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return [sha256.Size]byte{}, err
	}
	return sha256.Sum256(data), nil
}
