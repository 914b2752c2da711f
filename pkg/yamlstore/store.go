// Package yamlstore keeps one YAML document per record under a storage prefix.
// Entity repositories embed a Store and add their own filtering on top of All.
package yamlstore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/OutllierRejects/reliefops/pkg/cerr"
	"github.com/OutllierRejects/reliefops/pkg/storage"
)

type Record interface {
	RecordID() string
}

// Versioned records get optimistic concurrency control: Update fails with
// cerr.Aborted when the stored version differs from the caller's copy.
type Versioned interface {
	RecordVersion() int
	SetRecordVersion(v int)
}

type Store[T any, PT interface {
	*T
	Record
}] struct {
	storage storage.Storage
	prefix  string
	name    string

	// mu makes read-check-write of a record atomic within the process.
	mu sync.Mutex
}

// New creates a store writing "<prefix>/<id>.yaml". name is used in errors
// returned to callers ("request not found").
func New[T any, PT interface {
	*T
	Record
}](s storage.Storage, prefix, name string) *Store[T, PT] {
	return &Store[T, PT]{storage: s, prefix: prefix, name: name}
}

func (s *Store[T, PT]) path(id string) string {
	return fmt.Sprintf("%s/%s.yaml", s.prefix, id)
}

func (s *Store[T, PT]) Create(ctx context.Context, rec PT) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.path(rec.RecordID())
	exists, err := s.storage.Exists(ctx, p)
	if err != nil {
		return cerr.WrapStorageWriteError(s.name, err)
	}
	if exists {
		return cerr.NewError(cerr.AlreadyExists, s.name+" already exists", nil)
	}
	if v, ok := any(rec).(Versioned); ok {
		v.SetRecordVersion(1)
	}
	return s.write(ctx, p, rec)
}

func (s *Store[T, PT]) Get(ctx context.Context, id string) (PT, error) {
	return s.read(ctx, s.path(id))
}

func (s *Store[T, PT]) Update(ctx context.Context, rec PT) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.path(rec.RecordID())
	stored, err := s.read(ctx, p)
	if err != nil {
		return err
	}
	v, ok := any(rec).(Versioned)
	if !ok {
		return s.write(ctx, p, rec)
	}
	current := any(stored).(Versioned).RecordVersion()
	if v.RecordVersion() != current {
		return cerr.NewError(cerr.Aborted, s.name+" was modified concurrently",
			fmt.Errorf("%s %s: version %d, stored %d", s.name, rec.RecordID(), v.RecordVersion(), current))
	}
	v.SetRecordVersion(current + 1)
	if err := s.write(ctx, p, rec); err != nil {
		v.SetRecordVersion(current)
		return err
	}
	return nil
}

func (s *Store[T, PT]) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.storage.Delete(ctx, s.path(id)); err != nil {
		return cerr.WrapStorageDeleteError(s.name, err)
	}
	return nil
}

// All loads every record under the prefix. Unreadable documents are logged
// and skipped so one corrupt file does not take a listing down.
func (s *Store[T, PT]) All(ctx context.Context) ([]PT, error) {
	paths, err := s.storage.List(ctx, s.prefix)
	if err != nil {
		return nil, cerr.WrapStorageReadError(s.name+"s", err)
	}
	all := make([]PT, 0, len(paths))
	for _, p := range paths {
		rec, err := s.read(ctx, p)
		if err != nil {
			slog.WarnContext(ctx, "yamlstore: skipping unreadable record", "path", p, "error", err)
			continue
		}
		all = append(all, rec)
	}
	return all, nil
}

func (s *Store[T, PT]) read(ctx context.Context, p string) (PT, error) {
	data, err := s.storage.Read(ctx, p)
	if err != nil {
		return nil, cerr.WrapStorageReadError(s.name, err)
	}
	var rec T
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to unmarshal %s: %w", s.name, err))
	}
	return &rec, nil
}

func (s *Store[T, PT]) write(ctx context.Context, p string, rec PT) error {
	data, err := yaml.Marshal(rec)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal %s: %w", s.name, err))
	}
	if err := s.storage.Write(ctx, p, data); err != nil {
		return cerr.WrapStorageWriteError(s.name, err)
	}
	return nil
}

// Page applies offset/limit to an already filtered and sorted slice and
// returns the total before paging.
func Page[T any](all []T, limit, offset int) ([]T, int) {
	total := len(all)
	if offset >= total {
		return nil, total
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, total
}
