package resource_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OutllierRejects/reliefops/internal/eventbus"
	"github.com/OutllierRejects/reliefops/internal/resource"
	"github.com/OutllierRejects/reliefops/internal/resource/repositoryimpl"
	"github.com/OutllierRejects/reliefops/internal/triage"
	"github.com/OutllierRejects/reliefops/pkg/cerr"
	"github.com/OutllierRejects/reliefops/pkg/storage"
)

func newRepo(t *testing.T) *repositoryimpl.YAMLRepository {
	t.Helper()
	s, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	return repositoryimpl.NewYAMLRepository(s)
}

func TestResource_Capacity(t *testing.T) {
	assert.Equal(t, 1, (&resource.Resource{Exclusive: true, MaxConcurrentTasks: 5}).Capacity())
	assert.Equal(t, resource.DefaultMaxConcurrentTasks, (&resource.Resource{}).Capacity())
	assert.Equal(t, 2, (&resource.Resource{MaxConcurrentTasks: 2}).Capacity())
}

func TestResource_AvailableAt(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	later := now.Add(time.Hour)
	earlier := now.Add(-time.Hour)

	assert.True(t, (&resource.Resource{Status: resource.StatusAvailable}).AvailableAt(now))
	assert.False(t, (&resource.Resource{Status: resource.StatusOffline}).AvailableAt(now))
	assert.False(t, (&resource.Resource{Status: resource.StatusAvailable, AvailableFrom: &later}).AvailableAt(now))
	assert.False(t, (&resource.Resource{Status: resource.StatusAvailable, AvailableUntil: &earlier}).AvailableAt(now))
	assert.True(t, (&resource.Resource{Status: resource.StatusAvailable, AvailableFrom: &earlier, AvailableUntil: &later}).AvailableAt(now))
}

func TestSnapshot(t *testing.T) {
	now := time.Now()
	pool := []*resource.Resource{
		{ID: "boat", Capabilities: []triage.Category{triage.Rescue, triage.Transport}, Exclusive: true, ActiveTasks: 1, Status: resource.StatusAvailable},
		{ID: "medic", Capabilities: []triage.Category{triage.Medical}, Status: resource.StatusAvailable},
		{ID: "truck", Capabilities: []triage.Category{triage.Food, triage.Water}, Status: resource.StatusOffline},
	}
	s := resource.NewSnapshot(pool, now)
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 2, s.Matching([]triage.Category{triage.Rescue, triage.Medical}))
	assert.Equal(t, 1, s.Assignable([]triage.Category{triage.Rescue, triage.Medical}))
	assert.Equal(t, 0, s.Matching([]triage.Category{triage.Shelter}))
}

func TestAllocator_ExclusiveClaim(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	require.NoError(t, repo.Create(ctx, &resource.Resource{
		ID: "boat-1", Name: "Rescue boat", Kind: resource.KindEquipment,
		Capabilities: []triage.Category{triage.Rescue}, Exclusive: true, Status: resource.StatusAvailable,
	}))
	alloc := resource.NewAllocator(repo, eventbus.New())

	var won, lost atomic.Int32
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := alloc.Claim(ctx, "boat-1")
			switch {
			case err == nil:
				won.Add(1)
			case cerr.IsCode(err, cerr.Aborted):
				lost.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), won.Load())
	assert.Equal(t, int32(7), lost.Load())

	r, err := repo.Get(ctx, "boat-1")
	require.NoError(t, err)
	assert.Equal(t, 1, r.ActiveTasks)

	require.NoError(t, alloc.Release(ctx, "boat-1"))
	require.NoError(t, alloc.Release(ctx, "boat-1"))
	r, err = repo.Get(ctx, "boat-1")
	require.NoError(t, err)
	assert.Equal(t, 0, r.ActiveTasks)

	_, err = alloc.Claim(ctx, "boat-1")
	assert.NoError(t, err)
}

func TestAllocator_DeleteRacesClaim(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	alloc := resource.NewAllocator(repo, eventbus.New())

	for i := range 20 {
		id := fmt.Sprintf("truck-%d", i)
		require.NoError(t, repo.Create(ctx, &resource.Resource{
			ID: id, Name: "Water truck", Kind: resource.KindEquipment,
			Capabilities: []triage.Category{triage.Water}, Exclusive: true, Status: resource.StatusAvailable,
		}))

		var claimErr, deleteErr error
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, claimErr = alloc.Claim(ctx, id)
		}()
		go func() {
			defer wg.Done()
			_, deleteErr = alloc.Delete(ctx, id)
		}()
		wg.Wait()

		if claimErr == nil {
			assert.True(t, cerr.IsCode(deleteErr, cerr.FailedPrecondition), "delete after claim: %v", deleteErr)
			r, err := repo.Get(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, 1, r.ActiveTasks)
		} else {
			require.NoError(t, deleteErr)
			assert.True(t, cerr.IsCode(claimErr, cerr.NotFound), "claim after delete: %v", claimErr)
		}
	}
}

func TestNormalize(t *testing.T) {
	r := &resource.Resource{ID: " r1 ", Name: "Team A", Capabilities: []triage.Category{"Medical", "plumbing", "rescue"}}
	require.NoError(t, resource.Normalize(r))
	assert.Equal(t, "r1", r.ID)
	assert.Equal(t, resource.KindPersonnel, r.Kind)
	assert.Equal(t, resource.StatusAvailable, r.Status)
	assert.Equal(t, []triage.Category{triage.Rescue, triage.Medical, triage.Other}, r.Capabilities)
	assert.Equal(t, "r1", r.Contact.RecipientID)

	err := resource.Normalize(&resource.Resource{ID: "r2", Name: "Team B"})
	assert.Equal(t, "capabilities", cerr.FieldOf(err))
}

const rosterYAML = `resources:
  - id: medic-1
    name: Field medic
    capabilities: [medical]
    location: Central station
    point: {lat: 35.0, lng: 139.0}
  - id: boat-1
    name: Rescue boat
    kind: equipment
    exclusive: true
    capabilities: [rescue, transport]
`

func TestRoster_Apply(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	alloc := resource.NewAllocator(repo, eventbus.New())
	path := filepath.Join(t.TempDir(), "roster.yaml")
	require.NoError(t, os.WriteFile(path, []byte(rosterYAML), 0o644))

	roster := resource.NewRoster(path, repo, alloc)
	n, err := roster.Apply(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = alloc.Claim(ctx, "boat-1")
	require.NoError(t, err)

	// Re-applying keeps runtime state.
	_, err = roster.Apply(ctx)
	require.NoError(t, err)
	boat, err := repo.Get(ctx, "boat-1")
	require.NoError(t, err)
	assert.Equal(t, 1, boat.ActiveTasks)
	assert.Equal(t, resource.KindEquipment, boat.Kind)
}

func TestRoster_Watch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	repo := newRepo(t)
	alloc := resource.NewAllocator(repo, eventbus.New())
	path := filepath.Join(t.TempDir(), "roster.yaml")
	require.NoError(t, os.WriteFile(path, []byte(rosterYAML), 0o644))

	roster := resource.NewRoster(path, repo, alloc)
	_, err := roster.Apply(ctx)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- roster.Watch(ctx) }()
	time.Sleep(100 * time.Millisecond)

	updated := rosterYAML + `  - id: shelter-1
    name: School gym
    capabilities: [shelter]
`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	assert.Eventually(t, func() bool {
		_, err := repo.Get(ctx, "shelter-1")
		return err == nil
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
