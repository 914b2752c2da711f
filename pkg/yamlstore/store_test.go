package yamlstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OutllierRejects/reliefops/pkg/cerr"
	"github.com/OutllierRejects/reliefops/pkg/storage"
)

type widget struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	Version int    `yaml:"version"`
}

func (w *widget) RecordID() string       { return w.ID }
func (w *widget) RecordVersion() int     { return w.Version }
func (w *widget) SetRecordVersion(v int) { w.Version = v }

func newStore(t *testing.T) *Store[widget, *widget] {
	t.Helper()
	s, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	return New[widget](s, "widgets", "widget")
}

func TestStore_CRUD(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	w := &widget{ID: "W1", Name: "boat"}
	require.NoError(t, store.Create(ctx, w))
	assert.Equal(t, 1, w.Version)
	assert.True(t, cerr.IsCode(store.Create(ctx, &widget{ID: "W1"}), cerr.AlreadyExists))

	got, err := store.Get(ctx, "W1")
	require.NoError(t, err)
	assert.Equal(t, "boat", got.Name)

	got.Name = "rescue boat"
	require.NoError(t, store.Update(ctx, got))
	assert.Equal(t, 2, got.Version)

	all, err := store.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "rescue boat", all[0].Name)

	require.NoError(t, store.Delete(ctx, "W1"))
	_, err = store.Get(ctx, "W1")
	assert.True(t, cerr.IsCode(err, cerr.NotFound))
	assert.True(t, cerr.IsCode(store.Update(ctx, got), cerr.NotFound))
}

func TestStore_StaleUpdate(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.Create(ctx, &widget{ID: "W1", Name: "truck"}))

	a, err := store.Get(ctx, "W1")
	require.NoError(t, err)
	b, err := store.Get(ctx, "W1")
	require.NoError(t, err)

	a.Name = "first"
	require.NoError(t, store.Update(ctx, a))

	b.Name = "second"
	err = store.Update(ctx, b)
	assert.True(t, cerr.IsCode(err, cerr.Aborted))
	assert.Equal(t, 1, b.Version, "a rejected update keeps the caller's version")

	got, err := store.Get(ctx, "W1")
	require.NoError(t, err)
	assert.Equal(t, "first", got.Name)
}

func TestPage(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	page, total := Page(items, 2, 1)
	assert.Equal(t, []int{2, 3}, page)
	assert.Equal(t, 5, total)

	page, total = Page(items, 0, 10)
	assert.Nil(t, page)
	assert.Equal(t, 5, total)
}
