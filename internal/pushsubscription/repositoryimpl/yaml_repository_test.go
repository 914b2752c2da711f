package repositoryimpl_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OutllierRejects/reliefops/internal/pushsubscription"
	"github.com/OutllierRejects/reliefops/internal/pushsubscription/repositoryimpl"
	"github.com/OutllierRejects/reliefops/pkg/cerr"
	"github.com/OutllierRejects/reliefops/pkg/storage"
)

func TestYAMLRepository(t *testing.T) {
	ctx := context.Background()
	s, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	repo := repositoryimpl.NewYAMLRepository(s)

	for _, sub := range []*pushsubscription.Subscription{
		{ID: "S1", RecipientID: "alice", Endpoint: "https://push.example/a"},
		{ID: "S2", Operator: true, Endpoint: "https://push.example/desk"},
		{ID: "S3", RecipientID: "alice", Endpoint: "https://push.example/a2"},
	} {
		sub.CreatedAt = time.Now()
		require.NoError(t, repo.Create(ctx, sub))
	}

	alice, err := repo.List(ctx, pushsubscription.ListFilter{RecipientID: "alice"})
	require.NoError(t, err)
	require.Len(t, alice, 2)
	assert.Equal(t, "S1", alice[0].ID)

	ops, err := repo.List(ctx, pushsubscription.ListFilter{Operators: true})
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, "S2", ops[0].ID)

	found, err := repo.FindByEndpoint(ctx, "https://push.example/a2")
	require.NoError(t, err)
	assert.Equal(t, "S3", found.ID)

	require.NoError(t, repo.DeleteByEndpoint(ctx, "https://push.example/a2"))
	_, err = repo.FindByEndpoint(ctx, "https://push.example/a2")
	assert.True(t, cerr.IsCode(err, cerr.NotFound))
}
