package repository

import (
	"context"
	"testing"

	"offsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRepository(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	t.Run("InsertAndGet", func(t *testing.T) {
		res := &models.Resource{Type: "Patient", Key: "p1", VersionKey: "v1"}
		require.NoError(t, repo.Insert(ctx, res))

		got, err := repo.Get(ctx, "Patient", "p1")
		require.NoError(t, err)
		assert.Equal(t, "v1", got.VersionKey)

		// Stored values are isolated from the caller's copy.
		res.VersionKey = "changed"
		got, _ = repo.Get(ctx, "Patient", "p1")
		assert.Equal(t, "v1", got.VersionKey)
	})

	t.Run("GetMissing", func(t *testing.T) {
		got, err := repo.Get(ctx, "Patient", "missing")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("Update", func(t *testing.T) {
		require.NoError(t, repo.Update(ctx, &models.Resource{Type: "Patient", Key: "p1", VersionKey: "v2"}))
		got, _ := repo.Get(ctx, "Patient", "p1")
		assert.Equal(t, "v2", got.VersionKey)

		assert.Error(t, repo.Update(ctx, &models.Resource{Type: "Patient", Key: "nope"}))
	})

	t.Run("Find", func(t *testing.T) {
		require.NoError(t, repo.Insert(ctx, &models.Resource{Type: "Patient", Key: "p0"}))
		require.NoError(t, repo.Insert(ctx, &models.Resource{Type: "Place", Key: "x"}))

		all, err := repo.Find(ctx, "Patient", nil)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "p0", all[0].Key)

		some, err := repo.Find(ctx, "Patient", func(r *models.Resource) bool { return r.VersionKey == "v2" })
		require.NoError(t, err)
		assert.Len(t, some, 1)
	})

	t.Run("Obsolete", func(t *testing.T) {
		require.NoError(t, repo.Obsolete(ctx, "Patient", "p1"))
		got, _ := repo.Get(ctx, "Patient", "p1")
		assert.Nil(t, got)
		assert.Error(t, repo.Obsolete(ctx, "Patient", "p1"))
	})
}
