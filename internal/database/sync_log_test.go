package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"offsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncLogStore_LogCRUD(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	store := NewSyncLogStore(db)

	got, err := store.GetLog(ctx, "Patient", "")
	require.NoError(t, err)
	assert.Nil(t, got)

	entry := &models.SyncLogEntry{ResourceType: "Patient", Filter: "name=x"}
	require.NoError(t, store.CreateLog(ctx, entry))
	assert.NotZero(t, entry.ID)

	// Same type, different filter is a different watermark.
	require.NoError(t, store.CreateLog(ctx, &models.SyncLogEntry{ResourceType: "Patient"}))

	// Duplicate (type, filter) is rejected.
	assert.Error(t, store.CreateLog(ctx, &models.SyncLogEntry{ResourceType: "Patient", Filter: "name=x"}))

	now := time.Now().UTC().Truncate(time.Second)
	msg := "boom"
	entry.LastSync = &now
	entry.LastETag = "v3"
	entry.LastError = &msg
	entry.LastErrorAt = &now
	require.NoError(t, store.UpdateLog(ctx, entry))

	got, err = store.GetLog(ctx, "Patient", "name=x")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "v3", got.LastETag)
	require.NotNil(t, got.LastSync)
	assert.True(t, now.Equal(*got.LastSync))
	require.NotNil(t, got.LastError)
	assert.Equal(t, "boom", *got.LastError)

	logs, err := store.ListLogs(ctx)
	require.NoError(t, err)
	assert.Len(t, logs, 2)

	err = store.UpdateLog(ctx, &models.SyncLogEntry{ID: 999})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSyncLogStore_Queries(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	store := NewSyncLogStore(db)

	entry := &models.SyncLogEntry{ResourceType: "Observation"}
	require.NoError(t, store.CreateLog(ctx, entry))

	open, err := store.GetOpenQuery(ctx, entry.ID)
	require.NoError(t, err)
	assert.Nil(t, open)

	q := &models.SyncLogQuery{LogID: entry.ID, QueryID: "q-1", StartTime: time.Now()}
	require.NoError(t, store.CreateQuery(ctx, q))

	q.Offset = 200
	require.NoError(t, store.UpdateQuery(ctx, q))

	open, err = store.GetOpenQuery(ctx, entry.ID)
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, "q-1", open.QueryID)
	assert.Equal(t, 200, open.Offset)
	assert.False(t, open.IsComplete())

	done := time.Now()
	q.CompletedAt = &done
	require.NoError(t, store.UpdateQuery(ctx, q))

	open, err = store.GetOpenQuery(ctx, entry.ID)
	require.NoError(t, err)
	assert.Nil(t, open)

	err = store.UpdateQuery(ctx, &models.SyncLogQuery{ID: 999})
	assert.True(t, errors.Is(err, ErrNotFound))
}
