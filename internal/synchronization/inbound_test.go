package synchronization

import (
	"context"
	"testing"

	"offsync/internal/config"
	"offsync/internal/events"
	"offsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunInbound_IsIdempotentPerVersion(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, config.SynchronizationConfig{})
	in := h.queues.Inbound()

	v1 := &models.Resource{Type: "Patient", Key: "p", VersionKey: "v1"}
	for range 2 {
		_, err := in.Enqueue(ctx, models.NewBundle(v1), models.OperationSync)
		require.NoError(t, err)
	}
	require.NoError(t, h.svc.RunInbound(ctx))

	got, err := h.repo.Get(ctx, "Patient", "p")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Empty(t, got.PreviousVersionKey, "the duplicate page was not applied as an update")

	v2 := &models.Resource{Type: "Patient", Key: "p", VersionKey: "v2"}
	_, err = in.Enqueue(ctx, v2, models.OperationSync)
	require.NoError(t, err)
	require.NoError(t, h.svc.RunInbound(ctx))

	got, err = h.repo.Get(ctx, "Patient", "p")
	require.NoError(t, err)
	assert.Equal(t, "v2", got.VersionKey)
	assert.Equal(t, "v1", got.PreviousVersionKey)
	assert.Zero(t, count(t, in))
}

func TestRunInbound_ObsoleteAndPatch(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, config.SynchronizationConfig{})
	in := h.queues.Inbound()
	require.NoError(t, h.repo.Insert(ctx, &models.Resource{
		Type:       "Patient",
		Key:        "keep",
		VersionKey: "v1",
		Attributes: map[string]interface{}{"name": "Ann"},
	}))
	require.NoError(t, h.repo.Insert(ctx, &models.Resource{Type: "Patient", Key: "drop"}))

	_, err := in.Enqueue(ctx, &models.Resource{Type: "Patient", Key: "drop"}, models.OperationObsolete)
	require.NoError(t, err)
	_, err = in.Enqueue(ctx, &models.Resource{Type: "Patient", Key: "never-seen"}, models.OperationObsolete)
	require.NoError(t, err)
	_, err = in.Enqueue(ctx, &models.Patch{Type: "Patient", Key: "keep", Operations: []models.PatchOperation{
		{Op: PatchReplace, Path: "name", Value: "Bea"},
	}}, models.OperationUpdate)
	require.NoError(t, err)

	require.NoError(t, h.svc.RunInbound(ctx))

	dropped, err := h.repo.Get(ctx, "Patient", "drop")
	require.NoError(t, err)
	assert.Nil(t, dropped)

	kept, err := h.repo.Get(ctx, "Patient", "keep")
	require.NoError(t, err)
	assert.Equal(t, "Bea", kept.Attributes["name"])
	assert.Zero(t, count(t, h.queues.DeadLetter()))
}

func TestRunInbound_BadEntryIsDeadLettered(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, config.SynchronizationConfig{})
	in := h.queues.Inbound()

	_, err := in.Enqueue(ctx, &models.Patch{Type: "Patient", Key: "missing", Operations: []models.PatchOperation{
		{Op: PatchAdd, Path: "name", Value: "x"},
	}}, models.OperationUpdate)
	require.NoError(t, err)
	_, err = in.Enqueue(ctx, &models.Resource{Type: "Patient", Key: "after", VersionKey: "v1"}, models.OperationSync)
	require.NoError(t, err)

	var completed []events.Completed
	h.svc.OnPullCompleted(func(c events.Completed) { completed = append(completed, c) })

	require.NoError(t, h.svc.RunInbound(ctx))

	assert.Zero(t, count(t, in))
	dead, err := h.queues.DeadLetter().Peek(ctx)
	require.NoError(t, err)
	require.NotNil(t, dead)
	assert.Equal(t, models.QueueInbound, dead.OriginalQueue)
	assert.Contains(t, dead.Reason, "does not exist locally")

	after, err := h.repo.Get(ctx, "Patient", "after")
	require.NoError(t, err)
	assert.NotNil(t, after)
	require.Len(t, completed, 1)
	assert.Equal(t, events.DirectionPull, completed[0].Direction)
}
