package queue

import (
	"testing"

	"offsync/internal/models"
	"offsync/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultManager(t *testing.T) {
	m := NewDefaultManager(Options{Store: repository.NewMemoryQueueStore()})

	assert.Equal(t, models.QueueOutbound, m.Outbound().Name())
	assert.Equal(t, models.QueueInbound, m.Inbound().Name())
	assert.Equal(t, models.QueueAdmin, m.Admin().Name())
	assert.Equal(t, models.QueueDeadLetter, m.DeadLetter().Name())
	assert.Equal(t, models.QueueOutboundLowPriority, m.OutboundLowPriority().Name())

	assert.True(t, m.DeadLetter().Pattern().Has(models.LocalOnly), "dead letter implies local only")
	assert.True(t, m.Admin().Pattern().Has(models.LowPriority))

	var names []string
	for _, q := range m.GetAll(models.LocalToUpstream) {
		names = append(names, q.Name())
	}
	assert.Equal(t, []string{models.QueueOutbound, models.QueueAdmin, models.QueueOutboundLowPriority}, names)

	inbound := m.GetAll(models.UpstreamToLocal)
	require.Len(t, inbound, 1)
	assert.Equal(t, models.QueueInbound, inbound[0].Name())

	assert.Len(t, m.GetAll(models.BiDirectional), 4)
	assert.Empty(t, m.GetAll(0))
}

func TestManager_Lookup(t *testing.T) {
	m := NewManager()
	q := New("custom", models.LocalOnly, Options{Store: repository.NewMemoryQueueStore()})
	require.NoError(t, m.Register(q))
	assert.Error(t, m.Register(q))

	got, err := m.Lookup("custom")
	require.NoError(t, err)
	assert.Same(t, q, got)

	assert.Nil(t, m.Get("missing"))
	_, err = m.Lookup("missing")
	assert.ErrorIs(t, err, ErrQueueNotFound)
	assert.Nil(t, m.Outbound())
}
