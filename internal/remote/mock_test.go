package remote_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/medsync-dashboard/internal/remote"
)

func TestMockBackendProcessAll(t *testing.T) {
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	m := remote.NewMockBackend(func() time.Time { return now })
	m.MinLatency, m.MaxLatency, m.ProcessDuration = 0, 0, 0
	ctx := context.Background()

	res, err := m.ProcessAll(ctx)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, res.TotalClients, res.Processed)

	agent, err := m.AgentStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, now, agent.LastExecution)

	perf, err := m.ClientPerformance(ctx)
	require.NoError(t, err)
	for _, c := range perf.Clients {
		assert.Equal(t, now, c.LastSync)
	}

	items, err := m.RecentActivity(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestMockBackendFailureInjection(t *testing.T) {
	m := remote.NewMockBackend(nil)
	m.MinLatency, m.MaxLatency = 0, 0
	m.FailRate = 1

	_, err := m.Overview(context.Background())
	assert.ErrorIs(t, err, remote.ErrMockFailure)
}

func TestMockBackendRespectsContext(t *testing.T) {
	m := remote.NewMockBackend(nil)
	m.MinLatency, m.MaxLatency = time.Second, time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := m.Overview(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
