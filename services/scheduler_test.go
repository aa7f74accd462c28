package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler() *PollingScheduler {
	store := newFakeStore()
	api := &fakeAPI{}
	cfg := DefaultSyncConfig()
	master := NewMasterSyncService(store, api, cfg)
	members := NewMemberSyncService(store, api, cfg)
	treasury := NewTreasuryService(store, api, cfg, nil)
	return NewPollingScheduler(master, members, treasury, cfg, "")
}

func TestSchedulerStartIsIdempotent(t *testing.T) {
	p := newTestScheduler()
	defer p.StopPolling()

	require.NoError(t, p.StartPolling(context.Background()))
	assert.True(t, p.IsRunning())

	// Second start is a no-op, not a second set of timers.
	require.NoError(t, p.StartPolling(context.Background()))
	assert.True(t, p.IsRunning())
}

func TestSchedulerStopIsIdempotent(t *testing.T) {
	p := newTestScheduler()

	require.NoError(t, p.StartPolling(context.Background()))
	p.StopPolling()
	assert.False(t, p.IsRunning())

	// Stopping an already stopped scheduler is harmless.
	p.StopPolling()
	assert.False(t, p.IsRunning())
}

func TestSchedulerRestartsAfterStop(t *testing.T) {
	p := newTestScheduler()

	require.NoError(t, p.StartPolling(context.Background()))
	p.StopPolling()
	require.NoError(t, p.StartPolling(context.Background()))
	assert.True(t, p.IsRunning())
	p.StopPolling()
}
