package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"settlement-mirror-system/models"
	"settlement-mirror-system/workers"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFullSyncScenario(t *testing.T) {
	// Remote returns A (updated) and B (new); the store already holds A
	// and a stale C last seen three hours ago.
	now := time.Now()
	store := newFakeStore()
	store.settlements["A"] = models.MirroredSettlement{
		RemoteID: "A", Name: "Alderwood", TreasuryBalance: 500,
		IsActive: true, LastSyncedAt: now.Add(-2 * time.Hour),
	}
	store.settlements["C"] = models.MirroredSettlement{
		RemoteID: "C", Name: "Cragholm",
		IsActive: true, LastSyncedAt: now.Add(-3 * time.Hour),
	}

	api := &fakeAPI{directory: &workers.DirectoryResult{
		Settlements: []models.MirroredSettlement{
			{RemoteID: "A", Name: "Alderwood", TreasuryBalance: 886},
			{RemoteID: "B", Name: "Briarfield", TreasuryBalance: 0},
		},
		TotalFound:  2,
		QueriesUsed: []string{"page=1&perPage=100&sort=name"},
	}}

	svc := NewMasterSyncService(store, api, DefaultSyncConfig())
	result := svc.SyncSettlements(context.Background(), workers.DirectoryModeFull, models.TriggerManual)

	require.True(t, result.Success)
	assert.Equal(t, 1, result.Added)
	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, 1, result.Deactivated)
	assert.Equal(t, models.SyncModeFull, result.Mode)

	assert.Equal(t, int64(886), store.settlements["A"].TreasuryBalance)
	assert.True(t, store.settlements["A"].IsActive)
	assert.True(t, store.settlements["B"].IsActive)
	assert.False(t, store.settlements["C"].IsActive)

	require.Len(t, store.audits, 1)
	audit := store.audits[0]
	assert.True(t, audit.Success)
	assert.Equal(t, 1, audit.Added)
	assert.Equal(t, 1, audit.Updated)
	assert.Equal(t, 1, audit.Deactivated)
	assert.Equal(t, models.ScopeGlobal, audit.Scope)
}

func TestIncrementalSyncSuppressesDeactivation(t *testing.T) {
	// Rows outside the incremental window but inside the grace window
	// stay active.
	now := time.Now()
	store := newFakeStore()
	store.settlements["old"] = models.MirroredSettlement{
		RemoteID: "old", IsActive: true, LastSyncedAt: now.Add(-30 * time.Minute),
	}

	api := &fakeAPI{directory: &workers.DirectoryResult{
		Settlements: []models.MirroredSettlement{{RemoteID: "hot"}},
		TotalFound:  1,
		QueriesUsed: []string{"limit=300&sort=-lastActive"},
	}}

	svc := NewMasterSyncService(store, api, DefaultSyncConfig())
	result := svc.SyncSettlements(context.Background(), workers.DirectoryModeIncremental, models.TriggerScheduled)

	require.True(t, result.Success)
	assert.Equal(t, models.SyncModeIncremental, result.Mode)
	assert.Equal(t, 0, result.Deactivated)
	assert.True(t, store.settlements["old"].IsActive)
}

func TestSyncFetchFailureWritesAudit(t *testing.T) {
	store := newFakeStore()
	api := &fakeAPI{directoryErr: errors.New("remote timeout")}

	svc := NewMasterSyncService(store, api, DefaultSyncConfig())
	result := svc.SyncSettlements(context.Background(), workers.DirectoryModeFull, models.TriggerManual)

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "remote timeout")

	// The failed attempt still leaves exactly one audit row, and no
	// entity writes happened.
	require.Len(t, store.audits, 1)
	assert.False(t, store.audits[0].Success)
	assert.Equal(t, 0, store.upsertCalls)
}

func TestSyncWriteFailureReportsZeroWritten(t *testing.T) {
	// A store outage is absorbed, but the audit counts must reflect what
	// actually landed: nothing.
	store := newFakeStore()
	store.settlementUpsertErr = errors.New("connection refused")

	api := &fakeAPI{directory: &workers.DirectoryResult{
		Settlements: []models.MirroredSettlement{{RemoteID: "A"}, {RemoteID: "B"}},
		TotalFound:  2,
		QueriesUsed: []string{"page=1"},
	}}

	svc := NewMasterSyncService(store, api, DefaultSyncConfig())
	result := svc.SyncSettlements(context.Background(), workers.DirectoryModeFull, models.TriggerManual)

	assert.True(t, result.Success) // absorbed, not an attempt failure
	assert.Equal(t, 0, result.Added)
	assert.Equal(t, 0, result.Updated)
	assert.Equal(t, 2, result.WriteErrors)
	assert.Contains(t, result.Error, "upsert failed")
	assert.Empty(t, store.settlements)

	require.Len(t, store.audits, 1)
	assert.Equal(t, 0, store.audits[0].Added)
	assert.Equal(t, 2, store.audits[0].WriteErrors)
}

func TestSyncPartialWriteAccounting(t *testing.T) {
	now := time.Now()
	store := newFakeStore()
	store.settlements["A"] = models.MirroredSettlement{
		RemoteID: "A", IsActive: true, LastSyncedAt: now.Add(-10 * time.Minute),
	}
	// Two of the three planned rows land before the store fails.
	store.settlementUpsertErr = errors.New("batch refused")
	store.settlementUpsertWritten = 2

	api := &fakeAPI{directory: &workers.DirectoryResult{
		Settlements: []models.MirroredSettlement{{RemoteID: "A"}, {RemoteID: "B"}, {RemoteID: "C"}},
		TotalFound:  3,
		QueriesUsed: []string{"page=1"},
	}}

	svc := NewMasterSyncService(store, api, DefaultSyncConfig())
	result := svc.SyncSettlements(context.Background(), workers.DirectoryModeFull, models.TriggerManual)

	assert.True(t, result.Success)
	assert.Equal(t, 2, result.Added+result.Updated)
	assert.Equal(t, 1, result.WriteErrors)
}

func TestSyncStoreListFailure(t *testing.T) {
	store := newFakeStore()
	store.listErr = errors.New("relation missing")
	api := &fakeAPI{directory: &workers.DirectoryResult{TotalFound: 0}}

	svc := NewMasterSyncService(store, api, DefaultSyncConfig())
	result := svc.SyncSettlements(context.Background(), workers.DirectoryModeFull, models.TriggerManual)

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "failed to load mirrored settlements")
	require.Len(t, store.audits, 1)
	assert.False(t, store.audits[0].Success)
}

func TestSyncNotAvailableWithoutStore(t *testing.T) {
	svc := NewMasterSyncService(nil, &fakeAPI{}, DefaultSyncConfig())
	result := svc.SyncSettlements(context.Background(), workers.DirectoryModeFull, models.TriggerManual)

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "not available")
}

func TestSyncIdempotence(t *testing.T) {
	store := newFakeStore()
	api := &fakeAPI{directory: &workers.DirectoryResult{
		Settlements: []models.MirroredSettlement{{RemoteID: "A"}, {RemoteID: "B"}},
		TotalFound:  2,
		QueriesUsed: []string{"page=1"},
	}}

	svc := NewMasterSyncService(store, api, DefaultSyncConfig())

	first := svc.SyncSettlements(context.Background(), workers.DirectoryModeFull, models.TriggerManual)
	require.True(t, first.Success)
	assert.Equal(t, 2, first.Added)

	second := svc.SyncSettlements(context.Background(), workers.DirectoryModeFull, models.TriggerManual)
	require.True(t, second.Success)
	assert.Equal(t, 0, second.Added)
	assert.Equal(t, 2, second.Updated)
	assert.Equal(t, 0, second.Deactivated)
}
